package tunnel

import (
	"regexp"
	"strconv"
)

const (
	minPreviewPort = 1024
	maxPreviewPort = 65535
)

var (
	ansiPattern = regexp.MustCompile(`\x1b(?:\[[0-9;?]*[ -/]*[@-~]|\][^\x07\x1b]*(?:\x07|\x1b\\)|[@-Z\\-_])`)

	portPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?:localhost|127\.0\.0\.1|0\.0\.0\.0|\[::\]|\[::1\]):(\d{2,5})\b`),
		regexp.MustCompile(`(?i)\b(?:listening|running|serving|started|available)\b[^\n]{0,40}?\bport\s+(\d{2,5})\b`),
	}
)

// StripANSI removes terminal escape sequences.
func StripANSI(s string) string { return ansiPattern.ReplaceAllString(s, "") }

// DetectPort returns the most recent dev-server port announced in window.
// Ports outside 1024..65535 and the exclude port are ignored.
func DetectPort(window string, exclude int) (int, bool) {
	clean := StripANSI(window)

	best, bestAt := 0, -1
	for _, re := range portPatterns {
		for _, m := range re.FindAllStringSubmatchIndex(clean, -1) {
			port, err := strconv.Atoi(clean[m[2]:m[3]])
			if err != nil || port < minPreviewPort || port > maxPreviewPort || port == exclude {
				continue
			}
			if m[0] > bestAt {
				best, bestAt = port, m[0]
			}
		}
	}
	return best, bestAt >= 0
}
