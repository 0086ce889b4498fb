package terminal

import "unicode/utf8"

// splitUTF8 splits b before a trailing incomplete UTF-8 sequence so output
// frames never cut a character in half. Invalid bytes are left in complete.
func splitUTF8(b []byte) (complete, rest []byte) {
	// A sequence is at most utf8.UTFMax bytes, so only the last three can
	// belong to an unfinished rune.
	for i := len(b) - 1; i >= 0 && i >= len(b)-(utf8.UTFMax-1); i-- {
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if !utf8.FullRune(b[i:]) {
			return b[:i], b[i:]
		}
		break
	}
	return b, nil
}
