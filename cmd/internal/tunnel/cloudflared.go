package tunnel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"sync"
	"syscall"
	"time"
)

const (
	DefaultBinary     = "cloudflared"
	DefaultURLTimeout = 15 * time.Second
	stopGrace         = 5 * time.Second
)

var urlPattern = regexp.MustCompile(`https://[\w-]+\.trycloudflare\.com`)

// ErrNoURL is returned when cloudflared exits or times out before
// announcing its public URL.
var ErrNoURL = errors.New("tunnel: no public url announced")

// ParseURL extracts a trycloudflare URL from cloudflared log output.
func ParseURL(output string) (string, bool) {
	u := urlPattern.FindString(output)
	return u, u != ""
}

// Process is one running tunnel.
type Process interface {
	URL() string
	Stop(ctx context.Context) error
}

// Launcher starts a tunnel to a local port and returns once its public URL
// is known.
type Launcher interface {
	Launch(ctx context.Context, port int) (Process, error)
}

// Cloudflared launches quick tunnels with the cloudflared binary.
type Cloudflared struct {
	Binary     string
	URLTimeout time.Duration
	Log        *slog.Logger
}

func (c Cloudflared) Launch(ctx context.Context, port int) (Process, error) {
	binary := c.Binary
	if binary == "" {
		binary = DefaultBinary
	}
	timeout := c.URLTimeout
	if timeout <= 0 {
		timeout = DefaultURLTimeout
	}
	log := c.Log
	if log == nil {
		log = slog.Default()
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, err
	}

	// Not CommandContext: the tunnel outlives the request that started it.
	cmd := exec.Command(binary, "tunnel", "--url", "http://localhost:"+strconv.Itoa(port))
	cmd.Stdout = io.Discard
	cmd.Stderr = pw
	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		return nil, fmt.Errorf("tunnel: start %s: %w", binary, err)
	}
	_ = pw.Close()

	p := &cloudflaredProcess{cmd: cmd, stderr: pr, done: make(chan struct{}), log: log.With("port", port)}
	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()

	found := make(chan string, 1)
	go p.scan(found)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case u := <-found:
		p.url = u
		return p, nil
	case <-p.done:
		_ = p.Stop(context.Background())
		return nil, fmt.Errorf("%w: cloudflared exited: %v", ErrNoURL, p.waitErr)
	case <-timer.C:
		_ = p.Stop(context.Background())
		return nil, fmt.Errorf("%w: timed out after %s", ErrNoURL, timeout)
	case <-ctx.Done():
		_ = p.Stop(context.Background())
		return nil, ctx.Err()
	}
}

type cloudflaredProcess struct {
	cmd    *exec.Cmd
	stderr *os.File
	url    string
	log    *slog.Logger

	done    chan struct{}
	waitErr error

	stopOnce sync.Once
	stopErr  error
}

func (p *cloudflaredProcess) URL() string { return p.url }

// scan reports the first URL line and keeps draining stderr so cloudflared
// never blocks on a full pipe.
func (p *cloudflaredProcess) scan(found chan<- string) {
	sc := bufio.NewScanner(p.stderr)
	sc.Buffer(make([]byte, 0, 4096), 64<<10)
	reported := false
	for sc.Scan() {
		if reported {
			continue
		}
		if u, ok := ParseURL(sc.Text()); ok {
			found <- u
			reported = true
		}
	}
}

// Stop sends SIGTERM, waits up to five seconds, then kills.
func (p *cloudflaredProcess) Stop(ctx context.Context) error {
	p.stopOnce.Do(func() {
		defer func() { _ = p.stderr.Close() }()

		select {
		case <-p.done:
			return
		default:
		}

		if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
			p.log.Warn("tunnel.sigterm.fail", "err", err)
		}

		grace := time.NewTimer(stopGrace)
		defer grace.Stop()
		select {
		case <-p.done:
			return
		case <-grace.C:
		case <-ctx.Done():
		}

		p.log.Warn("tunnel.kill", "pid", p.cmd.Process.Pid)
		if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			p.stopErr = err
			return
		}
		<-p.done
	})
	return p.stopErr
}
