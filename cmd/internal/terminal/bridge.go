package terminal

import (
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/creack/pty"
)

const defaultTerm = "xterm-256color"

// attachment owns the pty pair and the attach process of one connection.
type attachment struct {
	cmd  *exec.Cmd
	ptmx *os.File
	log  *slog.Logger

	waitDone chan struct{}
}

// attach starts cmd on a new pty sized cols x rows. The subordinate end is
// closed in this process once the child holds it.
func attach(cmd *exec.Cmd, cols, rows int, log *slog.Logger) (*attachment, error) {
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	if !hasEnv(cmd.Env, "TERM") {
		cmd.Env = append(cmd.Env, "TERM="+defaultTerm)
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
	if err != nil {
		return nil, err
	}

	a := &attachment{cmd: cmd, ptmx: ptmx, log: log, waitDone: make(chan struct{})}
	go func() {
		_ = cmd.Wait()
		close(a.waitDone)
	}()
	return a, nil
}

func hasEnv(env []string, key string) bool {
	for _, kv := range env {
		if k, v, ok := strings.Cut(kv, "="); ok && k == key && v != "" {
			return true
		}
	}
	return false
}

func (a *attachment) Read(p []byte) (int, error) { return a.ptmx.Read(p) }

func (a *attachment) Write(p []byte) (int, error) { return a.ptmx.Write(p) }

func (a *attachment) Resize(cols, rows int) error {
	return pty.Setsize(a.ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
}

// teardown stops the reader, closes the pty and reaps the process. Every
// step runs even when an earlier one fails.
func (a *attachment) teardown(readerDone <-chan struct{}, readerGrace, killGrace time.Duration) {
	// Unblock a pending read without closing the descriptor under it.
	if err := a.ptmx.SetReadDeadline(time.Now()); err != nil && !errors.Is(err, os.ErrNoDeadline) {
		a.log.Debug("terminal.teardown.deadline", "err", err)
	}

	if !waitFor(readerDone, readerGrace) {
		// The pty does not support deadlines here; ending the attach
		// process hangs up the subordinate end, which ends the read.
		a.log.Debug("terminal.teardown.reader.stuck")
		a.signal(syscall.SIGTERM)
		if !waitFor(readerDone, killGrace) {
			a.signal(syscall.SIGKILL)
			waitFor(readerDone, killGrace)
		}
	}

	if err := a.ptmx.Close(); err != nil {
		a.log.Debug("terminal.teardown.close", "err", err)
	}

	a.signal(syscall.SIGTERM)
	if !waitFor(a.waitDone, killGrace) {
		a.log.Warn("terminal.teardown.kill", "pid", a.pid())
		a.signal(syscall.SIGKILL)
		<-a.waitDone
	}
}

func (a *attachment) signal(sig os.Signal) {
	select {
	case <-a.waitDone:
		return
	default:
	}
	if err := a.cmd.Process.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
		a.log.Debug("terminal.teardown.signal", "sig", sig.String(), "err", err)
	}
}

func (a *attachment) pid() int {
	if a.cmd.Process == nil {
		return 0
	}
	return a.cmd.Process.Pid
}

func waitFor(ch <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ch:
		return true
	case <-t.C:
		return false
	}
}
