// Package terminal is the terminal gateway: it authenticates a WebSocket,
// attaches it to a tmux session through a pseudo-terminal and relays bytes
// both ways until either side goes away.
//
// Per connection:
//
//	auth (first frame, bounded by AuthTimeout) -> auth.ok
//	resolve session_id, or create a session when none is given
//	spawn "tmux attach-session" on a new pty
//	bridge: pty -> output frames, input/resize/ping frames -> pty
//	teardown: stop reader, close pty, terminate and reap the attach process
package terminal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"

	"arc4de/cmd/internal/auth/token"
	"arc4de/cmd/internal/httpx"
	"arc4de/cmd/internal/plugins"
	"arc4de/cmd/internal/sessions"
	v1 "arc4de/shared/contracts/terminal/v1"
)

const (
	DefaultAuthTimeout = 30 * time.Second
	DefaultInputRate   = 1000
	DefaultInputBurst  = 100

	maxFrameBytes = 64 << 10
	maxDimension  = 1000
	tailBytes     = 1024
	readChunk     = 32 << 10

	wsMaxPingFailures = 3
)

var ErrMissingDependency = errors.New("terminal: missing dependency")

type Config struct {
	AuthTimeout time.Duration

	// InputRate is input frames per second with InputBurst headroom.
	InputRate  float64
	InputBurst int

	AllowedOrigins []string
	OriginRequired bool

	// OwnPort is never offered as a preview (the gateway's listen port).
	OwnPort int

	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration
	WriteTimeout     time.Duration
	SendQueue        int

	// ReaderGrace bounds the wait for the pty reader during teardown;
	// KillGrace bounds each wait for the attach process to exit.
	ReaderGrace time.Duration
	KillGrace   time.Duration

	PreviewTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		AuthTimeout:      DefaultAuthTimeout,
		InputRate:        DefaultInputRate,
		InputBurst:       DefaultInputBurst,
		HeartbeatEvery:   30 * time.Second,
		HeartbeatTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		SendQueue:        256,
		ReaderGrace:      time.Second,
		KillGrace:        2 * time.Second,
		PreviewTimeout:   30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = d.AuthTimeout
	}
	if c.InputRate <= 0 {
		c.InputRate = d.InputRate
	}
	if c.InputBurst <= 0 {
		c.InputBurst = d.InputBurst
	}
	if c.HeartbeatEvery <= 0 {
		c.HeartbeatEvery = d.HeartbeatEvery
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = d.HeartbeatTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.SendQueue <= 0 {
		c.SendQueue = d.SendQueue
	}
	if c.ReaderGrace <= 0 {
		c.ReaderGrace = d.ReaderGrace
	}
	if c.KillGrace <= 0 {
		c.KillGrace = d.KillGrace
	}
	if c.PreviewTimeout <= 0 {
		c.PreviewTimeout = d.PreviewTimeout
	}
	return c
}

// AccessVerifier validates access tokens. *token.Authority satisfies it.
type AccessVerifier interface {
	VerifyAccess(tok string, now time.Time) (token.Claims, error)
}

// SessionStore resolves and creates sessions. *sessions.Registry satisfies it.
type SessionStore interface {
	Exists(ctx context.Context, id string) (bool, error)
	Create(ctx context.Context, name, plugin string) (sessions.Session, error)
	Resize(ctx context.Context, id string, cols, rows int) error
}

// Attacher builds the process that attaches to a tmux session.
// *tmux.Client satisfies it.
type Attacher interface {
	AttachCommand(ctx context.Context, name string) (*exec.Cmd, error)
}

// Previewer starts preview tunnels. *tunnel.Manager satisfies it.
type Previewer interface {
	StartPreviewTunnel(ctx context.Context, port int) (string, error)
}

// Recorder receives connection metrics. *metrics.Metrics satisfies it.
type Recorder interface {
	ConnOpened()
	ConnClosed()
	AuthFailed(reason string)
	PtyBytes(direction string, n int)
}

type Deps struct {
	Tokens   AccessVerifier
	Sessions SessionStore
	Attacher Attacher

	// Optional.
	Previews   Previewer
	DetectPort func(window string, exclude int) (int, bool)
	Metrics    Recorder
	Log        *slog.Logger
	Now        func() time.Time
}

type Gateway struct {
	cfg      Config
	tokens   AccessVerifier
	sessions SessionStore
	attacher Attacher
	previews Previewer
	detect   func(string, int) (int, bool)
	rec      Recorder
	log      *slog.Logger
	now      func() time.Time

	origins  httpx.OriginPolicy
	patterns []string
}

func New(cfg Config, deps Deps) (*Gateway, error) {
	if deps.Tokens == nil || deps.Sessions == nil || deps.Attacher == nil {
		return nil, ErrMissingDependency
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = noopRecorder{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	cfg = cfg.withDefaults()
	origins := httpx.NewOriginPolicy(cfg.AllowedOrigins)
	return &Gateway{
		cfg:      cfg,
		tokens:   deps.Tokens,
		sessions: deps.Sessions,
		attacher: deps.Attacher,
		previews: deps.Previews,
		detect:   deps.DetectPort,
		rec:      deps.Metrics,
		log:      deps.Log,
		now:      deps.Now,
		origins:  origins,
		patterns: origins.Patterns(),
	}, nil
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := g.origins.Check(r, g.cfg.OriginRequired); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: g.patterns})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	g.rec.ConnOpened()
	defer g.rec.ConnClosed()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := newClient(g.cfg.SendQueue)
	log := g.log.With("conn", c.id, "remote", r.RemoteAddr)

	hello, ok := g.authenticate(ctx, conn, log)
	if !ok {
		return
	}
	if err := writeFrame(ctx, conn, v1.AuthOK(), g.cfg.WriteTimeout); err != nil {
		_ = conn.CloseNow()
		return
	}
	log.Info("ws.auth.ok")

	id, att, ok := g.open(ctx, conn, strings.TrimSpace(hello.SessionID), log)
	if !ok {
		return
	}
	g.bridge(ctx, cancel, conn, c, id, att, log.With("session_id", id))
}

// authenticate waits for the first frame. The wait is bounded by a timer
// rather than the read context: a read whose context expires tears the
// connection down before auth.fail can be written.
func (g *Gateway) authenticate(ctx context.Context, conn *websocket.Conn, log *slog.Logger) (v1.ClientMessage, bool) {
	type result struct {
		msg     v1.ClientMessage
		readErr error
		badJSON bool
	}
	ch := make(chan result, 1)
	go func() {
		_, data, err := conn.Read(ctx)
		if err != nil {
			ch <- result{readErr: err}
			return
		}
		msg, err := v1.DecodeAuth(data)
		ch <- result{msg: msg, badJSON: err != nil}
	}()

	timer := time.NewTimer(g.cfg.AuthTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		_ = conn.CloseNow()
		return v1.ClientMessage{}, false
	case <-timer.C:
		g.reject(ctx, conn, log, v1.CloseAuthTimeout, v1.ReasonAuthTimeout, "auth_timeout")
		return v1.ClientMessage{}, false
	case res := <-ch:
		switch {
		case res.readErr != nil:
			log.Debug("ws.auth.read.fail", "err", res.readErr)
			_ = conn.CloseNow()
			return v1.ClientMessage{}, false
		case res.badJSON || res.msg.Type != v1.TypeAuth:
			g.reject(ctx, conn, log, v1.CloseExpectedAuth, v1.ReasonExpectedAuth, "expected_auth")
			return v1.ClientMessage{}, false
		case strings.TrimSpace(res.msg.Token) == "":
			g.reject(ctx, conn, log, v1.CloseMissingToken, v1.ReasonMissingToken, "missing_token")
			return v1.ClientMessage{}, false
		}
		if _, err := g.tokens.VerifyAccess(res.msg.Token, g.now()); err != nil {
			log.Debug("ws.auth.token", "err", err)
			g.reject(ctx, conn, log, v1.CloseInvalidToken, v1.ReasonInvalidToken, "invalid_token")
			return v1.ClientMessage{}, false
		}
		return res.msg, true
	}
}

func (g *Gateway) reject(ctx context.Context, conn *websocket.Conn, log *slog.Logger, code int, reason, label string) {
	g.rec.AuthFailed(label)
	log.Info("ws.auth.fail", "reason", reason, "code", code)
	_ = writeFrame(ctx, conn, v1.AuthFail(reason), g.cfg.WriteTimeout)
	_ = conn.Close(websocket.StatusCode(code), reason)
}

// open resolves (or creates) the session and attaches a pty to it.
func (g *Gateway) open(ctx context.Context, conn *websocket.Conn, id string, log *slog.Logger) (string, *attachment, bool) {
	if id != "" {
		exists, err := g.sessions.Exists(ctx, id)
		if err != nil {
			g.fail(ctx, conn, log, v1.CloseBackendFailure, "Session lookup failed: "+err.Error(), err)
			return "", nil, false
		}
		if !exists {
			g.fail(ctx, conn, log, v1.CloseUnknownSession, "Session not found: "+id, nil)
			return "", nil, false
		}
	} else {
		s, err := g.sessions.Create(ctx, "", plugins.DefaultPlugin)
		if err != nil {
			g.fail(ctx, conn, log, v1.CloseBackendFailure, "Failed to create session: "+err.Error(), err)
			return "", nil, false
		}
		id = s.ID
	}

	// The attach process is stopped by teardown, not by the request context.
	cmd, err := g.attacher.AttachCommand(context.Background(), sessions.TmuxName(id))
	if err != nil {
		g.fail(ctx, conn, log, v1.CloseBackendFailure, "Failed to attach: "+err.Error(), err)
		return "", nil, false
	}
	att, err := attach(cmd, sessions.DefaultCols, sessions.DefaultRows, log)
	if err != nil {
		g.fail(ctx, conn, log, v1.CloseBackendFailure, "Failed to attach: "+err.Error(), err)
		return "", nil, false
	}

	log.Info("terminal.attach", "session_id", id, "pid", att.pid())
	return id, att, true
}

func (g *Gateway) fail(ctx context.Context, conn *websocket.Conn, log *slog.Logger, code int, msg string, err error) {
	if err != nil {
		log.Error("terminal.open.fail", "code", code, "err", err)
	} else {
		log.Info("terminal.open.fail", "code", code, "message", msg)
	}
	_ = writeFrame(ctx, conn, v1.Error(msg), g.cfg.WriteTimeout)

	reason := "backend failure"
	if code == v1.CloseUnknownSession {
		reason = "unknown session"
	}
	_ = conn.Close(websocket.StatusCode(code), reason)
}

func (g *Gateway) bridge(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, c *client, id string, att *attachment, log *slog.Logger) {
	started := time.Now()

	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			c.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	// eof is closed by the pty reader when the attach process goes away; the
	// writer flushes what is queued and then closes the connection.
	eof := make(chan struct{})

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		write := func(msg v1.ServerMessage) bool {
			if err := writeFrame(ctx, conn, msg, g.cfg.WriteTimeout); err != nil {
				log.Info("ws.write.fail", "close_status", websocket.CloseStatus(err), "err", err)
				shutdown(websocket.StatusAbnormalClosure, "write failed")
				return false
			}
			return true
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.Done():
				return
			case msg := <-c.send:
				if !write(msg) {
					return
				}
			case <-eof:
				for {
					select {
					case msg := <-c.send:
						if !write(msg) {
							return
						}
					default:
						shutdown(websocket.StatusNormalClosure, "session ended")
						return
					}
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		t := time.NewTicker(g.cfg.HeartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()
				if err != nil {
					failures++
					log.Info("ws.ping.fail", "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	readerDone := make(chan struct{})
	go g.pump(ctx, c, att, log, readerDone, func() { close(eof) })

	g.readLoop(ctx, conn, c, id, att, log)

	shutdown(websocket.StatusNormalClosure, "bye")
	att.teardown(readerDone, g.cfg.ReaderGrace, g.cfg.KillGrace)
	<-writerDone
	waitFor(heartbeatDone, time.Second)

	log.Info("terminal.teardown", "duration", time.Since(started).Round(time.Millisecond).String())
}

// readLoop consumes client frames until the connection ends or the pty
// rejects a write.
func (g *Gateway) readLoop(ctx context.Context, conn *websocket.Conn, c *client, id string, att *attachment, log *slog.Logger) {
	limiter := rate.NewLimiter(rate.Limit(g.cfg.InputRate), g.cfg.InputBurst)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			logReadErr(log, err)
			return
		}

		msg, err := v1.DecodeClient(data)
		if err != nil {
			c.enqueue(ctx, v1.Error("Invalid message"))
			continue
		}

		switch msg.Type {
		case v1.TypePing:
			c.enqueue(ctx, v1.Pong())

		case v1.TypeInput:
			if !limiter.Allow() {
				c.enqueue(ctx, v1.Error("Input rate limited"))
				continue
			}
			if msg.Data == "" {
				continue
			}
			n, err := att.Write([]byte(msg.Data))
			g.rec.PtyBytes("in", n)
			if err != nil {
				log.Info("terminal.pty.write.fail", "err", err)
				return
			}

		case v1.TypeResize:
			if msg.Cols <= 0 || msg.Rows <= 0 {
				c.enqueue(ctx, v1.Error("Invalid resize dimensions"))
				continue
			}
			cols, rows := min(msg.Cols, maxDimension), min(msg.Rows, maxDimension)
			if err := att.Resize(cols, rows); err != nil {
				log.Debug("terminal.pty.resize.fail", "err", err)
			}
			if err := g.sessions.Resize(ctx, id, cols, rows); err != nil {
				log.Debug("terminal.tmux.resize.fail", "err", err)
			}

		case v1.TypeAuth:
			c.enqueue(ctx, v1.Error("Already authenticated"))

		default:
			c.enqueue(ctx, v1.Error("Unknown message type: "+msg.Type))
		}
	}
}

// pump relays pty output to the client until the pty closes or ctx ends.
func (g *Gateway) pump(ctx context.Context, c *client, att *attachment, log *slog.Logger, done chan<- struct{}, onEOF func()) {
	defer close(done)

	buf := make([]byte, readChunk)
	var carry, tail []byte
	notified := make(map[int]struct{})

	for {
		n, err := att.Read(buf)
		if n > 0 {
			g.rec.PtyBytes("out", n)
			out, rest := splitUTF8(append(carry, buf[:n]...))
			carry = append([]byte(nil), rest...)

			if len(out) > 0 {
				if !c.enqueue(ctx, v1.Output(string(out))) {
					return
				}
				tail = appendTail(tail, out)
				g.maybePreview(ctx, c, tail, notified, log)
			}
		}
		if err != nil {
			if ctx.Err() == nil {
				log.Info("terminal.pty.closed", "err", err)
				onEOF()
			}
			return
		}
	}
}

func appendTail(tail, b []byte) []byte {
	tail = append(tail, b...)
	if len(tail) > tailBytes {
		tail = append(tail[:0], tail[len(tail)-tailBytes:]...)
	}
	return tail
}

// maybePreview offers a newly seen dev-server port to the tunnel manager.
// Failures stay in the logs.
func (g *Gateway) maybePreview(ctx context.Context, c *client, tail []byte, notified map[int]struct{}, log *slog.Logger) {
	if g.previews == nil || g.detect == nil {
		return
	}
	port, ok := g.detect(string(tail), g.cfg.OwnPort)
	if !ok {
		return
	}
	if _, seen := notified[port]; seen {
		return
	}
	notified[port] = struct{}{}

	go func() {
		defer func() {
			if rv := recover(); rv != nil {
				log.Error("terminal.preview.panic", "port", port, "panic", fmt.Sprint(rv))
			}
		}()

		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.cfg.PreviewTimeout)
		defer cancel()
		url, err := g.previews.StartPreviewTunnel(pctx, port)
		if err != nil {
			log.Debug("terminal.preview.fail", "port", port, "err", err)
			return
		}
		if c.enqueue(ctx, v1.TunnelPreview(port, url)) {
			log.Info("terminal.preview", "port", port, "url", url)
		}
	}()
}

func writeFrame(parent context.Context, conn *websocket.Conn, msg v1.ServerMessage, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

func logReadErr(log *slog.Logger, err error) {
	switch {
	case websocket.CloseStatus(err) != -1:
		log.Debug("ws.peer.closed", "close_status", websocket.CloseStatus(err))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		log.Debug("ws.read.done")
	case errors.Is(err, net.ErrClosed), errors.Is(err, io.EOF):
		log.Debug("ws.conn.closed")
	default:
		log.Info("ws.read.fail", "err", err)
	}
}

type noopRecorder struct{}

func (noopRecorder) ConnOpened()          {}
func (noopRecorder) ConnClosed()          {}
func (noopRecorder) AuthFailed(string)    {}
func (noopRecorder) PtyBytes(string, int) {}
