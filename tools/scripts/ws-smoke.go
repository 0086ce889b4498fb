//go:build ignore

// Package main is a CI-friendly smoke test for a running arc4de gateway.
//
// It validates:
//   - password login over REST
//   - WebSocket auth handshake (auth -> auth.ok)
//   - ping -> pong
//   - input reaches the shell and its echo comes back as output frames
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "arc4de/shared/contracts/terminal/v1"

	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 20 // 1MiB

type smokeClient struct {
	conn  *websocket.Conn
	inbox chan v1.ServerMessage
	errCh chan error
}

func main() {
	var (
		baseURL  = flag.String("url", "http://127.0.0.1:8000", "gateway base URL")
		origin   = flag.String("origin", "", "Origin header to send on the WebSocket handshake")
		pass     = flag.String("password", os.Getenv("ARC4DE_AUTH_PASSWORD"), "login password")
		session  = flag.String("session", "", "attach to this session id instead of creating one")
		timeout  = flag.Duration("timeout", 7*time.Second, "per-step timeout")
		cols     = flag.Int("cols", 120, "terminal columns")
		rows     = flag.Int("rows", 40, "terminal rows")
		verbose  = flag.Bool("v", false, "print every frame")
		keepOpen = flag.Bool("keep", false, "leave a created session running")
	)
	flag.Parse()

	base, err := validateBaseURL(*baseURL)
	if err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}
	if strings.TrimSpace(*pass) == "" {
		fatalf("missing -password (or ARC4DE_AUTH_PASSWORD)")
	}

	root := context.Background()

	access := mustLogin(root, base, *pass, *timeout)

	c := mustConnect(root, wsURL(base), *origin, *timeout)
	defer closeWS(c.conn)

	mustWrite(root, c.conn, v1.ClientMessage{Type: v1.TypeAuth, Token: access, SessionID: *session}, *timeout)
	c.mustReadUntilType(root, v1.TypeAuthOK, *timeout, *verbose)

	mustWrite(root, c.conn, v1.ClientMessage{Type: v1.TypeResize, Cols: *cols, Rows: *rows}, *timeout)

	mustWrite(root, c.conn, v1.ClientMessage{Type: v1.TypePing}, *timeout)
	c.mustReadUntilType(root, v1.TypePong, *timeout, *verbose)

	marker := fmt.Sprintf("arc4de-smoke-%d", time.Now().UnixNano())
	mustWrite(root, c.conn, v1.ClientMessage{Type: v1.TypeInput, Data: "echo " + marker + "\r"}, *timeout)
	c.mustReadOutputContaining(root, marker, *timeout, *verbose)

	if *session == "" && !*keepOpen {
		mustWrite(root, c.conn, v1.ClientMessage{Type: v1.TypeInput, Data: "exit\r"}, *timeout)
	}

	fmt.Printf("OK: url=%s marker=%s\n", base.String(), marker)
}

func validateBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return nil, errors.New("missing host")
	}
	return u, nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func wsURL(base *url.URL) string {
	u := *base
	u.Scheme = "ws"
	if base.Scheme == "https" {
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/terminal"
	return u.String()
}

func mustLogin(parent context.Context, base *url.URL, password string, stepTimeout time.Duration) string {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	body, _ := json.Marshal(map[string]string{"password": password})
	endpoint := base.JoinPath("/api/auth/login").String()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		fatalf("login request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("login: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fatalf("login: status %d", resp.StatusCode)
	}

	var pair struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&pair); err != nil {
		fatalf("login: decode: %v", err)
	}
	if pair.AccessToken == "" {
		fatalf("login: empty access_token")
	}
	return pair.AccessToken
}

func mustConnect(parent context.Context, target, origin string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, target, &websocket.DialOptions{HTTPHeader: h})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", target, err)
	}
	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		conn:  conn,
		inbox: make(chan v1.ServerMessage, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()
	return c
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			_, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			var msg v1.ServerMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- msg:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

// next returns the next frame, failing on read errors, server error frames
// and auth.fail.
func (c *smokeClient) next(ctx context.Context, verbose bool) v1.ServerMessage {
	select {
	case <-ctx.Done():
		fatalf("timeout: %v", ctx.Err())
	case err := <-c.errCh:
		fatalf("read: %v (close status %d)", err, websocket.CloseStatus(err))
	case msg, ok := <-c.inbox:
		if !ok {
			fatalf("connection closed")
		}
		if verbose {
			fmt.Printf("<- %s %q\n", msg.Type, msg.Data+msg.Message+msg.Reason)
		}
		switch msg.Type {
		case v1.TypeAuthFail:
			fatalf("auth.fail: %s", msg.Reason)
		case v1.TypeError:
			fatalf("error frame: %s", msg.Message)
		}
		return msg
	}
	return v1.ServerMessage{}
}

func (c *smokeClient) mustReadUntilType(parent context.Context, want string, stepTimeout time.Duration, verbose bool) v1.ServerMessage {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		if msg := c.next(ctx, verbose); msg.Type == want {
			return msg
		}
	}
}

// mustReadOutputContaining waits until marker shows up in the output
// stream twice: once echoed as typed input and once as the command's output.
func (c *smokeClient) mustReadOutputContaining(parent context.Context, marker string, stepTimeout time.Duration, verbose bool) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	var seen strings.Builder
	for {
		msg := c.next(ctx, verbose)
		if msg.Type != v1.TypeOutput {
			continue
		}
		seen.WriteString(msg.Data)
		if strings.Count(seen.String(), marker) >= 2 {
			return
		}
	}
}

func mustWrite(parent context.Context, conn *websocket.Conn, msg v1.ClientMessage, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(msg)
	if err != nil {
		fatalf("marshal %s: %v", msg.Type, err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write %s: %v", msg.Type, err)
	}
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
