package v1

import (
	"encoding/json"
	"errors"
	"strings"
)

// Client -> server frame types.
const (
	TypeAuth   = "auth"
	TypeInput  = "input"
	TypeResize = "resize"
	TypePing   = "ping"
)

// Server -> client frame types.
const (
	TypeAuthOK        = "auth.ok"
	TypeAuthFail      = "auth.fail"
	TypeOutput        = "output"
	TypePong          = "pong"
	TypeError         = "error"
	TypeTunnelPreview = "tunnel.preview"
)

// Close codes sent by the gateway. Codes in the 4000-4999 range are reserved
// for applications by RFC 6455.
const (
	CloseNormal         = 1000
	CloseAuthTimeout    = 4001
	CloseExpectedAuth   = 4002
	CloseMissingToken   = 4003
	CloseInvalidToken   = 4004
	CloseUnknownSession = 4404
	CloseBackendFailure = 4500
)

// auth.fail reasons.
const (
	ReasonAuthTimeout  = "Auth timeout"
	ReasonExpectedAuth = "Expected auth message"
	ReasonMissingToken = "Missing token"
	ReasonInvalidToken = "Invalid or expired token"
)

// ErrMissingType is returned by DecodeClient for frames without a type.
var ErrMissingType = errors.New("missing field: type")

// ClientMessage is any frame a client may send. Fields not used by a given
// type are left zero.
type ClientMessage struct {
	Type      string `json:"type"`
	Token     string `json:"token,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Data      string `json:"data,omitempty"`
	Cols      int    `json:"cols,omitempty"`
	Rows      int    `json:"rows,omitempty"`
}

// DecodeClient parses one client frame. Unknown fields are ignored so newer
// clients can talk to older gateways.
func DecodeClient(raw []byte) (ClientMessage, error) {
	var m ClientMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return ClientMessage{}, err
	}
	m.Type = strings.TrimSpace(m.Type)
	if m.Type == "" {
		return ClientMessage{}, ErrMissingType
	}
	return m, nil
}

// DecodeAuth parses the first frame of a connection. Only the type must be
// well formed. A token of the wrong JSON type is kept as its raw text so it
// fails verification as an invalid token; a null, false, zero or empty token
// decodes to "" and counts as missing. A non-string session_id is kept as raw
// text and will not match any session.
func DecodeAuth(raw []byte) (ClientMessage, error) {
	var f struct {
		Type      string          `json:"type"`
		Token     json.RawMessage `json:"token"`
		SessionID json.RawMessage `json:"session_id"`
	}
	if err := json.Unmarshal(raw, &f); err != nil {
		return ClientMessage{}, err
	}
	m := ClientMessage{
		Type:      strings.TrimSpace(f.Type),
		Token:     lenientString(f.Token),
		SessionID: lenientString(f.SessionID),
	}
	if m.Type == "" {
		return ClientMessage{}, ErrMissingType
	}
	return m, nil
}

func lenientString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		if !x {
			return ""
		}
	case float64:
		if x == 0 {
			return ""
		}
	case []any:
		if len(x) == 0 {
			return ""
		}
	case map[string]any:
		if len(x) == 0 {
			return ""
		}
	}
	return string(raw)
}

// ServerMessage is any frame the gateway sends.
type ServerMessage struct {
	Type    string `json:"type"`
	Reason  string `json:"reason,omitempty"`
	Data    string `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Port    int    `json:"port,omitempty"`
	URL     string `json:"url,omitempty"`
}

func AuthOK() ServerMessage { return ServerMessage{Type: TypeAuthOK} }

func AuthFail(reason string) ServerMessage {
	return ServerMessage{Type: TypeAuthFail, Reason: reason}
}

func Output(data string) ServerMessage { return ServerMessage{Type: TypeOutput, Data: data} }

func Pong() ServerMessage { return ServerMessage{Type: TypePong} }

func Error(message string) ServerMessage {
	return ServerMessage{Type: TypeError, Message: message}
}

func TunnelPreview(port int, url string) ServerMessage {
	return ServerMessage{Type: TypeTunnelPreview, Port: port, URL: url}
}
