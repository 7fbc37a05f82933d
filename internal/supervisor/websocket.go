package supervisor

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// WSConn is the subset of *websocket.Conn the supervisor's read loop and
// ping goroutine need, narrowed for testability (a fake can substitute a
// channel-backed implementation in tests).
type WSConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v any) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// Dialer opens the single upstream WebSocket connection. Abstracted so
// tests can inject a fake without a real network dial.
type Dialer interface {
	Dial(ctx context.Context, uri string, insecureSkipVerify bool) (WSConn, error)
}

// GorillaDialer is the production Dialer backed by
// github.com/gorilla/websocket.
type GorillaDialer struct{}

// Dial connects with TLS verification governed by insecureSkipVerify
// (see config.Config.InsecureSkipVerify).
func (GorillaDialer) Dial(ctx context.Context, uri string, insecureSkipVerify bool) (WSConn, error) {
	dialer := &websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		TLSClientConfig:  &tls.Config{InsecureSkipVerify: insecureSkipVerify},
	}
	conn, resp, err := dialer.DialContext(ctx, uri, http.Header{})
	if err != nil {
		return nil, fmt.Errorf("supervisor: dial %s: %w", uri, err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	return conn, nil
}
