package transport

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
)

// Conn is the subset of a websocket connection the multiplexer needs.
// *websocket.Conn satisfies it; tests substitute an in-memory pipe.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens one websocket connection to url with the given headers.
type Dialer func(ctx context.Context, url string, header http.Header) (Conn, error)

// GorillaDialer dials with the default gorilla/websocket dialer.
func GorillaDialer(ctx context.Context, url string, header http.Header) (Conn, error) {
	c, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}
