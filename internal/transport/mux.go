// Package transport owns the persistent websocket connections to the
// chime backend: exactly one connection per logical channel, shared by
// every consumer in the process. Consumers subscribe to events by name
// and survive across each other's subscribe/unsubscribe churn.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/lvieira/chime/internal/bus"
	"github.com/lvieira/chime/internal/status"
	"github.com/lvieira/chime/internal/wire"
	"go.uber.org/zap"
)

// Channel identifies one logical connection.
type Channel string

const (
	ChannelChat Channel = "chat"
	ChannelCall Channel = "call"
)

// Handler receives the raw payload of one inbound frame. Handlers for a
// channel run serially on that channel's read loop, in arrival order.
type Handler func(data json.RawMessage)

var (
	// ErrNotConnected is returned by Send while the channel is down. Sends
	// are never queued; retry is a caller decision.
	ErrNotConnected = errors.New("transport: channel not connected")
	// ErrUnknownChannel is returned for channels the mux was not built with.
	ErrUnknownChannel = errors.New("transport: unknown channel")
)

// Mux multiplexes event subscriptions over one connection per channel.
type Mux struct {
	dial   Dialer
	logger *zap.Logger

	mu    sync.Mutex
	chans map[Channel]*channelConn
}

type channelConn struct {
	name    Channel
	url     string
	machine *status.Machine
	logger  *zap.Logger

	mu   sync.Mutex // guards conn identity and connect/close
	conn Conn

	writeMu sync.Mutex // serializes frame writes

	subsMu sync.RWMutex
	subs   map[string]map[int]Handler
	nextID int
}

// New creates a multiplexer for the given channel URLs. Status changes
// are published per channel on the bus.
func New(urls map[Channel]string, dial Dialer, b *bus.Bus, logger *zap.Logger) *Mux {
	if dial == nil {
		dial = GorillaDialer
	}
	m := &Mux{
		dial:   dial,
		logger: logger,
		chans:  make(map[Channel]*channelConn),
	}
	for ch, url := range urls {
		m.chans[ch] = &channelConn{
			name:    ch,
			url:     url,
			machine: status.NewMachine(string(ch), b),
			logger:  logger,
			subs:    make(map[string]map[int]Handler),
		}
	}
	return m
}

// Connect dials every channel that is not already connected. Idempotent:
// calling it while connected is a no-op for that channel, so no channel
// ever holds more than one underlying connection.
func (m *Mux) Connect(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	for _, cc := range m.chans {
		if err := cc.connect(ctx, m.dial, header); err != nil {
			return fmt.Errorf("connect %s channel: %w", cc.name, err)
		}
	}
	return nil
}

func (cc *channelConn) connect(ctx context.Context, dial Dialer, header http.Header) error {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if cc.conn != nil {
		return nil
	}

	_ = cc.machine.Transition(status.Connecting)
	conn, err := dial(ctx, cc.url, header)
	if err != nil {
		_ = cc.machine.Transition(status.Failed)
		return err
	}
	cc.conn = conn
	_ = cc.machine.Transition(status.Connected)
	go cc.readLoop(conn)
	return nil
}

// readLoop dispatches inbound frames serially until the connection dies.
func (cc *channelConn) readLoop(conn Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			cc.drop(conn, err)
			return
		}

		var frame wire.Frame
		if err := json.Unmarshal(raw, &frame); err != nil || frame.Event == "" {
			if cc.logger != nil {
				cc.logger.Warn("dropping unparseable frame",
					zap.String("channel", string(cc.name)), zap.Error(err))
			}
			continue
		}
		cc.dispatch(frame)
	}
}

func (cc *channelConn) dispatch(frame wire.Frame) {
	cc.subsMu.RLock()
	handlers := make([]Handler, 0, len(cc.subs[frame.Event]))
	for _, h := range cc.subs[frame.Event] {
		handlers = append(handlers, h)
	}
	cc.subsMu.RUnlock()

	for _, h := range handlers {
		h(frame.Data)
	}
}

// drop clears the dead connection if it is still the current one.
func (cc *channelConn) drop(conn Conn, err error) {
	cc.mu.Lock()
	current := cc.conn == conn
	if current {
		cc.conn = nil
	}
	cc.mu.Unlock()
	if !current {
		return
	}

	if cc.logger != nil {
		cc.logger.Warn("channel disconnected",
			zap.String("channel", string(cc.name)), zap.Error(err))
	}
	_ = cc.machine.Transition(status.Disconnected)
}

// On registers a handler for an event on a channel. The returned func
// removes exactly this handler; other subscribers are untouched.
func (m *Mux) On(ch Channel, event string, h Handler) func() {
	cc, ok := m.chans[ch]
	if !ok {
		return func() {}
	}

	cc.subsMu.Lock()
	id := cc.nextID
	cc.nextID++
	if cc.subs[event] == nil {
		cc.subs[event] = make(map[int]Handler)
	}
	cc.subs[event][id] = h
	cc.subsMu.Unlock()

	return func() {
		cc.subsMu.Lock()
		delete(cc.subs[event], id)
		cc.subsMu.Unlock()
	}
}

// Send marshals payload into a frame and writes it on the channel.
// Fails immediately with ErrNotConnected while the channel is down.
func (m *Mux) Send(ch Channel, event string, payload any) error {
	cc, ok := m.chans[ch]
	if !ok {
		return ErrUnknownChannel
	}

	cc.mu.Lock()
	conn := cc.conn
	cc.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", event, err)
		}
		data = b
	}
	raw, err := json.Marshal(wire.Frame{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	cc.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, raw)
	cc.writeMu.Unlock()
	if err != nil {
		cc.drop(conn, err)
		return fmt.Errorf("write %s frame: %w", event, err)
	}
	return nil
}

// Connected reports whether the channel currently holds a live connection.
func (m *Mux) Connected(ch Channel) bool {
	cc, ok := m.chans[ch]
	if !ok {
		return false
	}
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.conn != nil
}

// State returns the connection state of a channel.
func (m *Mux) State(ch Channel) status.State {
	cc, ok := m.chans[ch]
	if !ok {
		return status.Disconnected
	}
	return cc.machine.Current()
}

// Close tears down every channel connection.
func (m *Mux) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cc := range m.chans {
		cc.mu.Lock()
		conn := cc.conn
		cc.conn = nil
		cc.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
			_ = cc.machine.Transition(status.Disconnected)
		}
	}
}
