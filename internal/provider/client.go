package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ErrNotConnected is returned by Push while the provider is unreachable.
// Callers gate pushes on connectivity, so hitting this is a timing race,
// not a fault; the update stays in the local log and syncs later.
var ErrNotConnected = errors.New("provider: not connected")

// Callbacks receive provider events. All callbacks run on the client's
// reader goroutine; implementations must not block.
type Callbacks struct {
	Connected    func()
	Disconnected func()
	DocSynced    func(doc uuid.UUID)
	Update       func(doc uuid.UUID, update []byte)
}

// Config configures the provider client.
type Config struct {
	// URL is the websocket endpoint, e.g. wss://sync.example.net/v1.
	URL string
	// Site identifies this replica in the hello announcement.
	Site string

	DialTimeout  time.Duration
	PingInterval time.Duration
	// MaxBackoff caps the reconnect delay.
	MaxBackoff time.Duration

	Logger *slog.Logger
}

// Client maintains one websocket session to the sync provider, reconnecting
// with exponential backoff. Subscriptions survive reconnects: every new
// session re-announces and re-syncs all tracked documents.
type Client struct {
	cfg Config
	cb  Callbacks
	log *slog.Logger

	mu    sync.Mutex
	conn  *websocket.Conn
	send  chan Message
	state map[uuid.UUID][]byte // doc -> last known state vector
}

// New creates a client. Run starts it.
func New(cfg Config, cb Callbacks) *Client {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = time.Minute
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		cfg:   cfg,
		cb:    cb,
		log:   log.With("provider", cfg.URL),
		state: make(map[uuid.UUID][]byte),
	}
}

// Track subscribes a document. If a session is live, the sync request goes
// out immediately; otherwise it is sent on the next connect.
func (c *Client) Track(doc uuid.UUID, stateVector []byte) {
	c.mu.Lock()
	c.state[doc] = stateVector
	send := c.send
	c.mu.Unlock()

	if send != nil {
		c.enqueue(send, Message{Type: MessageSync, Doc: doc.String(), StateVector: stateVector})
	}
}

// Push sends updates for a document to the provider.
func (c *Client) Push(doc uuid.UUID, updates [][]byte) error {
	c.mu.Lock()
	send := c.send
	c.mu.Unlock()
	if send == nil {
		return ErrNotConnected
	}
	for _, u := range updates {
		c.enqueue(send, Message{Type: MessageUpdate, Doc: doc.String(), Update: u})
	}
	return nil
}

// Run connects and services the session until ctx is canceled, redialing
// with exponential backoff after each failure.
func (c *Client) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = c.cfg.MaxBackoff
	bo.MaxElapsedTime = 0 // retry forever

	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		delay := bo.NextBackOff()
		c.log.Warn("provider session ended", "error", err, "retry_in", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// session runs one connect-serve-disconnect cycle.
func (c *Client) session(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial provider: %w", err)
	}

	send := make(chan Message, 64)
	c.mu.Lock()
	c.conn = conn
	c.send = send
	subs := make(map[uuid.UUID][]byte, len(c.state))
	for doc, sv := range c.state {
		subs[doc] = sv
	}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.send = nil
		c.mu.Unlock()
		conn.Close()
		if c.cb.Disconnected != nil {
			c.cb.Disconnected()
		}
	}()

	done := make(chan struct{})
	go c.writePump(conn, send, done)
	defer close(done)

	// Announce, then re-sync every tracked document on this session.
	c.enqueue(send, Message{Type: MessageHello, Site: c.cfg.Site})
	for doc, sv := range subs {
		c.enqueue(send, Message{Type: MessageSync, Doc: doc.String(), StateVector: sv})
	}
	if c.cb.Connected != nil {
		c.cb.Connected()
	}
	c.log.Info("provider connected")

	return c.readPump(ctx, conn)
}

func (c *Client) readPump(ctx context.Context, conn *websocket.Conn) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read provider message: %w", err)
		}

		msg, err := decodeMessage(raw)
		if err != nil {
			c.log.Warn("dropping invalid provider message", "error", err)
			continue
		}

		switch msg.Type {
		case MessageSynced:
			doc, err := uuid.Parse(msg.Doc)
			if err != nil {
				c.log.Warn("synced for unparseable doc", "doc", msg.Doc)
				continue
			}
			if c.cb.DocSynced != nil {
				c.cb.DocSynced(doc)
			}
		case MessageUpdate:
			doc, err := uuid.Parse(msg.Doc)
			if err != nil {
				c.log.Warn("update for unparseable doc", "doc", msg.Doc)
				continue
			}
			if c.cb.Update != nil {
				c.cb.Update(doc, msg.Update)
			}
		default:
			c.log.Debug("ignoring provider message", "type", string(msg.Type))
		}
	}
}

func (c *Client) writePump(conn *websocket.Conn, send chan Message, done chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-send:
			if err := conn.WriteJSON(msg); err != nil {
				c.log.Warn("provider write failed", "error", err)
				conn.Close()
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.DialTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				conn.Close()
				return
			}
		case <-done:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		}
	}
}

// enqueue drops the message if the session's send buffer is full rather
// than blocking the caller; the update log makes a dropped push harmless.
func (c *Client) enqueue(send chan Message, msg Message) {
	select {
	case send <- msg:
	default:
		c.log.Warn("provider send buffer full, dropping message", "type", string(msg.Type))
	}
}
