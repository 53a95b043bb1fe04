package provider

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeMessage(t *testing.T) {
	msg, err := decodeMessage([]byte(`{"type":"synced","doc":"0b28c9a0-9f7e-4b5a-8a6e-2d1d823bb1f1"}`))
	require.NoError(t, err)
	assert.Equal(t, MessageSynced, msg.Type)

	bad := []string{
		`not json`,
		`{"type":"unknown"}`,
		`{"type":"update"}`,
		`{"type":"synced"}`,
		`{"type":"update","doc":"x","update":"aGk=","extra":true}`,
	}
	for _, raw := range bad {
		_, err := decodeMessage([]byte(raw))
		assert.Error(t, err, "decodeMessage accepted %q", raw)
	}
}

// fakeProvider is a minimal provider endpoint for exercising the client.
type fakeProvider struct {
	t        *testing.T
	server   *httptest.Server
	upgrader websocket.Upgrader

	conns    chan *websocket.Conn
	received chan Message
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	fp := &fakeProvider{
		t:        t,
		conns:    make(chan *websocket.Conn, 4),
		received: make(chan Message, 64),
	}
	fp.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := fp.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fp.conns <- conn
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg Message
			if err := json.Unmarshal(raw, &msg); err != nil {
				continue
			}
			fp.received <- msg
		}
	}))
	t.Cleanup(fp.server.Close)
	return fp
}

func (fp *fakeProvider) url() string {
	return "ws" + strings.TrimPrefix(fp.server.URL, "http")
}

func (fp *fakeProvider) waitConn() *websocket.Conn {
	fp.t.Helper()
	select {
	case conn := <-fp.conns:
		return conn
	case <-time.After(5 * time.Second):
		fp.t.Fatal("client never connected")
		return nil
	}
}

func (fp *fakeProvider) waitMessage(typ MessageType) Message {
	fp.t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case msg := <-fp.received:
			if msg.Type == typ {
				return msg
			}
		case <-deadline:
			fp.t.Fatalf("no %s message received", typ)
		}
	}
}

func testClient(t *testing.T, url string, cb Callbacks) *Client {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := New(Config{URL: url, Site: "test-site", Logger: logger}, cb)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return c
}

func TestClientHandshakeAndSync(t *testing.T) {
	fp := newFakeProvider(t)

	connected := make(chan struct{}, 1)
	synced := make(chan uuid.UUID, 1)
	c := testClient(t, fp.url(), Callbacks{
		Connected: func() { connected <- struct{}{} },
		DocSynced: func(doc uuid.UUID) { synced <- doc },
	})

	doc := uuid.New()
	c.Track(doc, []byte(`{"test":1}`))

	conn := fp.waitConn()
	select {
	case <-connected:
	case <-time.After(5 * time.Second):
		t.Fatal("Connected callback never fired")
	}

	hello := fp.waitMessage(MessageHello)
	assert.Equal(t, "test-site", hello.Site)
	sync := fp.waitMessage(MessageSync)
	assert.Equal(t, doc.String(), sync.Doc)

	require.NoError(t, conn.WriteJSON(Message{Type: MessageSynced, Doc: doc.String()}))
	select {
	case got := <-synced:
		assert.Equal(t, doc, got)
	case <-time.After(5 * time.Second):
		t.Fatal("DocSynced callback never fired")
	}
}

func TestClientDeliversUpdates(t *testing.T) {
	fp := newFakeProvider(t)

	updates := make(chan []byte, 1)
	c := testClient(t, fp.url(), Callbacks{
		Update: func(doc uuid.UUID, update []byte) { updates <- update },
	})
	_ = c

	conn := fp.waitConn()
	doc := uuid.New()
	require.NoError(t, conn.WriteJSON(Message{Type: MessageUpdate, Doc: doc.String(), Update: []byte("payload")}))

	select {
	case got := <-updates:
		assert.Equal(t, "payload", string(got))
	case <-time.After(5 * time.Second):
		t.Fatal("Update callback never fired")
	}
}

func TestClientIgnoresInvalidMessages(t *testing.T) {
	fp := newFakeProvider(t)

	updates := make(chan []byte, 1)
	testClient(t, fp.url(), Callbacks{
		Update: func(doc uuid.UUID, update []byte) { updates <- update },
	})

	conn := fp.waitConn()
	doc := uuid.New()
	// Garbage first; the session must survive it and keep delivering.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"nonsense"}`)))
	require.NoError(t, conn.WriteJSON(Message{Type: MessageUpdate, Doc: doc.String(), Update: []byte("after")}))

	select {
	case got := <-updates:
		assert.Equal(t, "after", string(got))
	case <-time.After(5 * time.Second):
		t.Fatal("session did not survive the invalid message")
	}
}

func TestClientPush(t *testing.T) {
	fp := newFakeProvider(t)

	connected := make(chan struct{}, 1)
	c := testClient(t, fp.url(), Callbacks{
		Connected: func() { connected <- struct{}{} },
	})

	fp.waitConn()
	<-connected

	doc := uuid.New()
	require.NoError(t, c.Push(doc, [][]byte{[]byte("u1")}))
	msg := fp.waitMessage(MessageUpdate)
	assert.Equal(t, doc.String(), msg.Doc)
	assert.Equal(t, "u1", string(msg.Update))
}

func TestClientPushOffline(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := New(Config{URL: "ws://127.0.0.1:1", Logger: logger}, Callbacks{})
	err := c.Push(uuid.New(), [][]byte{[]byte("u")})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestClientReconnects(t *testing.T) {
	fp := newFakeProvider(t)

	connects := make(chan struct{}, 4)
	disconnects := make(chan struct{}, 4)
	testClient(t, fp.url(), Callbacks{
		Connected:    func() { connects <- struct{}{} },
		Disconnected: func() { disconnects <- struct{}{} },
	})

	conn := fp.waitConn()
	<-connects
	conn.Close()

	select {
	case <-disconnects:
	case <-time.After(5 * time.Second):
		t.Fatal("Disconnected callback never fired")
	}

	fp.waitConn()
	select {
	case <-connects:
	case <-time.After(10 * time.Second):
		t.Fatal("client never reconnected")
	}
}
