package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"moonlander/internal/engine"
	"moonlander/internal/logging"
	"moonlander/internal/remote"
)

// Hub tests use Clients with a nil websocket.Conn; the hub guards against nil
// on close, and these paths never write to the connection.

func newTestHub(t *testing.T, sendBuf int, broadcastBuf int) *Hub {
	t.Helper()
	return NewHub(slog.Default(), HubConfig{
		SendBuf:      sendBuf,
		BroadcastBuf: broadcastBuf,
	})
}

func newTestClient(hub *Hub, name string, buf int) *Client {
	return &Client{
		hub:        hub,
		send:       make(chan []byte, buf),
		remoteAddr: name,
		logger:     slog.Default(),
	}
}

func registerClient(t *testing.T, hub *Hub, c *Client) {
	t.Helper()
	hub.register <- c
	waitUntil(t, 500*time.Millisecond, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		_, ok := hub.clients[c]
		return ok
	}, c.remoteAddr+" not registered in time")
}

func TestHub_BroadcastDeliveredToAllClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := newTestHub(t, 4, 8)

	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()

	c1 := newTestClient(hub, "c1", 4)
	c2 := newTestClient(hub, "c2", 4)
	registerClient(t, hub, c1)
	registerClient(t, hub, c2)

	msg := []byte(`{"type":"selection_changed","data":{"engine":"left"}}`)

	// BroadcastBytes may drop under scheduling pressure; go through the channel directly.
	hub.broadcast <- msg

	for _, c := range []*Client{c1, c2} {
		select {
		case got := <-c.send:
			if string(got) != string(msg) {
				t.Fatalf("%s got %q, want %q", c.remoteAddr, got, msg)
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("timeout waiting for %s to receive broadcast", c.remoteAddr)
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for hub to stop")
	}

	// Shutdown closes every client's send channel.
	for _, c := range []*Client{c1, c2} {
		if _, ok := <-c.send; ok {
			t.Fatalf("%s send channel still open after shutdown", c.remoteAddr)
		}
	}
}

func TestHub_SlowClientDisconnectedOnFullSendBuffer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := newTestHub(t, 1, 8)
	go hub.Run(ctx)

	slow := newTestClient(hub, "slow", 1)
	fast := newTestClient(hub, "fast", 8)
	registerClient(t, hub, slow)
	registerClient(t, hub, fast)

	// Stuck client: buffer already full.
	slow.send <- []byte(`"already queued"`)

	msg := []byte(`{"type":"command_sent","data":{"engine":"top"}}`)
	hub.broadcast <- msg

	select {
	case got := <-fast.send:
		if string(got) != string(msg) {
			t.Fatalf("fast client got %q, want %q", got, msg)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timeout waiting for fast client to receive broadcast")
	}

	// Drain the pre-filled message, then expect the channel to be closed.
	select {
	case <-slow.send:
	default:
	}

	waitUntil(t, 750*time.Millisecond, func() bool {
		select {
		case _, ok := <-slow.send:
			return !ok
		default:
			return false
		}
	}, "expected slow send channel to be closed")

	hub.mu.Lock()
	n := len(hub.clients)
	hub.mu.Unlock()
	if n != 1 {
		t.Fatalf("expected 1 client left, got %d", n)
	}
}

func TestHub_EnqueueToRemovedClient(t *testing.T) {
	hub := newTestHub(t, 1, 8)
	c := newTestClient(hub, "gone", 1)

	hub.mu.Lock()
	hub.clients[c] = struct{}{}
	hub.mu.Unlock()

	if !hub.enqueue(c, []byte("first")) {
		t.Fatalf("expected the first message to be queued")
	}

	hub.removeClient(c, "test")

	if hub.enqueue(c, []byte("late")) {
		t.Fatalf("expected enqueue to a removed client to be rejected")
	}
}

func TestHub_EnqueueDisconnectsFullClient(t *testing.T) {
	hub := newTestHub(t, 1, 8)
	c := newTestClient(hub, "full", 1)

	hub.mu.Lock()
	hub.clients[c] = struct{}{}
	hub.mu.Unlock()

	c.send <- []byte("stuck")

	if hub.enqueue(c, []byte("more")) {
		t.Fatalf("expected enqueue to a full client to fail")
	}

	hub.mu.Lock()
	_, still := hub.clients[c]
	closed := c.closed
	hub.mu.Unlock()
	if still || !closed {
		t.Fatalf("expected the full client to be removed (still=%v closed=%v)", still, closed)
	}
}

func TestHub_UnregisterBeforeRegister(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := newTestHub(t, 4, 8)
	go hub.Run(ctx)

	early := newTestClient(hub, "early", 4)
	hub.unregister <- early
	waitUntil(t, 500*time.Millisecond, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		return early.closed
	}, "early client not closed in time")

	// Registrations are processed in order, so once "later" is in the map the
	// stale registration of "early" has been handled.
	hub.register <- early
	registerClient(t, hub, newTestClient(hub, "later", 4))

	hub.mu.Lock()
	_, ok := hub.clients[early]
	n := len(hub.clients)
	hub.mu.Unlock()
	if ok || n != 1 {
		t.Fatalf("closed client must not be registered (present=%v clients=%d)", ok, n)
	}
}

func TestHub_BroadcastBytesDropsWhenFull(t *testing.T) {
	hub := newTestHub(t, 1, 1)

	// Hub not running: the first message fills the queue, the second is dropped.
	hub.BroadcastBytes([]byte("a"))
	hub.BroadcastBytes([]byte("b"))

	if got := len(hub.broadcast); got != 1 {
		t.Fatalf("expected 1 queued message, got %d", got)
	}
}

func TestConvertBroadcast(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	target := engine.Target{Address: engine.Address{10, 0, 0, 1}, Port: 8888}
	id := uuid.MustParse("5f0c6e9a-3f43-4d1e-9d55-7a1bb3a2f001")

	tests := []struct {
		name string
		in   StateBroadcast
		want string
	}{
		{
			name: "selection",
			in:   BroadcastSelectionChanged{Engine: engine.Right, At: at},
			want: `{"type":"selection_changed","ts":"2024-05-01T12:00:00Z","data":{"engine":"right"}}`,
		},
		{
			name: "target",
			in:   BroadcastTargetChanged{Target: target, At: at},
			want: `{"type":"target_changed","ts":"2024-05-01T12:00:00Z","data":{"target":{"address":"10.0.0.1","port":8888}}}`,
		},
		{
			name: "sent",
			in: BroadcastCommandSent{
				JobID: id, Engine: engine.Left, Phase: engine.Press, Code: engine.CodeLeftOn,
				Target: target, Elapsed: 4 * time.Millisecond, At: at,
			},
			want: `{"type":"command_sent","ts":"2024-05-01T12:00:00Z","data":{"id":"5f0c6e9a-3f43-4d1e-9d55-7a1bb3a2f001","engine":"left","phase":"press","code":"0x02","target":{"address":"10.0.0.1","port":8888},"elapsed_ms":4}}`,
		},
		{
			name: "failed",
			in: BroadcastDeliveryFailed{
				JobID: id, Engine: engine.Top, Phase: engine.Release, Code: engine.CodeTopOff,
				Target: target, Error: "connection refused", At: at,
			},
			want: `{"type":"delivery_failed","ts":"2024-05-01T12:00:00Z","data":{"id":"5f0c6e9a-3f43-4d1e-9d55-7a1bb3a2f001","engine":"top","phase":"release","code":"0x80","target":{"address":"10.0.0.1","port":8888},"error":"connection refused"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := convertBroadcast(tt.in)
			if !ok {
				t.Fatalf("expected conversion")
			}
			got, err := marshalEnvelope(ev)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if string(got) != tt.want {
				t.Fatalf("got  %s\nwant %s", got, tt.want)
			}
		})
	}
}

type wsFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func readFrame(t *testing.T, conn *websocket.Conn) wsFrame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, b, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read ws message: %v", err)
	}
	var f wsFrame
	if err := json.Unmarshal(b, &f); err != nil {
		t.Fatalf("decode %s: %v", b, err)
	}
	return f
}

func TestStateServer_StateInitThenBroadcasts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := logging.Discard()
	events := make(chan Event, 8)
	broadcasts := make(chan StateBroadcast, 8)

	ws := NewStateServer(logger, events, HubConfig{})
	mux := http.NewServeMux()
	ws.Register(mux, stateWSPath)

	go ws.Hub().Run(ctx)
	go RunBroadcaster(ctx, ws.Hub(), broadcasts, logger)
	go runDaemon(ctx, events, &recordingDispatcher{accept: true}, NewControllerState(engine.DefaultTarget()), broadcasts, logger)

	srv := httptest.NewServer(mux)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + stateWSPath
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	defer conn.Close()

	first := readFrame(t, conn)
	if first.Type != wsTypeStateInit {
		t.Fatalf("expected state_init first, got %q", first.Type)
	}
	var snap wsMessageSnapshot
	if err := json.Unmarshal(first.Data, &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Selected != engine.Bottom || snap.Target != engine.DefaultTarget() {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	waitUntil(t, time.Second, func() bool {
		ws.Hub().mu.Lock()
		defer ws.Hub().mu.Unlock()
		return len(ws.Hub().clients) == 1
	}, "ws client not registered in time")

	events <- ActionEvent{Action: remote.SelectEngine{Engine: engine.Top}}

	f := readFrame(t, conn)
	if f.Type != wsTypeSelectionChanged {
		t.Fatalf("expected selection_changed, got %q", f.Type)
	}
	var sel wsSelectionChangedData
	if err := json.Unmarshal(f.Data, &sel); err != nil {
		t.Fatalf("decode selection: %v", err)
	}
	if sel.Engine != engine.Top {
		t.Fatalf("expected top, got %s", sel.Engine)
	}
}

func TestStateServer_ClientLeavesBeforeSnapshot(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := logging.Discard()
	events := make(chan Event, 8)

	ws := NewStateServer(logger, events, HubConfig{})
	go ws.Hub().Run(ctx)

	// The daemon answers the snapshot request only after the client has left.
	answered := make(chan struct{})
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-events:
				req, ok := ev.(RequestStateSnapshot)
				if !ok {
					continue
				}
				time.Sleep(300 * time.Millisecond)
				req.Reply <- StateSnapshot{Target: engine.DefaultTarget()}
				close(answered)
			}
		}
	}()

	handled := make(chan any, 1)
	mux := http.NewServeMux()
	mux.HandleFunc(stateWSPath, func(w http.ResponseWriter, r *http.Request) {
		defer func() { handled <- recover() }()
		ws.handleStateWS(w, r)
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + stateWSPath
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	_ = conn.Close()

	select {
	case <-answered:
	case <-time.After(2 * time.Second):
		t.Fatalf("snapshot request never reached the daemon")
	}

	select {
	case p := <-handled:
		if p != nil {
			t.Fatalf("handler panicked: %v", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("handler did not return")
	}

	waitUntil(t, time.Second, func() bool {
		ws.Hub().mu.Lock()
		defer ws.Hub().mu.Unlock()
		return len(ws.Hub().clients) == 0
	}, "departed client still registered")
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout: %s", msg)
}
