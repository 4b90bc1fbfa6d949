package sink

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cwsl/flexcore/internal/frame"
	"github.com/cwsl/flexcore/internal/message"

	"github.com/cwsl/flexcore/internal/flex"
)

func dialBroadcaster(t *testing.T, b *Broadcaster) (*websocket.Conn, func()) {
	t.Helper()

	server := httptest.NewServer(b)
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		server.Close()
		t.Fatalf("Dial: %v", err)
	}

	return conn, func() {
		conn.Close()
		server.Close()
	}
}

func waitForConnectionCount(t *testing.T, b *Broadcaster, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if b.ConnectionCount() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("ConnectionCount = %d, want %d", b.ConnectionCount(), want)
}

func TestBroadcasterServeHTTPTracksConnections(t *testing.T) {
	b := NewBroadcaster()

	conn, cleanup := dialBroadcaster(t, b)
	defer cleanup()

	waitForConnectionCount(t, b, 1)

	conn.Close()
	waitForConnectionCount(t, b, 0)
}

func TestBroadcasterSendsEventAsJSON(t *testing.T) {
	b := NewBroadcaster()

	conn, cleanup := dialBroadcaster(t, b)
	defer cleanup()
	waitForConnectionCount(t, b, 1)

	ev := flex.Event{
		Message: frame.Message{
			Capcode: 1234567,
			Type:    message.TypeTone,
			Content: "",
		},
		Metadata: flex.Metadata{BaudRate: 1600, Levels: 2, Cycle: 3, Frame: 42},
	}
	b.Broadcast(ev)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}

	var got eventMessage
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if got.Capcode != 1234567 {
		t.Errorf("Capcode = %d, want 1234567", got.Capcode)
	}
	if got.Type != "TON" {
		t.Errorf("Type = %q, want TON", got.Type)
	}
	if got.Cycle != 3 || got.Frame != 42 {
		t.Errorf("Cycle/Frame = %d/%d, want 3/42", got.Cycle, got.Frame)
	}
	if !strings.HasPrefix(got.Line, "FLEX_NEXT|1600/2|") {
		t.Errorf("Line = %q, want FLEX_NEXT|1600/2|... prefix", got.Line)
	}
}

func TestBroadcasterDropsFailedConnOnBroadcast(t *testing.T) {
	b := NewBroadcaster()

	conn, cleanup := dialBroadcaster(t, b)
	defer cleanup()
	waitForConnectionCount(t, b, 1)

	conn.Close()
	waitForConnectionCount(t, b, 0)

	// Broadcasting after the client already closed should not panic and
	// should leave the connection set empty.
	ev := flex.Event{Metadata: flex.Metadata{BaudRate: 1600, Levels: 2}}
	b.Broadcast(ev)

	if got := b.ConnectionCount(); got != 0 {
		t.Errorf("ConnectionCount after broadcast to closed conn = %d, want 0", got)
	}
}
