package sink

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cwsl/flexcore/internal/flex"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:    4096,
	WriteBufferSize:   16384,
	EnableCompression: false,
	CheckOrigin:       func(r *http.Request) bool { return true },
}

// wsConn wraps a single websocket connection with a write mutex, since
// gorilla/websocket connections are not safe for concurrent writers.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (wc *wsConn) writeJSON(v interface{}) error {
	wc.writeMu.Lock()
	defer wc.writeMu.Unlock()

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	wc.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return wc.conn.WriteMessage(websocket.TextMessage, data)
}

func (wc *wsConn) close() error {
	return wc.conn.Close()
}

// Broadcaster fans out decoded FLEX events to every connected websocket
// client as JSON text frames.
type Broadcaster struct {
	mu    sync.RWMutex
	conns map[*wsConn]struct{}
}

// NewBroadcaster returns an empty broadcaster ready to accept
// connections via ServeHTTP.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{conns: make(map[*wsConn]struct{})}
}

// ServeHTTP upgrades the request to a websocket connection and holds it
// open, reading and discarding incoming frames, until the client
// disconnects or a read error occurs.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	wc := &wsConn{conn: conn}
	b.addConn(wc)
	defer b.removeConn(wc)
	defer wc.close()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (b *Broadcaster) addConn(wc *wsConn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conns[wc] = struct{}{}
}

func (b *Broadcaster) removeConn(wc *wsConn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conns, wc)
}

// eventMessage is the JSON frame broadcast for each decoded event.
type eventMessage struct {
	Line    string `json:"line"`
	Capcode int64  `json:"capcode"`
	Type    string `json:"type"`
	Cycle   int    `json:"cycle"`
	Frame   int    `json:"frame"`
}

// Broadcast sends ev to every currently connected client. A client whose
// write fails is dropped from the connection set.
func (b *Broadcaster) Broadcast(ev flex.Event) {
	msg := eventMessage{
		Line:    flex.FormatLine(ev),
		Capcode: ev.Capcode,
		Type:    ev.Type.Tag(),
		Cycle:   ev.Metadata.Cycle,
		Frame:   ev.Metadata.Frame,
	}

	b.mu.RLock()
	targets := make([]*wsConn, 0, len(b.conns))
	for wc := range b.conns {
		targets = append(targets, wc)
	}
	b.mu.RUnlock()

	for _, wc := range targets {
		if err := wc.writeJSON(msg); err != nil {
			b.removeConn(wc)
			wc.close()
		}
	}
}

// ConnectionCount reports the number of currently connected clients.
func (b *Broadcaster) ConnectionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.conns)
}
