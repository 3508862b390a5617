package web

import (
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// Event kinds carried on the status stream.
const (
	KindLog  = "log"  // a log line
	KindWarp = "warp" // a warp job finished; Data holds its result
)

// historySize is how many recent events a new subscriber is replayed.
const historySize = 32

// StatusEvent is one message on the SSE stream.
type StatusEvent struct {
	Time  string `json:"t"`
	Kind  string `json:"k"`
	Level string `json:"l,omitempty"`
	Msg   string `json:"msg"`
	Data  any    `json:"data,omitempty"`
}

// StatusBroadcaster fans status events out to SSE clients and remembers the
// last few so a page opened mid-job still shows what happened.
type StatusBroadcaster struct {
	mu      sync.RWMutex
	clients map[chan string]struct{}
	history []string
}

// NewStatusBroadcaster creates a new broadcaster.
func NewStatusBroadcaster() *StatusBroadcaster {
	return &StatusBroadcaster{
		clients: make(map[chan string]struct{}),
	}
}

// Subscribe returns a channel primed with recent history and a cleanup
// function the caller must run when the client goes away.
func (b *StatusBroadcaster) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 64)
	b.mu.Lock()
	for _, past := range b.history {
		ch <- past
	}
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.clients, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Publish stamps evt and sends it to every client. Slow clients miss
// events rather than block the publisher.
func (b *StatusBroadcaster) Publish(evt StatusEvent) {
	if evt.Time == "" {
		evt.Time = time.Now().Format(time.RFC3339)
	}
	if evt.Kind == "" {
		evt.Kind = KindLog
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	payload := string(data)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = append(b.history, payload)
	if len(b.history) > historySize {
		b.history = b.history[len(b.history)-historySize:]
	}
	for ch := range b.clients {
		select {
		case ch <- payload:
		default:
		}
	}
}

// Broadcast publishes a log event at the given level.
func (b *StatusBroadcaster) Broadcast(level, msg string) {
	b.Publish(StatusEvent{Kind: KindLog, Level: level, Msg: msg})
}

// BroadcastMsg is a convenience for level "info".
func (b *StatusBroadcaster) BroadcastMsg(msg string) {
	b.Broadcast("info", msg)
}

// BroadcastWriter returns an io.Writer publishing each non-empty line it
// receives, for teeing the debug log into the stream.
func BroadcastWriter(b *StatusBroadcaster) *broadcastWriter {
	return &broadcastWriter{b: b}
}

type broadcastWriter struct {
	b *StatusBroadcaster
}

func (w *broadcastWriter) Write(p []byte) (n int, err error) {
	for _, line := range strings.Split(string(p), "\n") {
		if msg := strings.TrimSpace(line); msg != "" {
			w.b.BroadcastMsg(msg)
		}
	}
	return len(p), nil
}
