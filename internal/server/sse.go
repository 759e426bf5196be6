package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/danshapiro/typedagent/internal/agent"
)

// Broadcaster fans out execution events to multiple SSE clients.
// One Broadcaster per run. Thread-safe. It is an agent.Sink.
type Broadcaster struct {
	mu      sync.Mutex
	history []agent.Event
	clients map[uint64]chan agent.Event
	nextID  uint64
	closed  bool
	doneCh  chan struct{} // closed only on real broadcaster Close(), not slow-client drops
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[uint64]chan agent.Event),
		doneCh:  make(chan struct{}),
	}
}

func (b *Broadcaster) Name() string { return "sse" }

// Emit records ev and forwards it to every subscriber without blocking.
func (b *Broadcaster) Emit(ev agent.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.history = append(b.history, ev)
	for id, ch := range b.clients {
		select {
		case ch <- ev:
		default:
			// Slow client: drop it rather than stall the executor.
			close(ch)
			delete(b.clients, id)
		}
	}
}

// Subscribe returns an events channel, a done channel, and an unsubscribe function.
// The events channel receives a replay of all historical events, then live events.
// The done channel is closed only when the broadcaster is closed (run finished),
// NOT when a slow client is dropped.
func (b *Broadcaster) Subscribe() (<-chan agent.Event, <-chan struct{}, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan agent.Event, len(b.history)+256)
	id := b.nextID
	b.nextID++

	// Sized to fit all history plus live headroom, so this never blocks under the mutex.
	for _, ev := range b.history {
		ch <- ev
	}

	if b.closed {
		close(ch)
		return ch, b.doneCh, func() {}
	}

	b.clients[id] = ch
	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.clients[id]; ok {
			delete(b.clients, id)
			close(ch)
		}
	}
	return ch, b.doneCh, unsub
}

// Close signals that no more events will be sent. All client channels are closed.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.doneCh)
	for id, ch := range b.clients {
		close(ch)
		delete(b.clients, id)
	}
}

// History returns a copy of all events received so far.
func (b *Broadcaster) History() []agent.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]agent.Event, len(b.history))
	copy(out, b.history)
	return out
}

// Last returns the most recent event.
func (b *Broadcaster) Last() (agent.Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.history) == 0 {
		return agent.Event{}, false
	}
	return b.history[len(b.history)-1], true
}

// WriteSSE streams events from a Broadcaster to an HTTP response as Server-Sent Events.
// Each event is named after its kind.
func WriteSSE(w http.ResponseWriter, r *http.Request, b *Broadcaster) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx proxy compatibility
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events, doneCh, unsub := b.Subscribe()
	defer unsub()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				select {
				case <-doneCh:
					fmt.Fprintf(w, "event: done\ndata: {}\n\n")
					flusher.Flush()
				default:
					// Dropped for slowness; disconnect silently.
				}
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data)
			flusher.Flush()
		}
	}
}
