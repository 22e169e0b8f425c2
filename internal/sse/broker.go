// Package sse streams vault change notifications to HTTP clients as
// Server-Sent Events.
package sse

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"
)

// Event types written to the stream.
const (
	TypeDocumentCreated    = "document.created"
	TypeDocumentUpdated    = "document.updated"
	TypeDocumentDeleted    = "document.deleted"
	TypeDocumentPropagated = "document.propagated"
	TypeRoadmapRegenerated = "roadmap.regenerated"
	TypeVaultChanged       = "vault.changed"
)

var changeTypes = map[string]string{
	"created":     TypeDocumentCreated,
	"updated":     TypeDocumentUpdated,
	"deleted":     TypeDocumentDeleted,
	"propagated":  TypeDocumentPropagated,
	"regenerated": TypeRoadmapRegenerated,
}

// Event is one message on the stream.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

const clientBuffer = 64

// hub is the state owned by the broker goroutine.
type hub struct {
	clients map[chan []byte]struct{}
	seq     uint64

	throttle    time.Duration
	lastChanged time.Time
	pending     *time.Timer
}

// Broker fans events out to connected clients. Every state change runs as a
// closure on one goroutine, so hub needs no locking.
//
// Document events are followed by vault.changed at most once per throttle
// interval. A change inside the interval is not lost: one trailing
// vault.changed is sent when the interval ends.
type Broker struct {
	ops     chan func(*hub)
	flush   chan struct{}
	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker starts a broker with the given vault.changed throttle.
func NewBroker(throttle time.Duration) *Broker {
	if throttle <= 0 {
		throttle = 2 * time.Second
	}
	b := &Broker{
		ops:     make(chan func(*hub), 256),
		flush:   make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
	h := &hub{
		clients:  make(map[chan []byte]struct{}),
		throttle: throttle,
	}
	go b.loop(h)
	return b
}

func (b *Broker) loop(h *hub) {
	defer close(b.stopped)
	for {
		select {
		case <-b.stopCh:
			if h.pending != nil {
				h.pending.Stop()
			}
			for ch := range h.clients {
				close(ch)
			}
			return
		case op := <-b.ops:
			op(h)
		case <-b.flush:
			h.pending = nil
			h.vaultChanged(time.Now())
		}
	}
}

// do runs op on the broker goroutine. It reports false once the broker is
// closed.
func (b *Broker) do(op func(*hub)) bool {
	if b.closed.Load() {
		return false
	}
	select {
	case b.ops <- op:
		return true
	case <-b.stopped:
		return false
	}
}

// send writes one frame to every client. Clients with a full buffer miss it.
func (h *hub) send(e Event) {
	payload, err := json.Marshal(e.Data)
	if err != nil {
		return
	}
	h.seq++
	var frame bytes.Buffer
	frame.WriteString("id: " + strconv.FormatUint(h.seq, 10) + "\n")
	frame.WriteString("event: " + e.Type + "\n")
	frame.WriteString("data: ")
	frame.Write(payload)
	frame.WriteString("\n\n")
	raw := frame.Bytes()

	for ch := range h.clients {
		select {
		case ch <- raw:
		default:
		}
	}
}

func (h *hub) vaultChanged(now time.Time) {
	h.lastChanged = now
	h.send(Event{Type: TypeVaultChanged, Data: map[string]string{}})
}

// Close stops the broker and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe registers a client. The returned channel is closed by
// Unsubscribe or Close.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, clientBuffer)
	done := make(chan struct{})
	ok := b.do(func(h *hub) {
		h.clients[ch] = struct{}{}
		close(done)
	})
	if !ok {
		close(ch)
		return ch
	}
	select {
	case <-done:
	case <-b.stopped:
		select {
		case <-done:
			// Registered before the stop; Close already closed ch.
		default:
			close(ch)
		}
	}
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	b.do(func(h *hub) {
		if _, ok := h.clients[ch]; ok {
			delete(h.clients, ch)
			close(ch)
		}
	})
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	resp := make(chan int, 1)
	if !b.do(func(h *hub) { resp <- len(h.clients) }) {
		return 0
	}
	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends event to all clients as is.
func (b *Broker) Publish(event Event) {
	b.do(func(h *hub) { h.send(event) })
}

// PublishChange maps a watcher or service change kind to its event type.
// Unknown kinds are ignored. Roadmap regeneration does not count as a vault
// change.
func (b *Broker) PublishChange(kind, path string) {
	typ, ok := changeTypes[kind]
	if !ok {
		return
	}
	b.do(func(h *hub) {
		h.send(Event{Type: typ, Data: map[string]string{"path": path}})
		if typ == TypeRoadmapRegenerated || h.pending != nil {
			return
		}
		now := time.Now()
		wait := h.throttle - now.Sub(h.lastChanged)
		if wait <= 0 {
			h.vaultChanged(now)
			return
		}
		h.pending = time.AfterFunc(wait, func() {
			select {
			case b.flush <- struct{}{}:
			default:
			}
		})
	})
}

// ServeHTTP streams events until the client disconnects or the broker closes.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
