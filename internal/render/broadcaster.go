package render

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/civicsentinel/zonewatch/internal/metrics"
)

// Broadcaster fans composited JPEG frames out to stream clients. Each client
// gets a small buffered channel; a slow client skips frames instead of
// blocking the renderer.
type Broadcaster struct {
	mu      sync.Mutex
	clients map[int]chan []byte
	nextID  int
	log     zerolog.Logger
	metrics *metrics.Metrics
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster(log zerolog.Logger, m *metrics.Metrics) *Broadcaster {
	return &Broadcaster{
		clients: make(map[int]chan []byte),
		log:     log.With().Str("component", "broadcaster").Logger(),
		metrics: m,
	}
}

// Subscribe adds a client and returns its id and frame channel.
func (b *Broadcaster) Subscribe() (int, <-chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan []byte, 2) // buffer 2 frames to avoid blocking the renderer
	b.clients[id] = ch

	b.metrics.StreamClients.Store(uint64(len(b.clients)))
	b.log.Debug().Int("client", id).Int("total", len(b.clients)).Msg("stream client subscribed")
	return id, ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broadcaster) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.clients[id]; ok {
		close(ch)
		delete(b.clients, id)
		b.metrics.StreamClients.Store(uint64(len(b.clients)))
		b.log.Debug().Int("client", id).Int("remaining", len(b.clients)).Msg("stream client unsubscribed")
	}
}

// HasClients reports whether anyone is watching. The renderer may skip
// compositing when nobody is.
func (b *Broadcaster) HasClients() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients) > 0
}

// Publish sends a frame to every client, skipping those whose buffers are
// full.
func (b *Broadcaster) Publish(data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.clients {
		select {
		case ch <- data:
		default:
			// Client too slow; it catches up on the next frame.
		}
	}
}
