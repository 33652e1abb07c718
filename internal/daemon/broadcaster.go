package daemon

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/runnerr0/dwell/internal/badge"
)

// writeTimeout bounds one write to a stream client.
const writeTimeout = 2 * time.Second

type streamClient struct {
	id      string
	w       http.ResponseWriter
	flusher http.Flusher
	done    chan struct{}
	once    sync.Once

	wmu    sync.Mutex
	closed bool
}

func (c *streamClient) close() {
	c.once.Do(func() { close(c.done) })
}

// send writes msg unless the client has been detached. Writes after the
// handler returns would touch a finished ResponseWriter.
func (c *streamClient) send(msg []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.closed {
		return nil
	}
	if _, err := c.w.Write(msg); err != nil {
		return err
	}
	c.flusher.Flush()
	return nil
}

func (c *streamClient) detach() {
	c.wmu.Lock()
	c.closed = true
	c.wmu.Unlock()
}

// Broadcaster fans badge updates out to server-sent-event clients. New
// clients receive the latest update straight away.
type Broadcaster struct {
	log zerolog.Logger

	mu      sync.RWMutex
	clients map[string]*streamClient
	nextID  int
	last    []byte
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster(log zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		log:     log,
		clients: make(map[string]*streamClient),
	}
}

// Publish implements badge.Sink.
func (b *Broadcaster) Publish(_ context.Context, u badge.Update) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode badge update: %w", err)
	}
	msg := []byte(fmt.Sprintf("event: badge\ndata: %s\n\n", data))

	b.mu.Lock()
	b.last = msg
	clients := make([]*streamClient, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.Unlock()

	var wg sync.WaitGroup
	dead := make(chan string, len(clients))
	for _, c := range clients {
		wg.Add(1)
		go func(c *streamClient) {
			defer wg.Done()
			if !b.write(c, msg) {
				dead <- c.id
			}
		}(c)
	}
	wg.Wait()
	close(dead)

	for id := range dead {
		b.remove(id)
	}
	return nil
}

// write sends msg to one client, giving up after writeTimeout.
func (b *Broadcaster) write(c *streamClient, msg []byte) bool {
	result := make(chan error, 1)
	go func() { result <- c.send(msg) }()

	select {
	case err := <-result:
		if err != nil {
			b.log.Debug().Err(err).Str("client", c.id).Msg("stream write failed")
			return false
		}
		return true
	case <-time.After(writeTimeout):
		b.log.Warn().Str("client", c.id).Dur("timeout", writeTimeout).Msg("stream write timed out")
		return false
	case <-c.done:
		return true
	}
}

func (b *Broadcaster) add(w http.ResponseWriter) (*streamClient, []byte, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, nil, fmt.Errorf("streaming not supported")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	c := &streamClient{
		id:      fmt.Sprintf("client-%d", b.nextID),
		w:       w,
		flusher: flusher,
		done:    make(chan struct{}),
	}
	b.clients[c.id] = c
	b.log.Debug().Str("client", c.id).Int("clients", len(b.clients)).Msg("stream client connected")
	return c, b.last, nil
}

func (b *Broadcaster) remove(id string) {
	b.mu.Lock()
	c, ok := b.clients[id]
	delete(b.clients, id)
	n := len(b.clients)
	b.mu.Unlock()

	if ok {
		c.close()
		b.log.Debug().Str("client", id).Int("clients", n).Msg("stream client removed")
	}
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// ServeHTTP streams badge updates until the client goes away.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	c, last, err := b.add(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer func() {
		b.remove(c.id)
		c.detach()
	}()

	hello := fmt.Sprintf("event: connected\ndata: {\"clientId\":%q}\n\n", c.id)
	if err := c.send(append([]byte(hello), last...)); err != nil {
		return
	}

	select {
	case <-r.Context().Done():
	case <-c.done:
	}
}
