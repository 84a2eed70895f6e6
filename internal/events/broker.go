// Package events fans storefront changes out to connected clients.
package events

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/saltyorg/cookieshop/internal/database"
)

// EventType represents the type of event
type EventType string

const (
	EventConnected      EventType = "connected"
	EventHeartbeat      EventType = "heartbeat"
	EventDataChanged    EventType = "data_changed"
	EventSessionChanged EventType = "session_changed"
	EventOrderPlaced    EventType = "order_placed"
	EventDataCleared    EventType = "data_cleared"

	EventMaintenanceCompleted EventType = "maintenance_completed"
	EventMaintenanceFailed    EventType = "maintenance_failed"
)

// DefaultHeartbeat is the interval between heartbeat events
const DefaultHeartbeat = 30 * time.Second

// Event is one message sent to clients
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// Message is an encoded event ready for a transport
type Message struct {
	Type EventType
	Data []byte
}

// Client is one subscriber. Messages is closed when the client is
// unsubscribed or the broker stops.
type Client struct {
	ID       string
	Messages chan Message
}

// Broker manages client subscriptions and event broadcasting
type Broker struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan Event
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex

	heartbeat  time.Duration
	bufferSize int
}

// Option configures a Broker
type Option func(*Broker)

// WithHeartbeat sets the heartbeat interval
func WithHeartbeat(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.heartbeat = d
		}
	}
}

// WithBufferSize sets the per-client message buffer
func WithBufferSize(n int) Option {
	return func(b *Broker) {
		if n > 0 {
			b.bufferSize = n
		}
	}
}

// NewBroker creates a broker and starts its loop
func NewBroker(opts ...Option) *Broker {
	b := &Broker{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan Event, 100),
		done:       make(chan struct{}),
		heartbeat:  DefaultHeartbeat,
		bufferSize: 32,
	}
	for _, opt := range opts {
		opt(b)
	}
	go b.run()
	return b
}

func (b *Broker) run() {
	heartbeatTicker := time.NewTicker(b.heartbeat)
	defer heartbeatTicker.Stop()

	for {
		select {
		case <-b.done:
			b.mu.Lock()
			for _, client := range b.clients {
				close(client.Messages)
			}
			b.clients = make(map[string]*Client)
			b.mu.Unlock()
			log.Debug().Msg("Event broker stopped")
			return

		case client := <-b.register:
			b.mu.Lock()
			b.clients[client.ID] = client
			total := len(b.clients)
			b.mu.Unlock()
			log.Debug().Str("client_id", client.ID).Int("total_clients", total).Msg("Event client connected")

		case client := <-b.unregister:
			b.mu.Lock()
			if _, ok := b.clients[client.ID]; ok {
				delete(b.clients, client.ID)
				close(client.Messages)
			}
			total := len(b.clients)
			b.mu.Unlock()
			log.Debug().Str("client_id", client.ID).Int("total_clients", total).Msg("Event client disconnected")

		case event := <-b.broadcast:
			b.deliver(event)

		case <-heartbeatTicker.C:
			b.deliver(Event{Type: EventHeartbeat, Data: map[string]any{"time": time.Now().Unix()}})
		}
	}
}

func (b *Broker) deliver(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(event.Type)).Msg("Failed to marshal event")
		return
	}
	msg := Message{Type: event.Type, Data: data}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, client := range b.clients {
		select {
		case client.Messages <- msg:
		default:
			log.Warn().Str("client_id", client.ID).Msg("Event client buffer full, dropping message")
		}
	}
}

// Subscribe registers a new client. It returns nil once the broker stopped.
func (b *Broker) Subscribe() *Client {
	client := &Client{
		ID:       uuid.NewString(),
		Messages: make(chan Message, b.bufferSize),
	}
	select {
	case b.register <- client:
		return client
	case <-b.done:
		return nil
	}
}

// Unsubscribe removes a client and closes its channel
func (b *Broker) Unsubscribe(client *Client) {
	if client == nil {
		return
	}
	select {
	case b.unregister <- client:
	case <-b.done:
	}
}

// Broadcast queues an event for every client. Events are dropped when the
// queue is full.
func (b *Broker) Broadcast(event Event) {
	select {
	case b.broadcast <- event:
	default:
		log.Warn().Str("event_type", string(event.Type)).Msg("Broadcast channel full, dropping event")
	}
}

// Publish broadcasts an event built from its parts
func (b *Broker) Publish(t EventType, data any) {
	b.Broadcast(Event{Type: t, Data: data})
}

// OnChange forwards committed database changes. Register it with
// database.Manager.OnChange.
func (b *Broker) OnChange(change database.Change) {
	b.Publish(EventDataChanged, change)
}

// Stop shuts the broker down. It is safe to call more than once.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.done) })
}

// ClientCount returns the number of connected clients
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// ServeHTTP streams events as server-sent events
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	client := b.Subscribe()
	if client == nil {
		http.Error(w, "event broker stopped", http.StatusServiceUnavailable)
		return
	}
	defer b.Unsubscribe(client)

	data, _ := json.Marshal(Welcome(client))
	_, _ = w.Write(formatSSE(EventConnected, data))
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-client.Messages:
			if !ok {
				return
			}
			_, _ = w.Write(formatSSE(msg.Type, msg.Data))
			flusher.Flush()
		}
	}
}

// Welcome is the first event a client receives
func Welcome(client *Client) Event {
	return Event{
		Type: EventConnected,
		Data: map[string]any{
			"client_id": client.ID,
			"time":      time.Now().Unix(),
		},
	}
}

func formatSSE(t EventType, data []byte) []byte {
	return fmt.Appendf(nil, "event: %s\ndata: %s\n\n", t, data)
}
