package session

import (
	"encoding/base64"
	"encoding/json"
	"sync"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/IdanVahab/Temi-Server/internal/logger"
	"github.com/IdanVahab/Temi-Server/internal/metrics"
	"github.com/IdanVahab/Temi-Server/pkg/types"
)

// SerializedEvent holds pre-serialized data in both formats.
// This avoids redundant serialization when broadcasting to multiple clients.
type SerializedEvent struct {
	SessionID    string
	JSONData     []byte // Pre-serialized JSON
	ProtobufData []byte // Pre-serialized google.protobuf.Struct, base64 encoded for SSE
}

type subscriber struct {
	ch      chan *SerializedEvent
	session string // empty receives every session
}

// Broadcaster manages fanout of scenario events to stream clients.
type Broadcaster struct {
	mu      sync.Mutex
	clients map[int]subscriber
	nextID  int
	closed  bool
	metrics *metrics.Metrics
}

// NewBroadcaster creates a broadcaster. m may be nil.
func NewBroadcaster(m *metrics.Metrics) *Broadcaster {
	return &Broadcaster{
		clients: make(map[int]subscriber),
		metrics: m,
	}
}

// Subscribe adds a client. A non-empty sessionID limits delivery to that session.
func (b *Broadcaster) Subscribe(sessionID string) (int, <-chan *SerializedEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan *SerializedEvent, 8)
	if b.closed {
		close(ch)
		return id, ch
	}
	b.clients[id] = subscriber{ch: ch, session: sessionID}

	logger.Debug("SSE", "Client #%d subscribed (total clients: %d)", id, len(b.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (b *Broadcaster) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.clients[id]; ok {
		close(sub.ch)
		delete(b.clients, id)
		logger.Debug("SSE", "Client #%d unsubscribed (remaining clients: %d)", id, len(b.clients))
	}
}

// Clients returns the number of subscribers.
func (b *Broadcaster) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Close disconnects every subscriber. Later Subscribe calls get a closed channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.clients {
		close(sub.ch)
		delete(b.clients, id)
	}
	b.closed = true
}

// Publish serializes msg once and offers it to every matching subscriber.
func (b *Broadcaster) Publish(msg types.ScenarioMessage) {
	event, err := Serialize(msg)
	if err != nil {
		logger.Error("SSE", "Serialize error: %v", err)
		return
	}
	b.broadcast(event)
}

// Serialize pre-serializes a scenario message to JSON and base64 protobuf.
func Serialize(msg types.ScenarioMessage) (*SerializedEvent, error) {
	jsonData, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}

	var incident any
	if msg.IncidentID != nil {
		incident = *msg.IncidentID
	}
	pbEvent, err := structpb.NewStruct(map[string]any{
		"session_id":  msg.SessionID,
		"scenario":    msg.Scenario,
		"timestamp":   msg.Timestamp,
		"incident_id": incident,
	})
	if err != nil {
		return nil, err
	}
	pbData, err := proto.Marshal(pbEvent)
	if err != nil {
		return nil, err
	}

	return &SerializedEvent{
		SessionID:    msg.SessionID,
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}, nil
}

func (b *Broadcaster) broadcast(event *SerializedEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.clients {
		if sub.session != "" && sub.session != event.SessionID {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			// Client too slow, skip this event for this client
			if b.metrics != nil {
				b.metrics.SubscriberDrops.Add(1)
			}
			logger.Debug("SSE", "Client #%d too slow, dropped %s", id, event.SessionID)
		}
	}
}
