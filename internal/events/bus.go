// Package events implements the live-spectator event bus: a bounded
// ring-buffer history with wildcard pub/sub fan-out, and (in distributed.go)
// an optional Cloud Pub/Sub-backed variant for cross-process distribution.
package events

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Emitter is the interface both Bus and DistributedBus satisfy.
type Emitter interface {
	Emit(eventType, competitionID string, data map[string]interface{})
}

// CloudEvent is the CloudEvents 1.0 envelope for every event fanned out to
// spectators. CompetitionID is the primary index field for history/replay.
type CloudEvent struct {
	SpecVersion   string                 `json:"specversion"`
	Type          string                 `json:"type"`
	Source        string                 `json:"source"`
	ID            string                 `json:"id"`
	Time          time.Time              `json:"time"`
	CompetitionID string                 `json:"competitionid,omitempty"`
	Data          map[string]interface{} `json:"data"`
}

// NewCloudEvent creates a CloudEvents 1.0 compliant event.
func NewCloudEvent(eventType, competitionID string, data map[string]interface{}) *CloudEvent {
	return &CloudEvent{
		SpecVersion:   "1.0",
		Type:          eventType,
		Source:        "competition-core",
		ID:            uuid.NewString(),
		Time:          time.Now(),
		CompetitionID: competitionID,
		Data:          data,
	}
}

// JSON serializes the event.
func (ce *CloudEvent) JSON() ([]byte, error) {
	return json.Marshal(ce)
}

// SSEFormat returns the event in Server-Sent Events wire format.
func (ce *CloudEvent) SSEFormat() ([]byte, error) {
	data, err := json.Marshal(ce)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\nid: %s\n\n", ce.Type, data, ce.ID)), nil
}

type subscription struct {
	token int64
	types map[string]bool // nil = wildcard, receives everything
	ch    chan *CloudEvent
}

// HistoryFilter narrows a History() query. Zero values are wildcards.
type HistoryFilter struct {
	CompetitionID string
	Type          string
	Since         time.Time
}

// Bus is an in-process pub/sub event bus with a bounded ring-buffer history.
// Publish never blocks: a subscriber whose channel is full simply misses
// that event and must fall back to History().
type Bus struct {
	mu      sync.RWMutex
	subs    map[int64]*subscription
	nextTok int64

	ring      []*CloudEvent
	ringHead  int
	ringCount int
	maxCount  int
	maxAge    time.Duration
	dropped   int64

	logger *log.Logger
}

// NewBus creates an event bus retaining the last maxCount events or events
// newer than maxAge, whichever is smaller (spec.md §4.1).
func NewBus(maxCount int, maxAge time.Duration) *Bus {
	if maxCount <= 0 {
		maxCount = 1000
	}
	if maxAge <= 0 {
		maxAge = 10 * time.Minute
	}
	return &Bus{
		subs:     make(map[int64]*subscription),
		ring:     make([]*CloudEvent, maxCount),
		maxCount: maxCount,
		maxAge:   maxAge,
		logger:   log.New(log.Writer(), "[EVENTS] ", log.LstdFlags),
	}
}

// Subscribe registers a channel receiving events of the given types. Pass no
// types for a wildcard subscription. Returns the channel and a token for
// Unsubscribe.
func (b *Bus) Subscribe(bufferSize int, types ...string) (chan *CloudEvent, int64) {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextTok++
	tok := b.nextTok

	var typeSet map[string]bool
	if len(types) > 0 {
		typeSet = make(map[string]bool, len(types))
		for _, t := range types {
			typeSet[t] = true
		}
	}

	ch := make(chan *CloudEvent, bufferSize)
	b.subs[tok] = &subscription{token: tok, types: typeSet, ch: ch}
	return ch, tok
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(token int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[token]
	if !ok {
		return
	}
	delete(b.subs, token)
	close(sub.ch)
}

// Publish records event in the ring buffer and fans it out to every matching
// subscriber without blocking.
func (b *Bus) Publish(event *CloudEvent) {
	b.mu.Lock()
	b.appendRing(event)
	subs := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		if sub.types != nil && !sub.types[event.Type] {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			b.mu.Lock()
			b.dropped++
			b.mu.Unlock()
			b.logger.Printf("subscriber queue full, dropped event %s (type=%s competition=%s)",
				event.ID, event.Type, event.CompetitionID)
		}
	}
}

// Emit creates and publishes an event.
func (b *Bus) Emit(eventType, competitionID string, data map[string]interface{}) {
	b.Publish(NewCloudEvent(eventType, competitionID, data))
}

// appendRing evicts the oldest slot and stores event. Caller must hold b.mu.
func (b *Bus) appendRing(event *CloudEvent) {
	b.ring[b.ringHead] = event
	b.ringHead = (b.ringHead + 1) % b.maxCount
	if b.ringCount < b.maxCount {
		b.ringCount++
	}
}

// History returns ring-buffered events matching filter, oldest first. Events
// older than the ring's retention window are not returned; the bus keeps no
// other copy of them and writes none to durable storage.
func (b *Bus) History(filter HistoryFilter) []*CloudEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()

	cutoff := time.Now().Add(-b.maxAge)
	out := make([]*CloudEvent, 0, b.ringCount)
	start := (b.ringHead - b.ringCount + b.maxCount) % b.maxCount
	for i := 0; i < b.ringCount; i++ {
		ev := b.ring[(start+i)%b.maxCount]
		if ev == nil || ev.Time.Before(cutoff) {
			continue
		}
		if filter.CompetitionID != "" && ev.CompetitionID != filter.CompetitionID {
			continue
		}
		if filter.Type != "" && ev.Type != filter.Type {
			continue
		}
		if !filter.Since.IsZero() && ev.Time.Before(filter.Since) {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// DroppedCount returns how many events have been dropped for a full
// subscriber channel since startup.
func (b *Bus) DroppedCount() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}
