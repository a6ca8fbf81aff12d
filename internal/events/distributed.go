package events

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"time"

	"cloud.google.com/go/pubsub"
)

// DistributedBus wraps the in-process Bus and additionally publishes every
// event to a Google Cloud Pub/Sub topic, so a horizontally scaled deployment
// fans spectator events out across every server pod rather than just the one
// that produced them. Per-competition ordering keys keep one competition's
// event stream causally ordered even when multiple pods publish concurrently.
//
// If the Pub/Sub publish fails, the event still reaches local subscribers —
// a durability failure never blocks a live spectator who is already
// connected to this pod.
type DistributedBus struct {
	*Bus

	client *pubsub.Client
	topic  *pubsub.Topic
	logger *log.Logger
}

// NewDistributedBus creates a Pub/Sub-backed bus, creating the topic if it
// does not already exist.
func NewDistributedBus(projectID, topicID string, maxCount int, maxAge time.Duration) (*DistributedBus, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub.NewClient: %w", err)
	}

	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("topic.Exists: %w", err)
	}
	if !exists {
		topic, err = client.CreateTopic(ctx, topicID)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("CreateTopic: %w", err)
		}
		slog.Info("events: created Pub/Sub topic", "topic_id", topicID)
	}

	// Ordering key is the competition ID, so events for one competition
	// are delivered to downstream consumers in publish order.
	topic.EnableMessageOrdering = true

	db := &DistributedBus{
		Bus:    NewBus(maxCount, maxAge),
		client: client,
		topic:  topic,
		logger: log.New(log.Writer(), "[EVENTS-PUBSUB] ", log.LstdFlags),
	}
	db.logger.Printf("connected to pubsub topic projects/%s/topics/%s", projectID, topicID)
	return db, nil
}

// Emit creates a CloudEvent, publishes it to Pub/Sub, and fans it out to
// local subscribers plus the ring buffer.
func (db *DistributedBus) Emit(eventType, competitionID string, data map[string]interface{}) {
	event := NewCloudEvent(eventType, competitionID, data)
	db.publishToPubSub(event)
	db.Bus.Publish(event)
}

// publishToPubSub serializes the CloudEvent and publishes it with CloudEvents
// attributes for server-side filtering by downstream consumers.
func (db *DistributedBus) publishToPubSub(event *CloudEvent) {
	payload, err := event.JSON()
	if err != nil {
		db.logger.Printf("failed to marshal event %s: %v", event.ID, err)
		return
	}

	msg := &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"ce-specversion":   event.SpecVersion,
			"ce-type":          event.Type,
			"ce-source":        event.Source,
			"ce-id":            event.ID,
			"ce-time":          event.Time.Format(time.RFC3339Nano),
			"ce-competitionid": event.CompetitionID,
		},
		OrderingKey: event.CompetitionID,
	}

	result := db.topic.Publish(context.Background(), msg)

	go func() {
		serverID, err := result.Get(context.Background())
		if err != nil {
			db.logger.Printf("publish failed: %s -> %v", event.ID, err)
			return
		}
		db.logger.Printf("published event %s -> msgID=%s (type=%s)", event.ID, serverID, event.Type)
	}()
}

// PublishRaw publishes a pre-built CloudEvent to Pub/Sub and the local bus.
func (db *DistributedBus) PublishRaw(event *CloudEvent) {
	db.publishToPubSub(event)
	db.Bus.Publish(event)
}

// Close gracefully shuts down the Pub/Sub client.
func (db *DistributedBus) Close() error {
	db.topic.Stop()
	if err := db.client.Close(); err != nil {
		return fmt.Errorf("pubsub client close: %w", err)
	}
	db.logger.Printf("pubsub client closed")
	return nil
}

// TopicPath returns the fully-qualified Pub/Sub topic path.
func (db *DistributedBus) TopicPath() string {
	return db.topic.String()
}

// HealthCheck verifies the Pub/Sub topic is reachable.
func (db *DistributedBus) HealthCheck(ctx context.Context) error {
	exists, err := db.topic.Exists(ctx)
	if err != nil {
		return fmt.Errorf("topic health check: %w", err)
	}
	if !exists {
		return fmt.Errorf("topic does not exist")
	}
	return nil
}

// MarshalStats returns basic telemetry about the bus: backend, topic,
// subscriber count and dropped-event count.
func (db *DistributedBus) MarshalStats() map[string]interface{} {
	return map[string]interface{}{
		"backend":     "gcp-pubsub",
		"topic":       db.topic.String(),
		"subscribers": db.Bus.SubscriberCount(),
		"dropped":     db.Bus.DroppedCount(),
	}
}

var _ Emitter = (*DistributedBus)(nil)
