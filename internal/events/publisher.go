package events

import (
	"context"
	"time"

	"tradelog/internal/adapters/kafka"
	"tradelog/pkg/errors"
	"tradelog/pkg/logger"
)

// Action is the kind of row mutation that was applied
type Action string

const (
	ActionCreated  Action = "created"
	ActionUpdated  Action = "updated"
	ActionAdopted  Action = "adopted"
	ActionFinalize Action = "finalized"
)

// RowSynced is emitted after a successful write to the remote table
type RowSynced struct {
	CycleID    string    `json:"cycle_id,omitempty"`
	PositionID string    `json:"position_id"`
	RecordID   string    `json:"record_id"`
	Exchange   string    `json:"exchange"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	Action     Action    `json:"action"`
	Status     string    `json:"status"`
	Leverage   int       `json:"leverage,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// CycleCompleted summarizes one sync cycle
type CycleCompleted struct {
	CycleID    string         `json:"cycle_id"`
	StartedAt  time.Time      `json:"started_at"`
	Duration   time.Duration  `json:"duration_ns"`
	Exchanges  map[string]int `json:"mutations_by_exchange"`
	Failures   int            `json:"failures"`
	CacheSize  int            `json:"cache_size"`
	FinishedAt time.Time      `json:"finished_at"`
}

// Publisher emits sync events. Publishing is best-effort: callers log failures and carry on.
type Publisher interface {
	PublishRowSynced(ctx context.Context, event RowSynced) error
	PublishCycleCompleted(ctx context.Context, event CycleCompleted) error
}

// KafkaPublisher publishes events to Kafka
type KafkaPublisher struct {
	producer *kafka.Producer
	log      *logger.Logger
}

// NewKafkaPublisher creates a new event publisher
func NewKafkaPublisher(producer *kafka.Producer, log *logger.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		producer: producer,
		log:      log,
	}
}

// PublishRowSynced publishes a row mutation event keyed by position id
func (p *KafkaPublisher) PublishRowSynced(ctx context.Context, event RowSynced) error {
	return p.publish(ctx, kafka.TopicRowSynced, event.PositionID, event)
}

// PublishCycleCompleted publishes a cycle summary keyed by cycle id
func (p *KafkaPublisher) PublishCycleCompleted(ctx context.Context, event CycleCompleted) error {
	return p.publish(ctx, kafka.TopicCycleCompleted, event.CycleID, event)
}

func (p *KafkaPublisher) publish(ctx context.Context, topic, key string, event interface{}) error {
	if err := p.producer.Publish(ctx, topic, key, event); err != nil {
		return errors.Wrap(err, "send to kafka")
	}
	p.log.Debugw("Event published", "topic", topic, "key", key)
	return nil
}

// NoopPublisher drops every event. Used when Kafka is not configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishRowSynced(context.Context, RowSynced) error           { return nil }
func (NoopPublisher) PublishCycleCompleted(context.Context, CycleCompleted) error { return nil }
