// Package events publishes import run events to Redis.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/otherjamesbrown/dealbook/pkg/logging"
)

// Redis channels
const (
	ChannelImportRunCompleted  = "events.import_run.completed"
	ChannelDuplicatesCollapsed = "events.duplicates.collapsed"
)

// BaseEvent contains common fields for all events.
type BaseEvent struct {
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Version   string    `json:"version"`
}

// NewBaseEvent creates a BaseEvent with sensible defaults.
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		Source:    "dealbook",
		Version:   "1.0",
	}
}

// TableCounts tallies row outcomes for one target.
type TableCounts struct {
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Skipped   int `json:"skipped"`
	Errored   int `json:"errored"`
}

// ImportRunCompletedEvent is published when an import run finishes.
type ImportRunCompletedEvent struct {
	BaseEvent

	RunID   string `json:"run_id"`
	Dataset string `json:"dataset"`
	DryRun  bool   `json:"dry_run"`

	SourceCount     int                    `json:"source_count"`
	SourceHashes    []string               `json:"source_hashes"`
	Counts          map[string]TableCounts `json:"counts"`
	NotFound        []string               `json:"not_found"`
	RegionsNotFound []string               `json:"regions_not_found"`

	StartedAt       time.Time `json:"started_at"`
	CompletedAt     time.Time `json:"completed_at"`
	DurationSeconds float64   `json:"duration_seconds"`
}

// DuplicatesCollapsedEvent is published after a duplicate collapse.
type DuplicatesCollapsedEvent struct {
	BaseEvent

	Kind        string  `json:"kind"`
	Groups      int     `json:"groups"`
	Deleted     int     `json:"deleted"`
	Repointed   int     `json:"repointed"`
	MergedFacts int     `json:"merged_facts"`
	Recomputed  []int64 `json:"recomputed_projects"`
}

// Publisher publishes dealbook events to Redis.
type Publisher struct {
	client *redis.Client
	logger logging.Logger
}

// PublisherConfig holds Redis connection configuration.
type PublisherConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewPublisher creates a new event publisher.
func NewPublisher(client *redis.Client, logger logging.Logger) *Publisher {
	return &Publisher{
		client: client,
		logger: logger.With(logging.Component("event_publisher")),
	}
}

// NewPublisherFromConfig creates a publisher with a new Redis connection.
func NewPublisherFromConfig(cfg PublisherConfig, logger logging.Logger) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr, err)
	}

	return NewPublisher(client, logger), nil
}

// PublishRunCompleted publishes the outcome of an import run.
func (p *Publisher) PublishRunCompleted(ctx context.Context, event ImportRunCompletedEvent) error {
	if event.EventType == "" {
		event.BaseEvent = NewBaseEvent("import_run.completed")
	}
	return p.publish(ctx, ChannelImportRunCompleted, event)
}

// PublishDuplicatesCollapsed publishes the outcome of a duplicate collapse.
func (p *Publisher) PublishDuplicatesCollapsed(ctx context.Context, event DuplicatesCollapsedEvent) error {
	if event.EventType == "" {
		event.BaseEvent = NewBaseEvent("duplicates.collapsed")
	}
	return p.publish(ctx, ChannelDuplicatesCollapsed, event)
}

// publish serializes and publishes an event to Redis.
func (p *Publisher) publish(ctx context.Context, channel string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		p.logger.Error("Failed to publish event",
			logging.Err(err),
			logging.F("channel", channel))
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}

	p.logger.Debug("Event published",
		logging.F("channel", channel),
		logging.F("payload_size", len(data)))

	return nil
}

// Close closes the Redis connection.
func (p *Publisher) Close() error {
	return p.client.Close()
}
