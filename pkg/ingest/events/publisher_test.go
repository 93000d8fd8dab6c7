package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/dealbook/pkg/logging"
)

func TestBaseEvent(t *testing.T) {
	event := NewBaseEvent("test.event")

	assert.Equal(t, "test.event", event.EventType)
	assert.Equal(t, "dealbook", event.Source)
	assert.Equal(t, "1.0", event.Version)
	assert.False(t, event.Timestamp.IsZero())
}

func TestImportRunCompletedEvent_JSON(t *testing.T) {
	start := time.Date(2025, 2, 10, 9, 0, 0, 0, time.UTC)
	event := ImportRunCompletedEvent{
		BaseEvent:   NewBaseEvent("import_run.completed"),
		RunID:       "run-1",
		Dataset:     "participations",
		SourceCount: 2,
		Counts: map[string]TableCounts{
			"participations": {Created: 3, Skipped: 1},
		},
		NotFound:        []string{"project: Waterpointe"},
		RegionsNotFound: []string{"notes.csv"},
		StartedAt:       start,
		CompletedAt:     start.Add(90 * time.Second),
		DurationSeconds: 90,
	}

	data, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "import_run.completed", decoded["event_type"])
	assert.Equal(t, "run-1", decoded["run_id"])
	assert.Equal(t, float64(2), decoded["source_count"])
	assert.Equal(t, []any{"project: Waterpointe"}, decoded["not_found"])

	counts := decoded["counts"].(map[string]any)["participations"].(map[string]any)
	assert.Equal(t, float64(3), counts["created"])
	assert.Equal(t, float64(1), counts["skipped"])
}

func TestPublisher_UnreachableRedis(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	p := NewPublisher(client, logging.NewNopLogger())
	defer p.Close()

	err := p.PublishRunCompleted(context.Background(), ImportRunCompletedEvent{RunID: "run-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), ChannelImportRunCompleted)
}

func TestNewPublisherFromConfig_PingFails(t *testing.T) {
	_, err := NewPublisherFromConfig(PublisherConfig{Addr: "127.0.0.1:1"}, logging.NewNopLogger())
	assert.Error(t, err)
}
