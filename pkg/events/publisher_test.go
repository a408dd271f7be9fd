package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncateIfNeeded(t *testing.T) {
	t.Run("passes through normal payload", func(t *testing.T) {
		payload, _ := json.Marshal(TimelineEventCreatedPayload{
			Type:   EventTypeTimelineEventCreated,
			TaskID: "task-abc-123",
		})

		result, err := truncateIfNeeded(string(payload))
		require.NoError(t, err)
		assert.Contains(t, result, EventTypeTimelineEventCreated)
		assert.Contains(t, result, "task-abc-123")
	})

	t.Run("truncates oversized payload", func(t *testing.T) {
		longContent := make([]byte, 8000)
		for i := range longContent {
			longContent[i] = 'a'
		}
		payload, _ := json.Marshal(TimelineEventCreatedPayload{
			Type:    EventTypeTimelineEventCreated,
			TaskID:  "task-abc-123",
			EventID: "evt-123",
			Content: string(longContent),
		})

		result, err := truncateIfNeeded(string(payload))
		require.NoError(t, err)
		assert.Contains(t, result, "truncated")
		assert.Less(t, len(result), 8000)
	})

	t.Run("does not truncate small payload", func(t *testing.T) {
		payload, _ := json.Marshal(StreamChunkPayload{
			Type:  EventTypeStreamChunk,
			Delta: "hello",
		})

		result, err := truncateIfNeeded(string(payload))
		require.NoError(t, err)
		assert.NotContains(t, result, "truncated")
	})

	t.Run("truncated payload preserves key fields", func(t *testing.T) {
		longContent := make([]byte, 8000)
		for i := range longContent {
			longContent[i] = 'x'
		}
		payload, _ := json.Marshal(TimelineEventCreatedPayload{
			Type:    EventTypeTimelineEventCreated,
			TaskID:  "task-789",
			EventID: "evt-456",
			Content: string(longContent),
		})

		result, err := truncateIfNeeded(string(payload))
		require.NoError(t, err)

		assert.Contains(t, result, EventTypeTimelineEventCreated)
		assert.Contains(t, result, "evt-456")
		assert.Contains(t, result, "task-789")
		assert.Contains(t, result, `"truncated":true`)
		assert.NotContains(t, result, "xxxx")
	})

	t.Run("empty JSON object", func(t *testing.T) {
		result, err := truncateIfNeeded("{}")
		require.NoError(t, err)
		assert.Equal(t, "{}", result)
	})
}

func TestInjectDBEventIDAndTruncate(t *testing.T) {
	t.Run("injects db_event_id into normal payload", func(t *testing.T) {
		payload, _ := json.Marshal(TimelineEventCreatedPayload{
			Type:    EventTypeTimelineEventCreated,
			TaskID:  "task-1",
			EventID: "evt-1",
			Content: "hello",
		})

		result, err := injectDBEventIDAndTruncate(payload, 42)
		require.NoError(t, err)
		assert.Contains(t, result, `"db_event_id":42`)
		assert.Contains(t, result, "evt-1")
	})

	t.Run("truncated payload preserves db_event_id", func(t *testing.T) {
		longContent := make([]byte, 8000)
		for i := range longContent {
			longContent[i] = 'x'
		}
		payload, _ := json.Marshal(TimelineEventCreatedPayload{
			Type:    EventTypeTimelineEventCreated,
			TaskID:  "task-789",
			EventID: "evt-456",
			Content: string(longContent),
		})

		result, err := injectDBEventIDAndTruncate(payload, 42)
		require.NoError(t, err)
		assert.Contains(t, result, `"truncated":true`)
		assert.Contains(t, result, `"db_event_id":42`)
		assert.Contains(t, result, "evt-456")
	})

	t.Run("truncated payload without task_id keeps db_event_id", func(t *testing.T) {
		longContent := make([]byte, 8000)
		for i := range longContent {
			longContent[i] = 'x'
		}
		payload, _ := json.Marshal(StreamChunkPayload{
			Type:    EventTypeStreamChunk,
			EventID: "evt-789",
			Delta:   string(longContent),
		})

		result, err := injectDBEventIDAndTruncate(payload, 99)
		require.NoError(t, err)
		assert.Contains(t, result, `"truncated":true`)
		assert.Contains(t, result, `"db_event_id":99`)
	})
}

func TestNewEventPublisher(t *testing.T) {
	publisher := NewEventPublisher(nil)
	assert.NotNil(t, publisher)
	assert.Nil(t, publisher.db)
}
