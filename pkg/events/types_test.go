package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskChannel(t *testing.T) {
	tests := []struct {
		name   string
		taskID string
		want   string
	}{
		{
			name:   "formats task channel correctly",
			taskID: "abc-123",
			want:   "task:abc-123",
		},
		{
			name:   "handles UUID format",
			taskID: "550e8400-e29b-41d4-a716-446655440000",
			want:   "task:550e8400-e29b-41d4-a716-446655440000",
		},
		{
			name:   "handles empty string",
			taskID: "",
			want:   "task:",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TaskChannel(tt.taskID))
		})
	}
}

func TestEventTypeConstants(t *testing.T) {
	types := []string{
		EventTypeTimelineEventCreated,
		EventTypeAgentStatus,
		EventTypeAgentDispatched,
		EventTypeFindingReported,
		EventTypeStreamChunk,
		EventTypeAgentProgress,
	}

	seen := make(map[string]bool)
	for _, typ := range types {
		assert.NotEmpty(t, typ, "event type should not be empty")
		assert.False(t, seen[typ], "duplicate event type: %s", typ)
		seen[typ] = true
	}
}

func TestGlobalTasksChannel(t *testing.T) {
	assert.Equal(t, "tasks", GlobalTasksChannel)
}
