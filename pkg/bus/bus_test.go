package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSendLazilyCreatesQueue(t *testing.T) {
	b := New()
	m := b.Send("orchestrator", "recon-1", "start recon", TypeInstruction, PriorityNormal, nil)

	assert.True(t, m.Delivered)
	assert.False(t, m.Read)
	assert.True(t, b.HasUnread("recon-1"))
	assert.Equal(t, 1, b.UnreadCount("recon-1"))
}

func TestReceiveOrdersByPriorityThenFIFO(t *testing.T) {
	b := New()
	b.Send("a", "recon-1", "low-1", TypeInformation, PriorityLow, nil)
	b.Send("a", "recon-1", "normal-1", TypeInformation, PriorityNormal, nil)
	b.Send("a", "recon-1", "urgent-1", TypeInformation, PriorityUrgent, nil)
	b.Send("a", "recon-1", "normal-2", TypeInformation, PriorityNormal, nil)

	got := b.Receive("recon-1", true, false)
	var order []string
	for _, m := range got {
		order = append(order, m.Content)
	}
	assert.Equal(t, []string{"urgent-1", "normal-1", "normal-2", "low-1"}, order)
}

func TestReceiveMarksReadAndExcludesFromNextUnreadQuery(t *testing.T) {
	b := New()
	b.Send("a", "recon-1", "hello", TypeInformation, PriorityNormal, nil)

	first := b.Receive("recon-1", true, true)
	assert.Len(t, first, 1)
	assert.True(t, first[0].Read)

	second := b.Receive("recon-1", true, true)
	assert.Empty(t, second)

	assert.False(t, b.HasUnread("recon-1"))
}

func TestReceiveWithoutMarkingLeavesUnreadState(t *testing.T) {
	b := New()
	b.Send("a", "recon-1", "hello", TypeInformation, PriorityNormal, nil)

	got := b.Receive("recon-1", true, false)
	assert.Len(t, got, 1)
	assert.True(t, b.HasUnread("recon-1"))
}

func TestReceiveAllIncludesReadMessages(t *testing.T) {
	b := New()
	b.Send("a", "recon-1", "one", TypeInformation, PriorityNormal, nil)
	b.Receive("recon-1", true, true)
	b.Send("a", "recon-1", "two", TypeInformation, PriorityNormal, nil)

	all := b.Receive("recon-1", false, false)
	assert.Len(t, all, 2)
}

func TestDeleteQueueRemovesPendingState(t *testing.T) {
	b := New()
	b.Send("a", "recon-1", "hello", TypeInformation, PriorityNormal, nil)
	b.DeleteQueue("recon-1")

	assert.False(t, b.HasUnread("recon-1"))
	assert.Empty(t, b.Receive("recon-1", true, false))
}

func TestSendUserMessageUsesHighPriorityAndUserSender(t *testing.T) {
	b := New()
	m := b.SendUserMessage("orchestrator", "stop and summarize")

	assert.Equal(t, "user", m.From)
	assert.Equal(t, PriorityHigh, m.Priority)
	assert.Equal(t, TypeInstruction, m.Type)
}

func TestClearQueueEmptiesWithoutDeletingQueue(t *testing.T) {
	b := New()
	b.Send("a", "recon-1", "hello", TypeInformation, PriorityNormal, nil)
	b.ClearQueue("recon-1")

	assert.False(t, b.HasUnread("recon-1"))
	b.CreateQueue("recon-1")
	assert.Empty(t, b.Receive("recon-1", false, false))
}

func TestHistoryFiltersByAgentAndRespectsLimit(t *testing.T) {
	b := New()
	b.Send("orchestrator", "recon-1", "m1", TypeInformation, PriorityNormal, nil)
	b.Send("orchestrator", "analysis-1", "m2", TypeInformation, PriorityNormal, nil)
	b.Send("recon-1", "orchestrator", "m3", TypeResult, PriorityNormal, nil)

	reconHistory := b.History("recon-1", 0)
	assert.Len(t, reconHistory, 2)

	limited := b.History("", 1)
	assert.Len(t, limited, 1)
	assert.Equal(t, "m3", limited[0].Content)
}
