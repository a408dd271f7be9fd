// Package bus implements the inter-agent message bus: a lazily-created,
// per-recipient priority queue that agents use to exchange queries,
// instructions, results and errors while an investigation runs.
package bus

import (
	"container/heap"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type is the kind of inter-agent message.
type Type string

const (
	TypeQuery       Type = "query"
	TypeInstruction Type = "instruction"
	TypeInformation Type = "information"
	TypeResult      Type = "result"
	TypeError       Type = "error"
)

// Priority orders delivery within a recipient's queue.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

// Message is one unit of inter-agent communication.
type Message struct {
	ID        string
	From      string
	To        string
	Content   string
	Type      Type
	Priority  Priority
	Timestamp time.Time
	Delivered bool
	Read      bool
	Metadata  map[string]any

	seq int // insertion order, breaks priority ties FIFO
}

// item is the heap element; kept separate from Message so the same
// Message can be returned to callers without heap-internal bookkeeping.
type item struct {
	msg   *Message
	index int
}

type priorityQueue []*item

func (pq priorityQueue) Len() int { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool {
	if pq[i].msg.Priority != pq[j].msg.Priority {
		return pq[i].msg.Priority > pq[j].msg.Priority // higher priority first
	}
	return pq[i].msg.seq < pq[j].msg.seq // FIFO within same priority
}
func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index, pq[j].index = i, j
}
func (pq *priorityQueue) Push(x any) {
	it := x.(*item)
	it.index = len(*pq)
	*pq = append(*pq, it)
}
func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*pq = old[:n-1]
	return it
}

// queue holds every message ever delivered to one recipient, read or not,
// so get_messages(unread_only=false) and history queries work without a
// second store.
type queue struct {
	pending priorityQueue // unread messages, heap-ordered
	all     []*Message    // full arrival-ordered history for this recipient
}

// Bus is the thread-safe message bus shared by all agents in a task.
type Bus struct {
	mu       sync.Mutex
	queues   map[string]*queue
	history  []*Message
	nextSeq  int
}

func New() *Bus {
	return &Bus{queues: map[string]*queue{}}
}

// CreateQueue lazily provisions a recipient's queue; safe to call more
// than once.
func (b *Bus) CreateQueue(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.createQueueLocked(agentID)
}

func (b *Bus) createQueueLocked(agentID string) *queue {
	q, ok := b.queues[agentID]
	if !ok {
		q = &queue{}
		b.queues[agentID] = q
	}
	return q
}

// DeleteQueue destroys a recipient's queue, called when an agent
// unregisters from the tree.
func (b *Bus) DeleteQueue(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.queues, agentID)
}

// Send appends a message to the recipient's queue, creating it lazily.
func (b *Bus) Send(from, to, content string, typ Type, priority Priority, metadata map[string]any) *Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	m := &Message{
		ID:        "msg_" + uuid.NewString()[:8],
		From:      from,
		To:        to,
		Content:   content,
		Type:      typ,
		Priority:  priority,
		Timestamp: time.Now(),
		Delivered: true,
		Metadata:  metadata,
		seq:       b.nextSeq,
	}
	b.nextSeq++

	q := b.createQueueLocked(to)
	heap.Push(&q.pending, &item{msg: m})
	q.all = append(q.all, m)
	b.history = append(b.history, m)
	return m
}

// Receive returns messages for agentID. With unreadOnly, only unread
// messages are returned, in priority order (highest first, FIFO within a
// priority tier); without it, the recipient's full history is returned in
// arrival order. markRead marks returned messages as read (removing them
// from future unread-only queries).
func (b *Bus) Receive(agentID string, unreadOnly, markRead bool) []*Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[agentID]
	if !ok {
		return nil
	}

	if !unreadOnly {
		out := make([]*Message, len(q.all))
		copy(out, q.all)
		if markRead {
			for _, m := range out {
				m.Read = true
			}
			q.pending = q.pending[:0]
		}
		return out
	}

	// Drain the pending heap in priority order.
	out := make([]*Message, 0, len(q.pending))
	if markRead {
		for q.pending.Len() > 0 {
			it := heap.Pop(&q.pending).(*item)
			it.msg.Read = true
			out = append(out, it.msg)
		}
		return out
	}
	for _, it := range q.pending {
		if !it.msg.Read {
			out = append(out, it.msg)
		}
	}
	// The heap slice is only partially ordered; sort the copy the same way
	// the heap pops.
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].seq < out[j].seq
	})
	return out
}

// HasUnread reports whether agentID has any unread messages.
func (b *Bus) HasUnread(agentID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[agentID]
	if !ok {
		return false
	}
	return q.pending.Len() > 0
}

// UnreadCount returns the number of unread messages for agentID.
func (b *Bus) UnreadCount(agentID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[agentID]
	if !ok {
		return 0
	}
	return q.pending.Len()
}

// SendUserMessage injects an operator instruction, defaulting to High
// priority, per the original Python's send_user_message.
func (b *Bus) SendUserMessage(to, content string) *Message {
	return b.Send("user", to, content, TypeInstruction, PriorityHigh, nil)
}

// ClearQueue empties a recipient's pending+history without deleting the
// queue itself.
func (b *Bus) ClearQueue(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[agentID]; ok {
		q.pending = nil
		q.all = nil
	}
}

// ClearAll resets the bus entirely.
func (b *Bus) ClearAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queues = map[string]*queue{}
	b.history = nil
}

// History returns up to limit most-recent messages, optionally filtered
// to those sent to or from agentID.
func (b *Bus) History(agentID string, limit int) []*Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	var filtered []*Message
	if agentID == "" {
		filtered = b.history
	} else {
		for _, m := range b.history {
			if m.From == agentID || m.To == agentID {
				filtered = append(filtered, m)
			}
		}
	}

	if limit <= 0 || limit >= len(filtered) {
		out := make([]*Message, len(filtered))
		copy(out, filtered)
		return out
	}
	out := make([]*Message, limit)
	copy(out, filtered[len(filtered)-limit:])
	return out
}
