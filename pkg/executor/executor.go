// Package executor runs a batch of interdependent tasks — tool calls or
// agent dispatches that can run in parallel once their dependencies are
// satisfied — to completion, bounded by a concurrency cap. Readiness is
// tracked with a Kahn's-algorithm topological sort; tasks with no
// outstanding dependency are fed into a priority-ordered ready queue (the
// same container/heap shape pkg/bus uses for its per-agent message queues)
// so that among several tasks free to run, higher-priority ones are
// dispatched to a free worker first. No third-party DAG or priority-queue
// library in the retrieval corpus fit this one-off in-memory scheduler, so
// it is implemented directly against the standard library (see DESIGN.md).
package executor

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/codeready-toolchain/secaudit/pkg/apperr"
)

// Priority orders which ready task a free worker picks up next. Tasks tied
// on priority run in the order they became ready.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

// Task is one unit of work in a dependency batch. ID must be unique within
// a single Execute call. DependsOn lists task IDs that must complete
// (successfully or not — a failed dependency still unblocks downstream
// tasks, see Result.Skipped) before Run is invoked.
type Task struct {
	ID        string
	DependsOn []string
	Priority  Priority
	Timeout   time.Duration
	Run       func(ctx context.Context) (any, error)
}

// Result is one task's outcome.
type Result struct {
	ID      string
	Value   any
	Err     error
	Skipped bool // true when a dependency failed and this task was never run
}

// Executor runs Task batches with bounded concurrency.
type Executor struct {
	Concurrency int
}

// New returns an Executor with the given concurrency cap; a non-positive
// cap defaults to 4.
func New(concurrency int) *Executor {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Executor{Concurrency: concurrency}
}

// readyItem is one task waiting in the heap for a free worker.
type readyItem struct {
	id       string
	priority Priority
	seq      int // insertion order, breaks priority ties FIFO
	index    int
}

type readyQueue []*readyItem

func (q readyQueue) Len() int { return len(q) }
func (q readyQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority > q[j].priority
	}
	return q[i].seq < q[j].seq
}
func (q readyQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index, q[j].index = i, j
}
func (q *readyQueue) Push(x any) {
	it := x.(*readyItem)
	it.index = len(*q)
	*q = append(*q, it)
}
func (q *readyQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return it
}

// Execute runs every task in tasks, respecting DependsOn edges and
// Priority among tasks simultaneously ready, and returns each task's
// Result keyed by ID. It returns an error only for batch-level problems
// (cycle detection, unknown dependency); individual task failures are
// reported in the per-task Result, not as a call error.
func (e *Executor) Execute(ctx context.Context, tasks []Task) (map[string]Result, error) {
	if len(tasks) == 0 {
		return map[string]Result{}, nil
	}

	byID := make(map[string]Task, len(tasks))
	indegree := make(map[string]int, len(tasks))
	dependents := make(map[string][]string, len(tasks))

	for _, t := range tasks {
		if _, dup := byID[t.ID]; dup {
			return nil, apperr.New(apperr.KindValidationInput, "duplicate task id: "+t.ID, nil)
		}
		byID[t.ID] = t
		indegree[t.ID] = len(t.DependsOn)
	}
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			if _, ok := byID[dep]; !ok {
				return nil, apperr.New(apperr.KindValidationInput, fmt.Sprintf("task %q depends on unknown task %q", t.ID, dep), nil)
			}
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}

	results := make(map[string]Result, len(tasks))

	var mu sync.Mutex // guards results, indegree, dependents traversal and the ready heap
	ready := &readyQueue{}
	heap.Init(ready)
	nextSeq := 0
	remaining := len(tasks)
	notEmpty := sync.NewCond(&mu)

	enqueueLocked := func(id string) {
		nextSeq++
		heap.Push(ready, &readyItem{id: id, priority: byID[id].Priority, seq: nextSeq})
		notEmpty.Signal()
	}

	active := 0 // tasks popped from the ready queue but not yet finished

	mu.Lock()
	for id, deg := range indegree {
		if deg == 0 {
			delete(indegree, id)
			enqueueLocked(id)
		}
	}
	mu.Unlock()

	workers := e.Concurrency
	if workers > len(tasks) {
		workers = len(tasks)
	}
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for {
				mu.Lock()
				for ready.Len() == 0 && active == 0 && remaining > 0 {
					// No ready task and nothing in flight to unblock one:
					// the remaining tasks form a dependency cycle. Stop
					// waiting so Execute can report it instead of hanging.
					mu.Unlock()
					return
				}
				for ready.Len() == 0 && active > 0 && remaining > 0 {
					notEmpty.Wait()
				}
				if remaining == 0 || ready.Len() == 0 {
					mu.Unlock()
					return
				}
				it := heap.Pop(ready).(*readyItem)
				t := byID[it.id]
				active++
				mu.Unlock()

				res := e.runOne(ctx, t, results, &mu)

				mu.Lock()
				active--
				results[t.ID] = res
				remaining--
				for _, childID := range dependents[t.ID] {
					indegree[childID]--
					if indegree[childID] == 0 {
						delete(indegree, childID)
						enqueueLocked(childID)
					}
				}
				if remaining == 0 || (ready.Len() == 0 && active == 0) {
					notEmpty.Broadcast()
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(results) != len(tasks) {
		return results, apperr.New(apperr.KindStateInvalidTrans, "dependency cycle detected in task batch", nil)
	}
	return results, nil
}

// runOne executes a single task, marking it Skipped if any of its
// dependencies failed rather than running it against a partial result set.
func (e *Executor) runOne(ctx context.Context, t Task, results map[string]Result, mu *sync.Mutex) Result {
	mu.Lock()
	for _, dep := range t.DependsOn {
		if r, ok := results[dep]; ok && (r.Err != nil || r.Skipped) {
			mu.Unlock()
			return Result{ID: t.ID, Skipped: true}
		}
	}
	mu.Unlock()

	runCtx := ctx
	var cancel context.CancelFunc
	if t.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}

	value, err := t.Run(runCtx)
	return Result{ID: t.ID, Value: value, Err: err}
}
