// Package graph implements the agent registry and dynamic agent tree:
// register/update/query operations over a parent-child tree with exactly
// one root, cancellation propagation down a subtree, and a per-child-name
// dispatch-count cap that bounds how many sub-agents of a given name an
// orchestrator may spawn over the registry's lifetime.
package graph

import (
	"context"
	"sync"

	"github.com/codeready-toolchain/secaudit/pkg/apperr"
)

// Status is an agent's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusWaiting   Status = "waiting"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is a terminal state (no further transitions).
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Node is one agent in the tree.
type Node struct {
	AgentID  string
	Name     string
	Role     string
	ParentID string
	Status   Status

	Result any // set once the agent reaches a terminal state

	children []string
	cancel   context.CancelFunc
}

// Children returns a copy of the node's child agent ids.
func (n Node) Children() []string {
	out := make([]string, len(n.children))
	copy(out, n.children)
	return out
}

// Statistics summarizes the current tree: total node count, a count per
// lifecycle status, and the tree's maximum depth from the root.
type Statistics struct {
	Total     int
	ByStatus  map[Status]int
	MaxDepth  int
}

// Registry is the thread-safe agent tree for one task.
type Registry struct {
	mu            sync.Mutex
	nodes         map[string]*Node
	root          string
	dispatchCount map[string]int // keyed by child agent name only, not per task
}

func NewRegistry() *Registry {
	return &Registry{
		nodes:         map[string]*Node{},
		dispatchCount: map[string]int{},
	}
}

// Register adds a new node to the tree. The first registration with an
// empty ParentID becomes the root; a second root registration is an error.
func (r *Registry) Register(agentID, name, role, parentID string, cancel context.CancelFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.nodes[agentID]; exists {
		return apperr.New(apperr.KindStateInvalidTrans, "agent already registered: "+agentID, nil)
	}

	if parentID == "" {
		if r.root != "" {
			return apperr.New(apperr.KindStateInvalidTrans, "tree already has a root: "+r.root, nil)
		}
		r.root = agentID
	} else {
		parent, ok := r.nodes[parentID]
		if !ok {
			return apperr.New(apperr.KindStateInvalidTrans, "unknown parent: "+parentID, nil)
		}
		parent.children = append(parent.children, agentID)
	}

	r.nodes[agentID] = &Node{
		AgentID: agentID, Name: name, Role: role, ParentID: parentID,
		Status: StatusPending, cancel: cancel,
	}
	return nil
}

// UpdateStatus transitions a node's status. A terminal status accepts a
// result payload (the agent's ExecutionResult or equivalent).
func (r *Registry) UpdateStatus(agentID string, status Status, result any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.nodes[agentID]
	if !ok {
		return apperr.New(apperr.KindStateInvalidTrans, "unknown agent: "+agentID, nil)
	}
	if n.Status.Terminal() {
		return apperr.New(apperr.KindStateInvalidTrans, "agent already terminal: "+agentID, nil)
	}
	n.Status = status
	if status.Terminal() && result != nil {
		n.Result = result
	}
	return nil
}

// Get returns a copy of the node (without the private children slice
// internals exposed directly — use Children()).
func (r *Registry) Get(agentID string) (Node, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[agentID]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// Children returns the direct children of agentID.
func (r *Registry) Children(agentID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[agentID]
	if !ok {
		return nil
	}
	return n.Children()
}

// Parent returns the parent agent id, or "" if agentID is the root or
// unknown.
func (r *Registry) Parent(agentID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[agentID]
	if !ok {
		return ""
	}
	return n.ParentID
}

// Root returns the root agent id, or "" if nothing has been registered.
func (r *Registry) Root() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.root
}

// Statistics computes aggregate counts across the whole tree.
func (r *Registry) Statistics() Statistics {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := Statistics{ByStatus: map[Status]int{}}
	stats.Total = len(r.nodes)
	for _, n := range r.nodes {
		stats.ByStatus[n.Status]++
	}
	if r.root != "" {
		stats.MaxDepth = r.depthOf(r.root, 0)
	}
	return stats
}

func (r *Registry) depthOf(agentID string, depth int) int {
	n, ok := r.nodes[agentID]
	if !ok {
		return depth
	}
	max := depth
	for _, childID := range n.children {
		if d := r.depthOf(childID, depth+1); d > max {
			max = d
		}
	}
	return max
}

// Clear removes every node from the tree.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes = map[string]*Node{}
	r.root = ""
	r.dispatchCount = map[string]int{}
}

// CleanupFinished removes terminal leaf nodes (agents with no children,
// or whose children are themselves all removed already) so long-running
// tasks don't accumulate unbounded tree state.
func (r *Registry) CleanupFinished() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, n := range r.nodes {
		if id == r.root {
			continue
		}
		if n.Status.Terminal() && len(n.children) == 0 {
			if parent, ok := r.nodes[n.ParentID]; ok {
				parent.children = removeID(parent.children, id)
			}
			delete(r.nodes, id)
			removed++
		}
	}
	return removed
}

func removeID(ids []string, target string) []string {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

// CancelSubtree calls the stored cancel func for agentID and every
// descendant, top-down, so in-flight work throughout the subtree observes
// ctx.Done() without waiting on its parent to notice first.
func (r *Registry) CancelSubtree(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelSubtreeLocked(agentID)
}

func (r *Registry) cancelSubtreeLocked(agentID string) {
	n, ok := r.nodes[agentID]
	if !ok {
		return
	}
	if n.cancel != nil {
		n.cancel()
	}
	for _, childID := range n.children {
		r.cancelSubtreeLocked(childID)
	}
}

// ReserveDispatch enforces a per-child-name dispatch cap: at most cap
// sub-agents of the same name may be dispatched. A reservation is not
// released when the child finishes; only Clear resets the counts. Keyed
// on agent name only (not task text) — see DESIGN.md for
// why this is intentional rather than a gap.
func (r *Registry) ReserveDispatch(childName string, cap int) (count int, allowed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count = r.dispatchCount[childName]
	if count >= cap {
		return count, false
	}
	r.dispatchCount[childName] = count + 1
	return count + 1, true
}
