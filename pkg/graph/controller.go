package graph

import (
	"fmt"
	"strings"
	"sync"

	"github.com/codeready-toolchain/secaudit/pkg/apperr"
	"github.com/codeready-toolchain/secaudit/pkg/bus"
	"github.com/codeready-toolchain/secaudit/pkg/finding"
)

// FindingsProvider exposes the deduplicated finding set an investigation
// has collected. Satisfied by *orchestrator.Orchestrator.
type FindingsProvider interface {
	Findings() []finding.Finding
}

// AnnotatedFinding pairs a finding with the agent that discovered it, the
// shape collect_all_findings returns to the control plane.
type AnnotatedFinding struct {
	finding.Finding
	DiscoveredBy string
}

// NodeView is the JSON-friendly projection of a Node returned by
// AgentGraph, omitting the internal cancel func.
type NodeView struct {
	AgentID  string
	Name     string
	Role     string
	ParentID string
	Status   Status
	Depth    int
}

// Edge is one parent-child relationship in the agent tree.
type Edge struct {
	ParentID string
	ChildID  string
}

// Controller exposes the stop/collect/summarize control-plane operations
// over a running investigation's agent tree: the introspection and
// cancellation surface a CLI or HTTP API drives, layered on top of
// Registry's lower-level register/update/query primitives.
type Controller struct {
	registry *Registry
	findings FindingsProvider
	bus      *bus.Bus

	mu            sync.Mutex
	stopRequested map[string]bool
}

// NewController wires a Controller atop an investigation's shared
// registry, finding set, and message bus.
func NewController(registry *Registry, findings FindingsProvider, msgBus *bus.Bus) *Controller {
	return &Controller{
		registry:      registry,
		findings:      findings,
		bus:           msgBus,
		stopRequested: map[string]bool{},
	}
}

// StopAgent requests cancellation of a single agent and its subtree.
func (c *Controller) StopAgent(agentID string) error {
	if _, ok := c.registry.Get(agentID); !ok {
		return apperr.New(apperr.KindStateInvalidTrans, "unknown agent: "+agentID, nil)
	}
	c.markStopRequested(agentID)
	c.registry.CancelSubtree(agentID)
	return nil
}

// StopAll requests cancellation of every agent in the tree. When
// excludeRoot is true the root orchestrator itself is left running so it
// can observe its children winding down and report a final result.
func (c *Controller) StopAll(excludeRoot bool) error {
	root := c.registry.Root()
	if root == "" {
		return nil
	}
	if excludeRoot {
		for _, childID := range c.registry.Children(root) {
			c.markStopRequested(childID)
			c.registry.CancelSubtree(childID)
		}
		return nil
	}
	c.markStopRequested(root)
	c.registry.CancelSubtree(root)
	return nil
}

func (c *Controller) markStopRequested(agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopRequested[agentID] = true
	n, ok := c.registry.Get(agentID)
	if !ok {
		return
	}
	for _, childID := range n.Children() {
		c.markStopRequestedLocked(childID)
	}
}

func (c *Controller) markStopRequestedLocked(agentID string) {
	c.stopRequested[agentID] = true
	n, ok := c.registry.Get(agentID)
	if !ok {
		return
	}
	for _, childID := range n.Children() {
		c.markStopRequestedLocked(childID)
	}
}

// SendUserMessage injects an operator instruction into an agent's inbox.
func (c *Controller) SendUserMessage(to, text string) (*bus.Message, error) {
	if _, ok := c.registry.Get(to); !ok {
		return nil, apperr.New(apperr.KindStateInvalidTrans, "unknown agent: "+to, nil)
	}
	return c.bus.SendUserMessage(to, text), nil
}

// AgentGraph returns the tree as structured nodes and edges, plus a
// human-readable text tree rooted at current (or the investigation root
// if current is empty).
func (c *Controller) AgentGraph(current string) ([]NodeView, []Edge, string) {
	root := current
	if root == "" {
		root = c.registry.Root()
	}
	if root == "" {
		return nil, nil, ""
	}

	var nodes []NodeView
	var edges []Edge
	var walk func(agentID string, depth int)
	walk = func(agentID string, depth int) {
		n, ok := c.registry.Get(agentID)
		if !ok {
			return
		}
		nodes = append(nodes, NodeView{
			AgentID: n.AgentID, Name: n.Name, Role: n.Role,
			ParentID: n.ParentID, Status: n.Status, Depth: depth,
		})
		for _, childID := range n.Children() {
			edges = append(edges, Edge{ParentID: agentID, ChildID: childID})
			walk(childID, depth+1)
		}
	}
	walk(root, 0)

	var sb strings.Builder
	for _, nv := range nodes {
		sb.WriteString(strings.Repeat("  ", nv.Depth))
		fmt.Fprintf(&sb, "- %s (%s) [%s]\n", nv.Name, nv.Role, nv.Status)
	}

	return nodes, edges, sb.String()
}

// StatusSummary returns the count of agents in each lifecycle status
// across the whole tree.
func (c *Controller) StatusSummary() map[Status]int {
	return c.registry.Statistics().ByStatus
}

// ActiveAgents buckets every non-terminal agent (except excludeID, if
// set) into running, waiting, and stopping (cancellation requested but
// not yet observed by the agent's loop).
func (c *Controller) ActiveAgents(excludeID string) (running, waiting, stopping []string) {
	root := c.registry.Root()
	if root == "" {
		return nil, nil, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var walk func(agentID string)
	walk = func(agentID string) {
		n, ok := c.registry.Get(agentID)
		if !ok {
			return
		}
		if agentID != excludeID && !n.Status.Terminal() {
			switch {
			case c.stopRequested[agentID]:
				stopping = append(stopping, agentID)
			case n.Status == StatusWaiting:
				waiting = append(waiting, agentID)
			default:
				running = append(running, agentID)
			}
		}
		for _, childID := range n.Children() {
			walk(childID)
		}
	}
	walk(root)
	return running, waiting, stopping
}

// CollectAllFindings flattens the investigation's deduplicated finding
// set, annotating each with the agent that discovered it.
func (c *Controller) CollectAllFindings() []AnnotatedFinding {
	all := c.findings.Findings()
	out := make([]AnnotatedFinding, len(all))
	for i, f := range all {
		out[i] = AnnotatedFinding{Finding: f, DiscoveredBy: f.AgentID}
	}
	return out
}

// FindingsSummary returns counts of the investigation's findings by
// severity and by vulnerability type.
func (c *Controller) FindingsSummary() (bySeverity map[string]int, byType map[string]int) {
	bySeverity = map[string]int{}
	byType = map[string]int{}
	for _, f := range c.findings.Findings() {
		bySeverity[string(f.Severity)]++
		byType[f.VulnerabilityType]++
	}
	return bySeverity, byType
}

// Cleanup removes terminal leaf nodes from the tree, bounding memory use
// over a long-running investigation, and returns how many were removed.
func (c *Controller) Cleanup() int {
	return c.registry.CleanupFinished()
}
