// Package checkpoint persists versioned, JSON-serialized snapshots of an
// agent's conversation state so an investigation can resume after a
// crash or a cancelled run instead of restarting a dispatched sub-agent
// from scratch. A thin struct around *ent.Client: every call is bounded
// by its own context timeout so a slow database can't stall an agent's
// iteration loop.
package checkpoint

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/secaudit/ent"
	entagent "github.com/codeready-toolchain/secaudit/ent/agent"
	"github.com/codeready-toolchain/secaudit/ent/checkpoint"
)

// Store persists and retrieves agent checkpoints.
type Store struct {
	client *ent.Client
}

// New wraps an ent client for checkpoint persistence.
func New(client *ent.Client) *Store {
	return &Store{client: client}
}

// AgentRecord is the durable mirror of one pkg/graph.Registry node,
// written once per dispatched agent so its Checkpoint rows have an Agent
// row for their required edge to point at; pkg/graph.Registry remains the
// authoritative in-memory tree for a running investigation (see
// ent/schema/agent.go), this is its durable record.
type AgentRecord struct {
	ID            string
	TaskID        string
	CorrelationID string
	ParentAgentID string // empty for the root orchestrator
	Name          string
	Role          string
	Depth         int
	Task          string
}

// EnsureAgent persists the durable Agent row for a newly dispatched
// agent. Called once per agent before its first Save; a duplicate call
// for the same ID (e.g. a reused sub-agent instance being re-invoked) is
// treated as already-satisfied rather than an error.
func (s *Store) EnsureAgent(ctx context.Context, rec AgentRecord) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	create := s.client.Agent.Create().
		SetID(rec.ID).
		SetTaskID(rec.TaskID).
		SetCorrelationID(rec.CorrelationID).
		SetName(rec.Name).
		SetRole(entagent.Role(rec.Role)).
		SetDepth(rec.Depth).
		SetTask(rec.Task)
	if rec.ParentAgentID != "" {
		create = create.SetParentAgentID(rec.ParentAgentID)
	}

	if _, err := create.Save(ctx); err != nil {
		if ent.IsConstraintError(err) {
			return nil
		}
		return fmt.Errorf("failed to persist agent record %s: %w", rec.ID, err)
	}
	return nil
}

// UpdateAgentStatus records a dispatched agent's current lifecycle
// status, iteration count and (once terminal) final analysis text,
// stamping completed_at for any terminal status.
func (s *Store) UpdateAgentStatus(ctx context.Context, agentID, status string, iterations int, analysis string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	update := s.client.Agent.UpdateOneID(agentID).
		SetStatus(entagent.Status(status)).
		SetIterations(iterations)
	if analysis != "" {
		update = update.SetAnalysis(analysis)
	}
	if status == "completed" || status == "failed" || status == "cancelled" {
		update = update.SetCompletedAt(time.Now())
	}
	if _, err := update.Save(ctx); err != nil {
		return fmt.Errorf("failed to update agent status for %s: %w", agentID, err)
	}
	return nil
}

// Save records a new versioned snapshot for agentID. version should be
// monotonically increasing per agent (callers typically pass the agent's
// loop iteration number) so Latest can return the most advanced state.
func (s *Store) Save(ctx context.Context, agentID string, version int, snapshot map[string]interface{}) (*ent.Checkpoint, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cp, err := s.client.Checkpoint.Create().
		SetID(uuid.New().String()).
		SetAgentID(agentID).
		SetVersion(version).
		SetSnapshot(snapshot).
		Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to save checkpoint for agent %s: %w", agentID, err)
	}
	return cp, nil
}

// Latest returns the most recently taken checkpoint for agentID, or nil
// if none exists yet.
func (s *Store) Latest(ctx context.Context, agentID string) (*ent.Checkpoint, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cp, err := s.client.Checkpoint.Query().
		Where(checkpoint.AgentID(agentID)).
		Order(ent.Desc(checkpoint.FieldTakenAt)).
		First(ctx)
	if ent.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest checkpoint for agent %s: %w", agentID, err)
	}
	return cp, nil
}

// History returns every checkpoint taken for agentID, oldest first.
func (s *Store) History(ctx context.Context, agentID string) ([]*ent.Checkpoint, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cps, err := s.client.Checkpoint.Query().
		Where(checkpoint.AgentID(agentID)).
		Order(ent.Asc(checkpoint.FieldTakenAt)).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint history for agent %s: %w", agentID, err)
	}
	return cps, nil
}

// Prune deletes all but the N most recent checkpoints for agentID,
// keeping checkpoint storage bounded over a long-running investigation.
func (s *Store) Prune(ctx context.Context, agentID string, keep int) (int, error) {
	if keep <= 0 {
		return 0, fmt.Errorf("keep must be positive")
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	all, err := s.client.Checkpoint.Query().
		Where(checkpoint.AgentID(agentID)).
		Order(ent.Desc(checkpoint.FieldTakenAt)).
		All(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list checkpoints for agent %s: %w", agentID, err)
	}
	if len(all) <= keep {
		return 0, nil
	}

	stale := all[keep:]
	ids := make([]string, len(stale))
	for i, cp := range stale {
		ids[i] = cp.ID
	}
	n, err := s.client.Checkpoint.Delete().
		Where(checkpoint.IDIn(ids...)).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to prune checkpoints for agent %s: %w", agentID, err)
	}
	return n, nil
}
