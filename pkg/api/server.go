// Package api exposes the security auditor's control plane over HTTP: one
// endpoint to start an investigation, and the stop/collect/summarize
// surface of pkg/graph.Controller fronting each running task.
// Each handler returns the same JSON envelope the CLI's control-plane
// subcommands parse, so gin here and a thin HTTP client in cmd/secauditd
// agree on one wire shape.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codeready-toolchain/secaudit/pkg/events"
	"github.com/codeready-toolchain/secaudit/pkg/graph"
	"github.com/codeready-toolchain/secaudit/pkg/orchestrator"
)

// Envelope is the uniform JSON response shape every control-plane
// endpoint returns, success or failure.
type Envelope struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

// task is one investigation's live state: its own Orchestrator (and thus
// its own agent tree, message bus and finding set — see
// orchestrator.New), the Controller fronting it, and the outcome once
// Run returns.
type task struct {
	id    string
	orch  *orchestrator.Orchestrator
	ctrl  *graph.Controller
	task  string
	start time.Time

	mu     sync.Mutex
	done   bool
	result *orchestrator.Result
	err    error
}

// Server wires the HTTP surface atop a shared Orchestrator factory: every
// POST /tasks call gets a fresh Orchestrator instance (its own agent
// tree), so concurrent investigations never share mutable state beyond
// the LLM client, tool registry and resilience fabric baked into the
// factory closure.
type Server struct {
	newOrchestrator func() *orchestrator.Orchestrator
	publisher       *events.EventPublisher
	connManager     *events.ConnectionManager

	mu    sync.RWMutex
	tasks map[string]*task
}

// NewServer wires a Server. publisher and connManager may be nil, in
// which case timeline events are not persisted/broadcast and the
// websocket route is not registered.
func NewServer(newOrchestrator func() *orchestrator.Orchestrator, publisher *events.EventPublisher, connManager *events.ConnectionManager) *Server {
	return &Server{
		newOrchestrator: newOrchestrator,
		publisher:       publisher,
		connManager:     connManager,
		tasks:           map[string]*task{},
	}
}

// Routes registers every handler on router.
func (s *Server) Routes(router gin.IRouter) {
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/tasks", s.createTask)
	router.GET("/tasks/:task_id", s.getTask)
	router.POST("/tasks/:task_id/stop-all", s.stopAll)
	router.POST("/tasks/:task_id/agents/:agent_id/stop", s.stopAgent)
	router.POST("/tasks/:task_id/messages", s.sendMessage)
	router.GET("/tasks/:task_id/graph", s.viewGraph)
	router.GET("/tasks/:task_id/findings", s.findings)
	router.GET("/tasks/:task_id/findings/summary", s.findingsSummary)

	if s.connManager != nil {
		router.GET("/ws", s.serveWS)
	}
}

func ok(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Envelope{OK: true, Data: data})
}

func fail(c *gin.Context, status int, err error) {
	c.JSON(status, Envelope{OK: false, Error: err.Error()})
}

func (s *Server) lookup(c *gin.Context) (*task, bool) {
	s.mu.RLock()
	t, found := s.tasks[c.Param("task_id")]
	s.mu.RUnlock()
	if !found {
		fail(c, http.StatusNotFound, errTaskNotFound(c.Param("task_id")))
		return nil, false
	}
	return t, true
}

type createTaskRequest struct {
	Task string `json:"task" binding:"required"`
}

// createTask starts a new investigation and returns its task_id
// immediately; the investigation runs to completion in the background
// and is polled via GET /tasks/:task_id.
func (s *Server) createTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}

	orch := s.newOrchestrator()
	t := &task{
		id:    "t_" + uuid.NewString()[:12],
		orch:  orch,
		ctrl:  graph.NewController(orch.Registry, orch, orch.Bus),
		task:  req.Task,
		start: time.Now(),
	}

	s.mu.Lock()
	s.tasks[t.id] = t
	s.mu.Unlock()

	go s.run(t)

	c.JSON(http.StatusAccepted, Envelope{OK: true, Data: gin.H{"task_id": t.id, "status": "running"}})
}

// run drives the investigation to completion and publishes its terminal
// status; it is the background half of createTask.
func (s *Server) run(t *task) {
	result, err := t.orch.Run(context.Background(), t.task)

	t.mu.Lock()
	t.done = true
	t.result = result
	t.err = err
	t.mu.Unlock()

	if s.publisher == nil {
		return
	}
	status := "completed"
	if err != nil {
		status = "failed"
	}
	payload := events.AgentStatusPayload{
		Type:      events.EventTypeAgentStatus,
		TaskID:    t.id,
		Status:    status,
		Timestamp: time.Now().Format(time.RFC3339Nano),
	}
	if pubErr := s.publisher.PublishAgentStatus(context.Background(), t.id, payload); pubErr != nil {
		slog.Warn("failed to publish task completion", "task_id", t.id, "error", pubErr)
	}
}

func (s *Server) getTask(c *gin.Context) {
	t, found := s.lookup(c)
	if !found {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.done {
		ok(c, gin.H{"task_id": t.id, "status": "running", "elapsed": time.Since(t.start).String()})
		return
	}
	if t.err != nil {
		ok(c, gin.H{"task_id": t.id, "status": "failed", "error": t.err.Error()})
		return
	}
	ok(c, gin.H{"task_id": t.id, "status": "completed", "result": t.result})
}

func (s *Server) stopAll(c *gin.Context) {
	t, found := s.lookup(c)
	if !found {
		return
	}
	excludeRoot := c.Query("exclude_root") == "true"
	if err := t.ctrl.StopAll(excludeRoot); err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	ok(c, gin.H{"stopped": true})
}

func (s *Server) stopAgent(c *gin.Context) {
	t, found := s.lookup(c)
	if !found {
		return
	}
	if err := t.ctrl.StopAgent(c.Param("agent_id")); err != nil {
		fail(c, http.StatusNotFound, err)
		return
	}
	ok(c, gin.H{"stopped": true, "agent_id": c.Param("agent_id")})
}

type sendMessageRequest struct {
	To   string `json:"to" binding:"required"`
	Text string `json:"text" binding:"required"`
}

func (s *Server) sendMessage(c *gin.Context) {
	t, found := s.lookup(c)
	if !found {
		return
	}
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	msg, err := t.ctrl.SendUserMessage(req.To, req.Text)
	if err != nil {
		fail(c, http.StatusNotFound, err)
		return
	}
	ok(c, msg)
}

func (s *Server) viewGraph(c *gin.Context) {
	t, found := s.lookup(c)
	if !found {
		return
	}
	nodes, edges, text := t.ctrl.AgentGraph(c.Query("current"))
	ok(c, gin.H{"nodes": nodes, "edges": edges, "tree": text})
}

func (s *Server) findings(c *gin.Context) {
	t, found := s.lookup(c)
	if !found {
		return
	}
	ok(c, t.ctrl.CollectAllFindings())
}

func (s *Server) findingsSummary(c *gin.Context) {
	t, found := s.lookup(c)
	if !found {
		return
	}
	bySeverity, byType := t.ctrl.FindingsSummary()
	ok(c, gin.H{"by_severity": bySeverity, "by_type": byType})
}

func (s *Server) serveWS(c *gin.Context) {
	conn, err := acceptWS(c.Writer, c.Request)
	if err != nil {
		return
	}
	s.connManager.HandleConnection(c.Request.Context(), conn)
}
