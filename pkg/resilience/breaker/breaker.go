// Package breaker implements a per-resource circuit breaker: a
// Closed/Open/Half-Open state machine that trips after a run of
// failures, holds the circuit open for a recovery timeout, then admits a
// trial run of calls before closing again. Stats are exposed via
// prometheus/client_golang.
package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/codeready-toolchain/secaudit/pkg/apperr"
)

// State is one of Closed, Open or HalfOpen.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

// Config tunes the breaker's thresholds.
type Config struct {
	FailureThreshold int
	SuccessThreshold int
	RecoveryTimeout  time.Duration
	HalfOpenMaxCalls int
	// ExcludedKinds are not counted as failures (e.g. input validation
	// errors that say nothing about the resource's health).
	ExcludedKinds map[apperr.Kind]bool
}

// DefaultConfig returns sensible breaker thresholds for an external
// dependency call.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 3,
		RecoveryTimeout:  30 * time.Second,
		HalfOpenMaxCalls: 3,
	}
}

// Stats are the breaker's exposed counters.
type Stats struct {
	TotalCalls          int64
	SuccessfulCalls      int64
	FailedCalls          int64
	RejectedCalls        int64
	ConsecutiveFailures  int64
	ConsecutiveSuccesses int64
	LastFailureTime      time.Time
}

func (s Stats) FailureRate() float64 {
	if s.TotalCalls == 0 {
		return 0
	}
	return float64(s.FailedCalls) / float64(s.TotalCalls)
}

// Breaker guards calls to one named resource.
type Breaker struct {
	name   string
	cfg    Config
	mu     sync.Mutex
	state  State
	stats  Stats
	halfOpenCalls   int
	lastStateChange time.Time

	metricState *prometheus.GaugeVec
	metricCalls *prometheus.CounterVec
}

// New creates a Breaker. metrics may be nil to skip Prometheus registration.
func New(name string, cfg Config, metrics *Metrics) *Breaker {
	b := &Breaker{
		name:            name,
		cfg:             cfg,
		state:           Closed,
		lastStateChange: time.Now(),
	}
	if metrics != nil {
		b.metricState = metrics.state
		b.metricCalls = metrics.calls
	}
	return b
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

func (b *Breaker) transitionTo(s State) {
	if b.state == s {
		return
	}
	b.state = s
	b.lastStateChange = time.Now()
	switch s {
	case HalfOpen:
		b.halfOpenCalls = 0
	case Closed:
		b.stats = Stats{}
	}
	if b.metricState != nil {
		b.metricState.WithLabelValues(b.name).Set(stateValue(s))
	}
}

func stateValue(s State) float64 {
	switch s {
	case Closed:
		return 0
	case HalfOpen:
		return 1
	default:
		return 2
	}
}

// checkState decides whether a call may proceed, advancing Open->HalfOpen
// once the recovery timeout has elapsed.
func (b *Breaker) checkState() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if time.Since(b.lastStateChange) >= b.cfg.RecoveryTimeout {
			b.transitionTo(HalfOpen)
			return true
		}
		b.stats.RejectedCalls++
		return false
	case HalfOpen:
		if b.halfOpenCalls < b.cfg.HalfOpenMaxCalls {
			b.halfOpenCalls++
			return true
		}
		b.stats.RejectedCalls++
		return false
	}
	return false
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stats.TotalCalls++
	b.stats.SuccessfulCalls++
	b.stats.ConsecutiveSuccesses++
	b.stats.ConsecutiveFailures = 0
	if b.metricCalls != nil {
		b.metricCalls.WithLabelValues(b.name, "success").Inc()
	}
	if b.state == HalfOpen && b.stats.ConsecutiveSuccesses >= int64(b.cfg.SuccessThreshold) {
		b.transitionTo(Closed)
	}
}

func (b *Breaker) onFailure(err error) {
	if kind, ok := apperr.KindOf(err); ok && b.cfg.ExcludedKinds[kind] {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stats.TotalCalls++
	b.stats.FailedCalls++
	b.stats.ConsecutiveFailures++
	b.stats.ConsecutiveSuccesses = 0
	b.stats.LastFailureTime = time.Now()
	if b.metricCalls != nil {
		b.metricCalls.WithLabelValues(b.name, "failure").Inc()
	}

	switch b.state {
	case Closed:
		if b.stats.ConsecutiveFailures >= int64(b.cfg.FailureThreshold) {
			b.transitionTo(Open)
		}
	case HalfOpen:
		b.transitionTo(Open)
	}
}

// Call executes op guarded by the breaker.
func (b *Breaker) Call(ctx context.Context, op func(ctx context.Context) error) error {
	if !b.checkState() {
		return apperr.New(apperr.KindResourceCircuit, "circuit open for "+b.name, nil)
	}
	err := op(ctx)
	if err != nil {
		b.onFailure(err)
		return err
	}
	b.onSuccess()
	return nil
}

// Reset forces the breaker back to Closed with fresh stats.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionTo(Closed)
	b.stats = Stats{}
}

// Status is a serializable snapshot of a breaker's state and stats.
type Status struct {
	Name         string        `json:"name"`
	State        State         `json:"state"`
	Stats        Stats         `json:"stats"`
	TimeInState  time.Duration `json:"time_in_state"`
}

func (b *Breaker) GetStatus() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{
		Name:        b.name,
		State:       b.state,
		Stats:       b.stats,
		TimeInState: time.Since(b.lastStateChange),
	}
}

// Registry keeps a named set of breakers, one per protected resource.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	defaults Config
	metrics  *Metrics
}

func NewRegistry(defaults Config, metrics *Metrics) *Registry {
	return &Registry{breakers: map[string]*Breaker{}, defaults: defaults, metrics: metrics}
}

func (r *Registry) GetOrCreate(name string, cfg *Config) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	c := r.defaults
	if cfg != nil {
		c = *cfg
	}
	b := New(name, c, r.metrics)
	r.breakers[name] = b
	return b
}

func (r *Registry) Get(name string) (*Breaker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[name]
	return b, ok
}

func (r *Registry) AllStatus() map[string]Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Status, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.GetStatus()
	}
	return out
}

// LLM returns (creating if needed) the named-registry breaker for the
// LLM client.
func (r *Registry) LLM() *Breaker {
	return r.GetOrCreate("llm", &Config{FailureThreshold: 5, SuccessThreshold: 3, RecoveryTimeout: 30 * time.Second, HalfOpenMaxCalls: 3})
}

// Tool returns the named breaker for an external tool.
func (r *Registry) Tool(toolName string) *Breaker {
	return r.GetOrCreate("tool_"+toolName, &Config{FailureThreshold: 3, SuccessThreshold: 3, RecoveryTimeout: 60 * time.Second, HalfOpenMaxCalls: 3})
}

// Metrics holds the Prometheus collectors shared across breakers in a
// registry; register once with prometheus.Registerer.
type Metrics struct {
	state *prometheus.GaugeVec
	calls *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "secaudit",
			Subsystem: "breaker",
			Name:      "state",
			Help:      "Circuit breaker state (0=closed,1=half_open,2=open).",
		}, []string{"name"}),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "secaudit",
			Subsystem: "breaker",
			Name:      "calls_total",
			Help:      "Circuit breaker calls by outcome.",
		}, []string{"name", "outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.state, m.calls)
	}
	return m
}
