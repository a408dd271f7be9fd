// Package tool implements the uniform tool contract every agent-callable
// capability follows: a name, a description, a JSON Schema for arguments,
// and an Execute(args) -> Result call validated against that schema.
package tool

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/codeready-toolchain/secaudit/pkg/apperr"
)

// Result is the outcome of a tool call.
type Result struct {
	Success    bool
	Data       any
	Error      string
	DurationMS int64
	Metadata   map[string]any
}

// Definition describes a tool for inclusion in an LLM prompt's tool list.
type Definition struct {
	Name        string // "server.tool" form, e.g. "scanner.semgrep_scan"
	Description string
	Schema      string // JSON Schema text for the arguments object
}

// Tool is the uniform executable contract every concrete tool implements.
type Tool interface {
	Name() string
	Description() string
	Schema() string
	Execute(ctx context.Context, args map[string]any) (Result, error)
}

// Registry holds every tool available to agents in a task, keyed by its
// full server.tool name (e.g. "fileset.read_file").
type Registry struct {
	mu        sync.RWMutex
	tools     map[string]Tool
	validated map[string]*jsonschema.Schema
}

func NewRegistry() *Registry {
	return &Registry{
		tools:     map[string]Tool{},
		validated: map[string]*jsonschema.Schema{},
	}
}

// Register adds t to the registry, compiling its argument schema. Returns
// an error if the schema does not compile or the name is already taken.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[t.Name()]; exists {
		return apperr.New(apperr.KindToolNotFound, fmt.Sprintf("tool %q already registered", t.Name()), nil)
	}

	if schemaText := t.Schema(); schemaText != "" {
		compiler := jsonschema.NewCompiler()
		resourceURL := "inline://" + t.Name() + ".json"
		if err := compiler.AddResource(resourceURL, strings.NewReader(schemaText)); err != nil {
			return apperr.New(apperr.KindToolInputInvalid, fmt.Sprintf("tool %q has invalid schema: %v", t.Name(), err), err)
		}
		schema, err := compiler.Compile(resourceURL)
		if err != nil {
			return apperr.New(apperr.KindToolInputInvalid, fmt.Sprintf("tool %q schema failed to compile: %v", t.Name(), err), err)
		}
		r.validated[t.Name()] = schema
	}

	r.tools[t.Name()] = t
	return nil
}

// Get returns the tool registered under name, if any.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns definitions for every registered tool, for inclusion in an
// agent's prompt.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, Definition{Name: t.Name(), Description: t.Description(), Schema: t.Schema()})
	}
	return defs
}

// Execute validates args against the tool's schema (if any) and runs it,
// wrapping the call duration into the returned Result.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (Result, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	schema := r.validated[name]
	r.mu.RUnlock()

	if !ok {
		return Result{}, apperr.New(apperr.KindToolNotFound, fmt.Sprintf("unknown tool %q", name), nil)
	}

	if schema != nil {
		if err := schema.Validate(map[string]any(args)); err != nil {
			return Result{Success: false, Error: err.Error()},
				apperr.New(apperr.KindToolInputInvalid, fmt.Sprintf("invalid arguments for %q: %v", name, err), err)
		}
	}

	start := time.Now()
	res, err := t.Execute(ctx, args)
	res.DurationMS = time.Since(start).Milliseconds()
	if err != nil {
		res.Success = false
		if res.Error == "" {
			res.Error = err.Error()
		}
		return res, err
	}
	return res, nil
}
