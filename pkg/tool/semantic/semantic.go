// Package semantic wraps the external RAG/vector-index service as
// the rag_query, security_search, and
// function_context tools: thin HTTP clients that retrieve semantically
// relevant code snippets for an agent to reason over, the engine never
// owning or computing embeddings itself.
package semantic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/codeready-toolchain/secaudit/pkg/apperr"
	"github.com/codeready-toolchain/secaudit/pkg/tool"
)

// Result is one retrieved snippet in the retrieval service's wire shape.
type Result struct {
	FilePath           string   `json:"file_path"`
	LineStart          int      `json:"line_start"`
	LineEnd            int      `json:"line_end"`
	Content            string   `json:"content"`
	Language           string   `json:"language"`
	Score              float64  `json:"score"`
	SecurityIndicators []string `json:"security_indicators,omitempty"`
}

// Retriever is the external RAG service's retrieval contract.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int, filterFile, filterLanguage string) ([]Result, error)
}

// HTTPRetriever implements Retriever against a RAG service exposing a
// single JSON POST endpoint, the simplest shape every retrieval backend
// in the corpus (embedding servers, vector DBs fronted by a sidecar) can
// be made to expose.
type HTTPRetriever struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPRetriever builds a Retriever with a bounded request timeout.
func NewHTTPRetriever(baseURL string) *HTTPRetriever {
	return &HTTPRetriever{BaseURL: baseURL, Client: &http.Client{Timeout: 15 * time.Second}}
}

type retrieveRequest struct {
	Query          string `json:"query"`
	TopK           int    `json:"top_k"`
	FilterFile     string `json:"filter_file,omitempty"`
	FilterLanguage string `json:"filter_language,omitempty"`
}

func (c *HTTPRetriever) Retrieve(ctx context.Context, query string, topK int, filterFile, filterLanguage string) ([]Result, error) {
	body, err := json.Marshal(retrieveRequest{Query: query, TopK: topK, FilterFile: filterFile, FilterLanguage: filterLanguage})
	if err != nil {
		return nil, apperr.New(apperr.KindToolInputInvalid, "could not encode retrieval request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/retrieve", bytes.NewReader(body))
	if err != nil {
		return nil, apperr.New(apperr.KindToolExecution, "could not build RAG request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, apperr.New(apperr.KindToolExternal, "RAG service request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8*1024*1024))
	if err != nil {
		return nil, apperr.New(apperr.KindToolExecution, "could not read RAG response", err)
	}
	if resp.StatusCode >= 400 {
		return nil, apperr.New(apperr.KindToolExternal, fmt.Sprintf("RAG service returned status %d", resp.StatusCode), nil)
	}

	var results []Result
	if err := json.Unmarshal(raw, &results); err != nil {
		return nil, apperr.New(apperr.KindToolExecution, "could not parse RAG response", err)
	}
	return results, nil
}

func toData(results []Result) []map[string]any {
	out := make([]map[string]any, len(results))
	for i, r := range results {
		out[i] = map[string]any{
			"file_path": r.FilePath, "line_start": r.LineStart, "line_end": r.LineEnd,
			"content": r.Content, "language": r.Language, "score": r.Score,
			"security_indicators": r.SecurityIndicators,
		}
	}
	return out
}

func defaultTopK(v any) int {
	if f, ok := v.(float64); ok && f > 0 {
		return int(f)
	}
	return 5
}

// RagQuery is the rag_query tool: general semantic retrieval over the
// indexed codebase.
type RagQuery struct{ Retriever Retriever }

func (t *RagQuery) Name() string        { return "semantic.rag_query" }
func (t *RagQuery) Description() string { return "Semantically search the indexed codebase for text relevant to a natural-language query." }
func (t *RagQuery) Schema() string {
	return `{"type":"object","properties":{"text":{"type":"string"},"top_k":{"type":"integer","minimum":1,"maximum":50}},"required":["text"]}`
}

func (t *RagQuery) Execute(ctx context.Context, args map[string]any) (tool.Result, error) {
	text, _ := args["text"].(string)
	if text == "" {
		err := apperr.New(apperr.KindToolInputInvalid, "rag_query requires text", nil)
		return tool.Result{Success: false, Error: err.Error()}, err
	}
	results, err := t.Retriever.Retrieve(ctx, text, defaultTopK(args["top_k"]), "", "")
	if err != nil {
		return tool.Result{Success: false, Error: err.Error()}, err
	}
	return tool.Result{Success: true, Data: toData(results)}, nil
}

// SecuritySearch is the security_search tool: retrieval biased toward a
// named vulnerability class, for a RAG index built with security-aware
// ranking signals.
type SecuritySearch struct{ Retriever Retriever }

func (t *SecuritySearch) Name() string { return "semantic.security_search" }
func (t *SecuritySearch) Description() string {
	return "Semantically search the indexed codebase for code relevant to a named vulnerability class."
}
func (t *SecuritySearch) Schema() string {
	return `{"type":"object","properties":{"vuln_type":{"type":"string"},"top_k":{"type":"integer","minimum":1,"maximum":50}},"required":["vuln_type"]}`
}

func (t *SecuritySearch) Execute(ctx context.Context, args map[string]any) (tool.Result, error) {
	vulnType, _ := args["vuln_type"].(string)
	if vulnType == "" {
		err := apperr.New(apperr.KindToolInputInvalid, "security_search requires vuln_type", nil)
		return tool.Result{Success: false, Error: err.Error()}, err
	}
	query := "security vulnerability: " + vulnType
	results, err := t.Retriever.Retrieve(ctx, query, defaultTopK(args["top_k"]), "", "")
	if err != nil {
		return tool.Result{Success: false, Error: err.Error()}, err
	}
	return tool.Result{Success: true, Data: toData(results)}, nil
}

// FunctionContext is the function_context tool: retrieval scoped to the
// definition and call sites of a named function or method.
type FunctionContext struct{ Retriever Retriever }

func (t *FunctionContext) Name() string { return "semantic.function_context" }
func (t *FunctionContext) Description() string {
	return "Retrieve the definition and call sites of a named function or method from the indexed codebase."
}
func (t *FunctionContext) Schema() string {
	return `{"type":"object","properties":{"name":{"type":"string"}},"required":["name"]}`
}

func (t *FunctionContext) Execute(ctx context.Context, args map[string]any) (tool.Result, error) {
	name, _ := args["name"].(string)
	if name == "" {
		err := apperr.New(apperr.KindToolInputInvalid, "function_context requires name", nil)
		return tool.Result{Success: false, Error: err.Error()}, err
	}
	results, err := t.Retriever.Retrieve(ctx, "function "+name, 10, "", "")
	if err != nil {
		return tool.Result{Success: false, Error: err.Error()}, err
	}
	return tool.Result{Success: true, Data: toData(results)}, nil
}
