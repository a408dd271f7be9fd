package semantic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRetriever struct {
	lastQuery string
	lastTopK  int
	results   []Result
	err       error
}

func (f *fakeRetriever) Retrieve(ctx context.Context, query string, topK int, filterFile, filterLanguage string) ([]Result, error) {
	f.lastQuery = query
	f.lastTopK = topK
	return f.results, f.err
}

func TestRagQueryRequiresText(t *testing.T) {
	tl := &RagQuery{Retriever: &fakeRetriever{}}
	result, err := tl.Execute(context.Background(), map[string]any{})
	require.Error(t, err)
	assert.False(t, result.Success)
}

func TestRagQueryReturnsResults(t *testing.T) {
	retriever := &fakeRetriever{results: []Result{{FilePath: "a.py", LineStart: 1, Score: 0.9}}}
	tl := &RagQuery{Retriever: retriever}

	result, err := tl.Execute(context.Background(), map[string]any{"text": "auth bypass"})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "auth bypass", retriever.lastQuery)
	assert.Equal(t, 5, retriever.lastTopK)
	assert.Len(t, result.Data, 1)
}

func TestSecuritySearchBiasesQueryTowardVulnType(t *testing.T) {
	retriever := &fakeRetriever{}
	tl := &SecuritySearch{Retriever: retriever}

	_, err := tl.Execute(context.Background(), map[string]any{"vuln_type": "sql_injection"})
	require.NoError(t, err)
	assert.Contains(t, retriever.lastQuery, "sql_injection")
}

func TestFunctionContextRequiresName(t *testing.T) {
	tl := &FunctionContext{Retriever: &fakeRetriever{}}
	_, err := tl.Execute(context.Background(), map[string]any{})
	require.Error(t, err)
}

func TestFunctionContextQueriesByName(t *testing.T) {
	retriever := &fakeRetriever{}
	tl := &FunctionContext{Retriever: retriever}

	_, err := tl.Execute(context.Background(), map[string]any{"name": "sanitize_input"})
	require.NoError(t, err)
	assert.Contains(t, retriever.lastQuery, "sanitize_input")
}

func TestRetrieveErrorPropagates(t *testing.T) {
	retriever := &fakeRetriever{err: assertErr{}}
	tl := &RagQuery{Retriever: retriever}

	result, err := tl.Execute(context.Background(), map[string]any{"text": "x"})
	require.Error(t, err)
	assert.False(t, result.Success)
}

type assertErr struct{}

func (assertErr) Error() string { return "retrieval failed" }
