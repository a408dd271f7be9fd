package report

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	execctx "github.com/codeready-toolchain/secaudit/pkg/agent/exec"
	"github.com/codeready-toolchain/secaudit/pkg/finding"
)

type stubSink struct {
	added []finding.Finding
	isNew bool
}

func (s *stubSink) Add(f finding.Finding) bool {
	s.added = append(s.added, f)
	return s.isNew
}

func withContext() context.Context {
	return execctx.WithContext(context.Background(), execctx.New("corr-1", "task-1", "analysis-1", "analysis-1"))
}

func TestCreateVulnerabilityReport_RequiresExecutionContext(t *testing.T) {
	r := &CreateVulnerabilityReport{Sink: &stubSink{}}
	_, err := r.Execute(context.Background(), map[string]any{})
	require.Error(t, err)
}

func TestCreateVulnerabilityReport_RejectsIncompleteFinding(t *testing.T) {
	r := &CreateVulnerabilityReport{Sink: &stubSink{}}
	res, err := r.Execute(withContext(), map[string]any{
		"title": "SQL injection in login",
	})
	require.Error(t, err)
	assert.False(t, res.Success)
}

func TestCreateVulnerabilityReport_NormalizesAndAddsToSink(t *testing.T) {
	sink := &stubSink{isNew: true}
	r := &CreateVulnerabilityReport{Sink: sink}

	res, err := r.Execute(withContext(), map[string]any{
		"title":              "SQLi in login handler",
		"vulnerability_type": "SQL Injection",
		"severity":           "high",
		"file_path":          "app/login.go",
		"description":        "unsanitized query parameter reaches the SQL driver",
		"line_start":         float64(42),
		"confidence":         float64(0.9),
	})
	require.NoError(t, err)
	assert.True(t, res.Success)

	require.Len(t, sink.added, 1)
	f := sink.added[0]
	assert.Equal(t, "sql_injection", f.VulnerabilityType)
	assert.Equal(t, "app/login.go", f.FilePath)
	assert.Equal(t, 42, f.LineStart)
	assert.Equal(t, "analysis-1", f.AgentID)

	data := res.Data.(map[string]any)
	assert.Equal(t, f.Fingerprint(), data["fingerprint"])
	assert.Equal(t, true, data["new"])
}

func TestCreateVulnerabilityReport_ReportsDuplicateViaSink(t *testing.T) {
	sink := &stubSink{isNew: false}
	r := &CreateVulnerabilityReport{Sink: sink}

	res, err := r.Execute(withContext(), map[string]any{
		"title":              "Dup",
		"vulnerability_type": "xss",
		"severity":           "medium",
		"file_path":          "app/view.go",
		"description":        "reflected input",
	})
	require.NoError(t, err)
	data := res.Data.(map[string]any)
	assert.Equal(t, false, data["new"])
}
