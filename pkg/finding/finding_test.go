package finding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintIgnoresTypeCasingAndAliases(t *testing.T) {
	a := Finding{FilePath: "app/views.py", LineStart: 42, VulnerabilityType: "SQLi"}
	b := Finding{FilePath: "app/views.py", LineStart: 42, VulnerabilityType: "SQL Injection"}
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
}

func TestFingerprintDiffersByLine(t *testing.T) {
	a := Finding{FilePath: "app/views.py", LineStart: 42, VulnerabilityType: "sql_injection"}
	b := Finding{FilePath: "app/views.py", LineStart: 43, VulnerabilityType: "sql_injection"}
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
}

func TestValidateReportsMissingRequiredFields(t *testing.T) {
	err := Finding{Title: "x"}.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "vulnerability_type")
	assert.Contains(t, err.Error(), "file_path")
}

func TestValidatePasses(t *testing.T) {
	f := Finding{
		Title: "SQL injection in login", VulnerabilityType: "sql_injection",
		Severity: SeverityHigh, FilePath: "app/views.py", Description: "unsanitized query param",
	}
	assert.NoError(t, f.Validate())
}

func TestInferTypeMatchesKeyword(t *testing.T) {
	assert.Equal(t, "command_injection", InferType("potential OS command injection via subprocess"))
	assert.Equal(t, "", InferType("looks fine"))
}

func TestDeduperMergesByFingerprintAndKeepsStrongerVerdict(t *testing.T) {
	d := NewDeduper()
	first := Finding{FilePath: "a.go", LineStart: 10, VulnerabilityType: "xss", Verdict: VerdictUncertain, Confidence: 0.4}
	second := Finding{FilePath: "a.go", LineStart: 10, VulnerabilityType: "xss", Verdict: VerdictConfirmed, Confidence: 0.9}

	assert.True(t, d.Add(first))
	assert.False(t, d.Add(second))

	got := d.Findings()
	assert.Len(t, got, 1)
	assert.Equal(t, VerdictConfirmed, got[0].Verdict)
}

func TestDeduperKeepsDistinctFingerprintsSeparate(t *testing.T) {
	d := NewDeduper()
	d.Add(Finding{FilePath: "a.go", LineStart: 10, VulnerabilityType: "xss"})
	d.Add(Finding{FilePath: "b.go", LineStart: 10, VulnerabilityType: "xss"})
	assert.Len(t, d.Findings(), 2)
}

func TestDeduperAddMergesFieldsInsteadOfReplacing(t *testing.T) {
	d := NewDeduper()
	first := Finding{
		FilePath: "a.go", LineStart: 10, VulnerabilityType: "xss",
		Title: "reflected xss in search handler", Description: "unsanitized query param",
		Verdict: VerdictConfirmed, IsVerified: true, Confidence: 0.7,
	}
	second := Finding{
		FilePath: "a.go", LineStart: 10, VulnerabilityType: "xss",
		Title: "xss", CodeSnippet: "render(req.Query)", Verdict: VerdictUncertain, Confidence: 0.9,
	}

	assert.True(t, d.Add(first))
	assert.False(t, d.Add(second))

	got := d.Findings()
	require.Len(t, got, 1)
	merged := got[0]

	assert.True(t, merged.IsVerified, "is_verified should be promoted if either side is verified")
	assert.Equal(t, "reflected xss in search handler", merged.Title, "the longer title should win")
	assert.Equal(t, "unsanitized query param", merged.Description, "description from the verified side should survive")
	assert.Equal(t, "render(req.Query)", merged.CodeSnippet, "fields blank on the winning side should fall back to the other side")
}

func TestNormalizeDictResolvesAliasesAndInfersType(t *testing.T) {
	f := NormalizeDict(map[string]any{
		"location":    "app.py:36",
		"type":        "Vulnerability",
		"description": "command injection via unsanitized subprocess call",
		"risk":        "High",
		"code":        "subprocess.run(cmd, shell=True)",
		"impact":      "attacker can run arbitrary commands",
	}, "agent_recon_1")

	assert.Equal(t, "app.py", f.FilePath)
	assert.Equal(t, 36, f.LineStart)
	assert.Equal(t, "command_injection", f.VulnerabilityType)
	assert.Equal(t, SeverityHigh, f.Severity)
	assert.Equal(t, "subprocess.run(cmd, shell=True)", f.CodeSnippet)
	assert.Contains(t, f.Description, "command injection via unsanitized subprocess call")
	assert.Contains(t, f.Description, "attacker can run arbitrary commands")
	assert.Equal(t, "Command injection in app.py", f.Title)
	assert.Equal(t, "agent_recon_1", f.AgentID)
}

func TestNormalizeDictDefaultsSeverityAndKeepsExplicitType(t *testing.T) {
	f := NormalizeDict(map[string]any{
		"file_path":          "views.py",
		"line_start":         12.0,
		"vulnerability_type": "SQLi",
		"description":        "string-concatenated query",
		"title":              "SQL injection in login",
	}, "")

	assert.Equal(t, "sql_injection", f.VulnerabilityType)
	assert.Equal(t, SeverityMedium, f.Severity)
	assert.Equal(t, "SQL injection in login", f.Title)
}

func TestParseHighRiskAreaMatchesScenarioS2(t *testing.T) {
	f, ok := ParseHighRiskArea("app.py:36 - command injection", "agent_recon_1")
	require.True(t, ok)

	assert.Equal(t, "command_injection", f.VulnerabilityType)
	assert.Equal(t, "app.py", f.FilePath)
	assert.Equal(t, 36, f.LineStart)
	assert.Equal(t, SeverityHigh, f.Severity)
}

func TestParseInitialFindingStringRejectsWrongShape(t *testing.T) {
	_, ok := ParseInitialFindingString("no location or dash here", "")
	assert.False(t, ok)
}
