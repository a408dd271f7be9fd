package react

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/codeready-toolchain/secaudit/pkg/tool"
)

func TestParseFinalAnswer(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantThought string
		wantAnswer  string
	}{
		{
			name:        "standard final answer",
			input:       "Thought: I have enough evidence.\nFinal Answer: The endpoint is vulnerable to SQL injection.",
			wantThought: "I have enough evidence.",
			wantAnswer:  "The endpoint is vulnerable to SQL injection.",
		},
		{
			name:       "final answer without thought",
			input:      "Final Answer: No vulnerabilities found.",
			wantAnswer: "No vulnerabilities found.",
		},
		{
			name:        "multi-line final answer",
			input:       "Thought: Done.\nFinal Answer: Line one.\nLine two.",
			wantThought: "Done.",
			wantAnswer:  "Line one.\nLine two.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed := Parse(tt.input)
			assert.True(t, parsed.IsFinalAnswer)
			assert.False(t, parsed.HasAction)
			assert.False(t, parsed.IsMalformed)
			assert.Equal(t, tt.wantThought, parsed.Thought)
			assert.Equal(t, tt.wantAnswer, parsed.FinalAnswer)
		})
	}
}

func TestParseAction(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantAction string
		wantInput  string
	}{
		{
			name:       "standard action",
			input:      "Thought: Need to inspect the handler.\nAction: fileset.read_file\nAction Input: {\"path\": \"handler.go\"}",
			wantAction: "fileset.read_file",
			wantInput:  `{"path": "handler.go"}`,
		},
		{
			name:       "action without thought",
			input:      "Action: fileset.list_files\nAction Input: {\"glob\": \"*.go\"}",
			wantAction: "fileset.list_files",
			wantInput:  `{"glob": "*.go"}`,
		},
		{
			name:       "empty action input",
			input:      "Thought: No args needed.\nAction: scanner.semgrep_scan\nAction Input:",
			wantAction: "scanner.semgrep_scan",
			wantInput:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed := Parse(tt.input)
			assert.True(t, parsed.HasAction)
			assert.False(t, parsed.IsFinalAnswer)
			assert.False(t, parsed.IsUnknownTool)
			assert.Equal(t, tt.wantAction, parsed.Action)
			assert.Equal(t, tt.wantInput, parsed.ActionInput)
		})
	}
}

func TestParseActionWinsOverFinalAnswer(t *testing.T) {
	input := "Thought: still going.\nFinal Answer: premature.\nAction: fileset.read_file\nAction Input: {}"
	parsed := Parse(input)
	assert.True(t, parsed.HasAction)
	assert.False(t, parsed.IsFinalAnswer)
	assert.Equal(t, "fileset.read_file", parsed.Action)
}

func TestParseUnknownToolFormat(t *testing.T) {
	parsed := Parse("Thought: go.\nAction: read_file\nAction Input: {}")
	assert.True(t, parsed.IsUnknownTool)
	assert.Contains(t, parsed.ErrorMessage, "server.tool")
}

func TestParseMalformedEmptyResponse(t *testing.T) {
	parsed := Parse("")
	assert.True(t, parsed.IsMalformed)
	assert.False(t, parsed.FoundSections["thought"])
}

func TestParseMalformedNoSections(t *testing.T) {
	parsed := Parse("I think the code looks fine to me.")
	assert.True(t, parsed.IsMalformed)
}

func TestParseRecoversMissingActionHeader(t *testing.T) {
	parsed := Parse("Thought: check it.\nfileset.read_file\nAction Input: {\"path\": \"a.go\"}")
	assert.Equal(t, "fileset.read_file", parsed.Action)
}

func TestParseMidlineFinalAnswer(t *testing.T) {
	parsed := Parse("Thought: I'm confident now. Final Answer: clean bill of health.")
	assert.True(t, parsed.IsFinalAnswer)
	assert.Equal(t, "clean bill of health.", parsed.FinalAnswer)
}

func TestFormatErrorFeedbackNamesMissingSections(t *testing.T) {
	parsed := Parse("Action: fileset.read_file")
	feedback := FormatErrorFeedback(parsed)
	assert.Contains(t, feedback, "Action Input")
}

func TestFormatObservationSuccess(t *testing.T) {
	obs := FormatObservation("fileset.read_file", tool.Result{Success: true, Data: "package main"})
	assert.Equal(t, "Observation: package main", obs)
}

func TestFormatObservationFailure(t *testing.T) {
	obs := FormatObservation("fileset.read_file", tool.Result{Success: false, Error: "not found"})
	assert.Contains(t, obs, "Error executing fileset.read_file")
	assert.Contains(t, obs, "not found")
}

func TestFormatUnknownToolErrorListsAvailableTools(t *testing.T) {
	obs := FormatUnknownToolError("unknown tool 'foo'", []tool.Definition{
		{Name: "fileset.read_file", Description: "read a file"},
	})
	assert.Contains(t, obs, "fileset.read_file")
	assert.Contains(t, obs, "read a file")
}

func TestFormatRepeatedFailureNoticeExcludesFailingTool(t *testing.T) {
	obs := FormatRepeatedFailureNotice("scanner.semgrep_scan", []tool.Definition{
		{Name: "scanner.semgrep_scan", Description: "static analysis"},
		{Name: "fileset.read_file", Description: "read a file"},
	})
	assert.Contains(t, obs, "scanner.semgrep_scan has now failed")
	assert.Contains(t, obs, "fileset.read_file")
	assert.NotContains(t, obs, "scanner.semgrep_scan: static analysis")
}

func TestFormatErrorObservationHandlesNilError(t *testing.T) {
	assert.Contains(t, FormatErrorObservation(nil), "unknown error")
	assert.Contains(t, FormatErrorObservation(errors.New("timeout")), "timeout")
}

func TestExtractForcedConclusionAnswerPrefersFinalAnswer(t *testing.T) {
	parsed := &ParsedResponse{IsFinalAnswer: true, FinalAnswer: "done", Thought: "reasoning"}
	assert.Equal(t, "done", ExtractForcedConclusionAnswer(parsed))
}

func TestExtractForcedConclusionAnswerFallsBackToThought(t *testing.T) {
	parsed := &ParsedResponse{Thought: "ran out of turns"}
	assert.Equal(t, "ran out of turns", ExtractForcedConclusionAnswer(parsed))
}
