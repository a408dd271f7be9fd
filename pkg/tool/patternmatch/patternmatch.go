// Package patternmatch implements the pattern_match tool: a fast regex
// sweep for dangerous code constructs, scanning either an in-project file
// or caller-supplied code content. It needs no sandbox and no external
// binary, which also makes it the degradation target when an external
// scanner fails.
package patternmatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/codeready-toolchain/secaudit/pkg/apperr"
	"github.com/codeready-toolchain/secaudit/pkg/pathguard"
	"github.com/codeready-toolchain/secaudit/pkg/tool"
)

const schema = `{
	"type": "object",
	"properties": {
		"code": {"type": "string", "description": "code content to scan (alternative to scan_file)"},
		"scan_file": {"type": "string", "description": "path of a project file to scan (alternative to code)"},
		"file_path": {"type": "string", "description": "path used for context when scanning raw code"},
		"pattern_types": {"type": "array", "items": {"type": "string"}, "description": "vulnerability types to check; all when omitted"},
		"language": {"type": "string", "description": "language of the code; detected from the file extension when omitted"}
	},
	"required": []
}`

// maxMatchedText caps how much of a matched line is echoed back per hit.
const maxMatchedText = 200

// Match is one signature hit, in the shape the Data payload reports.
type Match struct {
	PatternName string `json:"pattern"`
	Type        string `json:"type"`
	FilePath    string `json:"file_path"`
	Line        int    `json:"line"`
	MatchedText string `json:"matched_text"`
	Context     string `json:"context"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
	CWEID       string `json:"cwe_id,omitempty"`
}

// Tool scans code for the signature library's dangerous patterns.
type Tool struct {
	Guard *pathguard.Guard
}

func (t *Tool) Name() string { return "patternmatch.pattern_match" }
func (t *Tool) Description() string {
	types := make([]string, 0, len(vulnClasses))
	for name := range vulnClasses {
		types = append(types, name)
	}
	sort.Strings(types)
	return "Fast regex sweep for dangerous code patterns. Pass scan_file to scan a project file, or code to scan content already read. Supported types: " +
		strings.Join(types, ", ") + ". Matches are leads to analyze further, not confirmed findings."
}
func (t *Tool) Schema() string { return schema }

func (t *Tool) Execute(_ context.Context, args map[string]any) (tool.Result, error) {
	code, _ := args["code"].(string)
	scanFile, _ := args["scan_file"].(string)
	if scanFile == "" {
		// A scanner invocation being degraded to pattern matching arrives
		// with the scanner's own argument shape.
		scanFile, _ = args["target"].(string)
	}
	filePath, _ := args["file_path"].(string)
	if filePath == "" {
		filePath = "unknown"
	}

	if scanFile != "" {
		resolved, err := t.Guard.Resolve(scanFile)
		if err != nil {
			return tool.Result{Success: false, Error: err.Error()}, err
		}
		if err := t.Guard.CheckSize(resolved); err != nil {
			return tool.Result{Success: false, Error: err.Error()}, err
		}
		data, err := os.ReadFile(resolved)
		if err != nil {
			wrapped := apperr.New(apperr.KindToolExecution, "failed to read scan_file: "+scanFile, err)
			return tool.Result{Success: false, Error: wrapped.Error()}, wrapped
		}
		code = string(data)
		filePath = scanFile
	}

	if code == "" {
		err := apperr.New(apperr.KindToolInputInvalid, "pattern_match requires scan_file or code", nil)
		return tool.Result{Success: false, Error: err.Error()}, err
	}

	language, _ := args["language"].(string)
	if language == "" {
		language = languageByExtension[strings.ToLower(filepath.Ext(filePath))]
	}

	types := typeFilter(args["pattern_types"])
	matches := scan(code, filePath, language, types)

	if len(matches) == 0 {
		return tool.Result{
			Success:  true,
			Data:     "No known dangerous patterns detected.",
			Metadata: map[string]any{"patterns_checked": len(types), "matches": 0},
		}, nil
	}

	bySeverity := map[string]int{}
	for _, m := range matches {
		bySeverity[m.Severity]++
	}

	return tool.Result{
		Success: true,
		Data: map[string]any{
			"summary": formatMatches(matches),
			"matches": matches,
		},
		Metadata: map[string]any{"matches": len(matches), "by_severity": bySeverity},
	}, nil
}

// typeFilter coerces the pattern_types argument into the set of class
// names to check, defaulting to every known class.
func typeFilter(v any) []string {
	items, ok := v.([]any)
	if !ok || len(items) == 0 {
		out := make([]string, 0, len(vulnClasses))
		for name := range vulnClasses {
			out = append(out, name)
		}
		sort.Strings(out)
		return out
	}
	var out []string
	for _, item := range items {
		if s, ok := item.(string); ok {
			if _, known := vulnClasses[s]; known {
				out = append(out, s)
			}
		}
	}
	return out
}

// scan runs every selected class's signatures over the code line by line.
// Language-specific signatures are preferred; a class with no signatures
// for the detected language falls back to trying all of them, since a
// miss on language detection shouldn't silence the sweep entirely.
func scan(code, filePath, language string, types []string) []Match {
	lines := strings.Split(code, "\n")
	var matches []Match

	for _, vulnType := range types {
		class, ok := vulnClasses[vulnType]
		if !ok {
			continue
		}

		var sigs []sig
		if language != "" {
			sigs = append(sigs, class.patterns[language]...)
		}
		sigs = append(sigs, class.patterns["_common"]...)
		if len(sigs) == 0 {
			for lang, langSigs := range class.patterns {
				if lang != "_common" {
					sigs = append(sigs, langSigs...)
				}
			}
		}

		for _, s := range sigs {
			re := compiled[s.expr]
			for i, line := range lines {
				if !re.MatchString(line) {
					continue
				}
				matched := strings.TrimSpace(line)
				if len(matched) > maxMatchedText {
					matched = matched[:maxMatchedText]
				}
				matches = append(matches, Match{
					PatternName: s.name,
					Type:        vulnType,
					FilePath:    filePath,
					Line:        i + 1,
					MatchedText: matched,
					Context:     contextAround(lines, i),
					Severity:    class.severity,
					Description: class.description,
					CWEID:       class.cweID,
				})
			}
		}
	}

	severityRank := map[string]int{"critical": 0, "high": 1, "medium": 2, "low": 3}
	sort.SliceStable(matches, func(a, b int) bool {
		ra, rb := severityRank[matches[a].Severity], severityRank[matches[b].Severity]
		if ra != rb {
			return ra < rb
		}
		return matches[a].Line < matches[b].Line
	})
	return matches
}

// contextAround renders the two lines either side of a hit, numbered.
func contextAround(lines []string, idx int) string {
	start := idx - 2
	if start < 0 {
		start = 0
	}
	end := idx + 3
	if end > len(lines) {
		end = len(lines)
	}
	var sb strings.Builder
	for i := start; i < end; i++ {
		fmt.Fprintf(&sb, "%d: %s\n", i+1, lines[i])
	}
	return strings.TrimRight(sb.String(), "\n")
}

// formatMatches renders a short human-readable digest for the observation.
func formatMatches(matches []Match) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Detected %d potential issue(s):\n", len(matches))
	for _, m := range matches {
		fmt.Fprintf(&sb, "\n[%s] %s at %s:%d\n  pattern: %s\n  %s\n  matched: %s\n",
			strings.ToUpper(m.Severity), m.Type, m.FilePath, m.Line, m.PatternName, m.Description, m.MatchedText)
	}
	return sb.String()
}
