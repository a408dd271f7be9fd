// Package fileset implements the fileset.* tools: read_file, list_files,
// search_code — the read-only filesystem surface every agent role gets,
// with every path validated through pkg/pathguard before it touches disk.
package fileset

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/codeready-toolchain/secaudit/pkg/apperr"
	"github.com/codeready-toolchain/secaudit/pkg/pathguard"
	"github.com/codeready-toolchain/secaudit/pkg/tool"
)

// ReadFile returns the contents of a single file under the project root.
type ReadFile struct {
	Guard *pathguard.Guard
}

func (t *ReadFile) Name() string        { return "fileset.read_file" }
func (t *ReadFile) Description() string { return "Read the full contents of a file in the project." }
func (t *ReadFile) Schema() string {
	return `{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`
}

func (t *ReadFile) Execute(_ context.Context, args map[string]any) (tool.Result, error) {
	rawPath, _ := args["path"].(string)
	resolved, err := t.Guard.Resolve(rawPath)
	if err != nil {
		return tool.Result{Success: false, Error: err.Error()}, err
	}
	if err := t.Guard.CheckSize(resolved); err != nil {
		return tool.Result{Success: false, Error: err.Error()}, err
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		wrapped := apperr.New(apperr.KindToolExecution, "failed to read file: "+rawPath, err)
		return tool.Result{Success: false, Error: wrapped.Error()}, wrapped
	}

	return tool.Result{Success: true, Data: string(data), Metadata: map[string]any{"path": rawPath}}, nil
}

// ListFiles enumerates files under a directory (or the project root),
// optionally filtered to a glob.
type ListFiles struct {
	Guard *pathguard.Guard
}

func (t *ListFiles) Name() string        { return "fileset.list_files" }
func (t *ListFiles) Description() string { return "List files under a directory in the project." }
func (t *ListFiles) Schema() string {
	return `{"type":"object","properties":{"path":{"type":"string"},"glob":{"type":"string"}},"required":[]}`
}

func (t *ListFiles) Execute(_ context.Context, args map[string]any) (tool.Result, error) {
	rawPath, _ := args["path"].(string)
	if rawPath == "" {
		rawPath = "."
	}
	glob, _ := args["glob"].(string)

	resolved, err := t.Guard.Resolve(rawPath)
	if err != nil {
		return tool.Result{Success: false, Error: err.Error()}, err
	}

	var files []string
	walkErr := filepath.WalkDir(resolved, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries, don't abort the whole walk
		}
		if d.IsDir() {
			return nil
		}
		if glob != "" {
			if matched, _ := filepath.Match(glob, d.Name()); !matched {
				return nil
			}
		}
		rel, relErr := filepath.Rel(t.Guard.Root(), path)
		if relErr != nil {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if walkErr != nil {
		wrapped := apperr.New(apperr.KindToolExecution, "failed to walk directory: "+rawPath, walkErr)
		return tool.Result{Success: false, Error: wrapped.Error()}, wrapped
	}

	return tool.Result{Success: true, Data: files, Metadata: map[string]any{"count": len(files)}}, nil
}

// SearchCode does a literal, line-oriented substring search across files
// under the project root — the "grep" tool every agent role gets.
type SearchCode struct {
	Guard        *pathguard.Guard
	MaxMatches   int
}

func (t *SearchCode) Name() string { return "fileset.search_code" }
func (t *SearchCode) Description() string {
	return "Search for a literal substring across files in the project, returning matching lines."
}
func (t *SearchCode) Schema() string {
	return `{"type":"object","properties":{"query":{"type":"string"},"path":{"type":"string"}},"required":["query"]}`
}

// Match is one search_code hit.
type Match struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

func (t *SearchCode) Execute(_ context.Context, args map[string]any) (tool.Result, error) {
	query, _ := args["query"].(string)
	if query == "" {
		err := apperr.New(apperr.KindValidationInput, "query is required", nil)
		return tool.Result{Success: false, Error: err.Error()}, err
	}
	rawPath, _ := args["path"].(string)
	if rawPath == "" {
		rawPath = "."
	}

	resolved, err := t.Guard.Resolve(rawPath)
	if err != nil {
		return tool.Result{Success: false, Error: err.Error()}, err
	}

	maxMatches := t.MaxMatches
	if maxMatches <= 0 {
		maxMatches = 200
	}

	var matches []Match
	walkErr := filepath.WalkDir(resolved, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || len(matches) >= maxMatches {
			return nil
		}
		f, openErr := os.Open(path)
		if openErr != nil {
			return nil
		}
		defer f.Close()

		rel, relErr := filepath.Rel(t.Guard.Root(), path)
		if relErr != nil {
			return nil
		}

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		lineNum := 0
		for scanner.Scan() {
			lineNum++
			if strings.Contains(scanner.Text(), query) {
				matches = append(matches, Match{Path: rel, Line: lineNum, Text: strings.TrimSpace(scanner.Text())})
				if len(matches) >= maxMatches {
					break
				}
			}
		}
		return nil
	})
	if walkErr != nil {
		wrapped := apperr.New(apperr.KindToolExecution, "search failed", walkErr)
		return tool.Result{Success: false, Error: wrapped.Error()}, wrapped
	}

	return tool.Result{
		Success:  true,
		Data:     matches,
		Metadata: map[string]any{"match_count": len(matches), "truncated": len(matches) >= maxMatches},
	}, nil
}
