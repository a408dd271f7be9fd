// Package jsonrepair implements an escalation ladder for parsing
// structured LLM output that is supposed to be JSON but often isn't
// quite: direct parse, whitespace-normalized parse, markdown-fence
// extraction, balanced-brace extraction, truncation repair, and a final
// lenient regex-based repair pass. Each rung is tried in order and the
// first one that produces a decodable object wins.
package jsonrepair

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	trailingCommaPattern   = regexp.MustCompile(`,(\s*[}\]])`)
	markdownFencePattern   = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
	zeroWidthChars         = strings.NewReplacer("\uFEFF", "", "\u200B", "", "\u200C", "", "\u200D", "")
)

// Attempt names each rung of the ladder, for observability/debugging.
type Attempt string

const (
	AttemptDirect              Attempt = "direct"
	AttemptWhitespaceNormalized Attempt = "whitespace_normalized"
	AttemptMarkdownExtract     Attempt = "markdown_extract"
	AttemptBalancedBrace       Attempt = "balanced_brace"
	AttemptTruncationRepair    Attempt = "truncation_repair"
	AttemptLenientRepair       Attempt = "lenient_repair"
)

// Result carries the parsed object plus which rung of the ladder
// succeeded, so callers can log degraded-parse telemetry.
type Result struct {
	Value   map[string]any
	Used    Attempt
}

// Parse runs the full escalation ladder against text, returning the first
// rung that yields a valid JSON object.
func Parse(text string) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{}, fmt.Errorf("jsonrepair: empty input")
	}

	cleaned := cleanText(text)

	type rung struct {
		name Attempt
		fn   func() (map[string]any, error)
	}
	rungs := []rung{
		{AttemptDirect, func() (map[string]any, error) { return decode(text) }},
		{AttemptWhitespaceNormalized, func() (map[string]any, error) { return decode(fixFormat(cleaned)) }},
		{AttemptMarkdownExtract, func() (map[string]any, error) { return extractFromMarkdown(text) }},
		{AttemptBalancedBrace, func() (map[string]any, error) { return extractBalancedObject(cleaned) }},
		{AttemptTruncationRepair, func() (map[string]any, error) { return fixTruncated(cleaned) }},
		{AttemptLenientRepair, func() (map[string]any, error) { return lenientRepair(text) }},
	}

	var lastErr error
	for _, r := range rungs {
		v, err := r.fn()
		if err == nil && v != nil {
			return Result{Value: v, Used: r.name}, nil
		}
		if err != nil {
			lastErr = err
		}
	}
	return Result{}, fmt.Errorf("jsonrepair: all repair attempts failed: %w", lastErr)
}

func decode(s string) (map[string]any, error) {
	var v map[string]any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	return v, nil
}

func cleanText(text string) string {
	return zeroWidthChars.Replace(text)
}

// fixFormat strips trailing commas before a closing brace/bracket, the
// most common "almost valid" mistake LLMs make.
func fixFormat(text string) string {
	return trailingCommaPattern.ReplaceAllString(strings.TrimSpace(text), "$1")
}

func extractFromMarkdown(text string) (map[string]any, error) {
	m := markdownFencePattern.FindStringSubmatch(text)
	if m == nil {
		return nil, fmt.Errorf("no markdown code block found")
	}
	return decode(m[1])
}

// extractBalancedObject finds the first "{" and walks forward tracking
// brace depth (ignoring braces inside quoted strings) to find its match.
// Falls back to the last "}" in the text if the object never balances.
func extractBalancedObject(text string) (map[string]any, error) {
	start := strings.IndexByte(text, '{')
	if start == -1 {
		return nil, fmt.Errorf("no JSON object found")
	}

	depth := 0
	inString := false
	escaped := false
	end := -1

	for i := start; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			escaped = true
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					end = i + 1
				}
			}
		}
		if end != -1 {
			break
		}
	}

	if end == -1 {
		if last := strings.LastIndexByte(text, '}'); last > start {
			end = last + 1
		} else {
			return nil, fmt.Errorf("incomplete JSON object")
		}
	}

	return decode(fixFormat(text[start:end]))
}

// fixTruncated appends missing closing brackets/braces to a response that
// was cut off mid-object (e.g. by a token limit).
func fixTruncated(text string) (map[string]any, error) {
	start := strings.IndexByte(text, '{')
	if start == -1 {
		return nil, fmt.Errorf("cannot fix truncated JSON: no opening brace")
	}
	body := text[start:]

	openBraces := strings.Count(body, "{")
	closeBraces := strings.Count(body, "}")
	openBrackets := strings.Count(body, "[")
	closeBrackets := strings.Count(body, "]")

	var b strings.Builder
	b.WriteString(body)
	for i := 0; i < openBrackets-closeBrackets; i++ {
		b.WriteByte(']')
	}
	for i := 0; i < openBraces-closeBraces; i++ {
		b.WriteByte('}')
	}

	return decode(fixFormat(b.String()))
}

// lenientRepair is the last-resort rung: it extracts the largest
// brace-delimited span, strips trailing commas, and collapses bare
// newlines inside string values into escaped ones before a final decode
// attempt. No pack example carries a Go JSON-repair library (the Python
// original reaches for one at this exact tier) — this hand-rolled pass is
// the stdlib-only fallback, justified by the absence of a suitable
// ecosystem equivalent in the corpus.
func lenientRepair(text string) (map[string]any, error) {
	start := strings.IndexByte(text, '{')
	last := strings.LastIndexByte(text, '}')
	if start == -1 || last <= start {
		return nil, fmt.Errorf("lenient repair: no bounded object found")
	}
	candidate := text[start : last+1]
	candidate = fixFormat(candidate)
	candidate = escapeBareNewlinesInStrings(candidate)
	return decode(candidate)
}

// escapeBareNewlinesInStrings walks the text outside of escape sequences,
// replacing literal newlines found while inside a quoted string with \n,
// mirroring the Python original's regex-based newline-in-string fix.
func escapeBareNewlinesInStrings(text string) string {
	var b strings.Builder
	inString := false
	escaped := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		if escaped {
			b.WriteByte(c)
			escaped = false
			continue
		}
		switch c {
		case '\\':
			b.WriteByte(c)
			escaped = true
		case '"':
			b.WriteByte(c)
			inString = !inString
		case '\n':
			if inString {
				b.WriteString(`\n`)
			} else {
				b.WriteByte(c)
			}
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
