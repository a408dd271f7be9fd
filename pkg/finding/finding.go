// Package finding implements the vulnerability finding model, fingerprint
// based deduplication, and vulnerability-type normalization agents use
// when reporting and merging security findings across an audit.
package finding

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Severity is the finding's assessed impact level.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Verdict is the reviewer/verification agent's confirmation state.
type Verdict string

const (
	VerdictConfirmed     Verdict = "confirmed"
	VerdictLikely        Verdict = "likely"
	VerdictUncertain     Verdict = "uncertain"
	VerdictFalsePositive Verdict = "false_positive"
)

// Finding is a single reported vulnerability.
type Finding struct {
	Title            string
	VulnerabilityType string
	Severity         Severity
	FilePath         string
	Description      string

	LineStart      int
	LineEnd        int
	CodeSnippet    string
	Source         string
	Sink           string
	POC            string
	Impact         string
	Recommendation string
	Confidence     float64 // [0,1]
	CWEID          string
	CVSSScore      float64
	Verdict        Verdict
	IsVerified     bool

	AgentID string
}

// Fingerprint returns the dedup key: file path, start line, and
// normalized vulnerability type.
func (f Finding) Fingerprint() string {
	return fmt.Sprintf("%s:%d:%s", f.FilePath, f.LineStart, NormalizeType(f.VulnerabilityType))
}

// Validate checks that the required fields are set: title, vulnerability
// type, severity, file path, description.
func (f Finding) Validate() error {
	var missing []string
	if f.Title == "" {
		missing = append(missing, "title")
	}
	if f.VulnerabilityType == "" {
		missing = append(missing, "vulnerability_type")
	}
	if f.Severity == "" {
		missing = append(missing, "severity")
	}
	if f.FilePath == "" {
		missing = append(missing, "file_path")
	}
	if f.Description == "" {
		missing = append(missing, "description")
	}
	if len(missing) > 0 {
		return fmt.Errorf("finding missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// aliases maps loose/synonym phrasing observed across scanner output and
// LLM-authored findings onto one canonical vulnerability-type label. This
// table is deliberately literal and keyword-driven, not a classifier; the
// brittleness is intentional and should not be silently "fixed" with
// fuzzy matching (see DESIGN.md).
var aliases = map[string]string{
	"sqli":                    "sql_injection",
	"sql injection":           "sql_injection",
	"command injection":       "command_injection",
	"os command injection":    "command_injection",
	"cmdi":                    "command_injection",
	"cross-site scripting":    "xss",
	"cross site scripting":    "xss",
	"xss":                     "xss",
	"path traversal":          "path_traversal",
	"directory traversal":     "path_traversal",
	"ssrf":                    "ssrf",
	"server-side request forgery": "ssrf",
	"ssti":                    "ssti",
	"server-side template injection": "ssti",
	"insecure deserialization": "deserialization",
	"deserialization":          "deserialization",
	"hardcoded secret":         "hardcoded_credentials",
	"hardcoded credentials":    "hardcoded_credentials",
	"secret leak":              "hardcoded_credentials",
	"xxe":                      "xxe",
	"xml external entity":      "xxe",
	"rce":                      "command_injection",
	"remote code execution":    "command_injection",
}

// NormalizeType lowercases and alias-resolves a vulnerability type string
// so that "SQLi" and "SQL Injection" fingerprint identically.
func NormalizeType(raw string) string {
	t := strings.ToLower(strings.TrimSpace(raw))
	if canon, ok := aliases[t]; ok {
		return canon
	}
	return strings.ReplaceAll(t, " ", "_")
}

// keywordTypes is the ordered (most-specific-first) keyword table used by
// InferType to guess a vulnerability_type from free-text scanner or LLM
// output that doesn't already carry one.
var keywordTypes = []struct {
	keyword string
	typ     string
}{
	{"sql injection", "sql_injection"},
	{"sqli", "sql_injection"},
	{"command injection", "command_injection"},
	{"remote code execution", "command_injection"},
	{"rce", "command_injection"},
	{"cross-site scripting", "xss"},
	{"cross site scripting", "xss"},
	{"xss", "xss"},
	{"path traversal", "path_traversal"},
	{"directory traversal", "path_traversal"},
	{"server-side request forgery", "ssrf"},
	{"ssrf", "ssrf"},
	{"server-side template injection", "ssti"},
	{"ssti", "ssti"},
	{"deserialization", "deserialization"},
	{"hardcoded", "hardcoded_credentials"},
	{"secret", "hardcoded_credentials"},
	{"xml external entity", "xxe"},
	{"xxe", "xxe"},
}

// InferType guesses a vulnerability_type from free text by keyword match,
// first match in keywordTypes order wins. Returns "" when nothing matches.
func InferType(text string) string {
	lower := strings.ToLower(text)
	for _, kt := range keywordTypes {
		if strings.Contains(lower, kt.keyword) {
			return kt.typ
		}
	}
	return ""
}

// inferTypeOrOther is InferType with the fallback the normalizer requires:
// vulnerability_type is never left blank.
func inferTypeOrOther(text string) string {
	if t := InferType(text); t != "" {
		return t
	}
	return "other"
}

// genericTypeWords are placeholder vulnerability_type values carrying no
// real signal; when one of these is seen, the type is instead inferred
// from the description.
var genericTypeWords = map[string]bool{
	"vulnerability": true,
	"finding":       true,
	"issue":         true,
}

// NormalizeDict converts a loose, alias-laden finding dict — as reported
// by an LLM's Final Answer, a recon agent's free-text output, or the
// create_vulnerability_report tool's args — into a canonical Finding. It
// is the only path by which free-form finding data becomes a Finding;
// nothing should construct a Finding from raw LLM-controlled input
// without going through this function first.
func NormalizeDict(raw map[string]any, agentID string) Finding {
	get := func(keys ...string) (any, bool) {
		for _, k := range keys {
			if v, ok := raw[k]; ok && v != nil {
				return v, true
			}
		}
		return nil, false
	}
	str := func(keys ...string) string {
		v, ok := get(keys...)
		if !ok {
			return ""
		}
		if s, ok := v.(string); ok {
			return strings.TrimSpace(s)
		}
		return fmt.Sprintf("%v", v)
	}
	num := func(keys ...string) int {
		v, ok := get(keys...)
		if !ok {
			return 0
		}
		switch t := v.(type) {
		case float64:
			return int(t)
		case int:
			return t
		case string:
			n, _ := strconv.Atoi(strings.TrimSpace(t))
			return n
		}
		return 0
	}
	flt := func(keys ...string) float64 {
		v, ok := get(keys...)
		if !ok {
			return 0
		}
		switch t := v.(type) {
		case float64:
			return t
		case int:
			return float64(t)
		case string:
			n, _ := strconv.ParseFloat(strings.TrimSpace(t), 64)
			return n
		}
		return 0
	}

	f := Finding{AgentID: agentID}

	f.FilePath = str("file_path", "file")
	f.LineStart = num("line_start", "line")
	if loc := str("location"); loc != "" && (f.FilePath == "" || f.LineStart == 0) {
		if path, line, ok := parseLocation(loc); ok {
			if f.FilePath == "" {
				f.FilePath = path
			}
			if f.LineStart == 0 {
				f.LineStart = line
			}
		}
	}
	f.LineEnd = num("line_end")

	f.Description = str("description")
	if impact := str("impact"); impact != "" {
		if f.Description == "" {
			f.Description = impact
		} else {
			f.Description = f.Description + " " + impact
		}
	}

	rawType := str("vulnerability_type", "type")
	if rawType != "" && !genericTypeWords[strings.ToLower(rawType)] {
		f.VulnerabilityType = NormalizeType(rawType)
	} else {
		f.VulnerabilityType = inferTypeOrOther(f.Description)
	}

	sev := strings.ToLower(str("severity", "risk"))
	if sev == "" {
		sev = string(SeverityMedium)
	}
	f.Severity = Severity(sev)

	f.CodeSnippet = str("code_snippet", "code")
	f.Recommendation = str("recommendation", "suggestion")
	f.Source = str("source")
	f.Sink = str("sink")
	f.POC = str("poc", "proof_of_concept")
	f.CWEID = str("cwe_id", "cwe")
	f.Confidence = flt("confidence")
	f.CVSSScore = flt("cvss_score", "cvss")

	f.Title = str("title")
	if f.Title == "" {
		f.Title = synthesizeTitle(f.VulnerabilityType, f.FilePath)
	}

	return f
}

// parseLocation splits a "file:line" location string. ok is false when
// the string doesn't end in a parseable line number.
func parseLocation(loc string) (path string, line int, ok bool) {
	idx := strings.LastIndex(loc, ":")
	if idx < 0 {
		return "", 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(loc[idx+1:]))
	if err != nil {
		return "", 0, false
	}
	return strings.TrimSpace(loc[:idx]), n, true
}

// synthesizeTitle builds a default title from a vulnerability type and
// file path when a report omits one.
func synthesizeTitle(vulnType, filePath string) string {
	label := strings.ReplaceAll(vulnType, "_", " ")
	if label == "" {
		label = "vulnerability"
	}
	label = capitalize(label)

	base := filePath
	if idx := strings.LastIndexAny(filePath, "/\\"); idx >= 0 {
		base = filePath[idx+1:]
	}
	if base == "" {
		return label
	}
	return label + " in " + base
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// ParseInitialFindingString parses a recon initial_findings entry in
// "file:line - description" form. ok is false when the entry doesn't
// match that shape, in which case the caller should skip it.
func ParseInitialFindingString(s, agentID string) (Finding, bool) {
	loc, desc, ok := splitLocationDescription(s)
	if !ok {
		return Finding{}, false
	}
	path, line, ok := parseLocation(loc)
	if !ok {
		return Finding{}, false
	}
	return NormalizeDict(map[string]any{
		"file_path":   path,
		"line_start":  line,
		"description": desc,
	}, agentID), true
}

// ParseHighRiskArea parses a recon high_risk_areas entry, the same
// "file:line - description" shape as initial_findings, but defaults
// severity to high since the agent explicitly flagged the area as
// higher-risk than an ordinary initial finding.
func ParseHighRiskArea(s, agentID string) (Finding, bool) {
	f, ok := ParseInitialFindingString(s, agentID)
	if !ok {
		return Finding{}, false
	}
	f.Severity = SeverityHigh
	return f, true
}

func splitLocationDescription(s string) (loc, desc string, ok bool) {
	parts := strings.SplitN(s, " - ", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), true
}

// Deduper merges findings sharing a Fingerprint into one record each,
// in first-seen order, folding in any stronger verdict or verified data
// a later duplicate carries rather than discarding it.
type Deduper struct {
	seen  map[string]int // fingerprint -> index into out
	out   []Finding
}

func NewDeduper() *Deduper {
	return &Deduper{seen: map[string]int{}}
}

// Add merges f into the deduped set, returning true if f introduced a new
// fingerprint (false if it was merged into an existing one).
func (d *Deduper) Add(f Finding) bool {
	fp := f.Fingerprint()
	if idx, ok := d.seen[fp]; ok {
		d.out[idx] = mergeFindings(d.out[idx], f)
		return false
	}
	d.seen[fp] = len(d.out)
	d.out = append(d.out, f)
	return true
}

// mergeFindings combines two findings sharing a fingerprint into one
// record instead of picking a winner: verified data wins over
// unverified, a stronger verdict wins over a weaker one, the longer
// title wins, and is_verified is promoted if either side carries it.
// Scalar fields left empty on the winning side fall back to the other
// side's value so a merge never loses information a prior report
// already captured.
func mergeFindings(existing, incoming Finding) Finding {
	base, other := existing, incoming
	switch {
	case incoming.IsVerified && !existing.IsVerified:
		base, other = incoming, existing
	case existing.IsVerified && !incoming.IsVerified:
		base, other = existing, incoming
	case betterVerdict(incoming.Verdict, existing.Verdict):
		base, other = incoming, existing
	case incoming.Verdict == existing.Verdict && incoming.Confidence > existing.Confidence:
		base, other = incoming, existing
	}

	merged := base
	merged.IsVerified = existing.IsVerified || incoming.IsVerified
	if len(other.Title) > len(merged.Title) {
		merged.Title = other.Title
	}
	if merged.Description == "" {
		merged.Description = other.Description
	}
	if merged.CodeSnippet == "" {
		merged.CodeSnippet = other.CodeSnippet
	}
	if merged.Source == "" {
		merged.Source = other.Source
	}
	if merged.Sink == "" {
		merged.Sink = other.Sink
	}
	if merged.POC == "" {
		merged.POC = other.POC
	}
	if merged.Impact == "" {
		merged.Impact = other.Impact
	}
	if merged.Recommendation == "" {
		merged.Recommendation = other.Recommendation
	}
	if merged.CWEID == "" {
		merged.CWEID = other.CWEID
	}
	if merged.CVSSScore == 0 {
		merged.CVSSScore = other.CVSSScore
	}
	if other.Confidence > merged.Confidence {
		merged.Confidence = other.Confidence
	}
	if betterVerdict(other.Verdict, merged.Verdict) {
		merged.Verdict = other.Verdict
	}
	return merged
}

// verdictRank orders verdicts from least to most conclusive.
var verdictRank = map[Verdict]int{
	Verdict(""):          0,
	VerdictUncertain:      1,
	VerdictFalsePositive:  1,
	VerdictLikely:         2,
	VerdictConfirmed:      3,
}

func betterVerdict(a, b Verdict) bool {
	return verdictRank[a] > verdictRank[b]
}

// Findings returns the deduplicated set in first-seen order.
func (d *Deduper) Findings() []Finding {
	out := make([]Finding, len(d.out))
	copy(out, d.out)
	return out
}
