package vulntest

import "time"

// commandInjectionPatterns, sqlInjectionPatterns, etc. are the detection
// heuristics: substrings or error signatures that typically only appear
// in a response when the injected payload actually executed or altered
// the query/template/deserialization path.
var (
	commandInjectionPatterns = compile(
		`uid=\d+.*gid=\d+`,
		`root:.*:0:0:`,
		`(?i)total \d+\s*\n?(?:drwx|\-rw)`,
	)
	sqlInjectionPatterns = compile(
		`(?i)sql syntax`,
		`(?i)unclosed quotation mark`,
		`(?i)pg_query\(\)`,
		`(?i)sqlite3\.OperationalError`,
		`(?i)ORA-\d{5}`,
	)
	xssPatterns = compile(
		`<script>alert\(1\)</script>`,
		`onerror=alert\(1\)`,
	)
	pathTraversalPatterns = compile(
		`root:.*:0:0:`,
		`(?i)\[boot loader\]`,
		`(?i)for 16-bit app support`,
	)
	sstiPatterns = compile(
		`\b49\b`,
		`(?i)jinja2\.exceptions`,
		`(?i)freemarker\.core`,
	)
	deserializationPatterns = compile(
		`(?i)java\.io\.invalidclassexception`,
		`(?i)picklingerror`,
		`(?i)could not resolve type id`,
	)
)

// Presets returns the six vuln-class tester tools, each sharing
// the caller-supplied Execer (typically a sandbox.Runner's Exec method
// with network enabled for this one call only).
func Presets(execer Execer) []*Test {
	return []*Test{
		{
			ToolName: "vulntest.test_command_injection", ToolDesc: "Probe an endpoint for OS command injection by submitting shell metacharacter payloads and checking for command-output leakage.",
			VulnType: "command_injection", Execer: execer, Timeout: 15 * time.Second,
			Payloads: []string{"; id", "| id", "`id`", "$(id)"},
			Patterns: commandInjectionPatterns,
		},
		{
			ToolName: "vulntest.test_sql_injection", ToolDesc: "Probe an endpoint for SQL injection by submitting quote-breaking payloads and checking for database error signatures.",
			VulnType: "sql_injection", Execer: execer, Timeout: 15 * time.Second,
			Payloads: []string{"'", "' OR '1'='1", "\" OR \"1\"=\"1", "'; --"},
			Patterns: sqlInjectionPatterns,
		},
		{
			ToolName: "vulntest.test_xss", ToolDesc: "Probe an endpoint for reflected cross-site scripting by submitting a script payload and checking whether it is reflected unescaped.",
			VulnType: "xss", Execer: execer, Timeout: 15 * time.Second,
			Payloads: []string{"<script>alert(1)</script>", "\"><script>alert(1)</script>", "<img src=x onerror=alert(1)>"},
			Patterns: xssPatterns,
		},
		{
			ToolName: "vulntest.test_path_traversal", ToolDesc: "Probe an endpoint for path traversal by submitting relative-path payloads and checking for leaked system file contents.",
			VulnType: "path_traversal", Execer: execer, Timeout: 15 * time.Second,
			Payloads: []string{"../../../../etc/passwd", "..\\..\\..\\..\\windows\\win.ini", "%2e%2e%2fetc%2fpasswd"},
			Patterns: pathTraversalPatterns,
		},
		{
			ToolName: "vulntest.test_ssti", ToolDesc: "Probe an endpoint for server-side template injection by submitting an arithmetic template expression and checking for its evaluated result.",
			VulnType: "ssti", Execer: execer, Timeout: 15 * time.Second,
			Payloads: []string{"{{7*7}}", "${7*7}", "#{7*7}", "<%= 7*7 %>"},
			Patterns: sstiPatterns,
		},
		{
			ToolName: "vulntest.test_deserialization", ToolDesc: "Probe an endpoint for insecure deserialization by submitting a malformed serialized payload and checking for deserialization error signatures.",
			VulnType: "deserialization", Execer: execer, Timeout: 15 * time.Second,
			Payloads: []string{"rO0ABXNy", "\x80\x04\x95", "O:8:\"stdClass\":0:{}"},
			Patterns: deserializationPatterns,
		},
	}
}
