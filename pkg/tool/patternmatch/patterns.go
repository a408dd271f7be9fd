package patternmatch

import "regexp"

// sig is one dangerous-code signature: a regex source and a short name
// for the construct it matches. Signatures are compiled once at package
// init, case-insensitively.
type sig struct {
	expr string
	name string
}

// vulnClass groups the per-language signature sets for one vulnerability
// type. Signatures under the "_common" key apply regardless of language.
type vulnClass struct {
	patterns    map[string][]sig
	severity    string
	description string
	cweID       string
}

// vulnClasses is the static signature library. These are fast, coarse
// heuristics: a match is a lead for an analysis agent to chase, not a
// finding in itself.
var vulnClasses = map[string]vulnClass{
	"sql_injection": {
		patterns: map[string][]sig{
			"python": {
				{`cursor\.execute\s*\(\s*["'].*%[sd].*["'].*%`, "SQL built with % formatting"},
				{`cursor\.execute\s*\(\s*f["']`, "SQL built with an f-string"},
				{`cursor\.execute\s*\([^,)]+\+`, "SQL built by string concatenation"},
				{`\.execute\s*\(\s*["'][^"']*\{`, "SQL built with str.format"},
				{`text\s*\(\s*["'].*\+.*["']`, "SQLAlchemy text() concatenation"},
			},
			"javascript": {
				{"\\.query\\s*\\(\\s*[`\"'].*\\$\\{", "SQL built with a template literal"},
				{`\.query\s*\(\s*["'].*\+`, "SQL built by string concatenation"},
				{`mysql\.query\s*\([^,)]+\+`, "MySQL query concatenation"},
			},
			"java": {
				{`Statement.*execute.*\+`, "Statement built by concatenation"},
				{`createQuery\s*\([^,)]+\+`, "JPA query concatenation"},
				{`\.executeQuery\s*\([^,)]+\+`, "executeQuery concatenation"},
			},
			"php": {
				{`mysql_query\s*\(\s*["'].*\.\s*\$`, "mysql_query concatenation"},
				{`mysqli_query\s*\([^,]+,\s*["'].*\.\s*\$`, "mysqli_query concatenation"},
				{`\$pdo->query\s*\(\s*["'].*\.\s*\$`, "PDO query concatenation"},
			},
			"go": {
				{`\.Query\s*\([^,)]+\+`, "Query string concatenation"},
				{`\.Exec\s*\([^,)]+\+`, "Exec string concatenation"},
			},
		},
		severity:    "high",
		description: "SQL injection: user input concatenated into a SQL statement",
		cweID:       "CWE-89",
	},
	"xss": {
		patterns: map[string][]sig{
			"javascript": {
				{`innerHTML\s*=\s*[^;]+`, "innerHTML assignment"},
				{`outerHTML\s*=\s*[^;]+`, "outerHTML assignment"},
				{`document\.write\s*\(`, "document.write"},
				{`\.html\s*\([^)]+\)`, "jQuery html()"},
				{`dangerouslySetInnerHTML`, "React dangerouslySetInnerHTML"},
			},
			"python": {
				{`\|\s*safe\b`, "Django safe filter"},
				{`Markup\s*\(`, "Flask Markup"},
				{`mark_safe\s*\(`, "Django mark_safe"},
			},
			"php": {
				{`echo\s+\$_(?:GET|POST|REQUEST)`, "request parameter echoed directly"},
				{`print\s+\$_(?:GET|POST|REQUEST)`, "request parameter printed directly"},
			},
			"java": {
				{`out\.print(?:ln)?\s*\([^)]*request\.getParameter`, "request parameter written to response"},
			},
		},
		severity:    "high",
		description: "Cross-site scripting: unescaped user input rendered into a page",
		cweID:       "CWE-79",
	},
	"command_injection": {
		patterns: map[string][]sig{
			"python": {
				{`os\.system\s*\([^)]*\+`, "os.system concatenation"},
				{`os\.system\s*\([^)]*%`, "os.system formatting"},
				{`os\.system\s*\(\s*f["']`, "os.system f-string"},
				{`subprocess\.(?:call|run|Popen)\s*\([^)]*shell\s*=\s*True`, "subprocess with shell=True"},
				{`subprocess\.(?:call|run|Popen)\s*\(\s*["'][^"']+%`, "subprocess command formatting"},
				{`eval\s*\(`, "eval()"},
				{`exec\s*\(`, "exec()"},
			},
			"javascript": {
				{`exec\s*\([^)]+\+`, "exec concatenation"},
				{`spawn\s*\([^)]+,\s*\{[^}]*shell:\s*true`, "spawn with shell: true"},
				{`eval\s*\(`, "eval()"},
				{`Function\s*\(`, "Function constructor"},
			},
			"php": {
				{`exec\s*\(\s*\$`, "exec on a variable"},
				{`system\s*\(\s*\$`, "system on a variable"},
				{`passthru\s*\(\s*\$`, "passthru on a variable"},
				{`shell_exec\s*\(\s*\$`, "shell_exec on a variable"},
				{"`[^`]*\\$[^`]*`", "backtick command execution"},
			},
			"java": {
				{`Runtime\.getRuntime\(\)\.exec\s*\([^)]+\+`, "Runtime.exec concatenation"},
				{`ProcessBuilder[^;]+\+`, "ProcessBuilder concatenation"},
			},
			"go": {
				{`exec\.Command\s*\([^)]+\+`, "exec.Command concatenation"},
			},
		},
		severity:    "critical",
		description: "Command injection: user input used to build a system command",
		cweID:       "CWE-78",
	},
	"path_traversal": {
		patterns: map[string][]sig{
			"python": {
				{`open\s*\([^)]*\+`, "open() concatenation"},
				{`open\s*\([^)]*%`, "open() formatting"},
				{`os\.path\.join\s*\([^)]*request`, "path joined with request data"},
				{`send_file\s*\([^)]*request`, "send_file on request data"},
			},
			"javascript": {
				{`fs\.read(?:File|FileSync)\s*\([^)]+\+`, "readFile concatenation"},
				{`path\.join\s*\([^)]*req\.`, "path.join with request data"},
				{`res\.sendFile\s*\([^)]+\+`, "sendFile concatenation"},
			},
			"php": {
				{`include\s*\(\s*\$`, "include on a variable"},
				{`require\s*\(\s*\$`, "require on a variable"},
				{`file_get_contents\s*\(\s*\$`, "file_get_contents on a variable"},
				{`fopen\s*\(\s*\$`, "fopen on a variable"},
			},
			"java": {
				{`new\s+File\s*\([^)]+request\.getParameter`, "File built from request data"},
				{`new\s+FileInputStream\s*\([^)]+\+`, "FileInputStream concatenation"},
			},
		},
		severity:    "high",
		description: "Path traversal: user input controls a filesystem path",
		cweID:       "CWE-22",
	},
	"ssrf": {
		patterns: map[string][]sig{
			"python": {
				{`requests\.(?:get|post|put|delete)\s*\([^)]*request\.`, "requests call on a user URL"},
				{`urllib\.request\.urlopen\s*\([^)]*request\.`, "urlopen on a user URL"},
				{`httpx\.(?:get|post)\s*\([^)]*request\.`, "httpx call on a user URL"},
			},
			"javascript": {
				{`fetch\s*\([^)]*req\.`, "fetch on a user URL"},
				{`axios\.(?:get|post)\s*\([^)]*req\.`, "axios call on a user URL"},
				{`http\.request\s*\([^)]*req\.`, "http.request on a user URL"},
			},
			"java": {
				{`new\s+URL\s*\([^)]*request\.getParameter`, "URL built from request data"},
				{`HttpClient[^;]+request\.getParameter`, "HttpClient on a user URL"},
			},
			"php": {
				{`curl_setopt[^;]+CURLOPT_URL[^;]+\$`, "curl on a variable URL"},
				{`file_get_contents\s*\(\s*\$_`, "file_get_contents on request data"},
			},
		},
		severity:    "high",
		description: "Server-side request forgery: the server fetches a user-controlled URL",
		cweID:       "CWE-918",
	},
	"deserialization": {
		patterns: map[string][]sig{
			"python": {
				{`pickle\.loads?\s*\(`, "pickle deserialization"},
				{`yaml\.load\s*\(`, "yaml.load without a safe loader"},
				{`yaml\.unsafe_load\s*\(`, "yaml.unsafe_load"},
				{`marshal\.loads?\s*\(`, "marshal deserialization"},
			},
			"javascript": {
				{`unserialize\s*\(`, "unserialize"},
			},
			"java": {
				{`ObjectInputStream\s*\(`, "ObjectInputStream"},
				{`XMLDecoder\s*\(`, "XMLDecoder"},
				{`readObject\s*\(`, "readObject"},
			},
			"php": {
				{`unserialize\s*\(\s*\$`, "unserialize on a variable"},
			},
		},
		severity:    "critical",
		description: "Insecure deserialization: attacker-controlled data deserialized, may lead to code execution",
		cweID:       "CWE-502",
	},
	"hardcoded_secret": {
		patterns: map[string][]sig{
			"_common": {
				{`(?:password|passwd|pwd)\s*=\s*["'][^"']{4,}["']`, "hardcoded password"},
				{`(?:secret|api_?key|apikey|token|auth)\s*=\s*["'][^"']{8,}["']`, "hardcoded secret"},
				{`(?:private_?key|priv_?key)\s*=\s*["'][^"']+["']`, "hardcoded private key"},
				{`-----BEGIN\s+(?:RSA\s+)?PRIVATE\s+KEY-----`, "embedded private key"},
				{`(?:aws_?access_?key|aws_?secret)\s*=\s*["'][^"']+["']`, "hardcoded AWS credential"},
				{`(?:ghp_|gho_|github_pat_)[a-zA-Z0-9]{36,}`, "GitHub token"},
				{`sk-[a-zA-Z0-9]{48}`, "API key literal"},
				{`(?:bearer|authorization)\s*[=:]\s*["'][^"']{20,}["']`, "hardcoded bearer token"},
			},
		},
		severity:    "medium",
		description: "Hardcoded secret: credentials embedded in source",
		cweID:       "CWE-798",
	},
	"weak_crypto": {
		patterns: map[string][]sig{
			"python": {
				{`hashlib\.md5\s*\(`, "MD5 hash"},
				{`hashlib\.sha1\s*\(`, "SHA-1 hash"},
				{`random\.random\s*\(`, "non-cryptographic randomness"},
			},
			"javascript": {
				{`crypto\.createHash\s*\(\s*["']md5["']`, "MD5 hash"},
				{`crypto\.createHash\s*\(\s*["']sha1["']`, "SHA-1 hash"},
				{`Math\.random\s*\(`, "Math.random"},
			},
			"java": {
				{`MessageDigest\.getInstance\s*\(\s*["']MD5["']`, "MD5 hash"},
				{`MessageDigest\.getInstance\s*\(\s*["']SHA-?1["']`, "SHA-1 hash"},
				{`DESKeySpec`, "DES key"},
			},
			"php": {
				{`md5\s*\(`, "MD5 hash"},
				{`sha1\s*\(`, "SHA-1 hash"},
				{`mcrypt_`, "deprecated mcrypt"},
			},
		},
		severity:    "low",
		description: "Weak cryptography: insecure hash or cipher in use",
		cweID:       "CWE-327",
	},
}

// compiled caches the case-insensitive compilation of every signature,
// keyed by its source expression. Populated at init so a malformed
// signature fails fast rather than mid-scan.
var compiled = map[string]*regexp.Regexp{}

func init() {
	for _, class := range vulnClasses {
		for _, sigs := range class.patterns {
			for _, s := range sigs {
				if _, ok := compiled[s.expr]; !ok {
					compiled[s.expr] = regexp.MustCompile("(?i)" + s.expr)
				}
			}
		}
	}
}

// languageByExtension maps a file extension to the signature-set language
// key, used when the caller doesn't name a language explicitly.
var languageByExtension = map[string]string{
	".py":   "python",
	".js":   "javascript",
	".jsx":  "javascript",
	".ts":   "javascript",
	".tsx":  "javascript",
	".java": "java",
	".php":  "php",
	".go":   "go",
	".rb":   "ruby",
}
