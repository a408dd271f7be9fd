package scanner

// Presets returns the seven external-scanner tools, each wired against
// the same Execer/project root. Semgrep and OSV-Scanner are the only
// ones given AllowNetwork: true: Semgrep fetches its registry rule sets
// and OSV-Scanner queries its vulnerability database over the network.
func Presets(execer Execer, projectRoot, projectDirName string) []*Tool {
	return []*Tool{
		{
			ToolName: "scanner.semgrep_scan", ToolDesc: "Run Semgrep static analysis over a path in the project and return findings as JSON.",
			Image: "returntocorp/semgrep:latest", Execer: execer, ProjectRoot: projectRoot, ProjectDirName: projectDirName,
			AllowNetwork: true,
			BuildCommand: func(target string) []string {
				return []string{"semgrep", "--config=auto", "--json", "--quiet", target}
			},
		},
		{
			ToolName: "scanner.bandit_scan", ToolDesc: "Run Bandit (Python security linter) over a path in the project and return findings as JSON.",
			Image: "python:3.11-alpine", Execer: execer, ProjectRoot: projectRoot, ProjectDirName: projectDirName,
			BuildCommand: func(target string) []string {
				return []string{"sh", "-c", "pip install -q bandit && bandit -r -f json -q " + target + " || true"}
			},
		},
		{
			ToolName: "scanner.gitleaks_scan", ToolDesc: "Run Gitleaks secret scanning over a path in the project and return findings as JSON lines.",
			Image: "zricethezav/gitleaks:latest", Execer: execer, ProjectRoot: projectRoot, ProjectDirName: projectDirName,
			BuildCommand: func(target string) []string {
				return []string{"gitleaks", "detect", "--no-git", "--source", target, "--report-format", "json", "--report-path", "/dev/stdout", "--exit-code", "0"}
			},
		},
		{
			ToolName: "scanner.trufflehog_scan", ToolDesc: "Run TruffleHog secret scanning over a path in the project and return findings as JSON lines.",
			Image: "trufflesecurity/trufflehog:latest", Execer: execer, ProjectRoot: projectRoot, ProjectDirName: projectDirName,
			BuildCommand: func(target string) []string {
				return []string{"trufflehog", "filesystem", target, "--json"}
			},
		},
		{
			ToolName: "scanner.npm_audit", ToolDesc: "Run npm audit over a Node project directory and return its JSON vulnerability report.",
			Image: "node:20-alpine", Execer: execer, ProjectRoot: projectRoot, ProjectDirName: projectDirName,
			BuildCommand: func(target string) []string {
				return []string{"sh", "-c", "cd " + target + " && npm audit --json || true"}
			},
		},
		{
			ToolName: "scanner.safety_scan", ToolDesc: "Run the Safety dependency-vulnerability scanner over a Python requirements file and return JSON.",
			Image: "python:3.11-alpine", Execer: execer, ProjectRoot: projectRoot, ProjectDirName: projectDirName,
			BuildCommand: func(target string) []string {
				return []string{"sh", "-c", "pip install -q safety && safety check -r " + target + "/requirements.txt --json || true"}
			},
		},
		{
			ToolName: "scanner.osv_scan", ToolDesc: "Run the OSV-Scanner dependency-vulnerability scanner over a path in the project and return JSON.",
			Image: "ghcr.io/google/osv-scanner:latest", Execer: execer, ProjectRoot: projectRoot, ProjectDirName: projectDirName,
			AllowNetwork: true,
			BuildCommand: func(target string) []string {
				return []string{"osv-scanner", "--format", "json", "-r", target}
			},
		},
	}
}
