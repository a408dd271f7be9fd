// Package sandbox runs untrusted code or proof-of-concept exploits inside
// an isolated, resource-capped, network-disabled Docker container and
// returns its stdout, stderr, and exit code.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/codeready-toolchain/secaudit/pkg/apperr"
)

// Language selects the container image and run command for a Spec.
type Language string

const (
	LanguagePython Language = "python"
	LanguageNode   Language = "nodejs"
	LanguageGo     Language = "go"
	LanguageBash   Language = "bash"
	LanguagePHP    Language = "php"
	LanguageJava   Language = "java"
	LanguageRuby   Language = "ruby"
)

// languageAliases folds the names models commonly use onto the canonical
// Language values above.
var languageAliases = map[string]Language{
	"javascript": LanguageNode,
	"node":       LanguageNode,
	"js":         LanguageNode,
	"shell":      LanguageBash,
	"sh":         LanguageBash,
	"golang":     LanguageGo,
	"python3":    LanguagePython,
}

// NormalizeLanguage resolves aliases to a canonical Language; unknown
// names pass through unchanged so Run can report them precisely.
func NormalizeLanguage(name string) Language {
	if canonical, ok := languageAliases[strings.ToLower(name)]; ok {
		return canonical
	}
	return Language(strings.ToLower(name))
}

var images = map[Language]string{
	LanguagePython: "python:3.11-alpine",
	LanguageNode:   "node:20-alpine",
	LanguageGo:     "golang:1.22-alpine",
	LanguageBash:   "bash:5-alpine",
	LanguagePHP:    "php:8.2-cli-alpine",
	LanguageJava:   "eclipse-temurin:17-jdk-alpine",
	LanguageRuby:   "ruby:3.2-alpine",
}

var mainFilenames = map[Language]string{
	LanguagePython: "main.py",
	LanguageNode:   "main.js",
	LanguageGo:     "main.go",
	LanguageBash:   "main.sh",
	LanguagePHP:    "main.php",
	LanguageJava:   "Main.java",
	LanguageRuby:   "main.rb",
}

var runCommands = map[Language][]string{
	LanguagePython: {"python", "/workspace/main.py"},
	LanguageNode:   {"node", "/workspace/main.js"},
	LanguageGo:     {"sh", "-c", "cd /workspace && go run main.go"},
	LanguageBash:   {"bash", "/workspace/main.sh"},
	LanguagePHP:    {"php", "/workspace/main.php"},
	LanguageJava:   {"sh", "-c", "cd /workspace && javac Main.java && java Main"},
	LanguageRuby:   {"ruby", "/workspace/main.rb"},
}

// Spec is one sandboxed run request.
type Spec struct {
	Language   Language
	Code       string
	Files      map[string]string // extra filename -> content, copied alongside Code
	Timeout    time.Duration
	CPUCores   float64 // fractional cores, e.g. 0.5; default 1
	MemoryMB   int64   // default 512
	PIDsLimit  int64   // default 64
	AllowNetwork bool
}

// Result is the outcome of a sandboxed run.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int64
	TimedOut bool
}

// ExecSpec is a generic command execution request: no entrypoint file is
// written, Command runs directly against a read-only bind mount of the
// host project root plus a writable tmpfs scratch directory. This backs
// sandbox_exec, sandbox_http, and every external-scanner tool in
// pkg/tool/scanner, all of which need to run a real binary against
// project sources rather than a single generated snippet.
type ExecSpec struct {
	Image        string // defaults to DefaultExecImage
	Command      []string
	ProjectRoot  string // host path bind-mounted read-only at ProjectMountPath
	Env          map[string]string
	Timeout      time.Duration
	CPUCores     float64
	MemoryMB     int64
	PIDsLimit    int64
	ScratchMB    int64 // tmpfs size cap at /tmp, default 64
	AllowNetwork bool
}

// DefaultExecImage is used by ExecSpec when Image is unset: a small image
// scanners and ad-hoc shell commands can reasonably run under.
const DefaultExecImage = "alpine:3.19"

// ProjectMountPath is the fixed in-container path the project root is
// bind-mounted read-only at, for every ExecSpec run.
const ProjectMountPath = "/project"

// Runner executes Specs against a Docker daemon reachable via the
// environment's standard DOCKER_HOST conventions.
type Runner struct {
	docker *client.Client
}

// New connects to the local Docker daemon using the standard environment
// variables (DOCKER_HOST, DOCKER_CERT_PATH, DOCKER_TLS_VERIFY).
func New() (*Runner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, apperr.New(apperr.KindToolExternal, "could not connect to docker daemon", err)
	}
	return &Runner{docker: cli}, nil
}

// Close releases the underlying Docker client connection.
func (r *Runner) Close() error {
	return r.docker.Close()
}

// Run creates a throwaway container, bind-mounts the workspace at /workspace, executes it
// under the spec's resource caps, and removes the container whether or not
// the run succeeds.
func (r *Runner) Run(ctx context.Context, spec Spec) (Result, error) {
	image, ok := images[spec.Language]
	if !ok {
		return Result{}, apperr.New(apperr.KindValidationInput, fmt.Sprintf("unsupported sandbox language %q", spec.Language), nil)
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cpuCores := spec.CPUCores
	if cpuCores <= 0 {
		cpuCores = 1
	}
	memoryMB := spec.MemoryMB
	if memoryMB <= 0 {
		memoryMB = 512
	}
	pidsLimit := spec.PIDsLimit
	if pidsLimit <= 0 {
		pidsLimit = 64
	}

	workspace, err := os.MkdirTemp("", "secaudit-sandbox-*")
	if err != nil {
		return Result{}, apperr.New(apperr.KindToolExecution, "could not create sandbox workspace", err)
	}
	defer os.RemoveAll(workspace)

	if err := writeWorkspace(workspace, spec); err != nil {
		return Result{}, err
	}

	networkMode := container.NetworkMode("none")
	if spec.AllowNetwork {
		networkMode = container.NetworkMode("bridge")
	}

	memBytes := memoryMB * 1024 * 1024
	hostConfig := &container.HostConfig{
		NetworkMode: networkMode,
		AutoRemove:  false,
		Resources: container.Resources{
			Memory:     memBytes,
			MemorySwap: memBytes, // no swap beyond the memory limit
			NanoCPUs:   int64(cpuCores * 1e9),
			PidsLimit:  &pidsLimit,
		},
		Mounts: []mount.Mount{{
			Type:     mount.TypeBind,
			Source:   workspace,
			Target:   "/workspace",
			ReadOnly: false,
		}},
	}

	created, err := r.docker.ContainerCreate(runCtx, &container.Config{
		Image:      image,
		Cmd:        runCommands[spec.Language],
		WorkingDir: "/workspace",
		Tty:        false,
	}, hostConfig, nil, nil, "")
	if err != nil {
		return Result{}, apperr.New(apperr.KindToolExternal, "docker container create failed", err)
	}
	containerID := created.ID

	defer func() {
		_ = r.docker.ContainerRemove(context.Background(), containerID, container.RemoveOptions{Force: true})
	}()

	if err := r.docker.ContainerStart(runCtx, containerID, container.StartOptions{}); err != nil {
		return Result{}, apperr.New(apperr.KindToolExternal, "docker container start failed", err)
	}

	return r.waitAndCollect(runCtx, containerID)
}

// Exec runs an arbitrary command inside an ephemeral container with the
// project root mounted read-only at ProjectMountPath and a size-capped
// tmpfs scratch directory at /tmp — the substrate backing sandbox_exec,
// sandbox_http, and the external scanner tools. Network is disabled
// unless AllowNetwork opts in.
func (r *Runner) Exec(ctx context.Context, spec ExecSpec) (Result, error) {
	if len(spec.Command) == 0 {
		return Result{}, apperr.New(apperr.KindValidationInput, "sandbox exec requires a command", nil)
	}

	image := spec.Image
	if image == "" {
		image = DefaultExecImage
	}
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cpuCores := spec.CPUCores
	if cpuCores <= 0 {
		cpuCores = 1
	}
	memoryMB := spec.MemoryMB
	if memoryMB <= 0 {
		memoryMB = 512
	}
	pidsLimit := spec.PIDsLimit
	if pidsLimit <= 0 {
		pidsLimit = 64
	}
	scratchMB := spec.ScratchMB
	if scratchMB <= 0 {
		scratchMB = 64
	}

	networkMode := container.NetworkMode("none")
	if spec.AllowNetwork {
		networkMode = container.NetworkMode("bridge")
	}

	memBytes := memoryMB * 1024 * 1024
	mounts := []mount.Mount{{
		Type:     mount.TypeTmpfs,
		Target:   "/tmp",
		TmpfsOptions: &mount.TmpfsOptions{SizeBytes: scratchMB * 1024 * 1024},
	}}
	if spec.ProjectRoot != "" {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   spec.ProjectRoot,
			Target:   ProjectMountPath,
			ReadOnly: true,
		})
	}

	hostConfig := &container.HostConfig{
		NetworkMode:    networkMode,
		AutoRemove:     false,
		CapDrop:        []string{"ALL"},
		SecurityOpt:    []string{"no-new-privileges"},
		Resources: container.Resources{
			Memory:     memBytes,
			MemorySwap: memBytes,
			NanoCPUs:   int64(cpuCores * 1e9),
			PidsLimit:  &pidsLimit,
		},
		Mounts: mounts,
	}

	env := scrubProxyEnv(os.Environ())
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}

	created, err := r.docker.ContainerCreate(runCtx, &container.Config{
		Image:      image,
		Cmd:        spec.Command,
		Env:        env,
		WorkingDir: ProjectMountPath,
		Tty:        false,
	}, hostConfig, nil, nil, "")
	if err != nil {
		return Result{}, apperr.New(apperr.KindToolExternal, "docker container create failed", err)
	}
	containerID := created.ID
	defer func() {
		_ = r.docker.ContainerRemove(context.Background(), containerID, container.RemoveOptions{Force: true})
	}()

	if err := r.docker.ContainerStart(runCtx, containerID, container.StartOptions{}); err != nil {
		return Result{}, apperr.New(apperr.KindToolExternal, "docker container start failed", err)
	}

	return r.waitAndCollect(runCtx, containerID)
}

// waitAndCollect blocks until containerID exits (or runCtx's deadline
// fires), then demultiplexes its combined log stream into stdout/stderr.
func (r *Runner) waitAndCollect(runCtx context.Context, containerID string) (Result, error) {
	statusCh, errCh := r.docker.ContainerWait(runCtx, containerID, container.WaitConditionNotRunning)
	var exitCode int64
	select {
	case waitErr := <-errCh:
		if runCtx.Err() == context.DeadlineExceeded {
			return Result{TimedOut: true}, nil
		}
		if waitErr != nil {
			return Result{}, apperr.New(apperr.KindToolExternal, "docker container wait failed", waitErr)
		}
	case status := <-statusCh:
		exitCode = status.StatusCode
	}

	logs, err := r.docker.ContainerLogs(context.Background(), containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return Result{}, apperr.New(apperr.KindToolExternal, "docker container logs failed", err)
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil && err != io.EOF {
		return Result{}, apperr.New(apperr.KindToolExternal, "docker log demux failed", err)
	}

	return Result{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: exitCode}, nil
}

// scrubProxyEnv drops proxy-related variables from a copied environment
// before it is merged with caller-supplied overrides, so a host proxy
// never leaks into (or reroutes) a sandboxed run.
func scrubProxyEnv(env []string) []string {
	out := make([]string, 0, len(env))
	for _, kv := range env {
		upper := strings.ToUpper(kv)
		if strings.HasPrefix(upper, "HTTP_PROXY=") || strings.HasPrefix(upper, "HTTPS_PROXY=") ||
			strings.HasPrefix(upper, "NO_PROXY=") || strings.HasPrefix(upper, "ALL_PROXY=") {
			continue
		}
		out = append(out, kv)
	}
	return out
}

func writeWorkspace(workspace string, spec Spec) error {
	mainFile := mainFilenames[spec.Language]
	if err := os.WriteFile(workspace+"/"+mainFile, []byte(spec.Code), 0o644); err != nil {
		return apperr.New(apperr.KindToolExecution, "could not write sandbox entrypoint", err)
	}
	for name, content := range spec.Files {
		name = strings.TrimPrefix(name, "/")
		if strings.Contains(name, "..") {
			return apperr.New(apperr.KindValidationPath, "sandbox file name escapes workspace: "+name, nil)
		}
		if err := os.WriteFile(workspace+"/"+name, []byte(content), 0o644); err != nil {
			return apperr.New(apperr.KindToolExecution, "could not write sandbox file "+name, err)
		}
	}
	return nil
}
