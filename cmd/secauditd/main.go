// secauditd is the multi-agent static security auditor's engine binary:
// "serve" runs the orchestrator behind an HTTP/WebSocket control plane,
// "audit" drives one investigation to completion from the command line,
// and the remaining subcommands are thin HTTP clients against a running
// "serve" process's control-plane endpoints.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/codeready-toolchain/secaudit/pkg/api"
	"github.com/codeready-toolchain/secaudit/pkg/apperr"
	"github.com/codeready-toolchain/secaudit/pkg/checkpoint"
	"github.com/codeready-toolchain/secaudit/pkg/config"
	"github.com/codeready-toolchain/secaudit/pkg/database"
	"github.com/codeready-toolchain/secaudit/pkg/events"
	"github.com/codeready-toolchain/secaudit/pkg/llm"
	"github.com/codeready-toolchain/secaudit/pkg/llm/anthropic"
	"github.com/codeready-toolchain/secaudit/pkg/llm/openai"
	"github.com/codeready-toolchain/secaudit/pkg/orchestrator"
	"github.com/codeready-toolchain/secaudit/pkg/pathguard"
	"github.com/codeready-toolchain/secaudit/pkg/resilience/breaker"
	"github.com/codeready-toolchain/secaudit/pkg/resilience/ratelimit"
	"github.com/codeready-toolchain/secaudit/pkg/sandbox"
	"github.com/codeready-toolchain/secaudit/pkg/telemetry"
	"github.com/codeready-toolchain/secaudit/pkg/tool"
	"github.com/codeready-toolchain/secaudit/pkg/tool/fileset"
	"github.com/codeready-toolchain/secaudit/pkg/tool/patternmatch"
	"github.com/codeready-toolchain/secaudit/pkg/tool/sandboxrun"
	"github.com/codeready-toolchain/secaudit/pkg/tool/scanner"
	"github.com/codeready-toolchain/secaudit/pkg/tool/semantic"
	"github.com/codeready-toolchain/secaudit/pkg/tool/vulntest"
	"github.com/codeready-toolchain/secaudit/pkg/version"
)

// Exit codes: success, internal error, cancelled, budget exceeded,
// invalid input — in that order, so scripts can branch on the cause.
const (
	exitSuccess          = 0
	exitInternalError    = 1
	exitCancelled        = 2
	exitBudgetExceeded   = 3
	exitValidationFailed = 4
)

func main() {
	root := buildRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(exitInternalError)
	}
}

func buildRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "secauditd",
		Short:   "Multi-agent static security auditor engine",
		Version: version.Full(),
	}
	cmd.AddCommand(
		buildServeCmd(),
		buildAuditCmd(),
		buildStopAgentCmd(),
		buildStopAllCmd(),
		buildSendMessageCmd(),
		buildGraphCmd(),
		buildFindingsCmd(),
	)
	return cmd
}

// =============================================================================
// serve
// =============================================================================

func buildServeCmd() *cobra.Command {
	var configDir string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the engine's HTTP/WebSocket control plane",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configDir)
		},
	}
	cmd.Flags().StringVarP(&configDir, "config-dir", "c", getEnv("CONFIG_DIR", "./deploy/config"),
		"path to the directory containing secaudit.yaml and .env")
	return cmd
}

func runServe(ctx context.Context, configDir string) error {
	loadDotenv(configDir)

	cfg, err := config.Initialize(ctx, configDir)
	if err != nil {
		return fmt.Errorf("failed to initialize configuration: %w", err)
	}

	shutdownTracing, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			slog.Error("error shutting down tracer provider", "error", err)
		}
	}()

	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load database config: %w", err)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("error closing database client", "error", err)
		}
	}()
	slog.Info("connected to database", "host", dbConfig.Host, "database", dbConfig.Database)

	llmClient, projectRoot, err := buildLLMClient(cfg)
	if err != nil {
		return err
	}
	defer llmClient.Close()

	baseTools, err := buildBaseTools(cfg, projectRoot)
	if err != nil {
		return err
	}

	checkpointStore := checkpoint.New(dbClient.Client)

	publisher := events.NewEventPublisher(dbClient.DB())
	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		dbConfig.User, dbConfig.Password, dbConfig.Host, dbConfig.Port, dbConfig.Database, dbConfig.SSLMode)
	connManager := events.NewConnectionManager(events.NewSQLCatchupQuerier(dbClient.DB()), 10*time.Second)
	listener := events.NewNotifyListener(connString, connManager)
	connManager.SetListener(listener)
	if err := listener.Start(ctx); err != nil {
		slog.Warn("NOTIFY listener failed to start, websocket clients will miss cross-pod events", "error", err)
	} else {
		defer listener.Stop(ctx)
	}

	newOrchestrator := func() *orchestrator.Orchestrator {
		o := orchestrator.New(llmClient, baseTools, orchestratorConfig(cfg))
		o.Checkpoints = checkpointStore
		o.CheckpointKeep = 5
		return o
	}

	srv := api.NewServer(newOrchestrator, publisher, connManager)

	gin.SetMode(cfg.Server.GinMode)
	router := gin.Default()
	router.GET("/health", func(c *gin.Context) {
		dbHealth, err := database.Health(c.Request.Context(), dbClient.DB())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "database": dbHealth, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":   "healthy",
			"version":  version.Full(),
			"database": dbHealth,
			"llm":      cfg.LLM.Provider,
		})
	})
	srv.Routes(router)

	httpServer := &http.Server{Addr: ":" + cfg.Server.HTTPPort, Handler: router}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-sigCtx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// =============================================================================
// audit — one-shot CLI investigation run
// =============================================================================

func buildAuditCmd() *cobra.Command {
	var configDir string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "audit <task description>",
		Short: "Run a single investigation to completion and print its findings",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task := args[0]
			for _, a := range args[1:] {
				task += " " + a
			}
			code := runAudit(cmd.Context(), configDir, task, timeout)
			if code != exitSuccess {
				os.Exit(code)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configDir, "config-dir", "c", getEnv("CONFIG_DIR", "./deploy/config"),
		"path to the directory containing secaudit.yaml and .env")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "wall-clock budget for the whole investigation")
	return cmd
}

func runAudit(ctx context.Context, configDir, task string, timeout time.Duration) int {
	loadDotenv(configDir)

	cfg, err := config.Initialize(ctx, configDir)
	if err != nil {
		log.Printf("configuration error: %v", err)
		return exitValidationFailed
	}

	shutdownTracing, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		log.Printf("tracing init error: %v", err)
		return exitInternalError
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	llmClient, projectRoot, err := buildLLMClient(cfg)
	if err != nil {
		log.Printf("%v", err)
		return exitInternalError
	}
	defer llmClient.Close()

	baseTools, err := buildBaseTools(cfg, projectRoot)
	if err != nil {
		log.Printf("%v", err)
		return exitInternalError
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sigCtx, stop := signal.NotifyContext(runCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch := orchestrator.New(llmClient, baseTools, orchestratorConfig(cfg))
	result, err := orch.Run(sigCtx, task)
	if err != nil {
		kind, _ := apperr.KindOf(err)
		switch kind {
		case apperr.KindAgentCancelled:
			log.Printf("investigation cancelled: %v", err)
			return exitCancelled
		case apperr.KindAgentIterLimit:
			log.Printf("investigation exceeded its iteration budget: %v", err)
			return exitBudgetExceeded
		case apperr.KindValidationInput, apperr.KindValidationPath, apperr.KindValidationSize:
			log.Printf("invalid input: %v", err)
			return exitValidationFailed
		default:
			log.Printf("investigation failed: %v", err)
			return exitInternalError
		}
	}

	out, _ := json.MarshalIndent(gin.H{
		"status":   result.Status,
		"analysis": result.Analysis,
		"findings": result.Findings,
		"agents":   result.AgentTree,
	}, "", "  ")
	fmt.Println(string(out))

	if result.Status != "completed" {
		return exitInternalError
	}
	return exitSuccess
}

// =============================================================================
// control-plane CLI subcommands — thin HTTP clients against "serve"
// =============================================================================

func buildStopAgentCmd() *cobra.Command {
	var server string
	cmd := &cobra.Command{
		Use:   "stop-agent <task-id> <agent-id>",
		Short: "Request cancellation of one agent and its subtree",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return controlCall(server, http.MethodPost,
				fmt.Sprintf("/tasks/%s/agents/%s/stop", args[0], args[1]), nil)
		},
	}
	addServerFlag(cmd, &server)
	return cmd
}

func buildStopAllCmd() *cobra.Command {
	var server string
	var excludeRoot bool
	cmd := &cobra.Command{
		Use:   "stop-all <task-id>",
		Short: "Request cancellation of every agent in a task's tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/tasks/%s/stop-all", args[0])
			if excludeRoot {
				path += "?exclude_root=true"
			}
			return controlCall(server, http.MethodPost, path, nil)
		},
	}
	addServerFlag(cmd, &server)
	cmd.Flags().BoolVar(&excludeRoot, "exclude-root", false, "leave the root orchestrator running")
	return cmd
}

func buildSendMessageCmd() *cobra.Command {
	var server string
	cmd := &cobra.Command{
		Use:   "send-message <task-id> <agent-id> <text>",
		Short: "Inject an operator instruction into an agent's inbox",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, _ := json.Marshal(map[string]string{"to": args[1], "text": args[2]})
			return controlCall(server, http.MethodPost, fmt.Sprintf("/tasks/%s/messages", args[0]), body)
		},
	}
	addServerFlag(cmd, &server)
	return cmd
}

func buildGraphCmd() *cobra.Command {
	var server string
	cmd := &cobra.Command{
		Use:   "graph <task-id>",
		Short: "Print a task's agent tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return controlCall(server, http.MethodGet, fmt.Sprintf("/tasks/%s/graph", args[0]), nil)
		},
	}
	addServerFlag(cmd, &server)
	return cmd
}

func buildFindingsCmd() *cobra.Command {
	var server string
	cmd := &cobra.Command{
		Use:   "findings <task-id>",
		Short: "Print a task's deduplicated findings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return controlCall(server, http.MethodGet, fmt.Sprintf("/tasks/%s/findings", args[0]), nil)
		},
	}
	addServerFlag(cmd, &server)
	return cmd
}

func addServerFlag(cmd *cobra.Command, server *string) {
	cmd.Flags().StringVar(server, "server", getEnv("SECAUDIT_SERVER", "http://localhost:8080"),
		"base URL of a running 'secauditd serve' instance")
}

func controlCall(serverURL, method, path string, body []byte) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, serverURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("control-plane request failed: %w", err)
	}
	defer resp.Body.Close()

	var envelope api.Envelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("malformed control-plane response: %w", err)
	}

	out, _ := json.MarshalIndent(envelope, "", "  ")
	fmt.Println(string(out))
	if !envelope.OK {
		return fmt.Errorf("control-plane call failed: %s", envelope.Error)
	}
	return nil
}

// =============================================================================
// shared wiring helpers
// =============================================================================

func loadDotenv(configDir string) {
	envPath := filepath.Join(configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("could not load .env file, continuing with existing environment", "path", envPath, "error", err)
	} else {
		slog.Info("loaded environment overrides", "path", envPath)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// buildLLMClient wraps the configured provider in the resilience Shim
// (rate limiter -> circuit breaker -> retry -> fallback, see
// llm.NewShim) and returns the project root every agent's fileset tools
// are scoped to.
func buildLLMClient(cfg *config.Config) (llm.Client, string, error) {
	provider, err := cfg.ActiveProvider()
	if err != nil {
		return nil, "", fmt.Errorf("failed to resolve active LLM provider: %w", err)
	}

	apiKey := os.Getenv(provider.APIKeyEnv)
	if apiKey == "" {
		return nil, "", fmt.Errorf("missing API key: environment variable %s is not set", provider.APIKeyEnv)
	}

	var underlying llm.Client
	switch provider.Type {
	case "openai":
		underlying = openai.New(openai.Config{APIKey: apiKey, BaseURL: provider.BaseURL, Model: provider.Model})
	default:
		underlying = anthropic.New(anthropic.Config{APIKey: apiKey, Model: provider.Model, MaxTokens: provider.MaxTokens})
	}

	limiters := ratelimit.NewRegistry()
	limiters.GetOrCreate("llm", cfg.RateLimits.LLMPerSec, cfg.RateLimits.LLMBurst)
	breakers := breaker.NewRegistry(breaker.DefaultConfig(), breaker.NewMetrics(prometheus.DefaultRegisterer))

	projectRoot, err := os.Getwd()
	if err != nil {
		return nil, "", fmt.Errorf("failed to resolve project root: %w", err)
	}

	return llm.NewShim(underlying, limiters, breakers), projectRoot, nil
}

// buildBaseTools assembles the tool registry every agent role starts
// from before orchestrator.Orchestrator.toolsFor layers on the
// agentctl.* dispatch/messaging/reporting tools bound to that
// investigation's shared graph, bus and finding set.
func buildBaseTools(cfg *config.Config, projectRoot string) (*tool.Registry, error) {
	guard, err := pathguard.New(projectRoot, 5*1024*1024, pathguard.DefaultBlockedExtensions)
	if err != nil {
		return nil, fmt.Errorf("failed to build path guard: %w", err)
	}

	registry := tool.NewRegistry()
	_ = registry.Register(&fileset.ReadFile{Guard: guard})
	_ = registry.Register(&fileset.ListFiles{Guard: guard})
	_ = registry.Register(&fileset.SearchCode{Guard: guard})
	_ = registry.Register(&patternmatch.Tool{Guard: guard})

	if cfg.Semantic.BaseURL != "" {
		retriever := semantic.NewHTTPRetriever(cfg.Semantic.BaseURL)
		_ = registry.Register(&semantic.RagQuery{Retriever: retriever})
		_ = registry.Register(&semantic.SecuritySearch{Retriever: retriever})
		_ = registry.Register(&semantic.FunctionContext{Retriever: retriever})
	} else {
		slog.Warn("no semantic.base_url configured, semantic.* tools will not be registered")
	}

	runner, err := sandbox.New()
	if err != nil {
		slog.Warn("sandbox runner unavailable, sandboxrun.*, scanner.* and vulntest.* will not be registered", "error", err)
		return registry, nil
	}
	_ = registry.Register(sandboxrun.New(runner))
	_ = registry.Register(&sandboxrun.SandboxExec{Execer: runner, ProjectRoot: projectRoot})
	_ = registry.Register(&sandboxrun.SandboxHTTP{Execer: runner})
	for _, langTest := range sandboxrun.LangTestPresets(runner) {
		_ = registry.Register(langTest)
	}

	projectDirName := filepath.Base(projectRoot)
	for _, preset := range scanner.Presets(runner, projectRoot, projectDirName) {
		_ = registry.Register(preset)
	}

	vulnTests := vulntest.Presets(runner)
	_ = registry.Register(vulntest.NewRouter(vulnTests))
	for _, test := range vulnTests {
		_ = registry.Register(test)
	}

	return registry, nil
}

func orchestratorConfig(cfg *config.Config) orchestrator.Config {
	return orchestrator.Config{
		Roles:      cfg.Roles,
		MaxDepth:   4,
		MaxPerName: 3,
	}
}
