// Reeve is a personal agent daemon. It resolves natural-language
// requests through a ladder of backends (local assistant, agent
// network, direct model endpoint) with a persistent response cache, and
// lets replies invoke registered tools.
//
// Usage:
//
//	reeve serve              Start the API server
//	reeve ask <question>     Ask a single question (for testing)
//	reeve version            Print version and build information
//	reeve -o json version    Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"reeve/internal/announce"
	"reeve/internal/api"
	"reeve/internal/brain"
	"reeve/internal/buildinfo"
	"reeve/internal/cache"
	"reeve/internal/config"
	"reeve/internal/llm"
	"reeve/internal/memory"
	"reeve/internal/resolver"
	"reeve/internal/tools"
)

// main is intentionally minimal: it builds the OS-level environment and
// delegates to [run] so the full lifecycle is drivable from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run parses arguments and dispatches to a subcommand. Arguments are
// parsed by hand: the flag package's package-level state gets in the
// way of calling run concurrently from tests, and the surface here is
// tiny.
func run(ctx context.Context, stdout, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: reeve ask <question>")
		}
		return runAsk(ctx, stdout, configPath, cmdArgs)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Reeve - Personal Agent Daemon")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: reeve [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the API server")
	fmt.Fprintln(w, "  ask          Ask a single question (for testing)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/reeve/config.yaml, /etc/reeve/config.yaml")
	return nil
}

func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// newLogger standardizes slog handler setup across subcommands.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}

// buildBrain assembles the full pipeline from configuration: memory
// store, response cache, tool registry, resolver chain, brain. The
// returned cleanup closes the memory database.
func buildBrain(cfg *config.Config, logger *slog.Logger) (*brain.Brain, func(), error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	store, err := memory.Open(cfg.MemoryPath(), cfg.Memory.MaxMessages)
	if err != nil {
		return nil, nil, fmt.Errorf("open memory database %s: %w", cfg.MemoryPath(), err)
	}
	logger.Info("memory database opened", "path", cfg.MemoryPath())

	registry, err := tools.NewRegistry(
		&tools.Clock{},
		tools.NewWebFetch(),
		&tools.Remember{Store: store},
		&tools.Recall{Store: store},
		&tools.Echo{},
	)
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("register tools: %w", err)
	}

	responseCache := cache.New(cfg.CachePath(), cfg.Cache.MaxEntries, logger)

	chainOpts := []resolver.Option{
		resolver.WithTierTimeout(time.Duration(cfg.Timeouts.TierSec) * time.Second),
		resolver.WithChat(llm.NewOllamaClient(cfg.Models.OllamaURL), cfg.Models.Default),
	}
	// Higher-priority tiers are optional; an empty URL skips the tier.
	if cfg.Assistant.URL != "" {
		chainOpts = append([]resolver.Option{
			resolver.WithBackend(resolver.NewHTTPBackend("assistant", cfg.Assistant.URL, cfg.Assistant.Token)),
		}, chainOpts...)
		logger.Info("assistant tier configured", "url", cfg.Assistant.URL)
	}
	if cfg.AgentNetwork.URL != "" {
		chainOpts = append(chainOpts,
			resolver.WithBackend(resolver.NewHTTPBackend("agent_network", cfg.AgentNetwork.URL, cfg.AgentNetwork.Token)))
		logger.Info("agent network tier configured", "url", cfg.AgentNetwork.URL)
	}
	chain := resolver.New(responseCache, logger, chainOpts...)

	b := brain.New(chain, registry, logger,
		brain.WithMemory(store, cfg.Memory.ContextLimit),
		brain.WithPipelineTimeout(time.Duration(cfg.Timeouts.PipelineSec)*time.Second),
		brain.WithModel(cfg.Models.Default),
	)
	return b, func() { store.Close() }, nil
}

// runAsk processes a single question through the full pipeline and
// prints the reply. Useful for smoke tests without starting the server.
func runAsk(ctx context.Context, stdout io.Writer, configPath string, args []string) error {
	logger := newLogger(stdout, slog.LevelWarn)

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	b, cleanup, err := buildBrain(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	resp := b.Ask(ctx, "cli", strings.Join(args, " "), nil)
	fmt.Fprintln(stdout, resp.Text)
	return nil
}

// runServe is the primary operating mode: build the pipeline, start the
// HTTP API (and the MQTT announcer when configured), then block until a
// shutdown signal arrives and drain gracefully.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting Reeve",
		"version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger = newLogger(stdout, level)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.Models.Default,
		"ollama_url", cfg.Models.OllamaURL,
	)

	b, cleanup, err := buildBrain(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var publisher *announce.Publisher
	if cfg.MQTT.Enabled {
		publisher = announce.New(cfg.MQTT, b.Stats, logger)
		go func() {
			if err := publisher.Start(ctx); err != nil {
				logger.Error("mqtt publisher failed", "error", err)
			}
		}()
	}

	addr := fmt.Sprintf("%s:%d", cfg.Listen.Address, cfg.Listen.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           api.NewServer(b, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("API server listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("API server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if publisher != nil {
		if err := publisher.Stop(shutdownCtx); err != nil {
			logger.Warn("mqtt shutdown", "error", err)
		}
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}
