package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ctagard/trace-mcp/internal/config"
	"github.com/ctagard/trace-mcp/internal/engine"
	"github.com/ctagard/trace-mcp/internal/logging"
	"github.com/ctagard/trace-mcp/internal/mcp"
	"github.com/ctagard/trace-mcp/internal/metrics"
	"github.com/ctagard/trace-mcp/internal/session"
	"github.com/ctagard/trace-mcp/internal/version"
)

var (
	configPath       string
	traceDir         string
	maxDepth         int
	maxDynamicLength int
	logLevel         string
	metricsAddr      string
	pretty           bool
	showVersion      bool
)

var rootCmd = &cobra.Command{
	Use:   "trace-mcp",
	Short: "MCP server for exploring EVM transaction execution traces",
	Long: `trace-mcp serves the execution trace of a transaction over the Model
Context Protocol. Clients start a session for a transaction hash and then
browse its scope tree, move a step cursor, resolve source locations and
decode locals and contract storage at any step.

Trace dumps are read from <trace-dir>/<txHash>.json.

MCP INTEGRATION:
    {
        "mcpServers": {
            "trace-mcp": {
                "command": "trace-mcp",
                "args": ["--trace-dir", "/path/to/traces"]
            }
        }
    }`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&configPath, "config", "", "path to a JSON or YAML configuration file")
	flags.StringVar(&traceDir, "trace-dir", "", "directory holding <txHash>.json trace dumps")
	flags.IntVar(&maxDepth, "max-depth", 0, "default depth of scope summaries")
	flags.IntVar(&maxDynamicLength, "max-dynamic-length", 0, "largest dynamic array, bytes or string length that is decoded")
	flags.StringVar(&logLevel, "log-level", "", "log level: trace, debug, info, warn or error")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "listen address for the Prometheus /metrics endpoint (disabled when empty)")
	flags.BoolVar(&pretty, "pretty", false, "write human-readable logs instead of JSON")
	flags.BoolVar(&showVersion, "version", false, "show version and exit")
	must(rootCmd.MarkFlagDirname("trace-dir"))
	must(rootCmd.MarkFlagFilename("config", "json", "yaml", "yml"))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if showVersion {
		fmt.Println(version.String())
		return nil
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	level, _ := cfg.Level()
	log := logging.New(os.Stderr, level)
	if pretty {
		log = logging.Console(level)
	}

	m := metrics.New()
	eng := engine.NewFileEngine(cfg.TraceDir, logging.Component(log, "engine"))
	server := mcp.NewServer(cfg, session.NewManager(eng, cfg, log, m), m, log)

	var metricsServer *http.Server
	if cfg.MetricsEnabled() {
		metricsServer, _ = serveMetrics(cfg.MetricsAddr, m, log)
	}

	shutdown := func() {
		server.Close()
		if metricsServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(ctx)
		}
	}

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Info().Msg("shutting down")
		shutdown()
		os.Exit(0)
	}()

	log.Info().
		Str("version", version.Version).
		Str("traceDir", cfg.TraceDir).
		Int("maxDepth", cfg.MaxDepth).
		Msg("trace-mcp server starting")

	err = server.ServeStdio()
	shutdown()
	if err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// loadConfig reads the config file and applies explicitly set flags on top.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("trace-dir") {
		cfg.TraceDir = traceDir
	}
	if flags.Changed("max-depth") {
		cfg.MaxDepth = maxDepth
	}
	if flags.Changed("max-dynamic-length") {
		cfg.MaxDynamicLength = maxDynamicLength
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = metricsAddr
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// serveMetrics starts the /metrics listener. The returned channel is closed
// once the listener has stopped.
func serveMetrics(addr string, m *metrics.Metrics, log zerolog.Logger) (*http.Server, <-chan struct{}) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		log.Info().Str("addr", addr).Msg("metrics endpoint listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics endpoint stopped")
		}
	}()
	return srv, done
}
