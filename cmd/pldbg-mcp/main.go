package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"

	"github.com/ctagard/pldbg-mcp/internal/config"
	"github.com/ctagard/pldbg-mcp/internal/logging"
	"github.com/ctagard/pldbg-mcp/internal/mcp"
	"github.com/ctagard/pldbg-mcp/internal/panel"
	"github.com/ctagard/pldbg-mcp/internal/version"
)

const description = `PL/pgSQL debugger exposed over the Model Context Protocol.

Serves MCP on stdio. Requires the pldbgapi extension on the target server and
plugin_debugger in shared_preload_libraries.`

// CLI holds the command line flags. Flags override the configuration file
// and PLDBG_ environment variables.
type CLI struct {
	Config   string           `help:"Path to configuration file (YAML or JSON)." type:"path"`
	Mode     string           `help:"Capability mode: readonly or full."`
	DSN      string           `name:"dsn" help:"Connection string of the server to debug on."`
	LogLevel string           `help:"Log level: debug, info, warn or error."`
	Version  kong.VersionFlag `help:"Show version and exit."`
}

// apply layers the flags that were set onto cfg.
func (c *CLI) apply(cfg *config.Config) error {
	if c.Mode != "" {
		cfg.Mode = config.CapabilityMode(c.Mode)
	}
	if c.DSN != "" {
		cfg.DSN = c.DSN
	}
	if c.LogLevel != "" {
		cfg.Log.Level = c.LogLevel
	}
	return cfg.Validate()
}

func main() {
	var c CLI
	kong.Parse(&c,
		kong.Name("pldbg-mcp"),
		kong.Description(description),
		kong.UsageOnError(),
		kong.Vars{"version": version.String()},
	)

	if err := run(&c); err != nil {
		fmt.Fprintf(os.Stderr, "pldbg-mcp: %v\n", err)
		os.Exit(1)
	}
}

func run(c *CLI) error {
	cfg, err := config.LoadConfig(c.Config)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := c.apply(cfg); err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	var opts []mcp.Option
	if cfg.Events.Address != "" {
		stream, err := panel.NewTCPStream(cfg.Events.Address)
		if err != nil {
			logger.Warn("panel event stream disabled", zap.String("address", cfg.Events.Address), zap.Error(err))
		} else {
			opts = append(opts, mcp.WithEventStream(stream))
		}
	}

	server := mcp.NewServer(cfg, logger, opts...)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("shutting down", zap.Stringer("signal", sig))
		server.Close()
		os.Exit(0)
	}()

	logger.Info("pldbg-mcp server starting",
		zap.String("version", version.Version),
		zap.String("mode", string(cfg.Mode)),
		zap.Strings("tools", server.Tools()))
	err = server.ServeStdio()
	server.Close()
	if err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
