// Command fathom runs the multi-phase research agent over scraped content
// batches.
//
// Usage:
//
//	fathom run <batch-id> --topic "pricing strategy"
//	fathom serve --config config.yaml
//	fathom sessions list
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"

	"github.com/fathom-agent/fathom/pkg/config"
	"github.com/fathom-agent/fathom/pkg/logger"
	"github.com/fathom-agent/fathom/pkg/research"
	"github.com/fathom-agent/fathom/pkg/session"
)

// Exit codes are part of the scripting contract.
const (
	exitOK        = 0
	exitCancelled = 2
	exitFailed    = 3
	exitCorrupt   = 4
)

// CLI defines the command-line interface.
type CLI struct {
	Run      RunCmd      `cmd:"" help:"Run or resume research over a batch."`
	Serve    ServeCmd    `cmd:"" help:"Start the HTTP/WebSocket server without running research."`
	Sessions SessionsCmd `cmd:"" help:"Manage stored research sessions."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple or verbose)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("fathom version %s\n", version)
	return nil
}

// loadConfig reads the config and installs the process logger.
func (cli *CLI) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return nil, err
	}

	output := os.Stderr
	logFile := cli.LogFile
	if logFile == "" {
		logFile = cfg.Log.File
	}
	if logFile != "" {
		f, _, err := logger.OpenLogFile(logFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output = f
	}
	level := cli.LogLevel
	if level == "" {
		level = cfg.Log.Level
	}
	format := cli.LogFormat
	if format == "" {
		format = cfg.Log.Format
	}
	logger.Init(logger.ParseLevel(level), output, format)
	return cfg, nil
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("fathom"),
		kong.Description("Deep research over scraped content batches."),
		kong.UsageOnError(),
	)

	if err := kctx.Run(&cli); err != nil {
		slog.Error("Command failed", "error", err)
		switch {
		case errors.Is(err, session.ErrSessionCorrupt):
			os.Exit(exitCorrupt)
		case errors.Is(err, research.ErrCancelled):
			os.Exit(exitCancelled)
		default:
			os.Exit(exitFailed)
		}
	}
	os.Exit(exitOK)
}
