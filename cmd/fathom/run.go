package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fathom-agent/fathom/pkg/embedder"
	"github.com/fathom-agent/fathom/pkg/llm"
	"github.com/fathom-agent/fathom/pkg/observability"
	"github.com/fathom-agent/fathom/pkg/prompt"
	"github.com/fathom-agent/fathom/pkg/research"
	"github.com/fathom-agent/fathom/pkg/server"
	"github.com/fathom-agent/fathom/pkg/session"
	"github.com/fathom-agent/fathom/pkg/ui"
	"github.com/fathom-agent/fathom/pkg/vector"
)

// RunCmd runs or resumes research over one batch. Resume is automatic: an
// existing session for the batch picks up at its first missing artifact.
type RunCmd struct {
	Batch   string `arg:"" help:"Batch id under the batches directory."`
	Topic   string `help:"Optional topic focus for goal discovery."`
	Session string `help:"Session id (defaults to the batch id)."`
	Fresh   bool   `help:"Discard any stored session for this batch and start over."`
	Serve   bool   `help:"Also expose the WebSocket and metrics server during the run."`
}

func (c *RunCmd) Run(cli *CLI) error {
	cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()

	obs := observability.NewManager(cfg.Observability)
	if err := obs.Initialize(ctx); err != nil {
		return fmt.Errorf("observability init failed: %w", err)
	}
	defer obs.Shutdown(context.Background())

	provider, err := llm.New(cfg.LLM)
	if err != nil {
		return err
	}
	emb, err := embedder.New(cfg.Embedder)
	if err != nil {
		return err
	}
	var vectors vector.Store
	if emb != nil {
		vectors, err = vector.New(cfg.Vector)
		if err != nil {
			return err
		}
		defer vectors.Close()
	}

	composer, err := prompt.NewComposer(cfg.Paths.PromptsDir)
	if err != nil {
		return err
	}
	defer composer.Close()

	store := session.NewStore(cfg.Paths.SessionsDir, cfg.Research.AutosaveDebounce)
	sessionID := c.Session
	if sessionID == "" {
		sessionID = c.Batch
	}
	if c.Fresh {
		if err := store.Delete(sessionID); err != nil {
			return fmt.Errorf("failed to discard session: %w", err)
		}
	}

	var bus ui.Bus = ui.NewConsole(cfg.Research.PromptTimeout)
	if c.Serve {
		ws := ui.NewWSManager(cfg.Research.PromptTimeout, cfg.Server.ReplayBuffer)
		bus = ui.NewMulti(bus, ws)
		srv := server.New(cfg.Server, store, obs.Metrics(), ws)
		go func() {
			if err := srv.Run(ctx); err != nil {
				slog.Error("Server stopped", "error", err)
			}
		}()
	}

	orch := research.NewOrchestrator(cfg, provider, composer, store, research.Options{
		Embedder: emb,
		Vectors:  vectors,
		Bus:      bus,
		Metrics:  obs.Metrics(),
		Tracer:   obs.Tracer("research"),
	})
	return orch.RunResearch(ctx, research.RunRequest{
		BatchID: c.Batch,
		Topic:   c.Topic,
		Session: c.Session,
	})
}

// ServeCmd runs the HTTP surface standalone, serving session admin, metrics
// and the replayable event stream of any research runs in this process.
type ServeCmd struct {
	Host string `help:"Listen host (overrides config)."`
	Port int    `help:"Listen port (overrides config)."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}
	if c.Host != "" {
		cfg.Server.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()

	obs := observability.NewManager(cfg.Observability)
	if err := obs.Initialize(ctx); err != nil {
		return fmt.Errorf("observability init failed: %w", err)
	}
	defer obs.Shutdown(context.Background())

	store := session.NewStore(cfg.Paths.SessionsDir, cfg.Research.AutosaveDebounce)
	ws := ui.NewWSManager(cfg.Research.PromptTimeout, cfg.Server.ReplayBuffer)
	srv := server.New(cfg.Server, store, obs.Metrics(), ws)
	return srv.Run(ctx)
}
