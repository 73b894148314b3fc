package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rayied/cora/pkg/classifier"
	"github.com/rayied/cora/pkg/config"
	"github.com/rayied/cora/pkg/embedder"
	"github.com/rayied/cora/pkg/engine"
	"github.com/rayied/cora/pkg/llm"
	"github.com/rayied/cora/pkg/observability"
	"github.com/rayied/cora/pkg/retriever"
	"github.com/rayied/cora/pkg/server"
	"github.com/rayied/cora/pkg/session"
	"github.com/rayied/cora/pkg/translator"
	"github.com/rayied/cora/pkg/vector"
)

// ServeCmd starts the HTTP API server.
type ServeCmd struct {
	Port int `help:"Port to listen on (overrides config)."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, closeLog, err := loadConfig(cli)
	if err != nil {
		return err
	}
	defer closeLog()

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

	tp, err := observability.InitGlobalTracer(ctx, observability.TracerConfig{
		Enabled:  cfg.Tracing.Enabled,
		Exporter: cfg.Tracing.Exporter,
		Endpoint: cfg.Tracing.Endpoint,
	})
	if err != nil {
		slog.Warn("Tracing disabled", "error", err)
	} else {
		defer observability.Shutdown(context.Background(), tp)
	}

	store, err := vector.NewChromemStore(vector.ChromemConfig{
		Path:       cfg.Vector.Path,
		Compress:   cfg.Vector.Compress,
		Collection: config.CollectionName,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	if n, err := store.Count(ctx); err == nil {
		slog.Info("Knowledge base loaded", "records", n, "path", cfg.Vector.Path)
		if n == 0 {
			slog.Warn("Vector store is empty, run 'cora index' first")
		}
	}

	embed := embedder.NewOllama(embedder.Config{
		Host:       cfg.Embedder.Host,
		Model:      cfg.Embedder.Model,
		Dimension:  cfg.Embedder.Dimension,
		Timeout:    cfg.Embedder.Timeout,
		MaxRetries: cfg.Embedder.MaxRetries,
	})

	ret := retriever.New(store, embed)
	trans := translator.New(translator.Config{
		URL:     cfg.Translator.URL,
		Timeout: cfg.Translator.Timeout,
	})

	client := llm.NewOllama(llm.Config{
		Host:        cfg.LLM.Host,
		Model:       cfg.LLM.Model,
		Timeout:     cfg.LLM.Timeout,
		IdleTimeout: cfg.QA.StreamIdle,
	})

	sessions := session.NewManager(cfg.Session.TTL)
	sessions.StartSweeper(ctx, cfg.Session.SweepInterval)

	eng := engine.New(ret, trans, sessions, client, cfg)
	cls := classifier.New(ret, client, cfg)

	srv := server.New(eng, cls, cfg.Server)
	return srv.Start(ctx)
}
