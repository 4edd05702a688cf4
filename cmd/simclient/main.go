// simclient - terminal client for conversational case simulations
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/ngalo-coder/simclient/internal/address"
	"github.com/ngalo-coder/simclient/internal/config"
	"github.com/ngalo-coder/simclient/internal/diagnostics"
	"github.com/ngalo-coder/simclient/internal/domain"
	"github.com/ngalo-coder/simclient/internal/remote"
	"github.com/ngalo-coder/simclient/internal/session"
	"github.com/ngalo-coder/simclient/internal/store"
	"github.com/ngalo-coder/simclient/internal/stream"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "simclient:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}
	entry, err := entryPath(opts)
	if err != nil {
		return err
	}

	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := opts.apply(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	level, _ := config.ParseLevel(cfg.LogLevel)

	// Logs go to stderr so they never interleave with the conversation.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	if envErr != nil {
		slog.Debug("No .env file found, using environment variables")
	}
	slog.Info("Starting client", "api_url", cfg.APIURL, "transport", cfg.Transport, "dev", cfg.IsDevelopment())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()
	if err := repo.Ping(ctx); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	if pruned, err := repo.PruneBookmarks(ctx, cfg.BookmarkTTL); err != nil {
		slog.Warn("Failed to prune bookmarks", "error", err)
	} else {
		slog.Debug("Bookmark cleanup complete", "deleted", pruned, "ttl", cfg.BookmarkTTL)
	}

	creds := store.NewCredentials(repo)
	if opts.Token != "" {
		if err := creds.SetToken(ctx, opts.Token); err != nil {
			return fmt.Errorf("store token: %w", err)
		}
	}

	fileSink, err := diagnostics.NewFileSink(diagnostics.FileConfig{
		Enabled:   cfg.Diagnostics.Enabled,
		Dir:       cfg.Diagnostics.Dir,
		QueueSize: cfg.Diagnostics.QueueSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize diagnostics: %w", err)
	}
	defer func() {
		if closeErr := fileSink.Close(); closeErr != nil {
			slog.Error("Failed to flush diagnostics", "error", closeErr)
		}
	}()
	metrics := diagnostics.NewMetrics()
	sink := diagnostics.Multi{diagnostics.NewSlogSink(logger), fileSink, metrics}

	client := remote.NewClient(remote.Config{
		BaseURL:      cfg.APIURL,
		Timeout:      cfg.RequestTimeout,
		RateLimitRPS: cfg.RateLimitRPS,
		EndRetries:   cfg.EndRetries,
		Logger:       logger,
	}, creds)

	var transport stream.Transport
	switch cfg.Transport {
	case config.TransportWebSocket:
		transport = stream.NewWebSocketTransport(cfg.APIURL, nil)
	default:
		transport = stream.NewSSETransport(cfg.APIURL, nil)
	}
	consumer := stream.NewConsumer(transport, creds,
		stream.WithTimeout(cfg.StreamTimeout),
		stream.WithConsumerLogger(logger),
	)

	history := address.NewMemoryHistory(entry)
	canon := address.NewCanonicalizer(history, repo, logger)
	renderer := NewRenderer(os.Stdout, opts.NoColor)

	ctrl := session.New(session.Config{
		MaxAttempts:           cfg.Retry.MaxAttempts,
		RetryDelay:            cfg.Retry.Delay,
		NotFoundRedirectDelay: cfg.Redirect.NotFoundDelay,
		AuthRedirectDelay:     cfg.Redirect.AuthDelay,
	}, session.Deps{
		Remote:        client,
		Streamer:      consumer,
		Tokens:        creds,
		Canonicalizer: canon,
		Sink:          sink,
		Metrics:       metrics,
		Observer:      renderer,
		Logger:        logger,
	})
	defer ctrl.Unmount()

	// Leaving the view aborts whatever is in flight.
	go func() {
		<-ctx.Done()
		ctrl.Unmount()
	}()

	a := &app{
		ctrl:     ctrl,
		canon:    canon,
		creds:    creds,
		metrics:  metrics,
		renderer: renderer,
		logger:   logger,
		entry:    entry,
		nav:      domain.NavigationContext{ReturnPath: opts.ReturnTo, Tag: opts.Tag},
	}
	renderer.Notice("Connected to %s. Type /help for commands.", cfg.APIURL)
	a.open(ctx)

	if err := a.run(ctx, os.Stdin); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	slog.Info("Client stopped", "path", history.CurrentPath())
	return nil
}

// entryPath resolves the address the client opens at.
func entryPath(opts *options) (string, error) {
	if opts.Path != "" {
		return opts.Path, nil
	}
	if opts.Case == "" {
		return "", errors.New("one of --path or --case is required")
	}
	return address.CanonicalFor(opts.Case, opts.Session), nil
}
