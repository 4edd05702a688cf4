package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/ngalo-coder/simclient/internal/address"
	"github.com/ngalo-coder/simclient/internal/diagnostics"
	"github.com/ngalo-coder/simclient/internal/domain"
	"github.com/ngalo-coder/simclient/internal/session"
	"github.com/ngalo-coder/simclient/internal/store"
)

// app is the interactive front end around one session controller.
type app struct {
	ctrl     *session.Controller
	canon    *address.Canonicalizer
	creds    *store.Credentials
	metrics  *diagnostics.Metrics
	renderer *Renderer
	logger   *slog.Logger

	entry string
	nav   domain.NavigationContext
}

// open mounts the entry address, navigating back to it if a redirect left it.
func (a *app) open(ctx context.Context) {
	if a.canon.CurrentPath() != a.entry {
		a.canon.Redirect(a.entry, a.nav)
	}
	a.report(a.ctrl.Mount(ctx, a.entry, a.nav))
}

// report prints command errors the observer has not already shown.
func (a *app) report(err error) {
	var st *domain.ErrorState
	switch {
	case err == nil, errors.As(err, &st), errors.Is(err, context.Canceled):
		return
	case errors.Is(err, session.ErrBusy):
		a.renderer.Error("Still working on the previous request.")
	case errors.Is(err, session.ErrSessionEnded):
		a.renderer.Error("This simulation has ended. Use /quit to leave.")
	case errors.Is(err, session.ErrNotActive):
		a.renderer.Error("No simulation is running. Use /open to start one.")
	default:
		a.renderer.Error("%v", err)
	}
}

// run reads lines from in until EOF, /quit or ctx is done.
func (a *app) run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					return err
				default:
					return nil
				}
			}
			if a.handle(ctx, line) {
				return nil
			}
		}
	}
}

// handle runs one input line and reports whether to quit.
func (a *app) handle(ctx context.Context, line string) bool {
	text := strings.TrimSpace(line)
	if text == "" {
		return false
	}

	cmd, ok := parseCommand(text)
	if !ok {
		a.report(a.ctrl.Submit(ctx, text))
		return false
	}

	switch cmd.Type {
	case cmdHelp:
		a.renderer.Help(helpText)
	case cmdRetry:
		err := a.ctrl.Retry(ctx)
		if errors.Is(err, session.ErrNothingToRetry) {
			a.renderer.Notice("Nothing to retry.")
			return false
		}
		a.report(err)
	case cmdEnd:
		a.report(a.ctrl.End(ctx))
	case cmdOpen:
		a.open(ctx)
	case cmdLogin:
		if cmd.Arg == "" {
			a.renderer.Error("Usage: /login <token>")
			return false
		}
		if err := a.creds.SetToken(ctx, cmd.Arg); err != nil {
			a.logger.Error("Failed to store token", "error", err)
			a.renderer.Error("Could not store the token: %v", err)
			return false
		}
		a.renderer.Notice("Token stored.")
	case cmdLogout:
		if err := a.creds.Clear(ctx); err != nil {
			a.renderer.Error("Could not clear the token: %v", err)
			return false
		}
		a.renderer.Notice("Token cleared.")
	case cmdStats:
		counters, err := a.metrics.Counters()
		if err != nil {
			a.renderer.Error("Could not gather counters: %v", err)
			return false
		}
		a.renderer.Stats(counters)
	case cmdQuit:
		return true
	default:
		a.renderer.Error("Unknown command: %s (try /help)", cmd.Raw)
	}
	return false
}
