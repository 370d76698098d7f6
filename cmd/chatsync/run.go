package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/capitalize-ai/chatsync/internal/chat"
	"github.com/capitalize-ai/chatsync/internal/handler"
	"github.com/capitalize-ai/chatsync/internal/model"
	"github.com/capitalize-ai/chatsync/pkg/tracing"
)

const (
	changeBuffer    = 256
	shutdownTimeout = 10 * time.Second
)

var errQuit = errors.New("quit")

func newRunCmd(opts *rootOptions) *cobra.Command {
	var open string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start an interactive chat session",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			var start model.ConversationKey
			if open != "" {
				if start, err = model.ParseConversationKey(open); err != nil {
					return err
				}
			}
			return a.run(cmd.Context(), start, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&open, "open", "assistant", "conversation to open on start (kind/id or assistant)")
	return cmd
}

func (a *app) run(parent context.Context, start model.ConversationKey, in io.Reader, out io.Writer) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "chatsync", a.cfg.TracingEndpoint)
		if err != nil {
			a.log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := tracing.Shutdown(shutdownCtx, tp); err != nil {
					a.log.Warn("failed to shutdown tracing", zap.Error(err))
				}
			}()
		}
	}

	ch, closePush, err := a.dialPush(ctx)
	if err != nil {
		return fmt.Errorf("failed to open push channel: %w", err)
	}
	defer closePush()

	feed := handler.NewFeed()
	changes := make(chan chat.Change, changeBuffer)

	session, err := chat.New(chat.Options{
		Service:        a.client,
		Push:           ch,
		Identity:       a.self,
		Logger:         a.log,
		HistoryLimit:   a.cfg.HistoryLimit,
		AssistantScope: a.cfg.AssistantScope,
		RequestTimeout: a.cfg.RequestTimeout,
		TypingIdle:     a.cfg.TypingIdleWindow,
		TypingTTL:      a.cfg.TypingTTL,
		SweepInterval:  a.cfg.TypingSweepInterval,
		OnChange: func(c chat.Change) {
			feed.Publish(c)
			select {
			case changes <- c:
			default:
			}
		},
	})
	if err != nil {
		return err
	}

	a.log.Info("starting chat session",
		zap.String("user_id", a.self.UserID),
		zap.String("push_transport", a.cfg.PushTransport),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return session.Run(gctx)
	})

	ready := make(chan struct{})
	g.Go(func() error {
		if err := a.bootstrap(gctx, session, start); err != nil {
			return err
		}
		close(ready)
		return nil
	})

	if a.cfg.DiagnosticsAddr != "" {
		srv := &http.Server{
			Addr: a.cfg.DiagnosticsAddr,
			Handler: handler.NewRouter(handler.RouterConfig{
				Session:        session,
				Push:           ch,
				Feed:           feed,
				Logger:         a.log,
				Token:          a.cfg.DiagnosticsToken,
				AllowedOrigins: a.cfg.DiagnosticsAllowedOrigins,
				RateLimit:      a.cfg.DiagnosticsRateLimit,
				RateWindow:     a.cfg.DiagnosticsRateWindow,
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			a.log.Info("diagnostics server listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("diagnostics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	p := newPrinter(session, out)
	g.Go(func() error {
		p.loop(gctx, changes)
		return nil
	})

	g.Go(func() error {
		return newREPL(session, a.client, out).loop(gctx, ready, readLines(gctx, in))
	})

	err = g.Wait()
	if errors.Is(err, errQuit) || errors.Is(err, context.Canceled) {
		err = nil
	}
	a.log.Info("chat session ended")
	return err
}

// bootstrap loads the directory and warms the participant cache, then
// opens the starting conversation.
func (a *app) bootstrap(ctx context.Context, session *chat.Session, start model.ConversationKey) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return session.LoadDirectory(gctx)
	})
	g.Go(func() error {
		if _, err := a.client.ListParticipants(gctx); err != nil {
			a.log.Warn("failed to warm participant cache", zap.Error(err))
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	if start.IsZero() {
		return nil
	}
	if err := session.Activate(ctx, start); err != nil {
		return fmt.Errorf("failed to open %s: %w", start, err)
	}
	return nil
}

// readLines feeds stdin lines to a channel so the REPL can also watch ctx.
func readLines(ctx context.Context, in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}
