package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chatsync/internal/api"
	"github.com/capitalize-ai/chatsync/internal/auth"
	"github.com/capitalize-ai/chatsync/internal/config"
	natsclient "github.com/capitalize-ai/chatsync/internal/nats"
	"github.com/capitalize-ai/chatsync/internal/push"
	"github.com/capitalize-ai/chatsync/pkg/logger"
)

// app holds what every subcommand needs: configuration, logging, the
// service client and the signed-in identity.
type app struct {
	cfg    *config.Config
	log    *logger.Logger
	client *api.Client
	self   auth.Identity
}

func newApp(opts *rootOptions) (*app, error) {
	if opts.configPath != "" {
		os.Setenv("CHATSYNC_CONFIG", opts.configPath)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if opts.logFile != "" {
		cfg.LogFile = opts.logFile
	}

	log, err := logger.NewWithOutput(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger.SetGlobal(log)

	self, err := auth.FromToken(cfg.AuthToken, time.Now())
	if err != nil {
		return nil, fmt.Errorf("invalid auth token: %w", err)
	}

	client, err := api.New(api.Config{
		BaseURL:        cfg.APIBaseURL,
		Token:          cfg.AuthToken,
		Timeout:        cfg.RequestTimeout,
		ParticipantTTL: cfg.ParticipantTTL,
	}, log)
	if err != nil {
		return nil, err
	}

	return &app{cfg: cfg, log: log, client: client, self: self}, nil
}

func (a *app) close() {
	a.client.Close()
	a.log.Sync()
}

// pushChannel is a push channel that knows whether it is connected.
type pushChannel interface {
	push.Channel
	Connected() bool
}

// dialPush opens the configured push transport. The returned cleanup
// closes everything dialPush opened.
func (a *app) dialPush(ctx context.Context) (pushChannel, func(), error) {
	switch a.cfg.PushTransport {
	case config.TransportWebSocket:
		ws, err := push.DialWebSocket(ctx, a.cfg.PushURL, a.cfg.AuthToken, a.log)
		if err != nil {
			return nil, nil, err
		}
		return ws, func() { ws.Close() }, nil

	case config.TransportNATS:
		nc, err := natsclient.Connect(natsclient.Config{
			URL:      a.cfg.NATSURL,
			CAFile:   a.cfg.NATSCAFile,
			CertFile: a.cfg.NATSCertFile,
			KeyFile:  a.cfg.NATSKeyFile,
			Token:    a.cfg.NATSToken,
			Name:     "chatsync-" + a.self.UserID,
		}, a.log)
		if err != nil {
			return nil, nil, err
		}
		ch, err := natsclient.NewChannel(nc, natsclient.Subjects{
			Prefix: a.cfg.NATSSubjectPrefix,
			UserID: a.self.UserID,
		}, a.log)
		if err != nil {
			nc.Close()
			return nil, nil, err
		}
		return ch, func() {
			if err := ch.Close(); err != nil {
				a.log.Warn("failed to close push channel", zap.Error(err))
			}
			nc.Close()
		}, nil

	case config.TransportLocal:
		a.log.Warn("using local push channel, no live updates will arrive")
		ch := push.NewLocal()
		return ch, func() { ch.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown push transport %q", a.cfg.PushTransport)
}
