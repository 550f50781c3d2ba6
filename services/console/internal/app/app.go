// Package app holds the dependencies shared by every console component.
// It is built once at startup and passed explicitly.
package app

import (
	"context"
	"errors"
	"time"

	"github.com/leonardo-lacerda/InstanciaEvo/pkg/evolution"
	"github.com/leonardo-lacerda/InstanciaEvo/pkg/kvstore"
	"github.com/leonardo-lacerda/InstanciaEvo/pkg/storage"
	"github.com/leonardo-lacerda/InstanciaEvo/pkg/webhook"
	"github.com/leonardo-lacerda/InstanciaEvo/services/console/internal/notify"
	"github.com/leonardo-lacerda/InstanciaEvo/services/console/internal/state"
)

// Config holds runtime dependencies and limits for the console.
type Config struct {
	Version                string
	KV                     *kvstore.Store
	Gateway                *evolution.Client
	Webhooks               *webhook.Sender
	Objects                storage.ObjectStore
	Notifications          *notify.Feed
	MaxMessagesPerInstance int
	MaxMessageHistory      int
	SessionWindow          time.Duration
	Now                    func() time.Time
}

// App is the explicit context object handed to every component.
type App struct {
	Version       string
	KV            *kvstore.Store
	State         *state.Store
	Gateway       *evolution.Client
	Webhooks      *webhook.Sender
	Objects       storage.ObjectStore
	Notifications *notify.Feed
	SessionWindow time.Duration
	Now           func() time.Time
}

// New validates cfg and builds the App. The state store is created but not
// loaded; call Load before serving.
func New(cfg Config) (*App, error) {
	if cfg.Gateway == nil {
		return nil, errors.New("gateway client required")
	}
	if cfg.Webhooks == nil {
		cfg.Webhooks = webhook.NewSender(10 * time.Second)
	}
	if cfg.Notifications == nil {
		cfg.Notifications = notify.NewFeed(notify.DefaultCapacity, nil)
	}
	if cfg.Version == "" {
		cfg.Version = "1.0.0"
	}
	if cfg.SessionWindow <= 0 {
		cfg.SessionWindow = 24 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.KV == nil {
		cfg.KV = kvstore.New(kvstore.NewMemoryBackend(), kvstore.WithNow(cfg.Now))
	} else {
		cfg.KV.SetNow(cfg.Now)
	}
	return &App{
		Version: cfg.Version,
		KV:      cfg.KV,
		State: state.New(state.Config{
			KV:                     cfg.KV,
			MaxMessagesPerInstance: cfg.MaxMessagesPerInstance,
			MaxMessageHistory:      cfg.MaxMessageHistory,
			Version:                cfg.Version,
			Now:                    cfg.Now,
		}),
		Gateway:       cfg.Gateway,
		Webhooks:      cfg.Webhooks,
		Objects:       cfg.Objects,
		Notifications: cfg.Notifications,
		SessionWindow: cfg.SessionWindow,
		Now:           cfg.Now,
	}, nil
}

// Load restores persisted state.
func (a *App) Load(ctx context.Context) error {
	return a.State.Load(ctx)
}
