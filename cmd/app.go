package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/marcus/rally/internal/config"
	"github.com/marcus/rally/internal/connectivity"
	"github.com/marcus/rally/internal/db"
	"github.com/marcus/rally/internal/match"
	"github.com/marcus/rally/internal/models"
	"github.com/marcus/rally/internal/orchestrator"
	"github.com/marcus/rally/internal/replication"
	"github.com/marcus/rally/internal/syncclient"
)

var errNotLoggedIn = errors.New("not logged in: run 'rally login' first")

// app holds the services a command needs. Sync services are nil unless
// requested and the user is logged in.
type app struct {
	cfg *config.Config
	log *slog.Logger
	db  *db.DB

	user    *models.User
	client  *syncclient.Client
	orch    *orchestrator.Orchestrator
	monitor *connectivity.Monitor
}

// openApp opens the local database. With withSync it also starts sync for
// the logged-in user; requireSync turns a missing login into an error.
func openApp(ctx context.Context, withSync, requireSync bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log := cfg.Logger()
	slog.SetDefault(log)

	database, err := db.Open(getBaseDir(), db.WithLogger(log))
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log, db: database}

	if !withSync {
		return a, nil
	}
	if err := a.startSync(ctx); err != nil {
		if errors.Is(err, errNotLoggedIn) && !requireSync {
			log.Debug("sync disabled", "err", err)
			return a, nil
		}
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) startSync(ctx context.Context) error {
	key := config.APIKey()
	if key == "" {
		return errNotLoggedIn
	}
	creds, err := config.LoadAuth()
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}

	a.client = syncclient.New(serverURL(a.cfg, creds), key)
	a.client.Logger = a.log

	switch {
	case creds != nil && creds.UserID != "" && creds.APIKey == key:
		a.user = &models.User{ID: creds.UserID, Email: creds.Email}
	default:
		// Key from the environment: ask the server who it belongs to.
		me, err := a.client.Me(ctx)
		if err != nil {
			return fmt.Errorf("identify api key: %w", err)
		}
		a.user = me
	}

	a.orch = orchestrator.New(orchestrator.Options{
		Store:       a.db,
		Source:      a.client,
		Logger:      a.log,
		SyncTimeout: a.cfg.SyncTimeout(),
		Live:        a.cfg.LiveSync(),
		Channel: replication.Config{
			PageSize:      a.cfg.Sync.PageSize,
			RetryInterval: time.Duration(a.cfg.Sync.RetryInterval),
		},
	})

	a.monitor, err = connectivity.New(connectivity.Options{
		Pinger:   a.client,
		Target:   a.orch,
		Interval: a.cfg.ProbeInterval(),
		Logger:   a.log,
	})
	if err != nil {
		return err
	}
	// Probe before the first activation so an offline start pauses channels.
	a.monitor.Check(ctx)
	if err := a.monitor.Start(); err != nil {
		return err
	}

	a.orch.SetAuthenticatedUser(a.user)
	return nil
}

// syncing reports whether background sync is running.
func (a *app) syncing() bool {
	return a.orch != nil
}

// deps returns the collaborators match commands write through.
func (a *app) deps() match.Deps {
	return match.Deps{Store: a.db}
}

// ownerID is the id stamped on user-owned reference rows.
func (a *app) ownerID() string {
	if a.user != nil {
		return a.user.ID
	}
	if creds, err := config.LoadAuth(); err == nil && creds != nil {
		return creds.UserID
	}
	return "local"
}

// Close stops sync and closes the database.
func (a *app) Close() {
	if a.monitor != nil {
		if err := a.monitor.Stop(); err != nil {
			a.log.Debug("stop monitor", "err", err)
		}
	}
	if a.orch != nil {
		a.orch.Close()
	}
	a.db.Close()
}

func serverURL(cfg *config.Config, creds *config.AuthCredentials) string {
	if cfg.ServerURL == "" && creds != nil && creds.ServerURL != "" {
		return creds.ServerURL
	}
	return cfg.ServerURLOrDefault()
}
