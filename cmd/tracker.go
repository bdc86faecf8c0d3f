package cmd

import (
	"context"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Tiliavir/trivial-attendance-tracker/internal/auth"
	"github.com/Tiliavir/trivial-attendance-tracker/internal/config"
	"github.com/Tiliavir/trivial-attendance-tracker/internal/docstore"
	"github.com/Tiliavir/trivial-attendance-tracker/internal/docstore/filestore"
	"github.com/Tiliavir/trivial-attendance-tracker/internal/docstore/memstore"
	"github.com/Tiliavir/trivial-attendance-tracker/internal/docstore/sqlitestore"
	"github.com/Tiliavir/trivial-attendance-tracker/internal/identity"
	"github.com/Tiliavir/trivial-attendance-tracker/internal/ledger"
	"github.com/Tiliavir/trivial-attendance-tracker/internal/model"
	"github.com/Tiliavir/trivial-attendance-tracker/internal/remote"
)

// tracker is what the commands need, served either by the local store or
// by a tat server.
type tracker interface {
	Register(ctx context.Context, pin, first, last string) (string, error)
	SignIn(ctx context.Context, pin string) (string, error)
	SignOut(ctx context.Context) error
	ClockIn(ctx context.Context) (ledger.Punch, error)
	ClockOut(ctx context.Context) (ledger.Punch, error)
	Today(ctx context.Context) (model.DayRecord, error)
	Day(ctx context.Context, key string) (model.DayRecord, error)
	Profile(ctx context.Context) (model.Profile, error)
	Location() *time.Location
	Close() error
}

// withTracker opens the tracker selected by the config, runs fn and closes it.
func withTracker(cmd *cobra.Command, fn func(context.Context, tracker) error) error {
	t, err := openTracker()
	if err != nil {
		return &exitError{code: 2, err: err}
	}
	defer func() {
		if err := t.Close(); err != nil {
			logger.Warn("closing store failed", zap.Error(err))
		}
	}()
	return fn(cmd.Context(), t)
}

func openTracker() (tracker, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	if cfg.RemoteMode() {
		path, err := remote.TokenFilePath()
		if err != nil {
			return nil, err
		}
		c := remote.New(cfg.Server.URL, remote.TokenFile{Path: path},
			remote.WithLocation(loc), remote.WithLogger(logger))
		return remoteTracker{c}, nil
	}

	store, err := openStore()
	if err != nil {
		return nil, err
	}
	sessionPath, err := auth.SessionFilePath()
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	provider := auth.NewLocalProvider(store, auth.FileSession{Path: sessionPath}, auth.WithLogger(logger))
	return &localTracker{
		gateway: identity.New(provider, store, identity.WithLogger(logger)),
		ledger:  ledger.New(store, provider, ledger.WithLocation(loc), ledger.WithLogger(logger)),
		store:   store,
	}, nil
}

// openStore opens the configured document store. --data-dir is the base
// directory of the file store and holds tat.db for the sqlite store.
func openStore() (docstore.Store, error) {
	path := cfg.Store.Path
	switch cfg.Store.Driver {
	case "memory":
		return memstore.New(), nil
	case "sqlite":
		if dataDir != "" {
			path = filepath.Join(dataDir, "tat.db")
		}
		if path == "" {
			dir, err := config.Dir()
			if err != nil {
				return nil, err
			}
			path = filepath.Join(dir, "tat.db")
		}
		return sqlitestore.Open(path, sqlitestore.WithLogger(logger))
	default:
		if dataDir != "" {
			path = dataDir
		}
		if path == "" {
			base, err := filestore.BaseDir()
			if err != nil {
				return nil, err
			}
			path = base
		}
		return filestore.Open(path)
	}
}

type localTracker struct {
	gateway *identity.Gateway
	ledger  *ledger.Ledger
	store   docstore.Store
}

func (t *localTracker) Register(ctx context.Context, pin, first, last string) (string, error) {
	cred, err := identity.CredentialFromPIN(pin)
	if err != nil {
		return "", err
	}
	return t.gateway.Register(ctx, cred, identity.ProfileName(first, last))
}

func (t *localTracker) SignIn(ctx context.Context, pin string) (string, error) {
	cred, err := identity.CredentialFromPIN(pin)
	if err != nil {
		return "", err
	}
	return t.gateway.SignIn(ctx, cred)
}

func (t *localTracker) SignOut(ctx context.Context) error {
	return t.gateway.SignOut(ctx)
}

func (t *localTracker) ClockIn(ctx context.Context) (ledger.Punch, error) {
	return t.ledger.ClockIn(ctx)
}

func (t *localTracker) ClockOut(ctx context.Context) (ledger.Punch, error) {
	return t.ledger.ClockOut(ctx)
}

func (t *localTracker) Today(ctx context.Context) (model.DayRecord, error) {
	return t.ledger.Today(ctx)
}

func (t *localTracker) Day(ctx context.Context, key string) (model.DayRecord, error) {
	return t.ledger.Day(ctx, key)
}

func (t *localTracker) Profile(ctx context.Context) (model.Profile, error) {
	uid, ok := t.gateway.CurrentUser(ctx)
	if !ok {
		return model.Profile{}, ledger.ErrNoUserSignedIn
	}
	p, err := t.gateway.Profile(ctx, uid)
	if err != nil {
		return model.Profile{}, &ledger.StoreUnavailableError{Reason: err.Error(), Err: err}
	}
	return p, nil
}

func (t *localTracker) Location() *time.Location {
	return t.ledger.Location()
}

func (t *localTracker) Close() error {
	return t.store.Close()
}

type remoteTracker struct {
	*remote.Client
}

func (remoteTracker) Close() error { return nil }
