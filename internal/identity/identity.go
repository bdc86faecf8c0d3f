// Package identity registers and signs in users and provisions the ledger
// root document of each new user.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Tiliavir/trivial-attendance-tracker/internal/auth"
	"github.com/Tiliavir/trivial-attendance-tracker/internal/docstore"
	"github.com/Tiliavir/trivial-attendance-tracker/internal/ledger"
	"github.com/Tiliavir/trivial-attendance-tracker/internal/model"
)

// LoginDomain is appended to a PIN to form the synthetic login id.
const LoginDomain = "app.com"

// ErrEmptyPIN is returned when no PIN was entered.
var ErrEmptyPIN = errors.New("fill in all fields")

// Credential is what the auth provider verifies.
type Credential struct {
	LoginID string
	Secret  string
}

// CredentialFromPIN derives the login id and secret from a PIN. The PIN is
// both the local part of the login id and the secret.
func CredentialFromPIN(pin string) (Credential, error) {
	pin = strings.TrimSpace(pin)
	if pin == "" {
		return Credential{}, ErrEmptyPIN
	}
	return Credential{LoginID: pin + "@" + LoginDomain, Secret: pin}, nil
}

// ProfileName joins first and last name the way the profile is displayed.
func ProfileName(first, last string) string {
	return strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
}

// AuthFailedError is returned when the provider rejects a sign-in.
type AuthFailedError struct {
	Reason string
	Err    error
}

func (e *AuthFailedError) Error() string {
	return "authentication failed: " + e.Reason
}

func (e *AuthFailedError) Unwrap() error {
	return e.Err
}

// RegistrationFailedError is returned when either the identity or the
// profile document could not be created.
type RegistrationFailedError struct {
	Reason string
	Err    error
}

func (e *RegistrationFailedError) Error() string {
	return "registration failed: " + e.Reason
}

func (e *RegistrationFailedError) Unwrap() error {
	return e.Err
}

// Gateway ties the auth provider to the ledger's document store.
type Gateway struct {
	provider auth.Provider
	store    docstore.Store
	root     string
	logger   *zap.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithRoot overrides the ledger root collection.
func WithRoot(collection string) Option {
	return func(g *Gateway) { g.root = collection }
}

// New returns a Gateway.
func New(provider auth.Provider, store docstore.Store, opts ...Option) *Gateway {
	g := &Gateway{
		provider: provider,
		store:    store,
		root:     ledger.DefaultRoot,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Register creates an identity for cred and writes its ledger root
// {username: profileName}. No day record is created; the first clock-in
// does that. The profile is not written when the identity cannot be created.
func (g *Gateway) Register(ctx context.Context, cred Credential, profileName string) (string, error) {
	uid, err := g.provider.CreateIdentity(ctx, cred.LoginID, cred.Secret)
	if err != nil {
		g.logger.Info("registration rejected", zap.String("login_id", cred.LoginID), zap.Error(err))
		return "", &RegistrationFailedError{Reason: err.Error(), Err: err}
	}

	err = g.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		return tx.Set(ledger.RootPath(g.root, uid), docstore.Fields{
			model.FieldUsername: profileName,
		}, docstore.Merge)
	})
	if err != nil {
		g.logger.Error("writing profile failed", zap.String("uid", uid), zap.Error(err))
		return "", &RegistrationFailedError{Reason: fmt.Sprintf("writing profile: %v", err), Err: err}
	}

	g.logger.Info("registered", zap.String("uid", uid))
	return uid, nil
}

// SignIn authenticates cred.
func (g *Gateway) SignIn(ctx context.Context, cred Credential) (string, error) {
	uid, err := g.provider.Authenticate(ctx, cred.LoginID, cred.Secret)
	if err != nil {
		return "", &AuthFailedError{Reason: err.Error(), Err: err}
	}
	return uid, nil
}

// SignOut forgets the current identity.
func (g *Gateway) SignOut(ctx context.Context) error {
	return g.provider.SignOut(ctx)
}

// CurrentUser reports the signed-in identity.
func (g *Gateway) CurrentUser(ctx context.Context) (string, bool) {
	return g.provider.CurrentUser(ctx)
}

// Profile reads the ledger root of uid.
func (g *Gateway) Profile(ctx context.Context, uid string) (model.Profile, error) {
	var p model.Profile
	err := g.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		snap, err := tx.Get(ctx, ledger.RootPath(g.root, uid))
		if err != nil {
			return err
		}
		p = model.DecodeProfile(snap.Fields)
		return nil
	})
	if err != nil {
		return model.Profile{}, fmt.Errorf("reading profile: %w", err)
	}
	return p, nil
}
