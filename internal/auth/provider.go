// Package auth issues and verifies identities for the tracker.
//
// The LocalProvider keeps identities as documents in the same store the
// ledger uses (Identities/{loginId}), hashes secrets with bcrypt, and
// remembers the signed-in user in a Session.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gookit/validate"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/Tiliavir/trivial-attendance-tracker/internal/docstore"
)

// IdentitiesCollection holds one document per login id.
const IdentitiesCollection = "Identities"

// DefaultMinSecretLength matches the minimum password length of the hosted
// identity service the tracker was first built against.
const DefaultMinSecretLength = 6

var (
	// ErrIdentityExists is returned when the login id is already registered.
	ErrIdentityExists = errors.New("the login id is already in use by another account")
	// ErrInvalidCredentials is returned for unknown login ids and wrong secrets.
	ErrInvalidCredentials = errors.New("the login id or secret is invalid")
	// ErrInvalidLoginID is returned for login ids that are not email-shaped.
	ErrInvalidLoginID = errors.New("the login id is badly formatted")
	// ErrWeakSecret is returned for secrets shorter than the minimum length.
	ErrWeakSecret = errors.New("the secret is too short")
)

// Provider issues and verifies identities.
type Provider interface {
	CreateIdentity(ctx context.Context, loginID, secret string) (string, error)
	Authenticate(ctx context.Context, loginID, secret string) (string, error)
	CurrentUser(ctx context.Context) (string, bool)
	SignOut(ctx context.Context) error
}

// LocalProvider implements Provider on a docstore.Store.
type LocalProvider struct {
	store        docstore.Store
	session      Session
	logger       *zap.Logger
	cost         int
	minSecretLen int
	now          func() time.Time
}

// Option configures a LocalProvider.
type Option func(*LocalProvider)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *LocalProvider) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithBcryptCost overrides bcrypt.DefaultCost. Tests use bcrypt.MinCost.
func WithBcryptCost(cost int) Option {
	return func(p *LocalProvider) { p.cost = cost }
}

// WithMinSecretLength overrides DefaultMinSecretLength.
func WithMinSecretLength(n int) Option {
	return func(p *LocalProvider) { p.minSecretLen = n }
}

// NewLocalProvider returns a provider storing identities in store and the
// signed-in user in session.
func NewLocalProvider(store docstore.Store, session Session, opts ...Option) *LocalProvider {
	if session == nil {
		session = &MemorySession{}
	}
	p := &LocalProvider{
		store:        store,
		session:      session,
		logger:       zap.NewNop(),
		cost:         bcrypt.DefaultCost,
		minSecretLen: DefaultMinSecretLength,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func identityPath(loginID string) docstore.Path {
	return docstore.Doc(IdentitiesCollection, loginID)
}

func normalizeLoginID(loginID string) (string, error) {
	loginID = strings.ToLower(strings.TrimSpace(loginID))
	if strings.ContainsAny(loginID, "/\\") || !validate.IsEmail(loginID) {
		return "", ErrInvalidLoginID
	}
	return loginID, nil
}

// CreateIdentity registers loginID and signs the new identity in.
func (p *LocalProvider) CreateIdentity(ctx context.Context, loginID, secret string) (string, error) {
	loginID, err := normalizeLoginID(loginID)
	if err != nil {
		return "", err
	}
	if len(secret) < p.minSecretLen {
		return "", fmt.Errorf("%w: at least %d characters required", ErrWeakSecret, p.minSecretLen)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), p.cost)
	if err != nil {
		return "", fmt.Errorf("hashing secret: %w", err)
	}

	uid := uuid.NewString()
	created := p.now().UnixMilli()
	err = p.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		snap, err := tx.Get(ctx, identityPath(loginID))
		if err != nil {
			return err
		}
		if snap.Exists {
			return ErrIdentityExists
		}
		return tx.Set(identityPath(loginID), docstore.Fields{
			"uid":           uid,
			"secretHash":    string(hash),
			"createdMillis": created,
		}, docstore.SetOptions{})
	})
	if err != nil {
		return "", err
	}

	if err := p.session.Save(SessionState{UID: uid, LoginID: loginID, SignedInMillis: created}); err != nil {
		return "", err
	}
	p.logger.Info("identity created", zap.String("uid", uid), zap.String("login_id", loginID))
	return uid, nil
}

// Authenticate verifies the secret of loginID and signs the identity in.
func (p *LocalProvider) Authenticate(ctx context.Context, loginID, secret string) (string, error) {
	loginID, err := normalizeLoginID(loginID)
	if err != nil {
		return "", err
	}

	var uid, hash string
	err = p.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		snap, err := tx.Get(ctx, identityPath(loginID))
		if err != nil {
			return err
		}
		if !snap.Exists {
			return ErrInvalidCredentials
		}
		uid, _ = snap.Get("uid").(string)
		hash, _ = snap.Get("secretHash").(string)
		return nil
	})
	if err != nil {
		return "", err
	}
	if uid == "" || bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) != nil {
		p.logger.Debug("authentication rejected", zap.String("login_id", loginID))
		return "", ErrInvalidCredentials
	}

	if err := p.session.Save(SessionState{UID: uid, LoginID: loginID, SignedInMillis: p.now().UnixMilli()}); err != nil {
		return "", err
	}
	p.logger.Info("signed in", zap.String("uid", uid))
	return uid, nil
}

// CurrentUser implements ledger.UserSource from the stored session.
func (p *LocalProvider) CurrentUser(context.Context) (string, bool) {
	st, ok, err := p.session.Load()
	if err != nil {
		p.logger.Warn("ignoring unreadable session", zap.Error(err))
		return "", false
	}
	return st.UID, ok
}

// SignOut forgets the signed-in user.
func (p *LocalProvider) SignOut(context.Context) error {
	return p.session.Clear()
}
