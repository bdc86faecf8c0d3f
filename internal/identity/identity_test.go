package identity_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/Tiliavir/trivial-attendance-tracker/internal/auth"
	"github.com/Tiliavir/trivial-attendance-tracker/internal/docstore"
	"github.com/Tiliavir/trivial-attendance-tracker/internal/docstore/memstore"
	"github.com/Tiliavir/trivial-attendance-tracker/internal/identity"
	"github.com/Tiliavir/trivial-attendance-tracker/internal/ledger"
)

func newGateway(t *testing.T) (*identity.Gateway, *memstore.MemStore) {
	t.Helper()
	store := memstore.New()
	provider := auth.NewLocalProvider(store, nil, auth.WithBcryptCost(bcrypt.MinCost))
	return identity.New(provider, store), store
}

func TestCredentialFromPIN(t *testing.T) {
	tests := []struct {
		pin     string
		want    identity.Credential
		wantErr error
	}{
		{"123456", identity.Credential{LoginID: "123456@app.com", Secret: "123456"}, nil},
		{" 4711 ", identity.Credential{LoginID: "4711@app.com", Secret: "4711"}, nil},
		{"", identity.Credential{}, identity.ErrEmptyPIN},
		{"   ", identity.Credential{}, identity.ErrEmptyPIN},
	}
	for _, tc := range tests {
		got, err := identity.CredentialFromPIN(tc.pin)
		if tc.wantErr != nil {
			assert.ErrorIs(t, err, tc.wantErr, "pin %q", tc.pin)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}
}

func TestProfileName(t *testing.T) {
	assert.Equal(t, "Ada Lovelace", identity.ProfileName("Ada", "Lovelace"))
	assert.Equal(t, "Ada", identity.ProfileName(" Ada ", ""))
	assert.Equal(t, "", identity.ProfileName("", ""))
}

func TestRegisterWritesProfileOnly(t *testing.T) {
	g, store := newGateway(t)
	ctx := context.Background()

	cred, err := identity.CredentialFromPIN("123456")
	require.NoError(t, err)
	uid, err := g.Register(ctx, cred, "Ada Lovelace")
	require.NoError(t, err)

	current, ok := g.CurrentUser(ctx)
	require.True(t, ok)
	assert.Equal(t, uid, current)

	root, ok := store.Document(ledger.RootPath(ledger.DefaultRoot, uid))
	require.True(t, ok)
	assert.Equal(t, docstore.Fields{"username": "Ada Lovelace"}, root)

	days := store.List(ledger.DefaultRoot + "/" + uid + "/" + ledger.DaysCollection)
	assert.Empty(t, days, "registration must not create day records")

	p, err := g.Profile(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", p.Username)
}

func TestRegisterFailureWritesNothing(t *testing.T) {
	g, store := newGateway(t)
	ctx := context.Background()

	cred, _ := identity.CredentialFromPIN("123456")
	_, err := g.Register(ctx, cred, "Ada Lovelace")
	require.NoError(t, err)
	commits := store.Commits()

	_, err = g.Register(ctx, cred, "Someone Else")
	var regErr *identity.RegistrationFailedError
	require.True(t, errors.As(err, &regErr))
	assert.ErrorIs(t, err, auth.ErrIdentityExists)
	assert.NotEmpty(t, regErr.Reason)
	assert.Equal(t, commits, store.Commits(), "no profile write after a failed registration")

	short, _ := identity.CredentialFromPIN("12")
	_, err = g.Register(ctx, short, "Short Pin")
	require.True(t, errors.As(err, &regErr))
	assert.ErrorIs(t, err, auth.ErrWeakSecret)
}

func TestSignIn(t *testing.T) {
	g, _ := newGateway(t)
	ctx := context.Background()

	cred, _ := identity.CredentialFromPIN("123456")
	uid, err := g.Register(ctx, cred, "Ada Lovelace")
	require.NoError(t, err)
	require.NoError(t, g.SignOut(ctx))

	wrong, _ := identity.CredentialFromPIN("654321")
	_, err = g.SignIn(ctx, wrong)
	var authErr *identity.AuthFailedError
	require.True(t, errors.As(err, &authErr))
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	_, ok := g.CurrentUser(ctx)
	assert.False(t, ok)

	got, err := g.SignIn(ctx, cred)
	require.NoError(t, err)
	assert.Equal(t, uid, got)
}

func TestProfileOfUnknownUser(t *testing.T) {
	g, _ := newGateway(t)
	p, err := g.Profile(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, "", p.Username)
}
