package remote_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	"github.com/Tiliavir/trivial-attendance-tracker/internal/auth"
	"github.com/Tiliavir/trivial-attendance-tracker/internal/docstore/memstore"
	"github.com/Tiliavir/trivial-attendance-tracker/internal/identity"
	"github.com/Tiliavir/trivial-attendance-tracker/internal/ledger"
	"github.com/Tiliavir/trivial-attendance-tracker/internal/remote"
	"github.com/Tiliavir/trivial-attendance-tracker/internal/server"
)

func newClient(t *testing.T) (*remote.Client, remote.TokenFile) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memstore.New()
	provider := auth.NewLocalProvider(store, nil, auth.WithBcryptCost(bcrypt.MinCost))
	srv, err := server.New(identity.New(provider, store), ledger.New(store, auth.ContextUsers{}), []byte("0123456789abcdef"))
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	tokens := remote.TokenFile{Path: filepath.Join(t.TempDir(), "auth", "server_token.json")}
	return remote.New(ts.URL+"/", tokens, remote.WithHTTPClient(ts.Client())), tokens
}

func TestRegisterSignsIn(t *testing.T) {
	c, tokens := newClient(t)
	ctx := context.Background()

	uid, err := c.Register(ctx, "123456", "Ada", "Lovelace")
	require.NoError(t, err)
	require.NotEmpty(t, uid)

	tok, err := tokens.Load()
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.True(t, tok.Valid())

	current, ok := c.CurrentUser(ctx)
	require.True(t, ok)
	assert.Equal(t, uid, current)

	p, err := c.Profile(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", p.Username)
}

func TestClockingRemotely(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()
	_, err := c.Register(ctx, "123456", "Ada", "Lovelace")
	require.NoError(t, err)

	in, err := c.ClockIn(ctx)
	require.NoError(t, err)
	assert.NotZero(t, in.AtMillis)

	_, err = c.ClockIn(ctx)
	assert.ErrorIs(t, err, ledger.ErrAlreadyClockedIn)

	rec, err := c.Today(ctx)
	require.NoError(t, err)
	require.Len(t, rec.Shifts, 1)
	assert.True(t, rec.Shifts[0].Open())

	out, err := c.ClockOut(ctx)
	require.NoError(t, err)
	assert.Equal(t, in.Day, out.Day)

	_, err = c.ClockOut(ctx)
	assert.ErrorIs(t, err, ledger.ErrNoActiveShift)

	rec, err = c.Day(ctx, in.Day)
	require.NoError(t, err)
	require.Len(t, rec.Shifts, 1)
	assert.False(t, rec.Shifts[0].Open())

	_, err = c.Day(ctx, "not-a-day")
	assert.ErrorIs(t, err, ledger.ErrInvalidDay)
}

func TestSignInAndOut(t *testing.T) {
	c, tokens := newClient(t)
	ctx := context.Background()
	uid, err := c.Register(ctx, "123456", "Ada", "Lovelace")
	require.NoError(t, err)

	require.NoError(t, c.SignOut(ctx))
	_, err = c.ClockIn(ctx)
	assert.ErrorIs(t, err, ledger.ErrNoUserSignedIn)

	_, err = c.SignIn(ctx, "654321")
	var authErr *identity.AuthFailedError
	assert.True(t, errors.As(err, &authErr), "got %v", err)

	got, err := c.SignIn(ctx, "123456")
	require.NoError(t, err)
	assert.Equal(t, uid, got)

	// An expired token counts as signed out.
	require.NoError(t, tokens.Save(&oauth2.Token{AccessToken: "x", Expiry: time.Now().Add(-time.Minute)}))
	_, err = c.ClockIn(ctx)
	assert.ErrorIs(t, err, ledger.ErrNoUserSignedIn)
}

func TestRegisterErrors(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()

	_, err := c.Register(ctx, "", "Ada", "Lovelace")
	assert.ErrorIs(t, err, identity.ErrEmptyPIN)

	_, err = c.Register(ctx, "123456", "Ada", "Lovelace")
	require.NoError(t, err)
	_, err = c.Register(ctx, "123456", "Ada", "Lovelace")
	var regErr *identity.RegistrationFailedError
	assert.True(t, errors.As(err, &regErr), "got %v", err)
}

func TestUnreachableServer(t *testing.T) {
	tokens := remote.TokenFile{Path: filepath.Join(t.TempDir(), "server_token.json")}
	c := remote.New("http://127.0.0.1:1", tokens)

	_, err := c.SignIn(context.Background(), "123456")
	var sue *ledger.StoreUnavailableError
	assert.True(t, errors.As(err, &sue), "got %v", err)
}

func TestTokenFileRoundTrip(t *testing.T) {
	tokens := remote.TokenFile{Path: filepath.Join(t.TempDir(), "auth", "server_token.json")}

	tok, err := tokens.Load()
	require.NoError(t, err)
	assert.Nil(t, tok)

	want := &oauth2.Token{AccessToken: "abc", TokenType: "Bearer", Expiry: time.Now().Add(time.Hour).Truncate(time.Second)}
	require.NoError(t, tokens.Save(want))
	got, err := tokens.Load()
	require.NoError(t, err)
	assert.Equal(t, want.AccessToken, got.AccessToken)
	assert.True(t, want.Expiry.Equal(got.Expiry))

	require.NoError(t, tokens.Clear())
	require.NoError(t, tokens.Clear())
}
