package memstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tiliavir/trivial-attendance-tracker/internal/docstore"
	"github.com/Tiliavir/trivial-attendance-tracker/internal/docstore/memstore"
	"github.com/Tiliavir/trivial-attendance-tracker/internal/docstore/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) docstore.Store {
		return memstore.New()
	})
}

func TestRetryExhaustionIsStoreUnavailable(t *testing.T) {
	s := memstore.New(memstore.WithRetryPolicy(docstore.RetryPolicy{MaxAttempts: 3}))
	s.ForceConflicts(3)

	p := docstore.Doc("LedgerRoot", "u1")
	err := s.RunTransaction(context.Background(), func(ctx context.Context, tx docstore.Tx) error {
		return tx.Set(p, docstore.Fields{"username": "Ada"}, docstore.Merge)
	})
	require.ErrorIs(t, err, docstore.ErrStoreUnavailable)
	require.ErrorIs(t, err, docstore.ErrConflict)

	_, ok := s.Document(p)
	assert.False(t, ok)
	assert.Equal(t, 0, s.Commits())
}

func TestConflictIsRetried(t *testing.T) {
	s := memstore.New(memstore.WithRetryPolicy(docstore.RetryPolicy{MaxAttempts: 3}))
	s.ForceConflicts(2)

	runs := 0
	p := docstore.Doc("LedgerRoot", "u1")
	err := s.RunTransaction(context.Background(), func(ctx context.Context, tx docstore.Tx) error {
		runs++
		return tx.Set(p, docstore.Fields{"username": "Ada"}, docstore.Merge)
	})
	require.NoError(t, err)
	assert.Equal(t, 3, runs)

	doc, ok := s.Document(p)
	require.True(t, ok)
	assert.Equal(t, "Ada", doc["username"])
}

func TestStaleReadConflicts(t *testing.T) {
	s := memstore.New(memstore.WithRetryPolicy(docstore.RetryPolicy{MaxAttempts: 2}))
	p := docstore.Doc("LedgerRoot", "u1")
	s.Put(p, docstore.Fields{"username": "Ada"})

	runs := 0
	err := s.RunTransaction(context.Background(), func(ctx context.Context, tx docstore.Tx) error {
		runs++
		snap, err := tx.Get(ctx, p)
		if err != nil {
			return err
		}
		if runs == 1 {
			// A concurrent writer commits between our read and our commit.
			s.Put(p, docstore.Fields{"username": "Grace"})
		}
		return tx.Set(p, docstore.Fields{"seen": snap.Get("username")}, docstore.Merge)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, runs)

	doc, _ := s.Document(p)
	assert.Equal(t, "Grace", doc["seen"])
}

func TestList(t *testing.T) {
	s := memstore.New()
	s.Put(docstore.Doc("LedgerRoot", "u1", "Days", "2026-02-27"), docstore.Fields{})
	s.Put(docstore.Doc("LedgerRoot", "u1", "Days", "2026-02-26"), docstore.Fields{})
	s.Put(docstore.Doc("LedgerRoot", "u1"), docstore.Fields{})

	assert.Equal(t, []string{
		"LedgerRoot/u1/Days/2026-02-26",
		"LedgerRoot/u1/Days/2026-02-27",
	}, s.List("LedgerRoot/u1/Days"))
}

func TestStoredDocumentsDoNotAliasCallerMemory(t *testing.T) {
	s := memstore.New()
	p := docstore.Doc("LedgerRoot", "u1")
	shifts := []any{map[string]any{"inMillis": int64(1)}}
	err := s.RunTransaction(context.Background(), func(ctx context.Context, tx docstore.Tx) error {
		return tx.Set(p, docstore.Fields{"shifts": shifts}, docstore.Merge)
	})
	require.NoError(t, err)

	shifts[0].(map[string]any)["inMillis"] = int64(99)
	doc, _ := s.Document(p)
	assert.Equal(t, int64(1), doc["shifts"].([]any)[0].(map[string]any)["inMillis"])
}
