// Package storetest holds the behavioural checks every docstore backend must
// pass.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tiliavir/trivial-attendance-tracker/internal/docstore"
)

// Factory returns a fresh, empty store. The store is closed by Run.
type Factory func(t *testing.T) docstore.Store

var errAbort = errors.New("abort")

// Run executes the conformance checks against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("MissingDocument", func(t *testing.T) { testMissingDocument(t, newStore(t)) })
	t.Run("SetAndGet", func(t *testing.T) { testSetAndGet(t, newStore(t)) })
	t.Run("ReadYourWrites", func(t *testing.T) { testReadYourWrites(t, newStore(t)) })
	t.Run("MergeKeepsOtherFields", func(t *testing.T) { testMerge(t, newStore(t)) })
	t.Run("OverwriteWithoutMerge", func(t *testing.T) { testOverwrite(t, newStore(t)) })
	t.Run("AbortWritesNothing", func(t *testing.T) { testAbort(t, newStore(t)) })
	t.Run("MultiDocumentAtomic", func(t *testing.T) { testMultiDocument(t, newStore(t)) })
	t.Run("ConcurrentIncrements", func(t *testing.T) { testConcurrentIncrements(t, newStore(t)) })
}

func read(t *testing.T, s docstore.Store, p docstore.Path) docstore.Snapshot {
	t.Helper()
	var snap docstore.Snapshot
	err := s.RunTransaction(context.Background(), func(ctx context.Context, tx docstore.Tx) error {
		var err error
		snap, err = tx.Get(ctx, p)
		return err
	})
	require.NoError(t, err)
	return snap
}

func write(t *testing.T, s docstore.Store, p docstore.Path, f docstore.Fields, opts docstore.SetOptions) {
	t.Helper()
	err := s.RunTransaction(context.Background(), func(ctx context.Context, tx docstore.Tx) error {
		return tx.Set(p, f, opts)
	})
	require.NoError(t, err)
}

func testMissingDocument(t *testing.T, s docstore.Store) {
	defer s.Close()
	snap := read(t, s, docstore.Doc("LedgerRoot", "u1", "Days", "2026-02-27"))
	assert.False(t, snap.Exists)
	assert.Nil(t, snap.Get("shifts"))
}

func testSetAndGet(t *testing.T, s docstore.Store) {
	defer s.Close()
	p := docstore.Doc("LedgerRoot", "u1", "Days", "2026-02-27")
	write(t, s, p, docstore.Fields{
		"date":   "2026-02-27",
		"shifts": []any{map[string]any{"inMillis": int64(1772150400000)}},
	}, docstore.Merge)

	snap := read(t, s, p)
	require.True(t, snap.Exists)
	assert.Equal(t, "2026-02-27", snap.Get("date"))
	shifts, ok := snap.Get("shifts").([]any)
	require.True(t, ok, "shifts is %T", snap.Get("shifts"))
	require.Len(t, shifts, 1)
	first, ok := shifts[0].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 1772150400000, first["inMillis"])
}

func testReadYourWrites(t *testing.T, s docstore.Store) {
	defer s.Close()
	p := docstore.Doc("LedgerRoot", "u1")
	err := s.RunTransaction(context.Background(), func(ctx context.Context, tx docstore.Tx) error {
		if err := tx.Set(p, docstore.Fields{"username": "Ada"}, docstore.Merge); err != nil {
			return err
		}
		snap, err := tx.Get(ctx, p)
		if err != nil {
			return err
		}
		assert.True(t, snap.Exists)
		assert.Equal(t, "Ada", snap.Get("username"))
		return nil
	})
	require.NoError(t, err)
}

func testMerge(t *testing.T, s docstore.Store) {
	defer s.Close()
	p := docstore.Doc("LedgerRoot", "u1", "Days", "2026-02-27")
	write(t, s, p, docstore.Fields{"date": "2026-02-27", "totalShiftTime": 1.5}, docstore.Merge)
	write(t, s, p, docstore.Fields{"shifts": []any{}}, docstore.Merge)

	snap := read(t, s, p)
	assert.EqualValues(t, 1.5, snap.Get("totalShiftTime"))
	assert.Equal(t, "2026-02-27", snap.Get("date"))
	assert.NotNil(t, snap.Get("shifts"))
}

func testOverwrite(t *testing.T, s docstore.Store) {
	defer s.Close()
	p := docstore.Doc("LedgerRoot", "u1")
	write(t, s, p, docstore.Fields{"username": "Ada", "extra": "x"}, docstore.SetOptions{})
	write(t, s, p, docstore.Fields{"username": "Grace"}, docstore.SetOptions{})

	snap := read(t, s, p)
	assert.Equal(t, "Grace", snap.Get("username"))
	assert.Nil(t, snap.Get("extra"))
}

func testAbort(t *testing.T, s docstore.Store) {
	defer s.Close()
	p := docstore.Doc("LedgerRoot", "u1")
	err := s.RunTransaction(context.Background(), func(ctx context.Context, tx docstore.Tx) error {
		if err := tx.Set(p, docstore.Fields{"username": "Ada"}, docstore.Merge); err != nil {
			return err
		}
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)
	assert.False(t, read(t, s, p).Exists)
}

func testMultiDocument(t *testing.T, s docstore.Store) {
	defer s.Close()
	a := docstore.Doc("LedgerRoot", "u1", "Days", "2026-02-26")
	b := docstore.Doc("LedgerRoot", "u1", "Days", "2026-02-27")

	err := s.RunTransaction(context.Background(), func(ctx context.Context, tx docstore.Tx) error {
		if err := tx.Set(a, docstore.Fields{"date": "2026-02-26"}, docstore.Merge); err != nil {
			return err
		}
		if err := tx.Set(b, docstore.Fields{"date": "2026-02-27"}, docstore.Merge); err != nil {
			return err
		}
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)
	assert.False(t, read(t, s, a).Exists)
	assert.False(t, read(t, s, b).Exists)

	err = s.RunTransaction(context.Background(), func(ctx context.Context, tx docstore.Tx) error {
		if err := tx.Set(a, docstore.Fields{"date": "2026-02-26"}, docstore.Merge); err != nil {
			return err
		}
		return tx.Set(b, docstore.Fields{"date": "2026-02-27"}, docstore.Merge)
	})
	require.NoError(t, err)
	assert.True(t, read(t, s, a).Exists)
	assert.True(t, read(t, s, b).Exists)
}

// testConcurrentIncrements checks serializability: n read-modify-write
// increments of one counter must not lose updates.
func testConcurrentIncrements(t *testing.T, s docstore.Store) {
	defer s.Close()
	p := docstore.Doc("Counters", "c1")
	const n = 8

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.RunTransaction(context.Background(), func(ctx context.Context, tx docstore.Tx) error {
				snap, err := tx.Get(ctx, p)
				if err != nil {
					return err
				}
				var count float64
				switch v := snap.Get("count").(type) {
				case float64:
					count = v
				case int64:
					count = float64(v)
				}
				return tx.Set(p, docstore.Fields{"count": count + 1}, docstore.Merge)
			})
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, docstore.ErrStoreUnavailable)
	}
	assert.EqualValues(t, succeeded, read(t, s, p).Get("count"))
}
