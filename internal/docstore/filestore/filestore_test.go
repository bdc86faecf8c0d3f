package filestore_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tiliavir/trivial-attendance-tracker/internal/docstore"
	"github.com/Tiliavir/trivial-attendance-tracker/internal/docstore/filestore"
	"github.com/Tiliavir/trivial-attendance-tracker/internal/docstore/storetest"
	"github.com/Tiliavir/trivial-attendance-tracker/internal/ledger"
)

func open(t *testing.T) *filestore.FileStore {
	t.Helper()
	s, err := filestore.Open(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) docstore.Store {
		return open(t)
	})
}

func TestDocumentLayoutOnDisk(t *testing.T) {
	s := open(t)
	p := docstore.Doc("LedgerRoot", "u1", "Days", "2026-02-27")
	err := s.RunTransaction(context.Background(), func(ctx context.Context, tx docstore.Tx) error {
		return tx.Set(p, docstore.Fields{"date": "2026-02-27"}, docstore.Merge)
	})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(s.Base(), "LedgerRoot", "u1", "Days", "2026-02-27.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"date": "2026-02-27"`)

	_, err = os.Stat(filepath.Join(s.Base(), ".lock"))
	assert.True(t, os.IsNotExist(err), "lock file must be released after commit")
}

func TestCorruptDocumentIsBackedUp(t *testing.T) {
	s := open(t)
	dir := filepath.Join(s.Base(), "LedgerRoot", "u1", "Days")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	path := filepath.Join(dir, "2026-02-27.json")
	require.NoError(t, os.WriteFile(path, []byte("{bad json"), 0o600))

	err := s.RunTransaction(context.Background(), func(ctx context.Context, tx docstore.Tx) error {
		_, err := tx.Get(ctx, docstore.Doc("LedgerRoot", "u1", "Days", "2026-02-27"))
		return err
	})
	require.Error(t, err)

	_, statErr := os.Stat(path + ".corrupt")
	assert.NoError(t, statErr, "expected backup file to exist after corrupt JSON")
}

func TestHeldLockExhaustsRetries(t *testing.T) {
	s := open(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.Base(), ".lock"), []byte("1\n"), 0o600))

	err := s.RunTransaction(context.Background(), func(ctx context.Context, tx docstore.Tx) error {
		return tx.Set(docstore.Doc("LedgerRoot", "u1"), docstore.Fields{"username": "Ada"}, docstore.Merge)
	})
	require.ErrorIs(t, err, docstore.ErrStoreUnavailable)

	_, statErr := os.Stat(filepath.Join(s.Base(), "LedgerRoot", "u1.json"))
	assert.True(t, os.IsNotExist(statErr))
}

var cet = time.FixedZone("CET", 60*60)

type signedIn string

func (u signedIn) CurrentUser(context.Context) (string, bool) {
	return string(u), true
}

// failingRename lets the first n renames through and then calls fail.
func failingRename(n int, fail func() error) func(string, string) error {
	var mu sync.Mutex
	calls := 0
	return func(oldpath, newpath string) error {
		mu.Lock()
		calls++
		c := calls
		mu.Unlock()
		if c > n {
			return fail()
		}
		return os.Rename(oldpath, newpath)
	}
}

// clockedInLateYesterday clocks in at 23:30 on 26 Feb and returns a ledger
// whose clock reads 00:15 on 27 Feb.
func clockedInLateYesterday(t *testing.T, s *filestore.FileStore) *ledger.Ledger {
	t.Helper()
	now := time.Date(2026, 2, 26, 23, 30, 0, 0, cet)
	l := ledger.New(s, signedIn("u1"),
		ledger.WithClock(func() time.Time { return now }), ledger.WithLocation(cet))
	_, err := l.ClockIn(context.Background())
	require.NoError(t, err)
	now = time.Date(2026, 2, 27, 0, 15, 0, 0, cet)
	return l
}

func assertYesterdayStillOpen(t *testing.T, l *ledger.Ledger) {
	t.Helper()
	ctx := context.Background()
	yesterday, err := l.Day(ctx, "2026-02-26")
	require.NoError(t, err)
	require.Len(t, yesterday.Shifts, 1)
	assert.True(t, yesterday.Shifts[0].Open())
	assert.Zero(t, yesterday.TotalShiftTime)

	today, err := l.Day(ctx, "2026-02-27")
	require.NoError(t, err)
	assert.Empty(t, today.Shifts)
}

func assertNoLeftovers(t *testing.T, base string) {
	t.Helper()
	_, err := os.Stat(filepath.Join(base, ".journal"))
	assert.True(t, os.IsNotExist(err), "journal must be gone")
	for _, pattern := range []string{"*.tmp", "*.bak"} {
		matches, err := filepath.Glob(filepath.Join(base, "LedgerRoot", "u1", "Days", pattern))
		require.NoError(t, err)
		assert.Empty(t, matches, pattern)
	}
}

func TestFailedSplitRenameLeavesYesterdayUntouched(t *testing.T) {
	s := open(t)
	l := clockedInLateYesterday(t, s)

	filestore.SetRename(s, failingRename(1, func() error { return errors.New("disk full") }))
	_, err := l.ClockOut(context.Background())
	var sue *ledger.StoreUnavailableError
	require.True(t, errors.As(err, &sue), "got %v", err)

	assertYesterdayStillOpen(t, l)
	assertNoLeftovers(t, s.Base())

	filestore.SetRename(s, os.Rename)
	punch, err := l.ClockOut(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2026-02-26", punch.SplitDay)
	assert.Equal(t, 0.5, punch.SplitTotal)
}

func TestInterruptedCommitIsRolledBackOnNextTransaction(t *testing.T) {
	s := open(t)
	l := clockedInLateYesterday(t, s)

	// The process dies between the two renames of the split.
	filestore.SetRename(s, failingRename(1, func() error {
		runtime.Goexit()
		return nil
	}))
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = l.ClockOut(context.Background())
	}()
	<-done

	_, err := os.Stat(filepath.Join(s.Base(), ".journal"))
	require.NoError(t, err, "an interrupted commit leaves its journal behind")

	reopened, err := filestore.Open(s.Base())
	require.NoError(t, err)
	now := time.Date(2026, 2, 27, 0, 20, 0, 0, cet)
	l = ledger.New(reopened, signedIn("u1"),
		ledger.WithClock(func() time.Time { return now }), ledger.WithLocation(cet))

	assertYesterdayStillOpen(t, l)
	assertNoLeftovers(t, s.Base())
}

func TestCommitReplacesExistingDocumentWithoutBackupLeftovers(t *testing.T) {
	s := open(t)
	p := docstore.Doc("LedgerRoot", "u1", "Days", "2026-02-27")
	for _, total := range []float64{1.5, 2} {
		err := s.RunTransaction(context.Background(), func(ctx context.Context, tx docstore.Tx) error {
			return tx.Set(p, docstore.Fields{"totalShiftTime": total}, docstore.Merge)
		})
		require.NoError(t, err)
	}

	data, err := os.ReadFile(filepath.Join(s.Base(), "LedgerRoot", "u1", "Days", "2026-02-27.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"totalShiftTime": 2`)
	assertNoLeftovers(t, s.Base())
}
