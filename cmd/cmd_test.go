package cmd

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tiliavir/trivial-attendance-tracker/internal/auth"
	"github.com/Tiliavir/trivial-attendance-tracker/internal/calendar"
	"github.com/Tiliavir/trivial-attendance-tracker/internal/docstore"
	"github.com/Tiliavir/trivial-attendance-tracker/internal/docstore/filestore"
	"github.com/Tiliavir/trivial-attendance-tracker/internal/identity"
	"github.com/Tiliavir/trivial-attendance-tracker/internal/ledger"
	"github.com/Tiliavir/trivial-attendance-tracker/internal/model"
)

// execute runs the root command with args in a fresh home directory state.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	verbose, storeDriver, dataDir = false, "", ""
	registerPIN, registerFirst, registerLast, signinPIN = "", "", "", ""
	listDay, listYesterday = "", false

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestCLIFlow(t *testing.T) {
	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			t.Setenv("HOME", t.TempDir())
			data := t.TempDir()
			run := func(args ...string) (string, error) {
				return execute(t, append([]string{"--store", driver, "--data-dir", data}, args...)...)
			}

			_, err := run("status")
			require.ErrorIs(t, err, ledger.ErrNoUserSignedIn)
			assert.Equal(t, 1, exitCode(err))

			out, err := run("register", "--pin", "123456", "--first", "Ada", "--last", "Lovelace")
			require.NoError(t, err)
			assert.Contains(t, out, "Account created!")

			out, err = run("in")
			require.NoError(t, err)
			assert.Contains(t, out, "Clocked in at")

			_, err = run("in")
			require.ErrorIs(t, err, ledger.ErrAlreadyClockedIn)
			assert.Equal(t, 1, exitCode(err))

			out, err = run("status")
			require.NoError(t, err)
			assert.Contains(t, out, "Clocked in:")

			out, err = run("out")
			require.NoError(t, err)
			assert.Contains(t, out, "Clocked out at")
			assert.Contains(t, out, "today: 0.0h")

			_, err = run("out")
			require.ErrorIs(t, err, ledger.ErrNoActiveShift)

			out, err = run("list")
			require.NoError(t, err)
			assert.Contains(t, out, "Total: 0.0h")
			assert.Equal(t, 3, strings.Count(out, "\n"), out)

			out, err = run("signout")
			require.NoError(t, err)
			assert.Contains(t, out, "Signed out.")

			_, err = run("in")
			require.ErrorIs(t, err, ledger.ErrNoUserSignedIn)

			_, err = run("signin", "--pin", "000000")
			var authErr *identity.AuthFailedError
			require.True(t, errors.As(err, &authErr), "got %v", err)
			assert.Equal(t, 1, exitCode(err))

			out, err = run("signin", "--pin", "123456")
			require.NoError(t, err)
			assert.Contains(t, out, "Signed in as Ada Lovelace.")
		})
	}
}

func TestStatusReportsShiftOpenSinceYesterday(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	data := t.TempDir()
	run := func(args ...string) (string, error) {
		return execute(t, append([]string{"--store", "file", "--data-dir", data}, args...)...)
	}

	_, err := run("register", "--pin", "123456", "--first", "Ada", "--last", "Lovelace")
	require.NoError(t, err)

	sessionPath, err := auth.SessionFilePath()
	require.NoError(t, err)
	session, ok, err := auth.FileSession{Path: sessionPath}.Load()
	require.NoError(t, err)
	require.True(t, ok)

	// Clocked in at 23:30 yesterday and never clocked out.
	yesterday := time.Now().AddDate(0, 0, -1)
	key := calendar.DayKey(yesterday)
	in := time.Date(yesterday.Year(), yesterday.Month(), yesterday.Day(), 23, 30, 0, 0, time.Local)
	store, err := filestore.Open(data)
	require.NoError(t, err)
	err = store.RunTransaction(context.Background(), func(ctx context.Context, tx docstore.Tx) error {
		return tx.Set(ledger.DayPath(ledger.DefaultRoot, session.UID, key), docstore.Fields{
			model.FieldDate:   key,
			model.FieldShifts: model.ShiftsToFields([]model.Shift{{InMillis: in.UnixMilli()}}),
		}, docstore.Merge)
	})
	require.NoError(t, err)

	out, err := run("status")
	require.NoError(t, err)
	assert.Contains(t, out, "Clocked in:")
	assert.Contains(t, out, "Since: yesterday 23:30")
	assert.NotContains(t, out, "Not clocked in.")

	out, err = run("out")
	require.NoError(t, err)
	assert.Contains(t, out, "Shift split at midnight: "+key)

	out, err = run("status")
	require.NoError(t, err)
	assert.Contains(t, out, "Not clocked in.")
}

func TestCLIRejectsUnknownStore(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	_, err := execute(t, "--store", "tape", "status")
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))
}

func TestCLIRegisterWithoutPIN(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	_, err := execute(t, "--store", "memory", "register", "--first", "Ada")
	require.ErrorIs(t, err, identity.ErrEmptyPIN)
	assert.Equal(t, 1, exitCode(err))
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{ledger.ErrNoUserSignedIn, 1},
		{ledger.ErrAlreadyClockedIn, 1},
		{ledger.ErrNoActiveShift, 1},
		{&identity.RegistrationFailedError{Reason: "taken"}, 1},
		{&ledger.StoreUnavailableError{Reason: "down", Err: docstore.ErrStoreUnavailable}, 2},
		{ledger.ErrCorruptRecord, 2},
		{&exitError{code: 2, err: errors.New("config")}, 2},
		{errors.New(`unknown flag: --nope`), 1},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, exitCode(tc.err), "%v", tc.err)
	}
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, "Already clocked in. Please clock out first.", userMessage(ledger.ErrAlreadyClockedIn))
	assert.Contains(t, userMessage(ledger.ErrNoActiveShift), "No active shift")
	assert.Equal(t, "boom", userMessage(errors.New("boom")))
}

func TestPrintShifts(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	in := time.Date(2024, 3, 11, 9, 0, 0, 0, loc).UnixMilli()
	out := time.Date(2024, 3, 11, 10, 30, 0, 0, loc).UnixMilli()
	rec := model.DayRecord{
		Date: "2024-03-11",
		Shifts: []model.Shift{
			{InMillis: in, OutMillis: &out},
			{InMillis: time.Date(2024, 3, 11, 13, 0, 0, 0, loc).UnixMilli()},
		},
		TotalShiftTime: 1.5,
	}

	var buf bytes.Buffer
	printShifts(&buf, rec, loc)
	assert.Equal(t, "2024-03-11\n  09:00–10:30  (1h 30m)\n  13:00–ongoing\n  Total: 1.5h\n", buf.String())

	buf.Reset()
	printShifts(&buf, model.DayRecord{Date: "2024-03-12"}, loc)
	assert.Equal(t, "2024-03-12\n  No shifts.\n", buf.String())
}
