package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Tiliavir/trivial-attendance-tracker/internal/config"
	"github.com/Tiliavir/trivial-attendance-tracker/internal/identity"
	"github.com/Tiliavir/trivial-attendance-tracker/internal/ledger"
	"github.com/Tiliavir/trivial-attendance-tracker/internal/logging"
)

var (
	verbose     bool
	storeDriver string
	dataDir     string

	cfg    config.Config
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "tat",
	Short: "Trivial Attendance Tracker – clock in and out with a PIN",
	Long: `tat records work shifts per user and day. Sign in with your PIN, then
clock in and out; shifts running past midnight are split at the day boundary.
Data is stored locally in ~/.tat/ or on a tat server (see server.url).`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return &exitError{code: 2, err: err}
		}
		if storeDriver != "" {
			if !slices.Contains(config.Drivers, storeDriver) {
				return &exitError{code: 2, err: fmt.Errorf("unknown store %q, use one of %v", storeDriver, config.Drivers)}
			}
			loaded.Store.Driver = storeDriver
		}
		cfg = loaded

		l, err := logging.New(cfg.Log.Level, verbose)
		if err != nil {
			return &exitError{code: 2, err: err}
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

// exitError carries the process exit code for an error.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// exitCode is 1 for errors the user can act on (wrong PIN, already clocked
// in, ...) and 2 for storage and configuration failures.
func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	var (
		authErr *identity.AuthFailedError
		regErr  *identity.RegistrationFailedError
	)
	switch {
	case errors.Is(err, ledger.ErrNoUserSignedIn),
		errors.Is(err, ledger.ErrAlreadyClockedIn),
		errors.Is(err, ledger.ErrNoActiveShift),
		errors.Is(err, ledger.ErrInvalidDay),
		errors.Is(err, identity.ErrEmptyPIN),
		errors.As(err, &authErr),
		errors.As(err, &regErr):
		return 1
	}
	var sue *ledger.StoreUnavailableError
	if errors.As(err, &sue) || errors.Is(err, ledger.ErrCorruptRecord) {
		return 2
	}
	// Flag and argument errors from cobra.
	return 1
}

// Execute is the entry point called from main.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, userMessage(err))
		os.Exit(exitCode(err))
	}
}

// userMessage phrases the protocol errors the way the prompts show them.
func userMessage(err error) string {
	switch {
	case errors.Is(err, ledger.ErrNoUserSignedIn):
		return "No user signed in. Run: tat signin --pin <PIN>"
	case errors.Is(err, ledger.ErrAlreadyClockedIn):
		return "Already clocked in. Please clock out first."
	case errors.Is(err, ledger.ErrNoActiveShift):
		return "No active shift found to clock out from. Please clock in first."
	}
	return err.Error()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output to stderr")
	rootCmd.PersistentFlags().StringVar(&storeDriver, "store", "", "Store backend: file, sqlite or memory (overrides config)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Data directory (overrides store.path)")

	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(signinCmd)
	rootCmd.AddCommand(signoutCmd)
	rootCmd.AddCommand(inCmd)
	rootCmd.AddCommand(outCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(serveCmd)
}
