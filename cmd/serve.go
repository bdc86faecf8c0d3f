package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Tiliavir/trivial-attendance-tracker/internal/auth"
	"github.com/Tiliavir/trivial-attendance-tracker/internal/identity"
	"github.com/Tiliavir/trivial-attendance-tracker/internal/ledger"
	"github.com/Tiliavir/trivial-attendance-tracker/internal/server"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API on the local store",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Address to listen on (overrides server.listen)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if cfg.Server.JWTSecret == "" {
		return &exitError{code: 2, err: errors.New("server.jwt_secret is not set (or set TAT_SERVER_JWT_SECRET)")}
	}
	loc, err := cfg.Location()
	if err != nil {
		return &exitError{code: 2, err: err}
	}
	store, err := openStore()
	if err != nil {
		return &exitError{code: 2, err: err}
	}
	defer store.Close()

	// Requests act for the subject of their bearer token, never for a
	// session stored on this machine.
	provider := auth.NewLocalProvider(store, &auth.MemorySession{}, auth.WithLogger(logger))
	gw := identity.New(provider, store, identity.WithLogger(logger))
	l := ledger.New(store, auth.ContextUsers{}, ledger.WithLocation(loc), ledger.WithLogger(logger))

	srv, err := server.New(gw, l, []byte(cfg.Server.JWTSecret),
		server.WithLogger(logger), server.WithTokenTTL(cfg.Server.TokenTTL))
	if err != nil {
		return &exitError{code: 2, err: err}
	}

	addr := cfg.Server.Listen
	if serveListen != "" {
		addr = serveListen
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(cmd.OutOrStdout(), "tat API listening on %s (store: %s)\n", addr, cfg.Store.Driver)
	if err := srv.Serve(ctx, addr); err != nil {
		logger.Error("server stopped", zap.Error(err))
		return &exitError{code: 2, err: err}
	}
	return nil
}
