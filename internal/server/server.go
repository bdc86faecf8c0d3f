// Package server exposes the identity gateway and the shift ledger over HTTP.
//
// Accounts are created with POST /v1/accounts. POST /v1/oauth/token trades a
// PIN for a bearer token (OAuth2 password grant). Every ledger route acts for
// the subject of that token.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Tiliavir/trivial-attendance-tracker/internal/identity"
	"github.com/Tiliavir/trivial-attendance-tracker/internal/ledger"
)

// MinSecretLength is the shortest accepted token signing secret.
const MinSecretLength = 16

// ErrWeakSecret is returned by New for a missing or short signing secret.
var ErrWeakSecret = errors.New("server: jwt secret must have at least 16 characters")

const shutdownTimeout = 5 * time.Second

// Server serves the HTTP API. The ledger must be built with
// auth.ContextUsers so that it acts for the authenticated request.
type Server struct {
	gateway *identity.Gateway
	ledger  *ledger.Ledger
	secret  []byte
	ttl     time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTokenTTL sets the lifetime of issued tokens.
func WithTokenTTL(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithClock replaces the clock used for token timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New returns a Server signing tokens with secret.
func New(gateway *identity.Gateway, l *ledger.Ledger, secret []byte, opts ...Option) (*Server, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	s := &Server{
		gateway: gateway,
		ledger:  l,
		secret:  secret,
		ttl:     12 * time.Hour,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Handler returns the gin engine serving the API.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(s.accessLog(), gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1")
	{
		v1.POST("/accounts", s.register)
		v1.POST("/oauth/token", s.token)
	}

	authed := v1.Group("")
	authed.Use(s.requireToken())
	{
		authed.POST("/clock-in", s.clockIn)
		authed.POST("/clock-out", s.clockOut)
		authed.GET("/days/today", s.today)
		authed.GET("/days/:date", s.day)
		authed.GET("/profile", s.profile)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, errorBody{Error: "route not found", Code: codeNotFound})
	})
	return r
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// accessLog logs one line per request.
func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if uid := c.GetString(uidKey); uid != "" {
			fields = append(fields, zap.String("uid", uid))
		}
		s.logger.Info("request", fields...)
	}
}
