package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Tiliavir/trivial-attendance-tracker/internal/auth"
	"github.com/Tiliavir/trivial-attendance-tracker/internal/identity"
	"github.com/Tiliavir/trivial-attendance-tracker/internal/ledger"
	"github.com/Tiliavir/trivial-attendance-tracker/internal/model"
)

const uidKey = "uid"

// RegisterRequest is the body of POST /v1/accounts.
type RegisterRequest struct {
	PIN       string `json:"pin"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// RegisterResponse is returned for a created account.
type RegisterResponse struct {
	UID string `json:"uid"`
}

// TokenResponse is the OAuth2 access token response.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// PunchResponse describes a clock-in or clock-out.
type PunchResponse struct {
	UID            string    `json:"uid"`
	Day            string    `json:"day"`
	At             time.Time `json:"at"`
	AtMillis       int64     `json:"atMillis"`
	TotalShiftTime float64   `json:"totalShiftTime"`
	SplitDay       string    `json:"splitDay,omitempty"`
	SplitTotal     float64   `json:"splitTotal,omitempty"`
}

// DayResponse is a day record plus whether a shift is still open.
type DayResponse struct {
	model.DayRecord
	Open bool `json:"open"`
}

// ProfileResponse is the ledger root of the caller.
type ProfileResponse struct {
	UID      string `json:"uid"`
	Username string `json:"username"`
}

func (s *Server) register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: err.Error(), Code: codeInvalidArgument})
		return
	}
	cred, err := identity.CredentialFromPIN(req.PIN)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: err.Error(), Code: codeInvalidArgument})
		return
	}

	uid, err := s.gateway.Register(c.Request.Context(), cred, identity.ProfileName(req.FirstName, req.LastName))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, RegisterResponse{UID: uid})
}

// token implements the resource owner password grant. The username is the
// PIN; the password is the secret.
func (s *Server) token(c *gin.Context) {
	if grant := c.PostForm("grant_type"); grant != "password" {
		c.JSON(http.StatusBadRequest, oauthError{Error: "unsupported_grant_type"})
		return
	}
	cred, err := identity.CredentialFromPIN(c.PostForm("username"))
	if err != nil {
		c.JSON(http.StatusBadRequest, oauthError{Error: "invalid_request", Description: err.Error()})
		return
	}
	cred.Secret = c.PostForm("password")

	uid, err := s.gateway.SignIn(c.Request.Context(), cred)
	if err != nil {
		var authErr *identity.AuthFailedError
		if errors.As(err, &authErr) && errors.Is(err, auth.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, oauthError{Error: "invalid_grant", Description: authErr.Reason})
			return
		}
		s.logger.Error("token request failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, oauthError{Error: "temporarily_unavailable", Description: err.Error()})
		return
	}

	signed, exp, err := s.issueToken(uid)
	if err != nil {
		s.logger.Error("signing token failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, oauthError{Error: "server_error"})
		return
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, TokenResponse{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   int64(exp.Sub(s.now()).Seconds()),
	})
}

func (s *Server) clockIn(c *gin.Context) {
	punch, err := s.ledger.ClockIn(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.punchResponse(punch))
}

func (s *Server) clockOut(c *gin.Context) {
	punch, err := s.ledger.ClockOut(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.punchResponse(punch))
}

func (s *Server) today(c *gin.Context) {
	rec, err := s.ledger.Today(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dayResponse(rec))
}

func (s *Server) day(c *gin.Context) {
	rec, err := s.ledger.Day(c.Request.Context(), c.Param("date"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dayResponse(rec))
}

func (s *Server) profile(c *gin.Context) {
	uid := c.GetString(uidKey)
	p, err := s.gateway.Profile(c.Request.Context(), uid)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ProfileResponse{UID: uid, Username: p.Username})
}

func (s *Server) punchResponse(p ledger.Punch) PunchResponse {
	return PunchResponse{
		UID:            p.UserID,
		Day:            p.Day,
		At:             p.At(s.ledger.Location()),
		AtMillis:       p.AtMillis,
		TotalShiftTime: p.TotalShiftTime,
		SplitDay:       p.SplitDay,
		SplitTotal:     p.SplitTotal,
	}
}

func dayResponse(rec model.DayRecord) DayResponse {
	if rec.Shifts == nil {
		rec.Shifts = []model.Shift{}
	}
	n := len(rec.Shifts)
	return DayResponse{DayRecord: rec, Open: n > 0 && rec.Shifts[n-1].Open()}
}
