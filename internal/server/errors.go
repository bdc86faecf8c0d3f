package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Tiliavir/trivial-attendance-tracker/internal/auth"
	"github.com/Tiliavir/trivial-attendance-tracker/internal/identity"
	"github.com/Tiliavir/trivial-attendance-tracker/internal/ledger"
)

// Error codes carried in errorBody.Code.
const (
	codeInvalidArgument    = "invalid_argument"
	codeUnauthenticated    = "unauthenticated"
	codeAlreadyClockedIn   = "already_clocked_in"
	codeNoActiveShift      = "no_active_shift"
	codeAlreadyExists      = "already_exists"
	codeRegistrationFailed = "registration_failed"
	codeCorruptRecord      = "corrupt_record"
	codeStoreUnavailable   = "store_unavailable"
	codeNotFound           = "not_found"
	codeInternal           = "internal"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type oauthError struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// statusOf maps an error of the ledger or gateway to a status and code.
func statusOf(err error) (int, string) {
	var (
		regErr   *identity.RegistrationFailedError
		storeErr *ledger.StoreUnavailableError
	)
	switch {
	case errors.Is(err, ledger.ErrNoUserSignedIn):
		return http.StatusUnauthorized, codeUnauthenticated
	case errors.Is(err, ledger.ErrAlreadyClockedIn):
		return http.StatusConflict, codeAlreadyClockedIn
	case errors.Is(err, ledger.ErrNoActiveShift):
		return http.StatusConflict, codeNoActiveShift
	case errors.Is(err, ledger.ErrInvalidDay):
		return http.StatusBadRequest, codeInvalidArgument
	case errors.Is(err, ledger.ErrCorruptRecord):
		return http.StatusInternalServerError, codeCorruptRecord
	case errors.As(err, &storeErr):
		return http.StatusServiceUnavailable, codeStoreUnavailable
	case errors.As(err, &regErr):
		if errors.Is(err, auth.ErrIdentityExists) {
			return http.StatusConflict, codeAlreadyExists
		}
		return http.StatusUnprocessableEntity, codeRegistrationFailed
	}
	return http.StatusInternalServerError, codeInternal
}

func (s *Server) writeError(c *gin.Context, err error) {
	status, code := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", c.FullPath()), zap.String("code", code), zap.Error(err))
	}
	c.JSON(status, errorBody{Error: err.Error(), Code: code})
}
