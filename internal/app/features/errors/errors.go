// internal/app/features/errors/errors.go
package errors

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/dalemusser/strataconnect/internal/app/features/shared"
	"github.com/dalemusser/strataconnect/internal/app/system/apperr"
	"go.uber.org/zap"
)

// Status maps a failure kind to its HTTP status.
func Status(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindNotAuthorized:
		return http.StatusForbidden
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindInvalidState, apperr.KindValidation:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

type body struct {
	Error *apperr.Error `json:"error"`
}

var (
	errInternal = apperr.New("internal", "Internal", "an internal error occurred")
	errTimeout  = apperr.New("timeout", "Timeout", "the request timed out; it may or may not have been applied")
)

// Write renders err as {"error": {...}}. Typed failures keep their kind,
// code, message and fields. Anything else is logged and reported as a bare
// 500 so infrastructure detail never reaches the client.
func Write(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	if ae, ok := apperr.As(err); ok {
		shared.JSON(w, Status(ae.Kind), body{Error: ae})
		return
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		log.Warn("request timed out",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		shared.JSON(w, http.StatusGatewayTimeout, body{Error: errTimeout})
		return
	}
	log.Error("request failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Error(err))
	shared.JSON(w, http.StatusInternalServerError, body{Error: errInternal})
}

// NotFound is the router's fallback for unknown routes.
func NotFound(w http.ResponseWriter, _ *http.Request) {
	shared.JSON(w, http.StatusNotFound, body{Error: apperr.ErrNotFound.WithMessage("no such route")})
}

// MethodNotAllowed is the router's fallback for known routes with the wrong method.
func MethodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	shared.JSON(w, http.StatusMethodNotAllowed, body{Error: apperr.New("method_not_allowed", "MethodNotAllowed", "method not allowed")})
}
