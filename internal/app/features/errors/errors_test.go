package errors

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dalemusser/strataconnect/internal/app/system/apperr"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWrite(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		status   int
		contains string
		logged   bool
	}{
		{"not found", apperr.ErrNotFound.WithMessage("group not found"), http.StatusNotFound, `"code":"NotFound"`, false},
		{"role", apperr.ErrInsufficientRole, http.StatusForbidden, `"kind":"not_authorized"`, false},
		{"conflict", fmt.Errorf("edit: %w", apperr.ErrConflict), http.StatusConflict, `"code":"Conflict"`, false},
		{"state", apperr.ErrLastAdminGuard, http.StatusBadRequest, "LastAdminGuard", false},
		{"fields", apperr.ErrValidation.WithFields(map[string]string{"name": "is required"}), http.StatusBadRequest, `"fields":{"name":"is required"}`, false},
		{"timeout", fmt.Errorf("insert: %w", context.DeadlineExceeded), http.StatusGatewayTimeout, `"code":"Timeout"`, true},
		{"infrastructure", fmt.Errorf("dial tcp: refused"), http.StatusInternalServerError, `"code":"Internal"`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zap.DebugLevel)
			rec := httptest.NewRecorder()
			Write(rec, httptest.NewRequest(http.MethodGet, "/x", nil), zap.New(core), tt.err)

			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			if !strings.Contains(rec.Body.String(), tt.contains) {
				t.Errorf("body %q does not contain %q", rec.Body.String(), tt.contains)
			}
			if got := logs.Len() > 0; got != tt.logged {
				t.Errorf("logged = %v, want %v", got, tt.logged)
			}
		})
	}
}

func TestInfrastructureDetailIsHidden(t *testing.T) {
	rec := httptest.NewRecorder()
	Write(rec, httptest.NewRequest(http.MethodGet, "/x", nil), zap.NewNop(), fmt.Errorf("mongo at 10.0.0.5 refused"))
	if strings.Contains(rec.Body.String(), "10.0.0.5") {
		t.Errorf("body leaks infrastructure detail: %s", rec.Body.String())
	}
}

func TestFallbacks(t *testing.T) {
	rec := httptest.NewRecorder()
	NotFound(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("NotFound status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	MethodNotAllowed(rec, httptest.NewRequest(http.MethodPut, "/health", nil))
	if rec.Code != http.StatusMethodNotAllowed || !strings.Contains(rec.Body.String(), "MethodNotAllowed") {
		t.Errorf("MethodNotAllowed: %d %s", rec.Code, rec.Body.String())
	}
}
