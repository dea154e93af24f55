package apperr_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dalemusser/strataconnect/internal/app/system/apperr"
)

func TestIs_MatchesOnCode(t *testing.T) {
	err := apperr.ErrLastAdminGuard.WithMessage("custom")
	if !errors.Is(err, apperr.ErrLastAdminGuard) {
		t.Error("copy with new message should match its sentinel")
	}
	if errors.Is(err, apperr.ErrInvalidState) {
		t.Error("different code with same kind must not match")
	}
}

func TestIs_ThroughWrapping(t *testing.T) {
	err := fmt.Errorf("respond: %w", apperr.ErrAlreadyResolved)
	if !errors.Is(err, apperr.ErrAlreadyResolved) {
		t.Error("wrapped sentinel should match")
	}
	if got := apperr.KindOf(err); got != apperr.KindInvalidState {
		t.Errorf("KindOf: got %q, want %q", got, apperr.KindInvalidState)
	}
}

func TestKindOf_Infrastructure(t *testing.T) {
	if got := apperr.KindOf(errors.New("socket closed")); got != "" {
		t.Errorf("KindOf(plain error) = %q, want empty", got)
	}
}

func TestWrap_KeepsCause(t *testing.T) {
	cause := errors.New("E11000 duplicate key")
	err := apperr.ErrConflict.Wrap(cause)
	if !errors.Is(err, cause) {
		t.Error("wrapped cause should be reachable")
	}
	if apperr.ErrConflict.Unwrap() != nil {
		t.Error("sentinel must not be mutated by Wrap")
	}
}

func TestWithFields(t *testing.T) {
	err := apperr.ErrValidation.WithFields(map[string]string{"name": "required"})
	ae, ok := apperr.As(err)
	if !ok {
		t.Fatal("As failed")
	}
	if ae.Fields["name"] != "required" {
		t.Errorf("fields: got %v", ae.Fields)
	}
	if apperr.ErrValidation.Fields != nil {
		t.Error("sentinel must not be mutated by WithFields")
	}
}
