package txn

import (
	"context"
	"errors"
	"testing"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

func TestIsNotSupported(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
		{
			name: "generic error",
			err:  errors.New("some random error"),
			want: false,
		},
		{
			name: "command error code 20",
			err:  mongo.CommandError{Code: 20, Message: "Transaction numbers are only allowed on a replica set member"},
			want: true,
		},
		{
			name: "command error code 51",
			err:  mongo.CommandError{Code: 51, Message: "Illegal operation"},
			want: true,
		},
		{
			name: "command error code 263",
			err:  mongo.CommandError{Code: 263, Message: "Cannot run in a multi-document transaction"},
			want: true,
		},
		{
			name: "other command error code",
			err:  mongo.CommandError{Code: 100, Message: "Some other error"},
			want: false,
		},
		{
			name: "error with transaction and replica set keywords",
			err:  errors.New("transaction failed because this is not a replica set member"),
			want: true,
		},
		{
			name: "error with session and not supported keywords",
			err:  errors.New("session operations are not supported on this server"),
			want: true,
		},
		{
			name: "error with only one keyword",
			err:  errors.New("transaction failed"),
			want: false,
		},
		{
			name: "error with transaction and session",
			err:  errors.New("cannot start transaction in current session state"),
			want: true,
		},
		{
			name: "error with illegal operation keywords",
			err:  errors.New("illegal operation during transaction"),
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsNotSupported(tt.err)
			if got != tt.want {
				t.Errorf("IsNotSupported(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsNotSupported_CaseInsensitive(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "uppercase TRANSACTION and REPLICA SET",
			err:  errors.New("TRANSACTION FAILED on REPLICA SET"),
			want: true,
		},
		{
			name: "mixed case Transaction and Session",
			err:  errors.New("Transaction Session error"),
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsNotSupported(tt.err)
			if got != tt.want {
				t.Errorf("IsNotSupported(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRunCompensated_Success(t *testing.T) {
	var undone bool
	err := runCompensated(context.Background(), zap.NewNop(), func(ctx context.Context) error {
		Compensate(ctx, func(context.Context) error {
			undone = true
			return nil
		})
		return nil
	})
	if err != nil {
		t.Fatalf("runCompensated: %v", err)
	}
	if undone {
		t.Error("undo must not run when fn succeeds")
	}
}

func TestRunCompensated_UndoInReverseOrder(t *testing.T) {
	var order []int
	boom := errors.New("boom")
	err := runCompensated(context.Background(), zap.NewNop(), func(ctx context.Context) error {
		for i := 1; i <= 3; i++ {
			Compensate(ctx, func(context.Context) error {
				order = append(order, i)
				return nil
			})
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	want := []int{3, 2, 1}
	if len(order) != len(want) {
		t.Fatalf("undo order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("undo order = %v, want %v", order, want)
		}
	}
}

func TestRunCompensated_UndoFailureDoesNotMaskError(t *testing.T) {
	boom := errors.New("boom")
	var ran int
	err := runCompensated(context.Background(), zap.NewNop(), func(ctx context.Context) error {
		Compensate(ctx, func(context.Context) error { ran++; return nil })
		Compensate(ctx, func(context.Context) error { ran++; return errors.New("undo failed") })
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if ran != 2 {
		t.Errorf("expected both undos to run, ran %d", ran)
	}
}

func TestRunCompensated_UndoSurvivesCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var undoErr error
	_ = runCompensated(ctx, zap.NewNop(), func(ctx context.Context) error {
		Compensate(ctx, func(uctx context.Context) error {
			undoErr = uctx.Err()
			return nil
		})
		cancel()
		return ctx.Err()
	})
	if undoErr != nil {
		t.Errorf("undo context should not be canceled, got %v", undoErr)
	}
}

func TestCompensate_NoopOutsideCompensatedRun(t *testing.T) {
	// Must not panic when no compensator is present.
	Compensate(context.Background(), func(context.Context) error { return nil })
}
