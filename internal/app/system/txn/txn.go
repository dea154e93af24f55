// Package txn runs multi-document writes atomically.
//
// On a replica set Run uses a MongoDB transaction: fn sees a session context
// and every write inside it commits or aborts together, and write conflicts
// between concurrent transactions are retried by the driver. On a standalone
// server transactions are unavailable, so Run falls back to compensated mode:
// fn runs without a session and every undo registered through Compensate is
// executed in reverse order if fn fails. Unique indexes and conditional
// writes in the stores keep the invariants intact in either mode.
package txn

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// standalone latches once the server has told us it cannot run transactions.
var standalone atomic.Bool

type compensatorKey struct{}

type compensator struct {
	mu    sync.Mutex
	undos []func(context.Context) error
}

// Run executes fn atomically.
func Run(ctx context.Context, db *mongo.Database, log *zap.Logger, fn func(ctx context.Context) error) error {
	if standalone.Load() {
		return runCompensated(ctx, log, fn)
	}

	sess, err := db.Client().StartSession()
	if err != nil {
		if IsNotSupported(err) {
			markStandalone(log, err)
			return runCompensated(ctx, log, fn)
		}
		return err
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return nil, fn(sc)
	})
	if err != nil && IsNotSupported(err) {
		markStandalone(log, err)
		return runCompensated(ctx, log, fn)
	}
	return err
}

// Compensate registers undo to run if the surrounding Run fails in
// compensated mode. Inside a real transaction it is a no-op.
func Compensate(ctx context.Context, undo func(ctx context.Context) error) {
	c, ok := ctx.Value(compensatorKey{}).(*compensator)
	if !ok {
		return
	}
	c.mu.Lock()
	c.undos = append(c.undos, undo)
	c.mu.Unlock()
}

// Transactional reports whether writes will commit atomically.
func Transactional() bool {
	return !standalone.Load()
}

func markStandalone(log *zap.Logger, cause error) {
	if standalone.CompareAndSwap(false, true) && log != nil {
		log.Warn("mongo transactions unavailable; using compensated writes", zap.Error(cause))
	}
}

func runCompensated(ctx context.Context, log *zap.Logger, fn func(ctx context.Context) error) error {
	c := &compensator{}
	err := fn(context.WithValue(ctx, compensatorKey{}, c))
	if err == nil {
		return nil
	}
	c.rollback(context.WithoutCancel(ctx), log)
	return err
}

func (c *compensator) rollback(ctx context.Context, log *zap.Logger) {
	c.mu.Lock()
	undos := c.undos
	c.undos = nil
	c.mu.Unlock()

	for i := len(undos) - 1; i >= 0; i-- {
		if err := undos[i](ctx); err != nil && log != nil {
			log.Error("compensating write failed", zap.Int("step", i), zap.Error(err))
		}
	}
}

// IsNotSupported reports whether err means the deployment cannot run
// multi-document transactions (standalone mongod, some emulators).
func IsNotSupported(err error) bool {
	if err == nil {
		return false
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) {
		switch ce.Code {
		case 20, 51, 263: // IllegalOperation, IllegalOperation (legacy), OperationNotSupportedInTransaction
			return true
		}
	}
	s := strings.ToLower(err.Error())
	if strings.Contains(s, "transaction") &&
		(strings.Contains(s, "replica set") || strings.Contains(s, "session") || strings.Contains(s, "illegal")) {
		return true
	}
	return strings.Contains(s, "session") && strings.Contains(s, "not supported")
}
