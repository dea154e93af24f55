// internal/app/system/workers/countreconciler.go
package workers

import (
	"context"
	"sync"
	"time"

	connectionstore "github.com/dalemusser/strataconnect/internal/app/store/connections"
	userstore "github.com/dalemusser/strataconnect/internal/app/store/users"
	"github.com/dalemusser/strataconnect/internal/app/system/metrics"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// CountReconciler is a background worker that recomputes users'
// connection_count from accepted connections. The counters are refreshed
// after every accept or remove, but that refresh is best effort.
type CountReconciler struct {
	users       *userstore.Store
	connections *connectionstore.Store
	metrics     *metrics.Metrics
	log         *zap.Logger
	interval    time.Duration
	timeout     time.Duration
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

// NewCountReconciler creates a worker that runs every interval.
func NewCountReconciler(db *mongo.Database, m *metrics.Metrics, logger *zap.Logger, interval time.Duration) *CountReconciler {
	return &CountReconciler{
		users:       userstore.New(db),
		connections: connectionstore.New(db),
		metrics:     m,
		log:         logger,
		interval:    interval,
		timeout:     2 * time.Minute,
		stopCh:      make(chan struct{}),
	}
}

// Start begins the background loop.
func (w *CountReconciler) Start() {
	w.wg.Add(1)
	go w.run()
	w.log.Info("count reconciler started", zap.Duration("interval", w.interval))
}

// Stop signals the worker to stop and waits for it to finish.
func (w *CountReconciler) Stop() {
	close(w.stopCh)
	w.wg.Wait()
	w.log.Info("count reconciler stopped")
}

func (w *CountReconciler) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
			n, err := w.Reconcile(ctx)
			cancel()
			if err != nil {
				w.log.Error("count reconciliation failed", zap.Error(err))
				continue
			}
			if n > 0 {
				w.log.Info("repaired connection counts", zap.Int("users", n))
			}
		}
	}
}

// Reconcile runs one pass and returns how many users were repaired. Running
// it again without intervening changes repairs nothing.
func (w *CountReconciler) Reconcile(ctx context.Context) (int, error) {
	want, err := w.connections.AcceptedCounts(ctx)
	if err != nil {
		return 0, err
	}

	var drifted []userstore.CountEntry
	err = w.users.ForEachCount(ctx, func(e userstore.CountEntry) error {
		if n := want[e.ID]; n != e.ConnectionCount {
			drifted = append(drifted, userstore.CountEntry{ID: e.ID, ConnectionCount: n})
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	repaired := 0
	for _, e := range drifted {
		if err := w.users.SetConnectionCount(ctx, e.ID, e.ConnectionCount); err != nil {
			w.metrics.Reconciled(repaired)
			return repaired, err
		}
		repaired++
	}
	w.metrics.Reconciled(repaired)
	return repaired, nil
}
