// Package worker implements the per-database epoch loop of
// SPEC_FULL.md §4.7: sleep, evaluate if unpaused, advance the epoch
// counter, check for shutdown — retrying forever on non-fatal errors
// and exiting (for the launcher to restart) only on fatal ones.
//
// Grounded on original_source/quotamodel.c's worker main loop shape and
// the teacher's pkg/controller/controller.go rate-limiter construction
// (workqueue.NewMaxOfRateLimiter combining an exponential-backoff
// limiter with a token-bucket limiter), built here by NewRetryLimiter
// and used by pkg/launcher to pace worker restarts instead of reconciler
// requeues. A failed epoch is retried after the ordinary naptime.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"k8s.io/client-go/util/workqueue"
	"k8s.io/klog/v2"

	"github.com/diskquota-db/diskquota/pkg/types"
)

const (
	retryBaseDelay = 500 * time.Millisecond
	retryMaxDelay  = 30 * time.Second
)

// NewRetryLimiter builds the rate limiter the launcher uses to back off
// before restarting an exited worker, identical in shape to the
// teacher's controller queue limiter.
func NewRetryLimiter() workqueue.RateLimiter {
	return workqueue.NewMaxOfRateLimiter(
		workqueue.NewItemExponentialFailureRateLimiter(retryBaseDelay, retryMaxDelay),
		&workqueue.BucketRateLimiter{Limiter: rate.NewLimiter(rate.Limit(10), 100)},
	)
}

// EpochRunner performs one epoch's work (drain+size+aggregate+evaluate,
// §4.4+§4.5) for a single database, returning an error that is fatal
// (worker must exit) or not (worker logs and retries next tick).
type EpochRunner interface {
	RunEpoch(ctx context.Context, dbID types.OID) error
}

// PauseChecker reports whether a database is currently paused (§4.6).
type PauseChecker interface {
	IsPaused(dbID types.OID) bool
}

// FatalError wraps an error the worker must treat as fatal (§4.7:
// "Fatal errors (shared memory corruption) exit and are restarted by
// the launcher after backoff"), as opposed to an ordinary epoch failure
// that is logged and retried.
type FatalError struct {
	Err error
}

func (f *FatalError) Error() string { return f.Err.Error() }
func (f *FatalError) Unwrap() error { return f.Err }

// Worker runs one database's epoch loop until its context is canceled
// or a fatal error occurs.
type Worker struct {
	DBID    types.OID
	Naptime time.Duration
	Runner  EpochRunner
	Pause   PauseChecker

	mu    sync.Mutex
	epoch uint64
	// newEpoch is closed and replaced every time the epoch advances, so
	// WaitForNewEpoch can block on it without polling (§4.7
	// wait_for_worker_new_epoch).
	newEpoch chan struct{}
	wake     chan struct{} // buffered 1; used to interrupt the sleep
}

// New constructs a Worker. Naptime <= 0 defaults to the consts package's
// default naptime via the caller; this package has no opinion on it.
func New(dbID types.OID, naptime time.Duration, runner EpochRunner, pause PauseChecker) *Worker {
	return &Worker{
		DBID:     dbID,
		Naptime:  naptime,
		Runner:   runner,
		Pause:    pause,
		newEpoch: make(chan struct{}),
		wake:     make(chan struct{}, 1),
	}
}

// Epoch returns the current epoch counter (§3 WorkerEpoch).
func (w *Worker) Epoch() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.epoch
}

// WaitForNewEpoch blocks until the epoch counter advances past since,
// ctx is canceled, or timeout elapses, mirroring
// wait_for_worker_new_epoch's interruptible-and-timed-out contract.
func (w *Worker) WaitForNewEpoch(ctx context.Context, since uint64, timeout time.Duration) error {
	w.mu.Lock()
	if w.epoch > since {
		w.mu.Unlock()
		return nil
	}
	ch := w.newEpoch
	w.mu.Unlock()

	var timer *time.Timer
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer = time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timeoutCh:
		return context.DeadlineExceeded
	}
}

func (w *Worker) advanceEpoch() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.epoch++
	close(w.newEpoch)
	w.newEpoch = make(chan struct{})
}

// Wake interrupts the worker's current sleep, matching the condition
// variable wait_for_worker_new_epoch signals to jolt a worker early.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run executes the epoch loop (§4.7 steps 1-4) until ctx is canceled or
// a FatalError is returned by the runner.
func (w *Worker) Run(ctx context.Context) error {
	for {
		naptime := w.Naptime

		timer := time.NewTimer(naptime)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-w.wake:
			timer.Stop()
		case <-timer.C:
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		paused := w.Pause != nil && w.Pause.IsPaused(w.DBID)
		if !paused {
			if err := w.Runner.RunEpoch(ctx, w.DBID); err != nil {
				var fatal *FatalError
				if errors.As(err, &fatal) {
					klog.Errorf("worker for db %d hit fatal error, exiting: %v", w.DBID, fatal.Err)
					return fatal
				}
				klog.Warningf("worker for db %d: epoch failed, will retry: %v", w.DBID, err)
				w.advanceEpoch()
				continue
			}
		}

		w.advanceEpoch()
	}
}
