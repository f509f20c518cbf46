// Package launcher implements the singleton launcher of
// SPEC_FULL.md §4.7: owns the persisted set of monitored databases,
// starts one worker per database at startup, and handles
// create/drop-extension requests through a single-slot mailbox.
//
// Grounded on original_source/diskquota.h's ExtensionDDLMessage /
// MessageCommand / MessageResult shapes (the mailbox protocol is
// translated verbatim into Go types) and on the teacher's
// pkg/controller/controller.go rate limiter for restart backoff, reused
// from pkg/worker.NewRetryLimiter.
package launcher

import (
	"context"
	"sync"
	"time"

	"k8s.io/client-go/util/workqueue"
	"k8s.io/klog/v2"

	"github.com/diskquota-db/diskquota/pkg/consts"
	"github.com/diskquota-db/diskquota/pkg/types"
	"github.com/diskquota-db/diskquota/pkg/worker"
)

// Command mirrors original_source/diskquota.h's MessageCommand.
type Command int

const (
	CmdCreateExtension Command = iota + 1
	CmdDropExtension
)

// Result mirrors original_source/diskquota.h's MessageResult.
type Result int

const (
	ErrPending Result = iota
	ErrOK
	ErrExceed
	ErrAddToDB
	ErrDelFromDB
	ErrStartWorker
	ErrInvalidDBID
	ErrUnknown
)

func (r Result) String() string {
	switch r {
	case ErrPending:
		return "ERR_PENDING"
	case ErrOK:
		return "ERR_OK"
	case ErrExceed:
		return "ERR_EXCEED"
	case ErrAddToDB:
		return "ERR_ADD_TO_DB"
	case ErrDelFromDB:
		return "ERR_DEL_FROM_DB"
	case ErrStartWorker:
		return "ERR_START_WORKER"
	case ErrInvalidDBID:
		return "ERR_INVALID_DBID"
	default:
		return "ERR_UNKNOWN"
	}
}

// Message is the single-slot mailbox request/response (§4.7 "Mailbox
// protocol"), translating ExtensionDDLMessage's req_pid, cmd, dbid and
// result fields; launcher_pid has no counterpart here.
type Message struct {
	ReqPID int
	Cmd    Command
	DBID   types.OID
	Result Result
}

// MonitoredDBStore persists the set of monitored databases (§6
// persisted schema, §4.7 "persist dbid").
type MonitoredDBStore interface {
	Add(ctx context.Context, dbID types.OID) error
	Remove(ctx context.Context, dbID types.OID) error
	List(ctx context.Context) ([]types.OID, error)
}

// WorkerHandle is the subset of *worker.Worker's API the launcher needs
// to supervise a running worker. A handle that also implements
// EpochWaiter (every real *worker.Worker does) is reachable through
// Lookup for wait_for_worker_new_epoch.
type WorkerHandle interface {
	Run(ctx context.Context) error
}

// EpochWaiter mirrors pkg/mgmt.EpochWaiter without importing it, so a
// running worker's epoch-wait API can be exposed through Lookup without
// pkg/launcher depending on pkg/mgmt.
type EpochWaiter interface {
	Epoch() uint64
	WaitForNewEpoch(ctx context.Context, since uint64, timeout time.Duration) error
}

// WorkerFactory constructs the worker for a newly monitored database.
type WorkerFactory func(dbID types.OID) WorkerHandle

// Launcher is the singleton process owning MonitoredDbSet and every
// running per-database worker.
type Launcher struct {
	Store       MonitoredDBStore
	NewWorker   WorkerFactory
	MaxDatabases int

	mu      sync.Mutex
	running map[types.OID]runningWorker
	limiter workqueue.RateLimiter
	wg      sync.WaitGroup
}

// runningWorker tracks one monitored database's supervisor state: the
// cancel func that stops it, and the latest WorkerHandle its supervisor
// goroutine created (for Lookup).
type runningWorker struct {
	cancel context.CancelFunc
	handle WorkerHandle
}

// New constructs a Launcher. maxDatabases <= 0 defaults to
// consts.MaxNumMonitoredDB.
func New(store MonitoredDBStore, factory WorkerFactory, maxDatabases int) *Launcher {
	if maxDatabases <= 0 {
		maxDatabases = consts.MaxNumMonitoredDB
	}
	return &Launcher{
		Store:        store,
		NewWorker:    factory,
		MaxDatabases: maxDatabases,
		running:      make(map[types.OID]runningWorker),
		limiter:      worker.NewRetryLimiter(),
	}
}

// Start launches one worker per database in Store's persisted list,
// the way the launcher populates its worker set at process startup.
func (l *Launcher) Start(ctx context.Context) error {
	dbIDs, err := l.Store.List(ctx)
	if err != nil {
		return err
	}
	for _, dbID := range dbIDs {
		l.startWorker(ctx, dbID)
	}
	return nil
}

// Wait blocks until every supervised worker goroutine has returned,
// used by tests and graceful-shutdown paths.
func (l *Launcher) Wait() {
	l.wg.Wait()
}

// startWorker launches and supervises dbID's worker, restarting it with
// exponential backoff (via l.limiter) whenever it exits while its
// context is still live (§4.7: "Fatal errors ... exit and are restarted by the launcher
// after backoff" — here any worker exit warrants a restart, since the
// only other exit path is clean context cancellation, which the caller
// controls directly).
func (l *Launcher) startWorker(ctx context.Context, dbID types.OID) {
	workerCtx, cancel := context.WithCancel(ctx)

	l.mu.Lock()
	l.running[dbID] = runningWorker{cancel: cancel}
	l.mu.Unlock()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		for {
			w := l.NewWorker(dbID)

			l.mu.Lock()
			if rw, ok := l.running[dbID]; ok {
				rw.handle = w
				l.running[dbID] = rw
			}
			l.mu.Unlock()

			err := w.Run(workerCtx)
			if workerCtx.Err() != nil {
				return
			}
			klog.Errorf("launcher: worker for db %d exited, restarting: %v", dbID, err)
			delay := l.limiter.When(dbID)
			select {
			case <-workerCtx.Done():
				return
			case <-time.After(delay):
			}
		}
	}()
}

// Handle processes one mailbox Message (§4.7 CMD_CREATE_EXTENSION /
// CMD_DROP_EXTENSION), returning the Result the requester's mailbox
// slot should be written with.
func (l *Launcher) Handle(ctx context.Context, msg Message) Result {
	switch msg.Cmd {
	case CmdCreateExtension:
		return l.handleCreate(ctx, msg.DBID)
	case CmdDropExtension:
		return l.handleDrop(ctx, msg.DBID)
	default:
		return ErrUnknown
	}
}

func (l *Launcher) handleCreate(ctx context.Context, dbID types.OID) Result {
	l.mu.Lock()
	_, already := l.running[dbID]
	count := len(l.running)
	l.mu.Unlock()

	if already {
		return ErrOK
	}
	if count >= l.MaxDatabases {
		return ErrExceed
	}
	if err := l.Store.Add(ctx, dbID); err != nil {
		klog.Errorf("launcher: persisting db %d failed: %v", dbID, err)
		return ErrAddToDB
	}
	l.startWorker(ctx, dbID)
	return ErrOK
}

func (l *Launcher) handleDrop(ctx context.Context, dbID types.OID) Result {
	l.mu.Lock()
	rw, ok := l.running[dbID]
	delete(l.running, dbID)
	l.mu.Unlock()

	if ok {
		rw.cancel()
	}
	if err := l.Store.Remove(ctx, dbID); err != nil {
		klog.Errorf("launcher: unpersisting db %d failed: %v", dbID, err)
		return ErrDelFromDB
	}
	return ErrOK
}

// IsMonitored reports whether dbID currently has a running worker,
// implementing probes.MonitorChecker for the storage-event hooks.
func (l *Launcher) IsMonitored(dbID types.OID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.running[dbID]
	return ok
}

// Lookup has the shape of mgmt.WorkerLookup's method but returns this
// package's EpochWaiter, so *Launcher does not itself satisfy
// mgmt.WorkerLookup. It returns dbID's current WorkerHandle as an
// EpochWaiter if it is monitored and its supervisor goroutine has
// created at least one worker instance.
func (l *Launcher) Lookup(dbID types.OID) (EpochWaiter, bool) {
	l.mu.Lock()
	rw, ok := l.running[dbID]
	l.mu.Unlock()
	if !ok || rw.handle == nil {
		return nil, false
	}
	waiter, ok := rw.handle.(EpochWaiter)
	return waiter, ok
}
