package launcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/diskquota-db/diskquota/pkg/types"
)

type fakeStore struct {
	mu      sync.Mutex
	dbs     map[types.OID]bool
	addErr  error
	remErr  error
}

func newFakeStore(initial ...types.OID) *fakeStore {
	s := &fakeStore{dbs: make(map[types.OID]bool)}
	for _, id := range initial {
		s.dbs[id] = true
	}
	return s
}

func (s *fakeStore) Add(ctx context.Context, dbID types.OID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addErr != nil {
		return s.addErr
	}
	s.dbs[dbID] = true
	return nil
}

func (s *fakeStore) Remove(ctx context.Context, dbID types.OID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remErr != nil {
		return s.remErr
	}
	delete(s.dbs, dbID)
	return nil
}

func (s *fakeStore) List(ctx context.Context) ([]types.OID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.OID
	for id := range s.dbs {
		out = append(out, id)
	}
	return out, nil
}

type blockingWorker struct {
	started chan struct{}
	once    sync.Once
}

func (w *blockingWorker) Run(ctx context.Context) error {
	w.once.Do(func() { close(w.started) })
	<-ctx.Done()
	return ctx.Err()
}

type workerRegistry struct {
	mu      sync.Mutex
	workers map[types.OID]*blockingWorker
}

func (r *workerRegistry) get(dbID types.OID) (*blockingWorker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[dbID]
	return w, ok
}

func newBlockingFactory() (WorkerFactory, *workerRegistry) {
	reg := &workerRegistry{workers: make(map[types.OID]*blockingWorker)}
	factory := func(dbID types.OID) WorkerHandle {
		reg.mu.Lock()
		defer reg.mu.Unlock()
		w := &blockingWorker{started: make(chan struct{})}
		reg.workers[dbID] = w
		return w
	}
	return factory, reg
}

func TestStartLaunchesOneWorkerPerPersistedDatabase(t *testing.T) {
	store := newFakeStore(10, 20)
	factory, workers := newBlockingFactory()
	l := New(store, factory, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := l.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for _, dbID := range []types.OID{10, 20} {
		waitStarted(t, workers, dbID)
	}
	if !l.IsMonitored(10) || !l.IsMonitored(20) {
		t.Fatalf("expected both databases monitored")
	}
}

func waitStarted(t *testing.T, reg *workerRegistry, dbID types.OID) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for {
		if w, ok := reg.get(dbID); ok {
			select {
			case <-w.started:
				return
			case <-time.After(time.Until(deadline)):
				t.Fatalf("worker for db %d never started", dbID)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("worker for db %d was never created", dbID)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestHandleCreateExtensionStartsWorker(t *testing.T) {
	store := newFakeStore()
	factory, workers := newBlockingFactory()
	l := New(store, factory, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	result := l.Handle(ctx, Message{Cmd: CmdCreateExtension, DBID: 42})
	if result != ErrOK {
		t.Fatalf("expected ErrOK, got %v", result)
	}
	waitStarted(t, workers, 42)
	if !l.IsMonitored(42) {
		t.Fatalf("expected db 42 to be monitored")
	}

	dbs, _ := store.List(ctx)
	found := false
	for _, id := range dbs {
		if id == 42 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected db 42 persisted")
	}
}

func TestHandleCreateExtensionExceedsCapacity(t *testing.T) {
	store := newFakeStore(1, 2)
	factory, _ := newBlockingFactory()
	l := New(store, factory, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = l.Start(ctx)

	result := l.Handle(ctx, Message{Cmd: CmdCreateExtension, DBID: 3})
	if result != ErrExceed {
		t.Fatalf("expected ErrExceed, got %v", result)
	}
}

func TestHandleDropExtensionStopsWorker(t *testing.T) {
	store := newFakeStore(7)
	factory, workers := newBlockingFactory()
	l := New(store, factory, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = l.Start(ctx)
	waitStarted(t, workers, 7)

	result := l.Handle(ctx, Message{Cmd: CmdDropExtension, DBID: 7})
	if result != ErrOK {
		t.Fatalf("expected ErrOK, got %v", result)
	}
	if l.IsMonitored(7) {
		t.Fatalf("expected db 7 to no longer be monitored")
	}
}

func TestHandleCreateExtensionPersistFailure(t *testing.T) {
	store := newFakeStore()
	store.addErr = errors.New("db unavailable")
	factory, _ := newBlockingFactory()
	l := New(store, factory, 0)

	result := l.Handle(context.Background(), Message{Cmd: CmdCreateExtension, DBID: 1})
	if result != ErrAddToDB {
		t.Fatalf("expected ErrAddToDB, got %v", result)
	}
}

func TestHandleUnknownCommand(t *testing.T) {
	l := New(newFakeStore(), func(types.OID) WorkerHandle { return nil }, 0)
	if got := l.Handle(context.Background(), Message{Cmd: Command(99)}); got != ErrUnknown {
		t.Fatalf("expected ErrUnknown, got %v", got)
	}
}

// epochWaitingWorker is a WorkerHandle that also implements EpochWaiter,
// the way a real *worker.Worker does.
type epochWaitingWorker struct {
	blockingWorker
	epoch uint64
}

func (w *epochWaitingWorker) Epoch() uint64 { return w.epoch }

func (w *epochWaitingWorker) WaitForNewEpoch(ctx context.Context, since uint64, timeout time.Duration) error {
	return nil
}

func TestLookupUnknownDatabaseNotFound(t *testing.T) {
	l := New(newFakeStore(), func(types.OID) WorkerHandle { return nil }, 0)
	if _, ok := l.Lookup(999); ok {
		t.Fatalf("expected Lookup to report not found for an unmonitored database")
	}
}

func TestLookupBeforeWorkerCreatedNotFound(t *testing.T) {
	store := newFakeStore()
	store.addErr = nil
	block := make(chan struct{})
	l := New(store, func(types.OID) WorkerHandle {
		<-block
		return &blockingWorker{started: make(chan struct{})}
	}, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer close(block)

	if result := l.Handle(ctx, Message{Cmd: CmdCreateExtension, DBID: 5}); result != ErrOK {
		t.Fatalf("expected ErrOK, got %v", result)
	}
	if _, ok := l.Lookup(5); ok {
		t.Fatalf("expected Lookup to report not found before the factory returns a handle")
	}
}

func TestLookupReturnsEpochWaiterOnceWorkerStarted(t *testing.T) {
	store := newFakeStore()
	l := New(store, func(types.OID) WorkerHandle {
		return &epochWaitingWorker{blockingWorker: blockingWorker{started: make(chan struct{})}, epoch: 3}
	}, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if result := l.Handle(ctx, Message{Cmd: CmdCreateExtension, DBID: 8}); result != ErrOK {
		t.Fatalf("expected ErrOK, got %v", result)
	}

	deadline := time.Now().Add(time.Second)
	for {
		waiter, ok := l.Lookup(8)
		if ok {
			if waiter.Epoch() != 3 {
				t.Fatalf("expected epoch 3, got %d", waiter.Epoch())
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Lookup never returned an EpochWaiter for db 8")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestLookupNonEpochWaiterHandleNotFound(t *testing.T) {
	store := newFakeStore()
	factory, workers := newBlockingFactory()
	l := New(store, factory, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if result := l.Handle(ctx, Message{Cmd: CmdCreateExtension, DBID: 11}); result != ErrOK {
		t.Fatalf("expected ErrOK, got %v", result)
	}
	waitStarted(t, workers, 11)

	if _, ok := l.Lookup(11); ok {
		t.Fatalf("expected Lookup to report not found for a handle that does not implement EpochWaiter")
	}
}
