package probes

import (
	"context"
	"testing"

	"github.com/diskquota-db/diskquota/pkg/types"
)

type fakeActiveFiles struct {
	capacity int
	inserted []types.RelFileKey
}

func (f *fakeActiveFiles) Insert(key types.RelFileKey) bool {
	if f.capacity > 0 && len(f.inserted) >= f.capacity {
		return false
	}
	f.inserted = append(f.inserted, key)
	return true
}

type fakeRelationCache struct {
	evicted []types.RelFileKey
}

func (f *fakeRelationCache) EvictByRelfilenode(key types.RelFileKey) {
	f.evicted = append(f.evicted, key)
}

func TestHooksSkipWhenCoordinatorOrMirror(t *testing.T) {
	files := &fakeActiveFiles{}
	h := &Hooks{
		IsCoordinatorOrMirror: func() bool { return true },
		ActiveFiles:           files,
	}
	h.OnCreate(context.Background(), StorageDescriptor{RelFileKey: types.RelFileKey{DBID: 1}})
	if len(files.inserted) != 0 {
		t.Fatalf("expected no insert on coordinator/mirror process, got %v", files.inserted)
	}
}

func TestHooksSkipWhenDatabaseNotMonitored(t *testing.T) {
	files := &fakeActiveFiles{}
	h := &Hooks{
		Monitored:   monitorFunc(func(types.OID) bool { return false }),
		ActiveFiles: files,
	}
	h.OnExtend(context.Background(), StorageDescriptor{RelFileKey: types.RelFileKey{DBID: 7}})
	if len(files.inserted) != 0 {
		t.Fatalf("expected no insert for unmonitored db, got %v", files.inserted)
	}
}

func TestHooksInsertsWhenMonitored(t *testing.T) {
	files := &fakeActiveFiles{}
	h := &Hooks{
		Monitored:   monitorFunc(func(types.OID) bool { return true }),
		ActiveFiles: files,
	}
	key := types.RelFileKey{DBID: 7, TablespaceOID: 1, RelfilenodeID: 100}
	h.OnCreate(context.Background(), StorageDescriptor{RelFileKey: key})
	if len(files.inserted) != 1 || files.inserted[0] != key {
		t.Fatalf("expected key inserted once, got %v", files.inserted)
	}
}

func TestHooksOverflowDoesNotPanic(t *testing.T) {
	files := &fakeActiveFiles{capacity: 0}
	h := &Hooks{
		Monitored:   monitorFunc(func(types.OID) bool { return true }),
		ActiveFiles: files,
	}
	// should simply log a warning and return, never panic.
	h.OnTruncate(context.Background(), StorageDescriptor{RelFileKey: types.RelFileKey{DBID: 1}})
}

func TestOnUnlinkEvictsRelationCache(t *testing.T) {
	files := &fakeActiveFiles{}
	cache := &fakeRelationCache{}
	h := &Hooks{
		Monitored:     monitorFunc(func(types.OID) bool { return true }),
		ActiveFiles:   files,
		RelationCache: cache,
	}
	key := types.RelFileKey{DBID: 1, RelfilenodeID: 42}
	h.OnUnlink(context.Background(), StorageDescriptor{RelFileKey: key})
	if len(cache.evicted) != 1 || cache.evicted[0] != key {
		t.Fatalf("expected eviction of %v, got %v", key, cache.evicted)
	}
}

func TestHooksChaining(t *testing.T) {
	var calls []string
	next := recordingListener(func(event string) { calls = append(calls, event) })
	h := &Hooks{
		Monitored: monitorFunc(func(types.OID) bool { return true }),
		Next:      next,
	}
	h.OnCreate(context.Background(), StorageDescriptor{})
	h.OnExtend(context.Background(), StorageDescriptor{})
	h.OnTruncate(context.Background(), StorageDescriptor{})
	h.OnUnlink(context.Background(), StorageDescriptor{})
	h.OnObjectCreate(context.Background(), ObjectDescriptor{})

	expected := []string{"create", "extend", "truncate", "unlink", "object-create"}
	if len(calls) != len(expected) {
		t.Fatalf("expected %v calls, got %v", expected, calls)
	}
	for i, e := range expected {
		if calls[i] != e {
			t.Fatalf("call %v: expected %v, got %v", i, e, calls[i])
		}
	}
}

func TestObjectDescriptorShouldSkip(t *testing.T) {
	testCases := []struct {
		name     string
		d        ObjectDescriptor
		expected bool
	}{
		{"not a relation", ObjectDescriptor{Class: ClassOther, Phase: PhasePostCreate, ObjectID: ReservedOIDBoundary + 1}, true},
		{"has subid", ObjectDescriptor{Class: ClassRelation, SubID: 1, Phase: PhasePostCreate, ObjectID: ReservedOIDBoundary + 1}, true},
		{"wrong phase", ObjectDescriptor{Class: ClassRelation, Phase: PhaseOther, ObjectID: ReservedOIDBoundary + 1}, true},
		{"reserved oid", ObjectDescriptor{Class: ClassRelation, Phase: PhasePostCreate, ObjectID: ReservedOIDBoundary}, true},
		{"valid relation create", ObjectDescriptor{Class: ClassRelation, Phase: PhasePostCreate, ObjectID: ReservedOIDBoundary + 1}, false},
	}

	for _, tc := range testCases {
		if got := tc.d.ShouldSkip(); got != tc.expected {
			t.Errorf("%s: expected ShouldSkip=%v, got %v", tc.name, tc.expected, got)
		}
	}
}

type monitorFunc func(types.OID) bool

func (f monitorFunc) IsMonitored(id types.OID) bool { return f(id) }

type recordingListener func(event string)

func (r recordingListener) OnCreate(context.Context, StorageDescriptor)       { r("create") }
func (r recordingListener) OnExtend(context.Context, StorageDescriptor)       { r("extend") }
func (r recordingListener) OnTruncate(context.Context, StorageDescriptor)     { r("truncate") }
func (r recordingListener) OnUnlink(context.Context, StorageDescriptor)      { r("unlink") }
func (r recordingListener) OnObjectCreate(context.Context, ObjectDescriptor) { r("object-create") }
