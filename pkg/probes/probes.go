// Package probes implements the four storage-event hooks and the
// post-object-create hook described in SPEC_FULL.md §4.1, realized as a
// Listener interface the segment agent's storage-manager integration
// registers against, chaining to whatever listener was registered
// before it.
//
// Grounded on SPEC_FULL.md §9 "Hooks as callbacks": the original C
// extension replaces global storage-manager function pointers; this
// rewrite exposes a Go interface instead and lets the host wiring
// (cmd/diskquota-segment) decide how storage events reach it (direct
// call, local RPC, etc.), matching the teacher's habit of expressing
// integration points as small interfaces (e.g. pkg/controller's
// EventHandler) rather than global function-pointer tables.
package probes

import (
	"context"

	"github.com/diskquota-db/diskquota/pkg/types"
	"k8s.io/klog/v2"
)

// StorageDescriptor identifies the physical file a create/extend/
// truncate/unlink event applies to (§4.1).
type StorageDescriptor struct {
	types.RelFileKey
	BackendID int32
}

// ReservedOIDBoundary is the highest OID reserved for the host's own
// catalog objects; the post-object-create probe only fires for
// user-visible relations above this boundary (§4.1).
const ReservedOIDBoundary types.OID = 16384

// ObjectClass enumerates the catalog object classes the post-create hook
// can observe. Only ClassRelation objects are of interest here.
type ObjectClass int

const (
	ClassRelation ObjectClass = iota
	ClassOther
)

// ObjectAccessPhase mirrors the host's object-access-hook phases; only
// PhasePostCreate matters to this probe.
type ObjectAccessPhase int

const (
	PhasePostCreate ObjectAccessPhase = iota
	PhaseOther
)

// ObjectDescriptor identifies a just-created catalog object (§4.1).
type ObjectDescriptor struct {
	Class    ObjectClass
	ObjectID types.OID
	SubID    types.OID // nonzero for sub-objects (e.g. a column); see ShouldSkip
	Phase    ObjectAccessPhase
}

// ShouldSkip reports whether the post-object-create probe should ignore
// this event. SPEC_FULL.md §9 records the ambiguous source behavior
// verbatim and adopts "||" as observed: skip unless the object is a
// user-visible relation AND this is the post-create phase AND SubID is
// zero, which the source expresses as skipping "if class is not a
// relation OR subId != 0" for the class/subid part, OR'd with the phase
// check being wrong. We keep that OR exactly: any one of these being
// true is enough to skip.
func (d ObjectDescriptor) ShouldSkip() bool {
	return d.Class != ClassRelation ||
		d.SubID != 0 ||
		d.Phase != PhasePostCreate ||
		d.ObjectID <= ReservedOIDBoundary
}

// Listener receives storage-manager events. Implementations must never
// block for long or return an error to the caller (§4.1 "Failure":
// probes must never raise); Hooks.OnCreate etc. recover from any panic
// in a chained listener so one misbehaving subscriber cannot take down
// the storage manager call path.
type Listener interface {
	OnCreate(ctx context.Context, d StorageDescriptor)
	OnExtend(ctx context.Context, d StorageDescriptor)
	OnTruncate(ctx context.Context, d StorageDescriptor)
	OnUnlink(ctx context.Context, d StorageDescriptor)
	OnObjectCreate(ctx context.Context, d ObjectDescriptor)
}

// ActiveFileSet is the subset of *shmem.ShardedSet[types.RelFileKey]'s
// API the hooks need, kept as an interface so tests can substitute a
// capacity-1 fake to exercise overflow without constructing real shards.
type ActiveFileSet interface {
	Insert(key types.RelFileKey) bool
}

// RelationCacheEvictor is the subset of relationcache.Cache's API the
// unlink hook needs.
type RelationCacheEvictor interface {
	EvictByRelfilenode(key types.RelFileKey)
}

// RelationCacheUpdater is the subset of relationcache.Cache's API the
// post-object-create hook needs.
type RelationCacheUpdater interface {
	Update(ctx context.Context, relationID types.OID) error
}

// MonitorChecker reports whether a database currently has an active
// worker, so probes can short-circuit for unmonitored databases (§3
// MonitoredDbSet, §4.1 step b).
type MonitorChecker interface {
	IsMonitored(dbID types.OID) bool
}

// RoleChecker reports whether the current process is the coordinator or
// a mirror replica, in which case probes are a no-op (§4.1 step a).
type RoleChecker func() bool

// Hooks implements Listener, wiring the four file-event hooks and the
// object-create hook to the active-file set and relation cache, with
// optional chaining to a previously registered Listener.
type Hooks struct {
	IsCoordinatorOrMirror RoleChecker
	Monitored             MonitorChecker
	ActiveFiles           ActiveFileSet
	RelationCache         RelationCacheEvictor
	CacheUpdater          RelationCacheUpdater
	Next                  Listener // previously registered listener, chained after this one
}

func (h *Hooks) recoverAndLog(event string) {
	if r := recover(); r != nil {
		klog.ErrorS(nil, "storage probe panicked; dropping event", "event", event, "panic", r)
	}
}

func (h *Hooks) observe(ctx context.Context, event string, d StorageDescriptor) {
	defer h.recoverAndLog(event)

	if h.IsCoordinatorOrMirror != nil && h.IsCoordinatorOrMirror() {
		return
	}
	if h.Monitored != nil && !h.Monitored.IsMonitored(d.DBID) {
		return
	}
	if h.ActiveFiles != nil && !h.ActiveFiles.Insert(d.RelFileKey) {
		klog.Warningf("active-table map full; dropping %s event for db=%d tablespace=%d relfilenode=%d",
			event, d.DBID, d.TablespaceOID, d.RelfilenodeID)
	}
}

// OnCreate implements Listener.
func (h *Hooks) OnCreate(ctx context.Context, d StorageDescriptor) {
	defer h.recoverAndLog("create")
	h.observe(ctx, "create", d)
	if h.Next != nil {
		h.Next.OnCreate(ctx, d)
	}
}

// OnExtend implements Listener.
func (h *Hooks) OnExtend(ctx context.Context, d StorageDescriptor) {
	defer h.recoverAndLog("extend")
	h.observe(ctx, "extend", d)
	if h.Next != nil {
		h.Next.OnExtend(ctx, d)
	}
}

// OnTruncate implements Listener.
func (h *Hooks) OnTruncate(ctx context.Context, d StorageDescriptor) {
	defer h.recoverAndLog("truncate")
	h.observe(ctx, "truncate", d)
	if h.Next != nil {
		h.Next.OnTruncate(ctx, d)
	}
}

// OnUnlink implements Listener. In addition to the common observe
// behavior, it evicts any relation cache entry pointing at this
// relfilenode (§4.1).
func (h *Hooks) OnUnlink(ctx context.Context, d StorageDescriptor) {
	defer h.recoverAndLog("unlink")
	h.observe(ctx, "unlink", d)
	if h.RelationCache != nil {
		func() {
			defer h.recoverAndLog("unlink-evict")
			h.RelationCache.EvictByRelfilenode(d.RelFileKey)
		}()
	}
	if h.Next != nil {
		h.Next.OnUnlink(ctx, d)
	}
}

// OnObjectCreate implements Listener, filtering to relation-class
// objects in the post-create phase (§4.1) before updating the relation
// cache.
func (h *Hooks) OnObjectCreate(ctx context.Context, d ObjectDescriptor) {
	defer h.recoverAndLog("object-create")

	if !d.ShouldSkip() && h.CacheUpdater != nil {
		if err := h.CacheUpdater.Update(ctx, d.ObjectID); err != nil {
			klog.Warningf("relation cache update failed for relation %d: %v", d.ObjectID, err)
		}
	}
	if h.Next != nil {
		h.Next.OnObjectCreate(ctx, d)
	}
}
