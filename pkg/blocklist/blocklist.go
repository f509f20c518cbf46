// Package blocklist implements the shared blocklist and enforcement
// gate of SPEC_FULL.md §4.6: a relation_id -> BlocklistEntry map
// consulted on every write, with per-database pause support that
// short-circuits enforcement without disturbing the blocklist content.
//
// Grounded on original_source/diskquota.h's disk_quota_black_map (a
// ShmemInitHash keyed by (target, type, segid)) and
// invalidate_database_blackmap, realized here on top of
// pkg/shmem.Map[types.OID, types.BlocklistEntry] the way the teacher
// layers pkg/node's per-volume locks on pkg/node/nslock.go's generic map.
package blocklist

import (
	"fmt"

	"github.com/diskquota-db/diskquota/pkg/shmem"
	"github.com/diskquota-db/diskquota/pkg/types"
)

// ErrQuotaExceeded is returned by Gate.Check when a write should be
// refused. It carries the BlocklistEntry so callers can format the
// target and limit into a user-facing message.
type ErrQuotaExceeded struct {
	Entry types.BlocklistEntry
}

func (e *ErrQuotaExceeded) Error() string {
	return fmt.Sprintf("quota exceeded for target %+v (type %s): %s", e.Entry.Target, e.Entry.Type, e.Entry.Reason)
}

// PauseChecker reports whether enforcement is currently paused for a
// database (§4.6 Pause, §3 PausedState).
type PauseChecker interface {
	IsPaused(dbID types.OID) bool
}

// Blocklist is the shared map every database's evaluator writes to and
// every write-path check reads from.
type Blocklist struct {
	m *shmem.Map[types.OID, types.BlocklistEntry]
}

// New creates an empty, unbounded Blocklist. The original's blackmap is
// a fixed-size shared-memory hash; since enforcement here is per
// process (§5), there is no equivalent capacity pressure to bound
// against, so capacity 0 (unbounded) is used.
func New() *Blocklist {
	return &Blocklist{m: shmem.NewMap[types.OID, types.BlocklistEntry](0)}
}

// Apply applies an evaluator's diff (quota.Diff's toAdd/toRemove)
// under the blocklist writer lock (§4.5, §5 black_map_lock).
func (b *Blocklist) Apply(toAdd, toRemove []types.BlocklistEntry) {
	for _, e := range toAdd {
		b.m.Insert(e.RelationID, e)
	}
	for _, e := range toRemove {
		b.m.Delete(e.RelationID)
	}
}

// InvalidateDatabase clears every blocklist entry whose relation id
// belongsToDB reports true for, mirroring invalidate_database_blackmap (used when
// a database's monitoring is turned off).
func (b *Blocklist) InvalidateDatabase(belongsToDB func(relationID types.OID) bool) {
	b.m.DeleteMatching(func(relationID types.OID, _ types.BlocklistEntry) bool {
		return belongsToDB(relationID)
	})
}

// Len reports the current blocklist size, used by pkg/metrics.
func (b *Blocklist) Len() int {
	return b.m.Len()
}

// All returns every current blocklist entry, used as the "current"
// side of quota.Diff at the start of each epoch.
func (b *Blocklist) All() []types.BlocklistEntry {
	entries := make([]types.BlocklistEntry, 0, b.m.Len())
	b.m.Range(func(_ types.OID, e types.BlocklistEntry) bool {
		entries = append(entries, e)
		return true
	})
	return entries
}

// Gate is the write-path enforcement check (§4.6): O(1) lookup under a
// reader lock, short-circuited to always-allow when the database is
// paused.
type Gate struct {
	Blocklist *Blocklist
	Pause     PauseChecker
}

// Check returns ErrQuotaExceeded if relationID is blocklisted and its
// database is not paused; nil otherwise. Pause never modifies the
// blocklist itself (§4.6: "the blocklist continues to be updated").
func (g *Gate) Check(dbID, relationID types.OID) error {
	if g.Pause != nil && g.Pause.IsPaused(dbID) {
		return nil
	}
	entry, ok := g.Blocklist.m.Get(relationID)
	if !ok {
		return nil
	}
	return &ErrQuotaExceeded{Entry: entry}
}
