// Package relationcache implements the relation cache component of
// SPEC_FULL.md §4.2: resolving a relation's primary/auxiliary
// relationship and its owning attributes, and resolving a storage-level
// (db, tablespace, relfilenode) key back to a logical relation id.
//
// Grounded on original_source/relation_cache.c (update_relation_cache,
// get_relid_by_relfilenode, remove_cache_entry,
// remove_committed_relation_from_cache) and relation_cache.h's entry
// shape. Bounded capacity with LRU eviction follows §4.2's "Bounded
// capacity; LRU-evict clean entries on overflow", using container/list
// the way the standard library documents an LRU cache (the teacher does
// not need an LRU anywhere, so this is new code built the idiomatic Go
// way rather than adapted from a teacher file).
package relationcache

import (
	"container/list"
	"context"
	"sync"

	"github.com/diskquota-db/diskquota/pkg/catalog"
	"github.com/diskquota-db/diskquota/pkg/types"
)

// Cache resolves relation_id -> RelationCacheEntry with bounded
// capacity, an LRU eviction policy, and a secondary relfilenode index
// for reverse lookups.
type Cache struct {
	mu       sync.RWMutex
	capacity int
	catalog  catalog.Catalog

	entries map[types.OID]*types.RelationCacheEntry
	byFile  map[types.RelFileKey]types.OID

	lru     *list.List
	lruElem map[types.OID]*list.Element
}

// New creates a Cache backed by cat, bounded to capacity entries.
// capacity <= 0 means unbounded (used in tests).
func New(capacity int, cat catalog.Catalog) *Cache {
	return &Cache{
		capacity: capacity,
		catalog:  cat,
		entries:  make(map[types.OID]*types.RelationCacheEntry),
		byFile:   make(map[types.RelFileKey]types.OID),
		lru:      list.New(),
		lruElem:  make(map[types.OID]*list.Element),
	}
}

// touch marks relationID most-recently-used. Caller holds c.mu.
func (c *Cache) touch(relationID types.OID) {
	if elem, ok := c.lruElem[relationID]; ok {
		c.lru.MoveToFront(elem)
		return
	}
	c.lruElem[relationID] = c.lru.PushFront(relationID)
}

// evictOneLocked removes the least-recently-used entry, if any. Caller
// holds c.mu for writing.
func (c *Cache) evictOneLocked() {
	back := c.lru.Back()
	if back == nil {
		return
	}
	relationID := back.Value.(types.OID)
	c.removeLocked(relationID)
}

// removeLocked deletes relationID's entry and its indexes. Caller holds
// c.mu for writing.
func (c *Cache) removeLocked(relationID types.OID) {
	entry, ok := c.entries[relationID]
	if !ok {
		return
	}
	delete(c.entries, relationID)
	delete(c.byFile, entry.RelFileKey())
	if elem, ok := c.lruElem[relationID]; ok {
		c.lru.Remove(elem)
		delete(c.lruElem, relationID)
	}
}

// Update fetches relationID's attributes from the catalog, resolves its
// primary relation, registers it in the primary's auxiliary set if it
// is itself auxiliary, and inserts or refreshes the cache entry (§4.2
// update). Returns catalog.ErrNotFound if the relation's catalog row is
// not visible (e.g. its creating transaction has not committed yet);
// callers should requeue rather than treat this as fatal.
func (c *Cache) Update(ctx context.Context, relationID types.OID) error {
	attrs, err := c.catalog.RelationAttrs(ctx, relationID)
	if err != nil {
		return err
	}

	primaryID := relationID
	if attrs.AuxiliaryOf != 0 {
		primaryID = attrs.AuxiliaryOf
	}

	entry := &types.RelationCacheEntry{
		RelationID:        relationID,
		PrimaryRelationID: primaryID,
		OwnerID:           attrs.OwnerID,
		NamespaceID:       attrs.NamespaceID,
		BackendID:         attrs.BackendID,
		DBID:              attrs.DBID,
		TablespaceOID:     attrs.TablespaceOID,
		RelfilenodeID:     attrs.RelfilenodeID,
		StorageKind:       attrs.StorageKind,
		AuxiliaryRelIDs:   make(map[types.OID]struct{}),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[relationID]; ok {
		delete(c.byFile, old.RelFileKey())
		for auxID := range old.AuxiliaryRelIDs {
			entry.AuxiliaryRelIDs[auxID] = struct{}{}
		}
	}
	c.entries[relationID] = entry
	c.byFile[entry.RelFileKey()] = relationID
	c.touch(relationID)

	if primaryID != relationID {
		parent, ok := c.entries[primaryID]
		if !ok {
			// The primary isn't cached yet; create a minimal placeholder
			// so the invariant (P4) holds even transiently within this
			// epoch. A later Update(primaryID) call fills it in fully.
			parent = &types.RelationCacheEntry{
				RelationID:        primaryID,
				PrimaryRelationID: primaryID,
				AuxiliaryRelIDs:   make(map[types.OID]struct{}),
			}
			c.entries[primaryID] = parent
			c.touch(primaryID)
		}
		parent.AuxiliaryRelIDs[relationID] = struct{}{}
	}

	for c.capacity > 0 && len(c.entries) > c.capacity {
		c.evictOneLocked()
	}
	return nil
}

// Evict removes relationID's entry if present.
func (c *Cache) Evict(relationID types.OID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(relationID)
}

// EvictByRelfilenode removes any entry whose storage key matches key,
// used by the unlink probe (§4.1, §4.2).
func (c *Cache) EvictByRelfilenode(key types.RelFileKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if relationID, ok := c.byFile[key]; ok {
		c.removeLocked(relationID)
	}
}

// LookupPrimary resolves relationID to its primary relation id in O(1).
// Returns false if relationID is not cached.
func (c *Cache) LookupPrimary(relationID types.OID) (types.OID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[relationID]
	if !ok {
		return 0, false
	}
	return entry.PrimaryRelationID, true
}

// LookupByRelfilenode resolves a storage-level key to a relation id,
// returning false (NONE, §4.2) if unresolved.
func (c *Cache) LookupByRelfilenode(key types.RelFileKey) (types.OID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	relationID, ok := c.byFile[key]
	return relationID, ok
}

// SweepCommitted removes entries whose backing catalog row no longer
// exists, run at the start of each epoch (§4.2 sweep_committed).
func (c *Cache) SweepCommitted(ctx context.Context) error {
	c.mu.RLock()
	ids := make([]types.OID, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	c.mu.RUnlock()

	var stale []types.OID
	for _, id := range ids {
		exists, err := c.catalog.RelationExists(ctx, id)
		if err != nil {
			return err
		}
		if !exists {
			stale = append(stale, id)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range stale {
		c.removeLocked(id)
	}
	return nil
}

// CheckInvariant implements the P4 invariant ("for every non-primary
// entry E, primary_relation_id is itself a key and its auxiliary set
// contains relation_id") as a boolean predicate over the current cache
// state, equivalent to the original's check_relation_cache().
func (c *Cache) CheckInvariant() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for relationID, entry := range c.entries {
		if entry.IsPrimary() {
			continue
		}
		parent, ok := c.entries[entry.PrimaryRelationID]
		if !ok {
			return false
		}
		if _, ok := parent.AuxiliaryRelIDs[relationID]; !ok {
			return false
		}
	}
	return true
}

// Get returns relationID's cache entry, if present, without affecting
// its LRU position (used by read-only consumers like pkg/engine).
func (c *Cache) Get(relationID types.OID) (*types.RelationCacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[relationID]
	return entry, ok
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
