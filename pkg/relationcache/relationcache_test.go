package relationcache

import (
	"context"
	"testing"

	"github.com/diskquota-db/diskquota/pkg/catalog"
	"github.com/diskquota-db/diskquota/pkg/types"
)

func newFakeRelation(dbID, tbspID, relfilenode, ownerID, nsID types.OID, auxiliaryOf types.OID) catalog.RelationAttrs {
	return catalog.RelationAttrs{
		OwnerID:       ownerID,
		NamespaceID:   nsID,
		DBID:          dbID,
		TablespaceOID: tbspID,
		RelfilenodeID: relfilenode,
		StorageKind:   types.StorageHeap,
		AuxiliaryOf:   auxiliaryOf,
	}
}

func TestUpdatePrimaryRelation(t *testing.T) {
	cat := catalog.NewFake()
	cat.AddRelation(100, newFakeRelation(1, 0, 100, 10, 20, 0), 4096)

	c := New(0, cat)
	if err := c.Update(context.Background(), 100); err != nil {
		t.Fatalf("Update: %v", err)
	}

	primary, ok := c.LookupPrimary(100)
	if !ok || primary != 100 {
		t.Fatalf("expected primary=100, got %v ok=%v", primary, ok)
	}

	relid, ok := c.LookupByRelfilenode(types.RelFileKey{DBID: 1, TablespaceOID: 0, RelfilenodeID: 100})
	if !ok || relid != 100 {
		t.Fatalf("expected relfilenode lookup to resolve to 100, got %v ok=%v", relid, ok)
	}
}

func TestUpdateAuxiliaryRegistersWithPrimary(t *testing.T) {
	cat := catalog.NewFake()
	cat.AddRelation(100, newFakeRelation(1, 0, 100, 10, 20, 0), 4096)
	cat.AddRelation(101, newFakeRelation(1, 0, 101, 10, 20, 100), 1024)

	c := New(0, cat)
	if err := c.Update(context.Background(), 100); err != nil {
		t.Fatalf("Update(100): %v", err)
	}
	if err := c.Update(context.Background(), 101); err != nil {
		t.Fatalf("Update(101): %v", err)
	}

	primary, ok := c.LookupPrimary(101)
	if !ok || primary != 100 {
		t.Fatalf("expected auxiliary 101's primary to be 100, got %v ok=%v", primary, ok)
	}
	if !c.CheckInvariant() {
		t.Fatalf("expected invariant to hold after registering auxiliary")
	}
}

func TestUpdateAuxiliaryBeforePrimaryCreatesPlaceholder(t *testing.T) {
	cat := catalog.NewFake()
	cat.AddRelation(100, newFakeRelation(1, 0, 100, 10, 20, 0), 4096)
	cat.AddRelation(101, newFakeRelation(1, 0, 101, 10, 20, 100), 1024)

	c := New(0, cat)
	// Auxiliary observed first, as can happen when storage events race
	// with the catalog cache warm-up.
	if err := c.Update(context.Background(), 101); err != nil {
		t.Fatalf("Update(101): %v", err)
	}
	if !c.CheckInvariant() {
		t.Fatalf("expected invariant to hold with placeholder primary entry")
	}
	if err := c.Update(context.Background(), 100); err != nil {
		t.Fatalf("Update(100): %v", err)
	}
	if !c.CheckInvariant() {
		t.Fatalf("expected invariant to hold after primary backfilled")
	}
}

func TestEvictRemovesFromBothIndexes(t *testing.T) {
	cat := catalog.NewFake()
	cat.AddRelation(100, newFakeRelation(1, 0, 100, 10, 20, 0), 4096)

	c := New(0, cat)
	_ = c.Update(context.Background(), 100)
	c.Evict(100)

	if _, ok := c.LookupPrimary(100); ok {
		t.Fatalf("expected entry to be evicted")
	}
	if _, ok := c.LookupByRelfilenode(types.RelFileKey{DBID: 1, RelfilenodeID: 100}); ok {
		t.Fatalf("expected relfilenode index to be cleared on evict")
	}
}

func TestEvictByRelfilenode(t *testing.T) {
	cat := catalog.NewFake()
	cat.AddRelation(100, newFakeRelation(1, 0, 100, 10, 20, 0), 4096)

	c := New(0, cat)
	_ = c.Update(context.Background(), 100)
	c.EvictByRelfilenode(types.RelFileKey{DBID: 1, RelfilenodeID: 100})

	if _, ok := c.LookupPrimary(100); ok {
		t.Fatalf("expected entry to be evicted by relfilenode key")
	}
}

func TestOverflowEvictsLeastRecentlyUsed(t *testing.T) {
	cat := catalog.NewFake()
	for i := types.OID(1); i <= 3; i++ {
		cat.AddRelation(i, newFakeRelation(1, 0, i, 10, 20, 0), 4096)
	}

	c := New(2, cat)
	ctx := context.Background()
	_ = c.Update(ctx, 1)
	_ = c.Update(ctx, 2)
	// Touch 1 again so 2 becomes the LRU victim once 3 is inserted.
	_ = c.Update(ctx, 1)
	_ = c.Update(ctx, 3)

	if c.Len() != 2 {
		t.Fatalf("expected capacity-bounded len=2, got %d", c.Len())
	}
	if _, ok := c.LookupPrimary(2); ok {
		t.Fatalf("expected relation 2 to be LRU-evicted")
	}
	if _, ok := c.LookupPrimary(1); !ok {
		t.Fatalf("expected relation 1 to survive (recently touched)")
	}
	if _, ok := c.LookupPrimary(3); !ok {
		t.Fatalf("expected relation 3 to survive (just inserted)")
	}
}

func TestSweepCommittedRemovesDroppedRelations(t *testing.T) {
	cat := catalog.NewFake()
	cat.AddRelation(100, newFakeRelation(1, 0, 100, 10, 20, 0), 4096)

	c := New(0, cat)
	_ = c.Update(context.Background(), 100)
	cat.Drop(100)

	if err := c.SweepCommitted(context.Background()); err != nil {
		t.Fatalf("SweepCommitted: %v", err)
	}
	if _, ok := c.LookupPrimary(100); ok {
		t.Fatalf("expected dropped relation to be swept from cache")
	}
}

func TestLookupByRelfilenodeMissReturnsFalse(t *testing.T) {
	c := New(0, catalog.NewFake())
	if _, ok := c.LookupByRelfilenode(types.RelFileKey{DBID: 99}); ok {
		t.Fatalf("expected miss for unknown key")
	}
}

func TestUpdatePropagatesNotFound(t *testing.T) {
	cat := catalog.NewFake()
	c := New(0, cat)
	if err := c.Update(context.Background(), 999); err != catalog.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetReturnsCachedAttribution(t *testing.T) {
	cat := catalog.NewFake()
	cat.AddRelation(100, newFakeRelation(1, 0, 100, 10, 20, 0), 4096)

	c := New(0, cat)
	_ = c.Update(context.Background(), 100)

	entry, ok := c.Get(100)
	if !ok {
		t.Fatalf("expected entry for relation 100")
	}
	if entry.OwnerID != 10 || entry.NamespaceID != 20 {
		t.Fatalf("expected owner=10 namespace=20, got owner=%d namespace=%d", entry.OwnerID, entry.NamespaceID)
	}

	if _, ok := c.Get(999); ok {
		t.Fatalf("expected miss for unknown relation")
	}
}
