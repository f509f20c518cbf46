package quota

import (
	"testing"

	"github.com/diskquota-db/diskquota/pkg/types"
)

func sizeRows(clusterTotal int64, perSeg map[int32]int64) []types.TableSizeRow {
	rows := []types.TableSizeRow{{SegID: types.ClusterSegID, SizeBytes: clusterTotal}}
	for seg, size := range perSeg {
		rows = append(rows, types.TableSizeRow{SegID: seg, SizeBytes: size})
	}
	return rows
}

func TestEvaluateSchemaQuotaExceeded(t *testing.T) {
	in := Inputs{
		Sizes: map[types.OID][]types.TableSizeRow{
			100: sizeRows(2*1024*1024*1024, nil), // 2 GiB
		},
		Configs: []types.QuotaConfig{
			{Target: types.TargetID{PrimaryOID: 5}, Type: types.SchemaQuota, LimitMB: 1024},
		},
		Attribution: map[types.OID]RelationAttribution{
			100: {NamespaceID: 5, OwnerID: 1},
		},
	}

	entries := Evaluate(in)
	if len(entries) != 1 {
		t.Fatalf("expected 1 blocklist entry, got %v", entries)
	}
	if entries[0].RelationID != 100 || entries[0].Reason != types.LimitExceeded {
		t.Fatalf("unexpected entry: %+v", entries[0])
	}
}

func TestEvaluateUnderLimitProducesNoEntries(t *testing.T) {
	in := Inputs{
		Sizes: map[types.OID][]types.TableSizeRow{
			100: sizeRows(100*1024*1024, nil),
		},
		Configs: []types.QuotaConfig{
			{Target: types.TargetID{PrimaryOID: 5}, Type: types.SchemaQuota, LimitMB: 1024},
		},
		Attribution: map[types.OID]RelationAttribution{100: {NamespaceID: 5}},
	}
	if entries := Evaluate(in); len(entries) != 0 {
		t.Fatalf("expected no entries under limit, got %v", entries)
	}
}

func TestEvaluateNoLimitNeverBlocks(t *testing.T) {
	in := Inputs{
		Sizes: map[types.OID][]types.TableSizeRow{
			100: sizeRows(1<<40, nil),
		},
		Configs: []types.QuotaConfig{
			{Target: types.TargetID{PrimaryOID: 5}, Type: types.SchemaQuota, LimitMB: types.NoLimit},
		},
		Attribution: map[types.OID]RelationAttribution{100: {NamespaceID: 5}},
	}
	if entries := Evaluate(in); len(entries) != 0 {
		t.Fatalf("expected NoLimit quota to never block, got %v", entries)
	}
}

func TestEvaluateTablespaceQualifiedRequiresMembership(t *testing.T) {
	in := Inputs{
		Sizes: map[types.OID][]types.TableSizeRow{
			100: sizeRows(2*1024*1024*1024, nil),
		},
		Configs: []types.QuotaConfig{
			{Target: types.TargetID{PrimaryOID: 5, TablespaceOID: 9}, Type: types.SchemaTablespaceQuota, LimitMB: 1024},
		},
		Attribution: map[types.OID]RelationAttribution{100: {NamespaceID: 5, TablespaceOID: 9}},
		// no QuotaTarget membership row registered
	}
	if entries := Evaluate(in); len(entries) != 0 {
		t.Fatalf("expected no entries without an explicit QuotaTarget row, got %v", entries)
	}

	in.Targets = []types.QuotaTarget{{Type: types.SchemaTablespaceQuota, PrimaryOID: 5, TablespaceOID: 9}}
	entries := Evaluate(in)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry once membership row exists, got %v", entries)
	}
}

func TestEvaluatePerSegmentBalanceCheck(t *testing.T) {
	// Cluster total is under the plain limit, but one segment holds far
	// more than its seg_ratio share, so it should be flagged
	// NoFreeSpaceOnTablespace (§4.5, Scenario 5).
	in := Inputs{
		Sizes: map[types.OID][]types.TableSizeRow{
			100: sizeRows(500*1024*1024, map[int32]int64{0: 450 * 1024 * 1024, 1: 50 * 1024 * 1024}),
		},
		Configs: []types.QuotaConfig{
			{Target: types.TargetID{PrimaryOID: 5}, Type: types.SchemaQuota, LimitMB: 1024, SegRatio: 0.1},
		},
		Attribution: map[types.OID]RelationAttribution{100: {NamespaceID: 5}},
	}

	entries := Evaluate(in)
	if len(entries) != 1 {
		t.Fatalf("expected 1 balance-check entry, got %v", entries)
	}
	if entries[0].Reason != types.NoFreeSpaceOnTablespace {
		t.Fatalf("expected NoFreeSpaceOnTablespace, got %v", entries[0].Reason)
	}
}

func TestDiffAddsAndRemoves(t *testing.T) {
	current := []types.BlocklistEntry{
		{RelationID: 100, Reason: types.LimitExceeded},
		{RelationID: 200, Reason: types.LimitExceeded},
	}
	desired := []types.BlocklistEntry{
		{RelationID: 100, Reason: types.LimitExceeded},
		{RelationID: 300, Reason: types.LimitExceeded},
	}

	toAdd, toRemove := Diff(current, desired)
	if len(toAdd) != 1 || toAdd[0].RelationID != 300 {
		t.Fatalf("expected to add relation 300, got %v", toAdd)
	}
	if len(toRemove) != 1 || toRemove[0].RelationID != 200 {
		t.Fatalf("expected to remove relation 200, got %v", toRemove)
	}
}

func TestDiffNoChangeIsEmpty(t *testing.T) {
	entries := []types.BlocklistEntry{{RelationID: 100, Reason: types.LimitExceeded}}
	toAdd, toRemove := Diff(entries, entries)
	if len(toAdd) != 0 || len(toRemove) != 0 {
		t.Fatalf("expected no diff for identical lists, got add=%v remove=%v", toAdd, toRemove)
	}
}
