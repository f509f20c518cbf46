package engine

import (
	"context"
	"testing"

	"github.com/diskquota-db/diskquota/pkg/blocklist"
	"github.com/diskquota-db/diskquota/pkg/catalog"
	"github.com/diskquota-db/diskquota/pkg/coordinator"
	"github.com/diskquota-db/diskquota/pkg/relationcache"
	"github.com/diskquota-db/diskquota/pkg/rpc"
	"github.com/diskquota-db/diskquota/pkg/segment"
	"github.com/diskquota-db/diskquota/pkg/types"
	"github.com/diskquota-db/diskquota/pkg/worker"
)

// fakeSegmentClient answers FetchTableStat from a fixed in-memory result
// set, standing in for a real gRPC *rpc.Client in these tests.
type fakeSegmentClient struct {
	activeOIDs []types.OID
	sizes      []segment.RelationSize
}

func (f *fakeSegmentClient) FetchTableStat(ctx context.Context, req *rpc.FetchTableStatRequest) (*rpc.FetchTableStatResponse, error) {
	if req.Mode == segment.FetchActiveOID {
		return &rpc.FetchTableStatResponse{OIDs: f.activeOIDs}, nil
	}
	return &rpc.FetchTableStatResponse{Sizes: f.sizes}, nil
}

// fakeTableSizeStore is an in-memory coordinator.TableSizeStore,
// upserting by (relation, segment) like the real persistence.Store
// rather than wholesale replacing, so a relation's row from a prior
// epoch survives an epoch that never upserts it again.
type fakeTableSizeStore struct {
	rows map[types.OID]map[int32]types.TableSizeRow
}

func (s *fakeTableSizeStore) Upsert(ctx context.Context, rows []types.TableSizeRow) error {
	if s.rows == nil {
		s.rows = make(map[types.OID]map[int32]types.TableSizeRow)
	}
	for _, r := range rows {
		if s.rows[r.RelationID] == nil {
			s.rows[r.RelationID] = make(map[int32]types.TableSizeRow)
		}
		s.rows[r.RelationID][r.SegID] = r
	}
	return nil
}
func (s *fakeTableSizeStore) ExpireMissing(ctx context.Context, seenRelationIDs []types.OID) error {
	seen := make(map[types.OID]bool, len(seenRelationIDs))
	for _, id := range seenRelationIDs {
		seen[id] = true
	}
	for relationID := range s.rows {
		if !seen[relationID] {
			delete(s.rows, relationID)
		}
	}
	return nil
}
func (s *fakeTableSizeStore) LoadAll(ctx context.Context) ([]types.TableSizeRow, error) {
	var out []types.TableSizeRow
	for _, bySeg := range s.rows {
		for _, r := range bySeg {
			out = append(out, r)
		}
	}
	return out, nil
}

// fakeConfigStore is an in-memory engine.ConfigStore.
type fakeConfigStore struct {
	configs []types.QuotaConfig
	targets []types.QuotaTarget
}

func (s *fakeConfigStore) ListQuotaConfigs(ctx context.Context) ([]types.QuotaConfig, error) {
	return s.configs, nil
}
func (s *fakeConfigStore) ListQuotaTargets(ctx context.Context) ([]types.QuotaTarget, error) {
	return s.targets, nil
}

func TestRunEpochBlocklistsOverLimitSchema(t *testing.T) {
	const dbID types.OID = 1
	const relationID types.OID = 100
	const namespaceID types.OID = 20

	cat := catalog.NewFake()
	cat.AddRelation(relationID, catalog.RelationAttrs{
		OwnerID:     10,
		NamespaceID: namespaceID,
		DBID:        dbID,
	}, 0)

	seg := &fakeSegmentClient{
		activeOIDs: []types.OID{relationID},
		sizes: []segment.RelationSize{
			{RelationID: relationID, SizeBytes: 200 * 1024 * 1024, SegID: types.ClusterSegID},
		},
	}

	ep := &coordinator.Epoch{
		DBID:     dbID,
		Segments: []coordinator.Segment{{SegID: 0, Client: seg}},
		Store:    &fakeTableSizeStore{},
	}
	cache := relationcache.New(0, cat)

	store := &fakeConfigStore{
		configs: []types.QuotaConfig{
			{Target: types.TargetID{PrimaryOID: namespaceID}, Type: types.SchemaQuota, LimitMB: 100},
		},
	}

	bl := blocklist.New()
	r := &Runner{
		Databases: map[types.OID]*Database{
			dbID: {Epoch: ep, Cache: cache},
		},
		Store:     store,
		Blocklist: bl,
	}

	if err := r.RunEpoch(context.Background(), dbID); err != nil {
		t.Fatalf("RunEpoch: %v", err)
	}

	gate := &blocklist.Gate{Blocklist: bl}
	if err := gate.Check(dbID, relationID); err == nil {
		t.Fatalf("expected relation %d to be blocklisted after exceeding its schema quota", relationID)
	}
}

func TestRunEpochAggregatesQuiescentRelationsIntoSchemaTotal(t *testing.T) {
	const dbID types.OID = 1
	const t1 types.OID = 100
	const t2 types.OID = 101
	const namespaceID types.OID = 20

	cat := catalog.NewFake()
	cat.AddRelation(t1, catalog.RelationAttrs{OwnerID: 10, NamespaceID: namespaceID, DBID: dbID}, 0)
	cat.AddRelation(t2, catalog.RelationAttrs{OwnerID: 10, NamespaceID: namespaceID, DBID: dbID}, 0)
	cache := relationcache.New(0, cat)

	store := &fakeConfigStore{
		configs: []types.QuotaConfig{
			{Target: types.TargetID{PrimaryOID: namespaceID}, Type: types.SchemaQuota, LimitMB: 1},
		},
	}
	tableStore := &fakeTableSizeStore{}
	bl := blocklist.New()
	r := &Runner{
		Databases: map[types.OID]*Database{dbID: {Epoch: &coordinator.Epoch{
			DBID:     dbID,
			Segments: []coordinator.Segment{{SegID: 0, Client: &fakeSegmentClient{}}},
			Store:    tableStore,
		}, Cache: cache}},
		Store:     store,
		Blocklist: bl,
	}

	// Epoch 1: only t1 is active, growing to 0.6MB.
	r.Databases[dbID].Epoch.Segments[0].Client = &fakeSegmentClient{
		activeOIDs: []types.OID{t1},
		sizes:      []segment.RelationSize{{RelationID: t1, SizeBytes: 600 * 1024, SegID: types.ClusterSegID}},
	}
	if err := r.RunEpoch(context.Background(), dbID); err != nil {
		t.Fatalf("RunEpoch (epoch 1): %v", err)
	}

	// Epoch 2: only t2 is active, growing to 0.6MB; t1 sits quiescent.
	// The schema's real aggregate is now 1.2MB, over its 1MB limit.
	r.Databases[dbID].Epoch.Segments[0].Client = &fakeSegmentClient{
		activeOIDs: []types.OID{t2},
		sizes:      []segment.RelationSize{{RelationID: t2, SizeBytes: 600 * 1024, SegID: types.ClusterSegID}},
	}
	if err := r.RunEpoch(context.Background(), dbID); err != nil {
		t.Fatalf("RunEpoch (epoch 2): %v", err)
	}

	gate := &blocklist.Gate{Blocklist: bl}
	if err := gate.Check(dbID, t1); err == nil {
		t.Fatalf("expected t1 to be blocklisted once t1+t2's combined size exceeds the schema quota")
	}
	if err := gate.Check(dbID, t2); err == nil {
		t.Fatalf("expected t2 to be blocklisted once t1+t2's combined size exceeds the schema quota")
	}
}

func TestRunEpochUnblocksOnceUnderLimit(t *testing.T) {
	const dbID types.OID = 1
	const relationID types.OID = 100
	const namespaceID types.OID = 20

	cat := catalog.NewFake()
	cat.AddRelation(relationID, catalog.RelationAttrs{
		OwnerID:     10,
		NamespaceID: namespaceID,
		DBID:        dbID,
	}, 0)
	cache := relationcache.New(0, cat)

	store := &fakeConfigStore{
		configs: []types.QuotaConfig{
			{Target: types.TargetID{PrimaryOID: namespaceID}, Type: types.SchemaQuota, LimitMB: 100},
		},
	}
	bl := blocklist.New()
	bl.Apply([]types.BlocklistEntry{{
		RelationID: relationID,
		Target:     types.TargetID{PrimaryOID: namespaceID},
		Type:       types.SchemaQuota,
		Reason:     types.LimitExceeded,
	}}, nil)

	seg := &fakeSegmentClient{
		activeOIDs: []types.OID{relationID},
		sizes: []segment.RelationSize{
			{RelationID: relationID, SizeBytes: 10 * 1024 * 1024, SegID: types.ClusterSegID},
		},
	}
	ep := &coordinator.Epoch{
		DBID:     dbID,
		Segments: []coordinator.Segment{{SegID: 0, Client: seg}},
		Store:    &fakeTableSizeStore{},
	}

	r := &Runner{
		Databases: map[types.OID]*Database{dbID: {Epoch: ep, Cache: cache}},
		Store:     store,
		Blocklist: bl,
	}

	if err := r.RunEpoch(context.Background(), dbID); err != nil {
		t.Fatalf("RunEpoch: %v", err)
	}

	gate := &blocklist.Gate{Blocklist: bl}
	if err := gate.Check(dbID, relationID); err != nil {
		t.Fatalf("expected relation %d to be unblocked once back under its limit, got %v", relationID, err)
	}
}

func TestRunEpochLeavesOtherDatabasesBlocklistUntouched(t *testing.T) {
	const dbID types.OID = 1
	const otherRelationID types.OID = 999

	cat := catalog.NewFake()
	cache := relationcache.New(0, cat)

	bl := blocklist.New()
	bl.Apply([]types.BlocklistEntry{{RelationID: otherRelationID, Reason: types.LimitExceeded}}, nil)

	seg := &fakeSegmentClient{activeOIDs: nil}
	ep := &coordinator.Epoch{
		DBID:     dbID,
		Segments: []coordinator.Segment{{SegID: 0, Client: seg}},
		Store:    &fakeTableSizeStore{},
	}

	r := &Runner{
		Databases: map[types.OID]*Database{dbID: {Epoch: ep, Cache: cache}},
		Store:     &fakeConfigStore{},
		Blocklist: bl,
	}

	if err := r.RunEpoch(context.Background(), dbID); err != nil {
		t.Fatalf("RunEpoch: %v", err)
	}

	gate := &blocklist.Gate{Blocklist: bl}
	if err := gate.Check(dbID, otherRelationID); err == nil {
		t.Fatalf("expected unrelated database's blocklist entry to survive an epoch that never observed its relation")
	}
}

func TestRunEpochUnknownDatabaseReturnsFatalError(t *testing.T) {
	r := &Runner{
		Databases: map[types.OID]*Database{},
		Store:     &fakeConfigStore{},
		Blocklist: blocklist.New(),
	}
	err := r.RunEpoch(context.Background(), 42)
	if err == nil {
		t.Fatalf("expected error for unregistered database")
	}
	if _, ok := err.(*worker.FatalError); !ok {
		t.Fatalf("expected a *worker.FatalError, got %T: %v", err, err)
	}
}
