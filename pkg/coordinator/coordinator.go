// Package coordinator implements the per-epoch fanout and aggregation
// loop described in SPEC_FULL.md §4.4: drain every segment's active-file
// set, fetch sizes for the union, aggregate per-relation totals across
// segments, and persist the result.
//
// Grounded on original_source/quotamodel.c's refresh_disk_quota_model
// (the drain -> size -> aggregate -> persist sequence, and its
// "segid == -1 is the cluster-wide total" convention) and on the
// teacher's pattern of fanning out RPCs to every node and aggregating
// with go.uber.org/multierr (pkg/node/node_controller.go issues one
// call per node and collects errors the same way).
package coordinator

import (
	"context"

	"go.uber.org/multierr"
	"k8s.io/klog/v2"

	"github.com/diskquota-db/diskquota/pkg/rpc"
	"github.com/diskquota-db/diskquota/pkg/segment"
	"github.com/diskquota-db/diskquota/pkg/types"
)

// SegmentClient is the subset of *rpc.Client's API the coordinator
// needs, kept as an interface so tests can substitute in-process fakes
// instead of a real gRPC connection.
type SegmentClient interface {
	FetchTableStat(ctx context.Context, req *rpc.FetchTableStatRequest) (*rpc.FetchTableStatResponse, error)
}

// Segment pairs a client with the segment id the coordinator names it by
// in log messages. Result rows take the SegID carried by each returned
// RelationSize, not this field.
type Segment struct {
	SegID  int32
	Client SegmentClient
}

// TableSizeStore is the subset of pkg/persistence's repository API the
// epoch loop needs (§4.4 step 4, §6 table_size table).
type TableSizeStore interface {
	Upsert(ctx context.Context, rows []types.TableSizeRow) error
	ExpireMissing(ctx context.Context, seenRelationIDs []types.OID) error
	LoadAll(ctx context.Context) ([]types.TableSizeRow, error)
}

// RelationChecker is the narrow catalog capability the epoch loop needs
// to tell a relation that simply wasn't active this epoch from one that
// was actually dropped (§4.4 step 4), the same distinction
// pkg/relationcache.Cache.SweepCommitted draws for cache entries.
type RelationChecker interface {
	RelationExists(ctx context.Context, relationID types.OID) (bool, error)
}

// Epoch runs one coordinator epoch (§4.4): drain, size, aggregate,
// persist. isColdStart skips the drain/size phases and instead loads
// the previously persisted sizes (§4.4 load_table_size), used for the
// first epoch after a worker restart.
type Epoch struct {
	DBID     types.OID
	Segments []Segment
	Store    TableSizeStore

	// Catalog resolves whether a relation seen in a previous epoch but
	// not active this one was dropped. A nil Catalog treats every such
	// relation as still existing, since there is then no way to tell
	// otherwise -- it never causes a row to be silently expired.
	Catalog RelationChecker
}

// Run executes one epoch and returns the per-relation size map it
// produced (including the seg_id = -1 cluster-wide row), keyed by
// relation id. The result merges this epoch's freshly measured active
// relations with the last-known sizes of relations that exist but
// weren't active this epoch (§4.4 step 4: "relations not seen this
// epoch keep their previous rows"), so callers see every relation's
// current size, not just this epoch's movers.
func (e *Epoch) Run(ctx context.Context, isColdStart bool) (map[types.OID][]types.TableSizeRow, error) {
	if isColdStart {
		rows, err := e.Store.LoadAll(ctx)
		if err != nil {
			return nil, err
		}
		return groupByRelation(rows), nil
	}

	prevRows, err := e.Store.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	prevByRelation := groupByRelation(prevRows)

	activeIDs, err := e.drain(ctx)
	if err != nil {
		return nil, err
	}

	freshByRelation := map[types.OID][]types.TableSizeRow{}
	if len(activeIDs) > 0 {
		perSegSizes, err := e.size(ctx, activeIDs)
		if err != nil {
			return nil, err
		}
		freshByRelation = aggregate(perSegSizes)

		rows := make([]types.TableSizeRow, 0, len(freshByRelation)*2)
		for _, segRows := range freshByRelation {
			rows = append(rows, segRows...)
		}
		if err := e.Store.Upsert(ctx, rows); err != nil {
			return nil, err
		}
	}

	activeSet := make(map[types.OID]struct{}, len(activeIDs))
	for _, id := range activeIDs {
		activeSet[id] = struct{}{}
	}

	// merged starts from every previously-known relation that still
	// exists, then this epoch's freshly aggregated rows overwrite the
	// stale entries of the relations that were active.
	merged := make(map[types.OID][]types.TableSizeRow, len(prevByRelation)+len(freshByRelation))
	survivingIDs := make([]types.OID, 0, len(prevByRelation)+len(freshByRelation))
	for relationID, rows := range prevByRelation {
		if _, active := activeSet[relationID]; active {
			continue // superseded below by this epoch's fresh rows
		}
		exists, err := e.relationExists(ctx, relationID)
		if err != nil {
			return nil, err
		}
		if !exists {
			continue // dropped: excluded from both the result and the survivor set
		}
		merged[relationID] = rows
		survivingIDs = append(survivingIDs, relationID)
	}
	for relationID, rows := range freshByRelation {
		merged[relationID] = rows
		survivingIDs = append(survivingIDs, relationID)
	}

	if err := e.Store.ExpireMissing(ctx, survivingIDs); err != nil {
		return nil, err
	}

	return merged, nil
}

// relationExists reports whether relationID should be treated as still
// existing, consulting e.Catalog when set.
func (e *Epoch) relationExists(ctx context.Context, relationID types.OID) (bool, error) {
	if e.Catalog == nil {
		return true, nil
	}
	return e.Catalog.RelationExists(ctx, relationID)
}

// drain implements §4.4 step 1: parallel FETCH_ACTIVE_OID RPC to every
// segment, unioned into one de-duplicated relation id set.
func (e *Epoch) drain(ctx context.Context) ([]types.OID, error) {
	type result struct {
		ids []types.OID
		err error
	}
	results := make([]result, len(e.Segments))

	done := make(chan int, len(e.Segments))
	for i, seg := range e.Segments {
		go func(i int, seg Segment) {
			resp, err := seg.Client.FetchTableStat(ctx, &rpc.FetchTableStatRequest{
				Mode: segment.FetchActiveOID,
				DBID: e.DBID,
			})
			if err != nil {
				results[i] = result{err: err}
			} else {
				results[i] = result{ids: resp.OIDs}
			}
			done <- i
		}(i, seg)
	}

	var errs error
	seen := make(map[types.OID]struct{})
	for range e.Segments {
		i := <-done
		if results[i].err != nil {
			klog.Warningf("coordinator: drain RPC to segment %d failed: %v", e.Segments[i].SegID, results[i].err)
			errs = multierr.Append(errs, results[i].err)
			continue
		}
		for _, id := range results[i].ids {
			seen[id] = struct{}{}
		}
	}

	ids := make([]types.OID, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	// Errors from individual segments are logged and tolerated: a
	// partial drain still produces a usable (if incomplete) active set,
	// consistent with §7's "a worker that fails an epoch ... retries on
	// the next tick; it does not exit."
	_ = errs
	return ids, nil
}

// size implements §4.4 step 2: parallel FETCH_ACTIVE_SIZE RPC over the
// unioned active set, returning the (relation, size, seg) tuples of
// every segment whose RPC succeeded; a failed segment contributes
// nothing.
func (e *Epoch) size(ctx context.Context, activeIDs []types.OID) ([]segment.RelationSize, error) {
	type result struct {
		sizes []segment.RelationSize
		err   error
	}
	results := make([]result, len(e.Segments))

	done := make(chan int, len(e.Segments))
	for i, seg := range e.Segments {
		go func(i int, seg Segment) {
			resp, err := seg.Client.FetchTableStat(ctx, &rpc.FetchTableStatRequest{
				Mode: segment.FetchActiveSize,
				DBID: e.DBID,
				OIDs: activeIDs,
			})
			if err != nil {
				results[i] = result{err: err}
			} else {
				results[i] = result{sizes: resp.Sizes}
			}
			done <- i
		}(i, seg)
	}

	var all []segment.RelationSize
	for range e.Segments {
		i := <-done
		if results[i].err != nil {
			klog.Warningf("coordinator: size RPC to segment %d failed: %v", e.Segments[i].SegID, results[i].err)
			continue
		}
		all = append(all, results[i].sizes...)
	}
	return all, nil
}

// aggregate implements §4.4 step 3: sum per-segment sizes into a
// seg_id = types.ClusterSegID total row per relation, retaining the
// per-segment rows alongside it.
func aggregate(sizes []segment.RelationSize) map[types.OID][]types.TableSizeRow {
	totals := make(map[types.OID]int64)
	byRelation := make(map[types.OID][]types.TableSizeRow)

	for _, s := range sizes {
		totals[s.RelationID] += s.SizeBytes
		byRelation[s.RelationID] = append(byRelation[s.RelationID], types.TableSizeRow{
			RelationID: s.RelationID,
			SegID:      s.SegID,
			SizeBytes:  s.SizeBytes,
		})
	}
	for relationID, total := range totals {
		byRelation[relationID] = append(byRelation[relationID], types.TableSizeRow{
			RelationID: relationID,
			SegID:      types.ClusterSegID,
			SizeBytes:  total,
		})
	}
	return byRelation
}

func groupByRelation(rows []types.TableSizeRow) map[types.OID][]types.TableSizeRow {
	byRelation := make(map[types.OID][]types.TableSizeRow, len(rows))
	for _, r := range rows {
		byRelation[r.RelationID] = append(byRelation[r.RelationID], r)
	}
	return byRelation
}
