package rpc

import (
	"context"

	"github.com/diskquota-db/diskquota/pkg/segment"
)

// SegmentAdapter exposes a *segment.Service as a SegmentServer, the
// thin binding cmd/diskquota-segment registers against its gRPC server.
type SegmentAdapter struct {
	Svc *segment.Service
}

// FetchTableStat implements SegmentServer.
func (a *SegmentAdapter) FetchTableStat(ctx context.Context, req *FetchTableStatRequest) (*FetchTableStatResponse, error) {
	oids, sizes, err := a.Svc.Fetch(ctx, req.Mode, req.OIDs)
	if err != nil {
		return nil, err
	}
	return &FetchTableStatResponse{OIDs: oids, Sizes: sizes}, nil
}

var _ SegmentServer = (*SegmentAdapter)(nil)
