package rpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/diskquota-db/diskquota/pkg/segment"
	"github.com/diskquota-db/diskquota/pkg/types"
)

const (
	serviceName         = "diskquota.SegmentService"
	methodFetchTableStat = "FetchTableStat"
)

// FetchTableStatRequest wraps fetch_table_stat's two-mode call (§4.3)
// for the wire. OIDs is the input set for segment.FetchActiveSize and is
// ignored for segment.FetchActiveOID.
type FetchTableStatRequest struct {
	Mode          segment.Mode
	DBID          types.OID
	SchemaVersion types.SchemaVersion
	OIDs          []types.OID
}

// FetchTableStatResponse carries whichever half of fetch_table_stat's
// result the request mode produced.
type FetchTableStatResponse struct {
	OIDs  []types.OID            `json:",omitempty"`
	Sizes []segment.RelationSize `json:",omitempty"`
}

// SegmentServer is implemented by the segment agent process and
// registered against a *grpc.Server via RegisterSegmentServiceServer.
type SegmentServer interface {
	FetchTableStat(ctx context.Context, req *FetchTableStatRequest) (*FetchTableStatResponse, error)
}

func fetchTableStatHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(FetchTableStatRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SegmentServer).FetchTableStat(ctx, req)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/" + serviceName + "/" + methodFetchTableStat,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SegmentServer).FetchTableStat(ctx, req.(*FetchTableStatRequest))
	}
	return interceptor(ctx, req, info, handler)
}

// ServiceDesc is the grpc.ServiceDesc for SegmentService, hand-written
// in place of protoc-gen-go-grpc output (see package doc).
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*SegmentServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: methodFetchTableStat,
			Handler:    fetchTableStatHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pkg/rpc/service.go",
}

// RegisterSegmentServiceServer registers srv's FetchTableStat method
// against s, the way generated *_grpc.pb.go code would.
func RegisterSegmentServiceServer(s *grpc.Server, srv SegmentServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Client is a SegmentService client stub, selecting the JSON codec for
// every call via grpc.CallContentSubtype (see codec.go).
type Client struct {
	cc *grpc.ClientConn
}

// NewClient wraps an established connection as a SegmentService client.
func NewClient(cc *grpc.ClientConn) *Client {
	return &Client{cc: cc}
}

// FetchTableStat invokes the remote segment's fetch_table_stat.
func (c *Client) FetchTableStat(ctx context.Context, req *FetchTableStatRequest) (*FetchTableStatResponse, error) {
	reply := new(FetchTableStatResponse)
	fullMethod := "/" + serviceName + "/" + methodFetchTableStat
	if err := c.cc.Invoke(ctx, fullMethod, req, reply, grpc.CallContentSubtype(jsonCodecName)); err != nil {
		return nil, err
	}
	return reply, nil
}
