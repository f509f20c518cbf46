// Package rpc is the segment-fanout transport of SPEC_FULL.md §9: a
// gRPC service (SegmentService.FetchTableStat) carrying the two
// fetch_table_stat modes of §4.3 across the wire from coordinator to
// segment.
//
// Grounded on the teacher's pkg/utils/grpc/server.go (the
// listener-setup, graceful-stop-on-context-cancel, and unary logging
// interceptor pattern) generalized away from its CSI-specific identity/
// controller/node servers. Message encoding uses a hand-rolled JSON
// codec registered with grpc's encoding package rather than generated
// protobuf stubs (see DESIGN.md's Open Question note): this keeps
// google.golang.org/grpc load-bearing as the real transport without
// depending on protoc output this repository cannot verify compiles.
package rpc

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// jsonCodecName is selected per-call via grpc.CallContentSubtype and
// advertised by the server's accepted content-subtypes.
const jsonCodecName = "json"

// jsonCodec implements encoding.Codec (previously encoding.Codec's
// "Codec" interface) by delegating to encoding/json. grpc dispatches to
// it for any call made with grpc.CallContentSubtype(jsonCodecName).
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("rpc: json marshal: %w", err)
	}
	return b, nil
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("rpc: json unmarshal: %w", err)
	}
	return nil
}

func (jsonCodec) Name() string {
	return jsonCodecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
