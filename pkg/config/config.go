// Package config holds plain default-settings structs for the two
// binaries (coordinator and segment). Neither binary imports it: each
// binds its own cobra PersistentFlags into viper with AutomaticEnv in
// cmd/, following the teacher's pattern in cmd/directpv/main.go.
package config

import (
	"strconv"
	"time"

	"github.com/diskquota-db/diskquota/pkg/consts"
)

// Coordinator holds every setting the coordinator binary needs.
type Coordinator struct {
	// Naptime is diskquota_naptime: how long a worker sleeps between
	// epochs (§6).
	Naptime time.Duration
	// MaxActiveTables is diskquota_max_active_tables: the active-table
	// map's capacity (§6).
	MaxActiveTables int
	// MaxMonitoredDatabases caps concurrently monitored databases (§3).
	MaxMonitoredDatabases int
	// DSN is the coordinator's persistence connection string
	// (postgres://... in production, passed straight to
	// gorm.io/driver/postgres).
	DSN string
	// SegmentEndpoints lists each segment's fetch_table_stat gRPC
	// endpoint, ordered by segment id.
	SegmentEndpoints []string
	// MetricsAddr is the listen address for the Prometheus handler.
	MetricsAddr string
}

// DefaultCoordinator returns a Coordinator populated with the defaults
// from pkg/consts.
func DefaultCoordinator() Coordinator {
	return Coordinator{
		Naptime:               consts.DefaultNaptime,
		MaxActiveTables:       consts.DefaultMaxActiveTables,
		MaxMonitoredDatabases: consts.MaxNumMonitoredDB,
		MetricsAddr:           ":" + strconv.Itoa(consts.DefaultMetricsPort),
	}
}

// Segment holds every setting the segment agent binary needs.
type Segment struct {
	// SegID is this segment's id (>=0), or consts.CoordinatorSegID if
	// this agent also serves the coordinator/mirror role (§3).
	SegID int32
	// IsCoordinatorOrMirror marks a segment agent that never reports
	// active files (§4.4 "the coordinator and mirror segments do not
	// report").
	IsCoordinatorOrMirror bool
	// GRPCEndpoint is the unix or tcp address this agent's
	// FetchTableStat service listens on.
	GRPCEndpoint string
	// DataDir is the root directory probes/segment stat relative file
	// paths against.
	DataDir string
}

// DefaultSegment returns a Segment populated with the defaults from
// pkg/consts.
func DefaultSegment() Segment {
	return Segment{
		GRPCEndpoint: "0.0.0.0:" + strconv.Itoa(consts.DefaultSegmentGRPCPort),
	}
}
