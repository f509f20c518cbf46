// Package consts holds process-wide names and defaults, following the
// teacher's pkg/consts convention of centralizing names/defaults that
// would otherwise be duplicated across cmd/ and pkg/ packages.
package consts

import "time"

const (
	// AppName is the module's identity used in logs, metrics names and
	// the gRPC service package.
	AppName = "diskquota"

	// AppPrettyName is the human-readable name used in CLI help text.
	AppPrettyName = "DiskQuota"

	// MaxNumMonitoredDB is the hard cap on concurrently monitored
	// databases (§3 MonitoredDbSet).
	MaxNumMonitoredDB = 10

	// DefaultNaptime is the default diskquota_naptime, in seconds (§6).
	DefaultNaptime = 2 * time.Second

	// DefaultMaxActiveTables is the default diskquota_max_active_tables
	// capacity (§6).
	DefaultMaxActiveTables = 1 << 20

	// DefaultSegmentGRPCPort is the default port the segment agent's
	// FetchTableStat service listens on.
	DefaultSegmentGRPCPort = 8539

	// DefaultMetricsPort is the default port the Prometheus handler
	// listens on.
	DefaultMetricsPort = 9539

	// CoordinatorSegID is an alias of types.ClusterSegID kept here so
	// consts has no import cycle back onto pkg/types; see
	// types.ClusterSegID for the canonical definition.
	CoordinatorSegID = -1
)
