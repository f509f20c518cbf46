// Package metrics exposes a custom prometheus.Collector reporting the
// coordinator's live state: active-table-map occupancy, per-target
// used/limit gauges, epoch duration, blocklist size, and segment RPC
// error counts.
//
// Grounded on the teacher's pkg/metrics/collector.go and handler.go: a
// hand-rolled Collector with injectable accessor funcs (here, Sources)
// in place of direct client-go listers, registered into its own
// prometheus.Registry and served through promhttp.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/diskquota-db/diskquota/pkg/consts"
	"github.com/diskquota-db/diskquota/pkg/types"
)

// TargetUsage is one target's current limit/usage/block state, the
// input to the per-target gauges.
type TargetUsage struct {
	Target  types.TargetID
	Type    types.QuotaType
	LimitMB int64
	UsedMB  int64
	Blocked bool
}

// Sources supplies the live values the Collector reports. Each func is
// called once per Collect and must be safe to call concurrently with
// the rest of the coordinator.
type Sources struct {
	// ActiveTableOccupancy returns the active-table map's current size
	// and configured capacity (§3 ActiveTableMap, diskquota_max_active_tables).
	ActiveTableOccupancy func() (size, capacity int)
	// BlocklistSize returns the number of relations currently blocked.
	BlocklistSize func() int
	// TargetUsages returns one row per configured quota target.
	TargetUsages func() []TargetUsage
	// EpochDurationSeconds returns the most recently completed epoch's
	// wall-clock duration, in seconds, keyed by database OID.
	EpochDurationSeconds func() map[types.OID]float64
	// SegmentRPCErrors returns the cumulative count of failed
	// fetch_table_stat calls to segments.
	SegmentRPCErrors func() uint64
}

// Collector implements prometheus.Collector over a Sources.
type Collector struct {
	sources Sources

	activeTableSize     *prometheus.Desc
	activeTableCapacity *prometheus.Desc
	blocklistSize       *prometheus.Desc
	targetLimit         *prometheus.Desc
	targetUsed          *prometheus.Desc
	targetBlocked       *prometheus.Desc
	epochDuration       *prometheus.Desc
	rpcErrors           *prometheus.Desc
}

// New constructs a Collector reading from sources.
func New(sources Sources) *Collector {
	targetLabels := []string{"quota_type", "primary_oid", "tablespace_oid"}
	return &Collector{
		sources: sources,
		activeTableSize: prometheus.NewDesc(
			prometheus.BuildFQName(consts.AppName, "active_table", "size"),
			"Number of entries currently in the active-table map", nil, nil),
		activeTableCapacity: prometheus.NewDesc(
			prometheus.BuildFQName(consts.AppName, "active_table", "capacity"),
			"Configured capacity of the active-table map", nil, nil),
		blocklistSize: prometheus.NewDesc(
			prometheus.BuildFQName(consts.AppName, "blocklist", "size"),
			"Number of relations currently refused writes", nil, nil),
		targetLimit: prometheus.NewDesc(
			prometheus.BuildFQName(consts.AppName, "target", "limit_mb"),
			"Configured quota limit in megabytes for a target", targetLabels, nil),
		targetUsed: prometheus.NewDesc(
			prometheus.BuildFQName(consts.AppName, "target", "used_mb"),
			"Latest aggregated size in megabytes for a target", targetLabels, nil),
		targetBlocked: prometheus.NewDesc(
			prometheus.BuildFQName(consts.AppName, "target", "blocked"),
			"1 if the target is currently blocked, 0 otherwise", targetLabels, nil),
		epochDuration: prometheus.NewDesc(
			prometheus.BuildFQName(consts.AppName, "epoch", "duration_seconds"),
			"Duration of the most recently completed epoch", []string{"db_id"}, nil),
		rpcErrors: prometheus.NewDesc(
			prometheus.BuildFQName(consts.AppName, "segment_rpc", "errors_total"),
			"Cumulative count of failed fetch_table_stat calls to segments", nil, nil),
	}
}

// Describe sends every descriptor this Collector can emit.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeTableSize
	ch <- c.activeTableCapacity
	ch <- c.blocklistSize
	ch <- c.targetLimit
	ch <- c.targetUsed
	ch <- c.targetBlocked
	ch <- c.epochDuration
	ch <- c.rpcErrors
}

// Collect is called by the Prometheus registry when scraping.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.sources.ActiveTableOccupancy != nil {
		size, capacity := c.sources.ActiveTableOccupancy()
		ch <- prometheus.MustNewConstMetric(c.activeTableSize, prometheus.GaugeValue, float64(size))
		ch <- prometheus.MustNewConstMetric(c.activeTableCapacity, prometheus.GaugeValue, float64(capacity))
	}

	if c.sources.BlocklistSize != nil {
		ch <- prometheus.MustNewConstMetric(c.blocklistSize, prometheus.GaugeValue, float64(c.sources.BlocklistSize()))
	}

	if c.sources.TargetUsages != nil {
		for _, u := range c.sources.TargetUsages() {
			labels := []string{u.Type.String(), oidLabel(u.Target.PrimaryOID), oidLabel(u.Target.TablespaceOID)}
			ch <- prometheus.MustNewConstMetric(c.targetLimit, prometheus.GaugeValue, float64(u.LimitMB), labels...)
			ch <- prometheus.MustNewConstMetric(c.targetUsed, prometheus.GaugeValue, float64(u.UsedMB), labels...)
			blocked := 0.0
			if u.Blocked {
				blocked = 1.0
			}
			ch <- prometheus.MustNewConstMetric(c.targetBlocked, prometheus.GaugeValue, blocked, labels...)
		}
	}

	if c.sources.EpochDurationSeconds != nil {
		for dbID, seconds := range c.sources.EpochDurationSeconds() {
			ch <- prometheus.MustNewConstMetric(c.epochDuration, prometheus.GaugeValue, seconds, oidLabel(dbID))
		}
	}

	if c.sources.SegmentRPCErrors != nil {
		ch <- prometheus.MustNewConstMetric(c.rpcErrors, prometheus.CounterValue, float64(c.sources.SegmentRPCErrors()))
	}
}

func oidLabel(id types.OID) string {
	return strconv.FormatUint(uint64(id), 10)
}
