// Package views renders the diagnostic views of SPEC_FULL.md §4.10:
// show_fast_schema_quota_view, show_fast_role_quota_view, and their
// tablespace-qualified analogs, as CLI tables.
//
// Grounded on cmd/kubectl-directpv/list_volumes.go's table construction
// (table.NewWriter, AppendHeader/AppendRow, SetStyle, Render) and
// list-drives.go's humanize-formatted byte columns.
package views

import (
	"io"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/diskquota-db/diskquota/pkg/mgmt"
	"github.com/diskquota-db/diskquota/pkg/types"
)

// QuotaUsageRow is one row of a fast quota view: a target's configured
// limit and its latest known aggregated size (§4.10).
type QuotaUsageRow struct {
	Target   types.TargetID
	Type     types.QuotaType
	LimitMB  int64
	UsedMB   int64
	Blocked  bool
}

// Build joins persisted quota_config rows against the coordinator's
// latest cluster-total sizes to produce the rows a fast quota view
// renders, restricted to the given quota type.
func Build(configs []types.QuotaConfig, clusterTotals map[types.OID]int64, blocked map[types.TargetID]bool, quotaType types.QuotaType) []QuotaUsageRow {
	var rows []QuotaUsageRow
	for _, cfg := range configs {
		if cfg.Type != quotaType {
			continue
		}
		rows = append(rows, QuotaUsageRow{
			Target:  cfg.Target,
			Type:    cfg.Type,
			LimitMB: cfg.LimitMB,
			UsedMB:  clusterTotals[cfg.Target.PrimaryOID] / (1 << 20),
			Blocked: blocked[cfg.Target],
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Target.PrimaryOID < rows[j].Target.PrimaryOID })
	return rows
}

// RenderSchemaQuotaView renders show_fast_schema_quota_view (§4.10).
func RenderSchemaQuotaView(w io.Writer, rows []QuotaUsageRow) {
	render(w, table.Row{"NAMESPACE OID", "LIMIT (MB)", "USED (MB)", "BLOCKED"}, rows)
}

// RenderRoleQuotaView renders show_fast_role_quota_view (§4.10).
func RenderRoleQuotaView(w io.Writer, rows []QuotaUsageRow) {
	render(w, table.Row{"ROLE OID", "LIMIT (MB)", "USED (MB)", "BLOCKED"}, rows)
}

// RenderSchemaTablespaceQuotaView renders the tablespace-qualified
// schema quota view (§4.10).
func RenderSchemaTablespaceQuotaView(w io.Writer, rows []QuotaUsageRow) {
	renderTablespaceQualified(w, table.Row{"NAMESPACE OID", "TABLESPACE OID", "LIMIT (MB)", "USED (MB)", "BLOCKED"}, rows)
}

// RenderRoleTablespaceQuotaView renders the tablespace-qualified role
// quota view (§4.10).
func RenderRoleTablespaceQuotaView(w io.Writer, rows []QuotaUsageRow) {
	renderTablespaceQualified(w, table.Row{"ROLE OID", "TABLESPACE OID", "LIMIT (MB)", "USED (MB)", "BLOCKED"}, rows)
}

func render(w io.Writer, header table.Row, rows []QuotaUsageRow) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(header)
	for _, r := range rows {
		t.AppendRow(table.Row{r.Target.PrimaryOID, mgmt.FormatSize(r.LimitMB), r.UsedMB, r.Blocked})
	}
	t.SetStyle(table.StyleLight)
	t.Render()
}

func renderTablespaceQualified(w io.Writer, header table.Row, rows []QuotaUsageRow) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(header)
	for _, r := range rows {
		t.AppendRow(table.Row{r.Target.PrimaryOID, r.Target.TablespaceOID, mgmt.FormatSize(r.LimitMB), r.UsedMB, r.Blocked})
	}
	t.SetStyle(table.StyleLight)
	t.Render()
}
