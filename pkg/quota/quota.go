// Package quota implements the quota evaluator of SPEC_FULL.md §4.5:
// rolling per-relation sizes up into per-target totals against
// QuotaConfig/QuotaTarget, and producing the desired blocklist diff
// against the relation cache's owner/namespace/tablespace attribution.
//
// Grounded on original_source/quotamodel.c's per-type total tables
// (NAMESPACE_QUOTA, ROLE_QUOTA, and their tablespace-qualified
// counterparts) and its segmentExceeded / add_quota_to_blacklist logic
// for the per-segment balance check.
package quota

import (
	"github.com/diskquota-db/diskquota/pkg/types"
)

// RelationAttribution is the subset of a relation's cache entry the
// evaluator needs to assign it to its schema/role/tablespace targets
// (§4.5 inputs).
type RelationAttribution struct {
	OwnerID       types.OID
	NamespaceID   types.OID
	TablespaceOID types.OID
}

// Inputs bundles one evaluation pass's state (§4.5 inputs): current
// per-relation, per-segment sizes; persisted quota configuration and
// tablespace-qualification rows; and the attribution of every active
// relation.
type Inputs struct {
	Sizes       map[types.OID][]types.TableSizeRow
	Configs     []types.QuotaConfig
	Targets     []types.QuotaTarget // tablespace-qualification membership rows
	Attribution map[types.OID]RelationAttribution
}

// clusterTotal returns a relation's seg_id = -1 size, or 0 if absent.
func clusterTotal(rows []types.TableSizeRow) int64 {
	for _, r := range rows {
		if r.SegID == types.ClusterSegID {
			return r.SizeBytes
		}
	}
	return 0
}

// targetMember reports whether (primaryOID, tablespaceOID) has an
// explicit QuotaTarget membership row for quotaType (§4.5: "the
// relation contributes only if an explicit row exists").
func targetMember(targets []types.QuotaTarget, quotaType types.QuotaType, primaryOID, tablespaceOID types.OID) bool {
	for _, t := range targets {
		if t.Type == quotaType && t.PrimaryOID == primaryOID && t.TablespaceOID == tablespaceOID {
			return true
		}
	}
	return false
}

// targetIDFor resolves the (type, relation attribution) pair to the
// TargetID it contributes to, or ok=false if it does not contribute
// (tablespace-qualified types with no membership row).
func targetIDFor(quotaType types.QuotaType, attr RelationAttribution, targets []types.QuotaTarget) (types.TargetID, bool) {
	switch quotaType {
	case types.SchemaQuota:
		return types.TargetID{PrimaryOID: attr.NamespaceID}, true
	case types.RoleQuota:
		return types.TargetID{PrimaryOID: attr.OwnerID}, true
	case types.SchemaTablespaceQuota:
		if !targetMember(targets, quotaType, attr.NamespaceID, attr.TablespaceOID) {
			return types.TargetID{}, false
		}
		return types.TargetID{PrimaryOID: attr.NamespaceID, TablespaceOID: attr.TablespaceOID}, true
	case types.RoleTablespaceQuota:
		if !targetMember(targets, quotaType, attr.OwnerID, attr.TablespaceOID) {
			return types.TargetID{}, false
		}
		return types.TargetID{PrimaryOID: attr.OwnerID, TablespaceOID: attr.TablespaceOID}, true
	default:
		return types.TargetID{}, false
	}
}

// targetTotal accumulates a target's cluster-wide total plus, when
// seg_ratio > 0, its per-segment totals for the balance check (§4.5).
type targetTotal struct {
	config        types.QuotaConfig
	clusterTotal  int64
	perSegTotal   map[int32]int64
	relationIDs   []types.OID
}

// Evaluate computes the desired blocklist for the given inputs (§4.5):
// every relation is attributed to its schema/role/tablespace targets,
// each target's total is compared against its configured limit, and
// exceeding targets are exploded into their member relations.
func Evaluate(in Inputs) []types.BlocklistEntry {
	totals := make(map[types.TargetID]map[types.QuotaType]*targetTotal)

	for relationID, attr := range in.Attribution {
		rows := in.Sizes[relationID]
		cluster := clusterTotal(rows)

		for _, cfg := range in.Configs {
			targetID, ok := targetIDFor(cfg.Type, attr, in.Targets)
			if !ok || targetID != cfg.Target {
				continue
			}

			byType, ok := totals[targetID]
			if !ok {
				byType = make(map[types.QuotaType]*targetTotal)
				totals[targetID] = byType
			}
			tt, ok := byType[cfg.Type]
			if !ok {
				tt = &targetTotal{config: cfg, perSegTotal: make(map[int32]int64)}
				byType[cfg.Type] = tt
			}
			tt.clusterTotal += cluster
			tt.relationIDs = append(tt.relationIDs, relationID)
			if cfg.SegRatio > 0 {
				for _, r := range rows {
					if r.SegID != types.ClusterSegID {
						tt.perSegTotal[r.SegID] += r.SizeBytes
					}
				}
			}
		}
	}

	var entries []types.BlocklistEntry
	for targetID, byType := range totals {
		for quotaType, tt := range byType {
			limitExceeded := tt.config.LimitMB >= 0 && tt.clusterTotal > tt.config.LimitMB*1024*1024
			if limitExceeded {
				entries = append(entries, explode(tt.relationIDs, targetID, quotaType, types.LimitExceeded)...)
			}

			if tt.config.SegRatio > 0 {
				share := int64(tt.config.SegRatio*float32(tt.config.LimitMB)) * 1024 * 1024
				for segID, segTotal := range tt.perSegTotal {
					if segTotal > share {
						entries = append(entries, explode(relationsInSeg(tt.relationIDs, in.Sizes, segID), targetID, quotaType, types.NoFreeSpaceOnTablespace)...)
					}
				}
			}
		}
	}
	return entries
}

func explode(relationIDs []types.OID, target types.TargetID, quotaType types.QuotaType, reason types.BlockReason) []types.BlocklistEntry {
	entries := make([]types.BlocklistEntry, 0, len(relationIDs))
	for _, relationID := range relationIDs {
		entries = append(entries, types.BlocklistEntry{
			RelationID: relationID,
			Target:     target,
			Type:       quotaType,
			Reason:     reason,
		})
	}
	return entries
}

func relationsInSeg(relationIDs []types.OID, sizes map[types.OID][]types.TableSizeRow, segID int32) []types.OID {
	var out []types.OID
	for _, relationID := range relationIDs {
		for _, r := range sizes[relationID] {
			if r.SegID == segID {
				out = append(out, relationID)
				break
			}
		}
	}
	return out
}

// Diff computes additions and removals between the current blocklist
// and the desired one (§4.5 "diffed against the current shared
// blocklist"), keyed by relation id since enforcement is per-relation.
func Diff(current, desired []types.BlocklistEntry) (toAdd, toRemove []types.BlocklistEntry) {
	currentByRelation := make(map[types.OID]types.BlocklistEntry, len(current))
	for _, e := range current {
		currentByRelation[e.RelationID] = e
	}
	desiredByRelation := make(map[types.OID]types.BlocklistEntry, len(desired))
	for _, e := range desired {
		desiredByRelation[e.RelationID] = e
	}

	for relationID, e := range desiredByRelation {
		if old, ok := currentByRelation[relationID]; !ok || old != e {
			toAdd = append(toAdd, e)
		}
	}
	for relationID, e := range currentByRelation {
		if _, ok := desiredByRelation[relationID]; !ok {
			toRemove = append(toRemove, e)
		}
	}
	return toAdd, toRemove
}
