// Package persistence is the gorm-backed storage layer for the four
// tables SPEC_FULL.md §6 persists: quota_config, target, table_size,
// and state (the per-database paused flag and schema version).
//
// Grounded on other_examples/raids-lab-storage-server__space.go and
// other_examples/LumeWeb-portal-plugin-billing__user_quota.go for the
// gorm.Model-embedding, indexed-column struct style; the production
// driver is gorm.io/driver/postgres and tests use gorm.io/driver/sqlite,
// matching §2's ambient persistence component.
package persistence

import (
	"github.com/diskquota-db/diskquota/pkg/types"
)

// QuotaConfigRow is the gorm model backing the quota_config table (§6).
type QuotaConfigRow struct {
	ID            uint `gorm:"primaryKey"`
	PrimaryOID    uint32 `gorm:"uniqueIndex:idx_quota_config_target"`
	TablespaceOID uint32 `gorm:"uniqueIndex:idx_quota_config_target"`
	QuotaType     int    `gorm:"uniqueIndex:idx_quota_config_target"`
	LimitMB       int64
	SegRatio      float32
}

func (QuotaConfigRow) TableName() string { return "quota_config" }

func (r QuotaConfigRow) toDomain() types.QuotaConfig {
	return types.QuotaConfig{
		Target:   types.TargetID{PrimaryOID: types.OID(r.PrimaryOID), TablespaceOID: types.OID(r.TablespaceOID)},
		Type:     types.QuotaType(r.QuotaType),
		LimitMB:  r.LimitMB,
		SegRatio: r.SegRatio,
	}
}

func quotaConfigFromDomain(c types.QuotaConfig) QuotaConfigRow {
	return QuotaConfigRow{
		PrimaryOID:    uint32(c.Target.PrimaryOID),
		TablespaceOID: uint32(c.Target.TablespaceOID),
		QuotaType:     int(c.Type),
		LimitMB:       c.LimitMB,
		SegRatio:      c.SegRatio,
	}
}

// TargetRow is the gorm model backing the target table (§6): a
// (type, primary, tablespace) membership row enabling per-tablespace
// limits.
type TargetRow struct {
	ID            uint `gorm:"primaryKey"`
	QuotaType     int    `gorm:"uniqueIndex:idx_target_membership"`
	PrimaryOID    uint32 `gorm:"uniqueIndex:idx_target_membership"`
	TablespaceOID uint32 `gorm:"uniqueIndex:idx_target_membership"`
}

func (TargetRow) TableName() string { return "target" }

func (r TargetRow) toDomain() types.QuotaTarget {
	return types.QuotaTarget{
		Type:          types.QuotaType(r.QuotaType),
		PrimaryOID:    types.OID(r.PrimaryOID),
		TablespaceOID: types.OID(r.TablespaceOID),
	}
}

func targetFromDomain(t types.QuotaTarget) TargetRow {
	return TargetRow{
		QuotaType:     int(t.Type),
		PrimaryOID:    uint32(t.PrimaryOID),
		TablespaceOID: uint32(t.TablespaceOID),
	}
}

// TableSizeDBRow is the gorm model backing the table_size table (§6).
// SegID of types.ClusterSegID stores the cluster-wide total row.
type TableSizeDBRow struct {
	RelationID uint32 `gorm:"primaryKey;autoIncrement:false;uniqueIndex:idx_table_size_pk"`
	SegID      int32  `gorm:"primaryKey;autoIncrement:false;uniqueIndex:idx_table_size_pk"`
	SizeBytes  int64
}

func (TableSizeDBRow) TableName() string { return "table_size" }

func (r TableSizeDBRow) toDomain() types.TableSizeRow {
	return types.TableSizeRow{RelationID: types.OID(r.RelationID), SegID: r.SegID, SizeBytes: r.SizeBytes}
}

func tableSizeFromDomain(r types.TableSizeRow) TableSizeDBRow {
	return TableSizeDBRow{RelationID: uint32(r.RelationID), SegID: r.SegID, SizeBytes: r.SizeBytes}
}

// StateRow is the gorm model backing the per-database state table (§6):
// whether enforcement is paused and which schema version is in effect.
type StateRow struct {
	DBID          uint32 `gorm:"primaryKey;autoIncrement:false"`
	Paused        bool
	SchemaVersion int
}

func (StateRow) TableName() string { return "state" }

// MonitoredDBRow is the gorm model backing the persisted
// "monitored databases" list the launcher reads at startup (§4.7,
// original_source database_list table).
type MonitoredDBRow struct {
	DBID uint32 `gorm:"primaryKey;autoIncrement:false"`
}

func (MonitoredDBRow) TableName() string { return "monitored_database" }
