package persistence

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/diskquota-db/diskquota/pkg/types"
)

// Store wraps a *gorm.DB and implements every persistence-facing
// collaborator interface used elsewhere in this module
// (coordinator.TableSizeStore, launcher.MonitoredDBStore, and the
// management-function repository consumed by pkg/mgmt).
type Store struct {
	db *gorm.DB
}

// New wraps db, migrating the five tables behind QuotaConfigRow,
// TargetRow, TableSizeDBRow, StateRow and MonitoredDBRow if they do not
// yet exist.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&QuotaConfigRow{}, &TargetRow{}, &TableSizeDBRow{}, &StateRow{}, &MonitoredDBRow{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// --- coordinator.TableSizeStore ---

// Upsert implements coordinator.TableSizeStore, overwriting each
// (relation_id, seg_id) row on conflict (§4.4 step 4).
func (s *Store) Upsert(ctx context.Context, rows []types.TableSizeRow) error {
	if len(rows) == 0 {
		return nil
	}
	dbRows := make([]TableSizeDBRow, len(rows))
	for i, r := range rows {
		dbRows[i] = tableSizeFromDomain(r)
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "relation_id"}, {Name: "seg_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"size_bytes"}),
	}).Create(&dbRows).Error
}

// ExpireMissing implements coordinator.TableSizeStore, deleting every
// table_size row whose relation id was not seen this epoch (§4.4 step
// 4 "a separate per-epoch pass to expire rows of dropped relations").
// With no seen ids, every row is deleted.
func (s *Store) ExpireMissing(ctx context.Context, seenRelationIDs []types.OID) error {
	ids := make([]uint32, len(seenRelationIDs))
	for i, id := range seenRelationIDs {
		ids[i] = uint32(id)
	}
	q := s.db.WithContext(ctx)
	if len(ids) > 0 {
		q = q.Where("relation_id NOT IN ?", ids)
	} else {
		q = q.Session(&gorm.Session{AllowGlobalUpdate: true})
	}
	return q.Delete(&TableSizeDBRow{}).Error
}

// LoadAll implements coordinator.TableSizeStore, reading every
// persisted row (§4.4 "load_table_size", used on cold start).
func (s *Store) LoadAll(ctx context.Context) ([]types.TableSizeRow, error) {
	var dbRows []TableSizeDBRow
	if err := s.db.WithContext(ctx).Find(&dbRows).Error; err != nil {
		return nil, err
	}
	out := make([]types.TableSizeRow, len(dbRows))
	for i, r := range dbRows {
		out[i] = r.toDomain()
	}
	return out, nil
}

// --- launcher.MonitoredDBStore ---

// Add implements launcher.MonitoredDBStore.
func (s *Store) Add(ctx context.Context, dbID types.OID) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&MonitoredDBRow{DBID: uint32(dbID)}).Error
}

// Remove implements launcher.MonitoredDBStore.
func (s *Store) Remove(ctx context.Context, dbID types.OID) error {
	return s.db.WithContext(ctx).Delete(&MonitoredDBRow{}, "db_id = ?", uint32(dbID)).Error
}

// List implements launcher.MonitoredDBStore.
func (s *Store) List(ctx context.Context) ([]types.OID, error) {
	var rows []MonitoredDBRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]types.OID, len(rows))
	for i, r := range rows {
		out[i] = types.OID(r.DBID)
	}
	return out, nil
}

// --- quota config / target management (pkg/mgmt) ---

// SetQuotaConfig upserts a single quota_config row (§6 set_schema_quota
// and friends).
func (s *Store) SetQuotaConfig(ctx context.Context, cfg types.QuotaConfig) error {
	row := quotaConfigFromDomain(cfg)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "primary_o_id"}, {Name: "tablespace_o_id"}, {Name: "quota_type"}},
		DoUpdates: clause.AssignmentColumns([]string{"limit_mb", "seg_ratio"}),
	}).Create(&row).Error
}

// ListQuotaConfigs returns every persisted quota_config row.
func (s *Store) ListQuotaConfigs(ctx context.Context) ([]types.QuotaConfig, error) {
	var rows []QuotaConfigRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]types.QuotaConfig, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

// SetQuotaTarget upserts a target membership row (§6).
func (s *Store) SetQuotaTarget(ctx context.Context, target types.QuotaTarget) error {
	row := targetFromDomain(target)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
}

// ListQuotaTargets returns every persisted target membership row.
func (s *Store) ListQuotaTargets(ctx context.Context) ([]types.QuotaTarget, error) {
	var rows []TargetRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]types.QuotaTarget, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

// --- pause / schema version state ---

// SetPaused persists dbID's paused flag (§4.6 Pause, §6 pause/resume).
func (s *Store) SetPaused(ctx context.Context, dbID types.OID, paused bool) error {
	row := StateRow{DBID: uint32(dbID), Paused: paused}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "db_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"paused"}),
	}).Create(&row).Error
}

// IsPaused implements blocklist.PauseChecker / worker.PauseChecker.
func (s *Store) IsPaused(dbID types.OID) bool {
	var row StateRow
	if err := s.db.Where("db_id = ?", uint32(dbID)).First(&row).Error; err != nil {
		return false
	}
	return row.Paused
}

// SchemaVersion returns dbID's persisted schema version, defaulting to
// SchemaV2 (§9 Version bifurcation) if no state row exists yet.
func (s *Store) SchemaVersion(ctx context.Context, dbID types.OID) (types.SchemaVersion, error) {
	var row StateRow
	err := s.db.WithContext(ctx).Where("db_id = ?", uint32(dbID)).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return types.SchemaV2, nil
	}
	if err != nil {
		return 0, err
	}
	return types.SchemaVersion(row.SchemaVersion), nil
}
