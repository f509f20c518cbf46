// Package mgmt implements the management functions of SPEC_FULL.md §6:
// set_schema_quota, set_role_quota, set_schema_tablespace_quota,
// set_role_tablespace_quota, set_per_segment_quota, pause, resume,
// init_table_size_table, and wait_for_worker_new_epoch. Each is exposed
// as a plain Go method here and wrapped by a cobra subcommand in
// cmd/diskquotad, mirroring the teacher's pkg/admin functions being
// callable both as a library and through cmd/kubectl-directpv.
package mgmt

import (
	"context"
	"fmt"
	"time"

	"github.com/diskquota-db/diskquota/pkg/types"
)

// ConfigStore is the subset of persistence.Store management functions
// need to read and write quota_config/target rows.
type ConfigStore interface {
	SetQuotaConfig(ctx context.Context, cfg types.QuotaConfig) error
	ListQuotaConfigs(ctx context.Context) ([]types.QuotaConfig, error)
	SetQuotaTarget(ctx context.Context, target types.QuotaTarget) error
	ListQuotaTargets(ctx context.Context) ([]types.QuotaTarget, error)
	SetPaused(ctx context.Context, dbID types.OID, paused bool) error
}

// TableSizeResetter clears persisted table_size rows, letting the next
// coordinator epoch rebuild them from scratch (init_table_size_table).
type TableSizeResetter interface {
	ExpireMissing(ctx context.Context, seenRelationIDs []types.OID) error
}

// EpochWaiter is the subset of *worker.Worker's API
// wait_for_worker_new_epoch needs.
type EpochWaiter interface {
	Epoch() uint64
	WaitForNewEpoch(ctx context.Context, since uint64, timeout time.Duration) error
}

// WorkerLookup resolves the running worker for a monitored database, if
// any.
type WorkerLookup interface {
	Lookup(dbID types.OID) (EpochWaiter, bool)
}

// Manager exposes every management function against a persistence
// store, a table-size resetter, and the set of running workers.
type Manager struct {
	Store      ConfigStore
	TableSizes TableSizeResetter
	Workers    WorkerLookup
}

// New constructs a Manager.
func New(store ConfigStore, tableSizes TableSizeResetter, workers WorkerLookup) *Manager {
	return &Manager{Store: store, TableSizes: tableSizes, Workers: workers}
}

// SetSchemaQuota implements set_schema_quota(namespace, size) (§6).
func (m *Manager) SetSchemaQuota(ctx context.Context, namespaceOID types.OID, size string) error {
	return m.setQuota(ctx, types.SchemaQuota, namespaceOID, 0, size)
}

// SetRoleQuota implements set_role_quota(role, size) (§6).
func (m *Manager) SetRoleQuota(ctx context.Context, roleOID types.OID, size string) error {
	return m.setQuota(ctx, types.RoleQuota, roleOID, 0, size)
}

// SetSchemaTablespaceQuota implements
// set_schema_tablespace_quota(namespace, tablespace, size) (§6),
// registering the (namespace, tablespace) membership so the relation
// only contributes to this limit when actually stored in tablespace
// (§3 QuotaTarget).
func (m *Manager) SetSchemaTablespaceQuota(ctx context.Context, namespaceOID, tablespaceOID types.OID, size string) error {
	if err := m.registerTarget(ctx, types.SchemaTablespaceQuota, namespaceOID, tablespaceOID); err != nil {
		return err
	}
	return m.setQuota(ctx, types.SchemaTablespaceQuota, namespaceOID, tablespaceOID, size)
}

// SetRoleTablespaceQuota implements
// set_role_tablespace_quota(role, tablespace, size) (§6).
func (m *Manager) SetRoleTablespaceQuota(ctx context.Context, roleOID, tablespaceOID types.OID, size string) error {
	if err := m.registerTarget(ctx, types.RoleTablespaceQuota, roleOID, tablespaceOID); err != nil {
		return err
	}
	return m.setQuota(ctx, types.RoleTablespaceQuota, roleOID, tablespaceOID, size)
}

// SetPerSegmentQuota implements set_per_segment_quota(target, ratio)
// (§4.5 per-segment balance check), updating an existing quota_config
// row's SegRatio without disturbing its LimitMB. ratio <= 0 disables
// the check.
func (m *Manager) SetPerSegmentQuota(ctx context.Context, target types.TargetID, quotaType types.QuotaType, ratio float32) error {
	cfgs, err := m.Store.ListQuotaConfigs(ctx)
	if err != nil {
		return err
	}
	for _, cfg := range cfgs {
		if cfg.Target == target && cfg.Type == quotaType {
			cfg.SegRatio = ratio
			return m.Store.SetQuotaConfig(ctx, cfg)
		}
	}
	return fmt.Errorf("mgmt: no existing quota for target %+v type %s; set its limit first", target, quotaType)
}

func (m *Manager) setQuota(ctx context.Context, quotaType types.QuotaType, primaryOID, tablespaceOID types.OID, size string) error {
	limitMB, err := ParseSize(size)
	if err != nil {
		return err
	}
	return m.Store.SetQuotaConfig(ctx, types.QuotaConfig{
		Target:  types.TargetID{PrimaryOID: primaryOID, TablespaceOID: tablespaceOID},
		Type:    quotaType,
		LimitMB: limitMB,
	})
}

func (m *Manager) registerTarget(ctx context.Context, quotaType types.QuotaType, primaryOID, tablespaceOID types.OID) error {
	return m.Store.SetQuotaTarget(ctx, types.QuotaTarget{
		Type:          quotaType,
		PrimaryOID:    primaryOID,
		TablespaceOID: tablespaceOID,
	})
}

// Pause implements pause(dbid) (§4.6, §6), disabling enforcement
// without stopping the worker.
func (m *Manager) Pause(ctx context.Context, dbID types.OID) error {
	return m.Store.SetPaused(ctx, dbID, true)
}

// Resume implements resume(dbid) (§4.6, §6).
func (m *Manager) Resume(ctx context.Context, dbID types.OID) error {
	return m.Store.SetPaused(ctx, dbID, false)
}

// InitTableSizeTable implements init_table_size_table() (§6): discards
// every persisted table_size row so the next coordinator epoch
// recomputes the cluster from scratch, the way a fresh install or a
// schema migration needs to.
func (m *Manager) InitTableSizeTable(ctx context.Context) error {
	return m.TableSizes.ExpireMissing(ctx, nil)
}

// WaitForWorkerNewEpoch implements wait_for_worker_new_epoch(dbid,
// timeout) (§6): blocks until dbID's worker has completed an epoch
// newer than the one in progress when this call started, ctx is
// canceled, or timeout elapses.
func (m *Manager) WaitForWorkerNewEpoch(ctx context.Context, dbID types.OID, timeout time.Duration) error {
	w, ok := m.Workers.Lookup(dbID)
	if !ok {
		return fmt.Errorf("mgmt: database %d is not currently monitored", dbID)
	}
	return w.WaitForNewEpoch(ctx, w.Epoch(), timeout)
}
