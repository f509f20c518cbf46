// Package types holds the wire/storage data model shared by every
// coordinator and segment package: quota configuration, active-file and
// relation-cache entries, table size rows and the blocklist entry shape.
//
// Grounded on original_source/diskquota.h and relation_cache.h, and on
// the teacher's convention (pkg/types/types.go) of keeping small, mostly
// struct-only types with a handful of constructor helpers rather than
// methods with business logic.
package types

import "fmt"

// QuotaType enumerates the four quota target categories a limit can be
// declared against. The ordering matches original_source/diskquota.h's
// QuotaType enum so persisted values and RPC wire values stay stable.
type QuotaType int

const (
	// SchemaQuota limits the total size of relations in a schema/namespace.
	SchemaQuota QuotaType = iota
	// RoleQuota limits the total size of relations owned by a role.
	RoleQuota
	// SchemaTablespaceQuota limits a schema's relations within one tablespace.
	SchemaTablespaceQuota
	// RoleTablespaceQuota limits a role's relations within one tablespace.
	RoleTablespaceQuota

	// NumQuotaTypes is the number of defined quota types.
	NumQuotaTypes
)

func (t QuotaType) String() string {
	switch t {
	case SchemaQuota:
		return "SCHEMA"
	case RoleQuota:
		return "ROLE"
	case SchemaTablespaceQuota:
		return "SCHEMA_TABLESPACE"
	case RoleTablespaceQuota:
		return "ROLE_TABLESPACE"
	default:
		return fmt.Sprintf("QuotaType(%d)", int(t))
	}
}

// TablespaceQualified reports whether this quota type is scoped to a
// specific tablespace and therefore requires a QuotaTarget row (§3).
func (t QuotaType) TablespaceQualified() bool {
	return t == SchemaTablespaceQuota || t == RoleTablespaceQuota
}

// SchemaVersion selects the persisted-schema / RPC wire shape in effect,
// per the "version bifurcation" design note in SPEC_FULL.md §9. V1 table
// size rows carry no seg_id column (seg_id is implicitly -1); V2 rows
// carry an explicit seg_id.
type SchemaVersion int

const (
	// SchemaV1 is the single-total-per-relation schema.
	SchemaV1 SchemaVersion = iota
	// SchemaV2 is the per-segment schema used by the current design.
	SchemaV2
)

// ClusterSegID is the synthetic seg_id used for the cluster-wide total
// row of a relation's TableSizeRow set (§3).
const ClusterSegID = -1

// OID identifies a catalog object (schema/namespace, role, tablespace,
// relation, ...) the way the host database would: an opaque unsigned
// identifier assigned by the catalog.
type OID uint32

// TargetID identifies a quota target. For SchemaQuota/RoleQuota it is a
// bare namespace/role OID; for the tablespace-qualified types it is the
// composite (primary OID, tablespace OID) pair resolved through
// QuotaTarget.
type TargetID struct {
	PrimaryOID    OID
	TablespaceOID OID // zero when the quota type is not tablespace-qualified
}

// QuotaConfig is a persisted (target, quota_type) -> limit mapping (§3,
// §6 quota_config table).
type QuotaConfig struct {
	Target    TargetID
	Type      QuotaType
	LimitMB   int64
	SegRatio  float32 // <=0 means "no per-segment balance check" (§4.5)
}

// NoLimit is the sentinel LimitMB value meaning "unlimited".
const NoLimit int64 = -1

// DenyAll is the sentinel LimitMB value meaning "deny all writes".
const DenyAll int64 = 0

// QuotaTarget is a persisted (primary target, tablespace) membership row
// enabling per-tablespace limits for schema/role quotas (§3, §6 target
// table). A relation only contributes to a tablespace-qualified quota
// target when a matching row exists here.
type QuotaTarget struct {
	Type          QuotaType
	PrimaryOID    OID
	TablespaceOID OID
}

// StorageKind enumerates the physical storage strategy of a relation,
// used to decide how auxiliary relations are discovered (§3).
type StorageKind int

const (
	StorageHeap StorageKind = iota
	StorageAppendOptimized
	StorageExternal
)

// RelFileKey identifies a physical storage file the way the host
// storage manager does: (database, tablespace, relfilenode). Multiple
// relations across tablespaces can share a relfilenode number, so all
// three fields are required (GLOSSARY).
type RelFileKey struct {
	DBID          OID
	TablespaceOID OID
	RelfilenodeID OID
}

// ActiveFileEntry is a (db, tablespace, relfilenode) triple observed as
// modified since the last drain. It is a set member; there is no
// associated value (§3).
type ActiveFileEntry struct {
	RelFileKey
}

// RelationCacheEntry resolves one relation's catalog attributes and its
// primary/auxiliary relationship (§3, original_source/relation_cache.h).
type RelationCacheEntry struct {
	RelationID        OID
	PrimaryRelationID OID // equals RelationID when this entry is itself primary
	OwnerID           OID
	NamespaceID       OID
	BackendID         int32 // nonzero for temp-table relations
	DBID              OID
	TablespaceOID     OID
	RelfilenodeID     OID
	StorageKind       StorageKind
	AuxiliaryRelIDs   map[OID]struct{}
}

// IsPrimary reports whether this entry is its own primary relation.
func (e *RelationCacheEntry) IsPrimary() bool {
	return e.RelationID == e.PrimaryRelationID
}

// RelFileKey returns this entry's storage-level identity, used to index
// the relation cache for reverse (storage -> relation) lookups.
func (e *RelationCacheEntry) RelFileKey() RelFileKey {
	return RelFileKey{DBID: e.DBID, TablespaceOID: e.TablespaceOID, RelfilenodeID: e.RelfilenodeID}
}

// TableSizeRow is one persisted (relation, segment) size observation
// (§3, §6 table_size table). SegID == types.ClusterSegID is the
// cluster-wide total row; other values are per-segment rows (P3).
type TableSizeRow struct {
	RelationID OID
	SegID      int32
	SizeBytes  int64
}

// BlockReason enumerates why a relation was placed on the blocklist (§3).
type BlockReason int

const (
	// LimitExceeded means the target's aggregated size exceeds its limit.
	LimitExceeded BlockReason = iota
	// NoFreeSpaceOnTablespace means a per-segment balance check failed (§4.5).
	NoFreeSpaceOnTablespace
)

func (r BlockReason) String() string {
	switch r {
	case LimitExceeded:
		return "LIMIT_EXCEEDED"
	case NoFreeSpaceOnTablespace:
		return "NO_FREE_SPACE_ON_TABLESPACE"
	default:
		return fmt.Sprintf("BlockReason(%d)", int(r))
	}
}

// BlocklistEntry records why a relation is currently refused writes (§3).
type BlocklistEntry struct {
	RelationID OID
	Target     TargetID
	Type       QuotaType
	Reason     BlockReason
}
