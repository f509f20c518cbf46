// Package catalog defines the boundary between the quota engine and the
// host database's SQL catalog/SPI layer. SPEC_FULL.md §1 explicitly
// excludes the catalog itself from scope ("the host database's SQL
// parser, catalog access ... the core subscribes to them but does not
// implement them"); this package is that subscription contract, the way
// the teacher's pkg/client interface abstracts "the Kubernetes API
// server" as a boundary its controllers call through without owning.
//
// There is deliberately no production SQL-backed implementation here:
// the host embeds this module and supplies one. Fake, below, backs this
// repository's own tests.
package catalog

import (
	"context"
	"errors"

	"github.com/diskquota-db/diskquota/pkg/types"
)

// ErrNotFound is returned when a catalog lookup finds no such object,
// e.g. because it was dropped or its creating transaction never
// committed (§4.2 lookup_by_relfilenode).
var ErrNotFound = errors.New("catalog: object not found")

// RelationAttrs is the subset of a relation's catalog row the relation
// cache needs to populate a RelationCacheEntry (§4.2 update).
type RelationAttrs struct {
	OwnerID       types.OID
	NamespaceID   types.OID
	BackendID     int32
	DBID          types.OID
	TablespaceOID types.OID
	RelfilenodeID types.OID
	StorageKind   types.StorageKind

	// AuxiliaryOf is the primary relation this one is an auxiliary
	// storage object of (toast, AO segment/block-directory, index), or
	// zero if this relation is itself primary.
	AuxiliaryOf types.OID
}

// Catalog is the interface the core calls to resolve relation
// attributes and check liveness, standing in for the host's SPI/catalog
// access.
type Catalog interface {
	// RelationAttrs fetches the catalog attributes of relationID,
	// returning ErrNotFound if it no longer exists or was never
	// committed (§4.2).
	RelationAttrs(ctx context.Context, relationID types.OID) (RelationAttrs, error)

	// RelationExists reports whether relationID's catalog row is
	// visible to a fresh snapshot, used by sweep_committed (§4.2).
	RelationExists(ctx context.Context, relationID types.OID) (bool, error)

	// RelationByRelfilenode resolves a storage-level key back to a
	// relation id (§4.3 FETCH_ACTIVE_OID), returning ErrNotFound if the
	// relation was dropped or its creating transaction has not
	// committed.
	RelationByRelfilenode(ctx context.Context, key types.RelFileKey) (types.OID, error)

	// ForkSizes returns the on-disk size in bytes of each storage fork
	// of relationID (main, FSM, visibility map, init fork, ...),
	// summed across every auxiliary relation it owns, matching the
	// host's pg_table_size equivalent (§4.3 FETCH_ACTIVE_SIZE).
	ForkSizes(ctx context.Context, relationID types.OID) (int64, error)

	// ResolveName resolves a schema or role name to its OID, used by
	// the management functions (§6) to accept textual target names.
	ResolveName(ctx context.Context, kind NameKind, name string) (types.OID, error)

	// Name is the reverse of ResolveName, used by the diagnostic views
	// (§6 show_fast_*_quota_view) to present target_name.
	Name(ctx context.Context, kind NameKind, oid types.OID) (string, error)
}

// NameKind distinguishes which catalog namespace a name belongs to.
type NameKind int

const (
	NameKindSchema NameKind = iota
	NameKindRole
	NameKindTablespace
)
