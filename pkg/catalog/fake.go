package catalog

import (
	"context"
	"fmt"
	"sync"

	"github.com/diskquota-db/diskquota/pkg/types"
)

// Fake is an in-memory Catalog used by this repository's own tests to
// stand in for the host's real catalog/SPI access.
type Fake struct {
	mu          sync.Mutex
	relations   map[types.OID]RelationAttrs
	dropped     map[types.OID]bool
	sizes       map[types.OID]int64
	schemaNames map[types.OID]string
	roleNames   map[types.OID]string
	tbspNames   map[types.OID]string
}

// NewFake creates an empty Fake catalog.
func NewFake() *Fake {
	return &Fake{
		relations:   make(map[types.OID]RelationAttrs),
		dropped:     make(map[types.OID]bool),
		sizes:       make(map[types.OID]int64),
		schemaNames: make(map[types.OID]string),
		roleNames:   make(map[types.OID]string),
		tbspNames:   make(map[types.OID]string),
	}
}

// AddRelation registers a relation's attributes and current size.
func (f *Fake) AddRelation(relationID types.OID, attrs RelationAttrs, sizeBytes int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.relations[relationID] = attrs
	f.sizes[relationID] = sizeBytes
}

// SetSize updates a relation's reported size without changing its attributes.
func (f *Fake) SetSize(relationID types.OID, sizeBytes int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sizes[relationID] = sizeBytes
}

// Drop marks a relation as dropped: RelationExists will report false and
// RelationAttrs/ForkSizes will report ErrNotFound / zero size, matching
// the scoped-subtransaction fallback in §4.3.
func (f *Fake) Drop(relationID types.OID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropped[relationID] = true
}

// NameSchema registers a schema OID -> name mapping.
func (f *Fake) NameSchema(oid types.OID, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.schemaNames[oid] = name
}

// NameRole registers a role OID -> name mapping.
func (f *Fake) NameRole(oid types.OID, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roleNames[oid] = name
}

// NameTablespace registers a tablespace OID -> name mapping.
func (f *Fake) NameTablespace(oid types.OID, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tbspNames[oid] = name
}

func (f *Fake) RelationAttrs(_ context.Context, relationID types.OID) (RelationAttrs, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dropped[relationID] {
		return RelationAttrs{}, ErrNotFound
	}
	a, ok := f.relations[relationID]
	if !ok {
		return RelationAttrs{}, ErrNotFound
	}
	return a, nil
}

func (f *Fake) RelationExists(_ context.Context, relationID types.OID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dropped[relationID] {
		return false, nil
	}
	_, ok := f.relations[relationID]
	return ok, nil
}

func (f *Fake) RelationByRelfilenode(_ context.Context, key types.RelFileKey) (types.OID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for relid, a := range f.relations {
		if f.dropped[relid] {
			continue
		}
		if a.DBID == key.DBID && a.TablespaceOID == key.TablespaceOID && a.RelfilenodeID == key.RelfilenodeID {
			return relid, nil
		}
	}
	return 0, ErrNotFound
}

func (f *Fake) ForkSizes(_ context.Context, relationID types.OID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dropped[relationID] {
		return 0, nil
	}
	return f.sizes[relationID], nil
}

func (f *Fake) ResolveName(_ context.Context, kind NameKind, name string) (types.OID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var table map[types.OID]string
	switch kind {
	case NameKindSchema:
		table = f.schemaNames
	case NameKindRole:
		table = f.roleNames
	case NameKindTablespace:
		table = f.tbspNames
	}
	for oid, n := range table {
		if n == name {
			return oid, nil
		}
	}
	return 0, fmt.Errorf("%w: %v", ErrNotFound, name)
}

func (f *Fake) Name(_ context.Context, kind NameKind, oid types.OID) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var table map[types.OID]string
	switch kind {
	case NameKindSchema:
		table = f.schemaNames
	case NameKindRole:
		table = f.roleNames
	case NameKindTablespace:
		table = f.tbspNames
	}
	n, ok := table[oid]
	if !ok {
		return "", ErrNotFound
	}
	return n, nil
}

var _ Catalog = (*Fake)(nil)
