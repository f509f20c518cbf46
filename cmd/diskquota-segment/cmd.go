// This file is part of diskquota
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/diskquota-db/diskquota/pkg/catalog"
	"github.com/diskquota-db/diskquota/pkg/probes"
	"github.com/diskquota-db/diskquota/pkg/relationcache"
	"github.com/diskquota-db/diskquota/pkg/rpc"
	"github.com/diskquota-db/diskquota/pkg/segment"
	"github.com/diskquota-db/diskquota/pkg/shmem"
	"github.com/diskquota-db/diskquota/pkg/types"
)

// relFileKeyBytes turns a RelFileKey into the bytes shmem.HashKey
// shards on, following pkg/relationcache's RelFileKey the same way the
// coordinator's table_size rows key on (relation, segment).
func relFileKeyBytes(key types.RelFileKey) []byte {
	var b [12]byte
	binary.BigEndian.PutUint32(b[0:4], uint32(key.DBID))
	binary.BigEndian.PutUint32(b[4:8], uint32(key.TablespaceOID))
	binary.BigEndian.PutUint32(b[8:12], uint32(key.RelfilenodeID))
	return b[:]
}

// monitoredAlways reports every database as monitored. Knowing which
// databases actually have an active worker requires reaching the
// coordinator (§3 MonitoredDbSet); until that cross-process check is
// wired, every database's storage events are tracked, trading a little
// unnecessary active-file bookkeeping for simplicity.
type monitoredAlways struct{}

func (monitoredAlways) IsMonitored(types.OID) bool { return true }

func runServe(c *cobra.Command, args []string) error {
	ctx := c.Context()

	// The host database's catalog is an explicit boundary this module
	// does not implement (see pkg/catalog's package doc); a production
	// deployment links its own catalog.Catalog implementation in place
	// of catalog.Fake.
	cat := catalog.NewFake()

	cache := relationcache.New(relationCacheCapacity, cat)
	activeFiles := shmem.NewShardedSet[types.RelFileKey](activeTableCapacity, relFileKeyBytes)

	hooks := &probes.Hooks{
		IsCoordinatorOrMirror: func() bool { return isCoordinatorOrMirror },
		Monitored:             monitoredAlways{},
		ActiveFiles:           activeFiles,
		RelationCache:         cache,
		CacheUpdater:          cache,
	}

	svc := &segment.Service{
		DBID:                  types.OID(dbID),
		SegID:                 int32(segID),
		IsCoordinatorOrMirror: isCoordinatorOrMirror,
		ActiveFiles:           activeFiles,
		Relations:             cache,
		Catalog:               cat,
	}

	if eventsAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/events/storage", storageEventHandler(hooks))
		mux.HandleFunc("/events/object-create", objectCreateEventHandler(hooks))
		server := &http.Server{Addr: eventsAddr, Handler: mux}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			server.Shutdown(shutdownCtx)
		}()
		go func() {
			klog.V(1).Infof("storage-event endpoint listening on %s", eventsAddr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				klog.ErrorS(err, "events server exited")
			}
		}()
	}

	if grpcEndpoint == "" {
		return fmt.Errorf("--grpc-endpoint is required")
	}
	return rpc.Serve(ctx, grpcEndpoint, &rpc.SegmentAdapter{Svc: svc})
}

// storageEvent is the wire shape of a create/extend/truncate/unlink
// notification, posted by the host process's storage-manager
// integration (§4.1; see pkg/probes's package doc on this boundary).
type storageEvent struct {
	Kind       string // "create", "extend", "truncate", "unlink"
	RelFileKey types.RelFileKey
	BackendID  int32
}

func storageEventHandler(hooks *probes.Hooks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var ev storageEvent
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		d := probes.StorageDescriptor{RelFileKey: ev.RelFileKey, BackendID: ev.BackendID}
		ctx := r.Context()
		switch ev.Kind {
		case "create":
			hooks.OnCreate(ctx, d)
		case "extend":
			hooks.OnExtend(ctx, d)
		case "truncate":
			hooks.OnTruncate(ctx, d)
		case "unlink":
			hooks.OnUnlink(ctx, d)
		default:
			http.Error(w, fmt.Sprintf("unknown event kind %q", ev.Kind), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// objectCreateEvent is the wire shape of a post-object-create
// notification (§4.1, §9).
type objectCreateEvent struct {
	Class    probes.ObjectClass
	ObjectID types.OID
	SubID    types.OID
	Phase    probes.ObjectAccessPhase
}

func objectCreateEventHandler(hooks *probes.Hooks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var ev objectCreateEvent
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		hooks.OnObjectCreate(r.Context(), probes.ObjectDescriptor{
			Class:    ev.Class,
			ObjectID: ev.ObjectID,
			SubID:    ev.SubID,
			Phase:    ev.Phase,
		})
		w.WriteHeader(http.StatusNoContent)
	}
}
