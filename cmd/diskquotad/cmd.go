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
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"k8s.io/klog/v2"

	"github.com/diskquota-db/diskquota/pkg/blocklist"
	"github.com/diskquota-db/diskquota/pkg/catalog"
	"github.com/diskquota-db/diskquota/pkg/consts"
	"github.com/diskquota-db/diskquota/pkg/coordinator"
	"github.com/diskquota-db/diskquota/pkg/engine"
	"github.com/diskquota-db/diskquota/pkg/launcher"
	"github.com/diskquota-db/diskquota/pkg/metrics"
	"github.com/diskquota-db/diskquota/pkg/mgmt"
	"github.com/diskquota-db/diskquota/pkg/persistence"
	"github.com/diskquota-db/diskquota/pkg/relationcache"
	"github.com/diskquota-db/diskquota/pkg/rpc"
	"github.com/diskquota-db/diskquota/pkg/types"
	"github.com/diskquota-db/diskquota/pkg/worker"
)

// defaultDSN falls back to a sqlite file under the user's home
// directory when --dsn is not set, the way the teacher's CLI derives a
// default config path from homedir.Dir() rather than requiring every
// invocation to spell it out.
func defaultDSN() string {
	home, err := homedir.Dir()
	if err != nil {
		return consts.AppName + ".db"
	}
	return filepath.Join(home, "."+consts.AppName, consts.AppName+".db")
}

// openStore opens the persistence DSN, picking the gorm driver by
// scheme the way a single binary supporting both a production Postgres
// deployment and a single-process sqlite deployment has to.
func openStore(dsn string) (*persistence.Store, error) {
	if dsn == "" {
		dsn = defaultDSN()
		klog.V(1).Infof("--dsn not set, defaulting to %s", dsn)
	}
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
	} else {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o700); err != nil {
			return nil, fmt.Errorf("creating sqlite DSN directory: %w", err)
		}
		dialector = sqlite.Open(dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("opening persistence store: %w", err)
	}
	return persistence.New(db)
}

// newManager builds a Manager for one-shot CLI invocations: every
// management function except wait_for_worker_new_epoch works this way,
// since they only read and write persisted state. wait_for_worker_new_epoch
// needs a live worker's epoch counter and is therefore only meaningful
// called in-process against a running serve command (see DESIGN.md).
func newManager(store *persistence.Store) *mgmt.Manager {
	return mgmt.New(store, store, noopWorkerLookup{})
}

type noopWorkerLookup struct{}

func (noopWorkerLookup) Lookup(types.OID) (mgmt.EpochWaiter, bool) { return nil, false }

func parseOID(s string) (types.OID, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid oid %q: %w", s, err)
	}
	return types.OID(v), nil
}

// dbRegistry lazily builds the per-database engine state a newly
// monitored database needs: its own coordinator.Epoch (sharing the
// process-wide segment clients and table-size store) and its own
// relation cache, then registers them on runner before the
// launcher-started worker's first epoch can run.
type dbRegistry struct {
	mu       sync.Mutex
	runner   *engine.Runner
	segments []coordinator.Segment
	store    *persistence.Store
	catalog  catalog.Catalog
	naptime  time.Duration
	pause    worker.PauseChecker
}

func (r *dbRegistry) workerFor(dbID types.OID) launcher.WorkerHandle {
	r.mu.Lock()
	if _, ok := r.runner.Databases[dbID]; !ok {
		r.runner.Databases[dbID] = &engine.Database{
			Epoch: &coordinator.Epoch{
				DBID:     dbID,
				Segments: r.segments,
				Store:    r.store,
				Catalog:  r.catalog,
			},
			Cache:     relationcache.New(maxActiveTables, r.catalog),
			ColdStart: true,
		}
	}
	r.mu.Unlock()

	return worker.New(dbID, r.naptime, r.runner, r.pause)
}

func dialSegments(ctx context.Context, endpoints string) ([]coordinator.Segment, error) {
	var segments []coordinator.Segment
	for i, endpoint := range strings.Split(endpoints, ",") {
		endpoint = strings.TrimSpace(endpoint)
		if endpoint == "" {
			continue
		}
		cc, err := rpc.Dial(ctx, endpoint)
		if err != nil {
			return nil, fmt.Errorf("dialing segment %d (%s): %w", i, endpoint, err)
		}
		segments = append(segments, coordinator.Segment{SegID: int32(i), Client: rpc.NewClient(cc)})
	}
	return segments, nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the coordinator: one epoch loop per monitored database, plus the Prometheus metrics endpoint",
	RunE: func(c *cobra.Command, args []string) error {
		ctx := c.Context()

		store, err := openStore(dsn)
		if err != nil {
			return err
		}

		segments, err := dialSegments(ctx, segmentEndpoints)
		if err != nil {
			return err
		}
		if len(segments) == 0 {
			klog.Warningf("no --segment-endpoints configured; every epoch will see an empty active set")
		}

		bl := blocklist.New()
		runner := &engine.Runner{
			Databases: make(map[types.OID]*engine.Database),
			Store:     store,
			Blocklist: bl,
		}

		// The host database's catalog is an explicit boundary this module
		// does not implement (see pkg/catalog's package doc); catalog.Fake
		// stands in here so the binary runs end to end. A production
		// deployment links a real catalog.Catalog implementation in place
		// of this one.
		reg := &dbRegistry{
			runner:   runner,
			segments: segments,
			store:    store,
			catalog:  catalog.NewFake(),
			naptime:  time.Duration(naptimeSeconds) * time.Second,
			pause:    store,
		}

		l := launcher.New(store, reg.workerFor, maxMonitoredDBs)
		if err := l.Start(ctx); err != nil {
			return fmt.Errorf("starting launcher: %w", err)
		}

		if metricsAddr != "" {
			collector := metrics.New(metrics.Sources{
				BlocklistSize: bl.Len,
			})
			handler, err := metrics.Handler(collector)
			if err != nil {
				return fmt.Errorf("building metrics handler: %w", err)
			}
			mux := http.NewServeMux()
			mux.Handle("/metrics", handler)
			server := &http.Server{Addr: metricsAddr, Handler: mux}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				server.Shutdown(shutdownCtx)
			}()
			go func() {
				klog.V(1).Infof("metrics listening on %s", metricsAddr)
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					klog.ErrorS(err, "metrics server exited")
				}
			}()
		}

		<-ctx.Done()
		l.Wait()
		return nil
	},
}

var setSchemaQuotaCmd = &cobra.Command{
	Use:   "set-schema-quota NAMESPACE_OID SIZE",
	Short: "Set a schema's total quota (e.g. 10GB, or -1 for unlimited)",
	Args:  cobra.ExactArgs(2),
	RunE: func(c *cobra.Command, args []string) error {
		store, err := openStore(dsn)
		if err != nil {
			return err
		}
		nsOID, err := parseOID(args[0])
		if err != nil {
			return err
		}
		return newManager(store).SetSchemaQuota(c.Context(), nsOID, args[1])
	},
}

var setRoleQuotaCmd = &cobra.Command{
	Use:   "set-role-quota ROLE_OID SIZE",
	Short: "Set a role's total quota",
	Args:  cobra.ExactArgs(2),
	RunE: func(c *cobra.Command, args []string) error {
		store, err := openStore(dsn)
		if err != nil {
			return err
		}
		roleOID, err := parseOID(args[0])
		if err != nil {
			return err
		}
		return newManager(store).SetRoleQuota(c.Context(), roleOID, args[1])
	},
}

var setSchemaTablespaceQuotaCmd = &cobra.Command{
	Use:   "set-schema-tablespace-quota NAMESPACE_OID TABLESPACE_OID SIZE",
	Short: "Set a schema's quota within a specific tablespace",
	Args:  cobra.ExactArgs(3),
	RunE: func(c *cobra.Command, args []string) error {
		store, err := openStore(dsn)
		if err != nil {
			return err
		}
		nsOID, err := parseOID(args[0])
		if err != nil {
			return err
		}
		tsOID, err := parseOID(args[1])
		if err != nil {
			return err
		}
		return newManager(store).SetSchemaTablespaceQuota(c.Context(), nsOID, tsOID, args[2])
	},
}

var setRoleTablespaceQuotaCmd = &cobra.Command{
	Use:   "set-role-tablespace-quota ROLE_OID TABLESPACE_OID SIZE",
	Short: "Set a role's quota within a specific tablespace",
	Args:  cobra.ExactArgs(3),
	RunE: func(c *cobra.Command, args []string) error {
		store, err := openStore(dsn)
		if err != nil {
			return err
		}
		roleOID, err := parseOID(args[0])
		if err != nil {
			return err
		}
		tsOID, err := parseOID(args[1])
		if err != nil {
			return err
		}
		return newManager(store).SetRoleTablespaceQuota(c.Context(), roleOID, tsOID, args[2])
	},
}

var setPerSegmentQuotaCmd = &cobra.Command{
	Use:   "set-per-segment-quota PRIMARY_OID TABLESPACE_OID QUOTA_TYPE RATIO",
	Short: "Set the per-segment balance ratio for an existing quota (QUOTA_TYPE: schema|role|schema-tablespace|role-tablespace)",
	Args:  cobra.ExactArgs(4),
	RunE: func(c *cobra.Command, args []string) error {
		store, err := openStore(dsn)
		if err != nil {
			return err
		}
		primaryOID, err := parseOID(args[0])
		if err != nil {
			return err
		}
		tsOID, err := parseOID(args[1])
		if err != nil {
			return err
		}
		quotaType, err := parseQuotaType(args[2])
		if err != nil {
			return err
		}
		ratio, err := strconv.ParseFloat(args[3], 32)
		if err != nil {
			return fmt.Errorf("invalid ratio %q: %w", args[3], err)
		}
		target := types.TargetID{PrimaryOID: primaryOID, TablespaceOID: tsOID}
		return newManager(store).SetPerSegmentQuota(c.Context(), target, quotaType, float32(ratio))
	},
}

func parseQuotaType(s string) (types.QuotaType, error) {
	switch s {
	case "schema":
		return types.SchemaQuota, nil
	case "role":
		return types.RoleQuota, nil
	case "schema-tablespace":
		return types.SchemaTablespaceQuota, nil
	case "role-tablespace":
		return types.RoleTablespaceQuota, nil
	default:
		return 0, fmt.Errorf("unknown quota type %q (want schema|role|schema-tablespace|role-tablespace)", s)
	}
}

var pauseCmd = &cobra.Command{
	Use:   "pause DB_OID",
	Short: "Pause quota enforcement for a database without stopping its worker",
	Args:  cobra.ExactArgs(1),
	RunE: func(c *cobra.Command, args []string) error {
		store, err := openStore(dsn)
		if err != nil {
			return err
		}
		dbID, err := parseOID(args[0])
		if err != nil {
			return err
		}
		return newManager(store).Pause(c.Context(), dbID)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume DB_OID",
	Short: "Resume quota enforcement for a database",
	Args:  cobra.ExactArgs(1),
	RunE: func(c *cobra.Command, args []string) error {
		store, err := openStore(dsn)
		if err != nil {
			return err
		}
		dbID, err := parseOID(args[0])
		if err != nil {
			return err
		}
		return newManager(store).Resume(c.Context(), dbID)
	},
}

var initTableSizeTableCmd = &cobra.Command{
	Use:   "init-table-size-table",
	Short: "Discard every persisted table-size row so the next epoch recomputes the cluster from scratch",
	Args:  cobra.NoArgs,
	RunE: func(c *cobra.Command, args []string) error {
		store, err := openStore(dsn)
		if err != nil {
			return err
		}
		return newManager(store).InitTableSizeTable(c.Context())
	},
}
