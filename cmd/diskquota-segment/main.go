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
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"k8s.io/klog/v2"

	"github.com/diskquota-db/diskquota/pkg/consts"
)

// Version of this application, populated by `go build`.
var Version string

// flags
var (
	segID                 = int(consts.CoordinatorSegID)
	dbID                  = 0
	isCoordinatorOrMirror = false
	grpcEndpoint          = ""
	eventsAddr            = ""
	relationCacheCapacity = consts.DefaultMaxActiveTables
	activeTableCapacity   = consts.DefaultMaxActiveTables
)

var mainCmd = &cobra.Command{
	Use:           "diskquota-segment",
	Short:         "Run the " + consts.AppPrettyName + " segment agent: the local fetch_table_stat service one instance runs per segment",
	SilenceUsage:  true,
	SilenceErrors: false,
	Version:       Version,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd:   true,
		DisableNoDescFlag:   true,
		DisableDescriptions: true,
		HiddenDefaultCmd:    true,
	},
}

func init() {
	if mainCmd.Version == "" {
		mainCmd.Version = "dev"
	}

	viper.AutomaticEnv()

	kflags := flag.NewFlagSet("klog", flag.ExitOnError)
	klog.InitFlags(kflags)

	mainCmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)
	mainCmd.PersistentFlags().AddGoFlagSet(kflags)

	flag.Set("logtostderr", "true")
	flag.Set("alsologtostderr", "true")

	mainCmd.PersistentFlags().IntVar(&segID, "seg-id", segID, "This segment's id, or -1 for the coordinator/mirror role")
	mainCmd.PersistentFlags().IntVar(&dbID, "db-id", dbID, "The monitored database this agent instance serves (one process per monitored database per segment, as in the original per-database worker model)")
	mainCmd.PersistentFlags().BoolVar(&isCoordinatorOrMirror, "coordinator-or-mirror", isCoordinatorOrMirror, "This agent serves the coordinator or a mirror replica and never reports active files")
	mainCmd.PersistentFlags().StringVar(&grpcEndpoint, "grpc-endpoint", grpcEndpoint, "Listen endpoint for the FetchTableStat service (tcp://host:port or unix:///path)")
	mainCmd.PersistentFlags().StringVar(&eventsAddr, "events-addr", eventsAddr, "Listen address for the storage-event ingestion endpoint")
	mainCmd.PersistentFlags().IntVar(&relationCacheCapacity, "relation-cache-capacity", relationCacheCapacity, "Bounded capacity of the relation cache")
	mainCmd.PersistentFlags().IntVar(&activeTableCapacity, "active-table-capacity", activeTableCapacity, "Bounded capacity of the active-file set")

	mainCmd.PersistentFlags().MarkHidden("add_dir_header")
	mainCmd.PersistentFlags().MarkHidden("log_file")
	mainCmd.PersistentFlags().MarkHidden("log_file_max_size")
	mainCmd.PersistentFlags().MarkHidden("one_output")
	mainCmd.PersistentFlags().MarkHidden("skip_headers")
	mainCmd.PersistentFlags().MarkHidden("skip_log_headers")
	mainCmd.PersistentFlags().MarkHidden("log_backtrace_at")
	mainCmd.PersistentFlags().MarkHidden("log_dir")
	mainCmd.PersistentFlags().MarkHidden("vmodule")

	flag.CommandLine.Parse([]string{})
	viper.BindPFlags(mainCmd.PersistentFlags())

	mainCmd.RunE = runServe
}

func main() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		s := <-sigs
		klog.V(1).Infof("exiting on signal %v", s)
		cancel()
		<-time.After(1 * time.Second)
		os.Exit(1)
	}()

	if err := mainCmd.ExecuteContext(ctx); err != nil {
		klog.ErrorS(err, "unable to execute command")
		os.Exit(1)
	}
}
