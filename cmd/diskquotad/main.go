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
	dsn              = ""
	segmentEndpoints = ""
	naptimeSeconds   = int(consts.DefaultNaptime / time.Second)
	maxActiveTables  = consts.DefaultMaxActiveTables
	maxMonitoredDBs  = consts.MaxNumMonitoredDB
	metricsAddr      = ""
)

var mainCmd = &cobra.Command{
	Use:           consts.AppName + "d",
	Short:         "Run the " + consts.AppPrettyName + " coordinator, or invoke its management functions",
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

	mainCmd.PersistentFlags().StringVar(&dsn, "dsn", dsn, "Persistence DSN (postgres://... in production; sqlite file path for a single-process deployment)")
	mainCmd.PersistentFlags().StringVar(&segmentEndpoints, "segment-endpoints", segmentEndpoints, "Comma-separated list of segment FetchTableStat endpoints, ordered by segment id")
	mainCmd.PersistentFlags().IntVar(&naptimeSeconds, "naptime", naptimeSeconds, "Seconds a worker sleeps between epochs")
	mainCmd.PersistentFlags().IntVar(&maxActiveTables, "max-active-tables", maxActiveTables, "Capacity of the active-table map")
	mainCmd.PersistentFlags().IntVar(&maxMonitoredDBs, "max-monitored-databases", maxMonitoredDBs, "Maximum concurrently monitored databases")
	mainCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", metricsAddr, "Listen address for the Prometheus metrics handler")

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

	mainCmd.AddCommand(serveCmd)
	mainCmd.AddCommand(setSchemaQuotaCmd)
	mainCmd.AddCommand(setRoleQuotaCmd)
	mainCmd.AddCommand(setSchemaTablespaceQuotaCmd)
	mainCmd.AddCommand(setRoleTablespaceQuotaCmd)
	mainCmd.AddCommand(setPerSegmentQuotaCmd)
	mainCmd.AddCommand(pauseCmd)
	mainCmd.AddCommand(resumeCmd)
	mainCmd.AddCommand(initTableSizeTableCmd)
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
