// Command grv-server runs a standalone GRV proxy. Absent a wired
// gRPC transport (wire-level framing is explicitly out of scope, see
// spec.md §6), it drives the GRV pipeline against in-memory
// collaborator fakes, which is enough to exercise the whole pipeline
// (queueing, admission, rate limiting, epoch-live gating) end to end
// in a single process for development and load testing.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/coredb/txncore/pkg/coordif"
	"github.com/coredb/txncore/pkg/grv"
	"github.com/coredb/txncore/pkg/settings"
	"github.com/coredb/txncore/pkg/util/log"
	"github.com/coredb/txncore/pkg/util/metric"
	"github.com/coredb/txncore/pkg/util/stop"
	"github.com/coredb/txncore/pkg/util/timeutil"
)

var proxyID string

func main() {
	root := &cobra.Command{
		Use:   "grv-server",
		Short: "run a standalone GRV proxy",
		RunE:  runStart,
	}
	root.Flags().StringVar(&proxyID, "proxy-id", "grv-1", "identifier this proxy reports to the rate-keeper")
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runStart(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := settings.Default()
	reg := metric.NewRegistry()
	stopper := stop.NewStopper(ctx)
	defer stopper.Stop()

	master := coordif.NewFakeMaster(1)
	logSystem := coordif.NewFakeLogSystem()
	rateKeeper := coordif.NewFakeRateKeeper(10000, 1000)

	srv := grv.NewServer(cfg, proxyID, master, logSystem, rateKeeper, timeutil.RealTimeSource, reg, stopper)
	_ = srv

	log.Infof(ctx, "grv-server %s started", proxyID)
	<-ctx.Done()
	log.Infof(ctx, "grv-server %s shutting down", proxyID)
	return nil
}
