// Command commit-server runs a standalone commit proxy. As with
// grv-server, wire-level transport is out of scope (spec.md §6), so
// this binary wires the commit pipeline to in-memory resolver, master,
// and log-system fakes to exercise the full five-phase pipeline in a
// single process.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/coredb/txncore/pkg/commit"
	"github.com/coredb/txncore/pkg/coordif"
	"github.com/coredb/txncore/pkg/keyinfo"
	"github.com/coredb/txncore/pkg/settings"
	"github.com/coredb/txncore/pkg/txnstate"
	"github.com/coredb/txncore/pkg/util/log"
	"github.com/coredb/txncore/pkg/util/metric"
	"github.com/coredb/txncore/pkg/util/stop"
	"github.com/coredb/txncore/pkg/util/timeutil"
)

var numResolvers int

func main() {
	root := &cobra.Command{
		Use:   "commit-server",
		Short: "run a standalone commit proxy",
		RunE:  runStart,
	}
	root.Flags().IntVar(&numResolvers, "resolvers", 1, "number of resolver shards to fan commit batches out to")
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

	store, err := txnstate.Open()
	if err != nil {
		return err
	}
	defer store.Close()

	master := coordif.NewFakeMaster(1)
	logSystem := coordif.NewFakeLogSystem()

	resolvers := make([]coordif.Resolver, numResolvers)
	for i := range resolvers {
		resolvers[i] = coordif.NewFakeResolver(keyinfo.ResolverID(i))
	}
	resolverMap := keyinfo.NewResolverMap(keyinfo.ResolverID(0))

	const memLimit = 1 << 30
	srv := commit.NewServer(cfg, master, resolvers, resolverMap, logSystem, store, timeutil.RealTimeSource, reg, memLimit, stopper)
	_ = srv

	log.Infof(ctx, "commit-server started with %d resolvers", numResolvers)
	<-ctx.Done()
	log.Infof(ctx, "commit-server shutting down")
	return nil
}
