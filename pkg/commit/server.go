package commit

import (
	"context"

	"github.com/coredb/txncore/pkg/coordif"
	"github.com/coredb/txncore/pkg/keyinfo"
	"github.com/coredb/txncore/pkg/settings"
	"github.com/coredb/txncore/pkg/txnpb"
	"github.com/coredb/txncore/pkg/txnstate"
	"github.com/coredb/txncore/pkg/util/log"
	"github.com/coredb/txncore/pkg/util/metric"
	"github.com/coredb/txncore/pkg/util/stop"
	"github.com/coredb/txncore/pkg/util/timeutil"
)

// Server is the commit proxy's client-facing surface: intake plus the
// background pipeline goroutine, matching how grv.Server wraps its
// batch loop (spec.md §4.2).
type Server struct {
	intake   *Intake
	pipeline *Pipeline
}

// NewServer wires an Intake and Pipeline together and starts the
// pipeline's driving loop under stopper.
func NewServer(cfg settings.Config, master coordif.Master, resolvers []coordif.Resolver, resolverMap *keyinfo.ResolverMap, ls coordif.LogSystem, store *txnstate.Store, clock timeutil.TimeSource, reg *metric.Registry, memLimit int64, stopper *stop.Stopper) *Server {
	intake := NewIntake(cfg.Commit, clock, reg, memLimit)
	pipeline := NewPipeline(Config{
		Settings:    cfg.Commit,
		Clock:       clock,
		Master:      master,
		Resolvers:   resolvers,
		ResolverMap: resolverMap,
		LogSystem:   ls,
		Store:       store,
		Intake:      intake,
		Registry:    reg,
		OnFatal:     stopper.Fatal,
	})

	s := &Server{intake: intake, pipeline: pipeline}
	stopper.RunTask(func(ctx context.Context) { pipeline.Run(ctx) })
	return s
}

// Commit is the client-facing entrypoint: submit a transaction to the
// current intake batch and wait for its reply.
func (s *Server) Commit(ctx context.Context, txn *txnpb.Transaction) (Reply, error) {
	req := &Request{Txn: txn}
	reply, err := SendCtx(ctx, s.intake, req)
	if err != nil {
		return Reply{}, err
	}
	if reply.Err != nil {
		log.Warningf(ctx, "commit failed: %v", reply.Err)
	}
	return reply, reply.Err
}

// LastCommitLatency exposes the pipeline's most recently observed
// commit latency in milliseconds. No component reads it: it is not fed
// to the epoch-live confirmer or to health reporting.
func (s *Server) LastCommitLatency() (d int64) {
	return s.pipeline.LastCommitLatency().Milliseconds()
}
