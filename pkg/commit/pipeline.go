package commit

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/coredb/txncore/pkg/coordif"
	"github.com/coredb/txncore/pkg/keyinfo"
	"github.com/coredb/txncore/pkg/resolve"
	"github.com/coredb/txncore/pkg/settings"
	"github.com/coredb/txncore/pkg/txnpb"
	"github.com/coredb/txncore/pkg/txnstate"
	"github.com/coredb/txncore/pkg/util/log"
	"github.com/coredb/txncore/pkg/util/metric"
	"github.com/coredb/txncore/pkg/util/timeutil"
)

// databaseLockedKey is the synthetic read-conflict target a txn-state
// transaction without lock-awareness gets appended (spec.md §4.2 phase
// 2: "If marked txn-state but not lock-aware, synthesize a
// read-conflict range on the database-locked key").
var databaseLockedKey = txnpb.Key("\xff/locked")

// Pipeline drives commit batches through all five phases (spec.md
// §4.2). Successive batches may have their phases interleaved; the two
// Watermarks enforce the ordering guarantees spec.md §5 requires.
type Pipeline struct {
	cfg   settings.CommitConfig
	clock timeutil.TimeSource

	master      coordif.Master
	resolvers   []coordif.Resolver
	resolverMap *keyinfo.ResolverMap
	logSystem   coordif.LogSystem
	store       *txnstate.Store

	intake  *Intake
	compute *computeTracker

	resolving *Watermark // latestLocalCommitBatchResolving
	logging   *Watermark // latestLocalCommitBatchLogging
	committed *Watermark // committedVersion, advanced only monotonically

	commitLatency *metric.EMA

	requestNum  uint64
	lastVersion txnpb.Version
	batchIndex  int64

	firstBatch int32 // 1 once the first batch has resynced the log adapter

	onFatal func(error)
}

// Config bundles Pipeline's dependencies.
type Config struct {
	Settings    settings.CommitConfig
	Clock       timeutil.TimeSource
	Master      coordif.Master
	Resolvers   []coordif.Resolver
	ResolverMap *keyinfo.ResolverMap
	LogSystem   coordif.LogSystem
	Store       *txnstate.Store
	Intake      *Intake
	Registry    *metric.Registry
	OnFatal     func(error)
}

// NewPipeline constructs a Pipeline from cfg.
func NewPipeline(cfg Config) *Pipeline {
	return &Pipeline{
		cfg:           cfg.Settings,
		clock:         cfg.Clock,
		master:        cfg.Master,
		resolvers:     cfg.Resolvers,
		resolverMap:   cfg.ResolverMap,
		logSystem:     cfg.LogSystem,
		store:         cfg.Store,
		intake:        cfg.Intake,
		compute:       newComputeTracker(cfg.Settings, cfg.Registry),
		resolving:     NewWatermark(-1),
		logging:       NewWatermark(-1),
		committed:     NewWatermark(0),
		commitLatency: cfg.Registry.NewEMA("commit_latency_ms", 10),
		lastVersion:   txnpb.InvalidVersion,
		onFatal:       cfg.OnFatal,
	}
}

// Run drives the intake loop until ctx is cancelled, spawning one
// goroutine per batch so later batches' early phases can run
// concurrently with earlier batches' later phases (spec.md §4.2 "Multiple
// batches overlap: phase N of batch K+1 may run concurrently with phase
// M>=N of batch K").
func (p *Pipeline) Run(ctx context.Context) {
	for {
		reqs, ok := p.intake.Next(ctx)
		if !ok {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		k := atomic.AddInt64(&p.batchIndex, 1) - 1
		go p.runBatch(ctx, k, reqs)
	}
}

func (p *Pipeline) nextRequestNum() uint64 {
	p.requestNum++
	return p.requestNum
}

func (p *Pipeline) failAll(reqs []*Request, err error) {
	for _, r := range reqs {
		send(r, Reply{Err: err})
	}
}

func totalOperations(reqs []*Request) int {
	n := 0
	for _, r := range reqs {
		n += len(r.Txn.Mutations) + len(r.Txn.ReadConflictRanges) + len(r.Txn.WriteConflictRanges)
	}
	return n
}

func (p *Pipeline) runBatch(ctx context.Context, k int64, reqs []*Request) {
	start := p.clock.Now()

	// Phase 1 -- pre-resolution.
	if err := p.resolving.WaitAtLeast(ctx, k-1); err != nil {
		p.failAll(reqs, err)
		return
	}
	delay := p.compute.ReleaseDelay(totalOperations(reqs))

	cvReply, err := p.master.GetCommitVersion(ctx, p.nextRequestNum(), p.lastVersion)
	if err != nil {
		log.Errorf(ctx, "commit batch %d: master unreachable: %v", k, err)
		p.failAll(reqs, txnpb.ErrMasterTLogFailed)
		if p.onFatal != nil {
			p.onFatal(txnpb.ErrMasterTLogFailed)
		}
		return
	}
	p.lastVersion = cvReply.Version
	for _, rc := range cvReply.ResolverChanges {
		p.resolverMap.ApplyChange(rc.Range, rc.Version, rc.ResolverID)
	}

	// Releasing the token lets batch K+1 begin phase 1 without waiting
	// for this batch's resolution to finish (spec.md §4.2 phase 1
	// "Schedule a release-delay token...", phase 2 "Release the delay
	// token concurrently to allow the next batch to start phase 1").
	go func() {
		if delay > 0 {
			timer := p.clock.NewTimer(delay)
			select {
			case <-timer.C():
			case <-ctx.Done():
				timer.Stop()
			}
		}
		p.resolving.Advance(k)
	}()

	txns := make([]*txnpb.Transaction, len(reqs))
	for i, r := range reqs {
		txns[i] = r.Txn
	}

	// Phase 2 -- resolution.
	prepareVersionstamps(txns, cvReply.Version)
	prepareLockAwareness(txns)

	plan := resolve.Build(txns, p.resolverMap, func(i int) txnpb.Version { return txns[i].ReadVersion })
	outcome, err := resolve.Dispatch(ctx, plan, p.resolvers, cvReply.PrevVersion, cvReply.Version, int64(k), len(txns))
	if err != nil {
		log.Errorf(ctx, "commit batch %d: resolver fan-out failed: %v", k, err)
		p.failAll(reqs, txnpb.ErrMasterTLogFailed)
		if p.onFatal != nil {
			p.onFatal(txnpb.ErrMasterTLogFailed)
		}
		return
	}

	// Phase 3 -- post-resolution.
	if err := p.logging.WaitAtLeast(ctx, k-1); err != nil {
		p.failAll(reqs, err)
		return
	}

	if err := p.applyPriorMetadataEffects(outcome, len(plan.Resolvers())); err != nil {
		log.Warningf(ctx, "commit batch %d: applying prior metadata effects: %v", k, err)
	}
	if atomic.CompareAndSwapInt32(&p.firstBatch, 0, 1) {
		// spec.md §4.2 phase 3: "On the very first batch, resync the log
		// adapter and acknowledge pending store commits." Resolvers and
		// the log system are external collaborators; txncore's half of
		// that handshake is simply noting the transition has happened.
		log.Infof(ctx, "commit pipeline: first batch, resyncing log adapter")
		p.store.SetReady()
	}

	status := p.determineStatus(outcome.Status, txns, cvReply.Version)

	locked, err := p.store.Locked()
	if err != nil {
		log.Warningf(ctx, "commit batch %d: reading lock state: %v", k, err)
	}
	for i, txn := range txns {
		if status[i] == txnpb.StatusCommitted && locked && !txn.Flags.LockAware {
			status[i] = txnpb.StatusConflict
		}
	}

	if err := p.applyBatchMetadataMutations(txns, status, cvReply.Version); err != nil {
		log.Warningf(ctx, "commit batch %d: applying metadata mutations: %v", k, err)
	}

	messages := p.tagMutations(txns, status, cvReply.Version)

	if err := awaitMVCCWindow(ctx, p.committed, cvReply.Version, p.cfg.MaxReadTransactionLifeVersionsMVCCWindow); err != nil {
		p.failAll(reqs, err)
		return
	}

	// txncore models a single commit proxy per spec.md §5's
	// single-threaded-per-role process, so the minimum known committed
	// version across commit proxies (spec.md §4.2 phase 3, phase 5)
	// degenerates to this proxy's own committedVersion watermark: there
	// is no second proxy whose lower value it would otherwise need to
	// track.
	minKnownCommittedVersion := txnpb.Version(p.committed.Value())
	push := coordif.PushRequest{
		PrevVersion:              cvReply.PrevVersion,
		Version:                  cvReply.Version,
		CommittedVersion:         minKnownCommittedVersion,
		MinKnownCommittedVersion: minKnownCommittedVersion,
		Messages:                 messages,
	}
	p.logging.Advance(k)
	p.compute.RecordObserved(totalOperations(reqs), p.clock.Now().Sub(start))

	// Phase 4 -- logging.
	_, err = p.logSystem.Push(ctx, push)
	if err != nil {
		log.Errorf(ctx, "commit batch %d: log push failed: %v", k, err)
		p.failAll(reqs, txnpb.ErrMasterTLogFailed)
		if p.onFatal != nil {
			p.onFatal(txnpb.ErrMasterTLogFailed)
		}
		return
	}
	latency := p.clock.Now().Sub(start)
	p.commitLatency.Add(float64(latency.Milliseconds()))

	// Phase 5 -- reply.
	metadataVersion, err := p.store.MetadataVersion()
	if err != nil {
		log.Warningf(ctx, "commit batch %d: reading metadata version: %v", k, err)
	}
	if int64(cvReply.Version) >= p.committed.Value() {
		if err := p.master.ReportRawCommittedVersion(ctx, cvReply.Version, locked, metadataVersion, minKnownCommittedVersion); err != nil {
			log.Errorf(ctx, "commit batch %d: reporting raw committed version failed: %v", k, err)
		}
		p.committed.Advance(int64(cvReply.Version))
	}

	p.replyAll(reqs, status, outcome.ConflictingRanges, cvReply.Version, metadataVersion)
	p.intake.RecordBatchDuration(p.clock.Now().Sub(start))
	p.resolverMap.Coalesce(cvReply.PrevVersion - txnpb.Version(p.cfg.MaxWriteTransactionLifeVersions))
}

// LastCommitLatency returns the most recently observed end-to-end
// commit latency. Nothing in this repository passes it to
// epochlive.Confirmer.RecordCommitLatency, so the confirmer's interval
// does not depend on it.
func (p *Pipeline) LastCommitLatency() time.Duration {
	return time.Duration(p.commitLatency.Value()) * time.Millisecond
}
