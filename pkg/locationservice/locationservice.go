// Package locationservice serves the key-server location service
// (spec.md §4.4): client lookups of which storage-server interfaces own
// a key or key range, plus the small set of peer/administrative queries
// spec.md §6 groups alongside it (ExclusionSafetyCheck, SnapRequest).
package locationservice

import (
	"context"
	"sync/atomic"

	"github.com/coredb/txncore/pkg/keyinfo"
	"github.com/coredb/txncore/pkg/settings"
	"github.com/coredb/txncore/pkg/txnpb"
	"github.com/coredb/txncore/pkg/txnstate"
)

// Location is one contiguous key range and the storage-server tags that
// own it, as returned to a client's GetKeyServerLocations call.
type Location struct {
	Range txnpb.KeyRange
	Tags  []txnpb.Tag
}

// Server serves location and cluster-membership queries against the
// txn-state store's shard map, admission-limited the same way GRV
// limits in-flight requests (spec.md §4.4 "Rate-limits by the same
// queue cap as GRV requests").
type Server struct {
	cap      int32
	inFlight int32
	store    *txnstate.Store
}

// NewServer constructs a Server bound to store, using cfg's GRV queue
// cap as its own admission bound.
func NewServer(cfg settings.GRVConfig, store *txnstate.Store) *Server {
	return &Server{cap: int32(cfg.QueueSizeCap), store: store}
}

func (s *Server) admit() (func(), error) {
	for {
		cur := atomic.LoadInt32(&s.inFlight)
		if cur >= s.cap {
			return nil, txnpb.ErrQueueOverflow
		}
		if atomic.CompareAndSwapInt32(&s.inFlight, cur, cur+1) {
			return func() { atomic.AddInt32(&s.inFlight, -1) }, nil
		}
	}
}

func (s *Server) checkReady() error {
	if !s.store.Ready() {
		return txnpb.ErrTxnStateNotReady
	}
	return nil
}

// GetKeyServerLocations returns up to limit contiguous Locations
// starting at begin (or ending at end, scanning backward, if reverse is
// set), honoring end as an optional upper (or, when reverse, lower)
// bound (spec.md §4.4 "Honors limit, forward/reverse direction, and end
// optional").
func (s *Server) GetKeyServerLocations(ctx context.Context, begin, end txnpb.Key, limit int, reverse bool) ([]Location, error) {
	if err := s.checkReady(); err != nil {
		return nil, err
	}
	release, err := s.admit()
	if err != nil {
		return nil, err
	}
	defer release()

	rng := txnpb.KeyRange{Begin: begin, End: end}
	var out []Location
	if reverse {
		// Intersecting only walks forward in ascending key order, so a
		// reverse scan cannot stop early at limit: the last limit shards
		// in the range are only known once the whole range has been
		// walked. Collect everything, keep the trailing limit shards,
		// then reverse those into descending order.
		s.store.Shards().Intersecting(rng, func(r txnpb.KeyRange, info *keyinfo.ShardInfo) bool {
			out = append(out, Location{Range: r, Tags: info.Tags()})
			return true
		})
		if limit > 0 && len(out) > limit {
			out = out[len(out)-limit:]
		}
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
		return out, nil
	}
	s.store.Shards().Intersecting(rng, func(r txnpb.KeyRange, info *keyinfo.ShardInfo) bool {
		out = append(out, Location{Range: r, Tags: info.Tags()})
		return limit <= 0 || len(out) < limit
	})
	return out, nil
}

// ExclusionSafetyCheck reports whether it is safe to exclude every
// address in addrs from the cluster, i.e. none of them are currently
// coordinators (excluding a coordinator risks losing quorum).
func (s *Server) ExclusionSafetyCheck(ctx context.Context, addrs []string) (bool, error) {
	if err := s.checkReady(); err != nil {
		return false, err
	}
	release, err := s.admit()
	if err != nil {
		return false, err
	}
	defer release()

	coordinators := make(map[string]struct{}, len(s.store.Coordinators()))
	for _, c := range s.store.Coordinators() {
		coordinators[c] = struct{}{}
	}
	for _, a := range addrs {
		if _, ok := coordinators[a]; ok {
			return false, nil
		}
	}
	return true, nil
}

// SnapReply is the answer to a SnapRequest: a consistent point-in-time
// description of the metadata a backup coordinator needs to correlate
// its own snapshot against this cluster's version history.
type SnapReply struct {
	MetadataVersion txnpb.Version
	BackupRanges    []txnpb.KeyRange
}

// SnapRequest answers an external backup/snapshot coordinator's request
// for the current metadata version and active backup ranges (spec.md
// §6 lists SnapRequest as served to clients and peers; the original
// system uses it to let an external snapshot tool checkpoint against a
// known-consistent metadata version).
func (s *Server) SnapRequest(ctx context.Context) (SnapReply, error) {
	if err := s.checkReady(); err != nil {
		return SnapReply{}, err
	}
	release, err := s.admit()
	if err != nil {
		return SnapReply{}, err
	}
	defer release()

	version, err := s.store.MetadataVersion()
	if err != nil {
		return SnapReply{}, err
	}
	return SnapReply{MetadataVersion: version, BackupRanges: s.store.BackupRanges()}, nil
}
