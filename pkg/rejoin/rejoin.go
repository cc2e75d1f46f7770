// Package rejoin implements the Storage-Server Rejoin handler (spec.md
// §4.5): a storage server that (re)connects to the cluster reports its
// server id and current locality, and gets back the tag it should use
// to receive log messages.
package rejoin

import (
	"context"
	"sync"

	"github.com/coredb/txncore/pkg/txnpb"
)

// Record is one storage server's persisted tag-assignment state.
type Record struct {
	ID         string
	Tag        int32
	Locality   int32
	TagHistory []int32
}

// Server tracks every storage server the data distributor has ever
// registered, and answers Rejoin calls against that persisted state.
type Server struct {
	mu sync.Mutex

	byID              map[string]*Record
	usedTagsByLocality map[int32]map[int32]struct{}
	nextLocality      int32
}

// NewServer constructs an empty Server; servers must be registered
// (via Register, driven by the data distributor's server-recruitment
// flow, which is out of scope here) before they can rejoin.
func NewServer() *Server {
	return &Server{
		byID:               map[string]*Record{},
		usedTagsByLocality: map[int32]map[int32]struct{}{},
	}
}

// Register persists a newly recruited server id at locality, assigning
// it the next unused tag within that locality (tag 0 if the locality
// itself is new).
func (s *Server) Register(id string, locality int32) *Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	used, ok := s.usedTagsByLocality[locality]
	if !ok {
		used = map[int32]struct{}{}
		s.usedTagsByLocality[locality] = used
		if locality >= s.nextLocality {
			s.nextLocality = locality + 1
		}
	}
	tag := smallestUnused(used)
	used[tag] = struct{}{}

	rec := &Record{ID: id, Tag: tag, Locality: locality}
	s.byID[id] = rec
	return rec
}

// Rejoin looks up id's persisted record and, if reportedLocality
// differs from what is on file, reassigns its tag (spec.md §4.5: "If
// locality changed, pick the smallest unused tag id within the new
// locality. If locality is new, assign next locality id, tag 0."). Fails
// with worker_removed if id was never registered.
func (s *Server) Rejoin(ctx context.Context, id string, reportedLocality int32) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return Record{}, txnpb.ErrWorkerRemoved
	}
	if rec.Locality == reportedLocality {
		return *rec, nil
	}

	used, seen := s.usedTagsByLocality[reportedLocality]
	rec.TagHistory = append(rec.TagHistory, rec.Tag)
	rec.Locality = reportedLocality
	if !seen {
		used = map[int32]struct{}{}
		s.usedTagsByLocality[reportedLocality] = used
		s.nextLocality++
		rec.Tag = 0
	} else {
		rec.Tag = smallestUnused(used)
	}
	used[rec.Tag] = struct{}{}
	return *rec, nil
}

func smallestUnused(used map[int32]struct{}) int32 {
	var tag int32
	for {
		if _, ok := used[tag]; !ok {
			return tag
		}
		tag++
	}
}
