// Package txnstate implements the transaction-state store (spec.md §3
// "Transaction-state store"): a lock-serialized key-value store holding
// system metadata (shard map, locked flag, metadata-version,
// coordinators, server tags, backup ranges). It is modified only by
// metadata mutations the commit pipeline applies after resolution; GRV
// and location-service handlers only ever read it.
//
// The store itself owns no files (spec.md §5 "Persisted state is
// entirely inside the log and txn-state store; the core owns no
// files"): durability is the log system's job, and this package's
// pebble instance is backed by an in-memory vfs, giving the commit
// pipeline a real sorted KV engine to apply mutations against without
// the core managing any on-disk state of its own.
package txnstate

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/coredb/txncore/pkg/keyinfo"
	"github.com/coredb/txncore/pkg/txnpb"
)

// wellKnownKey names the handful of metadata keys the store treats
// specially, mirroring FoundationDB's \xff-prefixed system keyspace
// singletons.
type wellKnownKey string

const (
	keyLocked          wellKnownKey = "\xff/locked"
	keyMetadataVersion wellKnownKey = "\xff/metadataVersion"
)

// Store is the transaction-state store. Every mutating method must
// only be called from the commit pipeline's single goroutine per
// resolver-0 shard (spec.md §5 "Shared resource policy"); reads are
// safe from any goroutine.
type Store struct {
	mu sync.RWMutex
	db *pebble.DB

	shards      *keyinfo.KeyInfoMap
	coordinators []string
	backupRanges []txnpb.KeyRange

	ready int32
}

// Open constructs a Store backed by a fresh in-memory pebble instance.
func Open() (*Store, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, err
	}
	return &Store{db: db, shards: keyinfo.NewKeyInfoMap()}, nil
}

// Close releases the underlying pebble instance.
func (s *Store) Close() error {
	return s.db.Close()
}

// Locked reports whether the database is currently locked, gating
// commit phase 3's lock-compatibility check (spec.md §4.2 phase 3 "Lock
// compatibility").
func (s *Store) Locked() (bool, error) {
	v, closer, err := s.db.Get([]byte(keyLocked))
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer closer.Close()
	return len(v) > 0 && v[0] != 0, nil
}

// SetLocked applies a lock-state metadata mutation.
func (s *Store) SetLocked(locked bool) error {
	v := []byte{0}
	if locked {
		v[0] = 1
	}
	return s.db.Set([]byte(keyLocked), v, pebble.NoSync)
}

// MetadataVersion returns the current metadata-version stamp, attached
// to GRV replies so clients can detect metadata changes cheaply
// (spec.md §4.1 "Reply").
func (s *Store) MetadataVersion() (txnpb.Version, error) {
	v, closer, err := s.db.Get([]byte(keyMetadataVersion))
	if err == pebble.ErrNotFound {
		return txnpb.InvalidVersion, nil
	}
	if err != nil {
		return 0, err
	}
	defer closer.Close()
	return decodeVersion(v), nil
}

// SetMetadataVersion stamps the metadata-version key with version,
// applied whenever a committed batch's mutations change metadata.
func (s *Store) SetMetadataVersion(version txnpb.Version) error {
	return s.db.Set([]byte(keyMetadataVersion), encodeVersion(version), pebble.NoSync)
}

func encodeVersion(v txnpb.Version) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

func decodeVersion(b []byte) txnpb.Version {
	var v txnpb.Version
	for _, c := range b {
		v = v<<8 | txnpb.Version(c)
	}
	return v
}

// Ready reports whether the commit pipeline has signaled that the
// store's contents reflect at least one applied batch, gating GRV and
// read-request handlers that must not observe a store still in its
// pre-first-batch state (spec.md §5 "Shared resource policy": "after
// validity is signaled").
func (s *Store) Ready() bool { return atomic.LoadInt32(&s.ready) == 1 }

// SetReady marks the store valid for readers. Idempotent; called once
// by the commit pipeline after its first batch's metadata mutations are
// applied.
func (s *Store) SetReady() { atomic.StoreInt32(&s.ready, 1) }

// Shards returns the shard map (key-info map) the store maintains
// alongside its raw KV data, used by phase 3's storage-server tag
// routing and the location service.
func (s *Store) Shards() *keyinfo.KeyInfoMap { return s.shards }

// Coordinators returns the current coordinator address list.
func (s *Store) Coordinators() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.coordinators))
	copy(out, s.coordinators)
	return out
}

// SetCoordinators replaces the coordinator address list, applied by a
// metadata mutation targeting the coordinators key.
func (s *Store) SetCoordinators(addrs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coordinators = append([]string(nil), addrs...)
}

// BackupRanges returns the key ranges currently under active backup
// (spec.md §4.2 phase 3 "Backup interception").
func (s *Store) BackupRanges() []txnpb.KeyRange {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]txnpb.KeyRange, len(s.backupRanges))
	copy(out, s.backupRanges)
	return out
}

// SetBackupRanges replaces the active backup range set.
func (s *Store) SetBackupRanges(ranges []txnpb.KeyRange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backupRanges = append([]txnpb.KeyRange(nil), ranges...)
}

// Apply writes a raw metadata Set/ClearRange mutation to the pebble
// instance; atomic and versionstamped mutations are pre-resolved to a
// Set or discarded before reaching here (spec.md §4.2 phase 3 "Apply
// this batch's metadata mutations").
func (s *Store) Apply(m txnpb.Mutation) error {
	switch m.Kind {
	case txnpb.MutationSet:
		return s.db.Set(m.Key, m.Value, pebble.NoSync)
	case txnpb.MutationClearRange:
		return s.db.DeleteRange(m.Key, m.End, pebble.NoSync)
	default:
		return nil
	}
}

// ApplyBatch applies every mutation in ms as one pebble batch, so a
// state-mutation group's effects become visible atomically to
// concurrent readers of Locked/MetadataVersion.
func (s *Store) ApplyBatch(ms []txnpb.Mutation) error {
	b := s.db.NewBatch()
	defer b.Close()
	for _, m := range ms {
		switch m.Kind {
		case txnpb.MutationSet:
			if err := b.Set(m.Key, m.Value, nil); err != nil {
				return err
			}
		case txnpb.MutationClearRange:
			if err := b.DeleteRange(m.Key, m.End, nil); err != nil {
				return err
			}
		}
	}
	return b.Commit(pebble.NoSync)
}
