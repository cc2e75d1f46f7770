package commit

import (
	"encoding/binary"
	"hash/fnv"
	"runtime"

	"github.com/coredb/txncore/pkg/coordif"
	"github.com/coredb/txncore/pkg/keyinfo"
	"github.com/coredb/txncore/pkg/txnpb"
)

const backupPartSize = 500

// cacheTag is the well-known tag storage-side read caches subscribe
// to for invalidation, added to a mutation's tag set whenever it
// touches a shard marked ShardInfo.Cached (spec.md §4.2 phase 3
// "also add a cache-tag if the key is marked cached").
const cacheTag txnpb.Tag = "\xff\xff/cacheTag"

// tagMutations converts every committed transaction's mutations into
// storage-server-tagged log messages, yielding cooperatively every
// DesiredTotalBytesYield bytes processed (spec.md §4.2 phase 3 "Tag
// mutations for storage servers... yield cooperatively so a single huge
// batch doesn't stall the goroutine"), and intercepts mutations falling
// inside an active backup range into separate block-partitioned backup
// messages.
func (p *Pipeline) tagMutations(txns []*txnpb.Transaction, status []txnpb.CommitStatus, commitVersion txnpb.Version) []coordif.LogMessage {
	backupRanges := p.store.BackupRanges()
	backups := map[int][]txnpb.Mutation{}

	var msgs []coordif.LogMessage
	var bytesSinceYield int64

	for i, txn := range txns {
		if status[i] != txnpb.StatusCommitted {
			continue
		}
		for j := range txn.Mutations {
			m := &txn.Mutations[j]
			msgs = append(msgs, p.tagOne(m)...)

			for bi, br := range backupRanges {
				if m.Kind == txnpb.MutationClearRange {
					if clipped, ok := br.Intersect(txnpb.KeyRange{Begin: m.Key, End: m.End}); ok {
						backups[bi] = append(backups[bi], txnpb.Mutation{Kind: m.Kind, Key: clipped.Begin, End: clipped.End})
					}
				} else if br.Contains(m.Key) {
					backups[bi] = append(backups[bi], *m)
				}
			}

			bytesSinceYield += int64(len(m.Key)) + int64(len(m.End)) + int64(len(m.Value)) + 16
			if bytesSinceYield >= p.cfg.DesiredTotalBytesYield {
				runtime.Gosched()
				bytesSinceYield = 0
			}
		}
	}

	for bi, muts := range backups {
		msgs = append(msgs, backupMessages(backupRanges[bi], muts, commitVersion)...)
	}

	return msgs
}

func (p *Pipeline) tagOne(m *txnpb.Mutation) []coordif.LogMessage {
	switch m.Kind {
	case txnpb.MutationClearRange:
		var union keyinfo.ServerSet
		var tags []txnpb.Tag
		single := true
		n := 0
		cached := false
		p.store.Shards().Intersecting(txnpb.KeyRange{Begin: m.Key, End: m.End}, func(_ txnpb.KeyRange, info *keyinfo.ShardInfo) bool {
			n++
			if n == 1 {
				tags = info.Tags()
			} else {
				single = false
			}
			union = union.Union(keyinfo.NewServerSet(info.Tags()...))
			cached = cached || info.Cached
			return true
		})
		if !single {
			tags = union.Tags()
		}
		if cached {
			tags = append(append([]txnpb.Tag{}, tags...), cacheTag)
		}
		return []coordif.LogMessage{{Tags: tags, Data: encodeMutation(m)}}
	default:
		var tags []txnpb.Tag
		if info := p.store.Shards().Lookup(m.Key); info != nil {
			tags = info.Tags()
			if info.Cached {
				tags = append(append([]txnpb.Tag{}, tags...), cacheTag)
			}
		}
		return []coordif.LogMessage{{Tags: tags, Data: encodeMutation(m)}}
	}
}

// encodeMutation gives phase 3's log messages a minimal self-describing
// payload; the actual wire format storage servers decode is out of
// scope (spec.md §1 "wire-level details belong to collaborators").
func encodeMutation(m *txnpb.Mutation) []byte {
	buf := make([]byte, 0, 9+len(m.Key)+len(m.End)+len(m.Value))
	buf = append(buf, byte(m.Kind))
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(m.Key)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, m.Key...)
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(m.End)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, m.End...)
	buf = append(buf, m.Value...)
	return buf
}

// backupMessages splits muts into fixed-size parts, each addressed by
// (hash(commitVersion), bigEndian(commitVersion), bigEndian(part)) so a
// backup consumer can order and dedupe them (spec.md §4.2 phase 3
// "Backup interception... block-partitioned backup messages").
func backupMessages(dest txnpb.KeyRange, muts []txnpb.Mutation, commitVersion txnpb.Version) []coordif.LogMessage {
	var msgs []coordif.LogMessage
	for i := 0; i < len(muts); i += backupPartSize {
		end := i + backupPartSize
		if end > len(muts) {
			end = len(muts)
		}
		msgs = append(msgs, coordif.LogMessage{
			Tags: []txnpb.Tag{backupTag(dest)},
			Data: encodeBackupPart(commitVersion, uint32(i/backupPartSize), muts[i:end]),
		})
	}
	return msgs
}

func backupTag(dest txnpb.KeyRange) txnpb.Tag {
	return txnpb.Tag("backup:" + string(dest.Begin))
}

func encodeBackupPart(commitVersion txnpb.Version, part uint32, muts []txnpb.Mutation) []byte {
	h := fnv.New64a()
	var vb [8]byte
	binary.BigEndian.PutUint64(vb[:], uint64(commitVersion))
	h.Write(vb[:])

	buf := make([]byte, 0, 20)
	buf = append(buf, h.Sum(nil)...)
	buf = append(buf, vb[:]...)
	var pb [4]byte
	binary.BigEndian.PutUint32(pb[:], part)
	buf = append(buf, pb[:]...)
	for i := range muts {
		buf = append(buf, encodeMutation(&muts[i])...)
	}
	return buf
}
