package txnpb

import "encoding/binary"

// MutationKind discriminates the Mutation sum type. Dispatch on Kind is
// the hot path through phase 3's tagging logic, so txnpb models
// mutations as a tagged struct with a visitor rather than an interface
// with virtual dispatch (spec.md §9 "Dynamic dispatch over mutation
// kinds... avoid vtables since mutation dispatch is the hot path").
type MutationKind uint8

const (
	MutationSet MutationKind = iota
	MutationClearRange
	MutationAtomic
	MutationSetVersionstampedKey
	MutationSetVersionstampedValue
)

func (k MutationKind) String() string {
	switch k {
	case MutationSet:
		return "Set"
	case MutationClearRange:
		return "ClearRange"
	case MutationAtomic:
		return "Atomic"
	case MutationSetVersionstampedKey:
		return "SetVersionstampedKey"
	case MutationSetVersionstampedValue:
		return "SetVersionstampedValue"
	default:
		return "Unknown"
	}
}

// AtomicOp names an atomic-mutation operator (add, min, max, and,
// or, xor, byte-min/max, compare-and-clear, etc). txncore only needs
// to route these, not evaluate them against storage, so a plain string
// alias keeps the coordinator layer decoupled from a fixed operator
// enum owned by the storage-server layer.
type AtomicOp string

// Mutation is a single change a transaction wants applied. Point
// mutations (Set, Atomic) use Key; ClearRange uses [Key, End);
// versionstamped variants use Key (and Value for
// SetVersionstampedValue) as templates containing a 10-byte
// placeholder that commit-time rewriting fills in.
type Mutation struct {
	Kind  MutationKind
	Key   Key
	End   Key // ClearRange only
	Value []byte
	Op    AtomicOp // Atomic only

	// VersionstampOffset is the 4-byte little-endian offset field
	// trailing a versionstamped template, naming where within the
	// template the 10-byte placeholder begins. Populated when parsing
	// a client-submitted versionstamped mutation; consumed and
	// stripped by RewriteVersionstamp.
	VersionstampOffset uint32
}

// Visitor dispatches on a Mutation's Kind without a type switch at
// every call site, matching spec.md §9's "visitor per phase" guidance.
type Visitor interface {
	VisitSet(m *Mutation)
	VisitClearRange(m *Mutation)
	VisitAtomic(m *Mutation)
	VisitSetVersionstampedKey(m *Mutation)
	VisitSetVersionstampedValue(m *Mutation)
}

// Accept dispatches m to the matching Visitor method.
func (m *Mutation) Accept(v Visitor) {
	switch m.Kind {
	case MutationSet:
		v.VisitSet(m)
	case MutationClearRange:
		v.VisitClearRange(m)
	case MutationAtomic:
		v.VisitAtomic(m)
	case MutationSetVersionstampedKey:
		v.VisitSetVersionstampedKey(m)
	case MutationSetVersionstampedValue:
		v.VisitSetVersionstampedValue(m)
	}
}

// versionstampPlaceholderLen is the width in bytes of the placeholder
// a versionstamped mutation reserves, rewritten at commit time with
// (commitVersion, batchIndex): 8 bytes big-endian version followed by
// 2 bytes big-endian batch index (spec.md §8 "Versionstamp
// determinism").
const versionstampPlaceholderLen = 10

// RewriteVersionstamp replaces the 10-byte placeholder at
// VersionstampOffset within buf with bigEndian(commitVersion) ||
// bigEndian16(batchIndex), and returns buf with only the trailing
// 4-byte offset field removed. Any bytes between the placeholder and
// the trailing offset field (a key suffix following the versionstamp)
// are preserved, matching FDB's transformVersionstampMutation, which
// resizes off only the last 4 bytes. buf must be at least
// offset+10+4 bytes long, which is the client library's contract for
// a well-formed versionstamped template.
func RewriteVersionstamp(buf []byte, offset uint32, commitVersion Version, batchIndex uint16) ([]byte, error) {
	end := int(offset) + versionstampPlaceholderLen
	if end > len(buf) {
		return nil, errVersionstampOffsetOutOfRange
	}
	binary.BigEndian.PutUint64(buf[offset:], uint64(commitVersion))
	binary.BigEndian.PutUint16(buf[int(offset)+8:], batchIndex)
	if len(buf) < end+4 {
		// No trailing offset field to strip; buf was passed without it.
		return buf[:end:end], nil
	}
	// The trailing 4-byte offset field has served its purpose; drop
	// only it, keeping any suffix between the placeholder and it.
	return append(buf[:end:end], buf[end:len(buf)-4]...), nil
}

// IsMetadataMutation reports whether m targets the reserved metadata
// subrange, which marks the owning transaction as a txn-state
// transaction (spec.md §4.2 phase 2).
func IsMetadataMutation(m *Mutation, metadataRange KeyRange) bool {
	switch m.Kind {
	case MutationClearRange:
		return metadataRange.Overlaps(KeyRange{Begin: m.Key, End: m.End})
	default:
		return metadataRange.Contains(m.Key)
	}
}
