package keyinfo

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coredb/txncore/pkg/txnpb"
)

func TestKeyInfoMapLookupMissing(t *testing.T) {
	m := NewKeyInfoMap()
	require.Nil(t, m.Lookup(txnpb.Key("a")))
}

func TestKeyInfoMapSetShardAndLookup(t *testing.T) {
	m := NewKeyInfoMap()
	rng := txnpb.KeyRange{Begin: txnpb.Key("a"), End: txnpb.Key("m")}
	info := &ShardInfo{Source: NewServerSet("ss1", "ss2")}
	m.SetShard(rng, info)

	got := m.Lookup(txnpb.Key("c"))
	require.NotNil(t, got)
	require.ElementsMatch(t, []txnpb.Tag{"ss1", "ss2"}, got.Tags())
	require.Nil(t, m.Lookup(txnpb.Key("z")))
}

func TestShardInfoTagsUnionsSourceAndDest(t *testing.T) {
	info := &ShardInfo{Source: NewServerSet("src"), Dest: NewServerSet("dst")}
	require.ElementsMatch(t, []txnpb.Tag{"src", "dst"}, info.Tags())
}

func TestKeyInfoMapIntersectingCoversMultipleShards(t *testing.T) {
	m := NewKeyInfoMap()
	m.SetShard(txnpb.KeyRange{Begin: txnpb.Key("a"), End: txnpb.Key("m")}, &ShardInfo{Source: NewServerSet("s1")})
	m.SetShard(txnpb.KeyRange{Begin: txnpb.Key("m"), End: txnpb.Key("z")}, &ShardInfo{Source: NewServerSet("s2")})

	var seen []txnpb.Tag
	m.Intersecting(txnpb.KeyRange{Begin: txnpb.Key("a"), End: txnpb.Key("z")}, func(_ txnpb.KeyRange, info *ShardInfo) bool {
		seen = append(seen, info.Tags()...)
		return true
	})
	require.ElementsMatch(t, []txnpb.Tag{"s1", "s2"}, seen)
	require.Equal(t, 2, m.Len())
}

func TestServerSetUnionAndTags(t *testing.T) {
	a := NewServerSet("x", "y")
	b := NewServerSet("y", "z")
	require.ElementsMatch(t, []txnpb.Tag{"x", "y", "z"}, a.Union(b).Tags())
}
