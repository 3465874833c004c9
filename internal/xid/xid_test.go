package xid

import "testing"

func TestEdgeIDHashStable(t *testing.T) {
	e := EdgeID{Src: 1, Dst: 2, Type: 3}
	h1 := e.Hash()
	h2 := e.Hash()
	if h1 != h2 {
		t.Fatalf("expected stable hash, got %d then %d", h1, h2)
	}
}

func TestEdgeIDHashDistinguishesType(t *testing.T) {
	a := EdgeID{Src: 1, Dst: 2, Type: 0}
	b := EdgeID{Src: 1, Dst: 2, Type: 1}
	if a.Hash() == b.Hash() {
		t.Fatalf("expected distinct hashes for distinct edge types")
	}
}

func TestShardOf(t *testing.T) {
	cases := []struct {
		partition, shardNumber, want int
	}{
		{0, 4, 0},
		{5, 4, 1},
		{8, 4, 0},
	}
	for _, c := range cases {
		if got := ShardOf(c.partition, c.shardNumber); got != c.want {
			t.Errorf("ShardOf(%d,%d) = %d, want %d", c.partition, c.shardNumber, got, c.want)
		}
	}
}

func TestOwnsNodeDeterministic(t *testing.T) {
	owners := 0
	for shard := 0; shard < 4; shard++ {
		if OwnsNode(NodeID(42), 128, 4, shard) {
			owners++
		}
	}
	if owners != 1 {
		t.Fatalf("expected exactly one owning shard, got %d", owners)
	}
}
