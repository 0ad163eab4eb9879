package partition

import (
	"strconv"
	"testing"

	"github.com/aevon-lab/updateby/internal/core/value"
)

func TestFor_Determinism(t *testing.T) {
	// Same input must always produce the same shard.
	key := value.MakeGroupKey(value.String("AAPL"))
	id := For(key, Count)
	for i := 0; i < 100; i++ {
		if got := For(key, Count); got != id {
			t.Fatalf("For(AAPL) = %d on iteration %d, want %d", got, i, id)
		}
	}
}

func TestFor_Range(t *testing.T) {
	// All outputs must be in [0, shards).
	inputs := []value.GroupKey{value.Ungrouped, "a", "group-1", "group-2", "very-long-group-key-that-should-still-hash-correctly"}
	for _, shards := range []int{1, 3, 8, Count} {
		for _, k := range inputs {
			p := For(k, shards)
			if p < 0 || p >= shards {
				t.Errorf("For(%q, %d) = %d, want [0, %d)", k, shards, p, shards)
			}
		}
	}
	if got := For("anything", 0); got != 0 {
		t.Errorf("For with no shards = %d, want 0", got)
	}
}

func TestFor_Distribution(t *testing.T) {
	// 1 000 groups should hit at least 100 distinct shards (sanity check
	// that FNV-32a spreads well). With 256 buckets and 1000 keys the expected
	// unique count is ~248, so 100 is a very conservative floor.
	seen := make(map[int]struct{})
	for i := 0; i < 1000; i++ {
		seen[For(value.MakeGroupKey(value.String("group-"+strconv.Itoa(i))), Count)] = struct{}{}
	}
	if len(seen) < 100 {
		t.Errorf("only %d distinct shards from 1000 inputs, want >= 100", len(seen))
	}
}
