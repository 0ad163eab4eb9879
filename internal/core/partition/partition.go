package partition

import (
	"hash/fnv"

	"github.com/aevon-lab/updateby/internal/core/value"
)

// Count is the default number of shards when a caller has no worker count.
const Count = 256

// For returns the shard in [0, shards) owning a group.
// Stable and deterministic: the same group always maps to the same shard, so
// one worker owns a group for the whole cycle. Uses FNV-32a.
func For(key value.GroupKey, shards int) int {
	if shards <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(shards))
}
