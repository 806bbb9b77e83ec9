package loadbalance

import (
	"fmt"
	"hash/crc32"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/insthync/reqres/registry"
)

// ConsistentHashBalancer maps peer keys onto a hash ring of instances, so a
// reconnecting peer lands on the same authority while the instance set is
// stable. Each instance owns replicas virtual nodes.
//
//	Hash Ring:
//	                  0
//	                ╱   ╲
//	         B ●               ● A
//	           │    key ◆──►   │   (clockwise to nearest node → A)
//	         C ●               ● A' (virtual node of A)
//	                ╲   ╱
type ConsistentHashBalancer struct {
	replicas int

	mu        sync.Mutex
	signature string // Sorted addresses the ring was built from
	ring      []uint32
	nodes     map[uint32]registry.Instance
}

func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{replicas: 100}
}

// Pick hashes key and walks the ring clockwise to the first virtual node. The
// ring is rebuilt only when the set of addresses changes.
func (b *ConsistentHashBalancer) Pick(key string, instances []registry.Instance) (registry.Instance, error) {
	if len(instances) == 0 {
		return registry.Instance{}, ErrNoInstances
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.rebuild(instances)

	hash := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})
	if idx == len(b.ring) {
		idx = 0
	}
	return b.nodes[b.ring[idx]], nil
}

func (b *ConsistentHashBalancer) rebuild(instances []registry.Instance) {
	addrs := make([]string, 0, len(instances))
	for _, inst := range instances {
		addrs = append(addrs, inst.Addr)
	}
	slices.Sort(addrs)
	signature := strings.Join(addrs, ",")
	if signature == b.signature && b.nodes != nil {
		return
	}

	b.signature = signature
	b.ring = make([]uint32, 0, len(instances)*b.replicas)
	b.nodes = make(map[uint32]registry.Instance, len(instances)*b.replicas)
	for _, inst := range instances {
		for i := 0; i < b.replicas; i++ {
			hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", inst.Addr, i)))
			b.ring = append(b.ring, hash)
			b.nodes[hash] = inst
		}
	}
	slices.Sort(b.ring)
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}
