// Package loadbalance picks which advertised authority a peer connects to.
//
// Three strategies are implemented:
//   - RoundRobin: spread peers evenly over equal authorities
//   - WeightedRandom: favour authorities with a larger advertised weight
//   - ConsistentHash: keep the same peer key on the same authority
package loadbalance

import (
	"errors"
	"fmt"
	"strings"

	"github.com/insthync/reqres/registry"
)

var ErrNoInstances = errors.New("loadbalance: no instances available")

// Balancer chooses one instance. key identifies the connecting peer; only
// key-aware strategies look at it. Implementations are goroutine-safe.
type Balancer interface {
	Pick(key string, instances []registry.Instance) (registry.Instance, error)
	Name() string
}

// New returns the balancer registered under name.
func New(name string) (Balancer, error) {
	switch strings.ToLower(name) {
	case "", "roundrobin", "round_robin":
		return &RoundRobinBalancer{}, nil
	case "weighted", "weightedrandom", "weighted_random":
		return &WeightedRandomBalancer{}, nil
	case "hash", "consistenthash", "consistent_hash":
		return NewConsistentHashBalancer(), nil
	default:
		return nil, fmt.Errorf("loadbalance: unknown strategy %q", name)
	}
}
