package loadbalance

import (
	"sync/atomic"

	"github.com/insthync/reqres/registry"
)

// RoundRobinBalancer cycles through the instances in order.
type RoundRobinBalancer struct {
	counter atomic.Uint64
}

func (b *RoundRobinBalancer) Pick(_ string, instances []registry.Instance) (registry.Instance, error) {
	if len(instances) == 0 {
		return registry.Instance{}, ErrNoInstances
	}
	index := (b.counter.Add(1) - 1) % uint64(len(instances))
	return instances[index], nil
}

func (b *RoundRobinBalancer) Name() string {
	return "RoundRobin"
}
