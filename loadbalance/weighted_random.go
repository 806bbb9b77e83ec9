package loadbalance

import (
	"math/rand/v2"

	"github.com/insthync/reqres/registry"
)

// WeightedRandomBalancer picks an instance with probability proportional to
// its weight. Instances with a non-positive weight count as weight 1.
type WeightedRandomBalancer struct{}

func weightOf(inst registry.Instance) int {
	if inst.Weight <= 0 {
		return 1
	}
	return inst.Weight
}

func (b *WeightedRandomBalancer) Pick(_ string, instances []registry.Instance) (registry.Instance, error) {
	if len(instances) == 0 {
		return registry.Instance{}, ErrNoInstances
	}

	total := 0
	for _, inst := range instances {
		total += weightOf(inst)
	}

	r := rand.IntN(total)
	for _, inst := range instances {
		r -= weightOf(inst)
		if r < 0 {
			return inst, nil
		}
	}
	return instances[len(instances)-1], nil
}

func (b *WeightedRandomBalancer) Name() string {
	return "WeightedRandom"
}
