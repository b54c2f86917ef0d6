/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package allocator computes, for every configured fleet, how many nodes it
// needs: which pods belong in which fleet, and how excess capacity in
// larger fleets can absorb members of smaller ones before any node count is
// finalized.
package allocator

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rocketboosters/fleet-manager/internal/cloudprovider"
	"github.com/rocketboosters/fleet-manager/internal/fleet"
	"github.com/rocketboosters/fleet-manager/internal/nodeobserver"
	"github.com/rocketboosters/fleet-manager/internal/podobserver"
)

// repackSlack is how close to a whole node's worth of excess capacity must
// exist in a larger fleet before smaller-fleet members are worth moving
// into it.
const repackSlack = 0.05

// member pairs a capacity item with the fraction of a node it consumes in
// the fleet it is currently allocated to.
type member struct {
	item     *fleet.CapacityItem
	capacity float64
}

// Capacity is the computed allocation result for a single fleet.
type Capacity struct {
	Fleet         string
	IsEmpty       bool
	Raw           int
	Computed      float64
	Target        int
	PodCapacities map[string]float64
}

// isSuitable reports whether item may run in fleet, given where it (or the
// node it's already on) currently sits.
func isSuitable(item *fleet.CapacityItem, requirements *fleet.Requirements, idx fleet.Index, nodes map[string]*fleet.Node) bool {
	node := nodes[item.NodeName]
	runningInFleet := node != nil && node.Requirements == requirements

	inSector := requirements.Sector == item.Sector
	inFleet := item.Size == "" || item.Size == requirements.Size()
	willFit := item.MemoryBytes < requirements.MemoryMaxEff(idx) && item.CPUUnits < requirements.CPUMaxEff(idx)
	noSmaller := item.MemoryBytes >= requirements.MemoryMin(idx) || item.CPUUnits >= requirements.CPUMin(idx)
	onlyThisFleet := item.Size == requirements.Size()

	return runningInFleet || (node == nil && inFleet && inSector && willFit && (noSmaller || onlyThisFleet))
}

// Allocate assigns every capacity item suitable for requirements to it,
// computing each item's fractional node cost. Items that don't fit (too
// small, too large, wrong sector) are omitted.
func Allocate(
	requirements *fleet.Requirements,
	idx fleet.Index,
	items []*fleet.CapacityItem,
	nodes map[string]*fleet.Node,
) map[*fleet.CapacityItem]float64 {
	out := make(map[*fleet.CapacityItem]float64)
	for _, item := range items {
		if !isSuitable(item, requirements, idx, nodes) {
			continue
		}
		cpuFraction := item.CPUUnits / requirements.CPUMaxEff(idx)
		memFraction := float64(item.MemoryBytes) / float64(requirements.MemoryMaxEff(idx))
		out[item] = math.Min(1.0, math.Max(cpuFraction, memFraction))
	}
	return out
}

// computeFleetCapacity bin-packs each item needing resources into as few
// unit-capacity nodes as possible using a decreasing-first-fit heuristic,
// returning the whole node count required (never below CapacityMin).
func computeFleetCapacity(requirements *fleet.Requirements, members map[*fleet.CapacityItem]float64) float64 {
	var capacities []float64
	for item, c := range members {
		if item.NeedsResources {
			capacities = append(capacities, c)
		}
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(capacities)))

	bins := make([]float64, len(capacities))
	for _, value := range capacities {
		for i := range bins {
			if bins[i]+value <= 1 {
				bins[i] += value
				break
			}
		}
	}

	used := 0
	for _, b := range bins {
		if b > 0 {
			used++
		}
	}
	return math.Max(float64(requirements.CapacityMin), float64(used))
}

// repack attempts to move members of `requirements` into other fleets in
// the same sector that have excess allocated capacity, favoring larger
// fleets. memberships is mutated in place.
func repack(
	requirements *fleet.Requirements,
	idx fleet.Index,
	memberships map[*fleet.Requirements]map[*fleet.CapacityItem]float64,
) {
	members := memberships[requirements]
	for other, otherMembers := range memberships {
		if other == requirements || other.Sector != requirements.Sector {
			continue
		}
		if other.CapacityWeight(idx) > requirements.CapacityWeight(idx) {
			packInto(requirements, idx, members, other, otherMembers)
		}
	}
}

// packInto moves members from `fromMembers` into `toMembers` while `toFleet`
// has excess allocated capacity left over from rounding its raw demand up
// to a whole node, scaling each moved item's cost to the destination
// fleet's larger capacity.
func packInto(
	fromFleet *fleet.Requirements,
	idx fleet.Index,
	fromMembers map[*fleet.CapacityItem]float64,
	toFleet *fleet.Requirements,
	toMembers map[*fleet.CapacityItem]float64,
) {
	toRaw := sum(toMembers)
	toDesired := math.Ceil(toRaw)
	if (toDesired - toRaw) <= repackSlack {
		return
	}

	scale := toFleet.CapacityWeight(idx) / fromFleet.CapacityWeight(idx)

	type shrunkItem struct {
		item     *fleet.CapacityItem
		capacity float64
	}
	var shrunk []shrunkItem
	for item, capacity := range fromMembers {
		if item.Size == "" && item.NodeName == "" {
			shrunk = append(shrunk, shrunkItem{item: item, capacity: capacity / scale})
		}
	}
	sort.Slice(shrunk, func(i, j int) bool { return shrunk[i].capacity < shrunk[j].capacity })

	for _, s := range shrunk {
		newCapacity := sum(toMembers) + s.capacity
		if newCapacity >= (toDesired - repackSlack) {
			break
		}
		toMembers[s.item] = s.capacity
		delete(fromMembers, s.item)
	}
}

func sum(members map[*fleet.CapacityItem]float64) float64 {
	var total float64
	for _, v := range members {
		total += v
	}
	return total
}

// createFleetAllocation summarizes a fleet's member allocation into the
// capacity decision the reconciler acts on.
func createFleetAllocation(requirements *fleet.Requirements, members map[*fleet.CapacityItem]float64) Capacity {
	podCapacities := make(map[string]float64, len(members))
	var rawSum float64
	for item, capacity := range members {
		value := capacity
		if !item.NeedsResources {
			value = 0
		}
		podCapacities[item.PodID] = value
		rawSum += value
	}

	raw := int(math.Max(float64(requirements.CapacityMin), math.Ceil(rawSum)))
	computed := computeFleetCapacity(requirements, members)
	target := int(math.Ceil(computed))

	return Capacity{
		Fleet:         requirements.Name(),
		IsEmpty:       raw == 0 && computed == 0,
		Raw:           raw,
		Computed:      computed,
		Target:        target,
		PodCapacities: podCapacities,
	}
}

// Observers bundles the pod/node/cloud lookups GetCapacityTargets needs.
type Observers struct {
	Pods  *podobserver.Observer
	Nodes *nodeobserver.Observer
	Cloud cloudprovider.CloudProvider
}

// ConfigIndex is the configuration surface GetCapacityTargets needs: the
// fleet.Index methods used by Requirements' derived properties, plus the
// fleet ladder and tunables. *config.ManagerConfig implements this.
type ConfigIndex interface {
	fleet.Index
	GetClusterName() string
	GetFleets() []*fleet.Requirements
	DefaultFleetSector() string
	GetDefaultOverSubscription() float64
	GetInactiveGracePeriod() time.Duration
}

// GetCapacityTargets computes the desired node capacity for every
// configured fleet: allocating pods into their best-fit fleet, repacking
// smaller fleets' members into larger fleets with slack, and summarizing
// each fleet's resulting target capacity.
func GetCapacityTargets(ctx context.Context, cfg ConfigIndex, obs Observers) (map[string]Capacity, error) {
	items, err := obs.Pods.GetPods(
		ctx,
		cfg.DefaultFleetSector(),
		cfg.GetDefaultOverSubscription(),
		cfg.GetInactiveGracePeriod(),
	)
	if err != nil {
		return nil, fmt.Errorf("listing pods: %w", err)
	}

	nodes := map[string]*fleet.Node{}
	for _, requirements := range cfg.GetFleets() {
		f, err := obs.Cloud.DescribeFleet(ctx, cfg.GetClusterName(), requirements)
		if err != nil {
			return nil, fmt.Errorf("describing fleet %q: %w", requirements.Name(), err)
		}
		if f == nil {
			continue
		}
		fleetNodes, err := obs.Nodes.GetNodes(ctx, f, items, int(cfg.GetInactiveGracePeriod().Seconds()))
		if err != nil {
			return nil, fmt.Errorf("listing nodes for fleet %q: %w", requirements.Name(), err)
		}
		for _, n := range fleetNodes {
			nodes[n.Name] = n
		}
	}

	memberships := make(map[*fleet.Requirements]map[*fleet.CapacityItem]float64, len(cfg.GetFleets()))
	for _, requirements := range cfg.GetFleets() {
		memberships[requirements] = Allocate(requirements, cfg, items, nodes)
	}

	for _, requirements := range cfg.GetFleets() {
		repack(requirements, cfg, memberships)
	}

	allocated := 0
	result := make(map[string]Capacity, len(memberships))
	for requirements, members := range memberships {
		result[requirements.Name()] = createFleetAllocation(requirements, members)
		allocated += len(members)
	}

	if len(items) != allocated {
		return nil, fmt.Errorf("not all pods were able to be allocated to a fleet due to mismatched resource constraints")
	}

	return result, nil
}
