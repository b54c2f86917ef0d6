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

// Package fleet holds the core data model shared by every reconciliation
// component: the configured shape of a fleet (Requirements), its observed
// cloud-provider state (Fleet), its observed cluster nodes (Node), and the
// pods competing for its capacity (CapacityItem).
package fleet

import (
	v1 "k8s.io/api/core/v1"

	"github.com/rocketboosters/fleet-manager/internal/catalog"
)

// NodeState is the fleet-manager-owned lifecycle state of a node, tracked
// through the "fleet-manager-state" label and mirrored taints.
type NodeState string

const (
	StateActive       NodeState = "active"
	StateWarmingUp    NodeState = "warming_up"
	StateTerminating  NodeState = "terminating"
	StateShuttingDown NodeState = "shutting_down"
)

// StateLabelKey is the node label carrying the fleet-manager-owned state.
const StateLabelKey = "fleet-manager-state"

// Index resolves cross-fleet relationships needed by Requirements' derived
// properties. ManagerConfig implements this; passing it explicitly avoids
// a Requirements<->Config ownership cycle.
type Index interface {
	ReservedMemoryBytes() int64
	ReservedCPUs() float64
	// SmallerFleet returns the next-smaller fleet in the same sector as r,
	// ordered by r's dominant resource, if one exists.
	SmallerFleet(r *Requirements) (*Requirements, bool)
}

// Requirements is the configured, immutable shape of a fleet: its sector,
// size/kind specification, and scaling policy. Equality and identity are by
// Name; callers share a single *Requirements per fleet name rather than
// comparing values.
type Requirements struct {
	Sector               string
	SizeSpec             catalog.Spec
	CapacityMin          int
	BounceDeploymentPods bool
}

// Name uniquely identifies the fleet as "{sector}-{size}".
func (r *Requirements) Name() string {
	return r.Sector + "-" + string(r.SizeSpec.Size)
}

// Size is the node t-shirt size of this fleet.
func (r *Requirements) Size() catalog.Size {
	return r.SizeSpec.Size
}

// MemoryMaxEff is the memory bound after subtracting the cluster-wide
// reservation; nothing should be scheduled at or above this.
func (r *Requirements) MemoryMaxEff(idx Index) int64 {
	return r.SizeSpec.MemoryMax() - idx.ReservedMemoryBytes()
}

// CPUMaxEff is the vCPU bound after subtracting the cluster-wide reservation.
func (r *Requirements) CPUMaxEff(idx Index) float64 {
	return r.SizeSpec.CPUMax() - idx.ReservedCPUs()
}

// MemoryMin is the effective memory max of the next-smaller fleet in the
// same sector, or 0 if this is the smallest.
func (r *Requirements) MemoryMin(idx Index) int64 {
	if smaller, ok := idx.SmallerFleet(r); ok {
		return smaller.MemoryMaxEff(idx)
	}
	return 0
}

// CPUMin is the effective vCPU max of the next-smaller fleet in the same
// sector, or 0 if this is the smallest.
//
// The original source returned the smaller fleet's memory_max here instead
// of its cpu_max - almost certainly a bug with no evident intentional
// purpose. This rewrite uses cpu_max_eff, per the Open Question resolution
// recorded in DESIGN.md.
func (r *Requirements) CPUMin(idx Index) float64 {
	if smaller, ok := idx.SmallerFleet(r); ok {
		return smaller.CPUMaxEff(idx)
	}
	return 0
}

// CapacityWeight is this fleet's relative scale within its sector: 1.0 for
// the smallest fleet, else the ratio of its dominant-resource max to the
// smallest fleet's.
func (r *Requirements) CapacityWeight(idx Index) float64 {
	smallest, ok := idx.SmallerFleet(r)
	if !ok {
		return 1.0
	}
	for {
		next, ok := idx.SmallerFleet(smallest)
		if !ok {
			break
		}
		smallest = next
	}
	if r.SizeSpec.Kind == catalog.Memory {
		return float64(r.SizeSpec.MemoryMax()) / float64(smallest.SizeSpec.MemoryMax())
	}
	return r.SizeSpec.CPUMax() / smallest.SizeSpec.CPUMax()
}

// Fleet is the observed cloud-provider state backing a Requirements.
type Fleet struct {
	Requirements *Requirements
	Identifier   string
	Capacity     int
	Tags         map[string]string
}

func (f *Fleet) Name() string   { return f.Requirements.Name() }
func (f *Fleet) Sector() string { return f.Requirements.Sector }

// CapacityItem is a pod together with its computed resource demand.
type CapacityItem struct {
	PodID string
	// Sector and Size are the fleet hints extracted from the pod's node
	// selector; Size is empty when the pod did not pin one.
	Sector         string
	Size           catalog.Size
	MemoryBytes    int64
	CPUUnits       float64
	PodPhase       v1.PodPhase
	IsBouncable    bool
	NeedsResources bool
	// NodeName is the node this pod is currently bound to, if any.
	NodeName string
}
