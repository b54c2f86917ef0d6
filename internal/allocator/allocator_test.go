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

package allocator_test

import (
	"testing"

	v1 "k8s.io/api/core/v1"

	"github.com/rocketboosters/fleet-manager/internal/allocator"
	"github.com/rocketboosters/fleet-manager/internal/catalog"
	"github.com/rocketboosters/fleet-manager/internal/fleet"
)

// fakeIndex is a minimal fleet.Index for exercising the allocator against a
// two-fleet sector ladder (small, then large).
type fakeIndex struct {
	smaller map[*fleet.Requirements]*fleet.Requirements
}

func (f fakeIndex) ReservedMemoryBytes() int64 { return 0 }
func (f fakeIndex) ReservedCPUs() float64      { return 0 }
func (f fakeIndex) SmallerFleet(r *fleet.Requirements) (*fleet.Requirements, bool) {
	s, ok := f.smaller[r]
	return s, ok
}

func mustSpec(t *testing.T, size catalog.Size, kind catalog.Kind) catalog.Spec {
	t.Helper()
	spec, err := catalog.Lookup(size, kind)
	if err != nil {
		t.Fatalf("lookup %s/%s: %s", size, kind, err)
	}
	return spec
}

func item(sector string, memory int64, cpu float64) *fleet.CapacityItem {
	return &fleet.CapacityItem{
		PodID:          sector,
		Sector:         sector,
		MemoryBytes:    memory,
		CPUUnits:       cpu,
		PodPhase:       v1.PodRunning,
		NeedsResources: true,
	}
}

func TestAllocateOmitsItemsOutsideSector(t *testing.T) {
	r := &fleet.Requirements{Sector: "batch", SizeSpec: mustSpec(t, catalog.Small, catalog.Memory)}
	idx := fakeIndex{smaller: map[*fleet.Requirements]*fleet.Requirements{}}

	items := []*fleet.CapacityItem{item("other", 1<<20, 0.1)}
	got := allocator.Allocate(r, idx, items, map[string]*fleet.Node{})
	if len(got) != 0 {
		t.Fatalf("expected no items allocated across sectors, got %d", len(got))
	}
}

func TestAllocateOmitsItemsThatDontFit(t *testing.T) {
	r := &fleet.Requirements{Sector: "batch", SizeSpec: mustSpec(t, catalog.XSmall, catalog.Memory)}
	idx := fakeIndex{smaller: map[*fleet.Requirements]*fleet.Requirements{}}

	tooBig := item("batch", r.SizeSpec.MemoryMax()*2, 0.1)
	got := allocator.Allocate(r, idx, []*fleet.CapacityItem{tooBig}, map[string]*fleet.Node{})
	if len(got) != 0 {
		t.Fatalf("expected an oversized item to be omitted, got %d", len(got))
	}
}

func TestAllocateComputesFractionalCost(t *testing.T) {
	r := &fleet.Requirements{Sector: "batch", SizeSpec: mustSpec(t, catalog.Small, catalog.Memory)}
	idx := fakeIndex{smaller: map[*fleet.Requirements]*fleet.Requirements{}}

	half := item("batch", r.SizeSpec.MemoryMax()/2, 0)
	got := allocator.Allocate(r, idx, []*fleet.CapacityItem{half}, map[string]*fleet.Node{})
	cost, ok := got[half]
	if !ok {
		t.Fatal("expected item to be allocated")
	}
	if cost < 0.45 || cost > 0.55 {
		t.Fatalf("expected roughly half-node cost, got %v", cost)
	}
}

func TestAllocateKeepsAllThreeItemsForLaterBinPacking(t *testing.T) {
	spec := mustSpec(t, catalog.Small, catalog.Memory)
	r := &fleet.Requirements{Sector: "batch", SizeSpec: spec}
	idx := fakeIndex{smaller: map[*fleet.Requirements]*fleet.Requirements{}}

	half := spec.MemoryMax() / 2
	items := []*fleet.CapacityItem{
		item("batch", half, 0), item("batch", half, 0), item("batch", half, 0),
	}
	got := allocator.Allocate(r, idx, items, map[string]*fleet.Node{})
	if len(got) != 3 {
		t.Fatalf("expected all 3 half-node items allocated, got %d", len(got))
	}
}

func TestRequirementsSmallerThanItDoesNotFitWithoutExplicitPin(t *testing.T) {
	small := &fleet.Requirements{Sector: "batch", SizeSpec: mustSpec(t, catalog.XSmall, catalog.Memory)}
	large := &fleet.Requirements{Sector: "batch", SizeSpec: mustSpec(t, catalog.Small, catalog.Memory)}
	idx := fakeIndex{smaller: map[*fleet.Requirements]*fleet.Requirements{large: small}}

	// An item tiny enough to fit into the smaller fleet too, with no
	// explicit size pin, should not be allocated against the larger fleet.
	tiny := item("batch", 1<<10, 0.01)
	got := allocator.Allocate(large, idx, []*fleet.CapacityItem{tiny}, map[string]*fleet.Node{})
	if len(got) != 0 {
		t.Fatalf("expected tiny unpinned item to prefer the smaller fleet, got %d", len(got))
	}
}

func TestRequirementsSmallerThanItFitsWhenExplicitlyPinned(t *testing.T) {
	small := &fleet.Requirements{Sector: "batch", SizeSpec: mustSpec(t, catalog.XSmall, catalog.Memory)}
	large := &fleet.Requirements{Sector: "batch", SizeSpec: mustSpec(t, catalog.Small, catalog.Memory)}
	idx := fakeIndex{smaller: map[*fleet.Requirements]*fleet.Requirements{large: small}}

	tiny := item("batch", 1<<10, 0.01)
	tiny.Size = large.Size()
	got := allocator.Allocate(large, idx, []*fleet.CapacityItem{tiny}, map[string]*fleet.Node{})
	if len(got) != 1 {
		t.Fatalf("expected explicitly pinned tiny item to be allocated, got %d", len(got))
	}
}
