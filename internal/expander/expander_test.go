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

package expander_test

import (
	"context"
	"testing"

	"github.com/rocketboosters/fleet-manager/internal/cloudprovider"
	"github.com/rocketboosters/fleet-manager/internal/expander"
	"github.com/rocketboosters/fleet-manager/internal/fleet"
)

type fakeCloud struct {
	modifiedCalls int
	modifiedTo    int
}

func (f *fakeCloud) DescribeFleet(context.Context, string, *fleet.Requirements) (*fleet.Fleet, error) {
	return nil, nil
}
func (f *fakeCloud) DescribeFleetInstances(context.Context, string, map[string]bool) ([]cloudprovider.Instance, error) {
	return nil, nil
}
func (f *fakeCloud) ModifyFleetCapacity(_ context.Context, _ string, target int) (bool, error) {
	f.modifiedCalls++
	f.modifiedTo = target
	return true, nil
}
func (f *fakeCloud) TerminateInstances(context.Context, []string) error { return nil }

func TestGrowFleetRaisesCapacity(t *testing.T) {
	f := &fleet.Fleet{Requirements: &fleet.Requirements{Sector: "batch"}, Identifier: "fleet-1", Capacity: 1}
	cloud := &fakeCloud{}

	ok, err := expander.GrowFleet(context.Background(), cloud, f, 3)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if !ok {
		t.Fatal("expected growth to succeed")
	}
	if cloud.modifiedCalls != 1 || cloud.modifiedTo != 3 {
		t.Fatalf("expected capacity raised to 3, got calls=%d to=%d", cloud.modifiedCalls, cloud.modifiedTo)
	}
}

func TestGrowFleetIsNoOpWhenAlreadyAtOrAboveTarget(t *testing.T) {
	f := &fleet.Fleet{Requirements: &fleet.Requirements{Sector: "batch"}, Identifier: "fleet-1", Capacity: 5}
	cloud := &fakeCloud{}

	ok, err := expander.GrowFleet(context.Background(), cloud, f, 3)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if !ok {
		t.Fatal("expected a no-op to report success")
	}
	if cloud.modifiedCalls != 0 {
		t.Fatalf("expected no capacity change, got %d calls", cloud.modifiedCalls)
	}
}
