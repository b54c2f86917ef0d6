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

package nodeobserver_test

import (
	"context"
	"testing"
	"time"

	v1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/rocketboosters/fleet-manager/internal/catalog"
	"github.com/rocketboosters/fleet-manager/internal/cloudprovider"
	"github.com/rocketboosters/fleet-manager/internal/fleet"
	"github.com/rocketboosters/fleet-manager/internal/nodeobserver"
)

type fakeClient struct {
	nodes []v1.Node
}

func (f *fakeClient) ListPods(context.Context) ([]v1.Pod, error)     { return nil, nil }
func (f *fakeClient) ListNodes(context.Context) ([]v1.Node, error)   { return f.nodes, nil }
func (f *fakeClient) PatchNode(context.Context, string, []byte) error { return nil }

type fakeCloud struct {
	instances []cloudprovider.Instance
}

func (f *fakeCloud) DescribeFleet(context.Context, string, *fleet.Requirements) (*fleet.Fleet, error) {
	return nil, nil
}
func (f *fakeCloud) DescribeFleetInstances(_ context.Context, _ string, known map[string]bool) ([]cloudprovider.Instance, error) {
	var out []cloudprovider.Instance
	for _, i := range f.instances {
		if !known[i.InstanceID] {
			out = append(out, i)
		}
	}
	return out, nil
}
func (f *fakeCloud) ModifyFleetCapacity(context.Context, string, int) (bool, error) { return true, nil }
func (f *fakeCloud) TerminateInstances(context.Context, []string) error            { return nil }

func testFleet(t *testing.T) *fleet.Fleet {
	t.Helper()
	spec, err := catalog.Lookup(catalog.Small, catalog.Memory)
	if err != nil {
		t.Fatalf("lookup: %s", err)
	}
	requirements := &fleet.Requirements{Sector: "batch", SizeSpec: spec}
	return &fleet.Fleet{Requirements: requirements, Identifier: "fleet-1", Capacity: 2}
}

func findNode(nodes []*fleet.Node, name string) *fleet.Node {
	for _, n := range nodes {
		if n.Name == name {
			return n
		}
	}
	return nil
}

func TestGetNodesIncludesOnlyMatchingFleetLabel(t *testing.T) {
	f := testFleet(t)
	matching := v1.Node{
		ObjectMeta: metav1.ObjectMeta{Name: "node-a", Labels: map[string]string{"fleet": f.Name()}, CreationTimestamp: metav1.NewTime(time.Now().Add(-time.Hour))},
	}
	other := v1.Node{
		ObjectMeta: metav1.ObjectMeta{Name: "node-b", Labels: map[string]string{"fleet": "other-large"}},
	}
	client := &fakeClient{nodes: []v1.Node{matching, other}}
	cloud := &fakeCloud{}
	observer := &nodeobserver.Observer{Cluster: client, Cloud: cloud}

	nodes, err := observer.GetNodes(context.Background(), f, nil, 300)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if findNode(nodes, "node-a") == nil {
		t.Fatal("expected node-a to be present")
	}
	if findNode(nodes, "node-b") != nil {
		t.Fatal("expected node-b to be excluded")
	}
}

func TestGetNodesMarksEmptyOldNodeUnblocked(t *testing.T) {
	f := testFleet(t)
	node := v1.Node{
		ObjectMeta: metav1.ObjectMeta{
			Name:              "node-a",
			Labels:            map[string]string{"fleet": f.Name()},
			CreationTimestamp: metav1.NewTime(time.Now().Add(-time.Hour)),
		},
	}
	client := &fakeClient{nodes: []v1.Node{node}}
	observer := &nodeobserver.Observer{Cluster: client, Cloud: &fakeCloud{}}

	nodes, err := observer.GetNodes(context.Background(), f, nil, 300)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if n := findNode(nodes, "node-a"); n == nil || !n.IsUnblocked {
		t.Fatal("expected empty node older than grace period to be unblocked")
	}
}

func TestGetNodesIncludesExternalInstancesNotYetRegistered(t *testing.T) {
	f := testFleet(t)
	client := &fakeClient{}
	cloud := &fakeCloud{instances: []cloudprovider.Instance{{InstanceID: "i-1", PrivateDNSName: "", LaunchTime: time.Now()}}}
	observer := &nodeobserver.Observer{Cluster: client, Cloud: cloud}

	nodes, err := observer.GetNodes(context.Background(), f, nil, 300)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(nodes) != 1 {
		t.Fatalf("expected 1 external node, got %d", len(nodes))
	}
}
