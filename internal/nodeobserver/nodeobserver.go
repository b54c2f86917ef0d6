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

// Package nodeobserver reconstructs the set of nodes backing a fleet,
// merging the cluster's own view with any cloud-provider instances that
// haven't (or will never) join the cluster.
package nodeobserver

import (
	"context"
	"strings"
	"time"

	"github.com/rocketboosters/fleet-manager/internal/cloudprovider"
	"github.com/rocketboosters/fleet-manager/internal/clusterapi"
	"github.com/rocketboosters/fleet-manager/internal/fleet"
)

// Observer lists and classifies the nodes belonging to a fleet.
type Observer struct {
	Cluster clusterapi.Client
	Cloud   cloudprovider.CloudProvider
}

// GetNodes builds the merged node set for f: cluster-registered nodes
// labeled for this fleet, plus any cloud-provider instances not yet (or no
// longer) visible in the cluster. pods supplies the already-computed
// CapacityItems so each node's occupancy can be attached. The result
// preserves observation order - cluster nodes in cluster-listing order,
// followed by external instances in cloud-listing order - so callers that
// select among them (e.g. picking which nodes to terminate first) do so
// deterministically.
func (o *Observer) GetNodes(
	ctx context.Context,
	f *fleet.Fleet,
	pods []*fleet.CapacityItem,
	inactiveGracePeriodSeconds int,
) ([]*fleet.Node, error) {
	clusterNodes, err := o.Cluster.ListNodes(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var nodes []*fleet.Node
	knownInstanceIDs := map[string]bool{}
	for i := range clusterNodes {
		n := &clusterNodes[i]
		if n.Labels["fleet"] != f.Name() {
			continue
		}

		name := n.Name
		age := now.Sub(n.CreationTimestamp.Time).Seconds()
		nodePods := podsOnNode(pods, name)
		isUnblocked := len(nodePods) == 0 && age > float64(inactiveGracePeriodSeconds)

		state := fleet.NodeState(n.Labels[fleet.StateLabelKey])
		if state == "" {
			state = fleet.StateActive
		}

		instanceID := instanceIDFromProviderID(n.Spec.ProviderID)
		knownInstanceIDs[instanceID] = true
		nodes = append(nodes, &fleet.Node{
			Name:         name,
			InstanceID:   instanceID,
			SecondsOld:   age,
			Requirements: f.Requirements,
			IsUnblocked:  isUnblocked,
			State:        state,
			Resource:     n,
			Pods:         nodePods,
		})
	}

	externalNodes, err := o.getExternalNodes(ctx, f, knownInstanceIDs)
	if err != nil {
		return nil, err
	}
	return append(nodes, externalNodes...), nil
}

func podsOnNode(pods []*fleet.CapacityItem, nodeName string) map[string]*fleet.CapacityItem {
	out := map[string]*fleet.CapacityItem{}
	for _, p := range pods {
		if p.NodeName == nodeName {
			out[p.PodID] = p
		}
	}
	return out
}

func instanceIDFromProviderID(providerID string) string {
	idx := strings.LastIndex(providerID, "/")
	if idx < 0 {
		return providerID
	}
	return providerID[idx+1:]
}

// getExternalNodes finds EC2 instances belonging to the fleet that the
// cluster doesn't yet (or no longer) know about - warming up or shutting
// down.
func (o *Observer) getExternalNodes(
	ctx context.Context,
	f *fleet.Fleet,
	knownInstanceIDs map[string]bool,
) ([]*fleet.Node, error) {
	instances, err := o.Cloud.DescribeFleetInstances(ctx, f.Identifier, knownInstanceIDs)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	external := make([]*fleet.Node, 0, len(instances))
	for _, instance := range instances {
		launchTime := instance.LaunchTime
		if launchTime.IsZero() {
			launchTime = now
		}
		age := now.Sub(launchTime).Seconds()
		if age < 0 {
			age = 0
		}

		name := instance.PrivateDNSName
		instanceID := instance.InstanceID
		if instanceID == "" {
			instanceID = "unknown-instance-id"
		}

		state := fleet.StateWarmingUp
		if name == "" && age >= 20 {
			state = fleet.StateShuttingDown
		}

		external = append(external, &fleet.Node{
			Name:         name,
			InstanceID:   instanceID,
			SecondsOld:   age,
			Requirements: f.Requirements,
			IsUnblocked:  age > 300,
			State:        state,
			Resource:     nil,
			Pods:         map[string]*fleet.CapacityItem{},
		})
	}
	return external, nil
}
