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

// Package contractor carries out the shrink half of a fleet capacity
// change: tainting nodes no longer needed, then terminating them once
// they've drained, via fleet-manager's own node-state labels rather than
// relying on the cloud provider's own scale-in behavior.
package contractor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	v1 "k8s.io/api/core/v1"
	"knative.dev/pkg/logging"

	"github.com/rocketboosters/fleet-manager/internal/cloudprovider"
	"github.com/rocketboosters/fleet-manager/internal/clusterapi"
	"github.com/rocketboosters/fleet-manager/internal/fleet"
)

// Contractor shrinks fleets by tainting and terminating their excess nodes.
type Contractor struct {
	Cluster clusterapi.Client
	Cloud   cloudprovider.CloudProvider
}

// getUnblockedNodes returns nodes, in observation order, that are
// registered in the cluster with no active or pending pods.
func getUnblockedNodes(nodes []*fleet.Node) []*fleet.Node {
	var out []*fleet.Node
	for _, n := range nodes {
		if n.IsUnblocked && n.Resource != nil {
			out = append(out, n)
		}
	}
	return out
}

// getBlockedNodes returns every node not present in getUnblockedNodes, in
// observation order.
func getBlockedNodes(nodes []*fleet.Node) []*fleet.Node {
	unblocked := map[string]bool{}
	for _, n := range getUnblockedNodes(nodes) {
		unblocked[n.Identifier()] = true
	}
	var out []*fleet.Node
	for _, n := range nodes {
		if !unblocked[n.Identifier()] {
			out = append(out, n)
		}
	}
	return out
}

// getBouncableNodes returns blocked nodes, in observation order, that are
// old enough to retire and whose every pod is individually bouncable.
func getBouncableNodes(nodes []*fleet.Node, inactiveGracePeriodSeconds int) []*fleet.Node {
	var out []*fleet.Node
	for _, n := range getBlockedNodes(nodes) {
		if n.Resource == nil || !n.IsRetirable(inactiveGracePeriodSeconds) {
			continue
		}
		allBouncable := true
		for _, p := range n.Pods {
			if !p.IsBouncable {
				allBouncable = false
				break
			}
		}
		if allBouncable {
			out = append(out, n)
		}
	}
	return out
}

// getNodesToTerminate selects up to reduceBy nodes to taint for
// termination: unblocked nodes first (in observation order), then (if
// bounceDeploymentPods is set) bouncable nodes with fewer pods first, ties
// broken by observation order.
func getNodesToTerminate(requirements *fleet.Requirements, nodes []*fleet.Node, reduceBy int, inactiveGracePeriodSeconds int) []*fleet.Node {
	unblockedList := getUnblockedNodes(nodes)

	if !requirements.BounceDeploymentPods {
		return capList(unblockedList, reduceBy)
	}

	bouncable := getBouncableNodes(nodes, inactiveGracePeriodSeconds)
	sort.SliceStable(bouncable, func(i, j int) bool { return len(bouncable[i].Pods) < len(bouncable[j].Pods) })

	candidates := append(unblockedList, bouncable...)
	return capList(candidates, reduceBy)
}

func capList(nodes []*fleet.Node, limit int) []*fleet.Node {
	if limit <= 0 {
		return nil
	}
	if limit >= len(nodes) {
		return nodes
	}
	return nodes[:limit]
}

type taintPatch struct {
	Metadata taintMetadata `json:"metadata"`
	Spec     taintSpec     `json:"spec"`
}

type taintMetadata struct {
	Labels map[string]string `json:"labels"`
}

type taintSpec struct {
	Taints []v1.Taint `json:"taints"`
}

// PrepareNodesForTermination taints nodes no longer needed to reach
// targetCapacity as NoSchedule/NoExecute and labels them as terminating, so
// that pods drain gracefully before the next reconciliation loop tears the
// node down.
func (c *Contractor) PrepareNodesForTermination(ctx context.Context, targetCapacity int, f *fleet.Fleet, fleetNodes []*fleet.Node, inactiveGracePeriodSeconds int) error {
	reduceBy := len(fleetNodes) - targetCapacity
	if reduceBy < 0 {
		reduceBy = 0
	}

	noSchedule := v1.Taint{Key: fleet.StateLabelKey, Value: string(fleet.StateTerminating), Effect: v1.TaintEffectNoSchedule}
	noExecute := v1.Taint{Key: fleet.StateLabelKey, Value: string(fleet.StateTerminating), Effect: v1.TaintEffectNoExecute}

	toTerminate := getNodesToTerminate(f.Requirements, fleetNodes, reduceBy, inactiveGracePeriodSeconds)

	var tainted []*fleet.Node
	for _, n := range toTerminate {
		if n.Resource == nil {
			continue
		}
		currentState := n.State
		if currentState == "" {
			currentState = fleet.StateActive
		}
		if currentState == fleet.StateTerminating {
			continue
		}

		patch, err := json.Marshal(taintPatch{
			Metadata: taintMetadata{Labels: map[string]string{fleet.StateLabelKey: string(fleet.StateTerminating)}},
			Spec:     taintSpec{Taints: []v1.Taint{noSchedule, noExecute}},
		})
		if err != nil {
			return fmt.Errorf("marshaling termination patch for node %q: %w", n.Name, err)
		}
		if err := c.Cluster.PatchNode(ctx, n.Name, patch); err != nil {
			return fmt.Errorf("tainting node %q for termination: %w", n.Name, err)
		}
		tainted = append(tainted, n)
	}

	if len(tainted) > 0 {
		logging.FromContext(ctx).Infow(
			"tainted_nodes_for_termination",
			"state", string(fleet.StateTerminating),
			"nodes", nodeSummaries(tainted),
		)
	}
	return nil
}

func nodeSummaries(nodes []*fleet.Node) map[string]map[string]interface{} {
	out := make(map[string]map[string]interface{}, len(nodes))
	for _, n := range nodes {
		fleetName := ""
		if n.Requirements != nil {
			fleetName = n.Requirements.Name()
		}
		out[n.Name] = map[string]interface{}{
			"id":          n.InstanceID,
			"seconds_old": n.SecondsOld,
			"fleet":       fleetName,
		}
	}
	return out
}

// TerminateNodes terminates the EC2 instances backing any node already
// marked terminating, warming up but unblocked, or shutting down.
func (c *Contractor) TerminateNodes(ctx context.Context, f *fleet.Fleet, fleetNodes []*fleet.Node) ([]*fleet.Node, error) {
	var toTerminate []*fleet.Node
	for _, n := range fleetNodes {
		if n.State == fleet.StateTerminating ||
			(n.State == fleet.StateWarmingUp && n.IsUnblocked) ||
			n.State == fleet.StateShuttingDown {
			toTerminate = append(toTerminate, n)
		}
	}
	if len(toTerminate) == 0 {
		return nil, nil
	}

	instanceIDs := make([]string, len(toTerminate))
	for i, n := range toTerminate {
		instanceIDs[i] = n.InstanceID
	}
	if err := c.Cloud.TerminateInstances(ctx, instanceIDs); err != nil {
		return nil, fmt.Errorf("terminating nodes for fleet %q: %w", f.Name(), err)
	}

	nodeIDs := make(map[string]string, len(toTerminate))
	for _, n := range toTerminate {
		nodeIDs[n.Name] = n.InstanceID
	}
	logging.FromContext(ctx).Infow("terminating_nodes", "fleet", f.Name(), "nodes", nodeIDs)

	return toTerminate, nil
}

// ShrinkFleet reduces f to targetCapacity: first adjusting the EC2 fleet's
// target capacity down (if needed), then terminating any nodes already
// staged for removal, then tainting further nodes so the next loop can
// finish the job. This function is idempotent - repeated calls at the same
// target capacity settle rather than over-terminate.
func (c *Contractor) ShrinkFleet(ctx context.Context, f *fleet.Fleet, targetCapacity int, fleetNodes []*fleet.Node, inactiveGracePeriodSeconds int) ([]*fleet.Node, error) {
	if f.Capacity > targetCapacity {
		success, err := c.Cloud.ModifyFleetCapacity(ctx, f.Identifier, targetCapacity)
		if err != nil {
			return nil, fmt.Errorf("shrinking fleet %q: %w", f.Name(), err)
		}
		if !success {
			logging.FromContext(ctx).Errorf("failed to shrink %s capacity", f.Name())
			return nil, nil
		}
	}

	terminated, err := c.TerminateNodes(ctx, f, fleetNodes)
	if err != nil {
		return nil, err
	}

	if err := c.PrepareNodesForTermination(ctx, targetCapacity, f, fleetNodes, inactiveGracePeriodSeconds); err != nil {
		return nil, err
	}

	return terminated, nil
}
