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

package fleet

import v1 "k8s.io/api/core/v1"

// Node is the reconstructed view of a single fleet member, whether it is
// registered in the cluster or only visible through the cloud provider
// (warming up or shutting down outside Kubernetes' view).
type Node struct {
	Name         string
	InstanceID   string
	SecondsOld   float64
	Requirements *Requirements
	IsUnblocked  bool
	State        NodeState
	// Resource is the backing *v1.Node when the node is registered in the
	// cluster, or nil for a cloud-provider-only instance.
	Resource *v1.Node
	Pods     map[string]*CapacityItem
}

// Identifier is the node's Kubernetes name if assigned, else its instance ID.
func (n *Node) Identifier() string {
	if n.Name != "" {
		return n.Name
	}
	return n.InstanceID
}

// IsRetirable reports whether the node has been up long enough to be
// eligible for retirement under the given grace period.
func (n *Node) IsRetirable(inactiveGracePeriodSeconds int) bool {
	return n.SecondsOld > float64(inactiveGracePeriodSeconds)
}
