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

// Package podobserver turns the cluster's live pod list into the
// CapacityItems the allocator schedules against, applying the rules that
// decide which pods count toward fleet capacity at all.
package podobserver

import (
	"context"
	"strings"
	"time"

	v1 "k8s.io/api/core/v1"

	"github.com/rocketboosters/fleet-manager/internal/catalog"
	"github.com/rocketboosters/fleet-manager/internal/clusterapi"
	"github.com/rocketboosters/fleet-manager/internal/conversions"
	"github.com/rocketboosters/fleet-manager/internal/fleet"
)

// bouncableTransitionWindow is how recently a pod must NOT have transitioned
// into Running for it to be considered safe to bounce off an unneeded node.
const bouncableTransitionWindow = 1800 * time.Second

var compatibleSelectorKeys = []string{"sector", "fleet", "size"}

// lastTransitionTime returns the most recent pod condition transition time,
// or the zero time if the pod has no conditions.
func lastTransitionTime(pod *v1.Pod) time.Time {
	var latest time.Time
	for _, c := range pod.Status.Conditions {
		if c.LastTransitionTime.Time.After(latest) {
			latest = c.LastTransitionTime.Time
		}
	}
	return latest
}

func hasCompatibleSelector(pod *v1.Pod) bool {
	for _, key := range compatibleSelectorKeys {
		if _, ok := pod.Spec.NodeSelector[key]; ok {
			return true
		}
	}
	return false
}

// isBlockingPod reports whether a pod should be considered in fleet
// capacity allocation.
func isBlockingPod(pod *v1.Pod, now time.Time, inactiveGracePeriod time.Duration) bool {
	recentlyTransitioned := !lastTransitionTime(pod).Before(now.Add(-inactiveGracePeriod))
	compatibleSelector := hasCompatibleSelector(pod)

	isDaemonSet := false
	for _, ref := range pod.OwnerReferences {
		if ref.Kind == "DaemonSet" {
			isDaemonSet = true
			break
		}
	}

	phase := strings.ToLower(string(pod.Status.Phase))

	return (pod.Namespace != "kube-system" || compatibleSelector) &&
		!isDaemonSet &&
		(phase == "running" || phase == "pending" ||
			(inactiveGracePeriod > 0 && recentlyTransitioned))
}

// isBouncablePod reports whether a pod could be safely rescheduled onto a
// different node - only ReplicaSet-owned, running, and not recently
// transitioned pods qualify.
func isBouncablePod(pod *v1.Pod, now time.Time) bool {
	recentlyTransitioned := !lastTransitionTime(pod).Before(now.Add(-bouncableTransitionWindow))
	compatibleSelector := hasCompatibleSelector(pod)

	controllerKind := ""
	for _, ref := range pod.OwnerReferences {
		if ref.Controller != nil && *ref.Controller {
			controllerKind = ref.Kind
			break
		}
	}

	return (pod.Namespace != "kube-system" || compatibleSelector) &&
		controllerKind == "ReplicaSet" &&
		strings.ToLower(string(pod.Status.Phase)) == "running" &&
		!recentlyTransitioned
}

// needsResources reports whether a pod in the given phase still requires
// its scheduled node resources, as opposed to merely lingering during a
// grace period after completing.
func needsResources(pod *v1.Pod) bool {
	switch pod.Status.Phase {
	case v1.PodRunning, v1.PodPending:
		return true
	default:
		return false
	}
}

// toCapacityItem converts a pod into its CapacityItem, applying the
// over-subscription multiplier to its declared container resources.
func toCapacityItem(pod *v1.Pod, defaultSector string, overSubscription float64, now time.Time) *fleet.CapacityItem {
	var memory int64
	var cpus float64
	for _, c := range pod.Spec.Containers {
		memory += conversions.ToBytes(context.Background(), requestOrLimit(c, "memory"))
		cpus += conversions.ToCPUs(requestOrLimit(c, "cpu"))
	}

	sector := defaultSector
	var size catalog.Size
	if fleetHint, ok := pod.Spec.NodeSelector["fleet"]; ok {
		if idx := strings.Index(fleetHint, "-"); idx >= 0 {
			sector = fleetHint[:idx]
			size = catalog.Size(fleetHint[idx+1:])
		}
	} else {
		if s, ok := pod.Spec.NodeSelector["sector"]; ok {
			sector = s
		}
		if s, ok := pod.Spec.NodeSelector["size"]; ok {
			size = catalog.Size(s)
		}
	}

	return &fleet.CapacityItem{
		PodID:          pod.Namespace + ":" + pod.Name,
		Sector:         sector,
		Size:           size,
		MemoryBytes:    int64((1 + overSubscription) * float64(memory)),
		CPUUnits:       (1 + overSubscription) * cpus,
		PodPhase:       pod.Status.Phase,
		IsBouncable:    isBouncablePod(pod, now),
		NeedsResources: needsResources(pod),
		NodeName:       pod.Spec.NodeName,
	}
}

func requestOrLimit(c v1.Container, resourceName v1.ResourceName) string {
	if q, ok := c.Resources.Limits[resourceName]; ok {
		return q.String()
	}
	if q, ok := c.Resources.Requests[resourceName]; ok {
		return q.String()
	}
	return "0"
}

// Observer lists and classifies pods for capacity accounting.
type Observer struct {
	Cluster clusterapi.Client
}

// GetPods lists every pod that should block fleet capacity accounting and
// converts each into its CapacityItem, given the sector pods default into
// and the over-subscription factor applied to declared resources.
func (o *Observer) GetPods(
	ctx context.Context,
	defaultSector string,
	overSubscription float64,
	inactiveGracePeriod time.Duration,
) ([]*fleet.CapacityItem, error) {
	pods, err := o.Cluster.ListPods(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	items := make([]*fleet.CapacityItem, 0, len(pods))
	for i := range pods {
		pod := &pods[i]
		if !isBlockingPod(pod, now, inactiveGracePeriod) {
			continue
		}
		items = append(items, toCapacityItem(pod, defaultSector, overSubscription, now))
	}
	return items, nil
}
