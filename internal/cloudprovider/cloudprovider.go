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

// Package cloudprovider is the seam between the reconciliation core and the
// EC2 Fleet API that actually backs a fleet's worker node capacity.
package cloudprovider

import (
	"context"
	"time"

	"github.com/rocketboosters/fleet-manager/internal/fleet"
)

// Instance is an EC2 instance observed outside the fleet's known cluster
// membership - either warming up or shutting down.
type Instance struct {
	InstanceID     string
	PrivateDNSName string
	LaunchTime     time.Time
}

// CloudProvider is the EC2-backed fleet surface the reconciliation core
// depends on. Implementations must be safe for concurrent use.
type CloudProvider interface {
	// DescribeFleet fetches the current state of the named fleet, returning
	// (nil, nil) if no matching fleet exists.
	DescribeFleet(ctx context.Context, clusterName string, requirements *fleet.Requirements) (*fleet.Fleet, error)
	// DescribeFleetInstances lists active instances for a fleet, excluding
	// any instance ID present in knownInstanceIDs.
	DescribeFleetInstances(ctx context.Context, fleetID string, knownInstanceIDs map[string]bool) ([]Instance, error)
	// ModifyFleetCapacity sets a fleet's target capacity, reporting whether
	// the EC2 API accepted the change.
	ModifyFleetCapacity(ctx context.Context, fleetID string, targetCapacity int) (bool, error)
	// TerminateInstances terminates the given EC2 instances outright.
	TerminateInstances(ctx context.Context, instanceIDs []string) error
}
