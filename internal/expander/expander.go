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

// Package expander carries out the growth half of a fleet capacity change:
// raising a fleet's target capacity when demand exceeds it.
package expander

import (
	"context"
	"fmt"

	"knative.dev/pkg/logging"

	"github.com/rocketboosters/fleet-manager/internal/cloudprovider"
	"github.com/rocketboosters/fleet-manager/internal/fleet"
)

// GrowFleet raises f's target capacity to targetCapacity if it is currently
// lower. It is a no-op (returning true) if the fleet is already at or above
// the target, so repeated calls are safe.
func GrowFleet(ctx context.Context, cloud cloudprovider.CloudProvider, f *fleet.Fleet, targetCapacity int) (bool, error) {
	if f.Capacity >= targetCapacity {
		return true, nil
	}

	success, err := cloud.ModifyFleetCapacity(ctx, f.Identifier, targetCapacity)
	if err != nil {
		return false, fmt.Errorf("growing fleet %q to %d: %w", f.Name(), targetCapacity, err)
	}
	if !success {
		logging.FromContext(ctx).Errorf("failed to grow %s fleet capacity", f.Name())
		return false, nil
	}
	logging.FromContext(ctx).Infof("growing %s fleet capacity to %d", f.Name(), targetCapacity)
	return true, nil
}
