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

// Package reconciler runs the fleet-manager's main loop: on every tick it
// computes capacity targets for every fleet and idempotently applies
// whatever growth or shrinkage each fleet needs to reach them.
package reconciler

import (
	"context"
	"time"

	"knative.dev/pkg/logging"

	"github.com/rocketboosters/fleet-manager/internal/allocator"
	"github.com/rocketboosters/fleet-manager/internal/changemonitor"
	"github.com/rocketboosters/fleet-manager/internal/cloudprovider"
	"github.com/rocketboosters/fleet-manager/internal/config"
	"github.com/rocketboosters/fleet-manager/internal/contractor"
	"github.com/rocketboosters/fleet-manager/internal/expander"
	"github.com/rocketboosters/fleet-manager/internal/fleet"
	"github.com/rocketboosters/fleet-manager/internal/metrics"
	"github.com/rocketboosters/fleet-manager/internal/nodeobserver"
	"github.com/rocketboosters/fleet-manager/internal/podobserver"
)

// Status carries state across reconciliation loop iterations.
type Status struct {
	RecentErrorCount    int
	LastLogged          time.Time
	PreviousAllocations map[string]allocator.Capacity
}

// SecondsSinceLogged is the time elapsed since the last structured log of
// an allocation decision.
func (s *Status) SecondsSinceLogged() float64 {
	return time.Since(s.LastLogged).Seconds()
}

// Runner owns everything the reconciliation loop needs each tick.
type Runner struct {
	Config     *config.ManagerConfig
	Cluster    allocator.Observers
	Contractor *contractor.Contractor
	Cloud      cloudprovider.CloudProvider
	changes    *changemonitor.ChangeMonitor
}

// NewRunner wires a Runner from its component dependencies.
func NewRunner(cfg *config.ManagerConfig, pods *podobserver.Observer, nodes *nodeobserver.Observer, cloud cloudprovider.CloudProvider, ctr *contractor.Contractor) *Runner {
	return &Runner{
		Config:     cfg,
		Cluster:    allocator.Observers{Pods: pods, Nodes: nodes, Cloud: cloud},
		Contractor: ctr,
		Cloud:      cloud,
		changes:    changemonitor.New(),
	}
}

// updateFleetResult is the per-fleet node-side-effect summary returned by
// updateFleet. Execute reads only TargetNodes, for the capacity_actual
// metric; the other fields are not logged.
type updateFleetResult struct {
	Error         string
	ActiveNodes   int
	DesiredNodes  int
	CurrentNodes  int
	TargetNodes   int
	UnfilledNodes int
}

// updateFleet determines and, unless the manager is in dry-run mode,
// applies whatever capacity change the fleet needs to reach
// desiredCapacity. It is idempotent: calling it repeatedly at the same
// desired capacity converges rather than repeatedly scaling.
func (r *Runner) updateFleet(ctx context.Context, requirements *fleet.Requirements, desiredCapacity int) updateFleetResult {
	f, err := r.Cloud.DescribeFleet(ctx, r.Config.GetClusterName(), requirements)
	if err != nil || f == nil {
		return updateFleetResult{Error: "FLEET_NOT_FOUND"}
	}

	pods, err := r.Cluster.Pods.GetPods(
		ctx,
		r.Config.DefaultFleetSector(),
		r.Config.GetDefaultOverSubscription(),
		r.Config.GetInactiveGracePeriod(),
	)
	if err != nil {
		return updateFleetResult{Error: "POD_LIST_FAILED"}
	}

	fleetNodes, err := r.Cluster.Nodes.GetNodes(ctx, f, pods, int(r.Config.GetInactiveGracePeriod().Seconds()))
	if err != nil {
		return updateFleetResult{Error: "NODE_LIST_FAILED"}
	}
	activeCount := 0
	for _, n := range fleetNodes {
		if n.State == fleet.StateActive {
			activeCount++
		}
	}

	if !r.Config.DryRun() {
		if _, err := r.Contractor.ShrinkFleet(ctx, f, desiredCapacity, fleetNodes, int(r.Config.GetInactiveGracePeriod().Seconds())); err != nil {
			logging.FromContext(ctx).Errorw("shrink fleet failed", "fleet", requirements.Name(), "error", err)
		}
		if _, err := expander.GrowFleet(ctx, r.Cloud, f, desiredCapacity); err != nil {
			logging.FromContext(ctx).Errorw("grow fleet failed", "fleet", requirements.Name(), "error", err)
		}
	}

	unfilled := desiredCapacity - activeCount
	if unfilled < 0 {
		unfilled = 0
	}

	return updateFleetResult{
		ActiveNodes:   activeCount,
		DesiredNodes:  desiredCapacity,
		CurrentNodes:  len(fleetNodes),
		TargetNodes:   f.Capacity,
		UnfilledNodes: unfilled,
	}
}

// Execute runs a single reconciliation pass: compute capacity targets for
// every fleet, apply them, update status bookkeeping, and log when
// anything changed or the max logging interval elapsed.
func (r *Runner) Execute(ctx context.Context, status *Status) error {
	targets, err := allocator.GetCapacityTargets(ctx, r.Config, r.Cluster)
	if err != nil {
		return err
	}

	for name, target := range targets {
		requirements, ok := r.Config.FleetByName(name)
		if !ok {
			continue
		}
		result := r.updateFleet(ctx, requirements, target.Target)

		metrics.FleetCapacityTarget.WithLabelValues(name).Set(float64(target.Target))
		metrics.FleetCapacityActual.WithLabelValues(name).Set(float64(result.TargetNodes))
		metrics.FleetPodsAllocated.WithLabelValues(name).Set(float64(len(target.PodCapacities)))

		_ = result
	}

	status.RecentErrorCount = maxInt(0, status.RecentErrorCount-1)
	changing := r.changes.HasChanged("allocations", targets)
	status.PreviousAllocations = targets

	if changing || status.SecondsSinceLogged() >= r.Config.MaxLoggingInterval.Seconds() {
		status.LastLogged = time.Now()
		logging.FromContext(ctx).Infow(
			"reallocating",
			"recent_error_count", status.RecentErrorCount,
			"changing", changing,
			"allocations", nonEmptyAllocations(targets),
		)
	}

	return nil
}

func nonEmptyAllocations(targets map[string]allocator.Capacity) map[string]allocator.Capacity {
	out := make(map[string]allocator.Capacity, len(targets))
	for name, c := range targets {
		if !c.IsEmpty {
			out[name] = c
		}
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Run loops indefinitely, sleeping SleepInterval between reconciliation
// passes and refreshing configuration on ConfigRefreshInterval, until
// either ctx is canceled or the recent error count reaches the critical
// error threshold. It returns the final recent error count.
func (r *Runner) Run(ctx context.Context) int {
	logging.FromContext(ctx).Infow("starting", "config", r.Config.ToLogFields())

	status := &Status{LastLogged: time.Unix(0, 0)}

	for status.RecentErrorCount < r.Config.CriticalErrorThreshold {
		select {
		case <-ctx.Done():
			return status.RecentErrorCount
		case <-time.After(r.Config.SleepInterval):
		}

		if r.Config.SecondsOld() > r.Config.ConfigRefreshInterval.Seconds() {
			if err := r.Config.Refresh(); err != nil {
				logging.FromContext(ctx).Errorw("config refresh failed", "error", err)
			}
		}

		if err := r.Execute(ctx, status); err != nil {
			logging.FromContext(ctx).Errorw("reconciliation failed", "error", err)
			metrics.ReconcileErrorsTotal.Inc()
			status.RecentErrorCount++
		}
	}

	return status.RecentErrorCount
}
