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

// Package metrics exposes the reconciler's fleet capacity decisions as
// Prometheus gauges/counters, served over a bare registry rather than
// controller-runtime's manager-owned one since this binary has no manager.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace is the metric name prefix for everything this package exports.
const Namespace = "fleetmanager"

var (
	FleetCapacityTarget = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "fleet",
			Name:      "capacity_target",
			Help:      "Desired node capacity computed for the fleet on the most recent reconciliation.",
		},
		[]string{"fleet"},
	)
	FleetCapacityActual = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "fleet",
			Name:      "capacity_actual",
			Help:      "Observed EC2 fleet target capacity on the most recent reconciliation.",
		},
		[]string{"fleet"},
	)
	FleetPodsAllocated = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "fleet",
			Name:      "pods_allocated",
			Help:      "Number of pods allocated to the fleet on the most recent reconciliation.",
		},
		[]string{"fleet"},
	)
	ReconcileErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "reconcile_errors_total",
			Help:      "Total number of reconciliation loop iterations that returned an error.",
		},
	)
)

// Registry is the bare Prometheus registry all metrics above are registered
// against.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(FleetCapacityTarget, FleetCapacityActual, FleetPodsAllocated, ReconcileErrorsTotal)
}

// Serve starts the /metrics HTTP listener on addr, returning once ctx is
// canceled or the listener fails.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(Registry, promhttp.HandlerOpts{}))

	server := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return server.Close()
	case err := <-errCh:
		return err
	}
}
