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

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"k8s.io/client-go/tools/clientcmd"
	"knative.dev/pkg/logging"

	"github.com/rocketboosters/fleet-manager/internal/cloudprovider"
	"github.com/rocketboosters/fleet-manager/internal/clusterapi"
	"github.com/rocketboosters/fleet-manager/internal/config"
	"github.com/rocketboosters/fleet-manager/internal/contractor"
	"github.com/rocketboosters/fleet-manager/internal/metrics"
	"github.com/rocketboosters/fleet-manager/internal/nodeobserver"
	"github.com/rocketboosters/fleet-manager/internal/podobserver"
	"github.com/rocketboosters/fleet-manager/internal/reconciler"
)

// metricsAddr is the bind address for the /metrics HTTP listener.
const metricsAddr = ":9090"

func main() {
	args := config.Args{}

	cmd := &cobra.Command{
		Use:   "fleet-manager",
		Short: "Reconciles EC2 fleet capacity against cluster pod demand.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), args)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&args.ClusterName, "cluster-name", "", "cluster this manager reconciles (defaults to CLUSTER_NAME env)")
	flags.StringVarP(&args.Profile, "profile", "p", "", "AWS shared config profile to use")
	flags.BoolVar(&args.External, "external", false, "run outside the cluster, authenticating via kubeconfig")
	flags.BoolVar(&args.Live, "live", false, "apply changes instead of only logging them")
	flags.BoolVar(&args.PrettyPrint, "pretty-print", false, "emit human-readable console logs instead of JSON")
	flags.StringVar(&args.ConfigPath, "config-path", "", "path to the fleet configuration file")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args config.Args) error {
	cfg := config.New()
	if err := cfg.Load(args); err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := newLogger(cfg.PrettyPrint)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck
	ctx = logging.WithLogger(ctx, logger)

	cloud, err := cloudprovider.NewEC2Provider(ctx, cfg.Profile)
	if err != nil {
		return fmt.Errorf("building EC2 provider: %w", err)
	}

	cluster, err := newClusterClient(cfg.External)
	if err != nil {
		return fmt.Errorf("building cluster client: %w", err)
	}

	pods := &podobserver.Observer{Cluster: cluster}
	nodes := &nodeobserver.Observer{Cluster: cluster, Cloud: cloud}
	ctr := &contractor.Contractor{Cluster: cluster, Cloud: cloud}
	runner := reconciler.NewRunner(cfg, pods, nodes, cloud, ctr)

	go func() {
		if err := metrics.Serve(ctx, metricsAddr); err != nil {
			logger.Errorw("metrics server stopped", "error", err)
		}
	}()

	exitCode := runner.Run(ctx)
	if exitCode >= cfg.CriticalErrorThreshold {
		return fmt.Errorf("stopped after %d recent reconciliation errors", exitCode)
	}
	return nil
}

func newClusterClient(external bool) (clusterapi.Client, error) {
	if external {
		return clusterapi.NewFromKubeconfig(clientcmd.RecommendedHomeFile)
	}
	return clusterapi.NewInCluster()
}

func newLogger(prettyPrint bool) (*zap.SugaredLogger, error) {
	cfg := zap.NewProductionConfig()
	if prettyPrint {
		cfg = zap.NewDevelopmentConfig()
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}
