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

package cloudprovider

import (
	"context"
	"fmt"
	"time"

	retry "github.com/avast/retry-go"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/samber/lo"

	"github.com/rocketboosters/fleet-manager/internal/fleet"
)

// ec2API is the slice of the EC2 client surface this package depends on,
// narrowed for testability.
type ec2API interface {
	DescribeFleets(ctx context.Context, params *ec2.DescribeFleetsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeFleetsOutput, error)
	DescribeFleetInstances(ctx context.Context, params *ec2.DescribeFleetInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeFleetInstancesOutput, error)
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	ModifyFleet(ctx context.Context, params *ec2.ModifyFleetInput, optFns ...func(*ec2.Options)) (*ec2.ModifyFleetOutput, error)
	TerminateInstances(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
}

// EC2Provider is the CloudProvider implementation backed by the live EC2
// Fleet API.
type EC2Provider struct {
	client        ec2API
	retryAttempts uint
}

// NewEC2Provider constructs an EC2Provider using ambient AWS credentials,
// optionally scoped to a named profile (the empty string uses the default
// resolution chain).
func NewEC2Provider(ctx context.Context, profile string) (*EC2Provider, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	return &EC2Provider{client: ec2.NewFromConfig(cfg), retryAttempts: 3}, nil
}

// DescribeFleet fetches the current state of the named fleet by its
// cluster/fleet tags.
func (p *EC2Provider) DescribeFleet(
	ctx context.Context,
	clusterName string,
	requirements *fleet.Requirements,
) (*fleet.Fleet, error) {
	var out *ec2.DescribeFleetsOutput
	err := retry.Do(func() error {
		var describeErr error
		out, describeErr = p.client.DescribeFleets(ctx, &ec2.DescribeFleetsInput{
			Filters: []types.Filter{
				{Name: lo.ToPtr("fleet-state"), Values: []string{"submitted", "active", "modifying"}},
				{Name: lo.ToPtr("tag:cluster"), Values: []string{clusterName}},
				{Name: lo.ToPtr("tag:fleet"), Values: []string{requirements.Name()}},
			},
		})
		return describeErr
	}, retry.Attempts(p.retryAttempts), retry.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("describing fleet %q: %w", requirements.Name(), err)
	}
	if len(out.Fleets) == 0 {
		return nil, nil
	}
	return toFleet(requirements, out.Fleets[0]), nil
}

func toFleet(requirements *fleet.Requirements, data types.FleetData) *fleet.Fleet {
	tags := make(map[string]string, len(data.Tags))
	for _, t := range data.Tags {
		tags[lo.FromPtr(t.Key)] = lo.FromPtr(t.Value)
	}
	capacity := 0
	if data.TargetCapacitySpecification != nil {
		capacity = int(lo.FromPtr(data.TargetCapacitySpecification.TotalTargetCapacity))
	}
	return &fleet.Fleet{
		Requirements: requirements,
		Identifier:   lo.FromPtr(data.FleetId),
		Capacity:     capacity,
		Tags:         tags,
	}
}

// DescribeFleetInstances lists instances belonging to the fleet that are not
// already known from the cluster's own node listing - these may be warming
// up, shutting down, or unhealthy and never registered.
func (p *EC2Provider) DescribeFleetInstances(
	ctx context.Context,
	fleetID string,
	knownInstanceIDs map[string]bool,
) ([]Instance, error) {
	var activeOut *ec2.DescribeFleetInstancesOutput
	err := retry.Do(func() error {
		var describeErr error
		activeOut, describeErr = p.client.DescribeFleetInstances(ctx, &ec2.DescribeFleetInstancesInput{FleetId: lo.ToPtr(fleetID)})
		return describeErr
	}, retry.Attempts(p.retryAttempts), retry.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("describing fleet instances for %q: %w", fleetID, err)
	}

	var unknownIDs []string
	for _, active := range activeOut.ActiveInstances {
		id := lo.FromPtr(active.InstanceId)
		if !knownInstanceIDs[id] {
			unknownIDs = append(unknownIDs, id)
		}
	}
	if len(unknownIDs) == 0 {
		return nil, nil
	}

	var describeOut *ec2.DescribeInstancesOutput
	err = retry.Do(func() error {
		var describeErr error
		describeOut, describeErr = p.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{InstanceIds: unknownIDs})
		return describeErr
	}, retry.Attempts(p.retryAttempts), retry.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("describing instances for fleet %q: %w", fleetID, err)
	}

	var instances []Instance
	for _, reservation := range describeOut.Reservations {
		for _, inst := range reservation.Instances {
			instances = append(instances, Instance{
				InstanceID:     lo.FromPtr(inst.InstanceId),
				PrivateDNSName: lo.FromPtr(inst.PrivateDnsName),
				LaunchTime:     lo.FromPtr(inst.LaunchTime),
			})
		}
	}
	return instances, nil
}

// ModifyFleetCapacity sets a fleet's target capacity, retrying transient EC2
// API failures.
func (p *EC2Provider) ModifyFleetCapacity(ctx context.Context, fleetID string, targetCapacity int) (bool, error) {
	var out *ec2.ModifyFleetOutput
	err := retry.Do(func() error {
		var modifyErr error
		out, modifyErr = p.client.ModifyFleet(ctx, &ec2.ModifyFleetInput{
			FleetId: lo.ToPtr(fleetID),
			TargetCapacitySpecification: &types.TargetCapacitySpecificationRequest{
				TotalTargetCapacity: lo.ToPtr(int32(targetCapacity)),
			},
		})
		return modifyErr
	}, retry.Attempts(p.retryAttempts), retry.Context(ctx))
	if err != nil {
		return false, fmt.Errorf("modifying fleet %q capacity to %d: %w", fleetID, targetCapacity, err)
	}
	return lo.FromPtr(out.Return), nil
}

// TerminateInstances terminates the given EC2 instances.
func (p *EC2Provider) TerminateInstances(ctx context.Context, instanceIDs []string) error {
	if len(instanceIDs) == 0 {
		return nil
	}
	return retry.Do(func() error {
		_, err := p.client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{InstanceIds: instanceIDs})
		return err
	}, retry.Attempts(p.retryAttempts), retry.Context(ctx), retry.Delay(time.Second))
}
