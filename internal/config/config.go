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

// Package config loads and validates the YAML-sourced ManagerConfig that
// drives every other component, and resolves the flag/env/file/default
// precedence described by the CLI front end.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"sigs.k8s.io/yaml"

	"github.com/rocketboosters/fleet-manager/internal/catalog"
	"github.com/rocketboosters/fleet-manager/internal/conversions"
	"github.com/rocketboosters/fleet-manager/internal/fleet"
	"github.com/rocketboosters/fleet-manager/internal/graceperiod"
)

// DefaultConfigPath is used when no path is given via flag, environment, or
// argument.
const DefaultConfigPath = "/application/config/config.yaml"

// Args carries the values the CLI front end parsed from flags. Any zero
// value defers to the environment, config file, or default per Load's
// precedence rules.
type Args struct {
	ClusterName string
	Profile     string
	External    bool
	Live        bool
	PrettyPrint bool
	ConfigPath  string
}

// fleetConfig is a single entry in a sector's fleets list.
type fleetConfig struct {
	Size                 string `json:"size"`
	CapacityMin          int    `json:"capacity_min"`
	BounceDeploymentPods bool   `json:"bounce_deployment_pods"`
}

// sectorConfig describes one sector's resource kind and fleet ladder.
type sectorConfig struct {
	Kind   string        `json:"kind"`
	Fleets []fleetConfig `json:"fleets"`
}

// fileConfig is the raw shape of the YAML configuration file.
type fileConfig struct {
	ClusterName              string                  `json:"cluster_name"`
	DefaultSector            string                  `json:"default_sector"`
	CriticalErrorThreshold   int                     `json:"critical_error_threshold"`
	SleepIntervalSeconds     int                     `json:"sleep_interval"`
	DefaultOverSubscription  *float64                `json:"default_over_subscription"`
	ReservedCPUs             string                  `json:"reserved_cpus"`
	ReservedMemory           string                  `json:"reserved_memory"`
	ConfigRefreshIntervalSec float64                 `json:"config_refresh_interval"`
	MaxLoggingIntervalSec    float64                 `json:"max_logging_interval"`
	Sectors                  map[string]sectorConfig `json:"sectors"`
	InactiveGracePeriods     []graceperiod.Config    `json:"inactive_grace_periods"`
}

// ManagerConfig is the validated, typed configuration snapshot that the
// reconciliation core consumes for an entire tick. It is refreshed wholesale
// by Refresh, never partially mutated.
type ManagerConfig struct {
	ClusterName             string        `validate:"required"`
	Profile                 string
	External                bool
	Live                    bool
	PrettyPrint             bool
	CriticalErrorThreshold  int           `validate:"min=1"`
	SleepInterval           time.Duration `validate:"min=0"`
	DefaultOverSubscription float64       `validate:"min=0"`
	ReservedCPUsV           float64       `validate:"min=0"`
	ReservedMemoryBytesV    int64         `validate:"min=0"`
	ConfigRefreshInterval   time.Duration
	MaxLoggingInterval      time.Duration
	DefaultSector           string

	Fleets []*fleet.Requirements

	GracePeriods graceperiod.Table

	configPath string
	args       Args
	lastLoadAt time.Time
}

// New constructs an empty ManagerConfig ready for Load.
func New() *ManagerConfig {
	return &ManagerConfig{}
}

// ReservedMemoryBytes implements fleet.Index.
func (m *ManagerConfig) ReservedMemoryBytes() int64 { return m.ReservedMemoryBytesV }

// ReservedCPUs implements fleet.Index.
func (m *ManagerConfig) ReservedCPUs() float64 { return m.ReservedCPUsV }

// SmallerFleet implements fleet.Index: the next-smaller fleet in the same
// sector as r, ordered by r's dominant resource.
func (m *ManagerConfig) SmallerFleet(r *fleet.Requirements) (*fleet.Requirements, bool) {
	var candidates []*fleet.Requirements
	for _, f := range m.Fleets {
		if f.Sector != r.Sector || f == r {
			continue
		}
		if smallerThan(f.SizeSpec, r.SizeSpec) {
			candidates = append(candidates, f)
		}
	}
	if len(candidates) == 0 {
		return nil, false
	}
	if r.SizeSpec.Kind == catalog.Memory {
		sort.Slice(candidates, func(i, j int) bool {
			return candidates[i].SizeSpec.MemoryMax() > candidates[j].SizeSpec.MemoryMax()
		})
	} else {
		sort.Slice(candidates, func(i, j int) bool {
			return candidates[i].SizeSpec.CPUMax() > candidates[j].SizeSpec.CPUMax()
		})
	}
	return candidates[0], true
}

func smallerThan(a, b catalog.Spec) bool {
	if a.Kind == catalog.Memory {
		return a.MemoryMax() < b.MemoryMax()
	}
	return a.CPUMax() < b.CPUMax()
}

// DefaultFleetSector is the sector assigned to pods with no explicit hint.
func (m *ManagerConfig) DefaultFleetSector() string {
	if m.DefaultSector != "" {
		return m.DefaultSector
	}
	if len(m.Fleets) == 0 {
		return "unknown"
	}
	return m.Fleets[0].Sector
}

// DryRun reports whether writes should be skipped.
func (m *ManagerConfig) DryRun() bool { return !m.Live }

// GetClusterName is the cluster this configuration manages.
func (m *ManagerConfig) GetClusterName() string { return m.ClusterName }

// GetFleets is the configured fleet ladder across every sector.
func (m *ManagerConfig) GetFleets() []*fleet.Requirements { return m.Fleets }

// GetDefaultOverSubscription is the multiplier applied to declared pod
// resource requests/limits when computing demand.
func (m *ManagerConfig) GetDefaultOverSubscription() float64 { return m.DefaultOverSubscription }

// GetInactiveGracePeriod is the inactive grace period that applies right
// now, per the configured time-of-day table.
func (m *ManagerConfig) GetInactiveGracePeriod() time.Duration {
	return time.Duration(m.GracePeriods.Lookup(time.Now())) * time.Second
}

// SecondsOld is the time elapsed since this snapshot was (re)loaded.
func (m *ManagerConfig) SecondsOld() float64 {
	return time.Since(m.lastLoadAt).Seconds()
}

// FleetByName finds a fleet's Requirements by its "{sector}-{size}" name.
func (m *ManagerConfig) FleetByName(name string) (*fleet.Requirements, bool) {
	for _, f := range m.Fleets {
		if f.Name() == name {
			return f, true
		}
	}
	return nil, false
}

// Load resolves the flag/env/file/default precedence, reads and validates
// the configuration file, and populates m. It is safe to call repeatedly
// (Refresh is an alias for this behavior).
func (m *ManagerConfig) Load(args Args) error {
	m.args = args
	m.lastLoadAt = time.Now()

	path := resolveConfigPath(args)
	m.configPath = path

	raw, err := readFile(path)
	if err != nil {
		return err
	}

	clusterName := firstNonEmpty(args.ClusterName, os.Getenv("CLUSTER_NAME"), raw.ClusterName)
	if clusterName == "" {
		return fmt.Errorf("a cluster name must be supplied")
	}

	overSubscription := 0.2
	if raw.DefaultOverSubscription != nil {
		overSubscription = *raw.DefaultOverSubscription
	}

	reservedCPUs := conversions.ToCPUs(firstNonEmpty(raw.ReservedCPUs, "1"))
	reservedMemory := conversions.ToBytes(context.Background(), firstNonEmpty(raw.ReservedMemory, defaultReservedMemory))

	critical := raw.CriticalErrorThreshold
	if critical == 0 {
		critical = 100
	}
	sleep := raw.SleepIntervalSeconds
	if sleep == 0 {
		sleep = 20
	}
	refreshInterval := raw.ConfigRefreshIntervalSec
	if refreshInterval == 0 {
		refreshInterval = 60
	}
	maxLogInterval := raw.MaxLoggingIntervalSec
	if maxLogInterval == 0 {
		maxLogInterval = 120
	}

	fleets, err := fleetsFromConfig(raw.Sectors)
	if err != nil {
		return err
	}

	gracePeriods, err := graceperiod.NewTable(raw.InactiveGracePeriods)
	if err != nil {
		return err
	}

	m.ClusterName = clusterName
	m.Profile = firstNonEmpty(args.Profile, m.Profile)
	m.DefaultSector = firstNonEmpty(raw.DefaultSector, m.DefaultSector)
	m.External = m.External || args.External
	m.Live = m.Live || args.Live
	m.PrettyPrint = m.PrettyPrint || args.PrettyPrint
	m.CriticalErrorThreshold = critical
	m.SleepInterval = time.Duration(sleep) * time.Second
	m.DefaultOverSubscription = overSubscription
	m.ReservedCPUsV = reservedCPUs
	m.ReservedMemoryBytesV = reservedMemory
	m.ConfigRefreshInterval = time.Duration(refreshInterval * float64(time.Second))
	m.MaxLoggingInterval = time.Duration(maxLogInterval * float64(time.Second))
	m.Fleets = fleets
	m.GracePeriods = gracePeriods

	return m.Validate()
}

// Refresh re-reads the configuration using the arguments from the most
// recent Load call.
func (m *ManagerConfig) Refresh() error {
	return m.Load(m.args)
}

// Validate runs struct-tag validation over the resolved configuration.
func (m *ManagerConfig) Validate() error {
	return validator.New().Struct(m)
}

func resolveConfigPath(args Args) string {
	return firstNonEmpty(args.ConfigPath, os.Getenv("CONFIG_PATH"), DefaultConfigPath)
}

func readFile(path string) (fileConfig, error) {
	var raw fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return raw, nil
		}
		return raw, fmt.Errorf("reading config file %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return raw, fmt.Errorf("parsing config file %q: %w", path, err)
	}
	return raw, nil
}

func fleetsFromConfig(sectors map[string]sectorConfig) ([]*fleet.Requirements, error) {
	var out []*fleet.Requirements
	for sector, sc := range sectors {
		kindRaw := sc.Kind
		if kindRaw == "" {
			kindRaw = "memory"
		}
		kind, err := catalog.ParseKind(kindRaw)
		if err != nil {
			return nil, fmt.Errorf("sector %q: %w", sector, err)
		}
		for _, fc := range sc.Fleets {
			sizeRaw := fc.Size
			if sizeRaw == "" {
				sizeRaw = "small"
			}
			size, err := catalog.ParseSize(sizeRaw)
			if err != nil {
				return nil, fmt.Errorf("sector %q: %w", sector, err)
			}
			spec, err := catalog.Lookup(size, kind)
			if err != nil {
				return nil, fmt.Errorf("sector %q: %w", sector, err)
			}
			out = append(out, &fleet.Requirements{
				Sector:               sector,
				SizeSpec:             spec,
				CapacityMin:          fc.CapacityMin,
				BounceDeploymentPods: fc.BounceDeploymentPods,
			})
		}
	}
	return out, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

const defaultReservedMemory = "2500M"

// ToLogFields renders the configuration into a JSON-safe map suitable for a
// structured log record.
func (m *ManagerConfig) ToLogFields() map[string]interface{} {
	b, _ := json.Marshal(struct {
		ClusterName             string  `json:"cluster_name"`
		External                bool    `json:"external"`
		Live                    bool    `json:"live"`
		CriticalErrorThreshold  int     `json:"critical_error_threshold"`
		SleepIntervalSeconds    float64 `json:"sleep_interval"`
		DefaultOverSubscription float64 `json:"default_over_subscription"`
		ReservedCPUs            float64 `json:"reserved_cpus"`
		ReservedMemoryBytes     int64   `json:"reserved_memory"`
		FleetCount              int     `json:"fleet_count"`
	}{
		ClusterName:             m.ClusterName,
		External:                m.External,
		Live:                    m.Live,
		CriticalErrorThreshold:  m.CriticalErrorThreshold,
		SleepIntervalSeconds:    m.SleepInterval.Seconds(),
		DefaultOverSubscription: m.DefaultOverSubscription,
		ReservedCPUs:            m.ReservedCPUsV,
		ReservedMemoryBytes:     m.ReservedMemoryBytesV,
		FleetCount:              len(m.Fleets),
	})
	var fields map[string]interface{}
	_ = json.Unmarshal(b, &fields)
	return fields
}
