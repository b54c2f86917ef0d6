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

// Package catalog holds the closed registry of fleet size specifications:
// the candidate EC2 instance types and their derived resource bounds for
// each (size, kind) pair a fleet can be configured with.
package catalog

import "fmt"

// Size identifies the t-shirt size of a fleet's nodes.
type Size string

const (
	XSmall Size = "xsmall"
	Small  Size = "small"
	Medium Size = "medium"
	Large  Size = "large"
	XLarge Size = "xlarge"
)

// Kind identifies which resource a fleet is optimized for.
type Kind string

const (
	Memory Kind = "memory"
	CPU    Kind = "cpu"
)

// InstanceType describes a single EC2 instance type's capacity.
type InstanceType struct {
	Name       string
	VCPU       float64
	MemoryByte int64
}

// Spec is the immutable resource envelope for a given (size, kind) pair,
// derived conservatively from the smallest instance in its candidate set so
// that scheduling decisions hold no matter which instance type is actually
// launched.
type Spec struct {
	Size          Size
	Kind          Kind
	InstanceTypes []InstanceType
}

// MemoryMax is the minimum memory, in bytes, across the candidate instance
// types - a conservative upper bound for what may be scheduled.
func (s Spec) MemoryMax() int64 {
	min := s.InstanceTypes[0].MemoryByte
	for _, it := range s.InstanceTypes[1:] {
		if it.MemoryByte < min {
			min = it.MemoryByte
		}
	}
	return min
}

// CPUMax is the minimum vCPU count across the candidate instance types.
func (s Spec) CPUMax() float64 {
	min := s.InstanceTypes[0].VCPU
	for _, it := range s.InstanceTypes[1:] {
		if it.VCPU < min {
			min = it.VCPU
		}
	}
	return min
}

func lookupKey(size Size, kind Kind) string {
	return fmt.Sprintf("%s-%s", size, kind)
}

var registry = map[string]Spec{}

func register(s Spec) {
	registry[lookupKey(s.Size, s.Kind)] = s
}

func init() {
	register(Spec{
		Size: XSmall, Kind: Memory,
		InstanceTypes: []InstanceType{
			{"r4.large", 2.0, int64(15.25 * gib)},
			{"r5.large", 2.0, 16 * gib},
			{"m4.xlarge", 4.0, 16 * gib},
			{"m5.xlarge", 4.0, 16 * gib},
		},
	})
	register(Spec{
		Size: XSmall, Kind: CPU,
		InstanceTypes: []InstanceType{
			{"c4.xlarge", 4.0, int64(7.5 * gib)},
			{"c5.xlarge", 4.0, 8 * gib},
			{"m4.xlarge", 4.0, 16 * gib},
			{"m5.xlarge", 4.0, 16 * gib},
		},
	})
	register(Spec{
		Size: Small, Kind: Memory,
		InstanceTypes: []InstanceType{
			{"r4.xlarge", 4.0, int64(30.5 * gib)},
			{"r5.xlarge", 4.0, 32 * gib},
			{"m4.2xlarge", 8.0, 32 * gib},
			{"m5.2xlarge", 8.0, 32 * gib},
		},
	})
	register(Spec{
		Size: Small, Kind: CPU,
		InstanceTypes: []InstanceType{
			{"c4.2xlarge", 8.0, 15 * gib},
			{"c5.2xlarge", 8.0, 16 * gib},
			{"m4.2xlarge", 8.0, 32 * gib},
			{"m5.2xlarge", 8.0, 32 * gib},
		},
	})
	register(Spec{
		Size: Medium, Kind: Memory,
		InstanceTypes: []InstanceType{
			{"r4.2xlarge", 8.0, 61 * gib},
			{"r5.2xlarge", 8.0, 64 * gib},
			{"m4.4xlarge", 16.0, 64 * gib},
			{"m5.4xlarge", 16.0, 64 * gib},
		},
	})
	register(Spec{
		Size: Medium, Kind: CPU,
		InstanceTypes: []InstanceType{
			{"c4.4xlarge", 16.0, 30 * gib},
			{"c5.4xlarge", 16.0, 32 * gib},
			{"m4.4xlarge", 16.0, 64 * gib},
			{"m5.4xlarge", 16.0, 64 * gib},
		},
	})
	register(Spec{
		Size: Large, Kind: Memory,
		InstanceTypes: []InstanceType{
			{"r4.4xlarge", 16.0, 122 * gib},
			{"r5.4xlarge", 16.0, 128 * gib},
			{"m4.10xlarge", 40.0, 160 * gib},
			{"m5.8xlarge", 32.0, 128 * gib},
		},
	})
	register(Spec{
		Size: Large, Kind: CPU,
		InstanceTypes: []InstanceType{
			{"c4.8xlarge", 36.0, 60 * gib},
			{"c5.9xlarge", 36.0, 72 * gib},
			{"m4.10xlarge", 40.0, 160 * gib},
			{"m5.12xlarge", 48.0, 192 * gib},
		},
	})
	register(Spec{
		Size: XLarge, Kind: Memory,
		InstanceTypes: []InstanceType{
			{"r4.8xlarge", 32.0, 244 * gib},
			{"r5.8xlarge", 32.0, 256 * gib},
			{"m4.16xlarge", 64.0, 256 * gib},
			{"m5.16xlarge", 64.0, 256 * gib},
		},
	})
	register(Spec{
		Size: XLarge, Kind: CPU,
		InstanceTypes: []InstanceType{
			{"c5.18xlarge", 72.0, 144 * gib},
			{"m4.16xlarge", 64.0, 256 * gib},
			{"m5.16xlarge", 64.0, 256 * gib},
		},
	})
}

const gib = 1024 * 1024 * 1024

// Lookup resolves a (size, kind) pair to its Spec. The catalog is closed:
// an unrecognized size or kind is a configuration error.
func Lookup(size Size, kind Kind) (Spec, error) {
	spec, ok := registry[lookupKey(size, kind)]
	if !ok {
		return Spec{}, fmt.Errorf("unknown fleet configuration of %q and %q", size, kind)
	}
	return spec, nil
}

// ParseSize normalizes common abbreviations ("s", "m", "l", "xl") to a Size.
func ParseSize(raw string) (Size, error) {
	switch raw {
	case "xsmall", "xs":
		return XSmall, nil
	case "small", "s":
		return Small, nil
	case "medium", "m":
		return Medium, nil
	case "large", "l":
		return Large, nil
	case "xlarge", "xl":
		return XLarge, nil
	default:
		return "", fmt.Errorf("unknown fleet size %q", raw)
	}
}

// ParseKind normalizes a resource kind string.
func ParseKind(raw string) (Kind, error) {
	switch raw {
	case "memory":
		return Memory, nil
	case "cpu":
		return CPU, nil
	default:
		return "", fmt.Errorf("unknown fleet kind %q", raw)
	}
}
