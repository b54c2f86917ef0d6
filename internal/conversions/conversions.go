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

// Package conversions parses Kubernetes-style resource quantity strings into
// the plain numeric units the allocator operates on.
package conversions

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"knative.dev/pkg/logging"
)

var sizeRegex = regexp.MustCompile(`(?P<value>[0-9.]+)(?P<units>.+)`)

// memoryScales maps a lowercase unit suffix to its byte multiplier. "m" is
// decimal mega here, not milli - that collision is CPU-parser-only.
var memoryScales = map[string]float64{
	"ki": 1024,
	"k":  1000,
	"mi": 1024 * 1024,
	"m":  1000 * 1000,
	"gi": 1024 * 1024 * 1024,
	"g":  1000 * 1000 * 1000,
}

// ToBytes converts a Kubernetes memory resource string (e.g. "50k", "2Gi")
// into its representative byte count. An empty string returns 0, and a bare
// integer is taken as a byte count. A string that fails to parse returns 0
// and logs a diagnostic if a logger is present on ctx.
func ToBytes(ctx context.Context, size string) int64 {
	if size == "" {
		return 0
	}
	if n, err := strconv.ParseInt(size, 10, 64); err == nil {
		return n
	}

	match := sizeRegex.FindStringSubmatch(size)
	if match == nil {
		logging.FromContext(ctx).Errorf("unknown size identifier %q", size)
		return 0
	}

	valueIdx := sizeRegex.SubexpIndex("value")
	unitsIdx := sizeRegex.SubexpIndex("units")
	value, err := strconv.ParseFloat(match[valueIdx], 64)
	if err != nil {
		logging.FromContext(ctx).Errorf("unknown size identifier %q: %s", size, err)
		return 0
	}
	scale, ok := memoryScales[strings.ToLower(match[unitsIdx])]
	if !ok {
		logging.FromContext(ctx).Errorf("unknown size identifier %q: unrecognized unit %q", size, match[unitsIdx])
		return 0
	}
	return int64(value * scale)
}

// ToCPUs converts a Kubernetes CPU resource string (e.g. "1", "1.2", "400m")
// into its float value in whole vCPU units. An empty string returns 0.
func ToCPUs(size string) float64 {
	if size == "" {
		return 0
	}
	if v, err := strconv.ParseFloat(size, 64); err == nil {
		return v
	}
	// Handles the milli-CPU unit case, e.g. "400m" -> 0.4.
	trimmed := strings.TrimSuffix(size, "m")
	v, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0
	}
	return v / 1000
}
