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

package conversions_test

import (
	"context"
	"testing"

	"github.com/rocketboosters/fleet-manager/internal/conversions"
)

func TestToBytes(t *testing.T) {
	cases := map[string]int64{
		"":      0,
		"50k":   50_000,
		"50K":   50_000,
		"2Gi":   2 * 1024 * 1024 * 1024,
		"2G":    2 * 1000 * 1000 * 1000,
		"256Mi": 256 * 1024 * 1024,
		"256M":  256 * 1000 * 1000,
		"1024":  1024,
		"5Ki":   5 * 1024,
		"bogus": 0,
	}
	for input, expected := range cases {
		if got := conversions.ToBytes(context.Background(), input); got != expected {
			t.Errorf("ToBytes(%q) = %d, want %d", input, got, expected)
		}
	}
}

func TestToCPUs(t *testing.T) {
	cases := map[string]float64{
		"":      0,
		"1":     1,
		"1.2":   1.2,
		"400m":  0.4,
		"2000m": 2,
		"bogus": 0,
	}
	for input, expected := range cases {
		if got := conversions.ToCPUs(input); got != expected {
			t.Errorf("ToCPUs(%q) = %v, want %v", input, got, expected)
		}
	}
}
