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

package graceperiod_test

import (
	"testing"
	"time"

	"github.com/rocketboosters/fleet-manager/internal/graceperiod"
)

func mustTable(t *testing.T) graceperiod.Table {
	t.Helper()
	table, err := graceperiod.NewTable([]graceperiod.Config{
		{Starts: "08:00", Ends: "14:00", Value: 1200, Days: []int{1}},
		{Starts: "22:00", Ends: "04:00", Value: 1600, Days: []int{2}},
		{Starts: "19:00", Ends: "20:00", Value: 42},
	})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	return table
}

// dateAt builds a UTC time on a known Monday-anchored week (2024-01-01 is a
// Monday) at the given ISO weekday and time-of-day.
func dateAt(isoWeekday, hour, minute, second int) time.Time {
	base := time.Date(2024, 1, 1, hour, minute, second, 0, time.UTC) // Monday
	return base.AddDate(0, 0, isoWeekday-1)
}

func TestTableLookupScenarios(t *testing.T) {
	table := mustTable(t)

	cases := []struct {
		name     string
		weekday  int
		hour     int
		minute   int
		second   int
		expected int
	}{
		{"Mon 09:30", 1, 9, 30, 0, 1200},
		{"Tue 22:00", 2, 22, 0, 0, 1600},
		{"Tue 03:59:59", 2, 3, 59, 59, 1600},
		{"Tue 19:30", 2, 19, 30, 0, 42},
		{"Tue 09:30", 2, 9, 30, 0, graceperiod.DefaultValueSeconds},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := table.Lookup(dateAt(c.weekday, c.hour, c.minute, c.second))
			if got != c.expected {
				t.Errorf("Lookup(%s) = %d, want %d", c.name, got, c.expected)
			}
		})
	}
}

func TestEmptyTableAlwaysHasDefault(t *testing.T) {
	table, err := graceperiod.NewTable(nil)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if got := table.Lookup(time.Now()); got != graceperiod.DefaultValueSeconds {
		t.Errorf("expected default value, got %d", got)
	}
}
