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

package changemonitor_test

import (
	"testing"

	"github.com/rocketboosters/fleet-manager/internal/changemonitor"
)

func TestHasChangedFirstObservationIsAlwaysAChange(t *testing.T) {
	m := changemonitor.New()
	if !m.HasChanged("key", map[string]int{"a": 1}) {
		t.Fatal("expected the first observation of a key to report changed")
	}
}

func TestHasChangedStableValueDoesNotReport(t *testing.T) {
	m := changemonitor.New()
	value := map[string]int{"a": 1}
	m.HasChanged("key", value)
	if m.HasChanged("key", value) {
		t.Fatal("expected an unchanged value to not report changed")
	}
}

func TestHasChangedDifferentValueReports(t *testing.T) {
	m := changemonitor.New()
	m.HasChanged("key", map[string]int{"a": 1})
	if !m.HasChanged("key", map[string]int{"a": 2}) {
		t.Fatal("expected a different value to report changed")
	}
}

func TestHasChangedKeysAreIndependent(t *testing.T) {
	m := changemonitor.New()
	m.HasChanged("key-a", 1)
	if !m.HasChanged("key-b", 1) {
		t.Fatal("expected a different key's first observation to report changed")
	}
}
