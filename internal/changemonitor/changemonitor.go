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

// Package changemonitor reduces log volume by tracking whether a value has
// actually changed since it was last observed, so the reconciler only logs
// allocation decisions when something moved.
package changemonitor

import (
	"time"

	"github.com/mitchellh/hashstructure/v2"
	"github.com/patrickmn/go-cache"
)

// defaultVisibilityTimeout matches the teacher's 24-hour default: long
// enough that a value logged only at startup doesn't silently stop being
// tracked if logs roll over.
const defaultVisibilityTimeout = 24 * time.Hour

// ChangeMonitor tracks the last-seen hash of arbitrary values by key.
type ChangeMonitor struct {
	lastSeen *cache.Cache
}

// New constructs a ChangeMonitor with the default 24-hour visibility
// window.
func New() *ChangeMonitor {
	return &ChangeMonitor{
		lastSeen: cache.New(defaultVisibilityTimeout, defaultVisibilityTimeout/2),
	}
}

// HasChanged hashes value and reports whether it differs from the hash
// last recorded under key, recording the new hash as a side effect.
func (c *ChangeMonitor) HasChanged(key string, value any) bool {
	hv, _ := hashstructure.Hash(value, hashstructure.FormatV2, &hashstructure.HashOptions{SlicesAsSets: true})
	existing, ok := c.lastSeen.Get(key)
	var existingHash uint64
	if ok {
		existingHash = existing.(uint64)
	}
	if !ok || existingHash != hv {
		c.lastSeen.SetDefault(key, hv)
		return true
	}
	return false
}
