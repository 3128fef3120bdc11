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

package scan

import "sync"

// inFlight is the process-wide registry of schedule ids with a scan in
// progress. At most one scan may hold a given schedule id at a time.
type inFlight struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func newInFlight() *inFlight {
	return &inFlight{ids: map[string]struct{}{}}
}

// TryAcquire test-and-sets the schedule id, reporting whether the caller now
// holds it.
func (f *inFlight) TryAcquire(scheduleID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, held := f.ids[scheduleID]; held {
		return false
	}
	f.ids[scheduleID] = struct{}{}
	return true
}

// Release frees the schedule id. Callers defer this so the id is released
// even when a scan panics.
func (f *inFlight) Release(scheduleID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.ids, scheduleID)
}
