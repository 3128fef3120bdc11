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

package fake

import (
	"context"
	"sync"

	"github.com/offhours-io/offhours/pkg/audit"
)

// AuditRecorder captures audit entries in memory for assertions.
type AuditRecorder struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *AuditRecorder) Write(_ context.Context, entry audit.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

// Reset must be called between tests otherwise tests will pollute
// each other.
func (r *AuditRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
}

// Entries returns a copy of everything written so far, in write order.
func (r *AuditRecorder) Entries() []audit.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audit.Entry{}, r.entries...)
}

// ByCategory returns the captured entries whose category matches.
func (r *AuditRecorder) ByCategory(category string) []audit.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []audit.Entry
	for _, entry := range r.entries {
		if entry.Category == category {
			out = append(out, entry)
		}
	}
	return out
}
