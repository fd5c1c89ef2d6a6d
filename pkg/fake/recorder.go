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

	v1 "github.com/cloudnap/cloudnap/pkg/apis/v1"
)

// AuditRecorder captures published entries synchronously for assertions.
type AuditRecorder struct {
	Entries AtomicPtrSlice[v1.AuditEntry]
}

// Reset must be called between tests otherwise tests will pollute
// each other.
func (r *AuditRecorder) Reset() {
	r.Entries.Reset()
}

func (r *AuditRecorder) Publish(entry *v1.AuditEntry) {
	r.Entries.Add(entry)
}

func (r *AuditRecorder) Flush(_ context.Context) {}

// ForEventType returns the captured entries with the given event type.
func (r *AuditRecorder) ForEventType(eventType string) []*v1.AuditEntry {
	var entries []*v1.AuditEntry
	r.Entries.ForEach(func(entry *v1.AuditEntry) {
		if entry.EventType == eventType {
			entries = append(entries, entry)
		}
	})
	return entries
}
