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

// Package audit records per-action log entries without back-pressuring the
// drivers that emit them.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	v1 "github.com/cloudnap/cloudnap/pkg/apis/v1"
	"github.com/cloudnap/cloudnap/pkg/metrics"
	"github.com/cloudnap/cloudnap/pkg/providers/store"
)

const defaultQueueDepth = 1024

// Recorder accepts audit entries and writes them in the background. Writes
// are fire-and-forget: entries are dropped when the queue is full rather
// than slowing down resource processing.
type Recorder interface {
	// Publish enqueues an entry, never blocking the caller.
	Publish(entry *v1.AuditEntry)
	// Flush waits for queued entries to drain or the context to expire.
	Flush(ctx context.Context)
}

type recorder struct {
	store store.Store
	queue chan *v1.AuditEntry
}

// NewRecorder starts a recorder whose worker lives until ctx is cancelled.
func NewRecorder(ctx context.Context, s store.Store) Recorder {
	r := &recorder{
		store: s,
		queue: make(chan *v1.AuditEntry, defaultQueueDepth),
	}
	go r.run(ctx)
	return r
}

func (r *recorder) Publish(entry *v1.AuditEntry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	select {
	case r.queue <- entry:
	default:
		metrics.AuditDropped.Inc()
	}
}

func (r *recorder) Flush(ctx context.Context) {
	// Poll rather than signal: the queue is small and flushes happen once
	// per invocation.
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if len(r.queue) == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *recorder) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case entry := <-r.queue:
			if err := r.store.AppendAudit(ctx, entry); err != nil {
				logr.FromContextOrDiscard(ctx).Error(err, "writing audit entry", "eventType", entry.EventType)
			}
		}
	}
}

// NewEntry builds an entry for one resource action. EventType follows the
// scheduler.<family>.<action> convention.
func NewEntry(resource v1.ResourceRef, action v1.Action, status v1.ResultStatus, severity v1.Severity, details, accountID string) *v1.AuditEntry {
	return &v1.AuditEntry{
		ID:           uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		EventType:    fmt.Sprintf("scheduler.%s.%s", resource.Type, action),
		Action:       action,
		ResourceType: resource.Type,
		ResourceID:   resource.ID,
		Status:       status,
		Severity:     severity,
		Details:      details,
		AccountID:    accountID,
		Region:       resource.Region(),
	}
}
