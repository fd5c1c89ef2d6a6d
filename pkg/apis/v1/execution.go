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

package v1

import (
	"time"
)

// ScheduleMetadata carries the per-resource results of one execution, keyed
// by driver family for storage.
type ScheduleMetadata struct {
	VM    []ResourceResult `json:"vm,omitempty" dynamodbav:"vm,omitempty"`
	RDS   []ResourceResult `json:"rds,omitempty" dynamodbav:"rds,omitempty"`
	DocDB []ResourceResult `json:"docdb,omitempty" dynamodbav:"docdb,omitempty"`
	ECS   []ResourceResult `json:"ecs,omitempty" dynamodbav:"ecs,omitempty"`
	ASG   []ResourceResult `json:"asg,omitempty" dynamodbav:"asg,omitempty"`
}

// Append files a result under its family. Unknown families are filed under
// vm so the result is never lost; the engine rejects unknown types upstream.
func (m *ScheduleMetadata) Append(resourceType ResourceType, result ResourceResult) {
	switch resourceType {
	case ResourceTypeRDS:
		m.RDS = append(m.RDS, result)
	case ResourceTypeDocDB:
		m.DocDB = append(m.DocDB, result)
	case ResourceTypeECS:
		m.ECS = append(m.ECS, result)
	case ResourceTypeASG:
		m.ASG = append(m.ASG, result)
	default:
		m.VM = append(m.VM, result)
	}
}

// All returns every per-resource result across families.
func (m *ScheduleMetadata) All() []ResourceResult {
	out := make([]ResourceResult, 0, len(m.VM)+len(m.RDS)+len(m.DocDB)+len(m.ECS)+len(m.ASG))
	out = append(out, m.VM...)
	out = append(out, m.RDS...)
	out = append(out, m.DocDB...)
	out = append(out, m.ECS...)
	out = append(out, m.ASG...)
	return out
}

// ExecutionRecord is the per-schedule outcome document. It is inserted as
// pending when the engine picks a schedule up and updated exactly once on
// completion. The store applies the 30 day TTL at insert time.
type ExecutionRecord struct {
	ExecutionID    string           `json:"executionId" dynamodbav:"executionId"`
	ScheduleID     string           `json:"scheduleId" dynamodbav:"scheduleId"`
	TenantID       string           `json:"tenantId" dynamodbav:"tenantId"`
	AccountID      string           `json:"accountId,omitempty" dynamodbav:"accountId,omitempty"`
	Status         ExecutionStatus  `json:"status" dynamodbav:"execStatus"`
	TriggeredBy    TriggerSource    `json:"triggeredBy" dynamodbav:"triggeredBy"`
	StartTime      time.Time        `json:"startTime" dynamodbav:"startTime"`
	EndTime        *time.Time       `json:"endTime,omitempty" dynamodbav:"endTime,omitempty"`
	DurationMillis int64            `json:"durationMs,omitempty" dynamodbav:"durationMs,omitempty"`
	Started        int              `json:"resourcesStarted" dynamodbav:"resourcesStarted"`
	Stopped        int              `json:"resourcesStopped" dynamodbav:"resourcesStopped"`
	Failed         int              `json:"resourcesFailed" dynamodbav:"resourcesFailed"`
	ErrorMessage   string           `json:"errorMessage,omitempty" dynamodbav:"errorMessage,omitempty"`
	Metadata       ScheduleMetadata `json:"scheduleMetadata" dynamodbav:"scheduleMetadata"`
	ExpiresAt      int64            `json:"expiresAt,omitempty" dynamodbav:"expiresAt,omitempty"`
}

// Classify derives the terminal status from the aggregated counts. A run
// over zero resources is a success.
func (r *ExecutionRecord) Classify() ExecutionStatus {
	total := len(r.Metadata.All())
	switch {
	case total > 0 && r.Failed == total:
		return ExecutionStatusFailed
	case r.Failed > 0:
		return ExecutionStatusPartial
	default:
		return ExecutionStatusSuccess
	}
}

// Payload selects what a single invocation processes. A schedule id or name
// selects partial mode; otherwise the engine scans all active schedules.
type Payload struct {
	ScheduleID   string        `json:"scheduleId,omitempty"`
	ScheduleName string        `json:"scheduleName,omitempty"`
	TenantID     string        `json:"tenantId,omitempty"`
	TriggeredBy  TriggerSource `json:"triggeredBy,omitempty"`
	// Force bypasses the time-window evaluation and treats every targeted
	// schedule as in-window.
	Force bool `json:"force,omitempty"`
}

const DefaultTenant = "default"

// Default fills the payload's optional fields in place.
func (p *Payload) Default() {
	if p.TenantID == "" {
		p.TenantID = DefaultTenant
	}
	if p.TriggeredBy == "" {
		p.TriggeredBy = TriggerSourceSystem
	}
}

// Partial reports whether the payload targets a single schedule.
func (p *Payload) Partial() bool {
	return p.ScheduleID != "" || p.ScheduleName != ""
}

type RunMode string

const (
	RunModeFull    RunMode = "full"
	RunModePartial RunMode = "partial"
)

// RunResult is the invocation-level summary the engine returns.
type RunResult struct {
	Success            bool     `json:"success"`
	ExecutionID        string   `json:"executionId"`
	Mode               RunMode  `json:"mode"`
	SchedulesProcessed int      `json:"schedulesProcessed"`
	ResourcesStarted   int      `json:"resourcesStarted"`
	ResourcesStopped   int      `json:"resourcesStopped"`
	ResourcesFailed    int      `json:"resourcesFailed"`
	DurationMillis     int64    `json:"durationMs"`
	Errors             []string `json:"errors,omitempty"`
}
