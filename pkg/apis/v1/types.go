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

	"github.com/cloudnap/cloudnap/pkg/utils/arn"
)

// ResourceType identifies the driver family that owns a resource.
type ResourceType string

const (
	ResourceTypeVM    ResourceType = "vm"
	ResourceTypeRDS   ResourceType = "rds"
	ResourceTypeDocDB ResourceType = "docdb"
	ResourceTypeECS   ResourceType = "ecs"
	ResourceTypeASG   ResourceType = "asg"
)

// ResourceTypes lists every family the engine dispatches on.
var ResourceTypes = []ResourceType{ResourceTypeVM, ResourceTypeRDS, ResourceTypeDocDB, ResourceTypeECS, ResourceTypeASG}

// Action is the per-resource decision for a single invocation.
type Action string

const (
	ActionStart Action = "start"
	ActionStop  Action = "stop"
	ActionSkip  Action = "skip"
)

// ResultStatus is the outcome of a single driver call.
type ResultStatus string

const (
	ResultStatusSuccess ResultStatus = "success"
	ResultStatusFailed  ResultStatus = "failed"
)

// ExecutionStatus advances monotonically pending -> running -> terminal.
type ExecutionStatus string

const (
	ExecutionStatusPending ExecutionStatus = "pending"
	ExecutionStatusRunning ExecutionStatus = "running"
	ExecutionStatusSuccess ExecutionStatus = "success"
	ExecutionStatusFailed  ExecutionStatus = "failed"
	ExecutionStatusPartial ExecutionStatus = "partial"
)

type TriggerSource string

const (
	TriggerSourceSystem TriggerSource = "system"
	TriggerSourceWeb    TriggerSource = "web"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// ResourceRef points at one schedulable cloud resource. The region component
// of the ARN is authoritative for client construction.
type ResourceRef struct {
	ID         string       `json:"id" dynamodbav:"id"`
	Type       ResourceType `json:"type" dynamodbav:"type"`
	ARN        string       `json:"arn" dynamodbav:"arn"`
	Name       string       `json:"name,omitempty" dynamodbav:"name,omitempty"`
	ClusterARN string       `json:"clusterArn,omitempty" dynamodbav:"clusterArn,omitempty"`
}

func (r ResourceRef) Region() string {
	return arn.Region(r.ARN)
}

func (r ResourceRef) AccountID() string {
	return arn.AccountID(r.ARN)
}

// Account describes a tenant-owned cloud account the engine assumes into.
type Account struct {
	AccountID  string   `json:"accountId" dynamodbav:"accountId"`
	TenantID   string   `json:"tenantId" dynamodbav:"tenantId"`
	RoleARN    string   `json:"roleArn" dynamodbav:"roleArn"`
	ExternalID string   `json:"externalId,omitempty" dynamodbav:"externalId,omitempty"`
	Regions    []string `json:"regions,omitempty" dynamodbav:"regions,omitempty"`
	Active     bool     `json:"active" dynamodbav:"active"`
}

// LastState is the family-specific snapshot captured immediately before a
// stop mutation. Exactly one field is populated on success results; failure
// results carry a nil LastState.
type LastState struct {
	Instance    *InstanceState    `json:"instance,omitempty" dynamodbav:"instance,omitempty"`
	Database    *DatabaseState    `json:"database,omitempty" dynamodbav:"database,omitempty"`
	Container   *ContainerState   `json:"container,omitempty" dynamodbav:"container,omitempty"`
	AutoScaling *AutoScalingState `json:"autoScaling,omitempty" dynamodbav:"autoScaling,omitempty"`
}

type InstanceState struct {
	State        string `json:"instanceState" dynamodbav:"instanceState"`
	InstanceType string `json:"instanceType,omitempty" dynamodbav:"instanceType,omitempty"`
}

type DatabaseState struct {
	Status string `json:"dbStatus" dynamodbav:"dbStatus"`
}

type ContainerState struct {
	DesiredCount int32 `json:"desiredCount" dynamodbav:"desiredCount"`
	RunningCount int32 `json:"runningCount" dynamodbav:"runningCount"`
}

type AutoScalingState struct {
	MinSize         int32 `json:"minSize" dynamodbav:"minSize"`
	MaxSize         int32 `json:"maxSize" dynamodbav:"maxSize"`
	DesiredCapacity int32 `json:"desiredCapacity" dynamodbav:"desiredCapacity"`
}

// ResourceResult is the per-resource outcome a driver hands back to the
// engine. Drivers never return errors, they embed them here.
type ResourceResult struct {
	ARN        string       `json:"arn" dynamodbav:"arn"`
	ResourceID string       `json:"resourceId" dynamodbav:"resourceId"`
	Action     Action       `json:"action" dynamodbav:"action"`
	Status     ResultStatus `json:"status" dynamodbav:"status"`
	Error      string       `json:"error,omitempty" dynamodbav:"error,omitempty"`
	LastState  *LastState   `json:"lastState,omitempty" dynamodbav:"lastState,omitempty"`
}

// AuditEntry is the append-only action log record. The store applies the
// 90 day TTL at write time.
type AuditEntry struct {
	ID           string       `json:"id" dynamodbav:"id"`
	Timestamp    time.Time    `json:"timestamp" dynamodbav:"timestamp"`
	EventType    string       `json:"eventType" dynamodbav:"eventType"`
	Action       Action       `json:"action" dynamodbav:"action"`
	ResourceType ResourceType `json:"resourceType" dynamodbav:"resourceType"`
	ResourceID   string       `json:"resourceId" dynamodbav:"resourceId"`
	Status       ResultStatus `json:"status" dynamodbav:"status"`
	Severity     Severity     `json:"severity" dynamodbav:"severity"`
	Details      string       `json:"details,omitempty" dynamodbav:"details,omitempty"`
	AccountID    string       `json:"accountId,omitempty" dynamodbav:"accountId,omitempty"`
	Region       string       `json:"region,omitempty" dynamodbav:"region,omitempty"`
	ExpiresAt    int64        `json:"expiresAt,omitempty" dynamodbav:"expiresAt,omitempty"`
}
