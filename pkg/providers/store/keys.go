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

package store

import (
	"fmt"
	"time"
)

// Single-table key layout. Sort keys order lexicographically so reverse
// range reads yield newest-first execution scans.
const (
	ByStatusIndex = "by-status"
	ByTypeIndex   = "by-type"

	metadataSK   = "METADATA"
	execSKPrefix = "EXEC#"

	entitySchedule  = "SCHEDULE"
	entityAccount   = "ACCOUNT"
	entityExecution = "EXEC"
	entityAudit     = "AUDIT"

	statusActive   = "ACTIVE"
	statusInactive = "INACTIVE"
)

func schedulePK(tenant, scheduleID string) string {
	return fmt.Sprintf("TENANT#%s#SCHEDULE#%s", tenant, scheduleID)
}

func accountPK(tenant, accountID string) string {
	return fmt.Sprintf("TENANT#%s#ACCOUNT#%s", tenant, accountID)
}

func auditPK(id string) string {
	return fmt.Sprintf("LOG#%s", id)
}

func execSK(startTime time.Time, executionID string) string {
	return fmt.Sprintf("%s%s#%s", execSKPrefix, startTime.UTC().Format(time.RFC3339), executionID)
}

// byStatusPK keys the status-indexed view, e.g. TENANT#default#SCHEDULE#ACTIVE.
func byStatusPK(tenant, entity string, active bool) string {
	status := statusInactive
	if active {
		status = statusActive
	}
	return fmt.Sprintf("TENANT#%s#%s#%s", tenant, entity, status)
}

// byTypePK keys the type-indexed view, e.g. TENANT#default#SCHEDULE.
func byTypePK(tenant, entity string) string {
	return fmt.Sprintf("TENANT#%s#%s", tenant, entity)
}

// keyFields are the table and index attributes shared by every item. New
// writes populate both index views from day one; the by-type fallback reads
// exist for historical items that predate the by-status index.
type keyFields struct {
	PK     string `dynamodbav:"pk"`
	SK     string `dynamodbav:"sk"`
	GSI1PK string `dynamodbav:"gsi1pk,omitempty"`
	GSI1SK string `dynamodbav:"gsi1sk,omitempty"`
	GSI2PK string `dynamodbav:"gsi2pk,omitempty"`
	GSI2SK string `dynamodbav:"gsi2sk,omitempty"`
}
