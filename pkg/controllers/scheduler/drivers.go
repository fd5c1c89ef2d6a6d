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

package scheduler

import (
	"context"

	v1 "github.com/cloudnap/cloudnap/pkg/apis/v1"
	"github.com/cloudnap/cloudnap/pkg/providers/autoscaling"
	"github.com/cloudnap/cloudnap/pkg/providers/containerservice"
	"github.com/cloudnap/cloudnap/pkg/providers/credentials"
	"github.com/cloudnap/cloudnap/pkg/providers/database"
	"github.com/cloudnap/cloudnap/pkg/providers/docdb"
	"github.com/cloudnap/cloudnap/pkg/providers/instance"
)

// Drivers bundles the five family drivers bound to one account's
// credentials in one region.
type Drivers struct {
	Instance         instance.Provider
	Database         database.Provider
	DocDB            docdb.Provider
	ContainerService containerservice.Provider
	AutoScaling      autoscaling.Provider
}

// DriverFactory builds drivers from per-account credentials. The engine
// constructs a fresh set per (account, region) pair each invocation;
// nothing is shared across tenants.
type DriverFactory interface {
	ForAccount(ctx context.Context, creds *credentials.Credentials, accountID string) (*Drivers, error)
}

// Process dispatches one resource to its family driver. Unknown families
// return a failed result rather than an error.
func (d *Drivers) Process(ctx context.Context, resource v1.ResourceRef, action v1.Action, lastState *v1.LastState) *v1.ResourceResult {
	switch resource.Type {
	case v1.ResourceTypeVM:
		return d.Instance.Process(ctx, resource, action, lastState)
	case v1.ResourceTypeRDS:
		return d.Database.Process(ctx, resource, action, lastState)
	case v1.ResourceTypeDocDB:
		return d.DocDB.Process(ctx, resource, action, lastState)
	case v1.ResourceTypeECS:
		return d.ContainerService.Process(ctx, resource, action, lastState)
	case v1.ResourceTypeASG:
		return d.AutoScaling.Process(ctx, resource, action, lastState)
	}
	return &v1.ResourceResult{
		ARN:        resource.ARN,
		ResourceID: resource.ID,
		Action:     action,
		Status:     v1.ResultStatusFailed,
		Error:      "unknown resource type " + string(resource.Type),
	}
}
