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

// Package test provides fixture constructors for the API types. Every
// constructor accepts overrides merged over randomized defaults.
package test

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/Pallinder/go-randomdata"
	"github.com/google/uuid"
	"github.com/imdario/mergo"

	v1 "github.com/cloudnap/cloudnap/pkg/apis/v1"
)

const (
	DefaultTenant    = "default"
	DefaultAccountID = "123456789012"
	DefaultRegion    = "us-east-1"
)

func merge[T any](overrides ...T) T {
	var options T
	for _, override := range overrides {
		if err := mergo.Merge(&options, override, mergo.WithOverride, mergo.WithTransformers(timeTransformer{})); err != nil {
			panic(fmt.Sprintf("Failed to merge settings: %s", err))
		}
	}
	return options
}

// timeTransformer copies time.Time values wholesale; mergo cannot merge
// their unexported fields.
type timeTransformer struct{}

func (timeTransformer) Transformer(typ reflect.Type) func(dst, src reflect.Value) error {
	if typ != reflect.TypeOf(time.Time{}) {
		return nil
	}
	return func(dst, src reflect.Value) error {
		if dst.CanSet() && !src.Interface().(time.Time).IsZero() {
			dst.Set(src)
		}
		return nil
	}
}

// Schedule returns a valid, active overnight schedule with one EC2 resource.
func Schedule(overrides ...v1.Schedule) *v1.Schedule {
	options := merge(overrides...)
	if options.ID == "" {
		options.ID = uuid.NewString()
	}
	if options.Name == "" {
		options.Name = strings.ToLower(randomdata.SillyName())
	}
	if options.TenantID == "" {
		options.TenantID = DefaultTenant
	}
	if options.StartTime == "" {
		options.StartTime = "08:00:00"
	}
	if options.EndTime == "" {
		options.EndTime = "18:00:00"
	}
	if options.Timezone == "" {
		options.Timezone = "UTC"
	}
	if len(options.ActiveDays) == 0 {
		options.ActiveDays = []string{"Mon", "Tue", "Wed", "Thu", "Fri"}
	}
	if len(options.Resources) == 0 {
		options.Resources = []v1.ResourceRef{*ResourceRef()}
	}
	// Fixtures are always active; flip the field after construction to
	// model an inactive schedule.
	options.Active = true
	return &options
}

// Account returns an active account assumable by the test broker.
func Account(overrides ...v1.Account) *v1.Account {
	options := merge(overrides...)
	if options.AccountID == "" {
		options.AccountID = DefaultAccountID
	}
	if options.TenantID == "" {
		options.TenantID = DefaultTenant
	}
	if options.RoleARN == "" {
		options.RoleARN = fmt.Sprintf("arn:aws:iam::%s:role/scheduler", options.AccountID)
	}
	options.Active = true
	return &options
}

// ResourceRef returns an EC2 instance reference unless overridden.
func ResourceRef(overrides ...v1.ResourceRef) *v1.ResourceRef {
	options := merge(overrides...)
	if options.Type == "" {
		options.Type = v1.ResourceTypeVM
	}
	if options.ID == "" {
		options.ID = defaultResourceID(options.Type)
	}
	if options.ARN == "" {
		options.ARN = ResourceARN(options.Type, DefaultRegion, DefaultAccountID, options.ID)
	}
	if options.Type == v1.ResourceTypeECS && options.ClusterARN == "" {
		options.ClusterARN = fmt.Sprintf("arn:aws:ecs:%s:%s:cluster/default", DefaultRegion, DefaultAccountID)
	}
	return &options
}

func defaultResourceID(resourceType v1.ResourceType) string {
	switch resourceType {
	case v1.ResourceTypeVM:
		return fmt.Sprintf("i-%s", strings.ReplaceAll(uuid.NewString(), "-", "")[:17])
	case v1.ResourceTypeASG:
		return strings.ToLower(randomdata.SillyName())
	default:
		return fmt.Sprintf("%s-%s", resourceType, strings.ToLower(randomdata.SillyName()))
	}
}

// ResourceARN builds a well-formed ARN for the given family.
func ResourceARN(resourceType v1.ResourceType, region, accountID, id string) string {
	switch resourceType {
	case v1.ResourceTypeVM:
		return fmt.Sprintf("arn:aws:ec2:%s:%s:instance/%s", region, accountID, id)
	case v1.ResourceTypeRDS:
		return fmt.Sprintf("arn:aws:rds:%s:%s:db:%s", region, accountID, id)
	case v1.ResourceTypeDocDB:
		return fmt.Sprintf("arn:aws:rds:%s:%s:cluster:%s", region, accountID, id)
	case v1.ResourceTypeECS:
		return fmt.Sprintf("arn:aws:ecs:%s:%s:service/default/%s", region, accountID, id)
	case v1.ResourceTypeASG:
		return fmt.Sprintf("arn:aws:autoscaling:%s:%s:autoScalingGroup:%s:autoScalingGroupName/%s", region, accountID, uuid.NewString(), id)
	}
	return fmt.Sprintf("arn:aws:unknown:%s:%s:%s", region, accountID, id)
}

// ExecutionRecord returns a completed record holding the given results.
func ExecutionRecord(overrides ...v1.ExecutionRecord) *v1.ExecutionRecord {
	options := merge(overrides...)
	if options.ExecutionID == "" {
		options.ExecutionID = uuid.NewString()
	}
	if options.ScheduleID == "" {
		options.ScheduleID = uuid.NewString()
	}
	if options.TenantID == "" {
		options.TenantID = DefaultTenant
	}
	if options.Status == "" {
		options.Status = v1.ExecutionStatusSuccess
	}
	if options.TriggeredBy == "" {
		options.TriggeredBy = v1.TriggerSourceSystem
	}
	if options.StartTime.IsZero() {
		options.StartTime = time.Now().UTC().Add(-time.Minute)
	}
	return &options
}
