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

// Package containerservice drives ECS services by scaling desired count.
// Stop parks the service at zero; start restores the desired count captured
// by the last successful stop, defaulting to one when history holds none.
package containerservice

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/go-logr/logr"

	v1 "github.com/cloudnap/cloudnap/pkg/apis/v1"
	"github.com/cloudnap/cloudnap/pkg/audit"
	sdk "github.com/cloudnap/cloudnap/pkg/aws"
	cnerrors "github.com/cloudnap/cloudnap/pkg/errors"
)

// DefaultDesiredCount applies when a start finds no captured state.
const DefaultDesiredCount = int32(1)

type Provider interface {
	Process(ctx context.Context, resource v1.ResourceRef, action v1.Action, lastState *v1.LastState) *v1.ResourceResult
}

type DefaultProvider struct {
	ecsapi    sdk.ECSAPI
	recorder  audit.Recorder
	accountID string
}

func NewDefaultProvider(ecsapi sdk.ECSAPI, recorder audit.Recorder, accountID string) *DefaultProvider {
	return &DefaultProvider{
		ecsapi:    ecsapi,
		recorder:  recorder,
		accountID: accountID,
	}
}

func (p *DefaultProvider) Process(ctx context.Context, resource v1.ResourceRef, action v1.Action, lastState *v1.LastState) *v1.ResourceResult {
	if resource.ClusterARN == "" {
		return p.failed(ctx, resource, action, fmt.Errorf("service %s has no cluster arn", resource.ID))
	}
	service, err := p.describe(ctx, resource)
	if err != nil {
		return p.failed(ctx, resource, action, err)
	}
	snapshot := &v1.LastState{Container: &v1.ContainerState{
		DesiredCount: service.DesiredCount,
		RunningCount: service.RunningCount,
	}}
	switch action {
	case v1.ActionStart:
		target := DefaultDesiredCount
		if lastState != nil && lastState.Container != nil && lastState.Container.DesiredCount > 0 {
			target = lastState.Container.DesiredCount
		}
		if service.DesiredCount == target {
			return skipped(resource, snapshot)
		}
		if err := p.scale(ctx, resource, target); err != nil {
			return p.failed(ctx, resource, action, err)
		}
		return p.succeeded(resource, action, snapshot, target)
	case v1.ActionStop:
		if service.DesiredCount == 0 {
			return skipped(resource, snapshot)
		}
		if err := p.scale(ctx, resource, 0); err != nil {
			return p.failed(ctx, resource, action, err)
		}
		return p.succeeded(resource, action, snapshot, 0)
	}
	return p.failed(ctx, resource, action, fmt.Errorf("unsupported action %q", action))
}

func (p *DefaultProvider) describe(ctx context.Context, resource v1.ResourceRef) (*ecstypes.Service, error) {
	out, err := p.ecsapi.DescribeServices(ctx, &ecs.DescribeServicesInput{
		Cluster:  aws.String(resource.ClusterARN),
		Services: []string{resource.ARN},
	})
	if err != nil {
		if cnerrors.IsNotFound(err) {
			return nil, &cnerrors.ResourceNotFoundError{ResourceID: resource.ID}
		}
		return nil, fmt.Errorf("describing service, %w", err)
	}
	if len(out.Services) == 0 {
		return nil, &cnerrors.ResourceNotFoundError{ResourceID: resource.ID}
	}
	return &out.Services[0], nil
}

func (p *DefaultProvider) scale(ctx context.Context, resource v1.ResourceRef, desiredCount int32) error {
	if _, err := p.ecsapi.UpdateService(ctx, &ecs.UpdateServiceInput{
		Cluster:      aws.String(resource.ClusterARN),
		Service:      aws.String(resource.ARN),
		DesiredCount: aws.Int32(desiredCount),
	}); err != nil {
		return fmt.Errorf("scaling service to %d, %w", desiredCount, err)
	}
	return nil
}

func (p *DefaultProvider) succeeded(resource v1.ResourceRef, action v1.Action, snapshot *v1.LastState, target int32) *v1.ResourceResult {
	p.recorder.Publish(audit.NewEntry(resource, action, v1.ResultStatusSuccess, v1.SeverityMedium,
		fmt.Sprintf("service %s scaled to %d", resource.ID, target), p.accountID))
	return &v1.ResourceResult{
		ARN:        resource.ARN,
		ResourceID: resource.ID,
		Action:     action,
		Status:     v1.ResultStatusSuccess,
		LastState:  snapshot,
	}
}

func (p *DefaultProvider) failed(ctx context.Context, resource v1.ResourceRef, action v1.Action, err error) *v1.ResourceResult {
	logr.FromContextOrDiscard(ctx).Error(err, "processing service", "service", resource.ID, "action", action)
	p.recorder.Publish(audit.NewEntry(resource, action, v1.ResultStatusFailed, v1.SeverityHigh, err.Error(), p.accountID))
	return &v1.ResourceResult{
		ARN:        resource.ARN,
		ResourceID: resource.ID,
		Action:     action,
		Status:     v1.ResultStatusFailed,
		Error:      cnerrors.Reason(err),
	}
}

func skipped(resource v1.ResourceRef, snapshot *v1.LastState) *v1.ResourceResult {
	return &v1.ResourceResult{
		ARN:        resource.ARN,
		ResourceID: resource.ID,
		Action:     v1.ActionSkip,
		Status:     v1.ResultStatusSuccess,
		LastState:  snapshot,
	}
}
