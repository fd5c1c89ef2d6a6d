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

// Package autoscaling drives Auto Scaling groups. Stop zeroes the
// (min, max, desired) triple after capturing it; start restores the triple
// from the most recent stop record, defaulting to (1, 1, 1).
package autoscaling

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	autoscalingtypes "github.com/aws/aws-sdk-go-v2/service/autoscaling/types"
	"github.com/go-logr/logr"
	"github.com/samber/lo"

	v1 "github.com/cloudnap/cloudnap/pkg/apis/v1"
	"github.com/cloudnap/cloudnap/pkg/audit"
	sdk "github.com/cloudnap/cloudnap/pkg/aws"
	cnerrors "github.com/cloudnap/cloudnap/pkg/errors"
)

// DefaultTriple applies when a start finds no captured state.
var DefaultTriple = v1.AutoScalingState{MinSize: 1, MaxSize: 1, DesiredCapacity: 1}

type Provider interface {
	Process(ctx context.Context, resource v1.ResourceRef, action v1.Action, lastState *v1.LastState) *v1.ResourceResult
}

type DefaultProvider struct {
	asgapi    sdk.AutoScalingAPI
	recorder  audit.Recorder
	accountID string
}

func NewDefaultProvider(asgapi sdk.AutoScalingAPI, recorder audit.Recorder, accountID string) *DefaultProvider {
	return &DefaultProvider{
		asgapi:    asgapi,
		recorder:  recorder,
		accountID: accountID,
	}
}

func (p *DefaultProvider) Process(ctx context.Context, resource v1.ResourceRef, action v1.Action, lastState *v1.LastState) *v1.ResourceResult {
	group, err := p.describe(ctx, p.groupName(resource))
	if err != nil {
		return p.failed(ctx, resource, action, err)
	}
	current := v1.AutoScalingState{
		MinSize:         lo.FromPtr(group.MinSize),
		MaxSize:         lo.FromPtr(group.MaxSize),
		DesiredCapacity: lo.FromPtr(group.DesiredCapacity),
	}
	snapshot := &v1.LastState{AutoScaling: &current}
	switch action {
	case v1.ActionStart:
		target := DefaultTriple
		if lastState != nil && lastState.AutoScaling != nil {
			target = *lastState.AutoScaling
		}
		if current == target {
			return skipped(resource, snapshot)
		}
		if err := p.scale(ctx, p.groupName(resource), target); err != nil {
			return p.failed(ctx, resource, action, err)
		}
		return p.succeeded(resource, action, snapshot, target)
	case v1.ActionStop:
		zero := v1.AutoScalingState{}
		if current == zero {
			return skipped(resource, snapshot)
		}
		if err := p.scale(ctx, p.groupName(resource), zero); err != nil {
			return p.failed(ctx, resource, action, err)
		}
		return p.succeeded(resource, action, snapshot, zero)
	}
	return p.failed(ctx, resource, action, fmt.Errorf("unsupported action %q", action))
}

// Auto Scaling groups are addressed by name rather than id.
func (p *DefaultProvider) groupName(resource v1.ResourceRef) string {
	if resource.Name != "" {
		return resource.Name
	}
	return resource.ID
}

func (p *DefaultProvider) describe(ctx context.Context, name string) (*autoscalingtypes.AutoScalingGroup, error) {
	out, err := p.asgapi.DescribeAutoScalingGroups(ctx, &autoscaling.DescribeAutoScalingGroupsInput{
		AutoScalingGroupNames: []string{name},
	})
	if err != nil {
		if cnerrors.IsNotFound(err) {
			return nil, &cnerrors.ResourceNotFoundError{ResourceID: name}
		}
		return nil, fmt.Errorf("describing group, %w", err)
	}
	if len(out.AutoScalingGroups) == 0 {
		return nil, &cnerrors.ResourceNotFoundError{ResourceID: name}
	}
	return &out.AutoScalingGroups[0], nil
}

func (p *DefaultProvider) scale(ctx context.Context, name string, target v1.AutoScalingState) error {
	if _, err := p.asgapi.UpdateAutoScalingGroup(ctx, &autoscaling.UpdateAutoScalingGroupInput{
		AutoScalingGroupName: aws.String(name),
		MinSize:              aws.Int32(target.MinSize),
		MaxSize:              aws.Int32(target.MaxSize),
		DesiredCapacity:      aws.Int32(target.DesiredCapacity),
	}); err != nil {
		return fmt.Errorf("scaling group to (%d, %d, %d), %w", target.MinSize, target.MaxSize, target.DesiredCapacity, err)
	}
	return nil
}

func (p *DefaultProvider) succeeded(resource v1.ResourceRef, action v1.Action, snapshot *v1.LastState, target v1.AutoScalingState) *v1.ResourceResult {
	p.recorder.Publish(audit.NewEntry(resource, action, v1.ResultStatusSuccess, v1.SeverityMedium,
		fmt.Sprintf("group %s scaled to (%d, %d, %d)", p.groupName(resource), target.MinSize, target.MaxSize, target.DesiredCapacity), p.accountID))
	return &v1.ResourceResult{
		ARN:        resource.ARN,
		ResourceID: resource.ID,
		Action:     action,
		Status:     v1.ResultStatusSuccess,
		LastState:  snapshot,
	}
}

func (p *DefaultProvider) failed(ctx context.Context, resource v1.ResourceRef, action v1.Action, err error) *v1.ResourceResult {
	logr.FromContextOrDiscard(ctx).Error(err, "processing group", "group", p.groupName(resource), "action", action)
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
