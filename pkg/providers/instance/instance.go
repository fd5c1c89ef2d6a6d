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

// Package instance drives EC2 instances. Start and stop are idempotent by
// desired-state check, and the state snapshot returned with each result is
// captured before any mutation.
package instance

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/go-logr/logr"

	v1 "github.com/cloudnap/cloudnap/pkg/apis/v1"
	"github.com/cloudnap/cloudnap/pkg/audit"
	sdk "github.com/cloudnap/cloudnap/pkg/aws"
	cnerrors "github.com/cloudnap/cloudnap/pkg/errors"
)

type Provider interface {
	Process(ctx context.Context, resource v1.ResourceRef, action v1.Action, lastState *v1.LastState) *v1.ResourceResult
}

type DefaultProvider struct {
	ec2api    sdk.EC2API
	recorder  audit.Recorder
	accountID string
}

func NewDefaultProvider(ec2api sdk.EC2API, recorder audit.Recorder, accountID string) *DefaultProvider {
	return &DefaultProvider{
		ec2api:    ec2api,
		recorder:  recorder,
		accountID: accountID,
	}
}

// Process describes the instance, skips when it is already in the desired
// state and otherwise issues the mutation. Never returns an error; failures
// are embedded in the result.
func (p *DefaultProvider) Process(ctx context.Context, resource v1.ResourceRef, action v1.Action, _ *v1.LastState) *v1.ResourceResult {
	instance, err := p.describe(ctx, resource.ID)
	if err != nil {
		return p.failed(ctx, resource, action, err)
	}
	state := string(instance.State.Name)
	// Pre-mutation snapshot; this is what a future start reads back.
	snapshot := &v1.LastState{Instance: &v1.InstanceState{
		State:        state,
		InstanceType: string(instance.InstanceType),
	}}
	switch action {
	case v1.ActionStart:
		if state == string(ec2types.InstanceStateNameRunning) || state == string(ec2types.InstanceStateNamePending) {
			return skipped(resource, snapshot)
		}
		if _, err := p.ec2api.StartInstances(ctx, &ec2.StartInstancesInput{InstanceIds: []string{resource.ID}}); err != nil {
			return p.failed(ctx, resource, action, fmt.Errorf("starting instance, %w", err))
		}
		return p.succeeded(resource, action, snapshot)
	case v1.ActionStop:
		if state != string(ec2types.InstanceStateNameRunning) {
			return skipped(resource, snapshot)
		}
		if _, err := p.ec2api.StopInstances(ctx, &ec2.StopInstancesInput{InstanceIds: []string{resource.ID}}); err != nil {
			return p.failed(ctx, resource, action, fmt.Errorf("stopping instance, %w", err))
		}
		return p.succeeded(resource, action, snapshot)
	}
	return p.failed(ctx, resource, action, fmt.Errorf("unsupported action %q", action))
}

func (p *DefaultProvider) describe(ctx context.Context, instanceID string) (*ec2types.Instance, error) {
	out, err := p.ec2api.DescribeInstances(ctx, &ec2.DescribeInstancesInput{InstanceIds: []string{instanceID}})
	if err != nil {
		if cnerrors.IsNotFound(err) {
			return nil, &cnerrors.ResourceNotFoundError{ResourceID: instanceID}
		}
		return nil, fmt.Errorf("describing instance, %w", err)
	}
	for _, reservation := range out.Reservations {
		for i := range reservation.Instances {
			return &reservation.Instances[i], nil
		}
	}
	return nil, &cnerrors.ResourceNotFoundError{ResourceID: instanceID}
}

func (p *DefaultProvider) succeeded(resource v1.ResourceRef, action v1.Action, snapshot *v1.LastState) *v1.ResourceResult {
	p.recorder.Publish(audit.NewEntry(resource, action, v1.ResultStatusSuccess, v1.SeverityMedium,
		fmt.Sprintf("instance %s %s issued", resource.ID, action), p.accountID))
	return &v1.ResourceResult{
		ARN:        resource.ARN,
		ResourceID: resource.ID,
		Action:     action,
		Status:     v1.ResultStatusSuccess,
		LastState:  snapshot,
	}
}

func (p *DefaultProvider) failed(ctx context.Context, resource v1.ResourceRef, action v1.Action, err error) *v1.ResourceResult {
	logr.FromContextOrDiscard(ctx).Error(err, "processing instance", "instance", resource.ID, "action", action)
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
