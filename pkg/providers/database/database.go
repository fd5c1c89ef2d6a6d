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

// Package database drives RDS instances and Aurora clusters. The ARN's
// resource component decides which of the two API families applies.
package database

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/go-logr/logr"
	"github.com/samber/lo"

	v1 "github.com/cloudnap/cloudnap/pkg/apis/v1"
	"github.com/cloudnap/cloudnap/pkg/audit"
	sdk "github.com/cloudnap/cloudnap/pkg/aws"
	cnerrors "github.com/cloudnap/cloudnap/pkg/errors"
	"github.com/cloudnap/cloudnap/pkg/utils/arn"
)

const (
	statusAvailable = "available"
	statusStarting  = "starting"
)

type Provider interface {
	Process(ctx context.Context, resource v1.ResourceRef, action v1.Action, lastState *v1.LastState) *v1.ResourceResult
}

type DefaultProvider struct {
	rdsapi    sdk.RDSAPI
	recorder  audit.Recorder
	accountID string
}

func NewDefaultProvider(rdsapi sdk.RDSAPI, recorder audit.Recorder, accountID string) *DefaultProvider {
	return &DefaultProvider{
		rdsapi:    rdsapi,
		recorder:  recorder,
		accountID: accountID,
	}
}

func (p *DefaultProvider) Process(ctx context.Context, resource v1.ResourceRef, action v1.Action, _ *v1.LastState) *v1.ResourceResult {
	status, err := p.describe(ctx, resource)
	if err != nil {
		return p.failed(ctx, resource, action, err)
	}
	snapshot := &v1.LastState{Database: &v1.DatabaseState{Status: status}}
	switch action {
	case v1.ActionStart:
		// Transitional states are left alone; the next tick re-evaluates.
		if status == statusAvailable || status == statusStarting {
			return skipped(resource, snapshot)
		}
		if err := p.start(ctx, resource); err != nil {
			return p.failed(ctx, resource, action, err)
		}
		return p.succeeded(resource, action, snapshot)
	case v1.ActionStop:
		if status != statusAvailable {
			return skipped(resource, snapshot)
		}
		if err := p.stop(ctx, resource); err != nil {
			return p.failed(ctx, resource, action, err)
		}
		return p.succeeded(resource, action, snapshot)
	}
	return p.failed(ctx, resource, action, fmt.Errorf("unsupported action %q", action))
}

func (p *DefaultProvider) describe(ctx context.Context, resource v1.ResourceRef) (string, error) {
	if arn.IsCluster(resource.ARN) {
		out, err := p.rdsapi.DescribeDBClusters(ctx, &rds.DescribeDBClustersInput{
			DBClusterIdentifier: aws.String(resource.ID),
		})
		if err != nil {
			if cnerrors.IsNotFound(err) {
				return "", &cnerrors.ResourceNotFoundError{ResourceID: resource.ID}
			}
			return "", fmt.Errorf("describing db cluster, %w", err)
		}
		if len(out.DBClusters) == 0 {
			return "", &cnerrors.ResourceNotFoundError{ResourceID: resource.ID}
		}
		return lo.FromPtr(out.DBClusters[0].Status), nil
	}
	out, err := p.rdsapi.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{
		DBInstanceIdentifier: aws.String(resource.ID),
	})
	if err != nil {
		if cnerrors.IsNotFound(err) {
			return "", &cnerrors.ResourceNotFoundError{ResourceID: resource.ID}
		}
		return "", fmt.Errorf("describing db instance, %w", err)
	}
	if len(out.DBInstances) == 0 {
		return "", &cnerrors.ResourceNotFoundError{ResourceID: resource.ID}
	}
	return lo.FromPtr(out.DBInstances[0].DBInstanceStatus), nil
}

func (p *DefaultProvider) start(ctx context.Context, resource v1.ResourceRef) error {
	if arn.IsCluster(resource.ARN) {
		if _, err := p.rdsapi.StartDBCluster(ctx, &rds.StartDBClusterInput{DBClusterIdentifier: aws.String(resource.ID)}); err != nil {
			return fmt.Errorf("starting db cluster, %w", err)
		}
		return nil
	}
	if _, err := p.rdsapi.StartDBInstance(ctx, &rds.StartDBInstanceInput{DBInstanceIdentifier: aws.String(resource.ID)}); err != nil {
		return fmt.Errorf("starting db instance, %w", err)
	}
	return nil
}

func (p *DefaultProvider) stop(ctx context.Context, resource v1.ResourceRef) error {
	if arn.IsCluster(resource.ARN) {
		if _, err := p.rdsapi.StopDBCluster(ctx, &rds.StopDBClusterInput{DBClusterIdentifier: aws.String(resource.ID)}); err != nil {
			return fmt.Errorf("stopping db cluster, %w", err)
		}
		return nil
	}
	if _, err := p.rdsapi.StopDBInstance(ctx, &rds.StopDBInstanceInput{DBInstanceIdentifier: aws.String(resource.ID)}); err != nil {
		return fmt.Errorf("stopping db instance, %w", err)
	}
	return nil
}

func (p *DefaultProvider) succeeded(resource v1.ResourceRef, action v1.Action, snapshot *v1.LastState) *v1.ResourceResult {
	p.recorder.Publish(audit.NewEntry(resource, action, v1.ResultStatusSuccess, v1.SeverityMedium,
		fmt.Sprintf("database %s %s issued", resource.ID, action), p.accountID))
	return &v1.ResourceResult{
		ARN:        resource.ARN,
		ResourceID: resource.ID,
		Action:     action,
		Status:     v1.ResultStatusSuccess,
		LastState:  snapshot,
	}
}

func (p *DefaultProvider) failed(ctx context.Context, resource v1.ResourceRef, action v1.Action, err error) *v1.ResourceResult {
	logr.FromContextOrDiscard(ctx).Error(err, "processing database", "database", resource.ID, "action", action)
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
