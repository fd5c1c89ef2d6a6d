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

// Package docdb drives DocumentDB clusters. Same desired-state rules as the
// relational database driver; clusters in transitional states are left alone.
package docdb

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/docdb"
	"github.com/go-logr/logr"
	"github.com/samber/lo"

	v1 "github.com/cloudnap/cloudnap/pkg/apis/v1"
	"github.com/cloudnap/cloudnap/pkg/audit"
	sdk "github.com/cloudnap/cloudnap/pkg/aws"
	cnerrors "github.com/cloudnap/cloudnap/pkg/errors"
)

const (
	statusAvailable = "available"
	statusStarting  = "starting"
)

type Provider interface {
	Process(ctx context.Context, resource v1.ResourceRef, action v1.Action, lastState *v1.LastState) *v1.ResourceResult
}

type DefaultProvider struct {
	docdbapi  sdk.DocDBAPI
	recorder  audit.Recorder
	accountID string
}

func NewDefaultProvider(docdbapi sdk.DocDBAPI, recorder audit.Recorder, accountID string) *DefaultProvider {
	return &DefaultProvider{
		docdbapi:  docdbapi,
		recorder:  recorder,
		accountID: accountID,
	}
}

func (p *DefaultProvider) Process(ctx context.Context, resource v1.ResourceRef, action v1.Action, _ *v1.LastState) *v1.ResourceResult {
	status, err := p.describe(ctx, resource.ID)
	if err != nil {
		return p.failed(ctx, resource, action, err)
	}
	snapshot := &v1.LastState{Database: &v1.DatabaseState{Status: status}}
	switch action {
	case v1.ActionStart:
		if status == statusAvailable || status == statusStarting {
			return skipped(resource, snapshot)
		}
		if _, err := p.docdbapi.StartDBCluster(ctx, &docdb.StartDBClusterInput{DBClusterIdentifier: aws.String(resource.ID)}); err != nil {
			return p.failed(ctx, resource, action, fmt.Errorf("starting cluster, %w", err))
		}
		return p.succeeded(resource, action, snapshot)
	case v1.ActionStop:
		if status != statusAvailable {
			return skipped(resource, snapshot)
		}
		if _, err := p.docdbapi.StopDBCluster(ctx, &docdb.StopDBClusterInput{DBClusterIdentifier: aws.String(resource.ID)}); err != nil {
			return p.failed(ctx, resource, action, fmt.Errorf("stopping cluster, %w", err))
		}
		return p.succeeded(resource, action, snapshot)
	}
	return p.failed(ctx, resource, action, fmt.Errorf("unsupported action %q", action))
}

func (p *DefaultProvider) describe(ctx context.Context, clusterID string) (string, error) {
	out, err := p.docdbapi.DescribeDBClusters(ctx, &docdb.DescribeDBClustersInput{
		DBClusterIdentifier: aws.String(clusterID),
	})
	if err != nil {
		if cnerrors.IsNotFound(err) {
			return "", &cnerrors.ResourceNotFoundError{ResourceID: clusterID}
		}
		return "", fmt.Errorf("describing cluster, %w", err)
	}
	if len(out.DBClusters) == 0 {
		return "", &cnerrors.ResourceNotFoundError{ResourceID: clusterID}
	}
	return lo.FromPtr(out.DBClusters[0].Status), nil
}

func (p *DefaultProvider) succeeded(resource v1.ResourceRef, action v1.Action, snapshot *v1.LastState) *v1.ResourceResult {
	p.recorder.Publish(audit.NewEntry(resource, action, v1.ResultStatusSuccess, v1.SeverityMedium,
		fmt.Sprintf("cluster %s %s issued", resource.ID, action), p.accountID))
	return &v1.ResourceResult{
		ARN:        resource.ARN,
		ResourceID: resource.ID,
		Action:     action,
		Status:     v1.ResultStatusSuccess,
		LastState:  snapshot,
	}
}

func (p *DefaultProvider) failed(ctx context.Context, resource v1.ResourceRef, action v1.Action, err error) *v1.ResourceResult {
	logr.FromContextOrDiscard(ctx).Error(err, "processing docdb cluster", "cluster", resource.ID, "action", action)
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
