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

// Package store is the read/write facade over the single-table key-value
// store backing schedules, accounts, execution records and the audit log.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamodbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-logr/logr"
	"github.com/samber/lo"

	v1 "github.com/cloudnap/cloudnap/pkg/apis/v1"
	sdk "github.com/cloudnap/cloudnap/pkg/aws"
	cnerrors "github.com/cloudnap/cloudnap/pkg/errors"
	"github.com/cloudnap/cloudnap/pkg/metrics"
)

const (
	executionTTL = 30 * 24 * time.Hour
	auditTTL     = 90 * 24 * time.Hour

	// LastStopHorizon bounds how many recent execution records a
	// last-successful-stop lookup walks.
	LastStopHorizon = 10

	auditPutAttempts = 3
)

type Store interface {
	ListActiveSchedules(ctx context.Context, tenant string) ([]*v1.Schedule, error)
	GetSchedule(ctx context.Context, tenant, scheduleID string) (*v1.Schedule, error)
	GetScheduleByName(ctx context.Context, tenant, name string) (*v1.Schedule, error)
	ListActiveAccounts(ctx context.Context, tenant string) ([]*v1.Account, error)
	InsertExecution(ctx context.Context, record *v1.ExecutionRecord) error
	UpdateExecution(ctx context.Context, record *v1.ExecutionRecord) error
	AppendAudit(ctx context.Context, entry *v1.AuditEntry) error
	LastSuccessfulStop(ctx context.Context, tenant, scheduleID, resourceARN string) (*v1.ResourceResult, error)
}

type DefaultStore struct {
	api       sdk.DynamoDBAPI
	tableName string
}

func NewDefaultStore(api sdk.DynamoDBAPI, tableName string) *DefaultStore {
	return &DefaultStore{
		api:       api,
		tableName: tableName,
	}
}

type scheduleItem struct {
	keyFields
	EntityType string `dynamodbav:"entityType"`
	v1.Schedule
}

type accountItem struct {
	keyFields
	EntityType string `dynamodbav:"entityType"`
	v1.Account
}

type executionItem struct {
	keyFields
	EntityType string `dynamodbav:"entityType"`
	v1.ExecutionRecord
}

type auditItem struct {
	keyFields
	EntityType string `dynamodbav:"entityType"`
	v1.AuditEntry
}

// ListActiveSchedules queries the by-status view and falls back to the
// by-type view with a client-side active filter when the primary read
// errors or comes back empty. Both paths yield the same set.
func (s *DefaultStore) ListActiveSchedules(ctx context.Context, tenant string) ([]*v1.Schedule, error) {
	items, err := s.queryView(ctx, ByStatusIndex, "gsi1pk", byStatusPK(tenant, entitySchedule, true))
	if err != nil || len(items) == 0 {
		if err != nil {
			logr.FromContextOrDiscard(ctx).Error(err, "falling back to by-type view for schedules")
		}
		metrics.StoreFallbacks.WithLabelValues(entitySchedule).Inc()
		if items, err = s.queryView(ctx, ByTypeIndex, "gsi2pk", byTypePK(tenant, entitySchedule)); err != nil {
			return nil, &cnerrors.StoreError{Op: "listing active schedules", Err: err}
		}
	}
	schedules, err := unmarshalAll[scheduleItem](items)
	if err != nil {
		return nil, &cnerrors.StoreError{Op: "unmarshaling schedules", Err: err}
	}
	return lo.FilterMap(schedules, func(item scheduleItem, _ int) (*v1.Schedule, bool) {
		return &item.Schedule, item.Schedule.Active
	}), nil
}

// GetSchedule fetches by primary key, which spans the active and inactive
// status views; a partial-scan trigger may legitimately target an inactive
// schedule.
func (s *DefaultStore) GetSchedule(ctx context.Context, tenant, scheduleID string) (*v1.Schedule, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]dynamodbtypes.AttributeValue{
			"pk": &dynamodbtypes.AttributeValueMemberS{Value: schedulePK(tenant, scheduleID)},
			"sk": &dynamodbtypes.AttributeValueMemberS{Value: metadataSK},
		},
	})
	if err != nil {
		return nil, &cnerrors.StoreError{Op: fmt.Sprintf("getting schedule %s", scheduleID), Err: err}
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var item scheduleItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, &cnerrors.StoreError{Op: fmt.Sprintf("unmarshaling schedule %s", scheduleID), Err: err}
	}
	return &item.Schedule, nil
}

// GetScheduleByName resolves a schedule by display name via the by-type
// view, which spans active and inactive schedules.
func (s *DefaultStore) GetScheduleByName(ctx context.Context, tenant, name string) (*v1.Schedule, error) {
	items, err := s.queryView(ctx, ByTypeIndex, "gsi2pk", byTypePK(tenant, entitySchedule))
	if err != nil {
		return nil, &cnerrors.StoreError{Op: fmt.Sprintf("resolving schedule name %q", name), Err: err}
	}
	schedules, err := unmarshalAll[scheduleItem](items)
	if err != nil {
		return nil, &cnerrors.StoreError{Op: fmt.Sprintf("unmarshaling schedules for name %q", name), Err: err}
	}
	match, ok := lo.Find(schedules, func(item scheduleItem) bool {
		return item.Schedule.Name == name
	})
	if !ok {
		return nil, nil
	}
	return &match.Schedule, nil
}

func (s *DefaultStore) ListActiveAccounts(ctx context.Context, tenant string) ([]*v1.Account, error) {
	items, err := s.queryView(ctx, ByStatusIndex, "gsi1pk", byStatusPK(tenant, entityAccount, true))
	if err != nil || len(items) == 0 {
		if err != nil {
			logr.FromContextOrDiscard(ctx).Error(err, "falling back to by-type view for accounts")
		}
		metrics.StoreFallbacks.WithLabelValues(entityAccount).Inc()
		if items, err = s.queryView(ctx, ByTypeIndex, "gsi2pk", byTypePK(tenant, entityAccount)); err != nil {
			return nil, &cnerrors.StoreError{Op: "listing active accounts", Err: err}
		}
	}
	accounts, err := unmarshalAll[accountItem](items)
	if err != nil {
		return nil, &cnerrors.StoreError{Op: "unmarshaling accounts", Err: err}
	}
	return lo.FilterMap(accounts, func(item accountItem, _ int) (*v1.Account, bool) {
		return &item.Account, item.Account.Active
	}), nil
}

// PutSchedule upserts schedule metadata into both index views. The engine
// treats schedules as read-only; this exists for the configuration surface.
func (s *DefaultStore) PutSchedule(ctx context.Context, schedule *v1.Schedule) error {
	item := scheduleItem{
		keyFields: keyFields{
			PK:     schedulePK(schedule.TenantID, schedule.ID),
			SK:     metadataSK,
			GSI1PK: byStatusPK(schedule.TenantID, entitySchedule, schedule.Active),
			GSI1SK: schedule.ID,
			GSI2PK: byTypePK(schedule.TenantID, entitySchedule),
			GSI2SK: schedule.ID,
		},
		EntityType: entitySchedule,
		Schedule:   *schedule,
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return &cnerrors.StoreError{Op: fmt.Sprintf("marshaling schedule %s", schedule.ID), Err: err}
	}
	if _, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      av,
	}); err != nil {
		return &cnerrors.StoreError{Op: fmt.Sprintf("putting schedule %s", schedule.ID), Err: err}
	}
	return nil
}

// PutAccount upserts account metadata into both index views.
func (s *DefaultStore) PutAccount(ctx context.Context, account *v1.Account) error {
	item := accountItem{
		keyFields: keyFields{
			PK:     accountPK(account.TenantID, account.AccountID),
			SK:     metadataSK,
			GSI1PK: byStatusPK(account.TenantID, entityAccount, account.Active),
			GSI1SK: account.AccountID,
			GSI2PK: byTypePK(account.TenantID, entityAccount),
			GSI2SK: account.AccountID,
		},
		EntityType: entityAccount,
		Account:    *account,
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return &cnerrors.StoreError{Op: fmt.Sprintf("marshaling account %s", account.AccountID), Err: err}
	}
	if _, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      av,
	}); err != nil {
		return &cnerrors.StoreError{Op: fmt.Sprintf("putting account %s", account.AccountID), Err: err}
	}
	return nil
}

// InsertExecution writes a fresh execution record. The conditional put
// guarantees an existing record with the same key is never overwritten.
func (s *DefaultStore) InsertExecution(ctx context.Context, record *v1.ExecutionRecord) error {
	record.ExpiresAt = record.StartTime.Add(executionTTL).Unix()
	item := executionItem{
		keyFields: keyFields{
			PK:     schedulePK(record.TenantID, record.ScheduleID),
			SK:     execSK(record.StartTime, record.ExecutionID),
			GSI1PK: fmt.Sprintf("%s#%s", byTypePK(record.TenantID, entityExecution), record.Status),
			GSI1SK: execSK(record.StartTime, record.ExecutionID),
			GSI2PK: byTypePK(record.TenantID, entityExecution),
			GSI2SK: execSK(record.StartTime, record.ExecutionID),
		},
		EntityType:      entityExecution,
		ExecutionRecord: *record,
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return &cnerrors.StoreError{Op: fmt.Sprintf("marshaling execution record %s", record.ExecutionID), Err: err}
	}
	if _, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(pk) AND attribute_not_exists(sk)"),
	}); err != nil {
		return &cnerrors.StoreError{Op: fmt.Sprintf("inserting execution record %s", record.ExecutionID), Err: err}
	}
	return nil
}

// UpdateExecution merge-updates the completion fields of an existing record.
func (s *DefaultStore) UpdateExecution(ctx context.Context, record *v1.ExecutionRecord) error {
	values, err := attributevalue.MarshalMap(map[string]any{
		":status":   record.Status,
		":endTime":  record.EndTime,
		":duration": record.DurationMillis,
		":started":  record.Started,
		":stopped":  record.Stopped,
		":failed":   record.Failed,
		":errorMsg": record.ErrorMessage,
		":metadata": record.Metadata,
		":account":  record.AccountID,
		":gsi1pk":   fmt.Sprintf("%s#%s", byTypePK(record.TenantID, entityExecution), record.Status),
	})
	if err != nil {
		return &cnerrors.StoreError{Op: fmt.Sprintf("marshaling update for execution record %s", record.ExecutionID), Err: err}
	}
	if _, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]dynamodbtypes.AttributeValue{
			"pk": &dynamodbtypes.AttributeValueMemberS{Value: schedulePK(record.TenantID, record.ScheduleID)},
			"sk": &dynamodbtypes.AttributeValueMemberS{Value: execSK(record.StartTime, record.ExecutionID)},
		},
		UpdateExpression: aws.String("SET execStatus = :status, endTime = :endTime, durationMs = :duration, " +
			"resourcesStarted = :started, resourcesStopped = :stopped, resourcesFailed = :failed, " +
			"errorMessage = :errorMsg, scheduleMetadata = :metadata, accountId = :account, gsi1pk = :gsi1pk"),
		ExpressionAttributeValues: values,
		ConditionExpression:       aws.String("attribute_exists(pk)"),
	}); err != nil {
		return &cnerrors.StoreError{Op: fmt.Sprintf("updating execution record %s", record.ExecutionID), Err: err}
	}
	return nil
}

// AppendAudit inserts one audit entry with a bounded retry. Callers treat
// the write as best-effort; the returned error is logged, not propagated.
func (s *DefaultStore) AppendAudit(ctx context.Context, entry *v1.AuditEntry) error {
	entry.ExpiresAt = entry.Timestamp.Add(auditTTL).Unix()
	item := auditItem{
		keyFields: keyFields{
			PK:     auditPK(entry.ID),
			SK:     entry.Timestamp.UTC().Format(time.RFC3339),
			GSI2PK: entityAudit,
			GSI2SK: entry.Timestamp.UTC().Format(time.RFC3339),
		},
		EntityType: entityAudit,
		AuditEntry: *entry,
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return &cnerrors.StoreError{Op: fmt.Sprintf("marshaling audit entry %s", entry.ID), Err: err}
	}
	if err := retry.Do(func() error {
		_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(s.tableName),
			Item:      av,
		})
		return err
	}, retry.Attempts(auditPutAttempts), retry.Context(ctx), retry.LastErrorOnly(true)); err != nil {
		return &cnerrors.StoreError{Op: fmt.Sprintf("appending audit entry %s", entry.ID), Err: err}
	}
	return nil
}

// LastSuccessfulStop scans the most recent execution records for the
// schedule newest-first and returns the first successful stop result for
// the given resource, or nil when the horizon holds none.
func (s *DefaultStore) LastSuccessfulStop(ctx context.Context, tenant, scheduleID, resourceARN string) (*v1.ResourceResult, error) {
	out, err := s.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("pk = :pk AND begins_with(sk, :prefix)"),
		ExpressionAttributeValues: map[string]dynamodbtypes.AttributeValue{
			":pk":     &dynamodbtypes.AttributeValueMemberS{Value: schedulePK(tenant, scheduleID)},
			":prefix": &dynamodbtypes.AttributeValueMemberS{Value: execSKPrefix},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(LastStopHorizon),
	})
	if err != nil {
		return nil, &cnerrors.StoreError{Op: fmt.Sprintf("querying executions for schedule %s", scheduleID), Err: err}
	}
	records, err := unmarshalAll[executionItem](out.Items)
	if err != nil {
		return nil, &cnerrors.StoreError{Op: fmt.Sprintf("unmarshaling executions for schedule %s", scheduleID), Err: err}
	}
	for _, record := range records {
		for _, result := range record.Metadata.All() {
			if result.ARN == resourceARN && result.Action == v1.ActionStop && result.Status == v1.ResultStatusSuccess {
				return &result, nil
			}
		}
	}
	return nil, nil
}

// queryView pages through one index view for a single partition key value.
func (s *DefaultStore) queryView(ctx context.Context, index, keyAttr, keyValue string) ([]map[string]dynamodbtypes.AttributeValue, error) {
	var items []map[string]dynamodbtypes.AttributeValue
	var startKey map[string]dynamodbtypes.AttributeValue
	for {
		out, err := s.api.Query(ctx, &dynamodb.QueryInput{
			TableName:                aws.String(s.tableName),
			IndexName:                aws.String(index),
			KeyConditionExpression:   aws.String("#k = :v"),
			ExpressionAttributeNames: map[string]string{"#k": keyAttr},
			ExpressionAttributeValues: map[string]dynamodbtypes.AttributeValue{
				":v": &dynamodbtypes.AttributeValueMemberS{Value: keyValue},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, err
		}
		items = append(items, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

func unmarshalAll[T any](items []map[string]dynamodbtypes.AttributeValue) ([]T, error) {
	out := make([]T, 0, len(items))
	for _, av := range items {
		var item T
		if err := attributevalue.UnmarshalMap(av, &item); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}
