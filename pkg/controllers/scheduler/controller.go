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

// Package scheduler is the execution engine. One Run processes one tick:
// it resolves the targeted schedules, evaluates each schedule's window once,
// fans out over accounts and resources with bounded concurrency, and writes
// one execution record per schedule.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	v1 "github.com/cloudnap/cloudnap/pkg/apis/v1"
	"github.com/cloudnap/cloudnap/pkg/audit"
	cnerrors "github.com/cloudnap/cloudnap/pkg/errors"
	"github.com/cloudnap/cloudnap/pkg/metrics"
	"github.com/cloudnap/cloudnap/pkg/providers/credentials"
	"github.com/cloudnap/cloudnap/pkg/providers/store"
	"github.com/cloudnap/cloudnap/pkg/window"
)

const (
	// DefaultAccountConcurrency bounds concurrent accounts per schedule.
	DefaultAccountConcurrency = 8
	// DefaultResourceConcurrency bounds concurrent driver calls per account.
	DefaultResourceConcurrency = 16
)

type Options struct {
	AccountConcurrency  int
	ResourceConcurrency int
	// Clock is injectable for tests; defaults to time.Now.
	Clock func() time.Time
}

func (o Options) withDefaults() Options {
	if o.AccountConcurrency <= 0 {
		o.AccountConcurrency = DefaultAccountConcurrency
	}
	if o.ResourceConcurrency <= 0 {
		o.ResourceConcurrency = DefaultResourceConcurrency
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

type Controller struct {
	store     store.Store
	broker    credentials.Broker
	evaluator *window.Evaluator
	recorder  audit.Recorder
	factory   DriverFactory
	opts      Options
}

func NewController(s store.Store, broker credentials.Broker, evaluator *window.Evaluator, recorder audit.Recorder, factory DriverFactory, opts Options) *Controller {
	return &Controller{
		store:     s,
		broker:    broker,
		evaluator: evaluator,
		recorder:  recorder,
		factory:   factory,
		opts:      opts.withDefaults(),
	}
}

// Run executes one invocation. Per-resource failures never abort a
// schedule and the only error that escapes the engine entirely is an
// execution-record insert failure, surfaced through the summary's Errors.
func (c *Controller) Run(ctx context.Context, payload *v1.Payload) *v1.RunResult {
	payload.Default()
	started := c.opts.Clock()
	result := &v1.RunResult{
		ExecutionID: uuid.NewString(),
		Mode:        lo.Ternary(payload.Partial(), v1.RunModePartial, v1.RunModeFull),
	}
	ctx = logr.NewContext(ctx, logr.FromContextOrDiscard(ctx).WithValues("executionId", result.ExecutionID, "mode", result.Mode))
	log := logr.FromContextOrDiscard(ctx)

	schedules, accounts, err := c.load(ctx, payload)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		result.DurationMillis = c.opts.Clock().Sub(started).Milliseconds()
		return result
	}
	for _, schedule := range schedules {
		c.processSchedule(ctx, schedule, accounts, payload, result)
	}
	// Give queued audit writes a moment to land before the invocation ends.
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	c.recorder.Flush(flushCtx)

	result.Success = len(result.Errors) == 0
	result.DurationMillis = c.opts.Clock().Sub(started).Milliseconds()
	metrics.ExecutionDuration.WithLabelValues(string(result.Mode)).Observe(float64(result.DurationMillis) / 1000)
	log.Info("invocation complete",
		"schedules", result.SchedulesProcessed,
		"started", result.ResourcesStarted,
		"stopped", result.ResourcesStopped,
		"failed", result.ResourcesFailed,
		"durationMs", result.DurationMillis)
	return result
}

// load resolves the targeted schedules and the active accounts in parallel.
func (c *Controller) load(ctx context.Context, payload *v1.Payload) ([]*v1.Schedule, map[string]*v1.Account, error) {
	var schedules []*v1.Schedule
	var accounts []*v1.Account
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		switch {
		case payload.ScheduleID != "":
			var schedule *v1.Schedule
			// Partial scans may target inactive schedules.
			if schedule, err = c.store.GetSchedule(gctx, payload.TenantID, payload.ScheduleID); schedule != nil {
				schedules = append(schedules, schedule)
			} else if err == nil {
				err = fmt.Errorf("schedule %q not found", payload.ScheduleID)
			}
		case payload.ScheduleName != "":
			var schedule *v1.Schedule
			if schedule, err = c.store.GetScheduleByName(gctx, payload.TenantID, payload.ScheduleName); schedule != nil {
				schedules = append(schedules, schedule)
			} else if err == nil {
				err = fmt.Errorf("schedule named %q not found", payload.ScheduleName)
			}
		default:
			schedules, err = c.store.ListActiveSchedules(gctx, payload.TenantID)
		}
		return err
	})
	g.Go(func() error {
		var err error
		accounts, err = c.store.ListActiveAccounts(gctx, payload.TenantID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return schedules, lo.SliceToMap(accounts, func(a *v1.Account) (string, *v1.Account) {
		return a.AccountID, a
	}), nil
}

// nolint: gocyclo
func (c *Controller) processSchedule(ctx context.Context, schedule *v1.Schedule, accounts map[string]*v1.Account, payload *v1.Payload, result *v1.RunResult) {
	log := logr.FromContextOrDiscard(ctx).WithValues("schedule", schedule.ID)
	if err := schedule.Validate(); err != nil {
		log.Error(err, "skipping malformed schedule")
		c.recorder.Publish(&v1.AuditEntry{
			EventType: "scheduler.schedule.invalid",
			Action:    v1.ActionSkip,
			Status:    v1.ResultStatusFailed,
			Severity:  v1.SeverityHigh,
			Details:   err.Error(),
		})
		result.Errors = append(result.Errors, fmt.Sprintf("schedule %s, %s", schedule.ID, err))
		return
	}

	record := &v1.ExecutionRecord{
		ExecutionID: uuid.NewString(),
		ScheduleID:  schedule.ID,
		TenantID:    payload.TenantID,
		Status:      v1.ExecutionStatusPending,
		TriggeredBy: payload.TriggeredBy,
		StartTime:   c.opts.Clock().UTC(),
	}
	// An insert failure is fatal for this execution; without a record there
	// is nothing to attribute outcomes to.
	if err := c.store.InsertExecution(ctx, record); err != nil {
		log.Error(err, "abandoning schedule, could not insert execution record")
		result.Errors = append(result.Errors, fmt.Sprintf("schedule %s, %s", schedule.ID, err))
		return
	}
	record.Status = v1.ExecutionStatusRunning

	// The window is evaluated once per schedule, not per resource.
	inWindow := payload.Force
	if !inWindow {
		var err error
		if inWindow, err = c.evaluator.InWindow(schedule, c.opts.Clock()); err != nil {
			c.closeRecord(ctx, record, result, err.Error())
			result.Errors = append(result.Errors, fmt.Sprintf("schedule %s, %s", schedule.ID, err))
			return
		}
	}
	action := lo.Ternary(inWindow, v1.ActionStart, v1.ActionStop)
	log.V(1).Info("evaluated window", "inWindow", inWindow, "action", action)

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(c.opts.AccountConcurrency)
	for accountID, resources := range schedule.ResourcesByAccount() {
		g.Go(func() error {
			c.processAccount(ctx, accountID, resources, accounts[accountID], action, record, &mu)
			return nil
		})
	}
	_ = g.Wait()

	all := record.Metadata.All()
	record.Started = lo.CountBy(all, func(r v1.ResourceResult) bool {
		return r.Action == v1.ActionStart && r.Status == v1.ResultStatusSuccess
	})
	record.Stopped = lo.CountBy(all, func(r v1.ResourceResult) bool {
		return r.Action == v1.ActionStop && r.Status == v1.ResultStatusSuccess
	})
	record.Failed = lo.CountBy(all, func(r v1.ResourceResult) bool {
		return r.Status == v1.ResultStatusFailed
	})
	record.AccountID = strings.Join(schedule.AccountIDs(), ",")
	record.Status = record.Classify()
	c.closeRecord(ctx, record, result, "")

	result.SchedulesProcessed++
	result.ResourcesStarted += record.Started
	result.ResourcesStopped += record.Stopped
	result.ResourcesFailed += record.Failed
	metrics.SchedulesProcessed.Inc()
	log.Info("processed schedule", "status", record.Status,
		"started", record.Started, "stopped", record.Stopped, "failed", record.Failed)
}

// closeRecord finalizes and persists the record. An update failure leaves
// the record running remotely; the TTL garbage-collects it.
func (c *Controller) closeRecord(ctx context.Context, record *v1.ExecutionRecord, result *v1.RunResult, errorMessage string) {
	now := c.opts.Clock().UTC()
	record.EndTime = &now
	record.DurationMillis = now.Sub(record.StartTime).Milliseconds()
	if errorMessage != "" {
		record.ErrorMessage = errorMessage
		record.Status = v1.ExecutionStatusFailed
	}
	// The update must survive invocation cancellation or every cancelled
	// run would leave a dangling running record.
	updateCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := c.store.UpdateExecution(updateCtx, record); err != nil {
		logr.FromContextOrDiscard(ctx).Error(err, "leaving execution record in running state", "executionId", record.ExecutionID)
		result.Errors = append(result.Errors, fmt.Sprintf("execution %s, %s", record.ExecutionID, err))
	}
}

// processAccount assumes into one account and fans out over its resources.
// Credential failures fail this account's resources and continue; other
// accounts are unaffected.
func (c *Controller) processAccount(ctx context.Context, accountID string, resources []v1.ResourceRef, account *v1.Account, action v1.Action, record *v1.ExecutionRecord, mu *sync.Mutex) {
	log := logr.FromContextOrDiscard(ctx).WithValues("account", accountID)
	if account == nil {
		err := fmt.Errorf("account %q is not configured or inactive", accountID)
		log.Error(err, "skipping account")
		c.auditAccountFailure(accountID, "", action, err)
		c.failAll(resources, action, err, record, mu)
		return
	}
	// Credentials are scoped per region; the ARN region is authoritative.
	for region, regionResources := range lo.GroupBy(resources, func(r v1.ResourceRef) string { return r.Region() }) {
		creds, err := c.broker.Assume(ctx, account, region)
		if err != nil {
			log.Error(err, "skipping account in region", "region", region)
			c.auditAccountFailure(accountID, region, action, err)
			c.failAll(regionResources, action, err, record, mu)
			continue
		}
		drivers, err := c.factory.ForAccount(ctx, creds, accountID)
		if err != nil {
			log.Error(err, "building drivers", "region", region)
			c.failAll(regionResources, action, err, record, mu)
			continue
		}
		var g errgroup.Group
		g.SetLimit(c.opts.ResourceConcurrency)
		for _, resource := range regionResources {
			g.Go(func() error {
				res := c.processResource(ctx, drivers, record, resource, action)
				mu.Lock()
				record.Metadata.Append(resource.Type, *res)
				mu.Unlock()
				metrics.ResourceActions.WithLabelValues(string(resource.Type), string(res.Action), string(res.Status)).Inc()
				return nil
			})
		}
		_ = g.Wait()
	}
}

func (c *Controller) processResource(ctx context.Context, drivers *Drivers, record *v1.ExecutionRecord, resource v1.ResourceRef, action v1.Action) *v1.ResourceResult {
	// Resources still pending when the invocation budget expires are
	// failed without touching the provider.
	if ctx.Err() != nil {
		return &v1.ResourceResult{
			ARN:        resource.ARN,
			ResourceID: resource.ID,
			Action:     action,
			Status:     v1.ResultStatusFailed,
			Error:      cnerrors.Reason(ctx.Err()),
		}
	}
	var lastState *v1.LastState
	// Only the scale-restoring families read history back on start.
	if action == v1.ActionStart && (resource.Type == v1.ResourceTypeECS || resource.Type == v1.ResourceTypeASG) {
		prior, err := c.store.LastSuccessfulStop(ctx, record.TenantID, record.ScheduleID, resource.ARN)
		if err != nil {
			logr.FromContextOrDiscard(ctx).Error(err, "reading last stop state, starting with defaults", "resource", resource.ID)
		} else if prior != nil {
			lastState = prior.LastState
		}
	}
	return drivers.Process(ctx, resource, action, lastState)
}

func (c *Controller) failAll(resources []v1.ResourceRef, action v1.Action, err error, record *v1.ExecutionRecord, mu *sync.Mutex) {
	mu.Lock()
	defer mu.Unlock()
	for _, resource := range resources {
		record.Metadata.Append(resource.Type, v1.ResourceResult{
			ARN:        resource.ARN,
			ResourceID: resource.ID,
			Action:     action,
			Status:     v1.ResultStatusFailed,
			Error:      cnerrors.Reason(err),
		})
		metrics.ResourceActions.WithLabelValues(string(resource.Type), string(action), string(v1.ResultStatusFailed)).Inc()
	}
}

func (c *Controller) auditAccountFailure(accountID, region string, action v1.Action, err error) {
	c.recorder.Publish(&v1.AuditEntry{
		EventType: "scheduler.account.unreachable",
		Action:    action,
		Status:    v1.ResultStatusFailed,
		Severity:  v1.SeverityHigh,
		Details:   err.Error(),
		AccountID: accountID,
		Region:    region,
	})
}
