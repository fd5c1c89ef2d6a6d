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

package store_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	v1 "github.com/cloudnap/cloudnap/pkg/apis/v1"
	"github.com/cloudnap/cloudnap/pkg/fake"
	"github.com/cloudnap/cloudnap/pkg/providers/store"
	"github.com/cloudnap/cloudnap/pkg/test"
)

var ctx context.Context
var dynamoAPI *fake.DynamoDBAPI
var defaultStore *store.DefaultStore

func TestStore(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Providers/Store")
}

var _ = BeforeSuite(func() {
	ctx = context.Background()
	dynamoAPI = &fake.DynamoDBAPI{}
	defaultStore = store.NewDefaultStore(dynamoAPI, "cloudnap-test")
})

var _ = BeforeEach(func() {
	dynamoAPI.Reset()
})

var _ = Describe("Store", func() {
	Context("schedules", func() {
		It("should list only active schedules", func() {
			active1 := test.Schedule()
			active2 := test.Schedule()
			inactive := test.Schedule()
			inactive.Active = false
			for _, schedule := range []*v1.Schedule{active1, active2, inactive} {
				Expect(defaultStore.PutSchedule(ctx, schedule)).To(Succeed())
			}

			schedules, err := defaultStore.ListActiveSchedules(ctx, test.DefaultTenant)
			Expect(err).ToNot(HaveOccurred())
			Expect(schedules).To(HaveLen(2))
			Expect([]string{schedules[0].ID, schedules[1].ID}).To(ConsistOf(active1.ID, active2.ID))
		})
		It("should fall back to the by-type view and agree with the primary read", func() {
			schedule := test.Schedule()
			Expect(defaultStore.PutSchedule(ctx, schedule)).To(Succeed())

			// First query (the by-status view) fails, the fallback succeeds.
			dynamoAPI.QueryBehavior.Error.Set(fmt.Errorf("view unavailable"), fake.MaxCalls(1))
			schedules, err := defaultStore.ListActiveSchedules(ctx, test.DefaultTenant)
			Expect(err).ToNot(HaveOccurred())
			Expect(schedules).To(HaveLen(1))
			Expect(schedules[0].ID).To(Equal(schedule.ID))
		})
		It("should get a schedule by id regardless of active status", func() {
			schedule := test.Schedule()
			schedule.Active = false
			Expect(defaultStore.PutSchedule(ctx, schedule)).To(Succeed())

			got, err := defaultStore.GetSchedule(ctx, test.DefaultTenant, schedule.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(got).ToNot(BeNil())
			Expect(got.ID).To(Equal(schedule.ID))
		})
		It("should return nil for a missing schedule", func() {
			got, err := defaultStore.GetSchedule(ctx, test.DefaultTenant, "nonexistent")
			Expect(err).ToNot(HaveOccurred())
			Expect(got).To(BeNil())
		})
		It("should resolve a schedule by display name", func() {
			schedule := test.Schedule(v1.Schedule{Name: "weekday-office-hours"})
			Expect(defaultStore.PutSchedule(ctx, schedule)).To(Succeed())
			Expect(defaultStore.PutSchedule(ctx, test.Schedule())).To(Succeed())

			got, err := defaultStore.GetScheduleByName(ctx, test.DefaultTenant, "weekday-office-hours")
			Expect(err).ToNot(HaveOccurred())
			Expect(got).ToNot(BeNil())
			Expect(got.ID).To(Equal(schedule.ID))

			missing, err := defaultStore.GetScheduleByName(ctx, test.DefaultTenant, "no-such-name")
			Expect(err).ToNot(HaveOccurred())
			Expect(missing).To(BeNil())
		})
		It("should isolate tenants", func() {
			Expect(defaultStore.PutSchedule(ctx, test.Schedule())).To(Succeed())
			other := test.Schedule(v1.Schedule{TenantID: "acme"})
			Expect(defaultStore.PutSchedule(ctx, other)).To(Succeed())

			schedules, err := defaultStore.ListActiveSchedules(ctx, "acme")
			Expect(err).ToNot(HaveOccurred())
			Expect(schedules).To(HaveLen(1))
			Expect(schedules[0].ID).To(Equal(other.ID))
		})
	})

	Context("accounts", func() {
		It("should list only active accounts", func() {
			active := test.Account()
			inactive := test.Account(v1.Account{AccountID: "210987654321"})
			inactive.Active = false
			Expect(defaultStore.PutAccount(ctx, active)).To(Succeed())
			Expect(defaultStore.PutAccount(ctx, inactive)).To(Succeed())

			accounts, err := defaultStore.ListActiveAccounts(ctx, test.DefaultTenant)
			Expect(err).ToNot(HaveOccurred())
			Expect(accounts).To(HaveLen(1))
			Expect(accounts[0].AccountID).To(Equal(active.AccountID))
		})
	})

	Context("execution records", func() {
		It("should stamp the retention TTL on insert", func() {
			record := test.ExecutionRecord()
			Expect(defaultStore.InsertExecution(ctx, record)).To(Succeed())
			Expect(record.ExpiresAt).To(Equal(record.StartTime.Add(30 * 24 * time.Hour).Unix()))
		})
		It("should refuse to overwrite an existing record", func() {
			record := test.ExecutionRecord()
			Expect(defaultStore.InsertExecution(ctx, record)).To(Succeed())
			Expect(defaultStore.InsertExecution(ctx, record)).ToNot(Succeed())
		})
		It("should merge completion fields on update", func() {
			resource := test.ResourceRef(v1.ResourceRef{Type: v1.ResourceTypeECS})
			record := test.ExecutionRecord(v1.ExecutionRecord{Status: v1.ExecutionStatusPending})
			Expect(defaultStore.InsertExecution(ctx, record)).To(Succeed())

			record.Status = v1.ExecutionStatusSuccess
			record.Stopped = 1
			record.Metadata.Append(resource.Type, v1.ResourceResult{
				ARN:        resource.ARN,
				ResourceID: resource.ID,
				Action:     v1.ActionStop,
				Status:     v1.ResultStatusSuccess,
				LastState:  &v1.LastState{Container: &v1.ContainerState{DesiredCount: 3, RunningCount: 3}},
			})
			Expect(defaultStore.UpdateExecution(ctx, record)).To(Succeed())

			prior, err := defaultStore.LastSuccessfulStop(ctx, record.TenantID, record.ScheduleID, resource.ARN)
			Expect(err).ToNot(HaveOccurred())
			Expect(prior).ToNot(BeNil())
			Expect(prior.LastState.Container.DesiredCount).To(Equal(int32(3)))
		})
		It("should refuse to update a record that was never inserted", func() {
			Expect(defaultStore.UpdateExecution(ctx, test.ExecutionRecord())).ToNot(Succeed())
		})
	})

	Context("last successful stop", func() {
		var resource *v1.ResourceRef
		var scheduleID string

		insertStop := func(start time.Time, desired int32, status v1.ResultStatus) {
			record := test.ExecutionRecord(v1.ExecutionRecord{ScheduleID: scheduleID, StartTime: start})
			record.Metadata.Append(resource.Type, v1.ResourceResult{
				ARN:        resource.ARN,
				ResourceID: resource.ID,
				Action:     v1.ActionStop,
				Status:     status,
				LastState:  &v1.LastState{Container: &v1.ContainerState{DesiredCount: desired}},
			})
			Expect(defaultStore.InsertExecution(ctx, record)).To(Succeed())
		}

		BeforeEach(func() {
			resource = test.ResourceRef(v1.ResourceRef{Type: v1.ResourceTypeECS})
			scheduleID = test.Schedule().ID
		})
		It("should return the most recent successful stop", func() {
			base := time.Date(2026, 8, 20, 18, 0, 0, 0, time.UTC)
			insertStop(base, 2, v1.ResultStatusSuccess)
			insertStop(base.Add(24*time.Hour), 5, v1.ResultStatusSuccess)
			insertStop(base.Add(48*time.Hour), 7, v1.ResultStatusFailed)

			prior, err := defaultStore.LastSuccessfulStop(ctx, test.DefaultTenant, scheduleID, resource.ARN)
			Expect(err).ToNot(HaveOccurred())
			Expect(prior).ToNot(BeNil())
			Expect(prior.LastState.Container.DesiredCount).To(Equal(int32(5)))
		})
		It("should return nil when no execution within the horizon stopped the resource", func() {
			base := time.Date(2026, 8, 1, 18, 0, 0, 0, time.UTC)
			insertStop(base, 2, v1.ResultStatusSuccess)
			// Bury the stop under a full horizon of unrelated executions.
			for i := 0; i < store.LastStopHorizon; i++ {
				record := test.ExecutionRecord(v1.ExecutionRecord{
					ScheduleID: scheduleID,
					StartTime:  base.Add(time.Duration(i+1) * 24 * time.Hour),
				})
				Expect(defaultStore.InsertExecution(ctx, record)).To(Succeed())
			}

			prior, err := defaultStore.LastSuccessfulStop(ctx, test.DefaultTenant, scheduleID, resource.ARN)
			Expect(err).ToNot(HaveOccurred())
			Expect(prior).To(BeNil())
		})
		It("should not match a different resource's stop", func() {
			insertStop(time.Date(2026, 8, 20, 18, 0, 0, 0, time.UTC), 2, v1.ResultStatusSuccess)
			prior, err := defaultStore.LastSuccessfulStop(ctx, test.DefaultTenant, scheduleID, "arn:aws:ecs:us-east-1:123456789012:service/default/other")
			Expect(err).ToNot(HaveOccurred())
			Expect(prior).To(BeNil())
		})
	})

	Context("audit log", func() {
		It("should stamp the retention TTL on append", func() {
			entry := &v1.AuditEntry{
				ID:        "entry-1",
				Timestamp: time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC),
				EventType: "scheduler.vm.stop",
			}
			Expect(defaultStore.AppendAudit(ctx, entry)).To(Succeed())
			Expect(entry.ExpiresAt).To(Equal(entry.Timestamp.Add(90 * 24 * time.Hour).Unix()))
		})
		It("should retry transient put failures", func() {
			dynamoAPI.PutItemBehavior.Error.Set(fmt.Errorf("throttled"), fake.MaxCalls(2))
			Expect(defaultStore.AppendAudit(ctx, &v1.AuditEntry{ID: "entry-2", Timestamp: time.Now().UTC()})).To(Succeed())
		})
		It("should give up after the retry budget", func() {
			dynamoAPI.PutItemBehavior.Error.Set(fmt.Errorf("throttled"), fake.MaxCalls(0))
			Expect(defaultStore.AppendAudit(ctx, &v1.AuditEntry{ID: "entry-3", Timestamp: time.Now().UTC()})).ToNot(Succeed())
		})
	})
})
