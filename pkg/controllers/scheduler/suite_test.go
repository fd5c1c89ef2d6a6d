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

package scheduler_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dynamodbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	v1 "github.com/cloudnap/cloudnap/pkg/apis/v1"
	"github.com/cloudnap/cloudnap/pkg/controllers/scheduler"
	"github.com/cloudnap/cloudnap/pkg/fake"
	asgprovider "github.com/cloudnap/cloudnap/pkg/providers/autoscaling"
	"github.com/cloudnap/cloudnap/pkg/providers/containerservice"
	"github.com/cloudnap/cloudnap/pkg/providers/credentials"
	"github.com/cloudnap/cloudnap/pkg/providers/database"
	docdbprovider "github.com/cloudnap/cloudnap/pkg/providers/docdb"
	"github.com/cloudnap/cloudnap/pkg/providers/instance"
	"github.com/cloudnap/cloudnap/pkg/providers/store"
	"github.com/cloudnap/cloudnap/pkg/test"
	"github.com/cloudnap/cloudnap/pkg/window"
)

var (
	ctx          context.Context
	now          time.Time
	dynamoAPI    *fake.DynamoDBAPI
	stsAPI       *fake.STSAPI
	ec2API       *fake.EC2API
	rdsAPI       *fake.RDSAPI
	docdbAPI     *fake.DocDBAPI
	ecsAPI       *fake.ECSAPI
	asgAPI       *fake.AutoScalingAPI
	recorder     *fake.AuditRecorder
	defaultStore *store.DefaultStore
	controller   *scheduler.Controller
)

// inWindow and outOfWindow bracket a Mon-Fri 08:00-18:00 UTC schedule on a
// Wednesday.
var (
	inWindow    = time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	outOfWindow = time.Date(2026, 8, 26, 20, 0, 0, 0, time.UTC)
)

func TestScheduler(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Controllers/Scheduler")
}

type fakeDriverFactory struct{}

func (fakeDriverFactory) ForAccount(_ context.Context, _ *credentials.Credentials, accountID string) (*scheduler.Drivers, error) {
	return &scheduler.Drivers{
		Instance:         instance.NewDefaultProvider(ec2API, recorder, accountID),
		Database:         database.NewDefaultProvider(rdsAPI, recorder, accountID),
		DocDB:            docdbprovider.NewDefaultProvider(docdbAPI, recorder, accountID),
		ContainerService: containerservice.NewDefaultProvider(ecsAPI, recorder, accountID),
		AutoScaling:      asgprovider.NewDefaultProvider(asgAPI, recorder, accountID),
	}, nil
}

var _ = BeforeSuite(func() {
	ctx = context.Background()
	dynamoAPI = &fake.DynamoDBAPI{}
	stsAPI = &fake.STSAPI{}
	ec2API = &fake.EC2API{}
	rdsAPI = &fake.RDSAPI{}
	docdbAPI = &fake.DocDBAPI{}
	ecsAPI = &fake.ECSAPI{}
	asgAPI = &fake.AutoScalingAPI{}
	recorder = &fake.AuditRecorder{}
	defaultStore = store.NewDefaultStore(dynamoAPI, "cloudnap-test")
	controller = scheduler.NewController(
		defaultStore,
		credentials.NewDefaultBroker(stsAPI),
		window.NewEvaluator(),
		recorder,
		fakeDriverFactory{},
		scheduler.Options{Clock: func() time.Time { return now }},
	)
})

var _ = BeforeEach(func() {
	now = outOfWindow
	dynamoAPI.Reset()
	stsAPI.Reset()
	ec2API.Reset()
	rdsAPI.Reset()
	docdbAPI.Reset()
	ecsAPI.Reset()
	asgAPI.Reset()
	recorder.Reset()
})

func seedSchedule(schedule *v1.Schedule) {
	ExpectWithOffset(1, defaultStore.PutSchedule(ctx, schedule)).To(Succeed())
}

func seedAccount(account *v1.Account) {
	ExpectWithOffset(1, defaultStore.PutAccount(ctx, account)).To(Succeed())
}

// executionRecords reads the persisted execution rows back from the table.
func executionRecords() []v1.ExecutionRecord {
	var records []v1.ExecutionRecord
	for _, item := range dynamoAPI.Items() {
		entity, ok := item["entityType"].(*dynamodbtypes.AttributeValueMemberS)
		if !ok || entity.Value != "EXEC" {
			continue
		}
		var record v1.ExecutionRecord
		ExpectWithOffset(1, attributevalue.UnmarshalMap(item, &record)).To(Succeed())
		records = append(records, record)
	}
	return records
}

var _ = Describe("Scheduler", func() {
	Context("full scans", func() {
		It("should stop resources outside the window", func() {
			seedSchedule(test.Schedule())
			seedAccount(test.Account())

			result := controller.Run(ctx, &v1.Payload{})
			Expect(result.Success).To(BeTrue())
			Expect(result.Mode).To(Equal(v1.RunModeFull))
			Expect(result.SchedulesProcessed).To(Equal(1))
			Expect(result.ResourcesStopped).To(Equal(1))
			Expect(result.ResourcesFailed).To(Equal(0))
			Expect(ec2API.StopInstancesBehavior.Calls()).To(Equal(1))

			records := executionRecords()
			Expect(records).To(HaveLen(1))
			Expect(records[0].Status).To(Equal(v1.ExecutionStatusSuccess))
			Expect(records[0].Stopped).To(Equal(1))
			Expect(records[0].EndTime).ToNot(BeNil())
		})
		It("should start resources inside the window", func() {
			now = inWindow
			seedSchedule(test.Schedule())
			seedAccount(test.Account())
			ec2API.DescribeInstancesBehavior.Output.Set(&ec2.DescribeInstancesOutput{
				Reservations: []ec2types.Reservation{{
					Instances: []ec2types.Instance{{
						InstanceId: aws.String("i-1"),
						State:      &ec2types.InstanceState{Name: ec2types.InstanceStateNameStopped},
					}},
				}},
			})

			result := controller.Run(ctx, &v1.Payload{})
			Expect(result.Success).To(BeTrue())
			Expect(result.ResourcesStarted).To(Equal(1))
			Expect(ec2API.StartInstancesBehavior.Calls()).To(Equal(1))
		})
		It("should be idempotent across consecutive runs", func() {
			seedSchedule(test.Schedule())
			seedAccount(test.Account())

			first := controller.Run(ctx, &v1.Payload{})
			Expect(first.ResourcesStopped).To(Equal(1))

			// The instance is now stopped; the next tick has nothing to do.
			ec2API.DescribeInstancesBehavior.Output.Set(&ec2.DescribeInstancesOutput{
				Reservations: []ec2types.Reservation{{
					Instances: []ec2types.Instance{{
						InstanceId: aws.String("i-1"),
						State:      &ec2types.InstanceState{Name: ec2types.InstanceStateNameStopped},
					}},
				}},
			})
			second := controller.Run(ctx, &v1.Payload{})
			Expect(second.Success).To(BeTrue())
			Expect(second.ResourcesStopped).To(Equal(0))
			Expect(ec2API.StopInstancesBehavior.Calls()).To(Equal(1))
		})
		It("should process schedules with no resources as successful", func() {
			schedule := test.Schedule()
			schedule.Resources = nil
			seedSchedule(schedule)
			seedAccount(test.Account())

			result := controller.Run(ctx, &v1.Payload{})
			Expect(result.Success).To(BeTrue())
			Expect(result.SchedulesProcessed).To(Equal(1))
			records := executionRecords()
			Expect(records).To(HaveLen(1))
			Expect(records[0].Status).To(Equal(v1.ExecutionStatusSuccess))
		})
	})

	Context("scale restoration", func() {
		It("should restore the last captured desired count on start", func() {
			now = inWindow
			resource := test.ResourceRef(v1.ResourceRef{Type: v1.ResourceTypeECS})
			schedule := test.Schedule(v1.Schedule{Resources: []v1.ResourceRef{*resource}})
			seedSchedule(schedule)
			seedAccount(test.Account())

			// A previous run captured five tasks at stop time.
			prior := test.ExecutionRecord(v1.ExecutionRecord{
				ScheduleID: schedule.ID,
				StartTime:  inWindow.Add(-12 * time.Hour),
			})
			prior.Metadata.Append(resource.Type, v1.ResourceResult{
				ARN:       resource.ARN,
				Action:    v1.ActionStop,
				Status:    v1.ResultStatusSuccess,
				LastState: &v1.LastState{Container: &v1.ContainerState{DesiredCount: 5, RunningCount: 5}},
			})
			Expect(defaultStore.InsertExecution(ctx, prior)).To(Succeed())

			ecsAPI.DescribeServicesBehavior.Output.Set(&ecs.DescribeServicesOutput{
				Services: []ecstypes.Service{{ServiceArn: aws.String(resource.ARN), DesiredCount: 0}},
			})
			result := controller.Run(ctx, &v1.Payload{})
			Expect(result.ResourcesStarted).To(Equal(1))
			update := ecsAPI.UpdateServiceBehavior.CalledWithInput.At(0)
			Expect(aws.ToInt32(update.DesiredCount)).To(Equal(int32(5)))
		})
	})

	Context("partial scans", func() {
		It("should process a single schedule by id", func() {
			target := test.Schedule()
			seedSchedule(target)
			seedSchedule(test.Schedule())
			seedAccount(test.Account())

			result := controller.Run(ctx, &v1.Payload{ScheduleID: target.ID})
			Expect(result.Success).To(BeTrue())
			Expect(result.Mode).To(Equal(v1.RunModePartial))
			Expect(result.SchedulesProcessed).To(Equal(1))
		})
		It("should process an inactive schedule when targeted directly", func() {
			target := test.Schedule()
			target.Active = false
			seedSchedule(target)
			seedAccount(test.Account())

			result := controller.Run(ctx, &v1.Payload{ScheduleID: target.ID})
			Expect(result.Success).To(BeTrue())
			Expect(result.SchedulesProcessed).To(Equal(1))
		})
		It("should resolve a schedule by display name", func() {
			target := test.Schedule(v1.Schedule{Name: "weekday-office-hours"})
			seedSchedule(target)
			seedAccount(test.Account())

			result := controller.Run(ctx, &v1.Payload{ScheduleName: "weekday-office-hours"})
			Expect(result.Success).To(BeTrue())
			Expect(result.SchedulesProcessed).To(Equal(1))
		})
		It("should fail the run when the targeted schedule does not exist", func() {
			result := controller.Run(ctx, &v1.Payload{ScheduleID: "nonexistent"})
			Expect(result.Success).To(BeFalse())
			Expect(result.Errors).To(ContainElement(ContainSubstring("not found")))
			Expect(result.SchedulesProcessed).To(Equal(0))
		})
	})

	Context("force", func() {
		It("should treat every targeted schedule as in window", func() {
			seedSchedule(test.Schedule())
			seedAccount(test.Account())
			ec2API.DescribeInstancesBehavior.Output.Set(&ec2.DescribeInstancesOutput{
				Reservations: []ec2types.Reservation{{
					Instances: []ec2types.Instance{{
						InstanceId: aws.String("i-1"),
						State:      &ec2types.InstanceState{Name: ec2types.InstanceStateNameStopped},
					}},
				}},
			})

			// Outside the window, yet forced runs start.
			result := controller.Run(ctx, &v1.Payload{Force: true})
			Expect(result.ResourcesStarted).To(Equal(1))
			Expect(ec2API.StartInstancesBehavior.Calls()).To(Equal(1))
		})
	})

	Context("malformed schedules", func() {
		It("should audit and skip a schedule that fails validation", func() {
			schedule := test.Schedule()
			schedule.Timezone = "Mars/Olympus_Mons"
			seedSchedule(schedule)
			seedAccount(test.Account())

			result := controller.Run(ctx, &v1.Payload{})
			Expect(result.Success).To(BeFalse())
			Expect(result.SchedulesProcessed).To(Equal(0))
			Expect(recorder.ForEventType("scheduler.schedule.invalid")).To(HaveLen(1))
			Expect(executionRecords()).To(BeEmpty())
		})
	})

	Context("account failures", func() {
		It("should fail all of an account's resources when role assumption fails", func() {
			seedSchedule(test.Schedule())
			seedAccount(test.Account())
			stsAPI.AssumeRoleBehavior.Error.Set(fmt.Errorf("access denied"))

			result := controller.Run(ctx, &v1.Payload{})
			Expect(result.Success).To(BeTrue())
			Expect(result.ResourcesFailed).To(Equal(1))
			Expect(ec2API.DescribeInstancesBehavior.Calls()).To(Equal(0))
			Expect(recorder.ForEventType("scheduler.account.unreachable")).To(HaveLen(1))

			records := executionRecords()
			Expect(records).To(HaveLen(1))
			Expect(records[0].Status).To(Equal(v1.ExecutionStatusFailed))
		})
		It("should fail resources whose account is not configured", func() {
			seedSchedule(test.Schedule())

			result := controller.Run(ctx, &v1.Payload{})
			Expect(result.ResourcesFailed).To(Equal(1))
			Expect(recorder.ForEventType("scheduler.account.unreachable")).To(HaveLen(1))
		})
		It("should keep processing other accounts when one is unreachable", func() {
			otherAccount := "210987654321"
			resources := []v1.ResourceRef{
				*test.ResourceRef(),
				*test.ResourceRef(v1.ResourceRef{
					ID:  "i-other",
					ARN: test.ResourceARN(v1.ResourceTypeVM, test.DefaultRegion, otherAccount, "i-other"),
				}),
			}
			seedSchedule(test.Schedule(v1.Schedule{Resources: resources}))
			seedAccount(test.Account())

			result := controller.Run(ctx, &v1.Payload{})
			Expect(result.ResourcesStopped).To(Equal(1))
			Expect(result.ResourcesFailed).To(Equal(1))
			records := executionRecords()
			Expect(records).To(HaveLen(1))
			Expect(records[0].Status).To(Equal(v1.ExecutionStatusPartial))
		})
	})

	Context("mixed outcomes", func() {
		It("should classify a run with some failures as partial", func() {
			resources := []v1.ResourceRef{
				*test.ResourceRef(),
				*test.ResourceRef(v1.ResourceRef{Type: v1.ResourceTypeRDS}),
			}
			seedSchedule(test.Schedule(v1.Schedule{Resources: resources}))
			seedAccount(test.Account())
			rdsAPI.DescribeDBInstancesBehavior.Error.Set(fmt.Errorf("internal error"))

			result := controller.Run(ctx, &v1.Payload{})
			Expect(result.ResourcesStopped).To(Equal(1))
			Expect(result.ResourcesFailed).To(Equal(1))
			records := executionRecords()
			Expect(records).To(HaveLen(1))
			Expect(records[0].Status).To(Equal(v1.ExecutionStatusPartial))
		})
	})

	Context("record insertion", func() {
		It("should abandon a schedule whose execution record cannot be inserted", func() {
			seedSchedule(test.Schedule())
			seedAccount(test.Account())
			dynamoAPI.PutItemBehavior.Error.Set(fmt.Errorf("throttled"), fake.MaxCalls(1))

			result := controller.Run(ctx, &v1.Payload{})
			Expect(result.Success).To(BeFalse())
			Expect(result.SchedulesProcessed).To(Equal(0))
			Expect(ec2API.DescribeInstancesBehavior.Calls()).To(Equal(0))
		})
	})

	Context("cancellation", func() {
		It("should fail pending resources with the cancelled reason", func() {
			seedSchedule(test.Schedule())
			seedAccount(test.Account())
			cancelled, cancel := context.WithCancel(ctx)
			cancel()

			result := controller.Run(cancelled, &v1.Payload{})
			Expect(result.ResourcesFailed).To(Equal(1))
			Expect(ec2API.DescribeInstancesBehavior.Calls()).To(Equal(0))

			records := executionRecords()
			Expect(records).To(HaveLen(1))
			Expect(records[0].Status).To(Equal(v1.ExecutionStatusFailed))
			all := records[0].Metadata.All()
			Expect(all).To(HaveLen(1))
			Expect(all[0].Error).To(Equal("cancelled"))
		})
	})
})
