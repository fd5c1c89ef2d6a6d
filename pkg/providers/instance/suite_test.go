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

package instance_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	v1 "github.com/cloudnap/cloudnap/pkg/apis/v1"
	"github.com/cloudnap/cloudnap/pkg/fake"
	"github.com/cloudnap/cloudnap/pkg/providers/instance"
	"github.com/cloudnap/cloudnap/pkg/test"
)

var ctx context.Context
var ec2API *fake.EC2API
var recorder *fake.AuditRecorder
var provider *instance.DefaultProvider

func TestInstance(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Providers/Instance")
}

var _ = BeforeSuite(func() {
	ctx = context.Background()
	ec2API = &fake.EC2API{}
	recorder = &fake.AuditRecorder{}
	provider = instance.NewDefaultProvider(ec2API, recorder, test.DefaultAccountID)
})

var _ = BeforeEach(func() {
	ec2API.Reset()
	recorder.Reset()
})

func describeOutput(id string, state ec2types.InstanceStateName) *ec2.DescribeInstancesOutput {
	return &ec2.DescribeInstancesOutput{
		Reservations: []ec2types.Reservation{{
			Instances: []ec2types.Instance{{
				InstanceId:   aws.String(id),
				InstanceType: ec2types.InstanceTypeM5Large,
				State:        &ec2types.InstanceState{Name: state},
			}},
		}},
	}
}

var _ = Describe("Instance", func() {
	var resource *v1.ResourceRef
	BeforeEach(func() {
		resource = test.ResourceRef()
	})

	Context("stop", func() {
		It("should stop a running instance and snapshot its pre-mutation state", func() {
			result := provider.Process(ctx, *resource, v1.ActionStop, nil)
			Expect(result.Status).To(Equal(v1.ResultStatusSuccess))
			Expect(result.Action).To(Equal(v1.ActionStop))
			Expect(result.LastState.Instance.State).To(Equal("running"))
			Expect(result.LastState.Instance.InstanceType).To(Equal("m5.large"))
			Expect(ec2API.StopInstancesBehavior.CalledWithInput.Len()).To(Equal(1))
			Expect(recorder.ForEventType("scheduler.vm.stop")).To(HaveLen(1))
			Expect(recorder.ForEventType("scheduler.vm.stop")[0].Severity).To(Equal(v1.SeverityMedium))
		})
		It("should skip an instance that is not running", func() {
			ec2API.DescribeInstancesBehavior.Output.Set(describeOutput(resource.ID, ec2types.InstanceStateNameStopped))
			result := provider.Process(ctx, *resource, v1.ActionStop, nil)
			Expect(result.Action).To(Equal(v1.ActionSkip))
			Expect(result.Status).To(Equal(v1.ResultStatusSuccess))
			Expect(ec2API.StopInstancesBehavior.Calls()).To(Equal(0))
			Expect(recorder.Entries.Len()).To(Equal(0))
		})
		It("should fail the result when the stop call errors", func() {
			ec2API.StopInstancesBehavior.Error.Set(fmt.Errorf("rate exceeded"))
			result := provider.Process(ctx, *resource, v1.ActionStop, nil)
			Expect(result.Status).To(Equal(v1.ResultStatusFailed))
			Expect(result.Error).To(ContainSubstring("rate exceeded"))
			Expect(result.LastState).To(BeNil())
			entries := recorder.ForEventType("scheduler.vm.stop")
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].Severity).To(Equal(v1.SeverityHigh))
		})
	})

	Context("start", func() {
		It("should start a stopped instance", func() {
			ec2API.DescribeInstancesBehavior.Output.Set(describeOutput(resource.ID, ec2types.InstanceStateNameStopped))
			result := provider.Process(ctx, *resource, v1.ActionStart, nil)
			Expect(result.Status).To(Equal(v1.ResultStatusSuccess))
			Expect(result.Action).To(Equal(v1.ActionStart))
			Expect(result.LastState.Instance.State).To(Equal("stopped"))
			Expect(ec2API.StartInstancesBehavior.CalledWithInput.Len()).To(Equal(1))
		})
		It("should skip a running instance", func() {
			result := provider.Process(ctx, *resource, v1.ActionStart, nil)
			Expect(result.Action).To(Equal(v1.ActionSkip))
			Expect(ec2API.StartInstancesBehavior.Calls()).To(Equal(0))
		})
		It("should skip an instance already pending start", func() {
			ec2API.DescribeInstancesBehavior.Output.Set(describeOutput(resource.ID, ec2types.InstanceStateNamePending))
			result := provider.Process(ctx, *resource, v1.ActionStart, nil)
			Expect(result.Action).To(Equal(v1.ActionSkip))
			Expect(ec2API.StartInstancesBehavior.Calls()).To(Equal(0))
		})
	})

	Context("failures", func() {
		It("should fail when the instance does not exist", func() {
			ec2API.DescribeInstancesBehavior.Output.Set(&ec2.DescribeInstancesOutput{})
			result := provider.Process(ctx, *resource, v1.ActionStop, nil)
			Expect(result.Status).To(Equal(v1.ResultStatusFailed))
			Expect(result.Error).To(ContainSubstring("not found"))
		})
		It("should map a not-found API error onto a failed result", func() {
			ec2API.DescribeInstancesBehavior.Error.Set(&smithy.GenericAPIError{Code: "InvalidInstanceID.NotFound", Message: "does not exist"})
			result := provider.Process(ctx, *resource, v1.ActionStop, nil)
			Expect(result.Status).To(Equal(v1.ResultStatusFailed))
			Expect(result.Error).To(ContainSubstring("not found"))
			Expect(result.LastState).To(BeNil())
		})
	})
})
