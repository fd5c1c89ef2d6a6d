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

package fake

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	asgtypes "github.com/aws/aws-sdk-go-v2/service/autoscaling/types"

	sdk "github.com/cloudnap/cloudnap/pkg/aws"
)

// AutoScalingBehavior must be reset between tests otherwise tests will
// pollute each other.
type AutoScalingBehavior struct {
	DescribeAutoScalingGroupsBehavior MockedFunction[autoscaling.DescribeAutoScalingGroupsInput, autoscaling.DescribeAutoScalingGroupsOutput]
	UpdateAutoScalingGroupBehavior    MockedFunction[autoscaling.UpdateAutoScalingGroupInput, autoscaling.UpdateAutoScalingGroupOutput]
}

type AutoScalingAPI struct {
	sdk.AutoScalingAPI
	AutoScalingBehavior
}

// Reset must be called between tests otherwise tests will pollute
// each other.
func (a *AutoScalingAPI) Reset() {
	a.DescribeAutoScalingGroupsBehavior.Reset()
	a.UpdateAutoScalingGroupBehavior.Reset()
}

func (a *AutoScalingAPI) DescribeAutoScalingGroups(_ context.Context, input *autoscaling.DescribeAutoScalingGroupsInput, _ ...func(*autoscaling.Options)) (*autoscaling.DescribeAutoScalingGroupsOutput, error) {
	return a.DescribeAutoScalingGroupsBehavior.Invoke(input, func(input *autoscaling.DescribeAutoScalingGroupsInput) (*autoscaling.DescribeAutoScalingGroupsOutput, error) {
		return &autoscaling.DescribeAutoScalingGroupsOutput{
			AutoScalingGroups: []asgtypes.AutoScalingGroup{{
				AutoScalingGroupName: aws.String(input.AutoScalingGroupNames[0]),
				MinSize:              aws.Int32(1),
				MaxSize:              aws.Int32(3),
				DesiredCapacity:      aws.Int32(2),
			}},
		}, nil
	})
}

func (a *AutoScalingAPI) UpdateAutoScalingGroup(_ context.Context, input *autoscaling.UpdateAutoScalingGroupInput, _ ...func(*autoscaling.Options)) (*autoscaling.UpdateAutoScalingGroupOutput, error) {
	return a.UpdateAutoScalingGroupBehavior.Invoke(input, func(_ *autoscaling.UpdateAutoScalingGroupInput) (*autoscaling.UpdateAutoScalingGroupOutput, error) {
		return &autoscaling.UpdateAutoScalingGroupOutput{}, nil
	})
}
