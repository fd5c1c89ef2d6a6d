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

package database_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"
	"github.com/aws/smithy-go"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	v1 "github.com/cloudnap/cloudnap/pkg/apis/v1"
	"github.com/cloudnap/cloudnap/pkg/fake"
	"github.com/cloudnap/cloudnap/pkg/providers/database"
	"github.com/cloudnap/cloudnap/pkg/test"
)

var ctx context.Context
var rdsAPI *fake.RDSAPI
var recorder *fake.AuditRecorder
var provider *database.DefaultProvider

func TestDatabase(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Providers/Database")
}

var _ = BeforeSuite(func() {
	ctx = context.Background()
	rdsAPI = &fake.RDSAPI{}
	recorder = &fake.AuditRecorder{}
	provider = database.NewDefaultProvider(rdsAPI, recorder, test.DefaultAccountID)
})

var _ = BeforeEach(func() {
	rdsAPI.Reset()
	recorder.Reset()
})

func instanceStatus(id, status string) *rds.DescribeDBInstancesOutput {
	return &rds.DescribeDBInstancesOutput{
		DBInstances: []rdstypes.DBInstance{{
			DBInstanceIdentifier: aws.String(id),
			DBInstanceStatus:     aws.String(status),
		}},
	}
}

func clusterStatus(id, status string) *rds.DescribeDBClustersOutput {
	return &rds.DescribeDBClustersOutput{
		DBClusters: []rdstypes.DBCluster{{
			DBClusterIdentifier: aws.String(id),
			Status:              aws.String(status),
		}},
	}
}

var _ = Describe("Database", func() {
	Context("instances", func() {
		var resource *v1.ResourceRef
		BeforeEach(func() {
			resource = test.ResourceRef(v1.ResourceRef{Type: v1.ResourceTypeRDS})
		})
		It("should stop an available instance", func() {
			result := provider.Process(ctx, *resource, v1.ActionStop, nil)
			Expect(result.Status).To(Equal(v1.ResultStatusSuccess))
			Expect(result.LastState.Database.Status).To(Equal("available"))
			Expect(rdsAPI.StopDBInstanceBehavior.CalledWithInput.Len()).To(Equal(1))
			Expect(rdsAPI.StopDBClusterBehavior.Calls()).To(Equal(0))
		})
		It("should skip stopping an instance that is not available", func() {
			rdsAPI.DescribeDBInstancesBehavior.Output.Set(instanceStatus(resource.ID, "stopped"))
			result := provider.Process(ctx, *resource, v1.ActionStop, nil)
			Expect(result.Action).To(Equal(v1.ActionSkip))
			Expect(rdsAPI.StopDBInstanceBehavior.Calls()).To(Equal(0))
		})
		It("should start a stopped instance", func() {
			rdsAPI.DescribeDBInstancesBehavior.Output.Set(instanceStatus(resource.ID, "stopped"))
			result := provider.Process(ctx, *resource, v1.ActionStart, nil)
			Expect(result.Status).To(Equal(v1.ResultStatusSuccess))
			Expect(rdsAPI.StartDBInstanceBehavior.CalledWithInput.Len()).To(Equal(1))
		})
		It("should skip starting an instance that is already starting", func() {
			rdsAPI.DescribeDBInstancesBehavior.Output.Set(instanceStatus(resource.ID, "starting"))
			result := provider.Process(ctx, *resource, v1.ActionStart, nil)
			Expect(result.Action).To(Equal(v1.ActionSkip))
			Expect(rdsAPI.StartDBInstanceBehavior.Calls()).To(Equal(0))
		})
		It("should fail on a missing instance", func() {
			rdsAPI.DescribeDBInstancesBehavior.Error.Set(&smithy.GenericAPIError{Code: "DBInstanceNotFound", Message: "no such instance"})
			result := provider.Process(ctx, *resource, v1.ActionStop, nil)
			Expect(result.Status).To(Equal(v1.ResultStatusFailed))
			Expect(result.Error).To(ContainSubstring("not found"))
			Expect(result.LastState).To(BeNil())
		})
		It("should audit a failed mutation at high severity", func() {
			rdsAPI.StopDBInstanceBehavior.Error.Set(fmt.Errorf("rate exceeded"))
			result := provider.Process(ctx, *resource, v1.ActionStop, nil)
			Expect(result.Status).To(Equal(v1.ResultStatusFailed))
			entries := recorder.ForEventType("scheduler.rds.stop")
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].Severity).To(Equal(v1.SeverityHigh))
		})
	})

	Context("clusters", func() {
		var resource *v1.ResourceRef
		BeforeEach(func() {
			resource = test.ResourceRef(v1.ResourceRef{
				Type: v1.ResourceTypeRDS,
				ID:   "aurora-main",
				ARN:  fmt.Sprintf("arn:aws:rds:%s:%s:cluster:aurora-main", test.DefaultRegion, test.DefaultAccountID),
			})
		})
		It("should route cluster ARNs to the cluster APIs", func() {
			result := provider.Process(ctx, *resource, v1.ActionStop, nil)
			Expect(result.Status).To(Equal(v1.ResultStatusSuccess))
			Expect(rdsAPI.StopDBClusterBehavior.CalledWithInput.Len()).To(Equal(1))
			Expect(rdsAPI.StopDBInstanceBehavior.Calls()).To(Equal(0))
			Expect(rdsAPI.DescribeDBInstancesBehavior.Calls()).To(Equal(0))
		})
		It("should skip a cluster already stopped", func() {
			rdsAPI.DescribeDBClustersBehavior.Output.Set(clusterStatus(resource.ID, "stopped"))
			result := provider.Process(ctx, *resource, v1.ActionStop, nil)
			Expect(result.Action).To(Equal(v1.ActionSkip))
			Expect(rdsAPI.StopDBClusterBehavior.Calls()).To(Equal(0))
		})
		It("should start a stopped cluster", func() {
			rdsAPI.DescribeDBClustersBehavior.Output.Set(clusterStatus(resource.ID, "stopped"))
			result := provider.Process(ctx, *resource, v1.ActionStart, nil)
			Expect(result.Status).To(Equal(v1.ResultStatusSuccess))
			Expect(rdsAPI.StartDBClusterBehavior.CalledWithInput.Len()).To(Equal(1))
		})
	})
})
