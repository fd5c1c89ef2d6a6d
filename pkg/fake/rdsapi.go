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
	"github.com/aws/aws-sdk-go-v2/service/rds"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"

	sdk "github.com/cloudnap/cloudnap/pkg/aws"
)

// RDSBehavior must be reset between tests otherwise tests will
// pollute each other.
type RDSBehavior struct {
	DescribeDBInstancesBehavior MockedFunction[rds.DescribeDBInstancesInput, rds.DescribeDBInstancesOutput]
	StartDBInstanceBehavior     MockedFunction[rds.StartDBInstanceInput, rds.StartDBInstanceOutput]
	StopDBInstanceBehavior      MockedFunction[rds.StopDBInstanceInput, rds.StopDBInstanceOutput]
	DescribeDBClustersBehavior  MockedFunction[rds.DescribeDBClustersInput, rds.DescribeDBClustersOutput]
	StartDBClusterBehavior      MockedFunction[rds.StartDBClusterInput, rds.StartDBClusterOutput]
	StopDBClusterBehavior       MockedFunction[rds.StopDBClusterInput, rds.StopDBClusterOutput]
}

type RDSAPI struct {
	sdk.RDSAPI
	RDSBehavior
}

// Reset must be called between tests otherwise tests will pollute
// each other.
func (r *RDSAPI) Reset() {
	r.DescribeDBInstancesBehavior.Reset()
	r.StartDBInstanceBehavior.Reset()
	r.StopDBInstanceBehavior.Reset()
	r.DescribeDBClustersBehavior.Reset()
	r.StartDBClusterBehavior.Reset()
	r.StopDBClusterBehavior.Reset()
}

func (r *RDSAPI) DescribeDBInstances(_ context.Context, input *rds.DescribeDBInstancesInput, _ ...func(*rds.Options)) (*rds.DescribeDBInstancesOutput, error) {
	return r.DescribeDBInstancesBehavior.Invoke(input, func(input *rds.DescribeDBInstancesInput) (*rds.DescribeDBInstancesOutput, error) {
		return &rds.DescribeDBInstancesOutput{
			DBInstances: []rdstypes.DBInstance{{
				DBInstanceIdentifier: input.DBInstanceIdentifier,
				DBInstanceClass:      aws.String("db.r5.large"),
				DBInstanceStatus:     aws.String("available"),
			}},
		}, nil
	})
}

func (r *RDSAPI) StartDBInstance(_ context.Context, input *rds.StartDBInstanceInput, _ ...func(*rds.Options)) (*rds.StartDBInstanceOutput, error) {
	return r.StartDBInstanceBehavior.Invoke(input, func(_ *rds.StartDBInstanceInput) (*rds.StartDBInstanceOutput, error) {
		return &rds.StartDBInstanceOutput{}, nil
	})
}

func (r *RDSAPI) StopDBInstance(_ context.Context, input *rds.StopDBInstanceInput, _ ...func(*rds.Options)) (*rds.StopDBInstanceOutput, error) {
	return r.StopDBInstanceBehavior.Invoke(input, func(_ *rds.StopDBInstanceInput) (*rds.StopDBInstanceOutput, error) {
		return &rds.StopDBInstanceOutput{}, nil
	})
}

func (r *RDSAPI) DescribeDBClusters(_ context.Context, input *rds.DescribeDBClustersInput, _ ...func(*rds.Options)) (*rds.DescribeDBClustersOutput, error) {
	return r.DescribeDBClustersBehavior.Invoke(input, func(input *rds.DescribeDBClustersInput) (*rds.DescribeDBClustersOutput, error) {
		return &rds.DescribeDBClustersOutput{
			DBClusters: []rdstypes.DBCluster{{
				DBClusterIdentifier: input.DBClusterIdentifier,
				Status:              aws.String("available"),
			}},
		}, nil
	})
}

func (r *RDSAPI) StartDBCluster(_ context.Context, input *rds.StartDBClusterInput, _ ...func(*rds.Options)) (*rds.StartDBClusterOutput, error) {
	return r.StartDBClusterBehavior.Invoke(input, func(_ *rds.StartDBClusterInput) (*rds.StartDBClusterOutput, error) {
		return &rds.StartDBClusterOutput{}, nil
	})
}

func (r *RDSAPI) StopDBCluster(_ context.Context, input *rds.StopDBClusterInput, _ ...func(*rds.Options)) (*rds.StopDBClusterOutput, error) {
	return r.StopDBClusterBehavior.Invoke(input, func(_ *rds.StopDBClusterInput) (*rds.StopDBClusterOutput, error) {
		return &rds.StopDBClusterOutput{}, nil
	})
}
