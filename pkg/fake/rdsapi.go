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

	sdk "github.com/offhours-io/offhours/pkg/aws"
)

// RDSBehavior must be reset between tests otherwise tests will
// pollute each other.
type RDSBehavior struct {
	DescribeDBInstancesBehavior MockedFunction[rds.DescribeDBInstancesInput, rds.DescribeDBInstancesOutput]
	StartDBInstanceBehavior     MockedFunction[rds.StartDBInstanceInput, rds.StartDBInstanceOutput]
	StopDBInstanceBehavior      MockedFunction[rds.StopDBInstanceInput, rds.StopDBInstanceOutput]
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
}

func (r *RDSAPI) DescribeDBInstances(_ context.Context, input *rds.DescribeDBInstancesInput, _ ...func(*rds.Options)) (*rds.DescribeDBInstancesOutput, error) {
	return r.DescribeDBInstancesBehavior.Invoke(input, func(input *rds.DescribeDBInstancesInput) (*rds.DescribeDBInstancesOutput, error) {
		return &rds.DescribeDBInstancesOutput{
			DBInstances: []rdstypes.DBInstance{{
				DBInstanceIdentifier: input.DBInstanceIdentifier,
				DBInstanceStatus:     aws.String("available"),
				DBInstanceClass:      aws.String("db.r5.large"),
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
