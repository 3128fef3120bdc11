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
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	sdk "github.com/offhours-io/offhours/pkg/aws"
)

// EC2Behavior must be reset between tests otherwise tests will
// pollute each other.
type EC2Behavior struct {
	DescribeInstancesBehavior MockedFunction[ec2.DescribeInstancesInput, ec2.DescribeInstancesOutput]
	StartInstancesBehavior    MockedFunction[ec2.StartInstancesInput, ec2.StartInstancesOutput]
	StopInstancesBehavior     MockedFunction[ec2.StopInstancesInput, ec2.StopInstancesOutput]
}

type EC2API struct {
	sdk.EC2API
	EC2Behavior
}

// Reset must be called between tests otherwise tests will pollute
// each other.
func (e *EC2API) Reset() {
	e.DescribeInstancesBehavior.Reset()
	e.StartInstancesBehavior.Reset()
	e.StopInstancesBehavior.Reset()
}

func (e *EC2API) DescribeInstances(_ context.Context, input *ec2.DescribeInstancesInput, _ ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	return e.DescribeInstancesBehavior.Invoke(input, func(input *ec2.DescribeInstancesInput) (*ec2.DescribeInstancesOutput, error) {
		instances := make([]ec2types.Instance, 0, len(input.InstanceIds))
		for _, id := range input.InstanceIds {
			instances = append(instances, ec2types.Instance{
				InstanceId:   aws.String(id),
				InstanceType: ec2types.InstanceTypeM5Large,
				State:        &ec2types.InstanceState{Name: ec2types.InstanceStateNameRunning},
			})
		}
		return &ec2.DescribeInstancesOutput{
			Reservations: []ec2types.Reservation{{Instances: instances}},
		}, nil
	})
}

func (e *EC2API) StartInstances(_ context.Context, input *ec2.StartInstancesInput, _ ...func(*ec2.Options)) (*ec2.StartInstancesOutput, error) {
	return e.StartInstancesBehavior.Invoke(input, func(_ *ec2.StartInstancesInput) (*ec2.StartInstancesOutput, error) {
		return &ec2.StartInstancesOutput{}, nil
	})
}

func (e *EC2API) StopInstances(_ context.Context, input *ec2.StopInstancesInput, _ ...func(*ec2.Options)) (*ec2.StopInstancesOutput, error) {
	return e.StopInstancesBehavior.Invoke(input, func(_ *ec2.StopInstancesInput) (*ec2.StopInstancesOutput, error) {
		return &ec2.StopInstancesOutput{}, nil
	})
}
