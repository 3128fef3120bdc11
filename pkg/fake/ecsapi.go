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

	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"

	sdk "github.com/offhours-io/offhours/pkg/aws"
)

// ECSBehavior must be reset between tests otherwise tests will
// pollute each other.
type ECSBehavior struct {
	DescribeServicesBehavior           MockedFunction[ecs.DescribeServicesInput, ecs.DescribeServicesOutput]
	UpdateServiceBehavior              MockedFunction[ecs.UpdateServiceInput, ecs.UpdateServiceOutput]
	ListServicesBehavior               MockedFunction[ecs.ListServicesInput, ecs.ListServicesOutput]
	DescribeClustersBehavior           MockedFunction[ecs.DescribeClustersInput, ecs.DescribeClustersOutput]
	DescribeCapacityProvidersBehavior  MockedFunction[ecs.DescribeCapacityProvidersInput, ecs.DescribeCapacityProvidersOutput]
	ListContainerInstancesBehavior     MockedFunction[ecs.ListContainerInstancesInput, ecs.ListContainerInstancesOutput]
	DescribeContainerInstancesBehavior MockedFunction[ecs.DescribeContainerInstancesInput, ecs.DescribeContainerInstancesOutput]
}

type ECSAPI struct {
	sdk.ECSAPI
	ECSBehavior
}

// Reset must be called between tests otherwise tests will pollute
// each other.
func (e *ECSAPI) Reset() {
	e.DescribeServicesBehavior.Reset()
	e.UpdateServiceBehavior.Reset()
	e.ListServicesBehavior.Reset()
	e.DescribeClustersBehavior.Reset()
	e.DescribeCapacityProvidersBehavior.Reset()
	e.ListContainerInstancesBehavior.Reset()
	e.DescribeContainerInstancesBehavior.Reset()
}

func (e *ECSAPI) DescribeServices(_ context.Context, input *ecs.DescribeServicesInput, _ ...func(*ecs.Options)) (*ecs.DescribeServicesOutput, error) {
	return e.DescribeServicesBehavior.Invoke(input, func(input *ecs.DescribeServicesInput) (*ecs.DescribeServicesOutput, error) {
		services := make([]ecstypes.Service, 0, len(input.Services))
		for _, name := range input.Services {
			services = append(services, ecstypes.Service{
				ServiceName:  &name,
				ServiceArn:   &name,
				DesiredCount: 1,
			})
		}
		return &ecs.DescribeServicesOutput{Services: services}, nil
	})
}

func (e *ECSAPI) UpdateService(_ context.Context, input *ecs.UpdateServiceInput, _ ...func(*ecs.Options)) (*ecs.UpdateServiceOutput, error) {
	return e.UpdateServiceBehavior.Invoke(input, func(_ *ecs.UpdateServiceInput) (*ecs.UpdateServiceOutput, error) {
		return &ecs.UpdateServiceOutput{}, nil
	})
}

func (e *ECSAPI) ListServices(_ context.Context, input *ecs.ListServicesInput, _ ...func(*ecs.Options)) (*ecs.ListServicesOutput, error) {
	return e.ListServicesBehavior.Invoke(input, func(_ *ecs.ListServicesInput) (*ecs.ListServicesOutput, error) {
		return &ecs.ListServicesOutput{}, nil
	})
}

func (e *ECSAPI) DescribeClusters(_ context.Context, input *ecs.DescribeClustersInput, _ ...func(*ecs.Options)) (*ecs.DescribeClustersOutput, error) {
	return e.DescribeClustersBehavior.Invoke(input, func(input *ecs.DescribeClustersInput) (*ecs.DescribeClustersOutput, error) {
		clusters := make([]ecstypes.Cluster, 0, len(input.Clusters))
		for _, name := range input.Clusters {
			clusters = append(clusters, ecstypes.Cluster{ClusterName: &name, ClusterArn: &name})
		}
		return &ecs.DescribeClustersOutput{Clusters: clusters}, nil
	})
}

func (e *ECSAPI) DescribeCapacityProviders(_ context.Context, input *ecs.DescribeCapacityProvidersInput, _ ...func(*ecs.Options)) (*ecs.DescribeCapacityProvidersOutput, error) {
	return e.DescribeCapacityProvidersBehavior.Invoke(input, func(_ *ecs.DescribeCapacityProvidersInput) (*ecs.DescribeCapacityProvidersOutput, error) {
		return &ecs.DescribeCapacityProvidersOutput{}, nil
	})
}

func (e *ECSAPI) ListContainerInstances(_ context.Context, input *ecs.ListContainerInstancesInput, _ ...func(*ecs.Options)) (*ecs.ListContainerInstancesOutput, error) {
	return e.ListContainerInstancesBehavior.Invoke(input, func(_ *ecs.ListContainerInstancesInput) (*ecs.ListContainerInstancesOutput, error) {
		return &ecs.ListContainerInstancesOutput{}, nil
	})
}

func (e *ECSAPI) DescribeContainerInstances(_ context.Context, input *ecs.DescribeContainerInstancesInput, _ ...func(*ecs.Options)) (*ecs.DescribeContainerInstancesOutput, error) {
	return e.DescribeContainerInstancesBehavior.Invoke(input, func(_ *ecs.DescribeContainerInstancesInput) (*ecs.DescribeContainerInstancesOutput, error) {
		return &ecs.DescribeContainerInstancesOutput{}, nil
	})
}
