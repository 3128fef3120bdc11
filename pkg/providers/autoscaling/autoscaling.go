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

package autoscaling

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	autoscalingtypes "github.com/aws/aws-sdk-go-v2/service/autoscaling/types"
	"github.com/samber/lo"

	sdk "github.com/offhours-io/offhours/pkg/aws"
	"github.com/offhours-io/offhours/pkg/resources"
)

const instanceBatchSize = 50

// Group is the observed shape of one auto-scaling group.
type Group struct {
	Name                 string
	MinSize              int32
	MaxSize              int32
	DesiredCapacity      int32
	ProtectedInstanceIDs []string
}

// Triple returns the captured (min, max, desired) state for the group.
func (g Group) Triple() resources.AsgState {
	return resources.AsgState{
		Name:            g.Name,
		MinSize:         g.MinSize,
		MaxSize:         g.MaxSize,
		DesiredCapacity: g.DesiredCapacity,
	}
}

// Describe observes the current sizes and scale-in protected instances of the
// named group.
func Describe(ctx context.Context, api sdk.AutoScalingAPI, name string) (*Group, error) {
	out, err := api.DescribeAutoScalingGroups(ctx, &autoscaling.DescribeAutoScalingGroupsInput{
		AutoScalingGroupNames: []string{name},
	})
	if err != nil {
		return nil, fmt.Errorf("describing auto scaling group %s, %w", name, err)
	}
	if len(out.AutoScalingGroups) == 0 {
		return nil, fmt.Errorf("auto scaling group %s not found", name)
	}
	group := out.AutoScalingGroups[0]
	return &Group{
		Name:            lo.FromPtr(group.AutoScalingGroupName),
		MinSize:         lo.FromPtr(group.MinSize),
		MaxSize:         lo.FromPtr(group.MaxSize),
		DesiredCapacity: lo.FromPtr(group.DesiredCapacity),
		ProtectedInstanceIDs: lo.FilterMap(group.Instances, func(i autoscalingtypes.Instance, _ int) (string, bool) {
			return lo.FromPtr(i.InstanceId), lo.FromPtr(i.ProtectedFromScaleIn)
		}),
	}, nil
}

// Update sets the (min, max, desired) triple on the named group.
func Update(ctx context.Context, api sdk.AutoScalingAPI, state resources.AsgState) error {
	if _, err := api.UpdateAutoScalingGroup(ctx, &autoscaling.UpdateAutoScalingGroupInput{
		AutoScalingGroupName: aws.String(state.Name),
		MinSize:              aws.Int32(state.MinSize),
		MaxSize:              aws.Int32(state.MaxSize),
		DesiredCapacity:      aws.Int32(state.DesiredCapacity),
	}); err != nil {
		return fmt.Errorf("updating auto scaling group %s, %w", state.Name, err)
	}
	return nil
}

// ReleaseProtection clears scale-in protection on the given instances so a
// scale-to-zero can drain them.
func ReleaseProtection(ctx context.Context, api sdk.AutoScalingAPI, name string, instanceIDs []string) error {
	if len(instanceIDs) == 0 {
		return nil
	}
	if _, err := api.SetInstanceProtection(ctx, &autoscaling.SetInstanceProtectionInput{
		AutoScalingGroupName: aws.String(name),
		InstanceIds:          instanceIDs,
		ProtectedFromScaleIn: aws.Bool(false),
	}); err != nil {
		return fmt.Errorf("releasing scale-in protection on %s, %w", name, err)
	}
	return nil
}

// GroupsForInstances looks up auto-scaling-group membership for the given
// instance ids and returns the distinct group names found.
func GroupsForInstances(ctx context.Context, api sdk.AutoScalingAPI, instanceIDs []string) ([]string, error) {
	var names []string
	for _, batch := range lo.Chunk(instanceIDs, instanceBatchSize) {
		out, err := api.DescribeAutoScalingInstances(ctx, &autoscaling.DescribeAutoScalingInstancesInput{
			InstanceIds: batch,
		})
		if err != nil {
			return nil, fmt.Errorf("describing auto scaling instances, %w", err)
		}
		for _, detail := range out.AutoScalingInstances {
			if name := lo.FromPtr(detail.AutoScalingGroupName); name != "" {
				names = append(names, name)
			}
		}
	}
	return lo.Uniq(names), nil
}

// GroupNameFromARN extracts the group name from an auto-scaling-group ARN.
func GroupNameFromARN(arn string) string {
	const marker = "autoScalingGroupName/"
	if idx := strings.Index(arn, marker); idx >= 0 {
		return arn[idx+len(marker):]
	}
	return ""
}
