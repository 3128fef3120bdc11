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

package autoscaling_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsautoscaling "github.com/aws/aws-sdk-go-v2/service/autoscaling"
	autoscalingtypes "github.com/aws/aws-sdk-go-v2/service/autoscaling/types"
	"github.com/samber/lo"

	"github.com/offhours-io/offhours/pkg/audit"
	"github.com/offhours-io/offhours/pkg/fake"
	"github.com/offhours-io/offhours/pkg/providers"
	"github.com/offhours-io/offhours/pkg/providers/autoscaling"
	"github.com/offhours-io/offhours/pkg/resources"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var ctx context.Context
var asgapi *fake.AutoScalingAPI
var recorder *fake.AuditRecorder
var provider *autoscaling.DefaultProvider

func TestAutoScaling(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "AutoScalingProvider")
}

func groupOutput(name string, minSize, maxSize, desired int32) *awsautoscaling.DescribeAutoScalingGroupsOutput {
	return &awsautoscaling.DescribeAutoScalingGroupsOutput{
		AutoScalingGroups: []autoscalingtypes.AutoScalingGroup{{
			AutoScalingGroupName: aws.String(name),
			MinSize:              aws.Int32(minSize),
			MaxSize:              aws.Int32(maxSize),
			DesiredCapacity:      aws.Int32(desired),
		}},
	}
}

var _ = Describe("AutoScaling Provider", func() {
	var req providers.Request

	BeforeEach(func() {
		ctx = context.Background()
		asgapi = &fake.AutoScalingAPI{}
		recorder = &fake.AuditRecorder{}
		provider = autoscaling.NewDefaultProvider(asgapi, recorder)
		req = providers.Request{
			Ref: resources.Reference{
				ID:        "arn:aws:autoscaling:us-east-1:123456789012:autoScalingGroup:9f2c:autoScalingGroupName/web-fleet",
				Kind:      resources.KindAutoScalingGroup,
				Region:    "us-east-1",
				AccountID: "123456789012",
				LocalID:   "web-fleet",
			},
			ScheduleID: "sched-1",
			TenantID:   "tenant-1",
			Actor:      "system",
			ActorKind:  audit.ActorSystem,
		}
	})

	Context("stop", func() {
		BeforeEach(func() { req.Action = resources.ActionStop })

		It("should zero the group and capture the prior triple", func() {
			asgapi.DescribeAutoScalingGroupsBehavior.Output.Set(groupOutput("web-fleet", 1, 5, 3))
			result := provider.Process(ctx, req)
			Expect(result.Outcome).To(Equal(resources.OutcomeSuccess))
			Expect(result.Action).To(Equal(resources.ActionStop))

			input := asgapi.UpdateAutoScalingGroupBehavior.CalledWithInput.Pop()
			Expect(lo.FromPtr(input.AutoScalingGroupName)).To(Equal("web-fleet"))
			Expect(lo.FromPtr(input.MinSize)).To(BeZero())
			Expect(lo.FromPtr(input.MaxSize)).To(BeZero())
			Expect(lo.FromPtr(input.DesiredCapacity)).To(BeZero())

			Expect(result.PriorState.Asg.MinSize).To(Equal(int32(1)))
			Expect(result.PriorState.Asg.MaxSize).To(Equal(int32(5)))
			Expect(result.PriorState.Asg.DesiredCapacity).To(Equal(int32(3)))
		})
		It("should capture the triple when only max is above zero", func() {
			asgapi.DescribeAutoScalingGroupsBehavior.Output.Set(groupOutput("web-fleet", 0, 5, 0))
			result := provider.Process(ctx, req)
			Expect(result.Action).To(Equal(resources.ActionStop))
			Expect(asgapi.UpdateAutoScalingGroupBehavior.Calls()).To(Equal(1))
			Expect(result.PriorState.Asg.MaxSize).To(Equal(int32(5)))
		})
		It("should skip a group already at zero", func() {
			asgapi.DescribeAutoScalingGroupsBehavior.Output.Set(groupOutput("web-fleet", 0, 0, 0))
			result := provider.Process(ctx, req)
			Expect(result.Action).To(Equal(resources.ActionSkip))
			Expect(asgapi.UpdateAutoScalingGroupBehavior.Calls()).To(BeZero())
		})
	})

	Context("start", func() {
		BeforeEach(func() { req.Action = resources.ActionStart })

		It("should restore the captured triple", func() {
			asgapi.DescribeAutoScalingGroupsBehavior.Output.Set(groupOutput("web-fleet", 0, 0, 0))
			req.PriorState = &resources.CapturedState{Asg: &resources.AsgState{Name: "web-fleet", MinSize: 1, MaxSize: 5, DesiredCapacity: 3}}
			result := provider.Process(ctx, req)
			Expect(result.Outcome).To(Equal(resources.OutcomeSuccess))

			input := asgapi.UpdateAutoScalingGroupBehavior.CalledWithInput.Pop()
			Expect(lo.FromPtr(input.MinSize)).To(Equal(int32(1)))
			Expect(lo.FromPtr(input.MaxSize)).To(Equal(int32(5)))
			Expect(lo.FromPtr(input.DesiredCapacity)).To(Equal(int32(3)))
		})
		It("should apply fallback capacity of one and warn when no state was captured", func() {
			asgapi.DescribeAutoScalingGroupsBehavior.Output.Set(groupOutput("web-fleet", 0, 0, 0))
			result := provider.Process(ctx, req)
			Expect(result.Outcome).To(Equal(resources.OutcomeSuccess))

			input := asgapi.UpdateAutoScalingGroupBehavior.CalledWithInput.Pop()
			Expect(lo.FromPtr(input.MinSize)).To(BeZero())
			Expect(lo.FromPtr(input.MaxSize)).To(Equal(int32(1)))
			Expect(lo.FromPtr(input.DesiredCapacity)).To(Equal(int32(1)))

			warnings := recorder.ByCategory("scheduler.auto-scaling-group.start")
			warned := lo.Filter(warnings, func(e audit.Entry, _ int) bool { return e.Status == audit.StatusWarning })
			Expect(warned).To(HaveLen(1))
			Expect(warned[0].Severity).To(Equal(audit.SeverityMedium))
		})
		It("should skip a group already running", func() {
			asgapi.DescribeAutoScalingGroupsBehavior.Output.Set(groupOutput("web-fleet", 1, 5, 3))
			result := provider.Process(ctx, req)
			Expect(result.Action).To(Equal(resources.ActionSkip))
			Expect(asgapi.UpdateAutoScalingGroupBehavior.Calls()).To(BeZero())
		})
	})

	It("should fail the resource when the group cannot be found", func() {
		req.Action = resources.ActionStop
		asgapi.DescribeAutoScalingGroupsBehavior.Output.Set(&awsautoscaling.DescribeAutoScalingGroupsOutput{})
		result := provider.Process(ctx, req)
		Expect(result.Outcome).To(Equal(resources.OutcomeFailed))
	})
	It("should fail the resource when the update errors", func() {
		req.Action = resources.ActionStop
		asgapi.DescribeAutoScalingGroupsBehavior.Output.Set(groupOutput("web-fleet", 1, 5, 3))
		asgapi.UpdateAutoScalingGroupBehavior.Error.Set(fmt.Errorf("scaling activity in progress"))
		result := provider.Process(ctx, req)
		Expect(result.Outcome).To(Equal(resources.OutcomeFailed))
	})
})

var _ = Describe("Group helpers", func() {
	It("should extract the group name from an ARN", func() {
		Expect(autoscaling.GroupNameFromARN("arn:aws:autoscaling:us-east-1:123456789012:autoScalingGroup:9f2c:autoScalingGroupName/web-fleet")).To(Equal("web-fleet"))
		Expect(autoscaling.GroupNameFromARN("no-marker-here")).To(BeEmpty())
	})
})
