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

package scan_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsautoscaling "github.com/aws/aws-sdk-go-v2/service/autoscaling"
	autoscalingtypes "github.com/aws/aws-sdk-go-v2/service/autoscaling/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/samber/lo"

	"github.com/offhours-io/offhours/pkg/audit"
	sdk "github.com/offhours-io/offhours/pkg/aws"
	"github.com/offhours-io/offhours/pkg/errors"
	"github.com/offhours-io/offhours/pkg/history"
	"github.com/offhours-io/offhours/pkg/resources"
	"github.com/offhours-io/offhours/pkg/scan"
	"github.com/offhours-io/offhours/pkg/schedule"
	"github.com/offhours-io/offhours/pkg/test"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const (
	vmID  = "arn:aws:ec2:us-east-1:123456789012:instance/i-0abc123"
	asgID = "arn:aws:autoscaling:us-east-1:123456789012:autoScalingGroup:9f2c:autoScalingGroupName/web-fleet"
)

var ctx context.Context
var env *test.Environment

func TestScan(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Scanner")
}

var _ = BeforeSuite(func() {
	env = test.NewEnvironment()
})

func vmDescribeOutput(state ec2types.InstanceStateName) *ec2.DescribeInstancesOutput {
	return &ec2.DescribeInstancesOutput{
		Reservations: []ec2types.Reservation{{
			Instances: []ec2types.Instance{{
				InstanceId:   aws.String("i-0abc123"),
				InstanceType: ec2types.InstanceTypeM5Large,
				State:        &ec2types.InstanceState{Name: state},
			}},
		}},
	}
}

// gatedEC2 parks the first describe call until released, keeping a scan in
// flight for as long as the test needs.
type gatedEC2 struct {
	sdk.EC2API
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedEC2) DescribeInstances(ctx context.Context, input *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	return g.EC2API.DescribeInstances(ctx, input, optFns...)
}

func officeHoursSchedule(rs ...schedule.Resource) schedule.Schedule {
	return schedule.Schedule{
		ID:        "sched-1",
		Name:      "office-hours",
		TenantID:  test.DefaultTenantID,
		Active:    true,
		StartTime: "09:00:00",
		EndTime:   "18:00:00",
		Timezone:  "UTC",
		Days:      []string{"Mon", "Tue", "Wed", "Thu", "Fri"},
		Resources: rs,
	}
}

var _ = Describe("Scanner", func() {
	BeforeEach(func() {
		ctx = context.Background()
		env.Reset()
		// 2024-03-04 is a Monday; 20:00 UTC is outside the 09:00-18:00 window
		env.Clock.SetTime(time.Date(2024, 3, 4, 20, 0, 0, 0, time.UTC))
		env.ScheduleStore.Accounts = []schedule.Account{{
			ID:      test.DefaultAccountID,
			Name:    "prod",
			RoleARN: "arn:aws:iam::123456789012:role/offhours",
			Regions: []string{test.DefaultRegion},
			Active:  true,
		}}
	})

	Context("full scans", func() {
		It("should stop resources outside their window and persist the execution", func() {
			env.ScheduleStore.Schedules = []schedule.Schedule{officeHoursSchedule(schedule.Resource{ID: vmID, Kind: resources.KindVM})}
			env.EC2API.DescribeInstancesBehavior.Output.Set(vmDescribeOutput(ec2types.InstanceStateNameRunning))

			result, err := env.Scanner.FullScan(ctx, history.TriggerPeriodic)
			Expect(err).ToNot(HaveOccurred())
			Expect(result.Success).To(BeTrue())
			Expect(result.Mode).To(Equal(scan.ModeFull))
			Expect(result.SchedulesProcessed).To(Equal(1))
			Expect(result.ResourcesStopped).To(Equal(1))
			Expect(result.ResourcesStarted).To(BeZero())
			Expect(result.ResourcesFailed).To(BeZero())
			Expect(env.EC2API.StopInstancesBehavior.Calls()).To(Equal(1))

			records := env.HistoryStore.Records()
			Expect(records).To(HaveLen(1))
			record := lo.Values(records)[0]
			Expect(record.Status).To(Equal(history.StatusSuccess))
			Expect(record.Trigger).To(Equal(history.TriggerPeriodic))
			Expect(record.Stopped).To(Equal(1))
			Expect(record.AccountIDs).To(ConsistOf(test.DefaultAccountID))
		})
		It("should start resources inside their window", func() {
			env.Clock.SetTime(time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC))
			env.ScheduleStore.Schedules = []schedule.Schedule{officeHoursSchedule(schedule.Resource{ID: vmID, Kind: resources.KindVM})}
			env.EC2API.DescribeInstancesBehavior.Output.Set(vmDescribeOutput(ec2types.InstanceStateNameStopped))

			result, err := env.Scanner.FullScan(ctx, history.TriggerPeriodic)
			Expect(err).ToNot(HaveOccurred())
			Expect(result.ResourcesStarted).To(Equal(1))
			Expect(env.EC2API.StartInstancesBehavior.Calls()).To(Equal(1))
		})
		It("should accumulate one consistent record across concurrent region groups", func() {
			vmEU := "arn:aws:ec2:eu-west-1:123456789012:instance/i-0def456"
			env.ScheduleStore.Schedules = []schedule.Schedule{officeHoursSchedule(
				schedule.Resource{ID: vmID, Kind: resources.KindVM},
				schedule.Resource{ID: vmEU, Kind: resources.KindVM},
			)}

			result, err := env.Scanner.FullScan(ctx, history.TriggerPeriodic)
			Expect(err).ToNot(HaveOccurred())
			Expect(result.Success).To(BeTrue())
			Expect(result.ResourcesStopped).To(Equal(2))
			Expect(env.EC2API.StopInstancesBehavior.Calls()).To(Equal(2))

			records := env.HistoryStore.Records()
			Expect(records).To(HaveLen(1))
			record := lo.Values(records)[0]
			Expect(record.Status).To(Equal(history.StatusSuccess))
			Expect(record.Results[resources.KindVM]).To(HaveLen(2))
			Expect(record.Stopped).To(Equal(2))
		})
		It("should persist nothing for a skip-only scan", func() {
			env.ScheduleStore.Schedules = []schedule.Schedule{officeHoursSchedule(schedule.Resource{ID: vmID, Kind: resources.KindVM})}
			env.EC2API.DescribeInstancesBehavior.Output.Set(vmDescribeOutput(ec2types.InstanceStateNameStopped))

			result, err := env.Scanner.FullScan(ctx, history.TriggerPeriodic)
			Expect(err).ToNot(HaveOccurred())
			Expect(result.Success).To(BeTrue())
			Expect(result.ResourcesStopped).To(BeZero())
			Expect(env.HistoryStore.Records()).To(BeEmpty())
			Expect(env.AuditRecorder.Entries()).To(BeEmpty())
		})
		It("should write per-action entries before the execution summary", func() {
			env.ScheduleStore.Schedules = []schedule.Schedule{officeHoursSchedule(schedule.Resource{ID: vmID, Kind: resources.KindVM})}
			env.EC2API.DescribeInstancesBehavior.Output.Set(vmDescribeOutput(ec2types.InstanceStateNameRunning))

			_, err := env.Scanner.FullScan(ctx, history.TriggerPeriodic)
			Expect(err).ToNot(HaveOccurred())
			entries := env.AuditRecorder.Entries()
			Expect(entries).To(HaveLen(2))
			Expect(entries[0].Category).To(Equal("scheduler.vm.stop"))
			Expect(entries[1].Category).To(Equal("scheduler.execution.summary"))
			Expect(entries[1].Metadata).To(HaveKey("executionId"))
		})
		It("should count malformed identifiers as failed and continue with the rest", func() {
			env.ScheduleStore.Schedules = []schedule.Schedule{officeHoursSchedule(
				schedule.Resource{ID: "not-a-valid-identifier", Kind: resources.KindVM},
				schedule.Resource{ID: vmID, Kind: resources.KindVM},
			)}
			env.EC2API.DescribeInstancesBehavior.Output.Set(vmDescribeOutput(ec2types.InstanceStateNameRunning))

			result, err := env.Scanner.FullScan(ctx, history.TriggerPeriodic)
			Expect(err).ToNot(HaveOccurred())
			Expect(result.Success).To(BeFalse())
			Expect(result.ResourcesFailed).To(Equal(1))
			Expect(result.ResourcesStopped).To(Equal(1))

			records := env.HistoryStore.Records()
			Expect(records).To(HaveLen(1))
			Expect(lo.Values(records)[0].Status).To(Equal(history.StatusPartial))
		})
		It("should fail every resource of a group whose credentials cannot be acquired", func() {
			env.ScheduleStore.Schedules = []schedule.Schedule{officeHoursSchedule(schedule.Resource{ID: vmID, Kind: resources.KindVM})}
			env.STSAPI.AssumeRoleBehavior.Error.Set(fmt.Errorf("access denied"))

			result, err := env.Scanner.FullScan(ctx, history.TriggerPeriodic)
			Expect(err).ToNot(HaveOccurred())
			Expect(result.Success).To(BeFalse())
			Expect(result.ResourcesFailed).To(Equal(1))
			Expect(env.EC2API.DescribeInstancesBehavior.Calls()).To(BeZero())

			records := env.HistoryStore.Records()
			Expect(records).To(HaveLen(1))
			record := lo.Values(records)[0]
			Expect(record.Status).To(Equal(history.StatusError))
			results := record.Results[resources.KindVM]
			Expect(results).To(HaveLen(1))
			Expect(results[0].Error).To(ContainSubstring("123456789012"))
		})
		It("should fail resources belonging to an unregistered account", func() {
			env.ScheduleStore.Accounts = nil
			env.ScheduleStore.Schedules = []schedule.Schedule{officeHoursSchedule(schedule.Resource{ID: vmID, Kind: resources.KindVM})}

			result, err := env.Scanner.FullScan(ctx, history.TriggerPeriodic)
			Expect(err).ToNot(HaveOccurred())
			Expect(result.ResourcesFailed).To(Equal(1))
		})
		It("should audit schedules with no resources attached without recording an execution", func() {
			env.ScheduleStore.Schedules = []schedule.Schedule{officeHoursSchedule()}

			result, err := env.Scanner.FullScan(ctx, history.TriggerPeriodic)
			Expect(err).ToNot(HaveOccurred())
			Expect(result.SchedulesProcessed).To(Equal(1))
			Expect(env.HistoryStore.Records()).To(BeEmpty())

			entries := env.AuditRecorder.Entries()
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].Status).To(Equal(audit.StatusInfo))
		})
		It("should audit an unevaluable window as an error", func() {
			sched := officeHoursSchedule(schedule.Resource{ID: vmID, Kind: resources.KindVM})
			sched.Timezone = "Mars/Olympus_Mons"
			env.ScheduleStore.Schedules = []schedule.Schedule{sched}

			result, err := env.Scanner.FullScan(ctx, history.TriggerPeriodic)
			Expect(err).ToNot(HaveOccurred())
			Expect(result.ResourcesFailed).To(BeZero())
			entries := env.AuditRecorder.Entries()
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].Severity).To(Equal(audit.SeverityHigh))
			Expect(entries[0].Status).To(Equal(audit.StatusError))
		})
	})

	Context("partial scans", func() {
		It("should scan exactly one schedule on demand", func() {
			env.ScheduleStore.Schedules = []schedule.Schedule{officeHoursSchedule(schedule.Resource{ID: vmID, Kind: resources.KindVM})}
			env.EC2API.DescribeInstancesBehavior.Output.Set(vmDescribeOutput(ec2types.InstanceStateNameRunning))

			result, err := env.Scanner.PartialScan(ctx, "sched-1", test.DefaultTenantID, history.TriggerOnDemand, "ops@example.com")
			Expect(err).ToNot(HaveOccurred())
			Expect(result.Mode).To(Equal(scan.ModePartial))
			Expect(result.SchedulesProcessed).To(Equal(1))
			Expect(result.ResourcesStopped).To(Equal(1))

			records := env.HistoryStore.Records()
			Expect(records).To(HaveLen(1))
			Expect(lo.Values(records)[0].Trigger).To(Equal(history.TriggerOnDemand))

			entries := env.AuditRecorder.ByCategory("scheduler.vm.stop")
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].Actor).To(Equal("ops@example.com"))
			Expect(entries[0].ActorKind).To(Equal(audit.ActorUser))
		})
		It("should report already running instead of spawning a parallel execution", func() {
			env.ScheduleStore.Schedules = []schedule.Schedule{officeHoursSchedule(schedule.Resource{ID: vmID, Kind: resources.KindVM})}
			gate := &gatedEC2{
				EC2API:  env.EC2API,
				entered: make(chan struct{}),
				release: make(chan struct{}),
			}
			factory := func(aws.Config) *sdk.Clients {
				return &sdk.Clients{
					EC2:         gate,
					RDS:         env.RDSAPI,
					DocDB:       env.DocDBAPI,
					ECS:         env.ECSAPI,
					AutoScaling: env.AutoScalingAPI,
				}
			}
			scanner := scan.NewScanner(env.ScheduleStore, env.Broker, env.HistoryStore, env.AuditRecorder, factory, env.Clock, 5*time.Minute)

			done := make(chan scan.Result, 1)
			go func() {
				defer GinkgoRecover()
				result, err := scanner.PartialScan(ctx, "sched-1", test.DefaultTenantID, history.TriggerOnDemand, "")
				Expect(err).ToNot(HaveOccurred())
				done <- result
			}()
			<-gate.entered

			second, err := scanner.PartialScan(ctx, "sched-1", test.DefaultTenantID, history.TriggerOnDemand, "")
			Expect(err).ToNot(HaveOccurred())
			Expect(second.AlreadyRunning).To(BeTrue())
			Expect(second.Success).To(BeTrue())
			Expect(second.SchedulesProcessed).To(BeZero())

			close(gate.release)
			first := <-done
			Expect(first.AlreadyRunning).To(BeFalse())
			Expect(first.ResourcesStopped).To(Equal(1))
			Expect(env.EC2API.StopInstancesBehavior.Calls()).To(Equal(1))
			Expect(env.HistoryStore.Records()).To(HaveLen(1))
		})
		It("should surface an unknown schedule as an error and audit it", func() {
			_, err := env.Scanner.PartialScan(ctx, "missing", test.DefaultTenantID, history.TriggerOnDemand, "ops@example.com")
			Expect(err).To(HaveOccurred())
			Expect(errors.IsScheduleNotFound(err)).To(BeTrue())

			entries := env.AuditRecorder.ByCategory("scheduler.schedule.error")
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].Severity).To(Equal(audit.SeverityHigh))
		})
		It("should restore captured fleet state when starting an auto scaling group", func() {
			env.Clock.SetTime(time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC))
			env.ScheduleStore.Schedules = []schedule.Schedule{officeHoursSchedule(schedule.Resource{ID: asgID, Kind: resources.KindAutoScalingGroup})}
			Expect(env.HistoryStore.Append(ctx, &history.Record{
				ExecutionID: "exec-0",
				ScheduleID:  "sched-1",
				TenantID:    test.DefaultTenantID,
				StartedAt:   time.Date(2024, 3, 1, 18, 0, 0, 0, time.UTC),
				Results: map[resources.Kind][]resources.ActionResult{
					resources.KindAutoScalingGroup: {{
						ID:         asgID,
						Action:     resources.ActionStop,
						Outcome:    resources.OutcomeSuccess,
						PriorState: &resources.CapturedState{Asg: &resources.AsgState{Name: "web-fleet", MinSize: 1, MaxSize: 5, DesiredCapacity: 3}},
					}},
				},
			})).To(Succeed())
			env.AutoScalingAPI.DescribeAutoScalingGroupsBehavior.Output.Set(&awsautoscaling.DescribeAutoScalingGroupsOutput{
				AutoScalingGroups: []autoscalingtypes.AutoScalingGroup{{
					AutoScalingGroupName: aws.String("web-fleet"),
					MinSize:              aws.Int32(0),
					MaxSize:              aws.Int32(0),
					DesiredCapacity:      aws.Int32(0),
				}},
			})

			result, err := env.Scanner.PartialScan(ctx, "sched-1", test.DefaultTenantID, history.TriggerOnDemand, "")
			Expect(err).ToNot(HaveOccurred())
			Expect(result.ResourcesStarted).To(Equal(1))

			input := env.AutoScalingAPI.UpdateAutoScalingGroupBehavior.CalledWithInput.Pop()
			Expect(lo.FromPtr(input.MinSize)).To(Equal(int32(1)))
			Expect(lo.FromPtr(input.MaxSize)).To(Equal(int32(5)))
			Expect(lo.FromPtr(input.DesiredCapacity)).To(Equal(int32(3)))
		})
	})
})
