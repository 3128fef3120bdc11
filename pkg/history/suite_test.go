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

package history_test

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/samber/lo"

	"github.com/offhours-io/offhours/pkg/fake"
	"github.com/offhours-io/offhours/pkg/history"
	"github.com/offhours-io/offhours/pkg/resources"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var ctx context.Context
var ddbapi *fake.DynamoDBAPI
var store *history.DynamoStore

func TestHistory(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "History")
}

var _ = Describe("Record", func() {
	var record *history.Record

	BeforeEach(func() {
		record = &history.Record{
			ExecutionID: "exec-1",
			ScheduleID:  "sched-1",
			TenantID:    "tenant-1",
			StartedAt:   time.Now().UTC(),
			Status:      history.StatusRunning,
		}
	})

	It("should count starts, stops, failures and skips separately", func() {
		record.Add(resources.KindVM, resources.ActionResult{Action: resources.ActionStart, Outcome: resources.OutcomeSuccess})
		record.Add(resources.KindVM, resources.ActionResult{Action: resources.ActionStop, Outcome: resources.OutcomeSuccess})
		record.Add(resources.KindDB, resources.ActionResult{Action: resources.ActionStop, Outcome: resources.OutcomeFailed})
		record.Add(resources.KindDB, resources.ActionResult{Action: resources.ActionSkip, Outcome: resources.OutcomeSuccess})
		Expect(record.Started).To(Equal(1))
		Expect(record.Stopped).To(Equal(1))
		Expect(record.Failed).To(Equal(1))
		Expect(record.Skipped).To(Equal(1))
		Expect(record.Results[resources.KindVM]).To(HaveLen(2))
		Expect(record.Results[resources.KindDB]).To(HaveLen(2))
	})
	It("should count a failed start as failed, not started", func() {
		record.Add(resources.KindVM, resources.ActionResult{Action: resources.ActionStart, Outcome: resources.OutcomeFailed})
		Expect(record.Started).To(Equal(0))
		Expect(record.Failed).To(Equal(1))
	})
	It("should not count skip-only executions as acted", func() {
		record.Add(resources.KindVM, resources.ActionResult{Action: resources.ActionSkip, Outcome: resources.OutcomeSuccess})
		Expect(record.Acted()).To(BeFalse())
		record.Add(resources.KindVM, resources.ActionResult{Action: resources.ActionStop, Outcome: resources.OutcomeSuccess})
		Expect(record.Acted()).To(BeTrue())
	})

	It("should snapshot without sharing the results map", func() {
		record.Add(resources.KindVM, resources.ActionResult{ID: "vm-1", Action: resources.ActionStop, Outcome: resources.OutcomeSuccess})
		record.AccountIDs = []string{"123456789012"}
		snapshot := record.Snapshot()

		record.Add(resources.KindVM, resources.ActionResult{ID: "vm-2", Action: resources.ActionStop, Outcome: resources.OutcomeSuccess})
		record.Add(resources.KindDB, resources.ActionResult{ID: "db-1", Action: resources.ActionStop, Outcome: resources.OutcomeFailed})

		Expect(snapshot.Results[resources.KindVM]).To(HaveLen(1))
		Expect(snapshot.Results).ToNot(HaveKey(resources.KindDB))
		Expect(snapshot.Stopped).To(Equal(1))
		Expect(record.Results[resources.KindVM]).To(HaveLen(2))
	})

	Context("Finalize", func() {
		It("should derive success when nothing failed", func() {
			record.Add(resources.KindVM, resources.ActionResult{Action: resources.ActionStop, Outcome: resources.OutcomeSuccess})
			record.Finalize(record.StartedAt.Add(3 * time.Second))
			Expect(record.Status).To(Equal(history.StatusSuccess))
			Expect(record.Duration).To(Equal("3s"))
			Expect(record.CompletedAt).ToNot(BeZero())
		})
		It("should derive partial when some transitions succeeded and some failed", func() {
			record.Add(resources.KindVM, resources.ActionResult{Action: resources.ActionStop, Outcome: resources.OutcomeSuccess})
			record.Add(resources.KindDB, resources.ActionResult{Action: resources.ActionStop, Outcome: resources.OutcomeFailed})
			record.Finalize(record.StartedAt.Add(time.Second))
			Expect(record.Status).To(Equal(history.StatusPartial))
		})
		It("should derive error when every transition failed", func() {
			record.Add(resources.KindVM, resources.ActionResult{Action: resources.ActionStop, Outcome: resources.OutcomeFailed})
			record.Finalize(record.StartedAt.Add(time.Second))
			Expect(record.Status).To(Equal(history.StatusError))
		})
	})
})

var _ = Describe("DynamoStore", func() {
	BeforeEach(func() {
		ctx = context.Background()
		ddbapi = &fake.DynamoDBAPI{}
		store = history.NewDynamoStore(ddbapi, "offhours-history", 10)
	})

	It("should key records by tenant and schedule with a time-ordered sort key", func() {
		started := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
		record := &history.Record{
			ExecutionID: "exec-1",
			ScheduleID:  "sched-1",
			TenantID:    "tenant-1",
			StartedAt:   started,
			Status:      history.StatusRunning,
		}
		Expect(store.Append(ctx, record)).To(Succeed())
		Expect(ddbapi.PutItemBehavior.Calls()).To(Equal(1))

		input := ddbapi.PutItemBehavior.CalledWithInput.Pop()
		Expect(lo.FromPtr(input.TableName)).To(Equal("offhours-history"))
		Expect(input.Item["pk"].(*types.AttributeValueMemberS).Value).To(Equal("TENANT#tenant-1#SCHEDULE#sched-1"))
		Expect(input.Item["sk"].(*types.AttributeValueMemberS).Value).To(HavePrefix(started.Format(time.RFC3339Nano)))
		Expect(input.Item["sk"].(*types.AttributeValueMemberS).Value).To(HaveSuffix("#exec-1"))
		Expect(input.Item).To(HaveKey("expiresAt"))
	})
	It("should retry a failed write once", func() {
		ddbapi.PutItemBehavior.Error.Set(context.DeadlineExceeded, fake.MaxCalls(1))
		record := &history.Record{ExecutionID: "exec-1", ScheduleID: "sched-1", TenantID: "tenant-1", StartedAt: time.Now()}
		Expect(store.Append(ctx, record)).To(Succeed())
	})
	It("should return the captured state from the most recent successful stop", func() {
		newer := history.Record{
			ExecutionID: "exec-2",
			ScheduleID:  "sched-1",
			TenantID:    "tenant-1",
			StartedAt:   time.Date(2024, 3, 5, 18, 0, 0, 0, time.UTC),
			Results: map[resources.Kind][]resources.ActionResult{
				resources.KindAutoScalingGroup: {{
					ID:         "arn:asg-1",
					Action:     resources.ActionStop,
					Outcome:    resources.OutcomeSuccess,
					PriorState: &resources.CapturedState{Asg: &resources.AsgState{Name: "web-fleet", MinSize: 1, MaxSize: 5, DesiredCapacity: 3}},
				}},
			},
		}
		older := history.Record{
			ExecutionID: "exec-1",
			ScheduleID:  "sched-1",
			TenantID:    "tenant-1",
			StartedAt:   time.Date(2024, 3, 4, 18, 0, 0, 0, time.UTC),
			Results: map[resources.Kind][]resources.ActionResult{
				resources.KindAutoScalingGroup: {{
					ID:         "arn:asg-1",
					Action:     resources.ActionStop,
					Outcome:    resources.OutcomeSuccess,
					PriorState: &resources.CapturedState{Asg: &resources.AsgState{Name: "web-fleet", MinSize: 0, MaxSize: 2, DesiredCapacity: 1}},
				}},
			},
		}
		items := lo.Map([]history.Record{newer, older}, func(r history.Record, _ int) map[string]types.AttributeValue {
			item, err := attributevalue.MarshalMap(r)
			Expect(err).ToNot(HaveOccurred())
			return item
		})
		ddbapi.QueryBehavior.Output.Set(&dynamodb.QueryOutput{Items: items})

		state, err := store.LastStoppedState(ctx, "sched-1", "tenant-1", resources.KindAutoScalingGroup, "arn:asg-1")
		Expect(err).ToNot(HaveOccurred())
		Expect(state).ToNot(BeNil())
		Expect(state.Asg.DesiredCapacity).To(Equal(int32(3)))

		input := ddbapi.QueryBehavior.CalledWithInput.Pop()
		Expect(lo.FromPtr(input.ScanIndexForward)).To(BeFalse())
	})
	It("should return nil when no prior stop is recorded", func() {
		state, err := store.LastStoppedState(ctx, "sched-1", "tenant-1", resources.KindAutoScalingGroup, "arn:asg-1")
		Expect(err).ToNot(HaveOccurred())
		Expect(state).To(BeNil())
	})
})
