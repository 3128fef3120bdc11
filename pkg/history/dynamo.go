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

package history

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	sdk "github.com/offhours-io/offhours/pkg/aws"
	"github.com/offhours-io/offhours/pkg/resources"
)

const (
	// RetentionTTL bounds how long execution records are kept.
	RetentionTTL = 30 * 24 * time.Hour
	// DefaultLookback is how many recent executions LastStoppedState scans.
	DefaultLookback = 10

	writeAttempts = 2
)

// DynamoStore lays records out so (tenant, schedule) is the partition and
// start instant + execution id is the sort key; a reverse scan yields newest
// first.
type DynamoStore struct {
	api      sdk.DynamoDBAPI
	table    string
	lookback int
}

func NewDynamoStore(api sdk.DynamoDBAPI, table string, lookback int) *DynamoStore {
	if lookback < DefaultLookback {
		lookback = DefaultLookback
	}
	return &DynamoStore{api: api, table: table, lookback: lookback}
}

func partitionKey(tenantID, scheduleID string) string {
	return fmt.Sprintf("TENANT#%s#SCHEDULE#%s", tenantID, scheduleID)
}

func sortKey(record *Record) string {
	return fmt.Sprintf("%s#%s", record.StartedAt.UTC().Format(time.RFC3339Nano), record.ExecutionID)
}

func (s *DynamoStore) Append(ctx context.Context, record *Record) error {
	return s.put(ctx, record)
}

// Close rewrites the record under the same keys; the open form is updated
// exactly once to its closed-out form.
func (s *DynamoStore) Close(ctx context.Context, record *Record) error {
	return s.put(ctx, record)
}

func (s *DynamoStore) put(ctx context.Context, record *Record) error {
	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("marshaling execution record, %w", err)
	}
	item["pk"] = &types.AttributeValueMemberS{Value: partitionKey(record.TenantID, record.ScheduleID)}
	item["sk"] = &types.AttributeValueMemberS{Value: sortKey(record)}
	item["expiresAt"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", record.StartedAt.Add(RetentionTTL).Unix())}
	err = retry.Do(func() error {
		_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(s.table),
			Item:      item,
		})
		return err
	}, retry.Context(ctx), retry.Attempts(writeAttempts), retry.LastErrorOnly(true))
	if err != nil {
		return fmt.Errorf("persisting execution record, %w", err)
	}
	return nil
}

func (s *DynamoStore) ListExecutions(ctx context.Context, scheduleID, tenantID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = s.lookback
	}
	out, err := s.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("pk = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: partitionKey(tenantID, scheduleID)},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("querying executions for schedule %s, %w", scheduleID, err)
	}
	var records []Record
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &records); err != nil {
		return nil, fmt.Errorf("unmarshaling execution records, %w", err)
	}
	return records, nil
}

func (s *DynamoStore) LastStoppedState(ctx context.Context, scheduleID, tenantID string, kind resources.Kind, canonicalID string) (*resources.CapturedState, error) {
	records, err := s.ListExecutions(ctx, scheduleID, tenantID, s.lookback)
	if err != nil {
		return nil, err
	}
	for _, record := range records {
		for _, result := range record.Results[kind] {
			if result.ID != canonicalID {
				continue
			}
			if result.Action == resources.ActionStop && result.Outcome == resources.OutcomeSuccess && result.PriorState != nil {
				return result.PriorState, nil
			}
		}
	}
	return nil, nil
}
