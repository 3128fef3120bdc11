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

package schedule

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	sdk "github.com/offhours-io/offhours/pkg/aws"
	"github.com/offhours-io/offhours/pkg/errors"
)

// DynamoStore reads schedule and account projections from DynamoDB tables.
// Extra attributes on the items are ignored by the unmarshaler.
type DynamoStore struct {
	api            sdk.DynamoDBAPI
	schedulesTable string
	accountsTable  string
}

func NewDynamoStore(api sdk.DynamoDBAPI, schedulesTable, accountsTable string) *DynamoStore {
	return &DynamoStore{api: api, schedulesTable: schedulesTable, accountsTable: accountsTable}
}

func (s *DynamoStore) ActiveSchedules(ctx context.Context, tenantID string) ([]Schedule, error) {
	input := &dynamodb.ScanInput{
		TableName:        aws.String(s.schedulesTable),
		FilterExpression: aws.String("active = :active"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":active": &types.AttributeValueMemberBOOL{Value: true},
		},
	}
	if tenantID != "" {
		input.FilterExpression = aws.String("active = :active AND tenantId = :tenantId")
		input.ExpressionAttributeValues[":tenantId"] = &types.AttributeValueMemberS{Value: tenantID}
	}
	var schedules []Schedule
	for {
		out, err := s.api.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("scanning schedules, %w", err)
		}
		var page []Schedule
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshaling schedules, %w", err)
		}
		schedules = append(schedules, page...)
		if out.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
	return schedules, nil
}

func (s *DynamoStore) Schedule(ctx context.Context, id, tenantID string) (*Schedule, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.schedulesTable),
		Key: map[string]types.AttributeValue{
			"id":       &types.AttributeValueMemberS{Value: id},
			"tenantId": &types.AttributeValueMemberS{Value: tenantID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("getting schedule %s, %w", id, err)
	}
	if len(out.Item) == 0 {
		return nil, &errors.ScheduleNotFoundError{ScheduleID: id, TenantID: tenantID}
	}
	sched := &Schedule{}
	if err := attributevalue.UnmarshalMap(out.Item, sched); err != nil {
		return nil, fmt.Errorf("unmarshaling schedule %s, %w", id, err)
	}
	return sched, nil
}

func (s *DynamoStore) ActiveAccounts(ctx context.Context) ([]Account, error) {
	input := &dynamodb.ScanInput{
		TableName:        aws.String(s.accountsTable),
		FilterExpression: aws.String("active = :active"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":active": &types.AttributeValueMemberBOOL{Value: true},
		},
	}
	var accounts []Account
	for {
		out, err := s.api.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("scanning accounts, %w", err)
		}
		var page []Account
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshaling accounts, %w", err)
		}
		accounts = append(accounts, page...)
		if out.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
	return accounts, nil
}
