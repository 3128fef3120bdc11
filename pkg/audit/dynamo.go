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

package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"k8s.io/utils/clock"

	sdk "github.com/offhours-io/offhours/pkg/aws"
	"github.com/offhours-io/offhours/pkg/operator/logging"
)

const (
	// RetentionTTL bounds how long audit entries are kept.
	RetentionTTL = 90 * 24 * time.Hour

	writeAttempts = 2
)

// DynamoWriter persists audit entries to DynamoDB. Partition key is the
// tenant, sort key orders entries by timestamp then entry id.
type DynamoWriter struct {
	api   sdk.DynamoDBAPI
	table string
	clk   clock.Clock
}

func NewDynamoWriter(api sdk.DynamoDBAPI, table string, clk clock.Clock) *DynamoWriter {
	return &DynamoWriter{api: api, table: table, clk: clk}
}

func (w *DynamoWriter) Write(ctx context.Context, entry Entry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = w.clk.Now().UTC()
	}
	item, err := attributevalue.MarshalMap(entry)
	if err != nil {
		logging.FromContext(ctx).With("entry-id", entry.ID).Errorf("marshaling audit entry, %s", err)
		return
	}
	item["pk"] = &types.AttributeValueMemberS{Value: fmt.Sprintf("TENANT#%s", entry.TenantID)}
	item["sk"] = &types.AttributeValueMemberS{Value: fmt.Sprintf("%s#%s", entry.Timestamp.Format(time.RFC3339Nano), entry.ID)}
	item["expiresAt"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", entry.Timestamp.Add(RetentionTTL).Unix())}

	// best-effort: an audit failure must never abort the action it describes
	err = retry.Do(func() error {
		_, err := w.api.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(w.table),
			Item:      item,
		})
		return err
	}, retry.Context(ctx), retry.Attempts(writeAttempts), retry.LastErrorOnly(true))
	if err != nil {
		logging.FromContext(ctx).With("entry-id", entry.ID, "category", entry.Category).Errorf("writing audit entry, %s", err)
	}
}
