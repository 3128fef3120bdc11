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

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	sdk "github.com/offhours-io/offhours/pkg/aws"
)

// DynamoDBBehavior must be reset between tests otherwise tests will
// pollute each other. Attribute values are interface-typed, so these mocks
// share pointers instead of JSON cloning.
type DynamoDBBehavior struct {
	PutItemBehavior RawMockedFunction[dynamodb.PutItemInput, dynamodb.PutItemOutput]
	GetItemBehavior RawMockedFunction[dynamodb.GetItemInput, dynamodb.GetItemOutput]
	QueryBehavior   RawMockedFunction[dynamodb.QueryInput, dynamodb.QueryOutput]
	ScanBehavior    RawMockedFunction[dynamodb.ScanInput, dynamodb.ScanOutput]
}

type DynamoDBAPI struct {
	sdk.DynamoDBAPI
	DynamoDBBehavior
}

// Reset must be called between tests otherwise tests will pollute
// each other.
func (d *DynamoDBAPI) Reset() {
	d.PutItemBehavior.Reset()
	d.GetItemBehavior.Reset()
	d.QueryBehavior.Reset()
	d.ScanBehavior.Reset()
}

func (d *DynamoDBAPI) PutItem(_ context.Context, input *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	return d.PutItemBehavior.Invoke(input, func(_ *dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
		return &dynamodb.PutItemOutput{}, nil
	})
}

func (d *DynamoDBAPI) GetItem(_ context.Context, input *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return d.GetItemBehavior.Invoke(input, func(_ *dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
		return &dynamodb.GetItemOutput{}, nil
	})
}

func (d *DynamoDBAPI) Query(_ context.Context, input *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	return d.QueryBehavior.Invoke(input, func(_ *dynamodb.QueryInput) (*dynamodb.QueryOutput, error) {
		return &dynamodb.QueryOutput{}, nil
	})
}

func (d *DynamoDBAPI) Scan(_ context.Context, input *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	return d.ScanBehavior.Invoke(input, func(_ *dynamodb.ScanInput) (*dynamodb.ScanOutput, error) {
		return &dynamodb.ScanOutput{}, nil
	})
}
