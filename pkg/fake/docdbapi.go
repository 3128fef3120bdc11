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
	"github.com/aws/aws-sdk-go-v2/service/docdb"
	docdbtypes "github.com/aws/aws-sdk-go-v2/service/docdb/types"

	sdk "github.com/offhours-io/offhours/pkg/aws"
)

// DocDBBehavior must be reset between tests otherwise tests will
// pollute each other.
type DocDBBehavior struct {
	DescribeDBClustersBehavior MockedFunction[docdb.DescribeDBClustersInput, docdb.DescribeDBClustersOutput]
	StartDBClusterBehavior     MockedFunction[docdb.StartDBClusterInput, docdb.StartDBClusterOutput]
	StopDBClusterBehavior      MockedFunction[docdb.StopDBClusterInput, docdb.StopDBClusterOutput]
}

type DocDBAPI struct {
	sdk.DocDBAPI
	DocDBBehavior
}

// Reset must be called between tests otherwise tests will pollute
// each other.
func (d *DocDBAPI) Reset() {
	d.DescribeDBClustersBehavior.Reset()
	d.StartDBClusterBehavior.Reset()
	d.StopDBClusterBehavior.Reset()
}

func (d *DocDBAPI) DescribeDBClusters(_ context.Context, input *docdb.DescribeDBClustersInput, _ ...func(*docdb.Options)) (*docdb.DescribeDBClustersOutput, error) {
	return d.DescribeDBClustersBehavior.Invoke(input, func(input *docdb.DescribeDBClustersInput) (*docdb.DescribeDBClustersOutput, error) {
		return &docdb.DescribeDBClustersOutput{
			DBClusters: []docdbtypes.DBCluster{{
				DBClusterIdentifier: input.DBClusterIdentifier,
				Status:              aws.String("available"),
			}},
		}, nil
	})
}

func (d *DocDBAPI) StartDBCluster(_ context.Context, input *docdb.StartDBClusterInput, _ ...func(*docdb.Options)) (*docdb.StartDBClusterOutput, error) {
	return d.StartDBClusterBehavior.Invoke(input, func(_ *docdb.StartDBClusterInput) (*docdb.StartDBClusterOutput, error) {
		return &docdb.StartDBClusterOutput{}, nil
	})
}

func (d *DocDBAPI) StopDBCluster(_ context.Context, input *docdb.StopDBClusterInput, _ ...func(*docdb.Options)) (*docdb.StopDBClusterOutput, error) {
	return d.StopDBClusterBehavior.Invoke(input, func(_ *docdb.StopDBClusterInput) (*docdb.StopDBClusterOutput, error) {
		return &docdb.StopDBClusterOutput{}, nil
	})
}
