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

package database

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/docdb"
	"github.com/samber/lo"

	"github.com/offhours-io/offhours/pkg/audit"
	sdk "github.com/offhours-io/offhours/pkg/aws"
	"github.com/offhours-io/offhours/pkg/operator/logging"
	"github.com/offhours-io/offhours/pkg/providers"
	"github.com/offhours-io/offhours/pkg/resources"
)

// ClusterProvider starts and stops document-database clusters. Clusters have
// no instance class to capture; availability follows the same state machine
// as database instances.
type ClusterProvider struct {
	docdbapi sdk.DocDBAPI
	writer   audit.Writer
}

func NewClusterProvider(docdbapi sdk.DocDBAPI, writer audit.Writer) *ClusterProvider {
	return &ClusterProvider{docdbapi: docdbapi, writer: writer}
}

func (p *ClusterProvider) Kind() resources.Kind {
	return resources.KindDocumentDB
}

func (p *ClusterProvider) Process(ctx context.Context, req providers.Request) resources.ActionResult {
	result := p.process(ctx, req)
	providers.WriteAudit(ctx, p.writer, req, result)
	return result
}

func (p *ClusterProvider) process(ctx context.Context, req providers.Request) resources.ActionResult {
	observed, err := p.describe(ctx, req.Ref.LocalID)
	if err != nil {
		return providers.Failed(req, fmt.Errorf("describing document database cluster, %w", err))
	}
	state := resources.CapturedState{Database: observed}
	switch req.Action {
	case resources.ActionStop:
		if observed.Availability != availabilityAvailable {
			return skip(req, state)
		}
		if _, err := p.docdbapi.StopDBCluster(ctx, &docdb.StopDBClusterInput{DBClusterIdentifier: aws.String(req.Ref.LocalID)}); err != nil {
			return providers.Failed(req, fmt.Errorf("stopping document database cluster, %w", err))
		}
	case resources.ActionStart:
		if observed.Availability == availabilityAvailable || observed.Availability == availabilityStarting {
			return skip(req, state)
		}
		if _, err := p.docdbapi.StartDBCluster(ctx, &docdb.StartDBClusterInput{DBClusterIdentifier: aws.String(req.Ref.LocalID)}); err != nil {
			return providers.Failed(req, fmt.Errorf("starting document database cluster, %w", err))
		}
	}
	logging.FromContext(ctx).With("db-cluster", req.Ref.LocalID, "action", req.Action, "prior-availability", observed.Availability).Info("transitioned document database cluster")
	return resources.ActionResult{
		ID:         req.Ref.ID,
		LocalID:    req.Ref.LocalID,
		Action:     req.Action,
		Outcome:    resources.OutcomeSuccess,
		PriorState: &state,
	}
}

func (p *ClusterProvider) describe(ctx context.Context, identifier string) (*resources.DatabaseState, error) {
	out, err := p.docdbapi.DescribeDBClusters(ctx, &docdb.DescribeDBClustersInput{DBClusterIdentifier: aws.String(identifier)})
	if err != nil {
		return nil, err
	}
	if len(out.DBClusters) == 0 {
		return nil, fmt.Errorf("document database cluster %s not found", identifier)
	}
	availability := lo.FromPtr(out.DBClusters[0].Status)
	if availability == "" {
		availability = "unknown"
	}
	return &resources.DatabaseState{Availability: availability}, nil
}
