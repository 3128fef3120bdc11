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
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/samber/lo"

	"github.com/offhours-io/offhours/pkg/audit"
	sdk "github.com/offhours-io/offhours/pkg/aws"
	"github.com/offhours-io/offhours/pkg/operator/logging"
	"github.com/offhours-io/offhours/pkg/providers"
	"github.com/offhours-io/offhours/pkg/resources"
)

const (
	availabilityAvailable = "available"
	availabilityStarting  = "starting"
)

// DefaultProvider starts and stops managed database instances. The captured
// prior state carries the availability state and instance class observed
// before the mutation.
type DefaultProvider struct {
	rdsapi sdk.RDSAPI
	writer audit.Writer
}

func NewDefaultProvider(rdsapi sdk.RDSAPI, writer audit.Writer) *DefaultProvider {
	return &DefaultProvider{rdsapi: rdsapi, writer: writer}
}

func (p *DefaultProvider) Kind() resources.Kind {
	return resources.KindDB
}

func (p *DefaultProvider) Process(ctx context.Context, req providers.Request) resources.ActionResult {
	result := p.process(ctx, req)
	providers.WriteAudit(ctx, p.writer, req, result)
	return result
}

func (p *DefaultProvider) process(ctx context.Context, req providers.Request) resources.ActionResult {
	observed, err := p.describe(ctx, req.Ref.LocalID)
	if err != nil {
		return providers.Failed(req, fmt.Errorf("describing database, %w", err))
	}
	state := resources.CapturedState{Database: observed}
	switch req.Action {
	case resources.ActionStop:
		if observed.Availability != availabilityAvailable {
			return skip(req, state)
		}
		if _, err := p.rdsapi.StopDBInstance(ctx, &rds.StopDBInstanceInput{DBInstanceIdentifier: aws.String(req.Ref.LocalID)}); err != nil {
			return providers.Failed(req, fmt.Errorf("stopping database, %w", err))
		}
	case resources.ActionStart:
		if observed.Availability == availabilityAvailable || observed.Availability == availabilityStarting {
			return skip(req, state)
		}
		if _, err := p.rdsapi.StartDBInstance(ctx, &rds.StartDBInstanceInput{DBInstanceIdentifier: aws.String(req.Ref.LocalID)}); err != nil {
			return providers.Failed(req, fmt.Errorf("starting database, %w", err))
		}
	}
	logging.FromContext(ctx).With("db-instance", req.Ref.LocalID, "action", req.Action, "prior-availability", observed.Availability).Info("transitioned database")
	return resources.ActionResult{
		ID:         req.Ref.ID,
		LocalID:    req.Ref.LocalID,
		Action:     req.Action,
		Outcome:    resources.OutcomeSuccess,
		PriorState: &state,
	}
}

func skip(req providers.Request, observed resources.CapturedState) resources.ActionResult {
	return resources.ActionResult{
		ID:         req.Ref.ID,
		LocalID:    req.Ref.LocalID,
		Action:     resources.ActionSkip,
		Outcome:    resources.OutcomeSuccess,
		PriorState: &observed,
	}
}

func (p *DefaultProvider) describe(ctx context.Context, identifier string) (*resources.DatabaseState, error) {
	out, err := p.rdsapi.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{DBInstanceIdentifier: aws.String(identifier)})
	if err != nil {
		return nil, err
	}
	if len(out.DBInstances) == 0 {
		return nil, fmt.Errorf("database %s not found", identifier)
	}
	db := out.DBInstances[0]
	availability := lo.FromPtr(db.DBInstanceStatus)
	if availability == "" {
		availability = "unknown"
	}
	return &resources.DatabaseState{
		Availability:  availability,
		InstanceClass: lo.FromPtr(db.DBInstanceClass),
	}, nil
}
