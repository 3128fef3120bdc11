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

package instance

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/offhours-io/offhours/pkg/audit"
	sdk "github.com/offhours-io/offhours/pkg/aws"
	"github.com/offhours-io/offhours/pkg/operator/logging"
	"github.com/offhours-io/offhours/pkg/providers"
	"github.com/offhours-io/offhours/pkg/resources"
)

// DefaultProvider starts and stops virtual machines. The captured prior state
// carries the power state and instance type observed before the mutation.
type DefaultProvider struct {
	ec2api sdk.EC2API
	writer audit.Writer
}

func NewDefaultProvider(ec2api sdk.EC2API, writer audit.Writer) *DefaultProvider {
	return &DefaultProvider{ec2api: ec2api, writer: writer}
}

func (p *DefaultProvider) Kind() resources.Kind {
	return resources.KindVM
}

func (p *DefaultProvider) Process(ctx context.Context, req providers.Request) resources.ActionResult {
	result := p.process(ctx, req)
	providers.WriteAudit(ctx, p.writer, req, result)
	return result
}

func (p *DefaultProvider) process(ctx context.Context, req providers.Request) resources.ActionResult {
	observed, err := p.describe(ctx, req.Ref.LocalID)
	if err != nil {
		return providers.Failed(req, fmt.Errorf("describing instance, %w", err))
	}
	state := resources.CapturedState{Instance: observed}
	switch req.Action {
	case resources.ActionStop:
		if observed.PowerState != string(ec2types.InstanceStateNameRunning) {
			return p.skip(req, state)
		}
		if _, err := p.ec2api.StopInstances(ctx, &ec2.StopInstancesInput{InstanceIds: []string{req.Ref.LocalID}}); err != nil {
			return providers.Failed(req, fmt.Errorf("stopping instance, %w", err))
		}
	case resources.ActionStart:
		if observed.PowerState == string(ec2types.InstanceStateNameRunning) || observed.PowerState == string(ec2types.InstanceStateNamePending) {
			return p.skip(req, state)
		}
		// prior state is informational for VMs: the start call does not need it
		if _, err := p.ec2api.StartInstances(ctx, &ec2.StartInstancesInput{InstanceIds: []string{req.Ref.LocalID}}); err != nil {
			return providers.Failed(req, fmt.Errorf("starting instance, %w", err))
		}
	}
	logging.FromContext(ctx).With("instance-id", req.Ref.LocalID, "action", req.Action, "prior-state", observed.PowerState).Info("transitioned instance")
	return resources.ActionResult{
		ID:         req.Ref.ID,
		LocalID:    req.Ref.LocalID,
		Action:     req.Action,
		Outcome:    resources.OutcomeSuccess,
		PriorState: &state,
	}
}

func (p *DefaultProvider) skip(req providers.Request, observed resources.CapturedState) resources.ActionResult {
	return resources.ActionResult{
		ID:         req.Ref.ID,
		LocalID:    req.Ref.LocalID,
		Action:     resources.ActionSkip,
		Outcome:    resources.OutcomeSuccess,
		PriorState: &observed,
	}
}

func (p *DefaultProvider) describe(ctx context.Context, instanceID string) (*resources.InstanceState, error) {
	out, err := p.ec2api.DescribeInstances(ctx, &ec2.DescribeInstancesInput{InstanceIds: []string{instanceID}})
	if err != nil {
		return nil, err
	}
	for _, reservation := range out.Reservations {
		for _, instance := range reservation.Instances {
			state := "unknown"
			if instance.State != nil {
				state = string(instance.State.Name)
			}
			return &resources.InstanceState{
				PowerState:   state,
				InstanceType: string(instance.InstanceType),
			}, nil
		}
	}
	return nil, fmt.Errorf("instance %s not found", instanceID)
}
