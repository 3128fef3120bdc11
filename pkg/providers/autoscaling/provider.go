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

package autoscaling

import (
	"context"
	"fmt"

	"github.com/offhours-io/offhours/pkg/audit"
	sdk "github.com/offhours-io/offhours/pkg/aws"
	"github.com/offhours-io/offhours/pkg/operator/logging"
	"github.com/offhours-io/offhours/pkg/providers"
	"github.com/offhours-io/offhours/pkg/resources"
)

// DefaultProvider handles auto-scaling groups that are themselves schedule
// targets (not reached through a container service).
type DefaultProvider struct {
	asgapi sdk.AutoScalingAPI
	writer audit.Writer
}

func NewDefaultProvider(asgapi sdk.AutoScalingAPI, writer audit.Writer) *DefaultProvider {
	return &DefaultProvider{asgapi: asgapi, writer: writer}
}

func (p *DefaultProvider) Kind() resources.Kind {
	return resources.KindAutoScalingGroup
}

func (p *DefaultProvider) Process(ctx context.Context, req providers.Request) resources.ActionResult {
	result := p.process(ctx, req)
	providers.WriteAudit(ctx, p.writer, req, result)
	return result
}

func (p *DefaultProvider) process(ctx context.Context, req providers.Request) resources.ActionResult {
	group, err := Describe(ctx, p.asgapi, req.Ref.LocalID)
	if err != nil {
		return providers.Failed(req, err)
	}
	observed := group.Triple()
	switch req.Action {
	case resources.ActionStop:
		if group.DesiredCapacity == 0 && group.MinSize == 0 && group.MaxSize == 0 {
			return skip(req, observed)
		}
		if err := Update(ctx, p.asgapi, resources.AsgState{Name: group.Name}); err != nil {
			return providers.Failed(req, err)
		}
	case resources.ActionStart:
		if group.DesiredCapacity > 0 {
			return skip(req, observed)
		}
		target := p.target(ctx, req, group)
		if err := Update(ctx, p.asgapi, target); err != nil {
			return providers.Failed(req, err)
		}
	}
	logging.FromContext(ctx).With("asg", group.Name, "action", req.Action).Info("transitioned auto scaling group")
	return resources.ActionResult{
		ID:         req.Ref.ID,
		LocalID:    req.Ref.LocalID,
		Action:     req.Action,
		Outcome:    resources.OutcomeSuccess,
		PriorState: &resources.CapturedState{Asg: &observed},
	}
}

// target resolves the sizes to restore: the captured triple when one is
// known, otherwise a fallback of one instance.
func (p *DefaultProvider) target(ctx context.Context, req providers.Request, group *Group) resources.AsgState {
	if req.PriorState != nil && req.PriorState.Asg != nil {
		restored := *req.PriorState.Asg
		restored.Name = group.Name
		return restored
	}
	fallback := resources.AsgState{
		Name:            group.Name,
		MinSize:         0,
		MaxSize:         max(int32(1), group.MaxSize),
		DesiredCapacity: 1,
	}
	p.writer.Write(ctx, audit.Entry{
		TenantID:     req.TenantID,
		Category:     audit.Category(req.Ref.Kind, "start"),
		Action:       string(resources.ActionStart),
		Actor:        req.Actor,
		ActorKind:    req.ActorKind,
		ResourceKind: string(req.Ref.Kind),
		ResourceID:   req.Ref.ID,
		Status:       audit.StatusWarning,
		Severity:     audit.SeverityMedium,
		Detail:       fmt.Sprintf("no captured state for %s, applying fallback capacity of 1", group.Name),
	})
	return fallback
}

func skip(req providers.Request, observed resources.AsgState) resources.ActionResult {
	return resources.ActionResult{
		ID:         req.Ref.ID,
		LocalID:    req.Ref.LocalID,
		Action:     resources.ActionSkip,
		Outcome:    resources.OutcomeSuccess,
		PriorState: &resources.CapturedState{Asg: &observed},
	}
}
