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

// Package containerservice scales container services to zero and back. When
// the last workload on a cluster stops, the backing compute fleet is scaled
// down with it, and restored before the workload is restarted.
package containerservice

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/samber/lo"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/offhours-io/offhours/pkg/audit"
	sdk "github.com/offhours-io/offhours/pkg/aws"
	"github.com/offhours-io/offhours/pkg/operator/logging"
	"github.com/offhours-io/offhours/pkg/providers"
	"github.com/offhours-io/offhours/pkg/providers/autoscaling"
	"github.com/offhours-io/offhours/pkg/resources"
)

// describeBatchSize is the API's batch limit for describing services.
const describeBatchSize = 10

// DefaultProvider drives container services and their backing auto-scaling
// groups. It does not wait for fleet instances to become ready on start; task
// placement is left to the container platform's own scheduler.
type DefaultProvider struct {
	ecsapi sdk.ECSAPI
	asgapi sdk.AutoScalingAPI
	writer audit.Writer
}

func NewDefaultProvider(ecsapi sdk.ECSAPI, asgapi sdk.AutoScalingAPI, writer audit.Writer) *DefaultProvider {
	return &DefaultProvider{ecsapi: ecsapi, asgapi: asgapi, writer: writer}
}

func (p *DefaultProvider) Kind() resources.Kind {
	return resources.KindContainerService
}

func (p *DefaultProvider) Process(ctx context.Context, req providers.Request) resources.ActionResult {
	var result resources.ActionResult
	if req.Action == resources.ActionStop {
		result = p.stop(ctx, req)
	} else {
		result = p.start(ctx, req)
	}
	providers.WriteAudit(ctx, p.writer, req, result)
	return result
}

type observedService struct {
	desired int32
	running int32
	pending int32
	status  string
}

func (p *DefaultProvider) stop(ctx context.Context, req providers.Request) resources.ActionResult {
	log := logging.FromContext(ctx).With("cluster", req.Ref.ClusterID, "service", req.Ref.LocalID)
	current, err := p.describeService(ctx, req.Ref.ClusterID, req.Ref.LocalID)
	if err != nil {
		return providers.Failed(req, fmt.Errorf("describing service, %w", err))
	}
	serviceStopped := false
	if current.desired > 0 {
		if _, err := p.ecsapi.UpdateService(ctx, &ecs.UpdateServiceInput{
			Cluster:      aws.String(req.Ref.ClusterID),
			Service:      aws.String(req.Ref.LocalID),
			DesiredCount: aws.Int32(0),
		}); err != nil {
			return providers.Failed(req, fmt.Errorf("scaling service to zero, %w", err))
		}
		serviceStopped = true
		log.With("prior-desired", current.desired).Info("scaled service to zero")
	}

	prior := resources.ServiceState{DesiredCount: current.desired}
	asgStopped := false
	var asgErr error
	idle, err := p.clusterIdle(ctx, req.Ref.ClusterID, req.Ref.LocalID)
	if err != nil {
		// fail-safe: never tear down compute under uncertainty
		log.With("error", err).Warn("cluster idleness check failed, leaving compute fleet untouched")
	} else if idle {
		groups, err := p.discoverBackingGroups(ctx, req.Ref.ClusterID)
		if err != nil {
			log.With("error", err).Warn("discovering backing auto scaling groups failed, leaving compute fleet untouched")
		} else {
			prior.BackingAsgState, asgStopped, asgErr = p.stopGroups(ctx, groups)
		}
	}

	if asgErr != nil {
		result := providers.Failed(req, fmt.Errorf("scaling backing fleet to zero, %w", asgErr))
		result.PriorState = &resources.CapturedState{Service: &prior}
		return result
	}
	if !serviceStopped && !asgStopped {
		return resources.ActionResult{
			ID:         req.Ref.ID,
			LocalID:    req.Ref.LocalID,
			Action:     resources.ActionSkip,
			Outcome:    resources.OutcomeSuccess,
			PriorState: &resources.CapturedState{Service: &prior},
		}
	}
	return resources.ActionResult{
		ID:         req.Ref.ID,
		LocalID:    req.Ref.LocalID,
		Action:     resources.ActionStop,
		Outcome:    resources.OutcomeSuccess,
		PriorState: &resources.CapturedState{Service: &prior},
	}
}

// stopGroups scales every backing group with capacity to (0, 0, 0), capturing
// the prior triple of each group it changed. Groups already at zero are
// neither captured nor mutated.
func (p *DefaultProvider) stopGroups(ctx context.Context, names []string) ([]resources.AsgState, bool, error) {
	var mu sync.Mutex
	var captured []resources.AsgState
	stopped := false
	grp, ctx := errgroup.WithContext(ctx)
	for _, name := range names {
		grp.Go(func() error {
			group, err := autoscaling.Describe(ctx, p.asgapi, name)
			if err != nil {
				return err
			}
			// a protected instance blocks the scale-in; failure to clear it
			// is logged but does not abort
			if err := autoscaling.ReleaseProtection(ctx, p.asgapi, group.Name, group.ProtectedInstanceIDs); err != nil {
				logging.FromContext(ctx).With("asg", group.Name, "error", err).Warn("releasing scale-in protection failed")
			}
			if group.DesiredCapacity == 0 && group.MinSize == 0 {
				return nil
			}
			triple := group.Triple()
			if err := autoscaling.Update(ctx, p.asgapi, resources.AsgState{Name: group.Name}); err != nil {
				return err
			}
			mu.Lock()
			captured = append(captured, triple)
			stopped = true
			mu.Unlock()
			logging.FromContext(ctx).With("asg", group.Name, "prior-min", triple.MinSize, "prior-max", triple.MaxSize, "prior-desired", triple.DesiredCapacity).Info("scaled backing fleet to zero")
			return nil
		})
	}
	err := grp.Wait()
	return captured, stopped, err
}

func (p *DefaultProvider) start(ctx context.Context, req providers.Request) resources.ActionResult {
	log := logging.FromContext(ctx).With("cluster", req.Ref.ClusterID, "service", req.Ref.LocalID)
	var priorDesired int32
	var priorGroups []resources.AsgState
	if req.PriorState != nil && req.PriorState.Service != nil {
		priorDesired = req.PriorState.Service.DesiredCount
		priorGroups = req.PriorState.Service.BackingAsgState
	}

	// the fleet must be back before any service mutation; a restore failure
	// is logged but does not abort the start
	if len(priorGroups) > 0 {
		var restoreErr error
		for _, state := range priorGroups {
			restoreErr = multierr.Append(restoreErr, autoscaling.Update(ctx, p.asgapi, state))
		}
		if restoreErr != nil {
			log.With("error", restoreErr).Warn("restoring backing fleet failed")
		}
	} else {
		p.fallbackCapacity(ctx, req)
	}

	current, err := p.describeService(ctx, req.Ref.ClusterID, req.Ref.LocalID)
	if err != nil {
		return providers.Failed(req, fmt.Errorf("describing service, %w", err))
	}
	if current.desired != 0 {
		return resources.ActionResult{
			ID:         req.Ref.ID,
			LocalID:    req.Ref.LocalID,
			Action:     resources.ActionSkip,
			Outcome:    resources.OutcomeSuccess,
			PriorState: &resources.CapturedState{Service: &resources.ServiceState{DesiredCount: current.desired}},
		}
	}
	target := int32(1)
	if priorDesired > 0 {
		target = priorDesired
	}
	if _, err := p.ecsapi.UpdateService(ctx, &ecs.UpdateServiceInput{
		Cluster:      aws.String(req.Ref.ClusterID),
		Service:      aws.String(req.Ref.LocalID),
		DesiredCount: aws.Int32(target),
	}); err != nil {
		return providers.Failed(req, fmt.Errorf("restoring service desired count, %w", err))
	}
	log.With("desired", target).Info("restored service desired count")
	return resources.ActionResult{
		ID:      req.Ref.ID,
		LocalID: req.Ref.LocalID,
		Action:  resources.ActionStart,
		Outcome: resources.OutcomeSuccess,
	}
}

// fallbackCapacity handles a start with no captured fleet state, possible
// when the stop predates state capture or the execution record expired. Any
// backing group found at zero gets capacity for one instance.
func (p *DefaultProvider) fallbackCapacity(ctx context.Context, req providers.Request) {
	log := logging.FromContext(ctx).With("cluster", req.Ref.ClusterID)
	names, err := p.discoverBackingGroups(ctx, req.Ref.ClusterID)
	if err != nil {
		log.With("error", err).Warn("discovering backing auto scaling groups failed")
		return
	}
	for _, name := range names {
		group, err := autoscaling.Describe(ctx, p.asgapi, name)
		if err != nil {
			log.With("asg", name, "error", err).Warn("describing backing auto scaling group failed")
			continue
		}
		if group.DesiredCapacity != 0 {
			continue
		}
		fallback := resources.AsgState{
			Name:            group.Name,
			MinSize:         max(int32(1), group.MinSize),
			MaxSize:         max(int32(1), group.MaxSize),
			DesiredCapacity: 1,
		}
		if err := autoscaling.Update(ctx, p.asgapi, fallback); err != nil {
			log.With("asg", name, "error", err).Warn("applying fallback capacity failed")
			continue
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
			Detail:       fmt.Sprintf("no captured fleet state, applied fallback capacity of 1 to %s", group.Name),
		})
	}
}

// clusterIdle reports whether every service on the cluster other than the one
// just stopped is at zero desired and zero running.
func (p *DefaultProvider) clusterIdle(ctx context.Context, clusterID, excludeService string) (bool, error) {
	var arns []string
	input := &ecs.ListServicesInput{Cluster: aws.String(clusterID)}
	for {
		out, err := p.ecsapi.ListServices(ctx, input)
		if err != nil {
			return false, fmt.Errorf("listing services, %w", err)
		}
		arns = append(arns, out.ServiceArns...)
		if out.NextToken == nil {
			break
		}
		input.NextToken = out.NextToken
	}
	arns = lo.Filter(arns, func(arn string, _ int) bool {
		return !strings.HasSuffix(arn, "/"+excludeService)
	})
	for _, batch := range lo.Chunk(arns, describeBatchSize) {
		out, err := p.ecsapi.DescribeServices(ctx, &ecs.DescribeServicesInput{
			Cluster:  aws.String(clusterID),
			Services: batch,
		})
		if err != nil {
			return false, fmt.Errorf("describing services, %w", err)
		}
		for _, svc := range out.Services {
			if svc.DesiredCount > 0 || svc.RunningCount > 0 {
				return false, nil
			}
		}
	}
	return true, nil
}

// discoverBackingGroups finds the cluster's backing auto-scaling groups via
// its capacity providers, unioned with the membership of its registered
// container hosts. The legacy host path is kept because capacity-provider
// metadata may be absent on older clusters.
func (p *DefaultProvider) discoverBackingGroups(ctx context.Context, clusterID string) ([]string, error) {
	log := logging.FromContext(ctx).With("cluster", clusterID)
	var names []string

	providerNames, err := p.capacityProviderNames(ctx, clusterID)
	if err != nil {
		log.With("error", err).Warn("listing capacity providers failed")
	} else if len(providerNames) > 0 {
		out, err := p.ecsapi.DescribeCapacityProviders(ctx, &ecs.DescribeCapacityProvidersInput{
			CapacityProviders: providerNames,
		})
		if err != nil {
			log.With("error", err).Warn("describing capacity providers failed")
		} else {
			for _, provider := range out.CapacityProviders {
				// managed (serverless) providers have no backing fleet
				if provider.AutoScalingGroupProvider == nil {
					continue
				}
				if name := autoscaling.GroupNameFromARN(lo.FromPtr(provider.AutoScalingGroupProvider.AutoScalingGroupArn)); name != "" {
					names = append(names, name)
				}
			}
		}
	}

	hostGroups, err := p.containerHostGroups(ctx, clusterID)
	if err != nil {
		log.With("error", err).Warn("discovering groups via container hosts failed")
	} else {
		names = append(names, hostGroups...)
	}

	names = lo.Uniq(names)
	if len(names) == 0 && err != nil {
		return nil, fmt.Errorf("discovering backing auto scaling groups, %w", err)
	}
	return names, nil
}

func (p *DefaultProvider) capacityProviderNames(ctx context.Context, clusterID string) ([]string, error) {
	out, err := p.ecsapi.DescribeClusters(ctx, &ecs.DescribeClustersInput{Clusters: []string{clusterID}})
	if err != nil {
		return nil, fmt.Errorf("describing cluster, %w", err)
	}
	if len(out.Clusters) == 0 {
		return nil, fmt.Errorf("cluster %s not found", clusterID)
	}
	return out.Clusters[0].CapacityProviders, nil
}

func (p *DefaultProvider) containerHostGroups(ctx context.Context, clusterID string) ([]string, error) {
	var instanceArns []string
	input := &ecs.ListContainerInstancesInput{Cluster: aws.String(clusterID)}
	for {
		out, err := p.ecsapi.ListContainerInstances(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("listing container instances, %w", err)
		}
		instanceArns = append(instanceArns, out.ContainerInstanceArns...)
		if out.NextToken == nil {
			break
		}
		input.NextToken = out.NextToken
	}
	if len(instanceArns) == 0 {
		return nil, nil
	}
	out, err := p.ecsapi.DescribeContainerInstances(ctx, &ecs.DescribeContainerInstancesInput{
		Cluster:            aws.String(clusterID),
		ContainerInstances: instanceArns,
	})
	if err != nil {
		return nil, fmt.Errorf("describing container instances, %w", err)
	}
	instanceIDs := lo.FilterMap(out.ContainerInstances, func(ci ecstypes.ContainerInstance, _ int) (string, bool) {
		id := lo.FromPtr(ci.Ec2InstanceId)
		return id, id != ""
	})
	return autoscaling.GroupsForInstances(ctx, p.asgapi, instanceIDs)
}

func (p *DefaultProvider) describeService(ctx context.Context, clusterID, serviceName string) (observedService, error) {
	out, err := p.ecsapi.DescribeServices(ctx, &ecs.DescribeServicesInput{
		Cluster:  aws.String(clusterID),
		Services: []string{serviceName},
	})
	if err != nil {
		return observedService{}, err
	}
	if len(out.Services) == 0 {
		return observedService{}, fmt.Errorf("service %s not found on cluster %s", serviceName, clusterID)
	}
	svc := out.Services[0]
	return observedService{
		desired: svc.DesiredCount,
		running: svc.RunningCount,
		pending: svc.PendingCount,
		status:  lo.FromPtr(svc.Status),
	}, nil
}
