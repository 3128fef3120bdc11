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

// Package scan implements the scheduler orchestrator: it evaluates active
// schedules against their windows, fans out across (account, region) groups,
// dispatches to the kind-specific drivers and persists execution history and
// audit records.
package scan

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/offhours-io/offhours/pkg/audit"
	sdk "github.com/offhours-io/offhours/pkg/aws"
	"github.com/offhours-io/offhours/pkg/credentials"
	"github.com/offhours-io/offhours/pkg/errors"
	"github.com/offhours-io/offhours/pkg/history"
	"github.com/offhours-io/offhours/pkg/metrics"
	"github.com/offhours-io/offhours/pkg/operator/logging"
	"github.com/offhours-io/offhours/pkg/providers"
	"github.com/offhours-io/offhours/pkg/providers/autoscaling"
	"github.com/offhours-io/offhours/pkg/providers/containerservice"
	"github.com/offhours-io/offhours/pkg/providers/database"
	"github.com/offhours-io/offhours/pkg/providers/instance"
	"github.com/offhours-io/offhours/pkg/resources"
	"github.com/offhours-io/offhours/pkg/schedule"
)

// Mode distinguishes full scans from targeted ones.
type Mode string

const (
	ModeFull    Mode = "full"
	ModePartial Mode = "partial"
)

const deadlineExceededCause = "deadline-exceeded"

// Result is the structured object returned to the trigger.
type Result struct {
	Success            bool   `json:"success"`
	ExecutionID        string `json:"executionId"`
	Mode               Mode   `json:"mode"`
	SchedulesProcessed int    `json:"schedulesProcessed"`
	ResourcesStarted   int    `json:"resourcesStarted"`
	ResourcesStopped   int    `json:"resourcesStopped"`
	ResourcesFailed    int    `json:"resourcesFailed"`
	Duration           string `json:"duration"`
	// AlreadyRunning is set when a partial scan found another scan of the
	// same schedule in progress and did not spawn a parallel execution.
	AlreadyRunning bool `json:"alreadyRunning,omitempty"`
}

// Scanner is the orchestrator. One Scanner serves the whole process; the
// in-flight registry it owns guarantees at most one active execution per
// schedule id.
type Scanner struct {
	config        schedule.Store
	broker        *credentials.Broker
	historyStore  history.Store
	writer        audit.Writer
	clientFactory sdk.ClientFactory
	clk           clock.Clock
	scanTimeout   time.Duration
	inflight      *inFlight
}

func NewScanner(config schedule.Store, broker *credentials.Broker, historyStore history.Store, writer audit.Writer,
	clientFactory sdk.ClientFactory, clk clock.Clock, scanTimeout time.Duration) *Scanner {
	return &Scanner{
		config:        config,
		broker:        broker,
		historyStore:  historyStore,
		writer:        writer,
		clientFactory: clientFactory,
		clk:           clk,
		scanTimeout:   scanTimeout,
		inflight:      newInFlight(),
	}
}

// FullScan evaluates every active schedule. Schedules run on their own
// tasks; a schedule already being scanned elsewhere is left alone.
func (s *Scanner) FullScan(ctx context.Context, trigger history.TriggerSource) (Result, error) {
	start := s.clk.Now()
	ctx, cancel := context.WithTimeout(ctx, s.scanTimeout)
	defer cancel()

	schedules, err := s.config.ActiveSchedules(ctx, "")
	if err != nil {
		return Result{Mode: ModeFull}, fmt.Errorf("loading active schedules, %w", err)
	}
	accounts, err := s.accountsByID(ctx)
	if err != nil {
		return Result{Mode: ModeFull}, err
	}

	result := Result{ExecutionID: uuid.NewString(), Mode: ModeFull}
	var mu sync.Mutex
	grp, gctx := errgroup.WithContext(ctx)
	for _, sched := range schedules {
		grp.Go(func() error {
			counts := s.processSchedule(gctx, sched, accounts, trigger, "")
			mu.Lock()
			result.SchedulesProcessed++
			result.ResourcesStarted += counts.started
			result.ResourcesStopped += counts.stopped
			result.ResourcesFailed += counts.failed
			mu.Unlock()
			return nil
		})
	}
	_ = grp.Wait()

	result.Success = result.ResourcesFailed == 0
	result.Duration = s.clk.Now().Sub(start).Round(time.Millisecond).String()
	metrics.ScanDuration.WithLabelValues(string(ModeFull)).Observe(s.clk.Now().Sub(start).Seconds())
	metrics.SchedulesProcessed.WithLabelValues(string(ModeFull)).Add(float64(result.SchedulesProcessed))
	return result, nil
}

// PartialScan evaluates exactly one schedule. ScheduleNotFound is the only
// error surfaced to the trigger.
func (s *Scanner) PartialScan(ctx context.Context, scheduleID, tenantID string, trigger history.TriggerSource, actor string) (Result, error) {
	start := s.clk.Now()
	ctx, cancel := context.WithTimeout(ctx, s.scanTimeout)
	defer cancel()

	sched, err := s.config.Schedule(ctx, scheduleID, tenantID)
	if err != nil {
		if errors.IsScheduleNotFound(err) {
			s.writer.Write(ctx, audit.Entry{
				TenantID:  tenantID,
				Category:  "scheduler.schedule.error",
				Action:    "scan",
				Actor:     lo.Ternary(actor != "", actor, "system"),
				ActorKind: lo.Ternary(actor != "", audit.ActorUser, audit.ActorSystem),
				Status:    audit.StatusError,
				Severity:  audit.SeverityHigh,
				Detail:    err.Error(),
			})
		}
		return Result{Mode: ModePartial}, err
	}
	accounts, err := s.accountsByID(ctx)
	if err != nil {
		return Result{Mode: ModePartial}, err
	}
	counts := s.processSchedule(ctx, *sched, accounts, trigger, actor)
	if counts.alreadyRunning {
		return Result{
			Success:        true,
			Mode:           ModePartial,
			AlreadyRunning: true,
			Duration:       s.clk.Now().Sub(start).Round(time.Millisecond).String(),
		}, nil
	}
	result := Result{
		Success:            counts.failed == 0,
		ExecutionID:        counts.executionID,
		Mode:               ModePartial,
		SchedulesProcessed: 1,
		ResourcesStarted:   counts.started,
		ResourcesStopped:   counts.stopped,
		ResourcesFailed:    counts.failed,
		Duration:           s.clk.Now().Sub(start).Round(time.Millisecond).String(),
	}
	metrics.ScanDuration.WithLabelValues(string(ModePartial)).Observe(s.clk.Now().Sub(start).Seconds())
	metrics.SchedulesProcessed.WithLabelValues(string(ModePartial)).Inc()
	return result, nil
}

type scheduleCounts struct {
	executionID    string
	started        int
	stopped        int
	failed         int
	alreadyRunning bool
}

// processSchedule runs one schedule end to end: window evaluation, grouping,
// credentialed dispatch, history and audit persistence. Per-resource errors
// never propagate; they surface in the counts.
func (s *Scanner) processSchedule(ctx context.Context, sched schedule.Schedule, accounts map[string]schedule.Account,
	trigger history.TriggerSource, actor string) scheduleCounts {
	log := logging.FromContext(ctx).With("schedule-id", sched.ID, "schedule-name", sched.Name)
	ctx = logging.WithLogger(ctx, log)
	actorKind := lo.Ternary(actor != "", audit.ActorUser, audit.ActorSystem)
	if actor == "" {
		actor = "system"
	}

	if !s.inflight.TryAcquire(sched.ID) {
		log.Info("scan already in progress, skipping")
		return scheduleCounts{alreadyRunning: true}
	}
	defer s.inflight.Release(sched.ID)

	if len(sched.Resources) == 0 {
		s.writer.Write(ctx, audit.Entry{
			TenantID:  sched.TenantID,
			Category:  "scheduler.schedule.scan",
			Action:    "scan",
			Actor:     actor,
			ActorKind: actorKind,
			Status:    audit.StatusInfo,
			Severity:  audit.SeverityInfo,
			Detail:    fmt.Sprintf("schedule %s has no resources attached", sched.Name),
		})
		return scheduleCounts{}
	}

	action, err := s.intendedAction(sched)
	if err != nil {
		log.With("error", err).Error("evaluating schedule window")
		s.writer.Write(ctx, audit.Entry{
			TenantID:  sched.TenantID,
			Category:  "scheduler.schedule.error",
			Action:    "scan",
			Actor:     actor,
			ActorKind: actorKind,
			Status:    audit.StatusError,
			Severity:  audit.SeverityHigh,
			Detail:    fmt.Sprintf("evaluating window for schedule %s, %s", sched.Name, err),
		})
		return scheduleCounts{}
	}
	log = log.With("action", action)

	record := &history.Record{
		ExecutionID: uuid.NewString(),
		ScheduleID:  sched.ID,
		TenantID:    sched.TenantID,
		Trigger:     trigger,
		StartedAt:   s.clk.Now().UTC(),
		Status:      history.StatusRunning,
	}
	var recordMu sync.Mutex
	var appendOnce sync.Once
	addResult := func(kind resources.Kind, result resources.ActionResult) {
		recordMu.Lock()
		record.Add(kind, result)
		recordMu.Unlock()
		metrics.ActionsTotal.WithLabelValues(string(kind), string(result.Action), string(result.Outcome)).Inc()
		if result.Acted() {
			// the in-progress form is persisted once we know the scan acted;
			// other groups keep mutating the record, so persist a snapshot
			appendOnce.Do(func() {
				recordMu.Lock()
				snapshot := record.Snapshot()
				recordMu.Unlock()
				if err := s.historyStore.Append(ctx, &snapshot); err != nil {
					log.With("error", err).Error("appending execution record")
				}
			})
		}
	}

	groups, invalid := s.groupResources(sched)
	for _, bad := range invalid {
		addResult(bad.kind, bad.result)
	}
	record.AccountIDs = lo.Uniq(lo.Keys(groups))

	grp, gctx := errgroup.WithContext(ctx)
	for accountID, regions := range groups {
		for region, refs := range regions {
			grp.Go(func() error {
				s.processGroup(gctx, sched, accounts, accountID, region, refs, action, actor, actorKind, addResult)
				return nil
			})
		}
	}
	_ = grp.Wait()

	counts := scheduleCounts{
		executionID: record.ExecutionID,
		started:     record.Started,
		stopped:     record.Stopped,
		failed:      record.Failed,
	}
	// skip-only scans persist neither an execution record nor a summary
	if !record.Acted() {
		log.Info("all resources already in desired state")
		return counts
	}
	record.Finalize(s.clk.Now().UTC())
	if err := s.historyStore.Close(ctx, record); err != nil {
		log.With("error", err).Error("closing execution record")
	}
	s.writeSummary(ctx, sched, record, actor, actorKind)
	log.With("started", record.Started, "stopped", record.Stopped, "failed", record.Failed, "status", record.Status).Info("scan complete")
	return counts
}

// processGroup handles one (account, region) group. Resources are processed
// sequentially so the group's audit stream is totally ordered; a credential
// failure fails the whole group without blocking other groups.
func (s *Scanner) processGroup(ctx context.Context, sched schedule.Schedule, accounts map[string]schedule.Account,
	accountID, region string, refs []resources.Reference, action resources.Action, actor string, actorKind audit.ActorKind,
	addResult func(resources.Kind, resources.ActionResult)) {
	failAll := func(cause error) {
		for _, ref := range refs {
			result := resources.ActionResult{
				ID:      ref.ID,
				LocalID: ref.LocalID,
				Action:  action,
				Outcome: resources.OutcomeFailed,
				Error:   cause.Error(),
			}
			addResult(ref.Kind, result)
			s.writer.Write(ctx, audit.ForAction(sched.TenantID, actor, actorKind, result, ref.Kind))
		}
	}

	account, ok := accounts[accountID]
	if !ok {
		failAll(&errors.CredentialError{AccountID: accountID, Region: region, Err: fmt.Errorf("account not registered")})
		return
	}
	session, err := s.broker.Assume(ctx, account.RoleARN, account.ID, region, account.ExternalID)
	if err != nil {
		failAll(err)
		return
	}
	drivers := s.drivers(s.clientFactory(session.Config()))

	for _, ref := range refs {
		if ctx.Err() != nil {
			addResult(ref.Kind, resources.ActionResult{
				ID:      ref.ID,
				LocalID: ref.LocalID,
				Action:  action,
				Outcome: resources.OutcomeFailed,
				Error:   deadlineExceededCause,
			})
			continue
		}
		driver, ok := drivers[ref.Kind]
		if !ok {
			addResult(ref.Kind, resources.ActionResult{
				ID:      ref.ID,
				LocalID: ref.LocalID,
				Action:  action,
				Outcome: resources.OutcomeFailed,
				Error:   fmt.Sprintf("no driver for kind %s", ref.Kind),
			})
			continue
		}
		req := providers.Request{
			Ref:        ref,
			ScheduleID: sched.ID,
			TenantID:   sched.TenantID,
			Actor:      actor,
			ActorKind:  actorKind,
			Action:     action,
		}
		if action == resources.ActionStart {
			req.PriorState = s.priorState(ctx, sched, ref)
		}
		addResult(ref.Kind, driver.Process(ctx, req))
	}
}

// priorState consults the history store before a restore. Only kinds whose
// start path consumes captured state are looked up; a miss is "no prior
// state known", never an error.
func (s *Scanner) priorState(ctx context.Context, sched schedule.Schedule, ref resources.Reference) *resources.CapturedState {
	if ref.Kind != resources.KindContainerService && ref.Kind != resources.KindAutoScalingGroup {
		return nil
	}
	state, err := s.historyStore.LastStoppedState(ctx, sched.ID, sched.TenantID, ref.Kind, ref.ID)
	if err != nil {
		logging.FromContext(ctx).With("resource-id", ref.ID, "error", err).Warn("looking up prior state")
		return nil
	}
	return state
}

func (s *Scanner) intendedAction(sched schedule.Schedule) (resources.Action, error) {
	in, err := sched.Window().InWindow(s.clk.Now())
	if err != nil {
		return "", err
	}
	return lo.Ternary(in, resources.ActionStart, resources.ActionStop), nil
}

type invalidResource struct {
	kind   resources.Kind
	result resources.ActionResult
}

// groupResources parses every reference and groups the valid ones by account
// then region. Malformed identifiers become failed results; the scan
// continues without them.
func (s *Scanner) groupResources(sched schedule.Schedule) (map[string]map[string][]resources.Reference, []invalidResource) {
	groups := map[string]map[string][]resources.Reference{}
	var invalid []invalidResource
	for _, res := range sched.Resources {
		ref, err := resources.ParseReference(res.Kind, res.ID)
		if err != nil {
			invalid = append(invalid, invalidResource{
				kind: res.Kind,
				result: resources.ActionResult{
					ID:      res.ID,
					Action:  resources.ActionSkip,
					Outcome: resources.OutcomeFailed,
					Error:   err.Error(),
				},
			})
			continue
		}
		if res.ClusterID != "" {
			ref.ClusterID = res.ClusterID
		}
		if groups[ref.AccountID] == nil {
			groups[ref.AccountID] = map[string][]resources.Reference{}
		}
		groups[ref.AccountID][ref.Region] = append(groups[ref.AccountID][ref.Region], ref)
	}
	return groups, invalid
}

func (s *Scanner) drivers(clients *sdk.Clients) map[resources.Kind]providers.Driver {
	return map[resources.Kind]providers.Driver{
		resources.KindVM:               instance.NewDefaultProvider(clients.EC2, s.writer),
		resources.KindDB:               database.NewDefaultProvider(clients.RDS, s.writer),
		resources.KindDocumentDB:       database.NewClusterProvider(clients.DocDB, s.writer),
		resources.KindContainerService: containerservice.NewDefaultProvider(clients.ECS, clients.AutoScaling, s.writer),
		resources.KindAutoScalingGroup: autoscaling.NewDefaultProvider(clients.AutoScaling, s.writer),
	}
}

func (s *Scanner) accountsByID(ctx context.Context) (map[string]schedule.Account, error) {
	accounts, err := s.config.ActiveAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading active accounts, %w", err)
	}
	return lo.KeyBy(accounts, func(a schedule.Account) string { return a.ID }), nil
}

// writeSummary emits the per-execution audit entry, strictly after every
// per-action entry belonging to the execution.
func (s *Scanner) writeSummary(ctx context.Context, sched schedule.Schedule, record *history.Record, actor string, actorKind audit.ActorKind) {
	metadata := map[string]string{
		"executionId": record.ExecutionID,
		"status":      string(record.Status),
	}
	for kind, results := range record.Results {
		started := lo.CountBy(results, func(r resources.ActionResult) bool {
			return r.Action == resources.ActionStart && r.Outcome == resources.OutcomeSuccess
		})
		stopped := lo.CountBy(results, func(r resources.ActionResult) bool {
			return r.Action == resources.ActionStop && r.Outcome == resources.OutcomeSuccess
		})
		failed := lo.CountBy(results, func(r resources.ActionResult) bool {
			return r.Outcome == resources.OutcomeFailed
		})
		skipped := lo.CountBy(results, func(r resources.ActionResult) bool {
			return r.Action == resources.ActionSkip && r.Outcome == resources.OutcomeSuccess
		})
		metadata[string(kind)] = fmt.Sprintf("started=%d stopped=%d failed=%d skipped=%d", started, stopped, failed, skipped)
	}
	s.writer.Write(ctx, audit.Entry{
		TenantID:  sched.TenantID,
		Category:  "scheduler.execution.summary",
		Action:    "scan",
		Actor:     actor,
		ActorKind: actorKind,
		Status:    summaryStatus(record.Status),
		Severity:  lo.Ternary(record.Failed > 0, audit.SeverityMedium, audit.SeverityInfo),
		Detail:    fmt.Sprintf("schedule %s: %d started, %d stopped, %d failed, %d skipped", sched.Name, record.Started, record.Stopped, record.Failed, record.Skipped),
		Metadata:  metadata,
	})
}

func summaryStatus(status history.Status) audit.Status {
	switch status {
	case history.StatusSuccess:
		return audit.StatusSuccess
	case history.StatusPartial:
		return audit.StatusWarning
	default:
		return audit.StatusError
	}
}
