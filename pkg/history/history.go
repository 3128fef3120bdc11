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

package history

import (
	"context"
	"time"

	"github.com/offhours-io/offhours/pkg/resources"
)

// Status is the terminal disposition of one execution.
type Status string

const (
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusError   Status = "error"
)

// TriggerSource records what initiated a scan.
type TriggerSource string

const (
	TriggerPeriodic TriggerSource = "periodic"
	TriggerOnDemand TriggerSource = "on-demand"
)

// Record is one execution of one schedule. A record is written once with
// status running and closed exactly once; it is immutable after that.
type Record struct {
	ExecutionID string        `json:"executionId" dynamodbav:"executionId"`
	ScheduleID  string        `json:"scheduleId" dynamodbav:"scheduleId"`
	TenantID    string        `json:"tenantId" dynamodbav:"tenantId"`
	AccountIDs  []string      `json:"accountIds,omitempty" dynamodbav:"accountIds,omitempty"`
	Trigger     TriggerSource `json:"trigger" dynamodbav:"trigger"`
	StartedAt   time.Time     `json:"startedAt" dynamodbav:"startedAt"`
	CompletedAt time.Time     `json:"completedAt,omitempty" dynamodbav:"completedAt,omitempty"`
	Duration    string        `json:"duration,omitempty" dynamodbav:"duration,omitempty"`
	Status      Status        `json:"status" dynamodbav:"status"`
	Started     int           `json:"started" dynamodbav:"started"`
	Stopped     int           `json:"stopped" dynamodbav:"stopped"`
	Failed      int           `json:"failed" dynamodbav:"failed"`
	Skipped     int           `json:"skipped" dynamodbav:"skipped"`
	// Results groups per-resource outcomes by kind.
	Results map[resources.Kind][]resources.ActionResult `json:"results,omitempty" dynamodbav:"results,omitempty"`
}

// Add accumulates one driver result into the record's counts and metadata.
func (r *Record) Add(kind resources.Kind, result resources.ActionResult) {
	if r.Results == nil {
		r.Results = map[resources.Kind][]resources.ActionResult{}
	}
	r.Results[kind] = append(r.Results[kind], result)
	switch {
	case result.Outcome == resources.OutcomeFailed:
		r.Failed++
	case result.Action == resources.ActionStart:
		r.Started++
	case result.Action == resources.ActionStop:
		r.Stopped++
	default:
		r.Skipped++
	}
}

// Snapshot returns a copy safe to persist while results are still being
// accumulated; the Results map and its slices are copied, not shared.
func (r *Record) Snapshot() Record {
	cp := *r
	if r.Results != nil {
		cp.Results = make(map[resources.Kind][]resources.ActionResult, len(r.Results))
		for kind, results := range r.Results {
			cp.Results[kind] = append([]resources.ActionResult(nil), results...)
		}
	}
	cp.AccountIDs = append([]string(nil), r.AccountIDs...)
	return cp
}

// Acted reports whether any state transition was attempted; skip-only
// executions are not persisted at all.
func (r *Record) Acted() bool {
	return r.Started+r.Stopped+r.Failed > 0
}

// Finalize closes out the record, deriving the terminal status from the
// accumulated counts.
func (r *Record) Finalize(now time.Time) {
	r.CompletedAt = now
	r.Duration = now.Sub(r.StartedAt).Round(time.Millisecond).String()
	switch {
	case r.Failed == 0:
		r.Status = StatusSuccess
	case r.Started+r.Stopped > 0:
		r.Status = StatusPartial
	default:
		r.Status = StatusError
	}
}

// Store is the append-only execution history. It doubles as the state source
// for restoration: the most recent successful stop of a resource carries the
// captured prior state a later start needs.
type Store interface {
	// Append persists the in-progress form of a record.
	Append(ctx context.Context, record *Record) error
	// Close persists the closed-out form. Must be called at most once per
	// record, after Finalize.
	Close(ctx context.Context, record *Record) error
	// ListExecutions returns executions for a schedule in descending
	// start-time order.
	ListExecutions(ctx context.Context, scheduleID, tenantID string, limit int) ([]Record, error)
	// LastStoppedState returns the captured prior state from the most recent
	// successful stop of the resource, or nil when none is known. A nil means
	// "no prior state known", never "resource never stopped": a write from
	// the last few seconds may not be visible yet.
	LastStoppedState(ctx context.Context, scheduleID, tenantID string, kind resources.Kind, canonicalID string) (*resources.CapturedState, error)
}
