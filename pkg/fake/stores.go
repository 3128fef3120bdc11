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
	"sort"
	"sync"

	"github.com/samber/lo"

	"github.com/offhours-io/offhours/pkg/errors"
	"github.com/offhours-io/offhours/pkg/history"
	"github.com/offhours-io/offhours/pkg/resources"
	"github.com/offhours-io/offhours/pkg/schedule"
)

// ScheduleStore is an in-memory schedule.Store.
type ScheduleStore struct {
	mu        sync.Mutex
	Schedules []schedule.Schedule
	Accounts  []schedule.Account

	ActiveSchedulesError AtomicError
	ActiveAccountsError  AtomicError
}

// Reset must be called between tests otherwise tests will pollute
// each other.
func (s *ScheduleStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Schedules = nil
	s.Accounts = nil
	s.ActiveSchedulesError.Reset()
	s.ActiveAccountsError.Reset()
}

func (s *ScheduleStore) ActiveSchedules(_ context.Context, tenantID string) ([]schedule.Schedule, error) {
	if err := s.ActiveSchedulesError.Get(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo.Filter(s.Schedules, func(sched schedule.Schedule, _ int) bool {
		return sched.Active && (tenantID == "" || sched.TenantID == tenantID)
	}), nil
}

func (s *ScheduleStore) Schedule(_ context.Context, id, tenantID string) (*schedule.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sched := range s.Schedules {
		if sched.ID == id && sched.TenantID == tenantID {
			return &sched, nil
		}
	}
	return nil, &errors.ScheduleNotFoundError{ScheduleID: id, TenantID: tenantID}
}

func (s *ScheduleStore) ActiveAccounts(_ context.Context) ([]schedule.Account, error) {
	if err := s.ActiveAccountsError.Get(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo.Filter(s.Accounts, func(account schedule.Account, _ int) bool {
		return account.Active
	}), nil
}

// HistoryStore is an in-memory history.Store.
type HistoryStore struct {
	mu      sync.Mutex
	records map[string]*history.Record

	AppendError AtomicError
	CloseError  AtomicError
}

// Reset must be called between tests otherwise tests will pollute
// each other.
func (h *HistoryStore) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = nil
	h.AppendError.Reset()
	h.CloseError.Reset()
}

func (h *HistoryStore) Append(_ context.Context, record *history.Record) error {
	if err := h.AppendError.Get(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.records == nil {
		h.records = map[string]*history.Record{}
	}
	cp := *record
	h.records[record.ExecutionID] = &cp
	return nil
}

func (h *HistoryStore) Close(_ context.Context, record *history.Record) error {
	if err := h.CloseError.Get(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.records == nil {
		h.records = map[string]*history.Record{}
	}
	cp := *record
	h.records[record.ExecutionID] = &cp
	return nil
}

func (h *HistoryStore) ListExecutions(_ context.Context, scheduleID, tenantID string, limit int) ([]history.Record, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []history.Record
	for _, record := range h.records {
		if record.ScheduleID == scheduleID && record.TenantID == tenantID {
			out = append(out, *record)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (h *HistoryStore) LastStoppedState(ctx context.Context, scheduleID, tenantID string, kind resources.Kind, canonicalID string) (*resources.CapturedState, error) {
	records, err := h.ListExecutions(ctx, scheduleID, tenantID, 0)
	if err != nil {
		return nil, err
	}
	for _, record := range records {
		for _, result := range record.Results[kind] {
			if result.ID == canonicalID && result.Action == resources.ActionStop && result.Outcome == resources.OutcomeSuccess {
				return result.PriorState, nil
			}
		}
	}
	return nil, nil
}

// Records returns a copy of every stored record keyed by execution id.
func (h *HistoryStore) Records() map[string]history.Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := map[string]history.Record{}
	for id, record := range h.records {
		out[id] = *record
	}
	return out
}
