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

package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/offhours-io/offhours/pkg/resources"
)

// Severity grades audit entries for downstream filtering.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ActorKind distinguishes operator-triggered actions from scheduled ones.
type ActorKind string

const (
	ActorUser   ActorKind = "user"
	ActorSystem ActorKind = "system"
)

// Status is the reported disposition of the audited event.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
	StatusInfo    Status = "info"
)

// Entry is one structured audit event. Entries are append-only and expire on
// the store's bounded retention.
type Entry struct {
	ID        string    `json:"id" dynamodbav:"id"`
	TenantID  string    `json:"tenantId" dynamodbav:"tenantId"`
	Timestamp time.Time `json:"timestamp" dynamodbav:"timestamp"`
	// Category is a dotted event path, e.g. "scheduler.vm.start".
	Category     string            `json:"category" dynamodbav:"category"`
	Action       string            `json:"action" dynamodbav:"action"`
	Actor        string            `json:"actor" dynamodbav:"actor"`
	ActorKind    ActorKind         `json:"actorKind" dynamodbav:"actorKind"`
	ResourceKind string            `json:"resourceKind,omitempty" dynamodbav:"resourceKind,omitempty"`
	ResourceID   string            `json:"resourceId,omitempty" dynamodbav:"resourceId,omitempty"`
	Status       Status            `json:"status" dynamodbav:"status"`
	Severity     Severity          `json:"severity" dynamodbav:"severity"`
	Detail       string            `json:"detail,omitempty" dynamodbav:"detail,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty" dynamodbav:"metadata,omitempty"`
}

// Writer records audit entries. Writes are best-effort: implementations log
// failures and return, they never fail the action being audited.
type Writer interface {
	Write(ctx context.Context, entry Entry)
}

// Category builds the dotted event path for a driver action, e.g.
// "scheduler.vm.start" or "scheduler.container-service.error".
func Category(kind resources.Kind, leaf string) string {
	return fmt.Sprintf("scheduler.%s.%s", kind, leaf)
}

// ForAction builds the per-action entry for one driver result. Failed
// mutations are graded high severity so they surface in review queues.
func ForAction(tenantID, actor string, actorKind ActorKind, result resources.ActionResult, kind resources.Kind) Entry {
	entry := Entry{
		TenantID:     tenantID,
		Action:       string(result.Action),
		Actor:        actor,
		ActorKind:    actorKind,
		ResourceKind: string(kind),
		ResourceID:   result.ID,
		Status:       StatusSuccess,
		Severity:     SeverityInfo,
		Category:     Category(kind, string(result.Action)),
	}
	if result.Outcome == resources.OutcomeFailed {
		entry.Status = StatusFailed
		entry.Severity = SeverityHigh
		entry.Category = Category(kind, "error")
		entry.Detail = result.Error
	}
	return entry
}
