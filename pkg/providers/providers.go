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

// Package providers defines the contract every kind-specific driver
// implements. Drivers observe remote state before mutating, never retry, and
// report outcomes through ActionResults; retry policy belongs to the scan
// orchestrator.
package providers

import (
	"context"

	"github.com/offhours-io/offhours/pkg/audit"
	"github.com/offhours-io/offhours/pkg/resources"
)

// Request carries everything one driver invocation needs.
type Request struct {
	Ref        resources.Reference
	ScheduleID string
	TenantID   string
	Actor      string
	ActorKind  audit.ActorKind
	// Action is start or stop; drivers decide on skip themselves.
	Action resources.Action
	// PriorState is the captured state from the most recent successful stop,
	// when one is known. Absence is not an error: drivers fall back to
	// kind-specific defaults.
	PriorState *resources.CapturedState
}

// Driver is the uniform per-kind contract.
//
// Invariants:
//   - If the remote state already matches the intended action, the driver
//     returns a skip with the observed current state captured.
//   - On a transition the returned prior state reflects the
//     observed-before-mutation state, never the post-mutation state.
//   - Remote failures produce outcome failed with non-empty error text; the
//     driver does not retry.
//   - One audit entry is written per non-skip outcome.
type Driver interface {
	Kind() resources.Kind
	Process(ctx context.Context, req Request) resources.ActionResult
}

// Failed builds the failed result for a request.
func Failed(req Request, err error) resources.ActionResult {
	return resources.ActionResult{
		ID:      req.Ref.ID,
		LocalID: req.Ref.LocalID,
		Action:  req.Action,
		Outcome: resources.OutcomeFailed,
		Error:   err.Error(),
	}
}

// WriteAudit writes the per-action entry for a non-skip result.
func WriteAudit(ctx context.Context, writer audit.Writer, req Request, result resources.ActionResult) {
	if !result.Acted() {
		return
	}
	writer.Write(ctx, audit.ForAction(req.TenantID, req.Actor, req.ActorKind, result, req.Ref.Kind))
}
