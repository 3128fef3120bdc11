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

package errors

import (
	"errors"
	"fmt"

	"github.com/aws/smithy-go"
	"github.com/samber/lo"
)

const (
	AccessDeniedCode          = "AccessDenied"
	AccessDeniedExceptionCode = "AccessDeniedException"
)

var (
	// This is not an exhaustive list, add to it as needed
	notFoundErrorCodes = []string{
		"InvalidInstanceID.NotFound",
		"DBInstanceNotFound",
		"DBClusterNotFoundFault",
		"ClusterNotFoundException",
		"ServiceNotFoundException",
		"ResourceNotFoundException",
		"ValidationError",
	}
	accessDeniedErrorCodes = []string{
		AccessDeniedCode,
		AccessDeniedExceptionCode,
		"UnauthorizedOperation",
	}
	throttlingErrorCodes = []string{
		"Throttling",
		"ThrottlingException",
		"RequestLimitExceeded",
		"ProvisionedThroughputExceededException",
	}
)

// InvalidResourceIdentifierError indicates a canonical resource identifier
// that cannot be parsed into (account, region, kind, local id).
type InvalidResourceIdentifierError struct {
	ID     string
	Reason string
}

func (e *InvalidResourceIdentifierError) Error() string {
	return fmt.Sprintf("invalid resource identifier %q, %s", e.ID, e.Reason)
}

func NewInvalidResourceIdentifier(id, reason string) *InvalidResourceIdentifierError {
	return &InvalidResourceIdentifierError{ID: id, Reason: reason}
}

func IsInvalidResourceIdentifier(err error) bool {
	var iriErr *InvalidResourceIdentifierError
	return errors.As(err, &iriErr)
}

// CredentialError indicates that role assumption failed for one
// (account, region) pair. All resources in that pair fail with this cause.
type CredentialError struct {
	AccountID string
	Region    string
	Err       error
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("acquiring credentials for account %s in %s, %s", e.AccountID, e.Region, e.Err)
}

func (e *CredentialError) Unwrap() error {
	return e.Err
}

func IsCredentialError(err error) bool {
	var credErr *CredentialError
	return errors.As(err, &credErr)
}

// ScheduleNotFoundError is the only error surfaced to the trigger itself; a
// partial scan was requested for a schedule that does not exist.
type ScheduleNotFoundError struct {
	ScheduleID string
	TenantID   string
}

func (e *ScheduleNotFoundError) Error() string {
	return fmt.Sprintf("schedule %s not found for tenant %s", e.ScheduleID, e.TenantID)
}

func IsScheduleNotFound(err error) bool {
	var snfErr *ScheduleNotFoundError
	return errors.As(err, &snfErr)
}

// IsNotFound returns true if the err is an AWS error (even if it's
// wrapped) and is known to mean "not found" (as opposed to a more
// serious or unexpected error)
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return lo.Contains(notFoundErrorCodes, apiErr.ErrorCode())
	}
	return false
}

// IsAccessDenied returns true if the error is an AWS error (even if it's
// wrapped) and is known to mean "access denied"
func IsAccessDenied(err error) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return lo.Contains(accessDeniedErrorCodes, apiErr.ErrorCode())
	}
	return false
}

// IsThrottled returns true if the error is an AWS throttling error. Throttled
// calls are not retried within a scan; the next periodic scan is the retry.
func IsThrottled(err error) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return lo.Contains(throttlingErrorCodes, apiErr.ErrorCode())
	}
	return false
}
