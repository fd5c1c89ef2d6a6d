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
	"context"
	"errors"
	"fmt"

	"github.com/aws/smithy-go"
	"github.com/samber/lo"
)

const (
	accessDeniedCode          = "AccessDenied"
	accessDeniedExceptionCode = "AccessDeniedException"

	// Reasons recorded on results whose provider call never completed.
	ReasonCancelled = "cancelled"
	ReasonDeadline  = "deadline"
)

var (
	// This is not an exhaustive list, add to it as needed
	notFoundErrorCodes = []string{
		"InvalidInstanceID.NotFound",
		"DBInstanceNotFound",
		"DBInstanceNotFoundFault",
		"DBClusterNotFoundFault",
		"ClusterNotFoundException",
		"ServiceNotFoundException",
		"ServiceNotActiveException",
		"ValidationError", // autoscaling reports unknown group names this way
		"ResourceNotFoundException",
	}
	// invalidStateErrorCodes signify the resource exists but cannot accept
	// the requested transition right now; the next tick retries naturally.
	invalidStateErrorCodes = []string{
		"IncorrectInstanceState",
		"IncorrectState",
		"InvalidDBInstanceState",
		"InvalidDBInstanceStateFault",
		"InvalidDBClusterStateFault",
	}
	accessDeniedErrorCodes = []string{
		accessDeniedCode,
		accessDeniedExceptionCode,
		"UnauthorizedOperation",
	}
)

// AccountUnreachableError wraps a failed role assumption. The owning
// (schedule, account) pair is skipped; other accounts continue.
type AccountUnreachableError struct {
	AccountID string
	Err       error
}

func (e *AccountUnreachableError) Error() string {
	return fmt.Sprintf("assuming role for account %s, %s", e.AccountID, e.Err)
}

func (e *AccountUnreachableError) Unwrap() error {
	return e.Err
}

func IsAccountUnreachable(err error) bool {
	if err == nil {
		return false
	}
	var unreachableErr *AccountUnreachableError
	return errors.As(err, &unreachableErr)
}

// StoreError wraps a store read/write failure. Only execution-record inserts
// escape the engine; audit writes swallow these.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s, %s", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func IsStoreError(err error) bool {
	if err == nil {
		return false
	}
	var storeErr *StoreError
	return errors.As(err, &storeErr)
}

// ResourceNotFoundError marks a described resource that does not exist.
// Surfaced as a failed per-resource result, never aborts the schedule.
type ResourceNotFoundError struct {
	ResourceID string
}

func (e *ResourceNotFoundError) Error() string {
	return fmt.Sprintf("resource %s not found", e.ResourceID)
}

func IsResourceNotFound(err error) bool {
	if err == nil {
		return false
	}
	var nfErr *ResourceNotFoundError
	if errors.As(err, &nfErr) {
		return true
	}
	return IsNotFound(err)
}

// IsNotFound returns true if the err is an AWS error (even if it's wrapped)
// and is known to mean "not found" (as opposed to a more serious or
// unexpected error)
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

// IsInvalidState returns true if the error is an AWS error (even if it's
// wrapped) and means the resource cannot accept the transition right now
func IsInvalidState(err error) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return lo.Contains(invalidStateErrorCodes, apiErr.ErrorCode())
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

// Reason reduces an error to the string recorded on a failed per-resource
// result, mapping budget expiry and cancellation onto their fixed reasons.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return ReasonCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonDeadline
	default:
		return err.Error()
	}
}
