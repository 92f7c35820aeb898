/*
Copyright 2026 The Fedplan Authors.

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

package federrors

import (
	"errors"
	"fmt"
	"strings"
)

// FedError is an error with a stable identifier and a longer description.
type FedError struct {
	Err         error
	Description string
	ID          string
	// Subtree is the short description of the plan subtree the error is
	// about, when there is one.
	Subtree string
}

var (
	FED10001 = errorWithState("FED10001", FailedPrecondition, NoLegalJoin, "no legal plan for %s: %s", "The planner could not find a plan satisfying the access patterns, capabilities and hints of the query.")
	FED10002 = errorWithState("FED10002", InvalidArgument, MalformedMetadata, "malformed metadata: %s", "A table, column, access pattern or capability definition is malformed.")
	FED10003 = errorWithState("FED10003", NotFound, UnknownSource, "no capabilities for source '%s'", "The capability finder has no profile for the given source.")
	FED10004 = errorWithState("FED10004", NotFound, UnknownTable, "unknown table '%s'", "The metadata catalog does not contain the given table.")
	FED10005 = errorWithState("FED10005", InvalidArgument, BadPlanInput, "invalid plan input: %s", "A plan or expression document could not be decoded.")

	FED13001 = errorWithoutState("FED13001", Internal, "[BUG] %s", "This error should not happen and is a bug. Please file an issue on GitHub.")

	Errors = []func(args ...any) *FedError{
		FED10001,
		FED10002,
		FED10003,
		FED10004,
		FED10005,
		FED13001,
	}
)

func (o *FedError) Error() string {
	return o.Err.Error()
}

func (o *FedError) Cause() error {
	return o.Err
}

func (o *FedError) Unwrap() error {
	return o.Err
}

var _ error = (*FedError)(nil)

func errorWithoutState(id string, code ErrorCode, short, long string) func(args ...any) *FedError {
	return func(args ...any) *FedError {
		s := short
		if len(args) != 0 {
			s = fmt.Sprintf(s, args...)
		}

		return &FedError{
			Err:         New(code, id+": "+s),
			Description: long,
			ID:          id,
		}
	}
}

func errorWithState(id string, code ErrorCode, state State, short, long string) func(args ...any) *FedError {
	return func(args ...any) *FedError {
		return &FedError{
			Err:         NewErrorf(code, state, id+": "+short, args...),
			Description: long,
			ID:          id,
		}
	}
}

// PlanningError reports that no legal plan exists for the given subtree.
func PlanningError(subtree string, format string, args ...any) error {
	err := FED10001(subtree, fmt.Sprintf(format, args...))
	err.Subtree = subtree
	return err
}

// MetadataError reports malformed catalog or capability data.
func MetadataError(format string, args ...any) error {
	return FED10002(fmt.Sprintf(format, args...))
}

// Bug reports a violated planner invariant.
func Bug(format string, args ...any) error {
	return FED13001(fmt.Sprintf(format, args...))
}

// ID returns the identifier of the outermost FedError in the chain, or "".
func ID(err error) string {
	var fe *FedError
	if errors.As(err, &fe) {
		return fe.ID
	}
	return ""
}

// Kind buckets an error into planning, metadata or bug.
func Kind(err error) string {
	id := ID(err)
	switch {
	case id == "FED10001":
		return "planning"
	case strings.HasPrefix(id, "FED100"):
		return "metadata"
	case strings.HasPrefix(id, "FED13"):
		return "bug"
	case err == nil:
		return ""
	default:
		return "unknown"
	}
}

// IsPlanningError returns true if err is or wraps a PlanningError.
func IsPlanningError(err error) bool {
	return Kind(err) == "planning"
}

// IsMetadataError returns true if err is or wraps a MetadataError.
func IsMetadataError(err error) bool {
	return Kind(err) == "metadata"
}

// Subtree returns the plan subtree a PlanningError was raised for.
func Subtree(err error) string {
	var fe *FedError
	if errors.As(err, &fe) {
		return fe.Subtree
	}
	return ""
}
