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

// State is error state
type State int

// All the error states
const (
	Undefined State = iota

	// failed precondition
	UnsatisfiedAccessPattern
	UnsupportedCapability
	NoLegalJoin
	ConflictingHint

	// invalid argument
	MalformedMetadata
	UnknownColumn
	BadPlanInput

	// not found
	UnknownSource
	UnknownTable

	// internal
	ClosureViolation
	FixpointNotReached
)
