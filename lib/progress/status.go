// Copyright 2026 The Grants Stack Authors
// SPDX-License-Identifier: Apache-2.0

package progress

import "fmt"

// Status is the progress of one stage. The zero value is NotStarted.
type Status uint32

const (
	// NotStarted means the pipeline has not reached the stage in the
	// current run.
	NotStarted Status = iota

	// InProgress means the stage's external call has been issued and
	// has not settled.
	InProgress

	// IsSuccess means the stage's call settled successfully.
	IsSuccess

	// IsError means the stage's call failed. The stage stays here
	// until the pipeline is restarted.
	IsError
)

var statusNames = [...]string{
	NotStarted: "NOT_STARTED",
	InProgress: "IN_PROGRESS",
	IsSuccess:  "IS_SUCCESS",
	IsError:    "IS_ERROR",
}

// String returns the canonical upper-case name of the status.
func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", uint32(s))
}

// Terminal reports whether no further automatic transition follows s.
func (s Status) Terminal() bool {
	return s == IsSuccess || s == IsError
}

// MarshalText encodes the status as its canonical name.
func (s Status) MarshalText() ([]byte, error) {
	if int(s) >= len(statusNames) {
		return nil, fmt.Errorf("unknown progress status %d", uint32(s))
	}
	return []byte(statusNames[s]), nil
}

// UnmarshalText parses a canonical status name.
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseStatus parses a canonical status name such as "IS_SUCCESS".
func ParseStatus(name string) (Status, error) {
	for index, candidate := range statusNames {
		if candidate == name {
			return Status(index), nil
		}
	}
	return 0, fmt.Errorf("unknown progress status %q", name)
}

// Stage identifies one of the three sequential units of work.
type Stage uint8

const (
	// StageStorage persists round metadata and the application schema
	// to content-addressed storage.
	StageStorage Stage = iota

	// StageDeployment submits the round deployment transaction.
	StageDeployment

	// StageIndexing waits for the indexer to reach the deployment block.
	StageIndexing

	stageCount
)

// Stages lists every stage in execution order.
var Stages = [stageCount]Stage{StageStorage, StageDeployment, StageIndexing}

var stageNames = [stageCount]string{
	StageStorage:    "storing",
	StageDeployment: "deploying",
	StageIndexing:   "indexing",
}

// String returns the stage name used in logs and result files.
func (s Stage) String() string {
	if s < stageCount {
		return stageNames[s]
	}
	return fmt.Sprintf("Stage(%d)", uint8(s))
}

// MarshalText encodes the stage as its name.
func (s Stage) MarshalText() ([]byte, error) {
	if s >= stageCount {
		return nil, fmt.Errorf("unknown stage %d", uint8(s))
	}
	return []byte(stageNames[s]), nil
}

// State is a point-in-time copy of all three stage statuses.
type State struct {
	Storing   Status `json:"storing"`
	Deploying Status `json:"deploying"`
	Indexing  Status `json:"indexing"`
}

// Of returns the status recorded for stage.
func (s State) Of(stage Stage) Status {
	switch stage {
	case StageStorage:
		return s.Storing
	case StageDeployment:
		return s.Deploying
	case StageIndexing:
		return s.Indexing
	default:
		return NotStarted
	}
}

// Failed returns the first stage in IsError, if any.
func (s State) Failed() (Stage, bool) {
	for _, stage := range Stages {
		if s.Of(stage) == IsError {
			return stage, true
		}
	}
	return 0, false
}
