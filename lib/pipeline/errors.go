// Copyright 2026 The Grants Stack Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"errors"
	"fmt"

	"github.com/carlbarrdahl/grants-stack/lib/progress"
)

// Kind classifies why a stage failed.
type Kind string

const (
	KindStorage                Kind = "storage_failure"
	KindDeployment             Kind = "deployment_failure"
	KindUserRejected           Kind = "user_rejected"
	KindIndexSync              Kind = "index_sync_failure"
	KindTimeout                Kind = "index_sync_timeout"
	KindMissingDeploymentBlock Kind = "missing_deployment_block"
)

// Sentinels matched by StageError.Is. Subkinds also match their parent:
// a user-rejected signature is a deployment failure, and a timeout is
// an index sync failure.
var (
	ErrStorageFailed          = errors.New("storage failed")
	ErrDeploymentFailed       = errors.New("deployment failed")
	ErrUserRejected           = errors.New("deployment rejected by user")
	ErrIndexSyncFailed        = errors.New("index sync failed")
	ErrIndexTimeout           = errors.New("index sync timed out")
	ErrMissingDeploymentBlock = errors.New("deployment reported no block number")
)

// ErrPipelineBusy is returned by Start while another run is in flight.
var ErrPipelineBusy = errors.New("pipeline is already running")

// ErrInvalidInput is returned by Start when the input fails validation.
// No status changes in that case.
var ErrInvalidInput = errors.New("invalid round input")

var kindSentinels = map[Kind][]error{
	KindStorage:                {ErrStorageFailed},
	KindDeployment:             {ErrDeploymentFailed},
	KindUserRejected:           {ErrUserRejected, ErrDeploymentFailed},
	KindIndexSync:              {ErrIndexSyncFailed},
	KindTimeout:                {ErrIndexTimeout, ErrIndexSyncFailed},
	KindMissingDeploymentBlock: {ErrMissingDeploymentBlock},
}

// StageError is the error a run ends with when a stage fails. Err is
// the collaborator's error (or a description of the violated
// precondition) and stays reachable through errors.Is/As.
type StageError struct {
	Stage progress.Stage
	Kind  Kind
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Is reports whether target is one of the sentinels for e.Kind.
func (e *StageError) Is(target error) bool {
	for _, sentinel := range kindSentinels[e.Kind] {
		if target == sentinel {
			return true
		}
	}
	return false
}
