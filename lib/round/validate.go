// Copyright 2026 The Grants Stack Authors
// SPDX-License-Identifier: Apache-2.0

package round

import (
	"fmt"
	"math/big"
	"regexp"
)

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// IsAddress reports whether s looks like a 20-byte hex account address.
func IsAddress(s string) bool {
	return addressPattern.MatchString(s)
}

// Validate checks an Input for problems that would make the deployment
// fail or produce an unusable round. Returns a list of human-readable
// issue descriptions. An empty list means the input is valid.
//
// Checks include:
//   - round metadata name is required
//   - round.ownedBy, votingStrategy, payoutStrategy, and token are addresses
//   - roundMetadata.programContractAddress, when set, matches round.ownedBy
//   - every operator wallet is an address
//   - time windows are set and ordered: applications open before they
//     close, the round starts before it ends, applications open no later
//     than the round starts
//   - matchAmount, when set, is a non-negative base-10 integer
//   - application questions have titles and unique ids
func Validate(input *Input) []string {
	var issues []string

	if input.RoundMetadata.Name == "" {
		issues = append(issues, "roundMetadata.name is required")
	}

	r := input.Round
	for _, field := range []struct {
		name  string
		value string
	}{
		{"round.ownedBy", r.OwnedBy},
		{"round.votingStrategy", r.VotingStrategy},
		{"round.payoutStrategy", r.PayoutStrategy},
		{"round.token", r.Token},
	} {
		switch {
		case field.value == "":
			issues = append(issues, fmt.Sprintf("%s is required", field.name))
		case !IsAddress(field.value):
			issues = append(issues, fmt.Sprintf("%s: %q is not an address", field.name, field.value))
		}
	}

	if program := input.RoundMetadata.ProgramContractAddress; program != "" && r.OwnedBy != "" && program != r.OwnedBy {
		issues = append(issues, fmt.Sprintf(
			"roundMetadata.programContractAddress %q does not match round.ownedBy %q", program, r.OwnedBy))
	}

	for index, wallet := range r.OperatorWallets {
		if !IsAddress(wallet) {
			issues = append(issues, fmt.Sprintf("round.operatorWallets[%d]: %q is not an address", index, wallet))
		}
	}

	windows := []struct {
		name string
		set  bool
	}{
		{"round.applicationsStartTime", !r.ApplicationsStartTime.IsZero()},
		{"round.applicationsEndTime", !r.ApplicationsEndTime.IsZero()},
		{"round.roundStartTime", !r.RoundStartTime.IsZero()},
		{"round.roundEndTime", !r.RoundEndTime.IsZero()},
	}
	allSet := true
	for _, window := range windows {
		if !window.set {
			issues = append(issues, fmt.Sprintf("%s is required", window.name))
			allSet = false
		}
	}
	if allSet {
		if !r.ApplicationsStartTime.Before(r.ApplicationsEndTime) {
			issues = append(issues, "round.applicationsStartTime must be before round.applicationsEndTime")
		}
		if !r.RoundStartTime.Before(r.RoundEndTime) {
			issues = append(issues, "round.roundStartTime must be before round.roundEndTime")
		}
		if r.RoundStartTime.Before(r.ApplicationsStartTime) {
			issues = append(issues, "round.roundStartTime must not be before round.applicationsStartTime")
		}
	}

	if r.MatchAmount != "" {
		amount, ok := new(big.Int).SetString(r.MatchAmount, 10)
		if !ok || amount.Sign() < 0 {
			issues = append(issues, fmt.Sprintf("round.matchAmount: %q is not a non-negative integer", r.MatchAmount))
		}
	}

	seen := make(map[int]bool, len(input.ApplicationQuestions.Questions))
	for index, question := range input.ApplicationQuestions.Questions {
		prefix := fmt.Sprintf("applicationQuestions.applicationSchema[%d]", index)
		if question.Title == "" {
			issues = append(issues, fmt.Sprintf("%s: title is required", prefix))
		}
		if seen[question.ID] {
			issues = append(issues, fmt.Sprintf("%s: duplicate id %d", prefix, question.ID))
		}
		seen[question.ID] = true
	}

	return issues
}
