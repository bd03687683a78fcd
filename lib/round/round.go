// Copyright 2026 The Grants Stack Authors
// SPDX-License-Identifier: Apache-2.0

// Package round defines the data a round publication run works on: the
// user-authored [Input], the on-chain [Round] parameters, storage
// [Pointer] values, the [Document] blobs handed to content-addressed
// storage, and the [Deployment] result of the deployment transaction.
//
// It also defines the [Signer] contract supplied by the wallet layer
// and the sentinel errors collaborators wrap so the pipeline can
// classify failures without importing them.
//
// Round files are authored as JSONC or YAML (see [ReadFile]). All
// types use json tags; YAML input is normalized through JSON so both
// formats share one field naming.
package round

import (
	"context"
	"errors"
	"time"
)

// ProtocolIPFS is the storage protocol tag written into every pointer
// this repository produces. The value is fixed by the round contract.
const ProtocolIPFS uint64 = 1

// Document names used when pinning the two metadata blobs.
const (
	DocumentRoundMetadata     = "round-metadata"
	DocumentApplicationSchema = "application-schema"
)

// ErrUserRejected is wrapped by a Signer (or a deployer that asks one)
// when the user declines to sign.
var ErrUserRejected = errors.New("user rejected the signature request")

// ErrIndexTimeout is wrapped by an indexer collaborator when it gives
// up waiting for the target block.
var ErrIndexTimeout = errors.New("timed out waiting for indexer")

// Input is everything needed to publish one round. The pipeline takes
// it by value and never modifies it.
type Input struct {
	RoundMetadata        RoundMetadata     `json:"roundMetadata"`
	ApplicationQuestions ApplicationSchema `json:"applicationQuestions"`
	Round                Round             `json:"round"`
}

// RoundMetadata is the descriptive document stored off-chain and
// referenced by Round.Store.
type RoundMetadata struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// ProgramContractAddress is the program that owns the round. When
	// empty, Documents fills it from Round.OwnedBy.
	ProgramContractAddress string `json:"programContractAddress"`

	Eligibility *Eligibility `json:"eligibility,omitempty"`
	Support     *Support     `json:"support,omitempty"`

	// Extra carries arbitrary user-defined fields through to storage
	// untouched.
	Extra map[string]any `json:"extra,omitempty"`
}

// Eligibility describes who may apply to the round.
type Eligibility struct {
	Description  string        `json:"description"`
	Requirements []Requirement `json:"requirements,omitempty"`
}

// Requirement is one eligibility rule.
type Requirement struct {
	Requirement string `json:"requirement"`
}

// Support tells applicants how to reach the round operators.
type Support struct {
	Type string `json:"type"`
	Info string `json:"info"`
}

// ApplicationSchema is the question set applicants answer. It is
// stored as its own document and referenced by Round.ApplicationStore.
type ApplicationSchema struct {
	Version       string     `json:"version"`
	LastUpdatedOn int64      `json:"lastUpdatedOn"`
	Questions     []Question `json:"applicationSchema"`
}

// Question is one application form field.
type Question struct {
	ID        int      `json:"id"`
	Title     string   `json:"title"`
	Type      string   `json:"type"`
	Required  bool     `json:"required"`
	Encrypted bool     `json:"encrypted,omitempty"`
	Hidden    bool     `json:"hidden,omitempty"`
	Choices   []string `json:"choices,omitempty"`
}

// Round holds the parameters passed to the round factory contract.
type Round struct {
	VotingStrategy        string    `json:"votingStrategy"`
	PayoutStrategy        string    `json:"payoutStrategy"`
	ApplicationsStartTime time.Time `json:"applicationsStartTime"`
	ApplicationsEndTime   time.Time `json:"applicationsEndTime"`
	RoundStartTime        time.Time `json:"roundStartTime"`
	RoundEndTime          time.Time `json:"roundEndTime"`
	Token                 string    `json:"token"`

	// MatchAmount is a base-10 integer in the token's smallest unit.
	MatchAmount string `json:"matchAmount,omitempty"`

	OwnedBy         string   `json:"ownedBy"`
	OperatorWallets []string `json:"operatorWallets,omitempty"`

	// Store and ApplicationStore are set by WithPointers during a run.
	// Values present in an input file are ignored.
	Store            *Pointer `json:"store,omitempty"`
	ApplicationStore *Pointer `json:"applicationStore,omitempty"`
}

// Pointer locates a blob in content-addressed storage.
type Pointer struct {
	Protocol uint64 `json:"protocol"`
	Pointer  string `json:"pointer"`
}

// Document is one blob handed to storage. Name is a human label used
// when pinning; Content is serialized by the storage collaborator.
type Document struct {
	Name    string `json:"name"`
	Content any    `json:"content"`
}

// Deployment is what the deployment collaborator reports.
type Deployment struct {
	// TransactionBlockNumber is the block that mined the deployment.
	// Nil means the collaborator did not report one.
	TransactionBlockNumber *uint64 `json:"transactionBlockNumber,omitempty"`

	RoundAddress    string `json:"roundAddress,omitempty"`
	TransactionHash string `json:"transactionHash,omitempty"`
}

// BlockNumber returns a pointer to n, for building Deployment values.
func BlockNumber(n uint64) *uint64 { return &n }

// Signer is the authenticated identity supplied by the wallet layer.
// The pipeline forwards it to the deployer without inspecting it.
type Signer interface {
	// Address is the account that will own the transaction.
	Address() string

	// ChainID identifies the network the signer is connected to.
	ChainID() uint64

	// Sign signs digest. Returns an error wrapping ErrUserRejected
	// when the user declines.
	Sign(ctx context.Context, digest []byte) ([]byte, error)
}

// Documents returns the two documents stored for input, round metadata
// first. The round metadata carries the owning program address.
func (input Input) Documents() [2]Document {
	metadata := input.RoundMetadata
	if metadata.ProgramContractAddress == "" {
		metadata.ProgramContractAddress = input.Round.OwnedBy
	}
	return [2]Document{
		{Name: DocumentRoundMetadata, Content: metadata},
		{Name: DocumentApplicationSchema, Content: input.ApplicationQuestions},
	}
}

// WithPointers returns a copy of r referencing the stored round
// metadata and application schema. Both pointers use ProtocolIPFS.
// OperatorWallets is copied so the result shares no memory with r.
func WithPointers(r Round, metadataPointer, schemaPointer string) Round {
	shaped := r
	if r.OperatorWallets != nil {
		shaped.OperatorWallets = append([]string(nil), r.OperatorWallets...)
	}
	shaped.Store = &Pointer{Protocol: ProtocolIPFS, Pointer: metadataPointer}
	shaped.ApplicationStore = &Pointer{Protocol: ProtocolIPFS, Pointer: schemaPointer}
	return shaped
}
