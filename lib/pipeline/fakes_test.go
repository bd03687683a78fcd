// Copyright 2026 The Grants Stack Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/carlbarrdahl/grants-stack/lib/progress"
	"github.com/carlbarrdahl/grants-stack/lib/round"
	"github.com/carlbarrdahl/grants-stack/lib/testutil"
)

const testTimeout = 5 * time.Second

const (
	programAddress = "0x1111111111111111111111111111111111111111"
	votingAddress  = "0x2222222222222222222222222222222222222222"
	payoutAddress  = "0x3333333333333333333333333333333333333333"
	tokenAddress   = "0x4444444444444444444444444444444444444444"
)

func testInput() round.Input {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	return round.Input{
		RoundMetadata: round.RoundMetadata{Name: "Test round"},
		ApplicationQuestions: round.ApplicationSchema{
			Version:   "1.0.0",
			Questions: []round.Question{{ID: 0, Title: "Email", Type: "email"}},
		},
		Round: round.Round{
			VotingStrategy:        votingAddress,
			PayoutStrategy:        payoutAddress,
			ApplicationsStartTime: start,
			ApplicationsEndTime:   start.Add(48 * time.Hour),
			RoundStartTime:        start.Add(24 * time.Hour),
			RoundEndTime:          start.Add(96 * time.Hour),
			Token:                 tokenAddress,
			OwnedBy:               programAddress,
		},
	}
}

// fakeStorage records every Save and answers with save.
type fakeStorage struct {
	mu     sync.Mutex
	calls  []round.Document
	states []progress.State

	// observe, when set, is read at call time so tests can check what
	// an observer would see when the call is issued.
	observe func() progress.State
	save    func(ctx context.Context, document round.Document) (string, error)
}

func (s *fakeStorage) Save(ctx context.Context, document round.Document) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, document)
	if s.observe != nil {
		s.states = append(s.states, s.observe())
	}
	s.mu.Unlock()
	return s.save(ctx, document)
}

func (s *fakeStorage) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type fakeDeployer struct {
	mu      sync.Mutex
	rounds  []round.Round
	signers []round.Signer
	states  []progress.State

	observe func() progress.State
	deploy  func(ctx context.Context, r round.Round) (round.Deployment, error)
}

func (d *fakeDeployer) Deploy(ctx context.Context, r round.Round, signer round.Signer) (round.Deployment, error) {
	d.mu.Lock()
	d.rounds = append(d.rounds, r)
	d.signers = append(d.signers, signer)
	if d.observe != nil {
		d.states = append(d.states, d.observe())
	}
	d.mu.Unlock()
	return d.deploy(ctx, r)
}

func (d *fakeDeployer) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.rounds)
}

type fakeIndexer struct {
	mu     sync.Mutex
	blocks []uint64
	states []progress.State

	observe func() progress.State
	wait    func(ctx context.Context, block uint64) (uint64, error)
}

func (i *fakeIndexer) WaitForBlock(ctx context.Context, block uint64) (uint64, error) {
	i.mu.Lock()
	i.blocks = append(i.blocks, block)
	if i.observe != nil {
		i.states = append(i.states, i.observe())
	}
	i.mu.Unlock()
	return i.wait(ctx, block)
}

func (i *fakeIndexer) callCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.blocks)
}

type fakeSigner struct{}

func (fakeSigner) Address() string { return "0x9999999999999999999999999999999999999999" }
func (fakeSigner) ChainID() uint64 { return 31337 }
func (fakeSigner) Sign(context.Context, []byte) ([]byte, error) {
	return []byte("signature"), nil
}

// Collaborator behaviours.

func savesAs(pointer string) func(context.Context, round.Document) (string, error) {
	return func(context.Context, round.Document) (string, error) { return pointer, nil }
}

func saveFails(err error) func(context.Context, round.Document) (string, error) {
	return func(context.Context, round.Document) (string, error) { return "", err }
}

func deploysAt(block uint64) func(context.Context, round.Round) (round.Deployment, error) {
	return func(context.Context, round.Round) (round.Deployment, error) {
		return round.Deployment{
			TransactionBlockNumber: round.BlockNumber(block),
			RoundAddress:           "0xabcdefabcdefabcdefabcdefabcdefabcdefabcd",
		}, nil
	}
}

func deployFails(err error) func(context.Context, round.Round) (round.Deployment, error) {
	return func(context.Context, round.Round) (round.Deployment, error) {
		return round.Deployment{}, err
	}
}

func indexesTo(reached uint64) func(context.Context, uint64) (uint64, error) {
	return func(context.Context, uint64) (uint64, error) { return reached, nil }
}

func indexEchoes() func(context.Context, uint64) (uint64, error) {
	return func(_ context.Context, block uint64) (uint64, error) { return block, nil }
}

func indexFails(err error) func(context.Context, uint64) (uint64, error) {
	return func(context.Context, uint64) (uint64, error) { return 0, err }
}

// gate blocks a collaborator call until released, and reports each
// call entering it. Released automatically at test cleanup so no run
// goroutine outlives its test.
type gate struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGate(t *testing.T) *gate {
	g := &gate{
		entered: make(chan struct{}, 8),
		release: make(chan struct{}),
	}
	t.Cleanup(g.open)
	return g
}

func (g *gate) open() { g.once.Do(func() { close(g.release) }) }

func (g *gate) wait(ctx context.Context) {
	g.entered <- struct{}{}
	select {
	case <-g.release:
	case <-ctx.Done():
	}
}

func (g *gate) awaitEntry(t *testing.T, description string) {
	t.Helper()
	testutil.RequireReceive(t, g.entered, testTimeout, description)
}

func newTestPipeline(t *testing.T, storage *fakeStorage, deployer *fakeDeployer, indexer *fakeIndexer) *Pipeline {
	t.Helper()
	p, err := New(Config{Storage: storage, Deployer: deployer, Indexer: indexer})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	storage.observe = p.State
	deployer.observe = p.State
	indexer.observe = p.State
	return p
}

func startRun(t *testing.T, p *Pipeline) *Run {
	t.Helper()
	run, err := p.Start(context.Background(), testInput(), fakeSigner{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return run
}

func finish(t *testing.T, run *Run) error {
	t.Helper()
	testutil.RequireClosed(t, run.Done(), testTimeout, "waiting for run to settle")
	return run.Err()
}

func requireState(t *testing.T, p *Pipeline, want progress.State) {
	t.Helper()
	if got := p.State(); got != want {
		t.Fatalf("state = {storing:%s deploying:%s indexing:%s}, want {storing:%s deploying:%s indexing:%s}",
			got.Storing, got.Deploying, got.Indexing, want.Storing, want.Deploying, want.Indexing)
	}
}
