// Copyright 2026 The Grants Stack Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/carlbarrdahl/grants-stack/lib/progress"
	"github.com/carlbarrdahl/grants-stack/lib/round"
)

// Storage persists a document and returns its content address.
type Storage interface {
	Save(ctx context.Context, document round.Document) (string, error)
}

// Deployer submits the round deployment transaction. signer is passed
// through from the caller untouched.
type Deployer interface {
	Deploy(ctx context.Context, r round.Round, signer round.Signer) (round.Deployment, error)
}

// Indexer blocks until the indexer has processed at least block and
// returns the block it reached.
type Indexer interface {
	WaitForBlock(ctx context.Context, block uint64) (uint64, error)
}

// Config holds the collaborators a Pipeline drives.
type Config struct {
	Storage  Storage
	Deployer Deployer
	Indexer  Indexer

	// Logger receives stage transitions. Nil discards.
	Logger *slog.Logger
}

// Phase is the orchestrator's position in a run.
type Phase uint32

const (
	PhaseIdle Phase = iota
	PhaseStoring
	PhaseDeploying
	PhaseSyncing
	PhaseDone
	PhaseFailed
)

var phaseNames = [...]string{
	PhaseIdle:      "idle",
	PhaseStoring:   "storing",
	PhaseDeploying: "deploying",
	PhaseSyncing:   "syncing",
	PhaseDone:      "done",
	PhaseFailed:    "failed",
}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("Phase(%d)", uint32(p))
}

// Pipeline publishes rounds. Create one with New and reuse it for
// retries; its statuses persist between runs until the next Start.
type Pipeline struct {
	storage  Storage
	deployer Deployer
	indexer  Indexer
	logger   *slog.Logger

	tracker progress.Tracker
	phase   atomic.Uint32

	// mu guards running. It is held only to claim or release the
	// pipeline, never across a collaborator call.
	mu      sync.Mutex
	running bool
}

// New returns an idle Pipeline with every stage NOT_STARTED.
func New(config Config) (*Pipeline, error) {
	var missing []string
	if config.Storage == nil {
		missing = append(missing, "storage")
	}
	if config.Deployer == nil {
		missing = append(missing, "deployer")
	}
	if config.Indexer == nil {
		missing = append(missing, "indexer")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("pipeline: missing collaborators: %s", strings.Join(missing, ", "))
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Pipeline{
		storage:  config.Storage,
		deployer: config.Deployer,
		indexer:  config.Indexer,
		logger:   logger.With("component", "pipeline"),
	}, nil
}

// Run is one in-flight or finished publication.
type Run struct {
	done  chan struct{}
	err   error
	state progress.State
}

// Done is closed when the run has settled.
func (r *Run) Done() <-chan struct{} { return r.done }

// Err returns the run's terminal error. It is nil while the run is in
// flight and after a successful run.
func (r *Run) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

// State returns the statuses the run settled with. It is the zero State
// while the run is in flight.
func (r *Run) State() progress.State {
	select {
	case <-r.done:
		return r.state
	default:
		return progress.State{}
	}
}

// Wait blocks until the run settles or ctx is done. Abandoning the wait
// does not stop the run.
func (r *Run) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start begins publishing input and returns without waiting for any
// stage. Before it returns, all three statuses are NOT_STARTED, so an
// error left over from a previous run is never visible after Start.
//
// Returns ErrInvalidInput if input fails round.Validate and
// ErrPipelineBusy if a run is in flight; statuses are untouched in
// both cases. ctx is handed to every collaborator call.
func (p *Pipeline) Start(ctx context.Context, input round.Input, signer round.Signer) (*Run, error) {
	if issues := round.Validate(&input); len(issues) > 0 {
		return nil, fmt.Errorf("%w:\n  %s", ErrInvalidInput, strings.Join(issues, "\n  "))
	}

	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil, ErrPipelineBusy
	}
	p.running = true
	p.mu.Unlock()

	p.tracker.Reset()
	p.phase.Store(uint32(PhaseIdle))

	run := &Run{done: make(chan struct{})}
	go func() {
		run.err = p.execute(ctx, input, signer)
		run.state = p.tracker.Snapshot()

		// Released before done is closed, so a Done waiter's Start is
		// never rejected as busy.
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
		close(run.done)
	}()
	return run, nil
}

// Publish runs the pipeline to completion and returns its terminal
// error. It is Start followed by Run.Wait on a context that is never
// abandoned, so it always waits for the in-flight stage to settle.
func (p *Pipeline) Publish(ctx context.Context, input round.Input, signer round.Signer) error {
	run, err := p.Start(ctx, input, signer)
	if err != nil {
		return err
	}
	return run.Wait(context.WithoutCancel(ctx))
}

// Status returns the current status of stage.
func (p *Pipeline) Status(stage progress.Stage) progress.Status {
	return p.tracker.Get(stage)
}

// State returns all three stage statuses.
func (p *Pipeline) State() progress.State {
	return p.tracker.Snapshot()
}

// Phase returns where the orchestrator is in the current or last run.
func (p *Pipeline) Phase() Phase {
	return Phase(p.phase.Load())
}

// Subscribe registers fn for every status change. See progress.Tracker.Subscribe.
func (p *Pipeline) Subscribe(fn func(progress.Change)) (cancel func()) {
	return p.tracker.Subscribe(fn)
}

// execute runs the three stages in order. It is the only writer of
// p.tracker while p.running is set.
func (p *Pipeline) execute(ctx context.Context, input round.Input, signer round.Signer) error {
	p.logger.Info("publishing round", "name", input.RoundMetadata.Name)

	p.phase.Store(uint32(PhaseStoring))
	pointers, err := p.storeDocuments(ctx, input.Documents())
	if err != nil {
		return p.fail(err)
	}

	p.phase.Store(uint32(PhaseDeploying))
	shaped := round.WithPointers(input.Round, pointers[0], pointers[1])
	deployment, err := p.deployRound(ctx, shaped, signer)
	if err != nil {
		return p.fail(err)
	}

	p.phase.Store(uint32(PhaseSyncing))
	reached, err := p.waitForIndex(ctx, deployment)
	if err != nil {
		return p.fail(err)
	}

	p.phase.Store(uint32(PhaseDone))
	p.logger.Info("round published",
		"round_address", deployment.RoundAddress,
		"transaction", deployment.TransactionHash,
		"indexed_block", reached,
	)
	return nil
}

func (p *Pipeline) fail(err error) error {
	p.phase.Store(uint32(PhaseFailed))
	var stageError *StageError
	if errors.As(err, &stageError) {
		p.logger.Warn("stage failed",
			"stage", stageError.Stage,
			"kind", stageError.Kind,
			"error", stageError.Err,
		)
	}
	return err
}
