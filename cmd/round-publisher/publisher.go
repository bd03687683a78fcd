// Copyright 2026 The Grants Stack Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/carlbarrdahl/grants-stack/lib/clock"
	"github.com/carlbarrdahl/grants-stack/lib/config"
	"github.com/carlbarrdahl/grants-stack/lib/contentstore"
	"github.com/carlbarrdahl/grants-stack/lib/history"
	"github.com/carlbarrdahl/grants-stack/lib/localchain"
	"github.com/carlbarrdahl/grants-stack/lib/pipeline"
	"github.com/carlbarrdahl/grants-stack/lib/progress"
	"github.com/carlbarrdahl/grants-stack/lib/round"
	"github.com/carlbarrdahl/grants-stack/lib/subgraph"
)

// subgraphRequestTimeout bounds one GraphQL request. The poller's own
// timeout bounds the whole wait.
const subgraphRequestTimeout = 30 * time.Second

// publisher owns the collaborators for one invocation. Every attempt
// shares the run ID generated here.
type publisher struct {
	logger *slog.Logger
	clock  clock.Clock
	runID  string

	store    *contentstore.Store
	signer   *localchain.Signer
	recorder *recorder
	pipeline *pipeline.Pipeline

	// history and results are nil when disabled. resultLog methods
	// are nil-safe.
	history *history.Store
	results *resultLog
}

func newPublisher(cfg *config.Config, logger *slog.Logger) (*publisher, error) {
	clk := clock.Real()

	compression, err := contentstore.ParseCompression(cfg.Storage.Compression)
	if err != nil {
		return nil, err
	}
	store, err := contentstore.New(contentstore.Config{
		Root:        cfg.Paths.Store,
		Compression: compression,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	chain, err := localchain.New(localchain.Config{
		ChainID: cfg.Chain.ChainID,
		Genesis: cfg.Chain.Genesis,
		Clock:   clk,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	indexer, err := newIndexer(cfg, chain, clk, logger)
	if err != nil {
		return nil, err
	}

	recorder := newRecorder(store, chain)
	publishPipeline, err := pipeline.New(pipeline.Config{
		Storage:  recorder,
		Deployer: recorder,
		Indexer:  indexer,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	p := &publisher{
		logger:   logger.With("component", "publisher"),
		clock:    clk,
		runID:    uuid.NewString(),
		store:    store,
		signer:   localchain.NewSigner(cfg.Chain.SignerSeed, cfg.Chain.ChainID),
		recorder: recorder,
		pipeline: publishPipeline,
	}

	if cfg.Paths.History != "" {
		p.history, err = history.Open(cfg.Paths.History, logger)
		if err != nil {
			return nil, err
		}
	}
	if cfg.Paths.ResultLog != "" {
		p.results, err = newResultLog(cfg.Paths.ResultLog, p.clock, logger)
		if err != nil {
			p.Close()
			return nil, err
		}
	}
	return p, nil
}

// newIndexer polls the configured subgraph, or a local indexer that
// follows chain when no endpoint is set.
func newIndexer(cfg *config.Config, chain *localchain.Chain, clk clock.Clock, logger *slog.Logger) (*subgraph.Poller, error) {
	interval, err := cfg.Indexer.PollIntervalDuration()
	if err != nil {
		return nil, err
	}
	timeout, err := cfg.Indexer.TimeoutDuration()
	if err != nil {
		return nil, err
	}

	var source subgraph.BlockSource
	if cfg.Indexer.Endpoint != "" {
		client, err := subgraph.NewClient(cfg.Indexer.Endpoint, &http.Client{Timeout: subgraphRequestTimeout})
		if err != nil {
			return nil, err
		}
		source = client
	} else {
		source = localchain.NewIndexer(chain, cfg.Indexer.Lag, cfg.Indexer.Step)
	}

	return subgraph.NewPoller(subgraph.PollerConfig{
		Source:      source,
		Interval:    interval,
		Timeout:     timeout,
		MaxFailures: cfg.Indexer.MaxFailures,
		Clock:       clk,
		Logger:      logger,
	})
}

func (p *publisher) Close() {
	if err := p.results.Close(); err != nil {
		p.logger.Warn("closing result log", "error", err)
	}
	if p.history != nil {
		if err := p.history.Close(); err != nil {
			p.logger.Warn("closing history", "error", err)
		}
	}
}

// publish runs attempts until one succeeds, the retries are used up,
// or ctx is cancelled. Only stage failures are retried.
func (p *publisher) publish(ctx context.Context, input round.Input, opts options, view *progressView) error {
	for attempt := 1; ; attempt++ {
		p.signer.Reject(attempt <= opts.rejectSignatures)

		outcome, err := p.attempt(ctx, input, attempt, view)
		if err == nil {
			if opts.showDocuments {
				return p.showDocuments(ctx, view.out, outcome)
			}
			return nil
		}

		var stageError *pipeline.StageError
		if !errors.As(err, &stageError) || ctx.Err() != nil || attempt > opts.retries {
			return err
		}
		p.logger.Info("retrying after stage failure",
			"attempt", attempt,
			"stage", stageError.Stage,
			"kind", stageError.Kind,
		)
	}
}

// attempt runs the pipeline once and records the outcome.
func (p *publisher) attempt(ctx context.Context, input round.Input, number int, view *progressView) (history.Attempt, error) {
	name := input.RoundMetadata.Name
	p.recorder.reset()
	view.begin(name, number)

	started := p.clock.Now()
	p.results.writeStart(p.runID, number, name)
	cancel := p.pipeline.Subscribe(func(change progress.Change) {
		view.update(change)
		p.results.writeStatus(p.runID, number, change)
	})
	err := p.pipeline.Publish(ctx, input, p.signer)
	cancel()

	outcome := history.Attempt{
		RunID:      p.runID,
		Attempt:    number,
		RoundName:  name,
		StartedAt:  started,
		FinishedAt: p.clock.Now(),
		State:      p.pipeline.State(),
	}
	pointers, deployment := p.recorder.outcome()
	outcome.MetadataPointer = pointers[round.DocumentRoundMetadata]
	outcome.SchemaPointer = pointers[round.DocumentApplicationSchema]
	outcome.RoundAddress = deployment.RoundAddress
	outcome.TransactionHash = deployment.TransactionHash
	outcome.Block = deployment.TransactionBlockNumber

	duration := outcome.FinishedAt.Sub(started)
	if err != nil {
		var stageError *pipeline.StageError
		if errors.As(err, &stageError) {
			outcome.ErrorKind = string(stageError.Kind)
		}
		outcome.Error = err.Error()
		p.results.writeFailed(outcome, duration)
		view.failed(err)
	} else {
		p.results.writeComplete(outcome, duration)
		view.succeeded(outcome)
	}

	if p.history != nil {
		if recordErr := p.history.Record(context.WithoutCancel(ctx), outcome); recordErr != nil {
			p.logger.Warn("recording attempt", "error", recordErr)
		}
	}
	return outcome, err
}

// showDocuments loads both stored documents back and prints them as
// JSON, verifying their content hashes on the way.
func (p *publisher) showDocuments(ctx context.Context, w io.Writer, outcome history.Attempt) error {
	for _, pointer := range []string{outcome.MetadataPointer, outcome.SchemaPointer} {
		document, err := p.store.Load(ctx, pointer)
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(document.Content, "", "  ")
		if err != nil {
			return fmt.Errorf("formatting %s: %w", document.Name, err)
		}
		fmt.Fprintf(w, "\n%s (%s)\n%s\n", document.Name, pointer, data)
	}
	return nil
}

// recorder sits between the pipeline and its storage and deployer,
// keeping what they returned during the current attempt.
type recorder struct {
	storage  pipeline.Storage
	deployer pipeline.Deployer

	mu         sync.Mutex
	pointers   map[string]string
	deployment round.Deployment
}

func newRecorder(storage pipeline.Storage, deployer pipeline.Deployer) *recorder {
	return &recorder{storage: storage, deployer: deployer, pointers: map[string]string{}}
}

func (r *recorder) Save(ctx context.Context, document round.Document) (string, error) {
	pointer, err := r.storage.Save(ctx, document)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	r.pointers[document.Name] = pointer
	r.mu.Unlock()
	return pointer, nil
}

func (r *recorder) Deploy(ctx context.Context, shaped round.Round, signer round.Signer) (round.Deployment, error) {
	deployment, err := r.deployer.Deploy(ctx, shaped, signer)
	if err != nil {
		return round.Deployment{}, err
	}
	r.mu.Lock()
	r.deployment = deployment
	r.mu.Unlock()
	return deployment, nil
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pointers = map[string]string{}
	r.deployment = round.Deployment{}
}

func (r *recorder) outcome() (map[string]string, round.Deployment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return maps.Clone(r.pointers), r.deployment
}
