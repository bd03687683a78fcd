// Copyright 2026 The Grants Stack Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/carlbarrdahl/grants-stack/lib/progress"
	"github.com/carlbarrdahl/grants-stack/lib/round"
)

// storeDocuments saves both documents and returns their pointers in
// the same order. The saves run concurrently; each is issued exactly
// once. The stage succeeds only if both succeed.
func (p *Pipeline) storeDocuments(ctx context.Context, documents [2]round.Document) ([2]string, error) {
	var pointers [2]string
	p.begin(progress.StageStorage)

	group, groupContext := errgroup.WithContext(ctx)
	for index, document := range documents {
		group.Go(func() error {
			pointer, err := p.storage.Save(groupContext, document)
			if err != nil {
				return fmt.Errorf("saving %s: %w", document.Name, err)
			}
			pointers[index] = pointer
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return pointers, p.failStage(progress.StageStorage, KindStorage, err)
	}

	p.succeed(progress.StageStorage, "round_metadata", pointers[0], "application_schema", pointers[1])
	return pointers, nil
}

// deployRound submits shaped, which already carries both pointers.
func (p *Pipeline) deployRound(ctx context.Context, shaped round.Round, signer round.Signer) (round.Deployment, error) {
	p.begin(progress.StageDeployment)

	deployment, err := p.deployer.Deploy(ctx, shaped, signer)
	if err != nil {
		kind := KindDeployment
		if errors.Is(err, round.ErrUserRejected) {
			kind = KindUserRejected
		}
		return round.Deployment{}, p.failStage(progress.StageDeployment, kind, err)
	}

	p.succeed(progress.StageDeployment, "round_address", deployment.RoundAddress, "transaction", deployment.TransactionHash)
	return deployment, nil
}

// waitForIndex waits for the indexer to reach the deployment block. A
// deployment without a block number fails the stage without calling
// the indexer.
func (p *Pipeline) waitForIndex(ctx context.Context, deployment round.Deployment) (uint64, error) {
	p.begin(progress.StageIndexing)

	if deployment.TransactionBlockNumber == nil {
		return 0, p.failStage(progress.StageIndexing, KindMissingDeploymentBlock,
			errors.New("deployment succeeded without a transaction block number"))
	}
	target := *deployment.TransactionBlockNumber

	reached, err := p.indexer.WaitForBlock(ctx, target)
	if err != nil {
		kind := KindIndexSync
		if errors.Is(err, round.ErrIndexTimeout) || errors.Is(err, context.DeadlineExceeded) {
			kind = KindTimeout
		}
		return 0, p.failStage(progress.StageIndexing, kind, err)
	}
	if reached < target {
		return 0, p.failStage(progress.StageIndexing, KindIndexSync,
			fmt.Errorf("indexer reported block %d, below target %d", reached, target))
	}

	p.succeed(progress.StageIndexing, "target_block", target, "reached_block", reached)
	return reached, nil
}

func (p *Pipeline) begin(stage progress.Stage) {
	p.tracker.Set(stage, progress.InProgress)
	p.logger.Info("stage started", "stage", stage)
}

func (p *Pipeline) succeed(stage progress.Stage, attributes ...any) {
	p.tracker.Set(stage, progress.IsSuccess)
	p.logger.Info("stage succeeded", append([]any{"stage", stage}, attributes...)...)
}

func (p *Pipeline) failStage(stage progress.Stage, kind Kind, err error) error {
	p.tracker.Set(stage, progress.IsError)
	return &StageError{Stage: stage, Kind: kind, Err: err}
}
