// Copyright 2026 The Grants Stack Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/carlbarrdahl/grants-stack/lib/progress"
	"github.com/carlbarrdahl/grants-stack/lib/round"
)

var (
	allNotStarted = progress.State{}
	allSucceeded  = progress.State{
		Storing:   progress.IsSuccess,
		Deploying: progress.IsSuccess,
		Indexing:  progress.IsSuccess,
	}
)

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{Storage: &fakeStorage{}})
	if err == nil {
		t.Fatal("New without deployer and indexer succeeded")
	}
	for _, want := range []string{"deployer", "indexer"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not name %s", err, want)
		}
	}
}

func TestNewPipelineIsIdle(t *testing.T) {
	p := newTestPipeline(t, &fakeStorage{}, &fakeDeployer{}, &fakeIndexer{})
	requireState(t, p, allNotStarted)
	if p.Phase() != PhaseIdle {
		t.Fatalf("Phase() = %s, want idle", p.Phase())
	}
}

func TestStorageInProgressWhileSaving(t *testing.T) {
	blocked := newGate(t)
	storage := &fakeStorage{save: func(ctx context.Context, _ round.Document) (string, error) {
		blocked.wait(ctx)
		return "bafabcdef", nil
	}}
	deployer := &fakeDeployer{deploy: deploysAt(10)}
	indexer := &fakeIndexer{wait: indexEchoes()}
	p := newTestPipeline(t, storage, deployer, indexer)

	run := startRun(t, p)
	blocked.awaitEntry(t, "first save")

	requireState(t, p, progress.State{Storing: progress.InProgress})
	if p.Phase() != PhaseStoring {
		t.Errorf("Phase() = %s, want storing", p.Phase())
	}
	if deployer.callCount() != 0 {
		t.Fatal("deployer called while storage was in progress")
	}

	blocked.open()
	if err := finish(t, run); err != nil {
		t.Fatalf("run failed: %v", err)
	}
}

func TestDeploymentInProgressWhileDeploying(t *testing.T) {
	blocked := newGate(t)
	storage := &fakeStorage{save: savesAs("bafabcdef")}
	deployer := &fakeDeployer{deploy: func(ctx context.Context, r round.Round) (round.Deployment, error) {
		blocked.wait(ctx)
		return round.Deployment{TransactionBlockNumber: round.BlockNumber(10)}, nil
	}}
	indexer := &fakeIndexer{wait: indexEchoes()}
	p := newTestPipeline(t, storage, deployer, indexer)

	run := startRun(t, p)
	blocked.awaitEntry(t, "deploy")

	requireState(t, p, progress.State{Storing: progress.IsSuccess, Deploying: progress.InProgress})
	blocked.open()
	if err := finish(t, run); err != nil {
		t.Fatalf("run failed: %v", err)
	}
}

func TestIndexingInProgressWhileWaiting(t *testing.T) {
	blocked := newGate(t)
	storage := &fakeStorage{save: savesAs("bafabcdef")}
	deployer := &fakeDeployer{deploy: deploysAt(10)}
	indexer := &fakeIndexer{wait: func(ctx context.Context, block uint64) (uint64, error) {
		blocked.wait(ctx)
		return block, nil
	}}
	p := newTestPipeline(t, storage, deployer, indexer)

	run := startRun(t, p)
	blocked.awaitEntry(t, "index wait")

	requireState(t, p, progress.State{
		Storing:   progress.IsSuccess,
		Deploying: progress.IsSuccess,
		Indexing:  progress.InProgress,
	})
	if p.Phase() != PhaseSyncing {
		t.Errorf("Phase() = %s, want syncing", p.Phase())
	}
	blocked.open()
	if err := finish(t, run); err != nil {
		t.Fatalf("run failed: %v", err)
	}
}

func TestStagesRunSequentially(t *testing.T) {
	storage := &fakeStorage{save: savesAs("bafabcdef")}
	deployer := &fakeDeployer{deploy: deploysAt(10)}
	indexer := &fakeIndexer{wait: indexEchoes()}
	p := newTestPipeline(t, storage, deployer, indexer)

	if err := finish(t, startRun(t, p)); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	for _, state := range storage.states {
		if state != (progress.State{Storing: progress.InProgress}) {
			t.Errorf("save issued with state %+v", state)
		}
	}
	wantAtDeploy := progress.State{Storing: progress.IsSuccess, Deploying: progress.InProgress}
	if len(deployer.states) != 1 || deployer.states[0] != wantAtDeploy {
		t.Errorf("deploy issued with states %+v, want [%+v]", deployer.states, wantAtDeploy)
	}
	wantAtIndex := progress.State{
		Storing:   progress.IsSuccess,
		Deploying: progress.IsSuccess,
		Indexing:  progress.InProgress,
	}
	if len(indexer.states) != 1 || indexer.states[0] != wantAtIndex {
		t.Errorf("index wait issued with states %+v, want [%+v]", indexer.states, wantAtIndex)
	}
}

func TestStatusProgressionPerStage(t *testing.T) {
	tests := []struct {
		name     string
		storage  *fakeStorage
		deployer *fakeDeployer
		indexer  *fakeIndexer
		want     map[progress.Stage][]progress.Status
	}{
		{
			name:     "success",
			storage:  &fakeStorage{save: savesAs("bafabcdef")},
			deployer: &fakeDeployer{deploy: deploysAt(10)},
			indexer:  &fakeIndexer{wait: indexEchoes()},
			want: map[progress.Stage][]progress.Status{
				progress.StageStorage:    {progress.InProgress, progress.IsSuccess},
				progress.StageDeployment: {progress.InProgress, progress.IsSuccess},
				progress.StageIndexing:   {progress.InProgress, progress.IsSuccess},
			},
		},
		{
			name:     "deployment failure",
			storage:  &fakeStorage{save: savesAs("asdf")},
			deployer: &fakeDeployer{deploy: deployFails(errors.New("Failed to deploy :("))},
			indexer:  &fakeIndexer{wait: indexEchoes()},
			want: map[progress.Stage][]progress.Status{
				progress.StageStorage:    {progress.InProgress, progress.IsSuccess},
				progress.StageDeployment: {progress.InProgress, progress.IsError},
			},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			p := newTestPipeline(t, test.storage, test.deployer, test.indexer)
			var mu sync.Mutex
			observed := make(map[progress.Stage][]progress.Status)
			p.Subscribe(func(change progress.Change) {
				mu.Lock()
				defer mu.Unlock()
				observed[change.Stage] = append(observed[change.Stage], change.Current)
			})

			finish(t, startRun(t, p))

			mu.Lock()
			defer mu.Unlock()
			for _, stage := range progress.Stages {
				if !slices.Equal(observed[stage], test.want[stage]) {
					t.Errorf("%s progression = %v, want %v", stage, observed[stage], test.want[stage])
				}
			}
		})
	}
}

func TestStorageFailureShortCircuits(t *testing.T) {
	storage := &fakeStorage{save: saveFails(errors.New(":("))}
	deployer := &fakeDeployer{deploy: deploysAt(10)}
	indexer := &fakeIndexer{wait: indexEchoes()}
	p := newTestPipeline(t, storage, deployer, indexer)

	err := finish(t, startRun(t, p))
	if !errors.Is(err, ErrStorageFailed) {
		t.Fatalf("err = %v, want ErrStorageFailed", err)
	}
	requireState(t, p, progress.State{Storing: progress.IsError})
	if deployer.callCount() != 0 || indexer.callCount() != 0 {
		t.Fatalf("later stages called after storage failure: deploy=%d index=%d",
			deployer.callCount(), indexer.callCount())
	}
	if p.Phase() != PhaseFailed {
		t.Errorf("Phase() = %s, want failed", p.Phase())
	}
}

func TestStoragePartialFailure(t *testing.T) {
	storage := &fakeStorage{save: func(_ context.Context, document round.Document) (string, error) {
		if document.Name == round.DocumentApplicationSchema {
			return "", errors.New("pin limit reached")
		}
		return "bafmetadata", nil
	}}
	deployer := &fakeDeployer{deploy: deploysAt(10)}
	p := newTestPipeline(t, storage, deployer, &fakeIndexer{wait: indexEchoes()})

	err := finish(t, startRun(t, p))
	var stageError *StageError
	if !errors.As(err, &stageError) || stageError.Stage != progress.StageStorage || stageError.Kind != KindStorage {
		t.Fatalf("err = %v, want storage StageError", err)
	}
	if !strings.Contains(err.Error(), round.DocumentApplicationSchema) {
		t.Errorf("error %q does not name the failed document", err)
	}
	if storage.callCount() != 2 {
		t.Errorf("storage called %d times, want each document saved once", storage.callCount())
	}
	requireState(t, p, progress.State{Storing: progress.IsError})
}

func TestDeploymentFailureShortCircuits(t *testing.T) {
	storage := &fakeStorage{save: savesAs("asdf")}
	deployer := &fakeDeployer{deploy: deployFails(errors.New("Failed to deploy :("))}
	indexer := &fakeIndexer{wait: indexEchoes()}
	p := newTestPipeline(t, storage, deployer, indexer)

	err := finish(t, startRun(t, p))
	if !errors.Is(err, ErrDeploymentFailed) {
		t.Fatalf("err = %v, want ErrDeploymentFailed", err)
	}
	if errors.Is(err, ErrUserRejected) {
		t.Error("plain deployment failure classified as user rejection")
	}
	requireState(t, p, progress.State{Storing: progress.IsSuccess, Deploying: progress.IsError})
	if indexer.callCount() != 0 {
		t.Fatal("indexer called after deployment failure")
	}
}

func TestUserRejectedSignature(t *testing.T) {
	storage := &fakeStorage{save: savesAs("asdf")}
	deployer := &fakeDeployer{deploy: deployFails(fmt.Errorf("wallet: %w", round.ErrUserRejected))}
	p := newTestPipeline(t, storage, deployer, &fakeIndexer{wait: indexEchoes()})

	err := finish(t, startRun(t, p))
	var stageError *StageError
	if !errors.As(err, &stageError) || stageError.Kind != KindUserRejected {
		t.Fatalf("err = %v, want KindUserRejected", err)
	}
	for _, target := range []error{ErrUserRejected, ErrDeploymentFailed, round.ErrUserRejected} {
		if !errors.Is(err, target) {
			t.Errorf("errors.Is(err, %v) = false", target)
		}
	}
	requireState(t, p, progress.State{Storing: progress.IsSuccess, Deploying: progress.IsError})
}

func TestMissingDeploymentBlockFailsFast(t *testing.T) {
	storage := &fakeStorage{save: savesAs("bafabcdef")}
	deployer := &fakeDeployer{deploy: func(context.Context, round.Round) (round.Deployment, error) {
		return round.Deployment{}, nil
	}}
	indexer := &fakeIndexer{wait: indexEchoes()}
	p := newTestPipeline(t, storage, deployer, indexer)

	var indexing []progress.Status
	p.Subscribe(func(change progress.Change) {
		if change.Stage == progress.StageIndexing {
			indexing = append(indexing, change.Current)
		}
	})

	err := finish(t, startRun(t, p))
	if !errors.Is(err, ErrMissingDeploymentBlock) {
		t.Fatalf("err = %v, want ErrMissingDeploymentBlock", err)
	}
	if errors.Is(err, ErrIndexSyncFailed) || errors.Is(err, ErrDeploymentFailed) {
		t.Error("missing block should be its own error kind")
	}
	if indexer.callCount() != 0 {
		t.Fatal("indexer called without a target block")
	}
	requireState(t, p, progress.State{
		Storing:   progress.IsSuccess,
		Deploying: progress.IsSuccess,
		Indexing:  progress.IsError,
	})
	if !slices.Equal(indexing, []progress.Status{progress.InProgress, progress.IsError}) {
		t.Errorf("indexing progression = %v", indexing)
	}
}

func TestIndexSyncFailureKinds(t *testing.T) {
	tests := []struct {
		name     string
		wait     func(context.Context, uint64) (uint64, error)
		wantKind Kind
		wantIs   []error
		wantNot  []error
	}{
		{
			name:     "rejected",
			wait:     indexFails(errors.New(":(")),
			wantKind: KindIndexSync,
			wantIs:   []error{ErrIndexSyncFailed},
			wantNot:  []error{ErrIndexTimeout},
		},
		{
			name:     "timeout sentinel",
			wait:     indexFails(fmt.Errorf("block 100: %w", round.ErrIndexTimeout)),
			wantKind: KindTimeout,
			wantIs:   []error{ErrIndexTimeout, ErrIndexSyncFailed, round.ErrIndexTimeout},
		},
		{
			name:     "deadline exceeded",
			wait:     indexFails(context.DeadlineExceeded),
			wantKind: KindTimeout,
			wantIs:   []error{ErrIndexTimeout, context.DeadlineExceeded},
		},
		{
			name:     "below target",
			wait:     indexesTo(99),
			wantKind: KindIndexSync,
			wantIs:   []error{ErrIndexSyncFailed},
			wantNot:  []error{ErrIndexTimeout},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			storage := &fakeStorage{save: savesAs("asdf")}
			deployer := &fakeDeployer{deploy: deploysAt(100)}
			p := newTestPipeline(t, storage, deployer, &fakeIndexer{wait: test.wait})

			err := finish(t, startRun(t, p))
			var stageError *StageError
			if !errors.As(err, &stageError) {
				t.Fatalf("err = %v, want StageError", err)
			}
			if stageError.Stage != progress.StageIndexing || stageError.Kind != test.wantKind {
				t.Errorf("stage/kind = %s/%s, want indexing/%s", stageError.Stage, stageError.Kind, test.wantKind)
			}
			for _, target := range test.wantIs {
				if !errors.Is(err, target) {
					t.Errorf("errors.Is(err, %v) = false", target)
				}
			}
			for _, target := range test.wantNot {
				if errors.Is(err, target) {
					t.Errorf("errors.Is(err, %v) = true", target)
				}
			}
			requireState(t, p, progress.State{
				Storing:   progress.IsSuccess,
				Deploying: progress.IsSuccess,
				Indexing:  progress.IsError,
			})
		})
	}
}

func TestPayloadShaping(t *testing.T) {
	storage := &fakeStorage{save: func(_ context.Context, document round.Document) (string, error) {
		switch document.Name {
		case round.DocumentRoundMetadata:
			return "bafmetadata", nil
		case round.DocumentApplicationSchema:
			return "bafschema", nil
		}
		return "", fmt.Errorf("unexpected document %q", document.Name)
	}}
	deployer := &fakeDeployer{deploy: deploysAt(10)}
	p := newTestPipeline(t, storage, deployer, &fakeIndexer{wait: indexEchoes()})

	if err := finish(t, startRun(t, p)); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	deployed := deployer.rounds[0]
	if deployed.Store == nil || *deployed.Store != (round.Pointer{Protocol: 1, Pointer: "bafmetadata"}) {
		t.Errorf("store = %+v, want {protocol:1 pointer:bafmetadata}", deployed.Store)
	}
	if deployed.ApplicationStore == nil || *deployed.ApplicationStore != (round.Pointer{Protocol: 1, Pointer: "bafschema"}) {
		t.Errorf("applicationStore = %+v, want {protocol:1 pointer:bafschema}", deployed.ApplicationStore)
	}
	if deployed.OwnedBy != programAddress || deployed.Token != tokenAddress {
		t.Errorf("deployed round lost input fields: %+v", deployed)
	}
}

func TestSamePointerForBothDocuments(t *testing.T) {
	storage := &fakeStorage{save: savesAs("bafabcdef")}
	deployer := &fakeDeployer{deploy: deploysAt(10)}
	p := newTestPipeline(t, storage, deployer, &fakeIndexer{wait: indexEchoes()})

	finish(t, startRun(t, p))

	want := round.Pointer{Protocol: 1, Pointer: "bafabcdef"}
	deployed := deployer.rounds[0]
	if *deployed.Store != want || *deployed.ApplicationStore != want {
		t.Fatalf("pointers = %+v / %+v, want both %+v", deployed.Store, deployed.ApplicationStore, want)
	}
}

func TestSignerForwarded(t *testing.T) {
	deployer := &fakeDeployer{deploy: deploysAt(10)}
	p := newTestPipeline(t, &fakeStorage{save: savesAs("baf")}, deployer, &fakeIndexer{wait: indexEchoes()})

	finish(t, startRun(t, p))

	if len(deployer.signers) != 1 || deployer.signers[0] != (fakeSigner{}) {
		t.Fatalf("deployer received signers %v", deployer.signers)
	}
}

func TestEndToEndSuccess(t *testing.T) {
	storage := &fakeStorage{save: savesAs("bafabcdef")}
	deployer := &fakeDeployer{deploy: deploysAt(10)}
	indexer := &fakeIndexer{wait: indexesTo(10)}
	p := newTestPipeline(t, storage, deployer, indexer)

	if err := finish(t, startRun(t, p)); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	requireState(t, p, allSucceeded)
	if p.Phase() != PhaseDone {
		t.Errorf("Phase() = %s, want done", p.Phase())
	}
	if storage.callCount() != 2 || deployer.callCount() != 1 || indexer.callCount() != 1 {
		t.Errorf("calls: storage=%d deploy=%d index=%d, want 2/1/1",
			storage.callCount(), deployer.callCount(), indexer.callCount())
	}
	if indexer.blocks[0] != 10 {
		t.Errorf("indexer asked for block %d, want 10", indexer.blocks[0])
	}
}

func TestEndToEndIndexerFailure(t *testing.T) {
	storage := &fakeStorage{save: savesAs("asdf")}
	deployer := &fakeDeployer{deploy: deploysAt(100)}
	indexer := &fakeIndexer{wait: indexFails(errors.New(":("))}
	p := newTestPipeline(t, storage, deployer, indexer)

	err := finish(t, startRun(t, p))
	if !errors.Is(err, ErrIndexSyncFailed) {
		t.Fatalf("err = %v, want ErrIndexSyncFailed", err)
	}
	requireState(t, p, progress.State{
		Storing:   progress.IsSuccess,
		Deploying: progress.IsSuccess,
		Indexing:  progress.IsError,
	})
	if indexer.blocks[0] != 100 {
		t.Errorf("indexer asked for block %d, want 100", indexer.blocks[0])
	}
}

func TestRetryClearsError(t *testing.T) {
	tests := []struct {
		name  string
		stage progress.Stage
		// build returns collaborators whose first call of the failing
		// stage rejects and whose second call blocks on the gate.
		build func(g *gate) (*fakeStorage, *fakeDeployer, *fakeIndexer)
	}{
		{
			name:  "storage",
			stage: progress.StageStorage,
			build: func(g *gate) (*fakeStorage, *fakeDeployer, *fakeIndexer) {
				var calls int
				var mu sync.Mutex
				storage := &fakeStorage{save: func(ctx context.Context, _ round.Document) (string, error) {
					mu.Lock()
					calls++
					first := calls <= 2
					mu.Unlock()
					if first {
						return "", errors.New(":(")
					}
					g.wait(ctx)
					return "baf", nil
				}}
				return storage, &fakeDeployer{deploy: deploysAt(1)}, &fakeIndexer{wait: indexEchoes()}
			},
		},
		{
			name:  "deployment",
			stage: progress.StageDeployment,
			build: func(g *gate) (*fakeStorage, *fakeDeployer, *fakeIndexer) {
				var calls int
				deployer := &fakeDeployer{deploy: func(ctx context.Context, _ round.Round) (round.Deployment, error) {
					calls++
					if calls == 1 {
						return round.Deployment{}, errors.New(":(")
					}
					g.wait(ctx)
					return round.Deployment{TransactionBlockNumber: round.BlockNumber(1)}, nil
				}}
				return &fakeStorage{save: savesAs("asdf")}, deployer, &fakeIndexer{wait: indexEchoes()}
			},
		},
		{
			name:  "indexing",
			stage: progress.StageIndexing,
			build: func(g *gate) (*fakeStorage, *fakeDeployer, *fakeIndexer) {
				var calls int
				indexer := &fakeIndexer{wait: func(ctx context.Context, block uint64) (uint64, error) {
					calls++
					if calls == 1 {
						return 0, errors.New(":(")
					}
					g.wait(ctx)
					return block, nil
				}}
				return &fakeStorage{save: savesAs("asdf")}, &fakeDeployer{deploy: deploysAt(100)}, indexer
			},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			blocked := newGate(t)
			storage, deployer, indexer := test.build(blocked)
			p := newTestPipeline(t, storage, deployer, indexer)

			if err := finish(t, startRun(t, p)); err == nil {
				t.Fatal("first run succeeded, want failure")
			}
			if got := p.Status(test.stage); got != progress.IsError {
				t.Fatalf("%s after first run = %s, want IS_ERROR", test.stage, got)
			}

			var sequence []progress.Status
			var mu sync.Mutex
			p.Subscribe(func(change progress.Change) {
				if change.Stage == test.stage {
					mu.Lock()
					sequence = append(sequence, change.Current)
					mu.Unlock()
				}
			})

			run := startRun(t, p)
			// Read immediately: the old error must already be gone.
			if got := p.Status(test.stage); got == progress.IsError {
				t.Fatalf("%s still IS_ERROR immediately after retry", test.stage)
			}
			for _, stage := range progress.Stages {
				if got := p.Status(stage); got.Terminal() && stage >= test.stage {
					t.Errorf("%s = %s right after retry, want non-terminal", stage, got)
				}
			}

			blocked.awaitEntry(t, "retried stage")
			if got := p.Status(test.stage); got != progress.InProgress {
				t.Errorf("%s during retry = %s, want IN_PROGRESS", test.stage, got)
			}

			blocked.open()
			if err := finish(t, run); err != nil {
				t.Fatalf("retry failed: %v", err)
			}
			requireState(t, p, allSucceeded)

			mu.Lock()
			defer mu.Unlock()
			want := []progress.Status{progress.NotStarted, progress.InProgress, progress.IsSuccess}
			if !slices.Equal(sequence, want) {
				t.Errorf("%s sequence across retry = %v, want %v", test.stage, sequence, want)
			}
		})
	}
}

func TestRetryRestartsFromStorage(t *testing.T) {
	var deployCalls int
	storage := &fakeStorage{save: savesAs("asdf")}
	deployer := &fakeDeployer{deploy: func(context.Context, round.Round) (round.Deployment, error) {
		deployCalls++
		if deployCalls == 1 {
			return round.Deployment{}, errors.New("nonce too low")
		}
		return round.Deployment{TransactionBlockNumber: round.BlockNumber(7)}, nil
	}}
	p := newTestPipeline(t, storage, deployer, &fakeIndexer{wait: indexEchoes()})

	finish(t, startRun(t, p))
	if err := finish(t, startRun(t, p)); err != nil {
		t.Fatalf("retry failed: %v", err)
	}

	if storage.callCount() != 4 {
		t.Errorf("storage called %d times across two runs, want 4 (restart, not resume)", storage.callCount())
	}
	requireState(t, p, allSucceeded)
}

func TestStartWhileRunningIsRejected(t *testing.T) {
	blocked := newGate(t)
	storage := &fakeStorage{save: savesAs("bafabcdef")}
	deployer := &fakeDeployer{deploy: func(ctx context.Context, _ round.Round) (round.Deployment, error) {
		blocked.wait(ctx)
		return round.Deployment{TransactionBlockNumber: round.BlockNumber(10)}, nil
	}}
	p := newTestPipeline(t, storage, deployer, &fakeIndexer{wait: indexEchoes()})

	run := startRun(t, p)
	blocked.awaitEntry(t, "deploy")

	before := p.State()
	second, err := p.Start(context.Background(), testInput(), fakeSigner{})
	if !errors.Is(err, ErrPipelineBusy) || second != nil {
		t.Fatalf("second Start = %v, %v; want nil, ErrPipelineBusy", second, err)
	}
	if got := p.State(); got != before {
		t.Errorf("rejected Start changed state from %+v to %+v", before, got)
	}

	blocked.open()
	if err := finish(t, run); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if storage.callCount() != 2 {
		t.Errorf("storage called %d times, want 2", storage.callCount())
	}

	// Once settled the pipeline accepts a new run.
	if err := finish(t, startRun(t, p)); err != nil {
		t.Fatalf("run after settle failed: %v", err)
	}
}

func TestRunStateSurvivesNextStart(t *testing.T) {
	var (
		mu    sync.Mutex
		saves int
	)
	blocked := newGate(t)
	storage := &fakeStorage{save: func(ctx context.Context, _ round.Document) (string, error) {
		mu.Lock()
		saves++
		retry := saves > 2
		mu.Unlock()
		if retry {
			blocked.wait(ctx)
		}
		return "bafabcdef", nil
	}}
	p := newTestPipeline(t, storage, &fakeDeployer{deploy: deployFails(errors.New("nonce too low"))}, &fakeIndexer{wait: indexEchoes()})

	first := startRun(t, p)
	if err := finish(t, first); !errors.Is(err, ErrDeploymentFailed) {
		t.Fatalf("first run = %v, want ErrDeploymentFailed", err)
	}

	// Starting from the Done waiter is accepted straight away.
	second := startRun(t, p)
	blocked.awaitEntry(t, "second run's save")
	requireState(t, p, progress.State{Storing: progress.InProgress})

	want := progress.State{Storing: progress.IsSuccess, Deploying: progress.IsError}
	if got := first.State(); got != want {
		t.Errorf("first.State() = %+v, want %+v", got, want)
	}
	if got := second.State(); got != allNotStarted {
		t.Errorf("State() of an in-flight run = %+v, want zero", got)
	}

	blocked.open()
	finish(t, second)
}

func TestResetNotifiedBeforeStartReturns(t *testing.T) {
	blocked := newGate(t)
	var failed bool
	storage := &fakeStorage{save: func(ctx context.Context, _ round.Document) (string, error) {
		if !failed {
			return "", errors.New(":(")
		}
		blocked.wait(ctx)
		return "baf", nil
	}}
	p := newTestPipeline(t, storage, &fakeDeployer{deploy: deploysAt(1)}, &fakeIndexer{wait: indexEchoes()})
	finish(t, startRun(t, p))
	failed = true

	var (
		mu      sync.Mutex
		changes []progress.Change
	)
	cancel := p.Subscribe(func(change progress.Change) {
		mu.Lock()
		changes = append(changes, change)
		mu.Unlock()
	})
	defer cancel()

	run := startRun(t, p)
	mu.Lock()
	sawReset := slices.ContainsFunc(changes, func(change progress.Change) bool {
		return change.Stage == progress.StageStorage &&
			change.Previous == progress.IsError &&
			change.Current == progress.NotStarted
	})
	mu.Unlock()
	if !sawReset {
		t.Error("observer had not seen the storage reset when Start returned")
	}

	blocked.open()
	finish(t, run)
}

func TestInvalidInputRejectedWithoutSideEffects(t *testing.T) {
	storage := &fakeStorage{save: saveFails(errors.New(":("))}
	p := newTestPipeline(t, storage, &fakeDeployer{deploy: deploysAt(1)}, &fakeIndexer{wait: indexEchoes()})

	finish(t, startRun(t, p))
	requireState(t, p, progress.State{Storing: progress.IsError})

	input := testInput()
	input.RoundMetadata.Name = ""
	_, err := p.Start(context.Background(), input, fakeSigner{})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("Start(invalid) = %v, want ErrInvalidInput", err)
	}
	if !strings.Contains(err.Error(), "roundMetadata.name") {
		t.Errorf("error %q does not list the issue", err)
	}
	requireState(t, p, progress.State{Storing: progress.IsError})
	if storage.callCount() != 2 {
		t.Errorf("storage called %d times, want 2 (only the first run)", storage.callCount())
	}
}

func TestPublishWaitsForCompletion(t *testing.T) {
	p := newTestPipeline(t,
		&fakeStorage{save: savesAs("bafabcdef")},
		&fakeDeployer{deploy: deploysAt(10)},
		&fakeIndexer{wait: indexesTo(10)},
	)
	if err := p.Publish(context.Background(), testInput(), fakeSigner{}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	requireState(t, p, allSucceeded)
}

func TestContextForwardedToCollaborators(t *testing.T) {
	type contextKey struct{}
	ctx := context.WithValue(context.Background(), contextKey{}, "run-1")

	var seen []any
	var mu sync.Mutex
	record := func(ctx context.Context) {
		mu.Lock()
		seen = append(seen, ctx.Value(contextKey{}))
		mu.Unlock()
	}
	storage := &fakeStorage{save: func(ctx context.Context, _ round.Document) (string, error) {
		record(ctx)
		return "baf", nil
	}}
	deployer := &fakeDeployer{deploy: func(ctx context.Context, _ round.Round) (round.Deployment, error) {
		record(ctx)
		return round.Deployment{TransactionBlockNumber: round.BlockNumber(3)}, nil
	}}
	indexer := &fakeIndexer{wait: func(ctx context.Context, block uint64) (uint64, error) {
		record(ctx)
		return block, nil
	}}
	p := newTestPipeline(t, storage, deployer, indexer)

	if err := p.Publish(ctx, testInput(), fakeSigner{}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(seen) != 4 {
		t.Fatalf("recorded %d calls, want 4", len(seen))
	}
	for index, value := range seen {
		if value != "run-1" {
			t.Errorf("call %d saw context value %v", index, value)
		}
	}
}

func TestRunErrNilWhileInFlight(t *testing.T) {
	blocked := newGate(t)
	storage := &fakeStorage{save: func(ctx context.Context, _ round.Document) (string, error) {
		blocked.wait(ctx)
		return "", errors.New(":(")
	}}
	p := newTestPipeline(t, storage, &fakeDeployer{deploy: deploysAt(1)}, &fakeIndexer{wait: indexEchoes()})

	run := startRun(t, p)
	blocked.awaitEntry(t, "save")
	if err := run.Err(); err != nil {
		t.Fatalf("Err() while in flight = %v, want nil", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := run.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait(cancelled) = %v, want context.Canceled", err)
	}

	blocked.open()
	if err := finish(t, run); !errors.Is(err, ErrStorageFailed) {
		t.Fatalf("Err() after settle = %v, want ErrStorageFailed", err)
	}
}

func TestStageErrorMessage(t *testing.T) {
	err := &StageError{Stage: progress.StageDeployment, Kind: KindDeployment, Err: errors.New("reverted")}
	want := "deploying stage: deployment_failure: reverted"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}
