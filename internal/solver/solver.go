// Package solver classifies the images of one challenge request against the
// model its prompt names.
package solver

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/Brownie44l1/challenge-api/internal/artifact"
	"github.com/Brownie44l1/challenge-api/internal/challenge"
	"github.com/Brownie44l1/challenge-api/internal/model"
	"github.com/Brownie44l1/challenge-api/internal/prompt"
)

// State is the phase a request is in.
type State string

const (
	NormalizingPrompt State = "normalizing_prompt"
	ResolvingModel    State = "resolving_model"
	Dispatching       State = "dispatching"
	Aggregating       State = "aggregating"
	Done              State = "done"
)

const DefaultMaxConcurrency = 16

type Artifacts interface {
	Lookup(ctx context.Context, label challenge.Key) (*artifact.Artifact, error)
}

type Sessions interface {
	Acquire(ctx context.Context, a *artifact.Artifact) (*model.Session, error)
}

type Images interface {
	Download(ctx context.Context, id string) ([]byte, error)
	Decode(id string, data []byte) ([]float32, error)
}

type Config struct {
	Artifacts Artifacts
	Sessions  Sessions
	Images    Images
	// MaxConcurrency bounds in-flight image tasks per request.
	MaxConcurrency int
	// InferenceWorkers bounds concurrent decode+inference across requests;
	// zero means runtime.NumCPU().
	InferenceWorkers int
	// Timeout bounds a whole request; zero means none.
	Timeout time.Duration
	Logger  *zap.Logger
}

type Solver struct {
	cfg    Config
	cpu    *semaphore.Weighted
	logger *zap.Logger
}

func New(cfg Config) *Solver {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	workers := cfg.InferenceWorkers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Solver{
		cfg:    cfg,
		cpu:    semaphore.NewWeighted(int64(workers)),
		logger: logger,
	}
}

type outcome struct {
	positive bool
	err      error
}

// Solve classifies every image in req. Prompt and model failures fail the
// whole request; anything that goes wrong with one image is recorded against
// that image only.
func (s *Solver) Solve(ctx context.Context, req challenge.Request) (*challenge.Result, error) {
	logger := s.logger.With(zap.String("requestID", uuid.NewString()))
	start := time.Now()
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	logger.Debug("state", zap.String("state", string(NormalizingPrompt)))
	label, err := prompt.Normalize(req.Prompt)
	if err != nil {
		logger.Info("rejected prompt", zap.String("prompt", req.Prompt))
		return nil, err
	}
	logger = logger.With(zap.String("label", string(label)))

	logger.Debug("state", zap.String("state", string(ResolvingModel)))
	a, err := s.cfg.Artifacts.Lookup(ctx, label)
	if err != nil {
		logger.Info("failed to resolve model", zap.Error(err))
		return nil, err
	}
	session, err := s.cfg.Sessions.Acquire(ctx, a)
	if err != nil {
		logger.Warn("failed to load model", zap.String("key", string(a.Key)), zap.Error(err))
		return nil, err
	}
	defer session.Release()

	logger.Debug("state", zap.String("state", string(Dispatching)))
	ids := unique(req.Images)
	outcomes := s.dispatch(ctx, session, ids)

	logger.Debug("state", zap.String("state", string(Aggregating)))
	result := challenge.NewResult()
	for i, id := range ids {
		o := outcomes[i]
		switch {
		case o.err != nil:
			result.Errors[id] = o.err.Error()
			logger.Debug("image failed", zap.String("image", id), zap.Error(o.err))
		case o.positive:
			result.Trues = append(result.Trues, id)
		}
	}

	logger.Info("solved",
		zap.String("key", string(a.Key)),
		zap.Int("images", len(ids)),
		zap.Int("trues", len(result.Trues)),
		zap.Int("errors", len(result.Errors)),
		zap.Duration("took", time.Since(start)))
	logger.Debug("state", zap.String("state", string(Done)))
	return result, nil
}

// dispatch runs one task per id against session and waits for all of them.
// Every task holds its own session reference until it returns.
func (s *Solver) dispatch(ctx context.Context, session *model.Session, ids []string) []outcome {
	outcomes := make([]outcome, len(ids))
	g := new(errgroup.Group)
	g.SetLimit(s.cfg.MaxConcurrency)
	for i, id := range ids {
		if !session.Acquire() {
			outcomes[i] = outcome{err: challenge.InferenceFailure(model.ErrSessionReleased)}
			continue
		}
		g.Go(func() error {
			defer session.Release()
			defer func() {
				if r := recover(); r != nil {
					outcomes[i] = outcome{err: fmt.Errorf("classifying image panicked: %v", r)}
				}
			}()
			positive, err := s.classify(ctx, session, id)
			outcomes[i] = outcome{positive: positive, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (s *Solver) classify(ctx context.Context, session *model.Session, id string) (bool, error) {
	data, err := s.cfg.Images.Download(ctx, id)
	if err != nil {
		return false, err
	}
	if err := s.cpu.Acquire(ctx, 1); err != nil {
		return false, fmt.Errorf("waiting for inference slot: %w", err)
	}
	defer s.cpu.Release(1)

	tensor, err := s.cfg.Images.Decode(id, data)
	if err != nil {
		return false, err
	}
	return session.Classify(tensor)
}

func unique(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
