package runtime

import (
	"context"
	goruntime "runtime"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sbl8/canlut/model"
)

// Engine classifies feature vectors against one forest, evaluating trees
// concurrently on a bounded pool.
type Engine struct {
	forest  *model.Forest
	trees   []*model.Tree
	opts    EngineOptions
	log     *zap.Logger
	metrics *Metrics

	mu    sync.RWMutex
	stats ExecutionStats
}

// EngineOptions configures engine behavior.
type EngineOptions struct {
	// Workers bounds the number of trees evaluated at once.
	Workers int

	Logger *zap.Logger

	// Registerer receives the engine metrics. Nil disables them.
	Registerer prometheus.Registerer

	EnableStats bool

	// Strict rejects a forest that fails Forest.Validate instead of letting
	// its damaged trees abstain.
	Strict bool
}

// ExecutionStats tracks classification counts and latency.
type ExecutionStats struct {
	TotalClassifications int64
	Unclassified         int64
	Abstentions          int64
	Verdicts             map[Verdict]int64
	AverageLatency       time.Duration
}

// DefaultEngineOptions provides one worker per CPU and statistics on.
func DefaultEngineOptions() EngineOptions {
	return EngineOptions{
		Workers:     goruntime.NumCPU(),
		EnableStats: true,
	}
}

// NewEngine prepares an engine for f.
func NewEngine(f *model.Forest, opts EngineOptions) (*Engine, error) {
	if f == nil || f.TreeCount() == 0 {
		return nil, errors.New("engine needs a forest with at least one tree")
	}
	if opts.Workers < 1 {
		return nil, errors.Errorf("invalid worker count %d", opts.Workers)
	}
	if opts.Strict {
		if err := f.Validate(); err != nil {
			return nil, errors.Wrap(err, "validating forest")
		}
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	var metrics *Metrics
	if opts.Registerer != nil {
		var err error
		if metrics, err = NewMetrics(opts.Registerer); err != nil {
			return nil, err
		}
	}

	e := &Engine{
		forest:  f,
		trees:   f.Trees(),
		opts:    opts,
		log:     log,
		metrics: metrics,
		stats:   ExecutionStats{Verdicts: make(map[Verdict]int64)},
	}
	log.Debug("engine ready",
		zap.Int("trees", f.TreeCount()),
		zap.Int("nodes", f.NodeCount()),
		zap.Int("workers", opts.Workers))
	return e, nil
}

// Forest returns the forest the engine evaluates.
func (e *Engine) Forest() *model.Forest {
	return e.forest
}

// Classify evaluates every tree for vec and returns the majority verdict.
// Tree failures are recorded in the tally; the call fails with
// ErrNoValidVotes only when every tree abstained, or with the context error
// when ctx ends before all trees ran.
func (e *Engine) Classify(ctx context.Context, vec model.FeatureVector) (Verdict, Tally, error) {
	start := time.Now()
	votes := make([]vote, len(e.trees))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for i, t := range e.trees {
		i, t := i, t
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			label, steps, err := TraverseTree(t, vec)
			votes[i] = vote{label: label, steps: steps, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Verdict(model.NoPrediction), Tally{}, errors.Wrap(err, "classification interrupted")
	}

	tally := tallyVotes(e.trees, votes)
	verdict, err := tally.Verdict()
	elapsed := time.Since(start)

	for _, f := range tally.Faults {
		e.log.Debug("tree abstained", zap.Int("tree", f.Tree), zap.Error(f.Err))
	}
	e.metrics.observe(verdict, tally, err, elapsed)
	if e.opts.EnableStats {
		e.updateStats(verdict, tally, err, elapsed)
	}
	return verdict, tally, err
}

// Stats returns a snapshot of the execution statistics.
func (e *Engine) Stats() ExecutionStats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stats := e.stats
	stats.Verdicts = make(map[Verdict]int64, len(e.stats.Verdicts))
	for v, n := range e.stats.Verdicts {
		stats.Verdicts[v] = n
	}
	return stats
}

// ResetStats clears the execution statistics.
func (e *Engine) ResetStats() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats = ExecutionStats{Verdicts: make(map[Verdict]int64)}
}

func (e *Engine) updateStats(verdict Verdict, tally Tally, err error, latency time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stats.TotalClassifications++
	e.stats.Abstentions += int64(len(tally.Faults))
	if err != nil {
		e.stats.Unclassified++
	} else {
		e.stats.Verdicts[verdict]++
	}

	// Running average
	n := e.stats.TotalClassifications
	e.stats.AverageLatency = time.Duration(
		(int64(e.stats.AverageLatency)*(n-1) + int64(latency)) / n)
}
