package runtime

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/sbl8/canlut/features"
	"github.com/sbl8/canlut/model"
)

// Result is the classification of one frame.
type Result struct {
	Index   int
	Frame   features.Frame
	Vector  model.FeatureVector
	Verdict Verdict
	Tally   Tally

	// Err is set when the frame could not be classified: extraction failed
	// or every tree abstained.
	Err error
}

// Summary aggregates the results of one Process call.
type Summary struct {
	Frames       int
	Skipped      int
	Unclassified int
	Verdicts     map[Verdict]int
}

// Stream classifies an ordered frame feed. It owns its History, so a stream
// must see the frames of one bus in arrival order.
type Stream struct {
	id      uuid.UUID
	engine  *Engine
	history *features.History
	log     *zap.Logger
}

// NewStream binds e to h under a fresh session id.
func NewStream(e *Engine, h *features.History) *Stream {
	id := uuid.New()
	return &Stream{
		id:      id,
		engine:  e,
		history: h,
		log:     e.log.With(zap.String("session", id.String())),
	}
}

// ID returns the session id used in log records.
func (s *Stream) ID() uuid.UUID {
	return s.id
}

// History returns the stream's per-identifier state.
func (s *Stream) History() *features.History {
	return s.history
}

// Process extracts and classifies frames in order on the calling goroutine,
// passing every result to sink. Frames with malformed identifiers and
// vectors without a verdict are reported through sink and counted, not
// returned as errors. An error from sink or ctx stops the feed.
func (s *Stream) Process(ctx context.Context, frames []features.Frame, sink func(Result) error) (Summary, error) {
	sum := Summary{Verdicts: make(map[Verdict]int)}
	for i, f := range frames {
		if err := ctx.Err(); err != nil {
			return sum, errors.Wrapf(err, "stopped at frame %d", i)
		}
		sum.Frames++
		r := Result{Index: i, Frame: f}

		vec, err := features.Extract(f, s.history)
		if err != nil {
			s.log.Warn("skipping frame", zap.Int("frame", i), zap.Error(err))
			sum.Skipped++
			r.Err = err
		} else {
			r.Vector = vec
			r.Verdict, r.Tally, r.Err = s.engine.Classify(ctx, vec)
			switch {
			case r.Err == nil:
				sum.Verdicts[r.Verdict]++
			case errors.Is(r.Err, model.ErrNoValidVotes):
				s.log.Debug("no verdict", zap.Int("frame", i), zap.Error(r.Err))
				sum.Unclassified++
			default:
				return sum, r.Err
			}
		}

		if sink != nil {
			if err := sink(r); err != nil {
				return sum, errors.Wrapf(err, "frame %d", i)
			}
		}
	}
	s.log.Debug("feed processed",
		zap.Int("frames", sum.Frames),
		zap.Int("skipped", sum.Skipped),
		zap.Int("unclassified", sum.Unclassified))
	return sum, nil
}
