package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"

	"google.golang.org/genai"

	"github.com/finlens-poc/server/internal/analysis/model"
	"github.com/finlens-poc/server/internal/analysis/pricing"
	errx "github.com/finlens-poc/server/internal/core/error"
	logx "github.com/finlens-poc/server/pkg/logger"
)

// Source is a chunked generation response. Both live SDK streams and
// already-materialized responses satisfy it (see FromChunks).
type Source = iter.Seq2[*genai.GenerateContentResponse, error]

// Sink receives one complete NDJSON line per update. A sink error (typically
// a disconnected client) aborts the drain.
type Sink func(line []byte) error

// FromChunks adapts an in-memory response to a Source, so non-streaming calls
// reuse the same accumulation path.
func FromChunks(chunks ...*genai.GenerateContentResponse) Source {
	return func(yield func(*genai.GenerateContentResponse, error) bool) {
		for _, c := range chunks {
			if !yield(c, nil) {
				return
			}
		}
	}
}

// Accumulator drains a chunked response into a monotonically growing fragment
// sequence, emitting the full sequence after every update and closing with a
// cost summary when token usage was reported.
type Accumulator struct {
	normalizer *Normalizer

	// storageApproxMins sizes the fixed-duration storage cost component added
	// to each cost summary. Zero leaves storage out entirely; deployments with
	// an explicit cache lease may still keep it for comparability.
	storageApproxMins int
}

func NewAccumulator(normalizer *Normalizer, storageApproxMins int) *Accumulator {
	return &Accumulator{
		normalizer:        normalizer,
		storageApproxMins: storageApproxMins,
	}
}

// Drain consumes src until exhaustion, writing one snapshot line to sink per
// produced fragment. Adjacent text-only fragments are merged, so the sequence
// only ever grows at the tail. Upstream errors abort the drain; already
// written lines stand, and the client recognizes the truncation by the absent
// terminal cost fragment.
func (a *Accumulator) Drain(ctx context.Context, src Source, modelName string, sink Sink) error {
	var (
		parts []model.Fragment
		usage *genai.GenerateContentResponseUsageMetadata
	)

	for chunk, err := range src {
		if err != nil {
			return errx.WrapUpstream(err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if chunk == nil {
			continue
		}

		// Usage metadata is cumulative; the last chunk's counts win.
		if chunk.UsageMetadata != nil {
			usage = chunk.UsageMetadata
		}

		if len(chunk.Candidates) == 0 || chunk.Candidates[0].Content == nil {
			continue
		}

		for _, part := range chunk.Candidates[0].Content.Parts {
			if part == nil {
				continue
			}
			frag := a.normalizer.Part(ctx, part)
			if frag.IsEmpty() {
				continue
			}

			if isTextOnly(frag) && len(parts) > 0 && isTextOnly(parts[len(parts)-1]) {
				parts[len(parts)-1].Text += frag.Text
			} else {
				parts = append(parts, frag)
			}

			if err := emit(parts, sink); err != nil {
				return err
			}
		}
	}

	if usage == nil {
		logx.Warn().Str("model", modelName).Msg("no usage metadata found in streaming response")
		return nil
	}

	cost := pricing.CalculateInteractionCost(usage, modelName)
	if a.storageApproxMins > 0 {
		pricing.ApplyStorageCost(cost, float64(a.storageApproxMins), modelName)
	}
	parts = append(parts, model.Fragment{CostData: cost})

	return emit(parts, sink)
}

func isTextOnly(f model.Fragment) bool {
	return f.Text != "" &&
		f.ExecutableCode == nil &&
		f.CodeExecutionResult == nil &&
		f.InlineData == nil &&
		f.FileData == nil &&
		f.CostData == nil
}

func emit(parts []model.Fragment, sink Sink) error {
	line, err := json.Marshal(parts)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return sink(append(line, '\n'))
}
