package genclient

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// batchChunkSize is the number of jobs grouped into one scheduling unit.
// It is independent of the concurrency limit: chunks are staggered to avoid
// bursting the backend's rate limiter, while the semaphore caps how many
// chunks run at once under steady load.
const batchChunkSize = 3

// BatchJob is one independent unit of work in a batch. Its position in the
// jobs slice is its ordinal: output ordering always matches input ordering
// regardless of completion order.
type BatchJob[T any] struct {
	// Key deduplicates results case-insensitively after the run; the
	// first occurrence wins. Empty keys are never deduplicated.
	Key string

	// Run performs the work. It receives the batch context and returns
	// the result plus the token usage it consumed.
	Run func(ctx context.Context) (T, TokenUsage, error)
}

// BatchResult is the per-job outcome. A failed job yields the zero value
// with zero usage and cost; the failure is only observable via logging.
type BatchResult[T any] struct {
	Data  T
	Usage TokenUsage
	Cost  CostBreakdown
}

// BatchOptions tunes one RunBatch call.
type BatchOptions struct {
	// Concurrency caps how many chunks execute at once. Values below 1
	// mean 1.
	Concurrency int

	// Stagger delays chunk i's start by i*Stagger, spreading submission
	// so bursts do not trip the backend's rate limiter.
	Stagger time.Duration

	// Model, when set, prices each job's usage through Pricing.
	Model string

	// Pricing defaults to the global table.
	Pricing *PricingTable

	// Logger records per-job failures. Nil disables logging.
	Logger *zap.Logger
}

// RunBatch executes independent jobs with bounded concurrency and
// per-chunk staggering, preserving input order in the output. It never
// fails as a whole: a job that errors (or panics) is isolated and yields an
// empty zero-usage result so sibling jobs keep their outcomes.
//
// Jobs receive the batch context but cancellation is not otherwise
// propagated; a job that never settles stalls its chunk.
func RunBatch[T any](ctx context.Context, jobs []BatchJob[T], opts BatchOptions) []BatchResult[T] {
	if len(jobs) == 0 {
		return nil
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	pricing := opts.Pricing
	if pricing == nil {
		pricing = GetPricingTable()
	}
	limit := opts.Concurrency
	if limit < 1 {
		limit = 1
	}

	results := make([]BatchResult[T], len(jobs))
	sem := semaphore.NewWeighted(int64(limit))
	var wg sync.WaitGroup

	for chunkStart := 0; chunkStart < len(jobs); chunkStart += batchChunkSize {
		chunkEnd := min(chunkStart+batchChunkSize, len(jobs))
		chunkIndex := chunkStart / batchChunkSize

		wg.Add(1)
		go func(start, end, index int) {
			defer wg.Done()

			time.Sleep(time.Duration(index) * opts.Stagger)
			// Acquire on a background context: batch-level cancellation
			// does not preempt scheduling, it reaches jobs through their
			// own ctx. Acquire on an uncancellable context cannot fail.
			_ = sem.Acquire(context.Background(), 1)
			defer sem.Release(1)

			for i := start; i < end; i++ {
				results[i] = runBatchJob(ctx, jobs[i], i, opts.Model, pricing, logger)
			}
		}(chunkStart, chunkEnd, chunkIndex)
	}
	wg.Wait()

	return dedupeResults(jobs, results)
}

// runBatchJob executes one job, converting any error or panic into an
// empty result.
func runBatchJob[T any](ctx context.Context, job BatchJob[T], ordinal int, model string, pricing *PricingTable, logger *zap.Logger) (result BatchResult[T]) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("batch job panicked",
				zap.Int("ordinal", ordinal), zap.Any("panic", r))
			result = BatchResult[T]{}
		}
	}()

	data, usage, err := job.Run(ctx)
	if err != nil {
		logger.Warn("batch job failed",
			zap.Int("ordinal", ordinal), zap.Error(err))
		return BatchResult[T]{}
	}
	result = BatchResult[T]{Data: data, Usage: usage}
	if model != "" {
		result.Cost = pricing.Cost(model, usage)
	}
	return result
}

// dedupeResults drops results whose job key case-insensitively repeats an
// earlier one, keeping the first occurrence.
func dedupeResults[T any](jobs []BatchJob[T], results []BatchResult[T]) []BatchResult[T] {
	seen := make(map[string]bool, len(jobs))
	out := results[:0:0]
	for i, job := range jobs {
		if job.Key != "" {
			k := strings.ToLower(strings.TrimSpace(job.Key))
			if seen[k] {
				continue
			}
			seen[k] = true
		}
		out = append(out, results[i])
	}
	return out
}

// BatchTotals sums usage and cost across batch results, useful for
// reporting one aggregate figure per orchestration run.
func BatchTotals[T any](results []BatchResult[T]) (TokenUsage, CostBreakdown) {
	var usage TokenUsage
	var cost CostBreakdown
	for _, r := range results {
		usage.InputTokens += r.Usage.InputTokens
		usage.OutputTokens += r.Usage.OutputTokens
		usage.TotalTokens += r.Usage.TotalTokens
		cost.InputCost += r.Cost.InputCost
		cost.OutputCost += r.Cost.OutputCost
		cost.TotalCost += r.Cost.TotalCost
	}
	return usage, cost
}
