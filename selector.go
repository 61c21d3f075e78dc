package genclient

import (
	"context"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultNearDuplicateThreshold is the cosine-similarity score above which
// a winning candidate is treated as semantically identical to the baseline
// and flagged for manual review. The value is a tuned heuristic with no
// closed-form derivation; override it per selector when a caller has better
// evidence.
const DefaultNearDuplicateThreshold = 0.995

// CandidateOption is one AI-generated replacement candidate. Score is
// populated by the selector.
type CandidateOption struct {
	Text   string  `json:"text"`
	Reason string  `json:"reason,omitempty"`
	Score  float64 `json:"score,omitempty"`
}

// Selection is the outcome of picking a replacement for a baseline string.
type Selection struct {
	// Text is the chosen replacement, or the baseline itself when no safe
	// pick exists.
	Text string

	// Candidates echoes the input candidates with scores filled in, in
	// first-seen order.
	Candidates []CandidateOption

	// NeedsManual is set when no candidate survived filtering, or the
	// winner scored above the near-duplicate threshold and a human should
	// confirm the change is meaningful.
	NeedsManual bool
}

// Embedder is the slice of EmbeddingClient the selector needs; tests
// substitute fixed vectors.
type Embedder interface {
	Embed(ctx context.Context, req *EmbedRequest) ([][]float64, error)
}

// Selector picks the best candidate string for a baseline by embedding
// similarity. It embeds the baseline and every candidate in one batched
// call, scores candidates by cosine similarity to the baseline, and refuses
// to "select" a no-op (a candidate equal to the baseline).
type Selector struct {
	embedder  Embedder
	model     string
	taskType  string
	threshold float64
	logger    *zap.Logger
}

// SelectorOption configures a Selector.
type SelectorOption func(*Selector)

// WithNearDuplicateThreshold overrides DefaultNearDuplicateThreshold.
func WithNearDuplicateThreshold(t float64) SelectorOption {
	return func(s *Selector) { s.threshold = t }
}

// WithTaskType sets the embedding task type hint.
func WithTaskType(taskType string) SelectorOption {
	return func(s *Selector) { s.taskType = taskType }
}

// WithSelectorLogger attaches a structured logger.
func WithSelectorLogger(logger *zap.Logger) SelectorOption {
	return func(s *Selector) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSelector constructs a Selector embedding with the given model.
func NewSelector(embedder Embedder, model string, opts ...SelectorOption) *Selector {
	s := &Selector{
		embedder:  embedder,
		model:     model,
		taskType:  "SEMANTIC_SIMILARITY",
		threshold: DefaultNearDuplicateThreshold,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Pick scores candidates against the baseline and returns the winner.
//
// Candidates whose text case-insensitively equals the baseline are
// discarded. Among the rest the highest score wins, ties broken by
// first-seen order. With no survivors the baseline comes back with
// NeedsManual set; a winner scoring above the near-duplicate threshold also
// sets NeedsManual, since a score that high means the "different" option is
// semantically the same string.
func (s *Selector) Pick(ctx context.Context, baseline string, candidates []CandidateOption) (Selection, error) {
	if len(candidates) == 0 {
		return Selection{Text: baseline, NeedsManual: true}, nil
	}

	texts := make([]string, 0, len(candidates)+1)
	texts = append(texts, baseline)
	for _, c := range candidates {
		texts = append(texts, c.Text)
	}

	vectors, err := s.embedder.Embed(ctx, &EmbedRequest{
		Texts:    texts,
		Model:    s.model,
		TaskType: s.taskType,
	})
	if err != nil {
		return Selection{}, err
	}
	if len(vectors) < len(texts) {
		return Selection{}, &EmbeddingShapeError{Detail: "fewer vectors than input texts"}
	}

	scored := make([]CandidateOption, len(candidates))
	baseVec := vectors[0]
	for i, c := range candidates {
		c.Score = CosineSimilarity(baseVec, vectors[i+1])
		scored[i] = c
	}

	winnerIdx := -1
	for i, c := range scored {
		if strings.EqualFold(strings.TrimSpace(c.Text), strings.TrimSpace(baseline)) {
			continue
		}
		if winnerIdx < 0 || c.Score > scored[winnerIdx].Score {
			winnerIdx = i
		}
	}

	if winnerIdx < 0 {
		s.logger.Debug("no candidate survived baseline filtering",
			zap.String("baseline", baseline))
		return Selection{Text: baseline, Candidates: scored, NeedsManual: true}, nil
	}

	winner := scored[winnerIdx]
	needsManual := winner.Score > s.threshold
	if needsManual {
		s.logger.Debug("winner is a near-duplicate of the baseline",
			zap.String("winner", winner.Text),
			zap.Float64("score", winner.Score))
	}
	return Selection{Text: winner.Text, Candidates: scored, NeedsManual: needsManual}, nil
}

// PickRequest pairs one baseline with its candidates for batch selection.
type PickRequest struct {
	Baseline   string
	Candidates []CandidateOption
}

// PickAll runs many selections through the concurrency batcher. A failed
// pick degrades to its baseline with NeedsManual set instead of failing the
// batch; output order matches input order.
func (s *Selector) PickAll(ctx context.Context, reqs []PickRequest, concurrency int, stagger time.Duration) []Selection {
	jobs := make([]BatchJob[Selection], len(reqs))
	for i, req := range reqs {
		jobs[i] = BatchJob[Selection]{
			Run: func(ctx context.Context) (Selection, TokenUsage, error) {
				sel, err := s.Pick(ctx, req.Baseline, req.Candidates)
				if err != nil {
					s.logger.Warn("selection failed, keeping baseline",
						zap.String("baseline", req.Baseline), zap.Error(err))
					return Selection{Text: req.Baseline, NeedsManual: true}, TokenUsage{}, nil
				}
				return sel, TokenUsage{}, nil
			},
		}
	}

	results := RunBatch(ctx, jobs, BatchOptions{
		Concurrency: concurrency,
		Stagger:     stagger,
		Logger:      s.logger,
	})
	out := make([]Selection, len(results))
	for i, r := range results {
		out[i] = r.Data
	}
	return out
}

// CosineSimilarity returns the normalized dot product of two vectors, or 0
// when either vector is empty or has zero magnitude.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	n := min(len(a), len(b))
	var dot, magA, magB float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
	}
	for _, v := range a {
		magA += v * v
	}
	for _, v := range b {
		magB += v * v
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
