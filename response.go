package genclient

import "encoding/json"

// GenerateResult is the canonical outcome of one generation call,
// reconciled from either a plain JSON response or a decoded event stream.
// It is constructed once and never mutated afterwards.
type GenerateResult struct {
	// Text is the generated text, trimmed of surrounding whitespace.
	// For structured responses this is the serialized object unless the
	// backend supplied an explicit text field.
	Text string

	// Object is the decoded structured response, when the backend
	// returned one (schema-constrained generation or an "object" stream
	// event). Nil otherwise.
	Object any

	// UsageMetadata is the raw usage container exactly as the backend
	// sent it. Feed it to NormalizeUsage to get canonical token counts.
	UsageMetadata json.RawMessage

	// Candidates holds the raw candidate entries, when present. Most
	// callers only need Text; candidates are kept for callers that want
	// alternative generations or safety metadata.
	Candidates []json.RawMessage
}

// Usage normalizes the raw usage metadata carried by the result.
func (r *GenerateResult) Usage() TokenUsage {
	return NormalizeUsage(r.UsageMetadata)
}
