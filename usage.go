package genclient

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// TokenUsage is the canonical token accounting shape. Every provider usage
// payload, whatever its field names and nesting, normalizes into this.
type TokenUsage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
	TotalTokens  int `json:"totalTokens"`
}

// IsZero reports whether no usage signal was recovered at all.
func (u TokenUsage) IsZero() bool {
	return u.InputTokens == 0 && u.OutputTokens == 0 && u.TotalTokens == 0
}

// Ordered alias tables for the usage fields, tried first-to-last until one
// yields a numeric value. The lists are deliberately table-driven so the
// full alias surface stays auditable and testable in isolation.
var (
	// usageEnvelopePaths unwrap one layer of common envelope around the
	// actual usage container, checked in priority order.
	usageEnvelopePaths = []string{
		"totalUsage",
		"usage",
		"data.totalUsage",
		"data.usage",
		"metadata.totalUsage",
		"metadata.usage",
	}

	inputTokenPaths = []string{
		"inputTokens",
		"promptTokens",
		"prompt_tokens",
		"input_tokens",
		"promptTokenCount",
		"inputTokenCount",
		"tokens.input",
		"tokens.prompt",
	}

	outputTokenPaths = []string{
		"outputTokens",
		"completionTokens",
		"completion_tokens",
		"output_tokens",
		"candidatesTokenCount",
		"outputTokenCount",
		"tokens.output",
		"tokens.completion",
	}

	totalTokenPaths = []string{
		"totalTokens",
		"total_tokens",
		"totalTokenCount",
		"tokens.total",
	}
)

// NormalizeUsage reconciles a heterogeneous raw usage payload into canonical
// token counts. It unwraps at most one envelope layer, reads each field
// through its alias table, then reconciles inconsistencies:
//
//   - total absent: derived as input+output.
//   - total present, exactly one of input/output absent and the other not
//     exceeding total: the missing half is total minus the known half.
//   - total present, both halves absent: input is set to total, so a payload
//     carrying any numeric signal never normalizes to all zeros.
//
// An empty or non-object payload yields the zero value.
func NormalizeUsage(raw json.RawMessage) TokenUsage {
	if len(raw) == 0 || !gjson.ValidBytes(raw) {
		return TokenUsage{}
	}
	container := gjson.ParseBytes(raw)
	for _, path := range usageEnvelopePaths {
		if v := container.Get(path); v.IsObject() {
			container = v
			break
		}
	}

	input, hasInput := firstNumeric(container, inputTokenPaths)
	output, hasOutput := firstNumeric(container, outputTokenPaths)
	total, hasTotal := firstNumeric(container, totalTokenPaths)

	switch {
	case !hasTotal:
		total = input + output
	case !hasInput && hasOutput && output <= total:
		input = total - output
	case !hasOutput && hasInput && input <= total:
		output = total - input
	case !hasInput && !hasOutput:
		input = total
	}

	return TokenUsage{InputTokens: input, OutputTokens: output, TotalTokens: total}
}

// firstNumeric returns the first finite numeric value found at the given
// paths, in order.
func firstNumeric(container gjson.Result, paths []string) (int, bool) {
	for _, path := range paths {
		v := container.Get(path)
		if v.Type == gjson.Number {
			return int(v.Int()), true
		}
	}
	return 0, false
}
