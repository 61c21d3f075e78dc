package genclient

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// Response shapes drift across backend versions: some wrap the payload in a
// {data: ...} envelope, some nest candidates and usage one level deeper
// under "response". The normalizer checks every shape observed in the wild,
// in a fixed priority order. None of the fallback depths should be removed
// without confirming the corresponding backend version is gone.

// candidate/usage locations, shallowest first.
var (
	candidatePaths = []string{"candidates", "response.candidates"}
	usagePaths     = []string{"usageMetadata", "usage", "totalUsage",
		"response.usageMetadata", "response.usage"}
	textPaths = []string{"text", "response.text"}
)

// NormalizeResponse reconciles a raw response body, JSON or plain text,
// into a canonical GenerateResult.
//
// A defined "object" field on the envelope is the structured-response fast
// path and takes priority over text extraction. Otherwise text is pulled
// from the first of: an explicit text field (at either envelope depth), the
// concatenated candidate content parts, or the body itself when it is a
// bare JSON string. Text that itself contains an embedded event-stream
// payload is re-decoded through the stream block parser, overriding the
// outer result only where it was not already set.
func NormalizeResponse(body []byte) GenerateResult {
	if !gjson.ValidBytes(body) {
		return applyEmbeddedStream(GenerateResult{Text: strings.TrimSpace(string(body))})
	}

	root := gjson.ParseBytes(body)
	envelope := root
	if data := root.Get("data"); data.IsObject() {
		envelope = data
	}

	result := GenerateResult{
		Candidates:    locateCandidates(envelope, root),
		UsageMetadata: locateUsage(envelope, root),
	}

	// Structured/schema fast path.
	if obj := envelope.Get("object"); obj.Exists() {
		var decoded any
		if err := json.Unmarshal([]byte(obj.Raw), &decoded); err == nil {
			result.Object = decoded
		}
		if text := envelope.Get("text"); text.Type == gjson.String {
			result.Text = strings.TrimSpace(text.String())
		} else {
			result.Text = obj.Raw
		}
		return result
	}

	result.Text = strings.TrimSpace(extractText(envelope, root, result.Candidates))
	return applyEmbeddedStream(result)
}

func locateCandidates(envelope, root gjson.Result) []json.RawMessage {
	for _, scope := range []gjson.Result{envelope, root} {
		for _, path := range candidatePaths {
			if v := scope.Get(path); v.IsArray() {
				var out []json.RawMessage
				v.ForEach(func(_, c gjson.Result) bool {
					out = append(out, json.RawMessage(c.Raw))
					return true
				})
				return out
			}
		}
	}
	return nil
}

func locateUsage(envelope, root gjson.Result) json.RawMessage {
	for _, scope := range []gjson.Result{envelope, root} {
		for _, path := range usagePaths {
			if v := scope.Get(path); v.IsObject() {
				return json.RawMessage(v.Raw)
			}
		}
	}
	return nil
}

func extractText(envelope, root gjson.Result, candidates []json.RawMessage) string {
	for _, scope := range []gjson.Result{envelope, root} {
		for _, path := range textPaths {
			if v := scope.Get(path); v.Type == gjson.String && v.String() != "" {
				return v.String()
			}
		}
	}
	if text := candidateText(candidates); text != "" {
		return text
	}
	// A bare JSON string body is itself the text.
	if root.Type == gjson.String {
		return root.String()
	}
	return ""
}

// candidateText walks candidates[].content.parts[].text, concatenating the
// non-empty parts.
func candidateText(candidates []json.RawMessage) string {
	var sb strings.Builder
	for _, raw := range candidates {
		parts := gjson.GetBytes(raw, "content.parts")
		if !parts.IsArray() {
			continue
		}
		parts.ForEach(func(_, part gjson.Result) bool {
			if t := part.Get("text"); t.Type == gjson.String && t.String() != "" {
				sb.WriteString(t.String())
			}
			return true
		})
	}
	return sb.String()
}

// applyEmbeddedStream re-decodes result text that looks like an event-stream
// payload. Some backend versions tunnel SSE blocks inside a JSON text field;
// decoding them recovers the real text, object, and usage.
func applyEmbeddedStream(result GenerateResult) GenerateResult {
	if !strings.Contains(result.Text, "data:") {
		return result
	}
	dec := NewStreamDecoder(nil)
	dec.Feed([]byte(result.Text))
	decoded := dec.Finish()

	if decoded.Text != "" {
		result.Text = decoded.Text
	}
	if result.Object == nil {
		result.Object = decoded.Object
	}
	if result.UsageMetadata == nil {
		result.UsageMetadata = decoded.UsageMetadata
	}
	return result
}
