package genclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// StreamResult is the accumulated outcome of a decoded event stream.
type StreamResult struct {
	// Text is the concatenation of every text delta, trimmed.
	Text string

	// Object is the structured object, when the stream carried one.
	// Later "object" events replace earlier ones wholesale.
	Object any

	// UsageMetadata is the raw usage container captured from the stream,
	// exactly as sent. Nil when no event carried usage.
	UsageMetadata json.RawMessage
}

// StreamDecoder incrementally parses the backend's event-stream framing:
// blank-line-delimited blocks of "event:" and "data:" lines, each data
// payload a JSON object discriminated by a "type" (or "event"/"kind") field.
//
// The decoder is purely accumulating: feed it chunks at any boundary, then
// call Finish. Splitting the same stream at different byte boundaries yields
// an identical result. A malformed data payload never aborts decoding; the
// block is skipped and decoding continues.
//
// A StreamDecoder is single-use and not safe for concurrent use.
type StreamDecoder struct {
	logger *zap.Logger

	carry string // trailing "\r" held back so a chunk-split CRLF normalizes
	buf   string // normalized bytes not yet forming a complete block

	text   strings.Builder
	object any
	usage  json.RawMessage
}

// NewStreamDecoder returns a fresh decoder. A nil logger disables the
// debug-level skip logging.
func NewStreamDecoder(logger *zap.Logger) *StreamDecoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamDecoder{logger: logger}
}

// Feed consumes the next chunk of raw stream bytes, processing every
// complete block it closes over.
func (d *StreamDecoder) Feed(chunk []byte) {
	s := d.carry + string(chunk)
	d.carry = ""
	if strings.HasSuffix(s, "\r") {
		d.carry = "\r"
		s = s[:len(s)-1]
	}
	d.buf += strings.ReplaceAll(s, "\r\n", "\n")

	for {
		i := strings.Index(d.buf, "\n\n")
		if i < 0 {
			return
		}
		block := d.buf[:i]
		d.buf = d.buf[i+2:]
		d.processBlock(block)
	}
}

// Finish flushes any trailing block not terminated by a blank line and
// returns the accumulated result.
func (d *StreamDecoder) Finish() StreamResult {
	if rest := d.buf + d.carry; strings.TrimSpace(rest) != "" {
		d.processBlock(rest)
	}
	d.buf, d.carry = "", ""
	return d.result()
}

func (d *StreamDecoder) result() StreamResult {
	return StreamResult{
		Text:          strings.TrimSpace(d.text.String()),
		Object:        d.object,
		UsageMetadata: d.usage,
	}
}

// DecodeAll pulls the reader to completion through the decoder. On a read
// error the partial result decoded so far is returned alongside the error,
// so callers keep whatever text arrived before the failure.
func (d *StreamDecoder) DecodeAll(ctx context.Context, r io.Reader) (StreamResult, error) {
	buf := make([]byte, 4096)
	for {
		if err := ctx.Err(); err != nil {
			return d.Finish(), err
		}
		n, err := r.Read(buf)
		if n > 0 {
			d.Feed(buf[:n])
		}
		if err == io.EOF {
			return d.Finish(), nil
		}
		if err != nil {
			return d.Finish(), fmt.Errorf("genclient: stream read: %w", err)
		}
	}
}

// processBlock parses one blank-line-delimited block: comment lines are
// dropped, an "event:" line names the event, "data:" lines are collected
// and joined with newlines.
func (d *StreamDecoder) processBlock(block string) {
	var eventName string
	var dataLines []string

	for _, line := range strings.Split(block, "\n") {
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if v, ok := strings.CutPrefix(line, "event:"); ok {
			eventName = strings.TrimSpace(v)
			continue
		}
		if v, ok := strings.CutPrefix(line, "data:"); ok {
			dataLines = append(dataLines, strings.TrimPrefix(v, " "))
		}
	}

	payload := strings.Join(dataLines, "\n")
	if payload == "" || payload == doneSentinel {
		return
	}
	if !gjson.Valid(payload) {
		// A single malformed event must not abort a healthy stream.
		d.logger.Debug("skipping malformed stream block", zap.String("payload", payload))
		return
	}
	d.dispatch(eventName, gjson.Parse(payload))
}

// doneSentinel terminates the data stream without carrying a payload.
const doneSentinel = "[DONE]"

// dispatch routes one decoded event payload by its discriminator.
func (d *StreamDecoder) dispatch(eventName string, payload gjson.Result) {
	typ := firstString(payload, "type", "event", "kind")
	if typ == "" {
		typ = eventName
	}

	switch typ {
	case "text-delta":
		if delta := firstString(payload, "textDelta", "delta", "text"); delta != "" {
			d.text.WriteString(delta)
		}

	case "message":
		if text := messageText(payload); text != "" {
			d.text.WriteString(text)
		}
		d.captureUsage(payload, "message.metadata.totalUsage", "message.metadata.usage")

	case "object":
		if obj := payload.Get("object"); obj.Exists() {
			d.setObject(obj)
		}

	case "finish":
		d.captureUsage(payload,
			"message.metadata.totalUsage", "message.metadata.usage",
			"usage", "totalUsage")
		if obj := payload.Get("object"); obj.Exists() {
			d.setObject(obj)
		}

	default:
		// Minimal event shapes carry a bare text field and no type.
		if text := payload.Get("text"); text.Type == gjson.String {
			d.text.WriteString(text.String())
		}
	}
}

func (d *StreamDecoder) setObject(obj gjson.Result) {
	var decoded any
	if err := json.Unmarshal([]byte(obj.Raw), &decoded); err != nil {
		d.logger.Debug("skipping undecodable object event", zap.Error(err))
		return
	}
	d.object = decoded
}

// captureUsage records the first usage container found at the given paths,
// unless one was already captured earlier in the stream.
func (d *StreamDecoder) captureUsage(payload gjson.Result, paths ...string) {
	if d.usage != nil {
		return
	}
	for _, path := range paths {
		if v := payload.Get(path); v.IsObject() {
			d.usage = json.RawMessage(v.Raw)
			return
		}
	}
}

// messageText extracts text from a UI-message-shaped payload: a plain string
// content, or an array of parts each contributing its first of
// text/value/data.text.
func messageText(payload gjson.Result) string {
	msg := payload.Get("message")
	if !msg.Exists() {
		msg = payload
	}

	content := msg.Get("content")
	if content.Type == gjson.String {
		return content.String()
	}

	parts := msg.Get("parts")
	if !parts.IsArray() && content.IsArray() {
		parts = content
	}
	if !parts.IsArray() {
		return ""
	}

	var sb strings.Builder
	parts.ForEach(func(_, part gjson.Result) bool {
		if s := firstString(part, "text", "value", "data.text"); s != "" {
			sb.WriteString(s)
		}
		return true
	})
	return sb.String()
}

// firstString returns the first string value found at the given paths.
func firstString(payload gjson.Result, paths ...string) string {
	for _, path := range paths {
		if v := payload.Get(path); v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
	}
	return ""
}
