// Package stream reconstructs complete assistant Turns from the ordered
// sequence of normalized events a backend adapter emits while streaming.
package stream

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelbridge-ai/modelbridge/internal/chat"
	"github.com/modelbridge-ai/modelbridge/pkg/metrics"
)

// TextFunc receives text deltas as they arrive, ahead of the completed Turn,
// for responsive rendering. Returning an error aborts the stream.
type TextFunc func(text string) error

// accumulation is the per-id buffer for a tool call between its start and
// end events.
type accumulation struct {
	name      string
	fragments strings.Builder
	implicit  bool
}

// Reassembler is a single-threaded cooperative consumer of StreamEvents. It
// keeps one accumulation buffer per open tool-call id and does not assume
// single-tool-at-a-time: multiple ids may accumulate concurrently when the
// upstream protocol interleaves them.
type Reassembler struct {
	onText func(string) error

	parts    []chat.Part
	pending  strings.Builder
	open     map[string]*accumulation
	closed   map[string]bool
	warnings []chat.Warning

	usage  *chat.Usage
	finish chat.FinishReason
	done   bool
}

// New creates a reassembler. onText may be nil when the caller does not need
// incremental text.
func New(onText TextFunc) *Reassembler {
	r := &Reassembler{
		open:   make(map[string]*accumulation),
		closed: make(map[string]bool),
	}
	if onText != nil {
		r.onText = onText
	}
	return r
}

// Apply consumes the next event. Events arriving after message_end are a
// protocol violation.
func (r *Reassembler) Apply(ev chat.StreamEvent) error {
	if r.done {
		return fmt.Errorf("stream: event %q after message end", ev.Kind)
	}
	metrics.StreamEvents.WithLabelValues(string(ev.Kind)).Inc()

	switch ev.Kind {
	case chat.EventTextDelta:
		r.pending.WriteString(ev.Text)
		if r.onText != nil {
			return r.onText(ev.Text)
		}
		return nil

	case chat.EventToolCallStart:
		if _, ok := r.open[ev.ID]; ok {
			return fmt.Errorf("stream: duplicate tool_call_start for id %q", ev.ID)
		}
		if r.closed[ev.ID] {
			return fmt.Errorf("stream: tool_call_start for finished id %q", ev.ID)
		}
		r.open[ev.ID] = &accumulation{name: ev.Name}
		return nil

	case chat.EventToolCallArgDelta:
		if r.closed[ev.ID] {
			return fmt.Errorf("stream: tool_call_arg_delta for finished id %q", ev.ID)
		}
		acc := r.ensureOpen(ev.ID)
		acc.fragments.WriteString(ev.ArgumentFragment)
		return nil

	case chat.EventToolCallEnd:
		if r.closed[ev.ID] {
			return fmt.Errorf("stream: tool_call_end for finished id %q", ev.ID)
		}
		acc := r.ensureOpen(ev.ID)
		r.closeCall(ev.ID, acc, false)
		return nil

	case chat.EventMessageEnd:
		// Any id that reached message end without tool_call_end is
		// force-closed with whatever was buffered.
		for id, acc := range r.open {
			r.warn(id, "tool call truncated: message ended before tool_call_end")
			r.closeCall(id, acc, true)
		}
		r.finish = ev.FinishReason
		if ev.Usage != nil {
			u := *ev.Usage
			r.usage = &u
		}
		r.done = true
		return nil

	default:
		return fmt.Errorf("stream: unknown event kind %q", ev.Kind)
	}
}

// ensureOpen returns the buffer for id, opening one implicitly (and flagging
// it) when the upstream never sent a start event.
func (r *Reassembler) ensureOpen(id string) *accumulation {
	if acc, ok := r.open[id]; ok {
		return acc
	}
	r.warn(id, "tool call event without tool_call_start")
	acc := &accumulation{implicit: true}
	r.open[id] = acc
	return acc
}

// closeCall flushes buffered text, parses the concatenated fragments and
// appends the completed tool-call Part. Unparsable or empty arguments degrade
// to an empty object with a data-quality warning rather than aborting the
// stream.
func (r *Reassembler) closeCall(id string, acc *accumulation, truncated bool) {
	r.flushText()
	delete(r.open, id)
	r.closed[id] = true

	raw := acc.fragments.String()
	args := json.RawMessage(raw)
	if !json.Valid(args) {
		if !truncated {
			if raw == "" {
				r.warn(id, "tool call streamed no argument data")
			} else {
				r.warn(id, "tool call arguments are not valid JSON")
			}
		}
		args = json.RawMessage(`{}`)
	}
	r.parts = append(r.parts, chat.ToolCallPart(id, acc.name, args))
}

// flushText turns accumulated text deltas into a text Part, preserving the
// order of text relative to completed tool calls.
func (r *Reassembler) flushText() {
	if r.pending.Len() == 0 {
		return
	}
	r.parts = append(r.parts, chat.TextPart(r.pending.String()))
	r.pending.Reset()
}

// Warnings returns the data-quality warnings observed so far.
func (r *Reassembler) Warnings() []chat.Warning {
	return r.warnings
}

func (r *Reassembler) warn(id, reason string) {
	metrics.StreamWarnings.Inc()
	r.warnings = append(r.warnings, chat.Warning{ToolCallID: id, Reason: reason})
}

// Finish returns the reconstructed assistant Turn. Open accumulations left by
// a stream that ended without message_end are force-closed with a truncation
// warning; an otherwise empty Turn gets one empty text Part.
func (r *Reassembler) Finish() (*chat.Turn, []chat.Warning, error) {
	if !r.done {
		for id, acc := range r.open {
			r.warn(id, "tool call truncated: stream ended before tool_call_end")
			r.closeCall(id, acc, true)
		}
		r.done = true
	}
	r.flushText()

	turn := chat.AssistantTurn(r.parts...)
	turn.FinishReason = r.finish
	if turn.FinishReason == "" {
		turn.FinishReason = chat.FinishOther
	}
	if r.usage != nil {
		u := *r.usage
		turn.Usage = &u
	} else {
		turn.Usage = &chat.Usage{}
	}
	return &turn, r.warnings, nil
}
