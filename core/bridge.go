package orchestration

import (
	"sync"

	"github.com/koscakluka/ema-companion/core/events"
)

// EventBridge funnels directives and transcripts from recognizer goroutines
// into the control loop. Producers only push; the control loop drains.
type EventBridge struct {
	mu          sync.Mutex
	directives  queue[events.WakeDirective]
	transcripts queue[events.TranscriptRecord]
	closed      bool
}

func NewEventBridge() *EventBridge {
	return &EventBridge{}
}

// PushDirective returns false once the bridge is closed.
func (b *EventBridge) PushDirective(directive events.WakeDirective) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.directives.push(directive)
	return true
}

// PushTranscript only accepts final, eligible records.
func (b *EventBridge) PushTranscript(record events.TranscriptRecord) bool {
	if !record.Eligible() {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.transcripts.push(record)
	return true
}

func (b *EventBridge) PeekDirective() (events.WakeDirective, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.directives.peek()
}

func (b *EventBridge) PopDirective() (events.WakeDirective, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.directives.pop()
}

// popDirectiveUnless pops the front directive only when it is not of kind
// keep, so peek and pop happen under one lock.
func (b *EventBridge) popDirectiveUnless(keep events.DirectiveKind) (events.WakeDirective, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	front, ok := b.directives.peek()
	if !ok || front.Directive == keep {
		return events.WakeDirective{}, false
	}
	return b.directives.pop()
}

func (b *EventBridge) ClearDirectives() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.directives.clear()
}

// ClearDirectivesExcept drops every queued directive not of kind keep,
// preserving the order of the rest.
func (b *EventBridge) ClearDirectivesExcept(keep events.DirectiveKind) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.directives.filter(func(d events.WakeDirective) bool { return d.Directive == keep })
}

func (b *EventBridge) PopTranscript() (events.TranscriptRecord, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.transcripts.pop()
}

func (b *EventBridge) ClearTranscripts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.transcripts.clear()
}

func (b *EventBridge) DirectiveCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.directives.len()
}

func (b *EventBridge) TranscriptCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.transcripts.len()
}

// Close stops accepting pushes. Queued items can still be drained.
func (b *EventBridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

// queue is a FIFO with amortized O(1) push and pop. It is not safe for
// concurrent use.
type queue[T any] struct {
	items []T
	head  int
}

func (q *queue[T]) push(item T) {
	q.items = append(q.items, item)
}

func (q *queue[T]) peek() (T, bool) {
	var zero T
	if q.head >= len(q.items) {
		return zero, false
	}
	return q.items[q.head], true
}

func (q *queue[T]) pop() (T, bool) {
	var zero T
	if q.head >= len(q.items) {
		return zero, false
	}

	item := q.items[q.head]
	q.items[q.head] = zero
	q.head++

	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head > 32 && q.head*2 >= len(q.items) {
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
	return item, true
}

func (q *queue[T]) len() int {
	return len(q.items) - q.head
}

func (q *queue[T]) clear() int {
	n := q.len()
	clear(q.items)
	q.items = q.items[:0]
	q.head = 0
	return n
}

// filter keeps items for which keep returns true and reports how many were
// dropped.
func (q *queue[T]) filter(keep func(T) bool) int {
	kept := q.items[:0]
	for _, item := range q.items[q.head:] {
		if keep(item) {
			kept = append(kept, item)
		}
	}
	dropped := q.len() - len(kept)
	clear(q.items[len(kept):])
	q.items = kept
	q.head = 0
	return dropped
}
