// Package episodic maintains a short in-process buffer of recent
// conversation excerpts and dispatches reflection (consolidation) tasks
// onto a background worker pool — the Episodic responsibility of the
// engine.
package episodic

import (
	"context"
	"sync"
)

// Excerpt is one buffered conversation turn awaiting reflection.
type Excerpt struct {
	MemoryID string
	Text     string
}

// ReflectionGenerator summarizes a batch of excerpts into reflection body
// text. Implementations may call out to an LLM or any other summarization
// backend; this package only defines the plug-in point.
type ReflectionGenerator interface {
	Reflect(ctx context.Context, excerpts []Excerpt) (string, error)
}

// Dispatcher runs a fixed-size worker pool that processes reflection tasks.
// Reflection failures are non-fatal: the buffer retains its entries until
// the next attempt.
type Dispatcher interface {
	Dispatch(task func(ctx context.Context))
}

const defaultBufferSize = 64
const reflectionTriggerCount = 10

// Buffer holds the N most recent conversation excerpts and triggers
// reflection once enough unreflected entries have accumulated.
type Buffer struct {
	mu         sync.Mutex
	entries    []Excerpt
	unreflected int
	size       int
	trigger    int

	generator  ReflectionGenerator
	dispatcher Dispatcher
	onReflected func(ctx context.Context, body string) error
}

// Option configures a Buffer at construction.
type Option func(*Buffer)

func WithBufferSize(n int) Option {
	return func(b *Buffer) { b.size = n }
}

func WithTriggerCount(n int) Option {
	return func(b *Buffer) { b.trigger = n }
}

// NewBuffer constructs a Buffer. onReflected is invoked with the generated
// reflection body once a batch succeeds; the caller is expected to store it
// as a `reflection` memory with importance 0.7.
func NewBuffer(generator ReflectionGenerator, dispatcher Dispatcher, onReflected func(ctx context.Context, body string) error, opts ...Option) *Buffer {
	b := &Buffer{
		size:        defaultBufferSize,
		trigger:     reflectionTriggerCount,
		generator:   generator,
		dispatcher:  dispatcher,
		onReflected: onReflected,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Append adds a conversation excerpt to the buffer, evicting the oldest
// entry once the buffer exceeds its configured size, and enqueues a
// reflection task once the unreflected count reaches the trigger threshold.
func (b *Buffer) Append(ctx context.Context, e Excerpt) {
	b.mu.Lock()
	b.entries = append(b.entries, e)
	if len(b.entries) > b.size {
		b.entries = b.entries[len(b.entries)-b.size:]
	}
	b.unreflected++
	shouldReflect := b.unreflected >= b.trigger
	b.mu.Unlock()

	if shouldReflect {
		b.dispatcher.Dispatch(func(ctx context.Context) {
			b.reflect(ctx)
		})
	}
}

// reflect summarizes the current unreflected tail of the buffer. On
// failure the entries are left marked unreflected so the next Append that
// crosses the trigger threshold retries.
func (b *Buffer) reflect(ctx context.Context) {
	b.mu.Lock()
	n := b.unreflected
	if n > len(b.entries) {
		n = len(b.entries)
	}
	batch := make([]Excerpt, n)
	copy(batch, b.entries[len(b.entries)-n:])
	b.mu.Unlock()

	body, err := b.generator.Reflect(ctx, batch)
	if err != nil {
		// Non-fatal: leave unreflected count untouched for retry on the
		// next trigger-crossing Append.
		return
	}

	if err := b.onReflected(ctx, body); err != nil {
		return
	}

	b.mu.Lock()
	b.unreflected -= n
	if b.unreflected < 0 {
		b.unreflected = 0
	}
	b.mu.Unlock()
}

// Len returns the number of excerpts currently buffered.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
