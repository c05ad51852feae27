// Package speech turns fixed-length audio buffers into text. The model
// is expensive to load, so a single engine is created lazily and shared
// by every transcriber worker.
package speech

import (
	"context"
	"sync"
)

// Engine transcribes one audio buffer. Implementations must be safe for
// concurrent use: multiple transcriber workers share one engine.
type Engine interface {
	Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error)
}

// Loader constructs the engine on first use and reuses it afterwards.
type Loader struct {
	once    sync.Once
	factory func() (Engine, error)
	engine  Engine
	err     error
}

// NewLoader creates a lazy loader around factory.
func NewLoader(factory func() (Engine, error)) *Loader {
	return &Loader{factory: factory}
}

// Get returns the shared engine, loading it on the first call. A load
// failure is sticky: every caller sees the same error.
func (l *Loader) Get() (Engine, error) {
	l.once.Do(func() {
		l.engine, l.err = l.factory()
	})
	return l.engine, l.err
}
