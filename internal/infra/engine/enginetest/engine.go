// Package enginetest provides a scripted in-memory engine for tests. The
// clock never moves on its own; tests drive it with AdvanceTo and
// FinishTrack so timing-sensitive handoff logic stays deterministic.
package enginetest

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
)

// Engine is a fake playback engine. All fields are guarded by the mutex;
// use the accessor methods from test goroutines.
type Engine struct {
	mu sync.Mutex

	url     string
	loaded  bool
	playing bool
	pos     float64
	dur     float64
	vol     float64

	// FailLoad makes every Load call return an error.
	FailLoad bool

	// TrackDuration is assigned as the duration of the next loaded track.
	TrackDuration float64

	// LoadBlock, when non-nil, is received from inside Load before it
	// returns, letting a test hold a load in flight.
	LoadBlock chan struct{}

	loadCalls int
	seekCalls int

	onProgress func(float64)
	onEnded    func()
}

// New returns a fake engine whose next load yields a track of the given
// duration in seconds.
func New(duration float64) *Engine {
	return &Engine{TrackDuration: duration, vol: 1.0}
}

func (e *Engine) Load(ctx context.Context, url string) error {
	e.mu.Lock()
	e.loadCalls++
	block := e.LoadBlock
	fail := e.FailLoad
	e.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if fail {
		return errors.Newf("load refused: url=%s", url)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.url = url
	e.loaded = true
	e.playing = false
	e.pos = 0
	e.dur = e.TrackDuration
	return nil
}

func (e *Engine) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		return errors.New("no track loaded")
	}
	e.playing = true
	return nil
}

func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.playing = false
	return nil
}

func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loaded = false
	e.playing = false
	e.url = ""
	e.pos = 0
	e.dur = 0
	return nil
}

func (e *Engine) SeekTo(seconds float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seekCalls++
	e.pos = seconds
	return nil
}

func (e *Engine) SetVolume(gain float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vol = gain
	return nil
}

func (e *Engine) Position() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pos
}

func (e *Engine) Duration() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dur
}

func (e *Engine) OnProgress(fn func(float64)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onProgress = fn
}

func (e *Engine) OnEnded(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onEnded = fn
}

// AdvanceTo moves the playhead and fires the progress callback, the way a
// real engine's progress goroutine would.
func (e *Engine) AdvanceTo(pos float64) {
	e.mu.Lock()
	e.pos = pos
	fn := e.onProgress
	e.mu.Unlock()
	if fn != nil {
		fn(pos)
	}
}

// FinishTrack moves the playhead to the end and fires the ended callback.
func (e *Engine) FinishTrack() {
	e.mu.Lock()
	e.pos = e.dur
	e.playing = false
	fn := e.onEnded
	e.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// URL returns the currently loaded source URL.
func (e *Engine) URL() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.url
}

// Playing reports whether the engine is currently producing audio.
func (e *Engine) Playing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing
}

// Loaded reports whether a source is bound.
func (e *Engine) Loaded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loaded
}

// Volume returns the last gain set on the engine.
func (e *Engine) Volume() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.vol
}

// LoadCalls returns how many times Load was invoked.
func (e *Engine) LoadCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadCalls
}

// SeekCalls returns how many times SeekTo was invoked.
func (e *Engine) SeekCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seekCalls
}
