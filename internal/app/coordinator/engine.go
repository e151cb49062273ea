package coordinator

import "context"

// Engine is the slot interface every playback engine implements. The
// coordinator is the exclusive owner of its two engine instances; no other
// component talks to an engine directly.
//
// Implementations must be safe for concurrent use: transport intents and
// the engine's own progress goroutine both call in.
type Engine interface {
	// Load resolves and binds a media source to this slot, replacing any
	// previously loaded source.
	Load(ctx context.Context, url string) error

	// Play starts or resumes playback of the loaded source.
	Play() error

	// Pause pauses playback, keeping the position.
	Pause() error

	// Stop releases the loaded source. The slot must be loaded again
	// before it can play.
	Stop() error

	// SeekTo moves the playhead to the given position in seconds.
	SeekTo(seconds float64) error

	// SetVolume sets the slot gain, 0.0 (silent) to 1.0 (full).
	SetVolume(gain float64) error

	// Position returns the current playhead position in seconds.
	Position() float64

	// Duration returns the loaded source duration in seconds, 0 if none.
	Duration() float64

	// OnProgress registers the progress callback. The engine invokes it
	// periodically while playing, from its own goroutine.
	OnProgress(fn func(seconds float64))

	// OnEnded registers the natural-completion callback.
	OnEnded(fn func())
}
