// Package transport is the playback intent surface: it owns the transport
// state machine, translates user intents into queue and coordinator calls
// and publishes the resulting state changes on the event bus.
package transport

// Status represents the transport status.
type Status int

const (
	StatusStopped Status = iota // No track bound to an engine slot
	StatusPlaying               // Track is playing
	StatusPaused                // Track is paused
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusPlaying:
		return "playing"
	case StatusPaused:
		return "paused"
	default:
		return "unknown"
	}
}
