// Package sleeptimer pauses playback after a countdown or at the end of
// the current song.
package sleeptimer

import (
	"sync"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/cadencefm/cadence/internal/app/events"
	"github.com/cadencefm/cadence/internal/app/scheduler"
	"github.com/cadencefm/cadence/internal/app/transport"
)

// Mode is the armed state of the sleep timer.
type Mode int

const (
	ModeNone      Mode = iota // Not armed
	ModeEndOfSong             // Pause when the current song ends
	ModeTimed                 // Pause after a fixed countdown
)

// String returns the string representation of the mode.
func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeEndOfSong:
		return "end_of_song"
	case ModeTimed:
		return "timed"
	default:
		return "unknown"
	}
}

// Pauser is the transport capability the timer needs.
type Pauser interface {
	Pause() error
}

// Timer is the sleep timer. Arming replaces any previous arm; expiry
// issues a single Pause intent and disarms.
type Timer struct {
	mu       sync.Mutex
	pauser   Pauser
	task     scheduler.Task
	mode     Mode
	deadline time.Time
}

// New creates a disarmed sleep timer.
func New(p Pauser) *Timer {
	return &Timer{pauser: p}
}

// Attach subscribes the timer to song changes so end-of-song mode can fire.
func (t *Timer) Attach(bus *events.Bus) {
	bus.Subscribe(transport.TypeSongChange, func(events.Event) { t.OnSongChange() })
}

// Arm starts a countdown of d, replacing any previous arm.
func (t *Timer) Arm(d time.Duration) {
	t.mu.Lock()
	t.mode = ModeTimed
	t.deadline = time.Now().Add(d)
	t.mu.Unlock()

	t.task.Schedule(d, t.expire)
	zlog.Debug().Msgf("sleeptimer: armed: duration=%v", d)
}

// ArmEndOfSong pauses playback when the current song finishes.
func (t *Timer) ArmEndOfSong() {
	t.mu.Lock()
	t.mode = ModeEndOfSong
	t.deadline = time.Time{}
	t.mu.Unlock()

	t.task.Cancel()
	zlog.Debug().Msgf("sleeptimer: armed at end of song")
}

// Disarm cancels the timer without pausing.
func (t *Timer) Disarm() {
	t.mu.Lock()
	t.mode = ModeNone
	t.deadline = time.Time{}
	t.mu.Unlock()

	t.task.Cancel()
}

// Mode returns the current armed state.
func (t *Timer) Mode() Mode {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mode
}

// Remaining returns the time left on a timed countdown, zero otherwise.
func (t *Timer) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.mode != ModeTimed {
		return 0
	}
	r := time.Until(t.deadline)
	if r < 0 {
		return 0
	}
	return r
}

// OnSongChange fires the end-of-song mode. Other modes are unaffected by
// song boundaries.
func (t *Timer) OnSongChange() {
	t.mu.Lock()
	if t.mode != ModeEndOfSong {
		t.mu.Unlock()
		return
	}
	t.mode = ModeNone
	t.mu.Unlock()

	zlog.Info().Msgf("sleeptimer: song ended, pausing playback")
	_ = t.pauser.Pause()
}

func (t *Timer) expire() {
	t.mu.Lock()
	if t.mode != ModeTimed {
		t.mu.Unlock()
		return
	}
	t.mode = ModeNone
	t.deadline = time.Time{}
	t.mu.Unlock()

	zlog.Info().Msgf("sleeptimer: countdown expired, pausing playback")
	_ = t.pauser.Pause()
}
