package sleeptimer

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePauser struct {
	calls atomic.Int32
}

func (p *fakePauser) Pause() error {
	p.calls.Add(1)
	return nil
}

func TestTimer_TimedPausesOnExpiry(t *testing.T) {
	p := &fakePauser{}
	timer := New(p)

	timer.Arm(10 * time.Millisecond)
	require.Eventually(t, func() bool {
		return p.calls.Load() == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, ModeNone, timer.Mode(), "expiry disarms")
}

func TestTimer_DisarmPreventsPause(t *testing.T) {
	p := &fakePauser{}
	timer := New(p)

	timer.Arm(20 * time.Millisecond)
	timer.Disarm()

	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, p.calls.Load())
	assert.Equal(t, ModeNone, timer.Mode())
}

func TestTimer_RearmSupersedes(t *testing.T) {
	p := &fakePauser{}
	timer := New(p)

	timer.Arm(10 * time.Millisecond)
	timer.Arm(40 * time.Millisecond)

	time.Sleep(25 * time.Millisecond)
	assert.Zero(t, p.calls.Load(), "first countdown must not fire")

	require.Eventually(t, func() bool {
		return p.calls.Load() == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestTimer_EndOfSongPausesOnSongChange(t *testing.T) {
	p := &fakePauser{}
	timer := New(p)

	timer.ArmEndOfSong()
	assert.Equal(t, ModeEndOfSong, timer.Mode())

	timer.OnSongChange()
	assert.Equal(t, int32(1), p.calls.Load())
	assert.Equal(t, ModeNone, timer.Mode())

	// A later song change is a no-op once disarmed.
	timer.OnSongChange()
	assert.Equal(t, int32(1), p.calls.Load())
}

func TestTimer_SongChangeLeavesTimedArmed(t *testing.T) {
	p := &fakePauser{}
	timer := New(p)

	timer.Arm(time.Hour)
	timer.OnSongChange()

	assert.Zero(t, p.calls.Load())
	assert.Equal(t, ModeTimed, timer.Mode())
	assert.Greater(t, timer.Remaining(), 59*time.Minute)
}

func TestTimer_RemainingZeroWhenDisarmed(t *testing.T) {
	timer := New(&fakePauser{})
	assert.Zero(t, timer.Remaining())

	timer.ArmEndOfSong()
	assert.Zero(t, timer.Remaining(), "end-of-song mode has no countdown")
}
