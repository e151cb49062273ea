// Package coordinator manages the two engine slots and drives the
// gapless/crossfade handoff as the active track nears its end.
package coordinator

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

// Style selects how the boundary between two tracks is rendered.
type Style int

const (
	StyleGapless   Style = iota // Zero-silence handoff at natural end
	StyleCrossfade              // Overlapping dual-audible handoff
)

// String returns the string representation of the style.
func (s Style) String() string {
	switch s {
	case StyleGapless:
		return "gapless"
	case StyleCrossfade:
		return "crossfade"
	default:
		return "unknown"
	}
}

// ParseStyle parses a transition style name as used in configuration.
func ParseStyle(s string) Style {
	if s == "crossfade" {
		return StyleCrossfade
	}
	return StyleGapless
}

// Phase is the transition state of the slot pair.
type Phase int

const (
	PhaseIdle          Phase = iota // Only the active slot is audible
	PhaseArmed                      // Next track loaded, waiting for the trigger point
	PhaseTransitioning              // Both slots audible, ramps running
	PhaseSettled                    // Handoff complete, roles about to swap
)

// String returns the string representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseArmed:
		return "armed"
	case PhaseTransitioning:
		return "transitioning"
	case PhaseSettled:
		return "settled"
	default:
		return "unknown"
	}
}

const (
	// gaplessLookaheadSec is how early a gapless handoff arms.
	gaplessLookaheadSec = 2.0

	// Decode latency compensation per codec class. Lossless sources need
	// a larger pad because the first buffer takes longer to decode.
	latencyPadLossySec    = 0.15
	latencyPadLosslessSec = 0.30
)

// pendingNext tracks the prefetch state of the upcoming track.
type pendingNext struct {
	url      string
	lossless bool
	ready    bool
	failed   bool
}

// ErrSuperseded is returned from SwapTo when a newer swap replaced this one
// while its load was still in flight. The slots belong to the newer track;
// the caller must not treat it as a playback failure.
var ErrSuperseded = errors.New("swap superseded by a newer track")

// BoundaryHandler is invoked when the active track's boundary is reached.
// settled is true when the prefetched next track took over (the caller only
// advances its queue pointer), false when the track ended with nothing to
// hand off to. seq increases monotonically per boundary so a stale
// double-fire can be detected by the consumer.
type BoundaryHandler func(settled bool, seq uint64)

// Coordinator owns the two engine slots, decides which one is active and
// runs at most one handoff at a time.
type Coordinator struct {
	mu sync.Mutex

	slots  [2]Engine
	active int // Index into slots; externally reported as slot 1/2

	phase        Phase
	style        Style
	crossfadeSec float64
	master       float64 // Current master gain 0..1
	lossless     bool    // Codec class of the active track

	next        *pendingNext
	boundarySeq uint64

	// swapGen orders SwapTo calls; a load that comes back under a stale
	// generation must not touch the slots. swapCancel aborts the in-flight
	// swap load when a newer swap takes over.
	swapGen    uint64
	swapCancel context.CancelFunc

	onProgress func(seconds float64)
	onBoundary BoundaryHandler
}

// New creates a coordinator over two engine slots.
func New(slot1, slot2 Engine, style Style, crossfadeSec float64) *Coordinator {
	c := &Coordinator{
		slots:        [2]Engine{slot1, slot2},
		phase:        PhaseIdle,
		style:        style,
		crossfadeSec: crossfadeSec,
		master:       1.0,
	}
	for i := range c.slots {
		slot := i
		c.slots[slot].OnProgress(func(pos float64) { c.handleProgress(slot, pos) })
		c.slots[slot].OnEnded(func() { c.handleEnded(slot) })
	}
	return c
}

// SetHandlers registers the transport callbacks. Must be called before the
// first track is loaded.
func (c *Coordinator) SetHandlers(onProgress func(seconds float64), onBoundary BoundaryHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onProgress = onProgress
	c.onBoundary = onBoundary
}

// SetStyle changes the transition style and crossfade window.
func (c *Coordinator) SetStyle(style Style, crossfadeSec float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.style = style
	c.crossfadeSec = crossfadeSec
}

// ActiveSlot returns the active slot number (1 or 2).
func (c *Coordinator) ActiveSlot() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active + 1
}

// Phase returns the current transition phase.
func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// SwapTo loads a new current track into the inactive slot and makes it the
// active one. Any in-progress transition is cancelled first. The caller
// decides whether to start playback afterwards. A later SwapTo supersedes
// an earlier one whose load is still in flight: the earlier load is
// aborted and returns ErrSuperseded without touching the slots.
func (c *Coordinator) SwapTo(ctx context.Context, url string, lossless bool) error {
	c.mu.Lock()
	c.cancelTransitionLocked()
	c.next = nil
	if c.swapCancel != nil {
		c.swapCancel()
	}
	loadCtx, cancel := context.WithCancel(ctx)
	c.swapCancel = cancel
	c.swapGen++
	gen := c.swapGen
	incoming := 1 - c.active
	c.mu.Unlock()

	err := c.slots[incoming].Load(loadCtx, url)

	c.mu.Lock()
	if gen != c.swapGen {
		c.mu.Unlock()
		return ErrSuperseded
	}
	c.swapCancel = nil
	cancel()
	if err != nil {
		c.mu.Unlock()
		return errors.Wrap(err, "failed to load track into slot")
	}
	outgoing := c.active
	c.active = incoming
	c.phase = PhaseIdle
	c.lossless = lossless
	master := c.master
	c.mu.Unlock()

	_ = c.slots[outgoing].Pause()
	_ = c.slots[outgoing].Stop()
	if err := c.slots[incoming].SetVolume(master); err != nil {
		zlog.Warn().Msgf("coordinator: failed to set slot volume: %v", err)
	}
	return nil
}

// PrefetchNext loads the upcoming track into the inactive slot so the
// handoff can arm. A load failure disables the transition for this
// boundary (hard-cut fallback) without surfacing an error.
func (c *Coordinator) PrefetchNext(ctx context.Context, url string, lossless bool) {
	c.mu.Lock()
	if c.next != nil && c.next.url == url && (c.next.ready || !c.next.failed) {
		c.mu.Unlock()
		return
	}
	c.next = &pendingNext{url: url, lossless: lossless}
	inactive := 1 - c.active
	c.mu.Unlock()

	err := c.slots[inactive].Load(ctx, url)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.next == nil || c.next.url != url {
		// Superseded while loading
		return
	}
	if err != nil {
		c.next.failed = true
		zlog.Warn().Msgf("coordinator: prefetch failed, falling back to hard cut: url=%s error=%v", url, err)
		return
	}
	c.next.ready = true
}

// ClearNext drops any prefetched track and cancels an in-progress handoff.
func (c *Coordinator) ClearNext() {
	c.mu.Lock()
	c.cancelTransitionLocked()
	c.next = nil
	inactive := 1 - c.active
	c.mu.Unlock()

	_ = c.slots[inactive].Stop()
}

// PlayActive starts the active slot. A crossfade whose incoming slot was
// paused mid-handoff resumes it as well.
func (c *Coordinator) PlayActive() error {
	c.mu.Lock()
	active := c.slots[c.active]
	var incoming Engine
	if c.style == StyleCrossfade && (c.phase == PhaseArmed || c.phase == PhaseTransitioning) {
		incoming = c.slots[1-c.active]
	}
	c.mu.Unlock()

	if incoming != nil {
		_ = incoming.Play()
	}
	return active.Play()
}

// PauseActive pauses playback. During a handoff the incoming slot is
// already producing audio, so it pauses too; otherwise it would keep
// playing at ramp volume while the transport reports paused.
func (c *Coordinator) PauseActive() error {
	c.mu.Lock()
	active := c.slots[c.active]
	var incoming Engine
	if c.phase == PhaseArmed || c.phase == PhaseTransitioning {
		incoming = c.slots[1-c.active]
	}
	c.mu.Unlock()

	if incoming != nil {
		_ = incoming.Pause()
	}
	return active.Pause()
}

// StopAll releases both slots and resets the transition state. An in-flight
// swap load is aborted.
func (c *Coordinator) StopAll() {
	c.mu.Lock()
	c.phase = PhaseIdle
	c.next = nil
	c.swapGen++
	if c.swapCancel != nil {
		c.swapCancel()
		c.swapCancel = nil
	}
	slots := c.slots
	c.mu.Unlock()

	for _, s := range slots {
		_ = s.Pause()
		_ = s.Stop()
	}
}

// SeekActive seeks the active slot. Seeking during a handoff cancels it and
// resets the slot volumes to active=master, inactive=silent; the prefetched
// next track stays loaded so the handoff can re-arm.
func (c *Coordinator) SeekActive(seconds float64) error {
	c.mu.Lock()
	c.cancelTransitionLocked()
	slot := c.slots[c.active]
	c.mu.Unlock()
	return slot.SeekTo(seconds)
}

// SetMasterVolume applies a new master gain. During a crossfade the two
// slot volumes are rescaled to the ramp's current mix ratio rather than
// overwritten.
func (c *Coordinator) SetMasterVolume(gain float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.master = gain
	if c.phase == PhaseTransitioning {
		timeLeft := c.slots[c.active].Duration() - c.slots[c.active].Position()
		c.applyRampLocked(timeLeft)
		return
	}
	if err := c.slots[c.active].SetVolume(gain); err != nil {
		zlog.Warn().Msgf("coordinator: failed to set slot volume: %v", err)
	}
}

// Position returns the active slot playhead in seconds.
func (c *Coordinator) Position() float64 {
	c.mu.Lock()
	slot := c.slots[c.active]
	c.mu.Unlock()
	return slot.Position()
}

// Duration returns the active slot duration in seconds.
func (c *Coordinator) Duration() float64 {
	c.mu.Lock()
	slot := c.slots[c.active]
	c.mu.Unlock()
	return slot.Duration()
}

// handleProgress is the engine progress callback for one slot. Only the
// active slot drives the transition machine; the inactive slot's progress
// is ignored.
func (c *Coordinator) handleProgress(slot int, pos float64) {
	c.mu.Lock()
	if slot != c.active {
		c.mu.Unlock()
		return
	}

	forward := c.onProgress
	var notify func()

	duration := c.slots[slot].Duration()
	timeLeft := duration - pos

	if c.phase == PhaseIdle && c.armableLocked() && duration > 0 && timeLeft <= c.armWindowLocked() {
		c.armLocked()
	}
	if c.phase == PhaseArmed || c.phase == PhaseTransitioning {
		if c.style == StyleCrossfade {
			c.applyRampLocked(timeLeft)
			if timeLeft <= 0 {
				notify = c.settleLocked()
			}
		} else if pos+c.latencyPadLocked() >= duration {
			notify = c.settleLocked()
		}
	}
	c.mu.Unlock()

	if forward != nil {
		forward(pos)
	}
	if notify != nil {
		notify()
	}
}

// handleEnded is the engine natural-completion callback for one slot.
func (c *Coordinator) handleEnded(slot int) {
	c.mu.Lock()
	if slot != c.active {
		// The outgoing slot's end after a settle is expected noise.
		c.mu.Unlock()
		return
	}

	var notify func()
	switch {
	case c.phase == PhaseArmed || c.phase == PhaseTransitioning:
		// The ramp did not quite finish before the source ran out.
		notify = c.settleLocked()
	case c.armableLocked():
		// A short track can end before its arm window is ever reached;
		// hand off with a hard cut.
		notify = c.settleLocked()
	default:
		c.boundarySeq++
		seq := c.boundarySeq
		if cb := c.onBoundary; cb != nil {
			notify = func() { cb(false, seq) }
		}
	}
	c.mu.Unlock()

	if notify != nil {
		notify()
	}
}

// cancelTransitionLocked aborts an armed or running handoff: the inactive
// slot is silenced and rewound, the active slot returns to master gain. The
// prefetched next track stays loaded.
func (c *Coordinator) cancelTransitionLocked() {
	if c.phase == PhaseIdle {
		return
	}
	inactive := 1 - c.active
	_ = c.slots[inactive].Pause()
	_ = c.slots[inactive].SetVolume(0)
	_ = c.slots[inactive].SeekTo(0)
	_ = c.slots[c.active].SetVolume(c.master)
	c.phase = PhaseIdle
}

// armableLocked reports whether a handoff may arm: there must be a
// prefetched next track that loaded successfully.
func (c *Coordinator) armableLocked() bool {
	return c.next != nil && c.next.ready && !c.next.failed
}

func (c *Coordinator) armWindowLocked() float64 {
	if c.style == StyleCrossfade {
		return c.crossfadeSec
	}
	return gaplessLookaheadSec
}

func (c *Coordinator) latencyPadLocked() float64 {
	if c.lossless {
		return latencyPadLosslessSec
	}
	return latencyPadLossySec
}

// armLocked starts the handoff. Crossfade: the incoming slot starts
// producing audio at zero volume. Gapless: the incoming slot stays paused
// until the trigger point.
func (c *Coordinator) armLocked() {
	incoming := 1 - c.active
	c.phase = PhaseArmed
	if c.style == StyleCrossfade {
		_ = c.slots[incoming].SetVolume(0)
		if err := c.slots[incoming].Play(); err != nil {
			zlog.Warn().Msgf("coordinator: failed to start crossfade slot, falling back to hard cut: %v", err)
			c.next.failed = true
			c.phase = PhaseIdle
		}
	}
	zlog.Debug().Msgf("coordinator: transition armed: style=%s active_slot=%d", c.style, c.active+1)
}

// applyRampLocked computes the complementary linear ramp for the remaining
// window. The two volumes always sum to the master gain.
func (c *Coordinator) applyRampLocked(timeLeft float64) {
	if c.crossfadeSec <= 0 {
		return
	}
	c.phase = PhaseTransitioning
	if timeLeft < 0 {
		timeLeft = 0
	}
	if timeLeft > c.crossfadeSec {
		timeLeft = c.crossfadeSec
	}
	outgoingVol := (timeLeft / c.crossfadeSec) * c.master
	incomingVol := ((c.crossfadeSec - timeLeft) / c.crossfadeSec) * c.master
	_ = c.slots[c.active].SetVolume(outgoingVol)
	_ = c.slots[1-c.active].SetVolume(incomingVol)
}

// settleLocked completes the handoff: the incoming slot becomes active at
// full master volume, the outgoing slot is silenced and released. Returns
// the boundary notification to run outside the lock.
func (c *Coordinator) settleLocked() func() {
	wasCrossfading := c.phase == PhaseTransitioning && c.style == StyleCrossfade
	c.phase = PhaseSettled
	outgoing := c.active
	incoming := 1 - c.active

	_ = c.slots[incoming].SetVolume(c.master)
	if !wasCrossfading {
		// Gapless and hard-cut paths start the incoming slot here; a
		// crossfading slot is already playing.
		_ = c.slots[incoming].Play()
	}
	_ = c.slots[outgoing].Pause()
	_ = c.slots[outgoing].SetVolume(0)
	_ = c.slots[outgoing].Stop()

	c.active = incoming
	if c.next != nil {
		c.lossless = c.next.lossless
	}
	c.next = nil
	c.phase = PhaseIdle
	c.boundarySeq++
	seq := c.boundarySeq

	zlog.Debug().Msgf("coordinator: transition settled: active_slot=%d seq=%d", c.active+1, seq)

	if cb := c.onBoundary; cb != nil {
		return func() { cb(true, seq) }
	}
	return nil
}
