package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadencefm/cadence/internal/app/coordinator"
	"github.com/cadencefm/cadence/internal/app/events"
	"github.com/cadencefm/cadence/internal/app/queue"
	"github.com/cadencefm/cadence/internal/domain/track"
	"github.com/cadencefm/cadence/internal/infra/engine/enginetest"
)

type fakeResolver struct {
	mu    sync.Mutex
	fail  map[string]bool
	gates map[string]chan struct{}
	calls map[string]int
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		fail:  make(map[string]bool),
		gates: make(map[string]chan struct{}),
		calls: make(map[string]int),
	}
}

func (r *fakeResolver) Resolve(ctx context.Context, t track.Track) (Source, error) {
	r.mu.Lock()
	r.calls[t.ID]++
	gate := r.gates[t.ID]
	fail := r.fail[t.ID]
	r.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return Source{}, ctx.Err()
		}
	}
	if fail {
		return Source{}, errors.Newf("no stream for track %s", t.ID)
	}
	return Source{URL: "media://" + t.ID, Lossless: t.Lossless}, nil
}

func (r *fakeResolver) gateTrack(id string) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	gate := make(chan struct{})
	r.gates[id] = gate
	return gate
}

func (r *fakeResolver) callCount(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[id]
}

type eventRecorder struct {
	mu   sync.Mutex
	seen []events.Event
}

func (r *eventRecorder) record(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, e)
}

func (r *eventRecorder) lastProgress() (ProgressEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.seen) - 1; i >= 0; i-- {
		if p, ok := r.seen[i].(ProgressEvent); ok {
			return p, true
		}
	}
	return ProgressEvent{}, false
}

func (r *eventRecorder) count(t events.Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.seen {
		if e.Type() == t {
			n++
		}
	}
	return n
}

type harness struct {
	ctrl     *Controller
	store    *queue.Store
	bus      *events.Bus
	resolver *fakeResolver
	recorder *eventRecorder
	slots    [2]*enginetest.Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		store:    queue.NewStore(),
		bus:      events.NewBus(),
		resolver: newFakeResolver(),
		recorder: &eventRecorder{},
	}
	h.slots[0] = enginetest.New(100)
	h.slots[1] = enginetest.New(100)
	coord := coordinator.New(h.slots[0], h.slots[1], coordinator.StyleGapless, 0)
	h.bus.SubscribeAll(h.recorder.record)
	h.ctrl = NewController(h.store, coord, h.resolver, nil, h.bus, Config{Volume: 100})
	t.Cleanup(func() {
		h.ctrl.Close()
		h.bus.Close()
	})
	return h
}

func (h *harness) activeURL() string {
	for _, s := range h.slots {
		if s.Playing() {
			return s.URL()
		}
	}
	return ""
}

func (h *harness) waitPlaying(t *testing.T, trackID string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.ctrl.Status() == StatusPlaying && h.activeURL() == "media://"+trackID
	}, 2*time.Second, 5*time.Millisecond, "track %s did not start", trackID)
}

func makeTracks(ids ...string) []track.Track {
	tracks := make([]track.Track, len(ids))
	for i, id := range ids {
		tracks[i] = track.Track{ID: id, Name: "Track " + id, Duration: 100 * time.Second}
	}
	return tracks
}

func TestController_ReplaceQueueAndAdvance(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.ctrl.ReplaceQueue(makeTracks("a", "b", "c"), 0))
	h.waitPlaying(t, "a")
	assert.Equal(t, 0, h.store.Index())

	require.NoError(t, h.ctrl.Next())
	h.waitPlaying(t, "b")
	assert.Equal(t, 1, h.store.Index())

	require.NoError(t, h.ctrl.Next())
	h.waitPlaying(t, "c")

	// Repeat off at the tail: one more advance stops playback.
	require.NoError(t, h.ctrl.Next())
	require.Eventually(t, func() bool {
		return h.ctrl.Status() == StatusStopped
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, h.recorder.count(TypeQueueEnded))
}

func TestController_RapidNextHonorsLastIntent(t *testing.T) {
	h := newHarness(t)

	gate := h.resolver.gateTrack("a")
	require.NoError(t, h.ctrl.ReplaceQueue(makeTracks("a", "b", "c"), 0))

	// The first load is still resolving when the skip arrives.
	require.NoError(t, h.ctrl.Next())
	h.waitPlaying(t, "b")

	// Releasing the stale load must not steal the active slot back.
	close(gate)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, "media://b", h.activeURL())
	assert.Equal(t, 1, h.store.Index())
}

func TestController_FailedLoadAutoAdvances(t *testing.T) {
	h := newHarness(t)
	h.resolver.fail["b"] = true

	require.NoError(t, h.ctrl.ReplaceQueue(makeTracks("a", "b", "c"), 0))
	h.waitPlaying(t, "a")

	require.NoError(t, h.ctrl.Next())
	h.waitPlaying(t, "c")
	assert.Equal(t, 2, h.store.Index())
	assert.GreaterOrEqual(t, h.recorder.count(TypeError), 1)
}

func TestController_AllTracksFailingStops(t *testing.T) {
	h := newHarness(t)
	h.resolver.fail["a"] = true
	h.resolver.fail["b"] = true

	require.NoError(t, h.ctrl.ReplaceQueue(makeTracks("a", "b"), 0))
	require.Eventually(t, func() bool {
		return h.ctrl.Status() == StatusStopped
	}, 2*time.Second, 5*time.Millisecond)
}

func TestController_PauseFadesThenResumes(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.ctrl.ReplaceQueue(makeTracks("a"), 0))
	h.waitPlaying(t, "a")

	require.NoError(t, h.ctrl.Pause())
	assert.Equal(t, StatusPaused, h.ctrl.Status())
	require.Eventually(t, func() bool {
		return !h.slots[0].Playing() && !h.slots[1].Playing()
	}, 2*time.Second, 5*time.Millisecond, "fade should end in a paused engine")

	// The stored gain is restored after the fade so resume is audible.
	active := h.slots[h.ctrl.coord.ActiveSlot()-1]
	require.Eventually(t, func() bool {
		return active.Volume() == 1.0
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, h.ctrl.Play())
	assert.Equal(t, StatusPlaying, h.ctrl.Status())
	assert.True(t, active.Playing())
}

func TestController_PlayOnEmptyQueue(t *testing.T) {
	h := newHarness(t)
	assert.ErrorIs(t, h.ctrl.Play(), ErrQueueEmpty)
}

func TestController_SeekWhileStopped(t *testing.T) {
	h := newHarness(t)
	assert.ErrorIs(t, h.ctrl.SeekTo(10), ErrNoTrack)
}

func TestController_InsertNowStartsImmediately(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.ctrl.ReplaceQueue(makeTracks("a", "b"), 0))
	h.waitPlaying(t, "a")

	h.ctrl.AddToQueue(makeTracks("d"), queue.PositionNow)
	h.waitPlaying(t, "d")
	assert.Equal(t, 1, h.store.Index())
	assert.Equal(t, 3, h.store.Len())
}

func TestController_RemoveCurrentMovesToSuccessor(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.ctrl.ReplaceQueue(makeTracks("a", "b", "c"), 0))
	h.waitPlaying(t, "a")

	cur := h.store.Current()
	require.NotNil(t, cur)
	h.ctrl.RemoveFromQueue([]string{cur.UniqueID})
	h.waitPlaying(t, "b")
	assert.Equal(t, 2, h.store.Len())
}

func TestController_RemoveAllStops(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.ctrl.ReplaceQueue(makeTracks("a"), 0))
	h.waitPlaying(t, "a")

	cur := h.store.Current()
	require.NotNil(t, cur)
	h.ctrl.RemoveFromQueue([]string{cur.UniqueID})
	require.Eventually(t, func() bool {
		return h.ctrl.Status() == StatusStopped
	}, 2*time.Second, 5*time.Millisecond)
}

func TestController_MutePreservesVolume(t *testing.T) {
	h := newHarness(t)

	h.ctrl.SetVolume(70)
	v, muted := h.ctrl.Volume()
	assert.Equal(t, 70, v)
	assert.False(t, muted)

	h.ctrl.ToggleMute()
	v, muted = h.ctrl.Volume()
	assert.Equal(t, 70, v)
	assert.True(t, muted)

	h.ctrl.ToggleMute()
	v, muted = h.ctrl.Volume()
	assert.Equal(t, 70, v)
	assert.False(t, muted)
}

func TestController_SetVolumeClearsMute(t *testing.T) {
	h := newHarness(t)

	h.ctrl.ToggleMute()
	h.ctrl.SetVolume(40)
	_, muted := h.ctrl.Volume()
	assert.False(t, muted)
}

func TestController_FavoritePatchPropagates(t *testing.T) {
	h := newHarness(t)

	tracks := makeTracks("a", "b")
	tracks[1].ID = "a" // Same song queued twice
	require.NoError(t, h.ctrl.ReplaceQueue(tracks, 0))

	h.ctrl.SetFavorite("a", track.ItemSong, true)

	for _, e := range h.store.Entries() {
		assert.True(t, e.Track.Favorite)
	}
	assert.Equal(t, 1, h.recorder.count(TypeFavorite))
}

func TestController_RatingPatchPublishes(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.ctrl.ReplaceQueue(makeTracks("a"), 0))
	h.ctrl.SetRating("a", track.ItemSong, 4)

	entries := h.store.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, 4, entries[0].Track.Rating)
	assert.Equal(t, 1, h.recorder.count(TypeRating))
}

func TestController_NaturalEndAdvances(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.ctrl.ReplaceQueue(makeTracks("a", "b"), 0))
	h.waitPlaying(t, "a")

	// Wait for the upcoming track to prefetch, then finish the active one.
	require.Eventually(t, func() bool {
		return h.resolver.callCount("b") > 0
	}, 2*time.Second, 5*time.Millisecond)

	active := h.slots[h.ctrl.coord.ActiveSlot()-1]
	active.AdvanceTo(99.9)
	h.waitPlaying(t, "b")
	assert.Equal(t, 1, h.store.Index())
}

func TestController_ShuffleKeepsCurrentAndPublishes(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.ctrl.ReplaceQueue(makeTracks("a", "b", "c", "d"), 1))
	h.waitPlaying(t, "b")

	h.ctrl.ToggleShuffle(true)
	cur := h.store.Current()
	require.NotNil(t, cur)
	assert.Equal(t, "b", cur.Track.ID)
	assert.Equal(t, 1, h.recorder.count(TypeShuffle))
}

func TestController_DropReordersQueueRows(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.ctrl.ReplaceQueue(makeTracks("a", "b", "c"), 0))
	entries := h.store.Entries()

	payload := queue.DropPayload{Kind: queue.DropQueueSong, UniqueIDs: []string{entries[2].UniqueID}}
	require.NoError(t, h.ctrl.DropTracks(context.Background(), payload, queue.EdgeTop, entries[1].UniqueID))

	got := h.store.Entries()
	assert.Equal(t, "c", got[1].Track.ID)
	assert.Equal(t, "b", got[2].Track.ID)
}

func TestController_DropLibraryEntityWithoutFetcher(t *testing.T) {
	h := newHarness(t)

	payload := queue.DropPayload{Kind: queue.DropAlbum, IDs: []string{"alb"}}
	err := h.ctrl.DropTracks(context.Background(), payload, queue.EdgeBottom, "")
	assert.Error(t, err)
}

func TestController_StaleLoadCannotSilenceNewerTrack(t *testing.T) {
	h := newHarness(t)

	// The first swap's load lands in slot 2 and stays in flight.
	gate := make(chan struct{})
	h.slots[1].LoadBlock = gate

	require.NoError(t, h.ctrl.ReplaceQueue(makeTracks("a", "b"), 0))
	require.Eventually(t, func() bool { return h.slots[1].LoadCalls() >= 1 },
		2*time.Second, 5*time.Millisecond, "first load never started")

	require.NoError(t, h.ctrl.Next())
	close(gate)

	h.waitPlaying(t, "b")

	// The superseded load's completion must not stop the slot b plays on.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, "media://b", h.activeURL())
	assert.Equal(t, StatusPlaying, h.ctrl.Status())
}

func TestController_PauseDuringCrossfadeSilencesBothSlots(t *testing.T) {
	h := newHarness(t)
	h.ctrl.SetTransition(coordinator.StyleCrossfade, 6)

	require.NoError(t, h.ctrl.ReplaceQueue(makeTracks("a", "b"), 0))
	h.waitPlaying(t, "a")

	// Tick inside the crossfade window until the prefetched slot joins in.
	require.Eventually(t, func() bool {
		h.slots[1].AdvanceTo(96)
		return h.slots[0].Playing()
	}, 2*time.Second, 5*time.Millisecond, "crossfade never started")

	require.NoError(t, h.ctrl.Pause())
	require.Eventually(t, func() bool {
		return !h.slots[0].Playing() && !h.slots[1].Playing()
	}, 2*time.Second, 5*time.Millisecond, "both slots must go silent after the pause fade")
	assert.Equal(t, StatusPaused, h.ctrl.Status())
}

func TestController_SeekClampsToTrackBounds(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.ctrl.ReplaceQueue(makeTracks("a"), 0))
	h.waitPlaying(t, "a")

	require.NoError(t, h.ctrl.SeekTo(500))
	assert.Equal(t, 100.0, h.slots[1].Position())
	p, ok := h.recorder.lastProgress()
	require.True(t, ok)
	assert.Equal(t, 100.0, p.Seconds)

	require.NoError(t, h.ctrl.SeekTo(-3))
	assert.Equal(t, 0.0, h.slots[1].Position())
}
