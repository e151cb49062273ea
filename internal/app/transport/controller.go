package transport

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/cadencefm/cadence/internal/app/coordinator"
	"github.com/cadencefm/cadence/internal/app/events"
	"github.com/cadencefm/cadence/internal/app/queue"
	"github.com/cadencefm/cadence/internal/domain/track"
)

// Errors
var (
	ErrQueueEmpty = errors.New("queue is empty")
	ErrNoTrack    = errors.New("no current track")
	ErrNotPlaying = errors.New("not playing")
)

// Source is a playable media binding resolved from a track reference.
type Source struct {
	URL      string
	Lossless bool
}

// Resolver resolves a track reference into a playable source.
type Resolver interface {
	Resolve(ctx context.Context, t track.Track) (Source, error)
}

// TrackFetcher expands a dropped library entity into its tracks.
type TrackFetcher interface {
	FetchForDrop(ctx context.Context, payload queue.DropPayload) ([]track.Track, error)
}

// Config holds transport configuration.
type Config struct {
	Volume           int           // Initial volume 0..100
	Speed            float64       // Initial playback speed
	ProgressInterval time.Duration // Minimum interval between progress events
}

// Controller is the transport state machine. All user intents enter here;
// it drives the queue store and the slot coordinator and publishes state
// changes on the event bus.
type Controller struct {
	mu sync.Mutex

	queue    *queue.Store
	coord    *coordinator.Coordinator
	resolver Resolver
	fetcher  TrackFetcher
	bus      *events.Bus

	status  Status
	loading bool
	speed   float64
	volume  int // Stored value 0..100, kept while muted
	muted   bool

	// epoch invalidates in-flight async loads: any intent that changes
	// which track should be current bumps it, and a load completion
	// carrying an older epoch is discarded (last writer wins).
	epoch           uint64
	lastBoundarySeq uint64
	failStreak      int

	progressEvery time.Duration
	lastProgress  time.Time

	fade fader

	ctx    context.Context
	cancel context.CancelFunc
}

// NewController creates a transport controller over a queue store and a
// slot coordinator. fetcher may be nil when drag-and-drop of library
// entities is not needed.
func NewController(q *queue.Store, coord *coordinator.Coordinator, resolver Resolver, fetcher TrackFetcher, bus *events.Bus, cfg Config) *Controller {
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = 300 * time.Millisecond
	}
	if cfg.Speed <= 0 {
		cfg.Speed = 1.0
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		queue:         q,
		coord:         coord,
		resolver:      resolver,
		fetcher:       fetcher,
		bus:           bus,
		status:        StatusStopped,
		speed:         cfg.Speed,
		volume:        clampVolume(cfg.Volume),
		progressEvery: cfg.ProgressInterval,
		ctx:           ctx,
		cancel:        cancel,
	}
	coord.SetHandlers(c.handleProgress, c.handleBoundary)
	coord.SetMasterVolume(volumeGain(c.volume))
	return c
}

// Close releases the controller. In-flight loads are abandoned.
func (c *Controller) Close() {
	c.cancel()
	c.fade.Cancel()
	c.coord.StopAll()
}

// Play starts or resumes playback. Playing is a no-op; paused resumes;
// stopped starts the current queue entry.
func (c *Controller) Play() error {
	c.mu.Lock()
	switch c.status {
	case StatusPlaying:
		c.mu.Unlock()
		return nil
	case StatusPaused:
		c.status = StatusPlaying
		c.mu.Unlock()
		c.fade.Cancel()
		c.coord.SetMasterVolume(c.currentGain())
		if err := c.coord.PlayActive(); err != nil {
			return errors.Wrap(err, "failed to resume playback")
		}
		c.publishStatus()
		return nil
	}
	c.mu.Unlock()

	cur := c.queue.Current()
	if cur == nil {
		return ErrQueueEmpty
	}
	c.startEntry(*cur)
	return nil
}

// Pause fades the output down over a short ramp and pauses the active
// slot. The stored volume is restored afterwards so resume starts at full
// gain.
func (c *Controller) Pause() error {
	c.mu.Lock()
	if c.status != StatusPlaying {
		c.mu.Unlock()
		return ErrNotPlaying
	}
	c.status = StatusPaused
	c.mu.Unlock()

	gain := c.currentGain()
	c.fade.fadeOut(pauseFadeDuration, gain,
		func(g float64) { c.coord.SetMasterVolume(g) },
		func() {
			_ = c.coord.PauseActive()
			c.coord.SetMasterVolume(c.currentGain())
		})
	c.publishStatus()
	return nil
}

// TogglePlayPause flips between playing and paused.
func (c *Controller) TogglePlayPause() error {
	c.mu.Lock()
	playing := c.status == StatusPlaying
	c.mu.Unlock()
	if playing {
		return c.Pause()
	}
	return c.Play()
}

// Stop halts playback and releases both slots. The queue is untouched.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.epoch++
	c.status = StatusStopped
	c.loading = false
	c.mu.Unlock()

	c.fade.Cancel()
	c.coord.StopAll()
	c.publishStatus()
}

// SeekTo moves the playhead of the active track, clamped to the track
// bounds so consumers never see an out-of-range timestamp.
func (c *Controller) SeekTo(seconds float64) error {
	c.mu.Lock()
	if c.status == StatusStopped {
		c.mu.Unlock()
		return ErrNoTrack
	}
	c.lastProgress = time.Time{} // Next progress tick publishes immediately
	c.mu.Unlock()

	duration := c.coord.Duration()
	if seconds < 0 {
		seconds = 0
	}
	if duration > 0 && seconds > duration {
		seconds = duration
	}

	if err := c.coord.SeekActive(seconds); err != nil {
		return errors.Wrap(err, "failed to seek")
	}
	c.bus.Publish(ProgressEvent{Seconds: seconds, Duration: duration})
	return nil
}

// Next advances to the next queue entry under the current repeat mode.
// At the end of the queue with repeat off, playback stops.
func (c *Controller) Next() error {
	next := c.queue.Next()
	if next == nil {
		c.endOfQueue()
		return nil
	}
	c.startEntry(*next)
	return nil
}

// Previous steps back to the previous queue entry.
func (c *Controller) Previous() error {
	prev := c.queue.Previous()
	if prev == nil {
		return ErrQueueEmpty
	}
	c.startEntry(*prev)
	return nil
}

// SetVolume stores a new volume (0..100) and applies the logarithmic gain
// to the coordinator. Setting a volume clears mute.
func (c *Controller) SetVolume(volume int) {
	c.mu.Lock()
	c.volume = clampVolume(volume)
	c.muted = false
	v, m := c.volume, c.muted
	c.mu.Unlock()

	c.coord.SetMasterVolume(volumeGain(v))
	c.bus.Publish(VolumeEvent{Volume: v, Muted: m})
}

// ToggleMute silences the output without losing the stored volume.
func (c *Controller) ToggleMute() {
	c.mu.Lock()
	c.muted = !c.muted
	v, m := c.volume, c.muted
	c.mu.Unlock()

	c.coord.SetMasterVolume(c.currentGain())
	c.bus.Publish(VolumeEvent{Volume: v, Muted: m})
}

// SetSpeed stores a new playback speed.
func (c *Controller) SetSpeed(speed float64) {
	c.mu.Lock()
	c.speed = clampSpeed(speed)
	c.mu.Unlock()
	c.publishStatus()
}

// SetTransition switches the boundary style for subsequent handoffs.
func (c *Controller) SetTransition(style coordinator.Style, crossfadeSec float64) {
	c.coord.SetStyle(style, crossfadeSec)
}

// ReplaceQueue replaces the whole queue and starts playing at startIndex.
func (c *Controller) ReplaceQueue(tracks []track.Track, startIndex int) error {
	entry := c.queue.SetQueue(tracks, startIndex)
	c.publishQueue()
	if entry == nil {
		c.Stop()
		return ErrQueueEmpty
	}
	c.startEntry(*entry)
	return nil
}

// AddToQueue inserts tracks at the given position. PositionNow starts the
// first inserted track immediately.
func (c *Controller) AddToQueue(tracks []track.Track, pos queue.Position) {
	entry := c.queue.InsertAt(tracks, pos)
	c.publishQueue()
	if pos == queue.PositionNow && entry != nil {
		c.startEntry(*entry)
		return
	}
	go c.refreshNext(c.currentEpoch())
}

// RemoveFromQueue removes entries by unique ID. If the current entry was
// removed while playing, playback moves to the surviving successor.
func (c *Controller) RemoveFromQueue(uniqueIDs []string) {
	before := c.queue.Current()
	after := c.queue.RemoveByUniqueID(uniqueIDs)
	c.publishQueue()

	c.mu.Lock()
	active := c.status != StatusStopped
	c.mu.Unlock()
	if !active {
		return
	}

	switch {
	case after == nil:
		c.endOfQueue()
	case before != nil && before.UniqueID != after.UniqueID:
		c.startEntry(*after)
	default:
		go c.refreshNext(c.currentEpoch())
	}
}

// MoveInQueue reorders entries relative to a target row.
func (c *Controller) MoveInQueue(sourceUniqueIDs []string, edge queue.Edge, targetUniqueID string) {
	c.queue.MoveTo(sourceUniqueIDs, edge, targetUniqueID)
	c.publishQueue()
	go c.refreshNext(c.currentEpoch())
}

// DropTracks handles a drag-and-drop payload: queue rows reorder in place,
// library entities are expanded via the track fetcher and inserted before
// or after the target row (appended when there is no target).
func (c *Controller) DropTracks(ctx context.Context, payload queue.DropPayload, edge queue.Edge, targetUniqueID string) error {
	action, err := payload.Action()
	if err != nil {
		return err
	}

	if action == queue.DropReorder {
		c.MoveInQueue(payload.UniqueIDs, edge, targetUniqueID)
		return nil
	}

	if c.fetcher == nil {
		return errors.New("no track fetcher configured")
	}
	tracks, err := c.fetcher.FetchForDrop(ctx, payload)
	if err != nil {
		return errors.Wrapf(err, "failed to expand dropped %s", payload.Kind)
	}
	if len(tracks) == 0 {
		return nil
	}

	if targetUniqueID != "" {
		c.queue.InsertAnchored(tracks, targetUniqueID, edge == queue.EdgeBottom)
	} else {
		c.queue.InsertAt(tracks, queue.PositionLast)
	}
	c.publishQueue()
	go c.refreshNext(c.currentEpoch())
	return nil
}

// ToggleShuffle switches shuffle mode. The currently playing entry stays
// current.
func (c *Controller) ToggleShuffle(enabled bool) {
	c.queue.ToggleShuffle(enabled)
	c.bus.Publish(ShuffleEvent{Enabled: enabled})
	c.publishQueue()
	go c.refreshNext(c.currentEpoch())
}

// SetRepeat changes the repeat mode.
func (c *Controller) SetRepeat(mode queue.RepeatMode) {
	c.queue.SetRepeat(mode)
	c.bus.Publish(RepeatEvent{Mode: mode})
	go c.refreshNext(c.currentEpoch())
}

// SetFavorite flags an entity as favorite and patches every queue entry it
// covers.
func (c *Controller) SetFavorite(id string, itemType track.ItemType, favorite bool) {
	n := c.queue.PatchByEntityID(id, itemType, track.Patch{Favorite: &favorite})
	c.bus.Publish(FavoriteEvent{ID: id, ItemType: itemType, Favorite: favorite, Patched: n})
}

// SetRating rates an entity and patches every queue entry it covers.
func (c *Controller) SetRating(id string, itemType track.ItemType, rating int) {
	n := c.queue.PatchByEntityID(id, itemType, track.Patch{Rating: &rating})
	c.bus.Publish(RatingEvent{ID: id, ItemType: itemType, Rating: rating, Patched: n})
}

// Status returns the current transport status.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Volume returns the stored volume and the mute flag.
func (c *Controller) Volume() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.volume, c.muted
}

// Position returns the active playhead in seconds.
func (c *Controller) Position() float64 {
	return c.coord.Position()
}

// startEntry makes the given entry current: the epoch advances so any
// in-flight load is invalidated, then the source resolves and loads on a
// worker goroutine.
func (c *Controller) startEntry(e track.QueueEntry) {
	c.mu.Lock()
	c.epoch++
	epoch := c.epoch
	c.loading = true
	c.status = StatusPlaying
	c.mu.Unlock()

	c.fade.Cancel()
	c.publishStatus()
	go c.loadAndPlay(epoch, e)
}

func (c *Controller) loadAndPlay(epoch uint64, e track.QueueEntry) {
	src, err := c.resolver.Resolve(c.ctx, e.Track)
	if err == nil {
		if c.staleEpoch(epoch) {
			return
		}
		err = c.coord.SwapTo(c.ctx, src.URL, src.Lossless)
		if errors.Is(err, coordinator.ErrSuperseded) {
			// A newer track owns the slots now; this load is history.
			return
		}
	}
	if err == nil {
		if c.staleEpoch(epoch) {
			return
		}
		err = c.coord.PlayActive()
	}
	if err != nil {
		zlog.Warn().Msgf("transport: failed to start track, skipping: track=%s error=%v", e.Track.Name, err)
		c.bus.Publish(ErrorEvent{Message: "failed to load " + e.Track.Name, Err: err})
		c.advanceAfterFailure(epoch)
		return
	}

	c.mu.Lock()
	c.loading = false
	c.failStreak = 0
	c.mu.Unlock()

	c.bus.Publish(SongChangeEvent{Entry: e, Index: c.queue.Index()})
	c.publishStatus()
	c.refreshNext(epoch)
}

// advanceAfterFailure skips past a track that would not load. When every
// remaining entry has failed in a row, playback stops instead of spinning
// through the queue forever.
func (c *Controller) advanceAfterFailure(epoch uint64) {
	if c.staleEpoch(epoch) {
		return
	}

	c.mu.Lock()
	c.failStreak++
	streak := c.failStreak
	c.mu.Unlock()

	if streak >= c.queue.Len() {
		zlog.Error().Msgf("transport: every queue entry failed to load, stopping: attempts=%d", streak)
		c.Stop()
		return
	}

	next := c.queue.Next()
	if next == nil {
		c.endOfQueue()
		return
	}
	c.startEntry(*next)
}

// endOfQueue handles the repeat-off sentinel: playback stops and the queue
// index stays parked at the tail.
func (c *Controller) endOfQueue() {
	c.mu.Lock()
	c.epoch++
	c.status = StatusStopped
	c.loading = false
	c.mu.Unlock()

	c.fade.Cancel()
	c.coord.StopAll()
	c.bus.Publish(QueueEndedEvent{})
	c.publishStatus()
}

// refreshNext re-aims the coordinator's prefetch slot at the queue's
// upcoming entry. Resolution failures are left for the boundary's hard-cut
// path to retry.
func (c *Controller) refreshNext(epoch uint64) {
	peek := c.queue.PeekNext()
	if peek == nil {
		c.coord.ClearNext()
		return
	}
	src, err := c.resolver.Resolve(c.ctx, peek.Track)
	if err != nil {
		zlog.Warn().Msgf("transport: failed to resolve upcoming track: track=%s error=%v", peek.Track.Name, err)
		return
	}
	if c.staleEpoch(epoch) {
		return
	}
	c.coord.PrefetchNext(c.ctx, src.URL, src.Lossless)
}

// handleProgress is the coordinator progress callback, throttled down to
// the configured event rate.
func (c *Controller) handleProgress(seconds float64) {
	c.mu.Lock()
	now := time.Now()
	if now.Sub(c.lastProgress) < c.progressEvery {
		c.mu.Unlock()
		return
	}
	c.lastProgress = now
	c.mu.Unlock()

	c.bus.Publish(ProgressEvent{Seconds: seconds, Duration: c.coord.Duration()})
}

// handleBoundary is the coordinator boundary callback. The sequence number
// guards against a stale double-fire: each boundary advances the queue at
// most once.
func (c *Controller) handleBoundary(settled bool, seq uint64) {
	c.mu.Lock()
	if seq <= c.lastBoundarySeq {
		c.mu.Unlock()
		return
	}
	c.lastBoundarySeq = seq
	epoch := c.epoch
	c.mu.Unlock()

	next := c.queue.Next()
	if next == nil {
		c.endOfQueue()
		return
	}

	if settled {
		// The prefetched track is already playing in the new active
		// slot; only the bookkeeping advances.
		c.mu.Lock()
		c.failStreak = 0
		c.mu.Unlock()
		c.bus.Publish(SongChangeEvent{Entry: *next, Index: c.queue.Index()})
		go c.refreshNext(epoch)
		return
	}
	c.startEntry(*next)
}

func (c *Controller) publishStatus() {
	c.mu.Lock()
	ev := StatusEvent{Status: c.status, Loading: c.loading, Speed: c.speed}
	c.mu.Unlock()
	c.bus.Publish(ev)
}

func (c *Controller) publishQueue() {
	c.bus.Publish(QueueEvent{Length: c.queue.Len(), Index: c.queue.Index()})
}

func (c *Controller) currentGain() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.muted {
		return 0
	}
	return volumeGain(c.volume)
}

func (c *Controller) currentEpoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

func (c *Controller) staleEpoch(epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch != epoch
}

// volumeGain maps the 0..100 volume scale onto an exponential gain curve,
// which tracks perceived loudness better than a linear one.
func volumeGain(volume int) float64 {
	switch {
	case volume <= 0:
		return 0
	case volume >= 100:
		return 1
	default:
		return (math.Pow(10, float64(volume)/100) - 1) / 9
	}
}

func clampVolume(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func clampSpeed(s float64) float64 {
	if s < 0.25 {
		return 0.25
	}
	if s > 3.0 {
		return 3.0
	}
	return s
}
