// Package autodj keeps the queue topped up: when the remaining track count
// drops below a threshold it fetches related tracks from the library source
// and appends them, without ever blocking the transport.
package autodj

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"math/rand"
	"sync"

	zlog "github.com/rs/zerolog/log"

	"github.com/cadencefm/cadence/internal/app/events"
	"github.com/cadencefm/cadence/internal/app/queue"
	"github.com/cadencefm/cadence/internal/app/transport"
	"github.com/cadencefm/cadence/internal/domain/track"
)

// Filter narrows a random-track fetch.
type Filter struct {
	Genre         string
	AlbumArtistID string
}

// Source is the library collaborator the continuation chain draws from.
// Fetches must be side-effect-free on failure.
type Source interface {
	FetchSimilar(ctx context.Context, seed track.Track, count int) ([]track.Track, error)
	FetchRandom(ctx context.Context, f Filter, count int) ([]track.Track, error)
	SupportsSimilar() bool
}

// Config holds continuation settings.
type Config struct {
	Enabled   bool
	Threshold int // Remaining-count floor that triggers a run
	Batch     int // Tracks appended per run
}

// Engine watches queue depletion and runs the continuation fallback chain.
// A run fires once per current song when the remaining count first drops
// below the threshold (edge-triggered), and never while another run is in
// flight.
type Engine struct {
	mu       sync.Mutex
	store    *queue.Store
	source   Source
	cfg      Config
	rng      *rand.Rand
	inFlight bool
	lastEdge string // UniqueID of the song whose edge already fired

	ctx    context.Context
	cancel context.CancelFunc
}

// NewEngine creates a continuation engine over the queue store.
func NewEngine(store *queue.Store, source Source, cfg Config) *Engine {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 10
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:  store,
		source: source,
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(cryptoSeed())),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Attach subscribes the engine to the transport events that can change the
// remaining count.
func (e *Engine) Attach(bus *events.Bus) {
	bus.Subscribe(transport.TypeSongChange, func(events.Event) { e.Evaluate() })
	bus.Subscribe(transport.TypeQueue, func(events.Event) { e.Evaluate() })
}

// Close stops any in-flight continuation run.
func (e *Engine) Close() {
	e.cancel()
}

// Evaluate re-checks the continuation condition and starts an async run
// when the edge fires.
func (e *Engine) Evaluate() {
	if !e.cfg.Enabled {
		return
	}
	cur := e.store.Current()
	if cur == nil {
		return
	}
	if e.store.RemainingCount() >= e.cfg.Threshold {
		return
	}

	e.mu.Lock()
	if e.inFlight || e.lastEdge == cur.UniqueID {
		e.mu.Unlock()
		return
	}
	e.inFlight = true
	e.lastEdge = cur.UniqueID
	e.mu.Unlock()

	go e.run(cur.Track)
}

// run executes the fallback chain: similar, genre random (with a random
// blend when similar was skipped), album-artist, fully random. Each step is
// fallible; a failure logs and the chain continues as if the step returned
// nothing.
func (e *Engine) run(seed track.Track) {
	defer func() {
		e.mu.Lock()
		e.inFlight = false
		e.mu.Unlock()
	}()

	need := e.cfg.Batch
	pool := make([]track.Track, 0, need*2)
	seen := e.store.TrackIDSet()
	similarSkipped := true

	if e.source.SupportsSimilar() {
		similarSkipped = false
		pool = e.collect(pool, seen, func(ctx context.Context) ([]track.Track, error) {
			return e.source.FetchSimilar(ctx, seed, need*2)
		}, "similar")
	}

	if len(pool) < need && seed.Genre != "" {
		pool = e.collect(pool, seen, func(ctx context.Context) ([]track.Track, error) {
			return e.source.FetchRandom(ctx, Filter{Genre: seed.Genre}, need*2)
		}, "genre random")
		if similarSkipped {
			// A pinch of fully-random tracks keeps a genre-only pool
			// from going stale.
			blend := need / 5
			if blend < 1 {
				blend = 1
			}
			pool = e.collect(pool, seen, func(ctx context.Context) ([]track.Track, error) {
				return e.source.FetchRandom(ctx, Filter{}, blend)
			}, "random blend")
		}
	}

	if len(pool) < need && seed.AlbumArtistID != "" {
		pool = e.collect(pool, seen, func(ctx context.Context) ([]track.Track, error) {
			return e.source.FetchRandom(ctx, Filter{AlbumArtistID: seed.AlbumArtistID}, need*2)
		}, "album artist")
	}

	if len(pool) < need {
		pool = e.collect(pool, seen, func(ctx context.Context) ([]track.Track, error) {
			return e.source.FetchRandom(ctx, Filter{}, need*2)
		}, "random")
	}

	if len(pool) == 0 {
		zlog.Debug().Msgf("autodj: no continuation candidates found: seed=%s", seed.Name)
		return
	}

	e.mu.Lock()
	e.rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	e.mu.Unlock()

	// The queue may have changed while fetching; recompute the dedup set
	// at append time so a racing insert cannot produce duplicates.
	existing := e.store.TrackIDSet()
	batch := make([]track.Track, 0, need)
	for _, t := range pool {
		if existing[t.ID] {
			continue
		}
		existing[t.ID] = true
		batch = append(batch, t)
		if len(batch) == need {
			break
		}
	}
	if len(batch) == 0 {
		return
	}

	e.store.InsertAt(batch, queue.PositionLast)
	zlog.Info().Msgf("autodj: appended continuation tracks: count=%d seed=%s", len(batch), seed.Name)
}

// collect runs one fallback step, deduplicates its results against the
// queue and the pool, and logs instead of failing.
func (e *Engine) collect(pool []track.Track, seen map[string]bool, fetch func(context.Context) ([]track.Track, error), step string) []track.Track {
	got, err := fetch(e.ctx)
	if err != nil {
		zlog.Warn().Msgf("autodj: continuation step failed, continuing: step=%s error=%v", step, err)
		return pool
	}
	for _, t := range got {
		if t.ID == "" || seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		pool = append(pool, t)
	}
	return pool
}

// cryptoSeed produces a non-deterministic seed for shuffle randomness.
func cryptoSeed() int64 {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return 1
	}
	return int64(binary.LittleEndian.Uint64(b[:]))
}
