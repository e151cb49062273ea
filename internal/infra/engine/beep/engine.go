// Package beep implements an engine slot on gopxl/beep: local files and
// HTTP streams decoded by extension, mixed into a single shared speaker.
package beep

import (
	"context"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/gopxl/beep/v2/vorbis"
	"github.com/gopxl/beep/v2/wav"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"
)

const progressInterval = 200 * time.Millisecond

// Settings is the engine block decoded from configuration.
type Settings struct {
	SampleRate int `mapstructure:"sample_rate"`
	BufferMs   int `mapstructure:"buffer_ms"`
}

// ParseSettings decodes the free-form engine settings map.
func ParseSettings(m map[string]any) (Settings, error) {
	s := Settings{SampleRate: 44100, BufferMs: 100}
	if err := mapstructure.Decode(m, &s); err != nil {
		return Settings{}, errors.Wrap(err, "failed to decode engine settings")
	}
	return s, nil
}

// The speaker is a process-wide singleton shared by both engine slots.
var (
	speakerOnce sync.Once
	speakerRate beep.SampleRate
	speakerErr  error
)

func initSpeaker(s Settings) (beep.SampleRate, error) {
	speakerOnce.Do(func() {
		speakerRate = beep.SampleRate(s.SampleRate)
		buf := time.Duration(s.BufferMs) * time.Millisecond
		speakerErr = speaker.Init(speakerRate, speakerRate.N(buf))
	})
	return speakerRate, speakerErr
}

// slotStreamer feeds one slot's audio into the shared speaker mixer. The
// mixer drops a streamer once it reports completion, so killing the wrapper
// is how a slot detaches without clearing the other slot's audio.
type slotStreamer struct {
	inner beep.Streamer
	dead  bool
}

func (s *slotStreamer) Stream(samples [][2]float64) (int, bool) {
	if s.dead {
		return 0, false
	}
	return s.inner.Stream(samples)
}

func (s *slotStreamer) Err() error { return nil }

// Engine is one playback slot. Two instances share the speaker mixer.
type Engine struct {
	mu sync.Mutex

	rate beep.SampleRate
	gain float64

	source   io.Closer
	streamer beep.StreamSeekCloser
	format   beep.Format
	ctrl     *beep.Ctrl
	volume   *effects.Volume
	slot     *slotStreamer
	loaded   bool
	playing  bool

	// gen invalidates the ended callback of a replaced load
	gen uint64

	onProgress func(float64)
	onEnded    func()

	stopProgress chan struct{}
}

// New creates an engine slot, initializing the shared speaker on first use.
func New(s Settings) (*Engine, error) {
	rate, err := initSpeaker(s)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize speaker")
	}
	e := &Engine{
		rate:         rate,
		gain:         1.0,
		stopProgress: make(chan struct{}),
	}
	go e.progressLoop()
	return e, nil
}

// Close detaches the slot from the speaker and stops its progress loop.
func (e *Engine) Close() {
	close(e.stopProgress)
	_ = e.Stop()
}

// Load opens and decodes a source, replacing any previous one.
func (e *Engine) Load(ctx context.Context, url string) error {
	rc, name, err := open(ctx, url)
	if err != nil {
		return err
	}
	streamer, format, err := decode(rc, name)
	if err != nil {
		rc.Close()
		return errors.Wrapf(err, "failed to decode %s", name)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.detachLocked()
	e.gen++
	gen := e.gen

	e.source = rc
	e.streamer = streamer
	e.format = format
	e.loaded = true
	e.playing = false

	e.ctrl = &beep.Ctrl{
		Streamer: beep.Seq(streamer, beep.Callback(e.endedTrigger(gen))),
		Paused:   true,
	}
	var out beep.Streamer = e.ctrl
	if format.SampleRate != e.rate {
		out = beep.Resample(4, format.SampleRate, e.rate, e.ctrl)
	}
	e.volume = &effects.Volume{Streamer: out, Base: 2}
	e.applyGainLocked()

	e.slot = &slotStreamer{inner: e.volume}
	speaker.Play(e.slot)

	zlog.Debug().Msgf("engine: loaded source: url=%s sample_rate=%d", url, format.SampleRate)
	return nil
}

// Play starts or resumes the loaded source.
func (e *Engine) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		return errors.New("no source loaded")
	}
	speaker.Lock()
	e.ctrl.Paused = false
	speaker.Unlock()
	e.playing = true
	return nil
}

// Pause pauses playback, keeping the position.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctrl != nil {
		speaker.Lock()
		e.ctrl.Paused = true
		speaker.Unlock()
	}
	e.playing = false
	return nil
}

// Stop releases the loaded source and detaches from the mixer.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.detachLocked()
	return nil
}

// SeekTo moves the playhead to the given position in seconds.
func (e *Engine) SeekTo(seconds float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		return errors.New("no source loaded")
	}

	n := e.format.SampleRate.N(time.Duration(seconds * float64(time.Second)))
	if n < 0 {
		n = 0
	}
	if last := e.streamer.Len() - 1; n > last {
		n = last
	}

	speaker.Lock()
	err := e.streamer.Seek(n)
	speaker.Unlock()
	return errors.Wrap(err, "failed to seek")
}

// SetVolume sets the slot gain, 0.0 to 1.0, on a log2 loudness curve.
func (e *Engine) SetVolume(gain float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gain = gain
	if e.volume != nil {
		speaker.Lock()
		e.applyGainLocked()
		speaker.Unlock()
	}
	return nil
}

// Position returns the current playhead position in seconds.
func (e *Engine) Position() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		return 0
	}
	speaker.Lock()
	pos := e.streamer.Position()
	speaker.Unlock()
	return e.format.SampleRate.D(pos).Seconds()
}

// Duration returns the loaded source duration in seconds.
func (e *Engine) Duration() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		return 0
	}
	return e.format.SampleRate.D(e.streamer.Len()).Seconds()
}

// OnProgress registers the progress callback.
func (e *Engine) OnProgress(fn func(float64)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onProgress = fn
}

// OnEnded registers the natural-completion callback.
func (e *Engine) OnEnded(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onEnded = fn
}

// detachLocked kills the mixer wrapper and releases the decoder.
func (e *Engine) detachLocked() {
	if e.slot != nil {
		speaker.Lock()
		e.slot.dead = true
		speaker.Unlock()
		e.slot = nil
	}
	if e.streamer != nil {
		_ = e.streamer.Close()
		e.streamer = nil
	}
	if e.source != nil {
		_ = e.source.Close()
		e.source = nil
	}
	e.ctrl = nil
	e.volume = nil
	e.loaded = false
	e.playing = false
}

// applyGainLocked maps linear gain onto the volume effect. Callers hold
// the engine mutex; the speaker lock is needed only once attached.
func (e *Engine) applyGainLocked() {
	if e.gain <= 0 {
		e.volume.Silent = true
		return
	}
	e.volume.Silent = false
	e.volume.Volume = math.Log2(e.gain)
}

// endedTrigger returns the completion hook for one load generation. It
// fires on the speaker goroutine with the speaker mutex held, so it must
// return without ever taking the engine mutex: an intent holding e.mu and
// waiting on the speaker mutex would otherwise deadlock against it.
func (e *Engine) endedTrigger(gen uint64) func() {
	return func() { go e.handleEnded(gen) }
}

// handleEnded runs on its own goroutine when the decoder drains. A stale
// generation means the source was replaced before the callback fired.
func (e *Engine) handleEnded(gen uint64) {
	e.mu.Lock()
	if e.gen != gen || !e.loaded {
		e.mu.Unlock()
		return
	}
	e.playing = false
	fn := e.onEnded
	e.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// progressLoop drives the progress callback while playing.
func (e *Engine) progressLoop() {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopProgress:
			return
		case <-ticker.C:
			e.mu.Lock()
			active := e.loaded && e.playing
			fn := e.onProgress
			e.mu.Unlock()
			if !active || fn == nil {
				continue
			}
			fn(e.Position())
		}
	}
}

// open returns a reader for a local path or HTTP URL plus a name whose
// extension selects the decoder.
func open(ctx context.Context, url string) (io.ReadCloser, string, error) {
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, "", errors.Wrap(err, "failed to build stream request")
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, "", errors.Wrap(err, "failed to open stream")
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, "", errors.Newf("stream request failed: status=%d", resp.StatusCode)
		}
		name := strings.Split(url, "?")[0]
		return resp.Body, name, nil
	}

	path := strings.TrimPrefix(url, "file://")
	f, err := os.Open(path)
	if err != nil {
		return nil, "", errors.Wrap(err, "failed to open file")
	}
	return f, path, nil
}

func decode(rc io.ReadCloser, name string) (beep.StreamSeekCloser, beep.Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".wav":
		return wav.Decode(rc)
	case ".flac":
		return flac.Decode(rc)
	case ".ogg", ".oga":
		return vorbis.Decode(rc)
	default:
		// MP3 also covers extension-less preview streams
		return mp3.Decode(rc)
	}
}
