package beep

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"testing"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSettings(t *testing.T) {
	s, err := ParseSettings(map[string]any{"sample_rate": 48000})
	require.NoError(t, err)
	assert.Equal(t, 48000, s.SampleRate)
	assert.Equal(t, 100, s.BufferMs, "unset keys keep their defaults")

	s, err = ParseSettings(nil)
	require.NoError(t, err)
	assert.Equal(t, 44100, s.SampleRate)
}

func TestParseSettings_BadType(t *testing.T) {
	_, err := ParseSettings(map[string]any{"sample_rate": []string{"x"}})
	assert.Error(t, err)
}

// wavBytes builds a minimal 16-bit mono PCM file.
func wavBytes(sampleRate, numSamples int) []byte {
	var buf bytes.Buffer
	dataSize := numSamples * 2

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVEfmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // Mono
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*2))
	binary.Write(&buf, binary.LittleEndian, uint16(2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataSize))
	buf.Write(make([]byte, dataSize))
	return buf.Bytes()
}

func TestDecode_WAV(t *testing.T) {
	rc := io.NopCloser(bytes.NewReader(wavBytes(8000, 400)))
	streamer, format, err := decode(rc, "clip.wav")
	require.NoError(t, err)
	defer streamer.Close()

	assert.Equal(t, beep.SampleRate(8000), format.SampleRate)
	assert.Equal(t, 400, streamer.Len())
}

func TestDecode_GarbageFails(t *testing.T) {
	rc := io.NopCloser(bytes.NewReader([]byte("not audio")))
	_, _, err := decode(rc, "clip.flac")
	assert.Error(t, err)
}

func TestOpen_MissingFile(t *testing.T) {
	_, _, err := open(context.Background(), "/no/such/file.mp3")
	assert.Error(t, err)
}

func TestSlotStreamer_DeadDetaches(t *testing.T) {
	s := &slotStreamer{inner: beep.Silence(-1)}
	samples := make([][2]float64, 8)

	n, ok := s.Stream(samples)
	assert.Equal(t, 8, n)
	assert.True(t, ok)

	s.dead = true
	n, ok = s.Stream(samples)
	assert.Zero(t, n)
	assert.False(t, ok, "a dead slot reports completion so the mixer drops it")
}

// The completion hook fires on the speaker goroutine with the speaker mutex
// held. It must never take the engine mutex inline: an intent holding the
// engine mutex while waiting for the speaker mutex would deadlock against it.
func TestEndedTrigger_DoesNotBlockOnEngineMutex(t *testing.T) {
	e := &Engine{gen: 1, loaded: true}
	fired := make(chan struct{})
	e.onEnded = func() { close(fired) }

	e.mu.Lock()
	returned := make(chan struct{})
	go func() {
		e.endedTrigger(1)()
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		e.mu.Unlock()
		t.Fatal("completion hook blocked while the engine mutex was held")
	}
	e.mu.Unlock()

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("ended callback never fired")
	}
}
