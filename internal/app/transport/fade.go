package transport

import (
	"sync"
	"time"
)

const (
	pauseFadeDuration = 280 * time.Millisecond
	pauseFadeSteps    = 8
)

// fader runs a short tick-driven volume ramp before a pause. Starting a new
// fade or cancelling invalidates the running one, so fades never stack.
type fader struct {
	mu  sync.Mutex
	gen uint64
}

// fadeOut ramps apply() from the given gain down to zero over d, then calls
// done. A Cancel or a newer fadeOut supersedes it mid-ramp.
func (f *fader) fadeOut(d time.Duration, from float64, apply func(gain float64), done func()) {
	f.mu.Lock()
	f.gen++
	gen := f.gen
	f.mu.Unlock()

	go func() {
		step := d / pauseFadeSteps
		ticker := time.NewTicker(step)
		defer ticker.Stop()

		for i := 1; i <= pauseFadeSteps; i++ {
			<-ticker.C
			if f.stale(gen) {
				return
			}
			apply(from * float64(pauseFadeSteps-i) / pauseFadeSteps)
		}
		if f.stale(gen) {
			return
		}
		done()
	}()
}

// Cancel invalidates any running fade.
func (f *fader) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gen++
}

func (f *fader) stale(gen uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gen != gen
}
