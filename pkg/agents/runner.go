// Package agents holds the three autonomous drivers of exchange flow: the
// factory supplier, the outlet purchasing agent, and the retail customer
// simulator. Each runs on its own ticker and can be started and stopped
// independently; closed outlets are invisible to all of them.
package agents

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// runner gives each agent an idempotent Start/Stop ticker loop. Stop waits
// for any in-flight tick to finish before returning.
type runner struct {
	name   string
	period time.Duration
	log    zerolog.Logger

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	running bool
}

func newRunner(name string, period time.Duration, log zerolog.Logger) runner {
	return runner{
		name:   name,
		period: period,
		log:    log.With().Str("agent", name).Logger(),
	}
}

// start launches the tick loop. Double-start is a no-op.
func (r *runner) start(tick func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true
	r.stop = make(chan struct{})
	r.done = make(chan struct{})

	go func(stop, done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(r.period)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				tick()
			}
		}
	}(r.stop, r.done)

	r.log.Info().Dur("period", r.period).Msg("agent started")
}

// Stop signals the loop and waits for the in-flight tick. Double-stop is a
// no-op.
func (r *runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stop)
	done := r.done
	r.mu.Unlock()

	<-done
	r.log.Info().Msg("agent stopped")
}
