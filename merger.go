package rowpipe

import (
	"sync"
	"time"
)

// monitor merges terminal states of all instances. The first fatal
// failure stops the run.
type monitor struct {
	mu   sync.Mutex
	seq  int
	stop func()
}

// done is called by instance right after it reached terminal state.
func (m *monitor) done(in *instance) {
	in.meter.Done(in.status.String())
	if in.status != Failed {
		return
	}
	m.mu.Lock()
	m.seq++
	in.seq = m.seq
	in.failedAt = time.Now()
	m.mu.Unlock()
	if !in.Tolerated {
		m.stop()
	}
}
