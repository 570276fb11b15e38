package downloads

import (
	"sync"
	"time"
)

// Download states.
const (
	StateDownloading = "downloading"
	StatePaused      = "paused"
	StateStopped     = "stopped"
	StateCompleted   = "completed"
	StateError       = "error"
)

// Status is a point-in-time snapshot of a download. Values are copies;
// callers never get a reference into the manager's own records.
type Status struct {
	Hash       string  `json:"hash"`
	State      string  `json:"state"`
	Name       string  `json:"name"`
	Size       int64   `json:"size"`
	Downloaded int64   `json:"downloaded"`
	Speed      float64 `json:"speed"` // bytes per second
}

// speedSampleWindow is the minimum interval between speed recomputations.
const speedSampleWindow = time.Second

// entry is the manager-owned live record for one download.
type entry struct {
	mu     sync.Mutex
	status Status
	ctl    *control

	lastSampleAt    time.Time
	lastSampleBytes int64
}

func newEntry(hash, name string, size int64) *entry {
	return &entry{
		status: Status{
			Hash:  hash,
			State: StateDownloading,
			Name:  name,
			Size:  size,
		},
		ctl:          &control{},
		lastSampleAt: time.Now(),
	}
}

// snapshot returns a copy of the current status.
func (e *entry) snapshot() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// setState updates the lifecycle state; leaving downloading resets speed.
func (e *entry) setState(state string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status.State = state
	if state != StateDownloading {
		e.status.Speed = 0
	}
}

// addBytes accumulates written bytes and recomputes the instantaneous speed
// at most once per sample window.
func (e *entry) addBytes(n int64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.status.Downloaded += n

	now := time.Now()
	elapsed := now.Sub(e.lastSampleAt)
	if elapsed < speedSampleWindow {
		return
	}
	e.status.Speed = float64(e.status.Downloaded-e.lastSampleBytes) / elapsed.Seconds()
	e.lastSampleAt = now
	e.lastSampleBytes = e.status.Downloaded
}

// finish marks natural completion: downloaded equals size, speed zero.
func (e *entry) finish() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status.State = StateCompleted
	e.status.Downloaded = e.status.Size
	e.status.Speed = 0
}
