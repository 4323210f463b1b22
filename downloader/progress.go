package downloader

import (
	"sync"
	"time"

	"fetchtube/internal"
)

// purgeDelay is how long a terminal snapshot stays readable so a polling
// notifier can still observe the final state before the entry disappears.
const purgeDelay = 5 * time.Second

// ProgressTracker is the process-wide store mapping a download correlation id
// to its latest progress snapshot. Written by the orchestrator, read by the
// notifier. Entries are created lazily on first publish and purged a short
// delay after reaching a terminal state.
type ProgressTracker struct {
	mutex     sync.RWMutex
	snapshots map[string]*internal.ProgressSnapshot
}

// NewProgressTracker creates an empty tracker
func NewProgressTracker() *ProgressTracker {
	return &ProgressTracker{
		snapshots: make(map[string]*internal.ProgressSnapshot),
	}
}

// Get returns the latest snapshot for id, or nil if none exists
func (t *ProgressTracker) Get(id string) *internal.ProgressSnapshot {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	snap, ok := t.snapshots[id]
	if !ok {
		return nil
	}
	copied := *snap
	return &copied
}

// Publish records a snapshot for id. The displayed percent never regresses:
// a lower value than the stored one is clamped up to the stored value.
func (t *ProgressTracker) Publish(id string, snap internal.ProgressSnapshot) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if prev, ok := t.snapshots[id]; ok && snap.Progress < prev.Progress {
		snap.Progress = prev.Progress
	}
	t.snapshots[id] = &snap
}

// Update publishes a non-terminal snapshot from its parts
func (t *ProgressTracker) Update(id string, percent float64, message string, phase internal.Phase) {
	t.Publish(id, internal.ProgressSnapshot{
		Progress: percent,
		Message:  message,
		Phase:    phase,
	})
}

// Complete marks id finished at 100% and schedules the entry for purge
func (t *ProgressTracker) Complete(id, message string) {
	t.Publish(id, internal.ProgressSnapshot{
		Progress:  100,
		Message:   message,
		Phase:     internal.PhaseComplete,
		Completed: true,
		FileReady: true,
	})
	t.purgeAfter(id, purgeDelay)
}

// Fail marks id failed with the given phase and user-facing error text and
// schedules the entry for purge.
func (t *ProgressTracker) Fail(id, errText string, phase internal.Phase) {
	t.mutex.Lock()
	progress := 0.0
	if prev, ok := t.snapshots[id]; ok {
		progress = prev.Progress
	}
	t.snapshots[id] = &internal.ProgressSnapshot{
		Progress:  progress,
		Message:   errText,
		Phase:     phase,
		Error:     errText,
		Completed: true,
	}
	t.mutex.Unlock()
	t.purgeAfter(id, purgeDelay)
}

// Delete removes the entry for id immediately
func (t *ProgressTracker) Delete(id string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	delete(t.snapshots, id)
}

// Len reports how many snapshots are currently tracked
func (t *ProgressTracker) Len() int {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return len(t.snapshots)
}

func (t *ProgressTracker) purgeAfter(id string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		t.Delete(id)
	})
}
