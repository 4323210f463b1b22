package downloader

import (
	"testing"
	"time"

	"fetchtube/internal"
)

func TestTrackerGetMissing(t *testing.T) {
	tracker := NewProgressTracker()
	if snap := tracker.Get("nope"); snap != nil {
		t.Errorf("Get on unknown id = %+v, want nil", snap)
	}
}

func TestTrackerPublishAndGet(t *testing.T) {
	tracker := NewProgressTracker()
	tracker.Update("id1", 12.5, "Downloading...", internal.PhaseDownloading)

	snap := tracker.Get("id1")
	if snap == nil {
		t.Fatal("Get returned nil after Publish")
	}
	if snap.Progress != 12.5 {
		t.Errorf("Progress = %v, want 12.5", snap.Progress)
	}
	if snap.Phase != internal.PhaseDownloading {
		t.Errorf("Phase = %v, want downloading", snap.Phase)
	}
}

func TestTrackerMonotonicProgress(t *testing.T) {
	tracker := NewProgressTracker()
	tracker.Update("id1", 40, "forward", internal.PhaseDownloading)
	tracker.Update("id1", 25, "regression", internal.PhaseDownloading)

	snap := tracker.Get("id1")
	if snap.Progress != 40 {
		t.Errorf("Progress regressed to %v, want clamp at 40", snap.Progress)
	}
	if snap.Message != "regression" {
		t.Errorf("Message = %q, non-percent fields should still update", snap.Message)
	}

	tracker.Update("id1", 60, "forward again", internal.PhaseDownloading)
	if snap := tracker.Get("id1"); snap.Progress != 60 {
		t.Errorf("Progress = %v, want 60", snap.Progress)
	}
}

func TestTrackerGetReturnsCopy(t *testing.T) {
	tracker := NewProgressTracker()
	tracker.Update("id1", 10, "msg", internal.PhaseDownloading)

	snap := tracker.Get("id1")
	snap.Progress = 99

	if again := tracker.Get("id1"); again.Progress != 10 {
		t.Error("mutating Get() result changed tracker state")
	}
}

func TestTrackerComplete(t *testing.T) {
	tracker := NewProgressTracker()
	tracker.Update("id1", 50, "halfway", internal.PhaseDownloading)
	tracker.Complete("id1", "Download complete")

	snap := tracker.Get("id1")
	if snap == nil {
		t.Fatal("snapshot purged before grace period")
	}
	if snap.Progress != 100 || !snap.Completed || !snap.FileReady {
		t.Errorf("Complete snapshot = %+v", snap)
	}
	if snap.Phase != internal.PhaseComplete {
		t.Errorf("Phase = %v, want complete", snap.Phase)
	}
}

func TestTrackerFailKeepsProgress(t *testing.T) {
	tracker := NewProgressTracker()
	tracker.Update("id1", 70, "going", internal.PhaseDownloading)
	tracker.Fail("id1", "access blocked", internal.PhaseError)

	snap := tracker.Get("id1")
	if snap == nil {
		t.Fatal("snapshot purged before grace period")
	}
	if snap.Progress != 70 {
		t.Errorf("Progress = %v, want 70 retained", snap.Progress)
	}
	if snap.Error != "access blocked" || !snap.Completed {
		t.Errorf("Fail snapshot = %+v", snap)
	}
}

func TestTrackerPurgeAfterDelay(t *testing.T) {
	tracker := NewProgressTracker()
	tracker.Update("id1", 50, "halfway", internal.PhaseDownloading)
	tracker.purgeAfter("id1", 10*time.Millisecond)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if tracker.Get("id1") == nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("snapshot never purged")
}

func TestTrackerIndependentKeys(t *testing.T) {
	tracker := NewProgressTracker()
	tracker.Update("a", 10, "", internal.PhaseDownloading)
	tracker.Update("b", 90, "", internal.PhaseDownloading)

	if snap := tracker.Get("a"); snap.Progress != 10 {
		t.Errorf("a Progress = %v, want 10", snap.Progress)
	}
	if snap := tracker.Get("b"); snap.Progress != 90 {
		t.Errorf("b Progress = %v, want 90", snap.Progress)
	}
	if tracker.Len() != 2 {
		t.Errorf("Len = %d, want 2", tracker.Len())
	}
}
