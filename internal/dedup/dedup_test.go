package dedup

import (
	"fmt"
	"testing"
	"time"
)

func TestShouldNotify_FreshID(t *testing.T) {
	tr := New(5 * time.Minute)
	if !tr.ShouldNotify("deal-1") {
		t.Error("Expected a never-seen ID to be eligible")
	}
}

func TestShouldNotify_SuppressedInsideWindow(t *testing.T) {
	now := time.Now()
	tr := NewWithClock(5*time.Minute, func() time.Time { return now })

	tr.MarkNotified("deal-1")
	if tr.ShouldNotify("deal-1") {
		t.Error("Expected a just-notified ID to be suppressed")
	}

	now = now.Add(4 * time.Minute)
	if tr.ShouldNotify("deal-1") {
		t.Error("Expected suppression to hold inside the window")
	}
}

func TestShouldNotify_EligibleAfterWindow(t *testing.T) {
	now := time.Now()
	tr := NewWithClock(5*time.Minute, func() time.Time { return now })

	tr.MarkNotified("deal-1")
	now = now.Add(5 * time.Minute)
	if !tr.ShouldNotify("deal-1") {
		t.Error("Expected eligibility once the window has elapsed")
	}
}

func TestMarkNotified_MostRecentWins(t *testing.T) {
	now := time.Now()
	tr := NewWithClock(5*time.Minute, func() time.Time { return now })

	tr.MarkNotified("deal-1")
	now = now.Add(4 * time.Minute)
	tr.MarkNotified("deal-1")

	// 4 minutes after the second notification: still suppressed even though
	// the first one is 8 minutes old.
	now = now.Add(4 * time.Minute)
	if tr.ShouldNotify("deal-1") {
		t.Error("Expected the most recent notification time to govern suppression")
	}
}

func TestMarkNotifiedAt_HonorsReplayedTime(t *testing.T) {
	now := time.Now()
	tr := NewWithClock(5*time.Minute, func() time.Time { return now })

	// Replaying a record from 3 minutes ago leaves 2 minutes of
	// suppression, not a fresh window.
	tr.MarkNotifiedAt("deal-1", now.Add(-3*time.Minute))
	if tr.ShouldNotify("deal-1") {
		t.Error("Expected suppression 3 minutes into the window")
	}

	now = now.Add(2 * time.Minute)
	if !tr.ShouldNotify("deal-1") {
		t.Error("Expected eligibility once the replayed window elapsed")
	}
}

func TestPrune_BoundsMemory(t *testing.T) {
	now := time.Now()
	tr := NewWithClock(5*time.Minute, func() time.Time { return now })

	for i := 0; i < pruneThreshold; i++ {
		tr.MarkNotified(fmt.Sprintf("old-%d", i))
	}
	// Jump past twice the window so the old entries are prunable.
	now = now.Add(11 * time.Minute)
	tr.MarkNotified("fresh")

	if tr.Len() != 1 {
		t.Errorf("Expected only the fresh entry to survive pruning, got %d entries", tr.Len())
	}
	if tr.ShouldNotify("fresh") {
		t.Error("Expected the fresh entry to remain suppressed")
	}
}
