package summary

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/verte-zerg/keygram/internal/model"
)

func TestUpdateSessionNotFound(t *testing.T) {
	st := openTestStore(t)
	u := NewUpdater(st, nil)
	_, err := u.UpdateSession(context.Background(), "missing")
	if !errors.Is(err, model.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestUpdateSessionDecayingAverage(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	day := 24 * time.Hour
	t0 := time.Unix(1_000_000, 0).UTC()
	insertSpeedSession(t, st, "s1", t0, "ab", 300)
	insertSpeedSession(t, st, "s2", t0.Add(day), "ab", 200)

	s := NewSummarizer(st, nil, nil)
	if _, err := s.SummarizeNew(ctx); err != nil {
		t.Fatalf("summarize: %v", err)
	}

	u := NewUpdater(st, nil)
	if _, err := u.UpdateSession(ctx, "s1"); err != nil {
		t.Fatalf("update s1: %v", err)
	}
	counts, err := u.UpdateSession(ctx, "s2")
	if err != nil {
		t.Fatalf("update s2: %v", err)
	}
	if counts.Current != 1 || counts.History != 1 {
		t.Fatalf("unexpected counts: %+v", counts)
	}

	current, err := st.ListCurrent(ctx, "u1", "kb1")
	if err != nil {
		t.Fatalf("list current: %v", err)
	}
	if len(current) != 1 {
		t.Fatalf("expected one current row, got %d", len(current))
	}
	avg := current[0].DecayingAverageMs
	if avg <= 200 || avg >= 300 {
		t.Fatalf("decaying average %f outside (200, 300)", avg)
	}
	if avg >= 250 {
		t.Fatalf("decaying average %f not closer to the newer sample", avg)
	}
	want := (200 + 300*0.9) / 1.9
	if math.Abs(avg-want) > 1e-9 {
		t.Fatalf("decaying average = %f, want %f", avg, want)
	}
	if current[0].SampleCount != 2 {
		t.Fatalf("sample count = %d, want 2", current[0].SampleCount)
	}
	if !current[0].MeetsTarget {
		t.Fatalf("average %f under the default target should meet it", avg)
	}
	wantPct := 100 * model.DefaultTargetMsPerKeystroke / want
	if math.Abs(current[0].TargetPerformancePct-wantPct) > 1e-9 {
		t.Fatalf("performance pct = %f, want %f", current[0].TargetPerformancePct, wantPct)
	}

	history, err := st.ListHistory(ctx, "u1", "kb1")
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 history rows, got %d", len(history))
	}
}

// Replaying sessions newest-first yields a different (wrong) rolling state
// than the chronological replay: each recompute only sees history up to its
// own session time, so the out-of-order run leaves the older session's value
// as the final current row. This pins the must-replay-chronologically
// contract.
func TestUpdateOrderSensitivity(t *testing.T) {
	day := 24 * time.Hour
	t0 := time.Unix(1_000_000, 0).UTC()

	run := func(order []string) float64 {
		st := openTestStore(t)
		ctx := context.Background()
		insertSpeedSession(t, st, "s1", t0, "ab", 300)
		insertSpeedSession(t, st, "s2", t0.Add(day), "ab", 200)
		s := NewSummarizer(st, nil, nil)
		if _, err := s.SummarizeNew(ctx); err != nil {
			t.Fatalf("summarize: %v", err)
		}
		u := NewUpdater(st, nil)
		for _, id := range order {
			if _, err := u.UpdateSession(ctx, id); err != nil {
				t.Fatalf("update %s: %v", id, err)
			}
		}
		current, err := st.ListCurrent(ctx, "u1", "kb1")
		if err != nil {
			t.Fatalf("list current: %v", err)
		}
		if len(current) != 1 {
			t.Fatalf("expected one current row, got %d", len(current))
		}
		return current[0].DecayingAverageMs
	}

	forward := run([]string{"s1", "s2"})
	reverse := run([]string{"s2", "s1"})
	if forward == reverse {
		t.Fatalf("reverse replay produced the same current state (%f); ordering guard lost", forward)
	}
	if reverse != 300 {
		t.Fatalf("reverse replay final state = %f, want the stale 300", reverse)
	}
}

func TestCatchUpReplaysChronologically(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	day := 24 * time.Hour
	t0 := time.Unix(1_000_000, 0).UTC()
	// Insert out of chronological order; CatchUp must still replay by time.
	insertSpeedSession(t, st, "s2", t0.Add(day), "ab", 200)
	insertSpeedSession(t, st, "s1", t0, "ab", 300)

	s := NewSummarizer(st, nil, nil)
	if _, err := s.SummarizeNew(ctx); err != nil {
		t.Fatalf("summarize: %v", err)
	}

	u := NewUpdater(st, nil)
	results, err := u.CatchUp(ctx)
	if err != nil {
		t.Fatalf("catch up: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].SessionID != "s1" || results[1].SessionID != "s2" {
		t.Fatalf("catch-up order wrong: %+v", results)
	}
	for _, r := range results {
		if r.Err != nil {
			t.Fatalf("catch-up session %s failed: %v", r.SessionID, r.Err)
		}
	}

	current, err := st.ListCurrent(ctx, "u1", "kb1")
	if err != nil {
		t.Fatalf("list current: %v", err)
	}
	want := (200 + 300*0.9) / 1.9
	if math.Abs(current[0].DecayingAverageMs-want) > 1e-9 {
		t.Fatalf("catch-up final average = %f, want %f", current[0].DecayingAverageMs, want)
	}
}
