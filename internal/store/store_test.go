package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/verte-zerg/keygram/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	st, err := Open(filepath.Join(dir, "keygram.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st
}

func testSession(id string, startedAt time.Time) model.Session {
	return model.Session{
		ID:           id,
		UserID:       "u1",
		KeyboardID:   "kb1",
		StartedAt:    startedAt,
		ExpectedText: "ab",
		Mode:         model.SpeedModeNet,
	}
}

func TestInsertAndGetSession(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	session := testSession("s1", time.Unix(1000, 0).UTC())
	ks, err := model.NewKeystroke("s1", 0, "a", "a", session.StartedAt, false)
	if err != nil {
		t.Fatalf("new keystroke: %v", err)
	}
	speed, err := model.NewSpeedNGram("s1", 2, "ab", 400, 0, model.SpeedModeNet)
	if err != nil {
		t.Fatalf("new speed ngram: %v", err)
	}
	errNG, err := model.NewErrorNGram("s1", 2, "ab", "ax", 300)
	if err != nil {
		t.Fatalf("new error ngram: %v", err)
	}
	if err := st.InsertSession(ctx, session, []model.Keystroke{ks}, []model.SpeedNGram{speed}, []model.ErrorNGram{errNG}); err != nil {
		t.Fatalf("insert session: %v", err)
	}

	got, err := st.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if !got.StartedAt.Equal(session.StartedAt) || got.Mode != model.SpeedModeNet {
		t.Fatalf("unexpected session: %+v", got)
	}

	speeds, err := st.ListSpeedNGrams(ctx, "s1")
	if err != nil {
		t.Fatalf("list speed ngrams: %v", err)
	}
	if len(speeds) != 1 || speeds[0].Text != "ab" {
		t.Fatalf("unexpected speed ngrams: %+v", speeds)
	}
	errNGs, err := st.ListErrorNGrams(ctx, "s1")
	if err != nil {
		t.Fatalf("list error ngrams: %v", err)
	}
	if len(errNGs) != 1 || errNGs[0].ActualText != "ax" {
		t.Fatalf("unexpected error ngrams: %+v", errNGs)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	st := openTestStore(t)
	_, err := st.GetSession(context.Background(), "missing")
	if !errors.Is(err, model.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestInsertSummariesSkipsExisting(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	session := testSession("s1", time.Unix(1000, 0).UTC())
	if err := st.InsertSession(ctx, session, nil, nil, nil); err != nil {
		t.Fatalf("insert session: %v", err)
	}

	rows := []model.SessionNgramSummary{
		{SessionID: "s1", Text: "ab", Size: 2, AvgMsPerKeystroke: 200, InstanceCount: 3, TargetSpeedMs: 600, SessionDt: session.StartedAt},
	}
	n, err := st.InsertSummaries(ctx, rows)
	if err != nil {
		t.Fatalf("insert summaries: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 inserted, got %d", n)
	}
	n, err = st.InsertSummaries(ctx, rows)
	if err != nil {
		t.Fatalf("re-insert summaries: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 inserted on re-run, got %d", n)
	}
}

func TestWriteRollupUpsertsCurrentAndAppendsHistory(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	base := time.Unix(1000, 0).UTC()
	cur := model.SpeedSummary{
		UserID: "u1", KeyboardID: "kb1", Text: "ab", Size: 2,
		DecayingAverageMs: 250, TargetPerformancePct: 240, MeetsTarget: true,
		SampleCount: 3, UpdatedDt: base,
	}
	hist := model.SpeedSummaryEvent{EventID: "ev1", SessionID: "s1", SpeedSummary: cur}
	if _, _, err := st.WriteRollup(ctx, []model.SpeedSummary{cur}, []model.SpeedSummaryEvent{hist}); err != nil {
		t.Fatalf("write rollup: %v", err)
	}

	cur.DecayingAverageMs = 220
	cur.UpdatedDt = base.Add(time.Hour)
	hist2 := model.SpeedSummaryEvent{EventID: "ev2", SessionID: "s2", SpeedSummary: cur}
	nc, nh, err := st.WriteRollup(ctx, []model.SpeedSummary{cur}, []model.SpeedSummaryEvent{hist2})
	if err != nil {
		t.Fatalf("write rollup: %v", err)
	}
	if nc != 1 || nh != 1 {
		t.Fatalf("unexpected counts: %d current, %d history", nc, nh)
	}

	current, err := st.ListCurrent(ctx, "u1", "kb1")
	if err != nil {
		t.Fatalf("list current: %v", err)
	}
	if len(current) != 1 {
		t.Fatalf("expected a single current row, got %d", len(current))
	}
	if current[0].DecayingAverageMs != 220 {
		t.Fatalf("current not superseded: %+v", current[0])
	}

	history, err := st.ListHistory(ctx, "u1", "kb1")
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 history rows, got %d", len(history))
	}
}

func TestListSessionsWithoutSummaries(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	s1 := testSession("s1", time.Unix(1000, 0).UTC())
	s2 := testSession("s2", time.Unix(2000, 0).UTC())
	for _, s := range []model.Session{s1, s2} {
		if err := st.InsertSession(ctx, s, nil, nil, nil); err != nil {
			t.Fatalf("insert session: %v", err)
		}
	}
	if _, err := st.InsertSummaries(ctx, []model.SessionNgramSummary{
		{SessionID: "s1", Text: "ab", Size: 2, AvgMsPerKeystroke: 200, InstanceCount: 1, TargetSpeedMs: 600, SessionDt: s1.StartedAt},
	}); err != nil {
		t.Fatalf("insert summaries: %v", err)
	}

	pending, err := st.ListSessionsWithoutSummaries(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "s2" {
		t.Fatalf("unexpected pending sessions: %+v", pending)
	}
}

func TestListSummariesForNGramUpToRanksByRecency(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	times := []time.Time{time.Unix(1000, 0).UTC(), time.Unix(3000, 0).UTC(), time.Unix(2000, 0).UTC()}
	for i, at := range times {
		id := []string{"s1", "s2", "s3"}[i]
		if err := st.InsertSession(ctx, testSession(id, at), nil, nil, nil); err != nil {
			t.Fatalf("insert session: %v", err)
		}
		if _, err := st.InsertSummaries(ctx, []model.SessionNgramSummary{
			{SessionID: id, Text: "ab", Size: 2, AvgMsPerKeystroke: float64(100 * (i + 1)), InstanceCount: 1, TargetSpeedMs: 600, SessionDt: at},
		}); err != nil {
			t.Fatalf("insert summaries: %v", err)
		}
	}

	rows, err := st.ListSummariesForNGramUpTo(ctx, "u1", "kb1", "ab", 2, time.Unix(2500, 0).UTC())
	if err != nil {
		t.Fatalf("list ranked: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows under cutoff, got %d", len(rows))
	}
	if rows[0].SessionID != "s3" || rows[1].SessionID != "s1" {
		t.Fatalf("unexpected ranking: %+v", rows)
	}
}
