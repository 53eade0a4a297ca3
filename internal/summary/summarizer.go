// Package summary folds raw n-gram records into per-session summaries and
// maintains the rolling decaying-average tables.
package summary

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/verte-zerg/keygram/internal/model"
	"github.com/verte-zerg/keygram/internal/store"
)

// Summarizer produces one SessionNgramSummary row per (session, n-gram) the
// first time a session is processed. Re-running never duplicates or alters
// already-summarized rows.
type Summarizer struct {
	store   *store.Store
	updater *Updater
	logger  *slog.Logger
}

// NewSummarizer creates a summarizer. The updater is used for the best-effort
// rollup trigger after new summaries land; it may be nil to disable that.
func NewSummarizer(st *store.Store, updater *Updater, logger *slog.Logger) *Summarizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{store: st, updater: updater, logger: logger}
}

// SessionResult reports the outcome of summarizing one session. A failed
// session carries its error here instead of aborting the batch.
type SessionResult struct {
	SessionID    string
	RowsInserted int
	Err          error
}

// SummarizeNew summarizes every session that has no summary rows yet and
// returns a per-session report. After inserting, it triggers a rolling-state
// recompute for the newest summarized session still missing history rows;
// that trigger is best-effort and never fails the batch.
func (s *Summarizer) SummarizeNew(ctx context.Context) ([]SessionResult, error) {
	sessions, err := s.store.ListSessionsWithoutSummaries(ctx)
	if err != nil {
		return nil, fmt.Errorf("list unsummarized sessions: %w", err)
	}

	results := make([]SessionResult, 0, len(sessions))
	for _, session := range sessions {
		inserted, serr := s.summarizeSession(ctx, session)
		if serr != nil {
			s.logger.Warn("session summarization failed", "session_id", session.ID, "error", serr)
		}
		results = append(results, SessionResult{SessionID: session.ID, RowsInserted: inserted, Err: serr})
	}

	s.triggerRollup(ctx)
	return results, nil
}

func (s *Summarizer) triggerRollup(ctx context.Context) {
	if s.updater == nil {
		return
	}
	pending, err := s.store.LatestSessionWithoutHistory(ctx)
	if err != nil {
		s.logger.Warn("rollup trigger lookup failed", "error", err)
		return
	}
	if pending == nil {
		return
	}
	if _, err := s.updater.UpdateSession(ctx, pending.ID); err != nil {
		s.logger.Warn("rollup trigger failed", "session_id", pending.ID, "error", err)
	}
}

type ngramKey struct {
	text string
	size int
}

type ngramGroup struct {
	sumMs      float64
	cleanCount int64
	errorCount int64
}

func (s *Summarizer) summarizeSession(ctx context.Context, session model.Session) (int, error) {
	kb, err := s.store.GetKeyboard(ctx, session.KeyboardID)
	if err != nil {
		return 0, fmt.Errorf("resolve keyboard: %w", err)
	}
	target := kb.Target()

	groups := map[ngramKey]*ngramGroup{}

	speeds, err := s.store.ListSpeedNGrams(ctx, session.ID)
	if err != nil {
		return 0, fmt.Errorf("list speed ngrams: %w", err)
	}
	for _, ng := range speeds {
		g := group(groups, ngramKey{text: ng.Text, size: ng.Size})
		g.sumMs += ng.MsPerKeystroke
		g.cleanCount++
	}

	keystrokes, err := s.store.ListKeystrokes(ctx, session.ID)
	if err != nil {
		return 0, fmt.Errorf("list keystrokes: %w", err)
	}
	foldUnigrams(groups, keystrokes)

	errNGrams, err := s.store.ListErrorNGrams(ctx, session.ID)
	if err != nil {
		return 0, fmt.Errorf("list error ngrams: %w", err)
	}
	for _, ng := range errNGrams {
		g := group(groups, ngramKey{text: ng.ExpectedText, size: ng.Size})
		g.errorCount++
	}

	rows := make([]model.SessionNgramSummary, 0, len(groups))
	for key, g := range groups {
		avg := 0.0
		if g.cleanCount > 0 {
			avg = g.sumMs / float64(g.cleanCount)
		}
		rows = append(rows, model.SessionNgramSummary{
			SessionID:         session.ID,
			Text:              key.text,
			Size:              key.size,
			AvgMsPerKeystroke: avg,
			InstanceCount:     g.cleanCount + g.errorCount,
			ErrorCount:        g.errorCount,
			TargetSpeedMs:     target,
			SessionDt:         session.StartedAt,
		})
	}
	return s.store.InsertSummaries(ctx, rows)
}

// foldUnigrams synthesizes 1-gram groups from inter-keystroke latencies.
// A keystroke qualifies when its expected character is not a separator and
// its immediate predecessor position was typed in the same run; the latency
// is the gap to that predecessor. Run-start keystrokes have no preceding gap
// and contribute nothing.
func foldUnigrams(groups map[ngramKey]*ngramGroup, keystrokes []model.Keystroke) {
	byPos := map[int]*model.Keystroke{}
	for i := range keystrokes {
		byPos[keystrokes[i].TextIndex] = &keystrokes[i]
	}
	for i := range keystrokes {
		ks := &keystrokes[i]
		if model.ContainsSeparator(ks.ExpectedChar) {
			continue
		}
		prev, ok := byPos[ks.TextIndex-1]
		if !ok || model.ContainsSeparator(prev.ExpectedChar) {
			continue
		}
		latency := float64(ks.Timestamp.Sub(prev.Timestamp).Milliseconds())
		if latency <= 0 {
			continue
		}
		g := group(groups, ngramKey{text: ks.ExpectedChar, size: 1})
		if ks.IsError {
			g.errorCount++
			continue
		}
		g.sumMs += latency
		g.cleanCount++
	}
}

func group(groups map[ngramKey]*ngramGroup, key ngramKey) *ngramGroup {
	g, ok := groups[key]
	if !ok {
		g = &ngramGroup{}
		groups[key] = g
	}
	return g
}
