package summary

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/oklog/ulid/v2"

	"github.com/verte-zerg/keygram/internal/decay"
	"github.com/verte-zerg/keygram/internal/model"
	"github.com/verte-zerg/keygram/internal/store"
)

// Updater recomputes rolling decaying averages for the n-grams of one
// session and persists both the current table (upsert) and the append-only
// history ledger.
//
// Correctness depends on chronological replay: sessions for the same
// (user, keyboard) must be processed oldest first, because each recompute
// weighs history relative to its own session time.
type Updater struct {
	store  *store.Store
	logger *slog.Logger

	// DecayFactor and MaxSamples parameterize the rolling average.
	DecayFactor float64
	MaxSamples  int
}

// NewUpdater creates an updater with the default decay parameters.
func NewUpdater(st *store.Store, logger *slog.Logger) *Updater {
	if logger == nil {
		logger = slog.Default()
	}
	return &Updater{
		store:       st,
		logger:      logger,
		DecayFactor: decay.DefaultFactor,
		MaxSamples:  decay.DefaultMaxSamples,
	}
}

// RollupCounts reports rows touched per table by one recompute.
type RollupCounts struct {
	Current int
	History int
}

// UpdateSession refreshes the rolling state for every n-gram that appears in
// the session's summary. Returns model.ErrSessionNotFound when the session is
// not stored.
func (u *Updater) UpdateSession(ctx context.Context, sessionID string) (RollupCounts, error) {
	session, err := u.store.GetSession(ctx, sessionID)
	if err != nil {
		return RollupCounts{}, err
	}
	kb, err := u.store.GetKeyboard(ctx, session.KeyboardID)
	if err != nil {
		return RollupCounts{}, fmt.Errorf("resolve keyboard: %w", err)
	}
	target := kb.Target()

	rows, err := u.store.ListSummariesForSession(ctx, sessionID)
	if err != nil {
		return RollupCounts{}, fmt.Errorf("list session summaries: %w", err)
	}

	current := make([]model.SpeedSummary, 0, len(rows))
	history := make([]model.SpeedSummaryEvent, 0, len(rows))
	for _, row := range rows {
		ranked, err := u.store.ListSummariesForNGramUpTo(ctx, session.UserID, session.KeyboardID, row.Text, row.Size, session.StartedAt)
		if err != nil {
			return RollupCounts{}, fmt.Errorf("rank summaries for %q: %w", row.Text, err)
		}

		var sampleCount int64
		samples := make([]decay.Sample, 0, len(ranked))
		for _, r := range ranked {
			sampleCount += r.InstanceCount
			// Error-only rows carry no speed signal and are excluded from
			// the average, though their instances still count.
			if r.AvgMsPerKeystroke > 0 {
				samples = append(samples, decay.Sample{At: r.SessionDt, Value: r.AvgMsPerKeystroke})
			}
		}
		avg := decay.Average(samples, u.DecayFactor, u.MaxSamples)

		pct := 0.0
		if avg > 0 {
			pct = 100 * target / avg
		}
		cur := model.SpeedSummary{
			UserID:               session.UserID,
			KeyboardID:           session.KeyboardID,
			Text:                 row.Text,
			Size:                 row.Size,
			DecayingAverageMs:    avg,
			TargetPerformancePct: pct,
			MeetsTarget:          avg <= target,
			SampleCount:          sampleCount,
			UpdatedDt:            session.StartedAt,
		}
		current = append(current, cur)
		history = append(history, model.SpeedSummaryEvent{
			EventID:      ulid.Make().String(),
			SessionID:    sessionID,
			SpeedSummary: cur,
		})
	}

	nc, nh, err := u.store.WriteRollup(ctx, current, history)
	if err != nil {
		return RollupCounts{}, fmt.Errorf("write rollup: %w", err)
	}
	u.logger.Debug("rollup updated", "session_id", sessionID, "current_rows", nc, "history_rows", nh)
	return RollupCounts{Current: nc, History: nh}, nil
}
