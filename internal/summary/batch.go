package summary

import (
	"context"
	"fmt"
)

// CatchUpResult reports one session's rollup replay outcome.
type CatchUpResult struct {
	SessionID string
	Counts    RollupCounts
	Err       error
}

// CatchUp replays the rolling recompute over every stored session in
// chronological order. One session's failure is recorded in its result and
// does not stop the walk; the decaying average only comes out right when
// history is seen oldest first, so the order here is load-bearing.
func (u *Updater) CatchUp(ctx context.Context) ([]CatchUpResult, error) {
	sessions, err := u.store.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	results := make([]CatchUpResult, 0, len(sessions))
	for _, session := range sessions {
		counts, uerr := u.UpdateSession(ctx, session.ID)
		if uerr != nil {
			u.logger.Warn("catch-up session failed", "session_id", session.ID, "error", uerr)
		}
		results = append(results, CatchUpResult{SessionID: session.ID, Counts: counts, Err: uerr})
	}
	return results, nil
}
