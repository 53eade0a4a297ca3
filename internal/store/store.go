// Package store handles SQLite persistence.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/verte-zerg/keygram/internal/model"

	_ "modernc.org/sqlite" // SQLite driver.
)

// Store wraps SQLite access for session and n-gram data. One Store means one
// connection; callers that replay sessions for the same (user, keyboard) must
// do so sequentially through it.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database and applies migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		if cerr := db.Close(); cerr != nil {
			// Best-effort close on migration failure.
			_ = cerr
		}
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS keyboards (
			id TEXT PRIMARY KEY,
			target_ms_per_keystroke REAL NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			keyboard_id TEXT NOT NULL,
			started_at TEXT NOT NULL,
			expected_text TEXT NOT NULL,
			speed_mode TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS keystrokes (
			session_id TEXT NOT NULL,
			text_index INTEGER NOT NULL,
			expected_char TEXT NOT NULL,
			actual_char TEXT NOT NULL,
			ts TEXT NOT NULL,
			is_error INTEGER NOT NULL,
			PRIMARY KEY (session_id, text_index)
		);`,
		`CREATE TABLE IF NOT EXISTS session_ngram_speed (
			id INTEGER PRIMARY KEY,
			session_id TEXT NOT NULL,
			size INTEGER NOT NULL,
			text TEXT NOT NULL,
			duration_ms REAL NOT NULL,
			ms_per_keystroke REAL NOT NULL,
			speed_mode TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS session_ngram_errors (
			id INTEGER PRIMARY KEY,
			session_id TEXT NOT NULL,
			size INTEGER NOT NULL,
			expected_text TEXT NOT NULL,
			actual_text TEXT NOT NULL,
			duration_ms REAL NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS session_ngram_summary (
			session_id TEXT NOT NULL,
			text TEXT NOT NULL,
			size INTEGER NOT NULL,
			avg_ms_per_keystroke REAL NOT NULL,
			instance_count INTEGER NOT NULL,
			error_count INTEGER NOT NULL,
			target_speed_ms REAL NOT NULL,
			session_dt TEXT NOT NULL,
			PRIMARY KEY (session_id, text, size)
		);`,
		`CREATE TABLE IF NOT EXISTS ngram_speed_summary_cur (
			user_id TEXT NOT NULL,
			keyboard_id TEXT NOT NULL,
			text TEXT NOT NULL,
			size INTEGER NOT NULL,
			decaying_average_ms REAL NOT NULL,
			target_performance_pct REAL NOT NULL,
			meets_target INTEGER NOT NULL,
			sample_count INTEGER NOT NULL,
			updated_dt TEXT NOT NULL,
			PRIMARY KEY (user_id, keyboard_id, text, size)
		);`,
		`CREATE TABLE IF NOT EXISTS ngram_speed_summary_hist (
			event_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			keyboard_id TEXT NOT NULL,
			text TEXT NOT NULL,
			size INTEGER NOT NULL,
			decaying_average_ms REAL NOT NULL,
			target_performance_pct REAL NOT NULL,
			meets_target INTEGER NOT NULL,
			sample_count INTEGER NOT NULL,
			updated_dt TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at);`,
		`CREATE INDEX IF NOT EXISTS idx_speed_session ON session_ngram_speed(session_id);`,
		`CREATE INDEX IF NOT EXISTS idx_errors_session ON session_ngram_errors(session_id);`,
		`CREATE INDEX IF NOT EXISTS idx_summary_ngram ON session_ngram_summary(text, size);`,
		`CREATE INDEX IF NOT EXISTS idx_hist_session ON ngram_speed_summary_hist(session_id);`,
		`CREATE INDEX IF NOT EXISTS idx_hist_scope ON ngram_speed_summary_hist(user_id, keyboard_id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// UpsertKeyboard stores or replaces keyboard configuration.
func (s *Store) UpsertKeyboard(ctx context.Context, kb model.Keyboard) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO keyboards (id, target_ms_per_keystroke) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET target_ms_per_keystroke = excluded.target_ms_per_keystroke`,
		kb.ID, kb.TargetMsPerKeystroke)
	return err
}

// GetKeyboard returns keyboard configuration, or nil if none is stored.
func (s *Store) GetKeyboard(ctx context.Context, id string) (*model.Keyboard, error) {
	var kb model.Keyboard
	err := s.db.QueryRowContext(ctx,
		`SELECT id, target_ms_per_keystroke FROM keyboards WHERE id = ?`, id).
		Scan(&kb.ID, &kb.TargetMsPerKeystroke)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &kb, nil
}

// InsertSession stores a session descriptor with its keystrokes and extracted
// n-gram records in a single transaction.
func (s *Store) InsertSession(ctx context.Context, session model.Session, keystrokes []model.Keystroke, speed []model.SpeedNGram, errNGrams []model.ErrorNGram) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				// Best-effort rollback.
				_ = rerr
			}
		}
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, keyboard_id, started_at, expected_text, speed_mode)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		session.ID, session.UserID, session.KeyboardID,
		session.StartedAt.Format(time.RFC3339Nano), session.ExpectedText, string(session.Mode))
	if err != nil {
		return err
	}

	if len(keystrokes) > 0 {
		stmt, perr := tx.PrepareContext(ctx,
			`INSERT INTO keystrokes (session_id, text_index, expected_char, actual_char, ts, is_error)
			 VALUES (?, ?, ?, ?, ?, ?)`)
		if perr != nil {
			err = perr
			return err
		}
		defer func() {
			if cerr := stmt.Close(); cerr != nil {
				// Best-effort statement close.
				_ = cerr
			}
		}()
		for _, ks := range keystrokes {
			if _, err = stmt.ExecContext(ctx, ks.SessionID, ks.TextIndex, ks.ExpectedChar, ks.ActualChar,
				ks.Timestamp.Format(time.RFC3339Nano), boolToInt(ks.IsError)); err != nil {
				return err
			}
		}
	}

	if len(speed) > 0 {
		stmt, perr := tx.PrepareContext(ctx,
			`INSERT INTO session_ngram_speed (session_id, size, text, duration_ms, ms_per_keystroke, speed_mode)
			 VALUES (?, ?, ?, ?, ?, ?)`)
		if perr != nil {
			err = perr
			return err
		}
		defer func() {
			if cerr := stmt.Close(); cerr != nil {
				// Best-effort statement close.
				_ = cerr
			}
		}()
		for _, ng := range speed {
			if _, err = stmt.ExecContext(ctx, ng.SessionID, ng.Size, ng.Text, ng.DurationMs, ng.MsPerKeystroke, string(ng.Mode)); err != nil {
				return err
			}
		}
	}

	if len(errNGrams) > 0 {
		stmt, perr := tx.PrepareContext(ctx,
			`INSERT INTO session_ngram_errors (session_id, size, expected_text, actual_text, duration_ms)
			 VALUES (?, ?, ?, ?, ?)`)
		if perr != nil {
			err = perr
			return err
		}
		defer func() {
			if cerr := stmt.Close(); cerr != nil {
				// Best-effort statement close.
				_ = cerr
			}
		}()
		for _, ng := range errNGrams {
			if _, err = stmt.ExecContext(ctx, ng.SessionID, ng.Size, ng.ExpectedText, ng.ActualText, ng.DurationMs); err != nil {
				return err
			}
		}
	}

	err = tx.Commit()
	return err
}

// GetSession resolves a session descriptor by id.
func (s *Store) GetSession(ctx context.Context, id string) (model.Session, error) {
	var session model.Session
	var startedAt, mode string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, keyboard_id, started_at, expected_text, speed_mode FROM sessions WHERE id = ?`, id).
		Scan(&session.ID, &session.UserID, &session.KeyboardID, &startedAt, &session.ExpectedText, &mode)
	if err == sql.ErrNoRows {
		return model.Session{}, fmt.Errorf("session %q: %w", id, model.ErrSessionNotFound)
	}
	if err != nil {
		return model.Session{}, err
	}
	session.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return model.Session{}, err
	}
	session.Mode = model.SpeedMode(mode)
	return session, nil
}

// ListSessions returns all sessions in chronological order.
func (s *Store) ListSessions(ctx context.Context) ([]model.Session, error) {
	return s.listSessions(ctx,
		`SELECT id, user_id, keyboard_id, started_at, expected_text, speed_mode
		 FROM sessions ORDER BY started_at ASC`)
}

// ListSessionsWithoutSummaries returns sessions with no summary rows yet,
// in chronological order.
func (s *Store) ListSessionsWithoutSummaries(ctx context.Context) ([]model.Session, error) {
	return s.listSessions(ctx,
		`SELECT s.id, s.user_id, s.keyboard_id, s.started_at, s.expected_text, s.speed_mode
		 FROM sessions s
		 WHERE NOT EXISTS (SELECT 1 FROM session_ngram_summary m WHERE m.session_id = s.id)
		 ORDER BY s.started_at ASC`)
}

// LatestSessionWithoutHistory returns the most recent summarized session that
// has no rolling-history rows, or nil when current and history are in sync.
func (s *Store) LatestSessionWithoutHistory(ctx context.Context) (*model.Session, error) {
	sessions, err := s.listSessions(ctx,
		`SELECT s.id, s.user_id, s.keyboard_id, s.started_at, s.expected_text, s.speed_mode
		 FROM sessions s
		 WHERE EXISTS (SELECT 1 FROM session_ngram_summary m WHERE m.session_id = s.id)
		   AND NOT EXISTS (SELECT 1 FROM ngram_speed_summary_hist h WHERE h.session_id = s.id)
		 ORDER BY s.started_at DESC LIMIT 1`)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	return &sessions[0], nil
}

func (s *Store) listSessions(ctx context.Context, query string, args ...any) ([]model.Session, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var sessions []model.Session
	for rows.Next() {
		var session model.Session
		var startedAt, mode string
		if err := rows.Scan(&session.ID, &session.UserID, &session.KeyboardID, &startedAt, &session.ExpectedText, &mode); err != nil {
			return nil, err
		}
		parsed, err := time.Parse(time.RFC3339Nano, startedAt)
		if err != nil {
			return nil, err
		}
		session.StartedAt = parsed
		session.Mode = model.SpeedMode(mode)
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

// ListKeystrokes returns a session's keystrokes ordered by text position.
func (s *Store) ListKeystrokes(ctx context.Context, sessionID string) ([]model.Keystroke, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, text_index, expected_char, actual_char, ts, is_error
		 FROM keystrokes WHERE session_id = ? ORDER BY text_index ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var keystrokes []model.Keystroke
	for rows.Next() {
		var ks model.Keystroke
		var ts string
		var isError int
		if err := rows.Scan(&ks.SessionID, &ks.TextIndex, &ks.ExpectedChar, &ks.ActualChar, &ts, &isError); err != nil {
			return nil, err
		}
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, err
		}
		ks.Timestamp = parsed
		ks.IsError = isError != 0
		keystrokes = append(keystrokes, ks)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return keystrokes, nil
}

// ListSpeedNGrams returns a session's clean-window records.
func (s *Store) ListSpeedNGrams(ctx context.Context, sessionID string) ([]model.SpeedNGram, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, size, text, duration_ms, ms_per_keystroke, speed_mode
		 FROM session_ngram_speed WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var ngrams []model.SpeedNGram
	for rows.Next() {
		var ng model.SpeedNGram
		var mode string
		if err := rows.Scan(&ng.ID, &ng.SessionID, &ng.Size, &ng.Text, &ng.DurationMs, &ng.MsPerKeystroke, &mode); err != nil {
			return nil, err
		}
		ng.Mode = model.SpeedMode(mode)
		ngrams = append(ngrams, ng)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ngrams, nil
}

// ListErrorNGrams returns a session's error-last-window records.
func (s *Store) ListErrorNGrams(ctx context.Context, sessionID string) ([]model.ErrorNGram, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, size, expected_text, actual_text, duration_ms
		 FROM session_ngram_errors WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var ngrams []model.ErrorNGram
	for rows.Next() {
		var ng model.ErrorNGram
		if err := rows.Scan(&ng.ID, &ng.SessionID, &ng.Size, &ng.ExpectedText, &ng.ActualText, &ng.DurationMs); err != nil {
			return nil, err
		}
		ngrams = append(ngrams, ng)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ngrams, nil
}

// InsertSummaries writes summary rows in one transaction, skipping rows that
// already exist for their (session, text, size). Returns the number actually
// inserted.
func (s *Store) InsertSummaries(ctx context.Context, summaries []model.SessionNgramSummary) (int, error) {
	if len(summaries) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				// Best-effort rollback.
				_ = rerr
			}
		}
	}()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO session_ngram_summary (session_id, text, size, avg_ms_per_keystroke, instance_count, error_count, target_speed_ms, session_dt)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id, text, size) DO NOTHING`)
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := stmt.Close(); cerr != nil {
			// Best-effort statement close.
			_ = cerr
		}
	}()

	inserted := 0
	for _, row := range summaries {
		res, xerr := stmt.ExecContext(ctx, row.SessionID, row.Text, row.Size, row.AvgMsPerKeystroke,
			row.InstanceCount, row.ErrorCount, row.TargetSpeedMs, row.SessionDt.Format(time.RFC3339Nano))
		if xerr != nil {
			err = xerr
			return 0, err
		}
		n, xerr := res.RowsAffected()
		if xerr != nil {
			err = xerr
			return 0, err
		}
		inserted += int(n)
	}

	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

// ListSummariesForSession returns all summary rows for one session.
func (s *Store) ListSummariesForSession(ctx context.Context, sessionID string) ([]model.SessionNgramSummary, error) {
	return s.listSummaries(ctx,
		`SELECT session_id, text, size, avg_ms_per_keystroke, instance_count, error_count, target_speed_ms, session_dt
		 FROM session_ngram_summary WHERE session_id = ?`, sessionID)
}

// ListSummariesForNGramUpTo returns summary rows for one n-gram in a
// (user, keyboard) scope with session_dt at or before the cutoff, ranked most
// recent first.
func (s *Store) ListSummariesForNGramUpTo(ctx context.Context, userID, keyboardID, text string, size int, upTo time.Time) ([]model.SessionNgramSummary, error) {
	return s.listSummaries(ctx,
		`SELECT m.session_id, m.text, m.size, m.avg_ms_per_keystroke, m.instance_count, m.error_count, m.target_speed_ms, m.session_dt
		 FROM session_ngram_summary m
		 JOIN sessions s ON s.id = m.session_id
		 WHERE s.user_id = ? AND s.keyboard_id = ? AND m.text = ? AND m.size = ? AND m.session_dt <= ?
		 ORDER BY m.session_dt DESC`,
		userID, keyboardID, text, size, upTo.Format(time.RFC3339Nano))
}

// ListSummaries returns every summary row in a (user, keyboard) scope.
func (s *Store) ListSummaries(ctx context.Context, userID, keyboardID string) ([]model.SessionNgramSummary, error) {
	return s.listSummaries(ctx,
		`SELECT m.session_id, m.text, m.size, m.avg_ms_per_keystroke, m.instance_count, m.error_count, m.target_speed_ms, m.session_dt
		 FROM session_ngram_summary m
		 JOIN sessions s ON s.id = m.session_id
		 WHERE s.user_id = ? AND s.keyboard_id = ?
		 ORDER BY m.session_dt ASC`,
		userID, keyboardID)
}

func (s *Store) listSummaries(ctx context.Context, query string, args ...any) ([]model.SessionNgramSummary, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var summaries []model.SessionNgramSummary
	for rows.Next() {
		var row model.SessionNgramSummary
		var dt string
		if err := rows.Scan(&row.SessionID, &row.Text, &row.Size, &row.AvgMsPerKeystroke,
			&row.InstanceCount, &row.ErrorCount, &row.TargetSpeedMs, &dt); err != nil {
			return nil, err
		}
		parsed, err := time.Parse(time.RFC3339Nano, dt)
		if err != nil {
			return nil, err
		}
		row.SessionDt = parsed
		summaries = append(summaries, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return summaries, nil
}

// WriteRollup upserts current rows and appends history rows in a single
// transaction. Returns the counts written to each table.
func (s *Store) WriteRollup(ctx context.Context, current []model.SpeedSummary, history []model.SpeedSummaryEvent) (int, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer func() {
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				// Best-effort rollback.
				_ = rerr
			}
		}
	}()

	curCount := 0
	if len(current) > 0 {
		stmt, perr := tx.PrepareContext(ctx,
			`INSERT INTO ngram_speed_summary_cur (user_id, keyboard_id, text, size, decaying_average_ms, target_performance_pct, meets_target, sample_count, updated_dt)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(user_id, keyboard_id, text, size) DO UPDATE SET
				decaying_average_ms = excluded.decaying_average_ms,
				target_performance_pct = excluded.target_performance_pct,
				meets_target = excluded.meets_target,
				sample_count = excluded.sample_count,
				updated_dt = excluded.updated_dt`)
		if perr != nil {
			err = perr
			return 0, 0, err
		}
		defer func() {
			if cerr := stmt.Close(); cerr != nil {
				// Best-effort statement close.
				_ = cerr
			}
		}()
		for _, row := range current {
			if _, err = stmt.ExecContext(ctx, row.UserID, row.KeyboardID, row.Text, row.Size,
				row.DecayingAverageMs, row.TargetPerformancePct, boolToInt(row.MeetsTarget),
				row.SampleCount, row.UpdatedDt.Format(time.RFC3339Nano)); err != nil {
				return 0, 0, err
			}
			curCount++
		}
	}

	histCount := 0
	if len(history) > 0 {
		stmt, perr := tx.PrepareContext(ctx,
			`INSERT INTO ngram_speed_summary_hist (event_id, session_id, user_id, keyboard_id, text, size, decaying_average_ms, target_performance_pct, meets_target, sample_count, updated_dt)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if perr != nil {
			err = perr
			return 0, 0, err
		}
		defer func() {
			if cerr := stmt.Close(); cerr != nil {
				// Best-effort statement close.
				_ = cerr
			}
		}()
		for _, row := range history {
			if _, err = stmt.ExecContext(ctx, row.EventID, row.SessionID, row.UserID, row.KeyboardID,
				row.Text, row.Size, row.DecayingAverageMs, row.TargetPerformancePct,
				boolToInt(row.MeetsTarget), row.SampleCount, row.UpdatedDt.Format(time.RFC3339Nano)); err != nil {
				return 0, 0, err
			}
			histCount++
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, 0, err
	}
	return curCount, histCount, nil
}

// ListCurrent returns the rolling state for every n-gram in a scope.
func (s *Store) ListCurrent(ctx context.Context, userID, keyboardID string) ([]model.SpeedSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, keyboard_id, text, size, decaying_average_ms, target_performance_pct, meets_target, sample_count, updated_dt
		 FROM ngram_speed_summary_cur WHERE user_id = ? AND keyboard_id = ?`, userID, keyboardID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var summaries []model.SpeedSummary
	for rows.Next() {
		row, err := scanSpeedSummary(rows)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return summaries, nil
}

// ListHistory returns the append-only rollup ledger for a scope in
// chronological order.
func (s *Store) ListHistory(ctx context.Context, userID, keyboardID string) ([]model.SpeedSummaryEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, session_id, user_id, keyboard_id, text, size, decaying_average_ms, target_performance_pct, meets_target, sample_count, updated_dt
		 FROM ngram_speed_summary_hist WHERE user_id = ? AND keyboard_id = ?
		 ORDER BY updated_dt ASC, event_id ASC`, userID, keyboardID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var events []model.SpeedSummaryEvent
	for rows.Next() {
		var ev model.SpeedSummaryEvent
		var meets int
		var updated string
		if err := rows.Scan(&ev.EventID, &ev.SessionID, &ev.UserID, &ev.KeyboardID, &ev.Text, &ev.Size,
			&ev.DecayingAverageMs, &ev.TargetPerformancePct, &meets, &ev.SampleCount, &updated); err != nil {
			return nil, err
		}
		parsed, err := time.Parse(time.RFC3339Nano, updated)
		if err != nil {
			return nil, err
		}
		ev.MeetsTarget = meets != 0
		ev.UpdatedDt = parsed
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func scanSpeedSummary(rows *sql.Rows) (model.SpeedSummary, error) {
	var row model.SpeedSummary
	var meets int
	var updated string
	if err := rows.Scan(&row.UserID, &row.KeyboardID, &row.Text, &row.Size,
		&row.DecayingAverageMs, &row.TargetPerformancePct, &meets, &row.SampleCount, &updated); err != nil {
		return model.SpeedSummary{}, err
	}
	parsed, err := time.Parse(time.RFC3339Nano, updated)
	if err != nil {
		return model.SpeedSummary{}, err
	}
	row.MeetsTarget = meets != 0
	row.UpdatedDt = parsed
	return row, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
