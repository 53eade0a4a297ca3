// Package model defines shared data structures.
package model

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/text/unicode/norm"
)

// N-gram size bounds and the keyboard speed target fallback.
const (
	MinNGramSize = 1
	MaxNGramSize = 20

	DefaultTargetMsPerKeystroke = 600.0
)

// SpeedMode selects which keystroke per text position the extractor sees.
type SpeedMode string

const (
	// SpeedModeRaw uses the first observed keystroke per position.
	SpeedModeRaw SpeedMode = "RAW"
	// SpeedModeNet uses the final successful keystroke per position.
	SpeedModeNet SpeedMode = "NET"
)

// IsValid returns true if m is a recognized speed mode.
func (m SpeedMode) IsValid() bool {
	return m == SpeedModeRaw || m == SpeedModeNet
}

// ErrSessionNotFound is returned when an operation references a session
// absent from storage.
var ErrSessionNotFound = errors.New("session not found")

// ValidationError reports a malformed record at construction time.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsSeparator reports whether r terminates an n-gram run.
func IsSeparator(r rune) bool {
	switch r {
	case ' ', '\t', '\n', 0:
		return true
	}
	return false
}

// ContainsSeparator reports whether s contains any run separator.
func ContainsSeparator(s string) bool {
	for _, r := range s {
		if IsSeparator(r) {
			return true
		}
	}
	return false
}

// Normalize returns s in canonical Unicode composition (NFC). All character
// comparisons in the engine happen on normalized text.
func Normalize(s string) string {
	return norm.NFC.String(s)
}

// Session describes one completed practice session as supplied by the
// collaborator that recorded it.
type Session struct {
	ID           string
	UserID       string
	KeyboardID   string
	StartedAt    time.Time
	ExpectedText string
	Mode         SpeedMode
}

// Keyboard holds per-keyboard configuration.
type Keyboard struct {
	ID                   string
	TargetMsPerKeystroke float64
}

// Target returns the configured speed target, falling back to the default.
func (k *Keyboard) Target() float64 {
	if k == nil || k.TargetMsPerKeystroke <= 0 {
		return DefaultTargetMsPerKeystroke
	}
	return k.TargetMsPerKeystroke
}

// Keystroke is one recorded keypress at a text position. Immutable once
// recorded; characters are NFC-normalized at construction.
type Keystroke struct {
	SessionID    string
	TextIndex    int
	ExpectedChar string
	ActualChar   string
	Timestamp    time.Time
	IsError      bool
}

// NewKeystroke validates and normalizes a keystroke record.
func NewKeystroke(sessionID string, textIndex int, expected, actual string, ts time.Time, isError bool) (Keystroke, error) {
	if sessionID == "" {
		return Keystroke{}, &ValidationError{Field: "keystroke.session_id", Reason: "empty"}
	}
	if textIndex < 0 {
		return Keystroke{}, &ValidationError{Field: "keystroke.text_index", Reason: "negative"}
	}
	if expected == "" {
		return Keystroke{}, &ValidationError{Field: "keystroke.expected_char", Reason: "empty"}
	}
	if ts.IsZero() {
		return Keystroke{}, &ValidationError{Field: "keystroke.timestamp", Reason: "zero"}
	}
	return Keystroke{
		SessionID:    sessionID,
		TextIndex:    textIndex,
		ExpectedChar: Normalize(expected),
		ActualChar:   Normalize(actual),
		Timestamp:    ts,
		IsError:      isError,
	}, nil
}

// SpeedNGram is a cleanly typed window with its measured duration.
type SpeedNGram struct {
	ID             int64
	SessionID      string
	Size           int
	Text           string
	DurationMs     float64
	MsPerKeystroke float64
	Mode           SpeedMode
}

// NewSpeedNGram validates a clean-window record. MsPerKeystroke is derived
// from the duration when not supplied (zero).
func NewSpeedNGram(sessionID string, size int, text string, durationMs, msPerKeystroke float64, mode SpeedMode) (SpeedNGram, error) {
	if err := validateNGramShape("speed_ngram", size, text); err != nil {
		return SpeedNGram{}, err
	}
	if durationMs <= 0 {
		return SpeedNGram{}, &ValidationError{Field: "speed_ngram.duration_ms", Reason: "not positive"}
	}
	if !mode.IsValid() {
		return SpeedNGram{}, &ValidationError{Field: "speed_ngram.speed_mode", Reason: string(mode)}
	}
	if msPerKeystroke <= 0 {
		msPerKeystroke = durationMs / float64(size)
	}
	return SpeedNGram{
		SessionID:      sessionID,
		Size:           size,
		Text:           text,
		DurationMs:     durationMs,
		MsPerKeystroke: msPerKeystroke,
		Mode:           mode,
	}, nil
}

// ErrorNGram is a window typed correctly except for its last character.
type ErrorNGram struct {
	ID           int64
	SessionID    string
	Size         int
	ExpectedText string
	ActualText   string
	DurationMs   float64
}

// NewErrorNGram validates an error-last-window record. Expected and actual
// texts must be the same length and differ only in the final character.
func NewErrorNGram(sessionID string, size int, expectedText, actualText string, durationMs float64) (ErrorNGram, error) {
	if err := validateNGramShape("error_ngram", size, expectedText); err != nil {
		return ErrorNGram{}, err
	}
	if durationMs <= 0 {
		return ErrorNGram{}, &ValidationError{Field: "error_ngram.duration_ms", Reason: "not positive"}
	}
	expected := []rune(expectedText)
	actual := []rune(actualText)
	if len(expected) != len(actual) {
		return ErrorNGram{}, &ValidationError{Field: "error_ngram.actual_text", Reason: "length differs from expected_text"}
	}
	for i := 0; i < len(expected)-1; i++ {
		if expected[i] != actual[i] {
			return ErrorNGram{}, &ValidationError{Field: "error_ngram.actual_text", Reason: "differs before last character"}
		}
	}
	if expected[len(expected)-1] == actual[len(actual)-1] {
		return ErrorNGram{}, &ValidationError{Field: "error_ngram.actual_text", Reason: "last character matches expected"}
	}
	return ErrorNGram{
		SessionID:    sessionID,
		Size:         size,
		ExpectedText: expectedText,
		ActualText:   actualText,
		DurationMs:   durationMs,
	}, nil
}

func validateNGramShape(field string, size int, text string) error {
	if size < MinNGramSize || size > MaxNGramSize {
		return &ValidationError{Field: field + ".size", Reason: fmt.Sprintf("%d out of range [%d, %d]", size, MinNGramSize, MaxNGramSize)}
	}
	if got := len([]rune(text)); got != size {
		return &ValidationError{Field: field + ".text", Reason: fmt.Sprintf("rune length %d does not match size %d", got, size)}
	}
	if ContainsSeparator(text) {
		return &ValidationError{Field: field + ".text", Reason: "contains separator character"}
	}
	return nil
}

// SessionNgramSummary is one aggregated row per (session, n-gram text, size).
// Written once per session and never updated afterward.
type SessionNgramSummary struct {
	SessionID         string
	Text              string
	Size              int
	AvgMsPerKeystroke float64
	InstanceCount     int64
	ErrorCount        int64
	TargetSpeedMs     float64
	SessionDt         time.Time
}

// SpeedSummary is the rolling state for one (user, keyboard, n-gram text,
// size); the current table holds the latest row, superseded on recompute.
type SpeedSummary struct {
	UserID               string
	KeyboardID           string
	Text                 string
	Size                 int
	DecayingAverageMs    float64
	TargetPerformancePct float64
	MeetsTarget          bool
	SampleCount          int64
	UpdatedDt            time.Time
}

// SpeedSummaryEvent is one append-only history row recorded per (session,
// n-gram) recompute.
type SpeedSummaryEvent struct {
	EventID   string
	SessionID string
	SpeedSummary
}
