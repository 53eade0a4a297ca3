// Package ingest decodes session documents at the system boundary.
//
// Collaborators hand over loosely-typed JSON; everything is validated into
// model types here, once, and the rest of the engine never sees raw maps.
package ingest

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/verte-zerg/keygram/internal/model"
)

// Document is the wire shape of one recorded practice session.
type Document struct {
	SessionID    string         `json:"session_id"`
	UserID       string         `json:"user_id"`
	KeyboardID   string         `json:"keyboard_id"`
	StartedAt    time.Time      `json:"started_at"`
	ExpectedText string         `json:"expected_text"`
	SpeedMode    string         `json:"speed_mode"`
	TargetMs     float64        `json:"target_ms_per_keystroke"`
	Keystrokes   []KeystrokeDoc `json:"keystrokes"`
}

// KeystrokeDoc is one raw keypress record. TimestampMs is milliseconds since
// the session started. A position may repeat when the user corrected it.
type KeystrokeDoc struct {
	TextIndex   int    `json:"text_index"`
	Expected    string `json:"expected"`
	Actual      string `json:"actual"`
	TimestampMs int64  `json:"timestamp_ms"`
	IsError     bool   `json:"is_error"`
}

// Load decodes and validates a session document. The returned keystrokes are
// already reduced to one per text position according to the speed mode. The
// keyboard is non-nil when the document carries a target speed.
func Load(r io.Reader) (model.Session, []model.Keystroke, *model.Keyboard, error) {
	var doc Document
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return model.Session{}, nil, nil, fmt.Errorf("decode session document: %w", err)
	}
	return doc.Validate()
}

// Validate turns the document into model types, applying the per-position
// reduction for its speed mode.
func (d Document) Validate() (model.Session, []model.Keystroke, *model.Keyboard, error) {
	if d.UserID == "" {
		return model.Session{}, nil, nil, &model.ValidationError{Field: "session.user_id", Reason: "empty"}
	}
	if d.KeyboardID == "" {
		return model.Session{}, nil, nil, &model.ValidationError{Field: "session.keyboard_id", Reason: "empty"}
	}
	if d.StartedAt.IsZero() {
		return model.Session{}, nil, nil, &model.ValidationError{Field: "session.started_at", Reason: "missing"}
	}
	if d.ExpectedText == "" {
		return model.Session{}, nil, nil, &model.ValidationError{Field: "session.expected_text", Reason: "empty"}
	}

	mode := model.SpeedMode(d.SpeedMode)
	if d.SpeedMode == "" {
		mode = model.SpeedModeNet
	}
	if !mode.IsValid() {
		return model.Session{}, nil, nil, &model.ValidationError{Field: "session.speed_mode", Reason: d.SpeedMode}
	}

	sessionID := d.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	session := model.Session{
		ID:           sessionID,
		UserID:       d.UserID,
		KeyboardID:   d.KeyboardID,
		StartedAt:    d.StartedAt.UTC(),
		ExpectedText: model.Normalize(d.ExpectedText),
		Mode:         mode,
	}

	raw := make([]model.Keystroke, 0, len(d.Keystrokes))
	for i, kd := range d.Keystrokes {
		ks, err := model.NewKeystroke(sessionID, kd.TextIndex, kd.Expected, kd.Actual,
			session.StartedAt.Add(time.Duration(kd.TimestampMs)*time.Millisecond), kd.IsError)
		if err != nil {
			return model.Session{}, nil, nil, fmt.Errorf("keystroke %d: %w", i, err)
		}
		raw = append(raw, ks)
	}
	keystrokes := Reduce(raw, mode)

	var kb *model.Keyboard
	if d.TargetMs > 0 {
		kb = &model.Keyboard{ID: d.KeyboardID, TargetMsPerKeystroke: d.TargetMs}
	}
	return session, keystrokes, kb, nil
}

// Reduce collapses repeated-position keystrokes to one per text position:
// under NET mode the final successful keystroke wins (positions never typed
// correctly are dropped), under RAW mode the first observed one wins. Input
// order is the recording order; output is ordered by text position.
func Reduce(raw []model.Keystroke, mode model.SpeedMode) []model.Keystroke {
	chosen := map[int]model.Keystroke{}
	order := []int{}
	for _, ks := range raw {
		switch mode {
		case model.SpeedModeRaw:
			if _, ok := chosen[ks.TextIndex]; ok {
				continue
			}
			chosen[ks.TextIndex] = ks
			order = append(order, ks.TextIndex)
		default: // NET
			if ks.IsError {
				continue
			}
			if _, ok := chosen[ks.TextIndex]; !ok {
				order = append(order, ks.TextIndex)
			}
			chosen[ks.TextIndex] = ks
		}
	}

	sort.Ints(order)
	out := make([]model.Keystroke, 0, len(chosen))
	for _, idx := range order {
		out = append(out, chosen[idx])
	}
	return out
}
