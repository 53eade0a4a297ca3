package ingest

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/verte-zerg/keygram/internal/model"
)

const validDoc = `{
	"session_id": "s1",
	"user_id": "u1",
	"keyboard_id": "kb1",
	"started_at": "2026-03-01T10:00:00Z",
	"expected_text": "th",
	"speed_mode": "NET",
	"target_ms_per_keystroke": 550,
	"keystrokes": [
		{"text_index": 0, "expected": "t", "actual": "t", "timestamp_ms": 0},
		{"text_index": 1, "expected": "h", "actual": "g", "timestamp_ms": 300, "is_error": true},
		{"text_index": 1, "expected": "h", "actual": "h", "timestamp_ms": 700}
	]
}`

func TestLoadValidDocument(t *testing.T) {
	session, keystrokes, kb, err := Load(strings.NewReader(validDoc))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if session.ID != "s1" || session.Mode != model.SpeedModeNet {
		t.Fatalf("unexpected session: %+v", session)
	}
	if !session.StartedAt.Equal(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start time: %v", session.StartedAt)
	}
	if kb == nil || kb.TargetMsPerKeystroke != 550 {
		t.Fatalf("unexpected keyboard: %+v", kb)
	}
	// NET reduction keeps the final successful keystroke for position 1.
	if len(keystrokes) != 2 {
		t.Fatalf("expected 2 reduced keystrokes, got %+v", keystrokes)
	}
	if keystrokes[1].ActualChar != "h" {
		t.Fatalf("NET reduction kept the wrong keystroke: %+v", keystrokes[1])
	}
	wantTs := session.StartedAt.Add(700 * time.Millisecond)
	if !keystrokes[1].Timestamp.Equal(wantTs) {
		t.Fatalf("timestamp = %v, want %v", keystrokes[1].Timestamp, wantTs)
	}
}

func TestLoadGeneratesSessionID(t *testing.T) {
	doc := strings.Replace(validDoc, `"session_id": "s1",`, "", 1)
	session, _, _, err := Load(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if session.ID == "" {
		t.Fatalf("expected a generated session id")
	}
}

func TestLoadRejectsMissingFields(t *testing.T) {
	for _, field := range []string{`"user_id": "u1",`, `"keyboard_id": "kb1",`, `"expected_text": "th",`} {
		doc := strings.Replace(validDoc, field, "", 1)
		_, _, _, err := Load(strings.NewReader(doc))
		var verr *model.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("removing %s: expected ValidationError, got %v", field, err)
		}
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	doc := strings.Replace(validDoc, `"session_id"`, `"sessionid"`, 1)
	if _, _, _, err := Load(strings.NewReader(doc)); err == nil {
		t.Fatalf("expected unknown field rejection")
	}
}

func TestLoadRejectsBadSpeedMode(t *testing.T) {
	doc := strings.Replace(validDoc, `"NET"`, `"GROSS"`, 1)
	if _, _, _, err := Load(strings.NewReader(doc)); err == nil {
		t.Fatalf("expected speed mode rejection")
	}
}

func TestReduceRawKeepsFirstObserved(t *testing.T) {
	base := time.Unix(1000, 0).UTC()
	mk := func(idx int, actual string, ms int64, isErr bool) model.Keystroke {
		ks, err := model.NewKeystroke("s1", idx, "h", actual, base.Add(time.Duration(ms)*time.Millisecond), isErr)
		if err != nil {
			t.Fatalf("new keystroke: %v", err)
		}
		return ks
	}
	raw := []model.Keystroke{
		mk(0, "g", 0, true),
		mk(0, "h", 500, false),
	}

	reduced := Reduce(raw, model.SpeedModeRaw)
	if len(reduced) != 1 || reduced[0].ActualChar != "g" {
		t.Fatalf("RAW reduction kept the wrong keystroke: %+v", reduced)
	}

	reduced = Reduce(raw, model.SpeedModeNet)
	if len(reduced) != 1 || reduced[0].ActualChar != "h" {
		t.Fatalf("NET reduction kept the wrong keystroke: %+v", reduced)
	}
}

func TestReduceNetDropsNeverCorrected(t *testing.T) {
	base := time.Unix(1000, 0).UTC()
	ks, err := model.NewKeystroke("s1", 0, "h", "g", base, true)
	if err != nil {
		t.Fatalf("new keystroke: %v", err)
	}
	reduced := Reduce([]model.Keystroke{ks}, model.SpeedModeNet)
	if len(reduced) != 0 {
		t.Fatalf("NET reduction kept an uncorrected error: %+v", reduced)
	}
}
