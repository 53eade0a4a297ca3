// Package extract turns a session's keystrokes into n-gram records.
package extract

import (
	"fmt"

	"github.com/verte-zerg/keygram/internal/model"
)

// Result holds the n-gram records extracted from one session.
type Result struct {
	Speed  []model.SpeedNGram
	Errors []model.ErrorNGram
}

type run struct {
	start int // rune offset into expected text
	end   int // exclusive
}

// Extract slides windows of every size over the separator-free runs of the
// session's expected text and classifies each window. Windows with missing
// keystrokes or non-positive durations are skipped silently; only
// whole-session problems (keystrokes outside the text, duplicate positions)
// return an error.
func Extract(session model.Session, keystrokes []model.Keystroke) (Result, error) {
	expected := []rune(model.Normalize(session.ExpectedText))

	byPos, err := indexByPosition(keystrokes, len(expected))
	if err != nil {
		return Result{}, err
	}

	var out Result
	for _, r := range runs(expected) {
		length := r.end - r.start
		maxSize := model.MaxNGramSize
		if length < maxSize {
			maxSize = length
		}
		for size := model.MinNGramSize; size <= maxSize; size++ {
			for offset := 0; offset <= length-size; offset++ {
				start := r.start + offset
				window, ok := gather(byPos, start, size)
				if !ok {
					continue
				}
				duration := windowDuration(window, offset == 0)
				if duration <= 0 {
					continue
				}
				classify(&out, session, expected[start:start+size], window, duration)
			}
		}
	}
	return out, nil
}

func indexByPosition(keystrokes []model.Keystroke, textLen int) ([]*model.Keystroke, error) {
	byPos := make([]*model.Keystroke, textLen)
	for i := range keystrokes {
		ks := &keystrokes[i]
		if ks.TextIndex >= textLen {
			return nil, fmt.Errorf("keystroke at index %d beyond expected text length %d", ks.TextIndex, textLen)
		}
		if byPos[ks.TextIndex] != nil {
			return nil, fmt.Errorf("duplicate keystroke at index %d", ks.TextIndex)
		}
		byPos[ks.TextIndex] = ks
	}
	return byPos, nil
}

// runs partitions the text into maximal separator-free spans.
func runs(expected []rune) []run {
	var out []run
	start := -1
	for i, r := range expected {
		if model.IsSeparator(r) {
			if start >= 0 {
				out = append(out, run{start: start, end: i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		out = append(out, run{start: start, end: len(expected)})
	}
	return out
}

func gather(byPos []*model.Keystroke, start, size int) ([]*model.Keystroke, bool) {
	window := make([]*model.Keystroke, size)
	for i := 0; i < size; i++ {
		ks := byPos[start+i]
		if ks == nil {
			return nil, false
		}
		window[i] = ks
	}
	return window, true
}

// windowDuration measures last-minus-first keystroke time. A window starting
// a run carries no latency for its first keystroke, so the measured span over
// n-1 gaps is grossed up to n gaps. Size-1 run-start windows have no gaps at
// all and come out as zero, which the caller discards.
func windowDuration(window []*model.Keystroke, atRunStart bool) float64 {
	n := len(window)
	actual := float64(window[n-1].Timestamp.Sub(window[0].Timestamp).Milliseconds())
	if !atRunStart {
		return actual
	}
	if n == 1 {
		return 0
	}
	return actual / float64(n-1) * float64(n)
}

func classify(out *Result, session model.Session, expected []rune, window []*model.Keystroke, duration float64) {
	n := len(window)
	mismatch := -1
	for i := 0; i < n; i++ {
		if window[i].ActualChar != string(expected[i]) {
			if mismatch >= 0 {
				return // two mismatches, ignored
			}
			mismatch = i
		}
	}

	switch {
	case mismatch < 0:
		ng, err := model.NewSpeedNGram(session.ID, n, string(expected), duration, 0, session.Mode)
		if err != nil {
			// Malformed record aborts this window only.
			return
		}
		out.Speed = append(out.Speed, ng)
	case mismatch == n-1:
		actual := string(expected[:n-1]) + window[n-1].ActualChar
		ng, err := model.NewErrorNGram(session.ID, n, string(expected), actual, duration)
		if err != nil {
			return
		}
		out.Errors = append(out.Errors, ng)
	default:
		// Error before the last position: ignored.
	}
}
