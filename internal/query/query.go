// Package query exposes read-only views over the persisted n-gram state.
package query

import (
	"context"
	"sort"
	"time"

	"github.com/verte-zerg/keygram/internal/model"
	"github.com/verte-zerg/keygram/internal/store"
)

// Category buckets an n-gram's rolling performance for display.
type Category string

const (
	CategoryGreen Category = "green"
	CategoryAmber Category = "amber"
	CategoryGrey  Category = "grey"
)

const (
	colorGreen = "#4caf50"
	colorAmber = "#ffc107"
	colorGrey  = "#9e9e9e"

	amberThresholdPct = 75
)

// Service answers queries against a store. All methods return empty results,
// not errors, when nothing matches.
type Service struct {
	store *store.Store
}

// NewService creates a query service over st.
func NewService(st *store.Store) *Service {
	return &Service{store: st}
}

// HeatmapCell is one n-gram's rolling state prepared for a heatmap consumer.
type HeatmapCell struct {
	Text                 string
	Size                 int
	DecayingAverageMs    float64
	DecayingAverageWpm   float64
	TargetPerformancePct float64
	SampleCount          int64
	LastMeasured         time.Time
	Category             Category
	ColorCode            string
}

// Heatmap returns the current rolling state per n-gram in a scope, optionally
// restricted to a size set, ordered by size then text.
func (s *Service) Heatmap(ctx context.Context, userID, keyboardID string, sizes []int) ([]HeatmapCell, error) {
	current, err := s.store.ListCurrent(ctx, userID, keyboardID)
	if err != nil {
		return nil, err
	}
	sizeSet := toSizeSet(sizes)

	cells := make([]HeatmapCell, 0, len(current))
	for _, row := range current {
		if sizeSet != nil && !sizeSet[row.Size] {
			continue
		}
		category := categorize(row)
		cells = append(cells, HeatmapCell{
			Text:                 row.Text,
			Size:                 row.Size,
			DecayingAverageMs:    row.DecayingAverageMs,
			DecayingAverageWpm:   msToWpm(row.DecayingAverageMs),
			TargetPerformancePct: row.TargetPerformancePct,
			SampleCount:          row.SampleCount,
			LastMeasured:         row.UpdatedDt,
			Category:             category,
			ColorCode:            colorFor(category),
		})
	}
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].Size != cells[j].Size {
			return cells[i].Size < cells[j].Size
		}
		return cells[i].Text < cells[j].Text
	})
	return cells, nil
}

// Filter restricts slowest/most-error-prone listings.
type Filter struct {
	// Sizes restricts to the given n-gram sizes; empty means all.
	Sizes []int
	// MinSamples drops n-grams with fewer lifetime samples.
	MinSamples int64
	// AllowedChars, when non-empty, keeps only n-grams built entirely from
	// these characters.
	AllowedChars string
	// Limit caps the result length; 0 means no cap.
	Limit int
}

func (f Filter) admits(text string, size int, samples int64) bool {
	if len(f.Sizes) > 0 {
		set := toSizeSet(f.Sizes)
		if !set[size] {
			return false
		}
	}
	if samples < f.MinSamples {
		return false
	}
	if f.AllowedChars != "" {
		allowed := map[rune]struct{}{}
		for _, r := range f.AllowedChars {
			allowed[r] = struct{}{}
		}
		for _, r := range text {
			if _, ok := allowed[r]; !ok {
				return false
			}
		}
	}
	return true
}

// Slowest returns n-grams ranked by descending decaying average speed.
func (s *Service) Slowest(ctx context.Context, userID, keyboardID string, filter Filter) ([]HeatmapCell, error) {
	cells, err := s.Heatmap(ctx, userID, keyboardID, nil)
	if err != nil {
		return nil, err
	}
	out := cells[:0]
	for _, cell := range cells {
		if !filter.admits(cell.Text, cell.Size, cell.SampleCount) {
			continue
		}
		if cell.DecayingAverageMs <= 0 {
			continue
		}
		out = append(out, cell)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DecayingAverageMs != out[j].DecayingAverageMs {
			return out[i].DecayingAverageMs > out[j].DecayingAverageMs
		}
		return out[i].Text < out[j].Text
	})
	return capped(out, filter.Limit), nil
}

// ErrorRank is one n-gram's lifetime error standing.
type ErrorRank struct {
	Text          string
	Size          int
	ErrorCount    int64
	InstanceCount int64
}

// MostErrorProne returns n-grams ranked by descending lifetime error count,
// aggregated over every summarized session in the scope.
func (s *Service) MostErrorProne(ctx context.Context, userID, keyboardID string, filter Filter) ([]ErrorRank, error) {
	summaries, err := s.store.ListSummaries(ctx, userID, keyboardID)
	if err != nil {
		return nil, err
	}

	type key struct {
		text string
		size int
	}
	totals := map[key]*ErrorRank{}
	for _, row := range summaries {
		k := key{text: row.Text, size: row.Size}
		r, ok := totals[k]
		if !ok {
			r = &ErrorRank{Text: row.Text, Size: row.Size}
			totals[k] = r
		}
		r.ErrorCount += row.ErrorCount
		r.InstanceCount += row.InstanceCount
	}

	out := make([]ErrorRank, 0, len(totals))
	for _, r := range totals {
		if r.ErrorCount == 0 {
			continue
		}
		if !filter.admits(r.Text, r.Size, r.InstanceCount) {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ErrorCount != out[j].ErrorCount {
			return out[i].ErrorCount > out[j].ErrorCount
		}
		return out[i].Text < out[j].Text
	})
	return capped(out, filter.Limit), nil
}

// ComparisonRow contrasts one n-gram between the two most recent sessions.
type ComparisonRow struct {
	Text        string
	Size        int
	LatestPerf  float64
	PrevPerf    float64
	DeltaPerf   float64
	LatestCount int64
	PrevCount   int64
	DeltaCount  int64
}

// CompareLatest contrasts the most recent session against its immediate
// predecessor per n-gram, using the recompute events each session produced.
// Performance is the target-performance percentage at that session.
func (s *Service) CompareLatest(ctx context.Context, userID, keyboardID string) ([]ComparisonRow, error) {
	sessions, err := s.scopeSessions(ctx, userID, keyboardID)
	if err != nil {
		return nil, err
	}
	if len(sessions) < 1 {
		return nil, nil
	}
	latest := sessions[len(sessions)-1]
	var prev *model.Session
	if len(sessions) >= 2 {
		prev = &sessions[len(sessions)-2]
	}

	events, err := s.store.ListHistory(ctx, userID, keyboardID)
	if err != nil {
		return nil, err
	}
	type key struct {
		text string
		size int
	}
	latestRows := map[key]model.SpeedSummaryEvent{}
	prevRows := map[key]model.SpeedSummaryEvent{}
	for _, ev := range events {
		k := key{text: ev.Text, size: ev.Size}
		switch {
		case ev.SessionID == latest.ID:
			latestRows[k] = ev
		case prev != nil && ev.SessionID == prev.ID:
			prevRows[k] = ev
		}
	}

	out := make([]ComparisonRow, 0, len(latestRows))
	for k, ev := range latestRows {
		row := ComparisonRow{
			Text:        k.text,
			Size:        k.size,
			LatestPerf:  ev.TargetPerformancePct,
			LatestCount: ev.SampleCount,
		}
		if pv, ok := prevRows[k]; ok {
			row.PrevPerf = pv.TargetPerformancePct
			row.PrevCount = pv.SampleCount
		}
		row.DeltaPerf = row.LatestPerf - row.PrevPerf
		row.DeltaCount = row.LatestCount - row.PrevCount
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Size != out[j].Size {
			return out[i].Size < out[j].Size
		}
		return out[i].Text < out[j].Text
	})
	return out, nil
}

// TrendPoint is one session's missed-target tally.
type TrendPoint struct {
	SessionID   string
	StartedAt   time.Time
	MissedCount int
}

// MissedTargetTrend reports, per session in chronological order, how many
// distinct n-grams had a latest recompute before that session that failed to
// meet the target.
func (s *Service) MissedTargetTrend(ctx context.Context, userID, keyboardID string) ([]TrendPoint, error) {
	sessions, err := s.scopeSessions(ctx, userID, keyboardID)
	if err != nil {
		return nil, err
	}
	events, err := s.store.ListHistory(ctx, userID, keyboardID)
	if err != nil {
		return nil, err
	}
	bySession := map[string][]model.SpeedSummaryEvent{}
	for _, ev := range events {
		bySession[ev.SessionID] = append(bySession[ev.SessionID], ev)
	}

	type key struct {
		text string
		size int
	}
	latestMeets := map[key]bool{}
	points := make([]TrendPoint, 0, len(sessions))
	for _, session := range sessions {
		missed := 0
		for _, meets := range latestMeets {
			if !meets {
				missed++
			}
		}
		points = append(points, TrendPoint{
			SessionID:   session.ID,
			StartedAt:   session.StartedAt,
			MissedCount: missed,
		})
		for _, ev := range bySession[session.ID] {
			latestMeets[key{text: ev.Text, size: ev.Size}] = ev.MeetsTarget
		}
	}
	return points, nil
}

func (s *Service) scopeSessions(ctx context.Context, userID, keyboardID string) ([]model.Session, error) {
	sessions, err := s.store.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	scoped := sessions[:0]
	for _, session := range sessions {
		if session.UserID == userID && session.KeyboardID == keyboardID {
			scoped = append(scoped, session)
		}
	}
	return scoped, nil
}

func categorize(row model.SpeedSummary) Category {
	switch {
	case row.MeetsTarget:
		return CategoryGreen
	case row.TargetPerformancePct >= amberThresholdPct:
		return CategoryAmber
	default:
		return CategoryGrey
	}
}

func colorFor(c Category) string {
	switch c {
	case CategoryGreen:
		return colorGreen
	case CategoryAmber:
		return colorAmber
	default:
		return colorGrey
	}
}

func msToWpm(msPerKeystroke float64) float64 {
	if msPerKeystroke <= 0 {
		return 0
	}
	// 60000 ms per minute, five keystrokes per word.
	return 60000 / msPerKeystroke / 5
}

func toSizeSet(sizes []int) map[int]bool {
	if len(sizes) == 0 {
		return nil
	}
	set := make(map[int]bool, len(sizes))
	for _, n := range sizes {
		set[n] = true
	}
	return set
}

func capped[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
