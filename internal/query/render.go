package query

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// RenderHeatmap prints heatmap cells as a plain table.
func RenderHeatmap(w io.Writer, cells []HeatmapCell) error {
	if len(cells) == 0 {
		_, err := fmt.Fprintln(w, "No n-gram data found.")
		return err
	}
	headers := []string{"NGram", "Size", "Avg (ms)", "WPM", "Target %", "Samples", "Category"}
	rows := make([][]string, 0, len(cells))
	for _, c := range cells {
		rows = append(rows, []string{
			c.Text,
			fmt.Sprintf("%d", c.Size),
			fmt.Sprintf("%.1f", c.DecayingAverageMs),
			fmt.Sprintf("%.1f", c.DecayingAverageWpm),
			fmt.Sprintf("%.1f", c.TargetPerformancePct),
			fmt.Sprintf("%d", c.SampleCount),
			string(c.Category),
		})
	}
	return writeTable(w, headers, rows, map[int]bool{1: true, 2: true, 3: true, 4: true, 5: true})
}

// RenderErrorRanks prints most-error-prone n-grams as a plain table.
func RenderErrorRanks(w io.Writer, ranks []ErrorRank) error {
	if len(ranks) == 0 {
		_, err := fmt.Fprintln(w, "No error data found.")
		return err
	}
	headers := []string{"NGram", "Size", "Errors", "Instances"}
	rows := make([][]string, 0, len(ranks))
	for _, r := range ranks {
		rows = append(rows, []string{
			r.Text,
			fmt.Sprintf("%d", r.Size),
			fmt.Sprintf("%d", r.ErrorCount),
			fmt.Sprintf("%d", r.InstanceCount),
		})
	}
	return writeTable(w, headers, rows, map[int]bool{1: true, 2: true, 3: true})
}

// RenderComparison prints the latest-vs-previous session contrast.
func RenderComparison(w io.Writer, rows []ComparisonRow) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "No comparison data found.")
		return err
	}
	headers := []string{"NGram", "Size", "Perf", "Prev Perf", "Δ Perf", "Count", "Prev Count", "Δ Count"}
	cells := make([][]string, 0, len(rows))
	for _, r := range rows {
		cells = append(cells, []string{
			r.Text,
			fmt.Sprintf("%d", r.Size),
			fmt.Sprintf("%.1f", r.LatestPerf),
			fmt.Sprintf("%.1f", r.PrevPerf),
			fmt.Sprintf("%+.1f", r.DeltaPerf),
			fmt.Sprintf("%d", r.LatestCount),
			fmt.Sprintf("%d", r.PrevCount),
			fmt.Sprintf("%+d", r.DeltaCount),
		})
	}
	return writeTable(w, headers, cells, map[int]bool{1: true, 2: true, 3: true, 4: true, 5: true, 6: true, 7: true})
}

// RenderTrend prints the missed-target counts per session.
func RenderTrend(w io.Writer, points []TrendPoint) error {
	if len(points) == 0 {
		_, err := fmt.Fprintln(w, "No sessions found.")
		return err
	}
	headers := []string{"Session", "Started", "Missed Target"}
	rows := make([][]string, 0, len(points))
	for _, p := range points {
		rows = append(rows, []string{
			p.SessionID,
			p.StartedAt.Format("2006-01-02 15:04"),
			fmt.Sprintf("%d", p.MissedCount),
		})
	}
	return writeTable(w, headers, rows, map[int]bool{2: true})
}

func writeTable(w io.Writer, headers []string, rows [][]string, rightAlign map[int]bool) error {
	for _, line := range formatTable(headers, rows, rightAlign) {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

func formatTable(headers []string, rows [][]string, rightAlignCols map[int]bool) []string {
	colCount := len(headers)
	for _, row := range rows {
		if len(row) > colCount {
			colCount = len(row)
		}
	}
	if colCount == 0 {
		return nil
	}

	widths := make([]int, colCount)
	for i, header := range headers {
		widths[i] = displayWidth(header)
	}
	for _, row := range rows {
		for i := 0; i < colCount; i++ {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			if w := displayWidth(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	lines := make([]string, 0, len(rows)+1)
	if len(headers) > 0 {
		lines = append(lines, formatRow(headers, widths, rightAlignCols))
	}
	for _, row := range rows {
		lines = append(lines, formatRow(row, widths, rightAlignCols))
	}
	return lines
}

func formatRow(row []string, widths []int, rightAlignCols map[int]bool) string {
	var b strings.Builder
	for i := 0; i < len(widths); i++ {
		cell := ""
		if i < len(row) {
			cell = row[i]
		}
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(padCell(cell, widths[i], rightAlignCols[i]))
	}
	return b.String()
}

func padCell(value string, width int, rightAlign bool) string {
	valueWidth := displayWidth(value)
	if valueWidth >= width {
		return value
	}
	padding := width - valueWidth
	if rightAlign {
		return strings.Repeat(" ", padding) + value
	}
	return value + strings.Repeat(" ", padding)
}

func displayWidth(value string) int {
	return utf8.RuneCountInString(value)
}
