// Package stats contains heart-rate history calculations and reporting.
package stats

import (
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/verte-zerg/heartica/internal/model"
)

const sparkChars = " .:-=+*#%@"

// Summary aggregates heart-rate estimates across sessions.
type Summary struct {
	Sessions int
	Mean     float64
	Min      float64
	Max      float64
	Latest   float64
}

// Summarize computes summary values for sessions ordered oldest first.
func Summarize(sessions []model.SessionRecord) Summary {
	if len(sessions) == 0 {
		return Summary{}
	}
	s := Summary{
		Sessions: len(sessions),
		Min:      sessions[0].HeartRate,
		Max:      sessions[0].HeartRate,
		Latest:   sessions[len(sessions)-1].HeartRate,
	}
	var total float64
	for _, rec := range sessions {
		total += rec.HeartRate
		s.Min = math.Min(s.Min, rec.HeartRate)
		s.Max = math.Max(s.Max, rec.HeartRate)
	}
	s.Mean = total / float64(len(sessions))
	return s
}

// HeartRates extracts the estimate of every session.
func HeartRates(sessions []model.SessionRecord) []float64 {
	out := make([]float64, len(sessions))
	for i, rec := range sessions {
		out[i] = rec.HeartRate
	}
	return out
}

// MovingAverage computes a rolling mean over the provided window size.
func MovingAverage(values []float64, window int) []float64 {
	if window <= 1 || len(values) == 0 {
		out := make([]float64, len(values))
		copy(out, values)
		return out
	}
	out := make([]float64, len(values))
	var sum float64
	for i := 0; i < len(values); i++ {
		sum += values[i]
		if i >= window {
			sum -= values[i-window]
		}
		den := float64(i + 1)
		if i >= window {
			den = float64(window)
		}
		out[i] = sum / den
	}
	return out
}

// Sparkline renders a single-line ASCII sparkline for the values.
func Sparkline(values []float64) string {
	if len(values) == 0 {
		return ""
	}
	minVal := values[0]
	maxVal := values[0]
	for _, v := range values[1:] {
		minVal = math.Min(minVal, v)
		maxVal = math.Max(maxVal, v)
	}
	if math.Abs(maxVal-minVal) < 1e-9 {
		return strings.Repeat(string(sparkChars[len(sparkChars)/2]), len(values))
	}
	var b strings.Builder
	for _, v := range values {
		pos := (v - minVal) / (maxVal - minVal)
		idx := int(math.Round(pos * float64(len(sparkChars)-1)))
		idx = max(0, min(idx, len(sparkChars)-1))
		b.WriteByte(sparkChars[idx])
	}
	return b.String()
}

// RenderSummary prints summary values for sessions.
func RenderSummary(w io.Writer, sessions []model.SessionRecord) error {
	if len(sessions) == 0 {
		_, err := fmt.Fprintln(w, "No sessions found.")
		return err
	}
	s := Summarize(sessions)
	lines := []string{
		"Summary",
		fmt.Sprintf("Sessions: %d", s.Sessions),
		fmt.Sprintf("Latest: %.1f bpm", s.Latest),
		fmt.Sprintf("Mean: %.1f bpm", s.Mean),
		fmt.Sprintf("Range: %.1f-%.1f bpm", s.Min, s.Max),
		"",
	}
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

// RenderTrend prints a sparkline of the smoothed estimates, keeping the
// most recent points when the history is wider than width.
func RenderTrend(w io.Writer, sessions []model.SessionRecord, window, width int) error {
	if len(sessions) == 0 {
		return nil
	}
	values := MovingAverage(HeartRates(sessions), window)
	label := fmt.Sprintf("Trend (window %d): ", max(window, 1))
	if width > 0 {
		room := width - len(label)
		if room < 1 {
			room = 1
		}
		if len(values) > room {
			values = values[len(values)-room:]
		}
	}
	if _, err := fmt.Fprintf(w, "%s%s\n\n", label, Sparkline(values)); err != nil {
		return err
	}
	return nil
}

// RenderSessionTable prints one row per session.
func RenderSessionTable(w io.Writer, sessions []model.SessionRecord) error {
	if len(sessions) == 0 {
		return nil
	}
	headers := []string{"Ended", "Duration", "Samples", "BPM", "hr1", "hr2", "hr3", "hr4", "Dataset"}
	rows := make([][]string, 0, len(sessions))
	for _, rec := range sessions {
		dataset := rec.DatasetPath
		if !rec.DatasetKept {
			dataset = "(deleted)"
		}
		rows = append(rows, []string{
			rec.EndedAt.Local().Format("2006-01-02 15:04:05"),
			rec.EndedAt.Sub(rec.StartedAt).Round(time.Second).String(),
			fmt.Sprintf("%d", rec.SampleCount),
			fmt.Sprintf("%.1f", rec.HeartRate),
			fmt.Sprintf("%.1f", rec.Result.HR1),
			fmt.Sprintf("%.1f", rec.Result.HR2),
			fmt.Sprintf("%.1f", rec.Result.HR3),
			fmt.Sprintf("%.1f", rec.Result.HR4),
			dataset,
		})
	}
	rightAlign := map[int]bool{1: true, 2: true, 3: true, 4: true, 5: true, 6: true, 7: true}
	for _, line := range formatTable(headers, rows, rightAlign) {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
