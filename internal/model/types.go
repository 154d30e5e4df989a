// Package model defines shared data structures.
package model

import "time"

// Sample is one normalized observation across all channels.
type Sample struct {
	ElapsedMs int64
	Alpha     float64
	Red       float64
	Green     float64
	Blue      float64
	IR        float64
}

// Decomposition holds the four candidates produced by the external engine.
// HR1 and HR4 are band filtered to the human heart-rate range; HR2 and HR3
// are not and are kept for diagnostics only.
type Decomposition struct {
	HR1 float64
	HR2 float64
	HR3 float64
	HR4 float64
}

// HeartRate returns the larger of the two band-filtered candidates.
func (d Decomposition) HeartRate() float64 {
	if d.HR1 > d.HR4 {
		return d.HR1
	}
	return d.HR4
}

// SessionRecord captures a processed session for history.
type SessionRecord struct {
	ID          string
	DatasetPath string
	StartedAt   time.Time
	EndedAt     time.Time
	SampleCount int64
	Result      Decomposition
	HeartRate   float64
	DatasetKept bool
}

// HistoryConfig defines filters and options for history output.
type HistoryConfig struct {
	Since  *time.Time
	Last   int
	Window int
}

// ChannelSummary describes the distribution of one channel in a dataset.
type ChannelSummary struct {
	Name   string
	Mean   float64
	StdDev float64
	Min    float64
	Max    float64
}

// DatasetSummary describes a dataset file.
type DatasetSummary struct {
	Path         string
	Samples      int
	DurationMs   int64
	SampleRateHz float64
	Channels     []ChannelSummary
}
