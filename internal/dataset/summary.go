package dataset

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/verte-zerg/heartica/internal/model"
)

// Summarize computes per-channel statistics and the effective sample rate.
func Summarize(path string, samples []model.Sample) (model.DatasetSummary, error) {
	if len(samples) == 0 {
		return model.DatasetSummary{}, fmt.Errorf("dataset has no samples")
	}
	summary := model.DatasetSummary{
		Path:    path,
		Samples: len(samples),
	}
	summary.DurationMs = samples[len(samples)-1].ElapsedMs - samples[0].ElapsedMs
	if len(samples) > 1 {
		intervals := make([]float64, 0, len(samples)-1)
		for i := 1; i < len(samples); i++ {
			intervals = append(intervals, float64(samples[i].ElapsedMs-samples[i-1].ElapsedMs))
		}
		if mean := stat.Mean(intervals, nil); mean > 0 {
			summary.SampleRateHz = 1000.0 / mean
		}
	}

	series := ChannelSeries(samples)
	for i, name := range Columns {
		values := series[i]
		mean, std := stat.MeanStdDev(values, nil)
		if len(values) < 2 {
			std = 0
		}
		summary.Channels = append(summary.Channels, model.ChannelSummary{
			Name:   name,
			Mean:   mean,
			StdDev: std,
			Min:    floats.Min(values),
			Max:    floats.Max(values),
		})
	}
	return summary, nil
}

// ChannelSeries splits samples into one slice per channel, in Columns order.
func ChannelSeries(samples []model.Sample) [][]float64 {
	out := make([][]float64, len(Columns))
	for i := range out {
		out[i] = make([]float64, len(samples))
	}
	for j, s := range samples {
		vals := channelValues(s)
		for i := range vals {
			out[i][j] = vals[i]
		}
	}
	return out
}
