package source

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/verte-zerg/heartica/internal/dataset"
	"github.com/verte-zerg/heartica/internal/model"
)

func collect(t *testing.T, src Source) []model.Sample {
	t.Helper()
	var out []model.Sample
	require.NoError(t, src.Run(context.Background(), func(s model.Sample) {
		out = append(out, s)
	}))
	return out
}

func TestReplayRebasesElapsed(t *testing.T) {
	body := dataset.Header + "\n100,0.2,0.3,0.4,0.5,0.1\n133,0.21,0.31,0.41,0.51,0.11\n"
	samples := collect(t, NewReplay(strings.NewReader(body), false))
	require.Len(t, samples, 2)
	require.Equal(t, int64(0), samples[0].ElapsedMs)
	require.Equal(t, int64(33), samples[1].ElapsedMs)
	require.Equal(t, 0.51, samples[1].Alpha)
}

func TestReplayRejectsBadInput(t *testing.T) {
	err := NewReplay(strings.NewReader("not,a,dataset\n"), false).Run(context.Background(), func(model.Sample) {})
	require.Error(t, err)

	body := dataset.Header + "\n0,0.2,0.3,0.4,0.5,0.1\nbroken\n"
	var n int
	err = NewReplay(strings.NewReader(body), false).Run(context.Background(), func(model.Sample) { n++ })
	require.Error(t, err)
	require.Equal(t, 1, n)
}

func TestReplayRealtimeStopsOnCancel(t *testing.T) {
	body := dataset.Header + "\n0,0,0,0,0,0\n60000,0,0,0,0,0\n"
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	var n int
	err := NewReplay(strings.NewReader(body), true).Run(ctx, func(model.Sample) { n++ })
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 1, n)
}

func TestSyntheticProducesPulse(t *testing.T) {
	src := NewSynthetic(72, 30, 10*time.Second, 1)
	src.Noise = 0
	samples := collect(t, src)
	require.Len(t, samples, 300)
	require.Equal(t, int64(0), samples[0].ElapsedMs)
	require.Equal(t, int64(33), samples[1].ElapsedMs)

	// Count upward zero crossings of the green channel around its mean.
	var mean float64
	for _, s := range samples {
		mean += s.Green
	}
	mean /= float64(len(samples))
	crossings := 0
	for i := 1; i < len(samples); i++ {
		if samples[i-1].Green < mean && samples[i].Green >= mean {
			crossings++
		}
	}
	// 72 bpm over 10 s is 12 beats.
	require.InDelta(t, 12, crossings, 1)

	for _, s := range samples {
		for _, v := range []float64{s.Red, s.Green, s.Blue, s.IR} {
			require.False(t, math.IsNaN(v))
			require.GreaterOrEqual(t, v, 0.0)
			require.LessOrEqual(t, v, 1.0)
		}
	}
}

func TestSyntheticDeterministicForSeed(t *testing.T) {
	a := collect(t, NewSynthetic(60, 20, time.Second, 7))
	b := collect(t, NewSynthetic(60, 20, time.Second, 7))
	require.Equal(t, a, b)
}

func TestSyntheticValidates(t *testing.T) {
	require.Error(t, NewSynthetic(72, 0, time.Second, 1).Run(context.Background(), func(model.Sample) {}))
	require.Error(t, NewSynthetic(0, 30, time.Second, 1).Run(context.Background(), func(model.Sample) {}))
}
