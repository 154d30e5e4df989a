package source

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/verte-zerg/heartica/internal/model"
)

// Synthetic generates a pulse-like reflectance signal at a fixed rate.
type Synthetic struct {
	BPM      float64
	RateHz   float64
	Duration time.Duration
	// Noise is the standard deviation of the gaussian noise added per channel.
	Noise    float64
	Realtime bool

	rnd *rand.Rand
}

// NewSynthetic returns a Synthetic source seeded with seed.
func NewSynthetic(bpm, rateHz float64, duration time.Duration, seed int64) *Synthetic {
	return &Synthetic{
		BPM:      bpm,
		RateHz:   rateHz,
		Duration: duration,
		Noise:    0.005,
		rnd:      rand.New(rand.NewSource(seed)),
	}
}

// channel weights of the pulse component; green reflects blood volume best.
var pulseWeights = struct{ red, green, blue, ir float64 }{0.4, 1.0, 0.3, 0.6}

// Run implements Source.
func (g *Synthetic) Run(ctx context.Context, emit func(model.Sample)) error {
	if g.RateHz <= 0 {
		return fmt.Errorf("sample rate must be greater than 0")
	}
	if g.BPM <= 0 {
		return fmt.Errorf("bpm must be greater than 0")
	}
	stepMs := 1000.0 / g.RateHz
	count := int(g.Duration.Seconds() * g.RateHz)
	start := time.Now()
	for i := 0; i < count; i++ {
		elapsed := int64(math.Round(float64(i) * stepMs))
		if err := pace(ctx, g.Realtime, start, elapsed); err != nil {
			return err
		}
		emit(g.sample(elapsed))
	}
	return nil
}

func (g *Synthetic) sample(elapsedMs int64) model.Sample {
	t := float64(elapsedMs) / 1000.0
	pulse := 0.02 * math.Sin(2*math.Pi*g.BPM/60.0*t)
	// Slow drift from breathing and ambient light.
	drift := 0.01 * math.Sin(2*math.Pi*0.25*t)
	return model.Sample{
		ElapsedMs: elapsedMs,
		Alpha:     1,
		Red:       g.clamp(0.55 + pulseWeights.red*pulse + drift),
		Green:     g.clamp(0.45 + pulseWeights.green*pulse + drift),
		Blue:      g.clamp(0.35 + pulseWeights.blue*pulse + 0.5*drift),
		IR:        g.clamp(0.60 + pulseWeights.ir*pulse + 0.2*drift),
	}
}

func (g *Synthetic) clamp(v float64) float64 {
	v += g.rnd.NormFloat64() * g.Noise
	return math.Max(0, math.Min(1, v))
}
