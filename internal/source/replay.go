package source

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/verte-zerg/heartica/internal/dataset"
	"github.com/verte-zerg/heartica/internal/model"
)

// Replay re-emits the samples of an existing dataset.
type Replay struct {
	r io.Reader
	// Realtime spaces samples by their recorded elapsed offsets.
	Realtime bool
}

// NewReplay reads a dataset from r.
func NewReplay(r io.Reader, realtime bool) *Replay {
	return &Replay{r: r, Realtime: realtime}
}

// Run implements Source. Elapsed offsets are rebased so the first sample is at zero.
func (p *Replay) Run(ctx context.Context, emit func(model.Sample)) error {
	sc, err := dataset.NewScanner(p.r)
	if err != nil {
		return fmt.Errorf("failed to read replay header: %w", err)
	}
	start := time.Now()
	var first int64
	n := 0
	for sc.Scan() {
		s := sc.Sample()
		if n == 0 {
			first = s.ElapsedMs
		}
		n++
		s.ElapsedMs -= first
		if err := pace(ctx, p.Realtime, start, s.ElapsedMs); err != nil {
			return err
		}
		emit(s)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("failed to read replay: %w", err)
	}
	return nil
}
