package tui

import (
	"context"

	"github.com/verte-zerg/heartica/internal/model"
	"github.com/verte-zerg/heartica/internal/source"
)

// Feed runs src in its own goroutine. Samples arrive on the first channel,
// which is closed when the source ends; the source's error is then sent on
// the second. Cancelling ctx stops the source without leaking the goroutine.
func Feed(ctx context.Context, src source.Source) (<-chan model.Sample, <-chan error) {
	samples := make(chan model.Sample, 64)
	errc := make(chan error, 1)
	go func() {
		defer close(samples)
		errc <- src.Run(ctx, func(s model.Sample) {
			select {
			case samples <- s:
			case <-ctx.Done():
			}
		})
	}()
	return samples, errc
}
