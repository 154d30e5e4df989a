// Package source produces samples for capture sessions.
package source

import (
	"context"
	"time"

	"github.com/verte-zerg/heartica/internal/model"
)

// Source emits samples in order until it is exhausted or ctx is done.
type Source interface {
	Run(ctx context.Context, emit func(model.Sample)) error
}

// pace blocks until elapsedMs has passed since start, when realtime is set.
func pace(ctx context.Context, realtime bool, start time.Time, elapsedMs int64) error {
	if !realtime {
		return ctx.Err()
	}
	wait := time.Until(start.Add(time.Duration(elapsedMs) * time.Millisecond))
	if wait <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
