// Package stats contains heart-rate history calculations and reporting.
package stats

import (
	"context"
	"io"

	"github.com/verte-zerg/heartica/internal/model"
)

// SessionLister loads processed sessions.
type SessionLister interface {
	ListSessions(ctx context.Context, cfg model.HistoryConfig) ([]model.SessionRecord, error)
}

// Report contains precomputed data for history rendering.
type Report struct {
	Sessions []model.SessionRecord
	Summary  Summary
	Window   int
}

// BuildReport loads and prepares data for history rendering.
func BuildReport(ctx context.Context, st SessionLister, cfg model.HistoryConfig) (Report, error) {
	sessions, err := st.ListSessions(ctx, cfg)
	if err != nil {
		return Report{}, err
	}
	return Report{
		Sessions: sessions,
		Summary:  Summarize(sessions),
		Window:   cfg.Window,
	}, nil
}

// Render writes the summary, trend and session table. width bounds the
// trend line; zero means unbounded.
func (r Report) Render(w io.Writer, width int) error {
	if err := RenderSummary(w, r.Sessions); err != nil {
		return err
	}
	if err := RenderTrend(w, r.Sessions, r.Window, width); err != nil {
		return err
	}
	return RenderSessionTable(w, r.Sessions)
}
