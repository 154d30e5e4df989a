package dataset

import (
	"fmt"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/verte-zerg/heartica/internal/model"
)

// SavePlot renders every channel against elapsed time into an image file.
// The format follows the output extension (png, svg, pdf).
func SavePlot(samples []model.Sample, title, outPath string) error {
	if len(samples) == 0 {
		return fmt.Errorf("dataset has no samples")
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "elapsed (s)"
	p.Y.Label.Text = "normalized intensity"
	p.Add(plotter.NewGrid())

	series := ChannelSeries(samples)
	for i, name := range Columns {
		pts := make(plotter.XYs, len(samples))
		for j, s := range samples {
			pts[j].X = float64(s.ElapsedMs) / 1000.0
			pts[j].Y = series[i][j]
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return fmt.Errorf("failed to build %s line: %w", name, err)
		}
		line.Color = plotutil.Color(i)
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(name, line)
	}
	p.Legend.Top = true

	if filepath.Ext(outPath) == "" {
		return fmt.Errorf("plot path %q needs an image extension", outPath)
	}
	if err := p.Save(14*vg.Inch, 6*vg.Inch, outPath); err != nil {
		return fmt.Errorf("failed to save plot: %w", err)
	}
	return nil
}
