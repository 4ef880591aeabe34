// Package report draws diagnostic plots of a trajectory pool and of the
// windows drawn from it.
package report

import (
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/Noofbiz/shuttle/export"
	"github.com/Noofbiz/shuttle/trajectory"
)

// Output file names written by WriteAll.
const (
	LandingFile      = "landing.png"
	WindowLengthFile = "window_lengths.png"
	TimeToDropFile   = "time_to_drop.png"
)

// DefaultBins is the histogram bin count used by WriteAll.
const DefaultBins = 20

// Summary describes a sample of values.
type Summary struct {
	N    int
	Min  float64
	Max  float64
	Mean float64
	Std  float64
}

// Summarize returns the count, range, mean and population std of xs.
func Summarize(xs []float64) Summary {
	if len(xs) == 0 {
		return Summary{}
	}
	mean, std := stat.PopMeanStdDev(xs, nil)
	return Summary{
		N:    len(xs),
		Min:  floats.Min(xs),
		Max:  floats.Max(xs),
		Mean: mean,
		Std:  std,
	}
}

func (s Summary) String() string {
	return fmt.Sprintf("n=%d min=%.3f max=%.3f mean=%.3f std=%.3f", s.N, s.Min, s.Max, s.Mean, s.Std)
}

// LandingScatter plots the landing x/y of every trajectory to path.
func LandingScatter(path string, trajs []*trajectory.Trajectory) error {
	pts := make(plotter.XYs, 0, len(trajs))
	for _, t := range trajs {
		pts = append(pts, plotter.XY{X: float64(t.LabelXYZ[0]), Y: float64(t.LabelXYZ[1])})
	}

	p := plot.New()
	p.Title.Text = "Landing points"
	p.X.Label.Text = "x"
	p.Y.Label.Text = "y"

	sc, err := plotter.NewScatter(pts)
	if err != nil {
		return err
	}
	sc.GlyphStyle.Color = color.RGBA{R: 20, G: 80, B: 200, A: 200}
	sc.GlyphStyle.Radius = vg.Points(2.2)
	p.Add(sc, plotter.NewGrid())

	xmin, xmax, ymin, ymax := autoRange(pts)
	p.X.Min, p.X.Max = xmin, xmax
	p.Y.Min, p.Y.Max = ymin, ymax

	return save(p, path)
}

// Histogram plots values into bins to path.
func Histogram(path, title, xLabel string, values []float64, bins int) error {
	if len(values) == 0 {
		return fmt.Errorf("histogram %q: no values", title)
	}
	if bins < 1 {
		bins = DefaultBins
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xLabel
	p.Y.Label.Text = "count"

	h, err := plotter.NewHist(plotter.Values(values), bins)
	if err != nil {
		return err
	}
	h.FillColor = color.RGBA{R: 40, G: 120, B: 40, A: 200}
	p.Add(h)

	return save(p, path)
}

// WriteAll writes the interactive HTML page, the landing scatter of trajs and
// the window length and time-to-drop histograms of rows into dir, and returns
// the written paths.
func WriteAll(dir string, trajs []*trajectory.Trajectory, rows []export.WindowRow) ([]string, error) {
	var written []string

	htmlPath := filepath.Join(dir, HTMLFile)
	if err := WriteHTML(htmlPath, trajs, rows); err != nil {
		return written, err
	}
	written = append(written, htmlPath)

	landing := filepath.Join(dir, LandingFile)
	if err := LandingScatter(landing, trajs); err != nil {
		return written, fmt.Errorf("landing scatter: %w", err)
	}
	written = append(written, landing)

	if len(rows) == 0 {
		return written, nil
	}
	lengths := make([]float64, len(rows))
	times := make([]float64, len(rows))
	for i, r := range rows {
		lengths[i] = float64(r.Length)
		times[i] = float64(r.RawTime)
	}

	lenPath := filepath.Join(dir, WindowLengthFile)
	if err := Histogram(lenPath, "Window lengths", "frames", lengths, DefaultBins); err != nil {
		return written, err
	}
	written = append(written, lenPath)

	timePath := filepath.Join(dir, TimeToDropFile)
	if err := Histogram(timePath, "Time to drop", "frames", times, DefaultBins); err != nil {
		return written, err
	}
	written = append(written, timePath)

	return written, nil
}

func save(p *plot.Plot, path string) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return p.Save(8*vg.Inch, 6*vg.Inch, path)
}

// autoRange computes padded min/max for X and Y for a set of points.
func autoRange(xs plotter.XYs) (xmin, xmax, ymin, ymax float64) {
	if len(xs) == 0 {
		return -1, 1, -1, 1
	}
	xmin, ymin = math.Inf(1), math.Inf(1)
	xmax, ymax = math.Inf(-1), math.Inf(-1)
	for _, p := range xs {
		xmin = math.Min(xmin, p.X)
		xmax = math.Max(xmax, p.X)
		ymin = math.Min(ymin, p.Y)
		ymax = math.Max(ymax, p.Y)
	}
	padx := (xmax - xmin) * 0.06
	pady := (ymax - ymin) * 0.06
	if padx == 0 {
		padx = 1.0
	}
	if pady == 0 {
		pady = 1.0
	}
	return xmin - padx, xmax + padx, ymin - pady, ymax + pady
}
