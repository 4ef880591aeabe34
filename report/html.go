package report

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/Noofbiz/shuttle/export"
	"github.com/Noofbiz/shuttle/trajectory"
)

// HTMLFile is the interactive page written by WriteAll.
const HTMLFile = "report.html"

// LandingChart builds an interactive landing scatter. Each point carries the
// number of recorded frames of its trajectory as a third value, colored by
// the visual map.
func LandingChart(trajs []*trajectory.Trajectory) *charts.Scatter {
	data := make([]opts.ScatterData, 0, len(trajs))
	maxFrames := 1
	for _, t := range trajs {
		data = append(data, opts.ScatterData{
			Name:  t.Name,
			Value: []any{t.LabelXYZ[0], t.LabelXYZ[1], t.Len()},
		})
		maxFrames = max(maxFrames, t.Len())
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Landing points", Width: "900px", Height: "700px"}),
		charts.WithTitleOpts(opts.Title{Title: "Landing points", Subtitle: fmt.Sprintf("trajectories=%d", len(data))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "x", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "y", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Dimension:  "2",
			Min:        0,
			Max:        float32(maxFrames),
			InRange:    &opts.VisualMapInRange{Color: []string{"#440154", "#3e4989", "#26828e", "#35b779", "#fde725"}},
		}),
	)
	scatter.AddSeries("landing", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))
	return scatter
}

// WindowLengthChart builds a bar chart counting windows per length.
func WindowLengthChart(rows []export.WindowRow) *charts.Bar {
	counts := lengthCounts(rows)
	x := make([]string, 0, len(counts))
	y := make([]opts.BarData, 0, len(counts))
	for l := 1; l < len(counts); l++ {
		x = append(x, fmt.Sprint(l))
		y = append(y, opts.BarData{Value: counts[l]})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{Title: "Window lengths", Subtitle: fmt.Sprintf("windows=%d", len(rows))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x).AddSeries("windows", y)
	return bar
}

// lengthCounts returns counts[l] = number of rows of length l.
func lengthCounts(rows []export.WindowRow) []int {
	maxLen := 0
	for _, r := range rows {
		maxLen = max(maxLen, int(r.Length))
	}
	counts := make([]int, maxLen+1)
	for _, r := range rows {
		if r.Length > 0 {
			counts[r.Length]++
		}
	}
	return counts
}

// WriteHTML renders the landing scatter and, when rows is not empty, the
// window length chart into a single page at path.
func WriteHTML(path string, trajs []*trajectory.Trajectory, rows []export.WindowRow) error {
	page := components.NewPage()
	page.AddCharts(LandingChart(trajs))
	if len(rows) > 0 {
		page.AddCharts(WindowLengthChart(rows))
	}

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return fmt.Errorf("render report page: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}
