package bench

import (
	"encoding/json"
	"fmt"
	"image/color"
	"io"
	"os"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// Report file names written by WriteReport.
const (
	ThroughputPNG = "throughput.png"
	LatencyPNG    = "latency.png"
	ReportHTML    = "report.html"
	ResultsJSON   = "results.json"
)

// WriteReport writes the PNG charts, the HTML report and the raw results to
// dir, creating it if needed.
func WriteReport(dir string, results []Result) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create report dir: %w", err)
	}
	summaries := Summarize(results)

	if err := WriteThroughputPNG(filepath.Join(dir, ThroughputPNG), summaries); err != nil {
		return err
	}
	if err := WriteLatencyPNG(filepath.Join(dir, LatencyPNG), summaries); err != nil {
		return err
	}

	f, err := os.Create(filepath.Join(dir, ReportHTML))
	if err != nil {
		return fmt.Errorf("failed to create html report: %w", err)
	}
	if err := WriteHTML(f, summaries); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(struct {
		Summaries []Summary `json:"summaries"`
		Results   []Result  `json:"results"`
	}{summaries, results}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, ResultsJSON), data, 0o644)
}

func modeNames(summaries []Summary) []string {
	names := make([]string, len(summaries))
	for i, s := range summaries {
		names[i] = s.Mode.String()
	}
	return names
}

// WriteThroughputPNG plots mean moves per second per mode with the spread
// across runs as error bars.
func WriteThroughputPNG(path string, summaries []Summary) error {
	p := plot.New()
	p.Title.Text = "Throughput by lock strategy"
	p.Y.Label.Text = "Moves per second"

	means := make(plotter.Values, len(summaries))
	errs := make(plotter.Errors, len(summaries))
	for i, s := range summaries {
		means[i] = s.ThroughputMean
		errs[i].Low = s.ThroughputStdDev
		errs[i].High = s.ThroughputStdDev
	}

	bars, err := plotter.NewBarChart(means, vg.Points(40))
	if err != nil {
		return err
	}
	bars.Color = color.RGBA{R: 49, G: 104, B: 142, A: 255}
	p.Add(bars)

	type meanErrs struct {
		plotter.XYs
		plotter.YErrors
	}
	pts := meanErrs{XYs: make(plotter.XYs, len(summaries)), YErrors: plotter.YErrors(errs)}
	for i, s := range summaries {
		pts.XYs[i] = plotter.XY{X: float64(i), Y: s.ThroughputMean}
	}
	yerrs, err := plotter.NewYErrorBars(pts)
	if err != nil {
		return err
	}
	p.Add(yerrs)

	p.NominalX(modeNames(summaries)...)
	if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}

// WriteLatencyPNG plots p50, p95 and p99 attempt latency per mode as grouped
// bars.
func WriteLatencyPNG(path string, summaries []Summary) error {
	p := plot.New()
	p.Title.Text = "Move attempt latency by lock strategy"
	p.Y.Label.Text = "Microseconds"

	series := []struct {
		name  string
		value func(Summary) float64
		color color.Color
	}{
		{"p50", func(s Summary) float64 { return s.LatencyP50 }, color.RGBA{R: 53, G: 183, B: 121, A: 255}},
		{"p95", func(s Summary) float64 { return s.LatencyP95 }, color.RGBA{R: 49, G: 104, B: 142, A: 255}},
		{"p99", func(s Summary) float64 { return s.LatencyP99 }, color.RGBA{R: 68, G: 1, B: 84, A: 255}},
	}
	width := vg.Points(20)
	for i, sr := range series {
		values := make(plotter.Values, len(summaries))
		for j, s := range summaries {
			values[j] = sr.value(s)
		}
		bars, err := plotter.NewBarChart(values, width)
		if err != nil {
			return err
		}
		bars.Color = sr.color
		bars.Offset = width * vg.Length(i-1)
		p.Add(bars)
		p.Legend.Add(sr.name, bars)
	}
	p.Legend.Top = true

	p.NominalX(modeNames(summaries)...)
	if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}

// WriteHTML renders throughput, latency and lock wait charts as one page.
func WriteHTML(w io.Writer, summaries []Summary) error {
	names := modeNames(summaries)
	throughput := make([]opts.BarData, len(summaries))
	accept := make([]opts.BarData, len(summaries))
	waits := make([]opts.BarData, len(summaries))
	p50 := make([]opts.BarData, len(summaries))
	p95 := make([]opts.BarData, len(summaries))
	p99 := make([]opts.BarData, len(summaries))
	for i, s := range summaries {
		throughput[i] = opts.BarData{Value: round1(s.ThroughputMean)}
		accept[i] = opts.BarData{Value: round1(100 * s.AcceptRate)}
		waits[i] = opts.BarData{Value: round1(s.WaitsMean)}
		p50[i] = opts.BarData{Value: round1(s.LatencyP50)}
		p95[i] = opts.BarData{Value: round1(s.LatencyP95)}
		p99[i] = opts.BarData{Value: round1(s.LatencyP99)}
	}
	top := charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"})

	tput := newBar("Throughput", "mean accepted moves per second")
	tput.SetXAxis(names).AddSeries("moves/s", throughput, top)

	rate := newBar("Acceptance", "percent of attempts accepted")
	rate.SetXAxis(names).AddSeries("accepted %", accept, top)

	lat := newBar("Attempt latency", "microseconds per move attempt")
	lat.SetXAxis(names).
		AddSeries("p50", p50).
		AddSeries("p95", p95).
		AddSeries("p99", p99, top)

	wait := newBar("Lock waits", "mean number of times a car had to wait, per run")
	wait.SetXAxis(names).AddSeries("waits", waits, top)

	page := components.NewPage()
	page.PageTitle = "gridlock strategy comparison"
	page.AddCharts(tput, rate, lat, wait)
	if err := page.Render(w); err != nil {
		return fmt.Errorf("failed to render html report: %w", err)
	}
	return nil
}

func newBar(title, subtitle string) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10%"}),
	)
	return bar
}

func round1(v float64) float64 {
	return float64(int64(v*10+0.5)) / 10
}
