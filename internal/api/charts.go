package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/gridlock/internal/httputil"
)

// showThroughputChart renders per-car attempts and accepted moves as an
// HTML bar chart.
func (s *Server) showThroughputChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.cfg.Counter == nil {
		httputil.NotFound(w, "move counter not enabled")
		return
	}

	counts := s.cfg.Counter.Counts()
	labels := make([]string, len(counts))
	attempts := make([]opts.BarData, len(counts))
	moves := make([]opts.BarData, len(counts))
	rejected := make([]opts.BarData, len(counts))
	for i, c := range counts {
		labels[i] = c.Label
		attempts[i] = opts.BarData{Value: c.Attempts}
		moves[i] = opts.BarData{Value: c.Moves}
		rejected[i] = opts.BarData{Value: c.Rejected()}
	}
	total, accepted := s.cfg.Counter.Totals()

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "640px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Car Throughput",
			Subtitle: fmt.Sprintf("mode=%s attempts=%d moves=%d", s.cfg.Traffic.Field().Mode(), total, accepted),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(labels).
		AddSeries("attempts", attempts).
		AddSeries("moves", moves,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		).
		AddSeries("rejected", rejected)

	page := components.NewPage()
	page.PageTitle = "gridlock throughput"
	page.AddCharts(bar)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, "failed to render chart")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
