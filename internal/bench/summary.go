package bench

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/gridlock/internal/field"
)

// Summary aggregates every run of one mode.
type Summary struct {
	Mode field.Mode `json:"mode"`
	Runs int        `json:"runs"`

	// Moves per second across runs.
	ThroughputMean   float64 `json:"throughput_mean"`
	ThroughputStdDev float64 `json:"throughput_stddev"`
	ThroughputMax    float64 `json:"throughput_max"`

	AcceptRate float64 `json:"accept_rate"`
	WaitsMean  float64 `json:"lock_waits_mean"`

	// Per-attempt latency in microseconds over every attempt of every run.
	LatencyMean float64 `json:"latency_mean_us"`
	LatencyP50  float64 `json:"latency_p50_us"`
	LatencyP95  float64 `json:"latency_p95_us"`
	LatencyP99  float64 `json:"latency_p99_us"`

	// Consistent is false if any run ended with a grid that disagreed with
	// the cars' recorded positions.
	Consistent bool `json:"consistent"`
}

// Summarize groups results by mode, in the order modes first appear.
func Summarize(results []Result) []Summary {
	var order []field.Mode
	byMode := make(map[field.Mode][]Result)
	for _, r := range results {
		if _, ok := byMode[r.Mode]; !ok {
			order = append(order, r.Mode)
		}
		byMode[r.Mode] = append(byMode[r.Mode], r)
	}

	out := make([]Summary, 0, len(order))
	for _, mode := range order {
		out = append(out, summarizeMode(mode, byMode[mode]))
	}
	return out
}

func summarizeMode(mode field.Mode, runs []Result) Summary {
	s := Summary{Mode: mode, Runs: len(runs), Consistent: true}

	throughput := make([]float64, len(runs))
	waits := make([]float64, len(runs))
	var attempts, moves int
	var latencies []float64
	for i, r := range runs {
		throughput[i] = r.Throughput()
		waits[i] = float64(r.Waits)
		attempts += r.Attempts
		moves += r.Moves
		latencies = append(latencies, r.Latencies...)
		if !r.Consistent {
			s.Consistent = false
		}
	}

	s.ThroughputMean, s.ThroughputStdDev = stat.MeanStdDev(throughput, nil)
	if len(runs) < 2 {
		s.ThroughputStdDev = 0
	}
	s.ThroughputMax = floats.Max(throughput)
	s.WaitsMean = stat.Mean(waits, nil)
	if attempts > 0 {
		s.AcceptRate = float64(moves) / float64(attempts)
	}

	if len(latencies) > 0 {
		sort.Float64s(latencies)
		s.LatencyMean = stat.Mean(latencies, nil)
		s.LatencyP50 = stat.Quantile(0.50, stat.Empirical, latencies, nil)
		s.LatencyP95 = stat.Quantile(0.95, stat.Empirical, latencies, nil)
		s.LatencyP99 = stat.Quantile(0.99, stat.Empirical, latencies, nil)
	}
	return s
}

// WriteTable prints summaries as an aligned text table.
func WriteTable(w io.Writer, summaries []Summary) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "mode\truns\tmoves/s\t±\taccept\twaits\tp50 µs\tp95 µs\tp99 µs\tok\t")
	for _, s := range summaries {
		fmt.Fprintf(tw, "%s\t%d\t%.0f\t%.0f\t%.1f%%\t%.1f\t%.1f\t%.1f\t%.1f\t%v\t\n",
			s.Mode, s.Runs, s.ThroughputMean, s.ThroughputStdDev, 100*s.AcceptRate,
			s.WaitsMean, s.LatencyP50, s.LatencyP95, s.LatencyP99, s.Consistent)
	}
	return tw.Flush()
}
