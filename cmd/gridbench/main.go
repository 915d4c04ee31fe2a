// Command gridbench runs every lock strategy under the same load and writes
// a comparison table to stdout and charts to a report directory.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/banshee-data/gridlock/internal/bench"
	"github.com/banshee-data/gridlock/internal/field"
	"github.com/banshee-data/gridlock/internal/grid"
	"github.com/banshee-data/gridlock/internal/monitoring"
)

var (
	layoutPath = flag.String("layout", "", "Layout file to load (empty grid when unset)")
	modes      = flag.String("modes", "", "Comma-separated lock strategies to compare (all when empty)")
	cars       = flag.Int("cars", bench.DefaultCars, "Cars placed in each run")
	steps      = flag.Int("steps", bench.DefaultSteps, "Move attempts per car")
	runs       = flag.Int("runs", bench.DefaultRuns, "Runs per strategy")
	walls      = flag.Int("walls", 50, "Wall randomizer actions per run (0 disables walls)")
	seed       = flag.Int64("seed", 1, "Seed for car directions and wall placement")
	outDir     = flag.String("out", "", "Directory for PNG charts, the HTML report and results.json (empty skips them)")
	verbose    = flag.Bool("verbose", false, "Enable debug logging")
)

func parseModes(s string) ([]field.Mode, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var out []field.Mode
	for _, part := range strings.Split(s, ",") {
		m, err := field.ParseMode(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func buildConfig() (bench.Config, error) {
	cfg := bench.DefaultConfig()
	ms, err := parseModes(*modes)
	if err != nil {
		return cfg, err
	}
	if ms != nil {
		cfg.Modes = ms
	}
	if *layoutPath != "" {
		g, err := grid.LoadLayoutFile(*layoutPath)
		if err != nil {
			return cfg, err
		}
		cfg.Layout = g
	}
	cfg.Cars = *cars
	cfg.Steps = *steps
	cfg.Runs = *runs
	cfg.WallSteps = *walls
	cfg.Seed = *seed
	return cfg, nil
}

func main() {
	flag.Parse()
	monitoring.SetVerbose(*verbose)

	cfg, err := buildConfig()
	if err != nil {
		log.Fatalf("invalid flags: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	results, err := bench.Run(ctx, cfg)
	if err != nil {
		log.Fatalf("benchmark failed: %v", err)
	}
	if err := bench.WriteTable(os.Stdout, bench.Summarize(results)); err != nil {
		log.Fatalf("failed to write table: %v", err)
	}
	if *outDir != "" {
		if err := bench.WriteReport(*outDir, results); err != nil {
			log.Fatalf("failed to write report: %v", err)
		}
		fmt.Printf("report written to %s\n", *outDir)
	}
}
