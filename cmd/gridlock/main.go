package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/gridlock/internal/config"
	"github.com/banshee-data/gridlock/internal/monitoring"
	"github.com/banshee-data/gridlock/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to a JSON run config (built-in defaults when empty)")
	mode        = flag.String("mode", "", "Lock strategy: global, target, three-class or ordered-pair")
	layoutPath  = flag.String("layout", "", "Layout file to load (empty grid when unset)")
	cars        = flag.Int("cars", config.DefaultCars, "Number of cars to start")
	stepDelay   = flag.Duration("step-delay", config.DefaultStepDelay, "Delay between a car's move attempts")
	listen      = flag.String("listen", config.DefaultListen, "HTTP listen address (empty disables the API)")
	grpcListen  = flag.String("grpc-listen", "", "gRPC event stream listen address (empty disables it)")
	dbPath      = flag.String("db", "", "SQLite database for runs, events and moves (empty disables it)")
	recordDir   = flag.String("record", "", "Directory for the frame log (empty disables it)")
	tickLogDir  = flag.String("tick-log", "", "Directory for daily tick logs (empty disables them)")
	verbose     = flag.Bool("verbose", false, "Keep per-step lock events and debug logging")
	duration    = flag.Duration("duration", 0, "Stop after this long (0 runs until interrupted)")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

// applyFlags copies every flag the user set onto cfg so the command line
// wins over the config file.
func applyFlags(cfg *config.SimConfig, set map[string]bool) {
	str := func(v string) *string { return &v }
	if set["mode"] {
		cfg.Mode = str(*mode)
	}
	if set["layout"] {
		cfg.LayoutPath = str(*layoutPath)
	}
	if set["cars"] {
		n := *cars
		cfg.Cars = &n
	}
	if set["step-delay"] {
		cfg.StepDelay = str(stepDelay.String())
	}
	if set["listen"] {
		cfg.Listen = str(*listen)
	}
	if set["grpc-listen"] {
		cfg.GRPCListen = str(*grpcListen)
	}
	if set["db"] {
		cfg.DBPath = str(*dbPath)
	}
	if set["record"] {
		cfg.RecordDir = str(*recordDir)
	}
	if set["tick-log"] {
		cfg.TickLogDir = str(*tickLogDir)
	}
	if set["verbose"] {
		v := *verbose
		cfg.Verbose = &v
	}
}

func loadConfig() (*config.SimConfig, error) {
	cfg := config.DefaultSimConfig()
	if *configPath != "" {
		loaded, err := config.LoadSimConfig(*configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	applyFlags(cfg, set)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println("gridlock", version.String())
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	monitoring.SetVerbose(cfg.GetVerbose())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	s, err := newSim(cfg)
	if err != nil {
		log.Fatalf("failed to set up simulation: %v", err)
	}
	start := time.Now()
	if err := s.Run(ctx); err != nil {
		log.Printf("simulation stopped with error: %v", err)
		s.Close()
		os.Exit(1)
	}
	if err := s.Close(); err != nil {
		log.Printf("shutdown: %v", err)
	}
	log.Printf("simulation finished after %v", time.Since(start).Round(time.Millisecond))
}
