package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"

	"github.com/najoast/lifegrid/config"
	"github.com/najoast/lifegrid/engine"
	"github.com/najoast/lifegrid/network"
	"github.com/najoast/lifegrid/report"
	"github.com/najoast/lifegrid/store"
)

// engineFlags are the flags shared by run and rank. A flag given on the
// command line overrides the configuration file and environment.
type engineFlags struct {
	configFile  string
	ranks       int
	threads     int
	generations int
	verify      bool
	results     string
	db          string
	verbose     bool
}

func (f *engineFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.configFile, "config", "", "configuration file (default: search lifegrid.yaml)")
	fs.IntVar(&f.ranks, "ranks", 0, "number of ranks")
	fs.IntVar(&f.threads, "threads", 0, "kernel threads per rank (0 = one per CPU)")
	fs.IntVar(&f.generations, "generations", 0, "generations per board (0 = 2*(size-3))")
	fs.BoolVar(&f.verify, "verify", false, "check the final board against the glider")
	fs.StringVar(&f.results, "results", "", "append the run to this JSON results file")
	fs.StringVar(&f.db, "db", "", "record the run in this SQLite database")
	fs.BoolVar(&f.verbose, "v", false, "print every rank's timings")
}

// load reads the configuration and applies the flags that were set
func (f *engineFlags) load(fs *flag.FlagSet) (*config.Config, error) {
	cfg, err := loadConfig(f.configFile)
	if err != nil {
		return nil, err
	}

	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "ranks":
			cfg.Engine.Ranks = f.ranks
		case "threads":
			cfg.Engine.Threads = f.threads
		case "generations":
			cfg.Engine.Generations = f.generations
		case "verify":
			cfg.Engine.Verify = f.verify
		case "results":
			cfg.Store.ResultsFile = f.results
		case "db":
			cfg.Store.Path = f.db
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrConfigValidateError, err)
	}
	return cfg, nil
}

func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		return loader.Load(path)
	}
	return loader.AutoLoad()
}

// engineOptions converts the engine section into coordinator options
func engineOptions(cfg *config.Config, logger *log.Logger) engine.Options {
	e := cfg.Engine
	return engine.Options{
		Threads:      e.Threads,
		StepsPerUnit: e.StepsPerUnit,
		StepOffset:   e.StepOffset,
		Generations:  e.Generations,
		Verify:       e.Verify,
		MaxCells:     e.MaxCells,
		Logger:       logger,
	}
}

// networkConfig converts the network section's timeouts
func networkConfig(cfg *config.Config, logger *log.Logger) *network.NetworkConfig {
	n := network.DefaultNetworkConfig()
	t := cfg.Network.Timeouts
	n.ReadTimeout = t.Read
	if t.Write > 0 {
		n.WriteTimeout = t.Write
	}
	if t.Dial > 0 {
		n.DialTimeout = t.Dial
	}
	n.Logger = logger
	return n
}

// logOutput opens the configured log destination
func logOutput(cfg *config.Config, stderr io.Writer) (io.Writer, func(), error) {
	if cfg.Log.Output == "stderr" {
		return stderr, func() {}, nil
	}
	w, err := cfg.Log.Open()
	if err != nil {
		return nil, nil, err
	}
	return w, func() { w.Close() }, nil
}

// persist writes a finished job to the results file and run store, when
// configured
func persist(ctx context.Context, cfg *config.Config, result report.Result) error {
	if cfg.Store.ResultsFile != "" {
		if err := report.AppendResult(cfg.Store.ResultsFile, result); err != nil {
			return err
		}
	}
	if cfg.Store.Path != "" {
		runs, err := store.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer runs.Close()
		if err := runs.RecordRun(context.WithoutCancel(ctx), result); err != nil {
			return err
		}
	}
	return nil
}

// printReports writes the timing table, and every rank's line when verbose
func printReports(w io.Writer, reports []report.SizeReport, verbose bool) error {
	if len(reports) == 0 {
		return nil
	}
	if err := report.WriteTable(w, reports); err != nil {
		return err
	}
	if verbose {
		fmt.Fprintln(w)
		return report.WriteRankTable(w, reports)
	}
	return nil
}

func isUsage(err error) bool {
	var ue *usageError
	return errors.As(err, &ue) ||
		errors.Is(err, engine.ErrConfiguration) ||
		errors.Is(err, config.ErrConfigValidateError)
}
