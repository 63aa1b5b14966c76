package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/najoast/lifegrid/bootstrap"
	"github.com/najoast/lifegrid/comm"
	"github.com/najoast/lifegrid/config"
	"github.com/najoast/lifegrid/engine"
	"github.com/najoast/lifegrid/report"
	"github.com/najoast/lifegrid/service"
	"github.com/najoast/lifegrid/store"
)

// parse parses args, turning flag errors other than -h into usage errors
func parse(fs *flag.FlagSet, args []string) error {
	err := fs.Parse(args)
	if err == nil || errors.Is(err, flag.ErrHelp) {
		return err
	}
	return &usageError{msg: err.Error()}
}

// checkStatus turns a failed correctness check into an error
func checkStatus(reports []report.SizeReport) error {
	for _, rep := range reports {
		if rep.Status == report.StatusFail {
			return fmt.Errorf("size %d: final board does not match the glider", rep.Size)
		}
	}
	return nil
}

func cmdRun(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var ef engineFlags
	ef.register(fs)
	if err := parse(fs, args); err != nil {
		return err
	}
	powMin, powMax, err := powRange(fs)
	if err != nil {
		return err
	}

	cfg, err := ef.load(fs)
	if err != nil {
		return err
	}
	if cfg.Engine.Transport == config.TransportTCP {
		return usagef("transport tcp runs one rank per process, use lifegrid rank")
	}

	out, closeLog, err := logOutput(cfg, stderr)
	if err != nil {
		return err
	}
	defer closeLog()
	logger := config.NewLogger(out, cfg.Log, "lifegrid")

	job := engine.Job{
		PowMin:  powMin,
		PowMax:  powMax,
		Ranks:   cfg.Engine.Ranks,
		Options: engineOptions(cfg, config.DebugLogger(out, cfg.Log, "engine")),
	}

	start := time.Now()
	reports, runErr := engine.RunLocal(ctx, job)
	end := time.Now()

	if err := printReports(stdout, reports, ef.verbose); err != nil && runErr == nil {
		runErr = err
	}

	result := report.NewResult(report.Job{
		ClientID: "local",
		PowMin:   powMin,
		PowMax:   powMax,
		Start:    start,
		End:      end,
		Reports:  reports,
		Err:      runErr,
	})
	if err := persist(ctx, cfg, result); err != nil {
		logger.Printf("Failed to save run %s: %v", result.RequestID, err)
		if runErr == nil {
			runErr = err
		}
	}

	if runErr != nil {
		return runErr
	}
	return checkStatus(reports)
}

func cmdRank(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("rank", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var ef engineFlags
	ef.register(fs)
	rank := fs.Int("rank", 0, "this process's rank")
	peers := fs.String("peers", "", "comma-separated listen addresses of every rank, in rank order")
	session := fs.Uint64("session", 0, "run identifier shared by every rank")
	if err := parse(fs, args); err != nil {
		return err
	}
	powMin, powMax, err := powRange(fs)
	if err != nil {
		return err
	}

	cfg, err := ef.load(fs)
	if err != nil {
		return err
	}
	if *peers != "" {
		cfg.Network.Peers = strings.Split(*peers, ",")
	}
	if len(cfg.Network.Peers) == 0 {
		return usagef("rank needs -peers or network.peers")
	}
	if *rank < 0 || *rank >= len(cfg.Network.Peers) {
		return usagef("rank %d out of range for %d peers", *rank, len(cfg.Network.Peers))
	}
	cfg.Engine.Transport = config.TransportTCP
	if *session != 0 {
		cfg.Network.Session = *session
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %w", config.ErrConfigValidateError, err)
	}

	out, closeLog, err := logOutput(cfg, stderr)
	if err != nil {
		return err
	}
	defer closeLog()
	logger := config.NewLogger(out, cfg.Log, fmt.Sprintf("rank %d", *rank))

	meshCfg := comm.MeshConfig{
		Rank:    *rank,
		Peers:   cfg.Network.Peers,
		Session: cfg.Network.Session,
		Network: networkConfig(cfg, config.DebugLogger(out, cfg.Log, "network")),
		Startup: cfg.Network.Timeouts.Startup,
		Logger:  config.DebugLogger(out, cfg.Log, "mesh"),
	}
	job := engine.Job{
		PowMin:  powMin,
		PowMax:  powMax,
		Options: engineOptions(cfg, config.DebugLogger(out, cfg.Log, "engine")),
	}

	start := time.Now()
	reports, runErr := engine.RunMesh(ctx, meshCfg, job)
	end := time.Now()

	if *rank != 0 {
		if runErr != nil {
			logger.Printf("Run failed: %v", runErr)
		}
		return runErr
	}

	if err := printReports(stdout, reports, ef.verbose); err != nil && runErr == nil {
		runErr = err
	}
	result := report.NewResult(report.Job{
		ClientID: "mesh",
		PowMin:   powMin,
		PowMax:   powMax,
		Start:    start,
		End:      end,
		Reports:  reports,
		Err:      runErr,
	})
	if err := persist(ctx, cfg, result); err != nil {
		logger.Printf("Failed to save run %s: %v", result.RequestID, err)
		if runErr == nil {
			runErr = err
		}
	}

	if runErr != nil {
		return runErr
	}
	return checkStatus(reports)
}

func cmdServe(ctx context.Context, args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configFile := fs.String("config", "", "configuration file, watched for engine changes")
	port := fs.Int("port", 0, "listening port (default: service.port)")
	db := fs.String("db", "", "record runs in this SQLite database")
	results := fs.String("results", "", "append runs to this JSON results file")
	if err := parse(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 0 {
		return usagef("serve takes no arguments")
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		return err
	}
	if *port != 0 {
		cfg.Service.Port = *port
	}
	if *db != "" {
		cfg.Store.Path = *db
	}
	if *results != "" {
		cfg.Store.ResultsFile = *results
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %w", config.ErrConfigValidateError, err)
	}

	out, closeLog, err := logOutput(cfg, stderr)
	if err != nil {
		return err
	}
	defer closeLog()
	logger := config.NewLogger(out, cfg.Log, "service")
	engineLogger := config.DebugLogger(out, cfg.Log, "engine")

	var runs *store.Store
	if cfg.Store.Path != "" {
		if runs, err = store.Open(cfg.Store.Path); err != nil {
			return err
		}
	}

	netCfg := networkConfig(cfg, config.DebugLogger(out, cfg.Log, "network"))
	netCfg.Address = cfg.Service.Address
	netCfg.Port = cfg.Service.Port
	netCfg.MaxConnections = cfg.Service.MaxConnections

	srv, err := service.NewServer(service.Config{
		Network:       netCfg,
		MaxConcurrent: cfg.Service.MaxConcurrent,
		Ranks:         cfg.Engine.Ranks,
		Options:       engineOptions(cfg, engineLogger),
		IdleTimeout:   cfg.Service.IdleTimeout,
		Store:         runs,
		ResultsFile:   cfg.Store.ResultsFile,
		Logger:        logger,
	})
	if err != nil {
		if runs != nil {
			runs.Close()
		}
		return err
	}

	app := bootstrap.NewApplication(cfg.App.Name, config.NewLogger(out, cfg.Log, "bootstrap"))
	app.Register(&bootstrap.FuncService{
		ServiceName: "store",
		OnStop: func(ctx context.Context) error {
			if runs == nil {
				return nil
			}
			return runs.Close()
		},
	})
	app.Register(srv, "store")

	if *configFile != "" {
		watcher, err := config.NewWatcher(*configFile, config.NewLoader())
		if err != nil {
			if runs != nil {
				runs.Close()
			}
			return err
		}
		watcher.SetLogger(logger)
		watcher.OnConfigChange(func(oldConfig, newConfig *config.Config) {
			if err := srv.SetDefaults(newConfig.Engine.Ranks, engineOptions(newConfig, engineLogger)); err != nil {
				logger.Printf("Ignoring engine settings from %s: %v", *configFile, err)
				return
			}
			logger.Printf("Engine defaults now %d ranks, %d threads", newConfig.Engine.Ranks, newConfig.Engine.Threads)
		})
		app.Register(bootstrap.Managed(watcher), srv.Name())
	}

	app.LifecycleManager().AddListener(func(e bootstrap.LifecycleEvent) {
		if e.Type != bootstrap.EventLifecycleUp {
			return
		}
		health := app.Health(ctx)
		for _, name := range app.LifecycleManager().Services() {
			logger.Printf("Service %s is %s", name, health[name].State)
		}
	})

	return app.Run(ctx)
}

func cmdRequest(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("request", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configFile := fs.String("config", "", "configuration file")
	addr := fs.String("addr", "", "engine service address (default: service.address:service.port)")
	ranks := fs.Int("ranks", 0, "number of ranks (0 = server default)")
	threads := fs.Int("threads", 0, "kernel threads per rank (0 = server default)")
	timeout := fs.Duration("timeout", 10*time.Minute, "give up after this long")
	if err := parse(fs, args); err != nil {
		return err
	}
	powMin, powMax, err := powRange(fs)
	if err != nil {
		return err
	}
	if powMin < 0 || powMax < 0 || powMin > powMax {
		return usagef("need 0 <= powmin <= powmax, got %d %d", powMin, powMax)
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		return err
	}
	address := *addr
	if address == "" {
		host := cfg.Service.Address
		if host == "" || host == "0.0.0.0" {
			host = "127.0.0.1"
		}
		address = net.JoinHostPort(host, fmt.Sprint(cfg.Service.Port))
	}

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	client, err := service.Dial(ctx, address, networkConfig(cfg, nil))
	if err != nil {
		return err
	}
	defer client.Close()

	resp, err := client.Request(ctx, service.RunRequest{
		PowMin:  powMin,
		PowMax:  powMax,
		Ranks:   *ranks,
		Threads: *threads,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "Request: %s\nStatus: %s\n", resp.RequestID, resp.Status)
	if resp.Data != "" {
		fmt.Fprintf(stdout, "\n%s", resp.Data)
	}

	switch resp.Status {
	case service.StatusError:
		return fmt.Errorf("request %s failed: %s", resp.RequestID, resp.Error)
	case service.StatusFail:
		return checkStatus(resp.Sizes)
	}
	return nil
}

func cmdHistory(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configFile := fs.String("config", "", "configuration file")
	db := fs.String("db", "", "SQLite run history (default: store.path)")
	results := fs.String("results", "", "JSON results file, read when no run history is set")
	limit := fs.Int("limit", 20, "show at most this many runs, 0 shows all")
	id := fs.String("id", "", "show one run with its sizes")
	if err := parse(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 0 {
		return usagef("history takes no arguments, got %d", fs.NArg())
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		return err
	}
	if *db != "" {
		cfg.Store.Path = *db
	}
	if *results != "" {
		cfg.Store.ResultsFile = *results
	}

	switch {
	case cfg.Store.Path != "":
		runs, err := store.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer runs.Close()
		if *id != "" {
			return showRun(ctx, stdout, runs, *id)
		}
		return listRuns(ctx, stdout, runs, *limit)
	case *id != "":
		return usagef("-id needs a run history (-db or store.path)")
	case cfg.Store.ResultsFile != "":
		entries, err := report.ReadResults(cfg.Store.ResultsFile)
		if err != nil {
			return err
		}
		newest := make([]report.Result, 0, len(entries))
		for i := len(entries) - 1; i >= 0; i-- {
			if *limit > 0 && len(newest) == *limit {
				break
			}
			newest = append(newest, entries[i])
		}
		return report.WriteRunTable(stdout, newest)
	}
	return usagef("history needs -db or -results")
}

// listRuns prints the most recent runs and a count per status
func listRuns(ctx context.Context, w io.Writer, runs *store.Store, limit int) error {
	recent, err := runs.ListRuns(ctx, limit)
	if err != nil {
		return err
	}
	if err := report.WriteRunTable(w, recent); err != nil {
		return err
	}

	fmt.Fprintln(w)
	for _, status := range []string{service.StatusOK, service.StatusFail, service.StatusError} {
		n, err := runs.CountRuns(ctx, status)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s: %d\n", status, n)
	}
	return nil
}

// showRun prints one run and the timing table of its sizes
func showRun(ctx context.Context, w io.Writer, runs *store.Store, id string) error {
	run, err := runs.GetRun(ctx, id)
	if err != nil {
		return fmt.Errorf("run %s: %w", id, err)
	}
	if err := report.WriteRunTable(w, []report.Result{run}); err != nil {
		return err
	}
	if run.ErrorMessage != nil {
		fmt.Fprintf(w, "\nError: %s\n", *run.ErrorMessage)
	}
	if len(run.Sizes) > 0 {
		fmt.Fprintln(w)
		return report.WriteTable(w, run.Sizes)
	}
	return nil
}
