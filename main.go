/*
Smartaliens trains a population of hovering agents to find the trophy of a
grid-world level by neuro-evolution. Each generation runs in realtime against a
small kinematic arena; a single page shows the arena and the population
counters, and lets the user start, stop and reset training.
*/

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"

	"smartaliens/events"
	"smartaliens/server"
	"smartaliens/server/arena_views"
	"smartaliens/server/root_view"
	"smartaliens/training"

	"golang.org/x/sync/errgroup"
)

type options struct {
	debug      bool
	nworkers   int
	addr       string
	configPath string
}

func parseFlags() options {
	dbg := flag.Bool("debug", false, "debug logging")
	nworkers := flag.Int("nworkers", runtime.NumCPU(), "number of goroutines stepping agents each tick")
	host := flag.String("host", "", "The host ip")
	port := flag.String("port", "8080", "The host port")
	configPath := flag.String("config", "./config.yaml", "path of the training config")
	flag.Parse()

	return options{
		debug:      *dbg,
		nworkers:   *nworkers,
		addr:       *host + ":" + *port,
		configPath: *configPath,
	}
}

func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func runApp(opts options, logger *slog.Logger) (err error) {
	var cfg *training.TrainingConfig
	if cfg, err = training.FromYaml(opts.configPath); err != nil {
		return
	}

	appCtx, appCancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer appCancel()

	app, err := training.Build(cfg, opts.nworkers, logger)
	if err != nil {
		return
	}
	app.Level.ShowGrid(os.Stdout)

	rootView, err := root_view.NewRootView(
		appCtx,
		arena_views.NewLayout(app.Level, app.Registry),
		events.Start{
			PopulationSize:     cfg.Population.Size,
			DecisionsPerSecond: cfg.Population.DecisionsPerSecond,
			AgentSpeed:         cfg.Population.AgentSpeed,
		},
		app.Snapshots())
	if err != nil {
		return
	}
	srv := server.NewServer(appCtx, opts.addr, rootView, app.Bus, app.Controller, logger)

	// The page stays up after the training deadline, showing the last generation.
	grp, grpCtx := errgroup.WithContext(appCtx)
	trainingCtx, trainingCancel, err := cfg.WithTrainingDeadline(grpCtx)
	if err != nil {
		return
	}
	defer trainingCancel()

	grp.Go(func() error {
		return app.Train(trainingCtx)
	})
	grp.Go(func() error {
		return srv.Serve(grpCtx)
	})
	return grp.Wait()
}

func main() {
	opts := parseFlags()
	logger := newLogger(opts.debug)
	slog.SetDefault(logger)

	if err := runApp(opts, logger); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
