// training wires the level, the physics arena, the learning algorithm and the
// population controller together from a TrainingConfig, and runs them.
package training

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"smartaliens/arena"
	"smartaliens/checkpoint"
	"smartaliens/events"
	"smartaliens/grid_world"
	"smartaliens/neuroevo"
	"smartaliens/population"

	channerics "github.com/niceyeti/channerics/channels"
	"golang.org/x/sync/errgroup"
)

const (
	busCapacity    = 16
	snapshotPeriod = 100 * time.Millisecond
)

// App is a fully wired trainer.
type App struct {
	Config     *TrainingConfig
	Level      *grid_world.Level
	Registry   *checkpoint.Registry
	Arena      *arena.Arena
	Controller *population.Controller
	Bus        *events.Bus

	logger    *slog.Logger
	snapshots chan population.Snapshot
}

// Build wires an App from cfg. Agents of a tick are stepped on up to nworkers goroutines.
func Build(cfg *TrainingConfig, nworkers int, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	level, err := grid_world.LoadLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	factory, err := neuroevo.NewFactory(cfg.AlgorithmName(), cfg.EngineParams())
	if err != nil {
		return nil, err
	}

	checkpointReward, trophyReward := cfg.Rewards()
	registry := checkpoint.FromLevel(level, checkpointReward, trophyReward)
	agentCfg := cfg.AgentConfig()
	physicsHz := cfg.GetHyperParamOrDefault("physicsHz", 60)
	if physicsHz <= 0 {
		return nil, fmt.Errorf("physicsHz must be positive, got %v", physicsHz)
	}
	ar := arena.New(
		level.Map,
		registry.All(),
		agentCfg.Radius,
		time.Duration(float64(time.Second)/physicsHz),
		logger)

	bus := events.NewBus(busCapacity, logger)
	ctrl, err := population.New(population.Config{
		Level:    level,
		Registry: registry,
		Factory:  factory,
		Spawner:  ar,
		Agent:    agentCfg,
		Workers:  nworkers,
		Bus:      bus,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	return &App{
		Config:     cfg,
		Level:      level,
		Registry:   registry,
		Arena:      ar,
		Controller: ctrl,
		Bus:        bus,
		logger:     logger,
		snapshots:  make(chan population.Snapshot, 1),
	}, nil
}

// Snapshots carries periodic snapshots of the population for views. Snapshots
// are dropped while the reader is behind.
func (app *App) Snapshots() <-chan population.Snapshot {
	return app.snapshots
}

// Train runs the controller, the arena and the snapshot exporter until ctx is
// done or one of them fails. With autoStart, the configured population is
// started straight away.
func (app *App) Train(ctx context.Context) error {
	grp, grpCtx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		return app.Controller.Run(grpCtx)
	})
	grp.Go(func() error {
		return app.Arena.Run(grpCtx, app.Controller)
	})
	grp.Go(func() error {
		app.exportSnapshots(grpCtx)
		return nil
	})

	app.Bus.Publish(events.MapReady{})
	app.logger.Info("map ready", "level", app.Level.Name, "checkpoints", len(app.Registry.All()))

	if pop := app.Config.Population; pop.AutoStart {
		grp.Go(func() error {
			return app.Bus.Send(grpCtx, events.Start{
				PopulationSize:     pop.Size,
				DecisionsPerSecond: pop.DecisionsPerSecond,
				AgentSpeed:         pop.AgentSpeed,
			})
		})
	}

	err := grp.Wait()
	if err == context.Canceled || err == context.DeadlineExceeded {
		err = nil
	}
	app.logger.Info("training stopped", "generations", app.Controller.Stats().Generation)
	return err
}

func (app *App) exportSnapshots(ctx context.Context) {
	for range channerics.NewTicker(ctx.Done(), snapshotPeriod) {
		select {
		case app.snapshots <- app.Controller.Snapshot():
		default:
		}
	}
}
