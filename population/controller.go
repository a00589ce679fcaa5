// population runs the generational training loop: it spawns a generation of
// agents, steps them all on a fixed cadence through the learning algorithm, and
// when the generation is over, hands the scores to the algorithm to breed the
// next one.
//
// Concurrency: a Controller's generation barrier (mu) is held for the whole of a
// tick and for the whole of a generation transition, so the two never overlap
// and no tick of a generation runs once that generation has begun ending.
// Inside a tick, agents are stepped in parallel on a bounded pool; their calls
// into the learning algorithm are serialized by a second lock. Contacts from the
// physics collaborator arrive on other goroutines and only touch agents and the
// generation's death set, never the algorithm.
package population

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"smartaliens/agent"
	"smartaliens/checkpoint"
	"smartaliens/events"
	"smartaliens/grid_world"
	"smartaliens/models"
	"smartaliens/neuroevo"

	channerics "github.com/niceyeti/channerics/channels"
	"github.com/sourcegraph/conc/pool"
)

var (
	ErrInvalidPopulationSize error = errors.New("population size must be positive")
	ErrInvalidDecisionRate   error = errors.New("decisions per second must be positive")
	ErrAlreadyRunning        error = errors.New("a generation is already running")
	ErrNotRunning            error = errors.New("no generation is running")
	ErrSensorWidthMismatch   error = errors.New("agent sensors do not match the learning algorithm's inputs")
	ErrAdapterSize           error = errors.New("learning algorithm population does not match the agent count")
	ErrIncompleteConfig      error = errors.New("incomplete controller config")
)

// Spawner places new agent bodies in the physics collaborator. Contacts for a
// body should carry the generation it was spawned into.
type Spawner interface {
	Spawn(generation int, id models.AgentID, at models.Vec3) agent.Body
}

// Settings are the per-generation parameters of a Start command.
type Settings struct {
	PopulationSize     int
	DecisionsPerSecond int
	AgentSpeed         float64
}

func (s Settings) interval() time.Duration {
	return time.Second / time.Duration(s.DecisionsPerSecond)
}

// Config wires a Controller to its collaborators.
type Config struct {
	Level    *grid_world.Level
	Registry *checkpoint.Registry
	Factory  neuroevo.Factory
	Spawner  Spawner
	// Agent holds the agents' tunables; Speed is overridden by each generation's settings.
	Agent agent.Config
	// Workers bounds the goroutines stepping agents within a tick. Defaults to NumCPU.
	Workers int
	// Bus is optional; without one, Run only serves ticks and deaths.
	Bus    *events.Bus
	Logger *slog.Logger
}

// generation is one population lifecycle.
type generation struct {
	index    int
	settings Settings
	agents   []*agent.Agent
	byID     map[models.AgentID]int
	deaths   *deathSet
	ticks    chan struct{}
	// done is closed when the generation starts ending; it stops the ticker.
	done  chan struct{}
	ended bool
}

// Controller owns the agents and the learning algorithm. It is built once by the
// application and passed to whatever delivers commands and contacts to it.
type Controller struct {
	level    *grid_world.Level
	registry *checkpoint.Registry
	factory  neuroevo.Factory
	spawner  Spawner
	agentCfg agent.Config
	goal     models.Vec3
	workers  int
	bus      *events.Bus
	logger   *slog.Logger
	// wake tells Run a generation has started.
	wake chan struct{}

	// mu is the generation barrier.
	mu sync.Mutex
	// adapterMu serializes calls into adapter.
	adapterMu sync.Mutex
	adapter   neuroevo.Algorithm
	last      *Settings

	// rosterMu guards what is read from outside the barrier.
	rosterMu    sync.RWMutex
	gen         *generation
	running     bool
	generations int
	king        *neuroevo.Genome
	history     []Result
}

// New builds a controller. No generation runs until StartGeneration or a Start command.
func New(cfg Config) (*Controller, error) {
	switch {
	case cfg.Level == nil:
		return nil, fmt.Errorf("%w: no level", ErrIncompleteConfig)
	case cfg.Registry == nil:
		return nil, fmt.Errorf("%w: no checkpoint registry", ErrIncompleteConfig)
	case cfg.Factory == nil:
		return nil, fmt.Errorf("%w: no learning algorithm factory", ErrIncompleteConfig)
	case cfg.Spawner == nil:
		return nil, fmt.Errorf("%w: no spawner", ErrIncompleteConfig)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	goal := cfg.Level.Trophy
	if cp, ok := cfg.Registry.Goal(); ok {
		goal = cp.Position
	}

	return &Controller{
		level:    cfg.Level,
		registry: cfg.Registry,
		factory:  cfg.Factory,
		spawner:  cfg.Spawner,
		agentCfg: cfg.Agent,
		goal:     goal,
		workers:  cfg.Workers,
		bus:      cfg.Bus,
		logger:   cfg.Logger.With("component", "population"),
		wake:     make(chan struct{}, 1),
	}, nil
}

// Run serves the controller until ctx is done: bus commands, the running
// generation's ticks, and the end of a generation whose agents have all died.
// Generations started by calling the controller directly are served too.
// A generation still running when ctx ends is stopped.
func (c *Controller) Run(ctx context.Context) error {
	var commands <-chan events.Command
	if c.bus != nil {
		commands = c.bus.Commands()
	}

	for {
		var ticks, finished <-chan struct{}
		gen := c.runningGeneration()
		if gen != nil {
			ticks = gen.ticks
			finished = gen.deaths.Full()
		}

		select {
		case <-ctx.Done():
			if err := c.EndGeneration(false); err != nil && !errors.Is(err, ErrNotRunning) {
				return err
			}
			return nil
		case cmd := <-commands:
			c.handle(cmd)
		case <-c.wake:
		case <-ticks:
			c.tickGeneration(gen.index)
		case <-finished:
			c.logger.Debug("all agents dead", "generation", gen.index)
			c.endGeneration(gen.index, true)
		}
	}
}

func (c *Controller) handle(cmd events.Command) {
	var err error
	switch cmd := cmd.(type) {
	case events.Start:
		err = c.StartGeneration(cmd.PopulationSize, cmd.DecisionsPerSecond, cmd.AgentSpeed)
	case events.Stop:
		err = c.EndGeneration(false)
	case events.ResetGeneration:
		err = c.ResetGeneration()
	case events.RequestCameraReset:
		c.publish(events.CameraReset{})
	default:
		panic(fmt.Sprintf("unhandled command %T", cmd))
	}
	if err != nil {
		c.logger.Warn("command failed", "command", fmt.Sprintf("%T", cmd), "err", err)
	}
}

func (c *Controller) runningGeneration() *generation {
	c.rosterMu.RLock()
	defer c.rosterMu.RUnlock()
	if !c.running {
		return nil
	}
	return c.gen
}

// StartGeneration spawns size agents at the level's start. While Run serves the
// controller they are ticked decisionsPerSecond times a second; without it they
// only move on calls to Tick.
func (c *Controller) StartGeneration(size, decisionsPerSecond int, speed float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startLocked(Settings{
		PopulationSize:     size,
		DecisionsPerSecond: decisionsPerSecond,
		AgentSpeed:         speed,
	})
}

func (c *Controller) startLocked(settings Settings) error {
	switch {
	case settings.PopulationSize <= 0:
		return fmt.Errorf("%w: %d", ErrInvalidPopulationSize, settings.PopulationSize)
	case settings.DecisionsPerSecond <= 0:
		return fmt.Errorf("%w: %d", ErrInvalidDecisionRate, settings.DecisionsPerSecond)
	case c.running:
		return ErrAlreadyRunning
	}

	adapter, err := c.prepareAdapter(settings.PopulationSize)
	if err != nil {
		return err
	}

	cfg := c.agentCfg
	if settings.AgentSpeed > 0 {
		cfg.Speed = settings.AgentSpeed
	}
	gen := &generation{
		index:    c.generations + 1,
		settings: settings,
		agents:   make([]*agent.Agent, settings.PopulationSize),
		byID:     make(map[models.AgentID]int, settings.PopulationSize),
		deaths:   newDeathSet(settings.PopulationSize),
		ticks:    make(chan struct{}),
		done:     make(chan struct{}),
	}
	for i := range gen.agents {
		id := models.AgentID(i + 1)
		body := c.spawner.Spawn(gen.index, id, c.level.Start)
		gen.agents[i] = agent.New(id, cfg, c.level.Map, c.goal, body)
		gen.byID[id] = i
	}
	c.registry.Reset()
	c.adapter = adapter
	c.last = &settings

	c.rosterMu.Lock()
	c.gen = gen
	c.running = true
	c.generations = gen.index
	c.rosterMu.Unlock()

	go c.schedule(gen)
	select {
	case c.wake <- struct{}{}:
	default:
	}

	c.logger.Info("generation started",
		"generation", gen.index,
		"population", settings.PopulationSize,
		"decisionsPerSecond", settings.DecisionsPerSecond,
		"speed", cfg.Speed)
	c.publish(events.GenerationAdvanced{Index: gen.index})
	return nil
}

// prepareAdapter reseeds the current algorithm when it supports it, and builds
// a fresh one otherwise.
func (c *Controller) prepareAdapter(size int) (neuroevo.Algorithm, error) {
	c.adapterMu.Lock()
	defer c.adapterMu.Unlock()

	adapter := c.adapter
	if reseeder, ok := adapter.(neuroevo.Reseeder); ok {
		if adapter.Size() != size {
			if err := reseeder.Reseed(size); err != nil {
				return nil, fmt.Errorf("reseed to %d: %w", size, err)
			}
		}
	} else {
		var err error
		if adapter, err = c.factory(size, agent.NumInputs, agent.NumOutputs); err != nil {
			return nil, fmt.Errorf("build learning algorithm: %w", err)
		}
	}

	if adapter.Inputs() != agent.NumInputs || adapter.Outputs() < agent.NumOutputs {
		return nil, fmt.Errorf("%w: algorithm maps %d inputs to %d outputs, agents need %d to %d",
			ErrSensorWidthMismatch, adapter.Inputs(), adapter.Outputs(), agent.NumInputs, agent.NumOutputs)
	}
	if adapter.Size() != size {
		return nil, fmt.Errorf("%w: %d genomes for %d agents", ErrAdapterSize, adapter.Size(), size)
	}
	return adapter, nil
}

// schedule forwards the generation's ticks until it ends.
func (c *Controller) schedule(gen *generation) {
	for range channerics.NewTicker(gen.done, gen.settings.interval()) {
		select {
		case gen.ticks <- struct{}{}:
		case <-gen.done:
			return
		}
	}
}

// Tick steps every agent of the running generation once: alive agents sense,
// run inference and decide; every agent's fitness is then submitted. These
// submissions are provisional: the one made when the generation ends is the
// fitness the algorithm evolves on. It is a no-op when no generation is running.
func (c *Controller) Tick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.tickLocked(c.gen)
}

// tickGeneration ticks only if generation index is still the running one.
func (c *Controller) tickGeneration(index int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running || c.gen.index != index {
		c.logger.Debug("stale tick ignored", "generation", index)
		return
	}
	c.tickLocked(c.gen)
}

func (c *Controller) tickLocked(gen *generation) {
	if c.adapter == nil {
		c.logger.Warn("learning algorithm not ready, tick skipped", "generation", gen.index)
		return
	}

	alive := make([]bool, len(gen.agents))
	for i, a := range gen.agents {
		alive[i] = a.Alive()
	}

	p := pool.New().WithMaxGoroutines(c.workers)
	for i, a := range gen.agents {
		i, a := i, a
		p.Go(func() {
			c.step(i, a, alive[i])
		})
	}
	p.Wait()
}

func (c *Controller) step(index int, a *agent.Agent, alive bool) {
	if alive {
		outputs, err := c.infer(index, a.Sense())
		if err != nil {
			c.logger.Warn("inference failed", "agent", a.ID(), "err", err)
		} else {
			a.Decide(outputs)
		}
	}
	if err := c.submit(index, a.Fitness()); err != nil {
		c.logger.Warn("fitness submission failed", "agent", a.ID(), "err", err)
	}
}

func (c *Controller) infer(index int, inputs []float64) ([]float64, error) {
	c.adapterMu.Lock()
	defer c.adapterMu.Unlock()
	if width := c.adapter.Inputs(); len(inputs) != width {
		panic(fmt.Errorf("%w: agent %d sensed %d values, algorithm takes %d",
			ErrSensorWidthMismatch, index+1, len(inputs), width))
	}
	return c.adapter.RunInference(index, inputs)
}

func (c *Controller) submit(index int, fitness float64) error {
	c.adapterMu.Lock()
	defer c.adapterMu.Unlock()
	return c.adapter.SubmitFitness(index, fitness)
}

// EndGeneration stops the running generation: every agent's final fitness is
// submitted, superseding the provisional ones of each tick, the algorithm
// evolves once, the best individual is updated, and the agents are detached. With startNext, the next generation starts with the
// same settings.
func (c *Controller) EndGeneration(startNext bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return ErrNotRunning
	}
	return c.endLocked(startNext)
}

// ResetGeneration forces a transition however many agents are alive. When no
// generation is running, it restarts with the last settings.
func (c *Controller) ResetGeneration() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return c.endLocked(true)
	}
	if c.last == nil {
		return ErrNotRunning
	}
	return c.startLocked(*c.last)
}

// endGeneration ends generation index if it is still the running one.
func (c *Controller) endGeneration(index int, startNext bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running || c.gen.index != index {
		c.logger.Debug("stale generation end ignored", "generation", index)
		return
	}
	if err := c.endLocked(startNext); err != nil {
		c.logger.Error("next generation failed to start", "err", err)
	}
}

func (c *Controller) endLocked(startNext bool) error {
	gen := c.gen
	if gen.ended {
		assertf(c.logger, "generation %d ended twice", gen.index)
		return nil
	}

	c.rosterMu.Lock()
	gen.ended = true
	c.rosterMu.Unlock()
	close(gen.done)

	for i, a := range gen.agents {
		if err := c.submit(i, a.Fitness()); err != nil {
			assertf(c.logger, "final fitness of agent %d: %v", a.ID(), err)
		}
	}
	if err := c.epoch(); err != nil {
		assertf(c.logger, "epoch of generation %d: %v", gen.index, err)
	}

	result := summarize(gen)
	improved := c.crown()
	for _, a := range gen.agents {
		a.Reset()
	}

	c.rosterMu.Lock()
	c.running = false
	c.history = append(c.history, result)
	if len(c.history) > maxHistory {
		c.history = c.history[len(c.history)-maxHistory:]
	}
	c.rosterMu.Unlock()

	c.logger.Info("generation ended",
		"generation", gen.index,
		"best", result.BestFitness,
		"mean", result.MeanFitness,
		"survivors", result.Survivors,
		"goalReached", result.GoalReached)
	if improved != nil {
		c.logger.Info("new best individual", "generation", gen.index, "fitness", improved.Fitness)
		c.publish(events.BestIndividualUpdated{Fitness: improved.Fitness})
	}

	if startNext {
		return c.startLocked(gen.settings)
	}
	return nil
}

func (c *Controller) epoch() error {
	c.adapterMu.Lock()
	defer c.adapterMu.Unlock()
	return c.adapter.Epoch()
}

// crown records the algorithm's best individual if it strictly beats the
// current king, and returns it when it does.
func (c *Controller) crown() *neuroevo.Genome {
	c.adapterMu.Lock()
	best, ok := c.adapter.BestIndividual()
	c.adapterMu.Unlock()
	if !ok {
		return nil
	}

	c.rosterMu.Lock()
	defer c.rosterMu.Unlock()
	if c.king != nil && best.Fitness <= c.king.Fitness {
		return nil
	}
	c.king = best.Clone()
	return c.king.Clone()
}

// Best is the best individual seen across all generations.
func (c *Controller) Best() (neuroevo.Genome, bool) {
	c.rosterMu.RLock()
	defer c.rosterMu.RUnlock()
	if c.king == nil {
		return neuroevo.Genome{}, false
	}
	return *c.king.Clone(), true
}

func (c *Controller) publish(ev events.Event) {
	if c.bus != nil {
		c.bus.Publish(ev)
	}
}
