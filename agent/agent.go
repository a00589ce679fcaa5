// agent is one individual of the population: it senses the grid around it,
// turns the learning algorithm's outputs into a heading and an impulse, and
// accumulates the fitness the algorithm is scored on.
//
// An Agent is owned by the population controller. Tick workers call Sense and
// Decide; contact callbacks from the physics collaborator call OnCheckpoint,
// OnLethalContact and OnDamage. Those two sides touch disjoint concerns but may
// overlap in time, so every state transition happens under the agent's lock and
// fitness is additionally readable without it.
package agent

import (
	"fmt"
	"math"
	"sync"
	"time"

	"smartaliens/atomic_float"
	"smartaliens/grid_world"
	"smartaliens/models"
)

// Sensor and output widths. The first NumDirections inputs are the wall
// sensors in models.Directions order; the last is the normalized goal distance.
const (
	NumInputs  = models.NumDirections + 1
	NumOutputs = models.NumDirections
)

// Body is the agent's handle into the physics collaborator.
type Body interface {
	// Position is the body's current world position.
	Position() models.Vec3
	// ApplyImpulse replaces whatever motion the body had with the given impulse.
	ApplyImpulse(impulse models.Vec3)
	// Stop halts the body and stops it from reporting contacts.
	Stop()
	// Detach removes the body from the simulation. It must be idempotent.
	Detach()
}

// Config holds the per-agent tunables shared by a whole generation.
type Config struct {
	// Radius of the agent's body, subtracted from wall distances.
	Radius float64
	// Speed is the magnitude of the impulse applied on each decision.
	Speed float64
	// ActivationDelay staggers agent start times: agent i may first move i*ActivationDelay after spawning.
	ActivationDelay time.Duration
	// TerminalBonus is the fitness granted on death for having closed the
	// whole distance to the goal; it is prorated by the fraction actually closed.
	TerminalBonus float64
	// Health is the damage an agent absorbs before a projectile kills it.
	Health int
	// Clock returns the current time; defaults to time.Now.
	Clock func() time.Time
}

// DefaultConfig returns the stock alien tunables.
func DefaultConfig() Config {
	return Config{
		Radius:          0.3,
		Speed:           1.0,
		ActivationDelay: 50 * time.Millisecond,
		TerminalBonus:   10,
		Health:          100,
		Clock:           time.Now,
	}
}

// Agent is a single individual. See the package doc for its concurrency contract.
type Agent struct {
	id            models.AgentID
	cfg           Config
	grid          *grid_world.GridMap
	goal          models.Vec3
	body          Body
	activateAt    time.Time
	firstDistance float64

	mu          sync.Mutex
	direction   models.Direction
	alive       bool
	detached    bool
	goalReached bool
	health      int
	visited     map[models.CheckpointID]struct{}

	// Written only under mu, read anywhere.
	fitness atomic_float.AtomicFloat64
}

// New spawns an agent whose body is already placed at the level's start.
// The distance to the goal at spawn normalizes the goal sensor.
func New(
	id models.AgentID,
	cfg Config,
	grid *grid_world.GridMap,
	goal models.Vec3,
	body Body,
) *Agent {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Agent{
		id:            id,
		cfg:           cfg,
		grid:          grid,
		goal:          goal,
		body:          body,
		activateAt:    cfg.Clock().Add(time.Duration(id) * cfg.ActivationDelay),
		firstDistance: body.Position().DistanceXZ(goal),
		direction:     models.Bottom,
		alive:         true,
		health:        cfg.Health,
		visited:       map[models.CheckpointID]struct{}{},
	}
}

func (a *Agent) ID() models.AgentID { return a.id }

// Fitness is the agent's current fitness. It never needs the agent's lock.
func (a *Agent) Fitness() float64 {
	return a.fitness.AtomicRead()
}

func (a *Agent) Alive() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.alive
}

func (a *Agent) GoalReached() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.goalReached
}

func (a *Agent) Direction() models.Direction {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.direction
}

// Active reports whether the agent may move: alive, attached, and past its start delay.
func (a *Agent) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.activeLocked()
}

func (a *Agent) activeLocked() bool {
	return a.alive && !a.detached && !a.cfg.Clock().Before(a.activateAt)
}

// Sense returns the NumInputs-wide feature vector: the distance to the wall in
// the adjacent cell in each direction (0 when that cell is open), followed by
// the distance to the goal as a fraction of the distance at spawn.
func (a *Agent) Sense() []float64 {
	pos := a.body.Position()
	inputs := make([]float64, 0, NumInputs)
	for _, dir := range models.Directions {
		inputs = append(inputs, a.wallDistance(pos, dir))
	}
	return append(inputs, a.normalizedGoalDistance(pos))
}

// wallDistance scans the single adjacent cell in direction dir. The distance is
// measured along the scan axis from the agent to the wall cell's coordinate,
// less the agent's radius, and never negative.
func (a *Agent) wallDistance(pos models.Vec3, dir models.Direction) float64 {
	cellX, cellZ := math.Round(pos.X), math.Round(pos.Z)
	step := dir.Unit()
	wallX, wallZ := cellX+step.X, cellZ+step.Z
	if !a.grid.IsWall(a.grid.FromWorld(wallX, wallZ)) {
		return 0
	}
	var gap float64
	if step.X != 0 {
		gap = math.Abs(wallX - pos.X)
	} else {
		gap = math.Abs(wallZ - pos.Z)
	}
	return math.Max(gap-a.cfg.Radius, 0)
}

func (a *Agent) normalizedGoalDistance(pos models.Vec3) float64 {
	if a.firstDistance == 0 {
		return 0
	}
	return pos.DistanceXZ(a.goal) / a.firstDistance
}

// Decide turns the algorithm's outputs into a heading and pushes the body that way.
// The first NumDirections outputs score the headings in models.Directions order;
// any further outputs are ignored. The reciprocal of the current heading is never
// chosen, and among the rest the first strictly greatest score wins. Dead, detached
// and not-yet-started agents ignore the call.
func (a *Agent) Decide(outputs []float64) {
	if len(outputs) < NumOutputs {
		panic(fmt.Sprintf("agent %d: %d outputs, want at least %d", a.id, len(outputs), NumOutputs))
	}

	a.mu.Lock()
	if !a.activeLocked() {
		a.mu.Unlock()
		return
	}
	a.direction = chooseDirection(a.direction, outputs)
	impulse := a.direction.WithMagnitude(a.cfg.Speed)
	a.mu.Unlock()

	a.body.ApplyImpulse(impulse)
}

// chooseDirection picks the best-scoring heading other than the reciprocal of current.
// If no candidate has a comparable score (all NaN) the heading is kept.
func chooseDirection(current models.Direction, outputs []float64) models.Direction {
	forbidden := current.Reciprocal()
	best, bestScore := current, math.Inf(-1)
	found := false
	for _, dir := range models.Directions {
		if dir == forbidden {
			continue
		}
		if score := outputs[dir]; score > bestScore {
			best, bestScore, found = dir, score, true
		}
	}
	if !found {
		return current
	}
	return best
}

// OnCheckpoint credits reward the first time this agent touches the checkpoint.
// It returns true when the reward was granted. Touching the terminal goal marks
// the agent as having reached it, but the agent stays alive and keeps scoring.
func (a *Agent) OnCheckpoint(id models.CheckpointID, reward float64, isTerminalGoal bool) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.alive {
		return false
	}
	if _, seen := a.visited[id]; seen {
		return false
	}
	a.visited[id] = struct{}{}
	a.fitness.Add(reward)
	if isTerminalGoal {
		a.goalReached = true
	}
	return true
}

// OnLethalContact is the only way an agent dies. It grants the terminal bonus,
// after which the agent's fitness is final. It returns true only for the call
// that actually killed the agent.
func (a *Agent) OnLethalContact() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dieLocked()
}

// OnDamage subtracts damage from the agent's health; a non-positive amount is
// lethal outright. It returns true when the damage killed the agent.
func (a *Agent) OnDamage(amount int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.alive {
		return false
	}
	if amount <= 0 || amount >= a.health {
		a.health = 0
		return a.dieLocked()
	}
	a.health -= amount
	return false
}

func (a *Agent) dieLocked() bool {
	if !a.alive {
		return false
	}
	a.alive = false
	a.fitness.Add(a.terminalBonus())
	a.body.Stop()
	return true
}

// terminalBonus prorates TerminalBonus by the fraction of the spawn distance closed.
func (a *Agent) terminalBonus() float64 {
	if a.firstDistance == 0 {
		return a.cfg.TerminalBonus
	}
	closed := 1 - a.body.Position().DistanceXZ(a.goal)/a.firstDistance
	return a.cfg.TerminalBonus * math.Max(closed, 0)
}

// Reset detaches the agent from the simulation. Fitness and liveness are left
// as they were so the generation's results stay readable. Safe to call repeatedly.
func (a *Agent) Reset() {
	a.mu.Lock()
	if a.detached {
		a.mu.Unlock()
		return
	}
	a.detached = true
	a.mu.Unlock()
	a.body.Detach()
}

// State is a point-in-time copy of an agent for views and statistics.
type State struct {
	ID          models.AgentID
	Position    models.Vec3
	Direction   models.Direction
	Alive       bool
	GoalReached bool
	Fitness     float64
	Visited     int
}

// Snapshot copies the agent's observable state.
func (a *Agent) Snapshot() State {
	pos := a.body.Position()
	a.mu.Lock()
	defer a.mu.Unlock()
	return State{
		ID:          a.id,
		Position:    pos,
		Direction:   a.direction,
		Alive:       a.alive,
		GoalReached: a.goalReached,
		Fitness:     a.fitness.AtomicRead(),
		Visited:     len(a.visited),
	}
}
