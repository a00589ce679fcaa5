// checkpoint tracks the one-time reward triggers placed in a level. The set of
// checkpoints is fixed per level; what changes per generation is which of them
// some agent has reached, which the views use to dim reached checkpoints.
// Per-agent idempotence lives on the agent, not here.
package checkpoint

import (
	"sort"
	"sync"

	"smartaliens/grid_world"
	"smartaliens/models"
)

// Checkpoint is a reward trigger. The terminal goal (the trophy) is a checkpoint
// whose contact never kills the agent that reaches it.
type Checkpoint struct {
	ID             models.CheckpointID
	Position       models.Vec3
	Reward         float64
	IsTerminalGoal bool
}

// Radius of a checkpoint's contact sphere.
const Radius = 0.2

// Registry holds a level's checkpoints and the generation's reached set.
type Registry struct {
	checkpoints map[models.CheckpointID]Checkpoint
	goal        models.CheckpointID

	mu      sync.Mutex
	reached map[models.CheckpointID]struct{}
}

// NewRegistry indexes the given checkpoints by id. If several are marked as
// terminal goals, the last one wins.
func NewRegistry(checkpoints []Checkpoint) *Registry {
	reg := &Registry{
		checkpoints: make(map[models.CheckpointID]Checkpoint, len(checkpoints)),
		reached:     map[models.CheckpointID]struct{}{},
	}
	for _, cp := range checkpoints {
		reg.checkpoints[cp.ID] = cp
		if cp.IsTerminalGoal {
			reg.goal = cp.ID
		}
	}
	return reg
}

// FromLevel numbers the level's checkpoints 1..N in track order, each worth
// reward, and appends the trophy as checkpoint N+1 worth trophyReward.
func FromLevel(level *grid_world.Level, reward, trophyReward float64) *Registry {
	cps := make([]Checkpoint, 0, len(level.Checkpoints)+1)
	for i, pos := range level.Checkpoints {
		cps = append(cps, Checkpoint{
			ID:       models.CheckpointID(i + 1),
			Position: pos,
			Reward:   reward,
		})
	}
	cps = append(cps, Checkpoint{
		ID:             models.CheckpointID(len(level.Checkpoints) + 1),
		Position:       level.Trophy,
		Reward:         trophyReward,
		IsTerminalGoal: true,
	})
	return NewRegistry(cps)
}

// Get returns the checkpoint with the given id.
func (reg *Registry) Get(id models.CheckpointID) (Checkpoint, bool) {
	cp, ok := reg.checkpoints[id]
	return cp, ok
}

// Goal returns the terminal goal, if the registry has one.
func (reg *Registry) Goal() (Checkpoint, bool) {
	if reg.goal == 0 {
		return Checkpoint{}, false
	}
	return reg.Get(reg.goal)
}

// All returns every checkpoint ordered by id.
func (reg *Registry) All() []Checkpoint {
	all := make([]Checkpoint, 0, len(reg.checkpoints))
	for _, cp := range reg.checkpoints {
		all = append(all, cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all
}

// MarkReached records that some agent reached the checkpoint this generation.
// It returns true only the first time, and false for unknown ids.
func (reg *Registry) MarkReached(id models.CheckpointID) bool {
	if _, ok := reg.checkpoints[id]; !ok {
		return false
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, seen := reg.reached[id]; seen {
		return false
	}
	reg.reached[id] = struct{}{}
	return true
}

// IsReached reports whether any agent reached the checkpoint this generation.
func (reg *Registry) IsReached(id models.CheckpointID) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	_, ok := reg.reached[id]
	return ok
}

// Reached returns the ids of the checkpoints reached this generation, in order.
func (reg *Registry) Reached() []models.CheckpointID {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	ids := make([]models.CheckpointID, 0, len(reg.reached))
	for id := range reg.reached {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ReachedCount is the number of distinct checkpoints reached this generation.
func (reg *Registry) ReachedCount() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.reached)
}

// Reset clears the reached set for a new generation.
func (reg *Registry) Reset() {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.reached = map[models.CheckpointID]struct{}{}
}
