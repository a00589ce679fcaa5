package population

import (
	"smartaliens/agent"
	"smartaliens/models"
)

const maxHistory = 100

// Result summarizes a finished generation.
type Result struct {
	Generation  int     `json:"generation"`
	BestFitness float64 `json:"bestFitness"`
	MeanFitness float64 `json:"meanFitness"`
	Survivors   int     `json:"survivors"`
	GoalReached int     `json:"goalReached"`
}

func summarize(gen *generation) Result {
	res := Result{Generation: gen.index}
	for i, a := range gen.agents {
		f := a.Fitness()
		if i == 0 || f > res.BestFitness {
			res.BestFitness = f
		}
		res.MeanFitness += f
		if a.Alive() {
			res.Survivors++
		}
		if a.GoalReached() {
			res.GoalReached++
		}
	}
	if len(gen.agents) > 0 {
		res.MeanFitness /= float64(len(gen.agents))
	}
	return res
}

// Snapshot is a point-in-time copy of the current (or last) generation.
type Snapshot struct {
	Generation  int
	Running     bool
	BestFitness float64
	HasBest     bool
	Agents      []agent.State
	Reached     []models.CheckpointID
}

// Snapshot copies the generation's agents. After a generation ends its agents
// stay readable, with their final fitness, until the next one starts.
func (c *Controller) Snapshot() Snapshot {
	c.rosterMu.RLock()
	defer c.rosterMu.RUnlock()

	snap := Snapshot{
		Generation: c.generations,
		Running:    c.running,
	}
	if c.king != nil {
		snap.BestFitness, snap.HasBest = c.king.Fitness, true
	}
	if c.gen != nil {
		snap.Agents = make([]agent.State, len(c.gen.agents))
		for i, a := range c.gen.agents {
			snap.Agents[i] = a.Snapshot()
		}
	}
	snap.Reached = c.registry.Reached()
	return snap
}

// Stats are the controller's counters for the stats endpoint and view.
type Stats struct {
	Generation  int      `json:"generation"`
	Running     bool     `json:"running"`
	Population  int      `json:"population"`
	Alive       int      `json:"alive"`
	Dead        int      `json:"dead"`
	GoalReached int      `json:"goalReached"`
	BestFitness float64  `json:"bestFitness"`
	History     []Result `json:"history"`
}

// Stats derives counters from a snapshot.
func (snap Snapshot) Stats() Stats {
	st := Stats{
		Generation:  snap.Generation,
		Running:     snap.Running,
		Population:  len(snap.Agents),
		BestFitness: snap.BestFitness,
	}
	for _, a := range snap.Agents {
		if a.Alive {
			st.Alive++
		} else {
			st.Dead++
		}
		if a.GoalReached {
			st.GoalReached++
		}
	}
	return st
}

// Stats returns the current counters and the recent generation history.
func (c *Controller) Stats() Stats {
	st := c.Snapshot().Stats()
	c.rosterMu.RLock()
	st.History = append([]Result(nil), c.history...)
	c.rosterMu.RUnlock()
	return st
}
