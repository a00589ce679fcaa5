package population

import (
	"sync"

	"smartaliens/models"
)

// deathSet is the generation's record of which agents have died. Each agent is
// counted once however many death reports arrive for it; full is closed the
// moment every agent of the generation is in the set.
type deathSet struct {
	total int
	full  chan struct{}

	mu   sync.Mutex
	dead map[models.AgentID]struct{}
}

func newDeathSet(total int) *deathSet {
	return &deathSet{
		total: total,
		full:  make(chan struct{}),
		dead:  make(map[models.AgentID]struct{}, total),
	}
}

// report records id's death and returns true if it was not already recorded.
func (ds *deathSet) report(id models.AgentID) bool {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if _, seen := ds.dead[id]; seen {
		return false
	}
	ds.dead[id] = struct{}{}
	if len(ds.dead) == ds.total {
		close(ds.full)
	}
	return true
}

func (ds *deathSet) count() int {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return len(ds.dead)
}

// Full is closed once every agent has died.
func (ds *deathSet) Full() <-chan struct{} {
	return ds.full
}
