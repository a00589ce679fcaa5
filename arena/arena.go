// arena is a minimal kinematic stand-in for a physics engine: bodies glide at
// the velocity of their last impulse, and the arena reports when one enters a
// wall cell or a checkpoint's contact sphere.
package arena

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"smartaliens/agent"
	"smartaliens/checkpoint"
	"smartaliens/grid_world"
	"smartaliens/models"

	channerics "github.com/niceyeti/channerics/channels"
)

// Integration never advances a body by more than maxSubstep at once, so a
// body at agent speed cannot skip over a wall cell.
const maxSubstep = 50 * time.Millisecond

// ContactHandler receives the contacts the arena detects.
type ContactHandler interface {
	HandleContact(models.Contact)
}

// Arena owns every body. All body state is guarded by the arena's lock, and
// contacts are handed out only after it is released.
type Arena struct {
	grid        *grid_world.GridMap
	checkpoints []checkpoint.Checkpoint
	reach       float64
	rate        time.Duration
	logger      *slog.Logger

	mu     sync.Mutex
	bodies map[models.AgentID]*Body
}

// New builds an arena over grid. Bodies of agentRadius touch a checkpoint
// within checkpoint.Radius+agentRadius of it. Run steps it every rate.
func New(
	grid *grid_world.GridMap,
	checkpoints []checkpoint.Checkpoint,
	agentRadius float64,
	rate time.Duration,
	logger *slog.Logger,
) *Arena {
	if logger == nil {
		logger = slog.Default()
	}
	return &Arena{
		grid:        grid,
		checkpoints: checkpoints,
		reach:       checkpoint.Radius + agentRadius,
		rate:        rate,
		logger:      logger.With("component", "arena"),
		bodies:      map[models.AgentID]*Body{},
	}
}

// Body is a kinematic body in the arena.
type Body struct {
	arena *Arena
	id    models.AgentID
	gen   int

	// guarded by arena.mu
	pos      models.Vec3
	vel      models.Vec3
	stopped  bool
	detached bool
	inWall   bool
	inside   map[models.CheckpointID]bool
}

// Spawn places a new body of generation gen at at. Its contacts carry gen.
// A body already registered under id is detached first.
func (ar *Arena) Spawn(gen int, id models.AgentID, at models.Vec3) agent.Body {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	if old, ok := ar.bodies[id]; ok {
		old.detached = true
	}
	body := &Body{
		arena:  ar,
		id:     id,
		gen:    gen,
		pos:    at,
		inside: map[models.CheckpointID]bool{},
	}
	ar.bodies[id] = body
	return body
}

// Len is the number of attached bodies.
func (ar *Arena) Len() int {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	return len(ar.bodies)
}

func (b *Body) Position() models.Vec3 {
	b.arena.mu.Lock()
	defer b.arena.mu.Unlock()
	return b.pos
}

// ApplyImpulse sets the body's velocity, discarding its previous motion.
func (b *Body) ApplyImpulse(impulse models.Vec3) {
	b.arena.mu.Lock()
	defer b.arena.mu.Unlock()
	if b.stopped || b.detached {
		return
	}
	b.vel = impulse
}

// Stop freezes the body where it is. A stopped body reports no further contacts.
func (b *Body) Stop() {
	b.arena.mu.Lock()
	defer b.arena.mu.Unlock()
	b.stopped = true
	b.vel = models.Vec3{}
}

// Detach removes the body from the arena. Its last position stays readable.
func (b *Body) Detach() {
	b.arena.mu.Lock()
	defer b.arena.mu.Unlock()
	if b.detached {
		return
	}
	b.detached = true
	b.vel = models.Vec3{}
	if ar := b.arena; ar.bodies[b.id] == b {
		delete(ar.bodies, b.id)
	}
}

// Step advances every moving body by dt and returns the contacts that began
// during it, ordered by agent id.
func (ar *Arena) Step(dt time.Duration) (contacts []models.Contact) {
	ar.mu.Lock()
	defer ar.mu.Unlock()

	ids := make([]models.AgentID, 0, len(ar.bodies))
	for id := range ar.bodies {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		body := ar.bodies[id]
		for remaining := dt; remaining > 0 && !body.stopped; remaining -= maxSubstep {
			sub := remaining
			if sub > maxSubstep {
				sub = maxSubstep
			}
			body.pos = body.pos.Add(body.vel.Scale(sub.Seconds()))
			contacts = append(contacts, ar.detect(body)...)
		}
	}
	return
}

// detect reports the contacts body has just begun: each entry into a wall cell
// or a checkpoint's sphere is reported once.
func (ar *Arena) detect(body *Body) (contacts []models.Contact) {
	inWall := ar.grid.IsWallAt(body.pos)
	if inWall && !body.inWall {
		contacts = append(contacts, models.ObstacleContact{AgentID: body.id, Generation: body.gen})
	}
	body.inWall = inWall

	for _, cp := range ar.checkpoints {
		inside := body.pos.DistanceXZ(cp.Position) <= ar.reach
		if inside && !body.inside[cp.ID] {
			contacts = append(contacts, models.CheckpointContact{AgentID: body.id, Generation: body.gen, CheckpointID: cp.ID})
		}
		body.inside[cp.ID] = inside
	}
	return
}

// Run steps the arena every rate until ctx is done, handing contacts to handler.
func (ar *Arena) Run(ctx context.Context, handler ContactHandler) error {
	ar.logger.Debug("arena running", "rate", ar.rate)
	last := time.Now()
	for range channerics.NewTicker(ctx.Done(), ar.rate) {
		now := time.Now()
		for _, contact := range ar.Step(now.Sub(last)) {
			handler.HandleContact(contact)
		}
		last = now
	}
	return nil
}
