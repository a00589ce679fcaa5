package population

import (
	"fmt"

	"smartaliens/agent"
	"smartaliens/models"
)

// HandleContact applies a contact reported by the physics collaborator to the
// agent it names. Contacts for agents of a generation that has ended are
// dropped, as are contacts stamped with any generation but the running one.
func (c *Controller) HandleContact(contact models.Contact) {
	c.rosterMu.RLock()
	defer c.rosterMu.RUnlock()

	gen := c.gen
	if gen == nil || gen.ended {
		return
	}
	if spawned := contact.SpawnGeneration(); spawned != 0 && spawned != gen.index {
		c.logger.Debug("stale contact dropped",
			"agent", contact.Agent(),
			"spawned", spawned,
			"generation", gen.index)
		return
	}
	i, ok := gen.byID[contact.Agent()]
	if !ok {
		c.logger.Warn("contact for unknown agent", "agent", contact.Agent())
		return
	}
	a := gen.agents[i]

	switch contact := contact.(type) {
	case models.ObstacleContact:
		if a.OnLethalContact() {
			c.recordDeath(gen, a)
		}
	case models.CheckpointContact:
		c.reachCheckpoint(a, contact.CheckpointID)
	case models.ProjectileContact:
		if a.OnDamage(contact.Damage) {
			c.recordDeath(gen, a)
		}
	case models.TowerLockContact:
		c.logger.Debug("tower locked on", "agent", a.ID(), "tower", contact.TowerID)
	default:
		panic(fmt.Sprintf("unhandled contact %T", contact))
	}
}

// OnAgentHitObstacle kills the agent of the running generation.
func (c *Controller) OnAgentHitObstacle(id models.AgentID) {
	c.HandleContact(models.ObstacleContact{AgentID: id})
}

// OnAgentHitCheckpoint credits the checkpoint's reward, once per agent.
func (c *Controller) OnAgentHitCheckpoint(id models.AgentID, checkpointID models.CheckpointID) {
	c.HandleContact(models.CheckpointContact{AgentID: id, CheckpointID: checkpointID})
}

// OnAgentHitProjectile kills the agent outright.
func (c *Controller) OnAgentHitProjectile(id models.AgentID) {
	c.HandleContact(models.ProjectileContact{AgentID: id})
}

func (c *Controller) recordDeath(gen *generation, a *agent.Agent) {
	if gen.deaths.report(a.ID()) {
		c.logger.Debug("agent died",
			"generation", gen.index,
			"agent", a.ID(),
			"fitness", a.Fitness(),
			"dead", gen.deaths.count(),
			"population", len(gen.agents))
	}
}

func (c *Controller) reachCheckpoint(a *agent.Agent, id models.CheckpointID) {
	cp, ok := c.registry.Get(id)
	if !ok {
		c.logger.Warn("contact with unknown checkpoint", "agent", a.ID(), "checkpoint", id)
		return
	}
	if !a.OnCheckpoint(cp.ID, cp.Reward, cp.IsTerminalGoal) {
		return
	}
	if c.registry.MarkReached(cp.ID) {
		c.logger.Info("checkpoint reached for the first time",
			"agent", a.ID(),
			"checkpoint", cp.ID,
			"goal", cp.IsTerminalGoal)
	}
}
