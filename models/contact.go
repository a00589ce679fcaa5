package models

// Contact is a collision notification produced by the physics collaborator.
// It is a closed set of variants: ObstacleContact, CheckpointContact,
// ProjectileContact and TowerLockContact. Consumers type-switch over it and
// must treat any other type as a programming error.
//
// Agent ids restart at 1 every generation, so a contact also names the
// generation its body was spawned into. Zero means the running one.
type Contact interface {
	// Agent is the agent involved in the contact.
	Agent() AgentID
	// SpawnGeneration is the generation of the agent's body, or zero.
	SpawnGeneration() int
	isContact()
}

// ObstacleContact is a lethal collision with terrain.
type ObstacleContact struct {
	AgentID    AgentID
	Generation int
}

// CheckpointContact is an agent touching a checkpoint or the trophy.
type CheckpointContact struct {
	AgentID      AgentID
	Generation   int
	CheckpointID CheckpointID
}

// ProjectileContact is an agent struck by a projectile. A zero Damage means
// the hit is lethal regardless of remaining health.
type ProjectileContact struct {
	AgentID    AgentID
	Generation int
	Damage     int
}

// TowerLockContact is an agent entering a tower's firing range. It carries no
// training semantics and is only forwarded.
type TowerLockContact struct {
	AgentID    AgentID
	Generation int
	TowerID    int
}

func (c ObstacleContact) Agent() AgentID   { return c.AgentID }
func (c CheckpointContact) Agent() AgentID { return c.AgentID }
func (c ProjectileContact) Agent() AgentID { return c.AgentID }
func (c TowerLockContact) Agent() AgentID  { return c.AgentID }

func (c ObstacleContact) SpawnGeneration() int   { return c.Generation }
func (c CheckpointContact) SpawnGeneration() int { return c.Generation }
func (c ProjectileContact) SpawnGeneration() int { return c.Generation }
func (c TowerLockContact) SpawnGeneration() int  { return c.Generation }

func (ObstacleContact) isContact()   {}
func (CheckpointContact) isContact() {}
func (ProjectileContact) isContact() {}
func (TowerLockContact) isContact()  {}
