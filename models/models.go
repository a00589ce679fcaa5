// models contains the value types shared by the grid, the agents, the physics
// collaborator and the views. Nothing in here is mutable shared state.
package models

import (
	"fmt"
	"math"
)

// Vec3 is a point or displacement in world space. The arena is planar:
// Y is the fixed hover height and is ignored by distance calculations.
type Vec3 struct {
	X, Y, Z float64
}

func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

func (v Vec3) Scale(f float64) Vec3 {
	return Vec3{X: v.X * f, Y: v.Y * f, Z: v.Z * f}
}

// DistanceXZ is the planar distance between two points, ignoring height.
func (v Vec3) DistanceXZ(o Vec3) float64 {
	return math.Hypot(v.X-o.X, v.Z-o.Z)
}

func (v Vec3) String() string {
	return fmt.Sprintf("(%.2f, %.2f, %.2f)", v.X, v.Y, v.Z)
}

// Direction is one of the four cardinal headings. The numeric order is also
// the order of the wall sensors and of the network's direction outputs.
type Direction int

const (
	Top Direction = iota
	Right
	Bottom
	Left
)

// NumDirections is the number of cardinal headings.
const NumDirections = 4

// Directions lists the headings in sensor/output order.
var Directions = [NumDirections]Direction{Top, Right, Bottom, Left}

// Reciprocal returns the opposite heading.
func (d Direction) Reciprocal() Direction {
	return (d + 2) % NumDirections
}

// Unit returns the unit displacement for the heading. Top is toward -Z,
// matching the level layouts, whose first row is the far end of the arena.
func (d Direction) Unit() Vec3 {
	switch d {
	case Top:
		return Vec3{Z: -1}
	case Right:
		return Vec3{X: 1}
	case Bottom:
		return Vec3{Z: 1}
	case Left:
		return Vec3{X: -1}
	}
	panic(fmt.Sprintf("invalid direction %d", int(d)))
}

// WithMagnitude returns the heading's unit displacement scaled by m.
func (d Direction) WithMagnitude(m float64) Vec3 {
	return d.Unit().Scale(m)
}

func (d Direction) String() string {
	switch d {
	case Top:
		return "top"
	case Right:
		return "right"
	case Bottom:
		return "bottom"
	case Left:
		return "left"
	}
	return fmt.Sprintf("Direction(%d)", int(d))
}

// AgentID identifies an agent within one generation, 1..N.
type AgentID int

// CheckpointID identifies a checkpoint within a level, 1..N.
type CheckpointID int
