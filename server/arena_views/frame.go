// arena_views contains views derived from the Frame view-model.
package arena_views

import (
	"fmt"

	"smartaliens/checkpoint"
	"smartaliens/grid_world"
	"smartaliens/models"
	"smartaliens/population"
)

// MaxAgents is the number of agent sprites pre-rendered on the page. Agents
// beyond it are simulated but not drawn.
const MaxAgents = 100

// CellSize is the width and height of a grid cell in pixels.
const CellSize = 40

// Cell is a wall tile in svg coordinates: [0][0] is the top left cell, which is
// the far end of the arena as the console prints it.
type Cell struct {
	X, Y int
}

// Marker is a checkpoint, or the trophy, in svg pixel coordinates.
type Marker struct {
	ID      models.CheckpointID
	CX, CY  float64
	Goal    bool
	Reached bool
	Fill    string
}

// Sprite is one pre-rendered agent circle. Unused slots are hidden.
type Sprite struct {
	Slot       int
	CX, CY     float64
	Fill       string
	Visibility string
}

// Layout is the static part of the arena page, fixed per level.
type Layout struct {
	Width, Height int // in cells
	Walls         []Cell
	markers       []Marker
	originX       float64
	originZ       float64
}

// NewLayout measures the level and places its walls and checkpoints.
func NewLayout(level *grid_world.Level, registry *checkpoint.Registry) Layout {
	// The world position of cell [0][0] anchors every conversion.
	origin := level.Map.ToWorld(0, 0)
	layout := Layout{
		Width:   level.Map.Width(),
		Height:  level.Map.Height(),
		originX: origin.X,
		originZ: origin.Z,
	}
	for _, wall := range level.Map.Walls() {
		x, z := level.Map.FromWorld(wall.X, wall.Z)
		layout.Walls = append(layout.Walls, Cell{X: x, Y: z})
	}
	for _, cp := range registry.All() {
		cx, cy := layout.toSvg(cp.Position)
		layout.markers = append(layout.markers, Marker{
			ID:   cp.ID,
			CX:   cx,
			CY:   cy,
			Goal: cp.IsTerminalGoal,
		})
	}
	return layout
}

// toSvg maps a world position to pixel coordinates at the center of its cell.
func (layout Layout) toSvg(p models.Vec3) (x, y float64) {
	x = (p.X - layout.originX + 0.5) * CellSize
	y = (p.Z - layout.originZ + 0.5) * CellSize
	return
}

// PixelWidth and PixelHeight are the svg canvas dimensions.
func (layout Layout) PixelWidth() int  { return layout.Width * CellSize }
func (layout Layout) PixelHeight() int { return layout.Height * CellSize }

// Frame is everything the views need to draw one moment of training.
type Frame struct {
	Layout      Layout
	Stats       population.Stats
	Agents      []Sprite
	Checkpoints []Marker
}

// Convert builds a Frame from a population snapshot, for consumption by the arena views.
func (layout Layout) Convert(snap population.Snapshot) Frame {
	frame := Frame{
		Layout:      layout,
		Stats:       snap.Stats(),
		Agents:      make([]Sprite, MaxAgents),
		Checkpoints: make([]Marker, len(layout.markers)),
	}

	for slot := range frame.Agents {
		frame.Agents[slot] = Sprite{Slot: slot, Fill: "none", Visibility: "hidden"}
	}
	for i, state := range snap.Agents {
		if i >= MaxAgents {
			break
		}
		cx, cy := layout.toSvg(state.Position)
		frame.Agents[i] = Sprite{
			Slot:       i,
			CX:         cx,
			CY:         cy,
			Fill:       agentFill(state.Alive, state.GoalReached),
			Visibility: "visible",
		}
	}

	reached := map[models.CheckpointID]bool{}
	for _, id := range snap.Reached {
		reached[id] = true
	}
	for i, marker := range layout.markers {
		marker.Reached = reached[marker.ID]
		marker.Fill = markerFill(marker.Goal, marker.Reached)
		frame.Checkpoints[i] = marker
	}
	return frame
}

func agentFill(alive, goalReached bool) string {
	switch {
	case goalReached:
		return "gold"
	case alive:
		return "limegreen"
	default:
		return "dimgray"
	}
}

func markerFill(goal, reached bool) string {
	switch {
	case goal:
		return "goldenrod"
	case reached:
		return "lightgray"
	default:
		return "orange"
	}
}

// fixed formats svg coordinates.
func fixed(f float64) string {
	return fmt.Sprintf("%.1f", f)
}
