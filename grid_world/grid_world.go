package grid_world

import (
	"errors"
	"fmt"
	"io"
	"math"

	"smartaliens/models"
)

// Track cell types
const (
	WALL       = 'W'
	OPEN       = 'o'
	START      = '-'
	TROPHY     = '+'
	CHECKPOINT = 'c'
)

// HoverHeight is the fixed world Y of agents, checkpoints and the trophy.
const HoverHeight = 0.5

// GridMap is the static occupancy grid of a level. It is immutable once built,
// so it is shared by every agent and the physics collaborator without locking.
// Cells are indexed [x][z]. World coordinates map onto the grid by rounding
// to the nearest integer and adding the level's fixed offsets.
type GridMap struct {
	width, height    int
	xOffset, zOffset int
	cells            [][]bool
}

// NewGridMap builds a grid of the given size from the world positions of its walls.
// Walls that fall outside the grid are dropped, since off-grid cells read as walls anyway.
func NewGridMap(width, height, xOffset, zOffset int, walls []models.Vec3) *GridMap {
	gm := &GridMap{
		width:   width,
		height:  height,
		xOffset: xOffset,
		zOffset: zOffset,
		cells:   make([][]bool, width),
	}
	for x := range gm.cells {
		gm.cells[x] = make([]bool, height)
	}
	for _, wall := range walls {
		x, z := gm.FromWorld(wall.X, wall.Z)
		if gm.inBounds(x, z) {
			gm.cells[x][z] = true
		}
	}
	return gm
}

func (gm *GridMap) Width() int  { return gm.width }
func (gm *GridMap) Height() int { return gm.height }

func (gm *GridMap) inBounds(x, z int) bool {
	return x >= 0 && x < gm.width && z >= 0 && z < gm.height
}

// IsWall reports whether the cell is occupied. Anything off the grid is a wall,
// which keeps agents inside the arena and spares the sensors a bounds branch.
func (gm *GridMap) IsWall(x, z int) bool {
	if !gm.inBounds(x, z) {
		return true
	}
	return gm.cells[x][z]
}

// FromWorld maps a world position onto grid indices.
func (gm *GridMap) FromWorld(worldX, worldZ float64) (gridX, gridZ int) {
	gridX = int(math.Round(worldX)) + gm.xOffset
	gridZ = int(math.Round(worldZ)) + gm.zOffset
	return
}

// ToWorld returns the world position of a cell's center, at hover height.
func (gm *GridMap) ToWorld(gridX, gridZ int) models.Vec3 {
	return models.Vec3{
		X: float64(gridX - gm.xOffset),
		Y: HoverHeight,
		Z: float64(gridZ - gm.zOffset),
	}
}

// IsWallAt reports whether the cell under a world position is a wall.
func (gm *GridMap) IsWallAt(p models.Vec3) bool {
	return gm.IsWall(gm.FromWorld(p.X, p.Z))
}

// Walls returns the world position of every wall cell, in x-major order.
func (gm *GridMap) Walls() (walls []models.Vec3) {
	for x := range gm.cells {
		for z := range gm.cells[x] {
			if gm.cells[x][z] {
				walls = append(walls, gm.ToWorld(x, z))
			}
		}
	}
	return
}

// Level is a parsed track: its grid and the positions of everything placed on it.
type Level struct {
	Name        string
	Map         *GridMap
	Start       models.Vec3
	Trophy      models.Vec3
	Checkpoints []models.Vec3
	track       []string
}

var (
	ErrEmptyTrack   error = errors.New("track has no rows")
	ErrRaggedTrack  error = errors.New("track rows differ in length")
	ErrNoStart      error = errors.New("track must contain exactly one start cell")
	ErrNoTrophy     error = errors.New("track must contain exactly one trophy cell")
	ErrUnknownLevel error = errors.New("unknown level")
)

// Convert parses a track into a Level. Each string is a row of constant z,
// the first row being the most negative z; each rune is a cell of constant x.
// Only WALL cells are occupied: the start, trophy and checkpoint cells are open.
func Convert(name string, track []string, xOffset, zOffset int) (*Level, error) {
	if len(track) == 0 || len(track[0]) == 0 {
		return nil, ErrEmptyTrack
	}
	width, height := len(track[0]), len(track)

	level := &Level{Name: name, track: track}
	walls := []models.Vec3{}
	starts, trophies := 0, 0
	// Positions are computed the same way the map computes them, before the map exists.
	toWorld := func(x, z int) models.Vec3 {
		return models.Vec3{X: float64(x - xOffset), Y: HoverHeight, Z: float64(z - zOffset)}
	}

	for z, row := range track {
		if len(row) != width {
			return nil, fmt.Errorf("%w: row %d has %d cells, want %d", ErrRaggedTrack, z, len(row), width)
		}
		for x, cellType := range row {
			switch cellType {
			case WALL:
				walls = append(walls, toWorld(x, z))
			case START:
				level.Start = toWorld(x, z)
				starts++
			case TROPHY:
				level.Trophy = toWorld(x, z)
				trophies++
			case CHECKPOINT:
				level.Checkpoints = append(level.Checkpoints, toWorld(x, z))
			case OPEN:
			default:
				return nil, fmt.Errorf("unknown cell type %q at (%d,%d)", cellType, x, z)
			}
		}
	}

	if starts != 1 {
		return nil, ErrNoStart
	}
	if trophies != 1 {
		return nil, ErrNoTrophy
	}

	level.Map = NewGridMap(width, height, xOffset, zOffset, walls)
	return level, nil
}

// ShowGrid prints the level for visual reference, far end of the arena first.
func (level *Level) ShowGrid(w io.Writer) {
	for _, row := range level.track {
		for _, cellType := range row {
			fmt.Fprintf(w, "%c ", cellType)
		}
		fmt.Fprintln(w)
	}
}
