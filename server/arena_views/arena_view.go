package arena_views

import (
	"fmt"
	"html/template"

	"smartaliens/checkpoint"
	"smartaliens/server/fastview"

	channerics "github.com/niceyeti/channerics/channels"
)

// Sprite radii in pixels.
const (
	agentRadius  = 10
	markerRadius = int(checkpoint.Radius * CellSize)
	trophyRadius = 14
)

// ArenaView draws the level from above: walls, checkpoints, the trophy and
// the agents of the current generation.
type ArenaView struct {
	id      string
	updates <-chan []fastview.EleUpdate
}

func NewArenaView(
	done <-chan struct{},
	frames <-chan Frame,
) (av *ArenaView) {
	av = &ArenaView{id: "arena"}
	av.updates = channerics.Convert(done, frames, av.onUpdate)
	return
}

func (av *ArenaView) Updates() <-chan []fastview.EleUpdate {
	return av.updates
}

func agentEleId(slot int) string {
	return fmt.Sprintf("agent-%d", slot)
}

func markerEleId(marker Marker) string {
	return fmt.Sprintf("checkpoint-%d", marker.ID)
}

// Returns the set of view updates needed for the arena to reflect the frame.
// Every slot is updated, so that agents of a shrunken population are hidden.
func (av *ArenaView) onUpdate(
	frame Frame,
) (ops []fastview.EleUpdate) {
	for _, sprite := range frame.Agents {
		ops = append(ops, fastview.EleUpdate{
			EleId: agentEleId(sprite.Slot),
			Ops: []fastview.Op{
				{Key: "cx", Value: fixed(sprite.CX)},
				{Key: "cy", Value: fixed(sprite.CY)},
				{Key: "fill", Value: sprite.Fill},
				{Key: "visibility", Value: sprite.Visibility},
			},
		})
	}
	for _, marker := range frame.Checkpoints {
		ops = append(ops, fastview.EleUpdate{
			EleId: markerEleId(marker),
			Ops: []fastview.Op{
				{Key: "fill", Value: marker.Fill},
			},
		})
	}
	return
}

// Parse returns an svg of the arena as a template of the passed Frame.
func (av *ArenaView) Parse(
	t *template.Template,
) (name string, err error) {
	name = av.id
	addedMap := template.FuncMap{
		"fixed":       fixed,
		"agentEleId":  agentEleId,
		"markerEleId": markerEleId,
	}
	_, err = t.Funcs(addedMap).Parse(
		`{{ define "` + name + `" }}
		<div style="padding:20px; display:inline-block; vertical-align:top;">
			{{ $cell := ` + fmt.Sprintf("%d", CellSize) + ` }}
			<svg id="` + av.id + `" xmlns='http://www.w3.org/2000/svg'
				width="{{ .Layout.PixelWidth }}px"
				height="{{ .Layout.PixelHeight }}px"
				viewBox="0 0 {{ .Layout.PixelWidth }} {{ .Layout.PixelHeight }}"
				style="shape-rendering: crispEdges; background: whitesmoke;">
				{{ range $wall := .Layout.Walls }}
				<rect
					x="{{ mult $wall.X $cell }}"
					y="{{ mult $wall.Y $cell }}"
					width="{{ $cell }}"
					height="{{ $cell }}"
					fill="darkslategray"/>
				{{ end }}
				{{ range $marker := .Checkpoints }}
				<circle id="{{ markerEleId $marker }}"
					cx="{{ fixed $marker.CX }}"
					cy="{{ fixed $marker.CY }}"
					r="{{ if $marker.Goal }}` + fmt.Sprintf("%d", trophyRadius) + `{{ else }}` + fmt.Sprintf("%d", markerRadius) + `{{ end }}"
					fill="{{ $marker.Fill }}"/>
				{{ end }}
				{{ range $sprite := .Agents }}
				<circle id="{{ agentEleId $sprite.Slot }}"
					cx="{{ fixed $sprite.CX }}"
					cy="{{ fixed $sprite.CY }}"
					r="` + fmt.Sprintf("%d", agentRadius) + `"
					fill="{{ $sprite.Fill }}"
					fill-opacity="0.8"
					visibility="{{ $sprite.Visibility }}"/>
				{{ end }}
			</svg>
		</div>
		{{ end }}`)
	return
}
