package root_view

import (
	"context"
	"fmt"
	"html/template"
	"time"

	"smartaliens/events"
	"smartaliens/population"
	"smartaliens/server/arena_views"
	"smartaliens/server/fastview"

	channerics "github.com/niceyeti/channerics/channels"
)

// RootView is the main page's index.html, which is the container for all the
// view components, the wiring for their channels, and the training controls.
type RootView struct {
	layout   arena_views.Layout
	defaults events.Start
	views    []fastview.ViewComponent
	updates  <-chan []fastview.EleUpdate
}

// NewRootView creates the main page and the views it contains. The controls'
// start form is pre-filled with defaults.
func NewRootView(
	ctx context.Context,
	layout arena_views.Layout,
	defaults events.Start,
	snapshots <-chan population.Snapshot,
) (*RootView, error) {
	views, err := fastview.NewViewBuilder[population.Snapshot, arena_views.Frame]().
		WithContext(ctx).
		WithModel(snapshots, layout.Convert).
		WithView(func(
			done <-chan struct{},
			frames <-chan arena_views.Frame) fastview.ViewComponent {
			return arena_views.NewArenaView(done, frames)
		}).
		WithView(func(
			done <-chan struct{},
			frames <-chan arena_views.Frame) fastview.ViewComponent {
			return arena_views.NewStatsView(done, frames)
		}).
		Build()
	if err != nil {
		return nil, err
	}

	return &RootView{
		layout:   layout,
		defaults: defaults,
		views:    views,
		updates:  fanIn(ctx.Done(), views),
	}, nil
}

// Updates returns the main ele-update channel for all the views. It has a single reader.
func (rv *RootView) Updates() <-chan []fastview.EleUpdate {
	return rv.updates
}

// Initial returns the data the page template is executed with.
func (rv *RootView) Initial(snap population.Snapshot) arena_views.Frame {
	return rv.layout.Convert(snap)
}

// Parse builds the main page's template, with websocket bootstrap code and the
// training controls, and returns its name. It also sets up the func-map that
// child components depend on; a child must not redefine these funcs.
func (rv *RootView) Parse(
	parent *template.Template,
) (name string, err error) {
	rt := parent.Funcs(
		template.FuncMap{
			"add":  func(i, j int) int { return i + j },
			"sub":  func(i, j int) int { return i - j },
			"mult": func(i, j int) int { return i * j },
			"div":  func(i, j int) int { return i / j },
			"max": func(i, j int) int {
				if i > j {
					return i
				}
				return j
			},
		})

	viewTemplates := []string{}
	for _, vc := range rv.views {
		tname, parseErr := vc.Parse(rt)
		if parseErr != nil {
			err = parseErr
			return
		}
		viewTemplates = append(viewTemplates, tname)
	}

	// Specify the nested templates
	var bodySpec string
	for _, tname := range viewTemplates {
		bodySpec += (`{{ template "` + tname + `" . }}`)
	}

	// The main template bootstraps the rest: sets up the client websocket and
	// updates, the controls posting commands, and aggregates the views.
	name = "mainpage"
	indexTemplate := `
	{{ define "` + name + `" }}
	<!DOCTYPE html>
	<html>
		<head>
			<link rel="icon" href="data:,">
			<!--This is the client bootstrap code by which the server pushes new data to the view via websocket.-->
			<script>
				const ws = new WebSocket("ws://" + location.host + "/ws");
				ws.onopen = function (event) {
					console.log("Web socket opened")
				};

				// Listen for errors
				ws.onerror = function (event) {
					console.log('WebSocket error: ', event);
				};

				// When the server pushes view updates, find these eles and update them.
				ws.onmessage = function (event) {
					const items = JSON.parse(event.data)
					for (const update of items) {
						const ele = document.getElementById(update.EleId)
						if (ele === null) {
							continue
						}
						for (const op of update.Ops) {
							if (op.Key === "textContent") {
								ele.textContent = op.Value;
							} else {
								ele.setAttribute(op.Key, op.Value)
							}
						}
					}
				}

				function command(path, body) {
					fetch("/api/" + path, {
						method: "POST",
						headers: {"Content-Type": "application/json"},
						body: JSON.stringify(body || {}),
					}).then(resp => {
						if (!resp.ok) {
							resp.text().then(msg => console.log(path + " failed: " + msg))
						}
					})
				}

				function start() {
					command("start", {
						populationSize: parseInt(document.getElementById("populationSize").value),
						decisionsPerSecond: parseInt(document.getElementById("decisionsPerSecond").value),
						agentSpeed: parseFloat(document.getElementById("agentSpeed").value),
					})
				}

				// The arena's viewBox is its camera; the wheel zooms it and a reset restores it.
				function zoom(event) {
					event.preventDefault()
					const arena = document.getElementById("arena")
					const box = arena.viewBox.baseVal
					const f = event.deltaY > 0 ? 1.1 : 0.9
					arena.setAttribute("viewBox", [box.x, box.y, box.width * f, box.height * f].join(" "))
				}

				function resetCamera() {
					command("camera")
					const arena = document.getElementById("arena")
					arena.setAttribute("viewBox", "0 0 " + arena.getAttribute("width").replace("px", "") + " " + arena.getAttribute("height").replace("px", ""))
				}

				window.addEventListener("load", () => {
					document.getElementById("arena").addEventListener("wheel", zoom)
				})
			</script>
		</head>
		<body>
		<div id="controls" style="padding:20px; font-family:monospace;">
			<label>Population <input id="populationSize" type="number" min="1" value="` + fmt.Sprint(rv.defaults.PopulationSize) + `"></label>
			<label>Decisions/s <input id="decisionsPerSecond" type="number" min="1" value="` + fmt.Sprint(rv.defaults.DecisionsPerSecond) + `"></label>
			<label>Speed <input id="agentSpeed" type="number" step="0.1" value="` + fmt.Sprint(rv.defaults.AgentSpeed) + `"></label>
			<button onclick="start()">Start</button>
			<button onclick="command('stop')">Stop</button>
			<button onclick="command('reset')">Reset generation</button>
			<button onclick="resetCamera()">Reset camera</button>
		</div>
		` + bodySpec + `
		</body></html>
	{{ end }}
	`

	_, err = rt.Parse(indexTemplate)
	return
}

// fanIn aggregates the views' ele-update channels into a single channel,
// and throttles its output.
func fanIn(
	done <-chan struct{},
	views []fastview.ViewComponent,
) <-chan []fastview.EleUpdate {
	inputs := make([]<-chan []fastview.EleUpdate, len(views))
	for i, view := range views {
		inputs[i] = view.Updates()
	}
	return batchify(
		done,
		channerics.Merge(done, inputs...),
		time.Millisecond*20)
}

// batchify batches within the passed time frame before sending, over-writing previously
// received values for the same ele-id. This ensures that redundant updates for the
// same ele-id are not sent, and only the latest values are sent.
func batchify(
	done <-chan struct{},
	source <-chan []fastview.EleUpdate,
	rate time.Duration,
) <-chan []fastview.EleUpdate {
	output := make(chan []fastview.EleUpdate)

	go func() {
		defer close(output)

		data := map[string]fastview.EleUpdate{}
		input := channerics.OrDone(done, source)
		flush := channerics.NewTicker(done, rate)
		for {
			select {
			case updates, ok := <-input:
				if !ok {
					return
				}
				// Intentionally overwrites pre-existing values for an ele-id within this batch's time frame.
				for _, update := range updates {
					data[update.EleId] = update
				}
			case <-flush:
				if len(data) == 0 {
					continue
				}
				select {
				case output <- slicedVals(data):
					data = map[string]fastview.EleUpdate{}
				case <-done:
					return
				}
			}
		}
	}()

	return output
}

// returns the values of a map as a slice
func slicedVals[T1 comparable, T2 any](mp map[T1]T2) (sliced []T2) {
	for _, v := range mp {
		sliced = append(sliced, v)
	}
	return
}
