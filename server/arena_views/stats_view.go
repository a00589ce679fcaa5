package arena_views

import (
	"fmt"
	"html/template"

	"smartaliens/population"
	"smartaliens/server/fastview"

	channerics "github.com/niceyeti/channerics/channels"
)

// StatsView is a panel of the population counters.
type StatsView struct {
	id      string
	updates <-chan []fastview.EleUpdate
}

func NewStatsView(
	done <-chan struct{},
	frames <-chan Frame,
) (sv *StatsView) {
	sv = &StatsView{id: "stats"}
	sv.updates = channerics.Convert(done, frames, sv.onUpdate)
	return
}

func (sv *StatsView) Updates() <-chan []fastview.EleUpdate {
	return sv.updates
}

// stat is a single labelled counter of the panel.
type stat struct {
	key   string
	label string
	value func(population.Stats) string
}

var stats = []stat{
	{"generation", "Generation", func(st population.Stats) string { return fmt.Sprint(st.Generation) }},
	{"running", "Running", func(st population.Stats) string { return fmt.Sprint(st.Running) }},
	{"population", "Population", func(st population.Stats) string { return fmt.Sprint(st.Population) }},
	{"alive", "Alive", func(st population.Stats) string { return fmt.Sprint(st.Alive) }},
	{"dead", "Dead", func(st population.Stats) string { return fmt.Sprint(st.Dead) }},
	{"goal", "Reached goal", func(st population.Stats) string { return fmt.Sprint(st.GoalReached) }},
	{"best", "Best fitness", func(st population.Stats) string { return fmt.Sprintf("%.2f", st.BestFitness) }},
}

func statEleId(key string) string {
	return "stat-" + key
}

// statFunc names the template func rendering a counter's initial value.
func statFunc(key string) string {
	return "stat_" + key
}

func (sv *StatsView) onUpdate(frame Frame) (ops []fastview.EleUpdate) {
	for _, s := range stats {
		ops = append(ops, fastview.EleUpdate{
			EleId: statEleId(s.key),
			Ops: []fastview.Op{
				{Key: "textContent", Value: s.value(frame.Stats)},
			},
		})
	}
	return
}

// Parse returns a table of the counters as a template of the passed Frame.
func (sv *StatsView) Parse(
	t *template.Template,
) (name string, err error) {
	name = sv.id
	var rows string
	for _, s := range stats {
		rows += `<tr><td>` + s.label + `</td><td id="` + statEleId(s.key) + `">{{ ` + statFunc(s.key) + ` .Stats }}</td></tr>`
	}

	addedMap := template.FuncMap{}
	for _, s := range stats {
		addedMap[statFunc(s.key)] = s.value
	}
	_, err = t.Funcs(addedMap).Parse(
		`{{ define "` + name + `" }}
		<div style="padding:20px; display:inline-block; vertical-align:top; font-family:monospace;">
			<table id="` + sv.id + `">` + rows + `</table>
		</div>
		{{ end }}`)
	return
}
