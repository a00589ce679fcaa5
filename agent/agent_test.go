package agent

import (
	"sync"
	"testing"
	"time"

	"smartaliens/grid_world"
	"smartaliens/models"

	. "github.com/smartystreets/goconvey/convey"
)

type fakeBody struct {
	mu       sync.Mutex
	pos      models.Vec3
	impulses []models.Vec3
	stops    int
	detaches int
}

func (b *fakeBody) Position() models.Vec3 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pos
}

func (b *fakeBody) ApplyImpulse(v models.Vec3) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.impulses = append(b.impulses, v)
}

func (b *fakeBody) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stops++
}

func (b *fakeBody) Detach() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.detaches++
}

func (b *fakeBody) moveTo(p models.Vec3) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pos = p
}

func (b *fakeBody) lastImpulse() (models.Vec3, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.impulses) == 0 {
		return models.Vec3{}, 0
	}
	return b.impulses[len(b.impulses)-1], len(b.impulses)
}

func immediateConfig() Config {
	cfg := DefaultConfig()
	cfg.ActivationDelay = 0
	return cfg
}

func openGrid() *grid_world.GridMap {
	return grid_world.NewGridMap(40, 40, 20, 20, nil)
}

func TestSense(t *testing.T) {
	Convey("Given an agent spawned 10 units from the goal", t, func() {
		body := &fakeBody{pos: models.Vec3{X: 0, Z: 0}}
		a := New(1, immediateConfig(), openGrid(), models.Vec3{X: 10, Z: 0}, body)

		inputs := a.Sense()
		So(len(inputs), ShouldEqual, NumInputs)
		So(inputs[NumInputs-1], ShouldEqual, 1.0)

		Convey("After closing to 5 units the goal feature is 0.5", func() {
			body.moveTo(models.Vec3{X: 5, Z: 0})
			So(a.Sense()[NumInputs-1], ShouldEqual, 0.5)
		})

		Convey("With no adjacent walls every wall sensor reads 0", func() {
			for _, v := range inputs[:models.NumDirections] {
				So(v, ShouldEqual, 0.0)
			}
		})
	})

	Convey("Given a wall directly above the agent", t, func() {
		grid := grid_world.NewGridMap(5, 5, 0, 0, []models.Vec3{{X: 2, Z: 0}})
		body := &fakeBody{pos: models.Vec3{X: 2, Z: 1.1}}
		a := New(1, immediateConfig(), grid, models.Vec3{X: 2, Z: 4}, body)

		inputs := a.Sense()
		So(inputs[models.Top], ShouldAlmostEqual, 0.8, 1e-9)
		So(inputs[models.Right], ShouldEqual, 0.0)
		So(inputs[models.Bottom], ShouldEqual, 0.0)
		So(inputs[models.Left], ShouldEqual, 0.0)

		Convey("Off-grid cells read as walls", func() {
			body.moveTo(models.Vec3{X: 0, Z: 2})
			So(a.Sense()[models.Left], ShouldAlmostEqual, 0.7, 1e-9)
		})

		Convey("A wall closer than the radius clamps to zero", func() {
			cfg := immediateConfig()
			cfg.Radius = 0.8
			wide := New(2, cfg, grid, models.Vec3{X: 2, Z: 4}, &fakeBody{pos: models.Vec3{X: 2, Z: 0.6}})
			So(wide.Sense()[models.Top], ShouldEqual, 0.0)
		})
	})
}

func TestDecide(t *testing.T) {
	Convey("Given an active agent", t, func() {
		body := &fakeBody{}
		a := New(1, immediateConfig(), openGrid(), models.Vec3{X: 10}, body)
		So(a.Direction(), ShouldEqual, models.Bottom)

		Convey("When it faces top and bottom scores highest, it takes the best other heading", func() {
			a.Decide([]float64{0, 1, 0, 0})
			a.Decide([]float64{1, 0, 0, 0})
			So(a.Direction(), ShouldEqual, models.Top)

			a.Decide([]float64{0.3, 0.6, 0.9, 0.1})
			So(a.Direction(), ShouldEqual, models.Right)
			impulse, n := body.lastImpulse()
			So(n, ShouldEqual, 3)
			So(impulse, ShouldResemble, models.Vec3{X: 1})
		})

		Convey("Auxiliary outputs beyond the four headings are ignored", func() {
			a.Decide([]float64{0, 0, 0, 1, 99})
			So(a.Direction(), ShouldEqual, models.Left)
		})

		Convey("Too few outputs is a contract violation", func() {
			So(func() { a.Decide([]float64{1, 2}) }, ShouldPanic)
		})

		Convey("A dead agent does not move", func() {
			So(a.OnLethalContact(), ShouldBeTrue)
			a.Decide([]float64{0, 1, 0, 0})
			_, n := body.lastImpulse()
			So(n, ShouldEqual, 0)
			So(a.Direction(), ShouldEqual, models.Bottom)
		})
	})

	Convey("Given an agent still inside its start delay", t, func() {
		now := time.Unix(1000, 0)
		cfg := DefaultConfig()
		cfg.Clock = func() time.Time { return now }
		body := &fakeBody{}
		a := New(3, cfg, openGrid(), models.Vec3{X: 10}, body)

		a.Decide([]float64{0, 1, 0, 0})
		_, n := body.lastImpulse()
		So(n, ShouldEqual, 0)
		So(a.Active(), ShouldBeFalse)

		now = now.Add(3 * cfg.ActivationDelay)
		a.Decide([]float64{0, 1, 0, 0})
		_, n = body.lastImpulse()
		So(n, ShouldEqual, 1)
	})
}

func TestChooseDirection(t *testing.T) {
	Convey("When choosing a heading", t, func() {
		So(chooseDirection(models.Top, []float64{0.1, 0.2, 0.9, 0.3}), ShouldEqual, models.Left)
		So(chooseDirection(models.Left, []float64{0.5, 0.9, 0.5, 0.1}), ShouldEqual, models.Top)
		So(chooseDirection(models.Right, []float64{0, 0, 0, 0}), ShouldEqual, models.Top)
	})
}

func TestFitness(t *testing.T) {
	Convey("Given an agent 10 units from the goal", t, func() {
		body := &fakeBody{}
		a := New(1, immediateConfig(), openGrid(), models.Vec3{X: 10}, body)

		Convey("Repeated checkpoint contacts reward once", func() {
			So(a.OnCheckpoint(4, 10, false), ShouldBeTrue)
			So(a.OnCheckpoint(4, 10, false), ShouldBeFalse)
			So(a.Fitness(), ShouldEqual, 10.0)
			So(a.Snapshot().Visited, ShouldEqual, 1)
		})

		Convey("Concurrent contacts for the same checkpoint reward once", func() {
			wg := sync.WaitGroup{}
			for i := 0; i < 100; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					a.OnCheckpoint(7, 10, false)
				}()
			}
			wg.Wait()
			So(a.Fitness(), ShouldEqual, 10.0)
			So(a.Snapshot().Visited, ShouldEqual, 1)
		})

		Convey("Reaching the goal does not kill", func() {
			So(a.OnCheckpoint(9, 100, true), ShouldBeTrue)
			So(a.GoalReached(), ShouldBeTrue)
			So(a.Alive(), ShouldBeTrue)
		})

		Convey("Death grants the prorated distance bonus once and freezes fitness", func() {
			body.moveTo(models.Vec3{X: 5})
			So(a.OnLethalContact(), ShouldBeTrue)
			So(a.Fitness(), ShouldEqual, 5.0)
			So(a.Alive(), ShouldBeFalse)
			So(body.stops, ShouldEqual, 1)

			So(a.OnLethalContact(), ShouldBeFalse)
			So(a.OnCheckpoint(1, 10, false), ShouldBeFalse)
			So(a.OnDamage(100), ShouldBeFalse)
			So(a.Fitness(), ShouldEqual, 5.0)
		})

		Convey("Moving away from the goal earns no bonus", func() {
			body.moveTo(models.Vec3{X: -10})
			a.OnLethalContact()
			So(a.Fitness(), ShouldEqual, 0.0)
		})

		Convey("Damage accumulates until health runs out", func() {
			So(a.OnDamage(40), ShouldBeFalse)
			So(a.OnDamage(40), ShouldBeFalse)
			So(a.Alive(), ShouldBeTrue)
			So(a.OnDamage(40), ShouldBeTrue)
			So(a.Alive(), ShouldBeFalse)
		})

		Convey("Zero damage is lethal", func() {
			So(a.OnDamage(0), ShouldBeTrue)
		})
	})
}

func TestReset(t *testing.T) {
	Convey("Given a dead agent with fitness", t, func() {
		body := &fakeBody{}
		a := New(1, immediateConfig(), openGrid(), models.Vec3{X: 10}, body)
		a.OnCheckpoint(1, 10, false)
		a.OnLethalContact()
		fitness := a.Fitness()

		Convey("Resetting it repeatedly detaches once and keeps its fitness", func() {
			a.Reset()
			a.Reset()
			So(body.detaches, ShouldEqual, 1)
			So(a.Fitness(), ShouldEqual, fitness)
			So(a.Active(), ShouldBeFalse)
		})
	})

	Convey("A reset live agent ignores decisions", t, func() {
		body := &fakeBody{}
		a := New(1, immediateConfig(), openGrid(), models.Vec3{X: 10}, body)
		a.Reset()
		a.Decide([]float64{0, 1, 0, 0})
		_, n := body.lastImpulse()
		So(n, ShouldEqual, 0)
	})
}
