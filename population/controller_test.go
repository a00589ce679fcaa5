package population

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"smartaliens/agent"
	"smartaliens/checkpoint"
	"smartaliens/events"
	"smartaliens/grid_world"
	"smartaliens/models"

	. "github.com/smartystreets/goconvey/convey"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fixture struct {
	ctrl     *Controller
	spawner  *fakeSpawner
	factory  *recordingFactory
	registry *checkpoint.Registry
}

func newFixture(factory *recordingFactory, bus *events.Bus) fixture {
	level, err := grid_world.LoadLevel("earth")
	So(err, ShouldBeNil)
	cfg := agent.DefaultConfig()
	cfg.ActivationDelay = 0
	registry := checkpoint.FromLevel(level, 1, 10)
	spawner := &fakeSpawner{}
	ctrl, err := New(Config{
		Level:    level,
		Registry: registry,
		Factory:  factory.build,
		Spawner:  spawner,
		Agent:    cfg,
		Workers:  3,
		Bus:      bus,
		Logger:   quietLogger,
	})
	So(err, ShouldBeNil)
	return fixture{ctrl: ctrl, spawner: spawner, factory: factory, registry: registry}
}

// A slow tick rate keeps the scheduler out of tests that tick by hand.
const slowRate = 1

func TestNew(t *testing.T) {
	Convey("A controller needs all of its collaborators", t, func() {
		_, err := New(Config{})
		So(errors.Is(err, ErrIncompleteConfig), ShouldBeTrue)
	})
}

func TestStartGeneration(t *testing.T) {
	Convey("Given a controller", t, func() {
		fx := newFixture(&recordingFactory{}, nil)
		ctrl := fx.ctrl

		Convey("Bad settings are refused", func() {
			So(errors.Is(ctrl.StartGeneration(0, 10, 1), ErrInvalidPopulationSize), ShouldBeTrue)
			So(errors.Is(ctrl.StartGeneration(-3, 10, 1), ErrInvalidPopulationSize), ShouldBeTrue)
			So(errors.Is(ctrl.StartGeneration(4, 0, 1), ErrInvalidDecisionRate), ShouldBeTrue)
			So(ctrl.Snapshot().Running, ShouldBeFalse)
		})

		Convey("Starting spawns the population at the level's start", func() {
			So(ctrl.StartGeneration(5, slowRate, 2), ShouldBeNil)
			defer ctrl.EndGeneration(false)

			snap := ctrl.Snapshot()
			So(snap.Running, ShouldBeTrue)
			So(snap.Generation, ShouldEqual, 1)
			So(len(snap.Agents), ShouldEqual, 5)
			for i, a := range snap.Agents {
				So(a.ID, ShouldEqual, models.AgentID(i+1))
				So(a.Alive, ShouldBeTrue)
				So(a.Fitness, ShouldEqual, 0.0)
			}
			So(fx.factory.last().Size(), ShouldEqual, 5)

			Convey("A second start is refused while it runs", func() {
				So(ctrl.StartGeneration(5, slowRate, 2), ShouldEqual, ErrAlreadyRunning)
			})
		})
	})

	Convey("An algorithm whose inputs do not match the sensors is refused at start", t, func() {
		fx := newFixture(&recordingFactory{inputs: agent.NumInputs - 1}, nil)
		err := fx.ctrl.StartGeneration(4, slowRate, 1)
		So(errors.Is(err, ErrSensorWidthMismatch), ShouldBeTrue)
		So(fx.ctrl.Snapshot().Running, ShouldBeFalse)
	})
}

func TestTick(t *testing.T) {
	Convey("Given a running generation", t, func() {
		fx := newFixture(&recordingFactory{}, nil)
		ctrl := fx.ctrl
		So(ctrl.StartGeneration(6, slowRate, 1), ShouldBeNil)
		alg := fx.factory.last()

		Convey("A tick runs inference for every live agent and moves it", func() {
			ctrl.Tick()
			inferences, _, _ := alg.counts()
			So(inferences, ShouldEqual, 6)
			for _, body := range fx.spawner.all() {
				So(body.impulses, ShouldEqual, 1)
			}
			for _, a := range ctrl.Snapshot().Agents {
				So(a.Direction, ShouldEqual, models.Right)
			}
			So(alg.overlapped.Load(), ShouldBeFalse)
		})

		Convey("Dead agents are not run but still scored", func() {
			ctrl.OnAgentHitObstacle(2)
			ctrl.OnAgentHitObstacle(5)
			ctrl.Tick()
			inferences, _, _ := alg.counts()
			So(inferences, ShouldEqual, 4)
			alg.mu.Lock()
			So(len(alg.submitted), ShouldEqual, 6)
			alg.mu.Unlock()
		})

		Convey("A sensor vector of the wrong width fails the tick", func() {
			alg.setInputs(agent.NumInputs + 2)
			So(func() { ctrl.Tick() }, ShouldPanic)

			Convey("and the barrier is released afterwards", func() {
				alg.setInputs(agent.NumInputs)
				So(ctrl.EndGeneration(false), ShouldBeNil)
			})
		})

		Convey("No tick runs once the generation has ended", func() {
			So(ctrl.EndGeneration(false), ShouldBeNil)
			ctrl.Tick()
			inferences, _, _ := alg.counts()
			So(inferences, ShouldEqual, 0)
		})

		Convey("A tick for a generation that is no longer running is ignored", func() {
			So(ctrl.ResetGeneration(), ShouldBeNil)
			ctrl.tickGeneration(1)
			inferences, _, _ := alg.counts()
			So(inferences, ShouldEqual, 0)
			So(ctrl.EndGeneration(false), ShouldBeNil)
		})
	})

	Convey("Ticking with no generation running is a no-op", t, func() {
		fx := newFixture(&recordingFactory{}, nil)
		So(func() { fx.ctrl.Tick() }, ShouldNotPanic)
		So(fx.factory.count(), ShouldEqual, 0)
	})
}

func TestEndGeneration(t *testing.T) {
	Convey("Given a running generation", t, func() {
		bus := events.NewBus(4, quietLogger)
		done := make(chan struct{})
		defer close(done)
		published := bus.Subscribe(done)

		fx := newFixture(&recordingFactory{}, bus)
		ctrl := fx.ctrl
		So(ctrl.StartGeneration(4, slowRate, 1), ShouldBeNil)
		So(<-published, ShouldResemble, events.GenerationAdvanced{Index: 1})
		alg := fx.factory.last()

		Convey("Ending it scores every agent and evolves exactly once", func() {
			ctrl.Tick()
			ctrl.OnAgentHitObstacle(3)
			So(ctrl.EndGeneration(false), ShouldBeNil)

			_, epochs, sealed := alg.counts()
			So(epochs, ShouldEqual, 1)
			So(sealed, ShouldResemble, []int{4})
			So(ctrl.Snapshot().Running, ShouldBeFalse)
			for _, body := range fx.spawner.all() {
				So(body.detached, ShouldEqual, 1)
			}

			Convey("Final fitness stays readable", func() {
				snap := ctrl.Snapshot()
				So(len(snap.Agents), ShouldEqual, 4)
				So(snap.Agents[2].Alive, ShouldBeFalse)
			})

			Convey("Ending again is refused and does not evolve", func() {
				So(ctrl.EndGeneration(false), ShouldEqual, ErrNotRunning)
				_, epochs, _ := alg.counts()
				So(epochs, ShouldEqual, 1)
			})

			Convey("Contacts for the ended generation are dropped", func() {
				before := ctrl.Snapshot().Agents[0].Fitness
				ctrl.OnAgentHitCheckpoint(1, 1)
				So(ctrl.Snapshot().Agents[0].Fitness, ShouldEqual, before)
			})

			Convey("The best individual is published", func() {
				So(<-published, ShouldHaveSameTypeAs, events.BestIndividualUpdated{})
				best, ok := ctrl.Best()
				So(ok, ShouldBeTrue)
				So(ctrl.Stats().BestFitness, ShouldEqual, best.Fitness)
				So(len(ctrl.Stats().History), ShouldEqual, 1)
			})
		})

		Convey("Ending it with startNext spawns the next generation", func() {
			So(ctrl.EndGeneration(true), ShouldBeNil)
			defer ctrl.EndGeneration(false)

			snap := ctrl.Snapshot()
			So(snap.Running, ShouldBeTrue)
			So(snap.Generation, ShouldEqual, 2)
			So(len(fx.spawner.all()), ShouldEqual, 8)
			So(fx.factory.count(), ShouldEqual, 2)
		})

		Convey("A reset forces a transition while agents are alive", func() {
			So(ctrl.ResetGeneration(), ShouldBeNil)
			defer ctrl.EndGeneration(false)
			_, epochs, _ := alg.counts()
			So(epochs, ShouldEqual, 1)
			So(ctrl.Snapshot().Generation, ShouldEqual, 2)

			Convey("and contacts from the old generation do not touch the new one", func() {
				cp := fx.registry.All()[0]
				before := ctrl.Snapshot().Agents[1].Fitness
				ctrl.HandleContact(models.ObstacleContact{AgentID: 1, Generation: 1})
				ctrl.HandleContact(models.CheckpointContact{AgentID: 2, Generation: 1, CheckpointID: cp.ID})

				snap := ctrl.Snapshot()
				So(snap.Agents[0].Alive, ShouldBeTrue)
				So(snap.Agents[1].Fitness, ShouldEqual, before)
				So(fx.registry.IsReached(cp.ID), ShouldBeFalse)
				So(ctrl.runningGeneration().deaths.count(), ShouldEqual, 0)

				Convey("while its own still apply", func() {
					ctrl.HandleContact(models.ObstacleContact{AgentID: 1, Generation: 2})
					So(ctrl.Snapshot().Agents[0].Alive, ShouldBeFalse)
					So(ctrl.runningGeneration().deaths.count(), ShouldEqual, 1)
				})
			})
		})

		Convey("A reset after a stop restarts with the same settings", func() {
			So(ctrl.EndGeneration(false), ShouldBeNil)
			So(ctrl.ResetGeneration(), ShouldBeNil)
			defer ctrl.EndGeneration(false)
			snap := ctrl.Snapshot()
			So(snap.Running, ShouldBeTrue)
			So(len(snap.Agents), ShouldEqual, 4)
		})
	})

	Convey("The best individual only changes on strict improvement", t, func() {
		fx := newFixture(&recordingFactory{reseed: true}, nil)
		ctrl := fx.ctrl
		So(ctrl.StartGeneration(2, slowRate, 1), ShouldBeNil)
		ctrl.OnAgentHitCheckpoint(1, 1)
		So(ctrl.EndGeneration(true), ShouldBeNil)
		first, ok := ctrl.Best()
		So(ok, ShouldBeTrue)
		So(first.Fitness, ShouldBeGreaterThan, 0)

		ctrl.OnAgentHitCheckpoint(2, 1)
		So(ctrl.EndGeneration(false), ShouldBeNil)
		second, _ := ctrl.Best()
		So(second.ID, ShouldEqual, first.ID)

		Convey("and a reseedable algorithm is reused across generations", func() {
			So(fx.factory.count(), ShouldEqual, 1)
		})
	})

	Convey("A reseedable algorithm is resized for a new population size", t, func() {
		fx := newFixture(&recordingFactory{reseed: true}, nil)
		ctrl := fx.ctrl
		So(ctrl.StartGeneration(3, slowRate, 1), ShouldBeNil)
		So(ctrl.EndGeneration(false), ShouldBeNil)
		So(ctrl.StartGeneration(5, slowRate, 1), ShouldBeNil)
		defer ctrl.EndGeneration(false)
		So(fx.factory.count(), ShouldEqual, 1)
		So(fx.factory.last().Size(), ShouldEqual, 5)
	})
}

func TestDeaths(t *testing.T) {
	Convey("Given a population of 4", t, func() {
		fx := newFixture(&recordingFactory{}, nil)
		ctrl := fx.ctrl
		So(ctrl.StartGeneration(4, slowRate, 1), ShouldBeNil)
		defer ctrl.EndGeneration(false)
		gen := ctrl.runningGeneration()

		Convey("Three deaths do not finish the generation", func() {
			for id := models.AgentID(1); id <= 3; id++ {
				ctrl.OnAgentHitObstacle(id)
				ctrl.OnAgentHitProjectile(id)
			}
			So(gen.deaths.count(), ShouldEqual, 3)
			select {
			case <-gen.deaths.Full():
				t.Fatal("generation finished with an agent alive")
			default:
			}
			So(ctrl.Snapshot().Running, ShouldBeTrue)

			Convey("The fourth does", func() {
				ctrl.HandleContact(models.ProjectileContact{AgentID: 4, Damage: 500})
				So(gen.deaths.count(), ShouldEqual, 4)
				select {
				case <-gen.deaths.Full():
				default:
					t.Fatal("generation not finished")
				}
			})
		})

		Convey("Concurrent reports for the same agents count each once", func() {
			finished := make(chan struct{})
			for w := 0; w < 8; w++ {
				go func() {
					for id := models.AgentID(1); id <= 4; id++ {
						ctrl.OnAgentHitObstacle(id)
					}
					finished <- struct{}{}
				}()
			}
			for w := 0; w < 8; w++ {
				<-finished
			}
			So(gen.deaths.count(), ShouldEqual, 4)
		})

		Convey("Non-lethal damage does not count as a death", func() {
			ctrl.HandleContact(models.ProjectileContact{AgentID: 1, Damage: 10})
			So(gen.deaths.count(), ShouldEqual, 0)
		})

		Convey("A checkpoint pays each agent once and marks the registry", func() {
			cp := fx.registry.All()[0]
			for i := 0; i < 3; i++ {
				ctrl.OnAgentHitCheckpoint(1, cp.ID)
			}
			So(ctrl.Snapshot().Agents[0].Fitness, ShouldEqual, cp.Reward)
			So(fx.registry.IsReached(cp.ID), ShouldBeTrue)
			So(ctrl.Snapshot().Reached, ShouldContain, cp.ID)
		})

		Convey("Contacts for unknown agents and checkpoints are ignored", func() {
			So(func() {
				ctrl.OnAgentHitObstacle(99)
				ctrl.OnAgentHitCheckpoint(1, 99)
				ctrl.HandleContact(models.TowerLockContact{AgentID: 1, TowerID: 2})
			}, ShouldNotPanic)
			So(gen.deaths.count(), ShouldEqual, 0)
		})
	})
}

func awaitEvent(sub <-chan events.Event, match func(events.Event) bool) bool {
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				return false
			}
			if match(ev) {
				return true
			}
		case <-timeout:
			return false
		}
	}
}

func TestRun(t *testing.T) {
	Convey("Given a controller served by Run", t, func() {
		bus := events.NewBus(4, quietLogger)
		fx := newFixture(&recordingFactory{}, bus)
		ctrl := fx.ctrl

		ctx, cancel := context.WithCancel(context.Background())
		sub := bus.Subscribe(ctx.Done())
		stopped := make(chan error, 1)
		go func() { stopped <- ctrl.Run(ctx) }()

		So(bus.Send(ctx, events.Start{PopulationSize: 3, DecisionsPerSecond: 100, AgentSpeed: 1}), ShouldBeNil)
		So(awaitEvent(sub, func(ev events.Event) bool {
			return ev == events.GenerationAdvanced{Index: 1}
		}), ShouldBeTrue)

		Convey("Ticks run on their own", func() {
			deadline := time.Now().Add(5 * time.Second)
			for time.Now().Before(deadline) {
				if inferences, _, _ := fx.factory.last().counts(); inferences > 0 {
					break
				}
				time.Sleep(5 * time.Millisecond)
			}
			inferences, _, _ := fx.factory.last().counts()
			So(inferences, ShouldBeGreaterThan, 0)
		})

		Convey("The generation advances once every agent has died", func() {
			first := fx.factory.last()
			for id := models.AgentID(1); id <= 3; id++ {
				ctrl.OnAgentHitObstacle(id)
			}
			So(awaitEvent(sub, func(ev events.Event) bool {
				return ev == events.GenerationAdvanced{Index: 2}
			}), ShouldBeTrue)
			_, epochs, sealed := first.counts()
			So(epochs, ShouldEqual, 1)
			So(sealed, ShouldResemble, []int{3})
		})

		Convey("A generation started directly is ticked and advanced", func() {
			So(ctrl.EndGeneration(false), ShouldBeNil)
			So(ctrl.StartGeneration(3, 100, 1), ShouldBeNil)
			direct := fx.factory.last()

			deadline := time.Now().Add(5 * time.Second)
			for time.Now().Before(deadline) {
				if inferences, _, _ := direct.counts(); inferences > 0 {
					break
				}
				time.Sleep(5 * time.Millisecond)
			}
			inferences, _, _ := direct.counts()
			So(inferences, ShouldBeGreaterThan, 0)

			for id := models.AgentID(1); id <= 3; id++ {
				ctrl.OnAgentHitObstacle(id)
			}
			So(awaitEvent(sub, func(ev events.Event) bool {
				return ev == events.GenerationAdvanced{Index: 3}
			}), ShouldBeTrue)
		})

		Convey("A reset command advances the generation", func() {
			So(bus.Send(ctx, events.ResetGeneration{}), ShouldBeNil)
			So(awaitEvent(sub, func(ev events.Event) bool {
				return ev == events.GenerationAdvanced{Index: 2}
			}), ShouldBeTrue)
		})

		Convey("A camera reset request is passed through", func() {
			So(bus.Send(ctx, events.RequestCameraReset{}), ShouldBeNil)
			So(awaitEvent(sub, func(ev events.Event) bool {
				return ev == events.CameraReset{}
			}), ShouldBeTrue)
		})

		Reset(func() {
			cancel()
			if err := <-stopped; err != nil {
				t.Errorf("run: %v", err)
			}
			if ctrl.Snapshot().Running {
				t.Error("generation still running after shutdown")
			}
		})
	})
}
