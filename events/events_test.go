package events

import (
	"context"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestBus(t *testing.T) {
	Convey("Given a bus", t, func() {
		bus := NewBus(2, nil)
		ctx := context.Background()

		Convey("Commands are delivered in order", func() {
			So(bus.Send(ctx, Start{PopulationSize: 4, DecisionsPerSecond: 10, AgentSpeed: 1}), ShouldBeNil)
			So(bus.Send(ctx, Stop{}), ShouldBeNil)
			So(<-bus.Commands(), ShouldResemble, Start{PopulationSize: 4, DecisionsPerSecond: 10, AgentSpeed: 1})
			So(<-bus.Commands(), ShouldResemble, Stop{})
		})

		Convey("Send gives up when its context ends before there is room", func() {
			So(bus.Send(ctx, Stop{}), ShouldBeNil)
			So(bus.Send(ctx, Stop{}), ShouldBeNil)
			timeout, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
			defer cancel()
			So(bus.Send(timeout, ResetGeneration{}), ShouldEqual, context.DeadlineExceeded)
		})

		Convey("Every subscriber receives published events", func() {
			done := make(chan struct{})
			defer close(done)
			first := bus.Subscribe(done)
			second := bus.Subscribe(done)

			bus.Publish(GenerationAdvanced{Index: 3})
			So(<-first, ShouldResemble, GenerationAdvanced{Index: 3})
			So(<-second, ShouldResemble, GenerationAdvanced{Index: 3})
		})

		Convey("Publishing to a full subscriber drops the event instead of blocking", func() {
			done := make(chan struct{})
			defer close(done)
			sub := bus.Subscribe(done)

			published := make(chan struct{})
			go func() {
				defer close(published)
				for i := 0; i < 100; i++ {
					bus.Publish(GenerationAdvanced{Index: i})
				}
			}()
			select {
			case <-published:
			case <-time.After(time.Second):
				t.Fatal("publish blocked")
			}
			So(<-sub, ShouldResemble, GenerationAdvanced{Index: 0})
		})

		Convey("A subscription ends when its done channel closes", func() {
			done := make(chan struct{})
			sub := bus.Subscribe(done)
			close(done)
			for range sub {
			}
			So(true, ShouldBeTrue)
		})

		Convey("Closing the bus ends subscriptions and refuses commands", func() {
			sub := bus.Subscribe(nil)
			bus.Close()
			for range sub {
			}
			So(bus.Send(ctx, Stop{}), ShouldEqual, ErrBusClosed)
			bus.Close()
		})

		Convey("Closing the bus releases subscriptions without a done channel", func() {
			for i := 0; i < 3; i++ {
				bus.Subscribe(nil)
			}
			bus.Close()

			released := make(chan struct{})
			go func() {
				bus.watchers.Wait()
				close(released)
			}()
			select {
			case <-released:
			case <-time.After(time.Second):
				t.Fatal("subscription watchers still running after close")
			}
			So(bus.subs, ShouldBeEmpty)
		})
	})
}
