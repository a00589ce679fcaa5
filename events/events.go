// events is the boundary between the training loop and the surrounding
// application: commands flow in through a single queue, and events flow out to
// any number of subscribers.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	channerics "github.com/niceyeti/channerics/channels"
)

// Command is a request from the application to the population controller.
type Command interface {
	isCommand()
}

// Start begins training with the given population settings.
type Start struct {
	PopulationSize     int     `json:"populationSize"`
	DecisionsPerSecond int     `json:"decisionsPerSecond"`
	AgentSpeed         float64 `json:"agentSpeed"`
}

// Stop ends the running generation without starting another.
type Stop struct{}

// ResetGeneration forces the running generation to end and the next one to start,
// however many agents are still alive.
type ResetGeneration struct{}

// RequestCameraReset is passed straight through as a CameraReset event.
type RequestCameraReset struct{}

func (Start) isCommand()              {}
func (Stop) isCommand()               {}
func (ResetGeneration) isCommand()    {}
func (RequestCameraReset) isCommand() {}

// Event is a notification from the training loop to the application.
type Event interface {
	isEvent()
}

// GenerationAdvanced is published when generation Index starts.
type GenerationAdvanced struct {
	Index int `json:"index"`
}

// MapReady is published once the level is loaded and agents can be spawned.
type MapReady struct{}

// BestIndividualUpdated is published when a generation produces a new best-ever fitness.
type BestIndividualUpdated struct {
	Fitness float64 `json:"fitness"`
}

// CameraReset answers RequestCameraReset.
type CameraReset struct{}

func (GenerationAdvanced) isEvent()    {}
func (MapReady) isEvent()              {}
func (BestIndividualUpdated) isEvent() {}
func (CameraReset) isEvent()           {}

// ErrBusClosed is returned when sending a command to a closed bus.
var ErrBusClosed error = errors.New("event bus closed")

// Bus carries commands to a single consumer and fans events out to subscribers.
// Publishing never blocks: a subscriber that falls behind misses events.
type Bus struct {
	logger   *slog.Logger
	commands chan Command

	mu      sync.Mutex
	closed  bool
	nextSub int
	subs    map[int]chan Event
	// stop is closed with the bus; it releases subscriptions' watchers.
	stop     chan struct{}
	watchers sync.WaitGroup
}

// NewBus returns a bus whose command queue holds up to capacity pending commands.
func NewBus(capacity int, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger:   logger,
		commands: make(chan Command, capacity),
		subs:     map[int]chan Event{},
		stop:     make(chan struct{}),
	}
}

// Send queues cmd, blocking until there is room or ctx is done.
func (bus *Bus) Send(ctx context.Context, cmd Command) error {
	bus.mu.Lock()
	closed := bus.closed
	bus.mu.Unlock()
	if closed {
		return ErrBusClosed
	}

	select {
	case bus.commands <- cmd:
		bus.logger.Debug("command queued", "command", fmt.Sprintf("%T", cmd))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Commands is the queue of pending commands. It has a single consumer.
func (bus *Bus) Commands() <-chan Command {
	return bus.commands
}

// Publish delivers ev to every subscriber with room for it.
func (bus *Bus) Publish(ev Event) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	for id, sub := range bus.subs {
		select {
		case sub <- ev:
		default:
			bus.logger.Debug("subscriber behind, event dropped",
				"subscriber", id,
				"event", fmt.Sprintf("%T", ev))
		}
	}
}

// Subscribe returns a channel of events published from now on. The channel is
// closed when done is closed or the bus is closed. A nil done subscribes until
// the bus is closed.
func (bus *Bus) Subscribe(done <-chan struct{}) <-chan Event {
	sub := make(chan Event, 16)

	bus.mu.Lock()
	if bus.closed {
		bus.mu.Unlock()
		close(sub)
		return sub
	}
	id := bus.nextSub
	bus.nextSub++
	bus.subs[id] = sub
	bus.watchers.Add(1)
	bus.mu.Unlock()

	go func() {
		defer bus.watchers.Done()
		select {
		case <-done:
			bus.unsubscribe(id)
		case <-bus.stop:
		}
	}()

	return channerics.OrDone(done, sub)
}

func (bus *Bus) unsubscribe(id int) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	if sub, ok := bus.subs[id]; ok {
		delete(bus.subs, id)
		close(sub)
	}
}

// Close closes every subscription. Pending commands stay readable.
func (bus *Bus) Close() {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	if bus.closed {
		return
	}
	bus.closed = true
	close(bus.stop)
	for id, sub := range bus.subs {
		delete(bus.subs, id)
		close(sub)
	}
}
