package fastview

import (
	"sync"

	channerics "github.com/niceyeti/channerics/channels"
)

// Relay fans one update stream out to any number of websocket clients.
// Each subscriber holds at most one pending item; a slow subscriber skips to
// the latest item rather than holding up the others.
type Relay[T any] struct {
	mu      sync.Mutex
	nextSub int
	subs    map[int]chan T
}

// NewRelay starts relaying source until done is closed or source is closed,
// at which point every subscription is closed.
func NewRelay[T any](done <-chan struct{}, source <-chan T) *Relay[T] {
	relay := &Relay[T]{subs: map[int]chan T{}}
	go func() {
		defer relay.closeAll()
		for item := range channerics.OrDone(done, source) {
			relay.send(item)
		}
	}()
	return relay
}

func (relay *Relay[T]) send(item T) {
	relay.mu.Lock()
	defer relay.mu.Unlock()
	for _, sub := range relay.subs {
		select {
		case <-sub:
		default:
		}
		sub <- item
	}
}

// Subscribe returns a channel of items relayed from now on, closed when done is closed.
func (relay *Relay[T]) Subscribe(done <-chan struct{}) <-chan T {
	sub := make(chan T, 1)
	relay.mu.Lock()
	if relay.subs == nil {
		relay.mu.Unlock()
		close(sub)
		return sub
	}
	id := relay.nextSub
	relay.nextSub++
	relay.subs[id] = sub
	relay.mu.Unlock()

	go func() {
		<-done
		relay.mu.Lock()
		defer relay.mu.Unlock()
		if _, ok := relay.subs[id]; ok {
			delete(relay.subs, id)
			close(sub)
		}
	}()
	return sub
}

func (relay *Relay[T]) closeAll() {
	relay.mu.Lock()
	defer relay.mu.Unlock()
	for id, sub := range relay.subs {
		delete(relay.subs, id)
		close(sub)
	}
	relay.subs = nil
}
