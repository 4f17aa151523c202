package pipeline

import (
	"context"
	"slices"
	"sync"

	"github.com/devcubo3/trabalho-mae/internal/types"
)

// feed keeps every event of one job so late subscribers can replay it. Publishing never
// blocks: waiters are woken by closing the current notify channel.
type feed struct {
	mu     sync.Mutex
	events []types.Event
	closed bool
	notify chan struct{}
}

func newFeed() *feed {
	return &feed{notify: make(chan struct{})}
}

func (f *feed) publish(ev types.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.events = append(f.events, ev)
	if ev.Terminal() {
		f.closed = true
	}
	close(f.notify)
	f.notify = make(chan struct{})
}

// since returns the events after the first n, whether the feed has ended and a channel
// closed on the next publish.
func (f *feed) since(n int) ([]types.Event, bool, <-chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.events[n:]), f.closed, f.notify
}

func (f *feed) follow(ctx context.Context, fn func(types.Event) error) error {
	next := 0
	for {
		events, closed, wait := f.since(next)
		for _, ev := range events {
			if err := fn(ev); err != nil {
				return err
			}
		}
		next += len(events)
		if closed {
			return nil
		}
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
