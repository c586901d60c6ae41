package engine

import (
	"slices"
	"sync"

	"github.com/kode4food/timebox"

	"github.com/perdura/perdura/pkg/api"
)

type (
	// waiterRegistry wakes goroutines blocked on durable log events:
	// result waits, event-key waits, and inbox receives
	waiterRegistry struct {
		mu    sync.Mutex
		chans map[string][]chan *timebox.Event
	}

	waiter struct {
		reg *waiterRegistry
		key string
		ch  chan *timebox.Event
	}
)

func newWaiterRegistry() *waiterRegistry {
	return &waiterRegistry{
		chans: map[string][]chan *timebox.Event{},
	}
}

func (w *waiterRegistry) register(key string) *waiter {
	ch := make(chan *timebox.Event, 1)
	w.mu.Lock()
	w.chans[key] = append(w.chans[key], ch)
	w.mu.Unlock()
	return &waiter{reg: w, key: key, ch: ch}
}

func (w *waiterRegistry) notify(key string, ev *timebox.Event) {
	w.mu.Lock()
	waiting := w.chans[key]
	w.mu.Unlock()
	for _, ch := range waiting {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Channel returns the channel signalled when a matching event arrives
func (w *waiter) Channel() <-chan *timebox.Event {
	return w.ch
}

// Close removes the waiter from its registry
func (w *waiter) Close() {
	w.reg.mu.Lock()
	defer w.reg.mu.Unlock()
	w.reg.chans[w.key] = slices.DeleteFunc(
		w.reg.chans[w.key],
		func(ch chan *timebox.Event) bool { return ch == w.ch },
	)
	if len(w.reg.chans[w.key]) == 0 {
		delete(w.reg.chans, w.key)
	}
}

func resultKey(id api.WorkflowID) string {
	return "result:" + string(id)
}

func eventKey(id api.WorkflowID, key api.EventKey) string {
	return "event:" + string(id) + ":" + string(key)
}

func messageKey(id api.WorkflowID, topic api.Topic) string {
	return "message:" + string(id) + ":" + string(topic)
}
