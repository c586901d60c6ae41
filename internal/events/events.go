package events

import (
	"github.com/kode4food/timebox"

	"github.com/perdura/perdura/pkg/api"
)

// MakeAppliers adapts a map of appliers keyed by domain event type to
// the key type the durable log expects
func MakeAppliers[T any](
	app map[api.EventType]timebox.Applier[T],
) timebox.Appliers[T] {
	return retype(app)
}

// MakeDispatcher builds a log event dispatcher from handlers keyed by
// domain event type
func MakeDispatcher(
	handlers map[api.EventType]timebox.Handler,
) timebox.Handler {
	return timebox.MakeDispatcher(retype(handlers))
}

// Raise appends an event to the aggregate under its domain event type
func Raise[T, E any](
	ag *timebox.Aggregator[T], eventType api.EventType, event E,
) error {
	return ag.Raise(timebox.EventType(eventType), event)
}

func retype[V any](in map[api.EventType]V) map[timebox.EventType]V {
	res := make(map[timebox.EventType]V, len(in))
	for et, v := range in {
		res[timebox.EventType(et)] = v
	}
	return res
}
