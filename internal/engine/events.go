package engine

import (
	"log/slog"

	"github.com/kode4food/timebox"

	"github.com/perdura/perdura/internal/events"
	"github.com/perdura/perdura/pkg/api"
	"github.com/perdura/perdura/pkg/log"
)

// eventLoop dispatches durable log events to blocked waiters until the
// engine shuts down
func (e *Engine) eventLoop() {
	defer e.wg.Done()
	handler := e.createEventHandler()

	for {
		select {
		case <-e.ctx.Done():
			return
		case ev, ok := <-e.consumer.Receive():
			if !ok {
				return
			}
			if err := handler(ev); err != nil {
				slog.Error("Failed to handle log event",
					slog.String("event_type", string(ev.Type)),
					log.Error(err))
			}
		}
	}
}

func (e *Engine) createEventHandler() timebox.Handler {
	return events.MakeDispatcher(map[api.EventType]timebox.Handler{
		api.EventTypeWorkflowCompleted: e.notifyResult,
		api.EventTypeWorkflowFailed:    e.notifyResult,
		api.EventTypeWorkflowCancelled: e.notifyResult,
		api.EventTypeEventSet:          timebox.MakeHandler(e.notifyEventSet),
		api.EventTypeMessageSent:       timebox.MakeHandler(e.notifyMessage),
	})
}

func (e *Engine) notifyResult(ev *timebox.Event) error {
	id, ok := workflowIDOf(ev)
	if !ok {
		return nil
	}
	e.waiters.notify(resultKey(id), ev)
	return nil
}

func (e *Engine) notifyEventSet(
	ev *timebox.Event, data api.EventSetEvent,
) error {
	id, ok := workflowIDOf(ev)
	if !ok {
		return nil
	}
	e.waiters.notify(eventKey(id, data.Key), ev)
	return nil
}

func (e *Engine) notifyMessage(
	ev *timebox.Event, data api.MessageSentEvent,
) error {
	id, ok := workflowIDOf(ev)
	if !ok {
		return nil
	}
	e.waiters.notify(messageKey(id, data.Topic), ev)
	return nil
}

func workflowIDOf(ev *timebox.Event) (api.WorkflowID, bool) {
	if !events.IsWorkflowEvent(ev) {
		return "", false
	}
	return api.WorkflowID(ev.AggregateID[1]), true
}
