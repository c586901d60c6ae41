package api

import "encoding/json"

type (
	// WebSocketEvent is the frame delivered to streaming clients for
	// each durable log event that passes their subscription
	WebSocketEvent struct {
		Type        EventType       `json:"type"`
		AggregateID []string        `json:"id"`
		Data        json.RawMessage `json:"data"`
		Sequence    int64           `json:"sequence"`
		Timestamp   int64           `json:"timestamp"`
	}

	// SubscribeRequest narrows a client's event stream. Clients may
	// send it at any time to replace their current subscription
	SubscribeRequest struct {
		Type string             `json:"type"`
		Data ClientSubscription `json:"data"`
	}

	// ClientSubscription selects events by workflow, event type, or
	// both. The empty subscription selects everything
	ClientSubscription struct {
		WorkflowID WorkflowID  `json:"workflow_id,omitempty"`
		EventTypes []EventType `json:"event_types,omitempty"`
	}
)
