package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/kode4food/caravan/topic"
	"github.com/kode4food/timebox"

	"github.com/perdura/perdura/internal/events"
	"github.com/perdura/perdura/pkg/api"
	"github.com/perdura/perdura/pkg/log"
)

type (
	// Client streams durable log events to a single WebSocket peer
	Client struct {
		server   *Server
		conn     *websocket.Conn
		consumer topic.Consumer[*timebox.Event]
		match    eventMatcher
	}

	// eventMatcher narrows the event stream to what a peer subscribed
	// to. The zero value matches every event
	eventMatcher struct {
		workflowKey string
		types       map[timebox.EventType]struct{}
	}
)

const (
	writeWait          = 10 * time.Second
	pongWait           = 60 * time.Second
	pingPeriod         = (pongWait * 9) / 10
	maxMessageSize     = 512
	wsBufferSize       = 1024
	incomingBufferSize = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  wsBufferSize,
	WriteBufferSize: wsBufferSize,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", log.Error(err))
		return
	}

	client := &Client{
		server:   s,
		conn:     conn,
		consumer: s.eventHub.NewConsumer(),
	}
	s.registerWebSocket(client)

	go client.run()
}

// Close terminates the client connection. The run loop observes the
// closed connection and tears down its consumer
func (c *Client) Close() {
	_ = c.conn.Close()
}

func (c *Client) run() {
	defer func() {
		c.server.unregisterWebSocket(c)
		c.consumer.Close()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	incoming := make(chan []byte, incomingBufferSize)
	go c.readLoop(incoming)

	for {
		select {
		case message, ok := <-incoming:
			if !ok {
				return
			}
			c.applySubscription(message)

		case event, ok := <-c.consumer.Receive():
			if !ok {
				c.writeControl(websocket.CloseMessage)
				return
			}
			if !c.forwardEvent(event) {
				return
			}

		case <-ticker.C:
			if !c.writeControl(websocket.PingMessage) {
				return
			}
		}
	}
}

func (c *Client) readLoop(incoming chan<- []byte) {
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			close(incoming)
			return
		}
		incoming <- message
	}
}

// applySubscription replaces the client's matcher from a subscribe
// frame. Frames that fail to parse or carry another type leave the
// current matcher in place
func (c *Client) applySubscription(message []byte) {
	var sub api.SubscribeRequest
	if err := json.Unmarshal(message, &sub); err != nil {
		slog.Error("Failed to parse WebSocket message", log.Error(err))
		return
	}
	if sub.Type != "subscribe" {
		return
	}
	c.match = newEventMatcher(&sub.Data)
}

func (c *Client) forwardEvent(event *timebox.Event) bool {
	if !c.match.matches(event) {
		return true
	}

	frame := &api.WebSocketEvent{
		Type:        api.EventType(event.Type),
		Data:        event.Data,
		Timestamp:   event.Timestamp.UnixMilli(),
		AggregateID: aggregateParts(event.AggregateID),
		Sequence:    event.Sequence,
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(frame); err != nil {
		slog.Error("WebSocket write failed", log.Error(err))
		return false
	}
	return true
}

func (c *Client) writeControl(messageType int) bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, nil) == nil
}

func newEventMatcher(sub *api.ClientSubscription) eventMatcher {
	var res eventMatcher
	if sub.WorkflowID != "" {
		res.workflowKey = events.WorkflowKey(sub.WorkflowID).Join("/")
	}
	if len(sub.EventTypes) > 0 {
		res.types = make(
			map[timebox.EventType]struct{}, len(sub.EventTypes),
		)
		for _, et := range sub.EventTypes {
			res.types[timebox.EventType(et)] = struct{}{}
		}
	}
	return res
}

func (m eventMatcher) matches(ev *timebox.Event) bool {
	if m.workflowKey != "" && ev.AggregateID.Join("/") != m.workflowKey {
		return false
	}
	if m.types != nil {
		if _, ok := m.types[ev.Type]; !ok {
			return false
		}
	}
	return true
}

func aggregateParts(id timebox.AggregateID) []string {
	res := make([]string, len(id))
	for i, p := range id {
		res[i] = string(p)
	}
	return res
}
