// handlers_events.go - Live event stream (SSE)
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/ismart-scholar/workbench/internal/events"
	"github.com/ismart-scholar/workbench/internal/upload"
)

// Stream message types
const (
	MsgTypeConnected = "connected"
	MsgTypeEvent     = "event"
	MsgTypeTasks     = "tasks"
	MsgTypePing      = "ping"
	MsgTypePong      = "pong"
	MsgTypeError     = "error"
	MsgTypeAck       = "ack"

	// Client -> Server over the socket
	MsgTypeCancel = "upload:cancel"
	MsgTypeRetry  = "upload:retry"
	MsgTypeRemove = "upload:remove"
)

const keepAliveInterval = 15 * time.Second

// feedBuffer bounds how many bus events may wait for a slow client.
const feedBuffer = 64

// StreamMessage is one message on the SSE and WebSocket streams.
type StreamMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

type tasksPayload struct {
	Tasks []upload.TaskView `json:"tasks"`
	Stats upload.Stats      `json:"stats"`
}

func newStreamMessage(typ, id string, payload interface{}) StreamMessage {
	msg := StreamMessage{Type: typ, ID: id, Timestamp: time.Now().UnixMilli()}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err == nil {
			msg.Payload = data
		}
	}
	return msg
}

// EventsHandlerImpl implements the EventsHandler interface
type EventsHandlerImpl struct {
	queue  UploadQueue
	bus    *events.Bus
	ws     *WebSocketHandler
	logger *logrus.Logger
}

// NewEventsHandler creates the SSE and WebSocket event handler
func NewEventsHandler(queue UploadQueue, bus *events.Bus, origins *OriginPolicy, logger *logrus.Logger) EventsHandler {
	h := &EventsHandlerImpl{queue: queue, bus: bus, logger: logger}
	h.ws = NewWebSocketHandler(h, origins, logger)
	return h
}

// feed merges bus events and queue snapshots into one channel that is
// closed when ctx is done. The first message is always a task snapshot.
// Bus events are dropped for a client that falls too far behind.
func (h *EventsHandlerImpl) feed(ctx context.Context) <-chan StreamMessage {
	out := make(chan StreamMessage, feedBuffer)
	busEvents := make(chan events.Event, feedBuffer)

	var unsubscribe func()
	if h.bus != nil {
		unsubscribe = h.bus.SubscribeAll(func(ev events.Event) {
			select {
			case busEvents <- ev:
			default:
				h.logger.WithField("event", ev.Name).Debug("dropping event for slow stream client")
			}
		})
	}

	go func() {
		defer close(out)
		if unsubscribe != nil {
			defer unsubscribe()
		}

		send := func(msg StreamMessage) bool {
			select {
			case out <- msg:
				return true
			case <-ctx.Done():
				return false
			}
		}

		changes := h.queue.Changes()
		if !send(h.snapshot()) {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-changes:
				changes = h.queue.Changes()
				if !send(h.snapshot()) {
					return
				}
			case ev := <-busEvents:
				if !send(newStreamMessage(MsgTypeEvent, string(ev.Name), ev)) {
					return
				}
			}
		}
	}()
	return out
}

func (h *EventsHandlerImpl) snapshot() StreamMessage {
	return newStreamMessage(MsgTypeTasks, "", tasksPayload{
		Tasks: h.queue.Tasks(),
		Stats: h.queue.Stats(),
	})
}

// HandleEventStream streams bus events and task snapshots via SSE
func (h *EventsHandlerImpl) HandleEventStream(c echo.Context) error {
	// Set SSE headers
	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)

	ctx := c.Request().Context()
	h.sendSSE(c, newStreamMessage(MsgTypeConnected, "", nil))

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	msgs := h.feed(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-keepAlive.C:
			fmt.Fprint(c.Response(), ": keep-alive\n\n")
			c.Response().Flush()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			h.sendSSE(c, msg)
		}
	}
}

// HandleEventSocket serves the same stream over a WebSocket
func (h *EventsHandlerImpl) HandleEventSocket(c echo.Context) error {
	return h.ws.HandleWebSocket(c)
}

func (h *EventsHandlerImpl) sendSSE(c echo.Context, msg StreamMessage) {
	data, _ := json.Marshal(msg)
	fmt.Fprintf(c.Response(), "event: %s\ndata: %s\n\n", msg.Type, data)
	c.Response().Flush()
}
