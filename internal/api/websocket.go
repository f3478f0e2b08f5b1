package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// WebSocketHandler serves the event feed over WebSocket and accepts queue
// commands (cancel, retry, remove) from the client.
type WebSocketHandler struct {
	events   *EventsHandlerImpl
	upgrader websocket.Upgrader
	logger   *logrus.Logger
}

// NewWebSocketHandler creates a new WebSocket event handler
func NewWebSocketHandler(h *EventsHandlerImpl, origins *OriginPolicy, logger *logrus.Logger) *WebSocketHandler {
	wsh := &WebSocketHandler{
		events: h,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
		},
		logger: logger,
	}
	// a nil CheckOrigin is gorilla's same-origin check
	if origins != nil {
		wsh.upgrader.CheckOrigin = origins.Allow
	}
	return wsh
}

// wsConn serializes writes; gorilla allows one concurrent writer.
type wsConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *wsConn) send(msg StreamMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.ws.WriteJSON(msg)
}

// HandleWebSocket upgrades the connection and pumps the event feed to it
func (wsh *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	conn := &wsConn{ws: ws}
	wsh.logger.WithField("remote", c.RealIP()).Debug("event socket connected")

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	if err := conn.send(newStreamMessage(MsgTypeConnected, "", nil)); err != nil {
		return nil
	}

	go func() {
		defer cancel()
		for msg := range wsh.events.feed(ctx) {
			if err := conn.send(msg); err != nil {
				ws.Close()
				return
			}
		}
	}()

	// Main message loop
	for {
		var msg StreamMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsh.logger.WithError(err).Debug("event socket closed unexpectedly")
			}
			break
		}
		reply := wsh.handleCommand(msg)
		if err := conn.send(reply); err != nil {
			break
		}
	}

	wsh.logger.Debug("event socket disconnected")
	return nil
}

func (wsh *WebSocketHandler) handleCommand(msg StreamMessage) StreamMessage {
	queue := wsh.events.queue

	var err error
	switch msg.Type {
	case MsgTypePing:
		return newStreamMessage(MsgTypePong, msg.ID, nil)
	case MsgTypeCancel:
		err = queue.Cancel(msg.ID)
	case MsgTypeRetry:
		err = queue.Retry(msg.ID)
	case MsgTypeRemove:
		err = queue.Remove(msg.ID)
	default:
		return newStreamMessage(MsgTypeError, msg.ID, &APIError{
			Status:  http.StatusBadRequest,
			Code:    "INVALID_TYPE",
			Message: "Unknown message type: " + msg.Type,
		})
	}
	if err != nil {
		return newStreamMessage(MsgTypeError, msg.ID, fromDomainError(err, msg.ID))
	}
	return newStreamMessage(MsgTypeAck, msg.ID, map[string]string{"command": msg.Type})
}
