package ws

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"realtimeCollab/backend/internal/collab"
	"realtimeCollab/backend/internal/presence"
)

const submitTimeout = 5 * time.Second

// Conn wraps one websocket connection: a buffered outbound queue consumed
// by the write loop, and a read loop dispatching the event protocol.
type Conn struct {
	ws     *websocket.Conn
	connID string
	userID uint64

	send chan any

	tracker *presence.Tracker
	fanout  Subscriber
	coord   *collab.Coordinator
	log     zerolog.Logger
}

// Subscriber is the slice of the channel fanout the connection drives
// directly.
type Subscriber interface {
	Subscribe(connID, channel, objectType, objectID string) (bool, error)
	Unsubscribe(connID, channel, objectType, objectID string) (bool, error)
}

func NewConn(ws *websocket.Conn, connID string, userID uint64, tracker *presence.Tracker, fanout Subscriber, coord *collab.Coordinator, log zerolog.Logger) *Conn {
	return &Conn{
		ws:      ws,
		connID:  connID,
		userID:  userID,
		send:    make(chan any, 32),
		tracker: tracker,
		fanout:  fanout,
		coord:   coord,
		log:     log,
	}
}

// Enqueue offers a message to the outbound queue. A full queue drops the
// message and reports false; fanout delivery is at-most-once.
func (c *Conn) Enqueue(msg any) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Conn) writeLoop() {
	for msg := range c.send {
		if err := c.ws.WriteJSON(msg); err != nil {
			c.log.Debug().Str("connectionId", c.connID).Err(err).Msg("write failed")
			return
		}
	}
}

func (c *Conn) readLoop(ctx context.Context) {
	defer close(c.send)
	for {
		var msg ClientMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			c.log.Debug().
				Str("connectionId", c.connID).
				Uint64("userId", c.userID).
				Err(err).
				Msg("read loop ended")
			return
		}
		c.dispatch(ctx, msg)
	}
}

// dispatch handles one inbound event. Every branch answers with a
// structured reply; client messages are never silently dropped.
func (c *Conn) dispatch(ctx context.Context, msg ClientMessage) {
	switch msg.Type {
	case "ping":
		if err := c.tracker.HandleHeartbeat(ctx, c.connID); err != nil {
			c.log.Debug().Str("connectionId", c.connID).Err(err).Msg("heartbeat failed")
		}
		c.Enqueue(PongMessage{Type: "pong", Timestamp: time.Now()})

	case "subscribe":
		c.handleSubscribe(msg, true)

	case "unsubscribe":
		c.handleSubscribe(msg, false)

	case "presence":
		if err := c.tracker.UpdatePresence(ctx, c.connID, presence.Status(msg.Status), ""); err != nil {
			c.Enqueue(errorMessage(err.Error()))
			return
		}
		c.Enqueue(StatusMessage{Status: "success"})

	case "typing":
		if err := c.tracker.UpdateTyping(ctx, c.connID, msg.IsTyping, msg.Location); err != nil {
			c.Enqueue(errorMessage(err.Error()))
			return
		}
		c.Enqueue(StatusMessage{Status: "success"})

	case "join_collaboration":
		result, err := c.coord.JoinSession(ctx, c.connID, msg.ResourceType, msg.ResourceID, msg.FieldName)
		if err != nil {
			c.Enqueue(errorMessage(err.Error()))
			return
		}
		c.Enqueue(JoinAck{
			Type:         "collaboration_joined",
			ResourceType: msg.ResourceType,
			ResourceID:   msg.ResourceID,
			FieldName:    msg.FieldName,
			Participants: result.Participants,
			Document:     result.Document,
			Lock:         result.Lock,
		})

	case "leave_collaboration":
		if err := c.coord.LeaveSession(ctx, c.connID, msg.ResourceType, msg.ResourceID, msg.FieldName); err != nil {
			c.Enqueue(errorMessage(err.Error()))
			return
		}
		c.Enqueue(StatusMessage{Status: "success"})

	case "operation":
		c.handleOperation(ctx, msg)

	case "lock":
		granted, err := c.coord.LockResource(ctx, c.connID, msg.ResourceType, msg.ResourceID, msg.FieldName)
		if err != nil {
			c.Enqueue(errorMessage(err.Error()))
			return
		}
		ack := LockAck{Success: granted}
		if !granted {
			ack.Message = "field is locked by another user"
		}
		c.Enqueue(ack)

	case "unlock":
		released, err := c.coord.UnlockResource(ctx, c.connID, msg.ResourceType, msg.ResourceID, msg.FieldName)
		if err != nil {
			c.Enqueue(errorMessage(err.Error()))
			return
		}
		ack := LockAck{Success: released}
		if !released {
			ack.Message = "lock is held by another user"
		}
		c.Enqueue(ack)

	default:
		c.Enqueue(errorMessage("unknown message type " + msg.Type))
	}
}

func (c *Conn) handleSubscribe(msg ClientMessage, subscribe bool) {
	var err error
	if subscribe {
		_, err = c.fanout.Subscribe(c.connID, msg.Channel, msg.ObjectType, msg.ObjectID)
	} else {
		_, err = c.fanout.Unsubscribe(c.connID, msg.Channel, msg.ObjectType, msg.ObjectID)
	}
	if err != nil {
		c.Enqueue(errorMessage(err.Error()))
		return
	}
	c.Enqueue(SubscriptionAck{
		Status:     "success",
		Channel:    msg.Channel,
		ObjectType: msg.ObjectType,
		ObjectID:   msg.ObjectID,
	})
}

func (c *Conn) handleOperation(ctx context.Context, msg ClientMessage) {
	if msg.Operation == nil {
		c.Enqueue(errorMessage("operation payload missing"))
		return
	}
	opCtx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()

	result, err := c.coord.SubmitOperation(opCtx, c.connID, msg.ResourceType, msg.ResourceID, msg.FieldName, *msg.Operation, msg.Version)
	if err != nil {
		c.Enqueue(errorMessage(err.Error()))
		return
	}
	if result.Conflict != nil {
		c.Enqueue(ConflictMessage{
			Success:        false,
			Error:          "conflict",
			CurrentVersion: result.Conflict.CurrentVersion,
			ClientVersion:  result.Conflict.ClientVersion,
			Document:       result.Conflict.Document,
		})
		return
	}
	c.Enqueue(OperationAck{
		Success:   true,
		Document:  result.Document,
		Operation: result.Operation,
		Version:   result.Version,
	})
}
