package chat

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"floboats-messaging/internal/apperr"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10 // must be less than pongWait
	maxMessageSize = 4096
)

const (
	FrameOpen    = "open"
	FrameSend    = "send"
	FrameHistory = "history"
	FrameMessage = "message"
	FrameSent    = "sent"
	FrameError   = "error"
)

// InboundFrame is what the browser writes on the socket.
type InboundFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	ListingID      string `json:"listing_id,omitempty"`
	Content        string `json:"content,omitempty"`
}

type OutboundFrame struct {
	Type           string              `json:"type"`
	ConversationID string              `json:"conversation_id,omitempty"`
	Messages       []MessageWithSender `json:"messages,omitempty"`
	Message        *MessageWithSender  `json:"message,omitempty"`
	Error          *apperr.AppError    `json:"error,omitempty"`
}

// Client is one websocket session. It owns at most one open View at a time.
type Client struct {
	Hub      *Hub
	Conn     *websocket.Conn
	Send     chan []byte
	UserID   string
	Username string

	svc    *Service
	log    *zap.SugaredLogger
	ctx    context.Context
	cancel context.CancelFunc

	// view is only touched from ReadPump.
	view *View
	// sendMu keeps a view's history frame ahead of its live frames.
	sendMu sync.Mutex
}

func NewClient(ctx context.Context, hub *Hub, conn *websocket.Conn, svc *Service, userID, username string, log *zap.SugaredLogger) *Client {
	ctx, cancel := context.WithCancel(ctx)
	return &Client{
		Hub:      hub,
		Conn:     conn,
		Send:     make(chan []byte, 256),
		UserID:   userID,
		Username: username,
		svc:      svc,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// ReadPump dispatches client frames until the connection drops, then releases
// the open view and leaves the hub.
func (c *Client) ReadPump() {
	defer func() {
		c.closeView()
		c.cancel()
		c.Hub.unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warnw("websocket read failed", "user_id", c.UserID, "username", c.Username, "err", err)
			}
			return
		}

		var in InboundFrame
		if err := json.Unmarshal(raw, &in); err != nil {
			c.sendError("", apperr.Validation("malformed frame"))
			continue
		}

		switch in.Type {
		case FrameOpen:
			c.open(in.ConversationID)
		case FrameSend:
			c.sendMessage(in)
		default:
			c.sendError(in.ConversationID, apperr.Validation("unknown frame type "+in.Type))
		}
	}
}

func (c *Client) open(conversationID string) {
	c.closeView()

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	v, err := c.svc.OpenView(c.ctx, conversationID, c.UserID, c.deliver)
	if err != nil {
		c.enqueue(OutboundFrame{Type: FrameError, ConversationID: conversationID, Error: toAppError(err)})
		return
	}
	c.view = v
	c.enqueue(OutboundFrame{Type: FrameHistory, ConversationID: v.ConversationID(), Messages: v.Messages()})
}

func (c *Client) deliver(m MessageWithSender) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	c.enqueue(OutboundFrame{Type: FrameMessage, ConversationID: m.ConversationID, Message: &m})
}

func (c *Client) closeView() {
	if c.view == nil {
		return
	}
	if err := c.view.Close(); err != nil {
		c.log.Warnw("close view failed", "conversation_id", c.view.ConversationID(), "err", err)
	}
	c.view = nil
}

func (c *Client) sendMessage(in InboundFrame) {
	msg, err := c.svc.SendMessage(c.ctx, SendCommand{
		ConversationID: in.ConversationID,
		ListingID:      in.ListingID,
		SenderID:       c.UserID,
		Text:           in.Content,
	})
	if err != nil {
		c.sendError(in.ConversationID, err)
		return
	}
	c.enqueue(OutboundFrame{Type: FrameSent, ConversationID: msg.ConversationID, Message: msg})
}

func (c *Client) sendError(conversationID string, err error) {
	c.enqueue(OutboundFrame{Type: FrameError, ConversationID: conversationID, Error: toAppError(err)})
}

func toAppError(err error) *apperr.AppError {
	return &apperr.AppError{Code: apperr.CodeOf(err), Message: apperr.MessageOf(err)}
}

// enqueue never blocks; a client that stops reading loses frames rather than
// stalling the view pump.
func (c *Client) enqueue(f OutboundFrame) {
	payload, err := json.Marshal(f)
	if err != nil {
		c.log.Errorw("marshal frame failed", "type", f.Type, "err", err)
		return
	}
	select {
	case c.Send <- payload:
	default:
		c.log.Warnw("client send buffer full, dropping frame", "user_id", c.UserID, "type", f.Type)
	}
}

// WritePump writes queued frames and keeps the connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// One frame per websocket message; clients parse each as JSON.
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
