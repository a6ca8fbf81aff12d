package ws

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ocx/backend/internal/events"
)

// client is one spectator WebSocket connection: a room subscription, a
// buffered outbound queue, and the ping/pong keepalive loop.
type client struct {
	gateway *Gateway
	conn    *websocket.Conn

	ip      string
	agentID string
	room    string

	send chan []byte
	done chan struct{}

	subCh  chan *events.CloudEvent
	subTok int64
}

// outboundFrame is the wire envelope for every server -> client message.
type outboundFrame struct {
	Type  string      `json:"type"`
	Room  string      `json:"room,omitempty"`
	Event interface{} `json:"event,omitempty"`
	Error string      `json:"error,omitempty"`
}

func (c *client) start() {
	if c.gateway.bus != nil {
		c.subCh, c.subTok = c.gateway.bus.Subscribe(64)
	}

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.writePump()
	c.sendCatchup()
	c.readPump() // blocks until the connection closes
}

// sendCatchup replays recent history for the client's room so a
// reconnecting spectator isn't left with a gap.
func (c *client) sendCatchup() {
	if c.gateway.bus == nil || c.room == "" {
		return
	}
	for _, ev := range c.gateway.bus.History(historyFilter(c.room)) {
		if !roomMatches(c.room, ev) {
			continue
		}
		c.enqueue(outboundFrame{Type: "catchup", Room: c.room, Event: ev})
	}
}

func (c *client) enqueue(frame outboundFrame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		return
	}
	select {
	case c.send <- payload:
	default:
		// Outbound queue full: drop rather than block the fan-out loop.
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		if c.subCh != nil {
			c.gateway.bus.Unsubscribe(c.subTok)
		}
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case ev, ok := <-c.subCh:
			if !ok {
				return
			}
			if roomMatches(c.room, ev) {
				c.enqueue(outboundFrame{Type: "event", Room: c.room, Event: ev})
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *client) readPump() {
	defer func() {
		close(c.done)
		c.gateway.removeClient(c)
		c.conn.Close()
	}()

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg InboundMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.enqueue(outboundFrame{Type: "error", Error: "malformed message"})
			continue
		}
		if msg.Room != "" {
			c.room = msg.Room
		}
		c.handle(msg)
	}
}

func (c *client) handle(msg InboundMessage) {
	switch msg.Type {
	case "vote:cast":
		c.handleVote(msg.Payload)
	case "chat:message":
		c.handleChat(msg.Payload)
	case "catchup":
		c.sendCatchup()
	default:
		c.enqueue(outboundFrame{Type: "error", Error: "unknown message type: " + msg.Type})
	}
}

func (c *client) handleVote(payload []byte) {
	if !c.gateway.voteRate.allow(c.ip + ":" + c.agentID) {
		c.enqueue(outboundFrame{Type: "vote:rejected", Error: "rate limit exceeded"})
		return
	}
	if c.agentID == "" {
		c.enqueue(outboundFrame{Type: "vote:rejected", Error: "authentication required to vote"})
		return
	}
	var vote VoteCastPayload
	if err := json.Unmarshal(payload, &vote); err != nil {
		c.enqueue(outboundFrame{Type: "vote:rejected", Error: "malformed vote payload"})
		return
	}
	if c.gateway.onVote == nil {
		c.enqueue(outboundFrame{Type: "vote:accepted"})
		return
	}
	if err := c.gateway.onVote(c.agentID, vote); err != nil {
		c.enqueue(outboundFrame{Type: "vote:rejected", Error: err.Error()})
		return
	}
	c.enqueue(outboundFrame{Type: "vote:accepted"})
}

func (c *client) handleChat(payload []byte) {
	if !c.gateway.chatRate.allow(c.ip + ":" + c.agentID) {
		c.enqueue(outboundFrame{Type: "chat:rejected", Error: "rate limit exceeded"})
		return
	}
	var chat ChatMessagePayload
	if err := json.Unmarshal(payload, &chat); err != nil {
		c.enqueue(outboundFrame{Type: "chat:rejected", Error: "malformed chat payload"})
		return
	}
	if c.gateway.bus != nil {
		c.gateway.bus.Emit("chat.message", roomCompetitionID(c.room), map[string]interface{}{
			"agent_id": c.agentID,
			"text":     chat.Text,
			"room":     c.room,
		})
	}
}

// roomCompetitionID extracts the competition id a room's events should be
// tagged with, so chat fanned back out through the bus lands in the same
// room it was sent to.
func roomCompetitionID(room string) string {
	kind, id, ok := splitRoom(room)
	if !ok || kind == "market" {
		return ""
	}
	return id
}

func splitRoom(room string) (kind, id string, ok bool) {
	for i := 0; i < len(room); i++ {
		if room[i] == ':' {
			return room[:i], room[i+1:], true
		}
	}
	return "", "", false
}
