// Package ws is the spectator WebSocket gateway: live fan-out of
// competition, tournament, and meta-market events from internal/events.Bus,
// plus two narrow client-originated mutations (vote:cast, chat:message).
package ws

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ocx/backend/internal/config"
	"github.com/ocx/backend/internal/events"
	"github.com/ocx/backend/internal/monitoring"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
)

// InboundMessage is the wire envelope for client-originated WebSocket
// traffic: vote:cast and chat:message are the only mutations a spectator
// connection may send; everything else flows server -> client only.
type InboundMessage struct {
	Type    string          `json:"type"`
	Room    string          `json:"room"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// VoteCastPayload is the body of a vote:cast message: a spectator's bet
// against a meta-market outcome.
type VoteCastPayload struct {
	MarketID  string  `json:"market_id"`
	OutcomeID string  `json:"outcome_id"`
	Side      string  `json:"side"` // "yes" or "no"
	Amount    float64 `json:"amount"`
}

// ChatMessagePayload is the body of a chat:message message.
type ChatMessagePayload struct {
	Text string `json:"text"`
}

// VoteHandler processes a spectator's vote:cast message. Returning an error
// sends an error frame back to that client only.
type VoteHandler func(agentID string, vote VoteCastPayload) error

// Gateway upgrades HTTP connections into spectator WebSocket clients,
// admits them per the configured per-IP caps, subscribes each to the event
// bus, and replays recent history on join so a reconnecting client doesn't
// lose ground lost while offline.
type Gateway struct {
	cfg     config.WebSocketConfig
	bus     *events.Bus
	metrics *monitoring.Metrics
	logger  *log.Logger

	upgrader websocket.Upgrader
	conns    *connCounter
	connRate *rateLimiter
	voteRate *rateLimiter
	chatRate *rateLimiter

	onVote VoteHandler

	mu      sync.RWMutex
	clients map[*client]bool
}

// NewGateway builds a Gateway wired to bus for live fan-out and history
// replay. onVote may be nil, in which case vote:cast messages are
// acknowledged but discarded.
func NewGateway(cfg config.WebSocketConfig, bus *events.Bus, metrics *monitoring.Metrics, onVote VoteHandler) *Gateway {
	return &Gateway{
		cfg:     cfg,
		bus:     bus,
		metrics: metrics,
		logger:  log.New(log.Writer(), "[WS] ", log.LstdFlags),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		conns:    newConnCounter(),
		connRate: newRateLimiter(cfg.ConnRatePerMin, time.Minute),
		voteRate: newRateLimiter(cfg.VoteRatePer10s, 10*time.Second),
		chatRate: newRateLimiter(cfg.VoteRatePer10s, 10*time.Second),
		onVote:   onVote,
		clients:  make(map[*client]bool),
	}
}

// ServeHTTP upgrades the connection and runs the spectator loop. A
// connection is admitted regardless of whether it carries a bearer token —
// unauthenticated spectators may watch and chat, but vote:cast without a
// resolvable agent identity is rejected at the handler, not at the door.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)

	if !g.connRate.allow(ip) {
		if g.metrics != nil {
			g.metrics.RecordWSRejected("rate_limit")
		}
		http.Error(w, "connection rate limit exceeded", http.StatusTooManyRequests)
		return
	}
	maxPerIP := g.cfg.MaxConnPerIP
	if maxPerIP <= 0 {
		maxPerIP = 10
	}
	if !g.conns.tryAcquire(ip, maxPerIP) {
		if g.metrics != nil {
			g.metrics.RecordWSRejected("ip_cap")
		}
		http.Error(w, "too many connections from this address", http.StatusTooManyRequests)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.conns.release(ip)
		g.logger.Printf("upgrade failed: %v", err)
		return
	}

	agentID := bearerAgentID(r)
	room := r.URL.Query().Get("room")

	c := &client{
		gateway: g,
		conn:    conn,
		ip:      ip,
		agentID: agentID,
		room:    room,
		send:    make(chan []byte, 64),
		done:    make(chan struct{}),
	}

	g.mu.Lock()
	g.clients[c] = true
	g.mu.Unlock()
	if g.metrics != nil {
		g.metrics.SetWSConnections(g.clientCount())
	}

	c.start()
}

func (g *Gateway) clientCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.clients)
}

func (g *Gateway) removeClient(c *client) {
	g.mu.Lock()
	delete(g.clients, c)
	g.mu.Unlock()
	g.conns.release(c.ip)
	if g.metrics != nil {
		g.metrics.SetWSConnections(g.clientCount())
	}
}

// Close stops the gateway's background rate-limiter goroutines. It does
// not close existing client connections.
func (g *Gateway) Close() {
	g.connRate.close()
	g.voteRate.close()
	g.chatRate.close()
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func bearerAgentID(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(auth, prefix))
}

// roomMatches reports whether event belongs in room. competition:{id} and
// tournament:{id} rooms both key off the event's CompetitionID (a
// tournament's events are its constituent competitions' events); market:{id}
// rooms key off a market_id field in the event payload, since CloudEvent
// carries no first-class market identifier.
func roomMatches(room string, ev *events.CloudEvent) bool {
	if room == "" {
		return true
	}
	kind, id, ok := strings.Cut(room, ":")
	if !ok {
		return false
	}
	switch kind {
	case "competition", "tournament":
		return ev.CompetitionID == id
	case "market":
		mid, _ := ev.Data["market_id"].(string)
		return mid == id
	default:
		return false
	}
}

// historyFilter derives an events.HistoryFilter for a room's catchup replay.
func historyFilter(room string) events.HistoryFilter {
	kind, id, ok := strings.Cut(room, ":")
	if !ok || kind == "market" {
		return events.HistoryFilter{}
	}
	return events.HistoryFilter{CompetitionID: id}
}
