package chat

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"market-stream/internal/models"
)

// Server->client and client->server event names.
const (
	EventUsers   = "users"
	EventMessage = "message"
	EventError   = "error"
)

// Peer is one live authenticated connection. The websocket adapter
// implements it; tests substitute mocks.
type Peer interface {
	ID() int64
	Identity() models.Identity
	SendJSON(v interface{})
	Close()
}

// Frame is the wire envelope on the bidirectional channel.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type outFrame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// MessagePayload is an inbound chat message.
type MessagePayload struct {
	To      string `json:"to"`
	From    string `json:"from"`
	Message string `json:"message"`
}

// Gateway maintains the live connection<->identity map and broadcasts a
// fresh presence snapshot on every join and leave. It owns no delivery I/O;
// peers queue their own frames.
type Gateway struct {
	mu    sync.RWMutex
	peers map[int64]Peer

	store  *Store
	logger *zap.Logger
}

func NewGateway(store *Store, logger *zap.Logger) *Gateway {
	return &Gateway{
		peers:  make(map[int64]Peer),
		store:  store,
		logger: logger,
	}
}

// Join binds an authenticated connection, records the identity in the
// durable roster, and announces the new presence state to everyone.
func (g *Gateway) Join(p Peer) {
	if err := g.store.AddIdentity(p.Identity()); err != nil {
		g.logger.Error("Failed to persist roster entry", zap.String("email", p.Identity().Email), zap.Error(err))
	}

	g.mu.Lock()
	g.peers[p.ID()] = p
	count := len(g.peers)
	g.mu.Unlock()

	g.logger.Info("Chat peer joined", zap.String("email", p.Identity().Email), zap.Int("online", count))
	g.broadcastPresence()
}

// Leave removes the connection and re-announces presence. Safe to call for
// a peer that already left.
func (g *Gateway) Leave(p Peer) {
	g.mu.Lock()
	_, ok := g.peers[p.ID()]
	if ok {
		delete(g.peers, p.ID())
	}
	count := len(g.peers)
	g.mu.Unlock()

	if !ok {
		return
	}
	g.logger.Info("Chat peer left", zap.String("email", p.Identity().Email), zap.Int("online", count))
	g.broadcastPresence()
}

// HandleMessage persists an inbound message and routes it: every live
// connection of the recipient gets a copy, and the sender's own connection
// gets an echo reflecting the durable write.
func (g *Gateway) HandleMessage(sender Peer, payload MessagePayload) {
	if payload.From != sender.Identity().Email {
		sender.SendJSON(outFrame{Event: EventError, Data: "sender does not match authenticated identity"})
		return
	}

	msg, err := g.store.Append(payload.From, payload.To, payload.Message)
	if err != nil {
		g.logger.Error("Failed to persist chat message",
			zap.String("from", payload.From), zap.String("to", payload.To), zap.Error(err))
		sender.SendJSON(outFrame{Event: EventError, Data: "message could not be stored"})
		return
	}

	g.mu.RLock()
	recipients := make([]Peer, 0, 2)
	for _, peer := range g.peers {
		if peer.Identity().Email == payload.To && peer.ID() != sender.ID() {
			recipients = append(recipients, peer)
		}
	}
	g.mu.RUnlock()

	frame := outFrame{Event: EventMessage, Data: msg}
	for _, peer := range recipients {
		peer.SendJSON(frame)
	}
	sender.SendJSON(frame)
}

// PresenceSnapshot derives the full presence view fresh from current state:
// every roster identity, flagged online iff it has at least one live
// connection right now.
func (g *Gateway) PresenceSnapshot() []models.PresenceEntry {
	online := make(map[string]bool)
	g.mu.RLock()
	for _, peer := range g.peers {
		online[peer.Identity().Email] = true
	}
	g.mu.RUnlock()

	roster := g.store.Roster()
	snapshot := make([]models.PresenceEntry, 0, len(roster))
	for _, identity := range roster {
		snapshot = append(snapshot, models.PresenceEntry{
			Email:  identity.Email,
			Name:   identity.Name,
			Online: online[identity.Email],
		})
	}
	return snapshot
}

func (g *Gateway) broadcastPresence() {
	frame := outFrame{Event: EventUsers, Data: g.PresenceSnapshot()}

	g.mu.RLock()
	peers := make([]Peer, 0, len(g.peers))
	for _, peer := range g.peers {
		peers = append(peers, peer)
	}
	g.mu.RUnlock()

	for _, peer := range peers {
		peer.SendJSON(frame)
	}
}
