package chat

import (
	"encoding/json"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"

	"market-stream/internal/models"
)

const maxMessageSize = 64 * 1024

var peerSeq atomic.Int64

// Client adapts a raw websocket connection to the Peer interface: a
// buffered send queue drained by a write pump, and a read pump that parses
// inbound frames and hands them to the gateway.
type Client struct {
	id       int64
	identity models.Identity
	conn     net.Conn
	gateway  *Gateway
	send     chan []byte
	pongs    chan []byte
	logger   *zap.Logger

	sendMu sync.Mutex
	closed bool

	writeWait  time.Duration
	pongWait   time.Duration
	pingPeriod time.Duration
}

func NewClient(conn net.Conn, identity models.Identity, g *Gateway, logger *zap.Logger) *Client {
	return &Client{
		id:         peerSeq.Add(1),
		identity:   identity,
		conn:       conn,
		gateway:    g,
		send:       make(chan []byte, 64),
		pongs:      make(chan []byte, 4),
		logger:     logger,
		writeWait:  5 * time.Second,
		pongWait:   60 * time.Second,
		pingPeriod: 50 * time.Second,
	}
}

func (p *Client) Start() {
	go p.writePump()
	go p.readPump()
}

func (p *Client) ID() int64                 { return p.id }
func (p *Client) Identity() models.Identity { return p.identity }

// Close only closes the send queue; the write pump closes the socket.
func (p *Client) Close() {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.send)
	}
}

// SendJSON queues a frame without blocking. A peer that cannot drain its
// queue loses frames, never stalls the sender. The gateway may still hold a
// snapshot containing a peer that already closed, so a send after Close has
// to be a silent no-op rather than a panic.
func (p *Client) SendJSON(v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}

	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.send <- b:
	default:
		p.logger.Warn("Dropping chat frame for slow peer", zap.String("email", p.identity.Email))
	}
}

func (p *Client) readPump() {
	defer func() {
		p.gateway.Leave(p)
		p.Close()
		p.conn.Close()
	}()

	p.conn.SetReadDeadline(time.Now().Add(p.pongWait))

	for {
		header, err := ws.ReadHeader(p.conn)
		if err != nil {
			return
		}

		if header.Length > maxMessageSize {
			p.logger.Warn("Chat message too big", zap.Int64("size", header.Length))
			return
		}
		if !header.Fin {
			p.logger.Warn("Fragmented chat frames are not supported")
			return
		}

		payload := make([]byte, header.Length)
		if _, err := io.ReadFull(p.conn, payload); err != nil {
			return
		}
		if header.Masked {
			ws.Cipher(payload, header.Mask, 0)
		}

		switch header.OpCode {
		case ws.OpClose:
			return
		case ws.OpPing:
			// The write pump owns the socket; writing the pong here
			// could interleave with a text frame in flight.
			select {
			case p.pongs <- payload:
			default:
			}
		case ws.OpPong:
			p.conn.SetReadDeadline(time.Now().Add(p.pongWait))
		case ws.OpText:
			p.handleFrame(payload)
		}
	}
}

func (p *Client) handleFrame(payload []byte) {
	var frame Frame
	if err := json.Unmarshal(payload, &frame); err != nil {
		p.SendJSON(outFrame{Event: EventError, Data: "invalid JSON frame"})
		return
	}

	switch frame.Event {
	case EventMessage:
		var msg MessagePayload
		if err := json.Unmarshal(frame.Data, &msg); err != nil {
			p.SendJSON(outFrame{Event: EventError, Data: "invalid message payload"})
			return
		}
		p.gateway.HandleMessage(p, msg)
	default:
		p.SendJSON(outFrame{Event: EventError, Data: "unknown event: " + frame.Event})
	}
}

func (p *Client) writePump() {
	ticker := time.NewTicker(p.pingPeriod)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(p.writeWait))
			if !ok {
				p.conn.Write(ws.CompiledClose)
				return
			}
			if err := wsutil.WriteServerText(p.conn, msg); err != nil {
				return
			}

		case payload := <-p.pongs:
			p.conn.SetWriteDeadline(time.Now().Add(p.writeWait))
			if err := wsutil.WriteServerMessage(p.conn, ws.OpPong, payload); err != nil {
				return
			}

		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(p.writeWait))
			if err := wsutil.WriteServerMessage(p.conn, ws.OpPing, nil); err != nil {
				return
			}
		}
	}
}
