// Package wsport adapts coordinator.MessagePort onto gorilla/websocket
// connections, one per peer. Grounded on the go-broker example's Client
// reader/writer pump pair (each connection owns a read goroutine and a
// write goroutine fed by a buffered send channel, with periodic ping
// control frames extending a read deadline via SetPongHandler) -- adapted
// from that example's JSON text-frame protocol to this module's own binary
// [u32 len][u8 type][payload] framing (protocol.WriteFrame/ReadFrame), so
// frames are sent as websocket.BinaryMessage rather than TextMessage.
package wsport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/neutrinographics/gossip-sub004/coordinator"
	"github.com/neutrinographics/gossip-sub004/model"
)

const (
	writeWait        = 10 * time.Second
	pongWait         = 30 * time.Second
	pingInterval     = pongWait * 9 / 10
	sendBufferSize   = 256
	incomingBuffer   = 256
	maxFrameBytes    = 32768
	handshakeTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  maxFrameBytes,
	WriteBufferSize: maxFrameBytes,
}

// Port is a coordinator.MessagePort backed by one websocket connection per
// peer NodeId. Connections are established either by Accept (an inbound
// HTTP upgrade) or Dial (an outbound connection this process initiates);
// the connecting peer sends a one-message identity handshake -- its
// NodeId as raw bytes -- which the accepting side reads before any framed
// protocol traffic.
type Port struct {
	local model.NodeId

	mu    sync.Mutex
	conns map[model.NodeId]*peerConn

	incoming chan coordinator.InboundMessage
	closed   bool
}

type peerConn struct {
	peer model.NodeId
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

// NewPort returns a Port identifying outbound connections as local.
func NewPort(local model.NodeId) *Port {
	return &Port{
		local:    local,
		conns:    make(map[model.NodeId]*peerConn),
		incoming: make(chan coordinator.InboundMessage, incomingBuffer),
	}
}

// Accept upgrades an incoming HTTP request to a websocket connection,
// reads the remote peer's identity handshake, and registers the
// connection. Wire it behind an http.Handler's ServeHTTP.
func (p *Port) Accept(w http.ResponseWriter, r *http.Request) error {
	var conn, err = upgrader.Upgrade(w, r, nil)
	if err != nil {
		return errors.WithMessage(err, "websocket upgrade")
	}
	return p.adopt(conn)
}

// Dial opens an outbound websocket connection to url and registers it
// under peer, sending this Port's local identity as the handshake.
func (p *Port) Dial(ctx context.Context, url string, peer model.NodeId) error {
	var dialer = websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	var conn, _, err = dialer.DialContext(ctx, url, nil)
	if err != nil {
		return errors.WithMessagef(err, "websocket dial %s", url)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, []byte(p.local)); err != nil {
		_ = conn.Close()
		return errors.WithMessage(err, "send identity handshake")
	}
	return p.register(peer, conn)
}

func (p *Port) adopt(conn *websocket.Conn) error {
	if err := conn.SetReadDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		_ = conn.Close()
		return errors.WithMessage(err, "set handshake read deadline")
	}
	var _, msg, err = conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return errors.WithMessage(err, "read identity handshake")
	}
	return p.register(model.NodeId(msg), conn)
}

func (p *Port) register(peer model.NodeId, conn *websocket.Conn) error {
	var pc = &peerConn{peer: peer, conn: conn, send: make(chan []byte, sendBufferSize), done: make(chan struct{})}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = conn.Close()
		return errors.New("port is closed")
	}
	if existing, ok := p.conns[peer]; ok {
		close(existing.done)
		_ = existing.conn.Close()
	}
	p.conns[peer] = pc
	p.mu.Unlock()

	go p.readPump(pc)
	go p.writePump(pc)
	return nil
}

func (p *Port) readPump(pc *peerConn) {
	defer p.drop(pc)
	_ = pc.conn.SetReadDeadline(time.Now().Add(pongWait))
	pc.conn.SetPongHandler(func(string) error {
		return pc.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var messageType, payload, err = pc.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.WithFields(log.Fields{"peer": pc.peer, "error": err}).Warn("websocket read error")
			}
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}

		var receivedAtMs = uint64(time.Now().UnixMilli())
		var inbound = coordinator.InboundMessage{Sender: pc.peer, Bytes: payload, ReceivedAtMs: receivedAtMs}
		select {
		case p.incoming <- inbound:
		case <-pc.done:
			return
		}
	}
}

func (p *Port) writePump(pc *peerConn) {
	var ticker = time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer p.drop(pc)

	for {
		select {
		case payload, ok := <-pc.send:
			if !ok {
				_ = pc.conn.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(writeWait))
				return
			}
			if err := pc.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := pc.conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
				log.WithFields(log.Fields{"peer": pc.peer, "error": err}).Warn("websocket write error")
				return
			}
		case <-ticker.C:
			if err := pc.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-pc.done:
			return
		}
	}
}

func (p *Port) drop(pc *peerConn) {
	p.mu.Lock()
	if p.conns[pc.peer] == pc {
		delete(p.conns, pc.peer)
	}
	p.mu.Unlock()
	_ = pc.conn.Close()
}

// Send implements coordinator.MessagePort: best-effort and non-blocking. It
// returns an error, without queuing payload, if peer has no live
// connection or its send buffer is full.
func (p *Port) Send(to model.NodeId, payload []byte) error {
	p.mu.Lock()
	var pc, ok = p.conns[to]
	p.mu.Unlock()
	if !ok {
		return errors.Errorf("no connection to peer %s", to)
	}

	select {
	case pc.send <- payload:
		return nil
	default:
		return errors.Errorf("send buffer full for peer %s", to)
	}
}

// Incoming implements coordinator.MessagePort.
func (p *Port) Incoming() <-chan coordinator.InboundMessage { return p.incoming }

// Close implements coordinator.MessagePort, tearing down every connection.
func (p *Port) Close() error {
	p.mu.Lock()
	p.closed = true
	var conns = p.conns
	p.conns = make(map[model.NodeId]*peerConn)
	p.mu.Unlock()

	for _, pc := range conns {
		close(pc.done)
		_ = pc.conn.Close()
	}
	return nil
}
