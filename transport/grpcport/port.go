package grpcport

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/neutrinographics/gossip-sub004/coordinator"
	"github.com/neutrinographics/gossip-sub004/model"
)

const (
	sendBufferSize = 256
	incomingBuffer = 256
)

// Port is a coordinator.MessagePort backed by one bidirectional gRPC stream
// per peer NodeId, grounded on the teacher's client/reader.go Reader (a
// RecvMsg loop over a long-lived stream, with a note that any non-nil,
// non-EOF error invalidates and tears the stream down) and
// consumer/service.go's bare *grpc.ClientConn field.
type Port struct {
	local model.NodeId

	mu    sync.Mutex
	peers map[model.NodeId]*peerStream
	dials map[model.NodeId]*grpc.ClientConn

	incoming chan coordinator.InboundMessage
	server   *grpc.Server
	closed   bool
}

// rawStream is the subset of grpc.ClientStream/grpc.ServerStream this
// package needs; both satisfy it structurally, so peerStream never has to
// name either concrete interface.
type rawStream interface {
	SendMsg(m any) error
	RecvMsg(m any) error
}

type peerStream struct {
	peer   model.NodeId
	stream rawStream
	send   chan []byte
	done   chan struct{}
}

// NewPort returns a Port whose outbound streams identify as local.
func NewPort(local model.NodeId) *Port {
	return &Port{
		local:    local,
		peers:    make(map[model.NodeId]*peerStream),
		dials:    make(map[model.NodeId]*grpc.ClientConn),
		incoming: make(chan coordinator.InboundMessage, incomingBuffer),
	}
}

// Serve starts accepting inbound peer streams on lis and blocks until the
// server stops (ServeForever-style, matching how consumer/service.go's
// caller owns the process lifecycle rather than the Service itself).
func (p *Port) Serve(lis net.Listener) error {
	p.mu.Lock()
	p.server = grpc.NewServer(
		grpc.ForceServerCodec(rawFrameCodec{}),
		grpc.UnknownServiceHandler(p.handleStream),
	)
	var srv = p.server
	p.mu.Unlock()

	return srv.Serve(lis)
}

// Dial opens an outbound stream to target and registers it under peer,
// sending this Port's local identity as the handshake's first frame.
func (p *Port) Dial(ctx context.Context, target string, peer model.NodeId) error {
	var cc, err = grpc.DialContext(ctx, target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return errors.WithMessagef(err, "grpc dial %s", target)
	}

	var stream grpc.ClientStream
	stream, err = cc.NewStream(ctx, &grpc.StreamDesc{StreamName: "Exchange", ServerStreams: true, ClientStreams: true},
		exchangeMethod, grpc.CallContentSubtype(rawFrameCodecName))
	if err != nil {
		_ = cc.Close()
		return errors.WithMessagef(err, "open stream to %s", target)
	}

	var idBytes = []byte(p.local)
	if err := stream.SendMsg(&idBytes); err != nil {
		_ = cc.Close()
		return errors.WithMessage(err, "send identity handshake")
	}

	p.mu.Lock()
	p.dials[peer] = cc
	p.mu.Unlock()

	p.adopt(peer, stream)
	return nil
}

// handleStream is the grpc.UnknownServiceHandler invoked for every inbound
// stream (there being no generated service to route to). It reads the
// handshake frame to learn the remote peer's NodeId before joining the
// ordinary read/write pumps.
func (p *Port) handleStream(srv any, stream grpc.ServerStream) error {
	var idBytes []byte
	if err := stream.RecvMsg(&idBytes); err != nil {
		return errors.WithMessage(err, "read identity handshake")
	}
	p.adopt(model.NodeId(idBytes), stream)
	return nil
}

func (p *Port) adopt(peer model.NodeId, stream rawStream) {
	var ps = &peerStream{peer: peer, stream: stream, send: make(chan []byte, sendBufferSize), done: make(chan struct{})}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	if existing, ok := p.peers[peer]; ok {
		close(existing.done)
	}
	p.peers[peer] = ps
	p.mu.Unlock()

	go p.writePump(ps)
	p.readPump(ps) // blocks for the lifetime of the stream
}

func (p *Port) readPump(ps *peerStream) {
	defer p.drop(ps)
	for {
		var payload []byte
		if err := ps.stream.RecvMsg(&payload); err != nil {
			if !errors.Is(err, context.Canceled) {
				log.WithFields(log.Fields{"peer": ps.peer, "error": err}).Debug("grpc stream closed")
			}
			return
		}

		var framed = append([]byte(nil), payload...)
		var inbound = coordinator.InboundMessage{Sender: ps.peer, Bytes: framed, ReceivedAtMs: uint64(time.Now().UnixMilli())}
		select {
		case p.incoming <- inbound:
		case <-ps.done:
			return
		}
	}
}

func (p *Port) writePump(ps *peerStream) {
	for {
		select {
		case payload, ok := <-ps.send:
			if !ok {
				return
			}
			if err := ps.stream.SendMsg(&payload); err != nil {
				log.WithFields(log.Fields{"peer": ps.peer, "error": err}).Warn("grpc stream send error")
				return
			}
		case <-ps.done:
			return
		}
	}
}

func (p *Port) drop(ps *peerStream) {
	p.mu.Lock()
	if p.peers[ps.peer] == ps {
		delete(p.peers, ps.peer)
	}
	var cc = p.dials[ps.peer]
	delete(p.dials, ps.peer)
	p.mu.Unlock()

	if cc != nil {
		_ = cc.Close()
	}
}

// Send implements coordinator.MessagePort: best-effort and non-blocking. It
// returns an error, without queuing payload, if peer has no live stream or
// its send buffer is full.
func (p *Port) Send(to model.NodeId, payload []byte) error {
	p.mu.Lock()
	var ps, ok = p.peers[to]
	p.mu.Unlock()
	if !ok {
		return errors.Errorf("no stream to peer %s", to)
	}

	select {
	case ps.send <- payload:
		return nil
	default:
		return errors.Errorf("send buffer full for peer %s", to)
	}
}

// Incoming implements coordinator.MessagePort.
func (p *Port) Incoming() <-chan coordinator.InboundMessage { return p.incoming }

// Close implements coordinator.MessagePort, tearing down every stream and
// stopping the inbound server, if one was started.
func (p *Port) Close() error {
	p.mu.Lock()
	p.closed = true
	var peers = p.peers
	var dials = p.dials
	var server = p.server
	p.peers = make(map[model.NodeId]*peerStream)
	p.dials = make(map[model.NodeId]*grpc.ClientConn)
	p.mu.Unlock()

	for _, ps := range peers {
		close(ps.done)
	}
	for _, cc := range dials {
		_ = cc.Close()
	}
	if server != nil {
		server.GracefulStop()
	}
	return nil
}
