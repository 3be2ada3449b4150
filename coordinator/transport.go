package coordinator

import (
	"github.com/pkg/errors"

	"github.com/neutrinographics/gossip-sub004/model"
	"github.com/neutrinographics/gossip-sub004/protocol"
)

// MessagePort is the transport capability the Coordinator consumes (spec
// §6.2): best-effort delivery, FIFO per sender, silent drop on unknown
// destination. transport/wsport and transport/grpcport are reference
// adapters implementing this over a real network.
type MessagePort interface {
	Send(to model.NodeId, payload []byte) error
	Incoming() <-chan InboundMessage
	Close() error
}

// InboundMessage is one frame delivered by a MessagePort, together with the
// Coordinator's local receipt time.
type InboundMessage struct {
	Sender       model.NodeId
	Bytes        []byte
	ReceivedAtMs uint64
}

// portAdapter turns a raw MessagePort into the typed Transport interfaces
// swim.Detector and antientropy.Engine depend on, encoding each outbound
// message with protocol.Encode before handing it to the port. Neither
// component needs to know about framing or compression; this is the one
// seam where protocol bytes meet the wire.
type portAdapter struct {
	port MessagePort
}

func (a *portAdapter) send(to model.NodeId, msgType protocol.MessageType, msg any) error {
	var frame, err = protocol.Encode(msgType, msg)
	if err != nil {
		return errors.WithMessagef(err, "encode %s", msgType)
	}
	return a.port.Send(to, frame)
}

func (a *portAdapter) SendPing(to model.NodeId, msg protocol.Ping) error {
	return a.send(to, protocol.TypePing, msg)
}

func (a *portAdapter) SendAck(to model.NodeId, msg protocol.Ack) error {
	return a.send(to, protocol.TypeAck, msg)
}

func (a *portAdapter) SendPingReq(to model.NodeId, msg protocol.PingReq) error {
	return a.send(to, protocol.TypePingReq, msg)
}

func (a *portAdapter) SendDigestRequest(to model.NodeId, msg protocol.DigestRequest) error {
	return a.send(to, protocol.TypeDigestRequest, msg)
}

func (a *portAdapter) SendDigestResponse(to model.NodeId, msg protocol.DigestResponse) error {
	return a.send(to, protocol.TypeDigestResponse, msg)
}

func (a *portAdapter) SendDeltaRequest(to model.NodeId, msg protocol.DeltaRequest) error {
	return a.send(to, protocol.TypeDeltaRequest, msg)
}

func (a *portAdapter) SendDeltaResponse(to model.NodeId, msg protocol.DeltaResponse) error {
	return a.send(to, protocol.TypeDeltaResponse, msg)
}
