// Package rtmp wires the protocol-level session core into the stream bus:
// it turns publish/close callbacks into bus attach/detach calls (play is
// only logged) and runs the TCP accept loop.
package rtmp

import (
	"rtmpforge/internal/core/bus"
	rtmpcore "rtmpforge/internal/core/protocol/rtmp"
)

// Publisher forwards a publishing session's audio/video/metadata into its
// bus stream.
type Publisher struct {
	stream      *bus.Stream
	streamKey   bus.StreamKey
	publisherID uint64
}

func NewPublisher(stream *bus.Stream, publisherID uint64) *Publisher {
	return &Publisher{
		stream:      stream,
		streamKey:   stream.Key(),
		publisherID: publisherID,
	}
}

func (p *Publisher) PublishAudio(timestamp uint32, payload []byte) {
	msg := bus.AcquireMessage()
	msg.Type = bus.MessageTypeAudio
	msg.Timestamp = timestamp
	msg.SetPayload(payload)
	p.stream.Publish(msg)
}

func (p *Publisher) PublishVideo(timestamp uint32, payload []byte) {
	msg := bus.AcquireMessage()
	msg.Type = bus.MessageTypeVideo
	msg.Timestamp = timestamp
	msg.SetPayload(payload)
	p.stream.Publish(msg)
}

func (p *Publisher) PublishMetadata(timestamp uint32, payload []byte) {
	msg := bus.AcquireMessage()
	msg.Type = bus.MessageTypeMetadata
	msg.Timestamp = timestamp
	msg.SetPayload(payload)
	p.stream.Publish(msg)
}

func (p *Publisher) Detach() {
	if p.stream != nil {
		p.stream.DetachPublisher()
	}
}

func (p *Publisher) StreamKey() bus.StreamKey {
	return p.streamKey
}

// avMessageType maps a core Header's message type id to the bus's media
// message type, used by the AV-data callback.
func avMessageType(header rtmpcore.Header) bus.MessageType {
	switch header.MsgTypeID {
	case rtmpcore.MessageTypeAudio:
		return bus.MessageTypeAudio
	case rtmpcore.MessageTypeVideo:
		return bus.MessageTypeVideo
	default:
		return bus.MessageTypeMetadata
	}
}
