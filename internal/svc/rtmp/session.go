package rtmp

import (
	"io"
	"log"
	"sync/atomic"

	"rtmpforge/internal/core/bus"
	"rtmpforge/internal/core/protocol/amf0"
	rtmpcore "rtmpforge/internal/core/protocol/rtmp"
)

var nextPublisherID uint64

// NewServiceSession builds a core Session for conn and wires its six
// callbacks into the stream registry: publish attaches a Publisher to the
// app/stream's bus.Stream, AV data and metadata forward into that
// Publisher, and close detaches it and drops the stream if it's left
// empty.
func NewServiceSession(conn io.ReadWriteCloser, registry *bus.Registry, cfg rtmpcore.Config) *rtmpcore.Session {
	session := rtmpcore.NewSessionWithConfig(conn, cfg)
	var publisher *Publisher

	session.SetPublishCallback(func(s *rtmpcore.Session) {
		key := bus.NewStreamKey(s.App(), s.StreamName())
		stream, _ := registry.GetOrCreate(key)
		id := atomic.AddUint64(&nextPublisherID, 1)
		if !stream.AttachPublisher(id) {
			log.Printf("rtmp: publish rejected, stream %s already has a publisher", key)
			s.Close()
			return
		}
		publisher = NewPublisher(stream, id)
		log.Printf("rtmp: publish start app=%s stream=%s", s.App(), s.StreamName())
	})

	session.SetPlayCallback(func(s *rtmpcore.Session) {
		log.Printf("rtmp: play start app=%s stream=%s", s.App(), s.StreamName())
	})

	session.SetPublishStopCallback(func(s *rtmpcore.Session) {
		log.Printf("rtmp: publish stop app=%s stream=%s", s.App(), s.StreamName())
	})

	session.SetMetadataCallback(func(s *rtmpcore.Session, raw []byte, meta []byte, metaLen int, values amf0.Object) {
		if publisher != nil {
			publisher.PublishMetadata(0, meta)
		}
	})

	session.SetAVDataCallback(func(s *rtmpcore.Session, payload []byte, header rtmpcore.Header) {
		if publisher == nil {
			return
		}
		switch avMessageType(header) {
		case bus.MessageTypeAudio:
			publisher.PublishAudio(header.Timestamp, payload)
		case bus.MessageTypeVideo:
			publisher.PublishVideo(header.Timestamp, payload)
		}
	})

	session.SetCloseCallback(func(s *rtmpcore.Session) {
		if publisher != nil {
			publisher.Detach()
			registry.RemoveIfEmpty(publisher.StreamKey())
		}
		log.Printf("rtmp: session closed app=%s stream=%s", s.App(), s.StreamName())
	})

	return session
}
