package rtmp

import (
	"bytes"
	"io"
	"log"
	"sync"

	"rtmpforge/internal/core/protocol/amf0"
)

// Role is which side of a NetStream this session has become, decided by
// whichever of publish/play arrives first.
type Role int

const (
	RoleNone Role = iota
	RolePublisher
	RoleSubscriber
)

// Callbacks are the relay-facing extension hooks a session fires as it
// reaches the corresponding protocol milestones. Each setter overwrites
// whatever was registered before it; there is no fan-out to multiple
// listeners.
type Callbacks struct {
	OnPublish     func(s *Session)
	OnPlay        func(s *Session)
	OnPublishStop func(s *Session)
	OnClose       func(s *Session)
	OnMetadata    func(s *Session, raw []byte, meta []byte, metaLen int, values amf0.Object)
	OnAVData      func(s *Session, payload []byte, header Header)
}

// Session is the server-side state of a single RTMP connection: handshake
// through chunk reassembly, command handling, and egress, up to the point
// where a publish or play has been accepted. It is driven by a single
// goroutine (Start spawns it); the only thread-safe entry point from the
// outside is Close, which may be called concurrently to force a
// disconnect.
type Session struct {
	conn io.ReadWriteCloser

	readBuf *ByteBuffer
	parser  *ChunkParser
	egress  *EgressQueue

	localChunkSize uint32
	windowAckSize  uint32
	peerBandwidth  uint32

	app               string
	streamName        string
	role              Role
	createStreamTxnID float64

	callbacks Callbacks

	closeOnce sync.Once
}

// Config overrides the session core's compiled-in design defaults for
// window ack size, peer bandwidth, local chunk size and the maximum
// number of distinct chunk streams a connection may open. A zero field
// keeps the package default.
type Config struct {
	WindowAckSize   uint32
	PeerBandwidth   uint32
	LocalChunkSize  uint32
	MaxChunkStreams int
}

// NewSession wraps conn in a Session using the package's compiled-in
// design defaults. The session does not touch the network until Start
// is called.
func NewSession(conn io.ReadWriteCloser) *Session {
	return NewSessionWithConfig(conn, Config{})
}

// NewSessionWithConfig is like NewSession but lets the caller override
// the design defaults, typically sourced from operator configuration.
func NewSessionWithConfig(conn io.ReadWriteCloser, cfg Config) *Session {
	windowAckSize := cfg.WindowAckSize
	if windowAckSize == 0 {
		windowAckSize = WindowAckSize
	}
	peerBandwidth := cfg.PeerBandwidth
	if peerBandwidth == 0 {
		peerBandwidth = PeerBandwidth
	}
	localChunkSize := cfg.LocalChunkSize
	if localChunkSize == 0 {
		localChunkSize = LocalChunkSize
	}
	maxChunkStreams := cfg.MaxChunkStreams
	if maxChunkStreams == 0 {
		maxChunkStreams = maxDistinctChunkStreams
	}
	return &Session{
		conn:           conn,
		readBuf:        NewByteBuffer(64 * 1024),
		parser:         newChunkParserWithLimit(maxChunkStreams),
		localChunkSize: localChunkSize,
		windowAckSize:  windowAckSize,
		peerBandwidth:  peerBandwidth,
	}
}

func (s *Session) SetPublishCallback(fn func(*Session))     { s.callbacks.OnPublish = fn }
func (s *Session) SetPlayCallback(fn func(*Session))        { s.callbacks.OnPlay = fn }
func (s *Session) SetPublishStopCallback(fn func(*Session)) { s.callbacks.OnPublishStop = fn }
func (s *Session) SetCloseCallback(fn func(*Session))       { s.callbacks.OnClose = fn }
func (s *Session) SetMetadataCallback(fn func(*Session, []byte, []byte, int, amf0.Object)) {
	s.callbacks.OnMetadata = fn
}
func (s *Session) SetAVDataCallback(fn func(*Session, []byte, Header)) { s.callbacks.OnAVData = fn }

func (s *Session) App() string        { return s.app }
func (s *Session) StreamName() string { return s.streamName }
func (s *Session) Role() Role         { return s.role }

// Start performs the handshake and then pumps chunks until the peer
// disconnects, a transport error occurs, or the peer violates the
// protocol. It runs on its own goroutine and always ends by calling
// Close, so OnClose fires exactly once regardless of how the session
// ended.
func (s *Session) Start() {
	go s.run()
}

func (s *Session) run() {
	defer s.Close()

	if err := PerformServerHandshake(s.conn); err != nil {
		log.Printf("rtmp: handshake failed: %v", err)
		return
	}
	s.egress = NewEgressQueue(s.conn)

	if err := s.pump(); err != nil {
		if se, ok := err.(*SessionError); ok && se.Kind != KindPeerClosed {
			log.Printf("rtmp: session ended: %v", se)
		}
	}
}

// pump is the MessageDispatcher's outer read loop: it keeps parsing and
// dispatching complete messages out of readBuf, only falling back to a
// socket Fill when the buffer runs dry or a step is starved mid-header or
// mid-payload.
func (s *Session) pump() error {
	for {
		for s.readBuf.ReadableSize() > 0 {
			msg, needMore, err := s.parser.Next(s.readBuf)
			if err != nil {
				return err
			}
			if needMore {
				break
			}
			if msg != nil {
				if err := s.dispatch(*msg); err != nil {
					return err
				}
			}
		}
		if _, err := s.readBuf.Fill(s.conn); err != nil {
			return classifyIOError(err)
		}
	}
}

func (s *Session) dispatch(msg Message) error {
	switch msg.Header.MsgTypeID {
	case MessageTypeSetChunkSize, MessageTypeAbortMessage, MessageTypeAck,
		MessageTypeWinAckSize, MessageTypeSetPeerBandwidth:
		return s.handleControl(msg)
	case MessageTypeUserCtrl:
		log.Printf("rtmp: user control message, %d bytes, ignored", len(msg.Body))
		return nil
	case MessageTypeAudio, MessageTypeVideo:
		return s.handleAV(msg)
	case MessageTypeDataAMF0:
		return s.handleData(msg)
	case MessageTypeCommandAMF0:
		return s.handleCommand(msg)
	default:
		return newProtocolViolation("unknown message type id %d", msg.Header.MsgTypeID)
	}
}

// handleControl implements the protocol control message handlers. Only
// Set Chunk Size changes session behavior; the rest are logged and
// otherwise ignored, matching the source session's treatment of Abort,
// Ack and Set Peer Bandwidth on the inbound direction.
func (s *Session) handleControl(msg Message) error {
	switch msg.Header.MsgTypeID {
	case MessageTypeSetChunkSize:
		size, err := ParseSetChunkSize(msg.Body)
		if err != nil {
			return newProtocolViolation("set chunk size: %v", err)
		}
		s.parser.SetPeerChunkSize(size)
	default:
		log.Printf("rtmp: control message type %d, %d bytes, ignored", msg.Header.MsgTypeID, len(msg.Body))
	}
	return nil
}

func (s *Session) handleData(msg Message) error {
	r := bytes.NewReader(msg.Body)

	setDataFrame, err := amf0.DecodeString(r)
	if err != nil || setDataFrame != "@setDataFrame" {
		log.Printf("rtmp: data message missing @setDataFrame, dropped")
		return nil
	}

	metaOffset := len(msg.Body) - r.Len()
	onMetaData, err := amf0.DecodeString(r)
	if err != nil || onMetaData != "onMetaData" {
		log.Printf("rtmp: data message missing onMetaData, dropped")
		return nil
	}

	values, err := amf0.DecodeECMAArray(r)
	if err != nil {
		log.Printf("rtmp: onMetaData payload is not an ECMA array, dropped")
		return nil
	}

	if s.callbacks.OnMetadata != nil {
		s.callbacks.OnMetadata(s, msg.Body, msg.Body[metaOffset:], len(msg.Body)-metaOffset, values)
	}
	return nil
}

func (s *Session) handleAV(msg Message) error {
	csid := uint32(CSIDAudio)
	if msg.Header.MsgTypeID == MessageTypeVideo {
		csid = CSIDVideo
	}
	header := Header{
		CSID:        csid,
		Timestamp:   msg.Header.Timestamp,
		MsgLen:      uint32(len(msg.Body)),
		MsgTypeID:   msg.Header.MsgTypeID,
		MsgStreamID: appStreamID,
	}
	if s.callbacks.OnAVData != nil {
		s.callbacks.OnAVData(s, msg.Body, header)
	}
	return nil
}

// sendFramed writes one complete AMF0 command/control message through the
// egress queue as a single atomic buffer and blocks until the write has
// either landed or failed, so callers that must order a role change after
// a reply (play's publisher/subscriber flip) can rely on completion.
func (s *Session) sendFramed(csid uint32, msgType byte, streamID uint32, body []byte) error {
	var buf bytes.Buffer
	if err := WriteChunk(&buf, csid, msgType, 0, streamID, body, s.localChunkSize); err != nil {
		return newTransportError(err)
	}
	if err := <-s.egress.Send(buf.Bytes()); err != nil {
		return newTransportError(err)
	}
	return nil
}

func (s *Session) sendControl(msgType byte, body []byte) error {
	return s.sendFramed(CSIDProtocolControl, msgType, 0, body)
}

func (s *Session) sendCommand(body []byte) error {
	return s.sendFramed(CSIDCommand, MessageTypeCommandAMF0, appStreamID, body)
}

// Close tears the session down exactly once: it closes the socket (which
// unblocks any in-flight read or write), stops the egress queue, and
// fires OnClose. It is safe to call concurrently with the session's own
// goroutine, which is what lets an external caller force-disconnect a
// session it doesn't otherwise control.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.conn.Close()
		if s.egress != nil {
			s.egress.Shutdown()
		}
		if s.callbacks.OnClose != nil {
			s.callbacks.OnClose(s)
		}
	})
}

func asFloat(v interface{}) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}
