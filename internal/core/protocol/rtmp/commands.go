package rtmp

import (
	"bytes"
	"log"

	"rtmpforge/internal/core/protocol/amf0"
)

// handleCommand implements the CommandHandlers component: it decodes the
// AMF0 command name and dispatches to the handler for connect,
// createStream, publish, play and deleteStream. The releaseStream/FCPublish
// family is accepted and logged without a reply, and anything else is a
// fatal protocol violation.
func (s *Session) handleCommand(msg Message) error {
	values, err := amf0.DecodeCommand(bytes.NewReader(msg.Body))
	if err != nil {
		return newProtocolViolation("malformed AMF0 command: %v", err)
	}
	if len(values) == 0 {
		return newProtocolViolation("empty command message")
	}
	name, ok := values[0].(string)
	if !ok {
		return newProtocolViolation("command name is not a string")
	}

	switch name {
	case "connect":
		return s.handleConnect(values)
	case "createStream":
		return s.handleCreateStream(values)
	case "publish":
		return s.handlePublish(values)
	case "play":
		return s.handlePlay(values)
	case "deleteStream":
		return s.handleDeleteStream(values)
	case "releaseStream", "FCPublish", "FCUnpublish", "FCSubscribe", "getStreamLength":
		log.Printf("rtmp: accepted %s, no response sent", name)
		return nil
	default:
		return newProtocolViolation("unknown command %q", name)
	}
}

func (s *Session) handleConnect(values amf0.Array) error {
	if len(values) < 2 {
		return newProtocolViolation("connect: missing transaction id")
	}
	txnID, ok := asFloat(values[1])
	if !ok || txnID != connectTransactionID {
		return newProtocolViolation("connect: transaction id must be %d", connectTransactionID)
	}

	var props amf0.Object
	if len(values) >= 3 {
		props, _ = values[2].(amf0.Object)
	}
	app, ok := props["app"].(string)
	if !ok {
		return newProtocolViolation("connect: missing required string field \"app\"")
	}
	s.app = app

	if err := s.sendControl(MessageTypeWinAckSize, CreateWindowAckSize(s.windowAckSize)); err != nil {
		return err
	}
	if err := s.sendControl(MessageTypeSetPeerBandwidth, CreateSetPeerBandwidth(s.peerBandwidth, PeerBandwidthLimitDynamic)); err != nil {
		return err
	}
	if err := s.sendControl(MessageTypeSetChunkSize, CreateSetChunkSize(s.localChunkSize)); err != nil {
		return err
	}

	result := amf0.Array{
		"_result",
		txnID,
		amf0.Object{
			"fmsVer":       "FMS/3,0,1,123",
			"capabilities": float64(31),
		},
		amf0.Object{
			"level":          "status",
			"code":           "NetConnection.Connect.Success",
			"description":    "Connection succeeded.",
			"objectEncoding": float64(0),
		},
	}
	body, err := amf0.EncodeCommand(result)
	if err != nil {
		return newProtocolViolation("connect: encoding _result: %v", err)
	}
	return s.sendCommand(body)
}

func (s *Session) handleCreateStream(values amf0.Array) error {
	if len(values) < 2 {
		return newProtocolViolation("createStream: missing transaction id")
	}
	txnID, ok := asFloat(values[1])
	if !ok {
		return newProtocolViolation("createStream: transaction id is not a number")
	}
	s.createStreamTxnID = txnID

	result := amf0.Array{"_result", txnID, nil, float64(appStreamID)}
	body, err := amf0.EncodeCommand(result)
	if err != nil {
		return newProtocolViolation("createStream: encoding _result: %v", err)
	}
	return s.sendCommand(body)
}

func (s *Session) handlePublish(values amf0.Array) error {
	if len(values) < 2 {
		return newProtocolViolation("publish: missing transaction id")
	}
	txnID, ok := asFloat(values[1])
	if !ok || txnID != publishTransactionID {
		return newProtocolViolation("publish: transaction id must be %d", publishTransactionID)
	}
	if len(values) < 5 {
		return newProtocolViolation("publish: missing publishing name/type")
	}
	name, ok := values[3].(string)
	if !ok {
		return newProtocolViolation("publish: publishing name is not a string")
	}
	if _, ok := values[4].(string); !ok {
		return newProtocolViolation("publish: publishing type is not a string")
	}

	s.role = RolePublisher
	s.streamName = name
	if s.callbacks.OnPublish != nil {
		s.callbacks.OnPublish(s)
	}

	status := amf0.Array{
		"onStatus",
		float64(0),
		nil,
		amf0.Object{
			"level":       "status",
			"code":        "NetStream.Publish.Start",
			"description": "Start publishing",
		},
	}
	body, err := amf0.EncodeCommand(status)
	if err != nil {
		return newProtocolViolation("publish: encoding onStatus: %v", err)
	}
	return s.sendCommand(body)
}

func (s *Session) handlePlay(values amf0.Array) error {
	if len(values) < 2 {
		return newProtocolViolation("play: missing transaction id")
	}
	txnID, ok := asFloat(values[1])
	if !ok || txnID != playTransactionID {
		return newProtocolViolation("play: transaction id must be %d", playTransactionID)
	}
	if len(values) < 4 {
		return newProtocolViolation("play: missing stream name")
	}
	name, ok := values[3].(string)
	if !ok {
		return newProtocolViolation("play: stream name is not a string")
	}
	s.streamName = name

	status := amf0.Array{
		"onStatus",
		float64(0),
		nil,
		amf0.Object{
			"level":       "status",
			"code":        "NetStream.Play.Start",
			"description": "Start playing",
		},
	}
	body, err := amf0.EncodeCommand(status)
	if err != nil {
		return newProtocolViolation("play: encoding onStatus: %v", err)
	}
	// The role flip and the play callback only happen once onStatus is
	// actually on the wire, mirroring the write-completion-gated role
	// change the source session performs for play.
	if err := s.sendCommand(body); err != nil {
		return err
	}
	s.role = RoleSubscriber
	if s.callbacks.OnPlay != nil {
		s.callbacks.OnPlay(s)
	}
	return nil
}

func (s *Session) handleDeleteStream(values amf0.Array) error {
	if len(values) < 4 {
		return newProtocolViolation("deleteStream: missing stream id")
	}
	if _, ok := asFloat(values[3]); !ok {
		return newProtocolViolation("deleteStream: stream id is not a number")
	}

	if s.role == RolePublisher && s.callbacks.OnPublishStop != nil {
		s.callbacks.OnPublishStop(s)
	}
	return nil
}
