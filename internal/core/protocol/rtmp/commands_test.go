package rtmp

import (
	"bytes"
	"testing"

	"rtmpforge/internal/core/protocol/amf0"
)

func newTestSession(out *bytes.Buffer) *Session {
	s := NewSession(nil)
	s.egress = NewEgressQueue(out)
	return s
}

func commandMessage(t *testing.T, values amf0.Array) Message {
	t.Helper()
	body, err := amf0.EncodeCommand(values)
	if err != nil {
		t.Fatalf("EncodeCommand: %v", err)
	}
	return Message{Header: Header{MsgTypeID: MessageTypeCommandAMF0}, Body: body}
}

func TestHandleConnectSendsControlSequenceAndResult(t *testing.T) {
	var out bytes.Buffer
	s := newTestSession(&out)

	msg := commandMessage(t, amf0.Array{
		"connect",
		float64(1),
		amf0.Object{"app": "live"},
	})
	if err := s.handleCommand(msg); err != nil {
		t.Fatalf("handleConnect: %v", err)
	}
	s.egress.Shutdown()

	if s.App() != "live" {
		t.Fatalf("App() = %q, want %q", s.App(), "live")
	}

	r := bytes.NewReader(out.Bytes())
	// WinAckSize, SetPeerBandwidth, SetChunkSize, then the _result command,
	// each as its own fmt=0 chunk on the wire.
	wantTypes := []byte{MessageTypeWinAckSize, MessageTypeSetPeerBandwidth, MessageTypeSetChunkSize, MessageTypeCommandAMF0}
	for i, want := range wantTypes {
		msgType, body := readOneChunk(t, r)
		if msgType != want {
			t.Fatalf("message %d: type = %d, want %d", i, msgType, want)
		}
		if want == MessageTypeCommandAMF0 {
			values, err := amf0.DecodeCommand(bytes.NewReader(body))
			if err != nil {
				t.Fatalf("decode _result: %v", err)
			}
			if values[0] != "_result" {
				t.Fatalf("command name = %v, want _result", values[0])
			}
		}
	}
}

func TestHandleConnectRejectsWrongTransactionID(t *testing.T) {
	var out bytes.Buffer
	s := newTestSession(&out)

	msg := commandMessage(t, amf0.Array{"connect", float64(2), amf0.Object{"app": "live"}})
	if err := s.handleCommand(msg); err == nil {
		t.Fatal("expected error for non-1 connect transaction id")
	}
}

func TestHandleConnectRejectsMissingApp(t *testing.T) {
	var out bytes.Buffer
	s := newTestSession(&out)

	msg := commandMessage(t, amf0.Array{"connect", float64(1), amf0.Object{}})
	if err := s.handleCommand(msg); err == nil {
		t.Fatal("expected error for missing app")
	}
}

func TestHandlePublishInvokesCallbackBeforeReply(t *testing.T) {
	var out bytes.Buffer
	s := newTestSession(&out)

	var order []string
	replyLenAtCallback := -1
	s.callbacks.OnPublish = func(*Session) {
		order = append(order, "callback")
		replyLenAtCallback = out.Len()
	}

	msg := commandMessage(t, amf0.Array{"publish", float64(0), nil, "mystream", "live"})
	if err := s.handleCommand(msg); err != nil {
		t.Fatalf("handlePublish: %v", err)
	}
	order = append(order, "returned")
	s.egress.Shutdown()

	if s.Role() != RolePublisher {
		t.Fatalf("Role() = %v, want RolePublisher", s.Role())
	}
	if s.StreamName() != "mystream" {
		t.Fatalf("StreamName() = %q", s.StreamName())
	}
	if len(order) != 2 || order[0] != "callback" {
		t.Fatalf("order = %v, want [callback returned]", order)
	}
	if replyLenAtCallback != 0 {
		t.Fatalf("%d reply bytes written before OnPublish fired, want 0", replyLenAtCallback)
	}

	msgType, _ := readOneChunk(t, bytes.NewReader(out.Bytes()))
	if msgType != MessageTypeCommandAMF0 {
		t.Fatalf("reply message type = %d, want command", msgType)
	}
}

func TestHandlePublishRejectsWrongTransactionID(t *testing.T) {
	var out bytes.Buffer
	s := newTestSession(&out)
	msg := commandMessage(t, amf0.Array{"publish", float64(1), nil, "mystream", "live"})
	if err := s.handleCommand(msg); err == nil {
		t.Fatal("expected error for non-0 publish transaction id")
	}
}

func TestHandlePlayFlipsRoleAfterReply(t *testing.T) {
	var out bytes.Buffer
	s := newTestSession(&out)

	var callbackFired bool
	var replyLenAtCallback int
	var roleAtCallback Role
	s.callbacks.OnPlay = func(s *Session) {
		callbackFired = true
		replyLenAtCallback = out.Len()
		roleAtCallback = s.Role()
	}

	msg := commandMessage(t, amf0.Array{"play", float64(0), nil, "mystream"})
	if err := s.handleCommand(msg); err != nil {
		t.Fatalf("handlePlay: %v", err)
	}
	s.egress.Shutdown()

	if s.Role() != RoleSubscriber {
		t.Fatalf("Role() = %v, want RoleSubscriber", s.Role())
	}
	if !callbackFired {
		t.Fatal("OnPlay callback was not invoked")
	}
	if replyLenAtCallback == 0 {
		t.Fatal("onStatus reply was not written before the role flip and OnPlay")
	}
	if roleAtCallback != RoleSubscriber {
		t.Fatalf("Role() at OnPlay = %v, want RoleSubscriber", roleAtCallback)
	}
	if s.StreamName() != "mystream" {
		t.Fatalf("StreamName() = %q", s.StreamName())
	}
}

func TestHandleDeleteStreamFiresPublishStopOnlyForPublisher(t *testing.T) {
	var out bytes.Buffer
	s := newTestSession(&out)
	s.role = RolePublisher

	var fired bool
	s.callbacks.OnPublishStop = func(*Session) { fired = true }

	msg := commandMessage(t, amf0.Array{"deleteStream", float64(0), nil, float64(1)})
	if err := s.handleCommand(msg); err != nil {
		t.Fatalf("handleDeleteStream: %v", err)
	}
	if !fired {
		t.Fatal("OnPublishStop was not invoked for a publisher role")
	}
}

func TestHandleDeleteStreamSkipsPublishStopForSubscriber(t *testing.T) {
	var out bytes.Buffer
	s := newTestSession(&out)
	s.role = RoleSubscriber

	var fired bool
	s.callbacks.OnPublishStop = func(*Session) { fired = true }

	msg := commandMessage(t, amf0.Array{"deleteStream", float64(0), nil, float64(1)})
	if err := s.handleCommand(msg); err != nil {
		t.Fatalf("handleDeleteStream: %v", err)
	}
	if fired {
		t.Fatal("OnPublishStop should not fire for a subscriber role")
	}
}

func TestHandleUnknownCommandIsProtocolViolation(t *testing.T) {
	var out bytes.Buffer
	s := newTestSession(&out)
	msg := commandMessage(t, amf0.Array{"bogusCommand", float64(0)})
	err := s.handleCommand(msg)
	if err == nil {
		t.Fatal("expected error for unknown command")
	}
	se, ok := err.(*SessionError)
	if !ok || se.Kind != KindProtocolViolation {
		t.Fatalf("err = %v, want a KindProtocolViolation SessionError", err)
	}
}

func TestHandleReleaseStreamFamilyIsIgnored(t *testing.T) {
	var out bytes.Buffer
	s := newTestSession(&out)
	for _, name := range []string{"releaseStream", "FCPublish", "FCUnpublish", "FCSubscribe", "getStreamLength"} {
		msg := commandMessage(t, amf0.Array{name, float64(0), nil, "mystream"})
		if err := s.handleCommand(msg); err != nil {
			t.Fatalf("%s: unexpected error: %v", name, err)
		}
	}
	s.egress.Shutdown()
	if out.Len() != 0 {
		t.Fatalf("expected no reply bytes for the release-stream family, got %d bytes", out.Len())
	}
}

// readOneChunk reads a single fmt=0 chunk with a one-byte basic header
// (csid < 64) from r and returns its message type and body.
func readOneChunk(t *testing.T, r *bytes.Reader) (byte, []byte) {
	t.Helper()
	basic, err := r.ReadByte()
	if err != nil {
		t.Fatalf("read basic header: %v", err)
	}
	if basic>>6 != ChunkFmt0 {
		t.Fatalf("expected fmt=0 chunk, got fmt=%d", basic>>6)
	}
	mh := make([]byte, 11)
	if _, err := r.Read(mh); err != nil {
		t.Fatalf("read message header: %v", err)
	}
	msgLen := readUint24(mh[3:6])
	body := make([]byte, msgLen)
	if msgLen > 0 {
		if _, err := r.Read(body); err != nil {
			t.Fatalf("read body: %v", err)
		}
	}
	return mh[6], body
}
