package rtmp

import (
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"rtmpforge/internal/core/protocol/amf0"
)

func doClientHandshake(t *testing.T, conn net.Conn) {
	t.Helper()
	c0c1 := make([]byte, HandshakeC0C1Size)
	c0c1[0] = RTMPVersion
	if _, err := conn.Write(c0c1); err != nil {
		t.Fatalf("write c0c1: %v", err)
	}
	s0s1s2 := make([]byte, HandshakeS0S1Size+HandshakeS2Size)
	if _, err := io.ReadFull(conn, s0s1s2); err != nil {
		t.Fatalf("read s0s1s2: %v", err)
	}
	c2 := make([]byte, HandshakeC2Size)
	if _, err := conn.Write(c2); err != nil {
		t.Fatalf("write c2: %v", err)
	}
}

func writeCommand(t *testing.T, conn net.Conn, csid uint32, values amf0.Array) {
	t.Helper()
	body, err := amf0.EncodeCommand(values)
	if err != nil {
		t.Fatalf("EncodeCommand: %v", err)
	}
	if err := WriteChunk(conn, csid, MessageTypeCommandAMF0, 0, 0, body, DefaultChunkSize); err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}
}

// drainInBackground reads and discards raw bytes from conn in the background so
// the session's egress writes never block on an unread socket.
func drainInBackground(conn net.Conn) {
	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := conn.Read(buf); err != nil {
				return
			}
		}
	}()
}

func TestSessionEndToEndPublishLifecycle(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	session := NewSession(serverConn)

	var mu sync.Mutex
	var publishFired, closeFired bool
	session.SetPublishCallback(func(s *Session) {
		mu.Lock()
		publishFired = true
		mu.Unlock()
	})
	session.SetCloseCallback(func(s *Session) {
		mu.Lock()
		closeFired = true
		mu.Unlock()
	})

	session.Start()

	doClientHandshake(t, clientConn)
	drainInBackground(clientConn)

	writeCommand(t, clientConn, CSIDCommand, amf0.Array{"connect", float64(1), amf0.Object{"app": "live"}})
	writeCommand(t, clientConn, CSIDCommand, amf0.Array{"createStream", float64(2), nil})
	writeCommand(t, clientConn, CSIDCommand, amf0.Array{"publish", float64(0), nil, "mystream", "live"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		fired := publishFired
		mu.Unlock()
		if fired {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if !publishFired {
		t.Fatal("OnPublish callback never fired")
	}
	if session.App() != "live" {
		t.Fatalf("App() = %q", session.App())
	}
	if session.StreamName() != "mystream" {
		t.Fatalf("StreamName() = %q", session.StreamName())
	}
	if session.Role() != RolePublisher {
		t.Fatalf("Role() = %v, want RolePublisher", session.Role())
	}

	clientConn.Close()
	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !closeFired {
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
	}
	if !closeFired {
		t.Fatal("OnClose callback never fired after peer disconnect")
	}
}

func TestSessionRejectsUnknownCommand(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	session := NewSession(serverConn)
	var mu sync.Mutex
	var closeFired bool
	session.SetCloseCallback(func(*Session) {
		mu.Lock()
		closeFired = true
		mu.Unlock()
	})

	session.Start()
	doClientHandshake(t, clientConn)
	drainInBackground(clientConn)
	writeCommand(t, clientConn, CSIDCommand, amf0.Array{"notACommand", float64(1)})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		fired := closeFired
		mu.Unlock()
		if fired {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("session did not close after an unknown command")
}

