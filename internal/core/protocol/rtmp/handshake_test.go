package rtmp

import (
	"bytes"
	"io"
	"net"
	"testing"
	"time"
)

// handshakeResult is what runFakeClient observed while driving the client
// side of PerformServerHandshake over conn; it is reported on a channel.
type handshakeResult struct {
	s1  []byte
	s2  []byte
	err error
}

func runFakeClient(conn net.Conn) <-chan handshakeResult {
	resultCh := make(chan handshakeResult, 1)
	go func() {
		var res handshakeResult
		c1 := make([]byte, HandshakeC2Size)
		for i := range c1 {
			c1[i] = byte(i)
		}
		c0c1 := append([]byte{RTMPVersion}, c1...)
		if _, err := conn.Write(c0c1); err != nil {
			res.err = err
			resultCh <- res
			return
		}

		s0s1 := make([]byte, HandshakeS0S1Size)
		if _, err := io.ReadFull(conn, s0s1); err != nil {
			res.err = err
			resultCh <- res
			return
		}
		res.s1 = s0s1[1:]

		s2 := make([]byte, HandshakeS2Size)
		if _, err := io.ReadFull(conn, s2); err != nil {
			res.err = err
			resultCh <- res
			return
		}
		res.s2 = s2

		// S2 must echo C1 verbatim except for the refreshed timestamp field.
		if !bytes.Equal(s2[8:], c1[8:]) {
			res.err = io.ErrUnexpectedEOF
			resultCh <- res
			return
		}

		c2 := make([]byte, HandshakeC2Size)
		copy(c2, res.s1)
		if _, err := conn.Write(c2); err != nil {
			res.err = err
		}
		resultCh <- res
	}()
	return resultCh
}

func TestPerformServerHandshake(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	resultCh := runFakeClient(client)

	errCh := make(chan error, 1)
	go func() { errCh <- PerformServerHandshake(server) }()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("PerformServerHandshake: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handshake timed out")
	}

	res := <-resultCh
	if res.err != nil {
		t.Fatalf("fake client: %v", res.err)
	}

	if len(res.s1) != HandshakeC2Size {
		t.Fatalf("S1 length = %d, want %d", len(res.s1), HandshakeC2Size)
	}

	// The filler region (everything past the 8-byte time/zero header) must
	// be a single repeated byte value, fixed for the session.
	filler := res.s1[8]
	for i, b := range res.s1[8:] {
		if b != filler {
			t.Fatalf("S1 filler byte at offset %d = %#x, want %#x (uniform filler)", i+8, b, filler)
		}
	}

	if len(res.s2) != HandshakeS2Size {
		t.Fatalf("S2 length = %d, want %d", len(res.s2), HandshakeS2Size)
	}
}

// TestPerformServerHandshakeAcceptsAllZeroC0C1 covers the all-zeros
// handshake: the server does not validate C0's version byte or anything
// in C1, so a client sending 1537 zero bytes still completes S0/S1/S2 and
// control reaches the chunk parser.
func TestPerformServerHandshakeAcceptsAllZeroC0C1(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- PerformServerHandshake(server) }()

	go func() {
		c0c1 := make([]byte, HandshakeC0C1Size)
		client.Write(c0c1)
		s0s1s2 := make([]byte, HandshakeS0S1Size+HandshakeS2Size)
		io.ReadFull(client, s0s1s2)
		c2 := make([]byte, HandshakeC2Size)
		client.Write(c2)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("PerformServerHandshake: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handshake timed out")
	}
}
