package rtmp

import (
	"net"

	"rtmpforge/internal/config"
	"rtmpforge/internal/core/bus"
	rtmpcore "rtmpforge/internal/core/protocol/rtmp"
)

// Server accepts RTMP connections and runs each one as its own Session.
type Server struct {
	registry *bus.Registry
	listener net.Listener
	sessCfg  rtmpcore.Config
}

func NewServer(registry *bus.Registry, cfg config.RTMPConfig) *Server {
	return &Server{
		registry: registry,
		sessCfg: rtmpcore.Config{
			WindowAckSize:   cfg.WindowAckSize,
			PeerBandwidth:   cfg.PeerBandwidth,
			LocalChunkSize:  cfg.LocalChunkSize,
			MaxChunkStreams: cfg.MaxChunkStreams,
		},
	}
}

func (s *Server) Listen(addr string) error {
	var err error
	s.listener, err = net.Listen("tcp", addr)
	return err
}

// Accept blocks, handing each accepted connection to its own goroutine
// until the listener is closed.
func (s *Server) Accept() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return err
		}
		session := NewServiceSession(conn, s.registry, s.sessCfg)
		session.Start()
	}
}

func (s *Server) Close() error {
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}
