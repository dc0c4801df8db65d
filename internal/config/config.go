// Package config defines the server configuration structure. It uses
// strict YAML decoding and explicit defaults.

package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"rtmpforge/internal/core/protocol/rtmp"
)

// Config holds the complete server configuration.
// All fields must have explicit defaults or be required.
type Config struct {
	Server ServerConfig  `yaml:"server"`
	RTMP   RTMPConfig    `yaml:"rtmp,omitempty"`
	Relays []RelayConfig `yaml:"relays,omitempty"`
}

// ServerConfig defines HTTP server settings.
type ServerConfig struct {
	HealthPort int `yaml:"health_port"` // Validated but not listened on; /healthz is served on HTTPPort
	HTTPPort   int `yaml:"http_port"`   // Port for /healthz, HTTP-FLV and WS-FLV
	RTMPPort   int `yaml:"rtmp_port"`   // Port for the RTMP listener
}

// RTMPConfig makes the session core's design defaults operator-tunable
// without touching the compiled-in fallbacks in the rtmp package.
type RTMPConfig struct {
	WindowAckSize   uint32 `yaml:"window_ack_size,omitempty"`
	PeerBandwidth   uint32 `yaml:"peer_bandwidth,omitempty"`
	LocalChunkSize  uint32 `yaml:"local_chunk_size,omitempty"`
	MaxChunkStreams int    `yaml:"max_chunk_streams,omitempty"`
}

// RelayConfig defines a relay task configuration.
type RelayConfig struct {
	App       string `yaml:"app"`                 // Application name
	Name      string `yaml:"name"`                // Stream name
	Mode      string `yaml:"mode"`                // "pull" or "push"
	RemoteURL string `yaml:"remote_url"`          // Remote RTMP URL
	Reconnect bool   `yaml:"reconnect,omitempty"` // Enable reconnect on failure
}

// Load reads configuration from a YAML file.
// Returns an error if the file cannot be read or decoded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields

	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// Apply defaults
	cfg.setDefaults()

	return &cfg, nil
}

// setDefaults applies explicit default values to unset fields.
func (c *Config) setDefaults() {
	if c.Server.HealthPort == 0 {
		c.Server.HealthPort = 8080
	}
	if c.Server.HTTPPort == 0 {
		c.Server.HTTPPort = 8081
	}
	if c.Server.RTMPPort == 0 {
		c.Server.RTMPPort = 1935
	}
	if c.RTMP.WindowAckSize == 0 {
		c.RTMP.WindowAckSize = rtmp.WindowAckSize
	}
	if c.RTMP.PeerBandwidth == 0 {
		c.RTMP.PeerBandwidth = rtmp.PeerBandwidth
	}
	if c.RTMP.LocalChunkSize == 0 {
		c.RTMP.LocalChunkSize = rtmp.LocalChunkSize
	}
	if c.RTMP.MaxChunkStreams == 0 {
		c.RTMP.MaxChunkStreams = 16
	}
}
