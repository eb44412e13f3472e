// Package config loads the demo configuration from YAML with environment
// overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/ray1422/mcprtc/peer"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// environment overrides
const (
	EnvSignalingAddr   = "MCPRTC_SIGNALING_ADDR"
	EnvSignalingSecret = "MCPRTC_SIGNALING_SECRET"
	EnvLogLevel        = "MCPRTC_LOG_LEVEL"
)

// signaling kinds
const (
	SignalingGRPC      = "grpc"
	SignalingMQTT      = "mqtt"
	SignalingWebSocket = "websocket"
)

// Config holds the demo configuration.
type Config struct {
	LogLevel  string    `yaml:"log_level"`
	Signaling Signaling `yaml:"signaling"`
	Peer      Peer      `yaml:"peer"`
}

// Signaling selects and configures the signaling path.
type Signaling struct {
	Kind string `yaml:"kind"`
	// Addr is the gRPC listen or dial address, or the WebSocket URL.
	Addr     string        `yaml:"addr"`
	Secret   string        `yaml:"secret"`
	TokenTTL time.Duration `yaml:"token_ttl"`
	MQTT     MQTT          `yaml:"mqtt"`
}

// MQTT configures the broker for the mqtt signaling kind.
type MQTT struct {
	Broker   string `yaml:"broker"`
	Prefix   string `yaml:"prefix"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Peer configures the peer connection.
type Peer struct {
	ICEServers     []ICEServer `yaml:"ice_servers"`
	Label          string      `yaml:"label"`
	DisableTrickle bool        `yaml:"disable_trickle"`
}

// ICEServer is one STUN or TURN server.
type ICEServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username"`
	Credential string   `yaml:"credential"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Signaling: Signaling{
			Kind:     SignalingGRPC,
			Addr:     "localhost:7000",
			TokenTTL: 10 * time.Minute,
		},
		Peer: Peer{Label: peer.DefaultLabel},
	}
}

// Load reads path over the defaults, then applies environment overrides.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			log.Debugf("config %s not found, using defaults", path)
		case err != nil:
			return nil, err
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing %s: %w", path, err)
			}
		}
	}
	cfg.applyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvSignalingAddr); ok {
		c.Signaling.Addr = v
	}
	if v, ok := lookup(EnvSignalingSecret); ok {
		c.Signaling.Secret = v
	}
	if v, ok := lookup(EnvLogLevel); ok {
		c.LogLevel = v
	}
}

// Validate checks the fields Load cannot default.
func (c *Config) Validate() error {
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.Signaling.Kind {
	case SignalingGRPC, SignalingWebSocket:
		if c.Signaling.Addr == "" {
			return fmt.Errorf("signaling %s needs an addr", c.Signaling.Kind)
		}
	case SignalingMQTT:
		if c.Signaling.MQTT.Broker == "" {
			return fmt.Errorf("signaling mqtt needs a broker")
		}
	default:
		return fmt.Errorf("unknown signaling kind %q", c.Signaling.Kind)
	}
	for _, s := range c.Peer.ICEServers {
		if len(s.URLs) == 0 {
			return fmt.Errorf("ice server without urls")
		}
	}
	return nil
}

// ApplyLogLevel sets the logrus level.
func (c *Config) ApplyLogLevel() error {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	return nil
}

// PeerOptions builds the peer connection options.
func (c *Config) PeerOptions() peer.Options {
	servers := make([]webrtc.ICEServer, 0, len(c.Peer.ICEServers))
	for _, s := range c.Peer.ICEServers {
		server := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			server.Credential = s.Credential
		}
		servers = append(servers, server)
	}
	return peer.Options{
		Configuration:  webrtc.Configuration{ICEServers: servers},
		Label:          c.Peer.Label,
		DisableTrickle: c.Peer.DisableTrickle,
	}
}
