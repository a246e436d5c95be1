package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Stream   StreamConfig   `yaml:"stream"`
	Producer ProducerConfig `yaml:"producer"`
	Button   ButtonConfig   `yaml:"button"`
	HTTP     HTTPConfig     `yaml:"http"`
	Logging  LoggingConfig  `yaml:"logging"`
	Client   ClientConfig   `yaml:"client"`
}

// ServerConfig contains UDP listener configuration
type ServerConfig struct {
	BindAddress string            `yaml:"bind_address"`
	Port        int               `yaml:"port"`
	MaxClients  int               `yaml:"max_clients"`
	ReadBuffer  datasize.ByteSize `yaml:"read_buffer"`
	SocketWait  time.Duration     `yaml:"socket_wait"` // how long the broadcaster waits for the listener socket
}

// StreamConfig contains frame source and broadcaster parameters
type StreamConfig struct {
	FIFOPath         string            `yaml:"fifo_path"`
	FrameSize        datasize.ByteSize `yaml:"frame_size"` // one read from the FIFO is one frame
	InitiallyEnabled bool              `yaml:"initially_enabled"`
	EOFBackoff       time.Duration     `yaml:"eof_backoff"`
	ControlQueue     int               `yaml:"control_queue"`
}

// ProducerConfig describes the external ASCII renderer started by the server
type ProducerConfig struct {
	Enabled bool     `yaml:"enabled"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// ButtonConfig contains hardware switch configuration
type ButtonConfig struct {
	Driver           string        `yaml:"driver"` // chardev, mqtt or none
	DevicePath       string        `yaml:"device_path"`
	Inputs           int           `yaml:"inputs"`
	Outputs          int           `yaml:"outputs"`
	EnableInput      int           `yaml:"enable_input"`
	DisableInput     int           `yaml:"disable_input"`
	LEDOutput        int           `yaml:"led_output"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	DebounceInterval time.Duration `yaml:"debounce_interval"`
	MQTT             MQTTConfig    `yaml:"mqtt"`
}

// MQTTConfig configures the remote switch driver
type MQTTConfig struct {
	Broker       string `yaml:"broker"`
	ClientID     string `yaml:"client_id"`
	CommandTopic string `yaml:"command_topic"`
	LEDTopic     string `yaml:"led_topic"`
	QoS          byte   `yaml:"qos"`
}

// HTTPConfig contains status API configuration
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// ClientConfig contains viewer configuration
type ClientConfig struct {
	Port           int           `yaml:"port"`
	Mode           string        `yaml:"mode"`            // immediate or buffered
	ReceiveTimeout time.Duration `yaml:"receive_timeout"` // 0 waits forever
}

// Button drivers
const (
	DriverCharDev = "chardev"
	DriverMQTT    = "mqtt"
	DriverNone    = "none"
)

// Client display modes
const (
	ModeImmediate = "immediate"
	ModeBuffered  = "buffered"
)

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			BindAddress: "0.0.0.0",
			Port:        1234,
			MaxClients:  4,
			ReadBuffer:  64 * datasize.KB,
			SocketWait:  5 * time.Second,
		},
		Stream: StreamConfig{
			FIFOPath:     "/tmp/hasciicamFifo",
			FrameSize:    3204 * datasize.B, // 88x36 ASCII rendering of a 352x288 capture
			EOFBackoff:   200 * time.Millisecond,
			ControlQueue: 16,
		},
		Producer: ProducerConfig{
			Enabled: true,
			Command: "hasciicam",
			Args:    []string{"-m", "text", "-s", "352x288"},
		},
		Button: ButtonConfig{
			Driver:           DriverCharDev,
			DevicePath:       "/dev/io_dd",
			Inputs:           4,
			Outputs:          4,
			EnableInput:      0,
			DisableInput:     1,
			LEDOutput:        0,
			PollInterval:     30 * time.Millisecond,
			DebounceInterval: 500 * time.Millisecond,
			MQTT: MQTTConfig{
				Broker:       "tcp://localhost:1883",
				ClientID:     "hasciicam-server",
				CommandTopic: "hasciicam/stream/set",
				LEDTopic:     "hasciicam/stream/led",
				QoS:          1,
			},
		},
		HTTP: HTTPConfig{
			Enabled: false,
			Address: "127.0.0.1",
			Port:    8080,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Client: ClientConfig{
			Port: 1234,
			Mode: ModeImmediate,
		},
	}
}

// Load reads and parses the configuration file over the defaults.
// An empty path returns the defaults.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs validation of every section
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Stream.Validate(); err != nil {
		return fmt.Errorf("stream config: %w", err)
	}

	if err := c.Producer.Validate(); err != nil {
		return fmt.Errorf("producer config: %w", err)
	}

	if err := c.Button.Validate(); err != nil {
		return fmt.Errorf("button config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if err := c.Client.Validate(); err != nil {
		return fmt.Errorf("client config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if s.MaxClients < 1 {
		return fmt.Errorf("max_clients must be at least 1, got %d", s.MaxClients)
	}

	if s.ReadBuffer < datasize.KB {
		return fmt.Errorf("read_buffer must be at least 1KB, got %s", s.ReadBuffer.HR())
	}

	if s.SocketWait <= 0 {
		return fmt.Errorf("socket_wait must be positive, got %s", s.SocketWait)
	}

	return nil
}

// Validate validates stream configuration
func (s *StreamConfig) Validate() error {
	if s.FIFOPath == "" {
		return fmt.Errorf("fifo_path cannot be empty")
	}

	if s.FrameSize < datasize.B {
		return fmt.Errorf("frame_size must be at least 1 byte")
	}

	if s.FrameSize > datasize.MB {
		return fmt.Errorf("frame_size must be at most 1MB, got %s", s.FrameSize.HR())
	}

	if s.EOFBackoff <= 0 {
		return fmt.Errorf("eof_backoff must be positive, got %s", s.EOFBackoff)
	}

	if s.ControlQueue < 1 {
		return fmt.Errorf("control_queue must be at least 1, got %d", s.ControlQueue)
	}

	return nil
}

// Validate validates producer configuration
func (p *ProducerConfig) Validate() error {
	if p.Enabled && p.Command == "" {
		return fmt.Errorf("command cannot be empty when the producer is enabled")
	}

	return nil
}

// Validate validates button configuration
func (b *ButtonConfig) Validate() error {
	switch b.Driver {
	case DriverNone:
		return nil
	case DriverCharDev:
		if b.DevicePath == "" {
			return fmt.Errorf("device_path cannot be empty for the chardev driver")
		}
	case DriverMQTT:
		if b.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker cannot be empty for the mqtt driver")
		}
		if b.MQTT.CommandTopic == "" {
			return fmt.Errorf("mqtt.command_topic cannot be empty for the mqtt driver")
		}
		if b.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", b.MQTT.QoS)
		}
	default:
		return fmt.Errorf("driver must be one of [chardev, mqtt, none], got '%s'", b.Driver)
	}

	if b.Inputs < 2 {
		return fmt.Errorf("inputs must be at least 2, got %d", b.Inputs)
	}

	if b.Outputs < 1 {
		return fmt.Errorf("outputs must be at least 1, got %d", b.Outputs)
	}

	if b.EnableInput < 0 || b.EnableInput >= b.Inputs {
		return fmt.Errorf("enable_input must be between 0 and %d, got %d", b.Inputs-1, b.EnableInput)
	}

	if b.DisableInput < 0 || b.DisableInput >= b.Inputs {
		return fmt.Errorf("disable_input must be between 0 and %d, got %d", b.Inputs-1, b.DisableInput)
	}

	if b.EnableInput == b.DisableInput {
		return fmt.Errorf("enable_input and disable_input must differ, both are %d", b.EnableInput)
	}

	if b.LEDOutput < 0 || b.LEDOutput >= b.Outputs {
		return fmt.Errorf("led_output must be between 0 and %d, got %d", b.Outputs-1, b.LEDOutput)
	}

	if b.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", b.PollInterval)
	}

	if b.DebounceInterval < 0 {
		return fmt.Errorf("debounce_interval cannot be negative, got %s", b.DebounceInterval)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// any other output value is a file path
	return nil
}

// Validate validates client configuration
func (c *ClientConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}

	if c.Mode != ModeImmediate && c.Mode != ModeBuffered {
		return fmt.Errorf("mode must be 'immediate' or 'buffered', got '%s'", c.Mode)
	}

	if c.ReceiveTimeout < 0 {
		return fmt.Errorf("receive_timeout cannot be negative, got %s", c.ReceiveTimeout)
	}

	return nil
}

// ListenAddress returns the UDP address the server binds to
func (s *ServerConfig) ListenAddress() string {
	return net.JoinHostPort(s.BindAddress, strconv.Itoa(s.Port))
}
