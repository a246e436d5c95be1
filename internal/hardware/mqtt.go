package hardware

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/gwaeber/HasciicamSocketStreaming/internal/config"
)

const mqttTimeout = 10 * time.Second

// MQTTSwitch is a remote stream switch. A message on the command topic acts like a
// momentary press of the enable or disable button: the input reads pressed exactly
// once and released afterwards. Output writes are published on the LED topic.
type MQTTSwitch struct {
	client       mqtt.Client
	cfg          config.MQTTConfig
	logger       *slog.Logger
	enableInput  int
	disableInput int
	ledOutput    int

	mu      sync.Mutex
	pending []bool
}

// DialMQTTSwitch connects to the broker and subscribes to the command topic
func DialMQTTSwitch(cfg config.ButtonConfig, logger *slog.Logger) (*MQTTSwitch, error) {
	s := newMQTTSwitch(cfg, logger)

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTT.Broker).
		SetClientID(cfg.MQTT.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(mqttTimeout).
		SetOnConnectHandler(func(c mqtt.Client) {
			// resubscribe after every reconnect
			token := c.Subscribe(cfg.MQTT.CommandTopic, cfg.MQTT.QoS, s.onMessage)
			if token.WaitTimeout(mqttTimeout) && token.Error() != nil {
				logger.Error("Failed to subscribe to switch topic",
					slog.String("topic", cfg.MQTT.CommandTopic),
					slog.String("error", token.Error().Error()),
				)
			}
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("MQTT switch connection lost", slog.String("error", err.Error()))
		})

	s.client = mqtt.NewClient(opts)

	token := s.client.Connect()
	if !token.WaitTimeout(mqttTimeout) {
		return nil, fmt.Errorf("timed out connecting to MQTT broker %s", cfg.MQTT.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", cfg.MQTT.Broker, err)
	}

	logger.Info("MQTT switch connected",
		slog.String("broker", cfg.MQTT.Broker),
		slog.String("command_topic", cfg.MQTT.CommandTopic),
		slog.String("led_topic", cfg.MQTT.LEDTopic),
	)

	return s, nil
}

func newMQTTSwitch(cfg config.ButtonConfig, logger *slog.Logger) *MQTTSwitch {
	return &MQTTSwitch{
		cfg:          cfg.MQTT,
		logger:       logger,
		enableInput:  cfg.EnableInput,
		disableInput: cfg.DisableInput,
		ledOutput:    cfg.LEDOutput,
		pending:      make([]bool, cfg.Inputs),
	}
}

func (s *MQTTSwitch) onMessage(_ mqtt.Client, msg mqtt.Message) {
	if !s.apply(msg.Payload()) {
		s.logger.Warn("Ignoring unknown switch command",
			slog.String("topic", msg.Topic()),
			slog.String("payload", string(msg.Payload())),
		)
	}
}

// apply latches a press for the command in payload
func (s *MQTTSwitch) apply(payload []byte) bool {
	var input int
	switch strings.ToLower(strings.TrimSpace(string(payload))) {
	case "enable", "on", "start", "1":
		input = s.enableInput
	case "disable", "off", "stop", "0":
		input = s.disableInput
	default:
		return false
	}

	s.mu.Lock()
	s.pending[input] = true
	s.mu.Unlock()

	return true
}

// ReadInputs reports latched presses and releases them
func (s *MQTTSwitch) ReadInputs() ([]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	states := make([]bool, len(s.pending))
	copy(states, s.pending)
	for i := range s.pending {
		s.pending[i] = false
	}

	return states, nil
}

// WriteOutputs publishes the LED output state as a retained "on" or "off"
func (s *MQTTSwitch) WriteOutputs(states []bool) error {
	if s.cfg.LEDTopic == "" || s.ledOutput >= len(states) {
		return nil
	}

	token := s.client.Publish(s.cfg.LEDTopic, s.cfg.QoS, true, LEDPayload(states[s.ledOutput]))
	if !token.WaitTimeout(mqttTimeout) {
		return fmt.Errorf("timed out publishing to %s", s.cfg.LEDTopic)
	}
	return token.Error()
}

// Close disconnects from the broker
func (s *MQTTSwitch) Close() error {
	if s.client != nil {
		s.client.Disconnect(250)
	}
	return nil
}

// LEDPayload is the message published for an LED state
func LEDPayload(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
