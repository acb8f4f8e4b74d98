package gate

import (
	"errors"
	"fmt"
	"time"

	iface "TruckGate/interface"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

type MQTTConfig struct {
	Broker   string        `yaml:"broker"`
	ClientID string        `yaml:"clientID"`
	Topic    string        `yaml:"topic"`
	QoS      byte          `yaml:"qos"`
	Timeout  time.Duration `yaml:"timeout"`
}

const (
	DefaultMQTTTopic   = "truckgate/gate/command"
	defaultMQTTTimeout = 2 * time.Second
	mqttConnectTimeout = 5 * time.Second
)

var errPublishTimeout = errors.New("mqtt publish timeout")

// MQTT publishes commands to a broker-attached gate controller.
type MQTT struct {
	client  mqtt.Client
	topic   string
	qos     byte
	timeout time.Duration
}

var _ Transport = (*MQTT)(nil)

func NewMQTT(client mqtt.Client, cfg MQTTConfig) *MQTT {
	m := &MQTT{client: client, topic: cfg.Topic, qos: cfg.QoS, timeout: cfg.Timeout}
	if m.topic == "" {
		m.topic = DefaultMQTTTopic
	}
	if m.timeout <= 0 {
		m.timeout = defaultMQTTTimeout
	}
	return m
}

// DialMQTT connects to cfg.Broker with auto-reconnect enabled.
func DialMQTT(cfg MQTTConfig, log *zap.Logger) (*MQTT, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt broker not configured")
	}
	if log == nil {
		log = zap.NewNop()
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		log.Info("mqtt connection established", zap.String("broker", cfg.Broker))
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn("mqtt connection lost, will auto-reconnect", zap.String("broker", cfg.Broker), zap.Error(err))
	}

	return connectMQTT(mqtt.NewClient(opts), cfg)
}

// connectMQTT waits for the first connection. On failure the client is
// disconnected so its retry loop stops.
func connectMQTT(client mqtt.Client, cfg MQTTConfig) (*MQTT, error) {
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connect %s: timeout", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, err)
	}
	return NewMQTT(client, cfg), nil
}

func (m *MQTT) Write(cmd iface.GateCommand) error {
	if !m.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	token := m.client.Publish(m.topic, m.qos, false, Encode(cmd))
	if !token.WaitTimeout(m.timeout) {
		return errPublishTimeout
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", m.topic, err)
	}
	return nil
}

func (m *MQTT) Close() error {
	m.client.Disconnect(250)
	return nil
}
