// Package gate writes gate commands to the physical actuator.
package gate

import (
	"errors"
	"fmt"
	"time"

	iface "TruckGate/interface"

	"go.uber.org/zap"
)

var ErrNotConnected = errors.New("gate actuator not connected")

// Transport is one physical channel to the gate controller.
type Transport interface {
	Write(cmd iface.GateCommand) error
	Close() error
}

// Encode returns the wire form of cmd: the command name and a newline.
func Encode(cmd iface.GateCommand) []byte {
	return []byte(string(cmd) + "\n")
}

const (
	KindSerial = "serial"
	KindMQTT   = "mqtt"
	KindLog    = "log"
	KindNone   = "none"
)

type Config struct {
	// Kind is serial, mqtt, log or none.
	Kind   string       `yaml:"kind"`
	Serial SerialConfig `yaml:"serial"`
	MQTT   MQTTConfig   `yaml:"mqtt"`
}

// Open builds the transport named by cfg.Kind. A serial port that cannot be
// opened is not an error: the returned transport stays disconnected.
func Open(cfg Config, log *zap.Logger) (Transport, error) {
	if log == nil {
		log = zap.NewNop()
	}
	switch cfg.Kind {
	case KindSerial:
		return OpenSerial(cfg.Serial, log), nil
	case KindMQTT:
		return DialMQTT(cfg.MQTT, log)
	case KindLog:
		return NewLogTransport(log), nil
	case "", KindNone:
		return Noop{}, nil
	}
	return nil, fmt.Errorf("unknown gate transport %q", cfg.Kind)
}

// Noop is the transport of a deployment without hardware.
type Noop struct{}

func (Noop) Write(iface.GateCommand) error { return ErrNotConnected }
func (Noop) Close() error                  { return nil }

// LogTransport pretends every write succeeded and logs it. Used for demos.
type LogTransport struct {
	log *zap.Logger
}

func NewLogTransport(log *zap.Logger) *LogTransport {
	return &LogTransport{log: log}
}

func (l *LogTransport) Write(cmd iface.GateCommand) error {
	l.log.Info("gate command", zap.String("command", string(cmd)), zap.Time("at", time.Now()))
	return nil
}

func (l *LogTransport) Close() error { return nil }
