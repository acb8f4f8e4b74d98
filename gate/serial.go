package gate

import (
	"fmt"
	"sync"
	"time"

	iface "TruckGate/interface"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

type SerialConfig struct {
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baudRate"`
	// Settle is the wait after opening; most boards reset when the port opens.
	Settle time.Duration `yaml:"settle"`
}

const DefaultBaudRate = 9600

var openPort = func(name string, mode *serial.Mode) (serial.Port, error) {
	return serial.Open(name, mode)
}

// Serial writes commands to a microcontroller on a serial line.
type Serial struct {
	mu   sync.Mutex
	name string
	port serial.Port
}

var _ Transport = (*Serial)(nil)

// OpenSerial opens cfg.Port. On failure the error is logged and the returned
// transport answers every write with ErrNotConnected.
func OpenSerial(cfg SerialConfig, log *zap.Logger) *Serial {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Serial{name: cfg.Port}
	if cfg.Port == "" {
		log.Warn("no serial port configured, gate actuator disabled")
		return s
	}
	baud := cfg.BaudRate
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	port, err := openPort(cfg.Port, &serial.Mode{BaudRate: baud})
	if err != nil {
		log.Error("open serial port failed, gate actuator disabled",
			zap.String("port", cfg.Port), zap.Error(err))
		return s
	}
	if cfg.Settle > 0 {
		time.Sleep(cfg.Settle)
	}
	s.port = port
	log.Info("serial port opened", zap.String("port", cfg.Port), zap.Int("baud", baud))
	return s
}

func (s *Serial) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port != nil
}

func (s *Serial) Write(cmd iface.GateCommand) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return ErrNotConnected
	}
	payload := Encode(cmd)
	n, err := s.port.Write(payload)
	if err != nil {
		return fmt.Errorf("write %s: %w", s.name, err)
	}
	if n != len(payload) {
		return fmt.Errorf("write %s: short write %d/%d", s.name, n, len(payload))
	}
	return nil
}

func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}
