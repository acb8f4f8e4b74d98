// Package engine wraps the object detector that finds vehicles and plates.
package engine

import (
	"fmt"
	"os"
	"strings"
	"time"

	iface "TruckGate/interface"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// Detector finds objects in a BGR frame. Boxes are in frame pixels.
type Detector interface {
	Detect(frame gocv.Mat) ([]iface.Detection, error)
	Close() error
}

const (
	KindONNX   = "onnx"
	KindRemote = "remote"
)

type Config struct {
	Kind      string   `yaml:"kind"`
	ModelPath string   `yaml:"modelPath"`
	Names     []string `yaml:"names"`
	NamesFile string   `yaml:"namesFile"`
	Conf      float32  `yaml:"conf"`
	Iou       float32  `yaml:"iou"`
	InputSize int      `yaml:"inputSize"`
	UseGPU    bool     `yaml:"useGPU"`

	RemoteURL string        `yaml:"remoteURL"`
	Timeout   time.Duration `yaml:"timeout"`
}

// New builds the detector selected by cfg.Kind.
func New(cfg Config, log *zap.Logger) (Detector, error) {
	if log == nil {
		log = zap.NewNop()
	}
	switch cfg.Kind {
	case "", KindONNX:
		names := cfg.Names
		if cfg.NamesFile != "" {
			var err error
			if names, err = ReadNames(cfg.NamesFile); err != nil {
				return nil, err
			}
		}
		return NewONNXDetector(ONNXConfig{
			ModelPath: cfg.ModelPath,
			Names:     names,
			Conf:      cfg.Conf,
			Iou:       cfg.Iou,
			InputSize: cfg.InputSize,
			UseGPU:    cfg.UseGPU,
		}, log)
	case KindRemote:
		return NewRemoteDetector(cfg.RemoteURL, cfg.Timeout), nil
	}
	return nil, fmt.Errorf("unknown detector kind %q", cfg.Kind)
}

// ReadNames reads one class name per line.
func ReadNames(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read names file: %w", err)
	}
	var names []string
	for _, l := range strings.Split(string(b), "\n") {
		// 支持 Windows CRLF
		l = strings.TrimSpace(strings.TrimRight(l, "\r"))
		if l != "" {
			names = append(names, l)
		}
	}
	return names, nil
}
