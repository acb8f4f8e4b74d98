package Adhoc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	iface "TruckGate/interface"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const TimeOutSeconds = 5

type RegisterRequest struct {
	Id          string `json:"id"`
	IP          string `json:"ip"`
	HTTPPort    int    `json:"httpPort"`
	RPCPort     int    `json:"rpcPort"`
	Transport   string `json:"transport"`
	LastCommand string `json:"lastCommand,omitempty"`
	TimeStamp   int64  `json:"timestamp"`
}

type RegisterResponse struct {
	Id      string `json:"id"`
	Success bool   `json:"success"`
}

type RegServerConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Interval time.Duration `yaml:"interval"`
}

func (reg RegServerConfig) URL() string {
	return fmt.Sprintf("http://%s:%d/api/register", reg.Host, reg.Port)
}

// Node describes this gate node to the registry.
type Node struct {
	IP        string
	HTTPPort  int
	RPCPort   int
	Transport string
	// LastCommand reports the last command delivered to the gate; may be nil.
	LastCommand func() iface.GateCommand
}

type Heartbeat struct {
	id     string
	url    string
	every  time.Duration
	node   Node
	client *resty.Client
	log    *zap.Logger
}

func NewHeartbeat(cfg RegServerConfig, node Node, log *zap.Logger) *Heartbeat {
	every := cfg.Interval
	if every <= 0 {
		every = TimeOutSeconds * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Heartbeat{
		id:     uuid.NewString(),
		url:    cfg.URL(),
		every:  every,
		node:   node,
		client: resty.New().SetTimeout(TimeOutSeconds * time.Second), // 总超时
		log:    log,
	}
}

func (h *Heartbeat) ID() string { return h.id }

// Beat sends one registration request.
func (h *Heartbeat) Beat(ctx context.Context) error {
	reqBody := RegisterRequest{
		Id:        h.id,
		IP:        h.node.IP,
		HTTPPort:  h.node.HTTPPort,
		RPCPort:   h.node.RPCPort,
		Transport: h.node.Transport,
		TimeStamp: time.Now().Unix(),
	}
	if h.node.LastCommand != nil {
		reqBody.LastCommand = string(h.node.LastCommand())
	}
	var respBody RegisterResponse
	resp, err := h.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).
		SetResult(&respBody).
		Post(h.url)
	if err != nil {
		return fmt.Errorf("register request: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("registry returned %s: %s", resp.Status(), resp.String())
	}
	if !respBody.Success {
		return fmt.Errorf("registry rejected node %s", h.id)
	}
	return nil
}

// Run beats immediately and then on every interval until ctx is done.
func (h *Heartbeat) Run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(h.every)
	defer ticker.Stop()
	safeDoRequest := func() {
		defer func() {
			if r := recover(); r != nil {
				h.log.Error("heartbeat panic recovered", zap.Any("panic", r))
			}
		}()
		if err := h.Beat(ctx); err != nil && ctx.Err() == nil {
			h.log.Warn("heartbeat failed", zap.String("url", h.url), zap.Error(err))
		}
	}
	safeDoRequest()
	for {
		select {
		case <-ctx.Done():
			h.log.Info("heartbeat stopped")
			return
		case <-ticker.C:
			safeDoRequest()
		}
	}
}

// GetOutboundIP returns the local address used to reach the outside; no
// packet is sent.
func GetOutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
