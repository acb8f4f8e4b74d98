package gate

import (
	"sync"

	iface "TruckGate/interface"
	"TruckGate/monitor"

	"go.uber.org/zap"
)

// Controller is the only writer to the gate. Sends are serialized so two
// frames processed in parallel never interleave bytes on the channel.
type Controller struct {
	mu   sync.Mutex
	t    Transport
	log  *zap.Logger
	last iface.GateCommand
}

func NewController(t Transport, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	if t == nil {
		t = Noop{}
	}
	return &Controller{t: t, log: log}
}

// Send writes cmd exactly once. It reports whether the write succeeded;
// failures are logged and counted, never retried.
func (c *Controller) Send(cmd iface.GateCommand) bool {
	if !cmd.Valid() {
		c.log.Error("refusing unknown gate command", zap.String("command", string(cmd)))
		monitor.ActuatorFailures.Inc()
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.t.Write(cmd); err != nil {
		c.log.Warn("gate command not delivered", zap.String("command", string(cmd)), zap.Error(err))
		monitor.ActuatorFailures.Inc()
		return false
	}
	c.last = cmd
	c.log.Info("gate command sent", zap.String("command", string(cmd)))
	return true
}

// Last is the most recent command that reached the actuator.
func (c *Controller) Last() iface.GateCommand {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t.Close()
}
