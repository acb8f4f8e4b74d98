package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"TruckGate/allowlist"
	"TruckGate/audit"
	"TruckGate/config"
	"TruckGate/engine"
	"TruckGate/events"
	"TruckGate/gate"
	iface "TruckGate/interface"
	"TruckGate/logger"
	"TruckGate/pipeline"
	"TruckGate/plate"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type appOptions struct {
	// hardware opens the configured gate transport; otherwise commands are
	// only logged.
	hardware bool
	// record writes decisions to the audit log and the event bus.
	record bool
}

// app holds every component built from one config.
type app struct {
	allow    allowlist.Store
	gate     *gate.Controller
	audit    audit.Recorder
	pipeline *pipeline.Pipeline

	closers []func() error
	log     *zap.Logger
}

// dryRun stands in for the gate when commands must not reach hardware.
type dryRun struct {
	log *zap.Logger
}

func (d dryRun) Send(cmd iface.GateCommand) bool {
	d.log.Info("dry run, gate command not sent", zap.String("command", string(cmd)))
	return false
}

// openAllowList returns the configured store and its cleanup.
func openAllowList(c config.AllowConfig, log *zap.Logger) (allowlist.Store, func() error, error) {
	switch c.Backend {
	case config.AllowRedis:
		rdb := redis.NewClient(&redis.Options{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis not reachable, allow-list reads will fail until it is",
				zap.String("addr", c.RedisAddr), zap.Error(err))
		}
		return allowlist.NewRedisStore(rdb, c.RedisKey), rdb.Close, nil
	case config.AllowFile:
		fs := allowlist.NewFileStore(c.File)
		log.Debug("allow-list file", zap.String("path", fs.Path()))
		return fs, func() error { return nil }, nil
	}
	return nil, nil, fmt.Errorf("unknown allowlist backend %q", c.Backend)
}

func newApp(c *config.Config, log *zap.Logger, opts appOptions) (_ *app, err error) {
	a := &app{log: log, audit: audit.Noop{}}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	allow, closeAllow, err := openAllowList(c.Allow, logger.Component("allowlist"))
	if err != nil {
		return nil, err
	}
	a.allow = allow
	a.closers = append(a.closers, closeAllow)

	detector, err := engine.New(c.Engine, logger.Component("engine"))
	if err != nil {
		return nil, fmt.Errorf("load detector: %w", err)
	}
	a.closers = append(a.closers, detector.Close)

	ocr, err := plate.NewTesseract(c.OCR)
	if err != nil {
		return nil, fmt.Errorf("init tesseract: %w", err)
	}
	a.closers = append(a.closers, ocr.Close)

	var sink pipeline.Sink = dryRun{log: logger.Component("gate")}
	if opts.hardware {
		t, err := gate.Open(c.Gate, logger.Component("gate"))
		if err != nil {
			return nil, fmt.Errorf("open gate transport: %w", err)
		}
		a.gate = gate.NewController(t, logger.Component("gate"))
		a.closers = append(a.closers, a.gate.Close)
		sink = a.gate
	}

	pub := events.Publisher(events.NoopPublisher{})
	if opts.record {
		if c.Audit.Dialect != "" {
			store, err := audit.Open(c.Audit.Dialect, c.Audit.DSN)
			if err != nil {
				return nil, err
			}
			a.audit = store
			a.closers = append(a.closers, store.Close)
		}
		if c.Events.NATSURL != "" {
			p, err := events.NewNATSPublisher(c.Events.NATSURL)
			if err != nil {
				// 事件总线不可用不影响放行
				log.Warn("nats unavailable, decision events disabled", zap.String("url", c.Events.NATSURL), zap.Error(err))
			} else {
				pub = p
				a.closers = append(a.closers, p.Close)
			}
		}
	}

	a.pipeline = pipeline.New(pipeline.Deps{
		Detector: detector,
		Reader:   plate.NewReader(ocr, logger.Component("plate")),
		Allow:    a.allow,
		Sink:     sink,
		Audit:    a.audit,
		Events:   pub,
		Log:      logger.Component("pipeline"),
	}, c.Pipeline)
	return a, nil
}

// Close releases components in reverse order of creation.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.log.Warn("close components", zap.Error(err))
		return err
	}
	return nil
}
