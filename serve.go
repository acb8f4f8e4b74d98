package main

import (
	"context"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"TruckGate/Adhoc"
	proto "TruckGate/gRPC"
	"TruckGate/logger"
	"TruckGate/monitor"
	"TruckGate/pipeline"
	"TruckGate/server"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP, WebSocket and gRPC gate service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func runServe() error {
	log := logger.Log()
	log.Info("starting truckgate",
		zap.Int("cpuCores", runtime.NumCPU()),
		zap.Int("HTTPPort", cfg.HTTPPort),
		zap.Int("RPCPort", cfg.RPCPort),
		zap.Int("MetricsPort", cfg.MetricsPort),
		zap.Int("workersNum", cfg.WorkersNum),
		zap.String("gate", cfg.Gate.Kind))

	a, err := newApp(cfg, log, appOptions{hardware: true, record: true})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool := pipeline.NewPool(a.pipeline, cfg.WorkersNum, cfg.QueueSize, logger.Component("pool"))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := monitor.StartMon(ctx, cfg.MetricsPort, 500*time.Millisecond, logger.Component("monitor")); err != nil {
			log.Error("metrics disabled", zap.Error(err))
		}
	}()

	httpSrv := server.New(server.Options{
		Jobs:      pool,
		Allow:     a.allow,
		Audit:     a.audit,
		StaticDir: cfg.StaticDir,
		ModelsDir: cfg.ModelsDir,
		Log:       logger.Component("http"),
	}).Start(cfg.HTTPPort)

	grpcSrv, err := proto.StartGRPCServer(cfg.RPCPort, proto.NewServer(pool, a.allow, logger.Component("grpc")), logger.Component("grpc"))
	if err != nil {
		stop()
		_ = httpSrv.Close()
		pool.Close()
		wg.Wait()
		return err
	}

	if cfg.RegServer.Enabled {
		ip, err := Adhoc.GetOutboundIP()
		if err != nil {
			log.Warn("failed to get outbound IP", zap.Error(err))
		}
		hb := Adhoc.NewHeartbeat(cfg.RegServer, Adhoc.Node{
			IP:          ip,
			HTTPPort:    cfg.HTTPPort,
			RPCPort:     cfg.RPCPort,
			Transport:   cfg.Gate.Kind,
			LastCommand: a.gate.Last,
		}, logger.Component("heartbeat"))
		log.Info("registering with registry", zap.String("id", hb.ID()), zap.String("ip", ip))
		wg.Add(1)
		go hb.Run(ctx, &wg)
	} else {
		log.Info("UseRegServer is set to false, skipping registration")
	}

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown", zap.Error(err))
	}
	grpcSrv.GracefulStop()
	pool.Close()
	wg.Wait()
	log.Info("Safely exited")
	return nil
}
