package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// Registry holds every gate metric. Collectors are registered at init so
// counters can be used before the metrics server starts.
var Registry = prometheus.NewRegistry()

var (
	memUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "memory_usage_Megabytes",
		Help: "Memory usage in Megabytes",
	})

	cpuUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cpu_usage_percent",
		Help: "CPU usage in percent",
	})

	// RequestsTotal counts frames received, by transport (http, ws, grpc, cli).
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gate_requests_total",
		Help: "Frames received for a gate decision",
	}, []string{"transport"})

	DecisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gate_decisions_total",
		Help: "Gate decisions by command",
	}, []string{"command"})

	ActuatorFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gate_actuator_failures_total",
		Help: "Commands that could not be written to the gate actuator",
	})

	OCRVariantWins = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gate_ocr_variant_wins_total",
		Help: "Plate reads won by each preprocessing variant",
	}, []string{"variant"})

	PipelineSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "gate_pipeline_seconds",
		Help:    "Time from decoded frame to gate command",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	})
)

func init() {
	Registry.MustRegister(memUsage, cpuUsage, RequestsTotal, DecisionsTotal,
		ActuatorFailures, OCRVariantWins, PipelineSeconds)
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

// CheckProcessInfo samples RSS and CPU of proc into the process gauges.
func CheckProcessInfo(proc *process.Process) {
	if memInfo, err := proc.MemoryInfo(); err == nil {
		memUsage.Set(float64(memInfo.RSS / 1024 / 1024))
	}
	if cpuPercent, err := proc.CPUPercent(); err == nil {
		cpuUsage.Set(math.Round(cpuPercent*100) / 100)
	}
}

// StartMon serves /metrics on port and samples the current process every
// interval until ctx is done.
func StartMon(ctx context.Context, port int, interval time.Duration, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return fmt.Errorf("inspect own process: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("prometheus server stopped", zap.Error(err))
		}
	}()
	log.Info("metrics server listening", zap.Int("port", port))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
checkPcs:
	for {
		select {
		case <-ctx.Done():
			break checkPcs
		case <-ticker.C:
			CheckProcessInfo(proc)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("prometheus server shutdown", zap.Error(err))
	}
	return nil
}
