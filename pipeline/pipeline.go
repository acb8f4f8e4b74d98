// Package pipeline turns one camera frame into one gate command.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"TruckGate/allowlist"
	"TruckGate/audit"
	"TruckGate/engine"
	"TruckGate/events"
	iface "TruckGate/interface"
	"TruckGate/monitor"
	"TruckGate/plate"
	"TruckGate/policy"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

var (
	ErrUndecodableImage = errors.New("undecodable image")
	ErrDetection        = errors.New("detection failed")
)

// DefaultPlateFloor is the detector confidence a plate must exceed to be read.
const DefaultPlateFloor = 0.5

// PlateReader reads the text of one plate crop.
type PlateReader interface {
	Read(crop gocv.Mat) iface.PlateRead
}

// Sink delivers the command to the gate and reports success.
type Sink interface {
	Send(cmd iface.GateCommand) bool
}

type Result struct {
	RequestID  string            `json:"request_id"`
	Detections []iface.Detection `json:"detections"`
	Status     string            `json:"status"`
	Command    iface.GateCommand `json:"command"`
	Action     string            `json:"action"`
	PlateText  string            `json:"plate_text"`
	Sent       bool              `json:"sent"`
	ElapsedMs  int64             `json:"elapsed_ms"`
}

// Config tunes a pipeline. DebugDir, when set, receives a PNG of every
// plate crop.
type Config struct {
	PlateFloor float64          `yaml:"plateFloor"`
	MatchMode  policy.MatchMode `yaml:"matchMode"`
	DebugDir   string           `yaml:"debugDir"`
}

// Deps are the collaborators of a pipeline. Audit and Events may be nil.
type Deps struct {
	Detector engine.Detector
	Reader   PlateReader
	Allow    allowlist.Store
	Sink     Sink
	Audit    audit.Recorder
	Events   events.Publisher
	Log      *zap.Logger
}

type Pipeline struct {
	d      Deps
	policy policy.Policy
	floor  float64
	debug  string
}

func New(d Deps, cfg Config) *Pipeline {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Audit == nil {
		d.Audit = audit.Noop{}
	}
	if d.Events == nil {
		d.Events = events.NoopPublisher{}
	}
	floor := cfg.PlateFloor
	if floor <= 0 || floor >= 1 {
		floor = DefaultPlateFloor
	}
	return &Pipeline{d: d, policy: policy.Policy{Mode: cfg.MatchMode}, floor: floor, debug: cfg.DebugDir}
}

type transportKey struct{}

// WithTransport tags ctx with the channel the frame arrived on.
func WithTransport(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, transportKey{}, name)
}

func transportOf(ctx context.Context) string {
	if s, ok := ctx.Value(transportKey{}).(string); ok {
		return s
	}
	return "unknown"
}

// ProcessImage decodes an encoded image (JPEG, PNG, ...) and processes it.
func (p *Pipeline) ProcessImage(ctx context.Context, data []byte) (*Result, error) {
	if len(data) == 0 {
		return nil, ErrUndecodableImage
	}
	frame, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUndecodableImage, err)
	}
	defer frame.Close()
	if frame.Empty() {
		return nil, ErrUndecodableImage
	}
	return p.Process(ctx, frame)
}

// Process runs detect, read, decide and send for one BGR frame. Exactly one
// command is sent unless the detector fails, which is returned as
// ErrDetection with nothing sent.
func (p *Pipeline) Process(ctx context.Context, frame gocv.Mat) (*Result, error) {
	start := time.Now()
	reqID := uuid.NewString()
	log := p.d.Log.With(zap.String("requestID", reqID))

	dets, err := p.d.Detector.Detect(frame)
	if err != nil {
		log.Error("detector failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrDetection, err)
	}
	dets = append(make([]iface.Detection, 0, len(dets)), dets...)
	p.readPlates(frame, dets, reqID, log)

	allow := allowlist.Load(ctx, p.d.Allow, log)
	dec := p.policy.Decide(dets, allow)
	sent := p.d.Sink.Send(dec.Command)

	elapsed := time.Since(start)
	monitor.DecisionsTotal.WithLabelValues(string(dec.Command)).Inc()
	monitor.PipelineSeconds.Observe(elapsed.Seconds())

	res := &Result{
		RequestID:  reqID,
		Detections: dets,
		Status:     dec.Status,
		Command:    dec.Command,
		Action:     dec.Command.Action(),
		PlateText:  dec.PlateText,
		Sent:       sent,
		ElapsedMs:  elapsed.Milliseconds(),
	}
	log.Info("gate decision",
		zap.String("command", string(res.Command)), zap.String("plate", res.PlateText),
		zap.Bool("sent", sent), zap.Int("detections", len(dets)), zap.Duration("elapsed", elapsed))
	p.record(ctx, res, log)
	return res, nil
}

// readPlates fills OCRText and OCRStatus of every license plate in dets.
// Text supplied by the detector is discarded; only local reads count.
func (p *Pipeline) readPlates(frame gocv.Mat, dets []iface.Detection, reqID string, log *zap.Logger) {
	for i := range dets {
		d := &dets[i]
		if d.Class != iface.ClassLicensePlate {
			continue
		}
		d.OCRText = ""
		d.OCRStatus = iface.OCRNotAttempted
		if d.Conf <= p.floor {
			d.OCRStatus = iface.OCRLowConfidence
			continue
		}
		crop, err := plate.Extract(frame, d.Box)
		if err != nil {
			log.Warn("plate crop failed", zap.Int("index", i), zap.Any("box", d.Box), zap.Error(err))
			d.OCRStatus = iface.OCRCropFailed
			crop.Close()
			continue
		}
		p.dumpCrop(crop, reqID, i, log)
		read := p.d.Reader.Read(crop)
		crop.Close()
		if !read.Found() {
			d.OCRStatus = iface.OCRNoText
			continue
		}
		d.OCRText = read.Text
		d.OCRStatus = iface.OCRRead
		monitor.OCRVariantWins.WithLabelValues(read.Variant).Inc()
	}
}

func (p *Pipeline) dumpCrop(crop gocv.Mat, reqID string, i int, log *zap.Logger) {
	if p.debug == "" {
		return
	}
	if err := os.MkdirAll(p.debug, 0o755); err != nil {
		log.Warn("create debug dir", zap.Error(err))
		return
	}
	name := filepath.Join(p.debug, fmt.Sprintf("%s_plate%d.png", reqID, i))
	if !gocv.IMWrite(name, crop) {
		log.Warn("write debug crop failed", zap.String("file", name))
	}
}

// record writes the audit row and publishes the decision. Failures are
// logged only; the command has already been sent.
func (p *Pipeline) record(ctx context.Context, res *Result, log *zap.Logger) {
	detJSON, err := json.Marshal(res.Detections)
	if err != nil {
		detJSON = []byte("[]")
	}
	ev := &audit.GateEvent{
		RequestID:  res.RequestID,
		Transport:  transportOf(ctx),
		Command:    string(res.Command),
		PlateText:  res.PlateText,
		Status:     res.Status,
		Detections: string(detJSON),
		Sent:       res.Sent,
	}
	if err := p.d.Audit.Record(ctx, ev); err != nil {
		log.Warn("audit record failed", zap.Error(err))
	}
	err = p.d.Events.Publish(ctx, events.Decision{
		RequestID:  res.RequestID,
		Command:    string(res.Command),
		Action:     res.Action,
		PlateText:  res.PlateText,
		Status:     res.Status,
		Sent:       res.Sent,
		Detections: len(res.Detections),
		Timestamp:  time.Now().UTC(),
	})
	if err != nil {
		log.Warn("publish decision failed", zap.Error(err))
	}
}
