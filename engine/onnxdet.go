package engine

import (
	"errors"
	"fmt"
	"image"
	"sync"

	iface "TruckGate/interface"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

type ONNXConfig struct {
	ModelPath string
	Names     []string
	Conf      float32
	Iou       float32
	InputSize int
	UseGPU    bool
}

const (
	DefaultInputSize = 640
	defaultConf      = 0.25
	defaultIou       = 0.45
)

// ONNXDetector runs a YOLOv8 ONNX export through the OpenCV DNN module.
// A cv::dnn::Net is not safe for concurrent Forward calls, so Detect holds mu.
type ONNXDetector struct {
	mu     sync.Mutex
	net    gocv.Net
	cfg    ONNXConfig
	log    *zap.Logger
	closed bool
}

var _ Detector = (*ONNXDetector)(nil)

func NewONNXDetector(cfg ONNXConfig, log *zap.Logger) (*ONNXDetector, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.ModelPath == "" {
		return nil, errors.New("model path cannot be empty")
	}
	if len(cfg.Names) == 0 {
		return nil, errors.New("detector class names cannot be empty")
	}
	if cfg.Conf <= 0 || cfg.Conf > 1 {
		cfg.Conf = defaultConf
	}
	if cfg.Iou <= 0 || cfg.Iou > 1 {
		cfg.Iou = defaultIou
	}
	if cfg.InputSize <= 0 {
		cfg.InputSize = DefaultInputSize
	}
	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("load onnx model %s", cfg.ModelPath)
	}
	if cfg.UseGPU {
		net.SetPreferableBackend(gocv.NetBackendCUDA)
		net.SetPreferableTarget(gocv.NetTargetCUDA)
	}
	d := &ONNXDetector{net: net, cfg: cfg, log: log}
	log.Info("onnx detector loaded",
		zap.String("model", cfg.ModelPath), zap.Int("classes", len(cfg.Names)),
		zap.Float32("conf", cfg.Conf), zap.Float32("iou", cfg.Iou), zap.Bool("gpu", cfg.UseGPU))
	if cfg.UseGPU {
		d.warmUp()
	}
	return d, nil
}

// warmUp 首次 CUDA 推理很慢, 先跑几次小黑图
func (d *ONNXDetector) warmUp() {
	warmMat := gocv.NewMatWithSize(32, 32, gocv.MatTypeCV8UC3)
	defer warmMat.Close()
	for i := 0; i < 3; i++ {
		func() {
			defer func() {
				if r := recover(); r != nil {
					d.log.Warn("panic during warmup detect", zap.Any("panic", r))
				}
			}()
			_, _ = d.Detect(warmMat)
		}()
	}
	d.log.Info("warm up finished")
}

func (d *ONNXDetector) Detect(frame gocv.Mat) ([]iface.Detection, error) {
	if frame.Empty() {
		return nil, errors.New("empty frame")
	}
	size := d.cfg.InputSize
	blob := gocv.BlobFromImage(frame, 1.0/255.0, image.Pt(size, size), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, errors.New("detector closed")
	}
	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	d.mu.Unlock()
	defer out.Close()

	dims := out.Size()
	if len(dims) != 3 || dims[1] < 5 {
		return nil, fmt.Errorf("unexpected yolo output shape %v", dims)
	}
	attrs, n := dims[1], dims[2]
	flat := out.Reshape(1, attrs)
	defer flat.Close()
	view, err := flat.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read yolo output: %w", err)
	}
	data := make([]float32, len(view))
	copy(data, view)

	scaleX := float64(frame.Cols()) / float64(size)
	scaleY := float64(frame.Rows()) / float64(size)
	cands := decodeYOLOv8(data, attrs, n, scaleX, scaleY, d.cfg.Conf)
	if len(cands) == 0 {
		return []iface.Detection{}, nil
	}

	// per-class NMS: shift boxes so different classes never overlap
	offset := max(frame.Cols(), frame.Rows()) + 1
	rects := make([]image.Rectangle, len(cands))
	scores := make([]float32, len(cands))
	for i, c := range cands {
		rects[i] = c.rect.Add(image.Pt(c.class*offset, c.class*offset))
		scores[i] = c.score
	}
	keep := gocv.NMSBoxes(rects, scores, d.cfg.Conf, d.cfg.Iou)
	return toDetections(cands, keep, d.cfg.Names, frame.Cols(), frame.Rows()), nil
}

func (d *ONNXDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.net.Close()
}

type candidate struct {
	rect  image.Rectangle
	score float32
	class int
}

// decodeYOLOv8 reads a [4+nc, n] attribute-major output: cx, cy, w, h in
// input pixels followed by one score per class.
func decodeYOLOv8(data []float32, attrs, n int, scaleX, scaleY float64, conf float32) []candidate {
	if attrs < 5 || len(data) < attrs*n {
		return nil
	}
	var out []candidate
	for i := 0; i < n; i++ {
		best, cls := float32(0), -1
		for c := 0; c < attrs-4; c++ {
			if s := data[(4+c)*n+i]; s > best {
				best, cls = s, c
			}
		}
		if cls < 0 || best < conf {
			continue
		}
		cx, cy := float64(data[i]), float64(data[n+i])
		w, h := float64(data[2*n+i]), float64(data[3*n+i])
		out = append(out, candidate{
			rect: image.Rect(
				int((cx-w/2)*scaleX), int((cy-h/2)*scaleY),
				int((cx+w/2)*scaleX), int((cy+h/2)*scaleY),
			),
			score: best,
			class: cls,
		})
	}
	return out
}

func toDetections(cands []candidate, keep []int, names []string, frameW, frameH int) []iface.Detection {
	bounds := image.Rect(0, 0, frameW, frameH)
	dets := make([]iface.Detection, 0, len(keep))
	for _, k := range keep {
		if k < 0 || k >= len(cands) {
			continue
		}
		c := cands[k]
		r := c.rect.Intersect(bounds)
		if r.Empty() {
			continue
		}
		name := fmt.Sprintf("class_%d", c.class)
		if c.class < len(names) {
			name = names[c.class]
		}
		dets = append(dets, iface.Detection{
			Class: name,
			Conf:  float64(c.score),
			Box:   iface.Box{X1: r.Min.X, Y1: r.Min.Y, X2: r.Max.X, Y2: r.Max.Y},
		})
	}
	return dets
}
