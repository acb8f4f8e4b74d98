package engine

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	iface "TruckGate/interface"

	"github.com/go-resty/resty/v2"
	"gocv.io/x/gocv"
)

const defaultRemoteTimeout = 10 * time.Second

type remoteRequest struct {
	Image string `json:"image"`
}

type remoteResponse struct {
	Detections []iface.Detection `json:"detections"`
	Error      string            `json:"error,omitempty"`
}

// RemoteDetector sends JPEG frames to an HTTP detection service that
// answers {"detections":[{"class","conf","box"}]}.
type RemoteDetector struct {
	url    string
	client *resty.Client
}

var _ Detector = (*RemoteDetector)(nil)

func NewRemoteDetector(url string, timeout time.Duration) *RemoteDetector {
	if timeout <= 0 {
		timeout = defaultRemoteTimeout
	}
	return &RemoteDetector{
		url:    url,
		client: resty.New().SetTimeout(timeout),
	}
}

func (r *RemoteDetector) Detect(frame gocv.Mat) ([]iface.Detection, error) {
	if r.url == "" {
		return nil, errors.New("remote detector url not configured")
	}
	if frame.Empty() {
		return nil, errors.New("empty frame")
	}
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, frame)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	body := remoteRequest{Image: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.GetBytes())}
	buf.Close()

	var out remoteResponse
	resp, err := r.client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&out).
		SetError(&out).
		Post(r.url)
	if err != nil {
		return nil, fmt.Errorf("remote detect: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("remote detect: %s: %s", resp.Status(), out.Error)
	}
	if out.Detections == nil {
		out.Detections = []iface.Detection{}
	}
	return out.Detections, nil
}

func (r *RemoteDetector) Close() error { return nil }
