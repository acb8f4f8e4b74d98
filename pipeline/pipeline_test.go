package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"os"
	"sync"
	"testing"

	"TruckGate/audit"
	"TruckGate/events"
	iface "TruckGate/interface"
	"TruckGate/policy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

type fakeDetector struct {
	dets  []iface.Detection
	err   error
	calls int
}

func (f *fakeDetector) Detect(gocv.Mat) ([]iface.Detection, error) {
	f.calls++
	return f.dets, f.err
}
func (f *fakeDetector) Close() error { return nil }

type fakeReader struct {
	read  iface.PlateRead
	sizes []image.Point
}

func (f *fakeReader) Read(crop gocv.Mat) iface.PlateRead {
	f.sizes = append(f.sizes, image.Pt(crop.Cols(), crop.Rows()))
	return f.read
}

type recordingSink struct {
	mu   sync.Mutex
	cmds []iface.GateCommand
	fail bool
}

func (s *recordingSink) Send(cmd iface.GateCommand) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cmds = append(s.cmds, cmd)
	return !s.fail
}

type memStore struct {
	plates []string
	err    error
}

func (m *memStore) Plates(context.Context) ([]string, error) { return m.plates, m.err }
func (m *memStore) Replace(_ context.Context, p []string) error {
	m.plates = p
	return nil
}

type recordingAudit struct {
	events []*audit.GateEvent
	err    error
}

func (r *recordingAudit) Record(_ context.Context, ev *audit.GateEvent) error {
	r.events = append(r.events, ev)
	return r.err
}
func (r *recordingAudit) Recent(context.Context, int) ([]audit.GateEvent, error) { return nil, nil }

type recordingEvents struct {
	decisions []events.Decision
	err       error
}

func (r *recordingEvents) Publish(_ context.Context, d events.Decision) error {
	r.decisions = append(r.decisions, d)
	return r.err
}
func (r *recordingEvents) Close() error { return nil }

type fixture struct {
	det    *fakeDetector
	reader *fakeReader
	sink   *recordingSink
	allow  *memStore
	audit  *recordingAudit
	events *recordingEvents
	p      *Pipeline
}

func newFixture(dets []iface.Detection, read iface.PlateRead, allow ...string) *fixture {
	f := &fixture{
		det:    &fakeDetector{dets: dets},
		reader: &fakeReader{read: read},
		sink:   &recordingSink{},
		allow:  &memStore{plates: allow},
		audit:  &recordingAudit{},
		events: &recordingEvents{},
	}
	f.p = New(Deps{
		Detector: f.det,
		Reader:   f.reader,
		Allow:    f.allow,
		Sink:     f.sink,
		Audit:    f.audit,
		Events:   f.events,
	}, Config{})
	return f
}

func frame(t *testing.T) gocv.Mat {
	t.Helper()
	m := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

var (
	truck     = iface.Detection{Class: iface.ClassTruck, Conf: 0.9, Box: iface.Box{X1: 50, Y1: 50, X2: 500, Y2: 400}}
	car       = iface.Detection{Class: iface.ClassCar, Conf: 0.95, Box: iface.Box{X1: 10, Y1: 10, X2: 200, Y2: 200}}
	goodPlate = iface.Detection{Class: iface.ClassLicensePlate, Conf: 0.8, Box: iface.Box{X1: 100, Y1: 100, X2: 200, Y2: 150}}
)

func TestProcess_AllowedTruckOpens(t *testing.T) {
	f := newFixture([]iface.Detection{truck, goodPlate}, iface.PlateRead{Text: "ABC123", Confidence: 0.9, Variant: "enhanced"}, "ABC123")

	res, err := f.p.Process(WithTransport(context.Background(), "http"), frame(t))
	require.NoError(t, err)

	assert.Equal(t, iface.CommandOpen, res.Command)
	assert.Equal(t, "allowed", res.Action)
	assert.Equal(t, "ABC123", res.PlateText)
	assert.True(t, res.Sent)
	assert.NotEmpty(t, res.RequestID)
	assert.Equal(t, []iface.GateCommand{iface.CommandOpen}, f.sink.cmds)

	require.Len(t, res.Detections, 2)
	assert.Equal(t, "ABC123", res.Detections[1].OCRText)
	assert.Equal(t, iface.OCRRead, res.Detections[1].OCRStatus)
	assert.Equal(t, iface.OCRNotAttempted, res.Detections[0].OCRStatus)
	assert.Equal(t, "Truck #1 (conf: 0.90) | Plate #1 (conf: 0.80): ABC123", res.Status)

	// padded crop handed to the reader
	assert.Equal(t, []image.Point{image.Pt(120, 60)}, f.reader.sizes)
	// detector output is not mutated
	assert.Empty(t, f.det.dets[1].OCRText)

	require.Len(t, f.audit.events, 1)
	ev := f.audit.events[0]
	assert.Equal(t, res.RequestID, ev.RequestID)
	assert.Equal(t, "http", ev.Transport)
	assert.Equal(t, "OPEN", ev.Command)
	assert.True(t, ev.Sent)
	var stored []iface.Detection
	require.NoError(t, json.Unmarshal([]byte(ev.Detections), &stored))
	assert.Len(t, stored, 2)

	require.Len(t, f.events.decisions, 1)
	assert.Equal(t, "allowed", f.events.decisions[0].Action)
}

func TestProcess_UnknownPlateDenied(t *testing.T) {
	f := newFixture([]iface.Detection{truck, goodPlate}, iface.PlateRead{Text: "XYZ789", Confidence: 0.7}, "ABC123")

	res, err := f.p.Process(context.Background(), frame(t))
	require.NoError(t, err)
	assert.Equal(t, iface.CommandDenied, res.Command)
	assert.Equal(t, "XYZ789", res.PlateText)
}

func TestProcess_LowConfidencePlateNotRead(t *testing.T) {
	weak := goodPlate
	weak.Conf = 0.5
	weak.OCRText = "ABC123"
	f := newFixture([]iface.Detection{truck, weak}, iface.PlateRead{Text: "ABC123", Confidence: 0.9}, "ABC123")

	res, err := f.p.Process(context.Background(), frame(t))
	require.NoError(t, err)
	assert.Empty(t, f.reader.sizes)
	assert.Equal(t, iface.OCRLowConfidence, res.Detections[1].OCRStatus)
	assert.Empty(t, res.Detections[1].OCRText)
	assert.Equal(t, iface.CommandDenied, res.Command)
	assert.Equal(t, []iface.GateCommand{iface.CommandDenied}, f.sink.cmds)
	assert.Empty(t, res.PlateText)
	assert.Contains(t, res.Status, "Plate #1 (conf: 0.50): low confidence")
}

func TestProcess_CropFailure(t *testing.T) {
	outside := goodPlate
	outside.Box = iface.Box{X1: 700, Y1: 500, X2: 800, Y2: 600}
	outside.OCRText = "ABC123"
	f := newFixture([]iface.Detection{truck, outside}, iface.PlateRead{Text: "ABC123", Confidence: 0.9}, "ABC123")

	res, err := f.p.Process(context.Background(), frame(t))
	require.NoError(t, err)
	assert.Equal(t, iface.OCRCropFailed, res.Detections[1].OCRStatus)
	assert.Empty(t, res.Detections[1].OCRText)
	assert.Equal(t, iface.CommandDenied, res.Command)
	assert.Equal(t, []iface.GateCommand{iface.CommandDenied}, f.sink.cmds)
	assert.Empty(t, f.reader.sizes)
}

func TestProcess_DetectorTextReplacedByRead(t *testing.T) {
	tagged := goodPlate
	tagged.OCRText = "ABC123"
	f := newFixture([]iface.Detection{truck, tagged}, iface.PlateRead{}, "ABC123")

	res, err := f.p.Process(context.Background(), frame(t))
	require.NoError(t, err)
	assert.Equal(t, iface.OCRNoText, res.Detections[1].OCRStatus)
	assert.Empty(t, res.Detections[1].OCRText)
	assert.Equal(t, iface.CommandDenied, res.Command)
	// detector output is not mutated
	assert.Equal(t, "ABC123", f.det.dets[1].OCRText)
}

func TestProcess_NoTextRead(t *testing.T) {
	f := newFixture([]iface.Detection{truck, goodPlate}, iface.PlateRead{})

	res, err := f.p.Process(context.Background(), frame(t))
	require.NoError(t, err)
	assert.Equal(t, iface.OCRNoText, res.Detections[1].OCRStatus)
	assert.Equal(t, iface.CommandDenied, res.Command)
}

func TestProcess_CarBuzzes(t *testing.T) {
	f := newFixture([]iface.Detection{car}, iface.PlateRead{})
	res, err := f.p.Process(context.Background(), frame(t))
	require.NoError(t, err)
	assert.Equal(t, iface.CommandBuzz, res.Command)
	assert.Equal(t, "buzz", res.Action)
}

func TestProcess_EmptyFrameErrorCommand(t *testing.T) {
	f := newFixture(nil, iface.PlateRead{})
	res, err := f.p.Process(context.Background(), frame(t))
	require.NoError(t, err)
	assert.Equal(t, iface.CommandError, res.Command)
	assert.Equal(t, "No objects detected", res.Status)
	assert.NotNil(t, res.Detections)
	assert.Equal(t, []iface.GateCommand{iface.CommandError}, f.sink.cmds)
}

func TestProcess_DetectorFailureSendsNothing(t *testing.T) {
	f := newFixture(nil, iface.PlateRead{})
	f.det.err = errors.New("cuda out of memory")

	res, err := f.p.Process(context.Background(), frame(t))
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrDetection)
	assert.Empty(t, f.sink.cmds)
	assert.Empty(t, f.audit.events)
}

func TestProcess_SideEffectFailuresIgnored(t *testing.T) {
	f := newFixture([]iface.Detection{truck, goodPlate}, iface.PlateRead{Text: "ABC123", Confidence: 0.9})
	f.allow.err = errors.New("redis down")
	f.sink.fail = true
	f.audit.err = errors.New("disk full")
	f.events.err = errors.New("nats down")

	res, err := f.p.Process(context.Background(), frame(t))
	require.NoError(t, err)
	assert.Equal(t, iface.CommandDenied, res.Command)
	assert.False(t, res.Sent)
}

func TestProcess_NormalizedMatch(t *testing.T) {
	f := newFixture([]iface.Detection{truck, goodPlate}, iface.PlateRead{Text: "abc 123", Confidence: 0.9}, "ABC123")
	f.p = New(Deps{Detector: f.det, Reader: f.reader, Allow: f.allow, Sink: f.sink}, Config{MatchMode: policy.MatchNormalized})

	res, err := f.p.Process(context.Background(), frame(t))
	require.NoError(t, err)
	assert.Equal(t, iface.CommandOpen, res.Command)
	assert.Equal(t, "abc 123", res.PlateText)
}

func TestProcess_DebugDump(t *testing.T) {
	dir := t.TempDir()
	f := newFixture([]iface.Detection{truck, goodPlate}, iface.PlateRead{})
	f.p = New(Deps{Detector: f.det, Reader: f.reader, Allow: f.allow, Sink: f.sink}, Config{DebugDir: dir})

	_, err := f.p.Process(context.Background(), frame(t))
	require.NoError(t, err)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestProcessImage(t *testing.T) {
	f := newFixture([]iface.Detection{car}, iface.PlateRead{})

	_, err := f.p.ProcessImage(context.Background(), []byte("definitely not a jpeg"))
	assert.ErrorIs(t, err, ErrUndecodableImage)
	_, err = f.p.ProcessImage(context.Background(), nil)
	assert.ErrorIs(t, err, ErrUndecodableImage)
	assert.Equal(t, 0, f.det.calls)
	assert.Empty(t, f.sink.cmds)

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, frame(t))
	require.NoError(t, err)
	defer buf.Close()
	res, err := f.p.ProcessImage(context.Background(), buf.GetBytes())
	require.NoError(t, err)
	assert.Equal(t, iface.CommandBuzz, res.Command)
}

func TestResultJSON(t *testing.T) {
	res := Result{
		RequestID:  "r1",
		Detections: []iface.Detection{{Class: "truck", Conf: 0.87, Box: iface.Box{X1: 1, Y1: 2, X2: 3, Y2: 4}}},
		Status:     "Truck #1 (conf: 0.87)",
		Command:    iface.CommandDenied,
		Action:     "denied",
		Sent:       true,
	}
	b, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"request_id":"r1",
		"detections":[{"class":"truck","conf":0.87,"box":[1,2,3,4]}],
		"status":"Truck #1 (conf: 0.87)",
		"command":"DENIED",
		"action":"denied",
		"plate_text":"",
		"sent":true,
		"elapsed_ms":0
	}`, string(b))
}

func TestDecodeDataURL(t *testing.T) {
	data, err := DecodeDataURL("data:image/jpeg;base64,aGVsbG8=")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	data, err = DecodeDataURL("aGVsbG8=")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	_, err = DecodeDataURL("data:image/jpeg;base64,@@@")
	assert.ErrorIs(t, err, ErrUndecodableImage)
	_, err = DecodeDataURL("data:image/png;base64,")
	assert.ErrorIs(t, err, ErrUndecodableImage)
}
