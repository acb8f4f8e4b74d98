package iface

import (
	"encoding/json"
	"fmt"
)

// Reserved detector class names recognised by the decision policy.
const (
	ClassTruck        = "truck"
	ClassCar          = "car"
	ClassLicensePlate = "license_plate"
)

// Box 像素坐标 (x1,y1) 左上, (x2,y2) 右下
type Box struct {
	X1, Y1, X2, Y2 int
}

func (b Box) Width() int  { return b.X2 - b.X1 }
func (b Box) Height() int { return b.Y2 - b.Y1 }

// MarshalJSON encodes the box as [x1,y1,x2,y2], the shape the UI draws from.
func (b Box) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]int{b.X1, b.Y1, b.X2, b.Y2})
}

func (b *Box) UnmarshalJSON(data []byte) error {
	var v []float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if len(v) != 4 {
		return fmt.Errorf("box must have 4 coordinates, got %d", len(v))
	}
	b.X1, b.Y1, b.X2, b.Y2 = int(v[0]), int(v[1]), int(v[2]), int(v[3])
	return nil
}

type OCRStatus string

const (
	OCRNotAttempted  OCRStatus = ""
	OCRRead          OCRStatus = "read"
	OCRNoText        OCRStatus = "no_text"
	OCRLowConfidence OCRStatus = "low_confidence"
	OCRCropFailed    OCRStatus = "crop_failed"
)

// Detection is one object found in a frame. OCRText is only filled for
// license plates that were read successfully.
type Detection struct {
	Class     string    `json:"class"`
	Conf      float64   `json:"conf"`
	Box       Box       `json:"box"`
	OCRText   string    `json:"ocr_text,omitempty"`
	OCRStatus OCRStatus `json:"ocr_status,omitempty"`
}

type GateCommand string

const (
	CommandOpen   GateCommand = "OPEN"
	CommandDenied GateCommand = "DENIED"
	CommandBuzz   GateCommand = "BUZZ"
	CommandError  GateCommand = "ERROR"
)

// Action returns the lower-case name the web UI switches on.
func (c GateCommand) Action() string {
	switch c {
	case CommandOpen:
		return "allowed"
	case CommandDenied:
		return "denied"
	case CommandBuzz:
		return "buzz"
	case CommandError:
		return "error"
	}
	return ""
}

func (c GateCommand) Valid() bool {
	return c.Action() != ""
}

// TextHit is a single OCR result, Confidence in [0,1].
type TextHit struct {
	Text       string
	Confidence float64
}

// PlateRead is the best OCR result for one plate crop. Empty Text with zero
// Confidence means nothing was read.
type PlateRead struct {
	Text       string
	Confidence float64
	Variant    string
}

func (p PlateRead) Found() bool {
	return p.Text != ""
}
