// Package plate extracts license plate crops from a frame and reads their
// text with an ensemble of preprocessing variants.
package plate

import (
	"errors"
	"image"
	"math"

	iface "TruckGate/interface"

	"gocv.io/x/gocv"
)

var ErrInvalidBox = errors.New("invalid plate box")

const (
	minPadX = 5
	minPadY = 3
	padFrac = 0.1
)

// PaddedRect clamps box to a frameW x frameH frame, pads it by
// max(5, 10% width) horizontally and max(3, 10% height) vertically and clamps
// again. A box with no area left after the first clamp is ErrInvalidBox.
func PaddedRect(box iface.Box, frameW, frameH int) (image.Rectangle, error) {
	x1, x2 := clamp(box.X1, 0, frameW), clamp(box.X2, 0, frameW)
	y1, y2 := clamp(box.Y1, 0, frameH), clamp(box.Y2, 0, frameH)
	w, h := x2-x1, y2-y1
	if w <= 0 || h <= 0 {
		return image.Rectangle{}, ErrInvalidBox
	}
	padX := int(math.Max(minPadX, padFrac*float64(w)))
	padY := int(math.Max(minPadY, padFrac*float64(h)))
	return image.Rect(
		clamp(x1-padX, 0, frameW),
		clamp(y1-padY, 0, frameH),
		clamp(x2+padX, 0, frameW),
		clamp(y2+padY, 0, frameH),
	), nil
}

// Extract returns an owned copy of the padded plate region. The caller
// closes the returned Mat.
func Extract(frame gocv.Mat, box iface.Box) (gocv.Mat, error) {
	if frame.Empty() {
		return gocv.NewMat(), ErrInvalidBox
	}
	rect, err := PaddedRect(box, frame.Cols(), frame.Rows())
	if err != nil {
		return gocv.NewMat(), err
	}
	region := frame.Region(rect)
	defer region.Close()
	return region.Clone(), nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
