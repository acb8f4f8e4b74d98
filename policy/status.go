package policy

import (
	"fmt"
	"strings"

	iface "TruckGate/interface"
)

const noObjects = "No objects detected"

// Summary renders the human readable status line: vehicles first, then
// plates, then everything else, joined by " | ".
func Summary(dets []iface.Detection) string {
	if len(dets) == 0 {
		return noObjects
	}
	var vehicles, plates, others []string
	counts := map[string]int{}
	for _, d := range dets {
		counts[d.Class]++
		n := counts[d.Class]
		switch d.Class {
		case iface.ClassTruck:
			vehicles = append(vehicles, fmt.Sprintf("Truck #%d (conf: %.2f)", n, d.Conf))
		case iface.ClassCar:
			vehicles = append(vehicles, fmt.Sprintf("Car #%d (conf: %.2f)", n, d.Conf))
		case iface.ClassLicensePlate:
			plates = append(plates, plateLine(n, d))
		default:
			others = append(others, fmt.Sprintf("%s #%d (conf: %.2f)", d.Class, n, d.Conf))
		}
	}
	parts := make([]string, 0, len(dets))
	parts = append(parts, vehicles...)
	parts = append(parts, plates...)
	parts = append(parts, others...)
	return strings.Join(parts, " | ")
}

func plateLine(n int, d iface.Detection) string {
	line := fmt.Sprintf("Plate #%d (conf: %.2f)", n, d.Conf)
	switch {
	case d.OCRStatus == iface.OCRRead && d.OCRText != "":
		return line + ": " + d.OCRText
	case d.OCRStatus == iface.OCRLowConfidence:
		return line + ": low confidence"
	case d.OCRStatus == iface.OCRCropFailed:
		return line + ": failed to crop"
	case d.OCRStatus == iface.OCRNoText:
		return line + ": no text"
	}
	return line
}
