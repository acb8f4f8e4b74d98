// Package policy turns the detections of one frame into exactly one gate
// command.
package policy

import (
	"fmt"
	"strings"
	"unicode"

	iface "TruckGate/interface"
)

type MatchMode string

const (
	// MatchExact compares plate text byte for byte.
	MatchExact MatchMode = "exact"
	// MatchNormalized upper-cases and strips all whitespace on both sides.
	MatchNormalized MatchMode = "normalized"
)

func ParseMatchMode(s string) (MatchMode, error) {
	switch MatchMode(s) {
	case "", MatchExact:
		return MatchExact, nil
	case MatchNormalized:
		return MatchNormalized, nil
	}
	return "", fmt.Errorf("unknown match mode %q", s)
}

type Decision struct {
	Command iface.GateCommand
	Status  string
	// PlateText is the allow-listed text for OPEN, the first read text for
	// DENIED, and empty otherwise.
	PlateText string
}

// Policy holds the allow-list comparison mode; the zero value matches exactly.
type Policy struct {
	Mode MatchMode
}

func Decide(dets []iface.Detection, allow []string) Decision {
	return Policy{}.Decide(dets, allow)
}

func (p Policy) Decide(dets []iface.Detection, allow []string) Decision {
	if len(dets) == 0 {
		return Decision{Command: iface.CommandError, Status: Summary(dets)}
	}
	classes := make(map[string]struct{}, len(dets))
	for _, d := range dets {
		classes[d.Class] = struct{}{}
	}
	status := Summary(dets)

	if _, ok := classes[iface.ClassTruck]; ok {
		texts := plateTexts(dets)
		allowed := make(map[string]struct{}, len(allow))
		for _, a := range allow {
			allowed[p.key(a)] = struct{}{}
		}
		for _, t := range texts {
			if _, ok := allowed[p.key(t)]; ok {
				return Decision{Command: iface.CommandOpen, Status: status, PlateText: t}
			}
		}
		d := Decision{Command: iface.CommandDenied, Status: status}
		if len(texts) > 0 {
			d.PlateText = texts[0]
		}
		return d
	}
	// car or any other object
	return Decision{Command: iface.CommandBuzz, Status: status}
}

func (p Policy) key(s string) string {
	if p.Mode != MatchNormalized {
		return s
	}
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToUpper(r)
	}, s)
}

// plateTexts collects OCR text of plate detections in detection order. Only
// plates with status read count, whatever text the others carry.
func plateTexts(dets []iface.Detection) []string {
	var out []string
	for _, d := range dets {
		if d.Class == iface.ClassLicensePlate && d.OCRStatus == iface.OCRRead && d.OCRText != "" {
			out = append(out, d.OCRText)
		}
	}
	return out
}
