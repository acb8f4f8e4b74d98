package plate

import (
	"image"
	"strings"
	"unicode"

	iface "TruckGate/interface"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// TextReader is the OCR engine boundary.
type TextReader interface {
	ReadText(img gocv.Mat) ([]iface.TextHit, error)
}

const (
	VariantUpscaled    = "upscaled"
	VariantEnhanced    = "enhanced"
	VariantThresholded = "thresholded"
	VariantDenoised    = "denoised"
)

type variant struct {
	name  string
	from  string // "" is the crop itself
	apply func(src gocv.Mat, dst *gocv.Mat)
}

// 顺序固定: 后面的变体依赖前面的结果
var variants = []variant{
	{name: VariantUpscaled, apply: upscale},
	{name: VariantEnhanced, from: VariantUpscaled, apply: enhance},
	{name: VariantThresholded, from: VariantEnhanced, apply: binarize},
	{name: VariantDenoised, from: VariantUpscaled, apply: denoise},
}

// VariantNames lists the preprocessing variants in the order they are tried.
func VariantNames() []string {
	names := make([]string, len(variants))
	for i, v := range variants {
		names[i] = v.name
	}
	return names
}

type Reader struct {
	ocr TextReader
	log *zap.Logger
}

func NewReader(ocr TextReader, log *zap.Logger) *Reader {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reader{ocr: ocr, log: log}
}

// Read runs OCR on every variant of crop and keeps the single highest
// confidence hit with non-empty sanitized text. An OCR error only drops the
// hits of that variant.
func (r *Reader) Read(crop gocv.Mat) iface.PlateRead {
	if crop.Empty() || crop.Cols() == 0 || crop.Rows() == 0 {
		return iface.PlateRead{}
	}
	base := toBGR(crop)
	defer base.Close()

	mats := make(map[string]gocv.Mat, len(variants))
	defer func() {
		for _, m := range mats {
			_ = m.Close()
		}
	}()

	var best iface.PlateRead
	for _, v := range variants {
		src := base
		if v.from != "" {
			src = mats[v.from]
		}
		dst := gocv.NewMat()
		v.apply(src, &dst)
		mats[v.name] = dst
		if dst.Empty() {
			r.log.Warn("plate variant produced empty image", zap.String("variant", v.name))
			continue
		}
		hits, err := r.ocr.ReadText(dst)
		if err != nil {
			r.log.Warn("ocr failed on variant", zap.String("variant", v.name), zap.Error(err))
			continue
		}
		best = pick(best, v.name, hits)
	}
	if best.Found() {
		r.log.Debug("plate read", zap.String("text", best.Text),
			zap.Float64("confidence", best.Confidence), zap.String("variant", best.Variant))
	}
	return best
}

// pick folds hits into the running best. Replacement needs strictly higher
// confidence and non-empty text after sanitizing.
func pick(best iface.PlateRead, name string, hits []iface.TextHit) iface.PlateRead {
	for _, h := range hits {
		text := Sanitize(h.Text)
		if text == "" || h.Confidence <= best.Confidence {
			continue
		}
		best = iface.PlateRead{Text: text, Confidence: h.Confidence, Variant: name}
	}
	return best
}

// Sanitize keeps letters, digits and whitespace, then trims the ends.
func Sanitize(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			return r
		}
		return -1
	}, s)
	return strings.TrimSpace(s)
}

func toBGR(src gocv.Mat) gocv.Mat {
	dst := gocv.NewMat()
	switch src.Channels() {
	case 1:
		gocv.CvtColor(src, &dst, gocv.ColorGrayToBGR)
	case 4:
		gocv.CvtColor(src, &dst, gocv.ColorBGRAToBGR)
	default:
		src.CopyTo(&dst)
	}
	return dst
}

func upscale(src gocv.Mat, dst *gocv.Mat) {
	gocv.Resize(src, dst, image.Point{}, 2, 2, gocv.InterpolationCubic)
}

// enhance: grayscale + CLAHE
func enhance(src gocv.Mat, dst *gocv.Mat) {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(src, &gray, gocv.ColorBGRToGray)
	clahe := gocv.NewCLAHEWithParams(2.0, image.Pt(8, 8))
	defer clahe.Close()
	clahe.Apply(gray, dst)
}

func binarize(src gocv.Mat, dst *gocv.Mat) {
	gocv.Threshold(src, dst, 0, 255, gocv.ThresholdBinary+gocv.ThresholdOtsu)
}

func denoise(src gocv.Mat, dst *gocv.Mat) {
	gocv.FastNlMeansDenoisingColoredWithParams(src, dst, 10, 10, 7, 21)
}
