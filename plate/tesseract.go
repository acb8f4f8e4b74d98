package plate

import (
	"fmt"
	"strings"
	"sync"

	iface "TruckGate/interface"

	"github.com/otiai10/gosseract/v2"
	"gocv.io/x/gocv"
)

type TesseractConfig struct {
	Language    string `yaml:"language"`
	PageSegMode int    `yaml:"pageSegMode"`
	Whitelist   string `yaml:"whitelist"`
}

// Tesseract reads text lines through gosseract. One client is shared, so
// calls are serialized.
type Tesseract struct {
	mu     sync.Mutex
	client *gosseract.Client
}

var _ TextReader = (*Tesseract)(nil)

func NewTesseract(cfg TesseractConfig) (*Tesseract, error) {
	client := gosseract.NewClient()
	lang := cfg.Language
	if lang == "" {
		lang = "eng"
	}
	if err := client.SetLanguage(lang); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("tesseract language %q: %w", lang, err)
	}
	psm := gosseract.PSM_SINGLE_LINE
	if cfg.PageSegMode > 0 {
		psm = gosseract.PageSegMode(cfg.PageSegMode)
	}
	if err := client.SetPageSegMode(psm); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("tesseract page seg mode: %w", err)
	}
	if cfg.Whitelist != "" {
		if err := client.SetWhitelist(cfg.Whitelist); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("tesseract whitelist: %w", err)
		}
	}
	return &Tesseract{client: client}, nil
}

// ReadText returns one hit per recognised text line; tesseract reports
// confidence in percent, hits carry it in [0,1].
func (t *Tesseract) ReadText(img gocv.Mat) ([]iface.TextHit, error) {
	buf, err := gocv.IMEncode(gocv.PNGFileExt, img)
	if err != nil {
		return nil, fmt.Errorf("encode plate image: %w", err)
	}
	defer buf.Close()

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.client.SetImageFromBytes(buf.GetBytes()); err != nil {
		return nil, fmt.Errorf("tesseract set image: %w", err)
	}
	boxes, err := t.client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, fmt.Errorf("tesseract recognise: %w", err)
	}
	hits := make([]iface.TextHit, 0, len(boxes))
	for _, b := range boxes {
		text := strings.TrimSpace(b.Word)
		if text == "" {
			continue
		}
		hits = append(hits, iface.TextHit{Text: text, Confidence: b.Confidence / 100})
	}
	return hits, nil
}

func (t *Tesseract) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client.Close()
}
