package pipeline

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// DecodeDataURL 将 base64 字符串（可带 data:image/... 前缀）解码为图像字节
func DecodeDataURL(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, ","); i != -1 && strings.HasPrefix(s, "data:") {
		s = s[i+1:]
	}
	if s == "" {
		return nil, ErrUndecodableImage
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUndecodableImage, err)
	}
	return data, nil
}
