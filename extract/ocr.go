package extract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/poiesic/doctier/core"
)

// OCR recognizes text in a raster image. The engine is external; doctier only
// routes images to it.
type OCR interface {
	Recognize(ctx context.Context, img []byte, format string) (string, error)
}

type imageDecoder struct {
	ocr OCR
}

// Decode checks the image header before handing the bytes to the OCR engine.
func (d imageDecoder) Decode(ctx context.Context, content []byte) (string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("%w: image: %v", core.ErrCorruptContent, err)
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return "", core.ErrEmptyContent
	}

	text, err := d.ocr.Recognize(ctx, content, format)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}
