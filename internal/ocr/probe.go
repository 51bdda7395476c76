package ocr

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// maxImageDimension caps either side of a probed image. An A4 scan at
// 600 dpi is roughly 5000x7000.
const maxImageDimension = 10000

var (
	// ErrUnsupportedImage is returned when the payload is not a decodable
	// image in a registered format.
	ErrUnsupportedImage = errors.New("unsupported image format")
	// ErrImageTooLarge is returned when an image exceeds the dimension cap.
	ErrImageTooLarge = errors.New("image dimensions too large")
)

// ImageInfo describes a probed image.
type ImageInfo struct {
	// Format is the registered decoder name: png, jpeg, gif, webp, bmp or
	// tiff.
	Format string
	Width  int
	Height int
}

// Probe decodes only the image header and reports format and dimensions.
// It rejects payloads no registered decoder accepts and images too large
// to hand to a recognition engine.
func Probe(data []byte) (ImageInfo, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return ImageInfo{}, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return ImageInfo{}, fmt.Errorf("%w: %dx%d", ErrUnsupportedImage, cfg.Width, cfg.Height)
	}
	if cfg.Width > maxImageDimension || cfg.Height > maxImageDimension {
		return ImageInfo{}, fmt.Errorf("%w: %dx%d exceeds %d", ErrImageTooLarge, cfg.Width, cfg.Height, maxImageDimension)
	}
	return ImageInfo{Format: format, Width: cfg.Width, Height: cfg.Height}, nil
}
