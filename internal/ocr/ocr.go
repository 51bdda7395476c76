// Package ocr defines the text recognition contract and its Tesseract
// implementation.
//
// Recognition is engine-agnostic: callers build an Input from probed image
// bytes and any Engine turns it into a Result. No recognition logic lives
// here, the Tesseract engine wraps gosseract.
package ocr

import (
	"context"
	"image"
)

// Input is a single image submitted for recognition.
type Input struct {
	// Image is the encoded image payload.
	Image []byte
	// Format is the probed image format name (e.g. "png"), informational.
	Format string
	// DPI is the effective dots-per-inch, zero when unknown. Engines use it
	// for scaling heuristics.
	DPI int
	// Languages holds trained-data hints (e.g. "eng", "deu") in preference
	// order.
	Languages []string
	// Variables passes engine-specific knobs (e.g. "tessedit_pageseg_mode")
	// without widening the API.
	Variables map[string]string
}

// Word is a single recognized token with its pixel bounding box.
type Word struct {
	Text       string          `json:"text"`
	Box        image.Rectangle `json:"box"`
	Confidence float64         `json:"confidence"`
}

// Result is the recognition output for one Input.
type Result struct {
	// Text is the linearized recognized text, whitespace-trimmed.
	Text string `json:"text"`
	// Words carries word-level boxes when the engine provides them.
	Words []Word `json:"words,omitempty"`
	// Confidence is the mean word confidence in [0, 1], zero when unknown.
	Confidence float64 `json:"confidence"`
	// Language is the trained-data language the engine ran with.
	Language string `json:"language,omitempty"`
}

// Engine recognizes text in images.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, in Input) (Result, error)
}
