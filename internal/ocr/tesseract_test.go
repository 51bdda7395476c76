package ocr

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os/exec"
	"strings"
	"testing"

	"github.com/otiai10/gosseract/v2"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

func ensureTesseractAvailable(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("tesseract"); err != nil {
		t.Skip("tesseract not installed in PATH")
	}
}

func TestTesseractRecognize(t *testing.T) {
	ensureTesseractAvailable(t)

	img := image.NewRGBA(image.Rect(0, 0, 200, 80))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	d := &font.Drawer{
		Dst:  img,
		Src:  image.Black,
		Face: basicfont.Face7x13,
		Dot:  fixed.P(10, 50),
	}
	d.DrawString("Hello iknow")

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}

	e := NewTesseract()
	res, err := e.Recognize(context.Background(), Input{
		Image:     buf.Bytes(),
		Format:    "png",
		DPI:       300,
		Languages: []string{"eng"},
	})
	if err != nil {
		t.Fatalf("Recognize() failed: %v", err)
	}
	got := strings.ToLower(res.Text)
	if !strings.Contains(got, "hello") {
		t.Errorf("Unexpected recognition output: %q", res.Text)
	}
	if len(res.Words) == 0 {
		t.Error("Expected word boxes")
	}
	if res.Confidence <= 0 || res.Confidence > 1 {
		t.Errorf("Confidence = %v, want in (0, 1]", res.Confidence)
	}
	if res.Language != "eng" {
		t.Errorf("Language = %q, want eng", res.Language)
	}
}

func TestTesseractRecognizeCanceled(t *testing.T) {
	e := &Tesseract{clientFactory: func() *gosseract.Client {
		t.Error("client created after cancellation")
		return gosseract.NewClient()
	}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Recognize(ctx, Input{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Recognize() = %v, want context.Canceled", err)
	}
}
