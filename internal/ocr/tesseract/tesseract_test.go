//go:build tesseract

package tesseract

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"annotator/internal/ocr"
)

// writeTextImage renders lines of text in black on white, scaled up so
// Tesseract can read the 7x13 bitmap font.
func writeTextImage(t *testing.T, dir string, lines ...string) string {
	t.Helper()
	small := image.NewRGBA(image.Rect(0, 0, 200, 20*len(lines)+10))
	draw.Draw(small, small.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	for i, line := range lines {
		d := &font.Drawer{
			Dst:  small,
			Src:  image.NewUniform(color.Black),
			Face: basicfont.Face7x13,
			Dot:  fixed.Point26_6{X: fixed.I(10), Y: fixed.I(20 * (i + 1))},
		}
		d.DrawString(line)
	}

	const scale = 4
	b := small.Bounds()
	big := image.NewRGBA(image.Rect(0, 0, b.Dx()*scale, b.Dy()*scale))
	for y := 0; y < big.Bounds().Dy(); y++ {
		for x := 0; x < big.Bounds().Dx(); x++ {
			big.Set(x, y, small.At(x/scale, y/scale))
		}
	}

	path := filepath.Join(dir, "text.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, big); err != nil {
		t.Fatal(err)
	}
	return path
}

func newExtractor(t *testing.T, root string) *ocr.Extractor {
	t.Helper()
	paths, err := ocr.NewPathResolver([]string{root})
	if err != nil {
		t.Fatal(err)
	}
	return ocr.NewExtractor(New("eng"), paths, "eng")
}

func TestRecognizeText(t *testing.T) {
	root := t.TempDir()
	writeTextImage(t, root, "FACEBOOK 1h", "TIKTOK 30m")

	res, err := newExtractor(t, root).Extract(context.Background(), "text.png")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if !strings.Contains(strings.ToUpper(res.Text), "FACEBOOK") {
		t.Errorf("Text = %q, want it to contain FACEBOOK", res.Text)
	}
	if !strings.Contains(res.Text, "\n") {
		t.Errorf("Text = %q, want line breaks preserved", res.Text)
	}
	if res.Confidence <= 0 || res.Confidence > 100 {
		t.Errorf("Confidence = %v, want (0, 100]", res.Confidence)
	}
}

func TestRecognizeBlankImage(t *testing.T) {
	root := t.TempDir()
	writeTextImage(t, root)

	res, err := newExtractor(t, root).Extract(context.Background(), "text.png")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if res.Text != ocr.NoTextDetected {
		t.Errorf("Text = %q, want %q", res.Text, ocr.NoTextDetected)
	}
}

func TestVersion(t *testing.T) {
	if v := New("eng").Version(); v == "" || v == "unknown" {
		t.Errorf("Version() = %q", v)
	}
}
