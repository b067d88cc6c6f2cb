package history

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand"
	"strings"
	"testing"
)

func pngDataURI(t *testing.T, w, h int, noise bool) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	rng := rand.New(rand.NewSource(7))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255}
			if noise {
				c = color.RGBA{R: uint8(rng.Intn(256)), G: uint8(rng.Intn(256)), B: uint8(rng.Intn(256)), A: 255}
			}
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode failed: %v", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func decodeJPEGURI(t *testing.T, uri string) image.Image {
	t.Helper()
	payload, ok := strings.CutPrefix(uri, "data:image/jpeg;base64,")
	if !ok {
		t.Fatalf("expected jpeg data URI, got prefix %q", uri[:min(len(uri), 30)])
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		t.Fatalf("base64 decode failed: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("jpeg decode failed: %v", err)
	}
	return img
}

func TestCompressBoundsEdges(t *testing.T) {
	tests := []struct {
		name         string
		w, h         int
		wantW, wantH int
	}{
		{"landscape", 1200, 800, 600, 400},
		{"portrait", 300, 900, 200, 600},
		{"square", 1024, 1024, 600, 600},
		{"small", 120, 60, 120, 60},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Compress(pngDataURI(t, tt.w, tt.h, false))
			if err != nil {
				t.Fatalf("Compress failed: %v", err)
			}
			b := decodeJPEGURI(t, out).Bounds()
			if b.Dx() != tt.wantW || b.Dy() != tt.wantH {
				t.Errorf("expected %dx%d, got %dx%d", tt.wantW, tt.wantH, b.Dx(), b.Dy())
			}
			if len(out) > MaxDataURIBytes {
				t.Errorf("output %d bytes exceeds ceiling", len(out))
			}
		})
	}
}

func TestCompressLowersQualityForNoisyImages(t *testing.T) {
	out, err := Compress(pngDataURI(t, 600, 600, true))
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	if len(out) > MaxDataURIBytes {
		t.Errorf("output %d bytes exceeds ceiling %d", len(out), MaxDataURIBytes)
	}
}

func TestCompressDecodeErrors(t *testing.T) {
	inputs := map[string]string{
		"not a data uri": "hello",
		"bad base64":     "data:image/png;base64,!!!",
		"not an image":   "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("plain text")),
		"missing base64": "data:image/png,abc",
	}
	for name, in := range inputs {
		t.Run(name, func(t *testing.T) {
			_, err := Compress(in)
			if !errors.Is(err, ErrDecodeImage) {
				t.Errorf("expected ErrDecodeImage, got %v", err)
			}
		})
	}
}

func TestFitWithin(t *testing.T) {
	tests := []struct {
		w, h, wantW, wantH int
	}{
		{600, 600, 600, 600},
		{601, 600, 600, 599},
		{600, 601, 599, 600},
		{3000, 2, 600, 1},
	}
	for _, tt := range tests {
		w, h := fitWithin(tt.w, tt.h, MaxEdge)
		if w != tt.wantW || h != tt.wantH {
			t.Errorf("fitWithin(%d, %d) = %dx%d, want %dx%d", tt.w, tt.h, w, h, tt.wantW, tt.wantH)
		}
	}
}
