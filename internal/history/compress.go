package history

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // register PNG decoder
	"strings"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register WebP decoder
)

const (
	// MaxEdge bounds the longer side of a compressed image.
	MaxEdge = 600
	// MaxDataURIBytes is the size ceiling compression aims for.
	MaxDataURIBytes = 500_000

	// Quality is handled in percent to avoid float drift across decrements.
	initialQuality = 60
	qualityStep    = 10
	minQuality     = 10

	jpegPrefix = "data:image/jpeg;base64,"
)

// ErrDecodeImage is returned by Compress when the source cannot be decoded.
var ErrDecodeImage = errors.New("failed to decode image")

// Compress downsizes the image in dataURI so neither edge exceeds MaxEdge and
// re-encodes it as JPEG, lowering quality until the result fits
// MaxDataURIBytes or the quality floor is reached.
func Compress(dataURI string) (string, error) {
	src, err := decodeDataURI(dataURI)
	if err != nil {
		return "", err
	}

	bounds := src.Bounds()
	w, h := fitWithin(bounds.Dx(), bounds.Dy(), MaxEdge)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, bounds, draw.Src, nil)

	quality := initialQuality
	out, err := encodeJPEG(dst, quality)
	if err != nil {
		return "", err
	}
	for len(out) > MaxDataURIBytes && quality > minQuality {
		quality -= qualityStep
		if out, err = encodeJPEG(dst, quality); err != nil {
			return "", err
		}
	}
	return out, nil
}

// fitWithin scales (w, h) so the longer edge is at most limit, keeping aspect ratio.
func fitWithin(w, h, limit int) (int, int) {
	switch {
	case w > h && w > limit:
		h = max(1, h*limit/w)
		w = limit
	case h > limit:
		w = max(1, w*limit/h)
		h = limit
	}
	return w, h
}

func decodeDataURI(dataURI string) (image.Image, error) {
	meta, payload, ok := strings.Cut(dataURI, ",")
	if !ok || !strings.HasPrefix(meta, "data:") || !strings.HasSuffix(meta, ";base64") {
		return nil, fmt.Errorf("%w: not a base64 data URI", ErrDecodeImage)
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecodeImage, err)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecodeImage, err)
	}
	return img, nil
}

func encodeJPEG(img image.Image, quality int) (string, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return "", fmt.Errorf("encode jpeg at quality %d: %w", quality, err)
	}
	return jpegPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
