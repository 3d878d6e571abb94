// Package photo turns uploaded profile pictures into bounded JPEG payloads.
package photo

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
)

var (
	// ErrNotImage is returned for payloads that do not decode as a supported image.
	ErrNotImage = errors.New("payload is not a supported image")
	// ErrTooManyPixels is returned when the declared dimensions exceed the
	// pixel budget. The check runs on the header, before any pixel is decoded.
	ErrTooManyPixels = errors.New("image dimensions exceed the pixel budget")
)

const jpegQuality = 85

// Normalize decodes data (JPEG, PNG, GIF, BMP, TIFF or WebP), applies EXIF
// orientation, shrinks it to fit maxDim on its longest edge when maxDim > 0
// and re-encodes it as JPEG. Images declaring more than maxPixels pixels are
// refused when maxPixels > 0.
func Normalize(data []byte, maxDim, maxPixels int) ([]byte, error) {
	if err := checkPixels(data, maxPixels); err != nil {
		return nil, err
	}
	img, err := decode(data)
	if err != nil {
		return nil, err
	}

	if b := img.Bounds(); maxDim > 0 && (b.Dx() > maxDim || b.Dy() > maxDim) {
		img = imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func checkPixels(data []byte, maxPixels int) error {
	var (
		cfg image.Config
		err error
	)
	if isWebP(data) {
		cfg, err = webp.DecodeConfig(bytes.NewReader(data))
	} else {
		cfg, _, err = image.DecodeConfig(bytes.NewReader(data))
	}
	if err != nil {
		return ErrNotImage
	}
	if maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return ErrTooManyPixels
	}
	return nil
}

func decode(data []byte) (image.Image, error) {
	if isWebP(data) {
		img, err := webp.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, ErrNotImage
		}
		return img, nil
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, ErrNotImage
	}
	return img, nil
}

func isWebP(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP"
}

// Base64 encodes a picture the way records store it.
func Base64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DataURL wraps a stored base64 JPEG payload for upload APIs that take URLs.
func DataURL(b64 string) string {
	return "data:image/jpeg;base64," + b64
}
