package photo

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/chai2010/webp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	return img
}

func TestNormalizeShrinksLargePNG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testImage(800, 400)))

	out, err := Normalize(buf.Bytes(), 200, 0)
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 200, img.Bounds().Dx())
	assert.Equal(t, 100, img.Bounds().Dy())
}

func TestNormalizeKeepsSmallImage(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, testImage(64, 48), nil))

	out, err := Normalize(buf.Bytes(), 512, 0)
	require.NoError(t, err)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.Width)
	assert.Equal(t, 48, cfg.Height)
}

func TestNormalizeWebP(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, webp.Encode(&buf, testImage(300, 300), &webp.Options{Lossless: true}))

	out, err := Normalize(buf.Bytes(), 100, 0)
	require.NoError(t, err)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Width)
}

func TestNormalizeRejectsGarbage(t *testing.T) {
	_, err := Normalize([]byte("definitely not an image"), 100, 0)
	assert.ErrorIs(t, err, ErrNotImage)

	_, err = Normalize([]byte("RIFF\x00\x00\x00\x00WEBPVP8 junk"), 100, 0)
	assert.ErrorIs(t, err, ErrNotImage)
}

// pngHeader returns a PNG carrying only a signature and an IHDR chunk for a
// grayscale image of the given size: a few dozen bytes claiming any number
// of pixels.
func pngHeader(w, h uint32) []byte {
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], w)
	binary.BigEndian.PutUint32(ihdr[4:8], h)
	ihdr[8] = 8 // bit depth; colour type 0 is grayscale

	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	chunk := append([]byte("IHDR"), ihdr...)
	buf.Write(chunk)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func TestNormalizeRefusesHugeDimensions(t *testing.T) {
	payload := pngHeader(20000, 20000)
	require.Less(t, len(payload), 64)

	_, err := Normalize(payload, 512, 40_000_000)
	assert.ErrorIs(t, err, ErrTooManyPixels)
}

func TestNormalizePixelBudget(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testImage(100, 50)))

	_, err := Normalize(buf.Bytes(), 0, 4999)
	assert.ErrorIs(t, err, ErrTooManyPixels)

	_, err = Normalize(buf.Bytes(), 0, 5000)
	assert.NoError(t, err)

	var webpBuf bytes.Buffer
	require.NoError(t, webp.Encode(&webpBuf, testImage(100, 50), &webp.Options{Lossless: true}))
	_, err = Normalize(webpBuf.Bytes(), 0, 4999)
	assert.ErrorIs(t, err, ErrTooManyPixels)
}

func TestBase64AndDataURL(t *testing.T) {
	b64 := Base64([]byte("hello"))
	decoded, err := base64.StdEncoding.DecodeString(b64)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(decoded))
	assert.Equal(t, "data:image/jpeg;base64,aGVsbG8=", DataURL(b64))
}
