package upload

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/closetmind/gateway/internal/config"
)

func testSanitizer(strip bool) *Sanitizer {
	return NewSanitizer(&config.SanitizeConfig{
		StripMetadata: strip,
		MaxWidth:      2048,
		MaxHeight:     2048,
		JPEGQuality:   85,
		MaxConcurrent: 4,
		Timeout:       10 * time.Second,
	})
}

func encodeJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x += 16 {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: 30, B: 30, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func encodePNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func encodeGIF(t *testing.T) []byte {
	t.Helper()
	img := image.NewPaletted(image.Rect(0, 0, 8, 8), []color.Color{color.Black, color.White})
	var buf bytes.Buffer
	require.NoError(t, gif.Encode(&buf, img, nil))
	return buf.Bytes()
}

// spliceEXIF inserts an APP1 Exif segment right after the SOI marker, the
// position real cameras write it to.
func spliceEXIF(t *testing.T, jpg []byte, payload string) []byte {
	t.Helper()
	require.True(t, bytes.HasPrefix(jpg, []byte{0xFF, 0xD8}))

	seg := append([]byte("Exif\x00\x00"), payload...)
	segLen := len(seg) + 2
	out := make([]byte, 0, len(jpg)+segLen+2)
	out = append(out, 0xFF, 0xD8, 0xFF, 0xE1, byte(segLen>>8), byte(segLen))
	out = append(out, seg...)
	return append(out, jpg[2:]...)
}

// webpFixture is a 1x1 lossless webp. x/image/webp only decodes, so the
// fixture is assembled by hand: RIFF header plus a minimal VP8L stream with
// five single-symbol prefix codes.
func webpFixture() []byte {
	return []byte{
		'R', 'I', 'F', 'F', 0x14, 0x00, 0x00, 0x00,
		'W', 'E', 'B', 'P',
		'V', 'P', '8', 'L', 0x08, 0x00, 0x00, 0x00,
		0x2F, 0x00, 0x00, 0x00, 0x00, 0x88, 0x88, 0x08,
	}
}

func decodeDims(t *testing.T, data []byte) (string, int, int) {
	t.Helper()
	img, format, err := image.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return format, img.Bounds().Dx(), img.Bounds().Dy()
}

func TestSanitizer_ReencodesJPEG(t *testing.T) {
	in := encodeJPEG(t, 640, 480)

	out, err := testSanitizer(true).Sanitize(context.Background(), in)
	require.NoError(t, err)

	format, w, h := decodeDims(t, out)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 640, w)
	assert.Equal(t, 480, h)
}

func TestSanitizer_ConvertsPNGToJPEG(t *testing.T) {
	in := encodePNG(t, 320, 240)

	out, err := testSanitizer(true).Sanitize(context.Background(), in)
	require.NoError(t, err)

	format, _, _ := decodeDims(t, out)
	assert.Equal(t, "jpeg", format)
}

func TestSanitizer_ConvertsWebPToJPEG(t *testing.T) {
	out, err := testSanitizer(true).Sanitize(context.Background(), webpFixture())
	require.NoError(t, err)

	format, w, h := decodeDims(t, out)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 1, w)
	assert.Equal(t, 1, h)
}

func TestSanitizer_StripsEXIFMetadata(t *testing.T) {
	payload := "camera-serial-0042"
	in := spliceEXIF(t, encodeJPEG(t, 640, 480), payload)
	require.True(t, bytes.Contains(in, []byte(payload)))

	out, err := testSanitizer(true).Sanitize(context.Background(), in)
	require.NoError(t, err)

	assert.False(t, bytes.Contains(out, []byte("Exif")))
	assert.False(t, bytes.Contains(out, []byte(payload)))

	format, w, h := decodeDims(t, out)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 640, w)
	assert.Equal(t, 480, h)
}

func TestSanitizer_ResizesOversizedImage(t *testing.T) {
	in := encodePNG(t, 5000, 2500)

	out, err := testSanitizer(true).Sanitize(context.Background(), in)
	require.NoError(t, err)

	_, w, h := decodeDims(t, out)
	assert.LessOrEqual(t, w, 2048)
	assert.LessOrEqual(t, h, 2048)
	// Aspect ratio preserved: 2:1.
	assert.Equal(t, 2048, w)
	assert.Equal(t, 1024, h)
}

func TestSanitizer_NeverUpscales(t *testing.T) {
	in := encodeJPEG(t, 100, 80)

	out, err := testSanitizer(true).Sanitize(context.Background(), in)
	require.NoError(t, err)

	_, w, h := decodeDims(t, out)
	assert.Equal(t, 100, w)
	assert.Equal(t, 80, h)
}

func TestSanitizer_RejectsGIF(t *testing.T) {
	_, err := testSanitizer(true).Sanitize(context.Background(), encodeGIF(t))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestSanitizer_RejectsUndecodableBytes(t *testing.T) {
	_, err := testSanitizer(true).Sanitize(context.Background(), []byte("definitely not an image"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnsupportedFormat)
}

func TestSanitizer_PassthroughWhenStrippingDisabled(t *testing.T) {
	in := encodeJPEG(t, 640, 480)

	out, err := testSanitizer(false).Sanitize(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestSanitizer_PassthroughRetainsEXIFWhenStrippingDisabled(t *testing.T) {
	in := spliceEXIF(t, encodeJPEG(t, 640, 480), "camera-serial-0042")

	out, err := testSanitizer(false).Sanitize(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.True(t, bytes.Contains(out, []byte("camera-serial-0042")))
}

func TestSanitizer_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := testSanitizer(true).Sanitize(ctx, encodeJPEG(t, 64, 64))
	assert.ErrorIs(t, err, context.Canceled)
}
