package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/semaphore"

	// Register decoders for the allowed image formats, plus gif so a real
	// GIF decodes and is rejected by name instead of failing as unreadable.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"github.com/closetmind/gateway/internal/config"
)

// ErrUnsupportedFormat is returned when the decoded format is outside the
// allowed image-format set. Declared MIME and extension can lie; the decode
// is authoritative. Distinct from both unsafe content and processing errors.
var ErrUnsupportedFormat = errors.New("decoded image format not allowed")

// allowedFormats is keyed by the format name image.Decode reports.
var allowedFormats = map[string]bool{
	"jpeg": true,
	"png":  true,
	"webp": true,
}

// Sanitizer re-encodes accepted images into a canonical form. The fresh
// encode carries only pixels: EXIF and any other payload smuggled inside the
// original container never survive it. Processing is CPU-bound, so a weighted
// semaphore bounds concurrency and a timeout caps each image.
type Sanitizer struct {
	stripMetadata bool
	maxWidth      int
	maxHeight     int
	quality       int
	timeout       time.Duration
	sem           *semaphore.Weighted
}

// NewSanitizer creates a sanitizer from config.
func NewSanitizer(cfg *config.SanitizeConfig) *Sanitizer {
	return &Sanitizer{
		stripMetadata: cfg.StripMetadata,
		maxWidth:      cfg.MaxWidth,
		maxHeight:     cfg.MaxHeight,
		quality:       cfg.JPEGQuality,
		timeout:       cfg.Timeout,
		sem:           semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
	}
}

// Sanitize decodes, optionally resizes, and canonically re-encodes the image.
// It blocks until a worker slot is free or ctx is done. Decode and encode
// failures come back as plain errors; only ErrUnsupportedFormat is special.
func (s *Sanitizer) Sanitize(ctx context.Context, data []byte) ([]byte, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire sanitize slot: %w", err)
	}
	defer s.sem.Release(1)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	type result struct {
		out []byte
		err error
	}
	ch := make(chan result, 1)

	go func() {
		// A panic here would take down the process, not just the request.
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("image processing panic: %v", r)}
			}
		}()
		out, err := s.process(data)
		ch <- result{out: out, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("sanitize: %w", ctx.Err())
	case res := <-ch:
		return res.out, res.err
	}
}

func (s *Sanitizer) process(data []byte) ([]byte, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	if !allowedFormats[format] {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	resized := false
	if s.maxWidth > 0 && s.maxHeight > 0 {
		bounds := img.Bounds()
		if bounds.Dx() > s.maxWidth || bounds.Dy() > s.maxHeight {
			// Fit scales down preserving aspect ratio; it never upscales.
			img = imaging.Fit(img, s.maxWidth, s.maxHeight, imaging.Lanczos)
			resized = true
		}
	}

	// With stripping disabled, a JPEG that already fits the bounding box may
	// pass through untouched, metadata and all.
	if !s.stripMetadata && !resized && format == "jpeg" {
		return data, nil
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(s.quality)); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return buf.Bytes(), nil
}
