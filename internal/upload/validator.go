// Package upload implements the file intake pipeline: metadata validation,
// content threat scanning, and image sanitization.
package upload

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/closetmind/gateway/internal/config"
)

// Validation failure sentinels. Each check short-circuits with its own error
// so rejections can name the exact reason.
var (
	ErrTypeNotAllowed      = errors.New("file type not allowed")
	ErrExtensionNotAllowed = errors.New("file extension not allowed")
	ErrFileTooLarge        = errors.New("file exceeds maximum size")
)

// FileMeta is the declared metadata of an upload candidate. Validation trusts
// these values; the scanner and sanitizer inspect the actual bytes.
type FileMeta struct {
	Filename string
	MIMEType string
	Size     int64
}

// Policy holds the upload allow-lists and size cap.
type Policy struct {
	allowedMIME map[string]bool
	allowedExt  map[string]bool
	maxSize     int64
}

// NewPolicy creates an upload policy from config.
func NewPolicy(cfg *config.UploadConfig) *Policy {
	p := &Policy{
		allowedMIME: make(map[string]bool, len(cfg.AllowedMIMETypes)),
		allowedExt:  make(map[string]bool, len(cfg.AllowedExtensions)),
		maxSize:     cfg.MaxSizeBytes,
	}
	for _, m := range cfg.AllowedMIMETypes {
		p.allowedMIME[strings.ToLower(m)] = true
	}
	for _, e := range cfg.AllowedExtensions {
		p.allowedExt[strings.ToLower(e)] = true
	}
	return p
}

// Validate runs the declared-metadata checks in order, stopping at the first
// failure: MIME type, extension (case-insensitive), then size.
func (p *Policy) Validate(meta FileMeta) error {
	if !p.allowedMIME[strings.ToLower(meta.MIMEType)] {
		return fmt.Errorf("%w: %s", ErrTypeNotAllowed, meta.MIMEType)
	}

	ext := strings.ToLower(filepath.Ext(meta.Filename))
	if ext == "" || !p.allowedExt[ext] {
		return fmt.Errorf("%w: %q", ErrExtensionNotAllowed, ext)
	}

	if meta.Size > p.maxSize {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrFileTooLarge, meta.Size, p.maxSize)
	}

	return nil
}
