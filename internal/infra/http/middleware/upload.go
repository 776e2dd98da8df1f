package middleware

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/closetmind/gateway/internal/upload"
	"github.com/closetmind/gateway/pkg/apierror"
	"github.com/closetmind/gateway/pkg/logger"
)

// maxMemory is the multipart parse threshold before parts spill to disk.
const maxMemory = 8 << 20

// UploadIntake inspects multipart upload requests before they reach the
// upstream. Every file part runs through the intake pipeline; on success the
// request body is rebuilt with the sanitized bytes so the upstream only ever
// sees canonical images. Any rejection stops the request here.
type UploadIntake struct {
	pipeline *upload.Pipeline
	log      *logger.Logger
}

// NewUploadIntake creates the upload inspection middleware.
func NewUploadIntake(pipeline *upload.Pipeline, log *logger.Logger) *UploadIntake {
	return &UploadIntake{
		pipeline: pipeline,
		log:      log,
	}
}

// Inspect wraps a handler with upload inspection. Non-multipart requests and
// bodyless methods pass through untouched.
func (u *UploadIntake) Inspect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodPatch {
			next.ServeHTTP(w, r)
			return
		}

		mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
			next.ServeHTTP(w, r)
			return
		}

		if err := r.ParseMultipartForm(maxMemory); err != nil {
			var maxBytesErr *http.MaxBytesError
			if errors.As(err, &maxBytesErr) {
				HandleBodyLimitError(w, r)
				return
			}
			apierror.BadRequest("malformed multipart body").WriteJSON(w)
			return
		}
		form := r.MultipartForm
		defer func() {
			_ = form.RemoveAll()
		}()

		body, contentType, err := u.rebuildForm(r)
		if err != nil {
			apierror.FromError(err).WriteJSON(w)
			return
		}

		// Downstream must re-parse the rewritten body, not see the stale form.
		r.MultipartForm = nil
		r.Body = io.NopCloser(bytes.NewReader(body))
		r.ContentLength = int64(len(body))
		r.Header.Set("Content-Type", contentType)

		next.ServeHTTP(w, r)
	})
}

// rebuildForm replays the parsed form into a fresh multipart body, passing
// value fields through verbatim and substituting each file part's content with
// the pipeline output. Returns the new body and its Content-Type.
func (u *UploadIntake) rebuildForm(r *http.Request) ([]byte, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	for field, values := range r.MultipartForm.Value {
		for _, v := range values {
			if err := mw.WriteField(field, v); err != nil {
				return nil, "", apierror.InternalError(fmt.Errorf("rewrite form field: %w", err))
			}
		}
	}

	for field, headers := range r.MultipartForm.File {
		for _, fh := range headers {
			result, err := u.processFile(r, fh)
			if err != nil {
				return nil, "", err
			}

			part, err := mw.CreatePart(filePartHeader(field, fh.Filename))
			if err != nil {
				return nil, "", apierror.InternalError(fmt.Errorf("rewrite file part: %w", err))
			}
			if _, err := part.Write(result.Data); err != nil {
				return nil, "", apierror.InternalError(fmt.Errorf("rewrite file part: %w", err))
			}
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", apierror.InternalError(fmt.Errorf("finalize rewritten form: %w", err))
	}

	return buf.Bytes(), mw.FormDataContentType(), nil
}

func (u *UploadIntake) processFile(r *http.Request, fh *multipart.FileHeader) (*upload.Result, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, apierror.InternalError(fmt.Errorf("open upload part: %w", err))
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, apierror.InternalError(fmt.Errorf("read upload part: %w", err))
	}

	meta := upload.FileMeta{
		Filename: fh.Filename,
		MIMEType: partMIMEType(fh),
		Size:     int64(len(data)),
	}

	return u.pipeline.Process(r.Context(), meta, data)
}

// partMIMEType extracts the declared content type of a file part, stripping
// any parameters. Missing headers come back empty and fail validation by name.
func partMIMEType(fh *multipart.FileHeader) string {
	ct := fh.Header.Get("Content-Type")
	if ct == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return ct
	}
	return mediaType
}

// filePartHeader builds the MIME header for a rewritten file part. The
// pipeline re-encodes to JPEG, so the part is declared as image/jpeg.
func filePartHeader(field, filename string) textproto.MIMEHeader {
	quoteEscaper := strings.NewReplacer("\\", "\\\\", `"`, "\\\"")
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
			quoteEscaper.Replace(field), quoteEscaper.Replace(filename)))
	h.Set("Content-Type", "image/jpeg")
	return h
}
