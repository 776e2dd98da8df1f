package upload

import (
	"context"
	"errors"
	"time"

	"github.com/closetmind/gateway/internal/metrics"
	"github.com/closetmind/gateway/pkg/apierror"
	"github.com/closetmind/gateway/pkg/logger"
)

// Pipeline runs an upload candidate through the three intake stages in order:
// metadata validation, content threat scan, image sanitization. Bytes are
// never scanned before the metadata checks pass, and never sanitized before
// the scan passes.
type Pipeline struct {
	policy    *Policy
	sanitizer *Sanitizer
	log       *logger.Logger
}

// NewPipeline creates an upload pipeline.
func NewPipeline(policy *Policy, sanitizer *Sanitizer, log *logger.Logger) *Pipeline {
	return &Pipeline{
		policy:    policy,
		sanitizer: sanitizer,
		log:       log,
	}
}

// Result carries the sanitized bytes that replace the original upload before
// downstream handling proceeds.
type Result struct {
	Data []byte
	Size int64
}

// Process runs one file through the pipeline. Rejections come back as
// *apierror.Error with the stage-appropriate code; the caller can write them
// straight to the response.
func (p *Pipeline) Process(ctx context.Context, meta FileMeta, data []byte) (*Result, error) {
	if err := p.policy.Validate(meta); err != nil {
		metrics.UploadsProcessed.WithLabelValues("invalid").Inc()
		return nil, apierror.InvalidUpload(err.Error())
	}

	report := Scan(data)
	if !report.Safe() {
		for _, threat := range report.Threats {
			metrics.ThreatsDetected.WithLabelValues(threat).Inc()
		}
		metrics.UploadsProcessed.WithLabelValues("unsafe").Inc()
		p.log.Warn("upload rejected by content scan",
			"filename", meta.Filename,
			"declared_type", meta.MIMEType,
			"threats", report.Threats,
		)
		return nil, apierror.UnsafeContent(report.Threats)
	}

	start := time.Now()
	out, err := p.sanitizer.Sanitize(ctx, data)
	metrics.SanitizeDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, ErrUnsupportedFormat) {
			// The container lied about its contents. The client has to change
			// the payload, so this rides the invalid-upload channel rather
			// than the ambiguous processing-failure one.
			metrics.UploadsProcessed.WithLabelValues("invalid").Inc()
			return nil, apierror.InvalidUpload(err.Error())
		}
		metrics.UploadsProcessed.WithLabelValues("processing_failed").Inc()
		return nil, apierror.ImageProcessingFailed(err.Error())
	}

	metrics.UploadsProcessed.WithLabelValues("accepted").Inc()
	return &Result{Data: out, Size: int64(len(out))}, nil
}
