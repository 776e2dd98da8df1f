package handler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/closetmind/gateway/pkg/apierror"
	"github.com/closetmind/gateway/pkg/logger"
)

// ProxyHandler forwards admitted requests to the upstream application. It is
// the terminal handler behind every protection stage: by the time a request
// reaches it, the block gate, the rate limiter, and (for uploads) the intake
// pipeline have all passed.
type ProxyHandler struct {
	upstream *url.URL
	proxy    *httputil.ReverseProxy
	client   *http.Client
	log      *logger.Logger
}

// NewProxyHandler creates a reverse proxy to the given upstream base URL.
func NewProxyHandler(rawURL string, log *logger.Logger) (*ProxyHandler, error) {
	upstream, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream URL: %w", err)
	}
	if upstream.Scheme == "" || upstream.Host == "" {
		return nil, fmt.Errorf("upstream URL %q missing scheme or host", rawURL)
	}

	h := &ProxyHandler{
		upstream: upstream,
		client:   &http.Client{},
		log:      log,
	}

	proxy := httputil.NewSingleHostReverseProxy(upstream)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		h.log.Error("upstream request failed",
			"error", err,
			"method", r.Method,
			"path", r.URL.Path,
		)
		apierror.New(http.StatusBadGateway, "UPSTREAM_UNAVAILABLE",
			"Upstream service unavailable").WriteJSON(w)
	}
	h.proxy = proxy

	return h, nil
}

// ServeHTTP forwards the request upstream.
func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.proxy.ServeHTTP(w, r)
}

// Ping checks upstream reachability for the readiness probe. Any HTTP answer
// counts; only transport failures mark the upstream down.
func (h *ProxyHandler) Ping(ctx context.Context) error {
	target := strings.TrimRight(h.upstream.String(), "/") + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("upstream unreachable: %w", err)
	}
	defer resp.Body.Close()

	return nil
}
