package handler

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/closetmind/gateway/internal/config"
	"github.com/closetmind/gateway/internal/ratelimit"
)

// GatewayHandler exposes the gateway's own protection state.
type GatewayHandler struct {
	limiter *ratelimit.Limiter
	tracker *ratelimit.Tracker
	classes map[string]config.ClassLimit
}

// NewGatewayHandler creates a gateway introspection handler.
func NewGatewayHandler(limiter *ratelimit.Limiter, tracker *ratelimit.Tracker, classes map[string]config.ClassLimit) *GatewayHandler {
	return &GatewayHandler{
		limiter: limiter,
		tracker: tracker,
		classes: classes,
	}
}

// ClassInfo describes one configured limiter class.
type ClassInfo struct {
	Name   string `json:"name"`
	Window string `json:"window"`
	Max    int    `json:"max"`
}

// StatsResponse is the gateway state snapshot.
type StatsResponse struct {
	Timestamp        time.Time   `json:"timestamp"`
	TrackedBuckets   int         `json:"tracked_buckets"`
	TrackedAddresses int         `json:"tracked_addresses"`
	BlockedAddresses int         `json:"blocked_addresses"`
	Classes          []ClassInfo `json:"classes"`
}

// Stats handles GET /api/v1/gateway/stats.
func (h *GatewayHandler) Stats(w http.ResponseWriter, _ *http.Request) {
	tracked, blocked := h.tracker.Stats()

	classes := make([]ClassInfo, 0, len(h.classes))
	for name, limit := range h.classes {
		classes = append(classes, ClassInfo{
			Name:   name,
			Window: limit.Window.String(),
			Max:    limit.Max,
		})
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i].Name < classes[j].Name })

	response := StatsResponse{
		Timestamp:        time.Now().UTC(),
		TrackedBuckets:   h.limiter.Len(),
		TrackedAddresses: tracked,
		BlockedAddresses: blocked,
		Classes:          classes,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}
