package ingest

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/slicewatch/kpi-pipeline/internal/models"
	"github.com/slicewatch/kpi-pipeline/internal/validate"
)

// HTTPHandler accepts one metric message per POST. A global token bucket
// shields the pipeline from producer floods; legitimate rejections are
// reported per sample without dropping the producer.
type HTTPHandler struct {
	sink    Sink
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewHTTPHandler builds the ingress handler. limiter may be nil to disable
// flood protection.
func NewHTTPHandler(sink Sink, limiter *rate.Limiter, logger *slog.Logger) *HTTPHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPHandler{sink: sink, limiter: limiter, logger: logger}
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "POST required"})
		return
	}
	if h.limiter != nil && !h.limiter.Allow() {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "ingest rate limit exceeded"})
		return
	}

	var msg models.IngressMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":  "invalid JSON payload",
			"reason": string(validate.ReasonMalformed),
		})
		return
	}

	if err := h.sink.Ingest(r.Context(), msg, SourceHTTP); err != nil {
		var rej *validate.RejectionError
		if errors.As(err, &rej) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error":  rej.Error(),
				"reason": string(rej.Reason),
			})
			return
		}
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "sample could not be persisted"})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
