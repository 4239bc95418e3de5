package main

import (
	"encoding/json"
	"log"
	"net/http"
	"sort"
	"time"
)

type slaRule struct {
	SliceID    string  `json:"slice_id"`
	Metric     string  `json:"metric"`
	Comparator string  `json:"comparator"`
	Threshold  float64 `json:"threshold"`
	Severity   string  `json:"severity"`
}

// Canned per-slice rule packs matching the default local slices.
var rulesBySlice = map[string][]slaRule{
	"slice-embb-01": {
		{SliceID: "slice-embb-01", Metric: "latency_ms", Comparator: ">", Threshold: 50, Severity: "medium"},
		{SliceID: "slice-embb-01", Metric: "latency_ms", Comparator: ">", Threshold: 100, Severity: "critical"},
		{SliceID: "slice-embb-01", Metric: "throughput_mbps", Comparator: "<", Threshold: 50, Severity: "high"},
	},
	"slice-urllc-01": {
		{SliceID: "slice-urllc-01", Metric: "latency_ms", Comparator: ">", Threshold: 5, Severity: "critical"},
		{SliceID: "slice-urllc-01", Metric: "jitter_ms", Comparator: ">", Threshold: 1, Severity: "high"},
		{SliceID: "slice-urllc-01", Metric: "packet_loss_rate", Comparator: ">=", Threshold: 0.001, Severity: "critical"},
	},
	"slice-mmtc-01": {
		{SliceID: "slice-mmtc-01", Metric: "packet_loss_rate", Comparator: ">", Threshold: 0.05, Severity: "medium"},
	},
}

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /api/v1/slices", func(w http.ResponseWriter, _ *http.Request) {
		ids := make([]string, 0, len(rulesBySlice))
		for id := range rulesBySlice {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		slices := make([]map[string]string, 0, len(ids))
		for _, id := range ids {
			slices = append(slices, map[string]string{"id": id})
		}
		writeJSON(w, map[string]any{"slices": slices})
	})

	mux.HandleFunc("GET /api/v1/slices/{id}/sla-rules", func(w http.ResponseWriter, r *http.Request) {
		rules, ok := rulesBySlice[r.PathValue("id")]
		if !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "unknown slice"})
			return
		}
		writeJSON(w, map[string]any{"rules": rules})
	})

	logger := log.New(log.Writer(), "slicemanager-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    ":9090",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :9090")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
