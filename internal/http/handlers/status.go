package handlers

import (
	"encoding/json"
	"net/http"
	"time"
)

// StatusHandler serves the liveness and configuration health endpoints.
type StatusHandler struct {
	service string
	version string
	missing func() []string
	now     func() time.Time
}

// NewStatusHandler creates a StatusHandler. missing reports required settings
// that are absent; nil means nothing is required.
func NewStatusHandler(service, version string, missing func() []string) *StatusHandler {
	if missing == nil {
		missing = func() []string { return nil }
	}
	return &StatusHandler{service: service, version: version, missing: missing, now: time.Now}
}

type rootResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

type healthResponse struct {
	OK        bool     `json:"ok"`
	Timestamp string   `json:"timestamp"`
	Missing   []string `json:"missing,omitempty"`
}

// Root confirms the process is up. It has no side effects.
func (h *StatusHandler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rootResponse{Status: "online", Service: h.service, Version: h.version})
}

// Health reports whether the required configuration is present. Missing
// settings answer 503 so load balancers can hold traffic back.
func (h *StatusHandler) Health(w http.ResponseWriter, r *http.Request) {
	missing := h.missing()
	resp := healthResponse{
		OK:        len(missing) == 0,
		Timestamp: h.now().UTC().Format(time.RFC3339),
		Missing:   missing,
	}
	status := http.StatusOK
	if !resp.OK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
