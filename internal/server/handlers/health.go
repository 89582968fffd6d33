package handlers

import (
	"net/http"
	"time"
)

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Uptime   int64  `json:"uptime"`
	Sessions int    `json:"sessions"`
	Clients  int    `json:"clients"`
}

// HealthHandler returns a health check handler. Either counter may be nil.
func HealthHandler(version string, startedAt time.Time, sessions, clients func() int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:  "ok",
			Version: version,
			Uptime:  int64(time.Since(startedAt).Seconds()),
		}
		if sessions != nil {
			resp.Sessions = sessions()
		}
		if clients != nil {
			resp.Clients = clients()
		}
		SendJSON(w, http.StatusOK, resp)
	}
}
