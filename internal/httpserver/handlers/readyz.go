package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/marksync/internal/coordinator"
	"github.com/MrSnakeDoc/marksync/internal/httpserver/deps"
)

type componentStatus struct {
	OK     bool   `json:"ok"`
	Mode   string `json:"mode,omitempty"`
	Impact string `json:"impact,omitempty"`
	Error  string `json:"error,omitempty"`
}

type readyzResponse struct {
	Ready      bool                       `json:"ready"`
	Mode       string                     `json:"mode"`
	Components map[string]componentStatus `json:"components"`
	Sync       coordinator.Status         `json:"sync"`
}

// Readyz reports whether the backend answers and how the sync engine is
// doing. Only a backend failure makes the instance unready; a lost change
// feed degrades to refresh-on-demand.
func Readyz(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := d.Engine.Status()

		components := map[string]componentStatus{
			"backend": checkBackend(r.Context(), d),
			"feed":    feedStatus(status),
			"store":   storeStatus(status),
		}

		resp := readyzResponse{
			Ready:      components["backend"].OK && status.Running,
			Mode:       determineMode(components),
			Components: components,
			Sync:       status,
		}

		code := http.StatusOK
		if !resp.Ready {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, resp)
	}
}

func determineMode(components map[string]componentStatus) string {
	if !components["backend"].OK {
		return "critical"
	}
	if !components["feed"].OK || !components["store"].OK {
		return "degraded"
	}
	return "live"
}

func checkBackend(ctx context.Context, d deps.Deps) componentStatus {
	if d.PingBackend == nil {
		return componentStatus{OK: true, Mode: d.Backend}
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := d.PingBackend(ctx); err != nil {
		return componentStatus{OK: false, Mode: d.Backend, Impact: "reads-and-writes-failing", Error: err.Error()}
	}
	return componentStatus{OK: true, Mode: d.Backend}
}

func feedStatus(s coordinator.Status) componentStatus {
	switch {
	case s.UserID == "":
		return componentStatus{OK: true, Mode: "idle"}
	case s.FeedConnected:
		return componentStatus{OK: true, Mode: "live"}
	default:
		return componentStatus{OK: false, Mode: "disconnected", Impact: "remote-changes-delayed"}
	}
}

func storeStatus(s coordinator.Status) componentStatus {
	if s.State == "error" {
		return componentStatus{OK: false, Mode: s.State, Impact: "showing-last-good-collection", Error: s.LastError}
	}
	return componentStatus{OK: true, Mode: s.State}
}
