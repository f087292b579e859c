// Package health reports component-by-component readiness.
package health

import (
	"database/sql"
	"net/http"
	"time"

	"Postwing/internal/api/handlers"
)

// TickReporter is the slice of the dispatcher the health check reads.
type TickReporter interface {
	LastTick() time.Time
	TickInterval() time.Duration
}

// Handler serves the health endpoint.
type Handler struct {
	db         *sql.DB
	dispatcher TickReporter
}

// NewHandler creates a new health handler.
func NewHandler(db *sql.DB, dispatcher TickReporter) *Handler {
	return &Handler{db: db, dispatcher: dispatcher}
}

type componentStatus struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// HandleHealth reports each component. 503 when the database is down;
// a stale dispatcher degrades the report but keeps the server in
// rotation, since inbound reads still work.
// GET /health
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	components := map[string]componentStatus{}
	status := http.StatusOK
	overall := "ok"

	if err := h.db.PingContext(r.Context()); err != nil {
		components["database"] = componentStatus{Status: "down", Detail: err.Error()}
		status = http.StatusServiceUnavailable
		overall = "down"
	} else {
		components["database"] = componentStatus{Status: "ok"}
	}

	components["dispatcher"] = h.dispatcherStatus()
	if components["dispatcher"].Status != "ok" && overall == "ok" {
		overall = "degraded"
	}

	handlers.WriteJSON(w, status, map[string]interface{}{
		"status":     overall,
		"components": components,
	})
}

func (h *Handler) dispatcherStatus() componentStatus {
	if h.dispatcher == nil {
		return componentStatus{Status: "disabled"}
	}

	last := h.dispatcher.LastTick()
	if last.IsZero() {
		return componentStatus{Status: "starting", Detail: "no tick completed yet"}
	}

	age := time.Since(last)
	if age > 3*h.dispatcher.TickInterval() {
		return componentStatus{Status: "stale",
			Detail: "last tick finished " + age.Round(time.Second).String() + " ago"}
	}
	return componentStatus{Status: "ok"}
}
