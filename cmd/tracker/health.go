package main

import (
	"context"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/rickgao/vesselwatch/internal/connection"
	"github.com/rickgao/vesselwatch/internal/router"
	"github.com/rickgao/vesselwatch/internal/version"
)

// sessionStatus is the read side of connection.Manager used by /health.
type sessionStatus interface {
	State() connection.State
	Epoch() uint64
	QueueLen() int
	Rooms() []connection.Room
	LastError() error
}

type pinger interface {
	Ping(ctx context.Context) error
}

type healthReport struct {
	Status     string         `json:"status"`
	Version    string         `json:"version"`
	Components map[string]any `json:"components"`
}

type roomStatus struct {
	Room      string `json:"room"`
	Desired   string `json:"desired"`
	Confirmed string `json:"confirmed"`
}

// healthHandler reports healthy while authenticated, degraded while the
// session is being (re)established, and unhealthy in error or disconnected.
// A failing database ping is also unhealthy.
func healthHandler(sess sessionStatus, rtr *router.Router, db pinger, writers []recorder) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		report := healthReport{
			Status:     "healthy",
			Version:    version.String(),
			Components: make(map[string]any),
		}

		state := sess.State()
		switch state {
		case connection.StateAuthenticated:
		case connection.StateError, connection.StateDisconnected:
			report.Status = "unhealthy"
		default:
			report.Status = "degraded"
		}

		rooms := sess.Rooms()
		rs := make([]roomStatus, 0, len(rooms))
		for _, room := range rooms {
			rs = append(rs, roomStatus{
				Room:      room.Category.String() + ":" + room.ID,
				Desired:   room.Desired.String(),
				Confirmed: room.Confirmed.String(),
			})
		}
		conn := map[string]any{
			"state":  state.String(),
			"epoch":  sess.Epoch(),
			"queued": sess.QueueLen(),
			"rooms":  rs,
		}
		if err := sess.LastError(); err != nil {
			conn["last_error"] = err.Error()
		}
		report.Components["connection"] = conn

		if rtr != nil {
			report.Components["router"] = rtr.Stats()
		}

		if db != nil {
			if err := db.Ping(ctx); err != nil {
				report.Status = "unhealthy"
				report.Components["timescaledb"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				report.Components["timescaledb"] = "connected"
			}
		}

		if len(writers) > 0 {
			pending := 0
			var inserts, errs int64
			for _, wr := range writers {
				pending += wr.Pending()
				st := wr.Stats()
				inserts += st.Inserts
				errs += st.Errors
			}
			report.Components["recorder"] = map[string]any{
				"pending": pending,
				"inserts": inserts,
				"errors":  errs,
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if report.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(report)
	})
}
