// Package web serves the unit's local HTTP API: live status, recent logs,
// build info and the current coverage plan.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// PlanView is the JSON form of the active coverage plan.
type PlanView struct {
	PlanID       string       `json:"plan_id"`
	State        string       `json:"state"`
	Cursor       int          `json:"cursor"`
	TotalPlanned int          `json:"total_planned"`
	Waypoints    [][2]float64 `json:"waypoints"`
}

// PlanFunc returns the plan currently driving the dispatcher.
type PlanFunc func() PlanView

type Options struct {
	Status *Status
	Logs   *LogBuffer
	Plan   PlanFunc
	Info   BuildInfo
}

type api struct {
	status *Status
	plan   PlanFunc
	info   BuildInfo
}

func Handler(opts Options) http.Handler {
	a := &api{status: opts.Status, plan: opts.Plan, info: opts.Info}
	if a.status == nil {
		a.status = NewStatus()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NoCache)
		r.Get("/status", a.getStatus)
		r.Get("/about", a.about)
		r.Get("/plan", a.getPlan)
		if opts.Logs != nil {
			r.Method(http.MethodGet, "/logs", opts.Logs)
		}
	})
	r.Get("/", a.index)
	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}

func (a *api) getStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, a.status.Snapshot(time.Now().UTC()))
}

func (a *api) getPlan(w http.ResponseWriter, r *http.Request) {
	if a.plan == nil {
		http.Error(w, "plan unavailable", http.StatusNotFound)
		return
	}
	v := a.plan()
	if v.Waypoints == nil {
		v.Waypoints = [][2]float64{}
	}
	writeJSON(w, v)
}

func (a *api) index(w http.ResponseWriter, r *http.Request) {
	snap := a.status.Snapshot(time.Now().UTC())
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprintf(w, "<!doctype html><html><head><meta charset=\"utf-8\"><title>subsurvey</title></head><body>")
	_, _ = fmt.Fprintf(w, "<h1>subsurvey</h1>")
	_, _ = fmt.Fprintf(w, "<p>See <a href=\"/api/status\">/api/status</a>, <a href=\"/api/plan\">/api/plan</a> and <a href=\"/api/logs?format=text\">/api/logs</a>.</p>")
	_, _ = fmt.Fprintf(w, "<pre>mode=%s\nuptime_sec=%d\nticks=%d\nlast_tick_utc=%s</pre>",
		snap.Mode, snap.UptimeSec, snap.Ticks, snap.LastTickUTC)
	_, _ = fmt.Fprintf(w, "</body></html>")
}

func Serve(ctx context.Context, listenAddr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
