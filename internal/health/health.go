// SPDX-License-Identifier: MIT

// Package health serves the supervisor's ambient observability surface:
// /healthz (JSON status dump) and /metrics (Prometheus text exposition),
// per SPEC_FULL §4.7. This is an external surface the engine itself
// never reads from — the Non-goal in spec.md §1 ruling out health probes
// governs what the engine does, not what operators can observe.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// ServiceInfo mirrors one engine.NamedStatus entry for JSON/metrics
// rendering, decoupling this package from the engine's internal types.
type ServiceInfo struct {
	Name       string        `json:"name"`
	State      string        `json:"state"`
	Pid        int           `json:"pid,omitempty"`
	Uptime     time.Duration `json:"uptime_ns"`
	StartCount int           `json:"start_count"`
	Up         bool          `json:"up"`
}

// StatusProvider returns a snapshot of every declared service. The
// running supervisor implements this by adapting engine.AllStatuses.
type StatusProvider interface {
	Services() []ServiceInfo
}

// Response is the JSON body /healthz returns.
type Response struct {
	Status    string        `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Services  []ServiceInfo `json:"services"`
}

// Handler serves /healthz and /metrics from a StatusProvider.
type Handler struct {
	provider StatusProvider
}

// NewHandler creates a health/metrics HTTP handler.
func NewHandler(provider StatusProvider) *Handler {
	return &Handler{provider: provider}
}

// ServeHTTP implements http.Handler, routing to /healthz and /metrics.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/metrics":
		h.serveMetrics(w, r)
	default:
		h.serveHealth(w, r)
	}
}

func (h *Handler) serveHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var services []ServiceInfo
	if h.provider != nil {
		services = h.provider.Services()
	}

	healthy := true
	for _, svc := range services {
		if !svc.Up {
			healthy = false
			break
		}
	}

	resp := Response{
		Timestamp: time.Now(),
		Services:  services,
	}
	if healthy {
		resp.Status = "healthy"
	} else {
		resp.Status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// serveMetrics writes a Prometheus text-format response. Implemented
// directly against the exposition format, without a client library
// dependency, matching the teacher's health.Handler.
func (h *Handler) serveMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var services []ServiceInfo
	if h.provider != nil {
		services = h.provider.Services()
	}

	var sb strings.Builder

	fmt.Fprintln(&sb, "# HELP svctl_service_up Is the service currently up (1=up, 0=not).")
	fmt.Fprintln(&sb, "# TYPE svctl_service_up gauge")
	for _, svc := range services {
		v := 0
		if svc.Up {
			v = 1
		}
		fmt.Fprintf(&sb, "svctl_service_up{service=%q} %d\n", svc.Name, v)
	}

	fmt.Fprintln(&sb, "# HELP svctl_service_uptime_seconds Seconds since the service last started.")
	fmt.Fprintln(&sb, "# TYPE svctl_service_uptime_seconds gauge")
	for _, svc := range services {
		fmt.Fprintf(&sb, "svctl_service_uptime_seconds{service=%q} %.3f\n", svc.Name, svc.Uptime.Seconds())
	}

	fmt.Fprintln(&sb, "# HELP svctl_service_start_count Consecutive starts in the current restart burst.")
	fmt.Fprintln(&sb, "# TYPE svctl_service_start_count gauge")
	for _, svc := range services {
		fmt.Fprintf(&sb, "svctl_service_start_count{service=%q} %d\n", svc.Name, svc.StartCount)
	}

	fmt.Fprintln(&sb, "# HELP svctl_service_state Current state, one-hot per known state label.")
	fmt.Fprintln(&sb, "# TYPE svctl_service_state gauge")
	for _, svc := range services {
		fmt.Fprintf(&sb, "svctl_service_state{service=%q,state=%q} 1\n", svc.Name, svc.State)
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(sb.String()))
}

// ListenAndServe starts the health/metrics HTTP server on addr, shutting
// down gracefully when ctx is cancelled. Binds synchronously so a
// port-in-use error surfaces to the caller immediately rather than only
// after ctx.Done().
func ListenAndServe(ctx context.Context, addr string, handler http.Handler) error {
	return ListenAndServeReady(ctx, addr, handler, nil)
}

// ListenAndServeReady is ListenAndServe, closing ready once the listener
// is bound so callers can synchronize startup (used by the suture-wrapped
// health service in internal/supervision).
func ListenAndServeReady(ctx context.Context, addr string, handler http.Handler, ready chan<- struct{}) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	if ready != nil {
		close(ready)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	return <-errCh
}
