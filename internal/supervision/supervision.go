// SPDX-License-Identifier: MIT

// Package supervision wires the engine's event loop, the control listener's
// accept loop, and the optional health/metrics server into one suture tree,
// per spec §4.6. suture supervises the goroutines themselves — restarting
// the control listener if its accept loop dies, for instance — it never
// touches service state directly: every goroutine suture restarts still
// funnels its mutations through engine.Supervisor's single-owner loop (spec
// §5), so restarting a layer never reintroduces a data race.
package supervision

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/svctl/internal/control"
	"github.com/tomtom215/svctl/internal/engine"
	"github.com/tomtom215/svctl/internal/health"
)

// statusProvider adapts engine.Supervisor.AllStatuses to health.StatusProvider,
// keeping the health package decoupled from the engine's own types (per
// health.go's doc comment on why it defines its own ServiceInfo shape).
type statusProvider struct {
	sup *engine.Supervisor
}

func (p statusProvider) Services() []health.ServiceInfo {
	all := p.sup.AllStatuses()
	out := make([]health.ServiceInfo, 0, len(all))
	for _, ns := range all {
		out = append(out, health.ServiceInfo{
			Name:       ns.Name,
			State:      ns.Status.State.String(),
			Pid:        ns.Status.Pid,
			Uptime:     ns.Status.Uptime,
			StartCount: ns.Status.StartCount,
			Up:         ns.Status.State == engine.StateUp,
		})
	}
	return out
}

// NewHealthHandler builds the /healthz and /metrics handler for sup,
// wiring the engine's status table into health.Handler without the health
// package ever importing engine.
func NewHealthHandler(sup *engine.Supervisor) *health.Handler {
	return health.NewHandler(statusProvider{sup: sup})
}

// funcService adapts a plain func(context.Context) error to suture.Service,
// the same shape the control.Server and engine.Supervisor Serve/Run methods
// already have.
type funcService struct {
	name string
	fn   func(context.Context) error
}

func (f funcService) Serve(ctx context.Context) error { return f.fn(ctx) }
func (f funcService) String() string                  { return f.name }

// TreeConfig controls the root supervisor's restart behavior. Defaults
// mirror suture's own production defaults.
type TreeConfig struct {
	FailureThreshold float64
	FailureDecay     float64
	FailureBackoff   time.Duration
}

// DefaultTreeConfig matches suture's own production-ready defaults.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
	}
}

// Tree is the root suture.Supervisor for one svctl process: the engine
// loop, the control listener, and (if configured) the health server.
type Tree struct {
	root *suture.Supervisor
}

// New builds the supervision tree. sup is already constructed but not yet
// running (Run is added as a suture.Service, not called directly) — the
// single-owner loop's lifetime is now governed by the tree, not by main.
func New(logger *slog.Logger, cfg TreeConfig, sup *engine.Supervisor, ctl *control.Server, healthAddr string, healthHandler http.Handler) *Tree {
	root := suture.New("svctl", suture.Spec{
		EventHook:        sutureEventHook(logger),
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
	})

	root.Add(funcService{name: "engine", fn: sup.Run})
	root.Add(funcService{name: "control", fn: ctl.Serve})

	if healthAddr != "" {
		root.Add(funcService{
			name: "health",
			fn: func(ctx context.Context) error {
				return health.ListenAndServe(ctx, healthAddr, healthHandler)
			},
		})
	}

	return &Tree{root: root}
}

// Serve blocks until ctx is cancelled or a service exhausts suture's
// restart budget and the tree gives up.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServeBackground starts the tree in its own goroutine and returns a
// channel that receives the terminal error, mirroring suture's own
// ServeBackground contract (safe to Add before it fires, not needed here
// since every service is added before the first Serve call).
func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// sutureEventHook turns suture's structured lifecycle events into leveled
// log lines via the same slog logger the rest of the process uses, instead
// of suture's default stderr writer.
func sutureEventHook(logger *slog.Logger) suture.EventHook {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ev suture.Event) {
		switch ev.(type) {
		case suture.EventStopTimeout:
			logger.Warn("supervision: service did not stop within timeout", "event", ev.String())
		case suture.EventServicePanic, suture.EventServiceTerminate:
			logger.Error("supervision: service failed, restarting", "event", ev.String())
		case suture.EventBackoff, suture.EventResume:
			logger.Warn("supervision: backoff state change", "event", ev.String())
		default:
			logger.Debug("supervision: event", "event", ev.String())
		}
	}
}
