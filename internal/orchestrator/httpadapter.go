package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// ============================================================================
// HTTP Adapter Controller (spec.md §4.5, §6.1)
// ============================================================================
//
// Wraps the rate-limited HTTP frontend described in spec.md §6.1 — itself an
// out-of-scope external collaborator, specified only by the interface it
// exposes (POST /v1/start, POST /v1/end, 1 in-flight request across all
// endpoints, queue size 0). This file implements the minimal in-core
// surface needed to satisfy that interface and to make §8 scenario S5
// observable, grounded on webhooks.go's runWebhooksServer (explicit
// http.Server + graceful Shutdown on context cancel).
// ============================================================================

// HTTPAdapterController is the HTTP-facing reference Controller.
type HTTPAdapterController struct {
	port   int
	logger *slog.Logger

	onCmd func(ModelCommand)

	srv *http.Server

	// inFlight is a capacity-1 gate: "1 in-flight request across all
	// endpoints, queue size 0, oldest-first" (spec.md §6.1) is exactly a
	// non-blocking acquire on a buffered channel of size 1 — no third-party
	// rate limiter is needed for a single-slot semaphore (see DESIGN.md).
	inFlight chan struct{}
}

// NewHTTPAdapterController constructs an HTTP Adapter bound to port. Its
// controller id is "webapi:<port>", per spec.md §4.5.
func NewHTTPAdapterController(port int, logger *slog.Logger) *HTTPAdapterController {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPAdapterController{
		port:     port,
		logger:   logger,
		inFlight: make(chan struct{}, 1),
	}
}

func (a *HTTPAdapterController) ID() string { return fmt.Sprintf("webapi:%d", a.port) }

func (a *HTTPAdapterController) OnCommand(fn func(ModelCommand)) { a.onCmd = fn }

// Start binds the HTTP listener and begins serving in the background. It
// returns once the listener is actively serving or has failed to start.
func (a *HTTPAdapterController) Start(ctx context.Context) bool {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/start", a.handle(CommandStart))
	mux.HandleFunc("/v1/end", a.handle(CommandEnd))

	a.srv = &http.Server{
		Addr:    fmt.Sprintf("0.0.0.0:%d", a.port),
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		if err != nil {
			a.logger.Error("http adapter failed to start", "port", a.port, "error", err)
			return false
		}
		return false // server exited immediately; treat as a failed start
	case <-time.After(50 * time.Millisecond):
		a.logger.Info("http adapter listening", "port", a.port)
		return true
	case <-ctx.Done():
		return false
	}
}

// Stop gracefully shuts the HTTP server down.
func (a *HTTPAdapterController) Stop() error {
	if a.srv == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return a.srv.Shutdown(shutdownCtx)
}

func (a *HTTPAdapterController) handle(cmdType CommandType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		select {
		case a.inFlight <- struct{}{}:
		default:
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"too many requests"}`))
			return
		}
		defer func() { <-a.inFlight }()

		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		cmd := NewModelCommand(a.ID(), cmdType, string(body), "")
		if a.onCmd != nil {
			a.onCmd(cmd)
		}

		msg := "started"
		if cmdType == CommandEnd {
			msg = "ended"
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": msg})
	}
}
