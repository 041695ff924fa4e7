package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tracerbot/pkg/dispatch"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	defaultStatusHost = "0.0.0.0"
	defaultStatusPort = 18790
)

type statusResponse struct {
	Status        string                  `json:"status"`
	UptimeSeconds int64                   `json:"uptime_seconds"`
	NLULastOKAt   string                  `json:"nlu_last_ok_at,omitempty"`
	NLULastErr    string                  `json:"nlu_last_error,omitempty"`
	Channels      map[string]channelState `json:"channels"`
	Sessions      *int                    `json:"sessions,omitempty"`
	Reminders     *int                    `json:"pending_reminders,omitempty"`
	Dispatcher    *dispatch.Stats         `json:"dispatcher,omitempty"`
}

func (s *Service) statusAddr() string {
	host := strings.TrimSpace(s.cfg.Gateway.Host)
	if host == "" {
		host = defaultStatusHost
	}

	port := s.cfg.Gateway.Port
	if port == 0 {
		port = defaultStatusPort
	}

	return host + ":" + strconv.Itoa(port)
}

func (s *Service) statusRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/status", s.handleStatus)

	return r
}

func (s *Service) runStatusServer(ctx context.Context) error {
	addr := s.statusAddr()
	server := &http.Server{
		Addr:              addr,
		Handler:           s.statusRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info("Gateway status server started", "address", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start status server: %w", err)
	}
	return nil
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondStatus(w, http.StatusOK, s.currentStatus("ok"))
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	statusCode := http.StatusOK
	status := "ready"
	if !s.isReady() {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	s.respondStatus(w, statusCode, s.currentStatus(status))
}

func (s *Service) handleStatus(w http.ResponseWriter, _ *http.Request) {
	payload := s.currentStatus("ok")

	sessions := s.store.Len()
	reminders := s.reminders.Len()
	stats := s.dispatcher.Stats()
	payload.Sessions = &sessions
	payload.Reminders = &reminders
	payload.Dispatcher = &stats

	s.respondStatus(w, http.StatusOK, payload)
}

func (s *Service) respondStatus(w http.ResponseWriter, statusCode int, payload statusResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to write status response", "error", err)
	}
}

func (s *Service) currentStatus(status string) statusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}

	channels := make(map[string]channelState, len(s.channelStates))
	for name, state := range s.channelStates {
		channels[name] = state
	}

	nluLastOK := ""
	if !s.nluLastOKAt.IsZero() {
		nluLastOK = s.nluLastOKAt.Format(time.RFC3339)
	}

	return statusResponse{
		Status:        status,
		UptimeSeconds: uptime,
		NLULastOKAt:   nluLastOK,
		NLULastErr:    s.nluLastErr,
		Channels:      channels,
	}
}

// isReady requires a running transport and a healthy NLU backend.
func (s *Service) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	anyRunning := false
	for _, state := range s.channelStates {
		if state.Running {
			anyRunning = true
			break
		}
	}

	return anyRunning && !s.nluLastOKAt.IsZero() && s.nluLastErr == ""
}
