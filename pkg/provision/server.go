package provision

import (
	"context"
	"encoding/json"
	"mime"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/logging"
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/metrics"
	"github.com/pkg/errors"
)

const shutdownTimeout = 5 * time.Second

var validate = validator.New()

// Server serves the provisioning endpoint and the agent's metrics.
type Server struct {
	log   logging.Logger
	addr  string
	queue *Queue
}

func NewServer(log logging.Logger, addr string, queue *Queue) *Server {
	return &Server{log: log, addr: addr, queue: queue}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(20 * time.Second))

	r.Post("/config", s.configure)
	r.Get("/metrics", metrics.Handler().ServeHTTP)
	return r
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errs := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.addr).Info("serving provisioning")
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return errors.Wrap(err, "provisioning server failed")
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "unable to stop provisioning server")
	}
	return nil
}

func (s *Server) configure(w http.ResponseWriter, r *http.Request) {
	log := s.log.WithField("request-id", middleware.GetReqID(r.Context()))

	req, err := decode(r)
	if err != nil {
		log.WithError(err).Warn("invalid provisioning request")
		writeError(w, http.StatusBadRequest, "invalid_payload", err.Error())
		return
	}
	if req.Empty() {
		writeError(w, http.StatusBadRequest, "empty_request", "apikey or owner is required")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if !s.queue.Submit(req) {
		writeError(w, http.StatusServiceUnavailable, "busy", "device is busy, try again")
		return
	}
	log.WithField("owner", req.Owner).Info("provisioning request queued")
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

// decode accepts a JSON body or the captive portal's form fields.
func decode(r *http.Request) (Request, error) {
	var req Request
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		err := json.NewDecoder(r.Body).Decode(&req)
		return req, errors.Wrap(err, "invalid JSON payload")
	}
	if err := r.ParseForm(); err != nil {
		return req, errors.Wrap(err, "invalid form")
	}
	req.APIKey = r.PostForm.Get("apikey")
	req.Owner = r.PostForm.Get("owner")
	return req, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}
