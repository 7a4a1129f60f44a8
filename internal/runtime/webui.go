package runtime

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	codecpkg "github.com/drblury/tagflow/internal/runtime/codec"
	configpkg "github.com/drblury/tagflow/internal/runtime/config"
	loggingpkg "github.com/drblury/tagflow/internal/runtime/logging"
	transportpkg "github.com/drblury/tagflow/internal/runtime/transport"
)

// ServiceStatus is served from /api/status.
type ServiceStatus struct {
	PubSubSystem  string        `json:"pubsub_system"`
	Subscriptions int           `json:"subscriptions"`
	ShuttingDown  bool          `json:"shutting_down"`
	Resources     ResourceUsage `json:"resources"`

	Transport transportpkg.Capabilities `json:"transport"`
}

// startAdminServer mounts the admin API when it is enabled.
func (s *Service) startAdminServer() {
	if s.Conf == nil || !s.Conf.AdminEnabled {
		return
	}
	port := s.Conf.AdminPort
	if port == 0 {
		port = configpkg.DefaultAdminPort
	}
	s.RegisterHTTPHandler(port, "/api/", s.adminRouter())
}

func (s *Service) adminRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.adminCORS)
	r.Get("/api/subscriptions", s.handleListSubscriptions)
	r.Get("/api/status", s.handleStatus)
	r.Get("/api/deadletters", s.handleDeadLetters)
	return r
}

func (s *Service) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.registry.Snapshot())
}

func (s *Service) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.deadLetters.Snapshot())
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := ServiceStatus{
		Subscriptions: s.registry.Len(),
		ShuttingDown:  s.registry.Closed(),
		Resources:     s.resources.Sample(),
	}
	if s.Conf != nil {
		status.PubSubSystem = s.Conf.PubSubSystem
		status.Transport = transportpkg.CapabilitiesOf(s.Conf.PubSubSystem)
	}
	s.writeJSON(w, status)
}

func (s *Service) writeJSON(w http.ResponseWriter, v any) {
	body, err := codecpkg.Marshal(v)
	if err != nil {
		s.Logger.Error("Failed to encode admin response", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(body); err != nil {
		s.Logger.Debug("Failed to write admin response", loggingpkg.LogFields{"error": err.Error()})
	}
}

// adminCORS sets CORS headers for allowed origins and answers preflight
// requests itself.
func (s *Service) adminCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if allowed := s.allowedCORSOrigin(r.Header.Get("Origin")); allowed != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowed)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			if allowed != "*" {
				w.Header().Add("Vary", "Origin")
			}
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Service) allowedCORSOrigin(origin string) string {
	if s.Conf == nil {
		return ""
	}
	for _, allowed := range s.Conf.AdminCORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if origin != "" && strings.EqualFold(allowed, origin) {
			return origin
		}
	}
	return ""
}
