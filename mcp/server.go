package mcp

import (
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Skryldev/mcp-user-tools/observability"
	"github.com/Skryldev/mcp-user-tools/repo"
)

const (
	serviceName   = "MCP Server RA2 JDBC"
	serverName    = "MCP Server - RA2 JDBC DAM"
	ServerVersion = "1.0.0"
)

// Server routes tool invocations to a UserDataService.
type Server struct {
	svc        repo.UserDataService
	registry   *Registry
	validate   *validator.Validate
	translator ut.Translator
	logger     *slog.Logger
	timeout    time.Duration
	tools      map[string]toolFunc

	mux *chi.Mux
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger used for request and failure logs.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRequestTimeout bounds each tool invocation to d. Client disconnects do
// not cancel it. Zero disables the bound.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) { s.timeout = d }
}

// NewServer builds the router for svc.
func NewServer(svc repo.UserDataService, opts ...Option) (*Server, error) {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	english := en.New()
	uni := ut.New(english, english)
	trans, _ := uni.GetTranslator("en")
	if err := en_translations.RegisterDefaultTranslations(validate, trans); err != nil {
		return nil, err
	}

	s := &Server{
		svc:        svc,
		registry:   NewRegistry(),
		validate:   validate,
		translator: trans,
		logger:     slog.Default(),
		mux:        chi.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.tools = s.toolFuncs()
	s.routes()
	return s, nil
}

// Registry returns the tool catalog served by s.
func (s *Server) Registry() *Registry { return s.registry }

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Handler returns s wrapped with OpenTelemetry HTTP instrumentation.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.mux, "mcp",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

func (s *Server) routes() {
	r := s.mux
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimw.Recoverer)
	r.Use(observability.HTTPMetricsMiddleware)
	r.Use(corsMiddleware)

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/mcp", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/tools", s.handleTools)
		for _, t := range s.registry.Tools() {
			r.Post("/"+t.Name, s.invoke(t.Name, s.tools[t.Name]))
		}
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]string{
		"status":  "UP",
		"service": serviceName,
	})
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	tools := s.registry.Tools()
	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"tools":   tools,
		"count":   len(tools),
		"server":  serverName,
		"version": ServerVersion,
	})
}
