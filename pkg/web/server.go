// Package web serves the vehicle dashboard and its small JSON API.
package web

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/MrCodeEU/faceignition/pkg/ignition"
	"github.com/MrCodeEU/faceignition/pkg/logging"
)

//go:embed templates/*.html
var templateFS embed.FS

// Controller is the part of the ignition controller the dashboard drives.
type Controller interface {
	Start() (*ignition.Attempt, error)
	Stop() error
	Resolve(d ignition.Decision) error
	IsPending() bool
	PendingCapture() (string, bool)
	Snapshot() ignition.Snapshot
}

// Journal is the operator-facing event log.
type Journal interface {
	Appendf(format string, args ...interface{})
	Lines() []string
	Total() uint64
}

// Locator reports the vehicle position.
type Locator interface {
	Coordinates() string
	URL() string
}

// Options configures the server.
type Options struct {
	Host string
	Port int
	// StartWait bounds /start_vehicle?wait=true.
	StartWait time.Duration
	// StreamInterval is how often /stream checks the journal for new lines.
	StreamInterval time.Duration
}

// Server represents the web server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	ctrl       Controller
	journal    Journal
	locator    Locator
	opts       Options
	templates  *template.Template

	// streams ends open /stream handlers once Shutdown begins.
	streams     context.Context
	stopStreams context.CancelFunc
}

// NewServer creates a new web server
func NewServer(ctrl Controller, journal Journal, locator Locator, opts Options) *Server {
	if opts.StartWait <= 0 {
		opts.StartWait = 35 * time.Second
	}
	if opts.StreamInterval <= 0 {
		opts.StreamInterval = 100 * time.Millisecond
	}

	r := chi.NewRouter()
	streams, stopStreams := context.WithCancel(context.Background())
	s := &Server{
		streams:     streams,
		stopStreams: stopStreams,
		router:    r,
		ctrl:      ctrl,
		journal:   journal,
		locator:   locator,
		opts:      opts,
		templates: template.Must(template.ParseFS(templateFS, "templates/*.html")),
	}

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chiMiddleware.Recoverer)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", opts.Host, opts.Port),
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		// Covers the blocking start; /stream clears its own deadline.
		WriteTimeout: opts.StartWait + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.httpServer.RegisterOnShutdown(stopStreams)

	return s
}

func (s *Server) setupRoutes() {
	r := s.router

	r.Get("/", s.index)
	r.Get("/status", s.status)
	r.Get("/api/health", s.health)

	r.Get("/start_vehicle", s.startVehicle)
	r.Get("/stop_vehicle", s.stopVehicle)

	r.Get("/authorize", s.authorizePage)
	r.Post("/authorize", s.authorize)
	r.Get("/captured_image", s.capturedImage)

	r.Get("/stream", s.stream)

	r.Get("/send_location", s.sendLocation)
	r.Get("/redirect_to_map", s.redirectToMap)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	logging.Component("web").Infof("Starting web server on %s", ln.Addr())
	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Component("web").Info("Shutting down web server...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			logging.Component("web").WithFields(logging.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"duration":   time.Since(start).String(),
				"request_id": chiMiddleware.GetReqID(r.Context()),
				"remote":     r.RemoteAddr,
			}).Debug("HTTP request")
		}()
		next.ServeHTTP(ww, r)
	})
}
