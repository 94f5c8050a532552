package main

import (
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/oszuidwest/zwfm-noisemeter/internal/audio"
	"github.com/oszuidwest/zwfm-noisemeter/internal/config"
	"github.com/oszuidwest/zwfm-noisemeter/internal/detector"
	"github.com/oszuidwest/zwfm-noisemeter/internal/server"
	"github.com/oszuidwest/zwfm-noisemeter/internal/types"
	"github.com/oszuidwest/zwfm-noisemeter/internal/util"
)

var loginTmpl = template.Must(template.New("login").Parse(loginHTML))
var indexTmpl = template.Must(template.New("index").Parse(indexHTML))
var faviconTmpl = template.Must(template.New("favicon").Parse(faviconSVG))

// statusInterval is how often clients receive a full status update.
const statusInterval = 3000 * time.Millisecond

type pageData struct {
	Error       bool
	CSRFToken   string
	Version     string
	Year        int
	StationName string
	PrimaryCSS  template.CSS
}

// Server is an HTTP server that provides the web interface for the noise meter.
type Server struct {
	config           *config.Config
	detector         *detector.Detector
	sessions         *server.SessionManager
	commands         *server.CommandHandler
	version          *releaseChecker
	eventsPath       string
	captureAvailable bool
}

// NewServer returns a new Server for the components of a.
func NewServer(a *app) *Server {
	return &Server{
		config:           a.cfg,
		detector:         a.det,
		sessions:         server.NewSessionManager(),
		commands:         server.NewCommandHandler(a.cfg, a.det, a.events.Path(), a.captureAvailable),
		version:          newReleaseChecker(releasesURL),
		eventsPath:       a.events.Path(),
		captureAvailable: a.captureAvailable,
	}
}

// handleWebSocket handles bidirectional WebSocket communication for real-time updates.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := server.UpgradeConnection(w, r)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	send := make(chan any, 16)
	done := make(chan struct{})
	statusUpdate := make(chan struct{}, 1)

	go server.RunWriter(conn, send, done)
	go server.RunReader(conn, s.commands, send, done, statusUpdate)

	s.runWebSocketEventLoop(send, done, statusUpdate)
}

// runWebSocketEventLoop pushes levels every poll, alerts as they are raised
// and periodic status updates until the client goes away.
func (s *Server) runWebSocketEventLoop(send chan<- any, done, statusUpdate <-chan struct{}) {
	alerts, unsubscribe := s.detector.SubscribeAlerts()
	defer unsubscribe()

	levelsTicker := time.NewTicker(s.config.Snapshot().PollInterval)
	statusTicker := time.NewTicker(statusInterval)
	defer levelsTicker.Stop()
	defer statusTicker.Stop()

	trySend := func(msg any) bool {
		select {
		case send <- msg:
			return true
		case <-done:
			return false
		}
	}

	if !trySend(s.buildWSStatus()) {
		return
	}

	for {
		var msg any
		select {
		case <-done:
			return
		case <-statusUpdate:
			msg = s.buildWSStatus()
		case <-statusTicker.C:
			msg = s.buildWSStatus()
		case <-levelsTicker.C:
			msg = types.WSLevelsResponse{Type: "levels", Levels: s.detector.Levels()}
		case a := <-alerts:
			msg = types.NewWSAlertResponse(a)
		}
		if !trySend(msg) {
			return
		}
	}
}

// buildWSStatus returns the current WebSocket status response.
func (s *Server) buildWSStatus() types.WSStatusResponse {
	cfg := s.config.Snapshot()

	return types.WSStatusResponse{
		Type:             "status",
		CaptureAvailable: s.captureAvailable,
		Detector:         s.detector.Status(),
		Devices:          s.detector.Devices(),
		ThresholdMin:     audio.MinThresholdDB,
		ThresholdMax:     audio.MaxThresholdDB,
		Notifications: types.NotifySummary{
			WebhookURL:       cfg.WebhookURL,
			LogPath:          cfg.LogPath,
			GraphTenantID:    cfg.Graph.TenantID,
			GraphClientID:    cfg.Graph.ClientID,
			GraphFromAddress: cfg.Graph.FromAddress,
			GraphRecipients:  cfg.Graph.Recipients,
			MQTTBroker:       cfg.MQTT.Broker,
			MQTTTopic:        cfg.MQTT.Topic,
			KafkaBrokers:     cfg.Kafka.Brokers,
			KafkaTopic:       cfg.Kafka.Topic,
		},
		Clips: cfg.Clips,
		Settings: types.WSSettings{
			AudioInput:     cfg.AudioInput,
			PollIntervalMs: cfg.PollInterval.Milliseconds(),
			Platform:       runtime.GOOS,
		},
		Version: s.version.Info(),
	}
}

// SetupRoutes returns an [http.Handler] configured with all application routes.
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()
	auth := s.sessions.AuthMiddleware()
	apiAuth := s.sessions.APIAuthMiddleware(s.config.APIKey)

	// Public routes (no auth required)
	mux.HandleFunc("/login", s.handleLogin)
	mux.HandleFunc("/logout", s.handleLogout)
	mux.HandleFunc("/style.css", s.handlePublicStatic)
	mux.HandleFunc("/favicon.svg", s.handleFavicon)

	// REST API (session or API key)
	mux.HandleFunc("GET /api/status", apiAuth(s.handleAPIStatus))
	mux.HandleFunc("GET /api/levels", apiAuth(s.handleAPILevels))
	mux.HandleFunc("POST /api/monitor/start", apiAuth(s.handleAPIStart))
	mux.HandleFunc("POST /api/monitor/stop", apiAuth(s.handleAPIStop))
	mux.HandleFunc("PUT /api/threshold", apiAuth(s.handleAPIThreshold))
	mux.HandleFunc("GET /api/events", apiAuth(s.handleAPIEvents))
	mux.HandleFunc("GET /api/devices", apiAuth(s.handleAPIDevices))

	// Protected routes
	mux.HandleFunc("/ws", auth(s.handleWebSocket))
	mux.HandleFunc("/", auth(s.handleStatic))

	return securityHeaders(mux)
}

// securityHeaders returns middleware that wraps handlers with security headers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// handlePublicStatic handles requests for static files without authentication.
func (s *Server) handlePublicStatic(w http.ResponseWriter, r *http.Request) {
	if !serveStaticFile(w, r.URL.Path) {
		http.NotFound(w, r)
	}
}

// handleFavicon serves the favicon with the configured station color.
func (s *Server) handleFavicon(w http.ResponseWriter, _ *http.Request) {
	cfg := s.config.Snapshot()
	w.Header().Set("Content-Type", "image/svg+xml")
	if err := faviconTmpl.Execute(w, struct{ Color string }{Color: cfg.StationColorLight}); err != nil {
		slog.Error("failed to render favicon", "error", err)
	}
}

// serveStaticFile serves a static file by path and reports whether it was found.
func serveStaticFile(w http.ResponseWriter, path string) bool {
	file, ok := staticFiles[path]
	if !ok {
		return false
	}
	w.Header().Set("Content-Type", file.contentType)
	if _, err := w.Write([]byte(file.content)); err != nil {
		slog.Error("failed to write static file", "file", file.name, "error", err)
	}
	return true
}

// page returns the template data shared by the login and index pages.
func (s *Server) page() pageData {
	cfg := s.config.Snapshot()
	return pageData{
		Version:     Version,
		Year:        time.Now().Year(),
		StationName: cfg.StationName,
		PrimaryCSS:  template.CSS(util.GenerateBrandCSS(cfg.StationColorLight, cfg.StationColorDark)),
	}
}

// handleLogin handles login page display and form submission.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.sessions.Authenticated(r) {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	data := s.page()
	data.CSRFToken = s.sessions.CreateCSRFToken()

	if r.Method == http.MethodPost {
		if !s.sessions.ValidateCSRFToken(r.FormValue("csrf_token")) {
			http.Error(w, "Invalid request", http.StatusBadRequest)
			return
		}

		cfg := s.config.Snapshot()
		if s.sessions.Login(w, r, r.FormValue("username"), r.FormValue("password"), cfg.WebUser, cfg.WebPassword) {
			http.Redirect(w, r, "/", http.StatusFound)
			return
		}
		slog.Warn("failed login attempt", "remote", r.RemoteAddr)
		data.Error = true
	}

	w.Header().Set("Content-Type", "text/html")
	if err := loginTmpl.Execute(w, data); err != nil {
		slog.Error("failed to render login page", "error", err)
	}
}

// handleLogout handles user logout requests.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.sessions.Logout(w, r)
	http.Redirect(w, r, "/login", http.StatusFound)
}

// staticFile is an embedded static file with content type and data.
type staticFile struct {
	contentType string
	content     string
	name        string
}

// staticFiles is a map from URL paths to static file definitions.
var staticFiles = map[string]staticFile{
	"/style.css": {contentType: "text/css", content: styleCSS, name: "style.css"},
	"/app.js":    {contentType: "application/javascript", content: appJS, name: "app.js"},
	// favicon.svg is served dynamically via handleFavicon
}

// handleStatic handles requests for embedded static web interface files.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if path == "/" || path == "/index.html" {
		w.Header().Set("Content-Type", "text/html")
		if err := indexTmpl.Execute(w, s.page()); err != nil {
			slog.Error("failed to write index.html", "error", err)
		}
		return
	}

	if serveStaticFile(w, path) {
		return
	}
	http.NotFound(w, r)
}

// Start begins the HTTP server.
// Returns an *http.Server that can be used for graceful shutdown.
func (s *Server) Start() *http.Server {
	addr := fmt.Sprintf(":%d", s.config.Snapshot().WebPort)
	slog.Info("starting web server", "addr", addr)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	return srv
}
