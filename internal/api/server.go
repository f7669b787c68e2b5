// Package api serves the provisioning HTTP surface.
package api

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"netmgr/internal/connmgr"
	"netmgr/pkg/connectivity"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

//go:embed page.html
var provisioningPage []byte

const maxBodyBytes = 4096

// captiveCheckPaths are the connectivity-check URLs client operating
// systems fetch right after joining a network
var captiveCheckPaths = []string{
	"/generate_204",
	"/hotspot-detect.html",
	"/redirect",
	"/ncsi.txt",
	"/captiveportal",
	"/connecttest.txt",
}

// ScanSource provides the cached network list
type ScanSource interface {
	Names() []string
}

// Options configures the server
type Options struct {
	// Addr is the listen address, e.g. ":80"
	Addr string
	// PortalURL is where captive clients are sent, e.g. "http://192.168.4.1/"
	PortalURL string
	// Version is reported by /fw
	Version string
	// Events serves the status WebSocket at /events when set
	Events http.Handler
	// Reboot restarts the service; /reboot is only served when set
	Reboot func()
}

// Server provides the provisioning endpoints
type Server struct {
	conn      connectivity.Controller
	scans     ScanSource
	opts      Options
	logger    *zap.Logger
	server    *http.Server
	endpoints []Endpoint
}

// NewServer builds the complete route table. Routes never change after
// construction and survive portal restarts.
func NewServer(conn connectivity.Controller, scans ScanSource, opts Options, logger *zap.Logger) *Server {
	if opts.PortalURL == "" {
		opts.PortalURL = "/"
	}

	s := &Server{
		conn:   conn,
		scans:  scans,
		opts:   opts,
		logger: logger.Named("api"),
	}

	mux := http.NewServeMux()
	s.route(mux, "/", http.MethodGet, "Provisioning page (captive redirect for unknown paths)", s.handleRoot)
	s.route(mux, "/scan", http.MethodGet, "JSON array of nearby network names, strongest first", s.handleScan)
	s.route(mux, "/save", http.MethodPost, `Save credentials {"ssid","pass"} and connect`, s.handleSave)
	s.route(mux, "/connect", http.MethodGet, "Save credentials from ?ssid=&pass= and connect", s.handleConnect)
	s.route(mux, "/forget", http.MethodGet, "Clear saved credentials and enter portal mode", s.handleForget)
	s.route(mux, "/portal", http.MethodPost, "Restart portal mode", s.handlePortal)
	s.route(mux, "/status", http.MethodGet, "Connection status text", s.handleStatus)
	s.route(mux, "/ping", http.MethodGet, "Reachability check, returns ok", s.handlePing)
	s.route(mux, "/fw", http.MethodGet, "Firmware version", s.handleFirmware)
	if opts.Reboot != nil {
		s.route(mux, "/reboot", http.MethodPost, "Restart the service (GET also accepted)", s.handleReboot)
	}
	if opts.Events != nil {
		s.endpoints = append(s.endpoints, Endpoint{Path: "/events", Method: http.MethodGet, Description: "WebSocket stream of status changes"})
		mux.Handle("/events", opts.Events)
	}
	for _, p := range captiveCheckPaths {
		mux.HandleFunc(p, s.handleCaptive)
	}

	s.server = &http.Server{
		Addr:         opts.Addr,
		Handler:      noStore(mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Endpoint represents an API endpoint with its documentation
type Endpoint struct {
	Path        string `json:"path"`
	Method      string `json:"method"`
	Description string `json:"description"`
}

func (s *Server) route(mux *http.ServeMux, path, method, description string, h http.HandlerFunc) {
	s.endpoints = append(s.endpoints, Endpoint{Path: path, Method: method, Description: description})
	mux.HandleFunc(path, h)
}

// Handler returns the root handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Endpoints lists the registered endpoints
func (s *Server) Endpoints() []Endpoint {
	out := make([]Endpoint, len(s.endpoints))
	copy(out, s.endpoints)
	return out
}

func noStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

func writeText(w http.ResponseWriter, code int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	io.WriteString(w, text)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.handleUnmatched(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(provisioningPage)
}

// handleUnmatched sends captive clients to the portal; outside portal mode
// it answers 404 with the endpoint list.
func (s *Server) handleUnmatched(w http.ResponseWriter, r *http.Request) {
	if s.conn.InPortal() {
		s.handleCaptive(w, r)
		return
	}
	s.handleSitemap(w, r)
}

func (s *Server) handleCaptive(w http.ResponseWriter, r *http.Request) {
	s.logger.Debug("Captive redirect",
		zap.String("host", r.Host),
		zap.String("path", r.URL.Path))
	http.Redirect(w, r, s.opts.PortalURL, http.StatusFound)
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	names := s.scans.Names()
	if names == nil {
		names = []string{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(names); err != nil {
		s.logger.Error("Failed to encode scan response", zap.Error(err))
	}
}

// saveRequest accepts the firmware's field names and the descriptive ones
type saveRequest struct {
	SSID       string `json:"ssid"`
	Pass       string `json:"pass"`
	Name       string `json:"name"`
	Passphrase string `json:"passphrase"`
}

func (r saveRequest) credentials() (string, string) {
	if r.SSID != "" {
		return r.SSID, r.Pass
	}
	return r.Name, r.Passphrase
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req saveRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.logger.Debug("Rejected malformed save request", zap.Error(err))
		writeText(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	name, pass := req.credentials()
	s.submit(w, r, name, pass)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	s.submit(w, r, q.Get("ssid"), q.Get("pass"))
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request, name, pass string) {
	if err := s.conn.SubmitCredentials(name, pass); err != nil {
		if errors.Is(err, connmgr.ErrInvalidCredentials) {
			writeText(w, http.StatusBadRequest, "SSID missing")
			return
		}
		s.logger.Error("Failed to submit credentials", zap.Error(err))
		writeText(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	s.logger.Info("Credentials submitted",
		zap.String("ssid", name),
		zap.String("remote_addr", r.RemoteAddr))
	writeText(w, http.StatusOK, "Connecting to: "+name)
}

func (s *Server) handleForget(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.conn.RequestForget()
	s.logger.Info("Forget requested", zap.String("remote_addr", r.RemoteAddr))
	writeText(w, http.StatusOK, "WiFi credentials cleared.")
}

func (s *Server) handlePortal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.conn.RequestPortal()
	s.logger.Info("Portal restart requested", zap.String("remote_addr", r.RemoteAddr))
	writeText(w, http.StatusAccepted, "Portal restarting")
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeText(w, http.StatusOK, s.conn.Describe())
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeText(w, http.StatusOK, "ok")
}

func (s *Server) handleFirmware(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeText(w, http.StatusOK, s.opts.Version)
}

func (s *Server) handleReboot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.logger.Info("Reboot requested", zap.String("remote_addr", r.RemoteAddr))
	writeText(w, http.StatusOK, "Rebooting...")
	s.opts.Reboot()
}

// handleSitemap returns 404 (for automation compatibility) with a list of
// all available endpoints
func (s *Server) handleSitemap(w http.ResponseWriter, r *http.Request) {
	preferHTML := strings.Contains(r.Header.Get("Accept"), "text/html")

	if preferHTML {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `<!DOCTYPE html>
<html>
<head>
    <title>Network Manager</title>
    <style>
        body { font-family: monospace; margin: 40px; background: #1e1e1e; color: #d4d4d4; }
        h1 { color: #4ec9b0; }
        .endpoint { background: #2d2d2d; padding: 15px; margin: 10px 0; border-left: 3px solid #007acc; }
        .method { color: #4ec9b0; font-weight: bold; }
        .path { color: #ce9178; }
        .description { color: #9cdcfe; margin-top: 5px; }
    </style>
</head>
<body>
    <h1>Network Manager</h1>
    <p>Not found. Available endpoints:</p>
`)
		for _, ep := range s.endpoints {
			fmt.Fprintf(w, `    <div class="endpoint">
        <div><span class="method">%s</span> <span class="path">%s</span></div>
        <div class="description">%s</div>
    </div>
`, ep.Method, ep.Path, ep.Description)
		}
		fmt.Fprint(w, "</body>\n</html>\n")
	} else {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, "Network Manager\n")
		fmt.Fprintf(w, "===============\n\n")
		fmt.Fprintf(w, "Not found. Available endpoints:\n\n")
		for _, ep := range s.endpoints {
			fmt.Fprintf(w, "  %-6s %-10s %s\n", ep.Method, ep.Path, ep.Description)
		}
	}

	s.logger.Debug("Sitemap served",
		zap.String("path", r.URL.Path),
		zap.String("remote_addr", r.RemoteAddr),
		zap.Bool("html_format", preferHTML))
}

// Start binds the listener and serves in the background. Bind errors are
// returned synchronously.
func (s *Server) Start() error {
	s.logger.Info("Starting provisioning server", zap.String("addr", s.server.Addr))

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop() error {
	s.logger.Info("Stopping provisioning server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	return nil
}
