// Package api exposes a minimal HTTP status/control surface over the
// BACnet stack core: stats, routing table, and BBMD table inspection.
// It does not implement object-model services; it is a contract-only
// operational surface, consistent with the core's protocol scope.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/krisarmstrong/bacstack/pkg/bbmd"
	"github.com/krisarmstrong/bacstack/pkg/router"
	"github.com/krisarmstrong/bacstack/pkg/stats"
)

const (
	// MaxRequestBodySize bounds any request body this server reads.
	MaxRequestBodySize = 1 << 20 // 1MB

	// DefaultRateLimit/DefaultBurst are the per-IP token bucket defaults.
	DefaultRateLimit = 100
	DefaultBurst     = 200
)

// rateLimiterEntry tracks a rate limiter with its last access time.
type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter provides per-IP rate limiting for API requests.
type RateLimiter struct {
	limiters map[string]*rateLimiterEntry
	mu       sync.RWMutex
	rate     rate.Limit
	burst    int
}

// NewRateLimiter creates a new rate limiter with the given rate and burst.
func NewRateLimiter(r rate.Limit, b int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rateLimiterEntry),
		rate:     r,
		burst:    b,
	}
}

// GetLimiter returns the rate limiter for the given IP address.
func (rl *RateLimiter) GetLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, exists := rl.limiters[ip]
	if !exists {
		entry = &rateLimiterEntry{limiter: rate.NewLimiter(rl.rate, rl.burst), lastSeen: time.Now()}
		rl.limiters[ip] = entry
	} else {
		entry.lastSeen = time.Now()
	}
	return entry.limiter
}

// CleanupStale removes limiters for IPs not seen recently, bounding
// memory growth from clients that come and go.
func (rl *RateLimiter) CleanupStale() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	const staleThreshold = time.Hour
	now := time.Now()
	for ip, entry := range rl.limiters {
		if now.Sub(entry.lastSeen) > staleThreshold {
			delete(rl.limiters, ip)
		}
	}
}

func getClientIP(r *http.Request) string {
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}

// ErrorResponse is the standardized error body every handler returns.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Path      string    `json:"path"`
	Method    string    `json:"method"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, errorCode, message string) {
	resp := ErrorResponse{
		Error:     errorCode,
		Message:   message,
		Timestamp: time.Now(),
		Path:      r.URL.Path,
		Method:    r.Method,
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

func addSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Referrer-Policy", "no-referrer")
}

// ServerConfig defines the API server's dependencies.
type ServerConfig struct {
	Addr    string
	Token   string
	Stats   *stats.Statistics
	Routes  *router.RoutingTable
	BBMD    *bbmd.Manager // nil if this daemon runs no BBMD
	Version string
}

// Server exposes the REST status/control surface.
type Server struct {
	cfg         ServerConfig
	httpServer  *http.Server
	rateLimiter *RateLimiter
	cleanupStop chan struct{}
}

// NewServer returns a configured API server.
func NewServer(cfg ServerConfig) *Server {
	return &Server{
		cfg:         cfg,
		rateLimiter: NewRateLimiter(DefaultRateLimit, DefaultBurst),
	}
}

// Start boots the HTTP listener. Returns immediately; ListenAndServe
// runs on its own goroutine until Shutdown is called.
func (s *Server) Start() error {
	if s.cfg.Addr == "" {
		return nil
	}
	if s.cfg.Stats == nil {
		return fmt.Errorf("api server requires a stats registry")
	}
	if s.cfg.Token == "" {
		log.Println("[API] WARNING: running without a bearer token; all endpoints are open")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.auth(s.handleStatus))
	mux.HandleFunc("/routes", s.auth(s.handleRoutes))
	mux.HandleFunc("/bbmd/fdt/", s.auth(s.handleDeleteFDT))
	mux.HandleFunc("/healthz", s.handleHealthz)

	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[API] server stopped: %v", err)
		}
	}()

	s.cleanupStop = make(chan struct{})
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-s.cleanupStop:
				return
			case <-ticker.C:
				s.rateLimiter.CleanupStale()
			}
		}
	}()

	return nil
}

// Shutdown gracefully stops the HTTP listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cleanupStop != nil {
		close(s.cleanupStop)
	}
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addSecurityHeaders(w)

		clientIP := getClientIP(r)
		if !s.rateLimiter.GetLimiter(clientIP).Allow() {
			writeError(w, r, http.StatusTooManyRequests, "rate_limit_exceeded", "rate limit exceeded")
			return
		}

		if s.cfg.Token != "" {
			token := r.Header.Get("Authorization")
			token = strings.TrimPrefix(token, "Bearer ")
			if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.Token)) != 1 {
				writeError(w, r, http.StatusUnauthorized, "unauthorized", "invalid or missing authentication token")
				return
			}
		}

		next(w, r)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	addSecurityHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.cfg.Stats.GetSnapshot()
	body := map[string]interface{}{
		"version": s.cfg.Version,
		"stats":   snap,
	}
	if s.cfg.BBMD != nil {
		body["bdt"] = s.cfg.BBMD.BDT()
		body["fdt"] = s.cfg.BBMD.FDT()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}

func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Routes == nil {
		writeError(w, r, http.StatusNotFound, "no_router", "this daemon has no routing table")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.cfg.Routes.GetAllEntries())
}

// handleDeleteFDT deletes a foreign-device registration by its B/IP
// address, given as an "a.b.c.d:port" path suffix (e.g. POST
// /bbmd/fdt/192.168.1.50:47808).
func (s *Server) handleDeleteFDT(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
		return
	}
	if s.cfg.BBMD == nil {
		writeError(w, r, http.StatusNotFound, "no_bbmd", "this daemon runs no BBMD")
		return
	}
	mac := strings.TrimPrefix(r.URL.Path, "/bbmd/fdt/")
	if mac == "" {
		writeError(w, r, http.StatusBadRequest, "missing_mac", "path must include the device MAC")
		return
	}
	if err := s.cfg.BBMD.DeleteFDTEntryByString(mac); err != nil {
		writeError(w, r, http.StatusNotFound, "not_found", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
