// Package server exposes the HTTP surface: the scheduled sync trigger, the
// public deeplink endpoint, and the admin search/report views.
package server

import (
	"context"
	"crypto/subtle"
	"crypto/tls"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/acme/autocert"

	"github.com/jjeknow/coupang-price-sub000/internal/deeplink"
	"github.com/jjeknow/coupang-price-sub000/internal/ingest"
	"github.com/jjeknow/coupang-price-sub000/internal/store"
	"github.com/jjeknow/coupang-price-sub000/internal/upstream"
)

// Config holds server configuration.
type Config struct {
	Addr       string
	TLSDomain  string
	SyncSecret string
	AdminKey   string
}

// Pipeline runs one ingestion pass.
type Pipeline interface {
	Run(ctx context.Context) ingest.Summary
}

// Resolver resolves a product into an outbound link.
type Resolver interface {
	Resolve(ctx context.Context, productID int64, productURL string) deeplink.Link
}

// Searcher is the slice of the upstream client backing the admin views.
type Searcher interface {
	SearchProducts(ctx context.Context, keyword string, limit int) ([]upstream.Product, error)
	ClicksReport(ctx context.Context, startDate, endDate string) ([]upstream.ClickRow, error)
}

// Server is the price-sync HTTP server.
type Server struct {
	config    Config
	pipeline  Pipeline
	resolver  Resolver
	searcher  Searcher
	store     store.Store
	http      *http.Server
	ipLimiter *ipRateLimiter
	startTime time.Time
}

func New(cfg Config, p Pipeline, r Resolver, se Searcher, st store.Store) *Server {
	s := &Server{
		config:    cfg,
		pipeline:  p,
		resolver:  r,
		searcher:  se,
		store:     st,
		ipLimiter: newIPRateLimiter(1, 30), // 1 req/s steady, bursts of 30 per IP
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/v1/sync", s.handleSync)
	mux.HandleFunc("/api/v1/deeplink", s.handleDeeplink)
	mux.HandleFunc("/api/v1/products/search", s.handleSearch)
	mux.HandleFunc("/api/v1/reports/clicks", s.handleClicksReport)

	s.http = &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
	}

	return s
}

func (s *Server) Start() error {
	log.Printf("price-sync server starting on %s", s.config.Addr)

	if s.config.TLSDomain != "" {
		// Let's Encrypt auto TLS
		m := &autocert.Manager{
			Cache:      autocert.DirCache(".autocert-cache"),
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(s.config.TLSDomain),
		}

		// HTTP challenge server on :80
		go func() {
			h := m.HTTPHandler(nil)
			log.Printf("ACME HTTP challenge server on :80")
			if err := http.ListenAndServe(":80", h); err != nil {
				log.Printf("HTTP server error: %v", err)
			}
		}()

		s.http.TLSConfig = &tls.Config{GetCertificate: m.GetCertificate}
		return s.http.ListenAndServeTLS("", "")
	}

	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Printf("Graceful shutdown initiated")
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"uptime_sec": int64(time.Since(s.startTime).Seconds()),
		"alloc_mb":   float64(memStats.Alloc) / 1024 / 1024,
		"goroutines": runtime.NumGoroutine(),
	})
}

// handleSync is the scheduled-trigger endpoint: an external cron invokes it
// once per period with the shared bearer secret.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.checkSyncSecret(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	summary := s.pipeline.Run(r.Context())

	status := http.StatusOK
	if !summary.Success {
		// Failed runs surface loudly so monitoring can alert.
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, summary)
}

// handleDeeplink resolves a catalog id or product URL into an outbound link.
// It always answers 200 with a usable URL; upstream trouble degrades to the
// original product URL instead of an error.
func (s *Server) handleDeeplink(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.ipLimiter.Allow(clientIP(r)) {
		http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	productID, _ := strconv.ParseInt(r.URL.Query().Get("productId"), 10, 64)
	productURL := r.URL.Query().Get("url")

	if productID != 0 {
		p, err := s.store.GetProduct(productID)
		if err != nil {
			log.Printf("deeplink lookup for %d: %v", productID, err)
		}
		if p != nil && p.URL != "" {
			// The stored URL always wins: a caller-supplied URL must never be
			// cached under a tracked product's id.
			productURL = p.URL
		} else {
			// Unknown id: resolve the caller's URL outside the cache.
			productID = 0
		}
	}
	if productURL == "" {
		http.Error(w, "productId or url required", http.StatusBadRequest)
		return
	}

	link := s.resolver.Resolve(r.Context(), productID, productURL)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": !link.Fallback,
		"data":    link,
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if !s.checkAdmin(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	keyword := r.URL.Query().Get("keyword")
	if keyword == "" {
		http.Error(w, "keyword required", http.StatusBadRequest)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 50 {
		limit = 20
	}

	items, err := s.searcher.SearchProducts(r.Context(), keyword, limit)
	if err != nil {
		s.writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    items,
	})
}

func (s *Server) handleClicksReport(w http.ResponseWriter, r *http.Request) {
	if !s.checkAdmin(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	start := r.URL.Query().Get("startDate")
	end := r.URL.Query().Get("endDate")
	if start == "" || end == "" {
		http.Error(w, "startDate and endDate required (yyyyMMdd)", http.StatusBadRequest)
		return
	}

	rows, err := s.searcher.ClicksReport(r.Context(), start, end)
	if err != nil {
		s.writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    rows,
	})
}

// writeUpstreamError maps the upstream error taxonomy onto HTTP statuses.
func (s *Server) writeUpstreamError(w http.ResponseWriter, err error) {
	var rle *upstream.RateLimitError
	if errors.As(err, &rle) {
		w.Header().Set("Retry-After", strconv.FormatInt(int64(rle.RetryAfter/time.Second)+1, 10))
		http.Error(w, "Upstream quota exhausted", http.StatusTooManyRequests)
		return
	}
	log.Printf("upstream error: %v", err)
	http.Error(w, "Upstream request failed", http.StatusBadGateway)
}

func (s *Server) checkSyncSecret(r *http.Request) bool {
	if s.config.SyncSecret == "" {
		// No secret configured means the trigger is disabled outright.
		return false
	}
	got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.config.SyncSecret)) == 1
}

func (s *Server) checkAdmin(r *http.Request) bool {
	if s.config.AdminKey == "" {
		return true
	}
	got := r.Header.Get("X-Admin-Key")
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.config.AdminKey)) == 1
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	return r.RemoteAddr
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}
