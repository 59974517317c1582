package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/agentworkforce/relaycollab/internal/collab"
	"github.com/agentworkforce/relaycollab/internal/seed"
)

type ServerConfig struct {
	// Resolver identifies callers. When nil, a JWTResolver with JWTSecret
	// is used.
	Resolver  PrincipalResolver
	JWTSecret string

	// OutboxLimit caps each session's pending frames; 0 picks the default
	// and a negative value means unbounded.
	OutboxLimit  int
	OutboxPolicy collab.OverflowPolicy

	MaxFrameBytes int64
	PingInterval  time.Duration
	// IdleTimeout closes connections that send nothing for this long; 0
	// disables it.
	IdleTimeout    time.Duration
	WriteTimeout   time.Duration
	SeedTimeout    time.Duration
	AllowedOrigins []string

	RateLimitMax    int
	RateLimitWindow time.Duration

	Logger *log.Logger
}

type Server struct {
	docs        *collab.Documents
	sessions    *collab.Sessions
	seeds       seed.Source
	cfg         ServerConfig
	resolver    PrincipalResolver
	rateLimiter *rateLimiter
	logger      *log.Logger
}

type rateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	entries map[string]rateEntry
}

type rateEntry struct {
	count   int
	resetAt time.Time
}

func NewServer(docs *collab.Documents, sessions *collab.Sessions, seeds seed.Source) *Server {
	return NewServerWithConfig(docs, sessions, seeds, ServerConfig{})
}

func NewServerWithConfig(docs *collab.Documents, sessions *collab.Sessions, seeds seed.Source, cfg ServerConfig) *Server {
	if docs == nil {
		docs = collab.NewDocuments()
	}
	if sessions == nil {
		sessions = collab.NewSessions()
	}
	if seeds == nil {
		seeds = seed.NewMemorySource()
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-secret"
	}
	switch {
	case cfg.OutboxLimit == 0:
		cfg.OutboxLimit = 1024
	case cfg.OutboxLimit < 0:
		cfg.OutboxLimit = 0
	}
	if cfg.OutboxPolicy == "" {
		cfg.OutboxPolicy = collab.OverflowDropOldest
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = 1 << 20
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.IdleTimeout < 0 {
		cfg.IdleTimeout = 0
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.SeedTimeout <= 0 {
		cfg.SeedTimeout = 5 * time.Second
	}
	if cfg.RateLimitMax < 0 {
		cfg.RateLimitMax = 0
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	resolver := cfg.Resolver
	if resolver == nil {
		resolver = JWTResolver{Secret: cfg.JWTSecret}
	}
	var limiter *rateLimiter
	if cfg.RateLimitMax > 0 {
		limiter = &rateLimiter{
			window:  cfg.RateLimitWindow,
			max:     cfg.RateLimitMax,
			entries: map[string]rateEntry{},
		}
	}
	return &Server{
		docs:        docs,
		sessions:    sessions,
		seeds:       seeds,
		cfg:         cfg,
		resolver:    resolver,
		rateLimiter: limiter,
		logger:      logger,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	if r.URL.Path == "/v1/admin/rooms" && r.Method == http.MethodGet {
		s.handleAdminRooms(w, r)
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if len(parts) != 4 || parts[0] != "v1" || parts[1] != "rooms" || r.Method != http.MethodGet {
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
		return
	}
	room := parts[2]
	route := parts[3]
	switch route {
	case "ws", "state", "ops", "cursors":
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
		return
	}
	correlationID := getCorrelationID(r)
	if err := collab.ValidateRoomID(room); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid room id", correlationID)
		return
	}

	principal, ok := s.authorize(w, r, room, "", correlationID)
	if !ok {
		return
	}

	switch route {
	case "ws":
		if s.rateLimiter != nil {
			key := room + "|" + principal.UserID
			if !s.rateLimiter.allow(key, time.Now().UTC()) {
				retryAfter := int(math.Ceil(s.rateLimiter.window.Seconds()))
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded", correlationID)
				return
			}
		}
		s.handleRoomSocket(w, r, room, principal, correlationID)
	case "state":
		s.handleRoomState(w, room, correlationID)
	case "ops":
		s.handleRoomOps(w, r, room, correlationID)
	case "cursors":
		s.handleRoomCursors(w, room, correlationID)
	}
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request, room, requiredScope, correlationID string) (Principal, bool) {
	principal, err := s.resolver.ResolvePrincipal(r, room)
	if err != nil {
		var authErr *authError
		if errors.As(err, &authErr) {
			writeError(w, authErr.status, authErr.code, authErr.message, correlationID)
		} else {
			writeError(w, http.StatusUnauthorized, "unauthorized", err.Error(), correlationID)
		}
		return Principal{}, false
	}
	if requiredScope != "" && !principal.HasScope(requiredScope) {
		writeError(w, http.StatusForbidden, "forbidden", "missing required scope: "+requiredScope, correlationID)
		return Principal{}, false
	}
	return principal, true
}

func (s *Server) handleRoomState(w http.ResponseWriter, room, correlationID string) {
	text, version, ok := s.docs.Get(room)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "room not loaded", correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"roomId":  room,
		"content": text,
		"version": version,
	})
}

func (s *Server) handleRoomOps(w http.ResponseWriter, r *http.Request, room, correlationID string) {
	since := uint64(0)
	if raw := strings.TrimSpace(r.URL.Query().Get("since")); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid since parameter", correlationID)
			return
		}
		since = parsed
	}
	records, version, err := s.docs.Records(room, since)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "room not loaded", correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"roomId":     room,
		"version":    version,
		"operations": records,
	})
}

func (s *Server) handleRoomCursors(w http.ResponseWriter, room, correlationID string) {
	cursors, err := s.docs.Cursors(room)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "room not loaded", correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"roomId":  room,
		"cursors": cursors,
	})
}

type adminRoom struct {
	collab.RoomSummary
	Sessions int `json:"sessions"`
}

func (s *Server) handleAdminRooms(w http.ResponseWriter, r *http.Request) {
	correlationID := getCorrelationID(r)
	if _, ok := s.authorize(w, r, "", scopeAdminRead, correlationID); !ok {
		return
	}
	counts := s.sessions.RoomCounts()
	rooms := s.docs.Rooms()
	out := make([]adminRoom, 0, len(rooms))
	for _, summary := range rooms {
		out = append(out, adminRoom{RoomSummary: summary, Sessions: counts[summary.RoomID]})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rooms":    out,
		"sessions": s.sessions.Count(),
	})
}

// loadSeed asks the seed source for the initial text of room. A room the
// source does not know starts empty.
func (s *Server) loadSeed(ctx context.Context, room string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.SeedTimeout)
	defer cancel()
	text, found, err := s.seeds.Load(ctx, room)
	if err != nil {
		return "", err
	}
	if !found {
		return "", nil
	}
	return text, nil
}

func getCorrelationID(r *http.Request) string {
	return r.Header.Get("X-Correlation-Id")
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}

func (r *rateLimiter) allow(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok || now.After(entry.resetAt) {
		r.entries[key] = rateEntry{
			count:   1,
			resetAt: now.Add(r.window),
		}
		return true
	}
	if entry.count >= r.max {
		return false
	}
	entry.count++
	r.entries[key] = entry
	return true
}
