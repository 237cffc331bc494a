package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"expensedesk/backend/internal/domain"
	"expensedesk/backend/internal/service"
	"expensedesk/backend/internal/store"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
	metrics       *metrics
}

// New builds the HTTP API. Request metrics are registered on reg; a nil reg
// gets a private registry.
func New(svc *service.Service, auth *AuthManager, allowedOrigin string, reg *prometheus.Registry) *API {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		metrics:       newMetrics(reg),
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(middleware.Recoverer)
	r.Use(a.observe)
	r.Use(securityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{a.allowedOrigin},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", requestIDHeader},
		ExposedHeaders: []string{requestIDHeader},
		MaxAge:         300,
	}))
	r.Use(limitBody)

	r.Get("/healthz", a.handleHealth)
	r.Method(http.MethodGet, "/metrics", a.metrics.handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", a.handleLogin)
		r.With(a.optionalAuth).Post("/auth/register", a.handleRegister)

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth)

			r.Get("/auth/me", a.handleMe)

			r.Get("/roles", a.handleListRoles)
			r.Post("/roles", a.handleCreateRole)
			r.Put("/roles/{id}", a.handleUpdateRole)
			r.Delete("/roles/{id}", a.handleDeleteRole)

			r.Get("/categories", a.handleListCategories)
			r.Post("/categories", a.handleCreateCategory)
			r.Get("/categories/{id}", a.handleGetCategory)
			r.Put("/categories/{id}", a.handleUpdateCategory)
			r.Delete("/categories/{id}", a.handleDeleteCategory)

			r.Get("/items", a.handleListItems)
			r.Post("/items", a.handleCreateItem)
			r.Get("/items/{id}", a.handleGetItem)
			r.Put("/items/{id}", a.handleUpdateItem)
			r.Delete("/items/{id}", a.handleDeleteItem)
			r.Get("/items/{id}/price-history", a.handleItemPriceHistory)

			r.Get("/expenses", a.handleListExpenses)
			r.Post("/expenses", a.handleCreateExpense)
			r.Get("/expenses/{id}", a.handleGetExpense)
			r.Patch("/expenses/{id}", a.handleUpdateExpense)
			r.Put("/expenses/{id}", a.handleUpdateExpense)
			r.Delete("/expenses/{id}", a.handleDeleteExpense)

			r.Get("/orders", a.handleListOrders)
			r.Post("/orders", a.handleCreateOrder)
			r.Get("/orders/by-date", a.handleOrderItemsByDate)
			r.Delete("/orders/by-date", a.handleDeleteOrdersByDate)
			r.Get("/orders/{id}", a.handleGetOrder)
			r.Put("/orders/{id}", a.handleReplaceOrderItems)
			r.Delete("/orders/{id}", a.handleDeleteOrder)

			r.Post("/order-items", a.handleAddOrderItem)
			r.Get("/order-items/{id}", a.handleGetOrderItem)
			r.Patch("/order-items/{id}", a.handleEditOrderItem)
			r.Put("/order-items/{id}", a.handleEditOrderItem)
			r.Delete("/order-items/{id}", a.handleDeleteOrderItem)

			r.Get("/transactions", a.handleListTransactions)
			r.Post("/transactions", a.handleCreateTransaction)
			r.Get("/transactions/{id}", a.handleGetTransaction)
			r.Patch("/transactions/{id}", a.handleUpdateTransaction)
			r.Put("/transactions/{id}", a.handleUpdateTransaction)
			r.Delete("/transactions/{id}", a.handleDeleteTransaction)

			r.Get("/notifications", a.handleListNotifications)
			r.Get("/notifications/{id}", a.handleGetNotification)
			r.Post("/notifications/{id}/read", a.handleMarkNotificationRead)

			r.Get("/reports/daily-totals", a.handleDailyTotals)
			r.Get("/reports/daily-user-summary", a.handleDailyUserSummary)
			r.Get("/reports/grouped-items", a.handleGroupedItems)
			r.Get("/reports/available-dates", a.handleAvailableDates)
		})
	})

	return r
}

const requestIDHeader = "X-Request-ID"

type requestIDKey struct{}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// observe records metrics and an access log line once the route has been
// matched and served.
func (a *API) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		startedAt := time.Now()
		next.ServeHTTP(ww, r)
		elapsed := time.Since(startedAt)

		a.metrics.observe(r, ww, elapsed)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", elapsed,
			"request_id", requestIDFrom(r.Context()),
		)
	})
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	authorization := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
		return "", false
	}
	return strings.TrimSpace(authorization[len("Bearer "):]), true
}

func (a *API) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(service.WithActor(r.Context(), actor)))
	})
}

// optionalAuth attaches the actor when a valid token is present and lets
// anonymous requests through.
func (a *API) optionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token, ok := bearerToken(r); ok {
			if actor, err := a.auth.ParseToken(token); err == nil {
				r = r.WithContext(service.WithActor(r.Context(), actor))
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		status := http.StatusUnauthorized
		if !errors.Is(err, errInvalidCredentials) && !errors.Is(err, errAccountInactive) {
			status = http.StatusInternalServerError
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var caller *domain.Actor
	if actor, ok := service.ActorFromContext(r.Context()); ok {
		caller = &actor
	}
	user, err := a.auth.Register(r.Context(), caller, req)
	if err != nil {
		switch {
		case errors.Is(err, errRoleAssignment):
			writeError(w, http.StatusForbidden, err)
		case errors.Is(err, store.ErrConflict):
			writeError(w, http.StatusConflict, errors.New("username already exists"))
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusBadRequest, errors.New("unknown role"))
		default:
			writeError(w, http.StatusBadRequest, err)
		}
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": user})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	actor, _ := service.ActorFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"id":       actor.UserID,
		"username": actor.Username,
		"role":     actor.Role,
		"is_admin": actor.IsAdmin(),
	})
}

// writeServiceError maps the service error taxonomy onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, err)
	case errors.Is(err, service.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, service.ErrValidation):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func pathID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies stay generic; the cause is only logged.
	msg := err.Error()
	if status >= 500 {
		slog.Error("internal error", "status", status, "error", err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
