package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
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
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/unrolled/secure"

	"siifmart/backend/internal/domain"
	"siifmart/backend/internal/metrics"
	"siifmart/backend/internal/service"
	"siifmart/backend/internal/store"
)

type Options struct {
	AllowedOrigin  string
	LoginRateLimit int
	Production     bool
	Metrics        *metrics.Metrics
	MetricsHandler http.Handler
	Logger         *slog.Logger
}

type API struct {
	service        *service.Service
	auth           *AuthManager
	allowedOrigin  string
	loginRateLimit int
	production     bool
	metrics        *metrics.Metrics
	metricsHandler http.Handler
	logger         *slog.Logger
	validate       *validator.Validate
	pinLimiter     *attemptLimiter
	csrfSecret     []byte
}

func New(svc *service.Service, auth *AuthManager, opts Options) *API {
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	if opts.LoginRateLimit < 1 {
		opts.LoginRateLimit = 5
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &API{
		service:        svc,
		auth:           auth,
		allowedOrigin:  opts.AllowedOrigin,
		loginRateLimit: opts.LoginRateLimit,
		production:     opts.Production,
		metrics:        opts.Metrics,
		metricsHandler: opts.MetricsHandler,
		logger:         opts.Logger,
		validate:       validator.New(validator.WithRequiredStructEnabled()),
		pinLimiter:     newAttemptLimiter(8, time.Minute),
		csrfSecret:     csrfSecret,
	}
}

// csrfTokenForHour computes an HMAC-SHA256 token for the given hour bucket
// (Unix time truncated to the hour), hex-encoded.
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *API) generateCSRFToken() string {
	return a.csrfTokenForHour(time.Now().UTC().Truncate(time.Hour).Unix())
}

// validateCSRFToken accepts the current or previous hour bucket.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	currentBucket := time.Now().UTC().Truncate(time.Hour).Unix()
	expected1 := a.csrfTokenForHour(currentBucket)
	expected2 := a.csrfTokenForHour(currentBucket - 3600)
	return hmac.Equal([]byte(token), []byte(expected1)) ||
		hmac.Equal([]byte(token), []byte(expected2))
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
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(a.secureHeaders())
	r.Use(a.cors)
	r.Use(a.observe)
	r.Use(a.checkCSRF)

	r.Get("/healthz", a.handleHealth)
	if a.metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", a.metricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.With(httprate.Limit(a.loginRateLimit, time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(tooManyRequests),
		)).Post("/auth/login", a.handleLogin)
		r.Get("/auth/csrf-token", a.handleCSRFToken)

		r.Group(func(r chi.Router) {
			r.Use(a.authenticate)
			r.Use(httprate.Limit(240, time.Minute,
				httprate.WithKeyFuncs(actorKey),
				httprate.WithLimitHandler(tooManyRequests),
			))

			r.Get("/products", a.handleListProducts)
			r.With(require(capCatalogWrite)).Post("/products", a.handleCreateProduct)
			r.Get("/products/suggestions", a.handleSuggestions)
			r.With(require(capAuditRead)).Get("/cycle-count-flags", a.handleCycleCountFlags)
			r.With(require(capAuditRead)).Get("/write-offs", a.handleWriteOffs)
			r.With(require(capAuditRead)).Get("/audit-logs", a.handleAuditLogs)

			r.Route("/purchase-orders", func(r chi.Router) {
				r.Use(require(capPOWrite))
				r.Get("/", a.handleListPurchaseOrders)
				r.Post("/", a.handleCreatePurchaseOrder)
				r.Get("/{id}", a.handleGetPurchaseOrder)
				r.Post("/{id}/receive", a.handleReceivePurchaseOrder)
				r.Post("/{id}/cancel", a.handleCancelPurchaseOrder)
			})

			r.Route("/jobs", func(r chi.Router) {
				r.Use(require(capJobWork))
				r.Get("/", a.handleListJobs)
				r.Get("/next", a.handleNextJob)
				r.Get("/{id}", a.handleGetJob)
				r.Post("/{id}/assign", a.handleAssignJob)
				r.Post("/{id}/lines", a.handleResolveLine)
				r.Post("/{id}/complete", a.handleCompleteJob)
				r.With(require(capJobAssign)).Post("/{id}/reset", a.handleResetJob)
			})

			r.With(require(capJobAssign)).Post("/transfers", a.handleCreateTransfer)

			r.Route("/sales", func(r chi.Router) {
				r.Use(require(capSaleCommit))
				r.Post("/quote", a.handleQuote)
				r.Post("/", a.handleCommitSale)
				r.Get("/", a.handleListSales)
				r.Get("/{id}", a.handleGetSale)
				r.With(require(capReturnProcess)).Post("/{id}/returns", a.handleProcessReturn)
			})

			r.Route("/shifts", func(r chi.Router) {
				r.Use(require(capShiftManage))
				r.Post("/open", a.handleOpenShift)
				r.Get("/active", a.handleActiveShift)
				r.Post("/{id}/close", a.handleCloseShift)
			})

			r.Route("/discount-codes", func(r chi.Router) {
				r.With(require(capSaleCommit)).Get("/", a.handleListDiscountCodes)
				r.With(require(capDiscountWrite)).Post("/", a.handleCreateDiscountCode)
				r.With(require(capSaleCommit)).Post("/validate", a.handleValidateDiscountCode)
			})

			r.Route("/users", func(r chi.Router) {
				r.Use(require(capUserAdmin))
				r.Get("/", a.handleListUsers)
				r.Post("/", a.handleCreateUser)
			})
		})
	})

	return r
}

func (a *API) secureHeaders() func(http.Handler) http.Handler {
	sm := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		ContentSecurityPolicy: "default-src 'none'",
		SSLRedirect:           a.production,
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
		IsDevelopment:         !a.production,
	})
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := sm.Process(w, r); err != nil {
				a.logger.Warn("secure headers blocked request", slog.Any("error", err))
				return
			}
			w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
			next.ServeHTTP(w, r)
		})
	}
}

func (a *API) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token, X-Manager-PIN")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// observe writes one access log line and one latency sample per request.
func (a *API) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startedAt := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(startedAt)
		a.metrics.ObserveHTTP(r.Method, route, ww.Status(), elapsed)
		a.logger.Info("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", elapsed),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// csrfExemptPaths are called without a prior token fetch.
var csrfExemptPaths = []string{
	"/api/v1/auth/login",
}

func (a *API) checkCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodPatch {
			next.ServeHTTP(w, r)
			return
		}
		for _, exempt := range csrfExemptPaths {
			if r.URL.Path == exempt {
				next.ServeHTTP(w, r)
				return
			}
		}
		if !a.validateCSRFToken(strings.TrimSpace(r.Header.Get("X-CSRF-Token"))) {
			writeError(w, domain.Errorf(domain.ErrForbidden, "missing or invalid CSRF token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeUnauthorized(w, errors.New("missing bearer token"))
			return
		}
		actor, err := a.auth.ParseToken(strings.TrimSpace(authorization[len("Bearer "):]))
		if err != nil {
			writeUnauthorized(w, err)
			return
		}
		if _, ok := roleCapabilities[actor.Role]; !ok {
			writeError(w, domain.Errorf(domain.ErrForbidden, "unknown role %q", actor.Role))
			return
		}
		next.ServeHTTP(w, r.WithContext(service.WithActor(r.Context(), actor)))
	})
}

func actorKey(r *http.Request) (string, error) {
	if actor, ok := service.ActorFromContext(r.Context()); ok && actor.Username != "" {
		return "user:" + actor.Username, nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}

func tooManyRequests(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusTooManyRequests, map[string]any{
		"error": "too many requests",
		"kind":  "rate_limited",
		"code":  "TooManyRequests",
	})
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := a.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeUnauthorized(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCSRFToken returns a stateless token clients send back in
// X-CSRF-Token on every POST.
func (a *API) handleCSRFToken(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

// siteParam prefers an explicit site_id query parameter, then the actor's
// home site.
func siteParam(r *http.Request) string {
	if site := strings.TrimSpace(r.URL.Query().Get("site_id")); site != "" {
		return site
	}
	actor, _ := service.ActorFromContext(r.Context())
	return actor.SiteID
}

// decode reads a JSON body and runs struct validation.
func (a *API) decode(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return domain.Errorf(domain.ErrInvalidInput, "malformed request body: %v", err)
	}
	if err := a.validate.Struct(dest); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return domain.Errorf(domain.ErrInvalidInput, "%s failed %s validation", fe.Namespace(), fe.Tag())
		}
		return domain.Errorf(domain.ErrInvalidInput, "%v", err)
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func statusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindPrecondition, domain.KindConcurrency:
		return http.StatusConflict
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindConsistency:
		return http.StatusInternalServerError
	}
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// writeError renders err as {error, kind, code}. Foreign errors become a
// generic 500 so driver or SQL text never reaches the client.
func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	kind := string(domain.KindOf(err))
	code := domain.CodeOf(err)
	msg := err.Error()

	if kind == "" {
		if status == http.StatusNotFound {
			kind, code, msg = string(domain.KindNotFound), domain.ErrNotFound.Code, domain.ErrNotFound.Message
		} else {
			slog.Error("internal error", slog.Any("error", err))
			kind, code, msg = "internal", "Internal", "internal server error"
		}
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
		"kind":  kind,
		"code":  code,
	})
}

func writeUnauthorized(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusUnauthorized, map[string]any{
		"error": err.Error(),
		"kind":  "unauthorized",
		"code":  "Unauthorized",
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
