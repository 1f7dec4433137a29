package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"gharsathi/internal/config"
	"gharsathi/internal/metrics"
	"gharsathi/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	apiKeyHeaderDefault = "x-api-key"
	actorHeaderDefault  = "x-actor-id"
	requestIDHeader     = "x-request-id"
	clientKeyUnknown    = "unknown"

	permReadBookings   = "read:bookings"
	permWriteBookings  = "write:bookings"
	permWritePayments  = "write:payments"
	permExportBookings = "export:bookings"
	// permActAsSystem lets a client send the system actor id, e.g. for
	// platform-side cancellations.
	permActAsSystem = "act:system"
)

var (
	errMissingAPIKey    = errors.New("missing api key header")
	errInvalidAPIKey    = errors.New("invalid api key")
	errPermissionDenied = errors.New("permission denied")
	errRateLimited      = errors.New("rate limit exceeded")
)

type ctxKey int

const (
	ctxClient ctxKey = iota
	ctxRequestID
)

// HTTPAuth provides API-key auth and per-key rate limiting for HTTP endpoints.
type HTTPAuth struct {
	cfg     config.APIConfig
	clients map[string]config.APIClientKey
	limiter *rateLimiter
}

func NewHTTPAuth(cfg config.APIConfig) *HTTPAuth {
	m := make(map[string]config.APIClientKey, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		m[k.Key] = k
	}
	return &HTTPAuth{cfg: cfg, clients: m, limiter: newRateLimiter(cfg.RateLimit)}
}

func (a *HTTPAuth) apiKeyHeader() string {
	h := strings.ToLower(strings.TrimSpace(a.cfg.Auth.HeaderAPIKey))
	if h == "" {
		return apiKeyHeaderDefault
	}
	return h
}

func (a *HTTPAuth) actorHeader() string {
	h := strings.ToLower(strings.TrimSpace(a.cfg.Auth.HeaderActor))
	if h == "" {
		return actorHeaderDefault
	}
	return h
}

// Wrap authenticates the caller and applies the rate limit. Route-level
// permissions are checked by require.
func (a *HTTPAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}

		if a.cfg.Auth.Enabled {
			client, err := a.authenticate(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
				return
			}
			r = r.WithContext(context.WithValue(r.Context(), ctxClient, client))
		}

		if !a.limiter.allow(a.clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, "rate_limited", errRateLimited.Error())
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *HTTPAuth) authenticate(r *http.Request) (config.APIClientKey, error) {
	apiKey := strings.TrimSpace(r.Header.Get(a.apiKeyHeader()))
	if apiKey == "" {
		return config.APIClientKey{}, errMissingAPIKey
	}
	for key, client := range a.clients {
		if subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) == 1 {
			return client, nil
		}
	}
	return config.APIClientKey{}, errInvalidAPIKey
}

// require rejects the request unless the authenticated client holds perm.
// Clients with an empty permission list are allowed everything.
func (a *HTTPAuth) require(perm string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.cfg.Auth.Enabled && !hasPermission(r.Context(), perm) {
			writeError(w, http.StatusForbidden, "forbidden", errPermissionDenied.Error())
			return
		}
		next(w, r)
	}
}

func hasPermission(ctx context.Context, perm string) bool {
	client, ok := ctx.Value(ctxClient).(config.APIClientKey)
	if !ok {
		return false
	}
	if len(client.Permissions) == 0 {
		return true
	}
	for _, p := range client.Permissions {
		if strings.TrimSpace(p) == perm {
			return true
		}
	}
	return false
}

// actorID reads the acting party from the actor header. The system id is
// only accepted from clients allowed to act as the platform.
func (a *HTTPAuth) actorID(r *http.Request) (string, error) {
	id := strings.TrimSpace(r.Header.Get(a.actorHeader()))
	if id == models.SystemActorID {
		if !a.cfg.Auth.Enabled || !hasPermission(r.Context(), permActAsSystem) {
			return "", models.ErrActorNotPermitted
		}
	}
	return id, nil
}

func (a *HTTPAuth) clientKey(r *http.Request) string {
	if apiKey := strings.TrimSpace(r.Header.Get(a.apiKeyHeader())); apiKey != "" {
		return apiKey
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return clientKeyUnknown
}

// requestLogger assigns a request id and logs every request with its outcome.
func requestLogger(logger *zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)
		r = r.WithContext(context.WithValue(r.Context(), ctxRequestID, requestID))

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := recorder.route
		if route == "" {
			route = "unmatched"
		}
		metrics.IncHTTP(route)

		ev := logger.Info()
		if recorder.status >= http.StatusInternalServerError {
			ev = logger.Error()
		}
		ev.Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("route", route).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	route  string
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
