// Package httpapi is the HTTP transport for the workspace: auth, stories and
// document routes plus health and metrics endpoints.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/scriptoria-app/scriptoria/internal/obs"
	"github.com/scriptoria-app/scriptoria/internal/service"
	"github.com/scriptoria-app/scriptoria/internal/token"
)

// Pinger reports storage liveness; satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks readiness of the storage dependency.
type ReadyProbe struct {
	DB Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.Ping(ctx)
}

// Options carries the transport-level knobs.
type Options struct {
	AllowedOrigins []string
	MaxBodyBytes   int64
	RateBurst      int
	RatePerSecond  int
}

func (o Options) withDefaults() Options {
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = 5 << 20
	}
	if o.RateBurst <= 0 {
		o.RateBurst = 50
	}
	if o.RatePerSecond <= 0 {
		o.RatePerSecond = 25
	}
	return o
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	auth       service.AuthService
	docs       service.DocumentsService
	ledger     *token.Ledger
	readyProbe ReadyProbe
	log        *zap.Logger
	opts       Options
}

// New wires routes to services. The returned API still needs Handler() to get
// the middleware-wrapped entry point.
func New(auth service.AuthService, docs service.DocumentsService, ledger *token.Ledger, rp ReadyProbe, log *zap.Logger, opts Options) *API {
	a := &API{
		mux:        http.NewServeMux(),
		auth:       auth,
		docs:       docs,
		ledger:     ledger,
		readyProbe: rp,
		log:        log,
		opts:       opts.withDefaults(),
	}

	a.mux.HandleFunc("POST /api/auth/register", a.handleRegister)
	a.mux.HandleFunc("POST /api/auth/login", a.handleLogin)
	a.mux.HandleFunc("POST /api/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("POST /api/auth/logout", a.requireAuth(a.handleLogout))
	a.mux.HandleFunc("GET /api/auth/me", a.requireAuth(a.handleMe))
	a.mux.HandleFunc("POST /api/auth/change-password", a.requireAuth(a.handleChangePassword))

	a.mux.HandleFunc("POST /api/stories", a.requireAuth(a.handleCreateStory))
	a.mux.HandleFunc("GET /api/stories/{id}", a.requireAuth(a.handleGetStory))
	a.mux.HandleFunc("PATCH /api/stories/{id}", a.requireAuth(a.handlePatchStory))
	a.mux.HandleFunc("GET /api/stories/{id}/document", a.requireAuth(a.handleGetDocument))
	a.mux.HandleFunc("PUT /api/stories/{id}/document", a.requireAuth(a.handlePutDocument))
	a.mux.HandleFunc("GET /api/stories/{id}/revisions", a.requireAuth(a.handleListRevisions))
	a.mux.HandleFunc("POST /api/stories/{id}/publish", a.requireAuth(a.handlePublish))

	a.mux.HandleFunc("GET /healthz", a.handleHealthz)
	a.mux.HandleFunc("GET /readyz", a.handleReady)
	a.mux.Handle("GET /metrics", obs.Handler())

	return a
}

// Handler wraps the mux with the middleware chain, outermost first: metrics,
// logging, security headers, CORS, rate limiting, body cap.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, a.opts.MaxBodyBytes)
	h = RateLimit(h, a.opts.RateBurst, a.opts.RatePerSecond)
	h = CORS(a.opts.AllowedOrigins, h)
	h = SecurityHeaders(h)
	h = Logging(a.log, h)
	return obs.Instrument(h)
}

func (a *API) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "scriptoria-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}
