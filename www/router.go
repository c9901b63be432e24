// Package www serves the operator HTTP surface of the sync engine: a JSON
// API over the registry and adapters, the audit and flush history, the
// live event stream and the metrics endpoint.
package www

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/sessions"

	"wwcpsync/engine"
	"wwcpsync/store"
)

// DB is the part of the store the handlers use; *store.DB implements it.
type DB interface {
	Healthy(ctx context.Context) error
	ListFlushRuns(adapterID string, limit int) ([]*store.FlushRun, error)
	ListAuditLog(limit int) ([]*store.AuditEntry, error)
	ListEntityAudit(entityType, entityID string) ([]*store.AuditEntry, error)
	CountPendingOutbox() (int, error)
	AdminUserExists() (bool, error)
	CreateAdminUser(username, passwordHash string) error
	GetAdminUser(username string) (*store.AdminUser, error)
	UpdateAdminPassword(username, passwordHash string) error
}

type Handlers struct {
	engine   *engine.Engine
	db       DB
	sessions *sessions.CookieStore
	eventHub *EventHub
	logger   *slog.Logger
}

func NewRouter(eng *engine.Engine, db DB) (http.Handler, func()) {
	hub := NewEventHub(eng.Logger())
	hub.Start()
	hub.SetupEngineListeners(eng)

	h := &Handlers{
		engine:   eng,
		db:       db,
		sessions: newSessionStore(eng.AppConfig().Web.SessionSecret),
		eventHub: hub,
		logger:   eng.Logger().With("component", "www"),
	}

	h.ensureDefaultAdmin()

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Get("/events", hub.SSEHandler)
	r.Handle("/metrics", eng.Metrics().Handler())

	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.apiHealthCheck)
		r.Get("/adapters", h.apiListAdapters)
		r.Get("/adapters/{id}", h.apiGetAdapter)
		r.Get("/flush-runs", h.apiListFlushRuns)
		r.Get("/audit", h.apiListAudit)
		r.Get("/entities/{kind}", h.apiListEntities)
		r.Get("/status/{kind}/{id}", h.apiGetStatus)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)
			r.Post("/password", h.apiChangePassword)
			r.Post("/evses", h.apiRegisterEVSE)
			r.Delete("/evses/{id}", h.apiRemoveEVSE)
			r.Post("/evses/{id}/status", h.apiSetEVSEStatus)
			r.Post("/cdrs", h.apiSendCDRs)
			r.Post("/adapters/{id}/flush/{cycle}", h.apiFlushAdapter)
		})
	})

	return r, hub.Stop
}

func (h *Handlers) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !h.decodeJSON(w, r, &creds) {
		return
	}

	user, err := h.db.GetAdminUser(creds.Username)
	if err != nil || user == nil || !checkPassword(user.PasswordHash, creds.Password) {
		h.jsonError(w, "invalid username or password", http.StatusUnauthorized)
		return
	}

	session, _ := h.sessions.Get(r, sessionName)
	session.Values["authenticated"] = true
	session.Values["username"] = creds.Username
	if err := session.Save(r, w); err != nil {
		h.logger.Error("session save", "error", err)
		h.jsonError(w, "session error", http.StatusInternalServerError)
		return
	}
	h.jsonOK(w, map[string]string{"username": creds.Username})
}

func (h *Handlers) apiChangePassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Current string `json:"current"`
		New     string `json:"new"`
	}
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if len(req.New) < minPasswordLen {
		h.jsonError(w, fmt.Sprintf("password must be at least %d characters", minPasswordLen), http.StatusBadRequest)
		return
	}
	username := h.getUsername(r)
	user, err := h.db.GetAdminUser(username)
	if err != nil || !checkPassword(user.PasswordHash, req.Current) {
		h.jsonError(w, "current password is wrong", http.StatusForbidden)
		return
	}
	hash, err := hashPassword(req.New)
	if err == nil {
		err = h.db.UpdateAdminPassword(username, hash)
	}
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.logger.Info("admin password changed", "user", username)
	h.jsonOK(w, map[string]string{"status": "ok"})
}

func (h *Handlers) handleLogout(w http.ResponseWriter, r *http.Request) {
	session, _ := h.sessions.Get(r, sessionName)
	session.Values["authenticated"] = false
	session.Values["username"] = ""
	session.Save(r, w)
	h.jsonOK(w, map[string]string{"status": "logged out"})
}
