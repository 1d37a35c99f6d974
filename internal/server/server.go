package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"stockroom/internal/app"
	"stockroom/internal/ratelimit"
	"stockroom/internal/security"
	"stockroom/internal/util"
	"stockroom/pkg/auth"
	"stockroom/pkg/domain"
	"stockroom/pkg/token"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App *app.App

	// Optional: rate limiting and alerting on credential endpoints.
	LoginLimiter    *ratelimit.FixedWindowLimiter
	RegisterLimiter *ratelimit.FixedWindowLimiter
	Alerter         *security.Alerter
	TrustedProxies  *util.TrustedProxies
}

// Server exposes the HTTP endpoints of the inventory API.
type Server struct {
	app             *app.App
	loginLimiter    *ratelimit.FixedWindowLimiter
	registerLimiter *ratelimit.FixedWindowLimiter
	alerter         *security.Alerter
	trustedProxies  *util.TrustedProxies
	mux             *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:             cfg.App,
		loginLimiter:    cfg.LoginLimiter,
		registerLimiter: cfg.RegisterLimiter,
		alerter:         cfg.Alerter,
		trustedProxies:  cfg.TrustedProxies,
		mux:             http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the handler with the middleware chain applied.
func (s *Server) Router() http.Handler {
	var h http.Handler = s.mux
	h = util.WithSecurityHeaders(h)
	h = util.WithCORS(h)
	h = util.WithRequestLog("api", h)
	h = util.WithRequestID(h)
	return h
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	// stores
	s.mux.HandleFunc("GET /store", s.handleListStores)
	s.mux.HandleFunc("POST /store", s.handleCreateStore)
	s.mux.HandleFunc("GET /store/{id}", s.handleGetStore)
	s.mux.HandleFunc("DELETE /store/{id}", s.handleDeleteStore)

	// tags
	s.mux.HandleFunc("GET /store/{id}/tag", s.handleTagsInStore)
	s.mux.HandleFunc("POST /store/{id}/tag", s.handleCreateTag)
	s.mux.HandleFunc("GET /tag/{id}", s.handleGetTag)
	s.mux.HandleFunc("DELETE /tag/{id}", s.handleDeleteTag)
	s.mux.HandleFunc("POST /item/{item_id}/tag/{tag_id}", s.handleLinkItemTag)
	s.mux.HandleFunc("DELETE /item/{item_id}/tag/{tag_id}", s.handleUnlinkItemTag)

	// items
	s.mux.HandleFunc("GET /item", s.handleListItems)
	s.mux.Handle("POST /item", s.freshAuthenticated(s.handleCreateItem))
	s.mux.HandleFunc("GET /item/{id}", s.handleGetItem)
	s.mux.HandleFunc("PUT /item/{id}", s.handleUpdateItem)
	s.mux.Handle("DELETE /item/{id}", s.authenticated(s.handleDeleteItem))

	// users / auth
	s.mux.HandleFunc("POST /register", s.handleRegister)
	s.mux.HandleFunc("GET /user/{id}", s.handleGetUser)
	s.mux.HandleFunc("DELETE /user/{id}", s.handleDeleteUser)
	s.mux.HandleFunc("POST /login", s.handleLogin)
	s.mux.HandleFunc("POST /logout", s.handleLogout)
	s.mux.HandleFunc("POST /refresh", s.handleRefresh)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.User, token.Claims)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "Missing or invalid bearer token.")
			return
		}
		user, claims, err := s.app.UserFromAccessToken(raw)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid or expired token.")
			return
		}
		next(w, r, user, claims)
	})
}

func (s *Server) freshAuthenticated(next authHandler) http.Handler {
	return s.authenticated(func(w http.ResponseWriter, r *http.Request, user domain.User, claims token.Claims) {
		if !claims.Fresh {
			writeError(w, http.StatusUnauthorized, "Fresh token required.")
			return
		}
		next(w, r, user, claims)
	})
}

// store handlers
func (s *Server) handleListStores(w http.ResponseWriter, _ *http.Request) {
	stores, err := s.app.ListStores()
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stores)
}

func (s *Server) handleCreateStore(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if !decodeBody(w, r, &req) {
		return
	}
	st, err := s.app.CreateStore(req.Name)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

func (s *Server) handleGetStore(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	st, err := s.app.GetStore(id)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleDeleteStore(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := s.app.DeleteStore(id); err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Store deleted."})
}

// tag handlers
func (s *Server) handleTagsInStore(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	tags, err := s.app.TagsInStore(id)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tags)
}

func (s *Server) handleCreateTag(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req nameRequest
	if !decodeBody(w, r, &req) {
		return
	}
	tag, err := s.app.CreateTag(id, req.Name)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tag)
}

func (s *Server) handleGetTag(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	tag, err := s.app.GetTag(id)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tag)
}

func (s *Server) handleDeleteTag(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := s.app.DeleteTag(id); err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, messageResponse{Message: "Tag deleted."})
}

func (s *Server) handleLinkItemTag(w http.ResponseWriter, r *http.Request) {
	itemID, ok := pathID(w, r, "item_id")
	if !ok {
		return
	}
	tagID, ok := pathID(w, r, "tag_id")
	if !ok {
		return
	}
	tag, err := s.app.LinkItemTag(itemID, tagID)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tag)
}

func (s *Server) handleUnlinkItemTag(w http.ResponseWriter, r *http.Request) {
	itemID, ok := pathID(w, r, "item_id")
	if !ok {
		return
	}
	tagID, ok := pathID(w, r, "tag_id")
	if !ok {
		return
	}
	item, tag, err := s.app.UnlinkItemTag(itemID, tagID)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, unlinkResponse{
		Message: "Item removed from tag.",
		Item:    item,
		Tag:     tag,
	})
}

// item handlers
func (s *Server) handleListItems(w http.ResponseWriter, _ *http.Request) {
	items, err := s.app.ListItems()
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleCreateItem(w http.ResponseWriter, r *http.Request, _ domain.User, _ token.Claims) {
	var req itemCreateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	item, err := s.app.CreateItem(req.Name, req.Price, req.StoreID)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	item, err := s.app.GetItem(id)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req itemUpdateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	item, err := s.app.UpdateItem(id, req.Name, req.Price)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request, _ domain.User, _ token.Claims) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := s.app.DeleteItem(id); err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Item deleted."})
}

// user / auth handlers
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, s.registerLimiter, "register") {
		return
	}
	var req credentialsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.app.Register(req.Username, req.Password); err != nil {
		s.audit(r, "register", "failure", map[string]string{"username": req.Username})
		s.writeAppError(w, err)
		return
	}
	s.audit(r, "register", "success", map[string]string{"username": req.Username})
	writeJSON(w, http.StatusCreated, messageResponse{Message: "User created successfully."})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	user, err := s.app.GetUser(id)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := s.app.DeleteUser(id); err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "User deleted."})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, s.loginLimiter, "login") {
		return
	}
	var req credentialsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	access, refresh, err := s.app.Login(req.Username, req.Password)
	if err != nil {
		s.audit(r, "login", "failure", map[string]string{"username": req.Username})
		s.writeAppError(w, err)
		return
	}
	s.audit(r, "login", "success", map[string]string{"username": req.Username})
	writeJSON(w, http.StatusOK, tokenPairResponse{
		AccessToken:  access,
		RefreshToken: refresh,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	raw, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Missing or invalid bearer token.")
		return
	}
	if err := s.app.Logout(raw); err != nil {
		s.writeAppError(w, err)
		return
	}
	s.audit(r, "logout", "success", nil)
	writeJSON(w, http.StatusOK, messageResponse{Message: "Successfully logged out."})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	raw, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Missing or invalid bearer token.")
		return
	}
	access, err := s.app.Refresh(raw)
	if err != nil {
		s.audit(r, "refresh", "failure", nil)
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accessTokenResponse{AccessToken: access})
}

// allow applies the limiter for a credential endpoint; a nil limiter
// disables limiting.
func (s *Server) allow(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, event string) bool {
	if limiter == nil {
		return true
	}
	ip := util.ClientIP(r, s.trustedProxies)
	if limiter.Allow(event + ":" + ip) {
		return true
	}
	s.audit(r, event, "rate_limited", nil)
	writeError(w, http.StatusTooManyRequests, "Too many requests.")
	return false
}

// audit records the outcome of an auth operation and feeds the alerter.
// Neither may fail the request.
func (s *Server) audit(r *http.Request, event, outcome string, detail map[string]string) {
	ip := util.ClientIP(r, s.trustedProxies)
	if err := s.app.RecordAuthEvent(event, outcome, ip, detail); err != nil {
		util.LoggerFromContext(r.Context()).Warn("audit write failed", "event", event, "err", err)
	}
	res, err := s.alerter.Observe(event, outcome, ip)
	if err != nil {
		util.LoggerFromContext(r.Context()).Warn("alerter unavailable", "err", err)
		return
	}
	if res.Triggered {
		util.LoggerFromContext(r.Context()).Warn("auth alert threshold reached",
			"event", event,
			"outcome", outcome,
			"ip", ip,
			"count", res.Count,
			"threshold", res.Threshold,
		)
	}
}

// request/response shapes
type nameRequest struct {
	Name string `json:"name"`
}

type itemCreateRequest struct {
	Name    string  `json:"name"`
	Price   float64 `json:"price"`
	StoreID uint    `json:"store_id"`
}

type itemUpdateRequest struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type unlinkResponse struct {
	Message string      `json:"message"`
	Item    domain.Item `json:"item"`
	Tag     domain.Tag  `json:"tag"`
}

type tokenPairResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type accessTokenResponse struct {
	AccessToken string `json:"access_token"`
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	raw := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if raw == "" {
		return "", false
	}
	return raw, true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (uint, bool) {
	id, err := strconv.ParseUint(r.PathValue(name), 10, 64)
	if err != nil {
		writeError(w, http.StatusNotFound, "Not found.")
		return 0, false
	}
	return uint(id), true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body.")
		return false
	}
	return true
}

// writeAppError maps application sentinel errors onto the HTTP taxonomy.
func (s *Server) writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrStoreNotFound),
		errors.Is(err, app.ErrItemNotFound),
		errors.Is(err, app.ErrTagNotFound),
		errors.Is(err, app.ErrUserNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrStoreNameTaken),
		errors.Is(err, app.ErrTagNameTaken),
		errors.Is(err, app.ErrUsernameTaken),
		errors.Is(err, app.ErrTagAssigned),
		errors.Is(err, app.ErrNotLinked),
		errors.Is(err, app.ErrNameRequired),
		errors.Is(err, app.ErrCredentialsRequired),
		errors.Is(err, auth.ErrPasswordTooShort):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, token.ErrInvalidToken),
		errors.Is(err, token.ErrRevoked),
		errors.Is(err, token.ErrWrongType):
		writeError(w, http.StatusUnauthorized, "Invalid or expired token.")
	default:
		slog.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "An unexpected error occurred.")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, messageResponse{Message: msg})
}
