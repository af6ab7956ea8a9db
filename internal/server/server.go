package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"openshelf/internal/app"
	"openshelf/internal/domain"
	"openshelf/internal/ratelimit"
	"openshelf/internal/util"
)

const (
	sessionCookieName = "session_id"
	adminCookieName   = "adminToken"

	defaultMaxUploadBytes = 500 * 1024 * 1024
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App *app.App

	RedisAddr     string
	RedisPassword string

	SignupLimitPerMinute int
	LoginLimitPerMinute  int

	MaxUploadBytes int64
	CookieSecure   bool
	SessionTTL     time.Duration
	TrustedProxies *util.TrustedProxies
}

// Server exposes the public HTTP API.
type Server struct {
	app *app.App
	mux *http.ServeMux

	signupLimiter *ratelimit.FixedWindowLimiter
	loginLimiter  *ratelimit.FixedWindowLimiter

	maxUploadBytes int64
	cookieSecure   bool
	sessionTTL     time.Duration
	trustedProxies *util.TrustedProxies
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	s := &Server{
		app:            cfg.App,
		mux:            http.NewServeMux(),
		maxUploadBytes: maxUploadBytes,
		cookieSecure:   cfg.CookieSecure,
		sessionTTL:     cfg.SessionTTL,
		trustedProxies: cfg.TrustedProxies,
	}
	newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
		if limit <= 0 {
			return nil, nil
		}
		prefix := "openshelf:ratelimit:" + name
		limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, prefix, limit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return limiter, nil
	}
	var err error
	if s.signupLimiter, err = newLimiter("signup", cfg.SignupLimitPerMinute); err != nil {
		return nil, err
	}
	if s.loginLimiter, err = newLimiter("login", cfg.LoginLimitPerMinute); err != nil {
		return nil, err
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(util.WithSecurityHeaders(util.WithCORS(s.withMaintenance(s.mux)))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// accounts & sessions
	s.mux.HandleFunc("/api/auth/signup", s.handleSignup)
	s.mux.HandleFunc("/api/auth/login", s.handleLogin)
	s.mux.HandleFunc("/api/auth/logout", s.handleLogout)
	s.mux.Handle("/api/auth/me", s.withSession(s.handleMe))
	s.mux.Handle("/api/auth/my-books", s.withSession(s.handleMyBooks))
	s.mux.Handle("/api/auth/my-downloads", s.withSession(s.handleMyDownloads))

	// books
	s.mux.HandleFunc("/api/books", s.handleBooks)
	s.mux.HandleFunc("/api/books/upload", s.handleUpload)
	s.mux.HandleFunc("/api/books/trending", s.handleTrending)
	s.mux.HandleFunc("/api/books/most-downloaded", s.handleMostDownloaded)
	s.mux.HandleFunc("/api/books/level/", s.handleBooksByLevel)
	s.mux.HandleFunc("/api/books/", s.handleBookByID)
	s.mux.HandleFunc("/api/top-uploaders", s.handleTopUploaders)

	// maintenance flag is readable while the site is locked
	s.mux.HandleFunc("/api/maintenance", s.handleMaintenance)

	// admin
	s.mux.HandleFunc("/api/admin/login", s.handleAdminLogin)
	s.mux.HandleFunc("/api/admin/logout", s.handleAdminLogout)
	s.mux.Handle("/api/admin/stats", s.adminOnly(s.handleAdminStats))
	s.mux.Handle("/api/admin/users-uploads", s.adminOnly(s.handleAdminUsersUploads))
	s.mux.Handle("/api/admin/maintenance", s.adminOnly(s.handleAdminMaintenance))
	s.mux.Handle("/api/admin/books/", s.adminOnly(s.handleAdminBookByID))

	// file proxy
	s.mux.HandleFunc("/files/", s.handleFile)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// withMaintenance locks the public API while the maintenance flag is set.
// The flag itself and the admin surface stay reachable so an admin can
// unlock the site.
func (s *Server) withMaintenance(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") &&
			r.URL.Path != "/api/maintenance" &&
			!strings.HasPrefix(r.URL.Path, "/api/admin/") {
			m, err := s.app.Maintenance()
			if err != nil {
				slog.Warn("maintenance check failed", "error", err)
			} else if m.Locked {
				msg := m.Message
				if msg == "" {
					msg = "site is under maintenance"
				}
				writeError(w, http.StatusServiceUnavailable, msg)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// session wrappers

type sessionHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) withSession(next sessionHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.sessionUser(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, user)
	})
}

// sessionUser resolves the session cookie, if any.
func (s *Server) sessionUser(r *http.Request) (domain.User, bool) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		return domain.User{}, false
	}
	user, ok, err := s.app.UserFromToken(cookie.Value)
	if err != nil {
		slog.Warn("session lookup failed", "error", err)
		return domain.User{}, false
	}
	return user, ok
}

func (s *Server) adminOnly(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := adminToken(r)
		if token == "" {
			s.audit(r, "admin.authorize", "fail", "reason", "missing_token")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		username, err := s.app.VerifyAdminToken(token)
		if err != nil {
			s.audit(r, "admin.authorize", "fail", "reason", "invalid_token")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		s.audit(r, "admin.authorize", "success", "admin", username)
		next(w, r)
	})
}

func adminToken(r *http.Request) string {
	if cookie, err := r.Cookie(adminCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	return ""
}

// ---- accounts ----

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.signupLimiter, "too many signup attempts") {
		s.audit(r, "auth.signup", "rate_limited")
		return
	}
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}
	user, token, err := s.app.SignUp(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, app.ErrUsernameTaken) {
			s.audit(r, "auth.signup", "fail", "reason", "username_taken")
			writeError(w, http.StatusBadRequest, "username already exists")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.audit(r, "auth.signup", "success", "user_id", user.ID)
	s.setSessionCookie(w, token)
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "too many login attempts") {
		s.audit(r, "auth.login", "rate_limited")
		return
	}
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, token, err := s.app.Login(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, app.ErrInvalidCredentials) {
			s.audit(r, "auth.login", "fail", "reason", "invalid_credentials")
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.audit(r, "auth.login", "success", "user_id", user.ID)
	s.setSessionCookie(w, token)
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		if err := s.app.Logout(cookie.Value); err != nil {
			slog.Warn("logout failed", "error", err)
		}
	}
	s.clearCookie(w, sessionCookieName)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMe(w http.ResponseWriter, _ *http.Request, user domain.User) {
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleMyBooks(w http.ResponseWriter, _ *http.Request, user domain.User) {
	books, err := s.app.BooksByUploader(user.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, books)
}

func (s *Server) handleMyDownloads(w http.ResponseWriter, _ *http.Request, user domain.User) {
	downloads, err := s.app.MyDownloads(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, downloads)
}

func (s *Server) setSessionCookie(w http.ResponseWriter, token string) {
	maxAge := 0
	if s.sessionTTL > 0 {
		maxAge = int(s.sessionTTL.Seconds())
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ---- books ----

func (s *Server) handleBooks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	// the listing is the landing page, so it doubles as the traffic counter
	s.app.TrackVisitor(util.ClientIP(r, s.trustedProxies), r.UserAgent())
	books, err := s.app.ListBooks()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, books)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read file")
		return
	}

	uploader := ""
	if user, ok := s.sessionUser(r); ok {
		uploader = user.Username
	}
	in := app.UploadInput{
		Title:       r.FormValue("title"),
		Author:      r.FormValue("author"),
		BookType:    r.FormValue("bookType"),
		Curriculum:  r.FormValue("curriculum"),
		Level:       r.FormValue("level"),
		Form:        r.FormValue("form"),
		Year:        r.FormValue("year"),
		ExamSession: r.FormValue("examSession"),
		Description: r.FormValue("description"),
		Tags:        parseTags(r.FormValue("tags")),
		CoverURL:    r.FormValue("coverUrl"),
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
		Uploader:    uploader,
	}
	book, err := s.app.UploadBook(r.Context(), in)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrMissingTitle),
			errors.Is(err, app.ErrMissingFile),
			errors.Is(err, app.ErrUnsupportedFileType),
			errors.Is(err, app.ErrFileTooLarge):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			slog.Error("upload failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	s.audit(r, "books.upload", "success", "book_id", book.ID, "uploaded_by", book.UploadedBy)
	writeJSON(w, http.StatusCreated, book)
}

// parseTags accepts a JSON array or a comma-separated list.
func parseTags(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err == nil {
		return tags
	}
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			tags = append(tags, part)
		}
	}
	return tags
}

func (s *Server) handleTrending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	books, err := s.app.TrendingBooks()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, books)
}

func (s *Server) handleMostDownloaded(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	books, err := s.app.MostDownloadedBooks()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, books)
}

func (s *Server) handleBooksByLevel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	level := strings.TrimPrefix(r.URL.Path, "/api/books/level/")
	if level != domain.LevelO && level != domain.LevelA {
		writeError(w, http.StatusBadRequest, "invalid level")
		return
	}
	books, err := s.app.BooksByLevel(level)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, books)
}

// /api/books/{id} or /api/books/{id}/download
func (s *Server) handleBookByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/books/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		notFound(w, "not found")
		return
	}
	if len(parts) == 2 {
		if parts[1] != "download" {
			notFound(w, "not found")
			return
		}
		s.handleDownload(w, r, id)
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	book, err := s.app.GetBook(id)
	if err != nil {
		if errors.Is(err, app.ErrBookNotFound) {
			notFound(w, "book not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, book)
}

// handleDownload records the download and returns the updated book, so
// the client can follow fileUrl (or the /files proxy) for the bytes.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var user *domain.User
	if u, ok := s.sessionUser(r); ok {
		user = &u
	}
	book, err := s.app.RecordDownload(id, user)
	if err != nil {
		if errors.Is(err, app.ErrBookNotFound) {
			notFound(w, "book not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (s *Server) handleTopUploaders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	uploaders, err := s.app.TopUploaders()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, uploaders)
}

// ---- maintenance ----

func (s *Server) handleMaintenance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	m, err := s.app.Maintenance()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// ---- admin ----

func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "too many login attempts") {
		s.audit(r, "admin.login", "rate_limited")
		return
	}
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	token, err := s.app.AdminLogin(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, app.ErrInvalidCredentials) {
			s.audit(r, "admin.login", "fail", "reason", "invalid_credentials")
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.audit(r, "admin.login", "success", "admin", req.Username)
	http.SetCookie(w, &http.Cookie{
		Name:     adminCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.app.AdminTokenTTL().Seconds()),
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleAdminLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	s.clearCookie(w, adminCookieName)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	stats, err := s.app.SiteStats(r.Context())
	if err != nil {
		slog.Error("stats failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleAdminUsersUploads(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	uploaders, err := s.app.Uploaders()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, uploaders)
}

type maintenanceRequest struct {
	Locked  bool   `json:"locked"`
	Message string `json:"message"`
}

func (s *Server) handleAdminMaintenance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w)
		return
	}
	var req maintenanceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	m, err := s.app.SetMaintenance(req.Locked, req.Message)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.audit(r, "admin.maintenance", "success", "locked", m.Locked)
	writeJSON(w, http.StatusOK, m)
}

// DELETE /api/admin/books/{id}
func (s *Server) handleAdminBookByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/admin/books/")
	if id == "" || strings.Contains(id, "/") {
		notFound(w, "not found")
		return
	}
	if err := s.app.DeleteBook(r.Context(), id); err != nil {
		if errors.Is(err, app.ErrBookNotFound) {
			notFound(w, "book not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.audit(r, "admin.books.delete", "success", "book_id", id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ---- file proxy ----

// GET /files/{fileId} streams the stored bytes as an attachment so the
// browser downloads instead of navigating to the object-store URL.
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	fileID := strings.TrimPrefix(r.URL.Path, "/files/")
	rc, info, err := s.app.OpenFile(r.Context(), fileID)
	if err != nil {
		if errors.Is(err, app.ErrFileNotFound) {
			notFound(w, "file not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	defer rc.Close()

	contentType := info.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileID))
	w.Header().Set("Cache-Control", "public, max-age=31536000")
	if _, err := io.Copy(w, rc); err != nil {
		slog.Warn("file stream interrupted", "file", fileID, "error", err)
	}
}

// ---- helpers ----

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.trustedProxies),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		slog.Info("security_event", logAttrs...)
		return
	}
	slog.Warn("security_event", logAttrs...)
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	if limiter == nil {
		return true
	}
	key := r.URL.Path + "|" + util.ClientIP(r, s.trustedProxies)
	if limiter.Allow(key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCode(status, msg),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func errorCode(status int, msg string) string {
	message := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case message == "unauthorized":
		return "AUTH_UNAUTHORIZED"
	case message == "invalid credentials":
		return "AUTH_INVALID_CREDENTIALS"
	case message == "username already exists":
		return "AUTH_USERNAME_TAKEN"
	case message == "book not found":
		return "BOOK_NOT_FOUND"
	case message == "file not found":
		return "FILE_NOT_FOUND"
	case message == "invalid level":
		return "BOOK_INVALID_LEVEL"
	case strings.Contains(message, "file is required"):
		return "BOOK_FILE_REQUIRED"
	case strings.Contains(message, "unsupported file type"):
		return "BOOK_UNSUPPORTED_FILE_TYPE"
	case strings.Contains(message, "maximum upload size"):
		return "BOOK_FILE_TOO_LARGE"
	case message == "invalid form data":
		return "BOOK_INVALID_UPLOAD_FORM"
	case message == "invalid json body":
		return "REQUEST_INVALID_JSON"
	case strings.Contains(message, "too many"):
		return "RATE_LIMITED"
	case message == "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case message == "not found":
		return "SYSTEM_NOT_FOUND"
	}
	switch status {
	case http.StatusBadRequest:
		return "REQUEST_INVALID"
	case http.StatusUnauthorized:
		return "AUTH_UNAUTHORIZED"
	case http.StatusNotFound:
		return "SYSTEM_NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case http.StatusServiceUnavailable:
		return "SYSTEM_MAINTENANCE"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}
