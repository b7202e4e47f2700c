// Package server exposes the HTTP API for the study assistant.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/johnestech/smart-study-assistant/internal/app"
	"github.com/johnestech/smart-study-assistant/internal/files"
	"github.com/johnestech/smart-study-assistant/internal/ratelimit"
	"github.com/johnestech/smart-study-assistant/internal/util"
	"github.com/johnestech/smart-study-assistant/pkg/auth"
	"github.com/johnestech/smart-study-assistant/pkg/domain"
)

const jsonBodyLimit = 1 << 20

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	TrustedProxies *util.TrustedProxies

	// Limiters are optional; nil disables limiting for that endpoint.
	SignupLimiter   *ratelimit.FixedWindowLimiter
	LoginLimiter    *ratelimit.FixedWindowLimiter
	PasswordLimiter *ratelimit.FixedWindowLimiter
}

// Server exposes HTTP endpoints for the backend.
type Server struct {
	app             *app.App
	mux             *http.ServeMux
	trustedProxies  *util.TrustedProxies
	signupLimiter   *ratelimit.FixedWindowLimiter
	loginLimiter    *ratelimit.FixedWindowLimiter
	passwordLimiter *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:             cfg.App,
		mux:             http.NewServeMux(),
		trustedProxies:  cfg.TrustedProxies,
		signupLimiter:   cfg.SignupLimiter,
		loginLimiter:    cfg.LoginLimiter,
		passwordLimiter: cfg.PasswordLimiter,
	}
	s.routes()
	return s
}

// Router returns the configured handler with the middleware chain.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/health", s.handleHealth)

	s.mux.HandleFunc("/auth/signup", s.handleSignup)
	s.mux.HandleFunc("/auth/login", s.handleLogin)
	s.mux.HandleFunc("/auth/forgot-password", s.handleForgotPassword)
	s.mux.HandleFunc("/auth/reset-password", s.handleResetPassword)
	s.mux.Handle("/auth/profile", s.authenticated(s.handleProfile))
	s.mux.Handle("/auth/change-password", s.authenticated(s.handleChangePassword))
	s.mux.Handle("/auth/delete-account", s.authenticated(s.handleDeleteAccount))

	s.mux.Handle("/chats", s.authenticated(s.handleChats))
	s.mux.Handle("/chats/", s.authenticated(s.handleChatSubtree))
	s.mux.Handle("/files/", s.authenticated(s.handleFileByID))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"message": "Study Assistant API is running",
	})
}

type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			s.audit(r, "auth.token", "fail", "reason", "missing_token")
			writeError(w, http.StatusUnauthorized, app.ErrInvalidToken.Error())
			return
		}
		user, err := s.app.UserFromToken(r.Context(), token)
		if err != nil {
			s.audit(r, "auth.token", "fail", "reason", "invalid_token")
			writeError(w, http.StatusUnauthorized, app.ErrInvalidToken.Error())
			return
		}
		next(w, r, user)
	})
}

// auth handlers

type signupRequest struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	OtherName       string `json:"other_name"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
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
	var req signupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	for field, value := range map[string]string{
		"username":         req.Username,
		"email":            req.Email,
		"first_name":       req.FirstName,
		"last_name":        req.LastName,
		"password":         req.Password,
		"confirm_password": req.ConfirmPassword,
	} {
		if strings.TrimSpace(value) == "" {
			writeError(w, http.StatusBadRequest, field+" is required")
			return
		}
	}
	user, token, err := s.app.SignUp(r.Context(), app.SignUpParams{
		Username:        req.Username,
		Email:           req.Email,
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		OtherName:       req.OtherName,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
	})
	if err != nil {
		s.audit(r, "auth.signup", "fail", "reason", err.Error())
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "auth.signup", "success", "user_id", user.ID)
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "User created successfully",
		"user": map[string]any{
			"id":         user.ID,
			"username":   user.Username,
			"email":      user.Email,
			"first_name": user.FirstName,
			"last_name":  user.LastName,
			"other_name": user.OtherName,
		},
		"access_token": token,
	})
}

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
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
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Login) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Login (username/email) and password are required")
		return
	}
	user, token, err := s.app.Login(r.Context(), req.Login, req.Password)
	if err != nil {
		s.audit(r, "auth.login", "fail", "reason", err.Error())
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "auth.login", "success", "user_id", user.ID)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Login successful",
		"user": map[string]any{
			"id":                user.ID,
			"username":          user.Username,
			"email":             user.Email,
			"first_name":        user.FirstName,
			"last_name":         user.LastName,
			"other_name":        user.OtherName,
			"profile_photo_url": user.ProfilePhotoURL,
		},
		"access_token": token,
	})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	profile, err := s.app.Profile(r.Context(), user.ID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user": map[string]any{
			"id":                profile.ID,
			"username":          profile.Username,
			"email":             profile.Email,
			"first_name":        profile.FirstName,
			"last_name":         profile.LastName,
			"other_name":        profile.OtherName,
			"profile_photo_url": profile.ProfilePhotoURL,
			"created_at":        profile.CreatedAt,
		},
	})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.passwordLimiter, "too many password attempts") {
		s.audit(r, "auth.change_password", "rate_limited", "user_id", user.ID)
		return
	}
	var req changePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "Current password and new password are required")
		return
	}
	if err := s.app.ChangePassword(r.Context(), user.ID, req.CurrentPassword, req.NewPassword); err != nil {
		s.audit(r, "auth.change_password", "fail", "user_id", user.ID, "reason", err.Error())
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "auth.change_password", "success", "user_id", user.ID)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password updated successfully"})
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.passwordLimiter, "too many password attempts") {
		s.audit(r, "auth.forgot_password", "rate_limited")
		return
	}
	var req forgotPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeError(w, http.StatusBadRequest, "Email is required")
		return
	}
	if _, err := s.app.ForgotPassword(r.Context(), req.Email); err != nil {
		s.audit(r, "auth.forgot_password", "fail", "reason", err.Error())
		s.writeAppError(w, r, err)
		return
	}
	// Identical reply for known and unknown emails.
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "If the email exists, a password reset link has been sent",
	})
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.passwordLimiter, "too many password attempts") {
		s.audit(r, "auth.reset_password", "rate_limited")
		return
	}
	var req resetPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}
	if req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "new_password is required")
		return
	}
	if err := s.app.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		s.audit(r, "auth.reset_password", "fail", "reason", err.Error())
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "auth.reset_password", "success")
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password reset successfully"})
}

type deleteAccountRequest struct {
	Password string `json:"password"`
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	var req deleteAccountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Password == "" {
		writeError(w, http.StatusBadRequest, "Password confirmation is required")
		return
	}
	if err := s.app.DeleteAccount(r.Context(), user.ID, req.Password); err != nil {
		s.audit(r, "auth.delete_account", "fail", "user_id", user.ID, "reason", err.Error())
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "auth.delete_account", "success", "user_id", user.ID)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Account deleted successfully"})
}

// chat handlers

type createChatRequest struct {
	Title        string `json:"title"`
	FirstMessage string `json:"first_message"`
}

func (s *Server) handleChats(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		chats, err := s.app.ListChats(r.Context(), user.ID)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		if chats == nil {
			chats = []domain.Chat{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"chats": chats})
	case http.MethodPost:
		var req createChatRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		chat, err := s.app.CreateChat(r.Context(), user.ID, req.Title, req.FirstMessage)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"chat": chat})
	default:
		methodNotAllowed(w)
	}
}

// handleChatSubtree dispatches /chats/{id}, /chats/{id}/messages, and
// /chats/{id}/files.
func (s *Server) handleChatSubtree(w http.ResponseWriter, r *http.Request, user domain.User) {
	rest := strings.TrimPrefix(r.URL.Path, "/chats/")
	chatID, sub, _ := strings.Cut(rest, "/")
	if chatID == "" {
		writeError(w, http.StatusNotFound, app.ErrChatNotFound.Error())
		return
	}
	switch sub {
	case "":
		s.handleChatByID(w, r, user, chatID)
	case "messages":
		s.handleChatMessages(w, r, user, chatID)
	case "files":
		s.handleChatFiles(w, r, user, chatID)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

type updateChatRequest struct {
	Title string `json:"title"`
}

func (s *Server) handleChatByID(w http.ResponseWriter, r *http.Request, user domain.User, chatID string) {
	switch r.Method {
	case http.MethodGet:
		chat, messages, chatFiles, err := s.app.GetChat(r.Context(), user.ID, chatID)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		if messages == nil {
			messages = []domain.Message{}
		}
		if chatFiles == nil {
			chatFiles = []domain.File{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"chat":     chat,
			"messages": messages,
			"files":    chatFiles,
		})
	case http.MethodPut:
		var req updateChatRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.Title == "" {
			writeError(w, http.StatusBadRequest, "Title is required")
			return
		}
		chat, err := s.app.UpdateChatTitle(r.Context(), user.ID, chatID, req.Title)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"chat": chat})
	case http.MethodDelete:
		if err := s.app.DeleteChat(r.Context(), user.ID, chatID); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

func (s *Server) handleChatMessages(w http.ResponseWriter, r *http.Request, user domain.User, chatID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req sendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "Message content is required")
		return
	}
	userMsg, assistantMsg, err := s.app.SendMessage(r.Context(), user.ID, chatID, req.Content)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"user_message":      userMsg,
		"assistant_message": assistantMsg,
	})
}

func (s *Server) handleChatFiles(w http.ResponseWriter, r *http.Request, user domain.User, chatID string) {
	switch r.Method {
	case http.MethodGet:
		chatFiles, err := s.app.ListChatFiles(r.Context(), user.ID, chatID)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		if chatFiles == nil {
			chatFiles = []domain.File{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"files": chatFiles})
	case http.MethodPost:
		s.handleUpload(w, r, user, chatID)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, user domain.User, chatID string) {
	r.Body = http.MaxBytesReader(w, r.Body, files.MaxFileSize+jsonBodyLimit)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file provided")
		return
	}
	defer file.Close()
	if header.Filename == "" {
		writeError(w, http.StatusBadRequest, "No file selected")
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, files.ErrFileTooLarge.Error())
		return
	}
	record, err := s.app.UploadFile(r.Context(), user.ID, chatID, header.Filename,
		header.Header.Get("Content-Type"), data)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"file": record})
}

func (s *Server) handleFileByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	fileID := strings.TrimPrefix(r.URL.Path, "/files/")
	if fileID == "" || strings.Contains(fileID, "/") {
		writeError(w, http.StatusNotFound, app.ErrFileNotFound.Error())
		return
	}
	if err := s.app.DeleteFile(r.Context(), user.ID, fileID); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// helpers

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, jsonBodyLimit)).Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeAppError maps service errors onto HTTP statuses with the error
// text as the client-visible message.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		util.LoggerFromContext(r.Context()).Error("request failed",
			"path", r.URL.Path, "method", r.Method, "error", err)
		writeError(w, status, "internal server error")
		return
	}
	writeError(w, status, err.Error())
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, app.ErrUsernameExists),
		errors.Is(err, app.ErrEmailExists):
		return http.StatusConflict
	case errors.Is(err, app.ErrInvalidCredentials),
		errors.Is(err, app.ErrAccountDeactivated),
		errors.Is(err, app.ErrInvalidToken),
		errors.Is(err, app.ErrCurrentPasswordIncorrect),
		errors.Is(err, app.ErrPasswordIncorrect):
		return http.StatusUnauthorized
	case errors.Is(err, app.ErrUserNotFound),
		errors.Is(err, app.ErrChatNotFound),
		errors.Is(err, app.ErrFileNotFound):
		return http.StatusNotFound
	case isValidationError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func isValidationError(err error) bool {
	for _, target := range []error{
		app.ErrPasswordsDoNotMatch,
		app.ErrEmptyTitle,
		app.ErrEmptyMessage,
		app.ErrInvalidResetToken,
		auth.ErrInvalidEmail,
		auth.ErrUsernameTooShort,
		auth.ErrUsernameTooLong,
		auth.ErrUsernameCharset,
		auth.ErrPasswordTooShort,
		auth.ErrPasswordNoUpper,
		auth.ErrPasswordNoLower,
		auth.ErrPasswordNoDigit,
		files.ErrFileTooLarge,
		files.ErrUnsupportedType,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

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
