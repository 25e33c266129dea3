package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/identity-service/internal/apperror"
	"github.com/sakif/identity-service/internal/auth"
	"github.com/sakif/identity-service/internal/model"
	"github.com/sakif/identity-service/internal/service"
)

// Accounts is the part of service.AccountService the HTTP layer calls.
type Accounts interface {
	Register(ctx context.Context, in service.RegisterInput) (*model.RegisteredUser, error)
	VerifyEmail(ctx context.Context, token string) (*model.Acknowledgement, error)
	Authenticate(ctx context.Context, in service.AuthenticateInput) (*model.Session, error)
	UpdateUser(ctx context.Context, id string, in service.UpdateInput) (*model.UpdatedUser, error)
	ForgotPassword(ctx context.Context, email string) (*model.Acknowledgement, error)
	ResetPassword(ctx context.Context, in service.ResetInput) (*model.Acknowledgement, error)
	ListUsers(ctx context.Context, limit, offset int) ([]model.UserSummary, error)
	GetUser(ctx context.Context, id string) (*model.UserSummary, error)
}

var _ Accounts = (*service.AccountService)(nil)

// Request and response bodies.
type (
	registerRequest struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	authenticateRequest struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	updateRequest struct {
		Name     *string `json:"name"`
		Email    *string `json:"email"`
		Password *string `json:"password"`
	}

	forgotPasswordRequest struct {
		Email string `json:"email"`
	}

	resetPasswordRequest struct {
		Token       string `json:"token"`
		NewPassword string `json:"newPassword"`
	}

	registerResponse struct {
		Message string                `json:"message"`
		User    *model.RegisteredUser `json:"user"`
	}

	updateResponse struct {
		Message string             `json:"message"`
		User    *model.UpdatedUser `json:"user"`
	}

	listResponse struct {
		Count int                 `json:"count"`
		Users []model.UserSummary `json:"users"`
	}
)

// AccountHandler serves the /user routes.
type AccountHandler struct {
	accounts Accounts
	sessions *auth.SessionIssuer
	logger   *slog.Logger
}

func NewAccountHandler(accounts Accounts, sessions *auth.SessionIssuer, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		accounts: accounts,
		sessions: sessions,
		logger:   logger,
	}
}

// Routes returns the router mounted at /user.
//
//	POST /register          → HandleRegister
//	GET  /verify/{token}    → HandleVerify
//	POST /auth              → HandleAuthenticate
//	POST /forgot-password   → HandleForgotPassword
//	POST /reset-password    → HandleResetPassword
//	GET  /                  → HandleList
//	GET  /me                → HandleMe      (session required)
//	PUT  /{id}              → HandleUpdate  (session required)
func (h *AccountHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/register", h.HandleRegister)
	r.Get("/verify/{token}", h.HandleVerify)
	r.Post("/auth", h.HandleAuthenticate)
	r.Post("/forgot-password", h.HandleForgotPassword)
	r.Post("/reset-password", h.HandleResetPassword)
	r.Get("/", h.HandleList)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(h.sessions))
		r.Get("/me", h.HandleMe)
		r.Put("/{id}", h.HandleUpdate)
	})

	return r
}

// HandleRegister creates an account.
//
// HTTP: POST /user/register
// REQUEST BODY: {"name":"Ana","email":"ana@x.com","password":"secret123"}
func (h *AccountHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.accounts.Register(r.Context(), service.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, registerResponse{
		Message: "user registered successfully, please check your email to verify your account",
		User:    user,
	})
}

// HandleVerify consumes the token from a verification link.
//
// HTTP: GET /user/verify/{token}
func (h *AccountHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ack, err := h.accounts.VerifyEmail(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

// HandleAuthenticate returns a session token and also sets it as an
// HttpOnly cookie, which RequireAuth accepts when no header is sent.
//
// HTTP: POST /user/auth
func (h *AccountHandler) HandleAuthenticate(w http.ResponseWriter, r *http.Request) {
	var req authenticateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	session, err := h.accounts.Authenticate(r.Context(), service.AuthenticateInput{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    session.Token,
		Path:     "/",
		MaxAge:   int(h.sessions.TTL() / time.Second),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, session)
}

// HandleUpdate changes the caller's own profile.
//
// HTTP: PUT /user/{id}
// REQUEST BODY: any of {"name","email","password"}
func (h *AccountHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	subject, _ := auth.UserIDFromContext(r.Context())
	if subject != id {
		h.logger.Warn("update of another account refused",
			slog.String("subject", subject),
			slog.String("target", id),
		)
		writeError(w, apperror.Forbidden("you can only update your own account"))
		return
	}

	var req updateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.accounts.UpdateUser(r.Context(), id, service.UpdateInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, updateResponse{Message: "user updated successfully", User: user})
}

// HandleForgotPassword always answers 200 with the same body for a
// well-formed email.
//
// HTTP: POST /user/forgot-password
func (h *AccountHandler) HandleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	ack, err := h.accounts.ForgotPassword(r.Context(), req.Email)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

// HandleResetPassword sets a new password using a reset token.
//
// HTTP: POST /user/reset-password
// REQUEST BODY: {"token":"...","newPassword":"..."}
func (h *AccountHandler) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	ack, err := h.accounts.ResetPassword(r.Context(), service.ResetInput{
		Token:       req.Token,
		NewPassword: req.NewPassword,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

// HandleList returns a page of users.
//
// HTTP: GET /user/?limit=20&offset=0
func (h *AccountHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, err)
		return
	}

	users, err := h.accounts.ListUsers(r.Context(), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Count: len(users), Users: users})
}

// HandleMe returns the profile of the session's user.
//
// HTTP: GET /user/me
func (h *AccountHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	subject, _ := auth.UserIDFromContext(r.Context())

	user, err := h.accounts.GetUser(r.Context(), subject)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// queryInt parses an optional integer query parameter; absent means 0.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperror.ValidationFailed(name, name+" must be an integer")
	}
	return n, nil
}
