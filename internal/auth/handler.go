package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/loomhub/loomhub/internal/rbac"
	"github.com/loomhub/loomhub/internal/shared"
	"github.com/loomhub/loomhub/internal/token"
)

// CookieConfig controls how the refresh token travels. The raw refresh token
// lives only in an HttpOnly, SameSite=Strict cookie scoped to the auth
// routes; it never appears in a response body after issuance.
type CookieConfig struct {
	Name   string
	Path   string
	Secure bool
}

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	issuer    *token.Issuer
	guard     rbac.Guard
	cookie    CookieConfig
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, issuer *token.Issuer, guard rbac.Guard, cookie CookieConfig) *Handler {
	if cookie.Name == "" {
		cookie.Name = "loomhub_refresh"
	}
	if cookie.Path == "" {
		cookie.Path = "/auth"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		service:   service,
		issuer:    issuer,
		guard:     guard,
		cookie:    cookie,
		validator: validator.New(),
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/register", h.handleRegister)
	r.Post("/login", h.handleLogin)
	r.Post("/refresh", h.handleRefresh)
	r.Post("/logout", h.handleLogout)
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Authenticate)
		r.Get("/me", h.handleMe)
	})
}

type registerRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Name     string `json:"name" validate:"required,min=1,max=120"`
	Password string `json:"password" validate:"required,min=8,max=256"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type userPayload struct {
	ID       int64    `json:"id"`
	Email    string   `json:"email"`
	Name     string   `json:"name"`
	IsActive bool     `json:"is_active"`
	Roles    []string `json:"roles,omitempty"`
}

type authResponse struct {
	AccessToken     string      `json:"access_token"`
	AccessExpiresAt time.Time   `json:"access_expires_at"`
	User            userPayload `json:"user"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.service.Register(r.Context(), req.Email, req.Name, req.Password)
	if err != nil {
		h.fail(w, "register", err)
		return
	}
	h.setRefreshCookie(w, result.RefreshToken, result.RefreshExpiresAt)
	shared.WriteJSON(w, http.StatusCreated, toAuthResponse(result))
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(w, "login", err)
		return
	}
	h.setRefreshCookie(w, result.RefreshToken, result.RefreshExpiresAt)
	shared.WriteJSON(w, http.StatusOK, toAuthResponse(result))
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	presented := h.presentedRefreshToken(r)
	if presented == "" {
		shared.WriteErrorKind(w, shared.KindUnauthorized, "unauthorized")
		return
	}
	result, err := h.service.Refresh(r.Context(), presented)
	if err != nil {
		// The cookie is only cleared when the token itself is dead. A
		// transient store failure keeps it so the client can retry.
		if shared.KindOf(err) == shared.KindUnauthorized {
			h.clearRefreshCookie(w)
		}
		h.fail(w, "refresh", err)
		return
	}
	h.setRefreshCookie(w, result.RefreshToken, result.RefreshExpiresAt)
	shared.WriteJSON(w, http.StatusOK, toAuthResponse(result))
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	// Logout is best effort: the cookie is cleared regardless, and an absent
	// or unparsable token still yields 200 so the client converges on the
	// logged-out state.
	if presented := h.presentedRefreshToken(r); presented != "" {
		if claims, err := h.issuer.Verify(presented, token.TypeRefresh); err == nil && claims.SessionID != "" {
			if err := h.service.Logout(r.Context(), claims.SessionID); err != nil {
				h.logger.Warn("logout", slog.Any("error", err))
			}
		}
	}
	h.clearRefreshCookie(w)
	shared.WriteJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		shared.WriteErrorKind(w, shared.KindUnauthorized, "unauthorized")
		return
	}
	user, roles, err := h.service.Me(r.Context(), identity.UserID)
	if err != nil {
		h.fail(w, "me", err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, userPayload{
		ID:       user.ID,
		Email:    user.Email,
		Name:     user.Name,
		IsActive: user.IsActive,
		Roles:    roles,
	})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		shared.WriteErrorKind(w, shared.KindInvalid, "invalid request body")
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			shared.WriteErrorKind(w, shared.KindInvalid, "invalid field: "+verrs[0].Field())
			return false
		}
		shared.WriteErrorKind(w, shared.KindInvalid, "invalid request")
		return false
	}
	return true
}

func (h *Handler) presentedRefreshToken(r *http.Request) string {
	if cookie, err := r.Cookie(h.cookie.Name); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	// Non-browser clients may send the token in the body instead.
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
		return req.RefreshToken
	}
	return ""
}

func (h *Handler) setRefreshCookie(w http.ResponseWriter, raw string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    raw,
		Path:     h.cookie.Path,
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    "",
		Path:     h.cookie.Path,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if shared.KindOf(err) == shared.KindInfrastructure {
		h.logger.Error(op, slog.Any("error", err))
	}
	shared.WriteError(w, err)
}

func toAuthResponse(result *Result) authResponse {
	return authResponse{
		AccessToken:     result.AccessToken,
		AccessExpiresAt: result.AccessExpiresAt,
		User: userPayload{
			ID:       result.User.ID,
			Email:    result.User.Email,
			Name:     result.User.Name,
			IsActive: result.User.IsActive,
		},
	}
}
