package users

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/loomhub/loomhub/internal/rbac"
	"github.com/loomhub/loomhub/internal/shared"
)

// Handler wires HTTP endpoints for user management.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	guard     rbac.Guard
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, guard rbac.Guard) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		service:   service,
		guard:     guard,
		validator: validator.New(),
	}
}

// MountRoutes registers user routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require(shared.ActionReadAll, shared.SubjectUser))
		r.Get("/", h.listUsers)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require(shared.ActionUpdate, shared.SubjectUser))
		r.Patch("/me", h.updateMe)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require(shared.ActionDeleteAny, shared.SubjectUser))
		r.Post("/{userID}/deactivate", h.deactivate)
		r.Post("/{userID}/activate", h.activate)
	})
}

type listResponse struct {
	Data       []Profile         `json:"data"`
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))

	profiles, pagination, err := h.service.ListProfiles(r.Context(), page, perPage)
	if err != nil {
		h.logger.Error("list users", slog.Any("error", err))
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, listResponse{Data: profiles, Pagination: pagination})
}

type updateMeRequest struct {
	Name string `json:"name" validate:"required,min=1,max=120"`
}

func (h *Handler) updateMe(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		shared.WriteErrorKind(w, shared.KindUnauthorized, "unauthorized")
		return
	}
	var req updateMeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteErrorKind(w, shared.KindInvalid, "invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		shared.WriteErrorKind(w, shared.KindInvalid, "name required")
		return
	}
	profile, err := h.service.UpdateName(r.Context(), identity.UserID, req.Name)
	if err != nil {
		h.logger.Error("update profile", slog.Int64("user_id", identity.UserID), slog.Any("error", err))
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, profile)
}

func (h *Handler) deactivate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *Handler) activate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

func (h *Handler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		shared.WriteErrorKind(w, shared.KindInvalid, "invalid user id")
		return
	}
	if active {
		err = h.service.Activate(r.Context(), userID)
	} else {
		err = h.service.Deactivate(r.Context(), userID)
	}
	if err != nil {
		h.logger.Error("set active", slog.Int64("user_id", userID), slog.Any("error", err))
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusNoContent, nil)
}
