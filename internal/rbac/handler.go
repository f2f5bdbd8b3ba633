package rbac

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/loomhub/loomhub/internal/shared"
)

// Handler wires administrative RBAC endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	guard     Guard
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, guard Guard) *Handler {
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

// MountRoutes registers RBAC routes on the provided router. Everything here
// is admin surface, gated on the wildcard grant.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require(shared.ActionManage, shared.SubjectAll))
		r.Get("/roles", h.listRoles)
		r.Get("/permissions", h.listPermissions)
		r.Put("/roles/{roleID}/permissions", h.setRolePermissions)
		r.Post("/users/{userID}/roles", h.assignRole)
		r.Delete("/users/{userID}/roles/{roleName}", h.removeRole)
	})
}

type roleResponse struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type permissionResponse struct {
	ID          int64  `json:"id"`
	Action      string `json:"action"`
	Subject     string `json:"subject"`
	Description string `json:"description"`
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.logger.Error("list roles", slog.Any("error", err))
		shared.WriteError(w, err)
		return
	}
	out := make([]roleResponse, len(roles))
	for i, role := range roles {
		out[i] = roleResponse{ID: role.ID, Name: role.Name, Description: role.Description}
	}
	shared.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListPermissions(r.Context())
	if err != nil {
		h.logger.Error("list permissions", slog.Any("error", err))
		shared.WriteError(w, err)
		return
	}
	out := make([]permissionResponse, len(perms))
	for i, p := range perms {
		out[i] = permissionResponse{ID: p.ID, Action: p.Action, Subject: p.Subject, Description: p.Description}
	}
	shared.WriteJSON(w, http.StatusOK, out)
}

type setRolePermissionsRequest struct {
	PermissionIDs []int64 `json:"permission_ids" validate:"required"`
}

func (h *Handler) setRolePermissions(w http.ResponseWriter, r *http.Request) {
	roleID, err := strconv.ParseInt(chi.URLParam(r, "roleID"), 10, 64)
	if err != nil {
		shared.WriteErrorKind(w, shared.KindInvalid, "invalid role id")
		return
	}
	var req setRolePermissionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteErrorKind(w, shared.KindInvalid, "invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		shared.WriteErrorKind(w, shared.KindInvalid, "permission_ids required")
		return
	}
	if err := h.service.SetRolePermissions(r.Context(), roleID, req.PermissionIDs); err != nil {
		h.logger.Error("set role permissions", slog.Int64("role_id", roleID), slog.Any("error", err))
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusNoContent, nil)
}

type assignRoleRequest struct {
	Role string `json:"role" validate:"required"`
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		shared.WriteErrorKind(w, shared.KindInvalid, "invalid user id")
		return
	}
	var req assignRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteErrorKind(w, shared.KindInvalid, "invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		shared.WriteErrorKind(w, shared.KindInvalid, "role required")
		return
	}

	assignedBy := "admin"
	if identity, ok := shared.IdentityFromContext(r.Context()); ok {
		assignedBy = "user:" + strconv.FormatInt(identity.UserID, 10)
	}
	if err := h.service.AssignRole(r.Context(), userID, req.Role, assignedBy); err != nil {
		h.logger.Error("assign role", slog.Int64("user_id", userID), slog.Any("error", err))
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusNoContent, nil)
}

func (h *Handler) removeRole(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		shared.WriteErrorKind(w, shared.KindInvalid, "invalid user id")
		return
	}
	if err := h.service.RemoveRole(r.Context(), userID, chi.URLParam(r, "roleName")); err != nil {
		h.logger.Error("remove role", slog.Int64("user_id", userID), slog.Any("error", err))
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusNoContent, nil)
}
