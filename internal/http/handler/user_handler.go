package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sandeepkv93/icc-admin-auth/internal/domain"
	"github.com/sandeepkv93/icc-admin-auth/internal/http/middleware"
	"github.com/sandeepkv93/icc-admin-auth/internal/http/response"
	"github.com/sandeepkv93/icc-admin-auth/internal/repository"
	"github.com/sandeepkv93/icc-admin-auth/internal/service"
)

type UserHandler struct {
	users    repository.AdminUserRepository
	accounts *service.AccountService
	logger   *slog.Logger
}

func NewUserHandler(users repository.AdminUserRepository, accounts *service.AccountService, logger *slog.Logger) *UserHandler {
	return &UserHandler{users: users, accounts: accounts, logger: logger}
}

// List pages through admin users, filtered by email prefix, role and active flag.
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("page_size"))
	query := repository.UserListQuery{
		PageRequest: repository.PageRequest{Page: page, PageSize: pageSize},
		Email:       q.Get("email"),
	}
	if raw := q.Get("role"); raw != "" {
		role, ok := domain.ParseRole(raw)
		if !ok {
			response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "unknown role", map[string]string{"role": raw})
			return
		}
		query.Role = string(role)
	}
	if raw := q.Get("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "active must be a boolean", nil)
			return
		}
		query.Active = &active
	}

	result, err := h.users.ListPaged(r.Context(), query)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list users failed", "error", err)
		response.Internal(w, r)
		return
	}
	items := make([]userView, 0, len(result.Items))
	for i := range result.Items {
		items = append(items, toUserView(&result.Items[i]))
	}
	response.JSON(w, r, http.StatusOK, map[string]any{
		"items":       items,
		"page":        result.Page,
		"page_size":   result.PageSize,
		"total":       result.Total,
		"total_pages": result.TotalPages,
	})
}

func (h *UserHandler) Deactivate(w http.ResponseWriter, r *http.Request) { h.setActive(w, r, false) }

func (h *UserHandler) Activate(w http.ResponseWriter, r *http.Request) { h.setActive(w, r, true) }

func (h *UserHandler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	var actorID uint
	if p, ok := middleware.PrincipalFromContext(r.Context()); ok {
		actorID = p.UserID
	}
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "invalid user id", nil)
		return
	}
	change, err := h.accounts.SetActive(r.Context(), actorID, uint(id), active)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		response.Error(w, r, http.StatusNotFound, "USER_NOT_FOUND", "user not found", nil)
		return
	case errors.Is(err, service.ErrSelfDeactivation):
		response.Error(w, r, http.StatusConflict, "SELF_DEACTIVATION", "you cannot deactivate your own account", nil)
		return
	case err != nil:
		h.logger.ErrorContext(r.Context(), "update account failed", "user_id", id, "error", err)
		response.Internal(w, r)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{
		"user":       toUserView(change.User),
		"terminated": change.Terminated,
	})
}
