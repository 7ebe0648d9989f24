package transport

import (
	"net/http"

	"storefront/internal/middleware"
	"storefront/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// CreateUserRequest is the admin payload for opening an account of any role
type CreateUserRequest struct {
	Username  string `json:"username" validate:"required,alphanum,min=3,max=50"`
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8,max=72"`
	FirstName string `json:"first_name" validate:"max=100"`
	LastName  string `json:"last_name" validate:"max=100"`
	Role      string `json:"role" validate:"omitempty,oneof=user admin"`
}

// UpdateUserRequest changes only the fields present in the body
type UpdateUserRequest struct {
	Email     *string `json:"email" validate:"omitempty,email"`
	FirstName *string `json:"first_name" validate:"omitempty,max=100"`
	LastName  *string `json:"last_name" validate:"omitempty,max=100"`
	Role      *string `json:"role" validate:"omitempty,oneof=user admin"`
}

// UserListResponse is one page of user profiles
type UserListResponse struct {
	Users    []UserProfile `json:"users"`
	Total    int           `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
}

// AdminUserHandler serves user management. Every route needs the admin role.
type AdminUserHandler struct {
	admin  service.AdminUserService
	logger *zap.Logger
}

func NewAdminUserHandler(admin service.AdminUserService, logger *zap.Logger) *AdminUserHandler {
	return &AdminUserHandler{
		admin:  admin,
		logger: logger,
	}
}

func (h *AdminUserHandler) RegisterRoutes(r chi.Router, authMiddleware, requireAdmin func(http.Handler) http.Handler) {
	r.Route("/api/admin/users", func(r chi.Router) {
		r.Use(authMiddleware, requireAdmin)
		r.Get("/", h.ListUsers)
		r.Post("/", h.CreateUser)
		r.Get("/{userID}", h.GetUser)
		r.Put("/{userID}", h.UpdateUser)
		r.Delete("/{userID}", h.DeleteUser)
	})
}

func (h *AdminUserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := middleware.DecodeAndValidate(r, &req); err != nil {
		middleware.RespondWithDecodeError(w, err)
		return
	}

	user, err := h.admin.CreateUser(r.Context(), service.NewAccount{
		Username:  req.Username,
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Role:      req.Role,
	})
	if err != nil {
		middleware.RespondWithDomainError(w, r, err, h.logger)
		return
	}

	middleware.RespondWithJSON(w, http.StatusCreated, newUserProfile(user))
}

// ListUsers supports ?page=&page_size=
func (h *AdminUserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	pageNumber, pageSize, ok := paging(w, r)
	if !ok {
		return
	}

	page, err := h.admin.ListUsers(r.Context(), pageNumber, pageSize)
	if err != nil {
		middleware.RespondWithDomainError(w, r, err, h.logger)
		return
	}

	profiles := make([]UserProfile, len(page.Users))
	for i, user := range page.Users {
		profiles[i] = newUserProfile(user)
	}
	middleware.RespondWithJSON(w, http.StatusOK, UserListResponse{
		Users:    profiles,
		Total:    page.Total,
		Page:     page.Page,
		PageSize: page.PageSize,
	})
}

func (h *AdminUserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}

	user, err := h.admin.GetUser(r.Context(), userID)
	if err != nil {
		middleware.RespondWithDomainError(w, r, err, h.logger)
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, newUserProfile(user))
}

func (h *AdminUserHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}

	var req UpdateUserRequest
	if err := middleware.DecodeAndValidate(r, &req); err != nil {
		middleware.RespondWithDecodeError(w, err)
		return
	}

	user, err := h.admin.UpdateUser(r.Context(), userID, service.AccountUpdate{
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Role:      req.Role,
	})
	if err != nil {
		middleware.RespondWithDomainError(w, r, err, h.logger)
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, newUserProfile(user))
}

// DeleteUser answers 204 whether or not the user existed.
func (h *AdminUserHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	actorID, ok := currentUser(w, r, h.logger)
	if !ok {
		return
	}
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}

	if _, err := h.admin.DeleteUser(r.Context(), actorID, userID); err != nil {
		middleware.RespondWithDomainError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
