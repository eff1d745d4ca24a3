package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"cashbook-auth/internal/auth"
	"cashbook-auth/internal/domain"
	"cashbook-auth/internal/service"
)

// Handler wires HTTP routes to the account service and the token gate.
type Handler struct {
	accounts service.AccountService
	tokens   TokenValidator
	logger   *logrus.Logger
}

func NewHandler(accounts service.AccountService, tokens TokenValidator, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.New()
	}
	return &Handler{
		accounts: accounts,
		tokens:   tokens,
		logger:   logger,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(requestLogger(h.logger))

	authGroup := router.Group("/auth")
	{
		authGroup.POST("/register", h.register)
		authGroup.POST("/login", h.login)
	}

	router.GET("/api/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": "ok"})
	})

	api := router.Group("/api")
	api.Use(AuthMiddleware(h.tokens, h.logger))
	{
		api.GET("/profile", h.profile)
		api.GET("/users", RequireRole(domain.RoleAdmin), h.listUsers)
	}
}

type ErrorResponse struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Errors  map[string]string `json:"errors,omitempty"`
}

type ProfileResponse struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

type UserResponse struct {
	ID        int64       `json:"id"`
	Name      string      `json:"name"`
	Email     string      `json:"email"`
	Role      domain.Role `json:"role"`
	CreatedAt string      `json:"created_at"`
	UpdatedAt string      `json:"updated_at"`
}

func (h *Handler) register(c *gin.Context) {
	const failure = "Failed to register user"

	var req service.RegisterInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: failure, Errors: map[string]string{"body": "Invalid JSON body"}})
		return
	}

	profile, err := h.accounts.Register(c.Request.Context(), req)
	if err != nil {
		var vErr *service.ValidationError
		switch {
		case errors.As(err, &vErr):
			c.JSON(http.StatusBadRequest, ErrorResponse{Message: failure, Errors: vErr.Fields})
		case errors.Is(err, service.ErrDuplicateEmail):
			c.JSON(http.StatusConflict, ErrorResponse{Message: failure, Errors: map[string]string{"email": "Email already exists"}})
		default:
			h.internalError(c, failure, err)
		}
		return
	}

	c.JSON(http.StatusCreated, ProfileResponse{
		ID:    profile.ID,
		Name:  profile.Name,
		Email: profile.Email,
	})
}

func (h *Handler) login(c *gin.Context) {
	const failure = "Failed to login user"

	var req service.LoginInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: failure, Errors: map[string]string{"body": "Invalid JSON body"}})
		return
	}

	token, err := h.accounts.Login(c.Request.Context(), req)
	if err != nil {
		var vErr *service.ValidationError
		switch {
		case errors.As(err, &vErr):
			c.JSON(http.StatusBadRequest, ErrorResponse{Message: failure, Errors: vErr.Fields})
		case errors.Is(err, service.ErrInvalidCredentials):
			c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "Invalid email or password"})
		default:
			h.internalError(c, failure, err)
		}
		return
	}

	c.JSON(http.StatusOK, TokenResponse{Token: token})
}

func (h *Handler) profile(c *gin.Context) {
	identity, ok := auth.IdentityFromContext(c.Request.Context())
	if !ok {
		abortUnauthorized(c)
		return
	}

	user, err := h.accounts.Profile(c.Request.Context(), identity.UserID)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			abortUnauthorized(c)
			return
		}
		h.internalError(c, "Failed to load profile", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": userToResponse(*user)})
}

func (h *Handler) listUsers(c *gin.Context) {
	users, err := h.accounts.ListUsers(c.Request.Context())
	if err != nil {
		h.internalError(c, "Failed to list users", err)
		return
	}

	resp := make([]UserResponse, len(users))
	for i := range users {
		resp[i] = userToResponse(users[i])
	}
	c.JSON(http.StatusOK, gin.H{"users": resp})
}

func (h *Handler) internalError(c *gin.Context, message string, err error) {
	h.logger.WithError(err).WithField("path", c.FullPath()).Error(message)
	c.JSON(http.StatusInternalServerError, ErrorResponse{Message: message})
}

func userToResponse(user domain.User) UserResponse {
	return UserResponse{
		ID:        user.ID,
		Name:      user.Name,
		Email:     user.Email,
		Role:      user.Role,
		CreatedAt: user.CreatedAt.Format(time.RFC3339),
		UpdatedAt: user.UpdatedAt.Format(time.RFC3339),
	}
}
