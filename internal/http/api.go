package http

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"bank-auth/internal/access"
	"bank-auth/internal/apikey"
	"bank-auth/internal/domain"
	"bank-auth/internal/ratelimit"
	"bank-auth/internal/service"
	"bank-auth/internal/token"
)

const serviceName = "bank-auth"

// Options bundles the collaborators of Handler. Limiter and Gate may be nil:
// a nil limiter admits everything, a nil gate rejects every API key.
type Options struct {
	Users        service.UserService
	Guard        *access.Guard
	Limiter      *ratelimit.Limiter
	Gate         *apikey.Gate
	APIKeyHeader string
	Logger       logrus.FieldLogger
	Now          func() time.Time
	Version      string
}

// Handler wires HTTP routes to domain services.
type Handler struct {
	users        service.UserService
	guard        *access.Guard
	limiter      *ratelimit.Limiter
	gate         *apikey.Gate
	apiKeyHeader string
	logger       logrus.FieldLogger
	now          func() time.Time
	version      string
}

func NewHandler(opts Options) *Handler {
	if opts.APIKeyHeader == "" {
		opts.APIKeyHeader = apikey.DefaultHeader
	}
	if opts.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		opts.Logger = l
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	return &Handler{
		users:        opts.Users,
		guard:        opts.Guard,
		limiter:      opts.Limiter,
		gate:         opts.Gate,
		apiKeyHeader: opts.APIKeyHeader,
		logger:       opts.Logger,
		now:          opts.Now,
		version:      opts.Version,
	}
}

type route struct {
	method string
	path   string
	policy access.Policy
	handle gin.HandlerFunc
}

// routes is the single place where access requirements are declared.
func (h *Handler) routes() []route {
	return []route{
		{http.MethodGet, "/health", access.PublicRoute(), h.health},
		{http.MethodGet, "/", access.APIKeyRoute(), h.root},
		{http.MethodPost, "/register", access.PublicRoute(), h.register},
		{http.MethodPost, "/token", access.PublicRoute(), h.login},
		{http.MethodPost, "/token/refresh", access.PublicRoute(), h.refresh},
		{http.MethodPost, "/logout", access.BearerRoute(), h.logout},
		{http.MethodGet, "/me", access.BearerRoute(), h.me},
		{http.MethodGet, "/protected-route", access.BearerRoute(domain.RoleAdmin), h.protected},
		{http.MethodPatch, "/users/:username", access.BearerRoute(domain.RoleAdmin), h.updateUser},
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(h.accessLog(), h.rateLimit())
	for _, rt := range h.routes() {
		router.Handle(rt.method, rt.path, h.enforce(rt.policy), rt.handle)
	}
}

type registerRequest struct {
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Password string   `json:"password"`
	Roles    []string `json:"roles"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type updateUserRequest struct {
	Roles    *[]string `json:"roles"`
	IsActive *bool     `json:"is_active"`
}

type UserResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Roles     []string  `json:"roles"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   serviceName,
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": serviceName,
		"version": h.version,
	})
}

func (h *Handler) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.abortWithError(c, domain.ErrValidation)
		return
	}

	user, err := h.users.Register(c.Request.Context(), service.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Roles:    req.Roles,
	})
	if err != nil {
		h.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, userToResponse(user))
}

// login takes form fields username and password; username may also be the
// account's email.
func (h *Handler) login(c *gin.Context) {
	username := c.PostForm("username")
	password := c.PostForm("password")
	if username == "" || password == "" {
		h.abortWithError(c, domain.E(domain.KindValidation, "username and password are required"))
		return
	}

	pair, err := h.users.Login(c.Request.Context(), username, password)
	if err != nil {
		h.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, pairToResponse(pair))
}

func (h *Handler) refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.abortWithError(c, domain.ErrValidation)
		return
	}

	pair, err := h.users.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		h.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, pairToResponse(pair))
}

func (h *Handler) logout(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		h.abortWithError(c, domain.ErrValidation)
		return
	}

	if err := h.users.Logout(c.Request.Context(), authContext(c).Claims, req.RefreshToken); err != nil {
		h.abortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) me(c *gin.Context) {
	user, err := h.users.Me(c.Request.Context(), authContext(c).Subject)
	if err != nil {
		h.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, userToResponse(user))
}

func (h *Handler) protected(c *gin.Context) {
	auth := authContext(c)
	c.JSON(http.StatusOK, gin.H{
		"message": "admin access granted",
		"user":    auth.Subject,
		"roles":   auth.Roles,
	})
}

func (h *Handler) updateUser(c *gin.Context) {
	var req updateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.abortWithError(c, domain.ErrValidation)
		return
	}

	patch := domain.UserPatch{IsActive: req.IsActive}
	if req.Roles != nil {
		patch.Roles = append([]string{}, (*req.Roles)...)
	}

	user, err := h.users.UpdateUser(c.Request.Context(), c.Param("username"), patch)
	if err != nil {
		h.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, userToResponse(user))
}

func userToResponse(user *domain.User) UserResponse {
	return UserResponse{
		ID:        user.ID,
		Username:  user.Username,
		Email:     user.Email,
		Roles:     user.Roles,
		IsActive:  user.IsActive,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}
}

func pairToResponse(pair *token.Pair) TokenResponse {
	return TokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    pair.TokenType,
		ExpiresIn:    int64(pair.ExpiresIn / time.Second),
	}
}
