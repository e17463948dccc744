package handler

import (
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Almanaei/cmsvs-sub000/internal/middleware"
	"github.com/Almanaei/cmsvs-sub000/internal/model"
	"github.com/Almanaei/cmsvs-sub000/internal/service"
	"github.com/Almanaei/cmsvs-sub000/internal/storage"
	"github.com/Almanaei/cmsvs-sub000/pkg/pagination"
	"github.com/Almanaei/cmsvs-sub000/pkg/response"

	"github.com/gin-gonic/gin"
)

type UserHandler struct {
	userService service.UserService
	store       *storage.Store
}

// NewUserHandler sets up the routing dependencies for User endpoints
func NewUserHandler(userService service.UserService, store *storage.Store) *UserHandler {
	return &UserHandler{userService: userService, store: store}
}

// RegisterRoutes binds the endpoints to the gin Engine or RouterGroup
func (h *UserHandler) RegisterRoutes(router *gin.RouterGroup) {
	// Public routes
	router.POST("/register", h.Register)
	router.POST("/login", h.Login)

	auth := middleware.RequireAuth(h.userService)
	router.POST("/logout", auth, h.Logout)
	router.GET("/me", auth, h.GetMe)
	router.PUT("/me", auth, h.UpdateProfile)
	router.POST("/me/avatar", auth, h.UploadAvatar)
	router.PUT("/me/password", auth, h.ChangePassword)

	// Admin-only user management
	users := router.Group("/users", auth, middleware.RequireRole(model.RoleAdmin))
	{
		users.GET("", h.ListUsers)
		users.GET("/:id", h.GetUserByID)
		users.PUT("/:id/approve", h.ApproveUser)
		users.PUT("/:id/reject", h.RejectUser)
		users.DELETE("/:id", h.DeactivateUser)
	}
}

// Register handles POST /register to create a pending account
// @Summary      Register a new user
// @Description  Creates an account. Non-admin accounts start inactive until approved.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.RegisterUserRequest  true  "Registration Payload"
// @Success      201      {object}  response.Response{data=service.UserResponse}
// @Failure      400      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /register [post]
func (h *UserHandler) Register(c *gin.Context) {
	var req service.RegisterUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	// Self-registration never grants elevated roles.
	req.Role = model.RoleUser

	user, err := h.userService.Register(c.Request.Context(), req)
	if err != nil {
		c.JSON(httpStatus(err), response.Error(httpStatus(err), err.Error()))
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, user))
}

// Login handles POST /login to authenticate and return a JWT token
// @Summary      Login user
// @Description  Authenticates by username and password, returning a JWT token
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.LoginUserRequest   true  "Login Credentials"
// @Success      200      {object}  response.Response{data=service.TokenResponse}
// @Failure      400      {object}  response.Response
// @Failure      401      {object}  response.Response
// @Router       /login [post]
func (h *UserHandler) Login(c *gin.Context) {
	var req service.LoginUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload"))
		return
	}

	tokenRes, err := h.userService.Login(c.Request.Context(), req, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, err.Error()))
		return
	}

	middleware.SetTokenCookie(c, tokenRes.Token)

	c.JSON(http.StatusOK, response.Success(http.StatusOK, tokenRes))
}

// Logout handles POST /logout
// @Summary      Logout user
// @Tags         auth
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  response.Response
// @Router       /logout [post]
func (h *UserHandler) Logout(c *gin.Context) {
	if user, ok := middleware.CurrentUser(c); ok {
		_ = h.userService.Logout(c.Request.Context(), user.ID)
	}
	middleware.ClearTokenCookie(c)
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"message": "logged out"}))
}

// GetMe handles GET /me to return the current authenticated user
// @Summary      Get current user
// @Tags         auth
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  response.Response{data=service.UserResponse}
// @Failure      401  {object}  response.Response
// @Router       /me [get]
func (h *UserHandler) GetMe(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Not authenticated"))
		return
	}

	resp, err := h.userService.GetByID(c.Request.Context(), user.ID)
	if err != nil {
		c.JSON(httpStatus(err), response.Error(httpStatus(err), err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, resp))
}

// UpdateProfile handles PUT /me
// @Summary      Update own profile
// @Tags         auth
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        payload  body      service.UpdateProfileRequest  true  "Profile Payload"
// @Success      200      {object}  response.Response{data=service.UserResponse}
// @Failure      400      {object}  response.Response
// @Router       /me [put]
func (h *UserHandler) UpdateProfile(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)

	var req service.UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	resp, err := h.userService.UpdateProfile(c.Request.Context(), user.ID, req)
	if err != nil {
		c.JSON(httpStatus(err), response.Error(httpStatus(err), err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, resp))
}

// avatarExtensions restricts avatars to images regardless of the wider
// upload allowlist.
var avatarExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".gif": true}

// UploadAvatar handles POST /me/avatar (multipart)
// @Summary      Upload own avatar
// @Tags         auth
// @Accept       multipart/form-data
// @Produce      json
// @Security     BearerAuth
// @Param        avatar  formData  file  true  "Avatar image"
// @Success      200     {object}  response.Response{data=service.UserResponse}
// @Failure      400     {object}  response.Response
// @Router       /me/avatar [post]
func (h *UserHandler) UploadAvatar(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)

	header, err := c.FormFile("avatar")
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Missing avatar file"))
		return
	}
	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !avatarExtensions[ext] {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Avatar must be a jpg, png or gif image"))
		return
	}

	src, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Failed to read avatar"))
		return
	}
	content, err := io.ReadAll(src)
	src.Close()
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Failed to read avatar"))
		return
	}

	if err := h.store.Validate(header.Filename, int64(len(content))); err != nil {
		c.JSON(httpStatus(err), response.Error(httpStatus(err), err.Error()))
		return
	}
	if _, err := h.store.Scan(header.Filename, header.Header.Get("Content-Type"), content); err != nil {
		c.JSON(httpStatus(err), response.Error(httpStatus(err), err.Error()))
		return
	}

	storedName := fmt.Sprintf("user_%d%s", user.ID, ext)
	result, err := h.store.Save("avatars", storedName, content)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, err.Error()))
		return
	}

	resp, err := h.userService.UpdateAvatar(c.Request.Context(), user.ID, result.Path)
	if err != nil {
		c.JSON(httpStatus(err), response.Error(httpStatus(err), err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, resp))
}

// ChangePassword handles PUT /me/password
// @Summary      Change own password
// @Tags         auth
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        payload  body      service.ChangePasswordRequest  true  "Password Payload"
// @Success      200      {object}  response.Response
// @Failure      400      {object}  response.Response
// @Router       /me/password [put]
func (h *UserHandler) ChangePassword(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)

	var req service.ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	if err := h.userService.ChangePassword(c.Request.Context(), user.ID, req); err != nil {
		c.JSON(httpStatus(err), response.Error(httpStatus(err), err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"message": "password changed"}))
}

// ListUsers handles GET /users
// @Summary      List users
// @Tags         users
// @Produce      json
// @Security     BearerAuth
// @Param        page   query     int  false  "Page"
// @Param        limit  query     int  false  "Limit"
// @Success      200    {object}  response.Response{data=[]service.UserResponse}
// @Router       /users [get]
func (h *UserHandler) ListUsers(c *gin.Context) {
	p := pagination.Parse(c)

	users, total, err := h.userService.List(c.Request.Context(), p.Page, p.Limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, err.Error()))
		return
	}

	c.JSON(http.StatusOK, response.Paged(http.StatusOK, users, pagination.NewMeta(p, total)))
}

// GetUserByID handles GET /users/:id
// @Summary      Get user by id
// @Tags         users
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      int  true  "User ID"
// @Success      200  {object}  response.Response{data=service.UserResponse}
// @Failure      404  {object}  response.Response
// @Router       /users/{id} [get]
func (h *UserHandler) GetUserByID(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid user id"))
		return
	}

	user, err := h.userService.GetByID(c.Request.Context(), uint(id))
	if err != nil {
		c.JSON(httpStatus(err), response.Error(httpStatus(err), err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, user))
}

// ApproveUser handles PUT /users/:id/approve
// @Summary      Approve a pending user
// @Tags         users
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      int  true  "User ID"
// @Success      200  {object}  response.Response{data=service.UserResponse}
// @Failure      404  {object}  response.Response
// @Router       /users/{id}/approve [put]
func (h *UserHandler) ApproveUser(c *gin.Context) {
	admin, _ := middleware.CurrentUser(c)
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid user id"))
		return
	}

	user, err := h.userService.Approve(c.Request.Context(), admin.ID, uint(id))
	if err != nil {
		c.JSON(httpStatus(err), response.Error(httpStatus(err), err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, user))
}

// RejectUser handles PUT /users/:id/reject
// @Summary      Reject a pending user
// @Tags         users
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      int  true  "User ID"
// @Success      200  {object}  response.Response{data=service.UserResponse}
// @Failure      404  {object}  response.Response
// @Router       /users/{id}/reject [put]
func (h *UserHandler) RejectUser(c *gin.Context) {
	admin, _ := middleware.CurrentUser(c)
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid user id"))
		return
	}

	user, err := h.userService.Reject(c.Request.Context(), admin.ID, uint(id))
	if err != nil {
		c.JSON(httpStatus(err), response.Error(httpStatus(err), err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, user))
}

// DeactivateUser handles DELETE /users/:id
// @Summary      Deactivate a user
// @Description  Soft delete: marks the account inactive, history stays.
// @Tags         users
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      int  true  "User ID"
// @Success      200  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Router       /users/{id} [delete]
func (h *UserHandler) DeactivateUser(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid user id"))
		return
	}

	if err := h.userService.Deactivate(c.Request.Context(), uint(id)); err != nil {
		c.JSON(httpStatus(err), response.Error(httpStatus(err), err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"message": "user deactivated"}))
}
