package service

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/Almanaei/cmsvs-sub000/internal/apperr"
	"github.com/Almanaei/cmsvs-sub000/internal/model"
	"github.com/Almanaei/cmsvs-sub000/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// DTOs for Request validation
type RegisterUserRequest struct {
	Username string `json:"username" binding:"required,min=3,max=50"`
	Email    string `json:"email" binding:"required,email"`
	FullName string `json:"full_name" binding:"required"`
	Password string `json:"password" binding:"required,min=6"`
	Role     string `json:"role"`
}

type UpdateProfileRequest struct {
	Email    string `json:"email" binding:"omitempty,email"`
	FullName string `json:"full_name"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required,min=6"`
}

type LoginUserRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type TokenResponse struct {
	Token string       `json:"token"`
	User  UserResponse `json:"user"`
}

// DTO for returning User without exposing sensitive data
type UserResponse struct {
	ID             uint   `json:"id"`
	Username       string `json:"username"`
	Email          string `json:"email"`
	FullName       string `json:"full_name"`
	Role           string `json:"role"`
	AvatarPath     string `json:"avatar_path,omitempty"`
	IsActive       bool   `json:"is_active"`
	ApprovalStatus string `json:"approval_status"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

// UserService defines the interface for business logic related to User
type UserService interface {
	Register(ctx context.Context, req RegisterUserRequest) (*UserResponse, error)
	Login(ctx context.Context, req LoginUserRequest, ip, userAgent string) (*TokenResponse, error)
	Logout(ctx context.Context, userID uint) error
	GetByID(ctx context.Context, id uint) (*UserResponse, error)
	GetModelByID(ctx context.Context, id uint) (*model.User, error)
	List(ctx context.Context, page, limit int) ([]UserResponse, int64, error)
	UpdateProfile(ctx context.Context, id uint, req UpdateProfileRequest) (*UserResponse, error)
	UpdateAvatar(ctx context.Context, id uint, avatarPath string) (*UserResponse, error)
	ChangePassword(ctx context.Context, id uint, req ChangePasswordRequest) error
	Approve(ctx context.Context, adminID, userID uint) (*UserResponse, error)
	Reject(ctx context.Context, adminID, userID uint) (*UserResponse, error)
	Deactivate(ctx context.Context, id uint) error
	EnsureAdmin(ctx context.Context, username, email, password string) error
}

type userService struct {
	repo       repository.UserRepository
	activities ActivityService
	jwtSecret  string
	logger     *zap.Logger
}

// NewUserService returns a new instance of UserService
func NewUserService(repo repository.UserRepository, activities ActivityService, jwtSecret string, logger *zap.Logger) UserService {
	return &userService{repo: repo, activities: activities, jwtSecret: jwtSecret, logger: logger}
}

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

func validUserRole(role string) bool {
	return role == model.RoleAdmin || role == model.RoleManager || role == model.RoleUser
}

func toUserResponse(user *model.User) *UserResponse {
	return &UserResponse{
		ID:             user.ID,
		Username:       user.Username,
		Email:          user.Email,
		FullName:       user.FullName,
		Role:           user.Role,
		AvatarPath:     user.AvatarPath,
		IsActive:       user.IsActive,
		ApprovalStatus: user.ApprovalStatus,
		CreatedAt:      user.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:      user.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// Register creates a new account. Admin accounts come up active and approved;
// everyone else starts inactive and pending until an admin approves them.
func (s *userService) Register(ctx context.Context, req RegisterUserRequest) (*UserResponse, error) {
	role := req.Role
	if role == "" {
		role = model.RoleUser
	}
	if !validUserRole(role) {
		return nil, apperr.Validation("invalid role %q", role)
	}
	if !emailPattern.MatchString(req.Email) {
		return nil, apperr.Validation("invalid email format")
	}

	if _, err := s.repo.GetByUsername(ctx, req.Username); err == nil {
		return nil, apperr.Conflict("username already exists")
	}
	if _, err := s.repo.GetByEmail(ctx, req.Email); err == nil {
		return nil, apperr.Conflict("email already exists")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errors.New("failed to hash password")
	}

	user := &model.User{
		Username: req.Username,
		Email:    req.Email,
		FullName: req.FullName,
		Password: string(hashedPassword),
		Role:     role,
	}
	if role == model.RoleAdmin {
		user.IsActive = true
		user.ApprovalStatus = model.UserApprovalApproved
	} else {
		user.IsActive = false
		user.ApprovalStatus = model.UserApprovalPending
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("user registered",
		zap.String("username", user.Username), zap.String("role", user.Role))
	return toUserResponse(user), nil
}

func (s *userService) Login(ctx context.Context, req LoginUserRequest, ip, userAgent string) (*TokenResponse, error) {
	user, err := s.repo.GetByUsername(ctx, req.Username)
	if err != nil {
		return nil, apperr.Validation("invalid username or password")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		return nil, apperr.Validation("invalid username or password")
	}

	if !user.CanLogin() {
		return nil, apperr.Validation("account is pending approval or deactivated")
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  user.ID,
		"role": user.Role,
		"exp":  time.Now().Add(24 * time.Hour).Unix(),
	})
	tokenString, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return nil, errors.New("failed to generate token")
	}

	if err := s.activities.Log(ctx, LogActivityRequest{
		UserID:       user.ID,
		ActivityType: model.ActivityLogin,
		Description:  "تسجيل الدخول",
		IPAddress:    ip,
		UserAgent:    userAgent,
	}); err != nil {
		s.logger.Warn("failed to log login activity", zap.Error(err))
	}

	return &TokenResponse{Token: tokenString, User: *toUserResponse(user)}, nil
}

func (s *userService) Logout(ctx context.Context, userID uint) error {
	return s.activities.Log(ctx, LogActivityRequest{
		UserID:       userID,
		ActivityType: model.ActivityLogout,
		Description:  "تسجيل الخروج",
	})
}

func (s *userService) GetByID(ctx context.Context, id uint) (*UserResponse, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.NotFound("user", id)
	}
	return toUserResponse(user), nil
}

// GetModelByID returns the raw model for internal callers (middleware).
func (s *userService) GetModelByID(ctx context.Context, id uint) (*model.User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *userService) List(ctx context.Context, page, limit int) ([]UserResponse, int64, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 10
	}

	users, total, err := s.repo.List(ctx, page, limit)
	if err != nil {
		return nil, 0, err
	}

	responses := make([]UserResponse, 0, len(users))
	for i := range users {
		responses = append(responses, *toUserResponse(&users[i]))
	}
	return responses, total, nil
}

func (s *userService) UpdateProfile(ctx context.Context, id uint, req UpdateProfileRequest) (*UserResponse, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.NotFound("user", id)
	}

	if req.Email != "" && req.Email != user.Email {
		if _, err := s.repo.GetByEmail(ctx, req.Email); err == nil {
			return nil, apperr.Conflict("email already exists")
		}
		user.Email = req.Email
	}
	if req.FullName != "" {
		user.FullName = req.FullName
	}

	if err := s.repo.Update(ctx, user); err != nil {
		return nil, err
	}

	if err := s.activities.Log(ctx, LogActivityRequest{
		UserID:       user.ID,
		ActivityType: model.ActivityProfileUpdated,
		Description:  "تحديث الملف الشخصي",
	}); err != nil {
		s.logger.Warn("failed to log profile update", zap.Error(err))
	}

	return toUserResponse(user), nil
}


// UpdateAvatar records the stored avatar path after the handler saved the bytes.
func (s *userService) UpdateAvatar(ctx context.Context, id uint, avatarPath string) (*UserResponse, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.NotFound("user", id)
	}

	user.AvatarPath = avatarPath
	if err := s.repo.Update(ctx, user); err != nil {
		return nil, err
	}

	if err := s.activities.Log(ctx, LogActivityRequest{
		UserID:       user.ID,
		ActivityType: model.ActivityAvatarUploaded,
		Description:  "تحديث الصورة الشخصية",
	}); err != nil {
		s.logger.Warn("failed to log avatar upload", zap.Error(err))
	}

	return toUserResponse(user), nil
}

func (s *userService) ChangePassword(ctx context.Context, id uint, req ChangePasswordRequest) error {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return apperr.NotFound("user", id)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.CurrentPassword)); err != nil {
		return apperr.Validation("current password is incorrect")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return errors.New("failed to hash password")
	}
	user.Password = string(hashed)

	if err := s.repo.Update(ctx, user); err != nil {
		return err
	}

	return s.activities.Log(ctx, LogActivityRequest{
		UserID:       user.ID,
		ActivityType: model.ActivityPasswordChanged,
		Description:  "تغيير كلمة المرور",
	})
}

// Approve activates a pending account.
func (s *userService) Approve(ctx context.Context, adminID, userID uint) (*UserResponse, error) {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, apperr.NotFound("user", userID)
	}

	user.ApprovalStatus = model.UserApprovalApproved
	user.IsActive = true
	if err := s.repo.Update(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("user approved",
		zap.Uint("admin_id", adminID), zap.Uint("user_id", userID))
	return toUserResponse(user), nil
}

// Reject marks a pending account rejected and keeps it inactive.
func (s *userService) Reject(ctx context.Context, adminID, userID uint) (*UserResponse, error) {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, apperr.NotFound("user", userID)
	}

	user.ApprovalStatus = model.UserApprovalRejected
	user.IsActive = false
	if err := s.repo.Update(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("user rejected",
		zap.Uint("admin_id", adminID), zap.Uint("user_id", userID))
	return toUserResponse(user), nil
}

func (s *userService) Deactivate(ctx context.Context, id uint) error {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return apperr.NotFound("user", id)
	}
	return s.repo.Deactivate(ctx, id)
}

// EnsureAdmin seeds the bootstrap admin account when it does not exist yet.
// A blank password skips seeding.
func (s *userService) EnsureAdmin(ctx context.Context, username, email, password string) error {
	if password == "" {
		return nil
	}
	if _, err := s.repo.GetByUsername(ctx, username); err == nil {
		return nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	_, err := s.Register(ctx, RegisterUserRequest{
		Username: username,
		Email:    email,
		FullName: "System Administrator",
		Password: password,
		Role:     model.RoleAdmin,
	})
	return err
}
