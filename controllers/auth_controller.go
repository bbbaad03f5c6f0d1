package controllers

import (
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/cppla/filedrop/middleware"
	"github.com/cppla/filedrop/models"
	"github.com/cppla/filedrop/utils"
)

// tokenTTL is the JWT lifetime for logins and registrations.
const tokenTTL = 7 * 24 * time.Hour

// AuthController handles account registration, login and profile management.
type AuthController struct {
	db *gorm.DB
}

// NewAuthController creates the controller with its database handle.
func NewAuthController(db *gorm.DB) *AuthController {
	return &AuthController{db: db}
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// Register creates a new account and issues a token.
func (a *AuthController) Register(ctx *gin.Context) {
	var req registerRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40010, "invalid request body")
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Name = strings.TrimSpace(req.Name)

	if req.Email == "" || req.Password == "" || req.Name == "" {
		utils.Error(ctx, http.StatusBadRequest, 40011, "email, password, and name are required")
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40012, "invalid email address")
		return
	}
	if len(req.Password) < 6 {
		utils.Error(ctx, http.StatusBadRequest, 40013, "password must be at least 6 characters long")
		return
	}

	var count int64
	if err := a.db.Model(&models.User{}).Where("email = ?", req.Email).Count(&count).Error; err != nil {
		utils.Sugar.Errorf("register: email lookup failed: %v", err)
		utils.Error(ctx, http.StatusInternalServerError, 50010, "registration failed")
		return
	}
	if count > 0 {
		utils.Error(ctx, http.StatusBadRequest, 40014, "user with this email already exists")
		return
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		utils.Sugar.Errorf("register: hash password failed: %v", err)
		utils.Error(ctx, http.StatusInternalServerError, 50010, "registration failed")
		return
	}

	user := models.User{Email: req.Email, PasswordHash: hash, Name: req.Name}
	if err := a.db.Create(&user).Error; err != nil {
		utils.Sugar.Errorf("register: create user failed: %v", err)
		utils.Error(ctx, http.StatusInternalServerError, 50010, "registration failed")
		return
	}

	token, err := utils.GenerateToken(user.ID, user.Email, tokenTTL)
	if err != nil {
		utils.Sugar.Errorf("register: issue token failed: %v", err)
		utils.Error(ctx, http.StatusInternalServerError, 50010, "registration failed")
		return
	}

	utils.Created(ctx, gin.H{"user": user, "token": token})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login verifies credentials and issues a token.
func (a *AuthController) Login(ctx *gin.Context) {
	var req loginRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40010, "invalid request body")
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		utils.Error(ctx, http.StatusBadRequest, 40015, "email and password are required")
		return
	}

	var user models.User
	if err := a.db.Where("email = ?", req.Email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Error(ctx, http.StatusUnauthorized, 40110, "invalid credentials")
			return
		}
		utils.Sugar.Errorf("login: user lookup failed: %v", err)
		utils.Error(ctx, http.StatusInternalServerError, 50011, "login failed")
		return
	}
	if !utils.CheckPassword(user.PasswordHash, req.Password) {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "invalid credentials")
		return
	}

	token, err := utils.GenerateToken(user.ID, user.Email, tokenTTL)
	if err != nil {
		utils.Sugar.Errorf("login: issue token failed: %v", err)
		utils.Error(ctx, http.StatusInternalServerError, 50011, "login failed")
		return
	}

	utils.Success(ctx, gin.H{"user": user, "token": token})
}

// Logout revokes the presented token for the rest of its lifetime.
func (a *AuthController) Logout(ctx *gin.Context) {
	token := middleware.RawToken(ctx)
	if token != "" {
		if claims, err := utils.ParseToken(token); err == nil && claims.ExpiresAt != nil {
			utils.BlacklistToken(token, claims.ExpiresAt.Time)
		}
	}
	utils.Success(ctx, gin.H{"message": "logged out"})
}

// Me returns the authenticated account.
func (a *AuthController) Me(ctx *gin.Context) {
	userID, ok := middleware.CurrentUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40106, "unauthorized")
		return
	}
	var user models.User
	if err := a.db.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Error(ctx, http.StatusNotFound, 40410, "user not found")
			return
		}
		utils.Sugar.Errorf("me: user lookup failed: %v", err)
		utils.Error(ctx, http.StatusInternalServerError, 50012, "failed to get profile")
		return
	}
	utils.Success(ctx, gin.H{"user": user})
}

type updateProfileRequest struct {
	Name string `json:"name"`
}

// UpdateProfile changes the display name.
func (a *AuthController) UpdateProfile(ctx *gin.Context) {
	userID, ok := middleware.CurrentUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40106, "unauthorized")
		return
	}
	var req updateProfileRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40010, "invalid request body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		utils.Error(ctx, http.StatusBadRequest, 40016, "no valid fields to update")
		return
	}

	var user models.User
	if err := a.db.First(&user, userID).Error; err != nil {
		utils.Error(ctx, http.StatusNotFound, 40410, "user not found")
		return
	}
	user.Name = req.Name
	if err := a.db.Save(&user).Error; err != nil {
		utils.Sugar.Errorf("update profile: save failed: %v", err)
		utils.Error(ctx, http.StatusInternalServerError, 50013, "failed to update profile")
		return
	}
	utils.Success(ctx, gin.H{"user": user})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// ChangePassword verifies the current password before storing a new hash.
func (a *AuthController) ChangePassword(ctx *gin.Context) {
	userID, ok := middleware.CurrentUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40106, "unauthorized")
		return
	}
	var req changePasswordRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40010, "invalid request body")
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		utils.Error(ctx, http.StatusBadRequest, 40017, "current password and new password are required")
		return
	}
	if len(req.NewPassword) < 6 {
		utils.Error(ctx, http.StatusBadRequest, 40013, "password must be at least 6 characters long")
		return
	}

	var user models.User
	if err := a.db.First(&user, userID).Error; err != nil {
		utils.Error(ctx, http.StatusNotFound, 40410, "user not found")
		return
	}
	if !utils.CheckPassword(user.PasswordHash, req.CurrentPassword) {
		utils.Error(ctx, http.StatusBadRequest, 40018, "current password is incorrect")
		return
	}

	hash, err := utils.HashPassword(req.NewPassword)
	if err != nil {
		utils.Sugar.Errorf("change password: hash failed: %v", err)
		utils.Error(ctx, http.StatusInternalServerError, 50014, "failed to change password")
		return
	}
	user.PasswordHash = hash
	if err := a.db.Save(&user).Error; err != nil {
		utils.Sugar.Errorf("change password: save failed: %v", err)
		utils.Error(ctx, http.StatusInternalServerError, 50014, "failed to change password")
		return
	}
	utils.Success(ctx, gin.H{"message": "password changed successfully"})
}
