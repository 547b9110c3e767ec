package handlers

import (
	"net/http"
	"strings"

	"splitpay-backend/config"
	"splitpay-backend/database"
	"splitpay-backend/models"
	"splitpay-backend/utils"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

type RegisterRequest struct {
	Name          string `json:"name" binding:"required"`
	Email         string `json:"email" binding:"required,email"`
	Password      string `json:"password" binding:"required,min=6"`
	DisplayHandle string `json:"display_handle"`
	WalletAddress string `json:"wallet_address"`
	Currency      string `json:"currency"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type AuthResponse struct {
	Token string              `json:"token"`
	User  models.UserResponse `json:"user"`
}

// POST /auth/register
func Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, err.Error())
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	// Check if email already exists
	var existingUser models.User
	if err := database.DB.Where("email = ?", req.Email).First(&existingUser).Error; err == nil {
		utils.BadRequest(c, "Email already registered")
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		utils.InternalError(c, "Failed to hash password")
		return
	}

	currency := req.Currency
	if currency == "" {
		currency = config.AppConfig.DefaultCurrency
	}

	user := models.User{
		Name:          req.Name,
		Email:         req.Email,
		DisplayHandle: req.DisplayHandle,
		WalletAddress: req.WalletAddress,
		PasswordHash:  string(hashedPassword),
		Currency:      currency,
	}

	if err := database.DB.Create(&user).Error; err != nil {
		utils.InternalError(c, "Failed to create user")
		return
	}

	token, err := utils.GenerateToken(user.ID, user.Email)
	if err != nil {
		utils.InternalError(c, "Failed to generate token")
		return
	}

	utils.SuccessResponse(c, http.StatusCreated, "Registration successful", AuthResponse{
		Token: token,
		User:  user.ToResponse(),
	})
}

// POST /auth/login
func Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, err.Error())
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	var user models.User
	if err := database.DB.Where("email = ?", req.Email).First(&user).Error; err != nil {
		utils.Unauthorized(c, "Invalid email or password")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		utils.Unauthorized(c, "Invalid email or password")
		return
	}

	token, err := utils.GenerateToken(user.ID, user.Email)
	if err != nil {
		utils.InternalError(c, "Failed to generate token")
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Login successful", AuthResponse{
		Token: token,
		User:  user.ToResponse(),
	})
}

// PUT /api/users/me/fcm-token
func UpdateFCMToken(c *gin.Context) {
	userID := utils.GetCurrentUserID(c)

	var req struct {
		FCMToken string `json:"fcm_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, err.Error())
		return
	}

	if err := database.DB.Model(&models.User{}).Where("id = ?", userID).
		Update("fcm_token", req.FCMToken).Error; err != nil {
		utils.InternalError(c, "Failed to update FCM token")
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "FCM token updated", nil)
}
