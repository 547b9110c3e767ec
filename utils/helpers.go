package utils

import (
	"errors"
	"math"
	"net/http"

	"splitpay-backend/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func SuccessResponse(c *gin.Context, statusCode int, message string, data interface{}) {
	c.JSON(statusCode, APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

func ErrorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, APIResponse{
		Success: false,
		Message: message,
	})
}

func BadRequest(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusBadRequest, message)
}

func Unauthorized(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusUnauthorized, message)
}

func NotFound(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusNotFound, message)
}

func Conflict(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusConflict, message)
}

func InternalError(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusInternalServerError, message)
}

// DomainError maps core error types onto HTTP responses.
func DomainError(c *gin.Context, err error) {
	var (
		validation *models.ValidationError
		notFound   *models.NotFoundError
		conflict   *models.ConcurrencyConflictError
		transition *models.IllegalStateTransitionError
		funds      *models.InsufficientFundsError
		divergence *models.SyncDivergenceError
	)
	switch {
	case errors.As(err, &validation):
		BadRequest(c, err.Error())
	case errors.As(err, &notFound):
		NotFound(c, err.Error())
	case errors.As(err, &conflict):
		Conflict(c, err.Error())
	case errors.As(err, &transition):
		Conflict(c, err.Error())
	case errors.As(err, &funds):
		ErrorResponse(c, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &divergence):
		InternalError(c, err.Error())
	default:
		InternalError(c, "Something went wrong")
	}
}

// Get current user ID from context (set by auth middleware)
func GetCurrentUserID(c *gin.Context) uuid.UUID {
	userID, exists := c.Get("user_id")
	if !exists {
		return uuid.Nil
	}
	return userID.(uuid.UUID)
}

// Round to 2 decimal places
func RoundToTwo(val float64) float64 {
	return math.Round(val*100) / 100
}

// Cents converts a display amount to integer cents for exact arithmetic.
func Cents(val float64) int64 {
	return int64(math.Round(val * 100))
}

// FromCents converts integer cents back to a display amount.
func FromCents(cents int64) float64 {
	return float64(cents) / 100
}
