package controllers

import (
	"strings"
	"time"

	"classflow_go/middleware"
	"classflow_go/models"
	"classflow_go/utils"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type AuthController struct {
	DB    *gorm.DB
	Redis *redis.Client
}

// LoginRequest represents the login request body
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// RegisterRequest represents the registration request body
type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=3,max=50"`
	Password string `json:"password" validate:"required,min=6"`
	FullName string `json:"full_name" validate:"max=200"`
	Email    string `json:"email" validate:"required,email"`
	Phone    string `json:"phone" validate:"max=20"`
	Role     string `json:"role" validate:"required,oneof=admin tutor student"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=6"`
}

func userPayload(user models.User) fiber.Map {
	return fiber.Map{
		"id":        user.ID,
		"username":  user.Username,
		"full_name": user.FullName,
		"email":     user.Email,
		"phone":     user.Phone,
		"role":      user.Role,
	}
}

// Login authenticates a user and returns a JWT token
func (ac *AuthController) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}

	var user models.User
	if err := ac.DB.Where("username = ? AND status = ?", req.Username, "active").First(&user).Error; err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid credentials",
		})
	}

	if err := utils.CheckPassword(req.Password, user.Password); err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid credentials",
		})
	}

	token, err := middleware.GenerateToken(&user)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to generate token",
		})
	}

	middleware.LogActivity(c, "LOGIN", "auth", user.ID, fiber.Map{
		"username": user.Username,
		"role":     user.Role,
	})

	return c.JSON(fiber.Map{
		"message": "Login successful",
		"token":   token,
		"user":    userPayload(user),
	})
}

// Logout revokes the presented token until it would have expired.
func (ac *AuthController) Logout(c *fiber.Ctx) error {
	tokenString := strings.TrimPrefix(c.Get("Authorization"), "Bearer ")
	claims, err := middleware.GetCurrentClaims(c)
	if err != nil {
		return err
	}

	if ac.Redis != nil && claims.ExpiresAt != nil {
		ttl := time.Until(claims.ExpiresAt.Time)
		if ttl > 0 {
			if err := ac.Redis.Set(c.UserContext(), middleware.BlacklistKey(tokenString), "1", ttl).Err(); err != nil {
				return respondError(c, err)
			}
		}
	}

	middleware.LogActivity(c, "LOGOUT", "auth", claims.UserID, nil)
	return c.JSON(fiber.Map{"message": "Logged out successfully"})
}

// Register creates a new user account (admin only)
func (ac *AuthController) Register(c *fiber.Ctx) error {
	var req RegisterRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}

	var existing int64
	q := ac.DB.Model(&models.User{}).Where("username = ? OR email = ?", req.Username, req.Email)
	if err := q.Count(&existing).Error; err != nil {
		return respondError(c, err)
	}
	if existing > 0 {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Username or email already exists",
		})
	}

	hashedPassword, err := utils.HashPassword(req.Password)
	if err != nil {
		return respondError(c, err)
	}

	user := models.User{
		Username: req.Username,
		Password: hashedPassword,
		FullName: utils.SanitizeString(req.FullName),
		Email:    req.Email,
		Phone:    req.Phone,
		Role:     req.Role,
		Status:   "active",
	}
	if err := ac.DB.Create(&user).Error; err != nil {
		return respondError(c, err)
	}

	middleware.LogActivity(c, "CREATE", "users", user.ID, fiber.Map{
		"username": user.Username,
		"role":     user.Role,
	})

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "User created successfully",
		"user":    userPayload(user),
	})
}

// GetProfile returns the current user's profile
func (ac *AuthController) GetProfile(c *fiber.Ctx) error {
	user, err := middleware.GetCurrentUser(c)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"user": userPayload(*user)})
}

// ChangePassword changes the current user's password
func (ac *AuthController) ChangePassword(c *fiber.Ctx) error {
	user, err := middleware.GetCurrentUser(c)
	if err != nil {
		return err
	}
	var req ChangePasswordRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}

	if err := utils.CheckPassword(req.CurrentPassword, user.Password); err != nil {
		return badRequest(c, "Current password is incorrect")
	}

	hashedPassword, err := utils.HashPassword(req.NewPassword)
	if err != nil {
		return respondError(c, err)
	}
	if err := ac.DB.Model(user).Update("password", hashedPassword).Error; err != nil {
		return respondError(c, err)
	}

	middleware.LogActivity(c, "UPDATE", "users", user.ID, fiber.Map{"action": "change_password"})
	return c.JSON(fiber.Map{"message": "Password changed successfully"})
}
