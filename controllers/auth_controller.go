package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shoplite/usersbackend/dto"
	"github.com/shoplite/usersbackend/service"
)

// POST /register
func Register(accounts *service.Accounts) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body dto.RegisterDTO
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		user, err := accounts.Register(c.Request.Context(), body)
		if err != nil {
			writeServiceError(c, err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"message": "account created, please check your inbox to verify your email",
			"user":    user,
		})
	}
}

// PUT /verify-email/:token
func VerifyEmail(accounts *service.Accounts) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := accounts.VerifyEmail(c.Request.Context(), c.Param("token"))
		if err != nil {
			writeServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"message": "email verified, you can now log in",
			"user":    user,
		})
	}
}

// POST /resend-verification-email
func ResendVerification(accounts *service.Accounts) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body dto.ResendVerificationDTO
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := accounts.ResendVerification(c.Request.Context(), body.Email); err != nil {
			writeServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "verification email sent"})
	}
}

// POST /login
func Login(accounts *service.Accounts) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body dto.LoginDTO
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		user, token, err := accounts.Login(c.Request.Context(), body)
		if err != nil {
			writeServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"user":        user,
			"accessToken": token,
		})
	}
}

// POST /forgotPassword
func ForgotPassword(accounts *service.Accounts) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body dto.ForgotPasswordDTO
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := accounts.ForgotPassword(c.Request.Context(), body.Email); err != nil {
			writeServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "password reset email sent"})
	}
}

// PUT /resetPassword/:token
func ResetPassword(accounts *service.Accounts) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body dto.ResetPasswordDTO
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		user, token, err := accounts.ResetPassword(c.Request.Context(), c.Param("token"), body.Password)
		if err != nil {
			writeServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"user":        user,
			"accessToken": token,
		})
	}
}
