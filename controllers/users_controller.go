package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shoplite/usersbackend/dto"
	"github.com/shoplite/usersbackend/service"
	"github.com/shoplite/usersbackend/utils"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// GET /admin/users
func ListUsers(accounts *service.Accounts) gin.HandlerFunc {
	return func(c *gin.Context) {
		maxLimit, defaultLimit := utils.GetDefaultQueryLimits()

		page := utils.ParseIntDefault(c.Query("page"), 1)
		limit := utils.ParseIntDefault(c.Query("limit"), defaultLimit)
		if page < 1 {
			page = 1
		}
		if limit < 1 {
			limit = defaultLimit
		}
		if limit > maxLimit {
			limit = maxLimit
		}

		users, total, err := accounts.AdminListUsers(c.Request.Context(), page, limit)
		if err != nil {
			writeServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"items": users,
			"page":  page,
			"limit": limit,
			"total": total,
		})
	}
}

// GET /admin/users/:id
func GetUser(accounts *service.Accounts) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := bson.ObjectIDFromHex(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
			return
		}

		user, err := accounts.AdminGetUser(c.Request.Context(), id)
		if err != nil {
			writeServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"user": user})
	}
}

// PATCH /admin/users/:id
func UpdateUser(accounts *service.Accounts) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := bson.ObjectIDFromHex(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
			return
		}

		var body dto.AdminUpdateUserDTO
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		user, err := accounts.AdminUpdateUser(c.Request.Context(), id, body)
		if err != nil {
			writeServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"user": user})
	}
}

// PATCH /admin/users/:id/status
func ToggleUserStatus(accounts *service.Accounts) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := bson.ObjectIDFromHex(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
			return
		}

		var body dto.ToggleStatusDTO
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		user, err := accounts.AdminSetActive(c.Request.Context(), id, *body.IsActive)
		if err != nil {
			writeServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"user": user})
	}
}
