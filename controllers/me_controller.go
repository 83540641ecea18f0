package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shoplite/usersbackend/dto"
	"github.com/shoplite/usersbackend/service"
	"github.com/shoplite/usersbackend/utils"
)

// PUT /update-me
func UpdateMe(accounts *service.Accounts) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			return
		}

		var body dto.UpdateMeDTO
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		user, err := accounts.UpdateMe(c.Request.Context(), userID, body)
		if err != nil {
			writeServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"user": user})
	}
}

// PUT /update-my-password
func UpdateMyPassword(accounts *service.Accounts) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			return
		}

		var body dto.ChangeMyPasswordDTO
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := accounts.ChangePassword(c.Request.Context(), userID, body); err != nil {
			writeServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "password updated"})
	}
}

// PUT /update-my-photo
func UpdateMyPhoto(accounts *service.Accounts, v *utils.FileValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			return
		}

		fileHeader, err := c.FormFile("photo")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing photo file"})
			return
		}
		if _, err := v.ValidateFile(fileHeader); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx := c.Request.Context()
		gcs, bucket, err := utils.NewGCSClient(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create storage client"})
			return
		}
		defer gcs.Close()

		url, err := utils.UploadProfilePhotoToGCS(ctx, gcs, bucket, userID.Hex(), fileHeader)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "photo upload failed"})
			return
		}

		// Best effort cleanup of the previous photo.
		if old, err := accounts.AdminGetUser(ctx, userID); err == nil && old.Profile.PhotoURL != "" {
			if objectName, err := utils.ObjectNameFromGCSPublicURL(bucket, old.Profile.PhotoURL); err == nil {
				_ = utils.DeleteGCSObject(ctx, gcs, bucket, objectName)
			}
		}

		user, err := accounts.SetMyPhoto(ctx, userID, url)
		if err != nil {
			writeServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"user": user})
	}
}

// DELETE /delete-me deactivates the account, it never removes the document.
func DeleteMe(accounts *service.Accounts) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			return
		}

		if err := accounts.DeactivateMe(c.Request.Context(), userID); err != nil {
			writeServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "account deactivated"})
	}
}
