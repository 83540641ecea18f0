package controllers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shoplite/usersbackend/service"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// writeServiceError maps lifecycle errors onto HTTP statuses in one place.
// Anything unrecognized is logged and collapsed into a generic 500 so
// internal failures never leak verbatim.
func writeServiceError(c *gin.Context, err error) {
	var verr *service.ValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": verr.Fields})
		return
	}

	var nerr *service.NotificationError
	if errors.As(err, &nerr) {
		slog.Warn("notification failure", "kind", string(nerr.Kind), "err", nerr.Err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not send email, please try again later"})
		return
	}

	switch {
	case errors.Is(err, service.ErrInvalidRequest),
		errors.Is(err, service.ErrInvalidOrExpiredToken):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrUnverified),
		errors.Is(err, service.ErrDeactivated):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrConflict),
		errors.Is(err, service.ErrStatusUnchanged):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		slog.Error("request failed", "path", c.FullPath(), "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "something went wrong"})
	}
}

// currentUserID pulls the authenticated user id set by the auth middleware.
func currentUserID(c *gin.Context) (bson.ObjectID, bool) {
	raw, ok := c.Get("userID")
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing auth context"})
		return bson.ObjectID{}, false
	}
	id, err := bson.ObjectIDFromHex(raw.(string))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid auth context"})
		return bson.ObjectID{}, false
	}
	return id, true
}
