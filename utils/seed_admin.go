package utils

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/shoplite/usersbackend/models"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// SeedAdminUser upserts the bootstrap admin account from ADMIN_EMAIL /
// ADMIN_PASSWORD. The admin is created verified and active so it can log in
// without a working mail setup.
func SeedAdminUser(ctx context.Context, usersCol *mongo.Collection) error {
	email := NormalizeEmail(os.Getenv("ADMIN_EMAIL"))
	pass := os.Getenv("ADMIN_PASSWORD")

	if email == "" || pass == "" {
		return fmt.Errorf("missing ADMIN_EMAIL or ADMIN_PASSWORD env vars")
	}

	hash, err := HashPassword(pass)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	now := time.Now().UTC()

	// Only insert if it doesn't exist
	filter := bson.M{"email": email}
	update := bson.M{
		"$setOnInsert": bson.M{
			"email":             email,
			"passwordHash":      hash,
			"role":              models.RoleAdmin,
			"isActive":          true,
			"isVerified":        true,
			"passwordChangedAt": now,
			"createdAt":         now,
			"updatedAt":         now,
		},
	}

	opts := options.UpdateOne().SetUpsert(true)

	res, err := usersCol.UpdateOne(ctx, filter, update, opts)
	if err != nil {
		return fmt.Errorf("seed admin upsert failed: %w", err)
	}

	if res.UpsertedCount == 1 {
		slog.Info("admin user seeded", "email", email)
	} else {
		slog.Info("admin user already exists", "email", email)
	}

	return nil
}
