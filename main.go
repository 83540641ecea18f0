package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/shoplite/usersbackend/controllers"
	"github.com/shoplite/usersbackend/database"
	"github.com/shoplite/usersbackend/middleware"
	"github.com/shoplite/usersbackend/notifier"
	"github.com/shoplite/usersbackend/service"
	"github.com/shoplite/usersbackend/store"
	"github.com/shoplite/usersbackend/utils"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Error loading .env file")
	}

	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ctx := context.Background()
	usersCol := database.OpenCollection("users")

	userStore := store.NewMongo(usersCol)
	if err := userStore.EnsureIndexes(ctx); err != nil {
		log.Fatal(err)
	}
	if err := utils.SeedAdminUser(ctx, usersCol); err != nil {
		log.Fatal(err)
	}

	mailer, err := notifier.NewSMTP(notifier.SMTPConfig{
		Host:     os.Getenv("SMTP_HOST"),
		Port:     utils.ParseIntDefault(os.Getenv("SMTP_PORT"), 587),
		Username: os.Getenv("SMTP_USERNAME"),
		Password: os.Getenv("SMTP_PASSWORD"),
		From:     os.Getenv("SMTP_FROM"),
		FromName: os.Getenv("SMTP_FROM_NAME"),
		TLS:      os.Getenv("SMTP_TLS") != "false",
	}, os.Getenv("BASE_URL"))
	if err != nil {
		log.Fatal(err)
	}

	accounts := service.NewAccounts(userStore, mailer, logger)
	photoValidator := utils.NewImageValidator()

	r := gin.New()

	origins := os.Getenv("ALLOWED_ORIGINS")
	allowedOrigins := map[string]bool{}
	for _, origin := range strings.Split(origins, ",") {
		origin = strings.TrimSpace(origin)
		if origin != "" {
			allowedOrigins[origin] = true
		}
	}
	r.Use(cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool {
			return allowedOrigins[origin]
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
		})
	})

	r.POST("/register", controllers.Register(accounts))
	r.PUT("/verify-email/:token", controllers.VerifyEmail(accounts))
	r.POST("/resend-verification-email", controllers.ResendVerification(accounts))
	r.POST("/login", controllers.Login(accounts))
	r.POST("/forgotPassword", controllers.ForgotPassword(accounts))
	r.PUT("/resetPassword/:token", controllers.ResetPassword(accounts))

	me := r.Group("/")
	me.Use(middleware.AuthMiddleware())
	{
		me.PUT("/update-me", controllers.UpdateMe(accounts))
		me.PUT("/update-my-password", controllers.UpdateMyPassword(accounts))
		me.PUT("/update-my-photo", controllers.UpdateMyPhoto(accounts, photoValidator))
		me.DELETE("/delete-me", controllers.DeleteMe(accounts))
	}

	admin := r.Group("/admin")
	admin.Use(middleware.AuthMiddleware(), middleware.RequireAdmin())
	{
		admin.GET("/users", controllers.ListUsers(accounts))
		admin.GET("/users/:id", controllers.GetUser(accounts))
		admin.PATCH("/users/:id", controllers.UpdateUser(accounts))
		admin.PATCH("/users/:id/status", controllers.ToggleUserStatus(accounts))
	}

	// Server listens on 0.0.0.0:8080 by default
	r.Run()
}
