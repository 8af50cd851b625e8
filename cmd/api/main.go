package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/presencegate/server/internal/config"
	"github.com/presencegate/server/internal/handlers"
	"github.com/presencegate/server/internal/kv"
	"github.com/presencegate/server/internal/middleware"
	"github.com/presencegate/server/internal/pipeline"
	"github.com/presencegate/server/internal/services"
	"github.com/presencegate/server/internal/storage"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.toml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Printf("Warning: failed to load config from %s: %v", configPath, err)
		log.Println("Using default configuration")
		cfg = config.DefaultConfig()
	}

	serverSecret := []byte(os.Getenv("SERVER_SECRET"))
	if len(serverSecret) == 0 {
		log.Fatal("SERVER_SECRET must be set")
	}

	// Initialize database
	db, err := storage.New(context.Background(), cfg.Database.DatabaseURL(), cfg.Database.MaxConns)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Run migrations
	migrationsPath := os.Getenv("MIGRATIONS_PATH")
	if migrationsPath == "" {
		execPath, err := os.Executable()
		if err == nil {
			execDir := filepath.Dir(execPath)
			migrationsPath = filepath.Join(execDir, "..", "..", "migrations")
		} else {
			migrationsPath = "./migrations"
		}
	}
	if err := db.Migrate(migrationsPath); err != nil {
		log.Printf("Warning: migrations failed: %v", err)
	}

	// Initialize the shared key/value store
	store, err := kv.NewRedisStore(context.Background(), cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	defer store.Close()

	// Initialize services
	keyService := services.NewSessionKeyService(store, time.Duration(cfg.Attendance.SessionKeyTTLHours)*time.Hour)
	qrStateService := services.NewQRStateService(store, time.Duration(cfg.Attendance.QRTTLSeconds)*time.Second)
	studentService := services.NewStudentStateService(store)
	poolService := services.NewPoolService(store, cfg.Attendance.MinPoolSize, cfg.Attendance.MaxRounds)
	penaltyService := services.NewPenaltyService(store, time.Duration(cfg.Attendance.EnrollCooldownHours)*time.Hour, cfg.Attendance.MaxEnrollmentsPerDay)
	sessionService := services.NewSessionService(db, studentService, keyService, poolService, qrStateService, cfg.Attendance.MaxRounds, cfg.Attendance.MaxAttempts)
	instructorService := services.NewInstructorService(db)
	attemptRepo := services.NewAttemptRepository(db)
	deviceDirectory := services.NewDeviceDirectory(db)
	restrictionDirectory := services.NewRestrictionDirectory(db)
	scorer := services.NewCertaintyScorer()

	// Build the validation pipeline
	scanPipeline := pipeline.New(pipeline.Deps{
		Keys:         keyService,
		QRStates:     qrStateService,
		Students:     studentService,
		Attempts:     attemptRepo,
		Scorer:       scorer,
		ServerSecret: serverSecret,
		TOTPStep:     time.Duration(cfg.Attendance.TOTPStepSeconds) * time.Second,
		TOTPSkew:     cfg.Attendance.TOTPSkewSteps,
	})

	// Set up HTTP server
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(gin.Logger())

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	// Health check
	router.GET("/health", func(c *gin.Context) {
		if err := db.Health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	// Initialize handlers
	jwtSecret := os.Getenv("JWT_SECRET")
	opsKey := os.Getenv("OPS_KEY")
	rotationTick := time.Duration(cfg.Attendance.TOTPStepSeconds) * time.Second

	authHandler := handlers.NewAuthHandler(instructorService, jwtSecret)
	scanHandler := handlers.NewScanHandler(scanPipeline)
	sessionHandler := handlers.NewSessionHandler(sessionService, poolService, attemptRepo, rotationTick)
	deviceHandler := handlers.NewDeviceHandler(keyService, keyService, deviceDirectory, restrictionDirectory, penaltyService)

	// API routes
	api := router.Group("/api/v1")
	{
		auth := api.Group("/auth")
		{
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", authHandler.Login)
		}

		devices := api.Group("/devices")
		{
			devices.POST("/login", deviceHandler.Login)
			devices.POST("/logout", deviceHandler.Logout)
			devices.POST("/enroll-gate", deviceHandler.EnrollGate)
			devices.GET("/:id/status", deviceHandler.Status)
		}

		api.POST("/scan", scanHandler.Submit)

		sessions := api.Group("/sessions")
		{
			sessions.POST("", middleware.JWTMiddleware(jwtSecret), sessionHandler.Create)
			sessions.POST("/:id/students", middleware.JWTMiddleware(jwtSecret), sessionHandler.RegisterStudent)
			sessions.GET("/:id/pool", middleware.JWTMiddleware(jwtSecret), sessionHandler.Stats)
			sessions.GET("/:id/results", middleware.JWTMiddleware(jwtSecret), sessionHandler.Results)
			sessions.GET("/:id/registrations/:regId", middleware.JWTMiddleware(jwtSecret), sessionHandler.RegistrationDetail)
			sessions.GET("/:id/feed", sessionHandler.Feed)
			sessions.POST("/:id/balance", middleware.OpsAuthMiddleware(opsKey), sessionHandler.Balance)
			sessions.POST("/:id/fakes", middleware.OpsAuthMiddleware(opsKey), sessionHandler.InjectFakes)
		}
	}

	// Start HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Server forced to shutdown: %v", err)
		}
	}()

	log.Printf("Presence gateway starting on %s:%d", cfg.Server.Host, cfg.Server.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Failed to start server: %v", err)
	}

	log.Println("Server exited")
}
