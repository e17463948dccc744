package main

import (
	"context"
	"log"
	"time"

	_ "github.com/Almanaei/cmsvs-sub000/api/swagger" // swagger docs
	"github.com/Almanaei/cmsvs-sub000/internal/config"
	"github.com/Almanaei/cmsvs-sub000/internal/database"
	"github.com/Almanaei/cmsvs-sub000/internal/handler"
	"github.com/Almanaei/cmsvs-sub000/internal/idgen"
	"github.com/Almanaei/cmsvs-sub000/internal/middleware"
	"github.com/Almanaei/cmsvs-sub000/internal/repository"
	"github.com/Almanaei/cmsvs-sub000/internal/service"
	"github.com/Almanaei/cmsvs-sub000/internal/storage"
	"github.com/Almanaei/cmsvs-sub000/internal/websocket"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
)

// @title           CMSVS Licensing Workflow API
// @version         1.0
// @description     Civil defense licensing requests with activity tracking and achievements.
// @host            localhost:8080
// @BasePath        /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	if err := godotenv.Load("configs/.env"); err != nil {
		log.Println("No configs/.env file found or error loading it")
	}

	cfg := config.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Logger init failed: %v", err)
	}
	defer logger.Sync()

	db, err := database.NewConnection(cfg)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	logger.Info("connected to PostgreSQL")

	store, err := storage.NewStore(cfg.UploadDirectory, cfg.MaxFileSize, cfg.AllowedFileTypes, logger)
	if err != nil {
		logger.Fatal("upload storage init failed", zap.Error(err))
	}

	// Sweep interrupted uploads left behind by a previous crash, then hourly.
	store.SweepTemp(time.Hour)
	go func() {
		for range time.Tick(time.Hour) {
			store.SweepTemp(time.Hour)
		}
	}()

	// Set up WebSocket Hub
	wsHub := websocket.NewHub(logger)
	go wsHub.Run()

	// Set up dependencies (Repository -> Service -> Handler)
	txManager := repository.NewTransactionManager(db)
	userRepo := repository.NewUserRepository(db)
	requestRepo := repository.NewRequestRepository(db)
	fileRepo := repository.NewFileRepository(db)
	activityRepo := repository.NewActivityRepository(db)

	activityService := service.NewActivityService(db, activityRepo, logger)
	userService := service.NewUserService(userRepo, activityService, cfg.JWTSecret, logger)
	achievementService := service.NewAchievementService(db, logger)
	requestService := service.NewRequestService(
		txManager, requestRepo, fileRepo,
		idgen.NewGenerator(cfg.RequestCounterWrap), store,
		activityService, achievementService, logger,
	)
	requestService.SetBroadcaster(wsHub)

	ctx := context.Background()
	if err := achievementService.SeedDefaults(ctx); err != nil {
		logger.Fatal("achievement seeding failed", zap.Error(err))
	}
	if err := userService.EnsureAdmin(ctx, cfg.AdminUsername, cfg.AdminEmail, cfg.AdminPassword); err != nil {
		logger.Fatal("admin bootstrap failed", zap.Error(err))
	}

	// Initialize Handlers
	userHandler := handler.NewUserHandler(userService, store)
	requestHandler := handler.NewRequestHandler(requestService, userService)
	activityHandler := handler.NewActivityHandler(activityService, userService)
	achievementHandler := handler.NewAchievementHandler(achievementService, userService)

	// Set up Gin Router
	router := gin.Default()

	// CORS configuration
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"http://localhost:5173", "http://127.0.0.1:5173"}
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Accept"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	// Swagger route
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "OK"})
	})

	// WebSocket endpoint
	router.GET("/ws", func(c *gin.Context) {
		websocket.ServeWs(wsHub, c, middleware.GetJWTSecret())
	})

	// Register API Routes
	api := router.Group("")
	userHandler.RegisterRoutes(api)
	requestHandler.RegisterRoutes(api)
	activityHandler.RegisterRoutes(api)
	achievementHandler.RegisterRoutes(api)

	logger.Info("server listening", zap.String("port", cfg.Port))
	if err := router.Run(":" + cfg.Port); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}
