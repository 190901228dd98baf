package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/novadesk/novadesk-api/api/swagger"
	"github.com/novadesk/novadesk-api/internal/handler"
	"github.com/novadesk/novadesk-api/internal/middleware"
	"github.com/novadesk/novadesk-api/internal/models"
	"github.com/novadesk/novadesk-api/internal/repository"
	"github.com/novadesk/novadesk-api/internal/service"
	"github.com/novadesk/novadesk-api/pkg/cache"
	"github.com/novadesk/novadesk-api/pkg/config"
	"github.com/novadesk/novadesk-api/pkg/database"
	"github.com/novadesk/novadesk-api/pkg/jobs"
	"github.com/novadesk/novadesk-api/pkg/logger"
	"github.com/novadesk/novadesk-api/pkg/mailer"
	corsmiddleware "github.com/novadesk/novadesk-api/pkg/middleware/cors"
	reqidmiddleware "github.com/novadesk/novadesk-api/pkg/middleware/requestid"
	"github.com/novadesk/novadesk-api/pkg/security"
)

// @title NovaDesk API
// @version 1.0.0
// @description Customer records and incident tickets behind a session-security core
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close()

	dispatcher := jobs.NewDispatcher(jobs.DispatcherConfig{Logger: logr})
	dispatcher.Start(context.Background())
	defer dispatcher.Stop()

	var sender mailer.Sender
	if cfg.Mailer.Enabled {
		sender = mailer.NewSMTP(cfg.Mailer, logr)
	} else {
		sender = mailer.NewNoop(logr)
	}

	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	tokenRepo := repository.NewTokenRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	customerRepo := repository.NewCustomerRepository(db)
	ticketRepo := repository.NewTicketRepository(db)
	blacklistRepo := repository.NewBlacklistRepository(redisClient)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	metricsService := service.NewMetricsService()
	cacheService := service.NewCacheService(cacheRepo, metricsService, cfg.Cache.TTL, logr, cfg.Cache.Enabled)
	notifier := service.NewNotifier(sender, dispatcher, logr)

	hasher := security.NewPasswordHasher(cfg.Security.BcryptCost)

	authService := service.NewAuthService(service.AuthServiceDeps{
		Users:     userRepo,
		Tokens:    tokenRepo,
		Blacklist: blacklistRepo,
		Audit:     auditRepo,
		Notifier:  notifier,
		Codec:     service.NewTokenService(cfg.JWT),
		Hasher:    hasher,
		Metrics:   metricsService,
		Validator: validate,
		Logger:    logr,
	}, cfg.Security, cfg.JWT)
	userService := service.NewUserService(userRepo, notifier, validate, logr)
	customerService := service.NewCustomerService(customerRepo, auditRepo, cacheService, validate, logr)
	ticketService := service.NewTicketService(ticketRepo, auditRepo, validate, logr)

	authHandler := handler.NewAuthHandler(authService)
	userHandler := handler.NewUserHandler(userService, authService)
	customerHandler := handler.NewCustomerHandler(customerService)
	ticketHandler := handler.NewTicketHandler(ticketService)
	metricsHandler := handler.NewMetricsHandler(metricsService, map[string]handler.Pinger{
		"database": db.PingContext,
		"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
	})

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsService))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/register", authHandler.Register)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/forgot-password", authHandler.ForgotPassword)
		auth.POST("/reset-password", authHandler.ResetPassword)

		authed := auth.Group("", middleware.JWT(authService))
		authed.POST("/logout", authHandler.Logout)
		authed.POST("/logout-all", authHandler.LogoutAll)
		authed.POST("/change-password", authHandler.ChangePassword)
		authed.GET("/me", authHandler.Me)
	}

	users := api.Group("/users", middleware.JWT(authService))
	{
		users.GET("", middleware.RequireRoles(models.RoleAdmin), userHandler.List)
		users.GET("/:id", middleware.SelfOrRoles(models.RoleAdmin), userHandler.Get)
		users.PUT("/:id", middleware.SelfOrRoles(models.RoleAdmin), userHandler.UpdateProfile)
		users.PATCH("/:id/active", middleware.RequireRoles(models.RoleAdmin), userHandler.SetActive)
		users.DELETE("/:id", middleware.RequireRoles(models.RoleAdmin), userHandler.Delete)
	}

	customers := api.Group("/customers", middleware.JWT(authService))
	{
		customers.GET("", customerHandler.List)
		customers.GET("/:id", customerHandler.Get)
		customers.POST("", customerHandler.Create)
		customers.PUT("/:id", customerHandler.Update)
		customers.DELETE("/:id", middleware.RequireRoles(models.RoleAdmin), customerHandler.Deactivate)
	}

	tickets := api.Group("/tickets", middleware.JWT(authService))
	{
		tickets.GET("", ticketHandler.List)
		tickets.GET("/:id", ticketHandler.Get)
		tickets.POST("", ticketHandler.Create)
		tickets.PUT("/:id", ticketHandler.Update)
		tickets.PATCH("/:id/assign", ticketHandler.Assign)
		tickets.PATCH("/:id/status", ticketHandler.Transition)
		tickets.DELETE("/:id", middleware.RequireRoles(models.RoleAdmin), ticketHandler.Delete)
	}

	stopSweep := startTokenSweep(tokenRepo, cfg.Maintenance.SweepInterval, logr)
	defer stopSweep()

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}

// startTokenSweep periodically deletes expired refresh and reset tokens.
func startTokenSweep(tokens *repository.TokenRepository, interval time.Duration, logr *zap.Logger) func() {
	if interval <= 0 {
		interval = time.Hour
	}
	done := make(chan struct{})

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				purged, err := tokens.PurgeExpired(ctx, time.Now().UTC())
				cancel()
				if err != nil {
					logr.Warn("token sweep failed", zap.Error(err))
					continue
				}
				if purged > 0 {
					logr.Info("token sweep completed", zap.Int64("purged", purged))
				}
			}
		}
	}()

	return func() { close(done) }
}
