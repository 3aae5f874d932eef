package main

import (
	"context"
	"fmt"
	"log"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/formwave/metaform-api/api/swagger"
	"github.com/formwave/metaform-api/internal/handler"
	"github.com/formwave/metaform-api/internal/middleware"
	"github.com/formwave/metaform-api/internal/models"
	"github.com/formwave/metaform-api/internal/repository"
	"github.com/formwave/metaform-api/internal/service"
	"github.com/formwave/metaform-api/pkg/authz"
	"github.com/formwave/metaform-api/pkg/cache"
	"github.com/formwave/metaform-api/pkg/config"
	"github.com/formwave/metaform-api/pkg/database"
	"github.com/formwave/metaform-api/pkg/export"
	"github.com/formwave/metaform-api/pkg/jobs"
	"github.com/formwave/metaform-api/pkg/logger"
	"github.com/formwave/metaform-api/pkg/mailer"
	corsmiddleware "github.com/formwave/metaform-api/pkg/middleware/cors"
	reqidmiddleware "github.com/formwave/metaform-api/pkg/middleware/requestid"
	"github.com/formwave/metaform-api/pkg/storage"
)

// @title Metaform API
// @version 1.0.0
// @description Form definitions, typed replies and reply-level authorization
// @BasePath /
// @schemes http

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
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, caching disabled", zap.Error(err))
		redisClient = nil
	}

	store, err := storage.NewLocalStorage(cfg.Storage.BaseDir)
	if err != nil {
		logr.Fatal("failed to prepare storage", zap.Error(err))
	}
	signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)

	var authzClient authz.Client = authz.NewHTTPClient(cfg.Authz, logr)
	authzClient = authz.NewCachedClient(authzClient, redisClient, cfg.Authz.PermittedUserTTL, logr)

	// Repositories.
	replyRepo := repository.NewReplyRepository(db)
	attachmentRepo := repository.NewAttachmentRepository(db)
	fieldRepo := repository.NewFieldValueRepository(db, attachmentRepo, nil)
	metaformRepo := repository.NewMetaformRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	// Services.
	metricsService := service.NewMetricsService()
	auditService := service.NewAuditService(auditRepo, logr)
	resolver := service.NewFieldResolver(fieldRepo, logr)
	extractor := service.NewPermissionContextExtractor()
	authzSync := service.NewAuthzSyncService(authzClient, replyRepo, metricsService, cfg.Authz, logr)
	notificationService := service.NewNotificationService(notificationRepo, resolver, authzSync, cfg.Notifications, logr)
	attachmentService := service.NewAttachmentService(attachmentRepo, store, redisClient, auditService, db, cfg.Attachments.MaxFileSizeBytes, logr)
	fieldRepo.SetPromoter(attachmentService)

	var sender mailer.Sender
	if cfg.SMTP.Host != "" {
		sender = mailer.NewSMTPSender(cfg.SMTP, logr)
	} else {
		sender = mailer.NewLogSender(logr)
	}
	emailQueue := jobs.NewQueue("email-notifications", func(ctx context.Context, job jobs.Job) error {
		event, ok := job.Payload.(models.NotificationEvent)
		if !ok {
			return fmt.Errorf("unexpected payload type %T", job.Payload)
		}
		return sender.Send(ctx, event.Recipient, event.Subject, event.Body)
	}, jobs.QueueConfig{
		Workers:    cfg.Notifications.WorkerConcurrency,
		BufferSize: cfg.Notifications.QueueBuffer,
		MaxRetries: cfg.Notifications.WorkerRetries,
		Logger:     logr,
	})
	queueCtx, stopQueue := context.WithCancel(context.Background())
	emailQueue.Start(queueCtx)
	defer func() {
		stopQueue()
		emailQueue.Stop()
	}()

	replyService := service.NewReplyService(replyRepo, fieldRepo, resolver, extractor, authzSync, notificationService, auditService, emailQueue, db, cfg.Replies, logr)
	metaformService := service.NewMetaformService(metaformRepo, notificationRepo, replyRepo, fieldRepo, auditRepo, authzSync, db, logr)
	exportService := service.NewExportService(replyRepo, resolver, map[string]service.DatasetRenderer{
		"pdf":  export.NewPDFExporter(),
		"xlsx": export.NewXLSXExporter(),
		"csv":  export.NewCSVExporter(),
	}, store, signer, auditService, db, logr)
	authService := service.NewAuthService(cfg.JWT, logr)

	// Handlers.
	metaformHandler := handler.NewMetaformHandler(metaformService, auditService)
	replyHandler := handler.NewReplyHandler(replyService, metaformService)
	exportHandler := handler.NewExportHandler(exportService, metaformService)
	attachmentHandler := handler.NewAttachmentHandler(attachmentService)
	metricsHandler := handler.NewMetricsHandler(metricsService)

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
	r.GET("/ready", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	admin := api.Group("/metaforms")
	admin.Use(middleware.JWT(authService), middleware.RequireRoles(models.RoleMetaformAdmin))
	{
		admin.POST("", metaformHandler.Create)
		admin.PUT("/:id", metaformHandler.Update)
		admin.DELETE("/:id", metaformHandler.Delete)
		admin.GET("/:id/audit", metaformHandler.AuditLog)
		admin.POST("/:id/notifications", metaformHandler.CreateNotification)
		admin.GET("/:id/notifications", metaformHandler.ListNotifications)
		admin.DELETE("/:id/notifications/:notificationId", metaformHandler.DeleteNotification)
		admin.GET("/:id/export", exportHandler.ExportReplies)
	}

	forms := api.Group("/metaforms")
	forms.Use(middleware.OptionalJWT(authService))
	{
		forms.GET("", metaformHandler.List)
		forms.GET("/:id", metaformHandler.Get)
		forms.POST("/:id/replies", replyHandler.Submit)
		forms.GET("/:id/replies/:replyId", replyHandler.Get)
	}

	authed := api.Group("/metaforms")
	authed.Use(middleware.JWT(authService))
	{
		authed.GET("/:id/replies", replyHandler.List)
		authed.DELETE("/:id/replies/:replyId", replyHandler.Delete)
		authed.GET("/:id/replies/:replyId/export", exportHandler.ExportReply)
		authed.GET("/:id/attachments/:attachmentId", attachmentHandler.Download)
	}

	api.POST("/attachments", middleware.OptionalJWT(authService), attachmentHandler.Upload)
	api.GET("/exports/download", exportHandler.Download)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Info("server starting", zap.String("addr", addr), zap.String("env", cfg.Env))
	if err := r.Run(addr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}
