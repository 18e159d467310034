package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	config "fleet-console-backend/config"
	backend "fleet-console-backend/internal/services"
	"fleet-console-backend/middleware"
	"fleet-console-backend/tasks"
	"fleet-console-backend/token"
	"fleet-console-backend/utils"

	// Job uploads
	jobupload_controllers "fleet-console-backend/jobuploads/controllers"
	jobupload_repositories "fleet-console-backend/jobuploads/repositories"
	jobupload_routes "fleet-console-backend/jobuploads/routes"
	jobupload_services "fleet-console-backend/jobuploads/services"

	// Reference data
	reference_controllers "fleet-console-backend/reference/controllers"
	reference_routes "fleet-console-backend/reference/routes"
	reference_services "fleet-console-backend/reference/services"

	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	config.LoadEnv()
	config.InitLogger(config.GetEnvDefault("LOG_DIR", "logs"), config.GetEnvBool("APP_DEBUG", false))
	defer config.Logger.Sync()

	ctx := context.Background()
	port := config.GetEnvDefault("PORT", "8080")

	tokenMaker, err := token.NewPasetoMaker(config.GetEnv("TOKEN_SYMMETRIC_KEY"))
	if err != nil {
		config.Logger.Fatal("Cannot create token maker", zap.Error(err))
	}

	// Fleet REST backend
	backendURL := config.GetEnv("BACKEND_BASE_URL")
	if backendURL == "" {
		backendURL = "http://localhost:8000"
		config.Logger.Warn("BACKEND_BASE_URL not set, using default", zap.String("url", backendURL))
	}
	backendCfg := backend.DefaultBackendConfig(backendURL)
	backendCfg.Timeout = config.GetEnvDuration("BACKEND_TIMEOUT", backendCfg.Timeout)
	backendCfg.RateLimitRPS = config.GetEnvInt("BACKEND_RATE_LIMIT_RPS", backendCfg.RateLimitRPS)
	backendCfg.UploadPath = config.GetEnvDefault("BACKEND_UPLOAD_PATH", backendCfg.UploadPath)
	backendCfg.TemplatePath = config.GetEnvDefault("BACKEND_TEMPLATE_PATH", backendCfg.TemplatePath)
	backendCfg.RevalidatePath = config.GetEnvDefault("BACKEND_REVALIDATE_PATH", backendCfg.RevalidatePath)
	backendCfg.ValidateRowPath = config.GetEnvDefault("BACKEND_VALIDATE_ROW_PATH", backendCfg.ValidateRowPath)
	backendCfg.ConfirmPath = config.GetEnvDefault("BACKEND_CONFIRM_PATH", backendCfg.ConfirmPath)

	backendClient, err := backend.NewBackendClient(backendCfg, config.Logger.Named("backend"))
	if err != nil {
		config.Logger.Fatal("Cannot create backend client", zap.Error(err))
	}

	// Database
	db := config.ConfigureDatabase()
	batchRepo := jobupload_repositories.NewUploadBatchRepository(db)

	// Redis: shared upload locks and the report queue. Without it the
	// console runs as a single replica with in-process locks and no e-mail.
	var locker jobupload_services.BucketLocker = jobupload_services.NewLocalLocker()
	lockScope := jobupload_services.LockPerSession
	var (
		reportQueue *tasks.ReportQueue
		asynqServer *asynq.Server
		redisClient *redis.Client
	)
	redisAddr := config.GetEnv("REDIS_ADDRESS")
	redisPassword := config.GetEnv("REDIS_PASSWORD")
	if redisAddr == "" {
		config.Logger.Warn("REDIS_ADDRESS not set, using in-process upload locks and disabling e-mail reports")
	} else {
		redisClient, err = config.InitRedisServer(ctx, redisAddr, redisPassword)
		if err != nil {
			config.Logger.Fatal("Cannot connect to redis", zap.String("addr", redisAddr), zap.Error(err))
		}
		defer redisClient.Close()

		locker = jobupload_services.NewRedisLocker(redisClient)
		lockScope = jobupload_services.LockScope(config.GetEnvDefault("UPLOAD_LOCK_SCOPE", string(jobupload_services.LockPerOperator)))

		asynqRedisOpt := asynq.RedisClientOpt{Addr: redisAddr, Password: redisPassword, DB: 0}
		asynqClient := asynq.NewClient(asynqRedisOpt)
		defer asynqClient.Close()
		reportQueue = tasks.NewReportQueue(asynqClient, "default")

		utils.InitializeMailer()
		if utils.MailerReady() {
			asynqServer = asynq.NewServer(asynqRedisOpt, asynq.Config{
				Concurrency: config.GetEnvInt("REPORT_WORKERS", 2),
				Logger:      config.Logger.Named("asynq").Sugar(),
			})
			reportHandler := tasks.NewErrorReportHandler(utils.SendEmail, batchRepo, config.Logger.Named("reports"))
			if err := asynqServer.Start(tasks.NewServeMux(reportHandler)); err != nil {
				config.Logger.Fatal("Cannot start report worker", zap.Error(err))
			}
		}
	}

	// Workflow services
	sessions := jobupload_services.NewSessionManager(config.GetEnvDuration("SESSION_IDLE_TTL", 2*time.Hour), config.Logger.Named("sessions"))
	referenceCache := reference_services.NewCache(backendClient, config.Logger.Named("reference"))
	sessions.OnEvict(referenceCache.Evict)

	uploaderCfg := jobupload_services.DefaultUploaderConfig()
	uploaderCfg.Scope = lockScope
	uploaderCfg.LockTTL = config.GetEnvDuration("UPLOAD_LOCK_TTL", 2*backendCfg.Timeout+time.Minute)

	jobUploadController := &jobupload_controllers.JobUploadController{
		Sessions:   sessions,
		Intake:     jobupload_services.NewIntake(backendClient, config.Logger.Named("intake")),
		Editor:     jobupload_services.NewEditor(backendClient, referenceCache, config.Logger.Named("editor")),
		Uploader:   jobupload_services.NewUploader(backendClient, locker, batchRepo, uploaderCfg, config.Logger.Named("uploader")),
		References: referenceCache,
		Reports:    reportQueue,
		Batches:    batchRepo,
	}
	referenceController := &reference_controllers.ReferenceController{
		Sessions: sessions,
		Cache:    referenceCache,
	}

	scheduler, err := utils.StartScheduledCleanup(sessions, config.GetEnvDuration("REPORT_FILE_TTL", 24*time.Hour))
	if err != nil {
		config.Logger.Fatal("Cannot schedule cleanup", zap.Error(err))
	}

	// HTTP
	app := fiber.New(fiber.Config{
		// Leave room for the multipart envelope around a 10 MiB file.
		BodyLimit: int(jobupload_services.MaxUploadSize) + 2*1024*1024,
	})
	middleware.InitCors(app, config.GetEnv("CORS_ALLOW_ORIGINS"))

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "sessions": sessions.Len()})
	})

	protected := middleware.ProtectedRoute(&middleware.AppContext{PasetoMaker: tokenMaker, Logger: config.Logger})
	jobupload_routes.JobUploadRouterInit(app, protected, jobUploadController)
	reference_routes.ReferenceRouterInit(app, protected, referenceController)

	go func() {
		config.Logger.Info("Server starting", zap.String("port", port))
		if err := app.Listen(":" + port); err != nil {
			config.Logger.Fatal("Server failed", zap.String("port", port), zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	config.Logger.Info("Shutting down")
	if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
		config.Logger.Error("Server shutdown failed", zap.Error(err))
	}
	<-scheduler.Stop().Done()
	if asynqServer != nil {
		asynqServer.Shutdown()
	}
}
