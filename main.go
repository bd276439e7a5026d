package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"classflow_go/config"
	"classflow_go/database"
	"classflow_go/database/seeders"
	"classflow_go/middleware"
	"classflow_go/repository"
	"classflow_go/routes"
	"classflow_go/services"
	"classflow_go/services/scheduling"
	"classflow_go/storage"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/sirupsen/logrus"
)

const (
	serviceName    = "ClassFlow API"
	serviceVersion = "1.0.0"
)

func main() {
	setupLogging()
	config.LoadConfig()
	cfg := config.AppConfig
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logrus.SetLevel(level)
	}

	database.Connect()
	defer database.Close()
	db := database.GetDB()
	redisClient := database.GetRedisClient()

	if cfg.SeedData {
		if err := seeders.SeedAll(db); err != nil {
			logrus.WithError(err).Fatal("Failed to seed database")
		}
	}

	scheduler, err := buildScheduler(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Invalid scheduling configuration")
	}

	// A nil *S3ArchiveStore must not reach the interface field.
	var archiveStore services.ArchiveStore
	if s := services.NewS3ArchiveStore(context.Background(), cfg.AWSRegion, cfg.S3BucketName); s != nil {
		archiveStore = s
	}
	logArchive := services.NewLogArchiveService(db, redisClient, archiveStore)

	var materials *storage.StorageService
	if cfg.S3BucketName != "" {
		materials, err = storage.NewStorageService(storage.Options{
			Region:          cfg.AWSRegion,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
			Bucket:          cfg.S3BucketName,
		})
		if err != nil {
			logrus.WithError(err).Warn("Material storage disabled")
			materials = nil
		}
	}

	var scheduleManager *services.ScheduleManager
	if cfg.EnableScheduler {
		scheduleManager = services.NewScheduleManager(scheduler, logArchive, cfg.LogArchiveDays)
		if err := scheduleManager.Start(); err != nil {
			logrus.WithError(err).Fatal("Failed to start schedule manager")
		}
	}

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:      serviceName,
		ErrorHandler: customErrorHandler,
		BodyLimit:    int(cfg.MaxFileSize) + 1<<20,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(helmet.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,HEAD,PUT,DELETE,PATCH,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Custom middleware
	app.Use(middleware.LoggerMiddleware())
	app.Use(middleware.LogActivityMiddleware())

	routes.SetupRoutes(app, routes.Deps{
		DB:                db,
		Redis:             redisClient,
		Scheduler:         scheduler,
		Storage:           materials,
		LogArchive:        logArchive,
		Health:            services.NewHealthService(serviceName, serviceVersion, db, redisClient, cfg),
		DefaultTimezone:   cfg.DefaultTimezone,
		MaxFileSize:       cfg.MaxFileSize,
		AllowedExtensions: splitList(cfg.AllowedExtensions),
	})

	// 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":  "Route not found",
			"path":   c.Path(),
			"method": c.Method(),
		})
	})

	go func() {
		logrus.WithFields(logrus.Fields{
			"port":        cfg.Port,
			"environment": cfg.AppEnv,
			"version":     serviceVersion,
		}).Info("Server starting")
		if err := app.Listen(":" + cfg.Port); err != nil {
			logrus.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down")
	if scheduleManager != nil {
		scheduleManager.Stop()
	}
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logrus.WithError(err).Error("Server shutdown failed")
	}
	if _, err := logArchive.FlushCachedLogsToDatabase(context.Background()); err != nil {
		logrus.WithError(err).Warn("Final log flush failed")
	}
}

func buildScheduler(cfg *config.Config) (*scheduling.Scheduler, error) {
	hours, err := scheduling.ParseBusinessHours(cfg.BusinessOpen, cfg.BusinessClose)
	if err != nil {
		return nil, err
	}
	redisClient := database.GetRedisClient()
	opts := []scheduling.Option{
		scheduling.WithConflictWindow(scheduling.ConflictWindow{Before: cfg.ConflictBefore, After: cfg.ConflictAfter}),
		scheduling.WithBusinessHours(hours),
		scheduling.WithHolidayCalendar(services.NewHolidayService(cfg.HolidayAPIURL, redisClient, cfg.HolidayCacheTTL)),
		scheduling.WithLogger(logrus.WithField("component", "scheduler")),
	}
	if redisClient != nil {
		opts = append(opts, scheduling.WithTutorLocker(repository.NewRedisTutorLocker(redisClient, cfg.TutorLockTTL, 0)))
	}
	return scheduling.NewScheduler(repository.NewGormStore(database.GetDB()), opts...), nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// setupLogging configures the logging system
func setupLogging() {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(logrus.InfoLevel)

	// Log to file in production, stdout otherwise
	if os.Getenv("APP_ENV") != "production" {
		logrus.SetOutput(os.Stdout)
		return
	}
	if err := os.MkdirAll("logs", 0755); err != nil {
		logrus.WithError(err).Warn("Could not create logs directory")
		return
	}
	file, err := os.OpenFile("logs/app.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err == nil {
		logrus.SetOutput(file)
	}
}

// customErrorHandler handles application errors
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	logrus.WithFields(logrus.Fields{
		"error":  err.Error(),
		"path":   c.Path(),
		"method": c.Method(),
		"ip":     c.IP(),
		"status": code,
	}).Error("Request error")

	return c.Status(code).JSON(fiber.Map{
		"error":  message,
		"code":   code,
		"path":   c.Path(),
		"method": c.Method(),
	})
}
