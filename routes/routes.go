package routes

import (
	"classflow_go/controllers"
	"classflow_go/middleware"
	"classflow_go/services"
	"classflow_go/services/scheduling"
	"classflow_go/storage"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// Deps carries the services the controllers are built from.
type Deps struct {
	DB                *gorm.DB
	Redis             *redis.Client
	Scheduler         *scheduling.Scheduler
	Storage           *storage.StorageService
	LogArchive        *services.LogArchiveService
	Health            *services.HealthService
	DefaultTimezone   string
	MaxFileSize       int64
	AllowedExtensions []string
}

// SetupRoutes configures all application routes
func SetupRoutes(app *fiber.App, deps Deps) {
	// Initialize controllers
	authController := &controllers.AuthController{DB: deps.DB, Redis: deps.Redis}
	courseController := &controllers.CourseController{DB: deps.DB}
	batchController := &controllers.BatchController{DB: deps.DB, Scheduler: deps.Scheduler, DefaultTimezone: deps.DefaultTimezone}
	sessionController := &controllers.SessionController{DB: deps.DB, Scheduler: deps.Scheduler}
	enrollmentController := &controllers.EnrollmentController{DB: deps.DB}
	materialController := &controllers.MaterialController{
		DB:                deps.DB,
		Storage:           deps.Storage,
		MaxFileSize:       deps.MaxFileSize,
		AllowedExtensions: deps.AllowedExtensions,
	}
	tutorController := &controllers.TutorController{Scheduler: deps.Scheduler, DefaultTimezone: deps.DefaultTimezone}
	logController := &controllers.LogController{DB: deps.DB, Archive: deps.LogArchive}
	healthController := controllers.NewHealthController(deps.Health)

	app.Get("/health", healthController.GetHealthStatus)

	// API group
	api := app.Group("/api")
	api.Get("/health", healthController.GetHealthStatus)

	// Authentication routes (no middleware)
	auth := api.Group("/auth")
	auth.Post("/login", authController.Login)
	auth.Get("/profile", middleware.JWTMiddleware(), authController.GetProfile)

	// Protected routes (require authentication)
	protected := api.Group("/", middleware.JWTMiddleware())

	protected.Post("/auth/logout", authController.Logout)
	protected.Put("/profile/password", authController.ChangePassword)
	protected.Post("/users", middleware.RequireAdmin(), authController.Register)

	// Courses
	courses := protected.Group("/courses")
	courses.Get("/", courseController.GetCourses)
	courses.Get("/:id", courseController.GetCourse)
	courses.Post("/", middleware.RequireAdmin(), courseController.CreateCourse)

	// Batches
	batches := protected.Group("/batches")
	batches.Post("/preview", middleware.RequireAdmin(), batchController.PreviewBatch)
	batches.Post("/", middleware.RequireAdmin(), batchController.CreateBatch)
	batches.Get("/:id", batchController.GetBatch)
	batches.Get("/:id/sessions", batchController.GetBatchSessions)
	batches.Get("/:id/progress", batchController.GetBatchProgress)
	batches.Patch("/:id/status", middleware.RequireAdmin(), batchController.UpdateBatchStatus)
	batches.Post("/:id/reactivate", middleware.RequireAdmin(), batchController.ReactivateBatch)
	batches.Post("/:id/enrollments", middleware.RequireAdmin(), enrollmentController.AddEnrollments)
	batches.Get("/:id/enrollments", middleware.RequireTutorOrAbove(), enrollmentController.GetEnrollments)
	batches.Post("/:id/materials", middleware.RequireTutorOrAbove(), materialController.UploadMaterial)
	batches.Get("/:id/materials", materialController.GetMaterials)
	batches.Delete("/:id/materials/:materialId", middleware.RequireAdmin(), materialController.DeleteMaterial)

	// Sessions
	sessions := protected.Group("/sessions")
	sessions.Get("/:id", sessionController.GetSession)
	sessions.Post("/:id/attendance", middleware.RequireTutorOrAbove(), sessionController.MarkAttendance)
	sessions.Post("/:id/attendance/import", middleware.RequireTutorOrAbove(), sessionController.ImportAttendance)
	sessions.Post("/:id/cancel", middleware.RequireTutorOrAbove(), sessionController.CancelSession)
	sessions.Post("/:id/reschedule", middleware.RequireAdmin(), sessionController.RescheduleSession)
	sessions.Post("/:id/reschedule/cascade", middleware.RequireAdmin(), sessionController.RescheduleCascade)
	sessions.Post("/:id/reschedule/supersede", middleware.RequireAdmin(), sessionController.RescheduleSupersede)

	// Tutors
	protected.Get("/tutors/:id/sessions", middleware.RequireTutorOrAbove(), tutorController.GetTutorSessions)

	// Log management routes (admin only)
	logs := protected.Group("/logs", middleware.RequireAdmin())
	logs.Get("/", logController.GetLogs)
	logs.Get("/stats", logController.GetLogStats)
	logs.Get("/export", logController.ExportLogs)
	logs.Post("/flush-cache", logController.FlushCachedLogs)
	logs.Post("/archive", logController.ArchiveLogs)
	logs.Get("/archives", logController.GetArchives)
	logs.Get("/archives/:id/download", logController.DownloadArchive)
	logs.Get("/:id", logController.GetLog)
}
