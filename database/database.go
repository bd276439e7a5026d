package database

import (
	"context"
	"fmt"
	"time"

	"classflow_go/config"
	"classflow_go/models"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB
var RedisClient *redis.Client

// Connect initializes the database and Redis connections
func Connect() {
	connectDatabase()
	connectRedis()
}

// Dialector picks the gorm driver for the configured DB_DRIVER.
func Dialector(cfg *config.Config) gorm.Dialector {
	if cfg.DBDriver == "postgres" {
		return postgres.Open(cfg.GetDSN())
	}
	return mysql.Open(cfg.GetDSN())
}

func connectDatabase() {
	cfg := config.AppConfig

	var gormLogger logger.Interface
	if cfg.AppEnv == "development" {
		gormLogger = logger.Default.LogMode(logger.Info)
	} else {
		gormLogger = logger.Default.LogMode(logger.Silent)
	}

	// Retry logic for transient tunnel issues
	var err error
	for attempt := 1; attempt <= 8; attempt++ {
		DB, err = gorm.Open(Dialector(cfg), &gorm.Config{
			Logger:  gormLogger,
			NowFunc: func() time.Time { return time.Now().UTC() },
		})
		if err == nil {
			break
		}
		logrus.WithFields(logrus.Fields{"attempt": attempt, "driver": cfg.DBDriver}).WithError(err).Warn("Database connect attempt failed")
		time.Sleep(time.Duration(attempt*attempt) * 300 * time.Millisecond)
	}
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database after retries")
	}

	logrus.WithField("driver", cfg.DBDriver).Info("Database connected successfully")

	sqlDB, err := DB.DB()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to get database instance")
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(55 * time.Minute)

	if cfg.SkipMigrate {
		logrus.Info("SKIP_MIGRATE=true, skipping auto migration")
		return
	}
	if err := AutoMigrate(DB); err != nil {
		logrus.WithError(err).Fatal("Auto migration failed")
	}
	logrus.Info("Database migration completed successfully")
}

// Models lists every table owned by the service, in dependency order.
func Models() []interface{} {
	return []interface{}{
		&models.User{},
		&models.Course{},
		&models.CurriculumTopic{},
		&models.Batch{},
		&models.BatchSlot{},
		&models.Session{},
		&models.Enrollment{},
		&models.BatchMaterial{},
		&models.ActivityLog{},
		&models.LogArchive{},
	}
}

// AutoMigrate performs automatic database migration
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}

func connectRedis() {
	RedisClient = redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", config.AppConfig.RedisHost, config.AppConfig.RedisPort),
		Password: config.AppConfig.RedisPassword,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := RedisClient.Ping(ctx).Result(); err != nil {
		logrus.WithError(err).Warn("Redis connection failed; continuing without tutor locks, holiday cache and log queue")
		RedisClient.Close()
		RedisClient = nil
		return
	}

	logrus.Info("Redis connected successfully")
}

// GetRedisClient returns the Redis client instance
func GetRedisClient() *redis.Client {
	return RedisClient
}

// GetDB returns the database instance
func GetDB() *gorm.DB {
	return DB
}

// Close closes the database and Redis connections
func Close() {
	if RedisClient != nil {
		if err := RedisClient.Close(); err != nil {
			logrus.WithError(err).Warn("Error closing Redis connection")
		}
	}
	if DB == nil {
		return
	}
	sqlDB, err := DB.DB()
	if err != nil {
		logrus.WithError(err).Error("Error getting database instance")
		return
	}
	if err := sqlDB.Close(); err != nil {
		logrus.WithError(err).Error("Error closing database connection")
		return
	}
	logrus.Info("Database connection closed")
}
