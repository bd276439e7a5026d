package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ssm"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	// Database
	DBDriver   string // mysql | postgres
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string

	// JWT
	JWTSecret    string
	JWTExpiresIn time.Duration

	// AWS S3
	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	S3BucketName       string

	// Server
	Port   string
	AppEnv string

	// File Upload
	MaxFileSize       int64
	AllowedExtensions string

	// Logging
	LogLevel       string
	LogArchiveDays int

	// Scheduling
	ConflictBefore  time.Duration
	ConflictAfter   time.Duration
	BusinessOpen    string
	BusinessClose   string
	DefaultTimezone string
	HolidayAPIURL   string
	HolidayCacheTTL time.Duration
	TutorLockTTL    time.Duration

	// Feature Toggles
	SkipMigrate     bool
	EnableScheduler bool
	SeedData        bool
}

func (c *Config) GetDSN() string {
	if c.DBDriver == "postgres" {
		return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable TimeZone=UTC",
			c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName)
	}
	return c.DBUser + ":" + c.DBPassword + "@tcp(" + c.DBHost + ":" + c.DBPort + ")/" + c.DBName + "?charset=utf8mb4&parseTime=True&loc=UTC"
}

var AppConfig *Config

func LoadConfig() {
	cfg, err := Load()
	if err != nil {
		logrus.Fatal(err)
	}
	AppConfig = cfg
}

// Load reads configuration from AWS SSM Parameter Store when USE_SSM=true,
// otherwise from the environment and an optional .env file.
func Load() (*Config, error) {
	useSSM := getEnv("USE_SSM", "false") == "true"

	var paramMap map[string]string

	// Stage & base path for SSM (allows multi-env without code changes)
	basePath := getEnv("SSM_BASE_PATH", "/classflow")
	stage := getEnv("STAGE", getEnv("APP_ENV", "production"))
	basePath = strings.TrimRight(basePath, "/")
	prefix := basePath + "/" + stage

	if useSSM {
		sess, err := session.NewSession(&aws.Config{Region: aws.String(getEnv("AWS_REGION", "ap-southeast-1"))})
		if err != nil {
			return nil, fmt.Errorf("failed to create AWS session: %w", err)
		}
		logrus.WithField("prefix", prefix).Info("Using AWS SSM Parameter Store")
		paramMap = fetchSSMParameters(ssm.New(sess), prefix)
	} else {
		if err := godotenv.Load(); err != nil {
			logrus.Warn(".env file not found, using environment variables")
		}
	}

	getVal := func(key, def string) string {
		if v, ok := paramMap[strings.ToUpper(key)]; ok && v != "" {
			return v
		}
		return getEnv(strings.ToUpper(key), def)
	}

	jwtExpires, err := ParseDuration(getVal("JWT_EXPIRES_IN", "24h"))
	if err != nil {
		return nil, fmt.Errorf("invalid JWT_EXPIRES_IN: %w", err)
	}
	maxFileSize, err := strconv.ParseInt(getVal("MAX_FILE_SIZE", "10485760"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_FILE_SIZE: %w", err)
	}
	conflictBefore, err := minutes(getVal("CONFLICT_BEFORE_MINUTES", "30"))
	if err != nil {
		return nil, fmt.Errorf("invalid CONFLICT_BEFORE_MINUTES: %w", err)
	}
	conflictAfter, err := minutes(getVal("CONFLICT_AFTER_MINUTES", "90"))
	if err != nil {
		return nil, fmt.Errorf("invalid CONFLICT_AFTER_MINUTES: %w", err)
	}
	holidayTTL, err := ParseDuration(getVal("HOLIDAY_CACHE_TTL", "7d"))
	if err != nil {
		return nil, fmt.Errorf("invalid HOLIDAY_CACHE_TTL: %w", err)
	}
	lockTTL, err := ParseDuration(getVal("TUTOR_LOCK_TTL", "10s"))
	if err != nil {
		return nil, fmt.Errorf("invalid TUTOR_LOCK_TTL: %w", err)
	}
	archiveDays, err := strconv.Atoi(getVal("LOG_ARCHIVE_DAYS", "90"))
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_ARCHIVE_DAYS: %w", err)
	}

	driver := strings.ToLower(getVal("DB_DRIVER", "mysql"))
	defaultPort := "3306"
	if driver == "postgres" {
		defaultPort = "5432"
	}

	cfg := &Config{
		DBDriver:   driver,
		DBHost:     getVal("DB_HOST", "localhost"),
		DBPort:     getVal("DB_PORT", defaultPort),
		DBUser:     getVal("DB_USER", "root"),
		DBPassword: getVal("DB_PASSWORD", ""),
		DBName:     getVal("DB_NAME", "classflow"),

		RedisHost:     getVal("REDIS_HOST", "localhost"),
		RedisPort:     getVal("REDIS_PORT", "6379"),
		RedisPassword: getVal("REDIS_PASSWORD", ""),

		JWTSecret:    getVal("JWT_SECRET", "your_super_secret_jwt_key"),
		JWTExpiresIn: jwtExpires,

		AWSRegion:          getVal("AWS_REGION", "ap-southeast-1"),
		AWSAccessKeyID:     getVal("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey: getVal("AWS_SECRET_ACCESS_KEY", ""),
		S3BucketName:       getVal("S3_BUCKET_NAME", "classflow-storage"),

		Port:   getVal("PORT", "3000"),
		AppEnv: getVal("APP_ENV", "development"),

		MaxFileSize:       maxFileSize,
		AllowedExtensions: getVal("ALLOWED_EXTENSIONS", "pdf,docx,pptx,xlsx,jpg,jpeg,png"),

		LogLevel:       getVal("LOG_LEVEL", "info"),
		LogArchiveDays: archiveDays,

		ConflictBefore:  conflictBefore,
		ConflictAfter:   conflictAfter,
		BusinessOpen:    getVal("BUSINESS_OPEN", "09:00"),
		BusinessClose:   getVal("BUSINESS_CLOSE", "21:00"),
		DefaultTimezone: getVal("DEFAULT_TIMEZONE", "Asia/Bangkok"),
		HolidayAPIURL:   getVal("HOLIDAY_API_URL", "https://www.myhora.com/calendar/ical/holiday.aspx?%d.json"),
		HolidayCacheTTL: holidayTTL,
		TutorLockTTL:    lockTTL,

		SkipMigrate:     strings.ToLower(getVal("SKIP_MIGRATE", "false")) == "true",
		EnableScheduler: strings.ToLower(getVal("ENABLE_SCHEDULER", "true")) == "true",
		SeedData:        strings.ToLower(getVal("SEED_DATA", "false")) == "true",
	}

	if err := validateConfig(cfg, useSSM); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseDuration accepts time.ParseDuration syntax plus "Nd" and "Nw" shorthands.
func ParseDuration(value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err == nil {
		return d, nil
	}
	s := strings.TrimSpace(strings.ToLower(value))
	if len(s) > 1 {
		unit := s[len(s)-1]
		if n, convErr := strconv.Atoi(s[:len(s)-1]); convErr == nil {
			switch unit {
			case 'd':
				return time.Duration(n) * 24 * time.Hour, nil
			case 'w':
				return time.Duration(n*7) * 24 * time.Hour, nil
			}
		}
	}
	return 0, err
}

func minutes(value string) (time.Duration, error) {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("must not be negative, got %d", n)
	}
	return time.Duration(n) * time.Minute, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// fetchSSMParameters reads all parameters under prefix and returns a map with UPPERCASE keys.
func fetchSSMParameters(client *ssm.SSM, prefix string) map[string]string {
	out := make(map[string]string)
	next := aws.String("")
	for {
		in := &ssm.GetParametersByPathInput{
			Path:           aws.String(prefix),
			WithDecryption: aws.Bool(true),
			Recursive:      aws.Bool(true),
		}
		if *next != "" {
			in.NextToken = next
		}
		resp, err := client.GetParametersByPath(in)
		if err != nil {
			logrus.WithFields(logrus.Fields{"prefix": prefix, "error": err}).Warn("unable to fetch SSM parameters")
			break
		}
		for _, p := range resp.Parameters {
			if p.Name == nil || p.Value == nil {
				continue
			}
			name := *p.Name
			key := name[strings.LastIndex(name, "/")+1:]
			if key == "" {
				continue
			}
			out[strings.ToUpper(key)] = *p.Value
		}
		if resp.NextToken == nil || *resp.NextToken == "" {
			break
		}
		next = resp.NextToken
	}
	return out
}

func validateConfig(c *Config, usedSSM bool) error {
	if c.DBDriver != "mysql" && c.DBDriver != "postgres" {
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	if _, err := time.LoadLocation(c.DefaultTimezone); err != nil {
		return fmt.Errorf("invalid DEFAULT_TIMEZONE %q: %w", c.DefaultTimezone, err)
	}
	// Only enforce stricter rules in production
	if strings.ToLower(c.AppEnv) != "production" {
		return nil
	}
	required := map[string]string{
		"DB_PASSWORD": c.DBPassword,
		"JWT_SECRET":  c.JWTSecret,
	}
	for k, v := range required {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("missing required secret %s in production (SSM=%v)", k, usedSSM)
		}
	}
	if len(c.JWTSecret) < 16 {
		return fmt.Errorf("JWT_SECRET too short (min 16 chars)")
	}
	return nil
}
