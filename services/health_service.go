package services

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"classflow_go/config"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

const (
	overallStatusOK       = "ok"
	overallStatusDegraded = "degraded"
	overallStatusCritical = "critical"

	dependencyStatusUp       = "up"
	dependencyStatusDown     = "down"
	dependencyStatusDisabled = "disabled"

	defaultServiceName = "ClassFlow API"
	defaultVersion     = "1.0.0"
	defaultTimeout     = 1500 * time.Millisecond
)

// HealthService aggregates application health information for reporting endpoints.
type HealthService struct {
	serviceName string
	version     string
	startTime   time.Time
	timeout     time.Duration
	db          *gorm.DB
	redis       *redis.Client
	cfg         *config.Config
}

// HealthReport represents the JSON response for health endpoints.
type HealthReport struct {
	Status        string             `json:"status"`
	Service       string             `json:"service"`
	Version       string             `json:"version"`
	Environment   string             `json:"environment"`
	Time          time.Time          `json:"time"`
	UptimeSeconds float64            `json:"uptime_seconds"`
	UptimeHuman   string             `json:"uptime_human"`
	Dependencies  []DependencyStatus `json:"dependencies"`
	Metrics       HealthMetrics      `json:"metrics"`
	Flags         HealthFlags        `json:"flags"`
	System        HealthSystem       `json:"system"`
}

// DependencyStatus captures the health of a single external dependency.
type DependencyStatus struct {
	Name      string                 `json:"name"`
	Status    string                 `json:"status"`
	LatencyMs int64                  `json:"latency_ms"`
	Error     string                 `json:"error,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// HealthMetrics captures runtime metrics for diagnostics.
type HealthMetrics struct {
	Goroutines     int    `json:"goroutines"`
	HeapAllocBytes uint64 `json:"heap_alloc_bytes"`
	SysBytes       uint64 `json:"sys_bytes"`
	NumGC          uint32 `json:"num_gc"`
}

// HealthFlags exposes feature toggles that influence runtime behaviour.
type HealthFlags struct {
	SkipMigrate     bool   `json:"skip_migrate"`
	EnableScheduler bool   `json:"enable_scheduler"`
	DBDriver        string `json:"db_driver,omitempty"`
	ConflictWindow  string `json:"conflict_window,omitempty"`
	BusinessHours   string `json:"business_hours,omitempty"`
}

// HealthSystem exposes static information about the running system.
type HealthSystem struct {
	GoVersion string `json:"go_version"`
	GoOS      string `json:"go_os"`
	GoArch    string `json:"go_arch"`
}

// NewHealthService creates a new HealthService. db and redis may be nil.
func NewHealthService(serviceName, version string, db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *HealthService {
	if strings.TrimSpace(serviceName) == "" {
		serviceName = defaultServiceName
	}
	if strings.TrimSpace(version) == "" {
		version = defaultVersion
	}

	return &HealthService{
		serviceName: serviceName,
		version:     version,
		startTime:   time.Now(),
		timeout:     defaultTimeout,
		db:          db,
		redis:       redisClient,
		cfg:         cfg,
	}
}

// GetHealthReport collects the current health information.
func (s *HealthService) GetHealthReport(ctx context.Context) HealthReport {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	report := HealthReport{
		Status:      overallStatusOK,
		Service:     s.serviceName,
		Version:     s.version,
		Environment: s.environment(),
		Time:        time.Now().UTC(),
	}

	uptime := time.Since(s.startTime)
	if uptime < 0 {
		uptime = 0
	}
	report.UptimeSeconds = uptime.Seconds()
	report.UptimeHuman = humanizeDuration(uptime)

	dbDep, dbStatus := s.checkDatabase(ctx)
	redisDep, redisStatus := s.checkRedis(ctx)
	report.Dependencies = []DependencyStatus{dbDep, redisDep}
	report.Status = combineStatus(combineStatus(report.Status, dbStatus), redisStatus)

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	report.Metrics = HealthMetrics{
		Goroutines:     runtime.NumGoroutine(),
		HeapAllocBytes: mem.HeapAlloc,
		SysBytes:       mem.Sys,
		NumGC:          mem.NumGC,
	}
	report.Flags = s.flags()
	report.System = HealthSystem{
		GoVersion: runtime.Version(),
		GoOS:      runtime.GOOS,
		GoArch:    runtime.GOARCH,
	}

	return report
}

// HTTPStatusForOverall maps a health status to an HTTP status code.
func (s *HealthService) HTTPStatusForOverall(status string) int {
	if status == overallStatusCritical {
		return 503
	}
	return 200
}

func (s *HealthService) checkDatabase(ctx context.Context) (DependencyStatus, string) {
	dep := DependencyStatus{Name: "database"}
	if s.db == nil {
		dep.Status = dependencyStatusDown
		dep.Error = "database connection not initialised"
		return dep, overallStatusCritical
	}
	dep.Name = s.db.Dialector.Name()

	sqlDB, err := s.db.DB()
	if err != nil {
		dep.Status = dependencyStatusDown
		dep.Error = fmt.Sprintf("sql DB handle error: %v", err)
		return dep, overallStatusCritical
	}

	start := time.Now()
	err = sqlDB.PingContext(ctx)
	dep.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		dep.Status = dependencyStatusDown
		dep.Error = err.Error()
		return dep, overallStatusCritical
	}

	dep.Status = dependencyStatusUp
	stats := sqlDB.Stats()
	dep.Details = map[string]interface{}{
		"open_connections":     stats.OpenConnections,
		"in_use":               stats.InUse,
		"idle":                 stats.Idle,
		"wait_count":           stats.WaitCount,
		"max_open_connections": stats.MaxOpenConnections,
	}
	return dep, overallStatusOK
}

// checkRedis reports Redis as disabled when it was never connected. Without it tutor
// locks and the holiday cache are off, so a failing ping degrades the service.
func (s *HealthService) checkRedis(ctx context.Context) (DependencyStatus, string) {
	dep := DependencyStatus{Name: "redis"}
	if s.redis == nil {
		dep.Status = dependencyStatusDisabled
		return dep, overallStatusOK
	}

	start := time.Now()
	err := s.redis.Ping(ctx).Err()
	dep.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		dep.Status = dependencyStatusDown
		dep.Error = err.Error()
		return dep, overallStatusDegraded
	}

	dep.Status = dependencyStatusUp
	dep.Details = map[string]interface{}{"address": s.redis.Options().Addr}
	return dep, overallStatusOK
}

func (s *HealthService) flags() HealthFlags {
	if s.cfg == nil {
		return HealthFlags{}
	}
	return HealthFlags{
		SkipMigrate:     s.cfg.SkipMigrate,
		EnableScheduler: s.cfg.EnableScheduler,
		DBDriver:        s.cfg.DBDriver,
		ConflictWindow:  fmt.Sprintf("-%s/+%s", s.cfg.ConflictBefore, s.cfg.ConflictAfter),
		BusinessHours:   s.cfg.BusinessOpen + "-" + s.cfg.BusinessClose,
	}
}

func (s *HealthService) environment() string {
	if s.cfg == nil || strings.TrimSpace(s.cfg.AppEnv) == "" {
		return "unknown"
	}
	return s.cfg.AppEnv
}

func combineStatus(current, candidate string) string {
	order := map[string]int{
		overallStatusOK:       0,
		overallStatusDegraded: 1,
		overallStatusCritical: 2,
	}

	if _, ok := order[current]; !ok {
		current = overallStatusOK
	}

	if v, ok := order[candidate]; ok && v > order[current] {
		return candidate
	}
	return current
}

func humanizeDuration(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}

	d = d.Round(time.Second)
	days := d / (24 * time.Hour)
	d %= 24 * time.Hour
	hours := d / time.Hour
	d %= time.Hour
	minutes := d / time.Minute
	d %= time.Minute
	seconds := d / time.Second

	parts := []string{}
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	if seconds > 0 || len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%ds", seconds))
	}

	return strings.Join(parts, " ")
}
