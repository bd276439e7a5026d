package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Base model with common fields
type BaseModel struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// Roles
const (
	RoleAdmin   = "admin"
	RoleTutor   = "tutor"
	RoleStudent = "student"
)

// User model
type User struct {
	BaseModel
	Username string `json:"username" gorm:"size:100;not null;uniqueIndex"`
	Password string `json:"-" gorm:"size:255;not null"`
	FullName string `json:"full_name" gorm:"size:200"`
	Email    string `json:"email" gorm:"size:255;uniqueIndex"`
	Phone    string `json:"phone" gorm:"size:20"`
	Role     string `json:"role" gorm:"size:20;not null;default:'student'"`   // admin, tutor, student
	Status   string `json:"status" gorm:"size:20;not null;default:'active'"` // active, inactive, suspended
}

// Course model
type Course struct {
	BaseModel
	Name                   string `json:"name" gorm:"size:255;not null"`
	Level                  string `json:"level" gorm:"size:50"`
	TotalSessions          int    `json:"total_sessions" gorm:"not null"`
	SessionDurationMinutes int    `json:"session_duration_minutes" gorm:"not null;default:60"`

	// Relationships
	Curriculum []CurriculumTopic `json:"curriculum,omitempty" gorm:"foreignKey:CourseID"`
}

// CurriculumTopic is the planned topic for one session number of a course.
type CurriculumTopic struct {
	BaseModel
	CourseID      uint   `json:"course_id" gorm:"not null;uniqueIndex:idx_course_topic_number"`
	SessionNumber int    `json:"session_number" gorm:"not null;uniqueIndex:idx_course_topic_number"`
	Topic         string `json:"topic" gorm:"size:255;not null"`
}

// TopicFor returns the curriculum topic planned for the given session number.
func (c *Course) TopicFor(sessionNumber int) (string, bool) {
	for _, t := range c.Curriculum {
		if t.SessionNumber == sessionNumber {
			return t.Topic, true
		}
	}
	return "", false
}

// BatchStatus is the lifecycle state of a batch.
type BatchStatus string

const (
	BatchActive    BatchStatus = "active"
	BatchPaused    BatchStatus = "paused"
	BatchCompleted BatchStatus = "completed"
	BatchCancelled BatchStatus = "cancelled"
)

func (s BatchStatus) Valid() bool {
	switch s {
	case BatchActive, BatchPaused, BatchCompleted, BatchCancelled:
		return true
	}
	return false
}

// BatchProgress is derived from the batch's sessions and rewritten whenever they change.
type BatchProgress struct {
	CurrentSession    int `json:"current_session"`
	CompletedSessions int `json:"completed_sessions"`
	TotalSessions     int `json:"total_sessions"`
}

// Batch model
type Batch struct {
	BaseModel
	CourseID       uint          `json:"course_id" gorm:"not null;uniqueIndex:idx_course_batch_number"`
	BatchNumber    int           `json:"batch_number" gorm:"not null;uniqueIndex:idx_course_batch_number"`
	Label          string        `json:"label" gorm:"size:200"`
	StartAt        time.Time     `json:"start_at" gorm:"not null"`
	Timezone       string        `json:"timezone" gorm:"size:64;not null;default:'UTC'"`
	TutorID        *uint         `json:"tutor_id" gorm:"index"`
	MaxStudents    int           `json:"max_students"`
	TargetSessions int           `json:"target_sessions"`
	SkipHolidays   bool          `json:"skip_holidays" gorm:"default:false"`
	Status         BatchStatus   `json:"status" gorm:"size:20;not null;default:'active'"`
	Progress       BatchProgress `json:"progress" gorm:"embedded;embeddedPrefix:progress_"`

	// Relationships
	Course    Course          `json:"course,omitempty" gorm:"foreignKey:CourseID"`
	Slots     []BatchSlot     `json:"slots,omitempty" gorm:"foreignKey:BatchID"`
	Materials []BatchMaterial `json:"materials,omitempty" gorm:"foreignKey:BatchID"`
}

// BatchSlot is one entry of a batch's weekly pattern.
type BatchSlot struct {
	BaseModel
	BatchID   uint   `json:"batch_id" gorm:"not null;index"`
	Position  int    `json:"position" gorm:"not null"`
	// 0=Sunday ... 6=Saturday
	Weekday   int    `json:"weekday" gorm:"not null"`
	// HH:MM, batch local time
	StartTime string `json:"start_time" gorm:"size:8;not null"`
}

// Location resolves the batch timezone, falling back to UTC.
func (b *Batch) Location() *time.Location {
	if b.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// SessionStatus is the lifecycle state of a single session.
type SessionStatus string

const (
	SessionScheduled   SessionStatus = "scheduled"
	SessionCompleted   SessionStatus = "completed"
	SessionCancelled   SessionStatus = "cancelled"
	SessionRescheduled SessionStatus = "rescheduled"
)

func (s SessionStatus) Valid() bool {
	switch s {
	case SessionScheduled, SessionCompleted, SessionCancelled, SessionRescheduled:
		return true
	}
	return false
}

// Attendance marks
const (
	AttendancePresent = "present"
	AttendanceAbsent  = "absent"
)

// Session model
type Session struct {
	BaseModel
	BatchID         uint           `json:"batch_id" gorm:"not null;uniqueIndex:idx_batch_session_number"`
	SessionNumber   int            `json:"session_number" gorm:"not null;uniqueIndex:idx_batch_session_number"`
	Topic           string         `json:"topic" gorm:"size:255"`
	ScheduledAt     time.Time      `json:"scheduled_at" gorm:"not null;index"`
	DurationMinutes int            `json:"duration_minutes" gorm:"not null;default:60"`
	TutorID         *uint          `json:"tutor_id" gorm:"index"`
	Status          SessionStatus  `json:"status" gorm:"size:20;not null;default:'scheduled'"`
	Attendance      datatypes.JSON `json:"attendance,omitempty"`
	Notes           string         `json:"notes" gorm:"type:text"`
	MeetingRef      string         `json:"meeting_ref,omitempty" gorm:"size:500"`
	// Set on a session appended by a supersede reschedule; points at the retired session.
	SupersedesSessionID *uint `json:"supersedes_session_id" gorm:"default:null"`
}

// Enrollment statuses
const (
	EnrollmentActive      = "active"
	EnrollmentCompleted   = "completed"
	EnrollmentDropped     = "dropped"
	EnrollmentTransferred = "transferred"
)

// Enrollment links a student to a batch.
type Enrollment struct {
	BaseModel
	BatchID   uint   `json:"batch_id" gorm:"not null;uniqueIndex:idx_batch_student"`
	StudentID uint   `json:"student_id" gorm:"not null;uniqueIndex:idx_batch_student"`
	Status    string `json:"status" gorm:"size:20;not null;default:'active'"`

	// Relationships
	Student User `json:"student,omitempty" gorm:"foreignKey:StudentID"`
}

// BatchMaterial is a file attached to a batch and stored in S3.
type BatchMaterial struct {
	BaseModel
	BatchID      uint   `json:"batch_id" gorm:"not null;index"`
	Title        string `json:"title" gorm:"size:255;not null"`
	URL          string `json:"url" gorm:"size:1000;not null"`
	S3Key        string `json:"-" gorm:"size:500"`
	ContentType  string `json:"content_type" gorm:"size:150"`
	SizeBytes    int64  `json:"size_bytes"`
	UploadedByID uint   `json:"uploaded_by_id"`
}

// Log model for activity tracking
type ActivityLog struct {
	BaseModel
	UserID     uint           `json:"user_id"`
	Action     string         `json:"action" gorm:"size:100;not null"`
	Resource   string         `json:"resource" gorm:"size:100;not null"`
	ResourceID uint           `json:"resource_id"`
	Details    datatypes.JSON `json:"details"`
	IPAddress  string         `json:"ip_address" gorm:"size:45"`
	UserAgent  string         `json:"user_agent" gorm:"size:500"`
}

// LogArchive model for tracking archived logs
type LogArchive struct {
	BaseModel
	FileName    string    `json:"file_name" gorm:"size:255;not null"`
	S3Key       string    `json:"s3_key" gorm:"size:500;not null"`
	StartDate   time.Time `json:"start_date" gorm:"not null"`
	EndDate     time.Time `json:"end_date" gorm:"not null"`
	RecordCount int       `json:"record_count" gorm:"not null"`
	FileSize    int64     `json:"file_size" gorm:"not null"`
	Status      string    `json:"status" gorm:"size:50;not null;default:'pending'"` // pending, completed, failed
	Error       string    `json:"error" gorm:"type:text"`
}
