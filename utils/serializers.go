package utils

import (
	"encoding/json"
	"strconv"
	"time"

	"classflow_go/models"
)

// Capabilities decides which fields a viewer may see.
type Capabilities struct {
	ContactInfo   bool // email and phone of other users
	AllAttendance bool // every student's mark, not only the viewer's own
	TutorNotes    bool
	MeetingRef    bool
}

var roleCapabilities = map[string]Capabilities{
	models.RoleAdmin:   {ContactInfo: true, AllAttendance: true, TutorNotes: true, MeetingRef: true},
	models.RoleTutor:   {AllAttendance: true, TutorNotes: true, MeetingRef: true},
	models.RoleStudent: {MeetingRef: true},
}

// Viewer is the authenticated caller a projection is rendered for.
type Viewer struct {
	UserID uint
	Role   string
}

// Can returns the capability set for the viewer's role. Unknown roles see nothing extra.
func (v Viewer) Can() Capabilities {
	return roleCapabilities[v.Role]
}

// Compact representations used across APIs
type UserShort struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
	FullName string `json:"full_name,omitempty"`
	Role     string `json:"role"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
}

type SessionDTO struct {
	ID                  uint              `json:"id"`
	BatchID             uint              `json:"batch_id"`
	SessionNumber       int               `json:"session_number"`
	Topic               string            `json:"topic"`
	ScheduledAt         time.Time         `json:"scheduled_at"`
	LocalTime           string            `json:"local_time,omitempty"`
	DurationMinutes     int               `json:"duration_minutes"`
	TutorID             *uint             `json:"tutor_id"`
	Status              string            `json:"status"`
	Attendance          map[string]string `json:"attendance,omitempty"`
	Notes               string            `json:"notes,omitempty"`
	MeetingRef          string            `json:"meeting_ref,omitempty"`
	SupersedesSessionID *uint             `json:"supersedes_session_id,omitempty"`
}

type EnrollmentDTO struct {
	ID        uint      `json:"id"`
	BatchID   uint      `json:"batch_id"`
	Status    string    `json:"status"`
	Student   UserShort `json:"student"`
	CreatedAt time.Time `json:"created_at"`
}

// ToUserShort hides contact details unless the viewer may see them or is the user.
func ToUserShort(u models.User, viewer Viewer) UserShort {
	out := UserShort{ID: u.ID, Username: u.Username, FullName: u.FullName, Role: u.Role}
	if viewer.Can().ContactInfo || viewer.UserID == u.ID {
		out.Email = u.Email
		out.Phone = u.Phone
	}
	return out
}

// ToSessionDTO projects a session for the viewer. loc, when set, renders local_time.
func ToSessionDTO(s models.Session, viewer Viewer, loc *time.Location) SessionDTO {
	caps := viewer.Can()
	out := SessionDTO{
		ID:                  s.ID,
		BatchID:             s.BatchID,
		SessionNumber:       s.SessionNumber,
		Topic:               s.Topic,
		ScheduledAt:         s.ScheduledAt.UTC(),
		DurationMinutes:     s.DurationMinutes,
		TutorID:             s.TutorID,
		Status:              string(s.Status),
		SupersedesSessionID: s.SupersedesSessionID,
	}
	if loc != nil {
		out.LocalTime = s.ScheduledAt.In(loc).Format("2006-01-02 15:04 MST")
	}
	if caps.TutorNotes {
		out.Notes = s.Notes
	}
	if caps.MeetingRef {
		out.MeetingRef = s.MeetingRef
	}

	var marks map[string]string
	if len(s.Attendance) > 0 && json.Unmarshal(s.Attendance, &marks) == nil {
		if caps.AllAttendance {
			out.Attendance = marks
		} else if own, ok := marks[strconv.FormatUint(uint64(viewer.UserID), 10)]; ok {
			out.Attendance = map[string]string{strconv.FormatUint(uint64(viewer.UserID), 10): own}
		}
	}
	return out
}

// ToSessionDTOs projects a list of sessions.
func ToSessionDTOs(sessions []models.Session, viewer Viewer, loc *time.Location) []SessionDTO {
	out := make([]SessionDTO, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, ToSessionDTO(s, viewer, loc))
	}
	return out
}

func ToEnrollmentDTO(e models.Enrollment, viewer Viewer) EnrollmentDTO {
	student := e.Student
	if student.ID == 0 {
		student.ID = e.StudentID
	}
	return EnrollmentDTO{
		ID:        e.ID,
		BatchID:   e.BatchID,
		Status:    e.Status,
		Student:   ToUserShort(student, viewer),
		CreatedAt: e.CreatedAt,
	}
}
