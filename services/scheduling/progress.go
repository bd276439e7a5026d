package scheduling

import (
	"context"
	"encoding/json"
	"math"

	"classflow_go/models"

	"gorm.io/datatypes"
)

// Progress is the read-side summary of a batch's sessions.
type Progress struct {
	BatchID               uint    `json:"batch_id"`
	TotalActive           int     `json:"total_active"`
	Completed             int     `json:"completed"`
	Cancelled             int     `json:"cancelled"`
	Superseded            int     `json:"superseded"`
	CurrentSession        int     `json:"current_session"`
	AttendanceRateOverall float64 `json:"attendance_rate_overall"`
}

// AttendanceRate is present*100/total rounded to the nearest integer, 0 for an empty map.
func AttendanceRate(marks map[string]string) int {
	if len(marks) == 0 {
		return 0
	}
	present := 0
	for _, v := range marks {
		if v == models.AttendancePresent {
			present++
		}
	}
	return int(math.Round(float64(present) * 100 / float64(len(marks))))
}

// DecodeAttendance reads a stored attendance column. Empty or null columns decode to nil.
func DecodeAttendance(raw datatypes.JSON) (map[string]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var marks map[string]string
	if err := json.Unmarshal(raw, &marks); err != nil {
		return nil, err
	}
	return marks, nil
}

// ComputeProgress derives the batch summary from its sessions. It never mutates them.
// Rescheduled sessions are superseded and excluded from the totals.
func ComputeProgress(sessions []models.Session) Progress {
	var (
		p        Progress
		rateSum  int
		rateSeen int
	)
	for i := range sessions {
		s := &sessions[i]
		if p.BatchID == 0 {
			p.BatchID = s.BatchID
		}
		switch s.Status {
		case models.SessionRescheduled:
			p.Superseded++
			continue
		case models.SessionCompleted:
			p.Completed++
			if marks, err := DecodeAttendance(s.Attendance); err == nil && len(marks) > 0 {
				rateSum += AttendanceRate(marks)
				rateSeen++
			}
		case models.SessionCancelled:
			p.Cancelled++
		case models.SessionScheduled:
			if p.CurrentSession == 0 || s.SessionNumber < p.CurrentSession {
				p.CurrentSession = s.SessionNumber
			}
		}
		p.TotalActive++
	}
	if rateSeen > 0 {
		p.AttendanceRateOverall = float64(rateSum) / float64(rateSeen)
	}
	return p
}

// Summary is the subset stored on the batch row.
func (p Progress) Summary() models.BatchProgress {
	return models.BatchProgress{
		CurrentSession:    p.CurrentSession,
		CompletedSessions: p.Completed,
		TotalSessions:     p.TotalActive,
	}
}

var progressColumns = []string{
	"progress_current_session",
	"progress_completed_sessions",
	"progress_total_sessions",
}

// ComputeProgress loads the batch's sessions and summarises them.
func (s *Scheduler) ComputeProgress(ctx context.Context, batchID uint) (Progress, error) {
	if _, err := s.store.GetBatch(ctx, batchID); err != nil {
		return Progress{}, err
	}
	sessions, err := s.store.FindBatchSessions(ctx, batchID, SessionFilter{})
	if err != nil {
		return Progress{}, err
	}
	p := ComputeProgress(sessions)
	p.BatchID = batchID
	return p, nil
}

// refreshProgress rewrites the cached batch progress inside tx, together with any
// extra batch columns the caller changed.
func refreshProgress(ctx context.Context, tx Store, batch *models.Batch, extra ...string) error {
	sessions, err := tx.FindBatchSessions(ctx, batch.ID, SessionFilter{})
	if err != nil {
		return err
	}
	batch.Progress = ComputeProgress(sessions).Summary()
	fields := append(append([]string{}, progressColumns...), extra...)
	return tx.UpdateBatch(ctx, batch, fields...)
}

// ReconcileProgress recomputes the cached progress of every active or paused batch.
// It returns how many batches were rewritten.
func (s *Scheduler) ReconcileProgress(ctx context.Context) (int, error) {
	batches, err := s.store.FindBatches(ctx, models.BatchActive, models.BatchPaused)
	if err != nil {
		return 0, err
	}
	updated := 0
	for i := range batches {
		b := batches[i]
		err := s.store.Transaction(ctx, func(tx Store) error {
			sessions, err := tx.FindBatchSessions(ctx, b.ID, SessionFilter{})
			if err != nil {
				return err
			}
			summary := ComputeProgress(sessions).Summary()
			if summary == b.Progress {
				return nil
			}
			b.Progress = summary
			updated++
			return tx.UpdateBatch(ctx, &b, progressColumns...)
		})
		if err != nil {
			return updated, err
		}
	}
	return updated, nil
}
