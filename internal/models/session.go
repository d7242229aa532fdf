package models

import (
	"time"
)

type SessionStatus string

const (
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
	SessionTimedOut   SessionStatus = "timed_out"
)

const (
	SessionEndReasonTimeout   = "time_out"
	SessionEndReasonCompleted = "completed"
)

// ExamSession is one timed attempt at a unit test by one user for one module.
// At most one session with status in_progress may exist per
// (user_id, course_id, module_id).
type ExamSession struct {
	ID       uint   `json:"id" gorm:"primaryKey"`
	UserID   string `json:"user_id" gorm:"not null;index:idx_session_owner;size:255"`
	CourseID string `json:"course_id" gorm:"not null;index:idx_session_owner;size:255"`
	ModuleID string `json:"module_id" gorm:"not null;index:idx_session_owner;size:255"`
	ExamID   uint   `json:"exam_id" gorm:"not null;index"`

	Status SessionStatus `json:"status" gorm:"default:in_progress;index"`

	// Timing
	StartedAt   time.Time  `json:"started_at" gorm:"not null"`
	EndsAt      time.Time  `json:"ends_at" gorm:"not null"`
	CompletedAt *time.Time `json:"completed_at"`

	// Scoring; Score stays null until the session reaches a terminal status
	Score          *int `json:"score"`
	TotalQuestions int  `json:"total_questions" gorm:"not null"`

	EndReason *string `json:"end_reason" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Exam    Exam            `json:"exam" gorm:"foreignKey:ExamID"`
	Answers []SessionAnswer `json:"answers" gorm:"foreignKey:SessionID"`
}

func (ExamSession) TableName() string {
	return "exam_sessions"
}

// IsTerminal reports whether the session can no longer be mutated
func (s *ExamSession) IsTerminal() bool {
	return s.Status == SessionCompleted || s.Status == SessionTimedOut
}

// RemainingAt maps the session deadline and a clock reading to the time
// left on the session, never negative. Zero for terminal sessions.
func (s *ExamSession) RemainingAt(now time.Time) time.Duration {
	if s.Status != SessionInProgress {
		return 0
	}
	remaining := s.EndsAt.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}
