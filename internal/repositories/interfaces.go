package repositories

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
)

// ===== SHARED FILTER STRUCTS =====

type ExamFilters struct {
	Status    *models.ExamStatus `json:"status"`
	CourseID  *string            `json:"course_id"`
	CreatedBy *string            `json:"created_by"`
	Limit     int                `json:"limit"`
	Offset    int                `json:"offset"`
	SortBy    string             `json:"sort_by"`
	SortOrder string             `json:"sort_order"`
}

type SessionFilters struct {
	Status    *models.SessionStatus `json:"status"`
	UserID    *string               `json:"user_id"`
	CourseID  *string               `json:"course_id"`
	ModuleID  *string               `json:"module_id"`
	DateFrom  *time.Time            `json:"date_from"`
	DateTo    *time.Time            `json:"date_to"`
	Limit     int                   `json:"limit"`
	Offset    int                   `json:"offset"`
	SortBy    string                `json:"sort_by"`    // "created_at", "started_at", "score"
	SortOrder string                `json:"sort_order"` // "asc", "desc"
}

type UserFilters struct {
	Query  string // Search query for name or email
	Limit  int
	Offset int
}

// ===== SHARED STATISTICS STRUCTS =====

type ModuleSessionStats struct {
	TotalSessions     int     `json:"total_sessions"`
	CompletedSessions int     `json:"completed_sessions"`
	TimedOutSessions  int     `json:"timed_out_sessions"`
	ActiveSessions    int     `json:"active_sessions"`
	AverageScore      float64 `json:"average_score"`
}

// ===== REPOSITORY INTERFACES =====

// ExamRepository serves static unit-test definitions
type ExamRepository interface {
	Create(ctx context.Context, tx *gorm.DB, exam *models.Exam) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Exam, error)
	// GetByModule loads the exam for one course module with sections and
	// questions in position order
	GetByModule(ctx context.Context, tx *gorm.DB, courseID, moduleID string) (*models.Exam, error)
	List(ctx context.Context, tx *gorm.DB, filters ExamFilters) ([]*models.Exam, int64, error)
}

// SessionRepository persists exam sessions
type SessionRepository interface {
	Create(ctx context.Context, tx *gorm.DB, session *models.ExamSession) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.ExamSession, error)

	// GetMostRecent returns the newest session for the owner key regardless
	// of status, nil when none exists
	GetMostRecent(ctx context.Context, tx *gorm.DB, userID, courseID, moduleID string) (*models.ExamSession, error)
	// GetActive returns the in-progress session for the owner key, nil when
	// none exists
	GetActive(ctx context.Context, tx *gorm.DB, userID, courseID, moduleID string) (*models.ExamSession, error)
	HasActive(ctx context.Context, tx *gorm.DB, userID, courseID, moduleID string) (bool, error)

	Update(ctx context.Context, tx *gorm.DB, session *models.ExamSession) error
	// Finalize moves an in-progress session to a terminal status with its
	// score. Returns false without error when the session was already
	// terminal (the guard lost the race).
	Finalize(ctx context.Context, tx *gorm.DB, id uint, status models.SessionStatus, score int, endReason string, completedAt time.Time) (bool, error)

	// GetExpired lists in-progress sessions whose deadline passed before asOf
	GetExpired(ctx context.Context, tx *gorm.DB, asOf time.Time, limit int) ([]*models.ExamSession, error)

	ListByModule(ctx context.Context, tx *gorm.DB, courseID, moduleID string, filters SessionFilters) ([]*models.ExamSession, int64, error)
	GetModuleStats(ctx context.Context, tx *gorm.DB, courseID, moduleID string) (*ModuleSessionStats, error)
}

// AnswerRepository persists per-question answer records
type AnswerRepository interface {
	// Upsert writes the answer keyed by (session_id, question_id),
	// overwriting any previous record
	Upsert(ctx context.Context, tx *gorm.DB, answer *models.SessionAnswer) error
	GetBySession(ctx context.Context, tx *gorm.DB, sessionID uint) ([]*models.SessionAnswer, error)
	GetByQuestion(ctx context.Context, tx *gorm.DB, sessionID, questionID uint) (*models.SessionAnswer, error)
	CountCorrect(ctx context.Context, tx *gorm.DB, sessionID uint) (int, error)
	DeleteBySession(ctx context.Context, tx *gorm.DB, sessionID uint) error
}

// UserRepository provides read-only identity lookups (user data is owned by Casdoor)
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	ExistsByID(ctx context.Context, id string) (bool, error)
	HasRole(ctx context.Context, id string, role models.UserRole) (bool, error)
	List(ctx context.Context, filters UserFilters) ([]*models.User, int64, error)
}
