package services

import (
	"context"

	"github.com/SAP-F-2025/exam-session-service/internal/engine"
	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
)

// ===== SESSION DTOS =====

type StartSessionRequest struct {
	CourseID string `json:"course_id" validate:"required"`
	ModuleID string `json:"module_id" validate:"required"`
}

type SelectAnswerRequest struct {
	Answer string `json:"answer" validate:"required"`
}

type ToggleEliminateRequest struct {
	Option string `json:"option" validate:"required"`
}

type JumpToQuestionRequest struct {
	QuestionIndex int `json:"question_index" validate:"min=0"`
}

// SessionResponse decorates a session row with derived fields the client
// needs to decide whether to offer resume
type SessionResponse struct {
	*models.ExamSession
	RemainingSeconds int  `json:"remaining_seconds"`
	CanResume        bool `json:"can_resume"`
}

// AnswerResult pairs a persisted answer with the question it belongs to
type AnswerResult struct {
	*models.SessionAnswer
	QuestionText string              `json:"question_text"`
	QuestionType models.QuestionType `json:"question_type"`
}

// SessionResultResponse is the full review payload for a finished session
type SessionResultResponse struct {
	*models.ExamSession
	CorrectCount int             `json:"correct_count"`
	Answers      []*AnswerResult `json:"answers"`
}

type ModuleSessionsResponse struct {
	Sessions []*SessionResponse `json:"sessions"`
	Total    int64              `json:"total"`
	Limit    int                `json:"limit"`
	Offset   int                `json:"offset"`
}

// ===== EXAM DTOS =====

type CreateQuestionRequest struct {
	Type            models.QuestionType `json:"type" validate:"required,question_type"`
	Text            string              `json:"text" validate:"required,min=3"`
	Options         []string            `json:"options,omitempty" validate:"omitempty,min=2,max=8"`
	CorrectAnswer   string              `json:"correct_answer,omitempty"`
	ReferenceAnswer string              `json:"reference_answer,omitempty"`
	Explanation     string              `json:"explanation,omitempty"`
}

type CreateSectionRequest struct {
	Title           string                  `json:"title" validate:"required,min=1,max=255"`
	DurationMinutes int                     `json:"duration_minutes" validate:"required,section_duration"`
	Questions       []CreateQuestionRequest `json:"questions" validate:"required,min=1,dive"`
}

type CreateExamRequest struct {
	CourseID string                 `json:"course_id" validate:"required"`
	ModuleID string                 `json:"module_id" validate:"required"`
	Title    string                 `json:"title" validate:"required,min=3,max=255"`
	Sections []CreateSectionRequest `json:"sections" validate:"required,min=1,dive"`
}

type ExamResponse struct {
	*models.Exam
	TotalQuestions       int `json:"total_questions"`
	TotalDurationMinutes int `json:"total_duration_minutes"`
}

// ===== EXPORT DTOS =====

// ModuleResultsExport is a rendered spreadsheet of every finished session
// in a module
type ModuleResultsExport struct {
	FileName string
	Content  []byte
}

// ===== SERVICE INTERFACES =====

// SessionService owns the exam session lifecycle. The first blocks are
// the client-facing API, the last is the storage surface the session
// runners and the sweep worker call back into.
type SessionService interface {
	// Lifecycle
	StartSession(ctx context.Context, userID string, req StartSessionRequest) (*engine.State, error)
	ResumeSession(ctx context.Context, userID string, req StartSessionRequest) (*engine.State, error)
	GetActiveSession(ctx context.Context, userID, courseID, moduleID string) (*SessionResponse, error)
	GetState(ctx context.Context, userID string, sessionID uint) (*engine.State, error)
	FinishSession(ctx context.Context, userID string, sessionID uint) (*SessionResultResponse, error)

	// In-session intents
	SelectAnswer(ctx context.Context, userID string, sessionID uint, req SelectAnswerRequest) (*engine.State, error)
	ToggleMarkForReview(ctx context.Context, userID string, sessionID uint) (*engine.State, error)
	ToggleEliminateOption(ctx context.Context, userID string, sessionID uint, req ToggleEliminateRequest) (*engine.State, error)
	NextQuestion(ctx context.Context, userID string, sessionID uint) (*engine.State, error)
	PreviousQuestion(ctx context.Context, userID string, sessionID uint) (*engine.State, error)
	JumpToQuestion(ctx context.Context, userID string, sessionID uint, req JumpToQuestionRequest) (*engine.State, error)
	NextSection(ctx context.Context, userID string, sessionID uint) (*engine.State, error)

	// Results and reporting
	GetResults(ctx context.Context, userID string, sessionID uint) (*SessionResultResponse, error)
	ListModuleSessions(ctx context.Context, userID, courseID, moduleID string, filters repositories.SessionFilters) (*ModuleSessionsResponse, error)
	GetModuleStats(ctx context.Context, userID, courseID, moduleID string) (*repositories.ModuleSessionStats, error)

	// Storage surface for runners and the sweep worker
	FinalizeSession(ctx context.Context, sessionID uint, timedOut bool) (*models.ExamSession, error)
	UpsertAnswer(ctx context.Context, answer *models.SessionAnswer) error
	ListAnswers(ctx context.Context, sessionID uint) ([]*models.SessionAnswer, error)
	HandleTimeout(ctx context.Context, sessionID uint) error
	SweepExpiredSessions(ctx context.Context, limit int) (int, error)
}

// ExamService manages exam definitions
type ExamService interface {
	CreateExam(ctx context.Context, creatorID string, req CreateExamRequest) (*ExamResponse, error)
	GetExam(ctx context.Context, examID uint) (*ExamResponse, error)
	GetModuleExam(ctx context.Context, courseID, moduleID string) (*ExamResponse, error)
	ListExams(ctx context.Context, filters repositories.ExamFilters) ([]*ExamResponse, int64, error)
}

// ExportService renders module results for download
type ExportService interface {
	ExportModuleResults(ctx context.Context, requesterID, courseID, moduleID string) (*ModuleResultsExport, error)
}

// ===== SERVICE MANAGER =====

type ServiceManager interface {
	// Core service getters
	Session() SessionService
	Exam() ExamService
	Export() ExportService

	// Engine returns the in-process runner registry
	Engine() *engine.Manager

	// Health and lifecycle
	Initialize(ctx context.Context) error
	HealthCheck(ctx context.Context) error
	Shutdown(ctx context.Context) error
}
