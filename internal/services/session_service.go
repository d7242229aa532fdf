package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/exam-session-service/internal/engine"
	"github.com/SAP-F-2025/exam-session-service/internal/events"
	"github.com/SAP-F-2025/exam-session-service/internal/grader"
	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
	"github.com/SAP-F-2025/exam-session-service/internal/validator"
)

type sessionService struct {
	repo      repositories.Repository
	db        *gorm.DB
	logger    *slog.Logger
	validator *validator.Validator
	publisher events.Publisher
	clock     engine.Clock
	engine    *engine.Manager
}

func NewSessionService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, v *validator.Validator, oracle grader.Oracle, publisher events.Publisher, clock engine.Clock) SessionService {
	if clock == nil {
		clock = engine.NewRealClock()
	}
	s := &sessionService{
		repo:      repo,
		db:        db,
		logger:    logger,
		validator: v,
		publisher: publisher,
		clock:     clock,
	}
	// the service is its own runner store, so the registry is built here
	s.engine = engine.NewManager(s, oracle, clock, logger)
	return s
}

// EngineManager exposes the live runner registry
func (s *sessionService) EngineManager() *engine.Manager {
	return s.engine
}

// ===== LIFECYCLE =====

func (s *sessionService) StartSession(ctx context.Context, userID string, req StartSessionRequest) (*engine.State, error) {
	s.logger.Info("Starting exam session",
		"user_id", userID,
		"course_id", req.CourseID,
		"module_id", req.ModuleID)

	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	exam, err := s.getActiveExam(ctx, req.CourseID, req.ModuleID)
	if err != nil {
		return nil, err
	}

	// One in-progress session per (user, course, module). A stale session
	// whose deadline already passed is finalized here rather than blocking
	// the new start.
	existing, err := s.repo.Session().GetActive(ctx, nil, userID, req.CourseID, req.ModuleID)
	if err != nil {
		return nil, fmt.Errorf("failed to check active session: %w", err)
	}
	if existing != nil {
		if existing.RemainingAt(s.clock.Now()) > 0 {
			return nil, ErrActiveSessionExists
		}
		if err := s.HandleTimeout(ctx, existing.ID); err != nil {
			return nil, fmt.Errorf("failed to finalize stale session %d: %w", existing.ID, err)
		}
	}

	now := s.clock.Now()
	session := &models.ExamSession{
		UserID:         userID,
		CourseID:       req.CourseID,
		ModuleID:       req.ModuleID,
		ExamID:         exam.ID,
		Status:         models.SessionInProgress,
		StartedAt:      now,
		EndsAt:         now.Add(exam.TotalDuration()),
		TotalQuestions: exam.TotalQuestions(),
	}
	if err := s.repo.Session().Create(ctx, nil, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	runner, err := s.engine.Attach(ctx, session, exam)
	if err != nil {
		return nil, err
	}

	s.publishEvent(ctx, events.EventSessionStarted, session)

	s.logger.Info("Exam session started",
		"session_id", session.ID,
		"user_id", userID,
		"ends_at", session.EndsAt)

	return runner.State(), nil
}

func (s *sessionService) ResumeSession(ctx context.Context, userID string, req StartSessionRequest) (*engine.State, error) {
	s.logger.Info("Resuming exam session",
		"user_id", userID,
		"course_id", req.CourseID,
		"module_id", req.ModuleID)

	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	session, err := s.repo.Session().GetActive(ctx, nil, userID, req.CourseID, req.ModuleID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}
	if session == nil {
		return nil, ErrNoResumableSession
	}

	// A session found expired on resume is finalized server-side first,
	// then reported as not resumable
	if session.RemainingAt(s.clock.Now()) == 0 {
		if err := s.HandleTimeout(ctx, session.ID); err != nil {
			return nil, fmt.Errorf("failed to finalize expired session %d: %w", session.ID, err)
		}
		return nil, ErrNoResumableSession
	}

	exam, err := s.getExamByID(ctx, session.ExamID)
	if err != nil {
		return nil, err
	}

	runner, err := s.engine.Attach(ctx, session, exam)
	if err != nil {
		return nil, err
	}

	return runner.State(), nil
}

func (s *sessionService) GetActiveSession(ctx context.Context, userID, courseID, moduleID string) (*SessionResponse, error) {
	session, err := s.repo.Session().GetActive(ctx, nil, userID, courseID, moduleID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	remaining := session.RemainingAt(s.clock.Now())
	return &SessionResponse{
		ExamSession:      session,
		RemainingSeconds: int(remaining / time.Second),
		CanResume:        remaining > 0,
	}, nil
}

func (s *sessionService) GetState(ctx context.Context, userID string, sessionID uint) (*engine.State, error) {
	runner, err := s.getRunner(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	return runner.State(), nil
}

func (s *sessionService) FinishSession(ctx context.Context, userID string, sessionID uint) (*SessionResultResponse, error) {
	s.logger.Info("Finishing exam session",
		"session_id", sessionID,
		"user_id", userID)

	runner, err := s.getRunner(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	record, err := runner.Finish(ctx)
	if err != nil {
		return nil, mapEngineError(err)
	}

	s.logger.Info("Exam session finished",
		"session_id", record.ID,
		"score", record.Score,
		"total_questions", record.TotalQuestions)

	return s.buildResult(ctx, record)
}

// ===== IN-SESSION INTENTS =====

func (s *sessionService) SelectAnswer(ctx context.Context, userID string, sessionID uint, req SelectAnswerRequest) (*engine.State, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	runner, err := s.getRunner(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	state, err := runner.SelectAnswer(ctx, req.Answer)
	return state, mapEngineError(err)
}

func (s *sessionService) ToggleMarkForReview(ctx context.Context, userID string, sessionID uint) (*engine.State, error) {
	runner, err := s.getRunner(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	state, err := runner.ToggleMarkForReview(ctx)
	return state, mapEngineError(err)
}

func (s *sessionService) ToggleEliminateOption(ctx context.Context, userID string, sessionID uint, req ToggleEliminateRequest) (*engine.State, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	runner, err := s.getRunner(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	state, err := runner.ToggleEliminateOption(ctx, req.Option)
	return state, mapEngineError(err)
}

func (s *sessionService) NextQuestion(ctx context.Context, userID string, sessionID uint) (*engine.State, error) {
	runner, err := s.getRunner(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	state, err := runner.Next(ctx)
	return state, mapEngineError(err)
}

func (s *sessionService) PreviousQuestion(ctx context.Context, userID string, sessionID uint) (*engine.State, error) {
	runner, err := s.getRunner(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	state, err := runner.Previous(ctx)
	return state, mapEngineError(err)
}

func (s *sessionService) JumpToQuestion(ctx context.Context, userID string, sessionID uint, req JumpToQuestionRequest) (*engine.State, error) {
	runner, err := s.getRunner(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	state, err := runner.JumpTo(ctx, req.QuestionIndex)
	return state, mapEngineError(err)
}

func (s *sessionService) NextSection(ctx context.Context, userID string, sessionID uint) (*engine.State, error) {
	runner, err := s.getRunner(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	state, err := runner.NextSection(ctx)
	return state, mapEngineError(err)
}

// ===== RESULTS AND REPORTING =====

func (s *sessionService) GetResults(ctx context.Context, userID string, sessionID uint) (*SessionResultResponse, error) {
	session, err := s.getOwnedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.IsTerminal() {
		return nil, ErrSessionNotFinished
	}
	return s.buildResult(ctx, session)
}

func (s *sessionService) ListModuleSessions(ctx context.Context, userID, courseID, moduleID string, filters repositories.SessionFilters) (*ModuleSessionsResponse, error) {
	// students only ever see their own sessions
	isReviewer, err := s.isReviewer(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !isReviewer {
		filters.UserID = &userID
	}

	sessions, total, err := s.repo.Session().ListByModule(ctx, nil, courseID, moduleID, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	now := s.clock.Now()
	responses := make([]*SessionResponse, 0, len(sessions))
	for _, session := range sessions {
		remaining := session.RemainingAt(now)
		responses = append(responses, &SessionResponse{
			ExamSession:      session,
			RemainingSeconds: int(remaining / time.Second),
			CanResume:        remaining > 0,
		})
	}

	return &ModuleSessionsResponse{
		Sessions: responses,
		Total:    total,
		Limit:    filters.Limit,
		Offset:   filters.Offset,
	}, nil
}

func (s *sessionService) GetModuleStats(ctx context.Context, userID, courseID, moduleID string) (*repositories.ModuleSessionStats, error) {
	isReviewer, err := s.isReviewer(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !isReviewer {
		return nil, NewPermissionError(userID, 0, "module", "view_stats", "insufficient role permissions")
	}
	return s.repo.Session().GetModuleStats(ctx, nil, courseID, moduleID)
}

// ===== STORAGE SURFACE =====

// FinalizeSession moves a session to its terminal status with a score
// recomputed from the persisted answer records. The guarded update in the
// repository makes concurrent calls safe: exactly one caller wins and
// emits the finished event, the rest get ErrSessionAlreadyFinished.
func (s *sessionService) FinalizeSession(ctx context.Context, sessionID uint, timedOut bool) (*models.ExamSession, error) {
	session, err := s.repo.Session().GetByID(ctx, nil, sessionID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	score, err := s.repo.Answer().CountCorrect(ctx, nil, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to compute score: %w", err)
	}

	status := models.SessionCompleted
	endReason := models.SessionEndReasonCompleted
	completedAt := s.clock.Now()
	if timedOut {
		status = models.SessionTimedOut
		endReason = models.SessionEndReasonTimeout
		completedAt = session.EndsAt
	}

	finalized, err := s.repo.Session().Finalize(ctx, nil, sessionID, status, score, endReason, completedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to finalize session: %w", err)
	}
	if !finalized {
		return nil, ErrSessionAlreadyFinished
	}

	updated, err := s.repo.Session().GetByID(ctx, nil, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload finalized session: %w", err)
	}

	s.publishEvent(ctx, events.EventSessionFinished, updated)
	return updated, nil
}

func (s *sessionService) UpsertAnswer(ctx context.Context, answer *models.SessionAnswer) error {
	return s.repo.Answer().Upsert(ctx, nil, answer)
}

func (s *sessionService) ListAnswers(ctx context.Context, sessionID uint) ([]*models.SessionAnswer, error) {
	return s.repo.Answer().GetBySession(ctx, nil, sessionID)
}

// HandleTimeout finalizes an expired session as timed out. Idempotent:
// a session someone else finalized first is not an error.
func (s *sessionService) HandleTimeout(ctx context.Context, sessionID uint) error {
	if runner, ok := s.engine.Get(sessionID); ok {
		runner.Close()
	}

	_, err := s.FinalizeSession(ctx, sessionID, true)
	if err != nil && !errors.Is(err, ErrSessionAlreadyFinished) {
		return err
	}
	return nil
}

// SweepExpiredSessions finalizes in-progress sessions whose deadline
// passed, covering sessions orphaned by a crash or restart. Returns how
// many were swept.
func (s *sessionService) SweepExpiredSessions(ctx context.Context, limit int) (int, error) {
	expired, err := s.repo.Session().GetExpired(ctx, nil, s.clock.Now(), limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired sessions: %w", err)
	}

	swept := 0
	for _, session := range expired {
		if err := s.HandleTimeout(ctx, session.ID); err != nil {
			s.logger.Error("failed to time out expired session",
				"session_id", session.ID,
				"error", err)
			continue
		}
		swept++
	}
	return swept, nil
}
