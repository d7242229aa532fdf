package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/SAP-F-2025/exam-session-service/internal/engine"
	"github.com/SAP-F-2025/exam-session-service/internal/events"
	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
)

// ===== LOOKUP HELPERS =====

func (s *sessionService) getActiveExam(ctx context.Context, courseID, moduleID string) (*models.Exam, error) {
	exam, err := s.repo.Exam().GetByModule(ctx, nil, courseID, moduleID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("failed to get exam: %w", err)
	}
	if exam.Status != models.ExamActive {
		return nil, ErrExamNotActive
	}
	if exam.TotalQuestions() == 0 {
		return nil, ErrExamHasNoQuestions
	}
	return exam, nil
}

func (s *sessionService) getExamByID(ctx context.Context, examID uint) (*models.Exam, error) {
	exam, err := s.repo.Exam().GetByID(ctx, nil, examID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("failed to get exam: %w", err)
	}
	return exam, nil
}

func (s *sessionService) getOwnedSession(ctx context.Context, userID string, sessionID uint) (*models.ExamSession, error) {
	session, err := s.repo.Session().GetByID(ctx, nil, sessionID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if session.UserID != userID {
		return nil, NewPermissionError(userID, sessionID, "session", "read", "not owned by user")
	}
	return session, nil
}

// getRunner resolves the live runner for a session, reattaching one from
// persisted state when the process restarted since the session began
func (s *sessionService) getRunner(ctx context.Context, userID string, sessionID uint) (*engine.Session, error) {
	if runner, ok := s.engine.Get(sessionID); ok {
		if runner.Record().UserID != userID {
			return nil, NewPermissionError(userID, sessionID, "session", "access", "not owned by user")
		}
		return runner, nil
	}

	session, err := s.getOwnedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if session.IsTerminal() {
		return nil, ErrSessionAlreadyFinished
	}
	if session.RemainingAt(s.clock.Now()) == 0 {
		if err := s.HandleTimeout(ctx, session.ID); err != nil {
			return nil, fmt.Errorf("failed to finalize expired session %d: %w", session.ID, err)
		}
		return nil, ErrSessionExpired
	}

	exam, err := s.getExamByID(ctx, session.ExamID)
	if err != nil {
		return nil, err
	}
	return s.engine.Attach(ctx, session, exam)
}

func (s *sessionService) isReviewer(ctx context.Context, userID string) (bool, error) {
	user, err := s.repo.User().GetByID(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to resolve user %s: %w", userID, err)
	}
	return user.Role == models.RoleTeacher || user.Role == models.RoleAdmin, nil
}

// ===== RESULT BUILDING =====

// buildResult joins persisted answer records with their questions into
// the review payload
func (s *sessionService) buildResult(ctx context.Context, session *models.ExamSession) (*SessionResultResponse, error) {
	answers, err := s.repo.Answer().GetBySession(ctx, nil, session.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load answers: %w", err)
	}

	exam, err := s.getExamByID(ctx, session.ExamID)
	if err != nil {
		return nil, err
	}

	questionsByID := make(map[uint]*models.Question)
	for i := range exam.Sections {
		for j := range exam.Sections[i].Questions {
			q := &exam.Sections[i].Questions[j]
			questionsByID[q.ID] = q
		}
	}

	results := make([]*AnswerResult, 0, len(answers))
	correct := 0
	for _, answer := range answers {
		result := &AnswerResult{SessionAnswer: answer}
		if q, ok := questionsByID[answer.QuestionID]; ok {
			result.QuestionText = q.Text
			result.QuestionType = q.Type
		}
		if answer.IsCorrect {
			correct++
		}
		results = append(results, result)
	}

	return &SessionResultResponse{
		ExamSession:  session,
		CorrectCount: correct,
		Answers:      results,
	}, nil
}

// ===== EVENTS =====

// publishEvent is best-effort: a broker outage must never fail an exam
// operation
func (s *sessionService) publishEvent(ctx context.Context, eventType string, session *models.ExamSession) {
	if s.publisher == nil {
		return
	}
	event := events.SessionEvent{
		Type:      eventType,
		SessionID: session.ID,
		UserID:    session.UserID,
		CourseID:  session.CourseID,
		ModuleID:  session.ModuleID,
		Status:    session.Status,
		Score:     session.Score,
		EndReason: session.EndReason,
	}
	if err := s.publisher.PublishSessionEvent(ctx, event); err != nil {
		s.logger.Warn("failed to publish session event",
			"event_type", eventType,
			"session_id", session.ID,
			"error", err)
	}
}

// ===== ERROR MAPPING =====

// mapEngineError translates runner errors into the service error surface
func mapEngineError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, engine.ErrSessionFinished):
		return ErrSessionAlreadyFinished
	case errors.Is(err, engine.ErrQuestionOutOfRange):
		return NewValidationError("question_index", "question index out of range", nil)
	case errors.Is(err, engine.ErrOptionNotInQuestion):
		return NewValidationError("option", "option does not exist on this question", nil)
	case errors.Is(err, engine.ErrAlreadyLastSection):
		return NewBusinessRuleError("last_section", "already in the last section", nil)
	default:
		return err
	}
}
