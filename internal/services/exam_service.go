package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
	"github.com/SAP-F-2025/exam-session-service/internal/validator"
)

type examService struct {
	repo      repositories.Repository
	db        *gorm.DB
	logger    *slog.Logger
	validator *validator.Validator
}

func NewExamService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, v *validator.Validator) ExamService {
	return &examService{
		repo:      repo,
		db:        db,
		logger:    logger,
		validator: v,
	}
}

func (s *examService) CreateExam(ctx context.Context, creatorID string, req CreateExamRequest) (*ExamResponse, error) {
	s.logger.Info("Creating exam",
		"course_id", req.CourseID,
		"module_id", req.ModuleID,
		"creator_id", creatorID)

	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	if err := s.validateQuestionContent(req); err != nil {
		return nil, err
	}

	user, err := s.repo.User().GetByID(ctx, creatorID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve creator %s: %w", creatorID, err)
	}
	if user.Role != models.RoleTeacher && user.Role != models.RoleAdmin {
		return nil, NewPermissionError(creatorID, 0, "exam", "create", "insufficient role permissions")
	}

	existing, err := s.repo.Exam().GetByModule(ctx, nil, req.CourseID, req.ModuleID)
	if err != nil && !repositories.IsNotFoundError(err) {
		return nil, fmt.Errorf("failed to check existing exam: %w", err)
	}
	if existing != nil {
		return nil, ErrConflict
	}

	exam := &models.Exam{
		CourseID:  req.CourseID,
		ModuleID:  req.ModuleID,
		Title:     req.Title,
		Status:    models.ExamActive,
		CreatedBy: creatorID,
	}

	err = s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		for sectionIdx, sectionReq := range req.Sections {
			section := models.Section{
				Position:        sectionIdx,
				Title:           sectionReq.Title,
				DurationMinutes: sectionReq.DurationMinutes,
			}
			for questionIdx, questionReq := range sectionReq.Questions {
				content, err := buildQuestionContent(questionReq)
				if err != nil {
					return err
				}
				section.Questions = append(section.Questions, models.Question{
					Position: questionIdx,
					Type:     questionReq.Type,
					Text:     questionReq.Text,
					Content:  content,
				})
			}
			exam.Sections = append(exam.Sections, section)
		}
		return txRepo.Exam().Create(ctx, nil, exam)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create exam: %w", err)
	}

	s.logger.Info("Exam created",
		"exam_id", exam.ID,
		"sections", len(exam.Sections),
		"total_questions", exam.TotalQuestions())

	return toExamResponse(exam), nil
}

func (s *examService) GetExam(ctx context.Context, examID uint) (*ExamResponse, error) {
	exam, err := s.repo.Exam().GetByID(ctx, nil, examID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("failed to get exam: %w", err)
	}
	return toExamResponse(exam), nil
}

func (s *examService) GetModuleExam(ctx context.Context, courseID, moduleID string) (*ExamResponse, error) {
	exam, err := s.repo.Exam().GetByModule(ctx, nil, courseID, moduleID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("failed to get exam: %w", err)
	}
	return toExamResponse(exam), nil
}

func (s *examService) ListExams(ctx context.Context, filters repositories.ExamFilters) ([]*ExamResponse, int64, error) {
	exams, total, err := s.repo.Exam().List(ctx, nil, filters)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list exams: %w", err)
	}

	responses := make([]*ExamResponse, 0, len(exams))
	for _, exam := range exams {
		responses = append(responses, toExamResponse(exam))
	}
	return responses, total, nil
}

// ===== HELPERS =====

// validateQuestionContent enforces the per-type rules the struct tags
// cannot express
func (s *examService) validateQuestionContent(req CreateExamRequest) error {
	var errs ValidationErrors
	for sectionIdx, section := range req.Sections {
		for questionIdx, q := range section.Questions {
			field := fmt.Sprintf("sections[%d].questions[%d]", sectionIdx, questionIdx)
			switch q.Type {
			case models.MultipleChoice:
				if len(q.Options) < 2 {
					errs = append(errs, NewValidationError(field+".options", "multiple choice questions need at least two options", nil))
					continue
				}
				found := false
				for _, opt := range q.Options {
					if opt == q.CorrectAnswer {
						found = true
						break
					}
				}
				if !found {
					errs = append(errs, NewValidationError(field+".correct_answer", "correct answer must be one of the options", q.CorrectAnswer))
				}
			case models.FreeResponse:
				if q.ReferenceAnswer == "" {
					errs = append(errs, NewValidationError(field+".reference_answer", "free response questions need a reference answer", nil))
				}
			}
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func buildQuestionContent(req CreateQuestionRequest) (datatypes.JSON, error) {
	var content interface{}
	switch req.Type {
	case models.MultipleChoice:
		content = models.MultipleChoiceContent{
			Options:       req.Options,
			CorrectAnswer: req.CorrectAnswer,
			Explanation:   req.Explanation,
		}
	case models.FreeResponse:
		content = models.FreeResponseContent{
			ReferenceAnswer: req.ReferenceAnswer,
			Explanation:     req.Explanation,
		}
	default:
		return nil, NewValidationError("type", "unknown question type", string(req.Type))
	}

	raw, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("failed to encode question content: %w", err)
	}
	return datatypes.JSON(raw), nil
}

func toExamResponse(exam *models.Exam) *ExamResponse {
	return &ExamResponse{
		Exam:                 exam,
		TotalQuestions:       exam.TotalQuestions(),
		TotalDurationMinutes: int(exam.TotalDuration().Minutes()),
	}
}
