package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
)

type exportService struct {
	repo   repositories.Repository
	db     *gorm.DB
	logger *slog.Logger
}

func NewExportService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger) ExportService {
	return &exportService{
		repo:   repo,
		db:     db,
		logger: logger,
	}
}

const resultsSheet = "Results"

var resultsHeader = []string{
	"Session ID", "User ID", "Status", "Score", "Total Questions",
	"Started At", "Completed At", "End Reason",
}

// ExportModuleResults renders every finished session of a module into an
// xlsx workbook. Restricted to teachers and admins.
func (s *exportService) ExportModuleResults(ctx context.Context, requesterID, courseID, moduleID string) (*ModuleResultsExport, error) {
	s.logger.Info("Exporting module results",
		"course_id", courseID,
		"module_id", moduleID,
		"requester_id", requesterID)

	user, err := s.repo.User().GetByID(ctx, requesterID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve requester %s: %w", requesterID, err)
	}
	if user.Role != models.RoleTeacher && user.Role != models.RoleAdmin {
		return nil, NewPermissionError(requesterID, 0, "module", "export_results", "insufficient role permissions")
	}

	sessions, _, err := s.repo.Session().ListByModule(ctx, nil, courseID, moduleID, repositories.SessionFilters{
		SortBy:    "started_at",
		SortOrder: "asc",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", resultsSheet); err != nil {
		return nil, fmt.Errorf("failed to rename sheet: %w", err)
	}

	for col, title := range resultsHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(resultsSheet, cell, title); err != nil {
			return nil, err
		}
	}

	row := 2
	for _, session := range sessions {
		if !session.IsTerminal() {
			continue
		}
		values := []interface{}{
			session.ID,
			session.UserID,
			string(session.Status),
			scoreCell(session.Score),
			session.TotalQuestions,
			session.StartedAt.Format(time.RFC3339),
			formatTimePtr(session.CompletedAt),
			formatStringPtr(session.EndReason),
		}
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(resultsSheet, cell, value); err != nil {
				return nil, err
			}
		}
		row++
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to render workbook: %w", err)
	}

	return &ModuleResultsExport{
		FileName: fmt.Sprintf("module-results-%s-%s.xlsx", courseID, moduleID),
		Content:  buf.Bytes(),
	}, nil
}

func scoreCell(score *int) interface{} {
	if score == nil {
		return ""
	}
	return *score
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

func formatStringPtr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
