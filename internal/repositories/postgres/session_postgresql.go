package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/SAP-F-2025/exam-session-service/internal/cache"
	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
)

type SessionPostgreSQL struct {
	db           *gorm.DB
	helpers      *SharedHelpers
	cacheManager *cache.CacheManager
}

func NewSessionPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.SessionRepository {
	return &SessionPostgreSQL{
		db:           db,
		helpers:      NewSharedHelpers(db),
		cacheManager: cache.NewCacheManager(redisClient),
	}
}

func (s *SessionPostgreSQL) Create(ctx context.Context, tx *gorm.DB, session *models.ExamSession) error {
	db := s.getDB(tx)
	if err := db.WithContext(ctx).Create(session).Error; err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	cache.InvalidateSessionCache(ctx, s.cacheManager, session.ID, session.UserID)
	return nil
}

func (s *SessionPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.ExamSession, error) {
	db := s.getDB(tx)
	cacheKey := fmt.Sprintf("id:%d", id)
	var session models.ExamSession

	err := s.cacheManager.Session.CacheOrExecute(ctx, cacheKey, &session, cache.SessionCacheConfig.TTL, func() (interface{}, error) {
		var dbSession models.ExamSession
		if err := db.WithContext(ctx).First(&dbSession, id).Error; err != nil {
			return nil, err
		}
		return &dbSession, nil
	})
	if err != nil {
		return nil, err
	}

	return &session, nil
}

func (s *SessionPostgreSQL) GetMostRecent(ctx context.Context, tx *gorm.DB, userID, courseID, moduleID string) (*models.ExamSession, error) {
	db := s.getDB(tx)
	var session models.ExamSession
	err := db.WithContext(ctx).
		Where("user_id = ? AND course_id = ? AND module_id = ?", userID, courseID, moduleID).
		Order("created_at DESC").
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get most recent session: %w", err)
	}
	return &session, nil
}

func (s *SessionPostgreSQL) GetActive(ctx context.Context, tx *gorm.DB, userID, courseID, moduleID string) (*models.ExamSession, error) {
	db := s.getDB(tx)
	var session models.ExamSession
	err := db.WithContext(ctx).
		Where("user_id = ? AND course_id = ? AND module_id = ? AND status = ?",
			userID, courseID, moduleID, models.SessionInProgress).
		Order("created_at DESC").
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active session: %w", err)
	}
	return &session, nil
}

func (s *SessionPostgreSQL) HasActive(ctx context.Context, tx *gorm.DB, userID, courseID, moduleID string) (bool, error) {
	db := s.getDB(tx)
	var count int64
	err := db.WithContext(ctx).
		Model(&models.ExamSession{}).
		Where("user_id = ? AND course_id = ? AND module_id = ? AND status = ?",
			userID, courseID, moduleID, models.SessionInProgress).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *SessionPostgreSQL) Update(ctx context.Context, tx *gorm.DB, session *models.ExamSession) error {
	db := s.getDB(tx)
	if err := db.WithContext(ctx).Save(session).Error; err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	cache.InvalidateSessionCache(ctx, s.cacheManager, session.ID, session.UserID)
	return nil
}

// Finalize transitions an in-progress session to a terminal status. The
// status guard in the WHERE clause makes concurrent finalize attempts safe:
// only the first writer wins, later ones see zero rows affected.
func (s *SessionPostgreSQL) Finalize(ctx context.Context, tx *gorm.DB, id uint, status models.SessionStatus, score int, endReason string, completedAt time.Time) (bool, error) {
	db := s.getDB(tx)
	result := db.WithContext(ctx).
		Model(&models.ExamSession{}).
		Where("id = ? AND status = ?", id, models.SessionInProgress).
		Updates(map[string]interface{}{
			"status":       status,
			"score":        score,
			"end_reason":   endReason,
			"completed_at": completedAt,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to finalize session: %w", result.Error)
	}

	s.invalidateByID(ctx, id)
	return result.RowsAffected > 0, nil
}

func (s *SessionPostgreSQL) GetExpired(ctx context.Context, tx *gorm.DB, asOf time.Time, limit int) ([]*models.ExamSession, error) {
	db := s.getDB(tx)
	var sessions []*models.ExamSession
	query := db.WithContext(ctx).
		Where("status = ? AND ends_at < ?", models.SessionInProgress, asOf).
		Order("ends_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("failed to get expired sessions: %w", err)
	}
	return sessions, nil
}

func (s *SessionPostgreSQL) ListByModule(ctx context.Context, tx *gorm.DB, courseID, moduleID string, filters repositories.SessionFilters) ([]*models.ExamSession, int64, error) {
	db := s.getDB(tx)
	var sessions []*models.ExamSession
	var total int64

	query := db.WithContext(ctx).
		Model(&models.ExamSession{}).
		Where("course_id = ? AND module_id = ?", courseID, moduleID)
	query = s.helpers.ApplySessionFilters(query, filters)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = s.helpers.ApplyPaginationAndSort(query, filters.SortBy, filters.SortOrder, filters.Limit, filters.Offset)
	if err := query.Find(&sessions).Error; err != nil {
		return nil, 0, err
	}

	return sessions, total, nil
}

func (s *SessionPostgreSQL) GetModuleStats(ctx context.Context, tx *gorm.DB, courseID, moduleID string) (*repositories.ModuleSessionStats, error) {
	db := s.getDB(tx)
	stats := &repositories.ModuleSessionStats{}

	type statusCount struct {
		Status models.SessionStatus
		Count  int
	}
	var counts []statusCount
	err := db.WithContext(ctx).
		Model(&models.ExamSession{}).
		Select("status, COUNT(*) as count").
		Where("course_id = ? AND module_id = ?", courseID, moduleID).
		Group("status").
		Scan(&counts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get module stats: %w", err)
	}

	for _, c := range counts {
		stats.TotalSessions += c.Count
		switch c.Status {
		case models.SessionCompleted:
			stats.CompletedSessions = c.Count
		case models.SessionTimedOut:
			stats.TimedOutSessions = c.Count
		case models.SessionInProgress:
			stats.ActiveSessions = c.Count
		}
	}

	var avg *float64
	err = db.WithContext(ctx).
		Model(&models.ExamSession{}).
		Select("AVG(score)").
		Where("course_id = ? AND module_id = ? AND score IS NOT NULL", courseID, moduleID).
		Scan(&avg).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get average score: %w", err)
	}
	if avg != nil {
		stats.AverageScore = *avg
	}

	return stats, nil
}

func (s *SessionPostgreSQL) invalidateByID(ctx context.Context, id uint) {
	cache.SafeDelete(ctx, s.cacheManager.Session,
		fmt.Sprintf("id:%d", id),
		fmt.Sprintf("answers:%d", id))
}

func (s *SessionPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return s.db
}
