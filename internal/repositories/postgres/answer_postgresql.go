package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/SAP-F-2025/exam-session-service/internal/cache"
	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
)

type AnswerPostgreSQL struct {
	db           *gorm.DB
	cacheManager *cache.CacheManager
}

func NewAnswerPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.AnswerRepository {
	return &AnswerPostgreSQL{
		db:           db,
		cacheManager: cache.NewCacheManager(redisClient),
	}
}

// Upsert writes the answer for (session_id, question_id), overwriting any
// previous record. Resubmission with identical content is a no-op update.
func (a *AnswerPostgreSQL) Upsert(ctx context.Context, tx *gorm.DB, answer *models.SessionAnswer) error {
	db := a.getDB(tx)
	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "session_id"}, {Name: "question_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"selected_answer",
				"is_correct",
				"marked_for_review",
				"eliminated_options",
				"ai_feedback",
				"updated_at",
			}),
		}).
		Create(answer).Error
	if err != nil {
		return fmt.Errorf("failed to upsert answer: %w", err)
	}

	cache.SafeDelete(ctx, a.cacheManager.Session, fmt.Sprintf("answers:%d", answer.SessionID))
	return nil
}

func (a *AnswerPostgreSQL) GetBySession(ctx context.Context, tx *gorm.DB, sessionID uint) ([]*models.SessionAnswer, error) {
	db := a.getDB(tx)
	var answers []*models.SessionAnswer
	err := db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("question_id ASC").
		Find(&answers).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list session answers: %w", err)
	}
	return answers, nil
}

func (a *AnswerPostgreSQL) GetByQuestion(ctx context.Context, tx *gorm.DB, sessionID, questionID uint) (*models.SessionAnswer, error) {
	db := a.getDB(tx)
	var answer models.SessionAnswer
	err := db.WithContext(ctx).
		Where("session_id = ? AND question_id = ?", sessionID, questionID).
		First(&answer).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get answer: %w", err)
	}
	return &answer, nil
}

func (a *AnswerPostgreSQL) CountCorrect(ctx context.Context, tx *gorm.DB, sessionID uint) (int, error) {
	db := a.getDB(tx)
	var count int64
	err := db.WithContext(ctx).
		Model(&models.SessionAnswer{}).
		Where("session_id = ? AND is_correct = ?", sessionID, true).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count correct answers: %w", err)
	}
	return int(count), nil
}

func (a *AnswerPostgreSQL) DeleteBySession(ctx context.Context, tx *gorm.DB, sessionID uint) error {
	db := a.getDB(tx)
	err := db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Delete(&models.SessionAnswer{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete session answers: %w", err)
	}

	cache.SafeDelete(ctx, a.cacheManager.Session, fmt.Sprintf("answers:%d", sessionID))
	return nil
}

func (a *AnswerPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return a.db
}
