package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// SessionAnswer is the persisted answer state for one question inside one
// session. Keyed uniquely by (session_id, question_id); writes are upserts.
type SessionAnswer struct {
	ID         uint   `json:"id" gorm:"primaryKey"`
	SessionID  uint   `json:"session_id" gorm:"not null;uniqueIndex:idx_session_question"`
	QuestionID uint   `json:"question_id" gorm:"not null;uniqueIndex:idx_session_question"`
	UserID     string `json:"user_id" gorm:"not null;index;size:255"`

	SelectedAnswer  *string `json:"selected_answer" gorm:"type:text"`
	IsCorrect       bool    `json:"is_correct"`
	MarkedForReview bool    `json:"marked_for_review"`

	// []string of option values the user crossed out
	EliminatedOptions datatypes.JSON `json:"eliminated_options" gorm:"type:jsonb"`

	AIFeedback *string `json:"ai_feedback" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Session  ExamSession `json:"-" gorm:"foreignKey:SessionID"`
	Question Question    `json:"question" gorm:"foreignKey:QuestionID"`
}

func (SessionAnswer) TableName() string {
	return "session_answers"
}

// Eliminated decodes the eliminated options set, nil when empty or malformed
func (a *SessionAnswer) Eliminated() []string {
	if len(a.EliminatedOptions) == 0 {
		return nil
	}
	var options []string
	if err := json.Unmarshal(a.EliminatedOptions, &options); err != nil {
		return nil
	}
	return options
}

// HasAnswer reports whether a non-empty answer value was recorded
func (a *SessionAnswer) HasAnswer() bool {
	return a.SelectedAnswer != nil && *a.SelectedAnswer != ""
}
