package engine

import "github.com/SAP-F-2025/exam-session-service/internal/models"

// QuestionView is the client-facing rendering of the current question.
// Correct answers and reference answers never leave the server.
type QuestionView struct {
	ID                uint                `json:"id"`
	Index             int                 `json:"index"`
	Type              models.QuestionType `json:"type"`
	Text              string              `json:"text"`
	Options           []string            `json:"options,omitempty"`
	SelectedAnswer    *string             `json:"selected_answer,omitempty"`
	MarkedForReview   bool                `json:"marked_for_review"`
	EliminatedOptions []string            `json:"eliminated_options,omitempty"`
}

// PaletteEntry is one cell of the question status strip
type PaletteEntry struct {
	QuestionID uint           `json:"question_id"`
	Index      int            `json:"index"`
	Status     QuestionStatus `json:"status"`
	Current    bool           `json:"current"`
}

// SectionView summarizes the section the cursor is in
type SectionView struct {
	Index         int    `json:"index"`
	Title         string `json:"title"`
	QuestionCount int    `json:"question_count"`
}

// State is a full snapshot of a running session, returned after every
// intent so the client can re-render without extra round trips
type State struct {
	SessionID        uint                 `json:"session_id"`
	Status           models.SessionStatus `json:"status"`
	SectionIndex     int                  `json:"section_index"`
	QuestionIndex    int                  `json:"question_index"`
	Section          SectionView          `json:"section"`
	Question         QuestionView         `json:"question"`
	Palette          []PaletteEntry       `json:"palette"`
	RemainingSeconds int                  `json:"remaining_seconds"`
	RemainingDisplay string               `json:"remaining_display"`
	TotalSections    int                  `json:"total_sections"`
}
