package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

type ExamStatus string

const (
	ExamDraft    ExamStatus = "draft"
	ExamActive   ExamStatus = "active"
	ExamArchived ExamStatus = "archived"
)

type QuestionType string

const (
	MultipleChoice QuestionType = "multiple_choice"
	FreeResponse   QuestionType = "free_response"
)

// Exam is the static unit-test definition for one course module.
// Immutable for the lifetime of any session taken against it.
type Exam struct {
	ID       uint       `json:"id" gorm:"primaryKey"`
	CourseID string     `json:"course_id" gorm:"not null;size:255;uniqueIndex:idx_exam_course_module"`
	ModuleID string     `json:"module_id" gorm:"not null;size:255;uniqueIndex:idx_exam_course_module"`
	Title    string     `json:"title" gorm:"not null;size:200" validate:"required"`
	Status   ExamStatus `json:"status" gorm:"default:active;index"`

	CreatedBy string    `json:"created_by" gorm:"size:255"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Sections []Section `json:"sections" gorm:"foreignKey:ExamID"`
}

func (Exam) TableName() string {
	return "exams"
}

// TotalQuestions counts questions across all sections
func (e *Exam) TotalQuestions() int {
	total := 0
	for i := range e.Sections {
		total += len(e.Sections[i].Questions)
	}
	return total
}

// TotalDuration sums all section durations
func (e *Exam) TotalDuration() time.Duration {
	total := 0
	for i := range e.Sections {
		total += e.Sections[i].DurationMinutes
	}
	return time.Duration(total) * time.Minute
}

// Section is a timed sub-block of an exam traversed in fixed order
type Section struct {
	ID              uint   `json:"id" gorm:"primaryKey"`
	ExamID          uint   `json:"exam_id" gorm:"not null;index"`
	Position        int    `json:"position" gorm:"not null"`
	Title           string `json:"title" gorm:"not null;size:200"`
	DurationMinutes int    `json:"duration_minutes" gorm:"not null" validate:"min=1,max=300"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Questions []Question `json:"questions" gorm:"foreignKey:SectionID"`
}

func (Section) TableName() string {
	return "exam_sections"
}

type Question struct {
	ID        uint         `json:"id" gorm:"primaryKey"`
	SectionID uint         `json:"section_id" gorm:"not null;index"`
	Position  int          `json:"position" gorm:"not null"`
	Type      QuestionType `json:"type" gorm:"not null"`
	Text      string       `json:"text" gorm:"type:text;not null" validate:"required"`

	// Variant-specific content stored as JSONB, decoded through the
	// typed accessors below
	Content datatypes.JSON `json:"content" gorm:"type:jsonb"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Question) TableName() string {
	return "exam_questions"
}

// MultipleChoiceContent is the content schema for multiple_choice questions
type MultipleChoiceContent struct {
	Options       []string `json:"options" validate:"min=2,max=10"`
	CorrectAnswer string   `json:"correct_answer" validate:"required"`
	Explanation   string   `json:"explanation,omitempty"`
}

// FreeResponseContent is the content schema for free_response questions
type FreeResponseContent struct {
	ReferenceAnswer string `json:"reference_answer" validate:"required"`
	Explanation     string `json:"explanation,omitempty"`
}

// MultipleChoiceContent decodes the question content as a multiple-choice variant
func (q *Question) MultipleChoiceContent() (*MultipleChoiceContent, error) {
	if q.Type != MultipleChoice {
		return nil, fmt.Errorf("question %d is %s, not %s", q.ID, q.Type, MultipleChoice)
	}
	var content MultipleChoiceContent
	if err := json.Unmarshal(q.Content, &content); err != nil {
		return nil, fmt.Errorf("invalid multiple choice content for question %d: %w", q.ID, err)
	}
	return &content, nil
}

// FreeResponseContent decodes the question content as a free-response variant
func (q *Question) FreeResponseContent() (*FreeResponseContent, error) {
	if q.Type != FreeResponse {
		return nil, fmt.Errorf("question %d is %s, not %s", q.ID, q.Type, FreeResponse)
	}
	var content FreeResponseContent
	if err := json.Unmarshal(q.Content, &content); err != nil {
		return nil, fmt.Errorf("invalid free response content for question %d: %w", q.ID, err)
	}
	return &content, nil
}
