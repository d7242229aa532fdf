package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"gorm.io/datatypes"

	"github.com/SAP-F-2025/exam-session-service/internal/grader"
	"github.com/SAP-F-2025/exam-session-service/internal/models"
)

// aiFeedbackFallback is stored verbatim when the grading oracle is
// unreachable or returns garbage
const aiFeedbackFallback = "Could not get AI feedback. Please review manually."

var (
	ErrSessionFinished     = errors.New("session already finished")
	ErrQuestionOutOfRange  = errors.New("question index out of range")
	ErrAlreadyLastSection  = errors.New("already in the last section")
	ErrOptionNotInQuestion = errors.New("option does not exist on this question")
)

// SessionStore persists session and answer state on behalf of a runner.
// Implemented by the session service.
type SessionStore interface {
	FinalizeSession(ctx context.Context, sessionID uint, timedOut bool) (*models.ExamSession, error)
	UpsertAnswer(ctx context.Context, answer *models.SessionAnswer) error
	ListAnswers(ctx context.Context, sessionID uint) ([]*models.SessionAnswer, error)
}

// QuestionStatus is the palette state of a single question
type QuestionStatus string

const (
	StatusFlagged  QuestionStatus = "flagged"
	StatusAnswered QuestionStatus = "answered"
	StatusSkipped  QuestionStatus = "skipped"
)

// answerBuffer holds the in-memory working state for one question. It is
// flushed to the store before every cursor move and on finish.
type answerBuffer struct {
	value      *string
	marked     bool
	eliminated map[string]bool
	dirty      bool
}

func (b *answerBuffer) eliminatedList() []string {
	if len(b.eliminated) == 0 {
		return nil
	}
	out := make([]string, 0, len(b.eliminated))
	for opt, on := range b.eliminated {
		if on {
			out = append(out, opt)
		}
	}
	return out
}

// Session drives one in-progress exam session: cursor, answer buffers,
// countdown timer and the finish path. All methods are safe for
// concurrent use.
type Session struct {
	mu sync.Mutex

	store  SessionStore
	oracle grader.Oracle
	clock  Clock
	logger *slog.Logger

	record *models.ExamSession
	exam   *models.Exam

	sectionIdx  int
	questionIdx int
	buffers     map[uint]*answerBuffer

	timer     *Timer
	finishing bool
	onClose   func(*Session)
}

func newSession(record *models.ExamSession, exam *models.Exam, store SessionStore, oracle grader.Oracle, clock Clock, logger *slog.Logger) *Session {
	return &Session{
		store:   store,
		oracle:  oracle,
		clock:   clock,
		logger:  logger,
		record:  record,
		exam:    exam,
		buffers: make(map[uint]*answerBuffer),
	}
}

// Record returns the underlying session row
func (s *Session) Record() *models.ExamSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record
}

// rehydrate restores answer buffers from previously persisted records,
// used when resuming an interrupted session
func (s *Session) rehydrate(answers []*models.SessionAnswer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range answers {
		buf := &answerBuffer{
			marked:     a.MarkedForReview,
			eliminated: make(map[string]bool),
		}
		if a.SelectedAnswer != nil {
			v := *a.SelectedAnswer
			buf.value = &v
		}
		for _, opt := range a.Eliminated() {
			buf.eliminated[opt] = true
		}
		s.buffers[a.QuestionID] = buf
	}
}

// startTimer arms the countdown against the session deadline
func (s *Session) startTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.timer = NewTimer(s.clock, s.record.EndsAt, s.expire)
	s.timer.Start()
}

// ===== CURSOR ACCESS =====

func (s *Session) currentSection() *models.Section {
	return &s.exam.Sections[s.sectionIdx]
}

func (s *Session) currentQuestion() *models.Question {
	return &s.currentSection().Questions[s.questionIdx]
}

func (s *Session) bufferFor(questionID uint) *answerBuffer {
	buf, ok := s.buffers[questionID]
	if !ok {
		buf = &answerBuffer{eliminated: make(map[string]bool)}
		s.buffers[questionID] = buf
	}
	return buf
}

func (s *Session) ensureActive() error {
	if s.finishing || s.record.IsTerminal() {
		return ErrSessionFinished
	}
	return nil
}

// ===== ANSWER INTENTS =====

// SelectAnswer records the student's answer for the current question in
// the buffer. Nothing is persisted until the cursor moves.
func (s *Session) SelectAnswer(ctx context.Context, value string) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureActive(); err != nil {
		return nil, err
	}

	q := s.currentQuestion()
	if q.Type == models.MultipleChoice {
		content, err := q.MultipleChoiceContent()
		if err != nil {
			return nil, err
		}
		found := false
		for _, opt := range content.Options {
			if opt == value {
				found = true
				break
			}
		}
		if !found {
			return nil, ErrOptionNotInQuestion
		}
	}

	buf := s.bufferFor(q.ID)
	buf.value = &value
	buf.dirty = true

	return s.stateLocked(), nil
}

// ToggleMarkForReview flips the review flag on the current question
func (s *Session) ToggleMarkForReview(ctx context.Context) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureActive(); err != nil {
		return nil, err
	}

	buf := s.bufferFor(s.currentQuestion().ID)
	buf.marked = !buf.marked
	buf.dirty = true

	return s.stateLocked(), nil
}

// ToggleEliminateOption strikes an option out (or back in) on the current
// multiple-choice question
func (s *Session) ToggleEliminateOption(ctx context.Context, option string) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureActive(); err != nil {
		return nil, err
	}

	q := s.currentQuestion()
	content, err := q.MultipleChoiceContent()
	if err != nil {
		return nil, err
	}
	found := false
	for _, opt := range content.Options {
		if opt == option {
			found = true
			break
		}
	}
	if !found {
		return nil, ErrOptionNotInQuestion
	}

	buf := s.bufferFor(q.ID)
	buf.eliminated[option] = !buf.eliminated[option]
	buf.dirty = true

	return s.stateLocked(), nil
}

// ===== NAVIGATION =====

// Next advances to the following question in the section, flushing the
// current answer first. At the last question of the section it stays put.
func (s *Session) Next(ctx context.Context) (*State, error) {
	return s.moveTo(ctx, s.clampIndex(func() int { return s.questionIdx + 1 }))
}

// Previous moves back one question within the section
func (s *Session) Previous(ctx context.Context) (*State, error) {
	return s.moveTo(ctx, s.clampIndex(func() int { return s.questionIdx - 1 }))
}

func (s *Session) clampIndex(next func() int) func() (int, error) {
	return func() (int, error) {
		idx := next()
		if idx < 0 {
			idx = 0
		}
		if max := len(s.currentSection().Questions) - 1; idx > max {
			idx = max
		}
		return idx, nil
	}
}

// JumpTo moves the cursor to an arbitrary question inside the current
// section
func (s *Session) JumpTo(ctx context.Context, questionIdx int) (*State, error) {
	return s.moveTo(ctx, func() (int, error) {
		if questionIdx < 0 || questionIdx >= len(s.currentSection().Questions) {
			return 0, ErrQuestionOutOfRange
		}
		return questionIdx, nil
	})
}

func (s *Session) moveTo(ctx context.Context, target func() (int, error)) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureActive(); err != nil {
		return nil, err
	}

	idx, err := target()
	if err != nil {
		return nil, err
	}

	s.flushCurrentLocked(ctx)
	s.questionIdx = idx

	return s.stateLocked(), nil
}

// NextSection commits the current section and moves to the first question
// of the following one. Sections only move forward.
func (s *Session) NextSection(ctx context.Context) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureActive(); err != nil {
		return nil, err
	}
	if s.sectionIdx >= len(s.exam.Sections)-1 {
		return nil, ErrAlreadyLastSection
	}

	s.flushCurrentLocked(ctx)
	s.sectionIdx++
	s.questionIdx = 0

	return s.stateLocked(), nil
}

// ===== FLUSH AND GRADING =====

// flushCurrentLocked grades and persists the current question's buffer if
// it changed since the last flush. A failed write is logged and skipped:
// navigation never blocks on storage, the answer simply stays out of the
// score until a later flush succeeds.
func (s *Session) flushCurrentLocked(ctx context.Context) {
	q := s.currentQuestion()
	buf, ok := s.buffers[q.ID]
	if !ok || !buf.dirty {
		return
	}

	answer := &models.SessionAnswer{
		SessionID:       s.record.ID,
		QuestionID:      q.ID,
		UserID:          s.record.UserID,
		SelectedAnswer:  buf.value,
		MarkedForReview: buf.marked,
	}
	if elim := buf.eliminatedList(); len(elim) > 0 {
		if raw, err := json.Marshal(elim); err == nil {
			answer.EliminatedOptions = datatypes.JSON(raw)
		}
	}

	if buf.value != nil {
		s.gradeLocked(ctx, q, *buf.value, answer)
	}

	if err := s.store.UpsertAnswer(ctx, answer); err != nil {
		s.logger.Warn("failed to persist answer",
			"session_id", s.record.ID,
			"question_id", q.ID,
			"error", err)
		return
	}
	buf.dirty = false
}

func (s *Session) gradeLocked(ctx context.Context, q *models.Question, value string, answer *models.SessionAnswer) {
	switch q.Type {
	case models.MultipleChoice:
		content, err := q.MultipleChoiceContent()
		if err != nil {
			s.logger.Error("unreadable question content", "question_id", q.ID, "error", err)
			return
		}
		answer.IsCorrect = value == content.CorrectAnswer

	case models.FreeResponse:
		content, err := q.FreeResponseContent()
		if err != nil {
			s.logger.Error("unreadable question content", "question_id", q.ID, "error", err)
			return
		}
		result, err := s.oracle.Grade(ctx, grader.Request{
			UserAnswer:      value,
			QuestionText:    q.Text,
			ReferenceAnswer: content.ReferenceAnswer,
			Explanation:     content.Explanation,
		})
		if err != nil {
			s.logger.Warn("grading oracle unavailable",
				"session_id", s.record.ID,
				"question_id", q.ID,
				"error", err)
			fallback := aiFeedbackFallback
			answer.IsCorrect = false
			answer.AIFeedback = &fallback
			return
		}
		answer.IsCorrect = result.IsCorrect
		if result.Feedback != "" {
			feedback := result.Feedback
			answer.AIFeedback = &feedback
		}
	}
}

// ===== FINISH =====

// Finish flushes the current answer, stops the timer and finalizes the
// session with a score computed from the persisted answer records.
func (s *Session) Finish(ctx context.Context) (*models.ExamSession, error) {
	return s.finish(ctx, false)
}

func (s *Session) finish(ctx context.Context, timedOut bool) (*models.ExamSession, error) {
	s.mu.Lock()
	if err := s.ensureActive(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.finishing = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.flushCurrentLocked(ctx)
	s.mu.Unlock()

	updated, err := s.store.FinalizeSession(ctx, s.record.ID, timedOut)
	if err != nil {
		s.mu.Lock()
		s.finishing = false
		s.mu.Unlock()
		return nil, err
	}

	s.mu.Lock()
	s.record = updated
	s.mu.Unlock()

	s.close()
	return updated, nil
}

// expire is the timer callback. It finalizes as timed out with a fresh
// context since the originating request is long gone.
func (s *Session) expire() {
	s.mu.Lock()
	sessionID := s.record.ID
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.finish(ctx, true); err != nil && !errors.Is(err, ErrSessionFinished) {
		s.logger.Error("failed to finalize expired session",
			"session_id", sessionID,
			"error", err)
	}
}

// Close stops the timer without finalizing, used on shutdown so an
// interrupted session stays resumable
func (s *Session) Close() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()
	s.close()
}

func (s *Session) close() {
	if s.onClose != nil {
		s.onClose(s)
	}
}

// ===== STATE SNAPSHOT =====

// State returns a snapshot of the runner for transport to the client
func (s *Session) State() *State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Session) stateLocked() *State {
	section := s.currentSection()
	q := s.currentQuestion()
	remaining := Remaining(s.record.EndsAt, s.clock.Now())

	view := QuestionView{
		ID:    q.ID,
		Index: s.questionIdx,
		Type:  q.Type,
		Text:  q.Text,
	}
	if q.Type == models.MultipleChoice {
		if content, err := q.MultipleChoiceContent(); err == nil {
			view.Options = content.Options
		}
	}
	if buf, ok := s.buffers[q.ID]; ok {
		view.SelectedAnswer = buf.value
		view.MarkedForReview = buf.marked
		view.EliminatedOptions = buf.eliminatedList()
	}

	return &State{
		SessionID:     s.record.ID,
		Status:        s.record.Status,
		SectionIndex:  s.sectionIdx,
		QuestionIndex: s.questionIdx,
		Section: SectionView{
			Index:         s.sectionIdx,
			Title:         section.Title,
			QuestionCount: len(section.Questions),
		},
		Question:         view,
		Palette:          s.paletteLocked(),
		RemainingSeconds: int(remaining / time.Second),
		RemainingDisplay: FormatRemaining(remaining),
		TotalSections:    len(s.exam.Sections),
	}
}

// paletteLocked builds the per-question status strip for the current
// section. A flagged question shows as flagged even when answered.
func (s *Session) paletteLocked() []PaletteEntry {
	questions := s.currentSection().Questions
	palette := make([]PaletteEntry, 0, len(questions))

	for i := range questions {
		q := &questions[i]
		status := StatusSkipped
		if buf, ok := s.buffers[q.ID]; ok {
			switch {
			case buf.marked:
				status = StatusFlagged
			case buf.value != nil:
				status = StatusAnswered
			}
		}
		palette = append(palette, PaletteEntry{
			QuestionID: q.ID,
			Index:      i,
			Status:     status,
			Current:    i == s.questionIdx,
		})
	}
	return palette
}
