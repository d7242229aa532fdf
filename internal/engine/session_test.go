package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"gorm.io/datatypes"

	"github.com/SAP-F-2025/exam-session-service/internal/grader"
	"github.com/SAP-F-2025/exam-session-service/internal/models"
)

// ===== FAKES =====

type answerKey struct {
	sessionID  uint
	questionID uint
}

// fakeStore is an in-memory SessionStore
type fakeStore struct {
	mu        sync.Mutex
	record      *models.ExamSession
	answers     map[answerKey]*models.SessionAnswer
	upsertErr   error
	finalizeErr error
	upserts     int
	finalized   int
}

func newFakeStore(record *models.ExamSession) *fakeStore {
	return &fakeStore{
		record:  record,
		answers: make(map[answerKey]*models.SessionAnswer),
	}
}

func (s *fakeStore) FinalizeSession(ctx context.Context, sessionID uint, timedOut bool) (*models.ExamSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalizeErr != nil {
		return nil, s.finalizeErr
	}
	if s.record.ID != sessionID {
		return nil, fmt.Errorf("unknown session %d", sessionID)
	}
	s.finalized++

	score := 0
	for _, a := range s.answers {
		if a.SessionID == sessionID && a.IsCorrect {
			score++
		}
	}

	updated := *s.record
	updated.Score = &score
	if timedOut {
		updated.Status = models.SessionTimedOut
	} else {
		updated.Status = models.SessionCompleted
	}
	s.record = &updated
	return &updated, nil
}

func (s *fakeStore) UpsertAnswer(ctx context.Context, answer *models.SessionAnswer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.upserts++
	copied := *answer
	s.answers[answerKey{answer.SessionID, answer.QuestionID}] = &copied
	return nil
}

func (s *fakeStore) ListAnswers(ctx context.Context, sessionID uint) ([]*models.SessionAnswer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.SessionAnswer
	for _, a := range s.answers {
		if a.SessionID == sessionID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *fakeStore) answer(t *testing.T, sessionID, questionID uint) *models.SessionAnswer {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.answers[answerKey{sessionID, questionID}]
	if !ok {
		t.Fatalf("no persisted answer for session %d question %d", sessionID, questionID)
	}
	return a
}

func (s *fakeStore) answerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.answers)
}

func (s *fakeStore) upsertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upserts
}

func (s *fakeStore) setUpsertErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertErr = err
}

func (s *fakeStore) setFinalizeErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalizeErr = err
}

func (s *fakeStore) finalizedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalized
}

// fakeOracle returns a fixed grading verdict or error
type fakeOracle struct {
	result *grader.Result
	err    error
}

func (o *fakeOracle) Grade(ctx context.Context, req grader.Request) (*grader.Result, error) {
	if o.err != nil {
		return nil, o.err
	}
	return o.result, nil
}

// ===== FIXTURES =====

func mcContent(t *testing.T, correct string, options ...string) datatypes.JSON {
	t.Helper()
	raw, err := json.Marshal(models.MultipleChoiceContent{
		Options:       options,
		CorrectAnswer: correct,
	})
	if err != nil {
		t.Fatal(err)
	}
	return datatypes.JSON(raw)
}

func frContent(t *testing.T, reference string) datatypes.JSON {
	t.Helper()
	raw, err := json.Marshal(models.FreeResponseContent{
		ReferenceAnswer: reference,
	})
	if err != nil {
		t.Fatal(err)
	}
	return datatypes.JSON(raw)
}

// testExam builds a two-section exam: section one holds two multiple
// choice questions and one free response, section two holds two more
// multiple choice questions.
func testExam(t *testing.T) *models.Exam {
	t.Helper()
	return &models.Exam{
		ID:       1,
		CourseID: "course-1",
		ModuleID: "module-1",
		Title:    "Unit Test 1",
		Status:   models.ExamActive,
		Sections: []models.Section{
			{
				ID:              10,
				Position:        0,
				Title:           "Reading",
				DurationMinutes: 20,
				Questions: []models.Question{
					{ID: 101, Position: 0, Type: models.MultipleChoice, Text: "Pick A", Content: mcContent(t, "A", "A", "B", "C")},
					{ID: 102, Position: 1, Type: models.MultipleChoice, Text: "Pick B", Content: mcContent(t, "B", "A", "B", "C")},
					{ID: 103, Position: 2, Type: models.FreeResponse, Text: "Explain", Content: frContent(t, "because")},
				},
			},
			{
				ID:              11,
				Position:        1,
				Title:           "Writing",
				DurationMinutes: 10,
				Questions: []models.Question{
					{ID: 201, Position: 0, Type: models.MultipleChoice, Text: "Pick C", Content: mcContent(t, "C", "A", "B", "C")},
					{ID: 202, Position: 1, Type: models.MultipleChoice, Text: "Pick D", Content: mcContent(t, "D", "C", "D")},
				},
			},
		},
	}
}

func testRecord(now time.Time) *models.ExamSession {
	return &models.ExamSession{
		ID:             1,
		UserID:         "user-1",
		CourseID:       "course-1",
		ModuleID:       "module-1",
		ExamID:         1,
		Status:         models.SessionInProgress,
		StartedAt:      now,
		EndsAt:         now.Add(30 * time.Minute),
		TotalQuestions: 5,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSession(t *testing.T, store *fakeStore, oracle grader.Oracle) *Session {
	t.Helper()
	if oracle == nil {
		oracle = &fakeOracle{result: &grader.Result{IsCorrect: true}}
	}
	clock := newFakeClock(store.record.StartedAt)
	return newSession(store.record, testExam(t), store, oracle, clock, testLogger())
}

// ===== ANSWER BUFFERING =====

func TestSelectAnswerBuffersUntilMove(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore(testRecord(time.Now()))
	s := newTestSession(t, store, nil)

	state, err := s.SelectAnswer(ctx, "A")
	if err != nil {
		t.Fatalf("SelectAnswer: %v", err)
	}
	if state.Question.SelectedAnswer == nil || *state.Question.SelectedAnswer != "A" {
		t.Errorf("state does not show the buffered answer")
	}
	if store.answerCount() != 0 {
		t.Fatalf("answer persisted before cursor move, got %d records", store.answerCount())
	}

	if _, err := s.Next(ctx); err != nil {
		t.Fatalf("Next: %v", err)
	}

	a := store.answer(t, 1, 101)
	if a.SelectedAnswer == nil || *a.SelectedAnswer != "A" {
		t.Errorf("persisted answer = %v, want A", a.SelectedAnswer)
	}
	if !a.IsCorrect {
		t.Errorf("correct answer graded as incorrect")
	}
}

func TestSelectAnswerRejectsUnknownOption(t *testing.T) {
	store := newFakeStore(testRecord(time.Now()))
	s := newTestSession(t, store, nil)

	if _, err := s.SelectAnswer(context.Background(), "Z"); !errors.Is(err, ErrOptionNotInQuestion) {
		t.Fatalf("SelectAnswer with unknown option = %v, want ErrOptionNotInQuestion", err)
	}
}

func TestFlushSkipsCleanBuffers(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore(testRecord(time.Now()))
	s := newTestSession(t, store, nil)

	if _, err := s.SelectAnswer(ctx, "A"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Next(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Previous(ctx); err != nil {
		t.Fatal(err)
	}
	// moving away again without edits must not rewrite the record
	before := store.upsertCount()
	if _, err := s.Next(ctx); err != nil {
		t.Fatal(err)
	}
	if after := store.upsertCount(); after != before {
		t.Errorf("clean buffer was flushed again, upserts %d -> %d", before, after)
	}
	if store.answerCount() != 1 {
		t.Errorf("answer count = %d, want 1", store.answerCount())
	}
}

func TestFailedUpsertKeepsAnswerOutOfScoreUntilRetry(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore(testRecord(time.Now()))
	s := newTestSession(t, store, nil)

	store.setUpsertErr(errors.New("db down"))

	if _, err := s.SelectAnswer(ctx, "A"); err != nil {
		t.Fatal(err)
	}
	// navigation succeeds even though the write failed
	state, err := s.Next(ctx)
	if err != nil {
		t.Fatalf("Next with failing store: %v", err)
	}
	if state.QuestionIndex != 1 {
		t.Errorf("cursor did not move past the failed flush")
	}
	if store.answerCount() != 0 {
		t.Fatalf("failed upsert still persisted an answer")
	}

	// buffer stays dirty, the next flush of that question retries
	store.setUpsertErr(nil)
	if _, err := s.Previous(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Next(ctx); err != nil {
		t.Fatal(err)
	}
	a := store.answer(t, 1, 101)
	if a.SelectedAnswer == nil || *a.SelectedAnswer != "A" {
		t.Errorf("retried flush did not persist the buffered answer")
	}
}

// ===== GRADING =====

func TestMultipleChoiceGrading(t *testing.T) {
	tests := []struct {
		name    string
		answer  string
		correct bool
	}{
		{name: "exact match", answer: "B", correct: true},
		{name: "wrong option", answer: "A", correct: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := newFakeStore(testRecord(time.Now()))
			s := newTestSession(t, store, nil)

			if _, err := s.Next(ctx); err != nil {
				t.Fatal(err)
			}
			if _, err := s.SelectAnswer(ctx, tt.answer); err != nil {
				t.Fatal(err)
			}
			if _, err := s.Previous(ctx); err != nil {
				t.Fatal(err)
			}

			if got := store.answer(t, 1, 102).IsCorrect; got != tt.correct {
				t.Errorf("IsCorrect = %v, want %v", got, tt.correct)
			}
		})
	}
}

func TestFreeResponseGradedByOracle(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore(testRecord(time.Now()))
	oracle := &fakeOracle{result: &grader.Result{IsCorrect: true, Feedback: "well reasoned"}}
	s := newTestSession(t, store, oracle)

	if _, err := s.JumpTo(ctx, 2); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SelectAnswer(ctx, "my essay"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.JumpTo(ctx, 0); err != nil {
		t.Fatal(err)
	}

	a := store.answer(t, 1, 103)
	if !a.IsCorrect {
		t.Errorf("oracle verdict not applied")
	}
	if a.AIFeedback == nil || *a.AIFeedback != "well reasoned" {
		t.Errorf("AIFeedback = %v, want oracle feedback", a.AIFeedback)
	}
}

func TestFreeResponseOracleFailureFallsBack(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore(testRecord(time.Now()))
	oracle := &fakeOracle{err: errors.New("api unreachable")}
	s := newTestSession(t, store, oracle)

	if _, err := s.JumpTo(ctx, 2); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SelectAnswer(ctx, "my essay"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.JumpTo(ctx, 0); err != nil {
		t.Fatal(err)
	}

	a := store.answer(t, 1, 103)
	if a.IsCorrect {
		t.Errorf("ungraded answer counted as correct")
	}
	if a.AIFeedback == nil || *a.AIFeedback != aiFeedbackFallback {
		t.Errorf("AIFeedback = %v, want fallback message", a.AIFeedback)
	}
}

// ===== NAVIGATION =====

func TestNavigationClampsAtSectionBounds(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore(testRecord(time.Now()))
	s := newTestSession(t, store, nil)

	state, err := s.Previous(ctx)
	if err != nil {
		t.Fatalf("Previous at first question: %v", err)
	}
	if state.QuestionIndex != 0 {
		t.Errorf("Previous at start moved to %d", state.QuestionIndex)
	}

	for i := 0; i < 5; i++ {
		if state, err = s.Next(ctx); err != nil {
			t.Fatalf("Next: %v", err)
		}
	}
	if state.QuestionIndex != 2 {
		t.Errorf("Next past section end = %d, want clamp at 2", state.QuestionIndex)
	}
	if state.SectionIndex != 0 {
		t.Errorf("Next crossed a section boundary")
	}
}

func TestJumpToValidatesRange(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore(testRecord(time.Now()))
	s := newTestSession(t, store, nil)

	if _, err := s.JumpTo(ctx, 3); !errors.Is(err, ErrQuestionOutOfRange) {
		t.Errorf("JumpTo(3) = %v, want ErrQuestionOutOfRange", err)
	}
	if _, err := s.JumpTo(ctx, -1); !errors.Is(err, ErrQuestionOutOfRange) {
		t.Errorf("JumpTo(-1) = %v, want ErrQuestionOutOfRange", err)
	}

	state, err := s.JumpTo(ctx, 2)
	if err != nil {
		t.Fatalf("JumpTo(2): %v", err)
	}
	if state.QuestionIndex != 2 {
		t.Errorf("JumpTo(2) landed on %d", state.QuestionIndex)
	}
}

func TestNextSectionMovesForwardOnly(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore(testRecord(time.Now()))
	s := newTestSession(t, store, nil)

	if _, err := s.SelectAnswer(ctx, "A"); err != nil {
		t.Fatal(err)
	}

	state, err := s.NextSection(ctx)
	if err != nil {
		t.Fatalf("NextSection: %v", err)
	}
	if state.SectionIndex != 1 || state.QuestionIndex != 0 {
		t.Errorf("cursor = (%d,%d), want (1,0)", state.SectionIndex, state.QuestionIndex)
	}
	// entering a section flushes the answer left behind
	if store.answerCount() != 1 {
		t.Errorf("section change did not flush the pending answer")
	}

	if _, err := s.NextSection(ctx); !errors.Is(err, ErrAlreadyLastSection) {
		t.Errorf("NextSection at last section = %v, want ErrAlreadyLastSection", err)
	}
}

// ===== PALETTE =====

func TestPaletteStatuses(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore(testRecord(time.Now()))
	s := newTestSession(t, store, nil)

	// q0 answered, q1 answered and flagged, q2 untouched
	if _, err := s.SelectAnswer(ctx, "A"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Next(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SelectAnswer(ctx, "B"); err != nil {
		t.Fatal(err)
	}
	state, err := s.ToggleMarkForReview(ctx)
	if err != nil {
		t.Fatal(err)
	}

	want := []QuestionStatus{StatusAnswered, StatusFlagged, StatusSkipped}
	if len(state.Palette) != len(want) {
		t.Fatalf("palette has %d entries, want %d", len(state.Palette), len(want))
	}
	for i, entry := range state.Palette {
		if entry.Status != want[i] {
			t.Errorf("palette[%d] = %s, want %s", i, entry.Status, want[i])
		}
	}
	if !state.Palette[1].Current {
		t.Errorf("palette does not mark the cursor position")
	}

	// unflagging reveals the answered status again
	state, err = s.ToggleMarkForReview(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if state.Palette[1].Status != StatusAnswered {
		t.Errorf("palette[1] after unflag = %s, want %s", state.Palette[1].Status, StatusAnswered)
	}
}

func TestToggleEliminateOption(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore(testRecord(time.Now()))
	s := newTestSession(t, store, nil)

	if _, err := s.ToggleEliminateOption(ctx, "Z"); !errors.Is(err, ErrOptionNotInQuestion) {
		t.Fatalf("eliminating unknown option = %v, want ErrOptionNotInQuestion", err)
	}

	state, err := s.ToggleEliminateOption(ctx, "C")
	if err != nil {
		t.Fatal(err)
	}
	if len(state.Question.EliminatedOptions) != 1 || state.Question.EliminatedOptions[0] != "C" {
		t.Errorf("eliminated = %v, want [C]", state.Question.EliminatedOptions)
	}

	state, err = s.ToggleEliminateOption(ctx, "C")
	if err != nil {
		t.Fatal(err)
	}
	if len(state.Question.EliminatedOptions) != 0 {
		t.Errorf("second toggle did not restore the option")
	}
}

// ===== FINISH =====

func TestFinishFlushesAndFinalizes(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore(testRecord(time.Now()))
	s := newTestSession(t, store, nil)

	if _, err := s.SelectAnswer(ctx, "A"); err != nil {
		t.Fatal(err)
	}

	updated, err := s.Finish(ctx)
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if updated.Status != models.SessionCompleted {
		t.Errorf("status = %s, want %s", updated.Status, models.SessionCompleted)
	}
	if updated.Score == nil || *updated.Score != 1 {
		t.Errorf("score = %v, want 1", updated.Score)
	}
	if store.finalizedCount() != 1 {
		t.Errorf("finalize called %d times, want 1", store.finalizedCount())
	}
	// the answer still buffered at finish time made it into the score
	if store.answerCount() != 1 {
		t.Errorf("pending answer not flushed on finish")
	}

	if _, err := s.Finish(ctx); !errors.Is(err, ErrSessionFinished) {
		t.Errorf("second Finish = %v, want ErrSessionFinished", err)
	}
	if _, err := s.SelectAnswer(ctx, "B"); !errors.Is(err, ErrSessionFinished) {
		t.Errorf("SelectAnswer after finish = %v, want ErrSessionFinished", err)
	}
}

func TestFinishRecoversFromStoreFailure(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore(testRecord(time.Now()))
	s := newTestSession(t, store, nil)

	store.setFinalizeErr(errors.New("db down"))

	if _, err := s.Finish(ctx); err == nil {
		t.Fatal("Finish with failing store succeeded")
	}
	if store.finalizedCount() != 0 {
		t.Errorf("failed finalize still recorded a completion")
	}

	// the runner is usable again after the failed attempt
	store.setFinalizeErr(nil)
	updated, err := s.Finish(ctx)
	if err != nil {
		t.Fatalf("Finish after recovery: %v", err)
	}
	if updated.Status != models.SessionCompleted {
		t.Errorf("status after recovery = %s, want %s", updated.Status, models.SessionCompleted)
	}
	if store.finalizedCount() != 1 {
		t.Errorf("finalize called %d times, want 1", store.finalizedCount())
	}
}

// ===== MANAGER =====

func TestManagerAttachReusesLiveRunner(t *testing.T) {
	ctx := context.Background()
	record := testRecord(time.Now())
	store := newFakeStore(record)
	clock := newFakeClock(record.StartedAt)
	m := NewManager(store, &fakeOracle{}, clock, testLogger())

	exam := testExam(t)
	first, err := m.Attach(ctx, record, exam)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	second, err := m.Attach(ctx, record, exam)
	if err != nil {
		t.Fatalf("second Attach: %v", err)
	}
	if first != second {
		t.Errorf("Attach built a duplicate runner for a live session")
	}
	if m.Len() != 1 {
		t.Errorf("manager holds %d runners, want 1", m.Len())
	}

	if _, ok := m.GetByOwner(record.UserID, record.CourseID, record.ModuleID); !ok {
		t.Errorf("owner lookup missed the live runner")
	}

	m.Shutdown()
	if m.Len() != 0 {
		t.Errorf("shutdown left %d runners registered", m.Len())
	}
}

func TestManagerAttachRehydratesBuffers(t *testing.T) {
	ctx := context.Background()
	record := testRecord(time.Now())
	store := newFakeStore(record)

	answer := "A"
	store.answers[answerKey{1, 101}] = &models.SessionAnswer{
		SessionID:       1,
		QuestionID:      101,
		UserID:          record.UserID,
		SelectedAnswer:  &answer,
		IsCorrect:       true,
		MarkedForReview: true,
	}

	clock := newFakeClock(record.StartedAt)
	m := NewManager(store, &fakeOracle{}, clock, testLogger())

	runner, err := m.Attach(ctx, record, testExam(t))
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}

	state := runner.State()
	// resume always lands on the first question of the first section
	if state.SectionIndex != 0 || state.QuestionIndex != 0 {
		t.Errorf("resume cursor = (%d,%d), want (0,0)", state.SectionIndex, state.QuestionIndex)
	}
	if state.Question.SelectedAnswer == nil || *state.Question.SelectedAnswer != "A" {
		t.Errorf("rehydrated answer missing from state")
	}
	if !state.Question.MarkedForReview {
		t.Errorf("rehydrated review flag lost")
	}
	if state.Palette[0].Status != StatusFlagged {
		t.Errorf("palette[0] = %s, want %s", state.Palette[0].Status, StatusFlagged)
	}
}

func TestExpiryFinalizesOnceAndRemovesRunner(t *testing.T) {
	ctx := context.Background()
	record := testRecord(time.Now())
	record.EndsAt = record.StartedAt.Add(time.Minute)
	store := newFakeStore(record)
	clock := newFakeClock(record.StartedAt)
	m := NewManager(store, &fakeOracle{}, clock, testLogger())

	if _, err := m.Attach(ctx, record, testExam(t)); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	clock.Advance(2 * time.Minute)
	clock.Tick()

	deadline := time.Now().Add(2 * time.Second)
	for store.finalizedCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := store.finalizedCount(); got != 1 {
		t.Fatalf("expiry finalized %d times, want 1", got)
	}

	store.mu.Lock()
	status := store.record.Status
	store.mu.Unlock()
	if status != models.SessionTimedOut {
		t.Errorf("status after expiry = %s, want %s", status, models.SessionTimedOut)
	}

	// the runner unregisters itself after finalizing
	deadline = time.Now().Add(2 * time.Second)
	for m.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if m.Len() != 0 {
		t.Errorf("expired runner still registered")
	}
}

func TestCloseKeepsSessionResumable(t *testing.T) {
	ctx := context.Background()
	record := testRecord(time.Now())
	store := newFakeStore(record)
	clock := newFakeClock(record.StartedAt)
	m := NewManager(store, &fakeOracle{}, clock, testLogger())

	runner, err := m.Attach(ctx, record, testExam(t))
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}

	runner.Close()

	if store.finalizedCount() != 0 {
		t.Errorf("Close finalized the session")
	}
	if m.Len() != 0 {
		t.Errorf("closed runner still registered")
	}
	if record.Status != models.SessionInProgress {
		t.Errorf("status after Close = %s, want %s", record.Status, models.SessionInProgress)
	}
}
