package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/SAP-F-2025/exam-session-service/internal/grader"
	"github.com/SAP-F-2025/exam-session-service/internal/models"
)

// Manager is the in-process registry of live session runners, keyed both
// by session ID and by owner so intents and resume lookups stay O(1)
type Manager struct {
	mu      sync.RWMutex
	byID    map[uint]*Session
	byOwner map[string]*Session

	store  SessionStore
	oracle grader.Oracle
	clock  Clock
	logger *slog.Logger
}

func NewManager(store SessionStore, oracle grader.Oracle, clock Clock, logger *slog.Logger) *Manager {
	return &Manager{
		byID:    make(map[uint]*Session),
		byOwner: make(map[string]*Session),
		store:   store,
		oracle:  oracle,
		clock:   clock,
		logger:  logger,
	}
}

func ownerKey(userID, courseID, moduleID string) string {
	return fmt.Sprintf("%s:%s:%s", userID, courseID, moduleID)
}

// Attach builds a runner for an in-progress session, rehydrates its
// buffers from persisted answers and arms the countdown. Attaching a
// session that already has a live runner returns the existing one.
func (m *Manager) Attach(ctx context.Context, record *models.ExamSession, exam *models.Exam) (*Session, error) {
	m.mu.Lock()
	if existing, ok := m.byID[record.ID]; ok {
		m.mu.Unlock()
		return existing, nil
	}

	runner := newSession(record, exam, m.store, m.oracle, m.clock, m.logger)
	runner.onClose = m.remove
	m.byID[record.ID] = runner
	m.byOwner[ownerKey(record.UserID, record.CourseID, record.ModuleID)] = runner
	m.mu.Unlock()

	answers, err := m.store.ListAnswers(ctx, record.ID)
	if err != nil {
		m.remove(runner)
		return nil, fmt.Errorf("failed to rehydrate session %d: %w", record.ID, err)
	}
	runner.rehydrate(answers)
	runner.startTimer()

	return runner, nil
}

// Get returns the live runner for a session ID, if any
func (m *Manager) Get(sessionID uint) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	runner, ok := m.byID[sessionID]
	return runner, ok
}

// GetByOwner returns the live runner for a (user, course, module) triple
func (m *Manager) GetByOwner(userID, courseID, moduleID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	runner, ok := m.byOwner[ownerKey(userID, courseID, moduleID)]
	return runner, ok
}

// Len reports how many runners are live
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

func (m *Manager) remove(s *Session) {
	record := s.Record()
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.byID[record.ID]; ok && current == s {
		delete(m.byID, record.ID)
	}
	key := ownerKey(record.UserID, record.CourseID, record.ModuleID)
	if current, ok := m.byOwner[key]; ok && current == s {
		delete(m.byOwner, key)
	}
}

// Shutdown stops every live timer without finalizing, leaving interrupted
// sessions resumable after a restart
func (m *Manager) Shutdown() {
	m.mu.Lock()
	runners := make([]*Session, 0, len(m.byID))
	for _, runner := range m.byID {
		runners = append(runners, runner)
	}
	m.byID = make(map[uint]*Session)
	m.byOwner = make(map[string]*Session)
	m.mu.Unlock()

	for _, runner := range runners {
		runner.mu.Lock()
		if runner.timer != nil {
			runner.timer.Stop()
		}
		runner.mu.Unlock()
	}
}
