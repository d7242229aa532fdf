package services

import (
	"errors"
	"fmt"
	"testing"

	"github.com/SAP-F-2025/exam-session-service/internal/engine"
)

func TestValidationErrorUnwrapsToSentinel(t *testing.T) {
	err := NewValidationError("answer", "is required", nil)
	if !errors.Is(err, ErrValidationFailed) {
		t.Errorf("ValidationError does not unwrap to ErrValidationFailed")
	}

	wrapped := fmt.Errorf("rejected: %w", err)
	var verr *ValidationError
	if !errors.As(wrapped, &verr) {
		t.Errorf("wrapped ValidationError not recoverable with errors.As")
	}
	if verr.Field != "answer" {
		t.Errorf("Field = %q, want answer", verr.Field)
	}
}

func TestPermissionErrorUnwrapsToForbidden(t *testing.T) {
	err := NewPermissionError("user-1", 42, "session", "read", "not owned by user")
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("PermissionError does not unwrap to ErrForbidden")
	}

	var perr *PermissionError
	if !errors.As(err, &perr) {
		t.Fatalf("errors.As failed on PermissionError")
	}
	if perr.ResourceID != 42 || perr.Resource != "session" {
		t.Errorf("unexpected permission error: %+v", perr)
	}
}

func TestMapEngineError(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{name: "nil passes through", in: nil, want: nil},
		{name: "finished", in: engine.ErrSessionFinished, want: ErrSessionAlreadyFinished},
		{name: "out of range becomes validation", in: engine.ErrQuestionOutOfRange, want: ErrValidationFailed},
		{name: "unknown option becomes validation", in: engine.ErrOptionNotInQuestion, want: ErrValidationFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapEngineError(tt.in)
			if tt.want == nil {
				if got != nil {
					t.Errorf("mapEngineError(nil) = %v", got)
				}
				return
			}
			if !errors.Is(got, tt.want) {
				t.Errorf("mapEngineError(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestMapEngineErrorLastSection(t *testing.T) {
	got := mapEngineError(engine.ErrAlreadyLastSection)

	var brErr *BusinessRuleError
	if !errors.As(got, &brErr) {
		t.Fatalf("mapEngineError(ErrAlreadyLastSection) = %T, want *BusinessRuleError", got)
	}
	if brErr.Rule != "last_section" {
		t.Errorf("Rule = %q, want last_section", brErr.Rule)
	}
}

func TestMapEngineErrorPassesUnknownThrough(t *testing.T) {
	cause := errors.New("storage exploded")
	if got := mapEngineError(cause); !errors.Is(got, cause) {
		t.Errorf("mapEngineError did not pass unknown error through")
	}
}
