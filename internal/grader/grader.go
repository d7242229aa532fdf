package grader

import "context"

// Request carries everything the oracle needs to judge one free-response answer
type Request struct {
	UserAnswer      string
	QuestionText    string
	ReferenceAnswer string
	Explanation     string
}

// Result is the oracle's judgement of a free-response answer
type Result struct {
	IsCorrect bool   `json:"is_correct"`
	Feedback  string `json:"feedback"`
}

// Oracle grades free-response answers. Implementations are best-effort:
// network errors, malformed responses and non-2xx statuses all surface as a
// plain error and the caller decides the fallback.
type Oracle interface {
	Grade(ctx context.Context, req Request) (*Result, error)
}
