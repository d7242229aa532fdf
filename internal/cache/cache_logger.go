package cache

import (
	"context"
	"fmt"
	"log/slog"
)

// SafeInvalidatePattern safely invalidates cache pattern with logging
func SafeInvalidatePattern(ctx context.Context, helper *CacheHelper, pattern string) {
	if err := helper.InvalidatePattern(ctx, pattern); err != nil {
		slog.ErrorContext(ctx, "Failed to invalidate cache pattern",
			"error", err,
			"pattern", pattern)
	}
}

// SafeDelete safely deletes cache keys with logging
func SafeDelete(ctx context.Context, helper *CacheHelper, keys ...string) {
	if err := helper.Delete(ctx, keys...); err != nil {
		slog.ErrorContext(ctx, "Failed to delete cache keys",
			"error", err,
			"keys", keys)
	}
}

// InvalidateSessionCache drops every cached view of one session after a write
func InvalidateSessionCache(ctx context.Context, cm *CacheManager, sessionID uint, userID string) {
	SafeDelete(ctx, cm.Session,
		fmt.Sprintf("id:%d", sessionID),
		fmt.Sprintf("answers:%d", sessionID))

	SafeInvalidatePattern(ctx, cm.Session, fmt.Sprintf("active:%s:*", userID))
	SafeInvalidatePattern(ctx, cm.Fast, fmt.Sprintf("session:%d:*", sessionID))
}

// InvalidateExamCache drops cached exam definitions after authoring changes
func InvalidateExamCache(ctx context.Context, cm *CacheManager, examID uint, courseID, moduleID string) {
	SafeDelete(ctx, cm.Exam,
		fmt.Sprintf("id:%d", examID),
		fmt.Sprintf("module:%s:%s", courseID, moduleID))
	SafeInvalidatePattern(ctx, cm.Exam, "list:*")
}
