package service

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"
)

// RunSideEffect runs a non-critical follow-up of a primary operation. Errors and
// panics are logged and swallowed so the caller's outcome never depends on fn.
func RunSideEffect(ctx context.Context, logger *zap.Logger, name string, fn func(context.Context) error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("side effect panicked",
				zap.String("side_effect", name),
				zap.String("panic", fmt.Sprint(rec)),
				zap.ByteString("stack", debug.Stack()))
		}
	}()
	if err := fn(ctx); err != nil {
		logger.Warn("side effect failed", zap.String("side_effect", name), zap.Error(err))
	}
}
