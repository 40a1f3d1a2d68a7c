package errprocess

import (
	"fmt"

	"chat_sync_service/pkg/logger"

	"go.uber.org/zap"
)

// Wrap log the failure with its operation name and keep the cause for errors.Is
func Wrap(op string, kind, cause error) error {
	logger.Log.Error(op, zap.Error(cause))
	return fmt.Errorf("%s: %w: %w", op, kind, cause)
}
