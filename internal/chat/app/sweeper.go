package app

import (
	"context"
	"errors"

	"chat_sync_service/internal/chat/repository"
	"chat_sync_service/pkg/logger"

	"go.uber.org/zap"
)

// Sweeper runs once per offline -> online transition
type Sweeper interface {
	Sweep(ctx context.Context, userID string) (int, error)
}

// ReconciliationSweeper 使用者上線時補上離線期間漏掉的 delivered 回執
type ReconciliationSweeper struct {
	convRepo repository.ConversationRepository
	msgRepo  repository.MessageRepository
	dsm      *DeliveryStateMachine
}

// NewReconciliationSweeper create sweeper
func NewReconciliationSweeper(convRepo repository.ConversationRepository, msgRepo repository.MessageRepository, dsm *DeliveryStateMachine) *ReconciliationSweeper {
	return &ReconciliationSweeper{
		convRepo: convRepo,
		msgRepo:  msgRepo,
		dsm:      dsm,
	}
}

// Sweep mark every message from other senders that userID has not received
// as delivered, returns the number of delivery receipts emitted. A message
// that fails is skipped and reported in the returned error; the rest are
// still processed.
func (s *ReconciliationSweeper) Sweep(ctx context.Context, userID string) (int, error) {
	conversations, err := s.convRepo.FindByMember(ctx, userID)
	if err != nil {
		return 0, err
	}
	if len(conversations) == 0 {
		return 0, nil
	}

	pending, err := s.msgRepo.FindPendingDelivery(ctx, userID, conversations)
	if err != nil {
		return 0, err
	}

	var (
		count int
		errs  []error
	)
	for _, msg := range pending {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		receipts, err := s.dsm.MarkDelivered(ctx, msg.ID, userID)
		if err != nil {
			logger.Log.Warn("sweep mark delivered failed",
				zap.String("userID", userID),
				zap.String("messageID", msg.ID),
				zap.Error(err),
			)
			errs = append(errs, err)
			continue
		}
		count += len(receipts)
	}

	logger.Log.Info("sweep done",
		zap.String("userID", userID),
		zap.Int("pending", len(pending)),
		zap.Int("delivered", count),
	)
	return count, errors.Join(errs...)
}
