package repository

import (
	"errors"
	"fmt"

	"chat_sync_service/internal/chat/domain"
	errprocess "chat_sync_service/pkg/err"

	"go.mongodb.org/mongo-driver/mongo"
)

// mongoErr 將 driver 錯誤轉成 domain 錯誤
func mongoErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	return errprocess.Wrap(op, domain.ErrPersistence, err)
}
