package repository

import (
	"context"

	"chat_sync_service/internal/chat/domain"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// EnsureIndexes create the lookup indexes used by the repositories
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	indexes := map[domain.CollectionName][]mongo.IndexModel{
		domain.PrivateChats: {
			{Keys: bson.D{{Key: "user_a", Value: 1}}},
			{Keys: bson.D{{Key: "user_b", Value: 1}}},
		},
		domain.GroupChats: {
			{Keys: bson.D{{Key: "members.user_id", Value: 1}}},
		},
		domain.ChatMessages: {
			{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: 1}}},
			{Keys: bson.D{{Key: "sender_id", Value: 1}}},
		},
	}

	for coll, models := range indexes {
		if _, err := db.Collection(string(coll)).Indexes().CreateMany(ctx, models); err != nil {
			return mongoErr("create indexes "+string(coll), err)
		}
	}
	return nil
}
