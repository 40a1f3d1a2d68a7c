package repository

import (
	"context"

	"chat_sync_service/internal/chat/domain"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// ConversationRepository definition conversation lookup. Pairwise and multi
// party conversations live in separate collections sharing one id space.
type ConversationRepository interface {
	CreatePrivateChat(ctx context.Context, chat *domain.PrivateChat) error
	CreateGroupChat(ctx context.Context, chat *domain.GroupChat) error
	FindPrivateChat(ctx context.Context, conversationID string) (*domain.PrivateChat, error)
	FindGroupChat(ctx context.Context, conversationID string) (*domain.GroupChat, error)
	FindByMember(ctx context.Context, userID string) ([]domain.Topology, error)
}

type conversationRepository struct {
	privateColl *mongo.Collection
	groupColl   *mongo.Collection
}

// NewMongoConversationRepository create new mongo conversation repository
func NewMongoConversationRepository(db *mongo.Database) ConversationRepository {
	return &conversationRepository{
		privateColl: db.Collection(string(domain.PrivateChats)),
		groupColl:   db.Collection(string(domain.GroupChats)),
	}
}

// CreatePrivateChat create pairwise conversation
func (r *conversationRepository) CreatePrivateChat(ctx context.Context, chat *domain.PrivateChat) error {
	_, err := r.privateColl.InsertOne(ctx, chat)
	return mongoErr("create private chat", err)
}

// CreateGroupChat create multi party conversation
func (r *conversationRepository) CreateGroupChat(ctx context.Context, chat *domain.GroupChat) error {
	_, err := r.groupColl.InsertOne(ctx, chat)
	return mongoErr("create group chat", err)
}

// FindPrivateChat find pairwise conversation by id
func (r *conversationRepository) FindPrivateChat(ctx context.Context, conversationID string) (*domain.PrivateChat, error) {
	var chat domain.PrivateChat
	if err := r.privateColl.FindOne(ctx, bson.M{"_id": conversationID}).Decode(&chat); err != nil {
		return nil, mongoErr("find private chat", err)
	}
	return &chat, nil
}

// FindGroupChat find multi party conversation by id
func (r *conversationRepository) FindGroupChat(ctx context.Context, conversationID string) (*domain.GroupChat, error) {
	var chat domain.GroupChat
	if err := r.groupColl.FindOne(ctx, bson.M{"_id": conversationID}).Decode(&chat); err != nil {
		return nil, mongoErr("find group chat", err)
	}
	return &chat, nil
}

// FindByMember list every conversation userID participates in
func (r *conversationRepository) FindByMember(ctx context.Context, userID string) ([]domain.Topology, error) {
	var topologies []domain.Topology

	cur, err := r.privateColl.Find(ctx, bson.M{
		"$or": bson.A{
			bson.M{"user_a": userID},
			bson.M{"user_b": userID},
		},
	})
	if err != nil {
		return nil, mongoErr("find private chats by member", err)
	}
	var privates []domain.PrivateChat
	if err := cur.All(ctx, &privates); err != nil {
		return nil, mongoErr("decode private chats", err)
	}
	for i := range privates {
		topologies = append(topologies, privates[i].Topology())
	}

	cur, err = r.groupColl.Find(ctx, bson.M{"members.user_id": userID})
	if err != nil {
		return nil, mongoErr("find group chats by member", err)
	}
	var groups []domain.GroupChat
	if err := cur.All(ctx, &groups); err != nil {
		return nil, mongoErr("decode group chats", err)
	}
	for i := range groups {
		topologies = append(topologies, groups[i].Topology())
	}

	return topologies, nil
}
