package repository

import (
	"context"
	"fmt"

	"chat_sync_service/internal/chat/domain"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MessageRepository definition message persistence. Receipt writes are
// atomic conditional updates: they report whether the document changed.
type MessageRepository interface {
	InsertMessage(ctx context.Context, msg *domain.Message) error
	FindByID(ctx context.Context, messageID string) (*domain.Message, error)
	// MarkReceipt 設定 pairwise 旗標或把 recipient 加入 multi party 集合
	MarkReceipt(ctx context.Context, kind domain.ConversationKind, messageID, recipientID string, receipt domain.ReceiptKind) (bool, error)
	// FindPendingDelivery 找出 userID 尚未收到的訊息
	FindPendingDelivery(ctx context.Context, userID string, conversations []domain.Topology) ([]domain.Message, error)
	// FindUnread 找出 readerID 在該對話中尚未讀取的訊息 (排除自己送出的)
	FindUnread(ctx context.Context, conversation domain.Topology, readerID string) ([]domain.Message, error)
	// MarkConversationRead 批次標記已讀，messageIDs 之外不會被修改
	MarkConversationRead(ctx context.Context, conversation domain.Topology, readerID string, messageIDs []string) (int64, error)
	CountUnreadByConversation(ctx context.Context, userID string, conversations []domain.Topology) ([]domain.ConversationUnread, error)
}

type chatMessageRepository struct {
	coll *mongo.Collection
}

// NewMongoChatMessageRepository create a MessageRepository
func NewMongoChatMessageRepository(db *mongo.Database) MessageRepository {
	return &chatMessageRepository{
		coll: db.Collection(string(domain.ChatMessages)),
	}
}

// receiptField field name for the receipt of a conversation kind
func receiptField(kind domain.ConversationKind, receipt domain.ReceiptKind) string {
	switch {
	case kind == domain.KindPairwise && receipt == domain.ReceiptDelivered:
		return "delivered"
	case kind == domain.KindPairwise:
		return "read"
	case receipt == domain.ReceiptDelivered:
		return "delivered_to"
	default:
		return "read_by"
	}
}

// notYet matches documents where recipientID has not reached the receipt yet
func notYet(kind domain.ConversationKind, recipientID string, receipt domain.ReceiptKind) bson.M {
	field := receiptField(kind, receipt)
	if kind == domain.KindPairwise {
		return bson.M{field: false}
	}
	return bson.M{field: bson.M{"$ne": recipientID}}
}

// InsertMessage 寫入一筆訊息，sender 不會出現在回執集合內
func (r *chatMessageRepository) InsertMessage(ctx context.Context, msg *domain.Message) error {
	doc := *msg
	doc.DeliveredTo = withoutID(doc.DeliveredTo, doc.SenderID)
	doc.ReadBy = withoutID(doc.ReadBy, doc.SenderID)
	if doc.Kind == domain.KindPairwise && doc.Read {
		doc.Delivered = true
	}
	_, err := r.coll.InsertOne(ctx, doc)
	return mongoErr("insert message", err)
}

func withoutID(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// FindByID find message by id
func (r *chatMessageRepository) FindByID(ctx context.Context, messageID string) (*domain.Message, error) {
	var msg domain.Message
	if err := r.coll.FindOne(ctx, bson.M{"_id": messageID}).Decode(&msg); err != nil {
		return nil, mongoErr("find message", err)
	}
	return &msg, nil
}

// MarkReceipt conditional update, no-op when already set
func (r *chatMessageRepository) MarkReceipt(ctx context.Context, kind domain.ConversationKind, messageID, recipientID string, receipt domain.ReceiptKind) (bool, error) {
	filter := notYet(kind, recipientID, receipt)
	filter["_id"] = messageID
	filter["sender_id"] = bson.M{"$ne": recipientID}

	field := receiptField(kind, receipt)
	var update bson.M
	if kind == domain.KindPairwise {
		update = bson.M{"$set": bson.M{field: true}}
	} else {
		update = bson.M{"$addToSet": bson.M{field: recipientID}}
	}

	res, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, mongoErr(fmt.Sprintf("mark %s", field), err)
	}
	return res.ModifiedCount > 0, nil
}

func (r *chatMessageRepository) findSorted(ctx context.Context, filter bson.M) ([]domain.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, mongoErr("find messages", err)
	}
	var messages []domain.Message
	if err := cur.All(ctx, &messages); err != nil {
		return nil, mongoErr("decode messages", err)
	}
	return messages, nil
}

// pendingFilter 依對話種類組出 $or 條件
func pendingFilter(userID string, conversations []domain.Topology, receipt domain.ReceiptKind) bson.M {
	var pairIDs, groupIDs []string
	for _, c := range conversations {
		if !c.HasParticipant(userID) {
			continue
		}
		if c.Kind() == domain.KindPairwise {
			pairIDs = append(pairIDs, c.ConversationID())
		} else {
			groupIDs = append(groupIDs, c.ConversationID())
		}
	}

	or := bson.A{}
	if len(pairIDs) > 0 {
		cond := notYet(domain.KindPairwise, userID, receipt)
		cond["conversation_id"] = bson.M{"$in": pairIDs}
		or = append(or, cond)
	}
	if len(groupIDs) > 0 {
		cond := notYet(domain.KindMultiParty, userID, receipt)
		cond["conversation_id"] = bson.M{"$in": groupIDs}
		or = append(or, cond)
	}
	if len(or) == 0 {
		return nil
	}
	return bson.M{
		"sender_id": bson.M{"$ne": userID},
		"$or":       or,
	}
}

// FindPendingDelivery messages from other senders not yet delivered to userID
func (r *chatMessageRepository) FindPendingDelivery(ctx context.Context, userID string, conversations []domain.Topology) ([]domain.Message, error) {
	filter := pendingFilter(userID, conversations, domain.ReceiptDelivered)
	if filter == nil {
		return nil, nil
	}
	return r.findSorted(ctx, filter)
}

// FindUnread messages from other senders not yet read by readerID
func (r *chatMessageRepository) FindUnread(ctx context.Context, conversation domain.Topology, readerID string) ([]domain.Message, error) {
	filter := pendingFilter(readerID, []domain.Topology{conversation}, domain.ReceiptRead)
	if filter == nil {
		return nil, nil
	}
	return r.findSorted(ctx, filter)
}

// MarkConversationRead bulk read, delivered is set together so read never exists without delivered
func (r *chatMessageRepository) MarkConversationRead(ctx context.Context, conversation domain.Topology, readerID string, messageIDs []string) (int64, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}
	kind := conversation.Kind()
	filter := notYet(kind, readerID, domain.ReceiptRead)
	filter["_id"] = bson.M{"$in": messageIDs}
	filter["conversation_id"] = conversation.ConversationID()
	filter["sender_id"] = bson.M{"$ne": readerID}

	var update bson.M
	if kind == domain.KindPairwise {
		update = bson.M{"$set": bson.M{"read": true, "delivered": true}}
	} else {
		update = bson.M{"$addToSet": bson.M{"read_by": readerID, "delivered_to": readerID}}
	}

	res, err := r.coll.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, mongoErr("mark conversation read", err)
	}
	return res.ModifiedCount, nil
}

// CountUnreadByConversation 依對話計算未讀數量與最後未讀時間
func (r *chatMessageRepository) CountUnreadByConversation(ctx context.Context, userID string, conversations []domain.Topology) ([]domain.ConversationUnread, error) {
	match := pendingFilter(userID, conversations, domain.ReceiptRead)
	if match == nil {
		return []domain.ConversationUnread{}, nil
	}

	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: match}},
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$conversation_id"},
			{Key: "unread_count", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "last_unread_timestamp", Value: bson.D{{Key: "$max", Value: "$created_at"}}},
		}}},
		bson.D{{Key: "$sort", Value: bson.D{
			{Key: "last_unread_timestamp", Value: -1},
		}}},
	}

	cur, err := r.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, mongoErr("aggregate unread", err)
	}

	var results []domain.ConversationUnread
	if err := cur.All(ctx, &results); err != nil {
		return nil, mongoErr("decode unread", err)
	}
	return results, nil
}
