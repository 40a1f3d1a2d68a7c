package domain

import "chat_sync_service/pkg"

// Message 一則聊天訊息；建立後只有回執欄位會被修改，且只增不減
type Message struct {
	ID             string           `bson:"_id" json:"id"`
	ConversationID string           `bson:"conversation_id" json:"conversation_id"`
	Kind           ConversationKind `bson:"kind" json:"kind"`
	SenderID       string           `bson:"sender_id" json:"sender_id"`
	Content        string           `bson:"content" json:"content"`
	CreatedAt      int64            `bson:"created_at" json:"created_at"`

	// pairwise
	Delivered bool `bson:"delivered" json:"delivered"`
	Read      bool `bson:"read" json:"read"`

	// multi party
	DeliveredTo []string `bson:"delivered_to" json:"delivered_to"`
	ReadBy      []string `bson:"read_by" json:"read_by"`
}

// IsDeliveredTo report whether recipientID already received the message
func (m *Message) IsDeliveredTo(recipientID string) bool {
	if m.Kind == KindPairwise {
		return m.Delivered
	}
	return pkg.Contains(m.DeliveredTo, recipientID)
}

// IsReadBy report whether recipientID already read the message
func (m *Message) IsReadBy(recipientID string) bool {
	if m.Kind == KindPairwise {
		return m.Read
	}
	return pkg.Contains(m.ReadBy, recipientID)
}

// ConversationUnread unread count by conversation
type ConversationUnread struct {
	ConversationID      string `bson:"_id" json:"conversation_id"`
	UnreadCount         int    `bson:"unread_count" json:"unread_count"`
	LastUnreadTimestamp int64  `bson:"last_unread_timestamp" json:"last_unread_timestamp"`
}

// ReceiptKind delivery state transition
type ReceiptKind string

const (
	// ReceiptDelivered Sent -> Delivered
	ReceiptDelivered ReceiptKind = "delivered"
	// ReceiptRead Delivered -> Read
	ReceiptRead ReceiptKind = "read"
)

// Receipt a confirmed, persisted state change for one (message, recipient)
type Receipt struct {
	Kind           ReceiptKind `json:"kind"`
	ConversationID string      `json:"conversation_id"`
	MessageID      string      `json:"message_id"`
	SenderID       string      `json:"sender_id"`
	RecipientID    string      `json:"recipient_id"`
	At             int64       `json:"at"`
}

// MessageIDs ids of receipts with the given kind, in order
func MessageIDs(receipts []Receipt, kind ReceiptKind) []string {
	ids := make([]string, 0, len(receipts))
	for _, r := range receipts {
		if r.Kind == kind {
			ids = append(ids, r.MessageID)
		}
	}
	return ids
}
