package domain

import "time"

// Action websocket frame action
type Action string

const (
	// JoinRoom client action join_room
	JoinRoom Action = "join_room"
	// LeaveRoom client action leave_room
	LeaveRoom Action = "leave_room"
	// NotifyMessage client action notify_message, the message is already persisted
	NotifyMessage Action = "notify_message"
	// ReadMessage client action read_message
	ReadMessage Action = "read_message"
	// DeliverMessage client action deliver_message
	DeliverMessage Action = "deliver_message"
	// ReadAll client action read_all, mark a whole conversation read
	ReadAll Action = "read_all"
	// GetUnread client action get_unread
	GetUnread Action = "get_unread"
	// GetOnline client action get_online
	GetOnline Action = "get_online"

	// PresenceOnline server event presence_online
	PresenceOnline Action = "presence_online"
	// PresenceOffline server event presence_offline
	PresenceOffline Action = "presence_offline"
	// NewMessage server event new_message
	NewMessage Action = "new_message"
	// ReadReceipt server event read_receipt
	ReadReceipt Action = "read_receipt"
	// DeliveryReceipt server event delivery_receipt
	DeliveryReceipt Action = "delivery_receipt"
	// ErrorAction server reply for unknown frames
	ErrorAction Action = "error"
)

// WSRequest websocket Request
type WSRequest struct {
	Action         string   `json:"action"`
	ConversationID string   `json:"conversation_id"`
	MessageID      string   `json:"message_id"`
	RecipientID    string   `json:"recipient_id"`
	Message        *Message `json:"message,omitempty"`
}

// WSResponse websocket Response
type WSResponse struct {
	Action  string                 `json:"action"`
	Success bool                   `json:"success"`
	Payload map[string]interface{} `json:"payload,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// Event outbound event routed to channels and event sinks
type Event struct {
	Action         Action                 `json:"action"`
	ConversationID string                 `json:"conversation_id,omitempty"`
	UserID         string                 `json:"user_id,omitempty"`
	Payload        map[string]interface{} `json:"payload"`
	At             int64                  `json:"at"`
}

// Response frame sent to the client
func (e Event) Response() WSResponse {
	return WSResponse{Action: string(e.Action), Success: true, Payload: e.Payload}
}

// PresenceOnlineEvent identity went 0 -> 1 channels
func PresenceOnlineEvent(id Identity) Event {
	return Event{
		Action: PresenceOnline,
		UserID: id.ID,
		Payload: map[string]interface{}{
			"user_id": id.ID,
			"name":    id.DisplayName,
		},
		At: time.Now().UnixMilli(),
	}
}

// PresenceOfflineEvent identity went 1 -> 0 channels
func PresenceOfflineEvent(userID string) Event {
	return Event{
		Action:  PresenceOffline,
		UserID:  userID,
		Payload: map[string]interface{}{"user_id": userID},
		At:      time.Now().UnixMilli(),
	}
}

// NewMessageEvent persisted message published to its conversation room
func NewMessageEvent(msg *Message) Event {
	return Event{
		Action:         NewMessage,
		ConversationID: msg.ConversationID,
		UserID:         msg.SenderID,
		Payload: map[string]interface{}{
			"conversation_id": msg.ConversationID,
			"message":         msg,
		},
		At: time.Now().UnixMilli(),
	}
}

// ReceiptEvent delivery_receipt or read_receipt for a confirmed receipt
func ReceiptEvent(r Receipt) Event {
	action, who := DeliveryReceipt, "recipient_id"
	if r.Kind == ReceiptRead {
		action, who = ReadReceipt, "reader_id"
	}
	return Event{
		Action:         action,
		ConversationID: r.ConversationID,
		UserID:         r.RecipientID,
		Payload: map[string]interface{}{
			"conversation_id": r.ConversationID,
			"message_id":      r.MessageID,
			who:               r.RecipientID,
		},
		At: r.At,
	}
}
