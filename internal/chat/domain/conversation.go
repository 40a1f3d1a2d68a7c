package domain

// ConversationKind definition conversation topology
type ConversationKind string

const (
	// KindPairwise 1對1，固定兩位成員
	KindPairwise ConversationKind = "pairwise"
	// KindMultiParty 群組，成員可變動
	KindMultiParty ConversationKind = "multi_party"
)

// CollectionName mongo collection per conversation kind
type CollectionName string

const (
	// PrivateChats pairwise conversation collection
	PrivateChats CollectionName = "private_chats"
	// GroupChats multi party conversation collection
	GroupChats CollectionName = "group_chats"
	// ChatMessages message collection
	ChatMessages CollectionName = "chat_messages"
)

// Role member role in a multi party conversation
type Role string

const (
	// RoleOwner group owner
	RoleOwner Role = "owner"
	// RoleMember group member
	RoleMember Role = "member"
)

// Topology is the resolved shape of a conversation. It is either Pairwise or
// MultiParty and is decided once, at the persistence boundary.
type Topology interface {
	ConversationID() string
	Kind() ConversationKind
	Participants() []string
	HasParticipant(userID string) bool
	isTopology()
}

// Pairwise conversation between exactly two users
type Pairwise struct {
	ID    string
	UserA string
	UserB string
}

// ConversationID conversation id
func (p Pairwise) ConversationID() string { return p.ID }

// Kind always KindPairwise
func (p Pairwise) Kind() ConversationKind { return KindPairwise }

// Participants both users
func (p Pairwise) Participants() []string { return []string{p.UserA, p.UserB} }

// HasParticipant exact id match
func (p Pairwise) HasParticipant(userID string) bool {
	return userID != "" && (userID == p.UserA || userID == p.UserB)
}

// Peer returns the other participant, empty when userID is not a participant
func (p Pairwise) Peer(userID string) string {
	switch userID {
	case p.UserA:
		return p.UserB
	case p.UserB:
		return p.UserA
	}
	return ""
}

func (Pairwise) isTopology() {}

// Member participant of a multi party conversation
type Member struct {
	UserID string `bson:"user_id" json:"user_id"`
	Role   Role   `bson:"role" json:"role"`
}

// MultiParty conversation with an open member set
type MultiParty struct {
	ID      string
	Members []Member
}

// ConversationID conversation id
func (m MultiParty) ConversationID() string { return m.ID }

// Kind always KindMultiParty
func (m MultiParty) Kind() ConversationKind { return KindMultiParty }

// Participants member ids
func (m MultiParty) Participants() []string {
	ids := make([]string, 0, len(m.Members))
	for _, member := range m.Members {
		ids = append(ids, member.UserID)
	}
	return ids
}

// HasParticipant exact id match
func (m MultiParty) HasParticipant(userID string) bool {
	if userID == "" {
		return false
	}
	for _, member := range m.Members {
		if member.UserID == userID {
			return true
		}
	}
	return false
}

func (MultiParty) isTopology() {}

// PrivateChat pairwise conversation document
type PrivateChat struct {
	ID        string `bson:"_id"`
	UserA     string `bson:"user_a"`
	UserB     string `bson:"user_b"`
	CreatedAt int64  `bson:"created_at,omitempty"`
}

// Topology convert document to Pairwise
func (c *PrivateChat) Topology() Pairwise {
	return Pairwise{ID: c.ID, UserA: c.UserA, UserB: c.UserB}
}

// GroupChat multi party conversation document
type GroupChat struct {
	ID        string   `bson:"_id"`
	Name      string   `bson:"name,omitempty"`
	Members   []Member `bson:"members"`
	CreatedAt int64    `bson:"created_at,omitempty"`
}

// Topology convert document to MultiParty
func (c *GroupChat) Topology() MultiParty {
	return MultiParty{ID: c.ID, Members: c.Members}
}
