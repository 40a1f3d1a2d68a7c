package app

import (
	"context"

	"chat_sync_service/internal/chat/domain"

	"github.com/stretchr/testify/mock"
)

// MockConversationRepository Mock ConversationRepository
type MockConversationRepository struct {
	mock.Mock
}

// CreatePrivateChat mock create pairwise conversation
func (m *MockConversationRepository) CreatePrivateChat(ctx context.Context, chat *domain.PrivateChat) error {
	args := m.Called(ctx, chat)
	return args.Error(0)
}

// CreateGroupChat mock create multi party conversation
func (m *MockConversationRepository) CreateGroupChat(ctx context.Context, chat *domain.GroupChat) error {
	args := m.Called(ctx, chat)
	return args.Error(0)
}

// FindPrivateChat mock find pairwise conversation
func (m *MockConversationRepository) FindPrivateChat(ctx context.Context, conversationID string) (*domain.PrivateChat, error) {
	args := m.Called(ctx, conversationID)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.PrivateChat), args.Error(1)
	}
	return nil, args.Error(1)
}

// FindGroupChat mock find multi party conversation
func (m *MockConversationRepository) FindGroupChat(ctx context.Context, conversationID string) (*domain.GroupChat, error) {
	args := m.Called(ctx, conversationID)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.GroupChat), args.Error(1)
	}
	return nil, args.Error(1)
}

// FindByMember mock list conversations of a member
func (m *MockConversationRepository) FindByMember(ctx context.Context, userID string) ([]domain.Topology, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) != nil {
		return args.Get(0).([]domain.Topology), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockMessageRepository Mock MessageRepository
type MockMessageRepository struct {
	mock.Mock
}

// InsertMessage mock insert msg
func (m *MockMessageRepository) InsertMessage(ctx context.Context, msg *domain.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

// FindByID mock find msg by id
func (m *MockMessageRepository) FindByID(ctx context.Context, messageID string) (*domain.Message, error) {
	args := m.Called(ctx, messageID)
	if args.Get(0) != nil {
		// 回傳副本，避免測試之間共用同一個 pointer
		msg := *args.Get(0).(*domain.Message)
		return &msg, args.Error(1)
	}
	return nil, args.Error(1)
}

// MarkReceipt mock conditional receipt update
func (m *MockMessageRepository) MarkReceipt(ctx context.Context, kind domain.ConversationKind, messageID, recipientID string, receipt domain.ReceiptKind) (bool, error) {
	args := m.Called(ctx, kind, messageID, recipientID, receipt)
	return args.Bool(0), args.Error(1)
}

// FindPendingDelivery mock pending delivery lookup
func (m *MockMessageRepository) FindPendingDelivery(ctx context.Context, userID string, conversations []domain.Topology) ([]domain.Message, error) {
	args := m.Called(ctx, userID, conversations)
	if args.Get(0) != nil {
		return args.Get(0).([]domain.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

// FindUnread mock unread lookup
func (m *MockMessageRepository) FindUnread(ctx context.Context, conversation domain.Topology, readerID string) ([]domain.Message, error) {
	args := m.Called(ctx, conversation, readerID)
	if args.Get(0) != nil {
		return args.Get(0).([]domain.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

// MarkConversationRead mock bulk read
func (m *MockMessageRepository) MarkConversationRead(ctx context.Context, conversation domain.Topology, readerID string, messageIDs []string) (int64, error) {
	args := m.Called(ctx, conversation, readerID, messageIDs)
	return args.Get(0).(int64), args.Error(1)
}

// CountUnreadByConversation mock get count unread by user id
func (m *MockMessageRepository) CountUnreadByConversation(ctx context.Context, userID string, conversations []domain.Topology) ([]domain.ConversationUnread, error) {
	args := m.Called(ctx, userID, conversations)
	if args.Get(0) != nil {
		return args.Get(0).([]domain.ConversationUnread), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockIdentityVerifier Mock IdentityVerifier
type MockIdentityVerifier struct {
	mock.Mock
}

// Verify mock verify credential
func (m *MockIdentityVerifier) Verify(ctx context.Context, credential string) (domain.Identity, error) {
	args := m.Called(ctx, credential)
	return args.Get(0).(domain.Identity), args.Error(1)
}

// MockSweeper Mock Sweeper
type MockSweeper struct {
	mock.Mock
}

// Sweep mock sweep
func (m *MockSweeper) Sweep(ctx context.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

// MockEventSink Mock EventSink
type MockEventSink struct {
	mock.Mock
}

// Emit mock emit
func (m *MockEventSink) Emit(ctx context.Context, evt domain.Event) error {
	args := m.Called(ctx, evt)
	return args.Error(0)
}

// MockReceiptPublisher Mock ReceiptPublisher
type MockReceiptPublisher struct {
	mock.Mock
}

// PublishReceipts mock publish receipts
func (m *MockReceiptPublisher) PublishReceipts(ctx context.Context, topo domain.Topology, receipts []domain.Receipt) {
	m.Called(ctx, topo, receipts)
}
