package app

import (
	"context"
	"fmt"
	"time"

	"chat_sync_service/internal/chat/domain"
	"chat_sync_service/internal/chat/repository"
	"chat_sync_service/pkg/logger"

	"go.uber.org/zap"
)

// SyncOptions runtime limits of the sync use case
type SyncOptions struct {
	HandshakeTimeout time.Duration
	Channel          ChannelOptions
}

// SyncUseCase glue between transport events and the sync engine
type SyncUseCase struct {
	verifier   IdentityVerifier
	registry   *ConnectionRegistry
	router     *BroadcastRouter
	resolver   *TopologyResolver
	dsm        *DeliveryStateMachine
	convRepo   repository.ConversationRepository
	msgRepo    repository.MessageRepository
	dispatcher *EventDispatcher
	opts       SyncOptions
}

// NewSyncUseCase create use case
func NewSyncUseCase(
	verifier IdentityVerifier,
	registry *ConnectionRegistry,
	router *BroadcastRouter,
	resolver *TopologyResolver,
	dsm *DeliveryStateMachine,
	convRepo repository.ConversationRepository,
	msgRepo repository.MessageRepository,
	dispatcher *EventDispatcher,
	opts SyncOptions,
) *SyncUseCase {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 5 * time.Second
	}
	return &SyncUseCase{
		verifier:   verifier,
		registry:   registry,
		router:     router,
		resolver:   resolver,
		dsm:        dsm,
		convRepo:   convRepo,
		msgRepo:    msgRepo,
		dispatcher: dispatcher,
		opts:       opts,
	}
}

type verifyResult struct {
	identity domain.Identity
	err      error
}

// Authenticate verify the handshake credential, bounded by HandshakeTimeout
func (uc *SyncUseCase) Authenticate(ctx context.Context, credential string) (domain.Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, uc.opts.HandshakeTimeout)
	defer cancel()

	result := make(chan verifyResult, 1)
	go func() {
		id, err := uc.verifier.Verify(ctx, credential)
		result <- verifyResult{identity: id, err: err}
	}()

	select {
	case r := <-result:
		return r.identity, r.err
	case <-ctx.Done():
		return domain.Identity{}, fmt.Errorf("handshake verification: %v: %w", ctx.Err(), domain.ErrAuthFailure)
	}
}

// Connect create and register a channel for a verified identity
func (uc *SyncUseCase) Connect(identity domain.Identity, sender Sender) (*Channel, error) {
	ch := NewChannel(identity, sender, uc.opts.Channel)
	if err := uc.registry.Register(identity, ch); err != nil {
		ch.Close()
		return nil, err
	}
	return ch, nil
}

// Disconnect deregister ch, safe to call more than once
func (uc *SyncUseCase) Disconnect(ch *Channel) {
	if !uc.registry.Deregister(ch) {
		ch.Close()
	}
}

// JoinRoom subscribe ch to a conversation it participates in
func (uc *SyncUseCase) JoinRoom(ctx context.Context, ch *Channel, conversationID string) error {
	if _, err := uc.resolver.ResolveForMember(ctx, conversationID, ch.UserID()); err != nil {
		return err
	}
	return uc.router.Join(ch, conversationID)
}

// LeaveRoom unsubscribe ch
func (uc *SyncUseCase) LeaveRoom(ch *Channel, conversationID string) {
	uc.router.Leave(ch, conversationID)
}

// NotifyMessage a client announces a message it already persisted. The
// stored copy is what gets published.
func (uc *SyncUseCase) NotifyMessage(ctx context.Context, ch *Channel, conversationID, messageID string) (*domain.Message, error) {
	msg, err := uc.msgRepo.FindByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != ch.UserID() || (conversationID != "" && msg.ConversationID != conversationID) {
		return nil, fmt.Errorf("notify message %s: %w", messageID, domain.ErrAccessDenied)
	}
	if err := uc.PublishMessage(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// PublishMessage publish a persisted message to its conversation room
func (uc *SyncUseCase) PublishMessage(ctx context.Context, msg *domain.Message) error {
	topo, err := uc.resolver.ResolveForMember(ctx, msg.ConversationID, msg.SenderID)
	if err != nil {
		return err
	}
	msg.Kind = topo.Kind()
	evt := domain.NewMessageEvent(msg)
	n := uc.router.Publish(topo.ConversationID(), evt)
	logger.Log.Debug("message published",
		zap.String("conversationID", msg.ConversationID),
		zap.String("messageID", msg.ID),
		zap.Int("channels", n),
	)
	uc.dispatcher.Emit(evt)
	return nil
}

// DeliveryReceipt a channel acknowledges delivery for its own identity
func (uc *SyncUseCase) DeliveryReceipt(ctx context.Context, ch *Channel, messageID, recipientID string) ([]domain.Receipt, error) {
	if recipientID == "" {
		recipientID = ch.UserID()
	}
	if recipientID != ch.UserID() {
		return nil, fmt.Errorf("delivery receipt for %s: %w", recipientID, domain.ErrAccessDenied)
	}
	return uc.dsm.MarkDelivered(ctx, messageID, recipientID)
}

// ReadReceipt mark a message read by the channel's identity
func (uc *SyncUseCase) ReadReceipt(ctx context.Context, ch *Channel, messageID string) ([]domain.Receipt, error) {
	return uc.dsm.MarkRead(ctx, messageID, ch.UserID())
}

// MarkAllRead bulk read on conversation open, returns changed message ids
func (uc *SyncUseCase) MarkAllRead(ctx context.Context, conversationID, readerID string) ([]string, error) {
	ids, _, err := uc.dsm.MarkAllReadInConversation(ctx, conversationID, readerID)
	return ids, err
}

// UnreadCounts 取得每個對話的未讀數量
func (uc *SyncUseCase) UnreadCounts(ctx context.Context, userID string) ([]domain.ConversationUnread, error) {
	conversations, err := uc.convRepo.FindByMember(ctx, userID)
	if err != nil {
		return nil, err
	}
	return uc.msgRepo.CountUnreadByConversation(ctx, userID, conversations)
}

// OnlineUsers ids of online identities
func (uc *SyncUseCase) OnlineUsers() []string {
	return uc.registry.OnlineUsers()
}
