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

// ReceiptPublisher fans confirmed receipts out. It is called while the
// conversation lock is held so receipts of one conversation leave in order.
type ReceiptPublisher interface {
	PublishReceipts(ctx context.Context, topo domain.Topology, receipts []domain.Receipt)
}

// DeliveryStateMachine Sent -> Delivered -> Read per (message, recipient).
// Every transition is persisted first, events are produced only for
// transitions the store reported as changed.
type DeliveryStateMachine struct {
	resolver  *TopologyResolver
	msgRepo   repository.MessageRepository
	publisher ReceiptPublisher
	locks     *keyedMutex
	now       func() time.Time
}

// NewDeliveryStateMachine create state machine, publisher may be nil
func NewDeliveryStateMachine(resolver *TopologyResolver, msgRepo repository.MessageRepository, publisher ReceiptPublisher) *DeliveryStateMachine {
	return &DeliveryStateMachine{
		resolver:  resolver,
		msgRepo:   msgRepo,
		publisher: publisher,
		locks:     newKeyedMutex(),
		now:       time.Now,
	}
}

// MarkDelivered idempotent, returns the delivery receipt when state changed
func (d *DeliveryStateMachine) MarkDelivered(ctx context.Context, messageID, recipientID string) ([]domain.Receipt, error) {
	return d.transition(ctx, messageID, recipientID, domain.ReceiptDelivered)
}

// MarkRead idempotent, an undelivered message is marked delivered first and
// the receipts come back in order delivered, read
func (d *DeliveryStateMachine) MarkRead(ctx context.Context, messageID, readerID string) ([]domain.Receipt, error) {
	return d.transition(ctx, messageID, readerID, domain.ReceiptRead)
}

func (d *DeliveryStateMachine) transition(ctx context.Context, messageID, recipientID string, target domain.ReceiptKind) ([]domain.Receipt, error) {
	msg, err := d.msgRepo.FindByID(ctx, messageID)
	if err != nil {
		return nil, err
	}

	unlock := d.locks.Lock(msg.ConversationID)
	defer unlock()

	topo, err := d.resolver.Resolve(ctx, msg.ConversationID)
	if err != nil {
		return nil, err
	}
	if !topo.HasParticipant(recipientID) {
		return nil, fmt.Errorf("message %s recipient %s: %w", messageID, recipientID, domain.ErrAccessDenied)
	}
	if recipientID == msg.SenderID {
		return nil, nil
	}
	msg.Kind = topo.Kind()

	receipts, err := d.apply(ctx, msg, recipientID, domain.ReceiptDelivered)
	if err == nil && target == domain.ReceiptRead {
		var read []domain.Receipt
		read, err = d.apply(ctx, msg, recipientID, domain.ReceiptRead)
		receipts = append(receipts, read...)
	}
	d.publish(ctx, topo, receipts)
	return receipts, err
}

// apply persist one receipt, caller holds the conversation lock
func (d *DeliveryStateMachine) apply(ctx context.Context, msg *domain.Message, recipientID string, kind domain.ReceiptKind) ([]domain.Receipt, error) {
	done := msg.IsDeliveredTo(recipientID)
	if kind == domain.ReceiptRead {
		done = msg.IsReadBy(recipientID)
	}
	if done {
		return nil, nil
	}

	changed, err := d.msgRepo.MarkReceipt(ctx, msg.Kind, msg.ID, recipientID, kind)
	if err != nil {
		logger.Log.Error("mark receipt failed",
			zap.String("messageID", msg.ID),
			zap.String("recipientID", recipientID),
			zap.String("receipt", string(kind)),
			zap.Error(err),
		)
		return nil, err
	}
	if !changed {
		return nil, nil
	}
	return []domain.Receipt{d.receipt(kind, msg, recipientID)}, nil
}

func (d *DeliveryStateMachine) receipt(kind domain.ReceiptKind, msg *domain.Message, recipientID string) domain.Receipt {
	return domain.Receipt{
		Kind:           kind,
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		SenderID:       msg.SenderID,
		RecipientID:    recipientID,
		At:             d.now().UnixMilli(),
	}
}

// MarkAllReadInConversation 將對話中 reader 未讀的訊息全部標記已讀，
// 回傳實際變更的 message id 以及需要廣播的回執 (delivered 在 read 之前)
func (d *DeliveryStateMachine) MarkAllReadInConversation(ctx context.Context, conversationID, readerID string) ([]string, []domain.Receipt, error) {
	unlock := d.locks.Lock(conversationID)
	defer unlock()

	topo, err := d.resolver.ResolveForMember(ctx, conversationID, readerID)
	if err != nil {
		return nil, nil, err
	}

	unread, err := d.msgRepo.FindUnread(ctx, topo, readerID)
	if err != nil {
		return nil, nil, err
	}

	var receipts []domain.Receipt
	ids := make([]string, 0, len(unread))
	for i := range unread {
		msg := &unread[i]
		msg.Kind = topo.Kind()
		delivered, err := d.apply(ctx, msg, readerID, domain.ReceiptDelivered)
		if err != nil {
			d.publish(ctx, topo, receipts)
			return []string{}, receipts, err
		}
		receipts = append(receipts, delivered...)
		ids = append(ids, msg.ID)
	}

	n, err := d.msgRepo.MarkConversationRead(ctx, topo, readerID, ids)
	if err != nil {
		logger.Log.Error("mark conversation read failed",
			zap.String("conversationID", conversationID),
			zap.String("readerID", readerID),
			zap.Error(err),
		)
		d.publish(ctx, topo, receipts)
		return []string{}, receipts, err
	}
	if int(n) != len(ids) {
		// 無法得知哪幾則實際變更，不送 read 回執
		logger.Log.Warn("mark conversation read count mismatch",
			zap.String("conversationID", conversationID),
			zap.Int("expected", len(ids)),
			zap.Int64("modified", n),
		)
		d.publish(ctx, topo, receipts)
		return []string{}, receipts, fmt.Errorf("mark conversation %s read: %d of %d changed: %w", conversationID, n, len(ids), domain.ErrPersistence)
	}

	for i := range unread {
		receipts = append(receipts, d.receipt(domain.ReceiptRead, &unread[i], readerID))
	}
	d.publish(ctx, topo, receipts)
	return ids, receipts, nil
}

func (d *DeliveryStateMachine) publish(ctx context.Context, topo domain.Topology, receipts []domain.Receipt) {
	if d.publisher == nil || len(receipts) == 0 {
		return
	}
	d.publisher.PublishReceipts(ctx, topo, receipts)
}

// RoomReceiptPublisher publishes receipts to the conversation room and to the
// message sender's own channels
type RoomReceiptPublisher struct {
	router     *BroadcastRouter
	dispatcher *EventDispatcher
}

// NewRoomReceiptPublisher create publisher
func NewRoomReceiptPublisher(router *BroadcastRouter, dispatcher *EventDispatcher) *RoomReceiptPublisher {
	return &RoomReceiptPublisher{router: router, dispatcher: dispatcher}
}

// PublishReceipts publish in the given order
func (p *RoomReceiptPublisher) PublishReceipts(ctx context.Context, topo domain.Topology, receipts []domain.Receipt) {
	for _, r := range receipts {
		evt := domain.ReceiptEvent(r)
		n := p.router.PublishWith(topo.ConversationID(), evt, r.SenderID)
		logger.Log.Debug("receipt published",
			zap.String("conversationID", r.ConversationID),
			zap.String("messageID", r.MessageID),
			zap.String("receipt", string(r.Kind)),
			zap.Int("channels", n),
		)
		p.dispatcher.Emit(evt)
	}
}
