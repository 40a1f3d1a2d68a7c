package app

import (
	"context"
	"errors"
	"fmt"

	"chat_sync_service/internal/chat/domain"
	"chat_sync_service/internal/chat/repository"
)

// TopologyResolver decides whether a conversation id is pairwise or multi party
type TopologyResolver struct {
	convRepo repository.ConversationRepository
}

// NewTopologyResolver create resolver
func NewTopologyResolver(convRepo repository.ConversationRepository) *TopologyResolver {
	return &TopologyResolver{convRepo: convRepo}
}

// Resolve 先查 pairwise 再查 multi party，都沒有則回傳 ErrNotFound
func (t *TopologyResolver) Resolve(ctx context.Context, conversationID string) (domain.Topology, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("resolve conversation: %w", domain.ErrNotFound)
	}

	private, err := t.convRepo.FindPrivateChat(ctx, conversationID)
	switch {
	case err == nil:
		return private.Topology(), nil
	case !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}

	group, err := t.convRepo.FindGroupChat(ctx, conversationID)
	switch {
	case err == nil:
		return group.Topology(), nil
	case !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}
	return nil, fmt.Errorf("resolve conversation %s: %w", conversationID, domain.ErrNotFound)
}

// ResolveForMember Resolve and require userID to be a participant
func (t *TopologyResolver) ResolveForMember(ctx context.Context, conversationID, userID string) (domain.Topology, error) {
	topo, err := t.Resolve(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !topo.HasParticipant(userID) {
		return nil, fmt.Errorf("conversation %s member %s: %w", conversationID, userID, domain.ErrAccessDenied)
	}
	return topo, nil
}
