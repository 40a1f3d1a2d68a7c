package app

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"chat_sync_service/internal/chat/domain"
	"chat_sync_service/pkg/logger"

	"go.uber.org/zap"
)

// ConnectionRegistry identity -> live channels. Presence events are emitted
// only when an identity goes from zero to one channel or back to zero.
type ConnectionRegistry struct {
	mu     sync.RWMutex
	byUser map[string]map[string]*Channel
	byID   map[string]*Channel

	presence *keyedMutex

	router       *BroadcastRouter
	dispatcher   *EventDispatcher
	sweeper      Sweeper
	sweepTimeout time.Duration

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closing bool // guarded by mu
}

// NewConnectionRegistry create registry, sweeper may be nil
func NewConnectionRegistry(router *BroadcastRouter, dispatcher *EventDispatcher, sweeper Sweeper, sweepTimeout time.Duration) *ConnectionRegistry {
	if sweepTimeout <= 0 {
		sweepTimeout = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ConnectionRegistry{
		byUser:       make(map[string]map[string]*Channel),
		byID:         make(map[string]*Channel),
		presence:     newKeyedMutex(),
		router:       router,
		dispatcher:   dispatcher,
		sweeper:      sweeper,
		sweepTimeout: sweepTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Register add ch for identity. On the identity's first channel presence
// online is broadcast to everyone else and a sweep is scheduled.
func (r *ConnectionRegistry) Register(identity domain.Identity, ch *Channel) error {
	if identity.ID == "" || ch.UserID() != identity.ID {
		return fmt.Errorf("register channel %s: %w", ch.ID(), domain.ErrAccessDenied)
	}

	unlock := r.presence.Lock(identity.ID)
	defer unlock()

	// 同一個 channel 重複註冊不再觸發 presence
	r.mu.Lock()
	_, dup := r.byID[ch.ID()]
	r.mu.Unlock()
	if dup {
		return nil
	}

	if r.ctx.Err() != nil || !r.router.Attach(ch) {
		return domain.ErrChannelClosed
	}

	r.mu.Lock()
	set, ok := r.byUser[identity.ID]
	if !ok {
		set = make(map[string]*Channel)
		r.byUser[identity.ID] = set
	}
	set[ch.ID()] = ch
	r.byID[ch.ID()] = ch
	first := len(set) == 1
	r.mu.Unlock()

	logger.Log.Info("channel registered",
		zap.String("userID", identity.ID),
		zap.String("channelID", ch.ID()),
		zap.Bool("first", first),
	)
	if !first {
		return nil
	}

	evt := domain.PresenceOnlineEvent(identity)
	r.router.PublishGlobal(evt, ch)
	r.dispatcher.Emit(evt)
	r.scheduleSweep(identity.ID)
	return nil
}

// Deregister remove ch, unknown channel is a no-op. Returns true when ch was
// registered.
func (r *ConnectionRegistry) Deregister(ch *Channel) bool {
	userID := ch.UserID()
	unlock := r.presence.Lock(userID)
	defer unlock()

	r.mu.Lock()
	if _, ok := r.byID[ch.ID()]; !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.byID, ch.ID())
	last := false
	if set, ok := r.byUser[userID]; ok {
		delete(set, ch.ID())
		if len(set) == 0 {
			delete(r.byUser, userID)
			last = true
		}
	}
	r.mu.Unlock()

	r.router.Detach(ch)
	ch.Close()

	logger.Log.Info("channel deregistered",
		zap.String("userID", userID),
		zap.String("channelID", ch.ID()),
		zap.Bool("last", last),
	)
	if last {
		evt := domain.PresenceOfflineEvent(userID)
		r.router.PublishGlobal(evt, nil)
		r.dispatcher.Emit(evt)
	}
	return true
}

// ChannelsFor snapshot of userID's channels
func (r *ConnectionRegistry) ChannelsFor(userID string) []*Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.byUser[userID]
	out := make([]*Channel, 0, len(set))
	for _, ch := range set {
		out = append(out, ch)
	}
	return out
}

// IsOnline at least one registered channel
func (r *ConnectionRegistry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// OnlineUsers sorted ids of online identities
func (r *ConnectionRegistry) OnlineUsers() []string {
	r.mu.RLock()
	users := make([]string, 0, len(r.byUser))
	for id := range r.byUser {
		users = append(users, id)
	}
	r.mu.RUnlock()
	sort.Strings(users)
	return users
}

func (r *ConnectionRegistry) scheduleSweep(userID string) {
	if r.sweeper == nil {
		return
	}
	r.mu.Lock()
	if r.closing {
		r.mu.Unlock()
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(r.ctx, r.sweepTimeout)
		defer cancel()
		if _, err := r.sweeper.Sweep(ctx, userID); err != nil {
			logger.Log.Error("sweep failed", zap.String("userID", userID), zap.Error(err))
		}
	}()
}

// Shutdown 關閉所有 channel 並等待進行中的 sweep
func (r *ConnectionRegistry) Shutdown(timeout time.Duration) error {
	r.cancel()

	r.mu.Lock()
	r.closing = true
	channels := make([]*Channel, 0, len(r.byID))
	for _, ch := range r.byID {
		channels = append(channels, ch)
	}
	r.mu.Unlock()

	for _, ch := range channels {
		r.Deregister(ch)
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("registry shutdown: sweeps still running after %s", timeout)
	}
}
