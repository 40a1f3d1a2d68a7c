package app

import (
	"encoding/json"
	"sync"

	"chat_sync_service/internal/chat/domain"
	"chat_sync_service/pkg/logger"

	"go.uber.org/zap"
)

// BroadcastRouter 管理 room 訂閱並把事件送到每個 channel 的佇列
//
// Join/Leave/Attach/Detach take mu exclusively; publishes hold it shared, so a
// detached channel can never be targeted by a publish that starts after
// Detach returns. Per-room mutexes keep events of one room in FIFO order.
type BroadcastRouter struct {
	mu       sync.RWMutex
	rooms    map[string]*room
	channels map[*Channel]struct{}
	byUser   map[string]map[*Channel]struct{}

	globalMu sync.Mutex
}

type room struct {
	mu      sync.Mutex
	members map[*Channel]struct{}
}

// NewBroadcastRouter create router
func NewBroadcastRouter() *BroadcastRouter {
	return &BroadcastRouter{
		rooms:    make(map[string]*room),
		channels: make(map[*Channel]struct{}),
		byUser:   make(map[string]map[*Channel]struct{}),
	}
}

// Attach add channel to the global set, false when it is already closed
func (r *BroadcastRouter) Attach(ch *Channel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch.IsClosed() {
		return false
	}
	r.channels[ch] = struct{}{}
	set, ok := r.byUser[ch.UserID()]
	if !ok {
		set = make(map[*Channel]struct{})
		r.byUser[ch.UserID()] = set
	}
	set[ch] = struct{}{}
	return true
}

// Detach remove channel from every room and the global set
func (r *BroadcastRouter) Detach(ch *Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for roomID := range ch.rooms {
		r.removeMember(roomID, ch)
	}
	ch.rooms = make(map[string]struct{})
	delete(r.channels, ch)
	if set, ok := r.byUser[ch.UserID()]; ok {
		delete(set, ch)
		if len(set) == 0 {
			delete(r.byUser, ch.UserID())
		}
	}
}

// Join subscribe channel to room, duplicate join is a no-op
func (r *BroadcastRouter) Join(ch *Channel, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.channels[ch]; !ok {
		return domain.ErrChannelClosed
	}
	rm, ok := r.rooms[roomID]
	if !ok {
		rm = &room{members: make(map[*Channel]struct{})}
		r.rooms[roomID] = rm
	}
	rm.members[ch] = struct{}{}
	ch.rooms[roomID] = struct{}{}
	return nil
}

// Leave unsubscribe channel from room, no-op when absent
func (r *BroadcastRouter) Leave(ch *Channel, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeMember(roomID, ch)
	delete(ch.rooms, roomID)
}

// removeMember caller holds mu
func (r *BroadcastRouter) removeMember(roomID string, ch *Channel) {
	rm, ok := r.rooms[roomID]
	if !ok {
		return
	}
	delete(rm.members, ch)
	if len(rm.members) == 0 {
		delete(r.rooms, roomID)
	}
}

// Members number of channels joined to room
func (r *BroadcastRouter) Members(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rm, ok := r.rooms[roomID]; ok {
		return len(rm.members)
	}
	return 0
}

// Joined report whether ch is subscribed to room
func (r *BroadcastRouter) Joined(ch *Channel, roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := ch.rooms[roomID]
	return ok
}

// Publish send evt to every channel joined to roomID, returns how many
// channels accepted it
func (r *BroadcastRouter) Publish(roomID string, evt domain.Event) int {
	return r.PublishWith(roomID, evt, "")
}

// PublishWith like Publish, plus the channels of alsoUserID that are not
// joined to the room
func (r *BroadcastRouter) PublishWith(roomID string, evt domain.Event, alsoUserID string) int {
	frame, err := json.Marshal(evt.Response())
	if err != nil {
		logger.Log.Error("marshal event", zap.String("action", string(evt.Action)), zap.Error(err))
		return 0
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	sent := 0
	rm, ok := r.rooms[roomID]
	if ok {
		rm.mu.Lock()
		defer rm.mu.Unlock()
		for ch := range rm.members {
			if r.deliver(ch, frame, evt) {
				sent++
			}
		}
	}

	if alsoUserID == "" {
		return sent
	}
	for ch := range r.byUser[alsoUserID] {
		if ok {
			if _, joined := rm.members[ch]; joined {
				continue
			}
		}
		if r.deliver(ch, frame, evt) {
			sent++
		}
	}
	return sent
}

// PublishGlobal send evt to every attached channel except exclude
func (r *BroadcastRouter) PublishGlobal(evt domain.Event, exclude *Channel) int {
	frame, err := json.Marshal(evt.Response())
	if err != nil {
		logger.Log.Error("marshal event", zap.String("action", string(evt.Action)), zap.Error(err))
		return 0
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	r.globalMu.Lock()
	defer r.globalMu.Unlock()

	sent := 0
	for ch := range r.channels {
		if ch == exclude {
			continue
		}
		if r.deliver(ch, frame, evt) {
			sent++
		}
	}
	return sent
}

func (r *BroadcastRouter) deliver(ch *Channel, frame []byte, evt domain.Event) bool {
	if err := ch.enqueue(frame); err != nil {
		logger.Log.Warn("drop event for channel",
			zap.String("channelID", ch.ID()),
			zap.String("userID", ch.UserID()),
			zap.String("action", string(evt.Action)),
			zap.Error(err),
		)
		return false
	}
	return true
}
