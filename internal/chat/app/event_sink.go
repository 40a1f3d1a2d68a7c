package app

import (
	"context"
	"sync"
	"time"

	"chat_sync_service/internal/chat/domain"
	"chat_sync_service/pkg/logger"

	"go.uber.org/zap"
)

// EventSink receives confirmed events outside the websocket fan-out
// (redis pub/sub, kafka)
type EventSink interface {
	Emit(ctx context.Context, evt domain.Event) error
}

// EventDispatcher 非同步把事件送到所有 sink，sink 失敗只記錄
type EventDispatcher struct {
	sinks   []EventSink
	queue   chan domain.Event
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewEventDispatcher create dispatcher, with no sinks Emit is a no-op
func NewEventDispatcher(buffer int, timeout time.Duration, sinks ...EventSink) *EventDispatcher {
	if buffer <= 0 {
		buffer = 1024
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	d := &EventDispatcher{
		sinks:   sinks,
		queue:   make(chan domain.Event, buffer),
		timeout: timeout,
	}
	if len(sinks) > 0 {
		d.wg.Add(1)
		go d.run()
	}
	return d
}

// Emit queue evt without blocking, dropped when the queue is full
func (d *EventDispatcher) Emit(evt domain.Event) {
	if d == nil || len(d.sinks) == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- evt:
	default:
		logger.Log.Warn("event sink queue full, drop event", zap.String("action", string(evt.Action)))
	}
}

func (d *EventDispatcher) run() {
	defer d.wg.Done()
	for evt := range d.queue {
		for _, sink := range d.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			if err := sink.Emit(ctx, evt); err != nil {
				logger.Log.Warn("event sink emit failed",
					zap.String("action", string(evt.Action)),
					zap.Error(err),
				)
			}
			cancel()
		}
	}
}

// Close drain queued events then stop
func (d *EventDispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}
