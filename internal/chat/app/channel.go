package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"chat_sync_service/internal/chat/domain"
	"chat_sync_service/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Sender is the write side of one live connection. Send must respect the
// ctx deadline.
type Sender interface {
	Send(ctx context.Context, frame []byte) error
}

// ChannelOptions per channel limits
type ChannelOptions struct {
	SendBuffer  int
	SendTimeout time.Duration
}

// Channel one live bidirectional connection owned by a single identity.
// Frames are queued and written by one goroutine, so a slow peer only fills
// its own queue.
type Channel struct {
	id       string
	identity domain.Identity
	sender   Sender
	timeout  time.Duration

	mu     sync.Mutex
	queue  chan []byte
	closed bool
	done   chan struct{}

	// guarded by BroadcastRouter.mu
	rooms map[string]struct{}
}

// NewChannel create channel and start its writer
func NewChannel(identity domain.Identity, sender Sender, opts ChannelOptions) *Channel {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 5 * time.Second
	}
	ch := &Channel{
		id:       uuid.New().String(),
		identity: identity,
		sender:   sender,
		timeout:  opts.SendTimeout,
		queue:    make(chan []byte, opts.SendBuffer),
		done:     make(chan struct{}),
		rooms:    make(map[string]struct{}),
	}
	go ch.writeLoop()
	return ch
}

// ID unique channel id
func (c *Channel) ID() string { return c.id }

// Identity owning identity
func (c *Channel) Identity() domain.Identity { return c.identity }

// UserID owning identity id
func (c *Channel) UserID() string { return c.identity.ID }

// Done closed when the writer stopped after Close
func (c *Channel) Done() <-chan struct{} { return c.done }

// Send queue a response frame for this channel only
func (c *Channel) Send(resp domain.WSResponse) error {
	frame, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return c.enqueue(frame)
}

func (c *Channel) enqueue(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return domain.ErrChannelClosed
	}
	select {
	case c.queue <- frame:
		return nil
	default:
		return fmt.Errorf("channel %s queue full: %w", c.id, domain.ErrChannelSend)
	}
}

// Close stop accepting frames; queued frames are still attempted
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.queue)
}

// IsClosed report whether Close was called
func (c *Channel) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Channel) writeLoop() {
	defer close(c.done)
	for frame := range c.queue {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		err := c.sender.Send(ctx, frame)
		cancel()
		if err != nil {
			logger.Log.Warn("channel send failed",
				zap.String("channelID", c.id),
				zap.String("userID", c.identity.ID),
				zap.Error(err),
			)
		}
	}
}
