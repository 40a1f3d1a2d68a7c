package app

import (
	"context"
	"testing"
	"time"

	"chat_sync_service/internal/chat/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestSyncUseCase_Authenticate(t *testing.T) {
	verifier := new(MockIdentityVerifier)
	verifier.On("Verify", mock.Anything, "good").Return(domain.Identity{ID: "u1"}, nil)
	verifier.On("Verify", mock.Anything, "bad").Return(domain.Identity{}, domain.ErrAuthFailure)
	e := newEngine(t, verifier)

	id, err := e.uc.Authenticate(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, "u1", id.ID)

	_, err = e.uc.Authenticate(context.Background(), "bad")
	assert.ErrorIs(t, err, domain.ErrAuthFailure)
}

// 驗證逾時視為驗證失敗，且不會註冊任何 channel
func TestSyncUseCase_AuthenticateTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	verifier := new(MockIdentityVerifier)
	verifier.On("Verify", mock.Anything, "slow").Run(func(mock.Arguments) {
		<-release
	}).Return(domain.Identity{ID: "u1"}, nil)
	e := newEngine(t, verifier)
	e.uc.opts.HandshakeTimeout = 30 * time.Millisecond

	start := time.Now()
	_, err := e.uc.Authenticate(context.Background(), "slow")
	assert.ErrorIs(t, err, domain.ErrAuthFailure)
	assert.Less(t, time.Since(start), time.Second)
	assert.Empty(t, e.registry.OnlineUsers())
}

func TestSyncUseCase_JoinRoomRequiresMembership(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, nil)
	seedPairwise(t, e, "p1", "alice", "bob")
	ch, _ := e.connect(t, "mallory")

	err := e.uc.JoinRoom(ctx, ch, "p1")
	assert.ErrorIs(t, err, domain.ErrAccessDenied)
	assert.Equal(t, 0, e.router.Members("p1"))

	err = e.uc.JoinRoom(ctx, ch, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, domain.ClientError(err), "not found")
}

// 兩個裝置各自收到一份
func TestSyncUseCase_PublishMessageToEveryDevice(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, nil)
	seedPairwise(t, e, "p1", "alice", "bob")
	e.message(t, "m1", "p1", "alice", 1)

	phone, phoneSender := e.connect(t, "bob")
	laptop, laptopSender := e.connect(t, "bob")
	other, otherSender := e.connect(t, "alice")
	require.NoError(t, e.uc.JoinRoom(ctx, phone, "p1"))
	require.NoError(t, e.uc.JoinRoom(ctx, laptop, "p1"))
	_ = other

	msg, err := e.uc.NotifyMessage(ctx, other, "p1", "m1")
	require.NoError(t, err)
	assert.Equal(t, "m1", msg.ID)

	eventually(t, func() bool {
		return phoneSender.count(domain.NewMessage) == 1 && laptopSender.count(domain.NewMessage) == 1
	})
	// alice 沒有 join room
	assert.Equal(t, 0, otherSender.count(domain.NewMessage))
}

func TestSyncUseCase_NotifyMessageRequiresSender(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, nil)
	seedPairwise(t, e, "p1", "alice", "bob")
	e.message(t, "m1", "p1", "alice", 1)
	bob, _ := e.connect(t, "bob")

	_, err := e.uc.NotifyMessage(ctx, bob, "p1", "m1")
	assert.ErrorIs(t, err, domain.ErrAccessDenied)

	alice, _ := e.connect(t, "alice")
	_, err = e.uc.NotifyMessage(ctx, alice, "other-conversation", "m1")
	assert.ErrorIs(t, err, domain.ErrAccessDenied)

	_, err = e.uc.NotifyMessage(ctx, alice, "p1", "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSyncUseCase_DeliveryReceiptOnlyForSelf(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, nil)
	seedGroup(t, e, "g1", "alice", "bob", "carol")
	e.message(t, "m1", "g1", "alice", 1)
	bob, _ := e.connect(t, "bob")

	_, err := e.uc.DeliveryReceipt(ctx, bob, "m1", "carol")
	assert.ErrorIs(t, err, domain.ErrAccessDenied)
	assert.NotContains(t, e.store.message("m1").DeliveredTo, "carol")

	eventually(t, func() bool {
		return len(e.store.message("m1").DeliveredTo) == 1
	})
	// bob 上線時 sweep 已經送達，這次不再產生回執
	receipts, err := e.uc.DeliveryReceipt(ctx, bob, "m1", "")
	require.NoError(t, err)
	assert.Empty(t, receipts)
}

// 讀取回執也會送到 sender 沒有 join room 的裝置
func TestSyncUseCase_ReadReceiptReachesSender(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, nil)
	seedPairwise(t, e, "p1", "alice", "bob")
	e.message(t, "m1", "p1", "alice", 1)

	_, alice := e.connect(t, "alice")
	bob, _ := e.connect(t, "bob")
	eventually(t, func() bool { return e.store.message("m1").Delivered })

	receipts, err := e.uc.ReadReceipt(ctx, bob, "m1")
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	assert.Equal(t, domain.ReceiptRead, receipts[0].Kind)

	eventually(t, func() bool { return alice.count(domain.ReadReceipt) == 1 })
	for _, f := range alice.all() {
		if f.Action == string(domain.ReadReceipt) {
			assert.Equal(t, "bob", f.Payload["reader_id"])
			assert.Equal(t, "m1", f.Payload["message_id"])
		}
	}
}

func TestSyncUseCase_UnreadCountsAndMarkAllRead(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, nil)
	seedPairwise(t, e, "p1", "alice", "bob")
	seedGroup(t, e, "g1", "alice", "bob")
	e.message(t, "m1", "p1", "alice", 1)
	e.message(t, "m2", "p1", "alice", 2)
	e.message(t, "m3", "g1", "alice", 3)

	unread, err := e.uc.UnreadCounts(ctx, "bob")
	require.NoError(t, err)
	counts := map[string]int{}
	for _, u := range unread {
		counts[u.ConversationID] = u.UnreadCount
	}
	assert.Equal(t, map[string]int{"p1": 2, "g1": 1}, counts)

	ids, err := e.uc.MarkAllRead(ctx, "p1", "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2"}, ids)

	unread, err = e.uc.UnreadCounts(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, "g1", unread[0].ConversationID)
}

func TestSyncUseCase_DisconnectTwice(t *testing.T) {
	e := newEngine(t, nil)
	ch, _ := e.connect(t, "alice")
	assert.Equal(t, []string{"alice"}, e.uc.OnlineUsers())

	e.uc.Disconnect(ch)
	e.uc.Disconnect(ch)
	<-ch.Done()
	assert.Empty(t, e.uc.OnlineUsers())
}
