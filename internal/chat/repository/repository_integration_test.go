package repository

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"strings"
	"testing"
	"time"

	"chat_sync_service/internal/chat/domain"
	"chat_sync_service/pkg/database"
	"chat_sync_service/pkg/logger"
	testtool "chat_sync_service/pkg/test_tool"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"go.mongodb.org/mongo-driver/mongo"
)

// **測試用的容器**
var (
	mongoDB     *database.MongoDB
	redisClient *redis.Client
)

// TestMain 啟動 mongo 與 redis 容器；-short 或沒有 docker 時只跑 unit test
func TestMain(m *testing.M) {
	flag.Parse()
	logger.SetNewNop()
	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()
	var containers []testcontainers.Container

	if c, uri, err := testtool.SetupMongo(ctx); err != nil {
		log.Printf("mongo container not available, skipping: %v", err)
	} else {
		containers = append(containers, c)
		mongoDB, err = database.NewMongoDB(ctx, database.Connection{
			ConnectStr:    uri,
			RetryCount:    5,
			RetryInterval: time.Second,
		}, "test_chat_db")
		if err != nil {
			log.Fatalf("❌ Failed to connect to MongoDB: %v", err)
		}
	}

	if c, addr, err := testtool.SetupRedis(ctx); err != nil {
		log.Printf("redis container not available, skipping: %v", err)
	} else {
		containers = append(containers, c)
		redisClient, err = database.NewRedisClient("", nil, addr, 0)
		if err != nil {
			log.Fatalf("❌ Failed to connect to Redis: %v", err)
		}
	}

	code := m.Run()

	// **清理測試環境**
	if mongoDB != nil {
		_ = mongoDB.Close(ctx)
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	for _, c := range containers {
		_ = c.Terminate(ctx)
	}
	os.Exit(code)
}

// freshDB 每個測試一個獨立的 database
func freshDB(t *testing.T) *mongo.Database {
	t.Helper()
	if mongoDB == nil {
		t.Skip("mongo not available")
	}
	name := "chat_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	db := mongoDB.Client.Database(name)
	require.NoError(t, EnsureIndexes(context.Background(), db))
	t.Cleanup(func() { _ = db.Drop(context.Background()) })
	return db
}

func TestConversationRepository_FindByMember(t *testing.T) {
	ctx := context.Background()
	repo := NewMongoConversationRepository(freshDB(t))

	require.NoError(t, repo.CreatePrivateChat(ctx, &domain.PrivateChat{ID: "p1", UserA: "alice", UserB: "bob"}))
	require.NoError(t, repo.CreateGroupChat(ctx, &domain.GroupChat{ID: "g1", Members: []domain.Member{
		{UserID: "carol", Role: domain.RoleOwner},
		{UserID: "alice", Role: domain.RoleMember},
	}}))

	topos, err := repo.FindByMember(ctx, "alice")
	require.NoError(t, err)
	kinds := map[string]domain.ConversationKind{}
	for _, topo := range topos {
		kinds[topo.ConversationID()] = topo.Kind()
	}
	assert.Equal(t, map[string]domain.ConversationKind{"p1": domain.KindPairwise, "g1": domain.KindMultiParty}, kinds)

	topos, err = repo.FindByMember(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, topos, 1)
	assert.Equal(t, "p1", topos[0].ConversationID())

	_, err = repo.FindPrivateChat(ctx, "g1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = repo.CreatePrivateChat(ctx, &domain.PrivateChat{ID: "p1", UserA: "x", UserB: "y"})
	assert.ErrorIs(t, err, domain.ErrPersistence)
}

func TestMessageRepository_MarkReceiptConditional(t *testing.T) {
	ctx := context.Background()
	repo := NewMongoChatMessageRepository(freshDB(t))

	require.NoError(t, repo.InsertMessage(ctx, &domain.Message{ID: "m1", ConversationID: "p1", Kind: domain.KindPairwise, SenderID: "alice", CreatedAt: 1}))
	require.NoError(t, repo.InsertMessage(ctx, &domain.Message{ID: "m2", ConversationID: "g1", Kind: domain.KindMultiParty, SenderID: "alice", CreatedAt: 2}))

	tests := []struct {
		name      string
		kind      domain.ConversationKind
		messageID string
		recipient string
		receipt   domain.ReceiptKind
		changed   bool
	}{
		{"pairwise delivered", domain.KindPairwise, "m1", "bob", domain.ReceiptDelivered, true},
		{"pairwise delivered again", domain.KindPairwise, "m1", "bob", domain.ReceiptDelivered, false},
		{"sender never receives", domain.KindPairwise, "m1", "alice", domain.ReceiptRead, false},
		{"group delivered bob", domain.KindMultiParty, "m2", "bob", domain.ReceiptDelivered, true},
		{"group delivered bob again", domain.KindMultiParty, "m2", "bob", domain.ReceiptDelivered, false},
		{"group delivered carol", domain.KindMultiParty, "m2", "carol", domain.ReceiptDelivered, true},
		{"group read bob", domain.KindMultiParty, "m2", "bob", domain.ReceiptRead, true},
		{"missing message", domain.KindPairwise, "nope", "bob", domain.ReceiptDelivered, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			changed, err := repo.MarkReceipt(ctx, tt.kind, tt.messageID, tt.recipient, tt.receipt)
			require.NoError(t, err)
			assert.Equal(t, tt.changed, changed)
		})
	}

	m1, err := repo.FindByID(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, m1.Delivered)
	assert.False(t, m1.Read)

	m2, err := repo.FindByID(ctx, "m2")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"bob", "carol"}, m2.DeliveredTo)
	assert.Equal(t, []string{"bob"}, m2.ReadBy)

	_, err = repo.FindByID(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMessageRepository_PendingAndBulkRead(t *testing.T) {
	ctx := context.Background()
	repo := NewMongoChatMessageRepository(freshDB(t))
	pair := domain.Pairwise{ID: "p1", UserA: "alice", UserB: "bob"}
	group := domain.MultiParty{ID: "g1", Members: []domain.Member{{UserID: "alice"}, {UserID: "bob"}, {UserID: "carol"}}}

	insert := func(id, conv string, kind domain.ConversationKind, sender string, at int64) {
		require.NoError(t, repo.InsertMessage(ctx, &domain.Message{ID: id, ConversationID: conv, Kind: kind, SenderID: sender, CreatedAt: at}))
	}
	insert("p-3", "p1", domain.KindPairwise, "alice", 3)
	insert("p-1", "p1", domain.KindPairwise, "alice", 1)
	insert("p-own", "p1", domain.KindPairwise, "bob", 2)
	insert("g-2", "g1", domain.KindMultiParty, "carol", 2)
	insert("other", "g2", domain.KindMultiParty, "carol", 0)

	pending, err := repo.FindPendingDelivery(ctx, "bob", []domain.Topology{pair, group})
	require.NoError(t, err)
	var ids []string
	for _, m := range pending {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"p-1", "g-2", "p-3"}, ids)

	unread, err := repo.FindUnread(ctx, group, "bob")
	require.NoError(t, err)
	require.Len(t, unread, 1)

	n, err := repo.MarkConversationRead(ctx, group, "bob", []string{"g-2", "other"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	g2, err := repo.FindByID(ctx, "g-2")
	require.NoError(t, err)
	assert.True(t, g2.IsReadBy("bob"))
	assert.True(t, g2.IsDeliveredTo("bob"))

	n, err = repo.MarkConversationRead(ctx, group, "bob", []string{"g-2"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	counts, err := repo.CountUnreadByConversation(ctx, "bob", []domain.Topology{pair, group})
	require.NoError(t, err)
	require.Len(t, counts, 1)
	assert.Equal(t, domain.ConversationUnread{ConversationID: "p1", UnreadCount: 2, LastUnreadTimestamp: 3}, counts[0])
}

func TestRedisPubSub_Emit(t *testing.T) {
	if redisClient == nil {
		t.Skip("redis not available")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sink := NewRedisPubSub(redisClient, "chat:presence")
	sub := redisClient.Subscribe(ctx, "chat:presence", "chat:room:g1")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, sink.Emit(ctx, domain.PresenceOfflineEvent("bob")))
	require.NoError(t, sink.Emit(ctx, domain.ReceiptEvent(domain.Receipt{
		Kind: domain.ReceiptRead, ConversationID: "g1", MessageID: "m1", RecipientID: "bob",
	})))

	got := map[string]domain.Action{}
	for len(got) < 2 {
		select {
		case msg := <-sub.Channel():
			var evt domain.Event
			require.NoError(t, json.Unmarshal([]byte(msg.Payload), &evt))
			got[msg.Channel] = evt.Action
		case <-ctx.Done():
			t.Fatalf("timeout, got %v", got)
		}
	}
	assert.Equal(t, domain.PresenceOffline, got["chat:presence"])
	assert.Equal(t, domain.ReadReceipt, got["chat:room:g1"])
}
