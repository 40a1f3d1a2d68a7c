package app

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"chat_sync_service/internal/chat/domain"

	"github.com/cucumber/godog"
)

// syncFeature 每個 scenario 一份新的 engine
type syncFeature struct {
	t        *testing.T
	e        *engine
	channels map[string][]*Channel
	senders  map[string]*recordSender
	seq      int64
	msgs     map[string][]string // conversation id -> message ids in order

	lastSweep int
	lastIDs   []string
}

func (f *syncFeature) reset() {
	f.e = newEngine(f.t, nil)
	f.channels = make(map[string][]*Channel)
	f.senders = make(map[string]*recordSender)
	f.msgs = make(map[string][]string)
	f.seq = 0
	f.lastSweep = 0
	f.lastIDs = nil
}

func waitFor(desc string, cond func() bool) error {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return fmt.Errorf("timeout waiting for %s", desc)
}

func (f *syncFeature) pairwiseConversation(id, a, b string) error {
	return f.e.store.CreatePrivateChat(context.Background(), &domain.PrivateChat{ID: id, UserA: a, UserB: b})
}

func (f *syncFeature) groupConversation(id, members string) error {
	chat := &domain.GroupChat{ID: id}
	for i, m := range strings.Split(members, ",") {
		role := domain.RoleMember
		if i == 0 {
			role = domain.RoleOwner
		}
		chat.Members = append(chat.Members, domain.Member{UserID: strings.TrimSpace(m), Role: role})
	}
	return f.e.store.CreateGroupChat(context.Background(), chat)
}

func (f *syncFeature) sentMessages(sender string, n int, conversationID string) error {
	for i := 0; i < n; i++ {
		f.seq++
		id := fmt.Sprintf("%s-%03d", conversationID, f.seq)
		if err := f.e.store.InsertMessage(context.Background(), &domain.Message{
			ID:             id,
			ConversationID: conversationID,
			SenderID:       sender,
			Content:        "hello",
			CreatedAt:      f.seq,
		}); err != nil {
			return err
		}
		f.msgs[conversationID] = append(f.msgs[conversationID], id)
	}
	return nil
}

func (f *syncFeature) sentMessagesOffline(sender string, n int, conversationID, _ string) error {
	return f.sentMessages(sender, n, conversationID)
}

func (f *syncFeature) connects(userID string) error {
	s, ok := f.senders[userID]
	if !ok {
		s = newRecordSender()
		f.senders[userID] = s
	}
	ch, err := f.e.uc.Connect(domain.Identity{ID: userID, DisplayName: userID}, s)
	if err != nil {
		return err
	}
	f.channels[userID] = append(f.channels[userID], ch)
	return nil
}

func (f *syncFeature) onlineAndJoined(userID, conversationID string) error {
	if err := f.connects(userID); err != nil {
		return err
	}
	chs := f.channels[userID]
	return f.e.uc.JoinRoom(context.Background(), chs[len(chs)-1], conversationID)
}

func (f *syncFeature) disconnectsOne(userID string) error {
	chs := f.channels[userID]
	if len(chs) == 0 {
		return fmt.Errorf("%s has no channel", userID)
	}
	f.e.uc.Disconnect(chs[0])
	f.channels[userID] = chs[1:]
	return nil
}

func (f *syncFeature) receivesDeliveryReceipts(observer string, n int, recipient string) error {
	s := f.senders[observer]
	if s == nil {
		return fmt.Errorf("%s is not connected", observer)
	}
	if err := waitFor("delivery receipts", func() bool { return deliveredTo(s, recipient) >= n }); err != nil {
		return err
	}
	if got := deliveredTo(s, recipient); got != n {
		return fmt.Errorf("expected %d delivery receipts, got %d", n, got)
	}
	return nil
}

func (f *syncFeature) sweepAgain(userID string) error {
	n, err := f.e.sweeper.Sweep(context.Background(), userID)
	f.lastSweep = n
	return err
}

func (f *syncFeature) sweepProduces(n int) error {
	if f.lastSweep != n {
		return fmt.Errorf("expected sweep to produce %d receipts, got %d", n, f.lastSweep)
	}
	return nil
}

func (f *syncFeature) alreadyRead(readerID string, nth int, conversationID string) error {
	ids := f.msgs[conversationID]
	if nth < 1 || nth > len(ids) {
		return fmt.Errorf("no message %d in %s", nth, conversationID)
	}
	_, err := f.e.dsm.MarkRead(context.Background(), ids[nth-1], readerID)
	return err
}

func (f *syncFeature) marksAllRead(readerID, conversationID string) error {
	ids, err := f.e.uc.MarkAllRead(context.Background(), conversationID, readerID)
	f.lastIDs = ids
	return err
}

func (f *syncFeature) idsReturned(n int) error {
	if len(f.lastIDs) != n {
		return fmt.Errorf("expected %d ids, got %v", n, f.lastIDs)
	}
	return nil
}

func (f *syncFeature) seesPresence(observer string, online int, onlineAction string, offline int, offlineAction, userID string) error {
	s := f.senders[observer]
	if s == nil {
		return fmt.Errorf("%s is not connected", observer)
	}
	count := func(action string) int {
		n := 0
		for _, fr := range s.all() {
			if fr.Action == action && fr.Payload["user_id"] == userID {
				n++
			}
		}
		return n
	}
	err := waitFor("presence events", func() bool {
		return count(onlineAction) == online && count(offlineAction) == offline
	})
	if err != nil {
		return fmt.Errorf("%w: %s=%d %s=%d", err, onlineAction, count(onlineAction), offlineAction, count(offlineAction))
	}
	return nil
}

func (f *syncFeature) register(sc *godog.ScenarioContext) {
	sc.Step(`^a pairwise conversation "([^"]*)" between "([^"]*)" and "([^"]*)"$`, f.pairwiseConversation)
	sc.Step(`^a group conversation "([^"]*)" with members "([^"]*)"$`, f.groupConversation)
	sc.Step(`^"([^"]*)" sent (\d+) messages? in "([^"]*)" while "([^"]*)" was offline$`, f.sentMessagesOffline)
	sc.Step(`^"([^"]*)" sent (\d+) messages? in "([^"]*)"$`, f.sentMessages)
	sc.Step(`^"([^"]*)" is online and joined "([^"]*)"$`, f.onlineAndJoined)
	sc.Step(`^"([^"]*)" is online$`, f.connects)
	sc.Step(`^"([^"]*)" connects$`, f.connects)
	sc.Step(`^"([^"]*)" disconnects one device$`, f.disconnectsOne)
	sc.Step(`^"([^"]*)" receives (\d+) delivery receipts for "([^"]*)"$`, f.receivesDeliveryReceipts)
	sc.Step(`^the sweep for "([^"]*)" runs again$`, f.sweepAgain)
	sc.Step(`^the sweep produces (\d+) delivery receipts$`, f.sweepProduces)
	sc.Step(`^"([^"]*)" already read the (\d+)(?:st|nd|rd|th) message in "([^"]*)"$`, f.alreadyRead)
	sc.Step(`^"([^"]*)" marks all messages in "([^"]*)" as read$`, f.marksAllRead)
	sc.Step(`^(\d+) message ids are returned$`, f.idsReturned)
	sc.Step(`^"([^"]*)" sees (\d+) "([^"]*)" and (\d+) "([^"]*)" for "([^"]*)"$`, f.seesPresence)
}

func TestSyncFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: func(sc *godog.ScenarioContext) {
			f := &syncFeature{t: t}
			sc.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
				f.reset()
				return ctx, nil
			})
			f.register(sc)
		},
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
			Strict:   true,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
