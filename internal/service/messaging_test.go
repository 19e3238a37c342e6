package service_test

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"winechat/internal/domain"
	"winechat/internal/service"
	"winechat/internal/store/sqlite"
)

type pushed struct {
	room    string
	event   string
	payload any
}

// recorder is a Broadcaster that keeps every event for inspection.
type recorder struct {
	mu     sync.Mutex
	events []pushed
}

func (r *recorder) ToUser(userID int64, event string, payload any) {
	r.add(fmt.Sprintf("user:%d", userID), event, payload)
}

func (r *recorder) ToConversation(conversationID int64, event string, payload any) {
	r.add(fmt.Sprintf("conversation:%d", conversationID), event, payload)
}

func (r *recorder) add(room, event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, pushed{room: room, event: event, payload: payload})
}

func (r *recorder) find(room, event string) []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []any
	for _, e := range r.events {
		if e.room == room && e.event == event {
			out = append(out, e.payload)
		}
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

type fixture struct {
	svc   *service.Messaging
	repos domain.Repositories
	rec   *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, sqlite.Migrate(db))

	repos := sqlite.NewRepositories(db)
	rec := &recorder{}
	svc := service.NewMessaging(repos, service.MessagingOptions{Broadcaster: rec})
	return &fixture{svc: svc, repos: repos, rec: rec}
}

func (f *fixture) user(t *testing.T, name string) *domain.User {
	t.Helper()
	u := &domain.User{Username: name, HashedPassword: "x", IsActive: true}
	require.NoError(t, f.repos.Users.Create(context.Background(), u))
	return u
}

func (f *fixture) send(t *testing.T, from, to int64, content string) *domain.Message {
	t.Helper()
	msg, err := f.svc.SendMessage(context.Background(), from, service.SendMessageInput{RecipientID: to, Content: content})
	require.NoError(t, err)
	return msg
}

func TestCreateConversationReusesPair(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.user(t, "alice"), f.user(t, "bob")

	first, err := f.svc.CreateConversation(ctx, alice.ID, service.CreateConversationInput{RecipientID: bob.ID, Content: "hi"})
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.Equal(t, domain.MessageTypeText, first.Message.MessageType)

	again, err := f.svc.CreateConversation(ctx, alice.ID, service.CreateConversationInput{RecipientID: bob.ID, Content: "hi again"})
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Equal(t, first.Conversation.ID, again.Conversation.ID)

	reverse, err := f.svc.CreateConversation(ctx, bob.ID, service.CreateConversationInput{RecipientID: alice.ID, Content: "yo"})
	require.NoError(t, err)
	assert.Equal(t, first.Conversation.ID, reverse.Conversation.ID)

	ids, err := f.repos.Participants.ListParticipantIDs(ctx, first.Conversation.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{alice.ID, bob.ID}, ids)
}

func TestCreateConversationConcurrentPair(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.user(t, "alice"), f.user(t, "bob")

	const workers = 10
	convIDs := make([]int64, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			from, to := alice.ID, bob.ID
			if i%2 == 1 {
				from, to = to, from
			}
			res, err := f.svc.CreateConversation(ctx, from, service.CreateConversationInput{RecipientID: to, Content: "race"})
			if assert.NoError(t, err) {
				convIDs[i] = res.Conversation.ID
			}
		}()
	}
	wg.Wait()

	for _, id := range convIDs {
		assert.Equal(t, convIDs[0], id)
	}
	list, err := f.svc.ListConversations(ctx, alice.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestCreateConversationRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice")
	banned := f.user(t, "banned")
	require.NoError(t, f.repos.Users.SetBanned(ctx, banned.ID, true))

	tests := []struct {
		name string
		in   service.CreateConversationInput
		want error
	}{
		{"Self", service.CreateConversationInput{RecipientID: alice.ID, Content: "me"}, domain.ErrInvalidOperation},
		{"UnknownRecipient", service.CreateConversationInput{RecipientID: 9999, Content: "hi"}, domain.ErrNotFound},
		{"BannedRecipient", service.CreateConversationInput{RecipientID: banned.ID, Content: "hi"}, domain.ErrInvalidOperation},
		{"EmptyContent", service.CreateConversationInput{RecipientID: banned.ID, Content: "   "}, domain.ErrInvalidOperation},
		{"MissingRecipient", service.CreateConversationInput{Content: "hi"}, domain.ErrInvalidOperation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateConversation(ctx, alice.ID, tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	list, err := f.svc.ListConversations(ctx, alice.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSendMessageValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob, carol := f.user(t, "alice"), f.user(t, "bob"), f.user(t, "carol")
	conv := f.send(t, alice.ID, bob.ID, "hello").ConversationID

	tests := []struct {
		name   string
		caller int64
		in     service.SendMessageInput
		want   error
	}{
		{"BothTargets", alice.ID, service.SendMessageInput{ConversationID: conv, RecipientID: bob.ID, Content: "x"}, domain.ErrInvalidOperation},
		{"NoTarget", alice.ID, service.SendMessageInput{Content: "x"}, domain.ErrInvalidOperation},
		{"Outsider", carol.ID, service.SendMessageInput{ConversationID: conv, Content: "x"}, domain.ErrForbidden},
		{"MissingConversation", alice.ID, service.SendMessageInput{ConversationID: 4242, Content: "x"}, domain.ErrNotFound},
		{"Empty", alice.ID, service.SendMessageInput{ConversationID: conv, Content: ""}, domain.ErrInvalidOperation},
		{"TooLong", alice.ID, service.SendMessageInput{ConversationID: conv, Content: strings.Repeat("é", 5001)}, domain.ErrInvalidOperation},
		{"UnknownType", alice.ID, service.SendMessageInput{ConversationID: conv, Content: "x", MessageType: "image"}, domain.ErrInvalidOperation},
		{"BadOrderID", alice.ID, service.SendMessageInput{ConversationID: conv, Content: "x", OrderID: ptr(int64(-1))}, domain.ErrInvalidOperation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.SendMessage(ctx, tt.caller, tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	t.Run("MaxLengthAccepted", func(t *testing.T) {
		_, err := f.svc.SendMessage(ctx, alice.ID, service.SendMessageInput{ConversationID: conv, Content: strings.Repeat("é", 5000)})
		assert.NoError(t, err)
	})

	t.Run("PeerBannedAfterwards", func(t *testing.T) {
		require.NoError(t, f.repos.Users.SetBanned(ctx, bob.ID, true))
		defer func() { require.NoError(t, f.repos.Users.SetBanned(ctx, bob.ID, false)) }()
		_, err := f.svc.SendMessage(ctx, alice.ID, service.SendMessageInput{ConversationID: conv, Content: "x"})
		assert.ErrorIs(t, err, domain.ErrInvalidOperation)
	})
}

func TestSendMessageFanOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.user(t, "alice"), f.user(t, "bob")

	orderID := int64(77)
	msg, err := f.svc.SendMessage(ctx, alice.ID, service.SendMessageInput{RecipientID: bob.ID, Content: "wine?", OrderID: &orderID})
	require.NoError(t, err)
	require.NotNil(t, msg.OrderID)
	assert.Equal(t, orderID, *msg.OrderID)
	assert.Nil(t, msg.ReadAt)

	for _, uid := range []int64{alice.ID, bob.ID} {
		got := f.rec.find(fmt.Sprintf("user:%d", uid), service.EventNewMessage)
		require.Len(t, got, 1)
		evt := got[0].(service.NewMessageEvent)
		assert.Equal(t, msg.ID, evt.Message.ID)
		assert.Nil(t, evt.Sender)
	}

	room := f.rec.find(fmt.Sprintf("conversation:%d", msg.ConversationID), service.EventNewMessage)
	require.Len(t, room, 1)
	evt := room[0].(service.NewMessageEvent)
	require.NotNil(t, evt.Sender)
	assert.Equal(t, "alice", evt.Sender.Username)

	counts := f.rec.find(fmt.Sprintf("user:%d", bob.ID), service.EventUnreadCount)
	require.Len(t, counts, 1)
	assert.Equal(t, service.UnreadCountEvent{Count: 1}, counts[0])
	assert.Empty(t, f.rec.find(fmt.Sprintf("user:%d", alice.ID), service.EventUnreadCount))
}

func TestReadingHistoryClearsUnread(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.user(t, "alice"), f.user(t, "bob")

	conv := f.send(t, alice.ID, bob.ID, "one").ConversationID
	f.send(t, alice.ID, bob.ID, "two")
	f.send(t, alice.ID, bob.ID, "three")
	own := f.send(t, bob.ID, alice.ID, "mine")

	count, err := f.svc.GetUnreadCount(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	f.rec.reset()
	page, err := f.svc.GetConversationMessages(ctx, bob.ID, conv, 1, 0)
	require.NoError(t, err)
	require.Len(t, page.Messages, 4)
	assert.Equal(t, "one", page.Messages[0].Content)
	assert.Equal(t, "mine", page.Messages[3].Content)

	count, err = f.svc.GetUnreadCount(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	pushedCounts := f.rec.find(fmt.Sprintf("user:%d", bob.ID), service.EventUnreadCount)
	require.Len(t, pushedCounts, 1)
	assert.Equal(t, service.UnreadCountEvent{Count: 0}, pushedCounts[0])
	assert.Len(t, f.rec.find(fmt.Sprintf("user:%d", alice.ID), service.EventMessagesRead), 1)

	// Bob's own message stays unread for Alice.
	stored, err := f.repos.Messages.GetByID(ctx, own.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.ReadAt)
	count, err = f.svc.GetUnreadCount(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestGetConversationMessagesPaging(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob, carol := f.user(t, "alice"), f.user(t, "bob"), f.user(t, "carol")

	var conv int64
	for i := 1; i <= 5; i++ {
		conv = f.send(t, alice.ID, bob.ID, fmt.Sprintf("m%d", i)).ConversationID
	}

	page, err := f.svc.GetConversationMessages(ctx, alice.ID, conv, 1, 2)
	require.NoError(t, err)
	assert.True(t, page.HasMore)
	assert.Equal(t, []string{"m4", "m5"}, contents(page.Messages))

	page, err = f.svc.GetConversationMessages(ctx, alice.ID, conv, 3, 2)
	require.NoError(t, err)
	assert.False(t, page.HasMore)
	assert.Equal(t, []string{"m1"}, contents(page.Messages))

	page, err = f.svc.GetConversationMessages(ctx, alice.ID, conv, 9, 2)
	require.NoError(t, err)
	assert.Empty(t, page.Messages)
	assert.NotNil(t, page.Messages)

	page, err = f.svc.GetConversationMessages(ctx, alice.ID, conv, 0, 1000)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 100, page.PageSize)

	_, err = f.svc.GetConversationMessages(ctx, carol.ID, conv, 1, 10)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.svc.GetConversationMessages(ctx, alice.ID, 31337, 1, 10)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Alice paging her own messages never marks them read.
	count, err := f.svc.GetUnreadCount(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}

func TestMarkMessageRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob, carol := f.user(t, "alice"), f.user(t, "bob"), f.user(t, "carol")
	msg := f.send(t, alice.ID, bob.ID, "read me")

	_, err := f.svc.MarkMessageRead(ctx, alice.ID, msg.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidOperation)
	_, err = f.svc.MarkMessageRead(ctx, carol.ID, msg.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.svc.MarkMessageRead(ctx, bob.ID, 9999)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	f.rec.reset()
	read, err := f.svc.MarkMessageRead(ctx, bob.ID, msg.ID)
	require.NoError(t, err)
	require.NotNil(t, read.ReadAt)
	first := *read.ReadAt

	assert.Len(t, f.rec.find(fmt.Sprintf("user:%d", alice.ID), service.EventMessageRead), 1)
	counts := f.rec.find(fmt.Sprintf("user:%d", bob.ID), service.EventUnreadCount)
	require.Len(t, counts, 1)
	assert.Equal(t, service.UnreadCountEvent{Count: 0}, counts[0])

	again, err := f.svc.MarkMessageRead(ctx, bob.ID, msg.ID)
	require.NoError(t, err)
	require.NotNil(t, again.ReadAt)
	assert.True(t, first.Equal(*again.ReadAt))
}

func TestDeleteMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	msg := f.send(t, alice.ID, bob.ID, "oops")
	f.send(t, alice.ID, bob.ID, "keep")

	assert.ErrorIs(t, f.svc.DeleteMessage(ctx, bob.ID, msg.ID), domain.ErrForbidden)

	f.rec.reset()
	require.NoError(t, f.svc.DeleteMessage(ctx, alice.ID, msg.ID))
	assert.ErrorIs(t, f.svc.DeleteMessage(ctx, alice.ID, msg.ID), domain.ErrNotFound)

	count, err := f.svc.GetUnreadCount(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	deleted := f.rec.find(fmt.Sprintf("conversation:%d", msg.ConversationID), service.EventMessageDeleted)
	require.Len(t, deleted, 1)
	assert.Equal(t, msg.ID, deleted[0].(service.MessageDeletedEvent).MessageID)
	counts := f.rec.find(fmt.Sprintf("user:%d", bob.ID), service.EventUnreadCount)
	require.Len(t, counts, 1)
	assert.Equal(t, service.UnreadCountEvent{Count: 1}, counts[0])
}

func TestListConversationsOrdering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob, carol := f.user(t, "alice"), f.user(t, "bob"), f.user(t, "carol")

	f.send(t, alice.ID, bob.ID, "to bob")
	f.send(t, carol.ID, alice.ID, "from carol")
	f.send(t, carol.ID, alice.ID, "again")
	last := f.send(t, bob.ID, alice.ID, "bob replies")

	list, err := f.svc.ListConversations(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)

	assert.Equal(t, "bob", list[0].Peer.Username)
	require.NotNil(t, list[0].LastMessage)
	assert.Equal(t, last.ID, list[0].LastMessage.ID)
	assert.Equal(t, 1, list[0].UnreadCount)

	assert.Equal(t, "carol", list[1].Peer.Username)
	assert.Equal(t, 2, list[1].UnreadCount)
	assert.False(t, list[0].Conversation.UpdatedAt.Before(list[1].Conversation.UpdatedAt))

	empty, err := f.svc.ListConversations(ctx, f.user(t, "dave").ID)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestConcurrentSendsKeepOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	conv := f.send(t, alice.ID, bob.ID, "start").ConversationID

	const n = 20
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			from := alice.ID
			if i%2 == 0 {
				from = bob.ID
			}
			_, err := f.svc.SendMessage(ctx, from, service.SendMessageInput{ConversationID: conv, Content: fmt.Sprintf("c%d", i)})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	page, err := f.svc.GetConversationMessages(ctx, alice.ID, conv, 1, 100)
	require.NoError(t, err)
	require.Len(t, page.Messages, n+1)
	for i := 1; i < len(page.Messages); i++ {
		prev, cur := page.Messages[i-1], page.Messages[i]
		assert.False(t, cur.CreatedAt.Before(prev.CreatedAt))
		assert.Greater(t, cur.ID, prev.ID)
	}

	// The newMessage events for the conversation room follow creation order.
	room := f.rec.find(fmt.Sprintf("conversation:%d", conv), service.EventNewMessage)
	for i := 1; i < len(room); i++ {
		assert.Greater(t, room[i].(service.NewMessageEvent).Message.ID, room[i-1].(service.NewMessageEvent).Message.ID)
	}
}

// Random interleavings of sends and reads must leave the derived unread
// count equal to a direct scan of the messages.
func TestUnreadCountMatchesScan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob, carol := f.user(t, "alice"), f.user(t, "bob"), f.user(t, "carol")
	users := []int64{alice.ID, bob.ID, carol.ID}

	rng := rand.New(rand.NewSource(20261016))
	var sent []*domain.Message

	scan := func(userID int64) int {
		n := 0
		for _, m := range sent {
			stored, err := f.repos.Messages.GetByID(ctx, m.ID)
			require.NoError(t, err)
			if stored.SenderID == userID || stored.ReadAt != nil {
				continue
			}
			ok, err := f.repos.Participants.IsParticipant(ctx, stored.ConversationID, userID)
			require.NoError(t, err)
			if ok {
				n++
			}
		}
		return n
	}

	for step := 0; step < 150; step++ {
		from := users[rng.Intn(len(users))]
		to := users[rng.Intn(len(users))]
		switch op := rng.Intn(3); {
		case op == 0 && from != to:
			sent = append(sent, f.send(t, from, to, fmt.Sprintf("s%d", step)))
		case op == 1 && len(sent) > 0:
			m := sent[rng.Intn(len(sent))]
			_, err := f.svc.MarkMessageRead(ctx, from, m.ID)
			if err != nil {
				assert.True(t, domain.ErrorCode(err) == domain.CodeForbidden || domain.ErrorCode(err) == domain.CodeInvalidOperation, err)
			}
		case op == 2 && len(sent) > 0:
			m := sent[rng.Intn(len(sent))]
			_, err := f.svc.GetConversationMessages(ctx, from, m.ConversationID, 1+rng.Intn(2), 1+rng.Intn(5))
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrForbidden)
			}
		}

		if step%10 == 0 {
			for _, uid := range users {
				got, err := f.svc.GetUnreadCount(ctx, uid)
				require.NoError(t, err)
				require.Equal(t, scan(uid), got, "user %d at step %d", uid, step)
			}
		}
	}
}

func contents(msgs []*domain.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

func ptr[T any](v T) *T { return &v }

func TestBannedSenderCannotSend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob, carol := f.user(t, "alice"), f.user(t, "bob"), f.user(t, "carol")
	conv := f.send(t, alice.ID, bob.ID, "hello").ConversationID

	require.NoError(t, f.repos.Users.SetBanned(ctx, alice.ID, true))
	f.rec.reset()

	_, err := f.svc.SendMessage(ctx, alice.ID, service.SendMessageInput{ConversationID: conv, Content: "spam"})
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
	_, err = f.svc.SendMessage(ctx, alice.ID, service.SendMessageInput{RecipientID: bob.ID, Content: "spam"})
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
	_, err = f.svc.CreateConversation(ctx, alice.ID, service.CreateConversationInput{RecipientID: carol.ID, Content: "spam"})
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
	_, err = f.svc.SendMessage(ctx, 9999, service.SendMessageInput{RecipientID: bob.ID, Content: "ghost"})
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)

	count, err := f.svc.GetUnreadCount(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "nothing stored after the ban")
	assert.Empty(t, f.rec.find(fmt.Sprintf("user:%d", bob.ID), service.EventNewMessage))

	list, err := f.svc.ListConversations(ctx, carol.ID)
	require.NoError(t, err)
	assert.Empty(t, list)

	require.NoError(t, f.repos.Users.SetBanned(ctx, alice.ID, false))
	f.send(t, alice.ID, bob.ID, "back again")
}

func TestUnreadPushesFollowCountOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	conv := f.send(t, alice.ID, bob.ID, "m").ConversationID
	f.rec.reset()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := f.svc.SendMessage(ctx, alice.ID, service.SendMessageInput{ConversationID: conv, Content: fmt.Sprintf("m%d", i)})
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := f.svc.PushUnreadCount(ctx, bob.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	pushes := f.rec.find(fmt.Sprintf("user:%d", bob.ID), service.EventUnreadCount)
	require.NotEmpty(t, pushes)
	prev := 0
	for _, p := range pushes {
		c := p.(service.UnreadCountEvent).Count
		assert.GreaterOrEqual(t, c, prev, "bob never reads, so pushed counts never go down")
		prev = c
	}

	want, err := f.svc.GetUnreadCount(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 21, want)
	assert.Equal(t, want, prev, "the last push carries the stored count")
}
