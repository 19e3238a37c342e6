package sqlite

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"winechat/internal/domain"
)

func newTestStore(t *testing.T) (*sql.DB, domain.Repositories) {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, Migrate(db))
	require.NoError(t, Migrate(db), "migrations are idempotent")
	return db, NewRepositories(db)
}

func createUser(t *testing.T, repos domain.Repositories, name string) *domain.User {
	t.Helper()
	u := &domain.User{Username: name, HashedPassword: "x"}
	require.NoError(t, repos.Users.Create(context.Background(), u))
	return u
}

func TestUsers(t *testing.T) {
	_, repos := newTestStore(t)
	ctx := context.Background()
	alice := createUser(t, repos, "alice")
	assert.True(t, alice.IsActive)

	got, err := repos.Users.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, got.ID)

	require.NoError(t, repos.Users.SetBanned(ctx, alice.ID, true))
	got, err = repos.Users.GetByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.True(t, got.IsBanned)
	assert.False(t, got.CanMessage())

	_, err = repos.Users.GetByID(ctx, 999)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, repos.Users.SetBanned(ctx, 999, true), domain.ErrNotFound)

	assert.Error(t, repos.Users.Create(ctx, &domain.User{Username: "alice", HashedPassword: "y"}))
}

func TestFindOrCreateDirectIsPairUnique(t *testing.T) {
	_, repos := newTestStore(t)
	ctx := context.Background()
	alice := createUser(t, repos, "alice")
	bob := createUser(t, repos, "bob")

	first, created, err := repos.Conversations.FindOrCreateDirect(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := repos.Conversations.FindOrCreateDirect(ctx, bob.ID, alice.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	found, err := repos.Conversations.FindDirect(ctx, bob.ID, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)

	ids, err := repos.Participants.ListParticipantIDs(ctx, first.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{alice.ID, bob.ID}, ids)

	ok, err := repos.Participants.IsParticipant(ctx, first.ID, alice.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repos.Participants.IsParticipant(ctx, first.ID, 999)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = repos.Conversations.GetByID(ctx, 999)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAppendOrdersAndBumps(t *testing.T) {
	_, repos := newTestStore(t)
	ctx := context.Background()
	alice := createUser(t, repos, "alice")
	bob := createUser(t, repos, "bob")
	carol := createUser(t, repos, "carol")

	ab, _, err := repos.Conversations.FindOrCreateDirect(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	ac, _, err := repos.Conversations.FindOrCreateDirect(ctx, alice.ID, carol.ID)
	require.NoError(t, err)

	base := time.Now().UTC()
	appendAt := func(conv int64, sender int64, text string, at time.Time) *domain.Message {
		m := &domain.Message{ConversationID: conv, SenderID: sender, Content: text, MessageType: domain.MessageTypeText, CreatedAt: at}
		require.NoError(t, repos.Messages.Append(ctx, m))
		return m
	}
	appendAt(ab.ID, alice.ID, "one", base.Add(time.Second))
	appendAt(ab.ID, bob.ID, "two", base.Add(2*time.Second))
	last := appendAt(ac.ID, carol.ID, "three", base.Add(3*time.Second))

	convs, err := repos.Conversations.ListForUser(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, ac.ID, convs[0].ID, "most recently updated first")
	assert.Equal(t, ab.ID, convs[1].ID)

	latest, err := repos.Messages.Latest(ctx, ac.ID)
	require.NoError(t, err)
	assert.Equal(t, last.ID, latest.ID)

	page, err := repos.Messages.ListPage(ctx, ab.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "two", page[0].Content, "newest first")
	assert.Equal(t, "one", page[1].Content)

	page, err = repos.Messages.ListPage(ctx, ab.ID, 1, 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "one", page[0].Content)
}

func TestReadState(t *testing.T) {
	_, repos := newTestStore(t)
	ctx := context.Background()
	alice := createUser(t, repos, "alice")
	bob := createUser(t, repos, "bob")
	conv, _, err := repos.Conversations.FindOrCreateDirect(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	var msgs []*domain.Message
	for _, text := range []string{"a", "b", "c"} {
		m := &domain.Message{ConversationID: conv.ID, SenderID: alice.ID, Content: text, MessageType: domain.MessageTypeText}
		require.NoError(t, repos.Messages.Append(ctx, m))
		msgs = append(msgs, m)
	}

	n, err := repos.Messages.CountUnreadForUser(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, err = repos.Messages.CountUnreadForUser(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "own messages never count as unread")

	changed, err := repos.Messages.MarkRead(ctx, msgs[0].ID, alice.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, changed, "the sender cannot mark their own message")

	firstRead := time.Now().UTC().Add(-time.Minute)
	changed, err = repos.Messages.MarkRead(ctx, msgs[0].ID, bob.ID, firstRead)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = repos.Messages.MarkRead(ctx, msgs[0].ID, bob.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, changed, "read_at is set once")

	got, err := repos.Messages.GetByID(ctx, msgs[0].ID)
	require.NoError(t, err)
	require.NotNil(t, got.ReadAt)
	assert.WithinDuration(t, firstRead, *got.ReadAt, time.Millisecond)

	all, err := repos.Messages.MarkAllRead(ctx, conv.ID, bob.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.EqualValues(t, 2, all)

	n, err = repos.Messages.CountUnread(ctx, conv.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, repos.Messages.Delete(ctx, msgs[2].ID))
	assert.ErrorIs(t, repos.Messages.Delete(ctx, msgs[2].ID), domain.ErrNotFound)
	_, err = repos.Messages.GetByID(ctx, msgs[2].ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAppendNeverMovesCreatedAtBackwards(t *testing.T) {
	_, repos := newTestStore(t)
	ctx := context.Background()
	alice := createUser(t, repos, "alice")
	bob := createUser(t, repos, "bob")
	conv, _, err := repos.Conversations.FindOrCreateDirect(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	now := time.Now().UTC()
	first := &domain.Message{ConversationID: conv.ID, SenderID: alice.ID, Content: "first", MessageType: domain.MessageTypeText, CreatedAt: now}
	require.NoError(t, repos.Messages.Append(ctx, first))

	// A writer whose clock lags behind stores after the first message.
	late := &domain.Message{ConversationID: conv.ID, SenderID: bob.ID, Content: "second", MessageType: domain.MessageTypeText, CreatedAt: now.Add(-time.Minute)}
	require.NoError(t, repos.Messages.Append(ctx, late))
	assert.False(t, late.CreatedAt.Before(first.CreatedAt))

	page, err := repos.Messages.ListPage(ctx, conv.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "second", page[0].Content, "storage order wins")
	assert.Equal(t, "first", page[1].Content)
}
