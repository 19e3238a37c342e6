package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"winechat/internal/domain"
)

func TestNotBefore(t *testing.T) {
	now := time.Now().UTC()
	earlier := now.Add(-time.Second)

	assert.Equal(t, now, notBefore(now, sql.NullTime{}))
	assert.Equal(t, now, notBefore(now, sql.NullTime{Time: earlier, Valid: true}))
	assert.Equal(t, now, notBefore(earlier, sql.NullTime{Time: now, Valid: true}))
}

// Runs against a disposable database named by WINECHAT_TEST_POSTGRES_URL.
func TestAppendNeverMovesCreatedAtBackwards(t *testing.T) {
	dsn := os.Getenv("WINECHAT_TEST_POSTGRES_URL")
	if dsn == "" {
		t.Skip("WINECHAT_TEST_POSTGRES_URL not set")
	}
	db, err := Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, Migrate(db))

	ctx := context.Background()
	repos := NewRepositories(db)
	suffix := time.Now().UnixNano()
	alice := &domain.User{Username: fmt.Sprintf("alice-%d", suffix), HashedPassword: "x"}
	bob := &domain.User{Username: fmt.Sprintf("bob-%d", suffix), HashedPassword: "x"}
	require.NoError(t, repos.Users.Create(ctx, alice))
	require.NoError(t, repos.Users.Create(ctx, bob))
	conv, _, err := repos.Conversations.FindOrCreateDirect(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	now := time.Now().UTC()
	first := &domain.Message{ConversationID: conv.ID, SenderID: alice.ID, Content: "first", MessageType: domain.MessageTypeText, CreatedAt: now}
	require.NoError(t, repos.Messages.Append(ctx, first))
	late := &domain.Message{ConversationID: conv.ID, SenderID: bob.ID, Content: "second", MessageType: domain.MessageTypeText, CreatedAt: now.Add(-time.Minute)}
	require.NoError(t, repos.Messages.Append(ctx, late))

	// Postgres keeps microseconds; compare with what was stored.
	stored, err := repos.Messages.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, late.CreatedAt.Before(stored.CreatedAt))

	page, err := repos.Messages.ListPage(ctx, conv.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "second", page[0].Content)
}
