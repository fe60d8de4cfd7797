package sqlite

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lccanvas/canvasd/internal/core/domain"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	db, err := New(logger, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate(context.Background()))
	t.Cleanup(func() { db.Close() })
	return db
}

func makePost(id, owner string, publishedAt float64, status string) domain.Post {
	return domain.Post{
		PostID:      id,
		OwnerID:     owner,
		Prompt:      "a cat in the rain",
		ImageURL:    "/outputs/feed/2025/01/02/" + id + ".png",
		ThumbURL:    "/outputs/feed/2025/01/02/thumb/" + id + ".jpg",
		PublishedAt: publishedAt,
		Status:      status,
	}
}

func TestPostStore_CreateGetDelete(t *testing.T) {
	store := NewPostStore(openTestDB(t))
	ctx := context.Background()

	// 1. Create with optional fields set
	seed := int64(99)
	post := makePost("p1", "anon-1", 1000, "active")
	post.AuthorName = "고양이"
	post.WorkflowID = "BasicWorkFlow_PixelArt"
	post.Seed = &seed
	post.AspectRatio = "landscape"
	post.SourceImageID = "img1"
	require.NoError(t, store.CreatePost(ctx, post))

	// 2. Get round-trips every column
	got, err := store.GetPost(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "anon-1", got.OwnerID)
	assert.Equal(t, "고양이", got.AuthorName)
	assert.Equal(t, "BasicWorkFlow_PixelArt", got.WorkflowID)
	require.NotNil(t, got.Seed)
	assert.Equal(t, int64(99), *got.Seed)
	assert.Equal(t, 1000.0, got.PublishedAt)
	assert.Equal(t, "active", got.Status)

	// 3. Unknown id is nil without error
	missing, err := store.GetPost(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	// 4. Delete removes the row and reports it
	ok, err := store.DeletePostAndLikes(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.DeletePostAndLikes(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPostStore_CreateFillsDefaults(t *testing.T) {
	store := NewPostStore(openTestDB(t))
	ctx := context.Background()

	post := makePost("p1", "anon-1", 0, "")
	require.NoError(t, store.CreatePost(ctx, post))

	got, err := store.GetPost(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "active", got.Status)
	assert.Greater(t, got.PublishedAt, 0.0)
}

func TestPostStore_ListFilterAndSort(t *testing.T) {
	store := NewPostStore(openTestDB(t))
	ctx := context.Background()

	require.NoError(t, store.CreatePost(ctx, makePost("old", "anon-1", 100, "active")))
	require.NoError(t, store.CreatePost(ctx, makePost("new", "anon-1", 200, "active")))
	require.NoError(t, store.CreatePost(ctx, makePost("gone", "anon-2", 150, "trash")))

	// 1. Default listing is active only, newest first
	page, err := store.ListPosts(ctx, "active", 1, 0, "newest")
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, 24, page.Size)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "new", page.Items[0].PostID)
	assert.Equal(t, "old", page.Items[1].PostID)

	// 2. Oldest flips the order
	page, err = store.ListPosts(ctx, "active", 1, 10, "oldest")
	require.NoError(t, err)
	assert.Equal(t, "old", page.Items[0].PostID)

	// 3. Trash and all
	page, err = store.ListPosts(ctx, "trash", 1, 10, "newest")
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "gone", page.Items[0].PostID)

	page, err = store.ListPosts(ctx, "all", 1, 10, "newest")
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)

	// 4. Unknown include falls back to active
	page, err = store.ListPosts(ctx, "whatever", 1, 10, "newest")
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)

	// 5. Pagination
	page, err = store.ListPosts(ctx, "active", 2, 1, "newest")
	require.NoError(t, err)
	assert.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "old", page.Items[0].PostID)
}

func TestPostStore_MostReactionsOrder(t *testing.T) {
	store := NewPostStore(openTestDB(t))
	ctx := context.Background()

	require.NoError(t, store.CreatePost(ctx, makePost("quiet", "anon-1", 300, "active")))
	require.NoError(t, store.CreatePost(ctx, makePost("popular", "anon-1", 100, "active")))

	_, err := store.ReactionSet(ctx, "popular", "viewer-1", "fire")
	require.NoError(t, err)
	_, err = store.ReactionSet(ctx, "popular", "viewer-2", "love")
	require.NoError(t, err)
	_, _, err = store.LikeToggle(ctx, "popular", "viewer-3")
	require.NoError(t, err)

	// Likes and reactions both count toward the ordering.
	page, err := store.ListPosts(ctx, "active", 1, 10, "most_reactions")
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "popular", page.Items[0].PostID)
}

func TestPostStore_LikeToggle(t *testing.T) {
	store := NewPostStore(openTestDB(t))
	ctx := context.Background()
	require.NoError(t, store.CreatePost(ctx, makePost("p1", "anon-1", 100, "active")))

	// 1. First toggle likes
	liked, count, err := store.LikeToggle(ctx, "p1", "viewer-1")
	require.NoError(t, err)
	assert.True(t, liked)
	assert.Equal(t, 1, count)

	count, likedByMe, err := store.LikeInfo(ctx, "p1", "viewer-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.True(t, likedByMe)

	// 2. Second toggle unlikes
	liked, count, err = store.LikeToggle(ctx, "p1", "viewer-1")
	require.NoError(t, err)
	assert.False(t, liked)
	assert.Equal(t, 0, count)

	// 3. Other viewers are independent
	_, _, err = store.LikeToggle(ctx, "p1", "viewer-2")
	require.NoError(t, err)
	count, likedByMe, err = store.LikeInfo(ctx, "p1", "viewer-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.False(t, likedByMe)
}

func TestPostStore_ReactionLifecycle(t *testing.T) {
	store := NewPostStore(openTestDB(t))
	ctx := context.Background()
	require.NoError(t, store.CreatePost(ctx, makePost("p1", "anon-1", 100, "active")))

	// 1. Set a reaction
	info, err := store.ReactionSet(ctx, "p1", "viewer-1", "fire")
	require.NoError(t, err)
	assert.Equal(t, "fire", info.MyReaction)
	assert.Equal(t, 1, info.Reactions["fire"])

	// 2. Switching replaces it
	info, err = store.ReactionSet(ctx, "p1", "viewer-1", "wow")
	require.NoError(t, err)
	assert.Equal(t, "wow", info.MyReaction)
	assert.Equal(t, 0, info.Reactions["fire"])
	assert.Equal(t, 1, info.Reactions["wow"])

	// 3. Repeating the same reaction clears it
	info, err = store.ReactionSet(ctx, "p1", "viewer-1", "wow")
	require.NoError(t, err)
	assert.Empty(t, info.MyReaction)
	assert.Equal(t, 0, info.Reactions["wow"])

	// 4. Unknown reaction is rejected
	_, err = store.ReactionSet(ctx, "p1", "viewer-1", "meh")
	assert.ErrorIs(t, err, domain.ErrInvalidReaction)
}

func TestPostStore_LikeAndReactionStayExclusive(t *testing.T) {
	store := NewPostStore(openTestDB(t))
	ctx := context.Background()
	require.NoError(t, store.CreatePost(ctx, makePost("p1", "anon-1", 100, "active")))

	// 1. A reaction removes the viewer's earlier like
	_, _, err := store.LikeToggle(ctx, "p1", "viewer-1")
	require.NoError(t, err)
	info, err := store.ReactionSet(ctx, "p1", "viewer-1", "laugh")
	require.NoError(t, err)
	assert.Equal(t, "laugh", info.MyReaction)

	count, _, err := store.LikeInfo(ctx, "p1", "viewer-1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// 2. A like removes the viewer's earlier reaction
	liked, _, err := store.LikeToggle(ctx, "p1", "viewer-1")
	require.NoError(t, err)
	assert.True(t, liked)
	info, err = store.ReactionInfo(ctx, "p1", "viewer-1")
	require.NoError(t, err)
	assert.Equal(t, 0, info.Reactions["laugh"])
	// The legacy like reads back as love.
	assert.Equal(t, 1, info.Reactions["love"])
	assert.Equal(t, "love", info.MyReaction)
}

func TestPostStore_RecreatesMissingSchema(t *testing.T) {
	db := openTestDB(t)
	store := NewPostStore(db)
	ctx := context.Background()

	// The db file can be wiped or swapped under a running process.
	for _, table := range []string{"feed_posts", "feed_likes", "feed_reactions"} {
		_, err := db.conn.ExecContext(ctx, `DROP TABLE `+table)
		require.NoError(t, err)
	}

	// 1. Writes heal the schema and land
	require.NoError(t, store.CreatePost(ctx, makePost("p1", "anon-1", 100, "active")))
	got, err := store.GetPost(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, got)

	// 2. Reads heal too
	_, err = db.conn.ExecContext(ctx, `DROP TABLE feed_posts`)
	require.NoError(t, err)
	page, err := store.ListPosts(ctx, "active", 1, 10, "newest")
	require.NoError(t, err)
	assert.Equal(t, 0, page.Total)

	// 3. So do the like and reaction transactions
	require.NoError(t, store.CreatePost(ctx, makePost("p2", "anon-1", 100, "active")))
	_, err = db.conn.ExecContext(ctx, `DROP TABLE feed_likes`)
	require.NoError(t, err)
	liked, count, err := store.LikeToggle(ctx, "p2", "viewer-1")
	require.NoError(t, err)
	assert.True(t, liked)
	assert.Equal(t, 1, count)

	_, err = db.conn.ExecContext(ctx, `DROP TABLE feed_reactions`)
	require.NoError(t, err)
	info, err := store.ReactionSet(ctx, "p2", "viewer-2", "fire")
	require.NoError(t, err)
	assert.Equal(t, "fire", info.MyReaction)
}

func TestPostStore_LegacyLikesFoldIntoLove(t *testing.T) {
	store := NewPostStore(openTestDB(t))
	ctx := context.Background()
	require.NoError(t, store.CreatePost(ctx, makePost("p1", "anon-1", 100, "active")))

	_, _, err := store.LikeToggle(ctx, "p1", "viewer-1")
	require.NoError(t, err)
	_, err = store.ReactionSet(ctx, "p1", "viewer-2", "love")
	require.NoError(t, err)

	// Both the legacy like and the explicit love land in one bucket.
	info, err := store.ReactionInfo(ctx, "p1", "viewer-3")
	require.NoError(t, err)
	assert.Equal(t, 2, info.Reactions["love"])
	assert.Empty(t, info.MyReaction)
}
