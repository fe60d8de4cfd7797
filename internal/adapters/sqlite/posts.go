package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lccanvas/canvasd/internal/core/domain"
	"github.com/lccanvas/canvasd/internal/core/ports"
)

// PostStore implements ports.PostStore on the shared database.
type PostStore struct {
	db *DB
}

func NewPostStore(db *DB) *PostStore {
	return &PostStore{db: db}
}

var _ ports.PostStore = (*PostStore)(nil)

const postColumns = `post_id, owner_id, author_name, prompt, workflow_id, seed, aspect_ratio,
	image_url, thumb_url, input_image_url, input_thumb_url,
	source_image_id, input_source_image_id,
	published_at, status`

func (s *PostStore) CreatePost(ctx context.Context, post domain.Post) error {
	return s.db.withSchemaRetry(ctx, func() error {
		return s.createPost(ctx, post)
	})
}

func (s *PostStore) createPost(ctx context.Context, post domain.Post) error {
	publishedAt := post.PublishedAt
	if publishedAt == 0 {
		publishedAt = float64(time.Now().UnixNano()) / float64(time.Second)
	}
	status := post.Status
	if status == "" {
		status = domain.MediaStatusActive
	}

	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO feed_posts (`+postColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		post.PostID,
		post.OwnerID,
		nullStr(post.AuthorName),
		post.Prompt,
		nullStr(post.WorkflowID),
		nullInt(post.Seed),
		nullStr(post.AspectRatio),
		post.ImageURL,
		nullStr(post.ThumbURL),
		nullStr(post.InputImageURL),
		nullStr(post.InputThumbURL),
		nullStr(post.SourceImageID),
		nullStr(post.InputSourceImageID),
		publishedAt,
		status,
	)
	if err != nil {
		return fmt.Errorf("failed to insert post: %w", err)
	}
	return nil
}

func (s *PostStore) GetPost(ctx context.Context, postID string) (*domain.Post, error) {
	var post *domain.Post
	err := s.db.withSchemaRetry(ctx, func() error {
		var err error
		post, err = s.getPost(ctx, postID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return post, nil
}

func (s *PostStore) getPost(ctx context.Context, postID string) (*domain.Post, error) {
	row := s.db.conn.QueryRowContext(ctx,
		`SELECT `+postColumns+` FROM feed_posts WHERE post_id = ?`, postID)
	post, err := scanPost(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get post: %w", err)
	}
	return &post, nil
}

func (s *PostStore) UpdateStatus(ctx context.Context, postID, status string) (bool, error) {
	var ok bool
	err := s.db.withSchemaRetry(ctx, func() error {
		var err error
		ok, err = s.updateStatus(ctx, postID, status)
		return err
	})
	return ok, err
}

func (s *PostStore) updateStatus(ctx context.Context, postID, status string) (bool, error) {
	res, err := s.db.conn.ExecContext(ctx,
		`UPDATE feed_posts SET status = ? WHERE post_id = ?`, status, postID)
	if err != nil {
		return false, fmt.Errorf("failed to update post status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeletePostAndLikes removes the post row together with every like and
// reaction attached to it.
func (s *PostStore) DeletePostAndLikes(ctx context.Context, postID string) (bool, error) {
	var ok bool
	err := s.db.withSchemaRetry(ctx, func() error {
		var err error
		ok, err = s.deletePostAndLikes(ctx, postID)
		return err
	})
	return ok, err
}

func (s *PostStore) deletePostAndLikes(ctx context.Context, postID string) (bool, error) {
	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM feed_likes WHERE post_id = ?`, postID); err != nil {
		return false, fmt.Errorf("failed to delete likes: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM feed_reactions WHERE post_id = ?`, postID); err != nil {
		return false, fmt.Errorf("failed to delete reactions: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM feed_posts WHERE post_id = ?`, postID)
	if err != nil {
		return false, fmt.Errorf("failed to delete post: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, tx.Commit()
}

func (s *PostStore) ListPosts(ctx context.Context, include string, page, size int, sort string) (domain.PostPage, error) {
	var result domain.PostPage
	err := s.db.withSchemaRetry(ctx, func() error {
		var err error
		result, err = s.listPosts(ctx, include, page, size, sort)
		return err
	})
	return result, err
}

func (s *PostStore) listPosts(ctx context.Context, include string, page, size int, sort string) (domain.PostPage, error) {
	if size == 0 {
		size = 24
	}
	if size < 1 {
		size = 1
	}
	if size > 100 {
		size = 100
	}
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * size

	where := `WHERE status = 'active'`
	switch strings.ToLower(strings.TrimSpace(include)) {
	case "trash":
		where = `WHERE status = 'trash'`
	case "all":
		where = ``
	}

	order := `ORDER BY published_at DESC`
	switch strings.ToLower(strings.TrimSpace(sort)) {
	case "oldest":
		order = `ORDER BY published_at ASC`
	case "most_reactions":
		// Legacy likes and reaction rows both count, one per user.
		// Random tie-break keeps equal-count pages from going stale.
		order = `ORDER BY (
			(SELECT COUNT(*) FROM feed_likes WHERE post_id = feed_posts.post_id) +
			(SELECT COUNT(*) FROM feed_reactions WHERE post_id = feed_posts.post_id)
		) DESC, RANDOM()`
	}

	var total int
	if err := s.db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM feed_posts `+where).Scan(&total); err != nil {
		return domain.PostPage{}, fmt.Errorf("failed to count posts: %w", err)
	}

	rows, err := s.db.conn.QueryContext(ctx,
		`SELECT `+postColumns+` FROM feed_posts `+where+` `+order+` LIMIT ? OFFSET ?`,
		size, offset)
	if err != nil {
		return domain.PostPage{}, fmt.Errorf("failed to query posts: %w", err)
	}
	defer rows.Close()

	items := []domain.Post{}
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return domain.PostPage{}, fmt.Errorf("failed to scan post: %w", err)
		}
		items = append(items, post)
	}
	if err := rows.Err(); err != nil {
		return domain.PostPage{}, err
	}

	return domain.PostPage{
		Items:      items,
		Page:       page,
		Size:       size,
		Total:      total,
		TotalPages: (total + size - 1) / size,
	}, nil
}

// LikeToggle flips the caller's like on a post. Any explicit reaction the
// caller had is removed first so one user never holds both.
func (s *PostStore) LikeToggle(ctx context.Context, postID, likerID string) (bool, int, error) {
	var liked bool
	var count int
	err := s.db.withSchemaRetry(ctx, func() error {
		var err error
		liked, count, err = s.likeToggle(ctx, postID, likerID)
		return err
	})
	return liked, count, err
}

func (s *PostStore) likeToggle(ctx context.Context, postID, likerID string) (bool, int, error) {
	now := float64(time.Now().UnixNano()) / float64(time.Second)

	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM feed_reactions WHERE post_id = ? AND reactor_id = ?`, postID, likerID); err != nil {
		return false, 0, fmt.Errorf("failed to clear reaction: %w", err)
	}

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM feed_likes WHERE post_id = ? AND liker_id = ?`, postID, likerID).Scan(&exists)
	if err != nil && err != sql.ErrNoRows {
		return false, 0, fmt.Errorf("failed to check like: %w", err)
	}

	liked := err == sql.ErrNoRows
	if liked {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO feed_likes (post_id, liker_id, created_at) VALUES (?, ?, ?)`,
			postID, likerID, now); err != nil {
			return false, 0, fmt.Errorf("failed to insert like: %w", err)
		}
	} else {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM feed_likes WHERE post_id = ? AND liker_id = ?`, postID, likerID); err != nil {
			return false, 0, fmt.Errorf("failed to delete like: %w", err)
		}
	}

	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM feed_likes WHERE post_id = ?`, postID).Scan(&count); err != nil {
		return false, 0, fmt.Errorf("failed to count likes: %w", err)
	}

	return liked, count, tx.Commit()
}

func (s *PostStore) LikeInfo(ctx context.Context, postID, likerID string) (int, bool, error) {
	var count int
	var likedByMe bool
	err := s.db.withSchemaRetry(ctx, func() error {
		var err error
		count, likedByMe, err = s.likeInfo(ctx, postID, likerID)
		return err
	})
	return count, likedByMe, err
}

func (s *PostStore) likeInfo(ctx context.Context, postID, likerID string) (int, bool, error) {
	var count int
	if err := s.db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM feed_likes WHERE post_id = ?`, postID).Scan(&count); err != nil {
		return 0, false, fmt.Errorf("failed to count likes: %w", err)
	}
	var one int
	err := s.db.conn.QueryRowContext(ctx,
		`SELECT 1 FROM feed_likes WHERE post_id = ? AND liker_id = ?`, postID, likerID).Scan(&one)
	if err != nil && err != sql.ErrNoRows {
		return 0, false, fmt.Errorf("failed to check like: %w", err)
	}
	return count, err == nil, nil
}

// ReactionSet stores the caller's reaction, replacing any previous one.
// Setting the same reaction twice clears it. Legacy likes by the caller
// are removed so the two systems never double-count one user.
func (s *PostStore) ReactionSet(ctx context.Context, postID, reactorID, reaction string) (domain.ReactionInfo, error) {
	r := strings.ToLower(strings.TrimSpace(reaction))
	if !domain.ValidReaction(r) {
		return domain.ReactionInfo{}, domain.ErrInvalidReaction
	}

	var info domain.ReactionInfo
	err := s.db.withSchemaRetry(ctx, func() error {
		var err error
		info, err = s.reactionSet(ctx, postID, reactorID, r)
		return err
	})
	return info, err
}

func (s *PostStore) reactionSet(ctx context.Context, postID, reactorID, r string) (domain.ReactionInfo, error) {
	now := float64(time.Now().UnixNano()) / float64(time.Second)

	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return domain.ReactionInfo{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM feed_likes WHERE post_id = ? AND liker_id = ?`, postID, reactorID); err != nil {
		return domain.ReactionInfo{}, fmt.Errorf("failed to clear like: %w", err)
	}

	var current string
	err = tx.QueryRowContext(ctx,
		`SELECT reaction FROM feed_reactions WHERE post_id = ? AND reactor_id = ? LIMIT 1`,
		postID, reactorID).Scan(&current)
	if err != nil && err != sql.ErrNoRows {
		return domain.ReactionInfo{}, fmt.Errorf("failed to read current reaction: %w", err)
	}

	myReaction := ""
	if current == r {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM feed_reactions WHERE post_id = ? AND reactor_id = ?`, postID, reactorID); err != nil {
			return domain.ReactionInfo{}, fmt.Errorf("failed to clear reaction: %w", err)
		}
	} else {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO feed_reactions (post_id, reactor_id, reaction, created_at) VALUES (?, ?, ?, ?)`,
			postID, reactorID, r, now); err != nil {
			return domain.ReactionInfo{}, fmt.Errorf("failed to set reaction: %w", err)
		}
		myReaction = r
	}
	if err := tx.Commit(); err != nil {
		return domain.ReactionInfo{}, err
	}

	info, err := s.ReactionInfo(ctx, postID, reactorID)
	if err != nil {
		return domain.ReactionInfo{}, err
	}
	// Report exactly the action just taken, not the legacy fallback.
	info.MyReaction = myReaction
	return info, nil
}

// ReactionInfo aggregates reaction counts for one viewer. Legacy like
// rows fold into the "love" bucket, and a viewer with only a legacy like
// reads back as having reacted "love".
func (s *PostStore) ReactionInfo(ctx context.Context, postID, reactorID string) (domain.ReactionInfo, error) {
	var info domain.ReactionInfo
	err := s.db.withSchemaRetry(ctx, func() error {
		var err error
		info, err = s.reactionInfo(ctx, postID, reactorID)
		return err
	})
	return info, err
}

func (s *PostStore) reactionInfo(ctx context.Context, postID, reactorID string) (domain.ReactionInfo, error) {
	info := domain.ReactionInfo{Reactions: map[string]int{}}
	for _, t := range domain.ReactionTypes {
		info.Reactions[t] = 0
	}

	rows, err := s.db.conn.QueryContext(ctx,
		`SELECT reaction, COUNT(*) FROM feed_reactions WHERE post_id = ? GROUP BY reaction`, postID)
	if err != nil {
		return domain.ReactionInfo{}, fmt.Errorf("failed to count reactions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var reaction string
		var count int
		if err := rows.Scan(&reaction, &count); err != nil {
			return domain.ReactionInfo{}, err
		}
		if _, ok := info.Reactions[reaction]; ok {
			info.Reactions[reaction] = count
		}
	}
	if err := rows.Err(); err != nil {
		return domain.ReactionInfo{}, err
	}

	var mine string
	err = s.db.conn.QueryRowContext(ctx,
		`SELECT reaction FROM feed_reactions WHERE post_id = ? AND reactor_id = ? LIMIT 1`,
		postID, reactorID).Scan(&mine)
	if err != nil && err != sql.ErrNoRows {
		return domain.ReactionInfo{}, fmt.Errorf("failed to read own reaction: %w", err)
	}
	if domain.ValidReaction(mine) {
		info.MyReaction = mine
	}

	var legacy int
	if err := s.db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM feed_likes WHERE post_id = ?`, postID).Scan(&legacy); err != nil {
		return domain.ReactionInfo{}, fmt.Errorf("failed to count legacy likes: %w", err)
	}
	info.Reactions["love"] += legacy
	if info.MyReaction == "" {
		var one int
		err := s.db.conn.QueryRowContext(ctx,
			`SELECT 1 FROM feed_likes WHERE post_id = ? AND liker_id = ?`, postID, reactorID).Scan(&one)
		if err != nil && err != sql.ErrNoRows {
			return domain.ReactionInfo{}, err
		}
		if err == nil {
			info.MyReaction = "love"
		}
	}

	return info, nil
}

func scanPost(row interface{ Scan(...any) error }) (domain.Post, error) {
	var post domain.Post
	var authorName, workflowID, aspectRatio, thumbURL sql.NullString
	var inputImageURL, inputThumbURL, sourceImageID, inputSourceImageID sql.NullString
	var seed sql.NullInt64

	err := row.Scan(
		&post.PostID,
		&post.OwnerID,
		&authorName,
		&post.Prompt,
		&workflowID,
		&seed,
		&aspectRatio,
		&post.ImageURL,
		&thumbURL,
		&inputImageURL,
		&inputThumbURL,
		&sourceImageID,
		&inputSourceImageID,
		&post.PublishedAt,
		&post.Status,
	)
	if err != nil {
		return domain.Post{}, err
	}

	post.AuthorName = authorName.String
	post.WorkflowID = workflowID.String
	post.AspectRatio = aspectRatio.String
	post.ThumbURL = thumbURL.String
	post.InputImageURL = inputImageURL.String
	post.InputThumbURL = inputThumbURL.String
	post.SourceImageID = sourceImageID.String
	post.InputSourceImageID = inputSourceImageID.String
	if seed.Valid {
		post.Seed = &seed.Int64
	}
	return post, nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
