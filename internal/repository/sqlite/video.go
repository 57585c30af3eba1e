package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/rs/xid"

	"github.com/sakif/vidshare/internal/apperror"
	"github.com/sakif/vidshare/internal/model"
	"github.com/sakif/vidshare/internal/repository"
)

var _ repository.VideoRepository = (*DB)(nil)

var videoColumns = []string{
	"id", "title", "channel_name", "path", "logo", "owner_id",
	"views", "likes", "dislikes", "duration_seconds", "created_at",
}

// CreateVideo appends a catalog entry. The video's ID is supplied by the
// caller because the assets were already written under it.
func (db *DB) CreateVideo(ctx context.Context, video *model.Video) error {
	if err := video.Validate(); err != nil {
		return err
	}
	if video.CreatedAt.IsZero() {
		video.CreatedAt = time.Now().UTC()
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO videos (id, title, channel_name, path, logo, owner_id,
		                     views, likes, dislikes, duration_seconds, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		video.ID,
		video.Title,
		video.ChannelName,
		video.Path,
		video.Logo,
		video.OwnerID,
		video.Views,
		video.Likes,
		video.Dislikes,
		video.DurationSeconds,
		video.CreatedAt,
	)
	if err != nil {
		switch {
		case isUniqueViolation(err, "videos.id"):
			return apperror.Conflict("id", "a video with this id already exists")
		case isForeignKeyViolation(err):
			return apperror.ValidationFailed("ownerId", "video owner does not exist")
		}
		return fmt.Errorf("sqlite: inserting video %s: %w", video.ID, err)
	}
	return nil
}

func (db *DB) GetVideo(ctx context.Context, id string) (*model.Video, error) {
	return getVideo(ctx, db.conn, id)
}

// ListVideos returns the catalog in the requested order.
//
// The query is assembled with squirrel because ORDER BY, LIMIT and OFFSET
// all depend on the request. Nothing from the request reaches the SQL text
// except the two integers; the ORDER BY fragments are constants.
func (db *DB) ListVideos(ctx context.Context, opts repository.ListOptions) ([]model.Video, error) {
	q := sq.Select(videoColumns...).From("videos")

	switch opts.Sort {
	case repository.SortNewest:
		q = q.OrderBy("created_at DESC", "rowid DESC")
	case repository.SortPopular:
		q = q.OrderBy("views DESC", "rowid ASC")
	case repository.SortLiked:
		q = q.OrderBy("likes DESC", "rowid ASC")
	default:
		q = q.OrderBy("rowid ASC")
	}

	if opts.Limit > 0 {
		q = q.Limit(uint64(opts.Limit))
	}
	if opts.Offset > 0 {
		// SQLite rejects OFFSET without LIMIT.
		if opts.Limit <= 0 {
			q = q.Limit(math.MaxInt64)
		}
		q = q.Offset(uint64(opts.Offset))
	}

	return db.queryVideos(ctx, q)
}

func (db *DB) ListVideosByOwner(ctx context.Context, ownerID string) ([]model.Video, error) {
	q := sq.Select(videoColumns...).
		From("videos").
		Where(sq.Eq{"owner_id": ownerID}).
		OrderBy("rowid ASC")

	return db.queryVideos(ctx, q)
}

func (db *DB) queryVideos(ctx context.Context, q sq.SelectBuilder) ([]model.Video, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("sqlite: building video query: %w", err)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing videos: %w", err)
	}
	defer rows.Close()

	videos := []model.Video{}
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning video row: %w", err)
		}
		videos = append(videos, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating video rows: %w", err)
	}
	return videos, nil
}

// SetReaction moves the user's vote to `reaction` and adjusts the video's
// counters in the same transaction. Setting the vote the user already has
// changes nothing, which is what makes a repeated like idempotent.
func (db *DB) SetReaction(ctx context.Context, videoID, userID string, reaction model.Reaction) (*model.ReactionResult, error) {
	var result *model.ReactionResult

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		video, err := getVideo(ctx, tx, videoID)
		if err != nil {
			return err
		}

		current := model.ReactionNone
		err = tx.QueryRowContext(ctx,
			`SELECT reaction FROM reactions WHERE user_id = ? AND video_id = ?`,
			userID, videoID,
		).Scan(&current)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("sqlite: reading reaction: %w", err)
		}

		result = &model.ReactionResult{VideoID: videoID, Reaction: reaction}
		if current == reaction {
			result.Likes, result.Dislikes = video.Likes, video.Dislikes
			return nil
		}

		if reaction == model.ReactionNone {
			_, err = tx.ExecContext(ctx,
				`DELETE FROM reactions WHERE user_id = ? AND video_id = ?`, userID, videoID)
		} else {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO reactions (user_id, video_id, reaction) VALUES (?, ?, ?)
				 ON CONFLICT (user_id, video_id) DO UPDATE SET reaction = excluded.reaction`,
				userID, videoID, string(reaction))
		}
		if err != nil {
			return fmt.Errorf("sqlite: storing reaction: %w", err)
		}

		video.ApplyReaction(current, reaction)
		if _, err := tx.ExecContext(ctx,
			`UPDATE videos SET likes = ?, dislikes = ? WHERE id = ?`,
			video.Likes, video.Dislikes, videoID,
		); err != nil {
			return fmt.Errorf("sqlite: updating reaction counters: %w", err)
		}

		result.Likes, result.Dislikes = video.Likes, video.Dislikes
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (db *DB) ListLikedVideoIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT video_id FROM reactions WHERE user_id = ? AND reaction = 'like' ORDER BY rowid`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing liked videos: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: scanning liked video id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (db *DB) IncrementViews(ctx context.Context, videoID string) (int64, error) {
	var views int64
	err := db.conn.QueryRowContext(ctx,
		`UPDATE videos SET views = views + 1 WHERE id = ? RETURNING views`, videoID,
	).Scan(&views)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, apperror.NotFound("video", videoID)
	}
	if err != nil {
		return 0, fmt.Errorf("sqlite: incrementing views for %s: %w", videoID, err)
	}
	return views, nil
}

// AddComment stores a comment on an existing video. ID and CreatedAt are
// set here.
func (db *DB) AddComment(ctx context.Context, comment *model.Comment) error {
	comment.ID = xid.New().String()
	comment.CreatedAt = time.Now().UTC()

	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := getVideo(ctx, tx, comment.VideoID); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx,
			`INSERT INTO comments (id, video_id, author_id, content, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			comment.ID, comment.VideoID, comment.AuthorID, comment.Content, comment.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("sqlite: inserting comment on %s: %w", comment.VideoID, err)
		}
		return nil
	})
}

// ListComments returns a video's comments newest first, with the author's
// current username joined in.
func (db *DB) ListComments(ctx context.Context, videoID string) ([]model.Comment, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT c.id, c.video_id, c.author_id, u.username, c.content, c.created_at
		 FROM comments c
		 JOIN users u ON u.id = c.author_id
		 WHERE c.video_id = ?
		 ORDER BY c.created_at DESC, c.rowid DESC`,
		videoID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing comments for %s: %w", videoID, err)
	}
	defer rows.Close()

	comments := []model.Comment{}
	for rows.Next() {
		var c model.Comment
		if err := rows.Scan(&c.ID, &c.VideoID, &c.AuthorID, &c.AuthorName, &c.Content, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning comment row: %w", err)
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

func getVideo(ctx context.Context, q querier, id string) (*model.Video, error) {
	query, args, err := sq.Select(videoColumns...).From("videos").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("sqlite: building video query: %w", err)
	}

	v, err := scanVideo(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("video", id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting video %s: %w", id, err)
	}
	return v, nil
}

// rowScanner is implemented by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanVideo(row rowScanner) (*model.Video, error) {
	var v model.Video
	err := row.Scan(
		&v.ID,
		&v.Title,
		&v.ChannelName,
		&v.Path,
		&v.Logo,
		&v.OwnerID,
		&v.Views,
		&v.Likes,
		&v.Dislikes,
		&v.DurationSeconds,
		&v.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
