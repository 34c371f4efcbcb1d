package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

const contentCols = `id, account_id, title, body, topic, category, images, cover_image, word_count,
       review_status, publish_status, published_at, created_at, updated_at`

func scanContent(row pgx.Row) (*Content, error) {
	var c Content
	err := row.Scan(
		&c.ID, &c.AccountID, &c.Title, &c.Body, &c.Topic, &c.Category, &c.Images, &c.CoverImage, &c.WordCount,
		&c.ReviewStatus, &c.PublishStatus, &c.PublishedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) GetContent(ctx context.Context, id int64) (*Content, error) {
	q := `SELECT ` + contentCols + ` FROM contents WHERE id = $1;`
	c, err := scanContent(s.db.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

type CreateContentParams struct {
	AccountID  int64
	Title      string
	Body       string
	Topic      string
	Category   string
	Images     []byte // JSON array
	CoverImage string
	WordCount  int
}

func (s *Store) CreateContent(ctx context.Context, p CreateContentParams) (*Content, error) {
	images := p.Images
	if len(images) == 0 {
		images = []byte(`[]`)
	}
	q := `
INSERT INTO contents (account_id, title, body, topic, category, images, cover_image, word_count)
VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8)
RETURNING ` + contentCols + `;
`
	return scanContent(s.db.QueryRow(ctx, q,
		p.AccountID, p.Title, p.Body, p.Topic, p.Category, images, p.CoverImage, p.WordCount,
	))
}

// ApproveContent moves review_status to approved. Approving twice is a no-op
// success; a rejected content cannot be approved.
func (s *Store) ApproveContent(ctx context.Context, id int64) (*Content, error) {
	q := `
UPDATE contents
SET review_status = 'approved', updated_at = now()
WHERE id = $1 AND review_status IN ('pending', 'approved')
RETURNING ` + contentCols + `;
`
	c, err := scanContent(s.db.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		_, getErr := s.GetContent(ctx, id)
		if getErr == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, ErrInvalidState
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Store) RejectContent(ctx context.Context, id int64) (*Content, error) {
	q := `
UPDATE contents
SET review_status = 'rejected', updated_at = now()
WHERE id = $1 AND review_status IN ('pending', 'rejected')
RETURNING ` + contentCols + `;
`
	c, err := scanContent(s.db.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		_, getErr := s.GetContent(ctx, id)
		if getErr == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, ErrInvalidState
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Store) MarkContentPublished(ctx context.Context, id int64, publishedAt time.Time) (*Content, error) {
	q := `
UPDATE contents
SET publish_status = 'published', published_at = $2, updated_at = now()
WHERE id = $1
RETURNING ` + contentCols + `;
`
	c, err := scanContent(s.db.QueryRow(ctx, q, id, publishedAt))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

type ListContentsParams struct {
	AccountID    *int64
	ReviewStatus *ReviewStatus
	Limit        int
	Offset       int
}

func (s *Store) ListContents(ctx context.Context, p ListContentsParams) ([]Content, error) {
	limit := p.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := p.Offset
	if offset < 0 {
		offset = 0
	}

	q := `
SELECT ` + contentCols + `
FROM contents
WHERE ($1::bigint IS NULL OR account_id = $1)
  AND ($2::text IS NULL OR review_status = $2)
ORDER BY created_at DESC
LIMIT $3 OFFSET $4;
`
	var review *string
	if p.ReviewStatus != nil {
		rv := string(*p.ReviewStatus)
		review = &rv
	}

	rows, err := s.db.Query(ctx, q, p.AccountID, review, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Content, 0, limit)
	for rows.Next() {
		c, err := scanContent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
