package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/merchkit/storefront/internal/domain/review"
)

const (
	selectReviewSQL = `SELECT id, product_id, user_id, rating, comment, created_at, updated_at
		FROM reviews`

	getReviewByIDSQL        = selectReviewSQL + ` WHERE id = $1`
	findReviewByUserSQL     = selectReviewSQL + ` WHERE user_id = $1 AND product_id = $2`
	listReviewsByProductSQL = selectReviewSQL + ` WHERE product_id = $1 ORDER BY created_at, id`

	// product_id is part of the advisory lock key so review writes for one
	// product serialize across application instances.
	lockProductSQL = `SELECT pg_advisory_xact_lock(hashtext($1))`

	upsertReviewSQL = `INSERT INTO reviews (id, product_id, user_id, rating, comment, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (product_id, user_id) DO UPDATE
		SET rating = EXCLUDED.rating,
		    comment = EXCLUDED.comment,
		    updated_at = EXCLUDED.updated_at`

	deleteReviewSQL = `DELETE FROM reviews WHERE id = $1`

	updateSummarySQL = `UPDATE products SET average_rating = $2, review_count = $3
		WHERE id = $1`
)

var _ review.Repository = (*ReviewRepository)(nil)

// ReviewRepository implements review.Repository backed by PostgreSQL.
type ReviewRepository struct {
	pool *pgxpool.Pool
}

// NewReviewRepository returns a ReviewRepository that uses the given pool.
func NewReviewRepository(pool *pgxpool.Pool) *ReviewRepository {
	return &ReviewRepository{pool: pool}
}

// GetByID returns a single review by its identifier.
func (r *ReviewRepository) GetByID(ctx context.Context, id string) (*review.Review, error) {
	rows, err := r.pool.Query(ctx, getReviewByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting review %q: %w", id, err)
	}

	rev, err := pgx.CollectExactlyOneRow(rows, scanReview)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, review.ErrNotFound
		}
		return nil, fmt.Errorf("getting review %q: %w", id, err)
	}
	return &rev, nil
}

// FindByUserProduct returns the user's review of a product, if any.
func (r *ReviewRepository) FindByUserProduct(ctx context.Context, userID, productID string) (*review.Review, error) {
	rows, err := r.pool.Query(ctx, findReviewByUserSQL, userID, productID)
	if err != nil {
		return nil, fmt.Errorf("finding review by %q for %q: %w", userID, productID, err)
	}

	rev, err := pgx.CollectExactlyOneRow(rows, scanReview)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, review.ErrNotFound
		}
		return nil, fmt.Errorf("finding review by %q for %q: %w", userID, productID, err)
	}
	return &rev, nil
}

// ListByProduct returns the product's reviews ordered by creation time
// ascending, with the id as tiebreaker for a stable order.
func (r *ReviewRepository) ListByProduct(ctx context.Context, productID string) ([]review.Review, error) {
	rows, err := r.pool.Query(ctx, listReviewsByProductSQL, productID)
	if err != nil {
		return nil, fmt.Errorf("listing reviews for %q: %w", productID, err)
	}
	return pgx.CollectRows(rows, scanReview)
}

// SaveWithSummary upserts the review and refreshes the product summary in one
// transaction, holding a per-product advisory lock so concurrent writers for
// the same product serialize.
func (r *ReviewRepository) SaveWithSummary(ctx context.Context, rev *review.Review) error {
	return r.inProductTx(ctx, rev.ProductID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, upsertReviewSQL,
			rev.ID, rev.ProductID, rev.UserID, rev.Rating, rev.Comment,
			rev.CreatedAt, rev.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("upserting review %q: %w", rev.ID, err)
		}
		return nil
	})
}

// DeleteWithSummary removes the review and refreshes the product summary in
// one transaction. Returns review.ErrNotFound if the review no longer exists.
func (r *ReviewRepository) DeleteWithSummary(ctx context.Context, id, productID string) error {
	return r.inProductTx(ctx, productID, func(tx pgx.Tx) error {
		ct, err := tx.Exec(ctx, deleteReviewSQL, id)
		if err != nil {
			return fmt.Errorf("deleting review %q: %w", id, err)
		}
		if ct.RowsAffected() == 0 {
			return review.ErrNotFound
		}
		return nil
	})
}

// inProductTx runs fn and the summary refresh inside one transaction guarded
// by the product's advisory lock. The summary is recomputed from the rows
// visible after fn, so it can never carry a count or average read before the
// lock was held.
func (r *ReviewRepository) inProductTx(ctx context.Context, productID string, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning review transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(ctx, lockProductSQL, productID); err != nil {
		return fmt.Errorf("locking product %q: %w", productID, err)
	}

	if err := fn(tx); err != nil {
		return err
	}

	rows, err := tx.Query(ctx, listReviewsByProductSQL, productID)
	if err != nil {
		return fmt.Errorf("listing reviews for %q: %w", productID, err)
	}
	reviews, err := pgx.CollectRows(rows, scanReview)
	if err != nil {
		return fmt.Errorf("listing reviews for %q: %w", productID, err)
	}

	s := review.Summarize(reviews)
	if _, err := tx.Exec(ctx, updateSummarySQL, productID, s.AverageRating, s.ReviewCount); err != nil {
		return fmt.Errorf("updating summary for %q: %w", productID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing review transaction: %w", err)
	}
	return nil
}

func scanReview(row pgx.CollectableRow) (review.Review, error) {
	var rev review.Review
	err := row.Scan(
		&rev.ID, &rev.ProductID, &rev.UserID, &rev.Rating, &rev.Comment,
		&rev.CreatedAt, &rev.UpdatedAt,
	)
	return rev, err
}
