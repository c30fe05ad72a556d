package review

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/merchkit/storefront/internal/domain/product"
)

// Review is a single user's rating of a product. At most one review exists
// per (UserID, ProductID); resubmission overwrites rating, comment, and
// UpdatedAt in place. CreatedAt stays fixed so listings keep a stable order.
type Review struct {
	ID        string
	ProductID string
	UserID    string
	Rating    int
	Comment   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Sentinel errors shared across review operations.
var (
	ErrNotFound  = errors.New("review not found")
	ErrForbidden = errors.New("forbidden")
)

// InvalidRatingError indicates a rating outside the permitted 1..5 range.
type InvalidRatingError struct {
	Rating int
}

func (e *InvalidRatingError) Error() string {
	return fmt.Sprintf("rating %d out of range [1,5]", e.Rating)
}

// Repository defines persistence operations for reviews.
//
// SaveWithSummary and DeleteWithSummary apply the mutation and store the
// product summary recomputed via Summarize from the review rows visible
// inside the same transaction, under a per-product lock. Reading the rows
// after the lock is what keeps the summary exact when writers race from
// different application instances; a summary computed before the lock could
// be committed stale. A failure leaves neither the mutation nor the summary
// applied. ListByProduct returns reviews ordered by CreatedAt ascending with
// ID as tiebreaker.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Review, error)
	FindByUserProduct(ctx context.Context, userID, productID string) (*Review, error)
	ListByProduct(ctx context.Context, productID string) ([]Review, error)
	SaveWithSummary(ctx context.Context, r *Review) error
	DeleteWithSummary(ctx context.Context, id, productID string) error
}

// Summarize recomputes the aggregate rating from the full review set. A full
// re-scan avoids the drift an incrementally maintained average accumulates.
// An empty set yields a zero summary.
func Summarize(reviews []Review) product.Summary {
	if len(reviews) == 0 {
		return product.Summary{AverageRating: decimal.Zero}
	}

	sum := int64(0)
	for _, r := range reviews {
		sum += int64(r.Rating)
	}
	avg := decimal.NewFromInt(sum).
		Div(decimal.NewFromInt(int64(len(reviews)))).
		Round(1)

	return product.Summary{
		AverageRating: avg,
		ReviewCount:   len(reviews),
	}
}
