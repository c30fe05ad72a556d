package review

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/merchkit/storefront/internal/auth"
)

// keyedMutex serializes review writes per product. Entries are never evicted;
// the map is bounded by the catalog size.
type keyedMutex struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.m == nil {
		k.m = make(map[string]*sync.Mutex)
	}
	l, ok := k.m[key]
	if !ok {
		l = &sync.Mutex{}
		k.m[key] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Service maintains the review set per product and its derived aggregate
// rating. All mutations for one product run inside a per-product critical
// section so the recomputed summary never reflects a partial write.
type Service struct {
	reviews Repository
	locks   keyedMutex
	now     func() time.Time
	newID   func() string
}

// NewService creates a review Service backed by the given repository.
func NewService(reviews Repository) *Service {
	return &Service{
		reviews: reviews,
		now:     time.Now,
		newID:   func() string { return uuid.New().String() },
	}
}

// Submit creates the caller's review for a product, or overwrites the
// existing one in place. The product summary is recomputed from the full
// review set and committed together with the review.
func (s *Service) Submit(ctx context.Context, productID string, rating int, comment string, actor auth.Actor) (*Review, error) {
	if rating < 1 || rating > 5 {
		return nil, &InvalidRatingError{Rating: rating}
	}

	unlock := s.locks.lock(productID)
	defer unlock()

	existing, err := s.reviews.FindByUserProduct(ctx, actor.ID, productID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, errors.Wrap(err, "find review")
	}

	now := s.now()
	r := &Review{
		ProductID: productID,
		UserID:    actor.ID,
		Rating:    rating,
		Comment:   comment,
		UpdatedAt: now,
	}
	if existing != nil {
		r.ID = existing.ID
		r.CreatedAt = existing.CreatedAt
	} else {
		r.ID = s.newID()
		r.CreatedAt = now
	}

	if err := s.reviews.SaveWithSummary(ctx, r); err != nil {
		return nil, errors.Wrap(err, "save review")
	}

	return r, nil
}

// Delete removes a review. Only the owner or an administrator may delete it;
// the summary is recomputed afterwards and drops to zero with the last
// review.
func (s *Service) Delete(ctx context.Context, reviewID string, actor auth.Actor) error {
	r, err := s.reviews.GetByID(ctx, reviewID)
	if err != nil {
		return err
	}
	if r.UserID != actor.ID && !actor.Admin {
		return ErrForbidden
	}

	unlock := s.locks.lock(r.ProductID)
	defer unlock()

	err = s.reviews.DeleteWithSummary(ctx, reviewID, r.ProductID)
	if errors.Is(err, ErrNotFound) {
		// Deleted by a concurrent request while we waited for the lock.
		return ErrNotFound
	}
	if err != nil {
		return errors.Wrap(err, "delete review")
	}
	return nil
}

// List returns a restartable sequence of the product's reviews ordered by
// creation time ascending. Each range over the sequence re-queries the
// repository, so the sequence always reflects the current review set.
func (s *Service) List(ctx context.Context, productID string) iter.Seq2[Review, error] {
	return func(yield func(Review, error) bool) {
		reviews, err := s.reviews.ListByProduct(ctx, productID)
		if err != nil {
			yield(Review{}, errors.Wrap(err, "list reviews"))
			return
		}
		for _, r := range reviews {
			if !yield(r, nil) {
				return
			}
		}
	}
}
