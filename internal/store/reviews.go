package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"shop-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const pqUniqueViolation = "23505"

// ReviewTx is the set of storage operations available inside a review
// transaction. A review mutation and the product rating aggregate it implies
// commit together or not at all, so the stored average can never drift from
// the approved review set.
type ReviewTx interface {
	InsertReview(ctx context.Context, r *models.Review) error
	UpdateReview(ctx context.Context, r *models.Review) error
	DeleteReview(ctx context.Context, userID, reviewID int64) error
	SetReviewApproval(ctx context.Context, reviewID int64, approved bool) error
	ListApprovedRatings(ctx context.Context, productID int64) ([]int, error)
	SetProductRating(ctx context.Context, productID int64, average float64, count int) error
}

// InReviewTx runs fn inside a single database transaction. Any error from fn
// rolls the whole transaction back.
func (s *Store) InReviewTx(ctx context.Context, fn func(tx ReviewTx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&reviewTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// reviewTx implements ReviewTx over a live sqlx transaction.
type reviewTx struct {
	tx *sqlx.Tx
}

// GetOwnedReview retrieves a review belonging to the given user.
func (s *Store) GetOwnedReview(ctx context.Context, userID, reviewID int64) (*models.Review, error) {
	var review models.Review
	err := s.db.GetContext(ctx, &review,
		"SELECT * FROM reviews WHERE id = $1 AND user_id = $2", reviewID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("review %d: %w", reviewID, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &review, nil
}

// GetReviewByID retrieves a review by primary key.
func (s *Store) GetReviewByID(ctx context.Context, reviewID int64) (*models.Review, error) {
	var review models.Review
	err := s.db.GetContext(ctx, &review, "SELECT * FROM reviews WHERE id = $1", reviewID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("review %d: %w", reviewID, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &review, nil
}

// InsertReview inserts a review. A duplicate (user, product) pair maps to
// ErrAlreadyReviewed via the unique constraint rather than a racy pre-check.
func (t *reviewTx) InsertReview(ctx context.Context, r *models.Review) error {
	query := `
		INSERT INTO reviews (user_id, product_id, rating, title, comment, is_approved)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`

	err := t.tx.QueryRowxContext(ctx, query,
		r.UserID, r.ProductID, r.Rating, r.Title, r.Comment, r.IsApproved,
	).Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
		return fmt.Errorf("review for product %d: %w", r.ProductID, models.ErrAlreadyReviewed)
	}
	return err
}

// UpdateReview rewrites the user-editable fields of an owned review.
func (t *reviewTx) UpdateReview(ctx context.Context, r *models.Review) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE reviews SET rating = $1, title = $2, comment = $3, updated_at = NOW()
		 WHERE id = $4 AND user_id = $5`,
		r.Rating, r.Title, r.Comment, r.ID, r.UserID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("review %d: %w", r.ID, models.ErrNotFound)
	}
	return nil
}

// DeleteReview removes an owned review.
func (t *reviewTx) DeleteReview(ctx context.Context, userID, reviewID int64) error {
	res, err := t.tx.ExecContext(ctx,
		"DELETE FROM reviews WHERE id = $1 AND user_id = $2", reviewID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("review %d: %w", reviewID, models.ErrNotFound)
	}
	return nil
}

// SetReviewApproval flips the moderation flag on a review.
func (t *reviewTx) SetReviewApproval(ctx context.Context, reviewID int64, approved bool) error {
	res, err := t.tx.ExecContext(ctx,
		"UPDATE reviews SET is_approved = $1, updated_at = NOW() WHERE id = $2",
		approved, reviewID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("review %d: %w", reviewID, models.ErrNotFound)
	}
	return nil
}

// ListApprovedRatings returns the ratings of all approved reviews for a
// product. The rating aggregate is always recomputed from this live set.
func (t *reviewTx) ListApprovedRatings(ctx context.Context, productID int64) ([]int, error) {
	var ratings []int
	err := t.tx.SelectContext(ctx, &ratings,
		"SELECT rating FROM reviews WHERE product_id = $1 AND is_approved = TRUE", productID)
	return ratings, err
}

// SetProductRating writes the recomputed rating aggregate for a product.
func (t *reviewTx) SetProductRating(ctx context.Context, productID int64, average float64, count int) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE products SET average_rating = $1, review_count = $2, updated_at = NOW()
		 WHERE id = $3`, average, count, productID)
	if err != nil {
		return fmt.Errorf("failed to update product rating: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("product %d: %w", productID, models.ErrNotFound)
	}
	return nil
}
