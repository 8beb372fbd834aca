package service

import (
	"context"
	"fmt"
	"math"

	"shop-service/internal/models"
	"shop-service/internal/store"
	"shop-service/internal/util"

	"go.uber.org/zap"
)

// ReviewStore is the storage surface for reviews and the rating aggregate.
// InReviewTx gives each mutation a single transaction covering the review
// write and the aggregate recompute.
type ReviewStore interface {
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	GetOwnedReview(ctx context.Context, userID, reviewID int64) (*models.Review, error)
	GetReviewByID(ctx context.Context, reviewID int64) (*models.Review, error)
	InReviewTx(ctx context.Context, fn func(tx store.ReviewTx) error) error
}

// ReviewService owns review writes and the product rating aggregate. Every
// mutation of a product's approved review set recomputes the aggregate in the
// same transaction, so a committed review is never visible alongside a stale
// average.
type ReviewService struct {
	store  ReviewStore
	cache  ProductCache
	logger *zap.Logger
}

// NewReviewService creates a new review service
func NewReviewService(store ReviewStore, cache ProductCache) *ReviewService {
	return &ReviewService{
		store:  store,
		cache:  cache,
		logger: util.GetLogger(),
	}
}

// AddReview creates a review for a product. A second review by the same user
// fails with ErrAlreadyReviewed.
func (s *ReviewService) AddReview(ctx context.Context, userID, productID int64, rating int, title, comment string) (*models.Review, error) {
	ctx, span := util.StartSpan(ctx, "ReviewService.AddReview")
	defer span.End()

	if rating < 1 || rating > 5 {
		return nil, fmt.Errorf("rating must be between 1 and 5")
	}
	if _, err := s.store.GetProductByID(ctx, productID); err != nil {
		return nil, err
	}

	review := &models.Review{
		UserID:     userID,
		ProductID:  productID,
		Rating:     rating,
		Title:      title,
		Comment:    comment,
		IsApproved: true,
	}
	err := s.store.InReviewTx(ctx, func(tx store.ReviewTx) error {
		if err := tx.InsertReview(ctx, review); err != nil {
			return err
		}
		return recomputeRating(ctx, tx, productID)
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, productID)
	return review, nil
}

// UpdateReview rewrites the user's own review.
func (s *ReviewService) UpdateReview(ctx context.Context, userID, reviewID int64, rating int, title, comment string) (*models.Review, error) {
	ctx, span := util.StartSpan(ctx, "ReviewService.UpdateReview")
	defer span.End()

	if rating < 1 || rating > 5 {
		return nil, fmt.Errorf("rating must be between 1 and 5")
	}

	review, err := s.store.GetOwnedReview(ctx, userID, reviewID)
	if err != nil {
		return nil, err
	}

	review.Rating = rating
	review.Title = title
	review.Comment = comment
	err = s.store.InReviewTx(ctx, func(tx store.ReviewTx) error {
		if err := tx.UpdateReview(ctx, review); err != nil {
			return err
		}
		return recomputeRating(ctx, tx, review.ProductID)
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, review.ProductID)
	return review, nil
}

// DeleteReview removes the user's own review.
func (s *ReviewService) DeleteReview(ctx context.Context, userID, reviewID int64) error {
	ctx, span := util.StartSpan(ctx, "ReviewService.DeleteReview")
	defer span.End()

	review, err := s.store.GetOwnedReview(ctx, userID, reviewID)
	if err != nil {
		return err
	}

	err = s.store.InReviewTx(ctx, func(tx store.ReviewTx) error {
		if err := tx.DeleteReview(ctx, userID, reviewID); err != nil {
			return err
		}
		return recomputeRating(ctx, tx, review.ProductID)
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, review.ProductID)
	return nil
}

// SetApproval flips a review's moderation flag, recomputing the aggregate
// when the approved set actually changed.
func (s *ReviewService) SetApproval(ctx context.Context, reviewID int64, approved bool) (*models.Review, error) {
	ctx, span := util.StartSpan(ctx, "ReviewService.SetApproval")
	defer span.End()

	review, err := s.store.GetReviewByID(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	if review.IsApproved == approved {
		return review, nil
	}

	err = s.store.InReviewTx(ctx, func(tx store.ReviewTx) error {
		if err := tx.SetReviewApproval(ctx, reviewID, approved); err != nil {
			return err
		}
		return recomputeRating(ctx, tx, review.ProductID)
	})
	if err != nil {
		return nil, err
	}
	review.IsApproved = approved

	s.invalidate(ctx, review.ProductID)
	return review, nil
}

// invalidate drops the product from the read cache after commit. The database
// is the authority, so a failed invalidation only delays freshness.
func (s *ReviewService) invalidate(ctx context.Context, productID int64) {
	if err := s.cache.Invalidate(ctx, productID); err != nil {
		s.logger.Warn("Failed to invalidate product cache",
			zap.Int64("product_id", productID),
			zap.Error(err))
	}
}

// recomputeRating re-derives a product's average rating and review count from
// its current approved review set. It runs inside the mutation's transaction;
// a failure rolls the triggering review write back with it. The aggregate is
// a pure function of the approved set, so recomputing in any interleaving
// converges on the same stored values. Zero approved reviews store as 0.00,
// not NaN.
func recomputeRating(ctx context.Context, tx store.ReviewTx, productID int64) error {
	ratings, err := tx.ListApprovedRatings(ctx, productID)
	if err != nil {
		return fmt.Errorf("failed to list approved ratings: %w", err)
	}

	average, count := AverageRating(ratings)
	if err := tx.SetProductRating(ctx, productID, average, count); err != nil {
		return err
	}

	util.RatingRecomputesTotal.Inc()
	return nil
}

// AverageRating returns the mean of the ratings rounded to two decimal
// places, and their count. The mean of an empty set is 0.
func AverageRating(ratings []int) (float64, int) {
	if len(ratings) == 0 {
		return 0, 0
	}
	var sum int
	for _, r := range ratings {
		sum += r
	}
	mean := float64(sum) / float64(len(ratings))
	return math.Round(mean*100) / 100, len(ratings)
}
