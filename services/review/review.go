// Package review implements the Review Aggregator: post-session rating
// ingest and the reader's running average.
package review

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/orbitline/sessioncore/domain/notification"
	"github.com/orbitline/sessioncore/domain/review"
	"github.com/orbitline/sessioncore/domain/session"
	"github.com/orbitline/sessioncore/pkg/apierrors"
	"github.com/orbitline/sessioncore/services/eventbus"
	"github.com/orbitline/sessioncore/storage"
)

// Aggregator implements section 4.7.
type Aggregator struct {
	reviews  storage.ReviewStore
	sessions storage.SessionStore
	readers  storage.ReaderStore
	bus      *eventbus.Bus
}

func New(reviews storage.ReviewStore, sessions storage.SessionStore, readers storage.ReaderStore, bus *eventbus.Bus) *Aggregator {
	return &Aggregator{reviews: reviews, sessions: sessions, readers: readers, bus: bus}
}

// Submit implements submitReview(session_id, rating, comment?).
func (a *Aggregator) Submit(ctx context.Context, clientID, sessionID string, rating int, comment string) (*review.Review, error) {
	if !review.ValidRating(rating) {
		return nil, apierrors.Validation("rating must be between 1 and 5")
	}

	sess, err := a.sessions.Get(ctx, sessionID)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, apierrors.NotFound("session not found")
		}
		return nil, apierrors.Internal("failed to load session", err)
	}
	if sess.ClientID != clientID {
		return nil, apierrors.NotAuthorized("session does not belong to this client")
	}
	if sess.Status != session.StatusCompleted {
		return nil, apierrors.InvalidState("session is not completed")
	}
	if _, err := a.reviews.GetBySession(ctx, sessionID); err == nil {
		return nil, apierrors.Conflict("session already reviewed")
	} else if err != storage.ErrNotFound {
		return nil, apierrors.Internal("failed to check existing review", err)
	}

	now := time.Now().UTC()
	r := &review.Review{
		ID: uuid.NewString(), SessionID: sessionID, ClientID: clientID, ReaderID: sess.ReaderID,
		Rating: rating, Comment: comment, CreatedAt: now, UpdatedAt: now,
	}
	if err := a.reviews.Create(ctx, r); err != nil {
		return nil, apierrors.Internal("failed to persist review", err)
	}

	if err := a.recomputeRating(ctx, sess.ReaderID); err != nil {
		return r, apierrors.Internal("review saved but failed to update reader rating", err)
	}

	if _, err := a.bus.NotifyUser(ctx, sess.ReaderID, notification.TypeNewReview,
		"New review", "You received a new review.", map[string]string{"session_id": sessionID}); err != nil {
		return r, apierrors.Transient("review saved but failed to notify reader", err)
	}
	return r, nil
}

// recomputeRating recomputes rating=AVG(rating) and review_count=COUNT(*)
// over every review for the reader.
func (a *Aggregator) recomputeRating(ctx context.Context, readerID string) error {
	all, err := a.reviews.ListByReader(ctx, readerID, 0)
	if err != nil {
		return err
	}
	p, err := a.readers.Get(ctx, readerID)
	if err != nil {
		return err
	}

	var sum int
	for _, r := range all {
		sum += r.Rating
	}
	p.ReviewCount = len(all)
	if p.ReviewCount > 0 {
		p.Rating = float64(sum) / float64(p.ReviewCount)
	}
	return a.readers.Update(ctx, p)
}

// RespondTo lets the reader edit only the response field of an existing
// review (spec section 3 invariant).
func (a *Aggregator) RespondTo(ctx context.Context, readerID, reviewID, response string) error {
	r, err := a.reviews.GetByID(ctx, reviewID)
	if err != nil {
		if err == storage.ErrNotFound {
			return apierrors.NotFound("review not found")
		}
		return apierrors.Internal("failed to load review", err)
	}
	if r.ReaderID != readerID {
		return apierrors.NotAuthorized("review does not belong to this reader")
	}

	if err := a.reviews.UpdateResponse(ctx, reviewID, response); err != nil {
		if err == storage.ErrNotFound {
			return apierrors.NotFound("review not found")
		}
		return apierrors.Internal("failed to persist review response", err)
	}
	return nil
}
