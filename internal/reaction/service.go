package reaction

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"

	"github.com/postday/reactions/internal/domain"
	apperrors "github.com/postday/reactions/internal/errors"
	"github.com/postday/reactions/internal/metrics"
)

const (
	maxIDLength    = 128
	publishTimeout = 2 * time.Second
)

// Service is the reaction aggregator: it validates submits, enforces the
// per-user submit interval, applies the selection transition atomically via
// the Store, and fans the fresh snapshot out to subscribers.
type Service struct {
	store     Store
	limiter   Limiter
	baselines BaselineSource
	publisher Publisher
	palette   domain.Palette
	breaker   *gobreaker.CircuitBreaker
	flight    singleflight.Group
	timeout   time.Duration
}

// NewService wires the aggregator. publisher may be nil when no push
// transport is configured; readers then poll GetSnapshot.
func NewService(store Store, limiter Limiter, baselines BaselineSource, publisher Publisher, palette domain.Palette, timeout time.Duration) *Service {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "reaction-store",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Store circuit breaker state changed", "from", from.String(), "to", to.String())
			metrics.CircuitBreakerState.Set(breakerStateValue(to))
		},
	})

	return &Service{
		store:     store,
		limiter:   limiter,
		baselines: baselines,
		publisher: publisher,
		palette:   palette,
		breaker:   breaker,
		timeout:   timeout,
	}
}

// Palette returns the accepted emoji set.
func (s *Service) Palette() domain.Palette {
	return s.palette
}

// Submit sets the user's reaction for a post to emoji. Submitting the
// currently selected emoji (or the empty string) clears it. Returns the
// post-update snapshot and the user's resulting selection.
func (s *Service) Submit(ctx context.Context, userID, postID, emoji string) (Result, error) {
	start := time.Now()
	defer func() {
		metrics.SubmitDuration.Observe(time.Since(start).Seconds())
	}()

	if err := validateID("post_id", postID); err != nil {
		metrics.SubmitsRejectedTotal.WithLabelValues("invalid_post").Inc()
		return Result{}, err
	}
	if err := validateID("user_id", userID); err != nil {
		metrics.SubmitsRejectedTotal.WithLabelValues("invalid_user").Inc()
		return Result{}, err
	}
	if emoji != domain.NoSelection && !s.palette.Contains(emoji) {
		metrics.SubmitsRejectedTotal.WithLabelValues("unknown_emoji").Inc()
		return Result{}, apperrors.ValidationError("emoji not accepted").
			WithField("emoji", emoji).
			WithField("accepted", s.palette.Emojis())
	}

	allowed, err := s.limiter.Allow(ctx, postID, userID)
	if err != nil {
		// The limiter is an anti-churn defence, not a correctness
		// gate. Fail open when its backend is unreachable.
		slog.Warn("Submit limiter unavailable, allowing submit", "error", err, "post_id", postID)
		allowed = true
	}
	if !allowed {
		metrics.SubmitsRejectedTotal.WithLabelValues("rate_limited").Inc()
		return Result{}, apperrors.RateLimitedError("submit interval not elapsed").
			WithField("post_id", postID)
	}

	baseline, err := s.baselines.Baseline(ctx, postID)
	if err != nil {
		return Result{}, apperrors.UnavailableError("failed to resolve post baseline", err).
			WithField("post_id", postID)
	}

	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := s.breaker.Execute(func() (any, error) {
		return s.store.Apply(opCtx, postID, userID, emoji, baseline)
	})
	if err != nil {
		metrics.StoreOpsTotal.WithLabelValues("apply", "error").Inc()
		return Result{}, s.classifyStoreError(err)
	}
	metrics.StoreOpsTotal.WithLabelValues("apply", "ok").Inc()

	result := raw.(Result)
	metrics.SubmitsTotal.WithLabelValues(string(result.Kind)).Inc()

	if result.Kind != domain.TransitionNoop {
		s.publish(result.Snapshot)
	}
	return result, nil
}

// GetSnapshot returns the current counts for a post. Concurrent identical
// reads are collapsed into a single store round trip.
func (s *Service) GetSnapshot(ctx context.Context, postID string) (domain.Snapshot, error) {
	if err := validateID("post_id", postID); err != nil {
		return domain.Snapshot{}, err
	}

	raw, err, shared := s.flight.Do(postID, func() (any, error) {
		baseline, err := s.baselines.Baseline(ctx, postID)
		if err != nil {
			return domain.Snapshot{}, apperrors.UnavailableError("failed to resolve post baseline", err).
				WithField("post_id", postID)
		}

		snapRaw, err := s.breaker.Execute(func() (any, error) {
			return s.store.Snapshot(ctx, postID, baseline)
		})
		if err != nil {
			metrics.StoreOpsTotal.WithLabelValues("snapshot", "error").Inc()
			return domain.Snapshot{}, s.classifyStoreError(err)
		}
		metrics.StoreOpsTotal.WithLabelValues("snapshot", "ok").Inc()
		return snapRaw.(domain.Snapshot), nil
	})
	if err != nil {
		return domain.Snapshot{}, err
	}

	if shared {
		metrics.SnapshotReadsTotal.WithLabelValues("collapsed").Inc()
	} else {
		metrics.SnapshotReadsTotal.WithLabelValues("store").Inc()
	}
	return raw.(domain.Snapshot), nil
}

// GetSelection returns the user's current reaction for a post.
func (s *Service) GetSelection(ctx context.Context, postID, userID string) (string, error) {
	if err := validateID("post_id", postID); err != nil {
		return domain.NoSelection, err
	}
	if err := validateID("user_id", userID); err != nil {
		return domain.NoSelection, err
	}

	selection, err := s.store.Selection(ctx, postID, userID)
	if err != nil {
		return domain.NoSelection, s.classifyStoreError(err)
	}
	return selection, nil
}

// ResetPost reseeds a post's counters from its baseline and clears all
// selections. Maintenance operation; subscribers receive the reseeded
// snapshot like any other change.
func (s *Service) ResetPost(ctx context.Context, postID string) (domain.Snapshot, error) {
	if err := validateID("post_id", postID); err != nil {
		return domain.Snapshot{}, err
	}

	baseline, err := s.baselines.Baseline(ctx, postID)
	if err != nil {
		return domain.Snapshot{}, apperrors.UnavailableError("failed to resolve post baseline", err).
			WithField("post_id", postID)
	}

	raw, err := s.breaker.Execute(func() (any, error) {
		return s.store.Reset(ctx, postID, baseline)
	})
	if err != nil {
		metrics.StoreOpsTotal.WithLabelValues("reset", "error").Inc()
		return domain.Snapshot{}, s.classifyStoreError(err)
	}
	metrics.StoreOpsTotal.WithLabelValues("reset", "ok").Inc()

	snapshot := raw.(domain.Snapshot)
	s.publish(snapshot)
	return snapshot, nil
}

// publish fans a snapshot out on a detached context: the caller's request
// may already be done, and a publish failure must not fail the submit.
func (s *Service) publish(snapshot domain.Snapshot) {
	if s.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(ctx, snapshot); err != nil {
		slog.Error("Failed to publish snapshot", "error", err, "post_id", snapshot.PostID, "rev", snapshot.Rev)
	}
}

func (s *Service) classifyStoreError(err error) error {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return apperrors.UnavailableError("reaction store unavailable", err)
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.ConflictError("reaction store timed out, safe to retry", err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return apperrors.UnavailableError("reaction store error", err)
	}
}

func validateID(field, value string) error {
	if value == "" {
		return apperrors.ValidationError(field + " is required")
	}
	if len(value) > maxIDLength {
		return apperrors.ValidationError(field + " too long").WithField("max_length", maxIDLength)
	}
	return nil
}

func breakerStateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}
