package limits

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/SheetWithoutShit/sws-collector/internal/storage"
)

// Store is the subset of storage queries the evaluator depends on.
type Store interface {
	LimitByCode(ctx context.Context, userID int64, code int) (*storage.CategoryLimit, error)
	CategorySpend(ctx context.Context, userID, categoryID int64, from, to time.Time) (float64, error)
}

// Exceeded describes a crossed spend ceiling. Overage is Limit minus Spend and
// therefore non-positive once the limit fires: it is the amount by which the
// ceiling was crossed, not a naive remainder.
type Exceeded struct {
	Category string
	Limit    float64
	Spend    float64
	Overage  float64
}

// Evaluator decides whether a transaction pushed the user's month-to-date
// category spend over a configured limit.
type Evaluator struct {
	store Store
	log   zerolog.Logger
	now   func() time.Time
}

// NewEvaluator wires the evaluator with its storage collaborator.
func NewEvaluator(store Store, log zerolog.Logger) *Evaluator {
	return &Evaluator{store: store, log: log, now: time.Now}
}

// Evaluate returns a non-nil Exceeded when the user's debit spend for the
// category containing code, from the first day of the current month to now,
// has reached the configured limit. The limit fires on spend >= limit, so
// spending exactly the limit reports an overage of zero. Missing limits and
// any store failure degrade to nil: limit alerts are best effort and must
// never block ingestion.
func (e *Evaluator) Evaluate(ctx context.Context, userID int64, code int) *Exceeded {
	limit, err := e.store.LimitByCode(ctx, userID, code)
	if errors.Is(err, storage.ErrLimitNotFound) {
		return nil
	}
	if err != nil {
		e.log.Error().Err(err).Int64("user_id", userID).Int("mcc", code).Msg("limit lookup failed")
		return nil
	}

	now := e.now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	spend, err := e.store.CategorySpend(ctx, userID, limit.CategoryID, monthStart, now)
	if err != nil {
		e.log.Error().Err(err).Int64("user_id", userID).Int64("category_id", limit.CategoryID).Msg("spend aggregation failed")
		return nil
	}

	if spend < limit.Amount {
		return nil
	}
	return &Exceeded{
		Category: limit.CategoryName,
		Limit:    limit.Amount,
		Spend:    spend,
		Overage:  limit.Amount - spend,
	}
}
