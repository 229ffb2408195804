package participation

import "context"

// DefaultCompletionHours is the service-requirement threshold.
const DefaultCompletionHours = 40

// Calculator derives credited hours from approved attendance records. No
// caching: totals are recomputed from source records on every call, so they
// can never drift from the lifecycle engine's state. Disabling or completing
// an event after approval does not change a credited total.
type Calculator struct {
	store     RecordStore
	threshold float64
}

// NewCalculator creates a calculator. A non-positive threshold falls back
// to the default.
func NewCalculator(store RecordStore, threshold float64) *Calculator {
	if threshold <= 0 {
		threshold = DefaultCompletionHours
	}
	return &Calculator{store: store, threshold: threshold}
}

// Threshold returns the completion threshold in hours.
func (c *Calculator) Threshold() float64 { return c.threshold }

// TotalHours sums the hours value of every event on which the user has an
// approved attendance record.
func (c *Calculator) TotalHours(ctx context.Context, userID string) (float64, error) {
	return c.store.ApprovedHours(ctx, userID)
}

// IsComplete reports whether the user has met the completion threshold.
func (c *Calculator) IsComplete(ctx context.Context, userID string) (bool, error) {
	total, err := c.TotalHours(ctx, userID)
	if err != nil {
		return false, err
	}
	return total >= c.threshold, nil
}
