package quotation

import (
	"context"
	"fmt"
)

// NextSequence returns the next running number for a (fiscal year, initials)
// partition. It must be called inside an open transaction: the lookup takes a
// row lock on the newest matching quotation, serializing concurrent allocators
// for the same partition until the caller commits or rolls back.
//
// The very first allocation in a partition finds no row to lock, so two
// concurrent first-of-year requests can both get sequence 1. The unique
// constraint on quotation_no backstops that race and the orchestration
// retries the allocation once on a duplicate-key failure.
func NextSequence(ctx context.Context, repo Repository, fyCode, initials string) (int, error) {
	latest, err := repo.LatestNumberInPartition(ctx, NumberPrefix(fyCode, initials))
	if err != nil {
		return 0, fmt.Errorf("lock latest number: %w", err)
	}
	if latest == "" {
		return 1, nil
	}
	seq, ok := ParseSequence(latest)
	if !ok {
		return 1, nil
	}
	return seq + 1, nil
}
