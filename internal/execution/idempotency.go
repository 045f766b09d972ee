package execution

import "fmt"

// IdempotencyKey builds the key spec.md §4.4 requires for live order
// submission retries: strategy-id + parent-order-id + child-sequence, so a
// retried submission after a network failure never double-places.
func IdempotencyKey(strategyID, parentOrderID string, childSequence int) string {
	parent := parentOrderID
	if parent == "" {
		parent = "root"
	}
	return fmt.Sprintf("%s:%s:%d", strategyID, parent, childSequence)
}
