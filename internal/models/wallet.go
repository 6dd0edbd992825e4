package models

import "time"

// Wallet is unique per (Address, Chain). Creation metadata is populated
// lazily by the scheduler's wallet-creation-time cache and may be
// heuristic: IsEstimated must never be silently trusted by a caller that
// needs ground truth.
type Wallet struct {
	Address             string
	Chain                string
	Name                 string
	Notes                string
	CreationTimestamp    *time.Time
	FirstTransactionHash string
	BlockNumber          *uint64
	IsEstimated          bool
}

// CreationKnown reports whether creation metadata has been resolved at all
// (estimated or not) versus never having been looked up.
func (w Wallet) CreationKnown() bool {
	return w.CreationTimestamp != nil
}
