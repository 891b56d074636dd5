package types

import "time"

// ProcessedSnapshot is the persisted form of the processed transaction set.
type ProcessedSnapshot struct {
	ProcessedTransactions []string  `json:"processedTransactions"`
	LastCheckedHeight     uint64    `json:"lastCheckedHeight"`
	SavedAt               time.Time `json:"savedAt"`
}
