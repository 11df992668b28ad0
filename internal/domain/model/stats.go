package model

import "time"

// Stats are the process-wide delivery counters owned by the registry.
type Stats struct {
	StartedOn time.Time

	// TotalUniqueMessages counts accepted publications;
	// TotalMessages counts individual fan-out deliveries.
	TotalMessages       uint64
	TotalUniqueMessages uint64
}
