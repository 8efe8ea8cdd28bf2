package ids

import "github.com/google/uuid"

const (
	// CyclePrefix is the prefix for monitoring cycle IDs.
	CyclePrefix = "cyc-"
)

// NewCycleID generates an ID for one tenant monitoring cycle.
// Format: cyc-<uuidv7>
// UUIDv7 is time-ordered, so cycle IDs in logs sort by start time.
func NewCycleID() string {
	return CyclePrefix + uuid.Must(uuid.NewV7()).String()
}

// NewRowID returns a time-ordered UUID for ledger rows.
func NewRowID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}
