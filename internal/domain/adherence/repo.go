package adherence

import (
	"context"
)

// Repository is the authoritative source of prescription data. The caller's
// credentials travel in ctx; implementations never keep them between calls.
type Repository interface {
	// FetchSnapshot returns the current patient's prescriptions.
	FetchSnapshot(ctx context.Context) (*Snapshot, error)
	// FetchStats returns compliance stats as computed by the source itself.
	FetchStats(ctx context.Context) (*ComplianceStats, error)
	// MarkTaken flips the item (and its doses) to taken. Marking an item that
	// is already taken reports StatusAlreadyTaken rather than an error.
	MarkTaken(ctx context.Context, itemID string) (MarkStatus, error)
	// PatientHistory returns a patient's profile and full history by DNI.
	PatientHistory(ctx context.Context, dni string) (*PatientHistory, error)
}
