package adherence

import (
	"context"
	"fmt"
	"strings"
)

// Tracker applies taken-state transitions through the repository. It never
// mutates the snapshot it is given; callers re-fetch after a mark.
type Tracker struct {
	repo Repository
}

// NewTracker returns a tracker writing through repo.
func NewTracker(repo Repository) *Tracker {
	return &Tracker{repo: repo}
}

// MarkTaken marks itemID as taken. An item already taken in snap, or reported
// taken by the repository, yields StatusAlreadyTaken and no error.
func (t *Tracker) MarkTaken(ctx context.Context, snap *Snapshot, itemID string) (MarkResult, error) {
	const op = "mark taken"
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return MarkResult{}, validationError(op, "prescription item id is required")
	}

	item, ok := snap.FindItem(itemID)
	if !ok {
		return MarkResult{}, notFoundError(op, fmt.Sprintf("prescription item %s not found", itemID))
	}
	if item.Taken {
		return MarkResult{ItemID: itemID, Status: StatusAlreadyTaken}, nil
	}

	status, err := t.repo.MarkTaken(ctx, itemID)
	if err != nil {
		return MarkResult{}, err
	}
	if status == "" {
		status = StatusMarked
	}
	return MarkResult{ItemID: itemID, Status: status}, nil
}
