package adherence

import (
	"context"
	"time"
)

// DoseSlot is one dose of a day's schedule with its projected state.
type DoseSlot struct {
	ScheduledAt time.Time `json:"scheduled_at"`
	State       DoseState `json:"state"`
}

// ScheduleEntry is an item's schedule for a single day.
type ScheduleEntry struct {
	PrescriptionID string     `json:"prescription_id"`
	ItemID         string     `json:"item_id"`
	Medication     Medication `json:"medication"`
	Doses          []DoseSlot `json:"doses"`
	CanMark        bool       `json:"can_mark"`
}

// DaySchedule lists, in snapshot order, every item with at least one dose on
// day. prescriptions must already be annotated.
func DaySchedule(prescriptions []Prescription, day DayKey, loc *time.Location) []ScheduleEntry {
	out := make([]ScheduleEntry, 0)
	for _, p := range prescriptions {
		for _, it := range p.Items {
			doses := DosesOn(it, day, loc)
			if len(doses) == 0 {
				continue
			}
			e := ScheduleEntry{
				PrescriptionID: p.ID,
				ItemID:         it.ID,
				Medication:     it.Medication,
				Doses:          make([]DoseSlot, 0, len(doses)),
				CanMark:        ItemActionable(it),
			}
			for _, d := range doses {
				e.Doses = append(e.Doses, DoseSlot{ScheduledAt: d.ScheduledAt, State: slotState(d)})
			}
			out = append(out, e)
		}
	}
	return out
}

func slotState(d DoseEvent) DoseState {
	switch {
	case d.Taken:
		return StateTaken
	case d.Eligible:
		return StateActionable
	default:
		return StatePending
	}
}

// Schedule returns the per-item dose schedule for day (today when empty).
func (s *Service) Schedule(ctx context.Context, day DayKey) ([]ScheduleEntry, error) {
	if day == "" {
		day = s.Today()
	}
	_, prescriptions, _, err := s.annotated(ctx)
	if err != nil {
		return nil, err
	}
	return DaySchedule(prescriptions, day, s.agg.Location), nil
}
