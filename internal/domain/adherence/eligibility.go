package adherence

import (
	"fmt"
	"time"
)

// Window is the tolerance around a dose's scheduled instant during which the
// dose may be marked as taken.
type Window struct {
	Early time.Duration `json:"early"`
	Late  time.Duration `json:"late"`
}

// DefaultWindow accepts a dose from 30 minutes before to 2 hours after its
// scheduled instant.
func DefaultWindow() Window {
	return Window{Early: 30 * time.Minute, Late: 2 * time.Hour}
}

// Validate rejects negative bounds.
func (w Window) Validate() error {
	if w.Early < 0 || w.Late < 0 {
		return fmt.Errorf("tolerance window bounds must not be negative (early=%s, late=%s)", w.Early, w.Late)
	}
	return nil
}

// Contains reports whether now falls inside [scheduled-Early, scheduled+Late].
func (w Window) Contains(scheduled, now time.Time) bool {
	return !now.Before(scheduled.Add(-w.Early)) && !now.After(scheduled.Add(w.Late))
}

// IsActionable reports whether dose can be marked as taken at now.
func IsActionable(dose DoseEvent, now time.Time, w Window) bool {
	if dose.Taken {
		return false
	}
	return w.Contains(dose.ScheduledAt, now)
}

// DoseState is the on-demand projection of a dose against the clock.
type DoseState string

const (
	StatePending    DoseState = "pending"
	StateActionable DoseState = "actionable"
	StateTaken      DoseState = "taken"
)

// Classify projects dose onto the Pending/Actionable/Taken machine. A dose
// whose window has already closed without being taken stays Pending.
func Classify(dose DoseEvent, now time.Time, w Window) DoseState {
	switch {
	case dose.Taken:
		return StateTaken
	case IsActionable(dose, now, w):
		return StateActionable
	default:
		return StatePending
	}
}

// EligibilityMode selects who decides per-dose eligibility.
type EligibilityMode string

const (
	// ModeWindow computes eligibility locally from the tolerance window.
	ModeWindow EligibilityMode = "window"
	// ModeUpstream trusts the per-dose flag supplied by the records system.
	ModeUpstream EligibilityMode = "upstream"
)

// ParseEligibilityMode validates a configured mode; empty means ModeWindow.
func ParseEligibilityMode(s string) (EligibilityMode, error) {
	switch EligibilityMode(s) {
	case "", ModeWindow:
		return ModeWindow, nil
	case ModeUpstream:
		return ModeUpstream, nil
	}
	return "", fmt.Errorf("unknown eligibility mode %q (want %q or %q)", s, ModeWindow, ModeUpstream)
}

// Evaluator annotates snapshots with eligibility.
type Evaluator struct {
	Mode   EligibilityMode
	Window Window
}

// NewEvaluator returns an evaluator for the given mode and window.
func NewEvaluator(mode EligibilityMode, w Window) Evaluator {
	if mode == "" {
		mode = ModeWindow
	}
	return Evaluator{Mode: mode, Window: w}
}

// Eligible decides a single dose. In upstream mode the supplied flag is kept,
// but a taken dose is never eligible.
func (e Evaluator) Eligible(dose DoseEvent, now time.Time) bool {
	if e.Mode == ModeUpstream {
		return dose.Eligible && !dose.Taken
	}
	return IsActionable(dose, now, e.Window)
}

// State classifies a dose under this evaluator's mode.
func (e Evaluator) State(dose DoseEvent, now time.Time) DoseState {
	switch {
	case dose.Taken:
		return StateTaken
	case e.Eligible(dose, now):
		return StateActionable
	default:
		return StatePending
	}
}

// Annotate returns a deep copy of prescriptions with every dose's Eligible
// flag recomputed for now. The input is left untouched.
func (e Evaluator) Annotate(prescriptions []Prescription, now time.Time) []Prescription {
	out := clonePrescriptions(prescriptions)
	for i := range out {
		for j := range out[i].Items {
			doses := out[i].Items[j].Doses
			for k := range doses {
				doses[k].Eligible = e.Eligible(doses[k], now)
			}
		}
	}
	return out
}

// ItemActionable reports whether an annotated item offers a mark-taken
// action: the item is not taken and at least one of its doses is eligible.
func ItemActionable(item PrescriptionItem) bool {
	if item.Taken {
		return false
	}
	for _, d := range item.Doses {
		if d.Eligible && !d.Taken {
			return true
		}
	}
	return false
}

// DosesOn returns the item's doses scheduled on day, in schedule order.
func DosesOn(item PrescriptionItem, day DayKey, loc *time.Location) []DoseEvent {
	var out []DoseEvent
	for _, d := range item.Doses {
		if d.Day(loc) == day {
			out = append(out, d)
		}
	}
	return out
}
