package adherence

import (
	"time"
)

// Medication is the drug reference attached to a prescription item.
type Medication struct {
	Description string `json:"description"`
	Unit        string `json:"unit"`
}

// DoseEvent is one scheduled administration of an item. Taken is persisted
// upstream; Eligible is recomputed against the current instant on every query.
type DoseEvent struct {
	ScheduledAt time.Time `json:"scheduled_at"`
	Taken       bool      `json:"taken"`
	Eligible    bool      `json:"eligible"`
	// Civil marks a ScheduledAt read without a zone offset.
	Civil bool `json:"-"`
}

// PrescriptionItem is one medication line of a prescription.
type PrescriptionItem struct {
	ID           string      `json:"id"`
	Medication   Medication  `json:"medication"`
	RequestedQty float64     `json:"requested_qty"`
	DispensedQty *float64    `json:"dispensed_qty,omitempty"`
	Diagnosis    *string     `json:"diagnosis,omitempty"`
	Taken        bool        `json:"taken"`
	Doses        []DoseEvent `json:"doses"`
}

// Professional is the clinician who issued a prescription.
type Professional struct {
	FirstNames string `json:"first_names"`
	LastNames  string `json:"last_names"`
}

// FullName joins first and last names.
func (p Professional) FullName() string {
	switch {
	case p.FirstNames == "":
		return p.LastNames
	case p.LastNames == "":
		return p.FirstNames
	}
	return p.FirstNames + " " + p.LastNames
}

// Prescription is read-only data issued upstream by a clinician.
type Prescription struct {
	ID           string             `json:"id"`
	Number       string             `json:"number"`
	IssuedAt     time.Time          `json:"issued_at"`
	Professional Professional       `json:"professional"`
	Items        []PrescriptionItem `json:"items"`
	// IssuedCivil marks an IssuedAt read as a bare date or zone-less time.
	IssuedCivil bool `json:"-"`
}

// Patient is display-only profile data returned by the doctor search.
type Patient struct {
	ID        string     `json:"id"`
	DNI       string     `json:"dni"`
	FullName  string     `json:"full_name"`
	BirthDate *time.Time `json:"birth_date,omitempty"`
	Gender    string     `json:"gender,omitempty"`
}

// PatientHistory is a patient profile plus the full prescription history.
type PatientHistory struct {
	Patient       Patient        `json:"patient"`
	Prescriptions []Prescription `json:"prescriptions"`
}

// Snapshot is an immutable point-in-time copy of a patient's prescriptions.
type Snapshot struct {
	Prescriptions []Prescription `json:"prescriptions"`
	FetchedAt     time.Time      `json:"fetched_at"`
}

// FindItem returns the item with the given id and whether it was found.
func (s *Snapshot) FindItem(itemID string) (PrescriptionItem, bool) {
	if s == nil {
		return PrescriptionItem{}, false
	}
	for _, p := range s.Prescriptions {
		for _, it := range p.Items {
			if it.ID == itemID {
				return it, true
			}
		}
	}
	return PrescriptionItem{}, false
}

// ComplianceStats is fully derived from a snapshot. The JSON names match the
// upstream stats payload so both sources render identically.
type ComplianceStats struct {
	Total      int `json:"total_recetas"`
	Taken      int `json:"medicamentos_tomados"`
	Pending    int `json:"medicamentos_pendientes"`
	Percentage int `json:"porcentaje_cumplimiento"`
}

// MarkStatus is the outcome of a mark-taken request.
type MarkStatus string

const (
	StatusMarked       MarkStatus = "marked"
	StatusAlreadyTaken MarkStatus = "already_taken"
)

// MarkResult reports what a mark-taken call did.
type MarkResult struct {
	ItemID string     `json:"item_id"`
	Status MarkStatus `json:"status"`
}

// clonePrescriptions deep-copies prescriptions so annotations never write
// through to a snapshot held by someone else.
func clonePrescriptions(in []Prescription) []Prescription {
	if in == nil {
		return nil
	}
	out := make([]Prescription, len(in))
	for i, p := range in {
		out[i] = p
		if p.Items == nil {
			continue
		}
		items := make([]PrescriptionItem, len(p.Items))
		for j, it := range p.Items {
			items[j] = it
			if it.Doses != nil {
				items[j].Doses = append([]DoseEvent(nil), it.Doses...)
			}
		}
		out[i].Items = items
	}
	return out
}
