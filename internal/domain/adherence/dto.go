package adherence

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// The upstream records API speaks Spanish field names. These DTOs are the only
// place those names appear; everything past ToDomain uses the model types.

// WireID accepts identifiers sent either as JSON numbers or strings.
type WireID string

func (id *WireID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = WireID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("identifier must be a string or number: %w", err)
	}
	*id = WireID(n.String())
	return nil
}

// WireTime accepts RFC3339 timestamps and plain YYYY-MM-DD dates. Values
// without a zone offset are civil: Time holds their wall clock in UTC and
// Civil is set, so the calendar date is never shifted by a zone conversion.
type WireTime struct {
	time.Time
	Set   bool
	Civil bool
}

var civilLayouts = []string{"2006-01-02T15:04:05", dayKeyLayout}

func (t *WireTime) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*t = WireTime{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
		*t = WireTime{Time: parsed, Set: true}
		return nil
	}
	for _, layout := range civilLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			*t = WireTime{Time: parsed, Set: true, Civil: true}
			return nil
		}
	}
	return fmt.Errorf("unparsable timestamp %q", s)
}

type MedicationDTO struct {
	Descripcion string `json:"descripcion"`
	Unidad      string `json:"unidad"`
}

type DoseDTO struct {
	Fecha           WireTime `json:"fecha"`
	Tomado          bool     `json:"tomado"`
	PuedeTomarAhora *bool    `json:"puedeTomarAhora,omitempty"`
}

type ItemDTO struct {
	ID                 WireID         `json:"id"`
	Medicamento        *MedicationDTO `json:"medicamento"`
	CantidadSolicitada float64        `json:"cantidad_solicitada"`
	CantidadDispensada *float64       `json:"cantidad_dispensada,omitempty"`
	DxDescripcion      *string        `json:"dx_descripcion,omitempty"`
	Tomado             bool           `json:"tomado"`
	HorarioTomas       []DoseDTO      `json:"horarioTomas,omitempty"`
}

type ProfessionalDTO struct {
	Nombres   string `json:"nombres"`
	Apellidos string `json:"apellidos"`
}

type PrescriptionDTO struct {
	ID          WireID          `json:"id"`
	NumReceta   WireID          `json:"num_receta"`
	Fecha       WireTime        `json:"fecha"`
	Profesional ProfessionalDTO `json:"profesional"`
	Items       []ItemDTO       `json:"items"`
}

type PatientDTO struct {
	ID              WireID   `json:"id"`
	DNI             WireID   `json:"dni"`
	NombreCompleto  string   `json:"nombre_completo"`
	FechaNacimiento WireTime `json:"fecha_nacimiento"`
	Genero          string   `json:"genero"`
}

// SnapshotDTO is the body of GET /api/prescriptions/my-prescriptions.
type SnapshotDTO struct {
	Prescriptions []PrescriptionDTO `json:"prescriptions"`
}

// StatsDTO is the body of GET /api/prescriptions/stats.
type StatsDTO struct {
	Stats *ComplianceStats `json:"stats"`
}

// HistoryDTO is the body of GET /api/prescriptions/history/:dni.
type HistoryDTO struct {
	Patient       *PatientDTO       `json:"patient"`
	Prescriptions []PrescriptionDTO `json:"prescriptions"`
}

// MarkTakenRequest is the body of POST /api/prescriptions/mark-taken.
type MarkTakenRequest struct {
	PrescriptionItemID string `json:"prescriptionItemId"`
}

// Validate rejects a snapshot with any missing required field.
func (s *SnapshotDTO) Validate() error {
	if s.Prescriptions == nil {
		return fmt.Errorf("prescriptions is required")
	}
	for i := range s.Prescriptions {
		if err := s.Prescriptions[i].Validate(); err != nil {
			return fmt.Errorf("prescriptions[%d]: %w", i, err)
		}
	}
	return nil
}

func (p *PrescriptionDTO) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("id is required")
	}
	if !p.Fecha.Set {
		return fmt.Errorf("fecha is required")
	}
	for i, it := range p.Items {
		if it.ID == "" {
			return fmt.Errorf("items[%d]: id is required", i)
		}
		if it.Medicamento == nil {
			return fmt.Errorf("items[%d]: medicamento is required", i)
		}
		for j, d := range it.HorarioTomas {
			if !d.Fecha.Set {
				return fmt.Errorf("items[%d].horarioTomas[%d]: fecha is required", i, j)
			}
		}
	}
	return nil
}

func (h *HistoryDTO) Validate() error {
	if h.Patient == nil {
		return fmt.Errorf("patient is required")
	}
	if h.Patient.DNI == "" && h.Patient.ID == "" {
		return fmt.Errorf("patient: id or dni is required")
	}
	for i := range h.Prescriptions {
		if err := h.Prescriptions[i].Validate(); err != nil {
			return fmt.Errorf("prescriptions[%d]: %w", i, err)
		}
	}
	return nil
}

// ToDomain converts a validated prescription. The upstream eligibility flag is
// carried into DoseEvent.Eligible; the evaluator decides whether to keep it.
func (p *PrescriptionDTO) ToDomain() Prescription {
	out := Prescription{
		ID:          string(p.ID),
		Number:      string(p.NumReceta),
		IssuedAt:    p.Fecha.Time,
		IssuedCivil: p.Fecha.Civil,
		Professional: Professional{
			FirstNames: strings.TrimSpace(p.Profesional.Nombres),
			LastNames:  strings.TrimSpace(p.Profesional.Apellidos),
		},
		Items: make([]PrescriptionItem, 0, len(p.Items)),
	}
	for _, it := range p.Items {
		item := PrescriptionItem{
			ID: string(it.ID),
			Medication: Medication{
				Description: it.Medicamento.Descripcion,
				Unit:        it.Medicamento.Unidad,
			},
			RequestedQty: it.CantidadSolicitada,
			DispensedQty: it.CantidadDispensada,
			Diagnosis:    it.DxDescripcion,
			Taken:        it.Tomado,
			Doses:        make([]DoseEvent, 0, len(it.HorarioTomas)),
		}
		for _, d := range it.HorarioTomas {
			dose := DoseEvent{ScheduledAt: d.Fecha.Time, Civil: d.Fecha.Civil, Taken: d.Tomado}
			if d.PuedeTomarAhora != nil {
				dose.Eligible = *d.PuedeTomarAhora
			}
			item.Doses = append(item.Doses, dose)
		}
		out.Items = append(out.Items, item)
	}
	return out
}

// ToDomain converts a validated snapshot body.
func (s *SnapshotDTO) ToDomain(fetchedAt time.Time) *Snapshot {
	snap := &Snapshot{
		Prescriptions: make([]Prescription, 0, len(s.Prescriptions)),
		FetchedAt:     fetchedAt,
	}
	for i := range s.Prescriptions {
		snap.Prescriptions = append(snap.Prescriptions, s.Prescriptions[i].ToDomain())
	}
	return snap
}

// ToDomain converts a validated history body.
func (h *HistoryDTO) ToDomain() *PatientHistory {
	out := &PatientHistory{
		Patient: Patient{
			ID:       string(h.Patient.ID),
			DNI:      string(h.Patient.DNI),
			FullName: h.Patient.NombreCompleto,
			Gender:   h.Patient.Genero,
		},
		Prescriptions: make([]Prescription, 0, len(h.Prescriptions)),
	}
	if h.Patient.FechaNacimiento.Set {
		bd := h.Patient.FechaNacimiento.Time
		out.Patient.BirthDate = &bd
	}
	for i := range h.Prescriptions {
		out.Prescriptions = append(out.Prescriptions, h.Prescriptions[i].ToDomain())
	}
	return out
}

// DecodeSnapshot parses and validates a snapshot body.
func DecodeSnapshot(body []byte, fetchedAt time.Time) (*Snapshot, error) {
	var dto SnapshotDTO
	if err := json.Unmarshal(body, &dto); err != nil {
		return nil, NewError(KindUpstream, "decode snapshot", "malformed prescriptions payload", err)
	}
	if err := dto.Validate(); err != nil {
		return nil, NewError(KindUpstream, "decode snapshot", "invalid prescriptions payload", err)
	}
	return dto.ToDomain(fetchedAt), nil
}

// DecodeHistory parses and validates a patient history body.
func DecodeHistory(body []byte) (*PatientHistory, error) {
	var dto HistoryDTO
	if err := json.Unmarshal(body, &dto); err != nil {
		return nil, NewError(KindUpstream, "decode history", "malformed history payload", err)
	}
	if err := dto.Validate(); err != nil {
		return nil, NewError(KindUpstream, "decode history", "invalid history payload", err)
	}
	return dto.ToDomain(), nil
}

// DecodeStats parses and validates a stats body.
func DecodeStats(body []byte) (*ComplianceStats, error) {
	var dto StatsDTO
	if err := json.Unmarshal(body, &dto); err != nil {
		return nil, NewError(KindUpstream, "decode stats", "malformed stats payload", err)
	}
	if dto.Stats == nil {
		return nil, NewError(KindUpstream, "decode stats", "stats is required", nil)
	}
	s := dto.Stats
	if s.Total < 0 || s.Taken < 0 || s.Pending < 0 || s.Percentage < 0 || s.Percentage > 100 {
		return nil, NewError(KindUpstream, "decode stats", fmt.Sprintf("stats out of range: %+v", *s), nil)
	}
	return s, nil
}
