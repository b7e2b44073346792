package adherence

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/medtrack/internal/platform/auth"
	"github.com/ehr/medtrack/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// pgRepository serves snapshots from the local prescriptions schema. The
// current patient is the one whose user_subject matches the token subject.
type pgRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool, now: time.Now}
}

func (r *pgRepository) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func dbError(op string, err error) error {
	return NewError(KindUpstream, op, "database error", err)
}

func (r *pgRepository) currentPatient(ctx context.Context, op string) (int64, error) {
	subject := auth.UserIDFromContext(ctx)
	if subject == "" {
		return 0, NewError(KindAuth, op, "no authenticated user", nil)
	}
	var id int64
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT id FROM patient WHERE user_subject = $1`, subject).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, notFoundError(op, "no patient linked to the current user")
	}
	if err != nil {
		return 0, dbError(op, err)
	}
	return id, nil
}

type prescriptionRow struct {
	id       int64
	number   string
	issuedAt time.Time
	first    string
	last     string
}

type itemRow struct {
	id             int64
	prescriptionID int64
	description    string
	unit           string
	requested      float64
	dispensed      *float64
	diagnosis      *string
	taken          bool
}

type doseRow struct {
	itemID      int64
	scheduledAt time.Time
	taken       bool
}

// assemble builds prescriptions from flat rows, keeping the order of heads,
// and of items and doses within each parent.
func assemble(heads []prescriptionRow, items []itemRow, doses []doseRow) []Prescription {
	dosesByItem := make(map[int64][]DoseEvent)
	for _, d := range doses {
		dosesByItem[d.itemID] = append(dosesByItem[d.itemID], DoseEvent{ScheduledAt: d.scheduledAt, Taken: d.taken})
	}
	itemsByRx := make(map[int64][]PrescriptionItem)
	for _, it := range items {
		ds := dosesByItem[it.id]
		if ds == nil {
			ds = []DoseEvent{}
		}
		itemsByRx[it.prescriptionID] = append(itemsByRx[it.prescriptionID], PrescriptionItem{
			ID:           strconv.FormatInt(it.id, 10),
			Medication:   Medication{Description: it.description, Unit: it.unit},
			RequestedQty: it.requested,
			DispensedQty: it.dispensed,
			Diagnosis:    it.diagnosis,
			Taken:        it.taken,
			Doses:        ds,
		})
	}

	out := make([]Prescription, 0, len(heads))
	for _, h := range heads {
		its := itemsByRx[h.id]
		if its == nil {
			its = []PrescriptionItem{}
		}
		out = append(out, Prescription{
			ID:           strconv.FormatInt(h.id, 10),
			Number:       h.number,
			IssuedAt:     h.issuedAt,
			Professional: Professional{FirstNames: h.first, LastNames: h.last},
			Items:        its,
		})
	}
	return out
}

func (r *pgRepository) loadPrescriptions(ctx context.Context, op string, patientID int64) ([]Prescription, error) {
	q := r.conn(ctx)

	rows, err := q.Query(ctx, `
		SELECT p.id, p.number, p.issued_at,
			COALESCE(pr.first_names, ''), COALESCE(pr.last_names, '')
		FROM prescription p
		LEFT JOIN professional pr ON pr.id = p.professional_id
		WHERE p.patient_id = $1
		ORDER BY p.issued_at DESC, p.id`, patientID)
	if err != nil {
		return nil, dbError(op, err)
	}
	var heads []prescriptionRow
	for rows.Next() {
		var h prescriptionRow
		if err := rows.Scan(&h.id, &h.number, &h.issuedAt, &h.first, &h.last); err != nil {
			rows.Close()
			return nil, dbError(op, err)
		}
		heads = append(heads, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, dbError(op, err)
	}

	rows, err = q.Query(ctx, `
		SELECT i.id, i.prescription_id, m.description, m.unit,
			i.requested_qty::float8, i.dispensed_qty::float8, i.diagnosis, i.taken
		FROM prescription_item i
		JOIN medication m ON m.id = i.medication_id
		JOIN prescription p ON p.id = i.prescription_id
		WHERE p.patient_id = $1
		ORDER BY i.prescription_id, i.id`, patientID)
	if err != nil {
		return nil, dbError(op, err)
	}
	var items []itemRow
	for rows.Next() {
		var it itemRow
		if err := rows.Scan(&it.id, &it.prescriptionID, &it.description, &it.unit,
			&it.requested, &it.dispensed, &it.diagnosis, &it.taken); err != nil {
			rows.Close()
			return nil, dbError(op, err)
		}
		items = append(items, it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, dbError(op, err)
	}

	rows, err = q.Query(ctx, `
		SELECT d.item_id, d.scheduled_at, d.taken
		FROM dose_event d
		JOIN prescription_item i ON i.id = d.item_id
		JOIN prescription p ON p.id = i.prescription_id
		WHERE p.patient_id = $1
		ORDER BY d.item_id, d.scheduled_at`, patientID)
	if err != nil {
		return nil, dbError(op, err)
	}
	defer rows.Close()
	var doses []doseRow
	for rows.Next() {
		var d doseRow
		if err := rows.Scan(&d.itemID, &d.scheduledAt, &d.taken); err != nil {
			return nil, dbError(op, err)
		}
		doses = append(doses, d)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError(op, err)
	}

	return assemble(heads, items, doses), nil
}

func (r *pgRepository) FetchSnapshot(ctx context.Context) (*Snapshot, error) {
	const op = "fetch prescriptions"
	patientID, err := r.currentPatient(ctx, op)
	if err != nil {
		return nil, err
	}
	prescriptions, err := r.loadPrescriptions(ctx, op, patientID)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Prescriptions: prescriptions, FetchedAt: r.now().UTC()}, nil
}

func (r *pgRepository) FetchStats(ctx context.Context) (*ComplianceStats, error) {
	const op = "fetch stats"
	patientID, err := r.currentPatient(ctx, op)
	if err != nil {
		return nil, err
	}
	var s ComplianceStats
	err = r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(DISTINCT p.id),
			COUNT(i.id) FILTER (WHERE i.taken),
			COUNT(i.id) FILTER (WHERE NOT i.taken)
		FROM prescription p
		LEFT JOIN prescription_item i ON i.prescription_id = p.id
		WHERE p.patient_id = $1`, patientID).Scan(&s.Total, &s.Taken, &s.Pending)
	if err != nil {
		return nil, dbError(op, err)
	}
	s.Percentage = Percentage(s.Taken, s.Pending)
	return &s, nil
}

// MarkTaken flips the item and its doses in one transaction. The conditional
// update makes a concurrent second mark report StatusAlreadyTaken.
func (r *pgRepository) MarkTaken(ctx context.Context, itemID string) (MarkStatus, error) {
	const op = "mark taken"
	id, err := strconv.ParseInt(itemID, 10, 64)
	if err != nil {
		return "", notFoundError(op, "prescription item "+itemID+" not found")
	}
	patientID, err := r.currentPatient(ctx, op)
	if err != nil {
		return "", err
	}

	var status MarkStatus
	err = db.InTx(ctx, r.pool, func(ctx context.Context) error {
		q := r.conn(ctx)
		tag, err := q.Exec(ctx, `
			UPDATE prescription_item SET taken = TRUE, taken_at = NOW()
			WHERE id = $1 AND taken = FALSE
				AND prescription_id IN (SELECT id FROM prescription WHERE patient_id = $2)`,
			id, patientID)
		if err != nil {
			return dbError(op, err)
		}
		if tag.RowsAffected() == 0 {
			var taken bool
			err := q.QueryRow(ctx, `
				SELECT i.taken FROM prescription_item i
				JOIN prescription p ON p.id = i.prescription_id
				WHERE i.id = $1 AND p.patient_id = $2`, id, patientID).Scan(&taken)
			if errors.Is(err, pgx.ErrNoRows) {
				return notFoundError(op, "prescription item "+itemID+" not found")
			}
			if err != nil {
				return dbError(op, err)
			}
			status = StatusAlreadyTaken
			return nil
		}
		if _, err := q.Exec(ctx, `
			UPDATE dose_event SET taken = TRUE, taken_at = NOW()
			WHERE item_id = $1 AND taken = FALSE`, id); err != nil {
			return dbError(op, err)
		}
		status = StatusMarked
		return nil
	})
	if err != nil {
		var ae *Error
		if errors.As(err, &ae) {
			return "", err
		}
		return "", dbError(op, err)
	}
	return status, nil
}

func (r *pgRepository) PatientHistory(ctx context.Context, dni string) (*PatientHistory, error) {
	const op = "patient history"
	var (
		id        int64
		h         PatientHistory
		birthDate *time.Time
	)
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, dni, full_name, birth_date, gender FROM patient WHERE dni = $1`, dni).
		Scan(&id, &h.Patient.DNI, &h.Patient.FullName, &birthDate, &h.Patient.Gender)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFoundError(op, "no patient found for DNI "+dni)
	}
	if err != nil {
		return nil, dbError(op, err)
	}
	h.Patient.ID = strconv.FormatInt(id, 10)
	h.Patient.BirthDate = birthDate

	h.Prescriptions, err = r.loadPrescriptions(ctx, op, id)
	if err != nil {
		return nil, err
	}
	return &h, nil
}
