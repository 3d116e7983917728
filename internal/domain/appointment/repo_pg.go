package appointment

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/emr/emr/internal/platform/db"
)

type PGRepo struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) *PGRepo {
	return &PGRepo{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *PGRepo) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const apptCols = `id, patient_id, doctor_id, title, start_at, end_at, status,
	encounter_id, is_archived, created_at, updated_at`

func (r *PGRepo) Create(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = StatusScheduled
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO appointment_event (
			id, patient_id, doctor_id, title, start_at, end_at, status, encounter_id, is_archived
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		a.ID, a.PatientID, a.DoctorID, a.Title, a.Start, a.End, a.Status, a.EncounterID, a.IsArchived,
	)
	return err
}

func (r *PGRepo) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppt(r.conn(ctx).QueryRow(ctx,
		`SELECT `+apptCols+` FROM appointment_event WHERE id = $1`, id))
}

func (r *PGRepo) Update(ctx context.Context, a *Appointment) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointment_event SET
			doctor_id=$2, title=$3, start_at=$4, end_at=$5, status=$6,
			encounter_id=$7, is_archived=$8, updated_at=NOW()
		WHERE id = $1`,
		a.ID, a.DoctorID, a.Title, a.Start, a.End, a.Status, a.EncounterID, a.IsArchived,
	)
	return err
}

func (r *PGRepo) GetByEncounter(ctx context.Context, encounterID uuid.UUID) (*Appointment, error) {
	a, err := scanAppt(r.conn(ctx).QueryRow(ctx, `
		SELECT `+apptCols+` FROM appointment_event
		WHERE encounter_id = $1 AND NOT is_archived
		ORDER BY start_at DESC
		LIMIT 1`, encounterID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func (r *PGRepo) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+apptCols+` FROM appointment_event
		WHERE patient_id = $1 AND NOT is_archived
		ORDER BY start_at DESC
		LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var appts []*Appointment
	for rows.Next() {
		var a Appointment
		err := rows.Scan(
			&a.ID, &a.PatientID, &a.DoctorID, &a.Title, &a.Start, &a.End, &a.Status,
			&a.EncounterID, &a.IsArchived, &a.CreatedAt, &a.UpdatedAt,
		)
		if err != nil {
			return nil, 0, err
		}
		appts = append(appts, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int
	err = r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM appointment_event
		WHERE patient_id = $1 AND NOT is_archived`, patientID).Scan(&total)
	return appts, total, err
}

func (r *PGRepo) SetArchivedByEncounter(ctx context.Context, encounterID uuid.UUID, archived bool) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointment_event SET is_archived=$2, updated_at=NOW()
		WHERE encounter_id = $1`, encounterID, archived)
	return err
}

func scanAppt(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.ID, &a.PatientID, &a.DoctorID, &a.Title, &a.Start, &a.End, &a.Status,
		&a.EncounterID, &a.IsArchived, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
