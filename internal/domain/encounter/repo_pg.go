package encounter

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/emr/emr/internal/platform/db"
)

// PGRepo is the PostgreSQL repository. Besides Repository it also
// implements the DocumentStore and PatientDirectory ports, which in this
// deployment live in the same database.
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

const encCols = `id, patient_id, doctor_id, date_start, date_end, outcome,
	transfer_department_id, is_archived, archived_at, version, created_at, updated_at`

func (r *PGRepo) Create(ctx context.Context, enc *Encounter) error {
	if enc.ID == uuid.Nil {
		enc.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO encounter (
			id, patient_id, doctor_id, date_start, date_end, outcome,
			transfer_department_id, is_archived, archived_at, version
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,1)`,
		enc.ID, enc.PatientID, enc.DoctorID, enc.DateStart, enc.DateEnd, nullableOutcome(enc.Outcome),
		enc.TransferDepartmentID, enc.IsArchived, enc.ArchivedAt,
	)
	if err != nil {
		return err
	}
	enc.Version = 1
	return nil
}

func (r *PGRepo) GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	enc, err := scanEnc(r.conn(ctx).QueryRow(ctx, `SELECT `+encCols+` FROM encounter WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, NewNotFoundError("encounter %s not found", id)
	}
	return enc, err
}

// Update persists with an optimistic version check: the row is only
// written when its stored version matches the one the caller read.
func (r *PGRepo) Update(ctx context.Context, enc *Encounter) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE encounter SET
			doctor_id=$3, date_end=$4, outcome=$5, transfer_department_id=$6,
			is_archived=$7, archived_at=$8, version=version+1, updated_at=NOW()
		WHERE id = $1 AND version = $2`,
		enc.ID, enc.Version,
		enc.DoctorID, enc.DateEnd, nullableOutcome(enc.Outcome), enc.TransferDepartmentID,
		enc.IsArchived, enc.ArchivedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return NewConflictError("encounter %s was modified concurrently", enc.ID)
	}
	enc.Version++
	return nil
}

func (r *PGRepo) List(ctx context.Context, limit, offset int) ([]*Encounter, int, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+encCols+` FROM encounter
		WHERE NOT is_archived
		ORDER BY date_start DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	encs, err := scanEncs(rows)
	if err != nil {
		return nil, 0, err
	}

	var total int
	err = r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM encounter WHERE NOT is_archived`).Scan(&total)
	return encs, total, err
}

func (r *PGRepo) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Encounter, int, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+encCols+` FROM encounter
		WHERE patient_id = $1 AND NOT is_archived
		ORDER BY date_start DESC
		LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	encs, err := scanEncs(rows)
	if err != nil {
		return nil, 0, err
	}

	var total int
	err = r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM encounter WHERE patient_id = $1 AND NOT is_archived`, patientID).Scan(&total)
	return encs, total, err
}

func (r *PGRepo) CountEarlierForPatient(ctx context.Context, enc *Encounter) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM encounter
		WHERE patient_id = $1 AND date_start < $2`,
		enc.PatientID, enc.DateStart).Scan(&n)
	return n, err
}

// HasDocuments implements the DocumentStore port against the
// clinical_document table. Document content is owned elsewhere; the
// coordinator only needs presence.
func (r *PGRepo) HasDocuments(ctx context.Context, encounterID uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM clinical_document WHERE encounter_id = $1)`, encounterID).Scan(&exists)
	return exists, err
}

// EmailFor implements the PatientDirectory port. A patient without an
// email yields an empty address, not an error.
func (r *PGRepo) EmailFor(ctx context.Context, patientID uuid.UUID) (string, error) {
	var email *string
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT email FROM patient WHERE id = $1`, patientID).Scan(&email)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if email == nil {
		return "", nil
	}
	return *email, nil
}

func nullableOutcome(o Outcome) *string {
	if o == OutcomeNone {
		return nil
	}
	s := string(o)
	return &s
}

func scanEnc(row pgx.Row) (*Encounter, error) {
	var enc Encounter
	var outcome *string
	err := row.Scan(
		&enc.ID, &enc.PatientID, &enc.DoctorID, &enc.DateStart, &enc.DateEnd, &outcome,
		&enc.TransferDepartmentID, &enc.IsArchived, &enc.ArchivedAt, &enc.Version,
		&enc.CreatedAt, &enc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if outcome != nil {
		enc.Outcome = Outcome(*outcome)
	}
	return &enc, nil
}

func scanEncs(rows pgx.Rows) ([]*Encounter, error) {
	var encs []*Encounter
	for rows.Next() {
		var enc Encounter
		var outcome *string
		err := rows.Scan(
			&enc.ID, &enc.PatientID, &enc.DoctorID, &enc.DateStart, &enc.DateEnd, &outcome,
			&enc.TransferDepartmentID, &enc.IsArchived, &enc.ArchivedAt, &enc.Version,
			&enc.CreatedAt, &enc.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		if outcome != nil {
			enc.Outcome = Outcome(*outcome)
		}
		encs = append(encs, &enc)
	}
	return encs, rows.Err()
}
