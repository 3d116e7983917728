package department

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

func (r *PGRepo) CreateDepartment(ctx context.Context, d *Department) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO department (id, name, number, description)
		VALUES ($1,$2,$3,$4)`,
		d.ID, d.Name, d.Number, d.Description,
	)
	return err
}

func (r *PGRepo) GetDepartment(ctx context.Context, id uuid.UUID) (*Department, error) {
	var d Department
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, name, number, description, created_at
		FROM department WHERE id = $1`, id).
		Scan(&d.ID, &d.Name, &d.Number, &d.Description, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *PGRepo) ListDepartments(ctx context.Context) ([]*Department, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, name, number, description, created_at
		FROM department ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deps []*Department
	for rows.Next() {
		var d Department
		if err := rows.Scan(&d.ID, &d.Name, &d.Number, &d.Description, &d.CreatedAt); err != nil {
			return nil, err
		}
		deps = append(deps, &d)
	}
	return deps, rows.Err()
}

const statusCols = `id, patient_id, department_id, status, admission_date, accepted_by,
	acceptance_date, discharge_date, notes, source_encounter_id, is_archived, archived_at,
	created_at, updated_at`

func (r *PGRepo) CreateStatus(ctx context.Context, s *PatientDepartmentStatus) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patient_department_status (
			id, patient_id, department_id, status, admission_date, accepted_by,
			acceptance_date, discharge_date, notes, source_encounter_id, is_archived, archived_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		s.ID, s.PatientID, s.DepartmentID, s.Status, s.AdmissionDate, s.AcceptedBy,
		s.AcceptanceDate, s.DischargeDate, s.Notes, s.SourceEncounterID, s.IsArchived, s.ArchivedAt,
	)
	return err
}

func (r *PGRepo) GetStatus(ctx context.Context, id uuid.UUID) (*PatientDepartmentStatus, error) {
	return scanStatus(r.conn(ctx).QueryRow(ctx,
		`SELECT `+statusCols+` FROM patient_department_status WHERE id = $1`, id))
}

func (r *PGRepo) UpdateStatus(ctx context.Context, s *PatientDepartmentStatus) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient_department_status SET
			status=$2, accepted_by=$3, acceptance_date=$4, discharge_date=$5,
			notes=$6, is_archived=$7, archived_at=$8, updated_at=NOW()
		WHERE id = $1`,
		s.ID, s.Status, s.AcceptedBy, s.AcceptanceDate, s.DischargeDate,
		s.Notes, s.IsArchived, s.ArchivedAt,
	)
	return err
}

// LatestMatch only considers records that are still live: cancelled or
// discharged rows from an earlier close/reopen cycle can share the same
// admission date and must never shadow a pending one. created_at breaks
// the tie between records admitted at the same instant.
func (r *PGRepo) LatestMatch(ctx context.Context, patientID, departmentID, sourceEncounterID uuid.UUID) (*PatientDepartmentStatus, error) {
	status, err := scanStatus(r.conn(ctx).QueryRow(ctx, `
		SELECT `+statusCols+` FROM patient_department_status
		WHERE patient_id = $1 AND department_id = $2 AND source_encounter_id = $3
		  AND status IN ('pending','accepted')
		ORDER BY admission_date DESC, created_at DESC
		LIMIT 1`, patientID, departmentID, sourceEncounterID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return status, err
}

func (r *PGRepo) ListByEncounter(ctx context.Context, sourceEncounterID uuid.UUID, includeArchived bool) ([]*PatientDepartmentStatus, error) {
	q := `SELECT ` + statusCols + ` FROM patient_department_status
		WHERE source_encounter_id = $1`
	if !includeArchived {
		q += ` AND NOT is_archived`
	}
	rows, err := r.conn(ctx).Query(ctx, q+` ORDER BY admission_date DESC`, sourceEncounterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStatuses(rows)
}

func (r *PGRepo) ListByDepartment(ctx context.Context, departmentID uuid.UUID, limit, offset int) ([]*PatientDepartmentStatus, int, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+statusCols+` FROM patient_department_status
		WHERE department_id = $1 AND NOT is_archived
		ORDER BY admission_date DESC
		LIMIT $2 OFFSET $3`, departmentID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	statuses, err := scanStatuses(rows)
	if err != nil {
		return nil, 0, err
	}

	var total int
	err = r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM patient_department_status
		WHERE department_id = $1 AND NOT is_archived`, departmentID).Scan(&total)
	return statuses, total, err
}

func scanStatus(row pgx.Row) (*PatientDepartmentStatus, error) {
	var s PatientDepartmentStatus
	err := row.Scan(
		&s.ID, &s.PatientID, &s.DepartmentID, &s.Status, &s.AdmissionDate, &s.AcceptedBy,
		&s.AcceptanceDate, &s.DischargeDate, &s.Notes, &s.SourceEncounterID,
		&s.IsArchived, &s.ArchivedAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func scanStatuses(rows pgx.Rows) ([]*PatientDepartmentStatus, error) {
	var statuses []*PatientDepartmentStatus
	for rows.Next() {
		var s PatientDepartmentStatus
		err := rows.Scan(
			&s.ID, &s.PatientID, &s.DepartmentID, &s.Status, &s.AdmissionDate, &s.AcceptedBy,
			&s.AcceptanceDate, &s.DischargeDate, &s.Notes, &s.SourceEncounterID,
			&s.IsArchived, &s.ArchivedAt, &s.CreatedAt, &s.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, &s)
	}
	return statuses, rows.Err()
}
