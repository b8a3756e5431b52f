package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxAPI is the subset of the pgx pool the Postgres stores need.
type PgxAPI interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ PgxAPI = (*pgxpool.Pool)(nil)

// PostgresRecordStore implements RecordStore on a student_marks table using
// INSERT ... ON CONFLICT DO UPDATE.
type PostgresRecordStore struct {
	db PgxAPI
}

func NewPostgresRecordStore(db PgxAPI) *PostgresRecordStore {
	return &PostgresRecordStore{db: db}
}

func (p *PostgresRecordStore) Upsert(ctx context.Context, rec StudentRecord) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO student_marks
			(id, class_name, subject_name, teacher_name, roll_no, name,
			 obtained_marks, total_marks, percentage, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			class_name     = EXCLUDED.class_name,
			subject_name   = EXCLUDED.subject_name,
			teacher_name   = EXCLUDED.teacher_name,
			roll_no        = EXCLUDED.roll_no,
			name           = EXCLUDED.name,
			obtained_marks = EXCLUDED.obtained_marks,
			total_marks    = EXCLUDED.total_marks,
			percentage     = EXCLUDED.percentage,
			uploaded_at    = EXCLUDED.uploaded_at`,
		rec.ID, rec.ClassName, rec.SubjectName, rec.TeacherName, rec.RollNo,
		rec.Name, rec.ObtainedMarks, rec.TotalMarks, rec.Percentage, rec.UploadedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert record %s: %w", rec.ID, err)
	}
	return nil
}

// PostgresLedger implements Ledger on a processing_status table. The create
// relies on ON CONFLICT DO NOTHING for atomic create-if-absent; the failed-row
// takeover is a conditional UPDATE guarded by the current status.
type PostgresLedger struct {
	db  PgxAPI
	now func() time.Time
}

func NewPostgresLedger(db PgxAPI) *PostgresLedger {
	return &PostgresLedger{db: db, now: time.Now}
}

func (p *PostgresLedger) TryBegin(ctx context.Context, id string, meta BeginMeta) (BeginResult, error) {
	var status string
	err := p.db.QueryRow(ctx,
		`SELECT status FROM processing_status WHERE id = $1`, id,
	).Scan(&status)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		status = ""
	case err != nil:
		return 0, fmt.Errorf("ledger read %s: %w", id, err)
	}

	switch status {
	case StatusProcessed:
		return AlreadyProcessed, nil
	case StatusProcessing:
		return AlreadyInProgress, nil
	case StatusFailed:
		tag, err := p.db.Exec(ctx, `
			UPDATE processing_status
			SET status = $2, class_name = $3, subject_name = $4,
			    teacher_name = $5, started_at = $6,
			    processed_at = NULL, failed_at = NULL, error = NULL
			WHERE id = $1 AND status = $7`,
			id, StatusProcessing, meta.ClassName, meta.SubjectName,
			meta.TeacherName, p.now(), StatusFailed,
		)
		if err != nil {
			return 0, fmt.Errorf("ledger takeover %s: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			return AlreadyInProgress, nil
		}
		return Began, nil
	}

	tag, err := p.db.Exec(ctx, `
		INSERT INTO processing_status
			(id, status, class_name, subject_name, teacher_name, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`,
		id, StatusProcessing, meta.ClassName, meta.SubjectName,
		meta.TeacherName, p.now(),
	)
	if err != nil {
		return 0, fmt.Errorf("ledger begin %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		// Lost the race with a concurrent attempt.
		return AlreadyInProgress, nil
	}
	return Began, nil
}

func (p *PostgresLedger) Complete(ctx context.Context, id string, out Outcome) error {
	ts := p.now()
	var err error
	switch out.Status {
	case StatusProcessed:
		_, err = p.db.Exec(ctx, `
			UPDATE processing_status
			SET status = $2, processed_at = $3, error = NULL
			WHERE id = $1`,
			id, StatusProcessed, ts,
		)
	case StatusFailed:
		_, err = p.db.Exec(ctx, `
			UPDATE processing_status
			SET status = $2, failed_at = $3, error = $4
			WHERE id = $1`,
			id, StatusFailed, ts, out.Error,
		)
	default:
		return fmt.Errorf("ledger complete %s: invalid terminal status %q", id, out.Status)
	}
	if err != nil {
		return fmt.Errorf("ledger complete %s: %w", id, err)
	}
	return nil
}

// EnsureSchema creates the tables the Postgres driver needs. Safe to run on
// every startup.
func EnsureSchema(ctx context.Context, db PgxAPI) error {
	stmts := []string{`
		CREATE TABLE IF NOT EXISTS student_marks (
			id             TEXT PRIMARY KEY,
			class_name     TEXT NOT NULL,
			subject_name   TEXT NOT NULL,
			teacher_name   TEXT NOT NULL,
			roll_no        TEXT NOT NULL,
			name           TEXT NOT NULL,
			obtained_marks DOUBLE PRECISION NOT NULL,
			total_marks    DOUBLE PRECISION NOT NULL,
			percentage     DOUBLE PRECISION NOT NULL,
			uploaded_at    TIMESTAMPTZ NOT NULL
		)`, `
		CREATE TABLE IF NOT EXISTS processing_status (
			id           TEXT PRIMARY KEY,
			status       TEXT NOT NULL,
			class_name   TEXT NOT NULL DEFAULT '',
			subject_name TEXT NOT NULL DEFAULT '',
			teacher_name TEXT NOT NULL DEFAULT '',
			started_at   TIMESTAMPTZ NOT NULL,
			processed_at TIMESTAMPTZ,
			failed_at    TIMESTAMPTZ,
			error        TEXT
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
