package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// Registers the "sqlite" driver (pure Go).
	_ "modernc.org/sqlite"

	"github.com/ykvlv/tardy-bot/internal/domain"
)

// ErrNotFound is returned when a user or tardy request does not exist.
var ErrNotFound = errors.New("store: not found")

const stampLayout = "2006-01-02 15:04:05"

// SQLiteRepo implements Repo using an embedded SQLite database.
type SQLiteRepo struct{ db *sql.DB }

// OpenSQLite opens (or creates) the SQLite database at the given path,
// applies recommended PRAGMAs, runs SQL migrations, and returns a repository.
func OpenSQLite(ctx context.Context, path string) (*SQLiteRepo, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Single connection: SQLite is a single-writer engine, and this also
	// serializes request-id assignment under concurrent inserts.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := applyPragmas(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	return &SQLiteRepo{db: db}, nil
}

// applyPragmas configures the SQLite connection for durability and concurrency.
func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying database resources.
func (r *SQLiteRepo) Close() error {
	return r.db.Close()
}

// UpsertUser inserts or fully overwrites a user row keyed by Telegram id.
func (r *SQLiteRepo) UpsertUser(ctx context.Context, u *domain.User) error {
	if u == nil {
		return errors.New("nil user")
	}

	registered := u.RegisteredAt
	if registered.IsZero() {
		registered = time.Now()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (
			tg_id, passport, birthdate, full_name, registered_at,
			is_manager, supervisor_tg_id
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tg_id) DO UPDATE SET
			passport         = excluded.passport,
			birthdate        = excluded.birthdate,
			full_name        = excluded.full_name,
			registered_at    = excluded.registered_at,
			is_manager       = excluded.is_manager,
			supervisor_tg_id = excluded.supervisor_tg_id`,
		u.ID, u.Passport, u.Birthdate, u.FullName,
		registered.Format(stampLayout),
		boolToInt(u.IsApprover), toNullString(u.SupervisorID),
	)
	return err
}

// GetUser returns a user by Telegram id, or ErrNotFound.
func (r *SQLiteRepo) GetUser(ctx context.Context, id string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT tg_id, passport, birthdate, full_name, registered_at,
		       is_manager, supervisor_tg_id
		FROM users
		WHERE tg_id = ?`,
		id,
	)

	var (
		u          domain.User
		registered sql.NullString
		managerInt int
		supervisor sql.NullString
	)
	if err := row.Scan(
		&u.ID, &u.Passport, &u.Birthdate, &u.FullName, &registered,
		&managerInt, &supervisor,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	u.IsApprover = managerInt != 0
	u.SupervisorID = fromNullString(supervisor)
	if registered.Valid {
		if t, err := time.Parse(stampLayout, registered.String); err == nil {
			u.RegisteredAt = t
		}
	}
	return &u, nil
}

// DeleteUser removes a user row. Deleting an absent user is not an error.
func (r *SQLiteRepo) DeleteUser(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE tg_id = ?`, id)
	return err
}

// SetSupervisor updates only the supervisor reference of a user.
func (r *SQLiteRepo) SetSupervisor(ctx context.Context, id string, supervisorID *string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET supervisor_tg_id = ?
		WHERE tg_id = ?`,
		toNullString(supervisorID), id,
	)
	return err
}

// CreateTardy inserts a new pending request and returns its assigned id.
// Ids are monotonically increasing (AUTOINCREMENT over a single connection).
func (r *SQLiteRepo) CreateTardy(ctx context.Context, t *domain.TardyRequest) (int64, error) {
	if t == nil {
		return 0, errors.New("nil request")
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO tardy_requests (
			employee_tg_id, manager_tg_id, reason,
			start_time, end_time, submitted_at, status
		) VALUES (?, ?, ?, ?, ?, ?, 'pending')`,
		t.EmployeeID, t.ApproverID, t.Reason,
		t.StartTime, t.EndTime, t.SubmittedAt,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetTardy returns a request by id, or ErrNotFound.
func (r *SQLiteRepo) GetTardy(ctx context.Context, id int64) (*domain.TardyRequest, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, employee_tg_id, manager_tg_id, reason,
		       start_time, end_time, submitted_at, status
		FROM tardy_requests
		WHERE id = ?`,
		id,
	)
	t, err := scanTardy(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return t, nil
}

// ListPendingForApprover returns pending requests routed to the given
// approver, most recently submitted first.
func (r *SQLiteRepo) ListPendingForApprover(ctx context.Context, approverID string) ([]domain.TardyRequest, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, employee_tg_id, manager_tg_id, reason,
		       start_time, end_time, submitted_at, status
		FROM tardy_requests
		WHERE manager_tg_id = ? AND status = 'pending'
		ORDER BY submitted_at DESC`,
		approverID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.TardyRequest
	for rows.Next() {
		t, err := scanTardy(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// SetTardyStatus writes the request's final status.
func (r *SQLiteRepo) SetTardyStatus(ctx context.Context, id int64, status domain.Status) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE tardy_requests
		SET status = ?
		WHERE id = ?`,
		string(status), id,
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTardy(row rowScanner) (*domain.TardyRequest, error) {
	var (
		t        domain.TardyRequest
		approver sql.NullString
		start    sql.NullString
		end      sql.NullString
		status   string
	)
	if err := row.Scan(
		&t.ID, &t.EmployeeID, &approver, &t.Reason,
		&start, &end, &t.SubmittedAt, &status,
	); err != nil {
		return nil, err
	}
	t.ApproverID = approver.String
	t.StartTime = start.String
	t.EndTime = end.String
	t.Status = domain.Status(status)
	return &t, nil
}

// boolToInt converts a boolean to 1/0 for SQLite.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
