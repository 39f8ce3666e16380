package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Schema creates the check-in table if it does not exist.
const Schema = `CREATE TABLE IF NOT EXISTS facing_members (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	help_topic TEXT,
	sub_issue TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	status TEXT,
	member_number TEXT,
	original_member_number TEXT,
	member_number_source TEXT
)`

// DBTX is the subset of database/sql used by the store. Both *sql.DB and
// *sql.Tx satisfy it.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	db DBTX
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(db DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

// Open connects to dsn with the pgx driver and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	slog.Info("database connection established")
	return db, nil
}

// Migrate applies Schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

const entryColumns = `id, name, help_topic, sub_issue, created_at, updated_at, status, member_number, original_member_number, member_number_source`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*Entry, error) {
	var e Entry
	var helpTopic, subIssue, status, number, originalNumber, numberSource sql.NullString
	err := row.Scan(&e.ID, &e.Name, &helpTopic, &subIssue, &e.CreatedAt, &e.UpdatedAt,
		&status, &number, &originalNumber, &numberSource)
	if err != nil {
		return nil, err
	}
	e.HelpTopic = helpTopic.String
	e.SubIssue = subIssue.String
	e.Status = status.String
	if e.Status == "" {
		e.Status = StatusWaiting
	}
	e.MemberNumber = number.String
	e.OriginalMemberNumber = originalNumber.String
	e.MemberNumberSource = numberSource.String
	return &e, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (s *PostgresStore) Add(ctx context.Context, entry Entry) (*Entry, error) {
	query :=
		`INSERT INTO facing_members (name, help_topic, sub_issue, status, member_number)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING ` + entryColumns

	row := s.db.QueryRowContext(ctx, query,
		entry.Name, nullString(entry.HelpTopic), nullString(entry.SubIssue), StatusWaiting, nullString(entry.MemberNumber))
	added, err := scanEntry(row)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return added, nil
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return entries, nil
}

func (s *PostgresStore) Waiting(ctx context.Context) ([]Entry, error) {
	return s.list(ctx,
		`SELECT `+entryColumns+` FROM facing_members
		 WHERE UPPER(status) = 'WAITING' OR status IS NULL
		 ORDER BY created_at ASC`)
}

func (s *PostgresStore) Handled(ctx context.Context) ([]Entry, error) {
	return s.list(ctx,
		`SELECT `+entryColumns+` FROM facing_members
		 WHERE UPPER(status) = UPPER($1)
		 ORDER BY created_at DESC`, StatusHandled)
}

func (s *PostgresStore) WaitingCount(ctx context.Context) (int, error) {
	query :=
		`SELECT COUNT(*) FROM facing_members
		 WHERE UPPER(status) = 'WAITING' OR status IS NULL`

	var n int
	if err := s.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) Get(ctx context.Context, id int64) (*Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM facing_members WHERE id = $1`

	e, err := scanEntry(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) exec(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetMemberNumber(ctx context.Context, id int64, number, source string) error {
	query :=
		`UPDATE facing_members
		 SET original_member_number = CASE WHEN member_number_source IS NULL THEN member_number ELSE original_member_number END,
		     member_number = $2, member_number_source = $3, updated_at = now()
		 WHERE id = $1`

	return s.exec(ctx, query, id, number, source)
}

func (s *PostgresStore) RevertMemberNumber(ctx context.Context, id int64) error {
	query :=
		`UPDATE facing_members
		 SET member_number = CASE WHEN member_number_source IS NULL THEN member_number ELSE original_member_number END,
		     original_member_number = NULL, member_number_source = NULL, updated_at = now()
		 WHERE id = $1`

	return s.exec(ctx, query, id)
}

func (s *PostgresStore) MarkHandled(ctx context.Context, id int64) error {
	query :=
		`UPDATE facing_members
		 SET status = $2, updated_at = now()
		 WHERE id = $1`

	return s.exec(ctx, query, id, StatusHandled)
}
