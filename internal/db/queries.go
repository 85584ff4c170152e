package db

import (
	"context"
	"database/sql"
	"strings"

	"github.com/hpungsan/tether/internal/errors"
	"github.com/hpungsan/tether/internal/message"
)

// Querier is satisfied by both *sql.DB and *sql.Tx, so every query below can
// run standalone or inside a caller's transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ErrUniqueConstraint is returned when an insert violates a UNIQUE constraint.
var ErrUniqueConstraint = &errors.TetherError{
	Code:    "UNIQUE_CONSTRAINT",
	Status:  409,
	Message: "unique constraint violation",
}

const communicationColumns = `
	id, sender, recipient, raw_content, initiator_id, exitor_id,
	is_condensed, condensed_summary, created_at`

// InsertCommunication stores a new communication row.
func InsertCommunication(ctx context.Context, q Querier, c *message.Communication) error {
	query := `
		INSERT INTO communications (` + communicationColumns + `)
		VALUES (?, ?, ?, ?, ?, NULL, 0, NULL, ?)
	`

	_, err := q.ExecContext(ctx, query,
		c.ID, c.Sender, c.Recipient, c.RawContent,
		toNullString(c.InitiatorID), c.CreatedAt,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUniqueConstraint
		}
		return errors.NewPersistence("insert communication", err)
	}

	return nil
}

// BackfillExitor points predecessorID forward at successorID.
// Only succeeds while the predecessor has no successor yet; returns the
// number of rows updated (0 or 1).
func BackfillExitor(ctx context.Context, q Querier, predecessorID, successorID string) (int64, error) {
	query := `
		UPDATE communications
		SET exitor_id = ?
		WHERE id = ? AND exitor_id IS NULL
	`

	result, err := q.ExecContext(ctx, query, successorID, predecessorID)
	if err != nil {
		return 0, errors.NewPersistence("backfill exitor", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, errors.NewPersistence("backfill exitor", err)
	}
	return rowsAffected, nil
}

// RegisterRoot adds id to the root registry.
func RegisterRoot(ctx context.Context, q Querier, id string, createdAt int64) error {
	_, err := q.ExecContext(ctx, `INSERT INTO roots (id, created_at) VALUES (?, ?)`, id, createdAt)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUniqueConstraint
		}
		return errors.NewPersistence("register root", err)
	}
	return nil
}

// isUniqueConstraintError checks if the error is a SQLite UNIQUE constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	// SQLite returns "UNIQUE constraint failed: ..." for unique violations
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// GetCommunication retrieves a communication by its ULID.
func GetCommunication(ctx context.Context, q Querier, id string) (*message.Communication, error) {
	query := `SELECT ` + communicationColumns + ` FROM communications WHERE id = ?`

	c, err := scanCommunication(q.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound(id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	return c, nil
}

// CommunicationExists reports whether a communication with id is stored.
func CommunicationExists(ctx context.Context, q Querier, id string) (bool, error) {
	var exists int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM communications WHERE id = ? LIMIT 1`, id).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.NewInternal(err)
	}
	return true, nil
}

// ListRoots returns the root registry newest-first.
// Roots registered in the same second are ordered by registration, latest first.
func ListRoots(ctx context.Context, q Querier) ([]message.RootRef, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, created_at FROM roots ORDER BY created_at DESC, seq DESC`)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	roots := make([]message.RootRef, 0)
	for rows.Next() {
		var r message.RootRef
		if err := rows.Scan(&r.ID, &r.CreatedAt); err != nil {
			return nil, errors.NewInternal(err)
		}
		roots = append(roots, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}

	return roots, nil
}

// MarkCondensed flags the given ids as condensed with summary.
// Missing ids are skipped; the returned count is the number of existing rows matched.
// ids must be non-empty and deduplicated by the caller.
func MarkCondensed(ctx context.Context, q Querier, ids []string, summary string) (int64, error) {
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	query := `
		UPDATE communications
		SET is_condensed = 1, condensed_summary = ?
		WHERE id IN (` + placeholders + `)
	`

	args := make([]any, 0, len(ids)+1)
	args = append(args, summary)
	for _, id := range ids {
		args = append(args, id)
	}

	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, errors.NewPersistence("mark condensed", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, errors.NewPersistence("mark condensed", err)
	}
	return rowsAffected, nil
}

// scanCommunication scans a single row into a Communication struct.
func scanCommunication(row *sql.Row) (*message.Communication, error) {
	var (
		c           message.Communication
		initiatorID sql.NullString
		exitorID    sql.NullString
		condensed   int
		summary     sql.NullString
	)

	err := row.Scan(
		&c.ID, &c.Sender, &c.Recipient, &c.RawContent, &initiatorID, &exitorID,
		&condensed, &summary, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.InitiatorID = fromNullString(initiatorID)
	c.ExitorID = fromNullString(exitorID)
	c.IsCondensed = condensed != 0
	c.CondensedSummary = fromNullString(summary)

	return &c, nil
}

// toNullString converts a *string to sql.NullString.
func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// fromNullString converts a sql.NullString to *string.
func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
