package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/atinyakov/credvault/internal/models"
)

// PostgresAuditRepository appends audit entries to PostgreSQL.
type PostgresAuditRepository struct {
	DB *sql.DB
}

// NewPostgresAuditRepository creates a repository over db.
func NewPostgresAuditRepository(db *sql.DB) *PostgresAuditRepository {
	return &PostgresAuditRepository{DB: db}
}

// Append writes one entry. Entries are never updated or deleted.
func (r *PostgresAuditRepository) Append(ctx context.Context, e models.AuditLogEntry) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO audit_logs (id, credential_id, user_id, action, at, ip_address)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, e.ID, e.CredentialID, e.UserID, string(e.Action), e.Timestamp, e.IPAddress)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// ListByCredential returns the entries recorded for credentialID, oldest first.
func (r *PostgresAuditRepository) ListByCredential(ctx context.Context, credentialID string) ([]models.AuditLogEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, credential_id, user_id, action, at, ip_address FROM audit_logs
		WHERE credential_id = $1 ORDER BY at, id
	`, credentialID)
	if err != nil {
		return nil, fmt.Errorf("ListByCredential: %w", err)
	}
	defer rows.Close()

	entries := []models.AuditLogEntry{}
	for rows.Next() {
		var e models.AuditLogEntry
		if err := rows.Scan(&e.ID, &e.CredentialID, &e.UserID, &e.Action, &e.Timestamp, &e.IPAddress); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListByCredential: %w", err)
	}
	return entries, nil
}
