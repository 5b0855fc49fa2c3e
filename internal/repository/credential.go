// Package repository provides PostgreSQL and in-memory persistence for users,
// credentials and audit entries.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/atinyakov/credvault/internal/models"
)

const credentialColumns = `id, owner_id, account_name, account_username,
	password_iv, password_content, password_tag, created_at, updated_at`

// PostgresCredentialRepository stores credentials in PostgreSQL.
type PostgresCredentialRepository struct {
	// DB is the database handle for executing queries and transactions.
	DB *sql.DB
}

// NewPostgresCredentialRepository creates a repository over db.
func NewPostgresCredentialRepository(db *sql.DB) *PostgresCredentialRepository {
	return &PostgresCredentialRepository{DB: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row rowScanner) (models.Credential, error) {
	var c models.Credential
	err := row.Scan(
		&c.ID, &c.OwnerID, &c.AccountName, &c.AccountUsername,
		&c.Password.IV, &c.Password.Content, &c.Password.Tag,
		&c.CreatedAt, &c.UpdatedAt,
	)
	return c, err
}

// Create inserts a new credential.
func (r *PostgresCredentialRepository) Create(ctx context.Context, c models.Credential) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO credentials (`+credentialColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, c.ID, c.OwnerID, c.AccountName, c.AccountUsername,
		c.Password.IV, c.Password.Content, c.Password.Tag, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

// ListByOwner returns the owner's credentials, most recently updated first.
func (r *PostgresCredentialRepository) ListByOwner(ctx context.Context, ownerID string) ([]models.Credential, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+credentialColumns+` FROM credentials
		WHERE owner_id = $1 ORDER BY updated_at DESC, id
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("ListByOwner: %w", err)
	}
	defer rows.Close()

	creds := []models.Credential{}
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		creds = append(creds, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListByOwner: %w", err)
	}
	return creds, nil
}

// GetByID fetches a credential regardless of owner. It returns ErrNotFound
// when the id is unknown.
func (r *PostgresCredentialRepository) GetByID(ctx context.Context, id string) (*models.Credential, error) {
	c, err := scanCredential(r.DB.QueryRowContext(ctx, `
		SELECT `+credentialColumns+` FROM credentials WHERE id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return &c, nil
}

// Mutate locks the row, passes a copy to fn and writes the result back in the
// same transaction. If fn returns an error nothing is written and that error
// is returned unchanged. The id and owner of the record cannot be changed.
func (r *PostgresCredentialRepository) Mutate(ctx context.Context, id string, fn func(*models.Credential) error) (*models.Credential, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	c, err := scanCredential(tx.QueryRowContext(ctx, `
		SELECT `+credentialColumns+` FROM credentials WHERE id = $1 FOR UPDATE
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock credential: %w", err)
	}

	ownerID := c.OwnerID
	if err := fn(&c); err != nil {
		return nil, err
	}
	c.ID, c.OwnerID = id, ownerID

	_, err = tx.ExecContext(ctx, `
		UPDATE credentials SET
			account_name = $2,
			account_username = $3,
			password_iv = $4,
			password_content = $5,
			password_tag = $6,
			updated_at = $7
		WHERE id = $1
	`, c.ID, c.AccountName, c.AccountUsername,
		c.Password.IV, c.Password.Content, c.Password.Tag, c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update credential: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &c, nil
}

// DeleteIf locks the row and deletes it if check returns nil.
func (r *PostgresCredentialRepository) DeleteIf(ctx context.Context, id string, check func(*models.Credential) error) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	c, err := scanCredential(tx.QueryRowContext(ctx, `
		SELECT `+credentialColumns+` FROM credentials WHERE id = $1 FOR UPDATE
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock credential: %w", err)
	}

	if err := check(&c); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM credentials WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
