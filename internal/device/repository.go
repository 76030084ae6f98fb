package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Repository defines the persistence interface for device records.
// The registry funnels all writes through it; a mock implementation backs
// the unit tests.
type Repository interface {
	// GetByID retrieves a device by its unique identifier.
	// Returns ErrNotFound if the device does not exist.
	GetByID(ctx context.Context, id string) (*Record, error)

	// List retrieves all devices ordered by display name.
	List(ctx context.Context) ([]Record, error)

	// Upsert inserts a record or replaces the stored one with the same ID.
	Upsert(ctx context.Context, rec *Record) error

	// UpdateStatus persists a dispatch outcome: merged status snapshot,
	// reachability, and last error summary.
	UpdateStatus(ctx context.Context, id string, status Status, statusAt time.Time, reach Reachability, lastErr string) error

	// UpdateEndpoint persists a discovery refresh: address, protocol
	// version, and reachability. Never touches credentials or kind.
	UpdateEndpoint(ctx context.Context, id, address, protocolVersion string, reach Reachability) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const recordColumns = `id, display_name, address, credential_key, protocol_version,
	kind, reachability, last_status, status_at, last_error, pending_config,
	created_at, updated_at`

// GetByID retrieves a device by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM devices WHERE id = ?`

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return rec, nil
}

// List retrieves all devices.
func (r *SQLiteRepository) List(ctx context.Context) ([]Record, error) {
	query := `SELECT ` + recordColumns + ` FROM devices ORDER BY display_name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device row: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// Upsert inserts or replaces a record by ID.
func (r *SQLiteRepository) Upsert(ctx context.Context, rec *Record) error {
	statusJSON, err := json.Marshal(rec.LastStatus)
	if err != nil {
		return fmt.Errorf("marshalling status: %w", err)
	}

	query := `
		INSERT INTO devices (` + recordColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			address = excluded.address,
			credential_key = excluded.credential_key,
			protocol_version = excluded.protocol_version,
			reachability = excluded.reachability,
			last_status = excluded.last_status,
			status_at = excluded.status_at,
			last_error = excluded.last_error,
			pending_config = excluded.pending_config,
			updated_at = excluded.updated_at`

	_, err = r.db.ExecContext(ctx, query,
		rec.ID,
		rec.DisplayName,
		rec.Address,
		rec.CredentialKey,
		rec.ProtocolVersion,
		string(rec.Kind),
		string(rec.Reachability),
		string(statusJSON),
		nullableTime(rec.StatusAt),
		nullableString(rec.LastError),
		boolToInt(rec.PendingConfig),
		rec.CreatedAt.Format(time.RFC3339),
		rec.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting device: %w", err)
	}
	return nil
}

// UpdateStatus persists a dispatch outcome for a device.
func (r *SQLiteRepository) UpdateStatus(ctx context.Context, id string, status Status, statusAt time.Time, reach Reachability, lastErr string) error {
	statusJSON, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshalling status: %w", err)
	}

	query := `
		UPDATE devices
		SET last_status = ?, status_at = ?, reachability = ?, last_error = ?, updated_at = ?
		WHERE id = ?`

	res, err := r.db.ExecContext(ctx, query,
		string(statusJSON),
		statusAt.Format(time.RFC3339),
		string(reach),
		nullableString(lastErr),
		time.Now().UTC().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating device status: %w", err)
	}
	return requireRow(res)
}

// UpdateEndpoint persists a discovery refresh for a device.
func (r *SQLiteRepository) UpdateEndpoint(ctx context.Context, id, address, protocolVersion string, reach Reachability) error {
	query := `
		UPDATE devices
		SET address = ?, protocol_version = ?, reachability = ?, updated_at = ?
		WHERE id = ?`

	res, err := r.db.ExecContext(ctx, query,
		address,
		protocolVersion,
		string(reach),
		time.Now().UTC().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating device endpoint: %w", err)
	}
	return requireRow(res)
}

// requireRow converts a zero-row update into ErrNotFound.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// scanner abstracts sql.Row and sql.Rows for scanRecord.
type scanner interface {
	Scan(dest ...any) error
}

// scanRecord reads one device row into a Record.
func scanRecord(s scanner) (*Record, error) {
	var (
		rec           Record
		kind, reach   string
		statusJSON    string
		statusAt      sql.NullString
		lastErr       sql.NullString
		pendingConfig int
		createdAt     string
		updatedAt     string
	)

	err := s.Scan(
		&rec.ID,
		&rec.DisplayName,
		&rec.Address,
		&rec.CredentialKey,
		&rec.ProtocolVersion,
		&kind,
		&reach,
		&statusJSON,
		&statusAt,
		&lastErr,
		&pendingConfig,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Kind = Kind(kind)
	rec.Reachability = Reachability(reach)
	rec.PendingConfig = pendingConfig != 0
	rec.LastError = lastErr.String

	if statusJSON != "" {
		if err := json.Unmarshal([]byte(statusJSON), &rec.LastStatus); err != nil {
			return nil, fmt.Errorf("unmarshalling status: %w", err)
		}
	}
	if statusAt.Valid {
		at, err := time.Parse(time.RFC3339, statusAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing status_at: %w", err)
		}
		rec.StatusAt = &at
	}
	if rec.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &rec, nil
}

// nullableString converts an empty string to NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullableTime converts a nil time pointer to NULL.
func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}

// boolToInt converts a bool to SQLite's integer representation.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
