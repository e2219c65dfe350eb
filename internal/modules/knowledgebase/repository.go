package knowledgebase

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/layerwise/internal/database"
	"github.com/aristath/layerwise/internal/domain"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// Repository stores knowledge-base records in sqlite. Each record is kept as
// a msgpack payload next to the columns used for filtering.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a knowledge-base repository on an already migrated database.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "knowledgebase").Logger(),
	}
}

// Put inserts or replaces one record.
func (r *Repository) Put(record Record) error {
	return r.PutAll([]Record{record})
}

// PutAll upserts records in a single transaction.
func (r *Repository) PutAll(records []Record) error {
	now := time.Now().UTC()
	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO kb_records (isin, status, layer, payload, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(isin) DO UPDATE SET
				status = excluded.status,
				layer = excluded.layer,
				payload = excluded.payload,
				updated_at = excluded.updated_at
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare record upsert: %w", err)
		}
		defer stmt.Close()

		for _, record := range records {
			record.ISIN = domain.NormalizeISIN(record.ISIN)
			if record.ISIN == "" {
				return fmt.Errorf("record without ISIN")
			}
			record.Status = Status(strings.ToUpper(strings.TrimSpace(string(record.Status))))
			if record.UpdatedAt.IsZero() {
				record.UpdatedAt = now
			}
			payload, err := msgpack.Marshal(&record)
			if err != nil {
				return fmt.Errorf("failed to encode record %s: %w", record.ISIN, err)
			}
			if _, err := stmt.Exec(record.ISIN, string(record.Status), record.Layer, payload, record.UpdatedAt.Unix()); err != nil {
				return fmt.Errorf("failed to store record %s: %w", record.ISIN, err)
			}
		}
		return nil
	})
}

// Get returns the record of one ISIN, or nil when none is stored.
func (r *Repository) Get(isin string) (*Record, error) {
	var payload []byte
	err := r.db.QueryRow("SELECT payload FROM kb_records WHERE isin = ?", domain.NormalizeISIN(isin)).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s: %w", isin, err)
	}
	record, err := decodeRecord(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode record %s: %w", isin, err)
	}
	return &record, nil
}

// Fetch returns the stored records for isins in one query. It implements Fetcher.
func (r *Repository) Fetch(isins []string) (map[string]Record, error) {
	unique := UniqueISINs(isins)
	result := make(map[string]Record, len(unique))
	if len(unique) == 0 {
		return result, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(unique)), ",")
	args := make([]interface{}, len(unique))
	for i, isin := range unique {
		args[i] = isin
	}

	rows, err := r.db.Query("SELECT isin, payload FROM kb_records WHERE isin IN ("+placeholders+")", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var isin string
		var payload []byte
		if err := rows.Scan(&isin, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		record, err := decodeRecord(payload)
		if err != nil {
			// An undecodable payload is treated like a missing record so gating withholds it
			r.log.Warn().Err(err).Str("isin", isin).Msg("Skipping undecodable knowledge base record")
			continue
		}
		result[isin] = record
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}
	return result, nil
}

// Catalog returns every complete record ordered by ISIN. It implements Catalog.
func (r *Repository) Catalog() ([]Record, error) {
	records, err := r.List("")
	if err != nil {
		return nil, err
	}
	complete := records[:0]
	for _, record := range records {
		if record.IsComplete() {
			complete = append(complete, record)
		}
	}
	return complete, nil
}

// List returns all records ordered by ISIN, optionally filtered by status.
func (r *Repository) List(status Status) ([]Record, error) {
	query := "SELECT isin, payload FROM kb_records"
	var args []interface{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, strings.ToUpper(string(status)))
	}
	query += " ORDER BY isin"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		var isin string
		var payload []byte
		if err := rows.Scan(&isin, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		record, err := decodeRecord(payload)
		if err != nil {
			r.log.Warn().Err(err).Str("isin", isin).Msg("Skipping undecodable knowledge base record")
			continue
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}
	return records, nil
}

// Delete removes the record of one ISIN. Deleting a missing record is not an error.
func (r *Repository) Delete(isin string) error {
	if _, err := r.db.Exec("DELETE FROM kb_records WHERE isin = ?", domain.NormalizeISIN(isin)); err != nil {
		return fmt.Errorf("failed to delete record %s: %w", isin, err)
	}
	return nil
}

// CountByStatus returns the number of records per status.
func (r *Repository) CountByStatus() (map[Status]int, error) {
	rows, err := r.db.Query("SELECT status, COUNT(*) FROM kb_records GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan record count: %w", err)
		}
		counts[Status(status)] = count
	}
	return counts, rows.Err()
}

// Verify decodes every stored payload and returns the ISINs that fail to decode
// or whose payload disagrees with the indexed columns.
func (r *Repository) Verify() ([]string, error) {
	rows, err := r.db.Query("SELECT isin, status, layer, payload FROM kb_records ORDER BY isin")
	if err != nil {
		return nil, fmt.Errorf("failed to scan records: %w", err)
	}
	defer rows.Close()

	var broken []string
	for rows.Next() {
		var isin, status string
		var layer int
		var payload []byte
		if err := rows.Scan(&isin, &status, &layer, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		record, err := decodeRecord(payload)
		if err != nil || record.ISIN != isin || string(record.Status) != status || record.Layer != layer {
			broken = append(broken, isin)
		}
	}
	return broken, rows.Err()
}

func decodeRecord(payload []byte) (Record, error) {
	var record Record
	if err := msgpack.Unmarshal(payload, &record); err != nil {
		return Record{}, err
	}
	return record, nil
}
