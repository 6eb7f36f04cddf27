package storage

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/contaluz/internal/models"
	cerr "github.com/hyperjump/contaluz/pkg/errors"
)

// SQLiteStore implements DocumentStore using SQLite. Records are stored as JSON; the indexed
// fields of each record are copied into record_fields for equality lookups.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, cerr.Wrap(err, cerr.CodeStoreDatabaseFailure, "create database directory")
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, cerr.Wrap(err, cerr.CodeStoreDatabaseFailure, "open database")
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, cerr.Wrap(err, cerr.CodeStoreDatabaseFailure, "enable WAL")
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, cerr.Wrap(err, cerr.CodeStoreDatabaseFailure, "initialize schema")
	}
	return &SQLiteStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		content_hash TEXT NOT NULL,
		body TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_records_type ON records(type);
	CREATE INDEX IF NOT EXISTS idx_records_source ON records(source);

	CREATE TABLE IF NOT EXISTS record_fields (
		record_id TEXT NOT NULL,
		type TEXT NOT NULL,
		name TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (record_id, name)
	);

	CREATE INDEX IF NOT EXISTS idx_fields_lookup ON record_fields(type, name, value);
	`
	_, err := db.Exec(schema)
	return err
}

func contentHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func dbError(err error, msg string) error {
	return cerr.Wrap(err, cerr.CodeStoreDatabaseFailure, msg)
}

// Put upserts rec and its indexed fields in one transaction.
func (s *SQLiteStore) Put(ctx context.Context, source string, rec models.Record) (PutResult, error) {
	if rec == nil || rec.RecordID() == "" {
		return 0, cerr.New(cerr.CodeStoreInvalidInput, "record without id")
	}
	if !rec.Type().Valid() {
		return 0, cerr.Errorf(cerr.CodeStoreInvalidInput, "unknown record type %q", rec.Type())
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return 0, cerr.Wrap(err, cerr.CodeStoreInvalidInput, "encode record")
	}
	hash := contentHash(body)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, dbError(err, "begin transaction")
	}
	defer tx.Rollback()

	var existingHash, existingSource string
	err = tx.QueryRowContext(ctx,
		`SELECT content_hash, source FROM records WHERE id = ?`, rec.RecordID(),
	).Scan(&existingHash, &existingSource)
	result := PutUpdated
	switch {
	case err == sql.ErrNoRows:
		result = PutInserted
	case err != nil:
		return 0, dbError(err, "read record")
	case existingHash == hash && existingSource == source:
		return PutUnchanged, nil
	}

	now := time.Now()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO records (id, type, source, content_hash, body, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   type = excluded.type, source = excluded.source, content_hash = excluded.content_hash,
		   body = excluded.body, updated_at = excluded.updated_at`,
		rec.RecordID(), string(rec.Type()), source, hash, string(body), now, now,
	)
	if err != nil {
		return 0, dbError(err, "write record")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM record_fields WHERE record_id = ?`, rec.RecordID()); err != nil {
		return 0, dbError(err, "clear record fields")
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO record_fields (record_id, type, name, value) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return 0, dbError(err, "prepare field insert")
	}
	defer stmt.Close()
	for _, name := range indexedFields[rec.Type()] {
		value, ok := rec.Field(name)
		if !ok || value == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx, rec.RecordID(), string(rec.Type()), name, value); err != nil {
			return 0, dbError(err, "write record field")
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, dbError(err, "commit record")
	}
	return result, nil
}

// Get returns the record with id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (models.Record, bool, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM records WHERE id = ?`, id).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, dbError(err, "read record")
	}
	rec, err := models.DecodeRecord([]byte(body))
	if err != nil {
		return nil, false, dbError(err, "decode record")
	}
	return rec, true, nil
}

// Delete removes the record with id and its fields.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dbError(err, "begin transaction")
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM record_fields WHERE record_id = ?`, id); err != nil {
		return dbError(err, "delete record fields")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id); err != nil {
		return dbError(err, "delete record")
	}
	return dbError(tx.Commit(), "commit delete")
}

func checkIndexed(t models.RecordType, field string) error {
	if !IsIndexed(t, field) {
		return cerr.Errorf(cerr.CodeStoreInvalidInput, "field %q of %q records is not indexed", field, t)
	}
	return nil
}

// FindExact returns the lowest-id record of type t whose field equals value.
func (s *SQLiteStore) FindExact(ctx context.Context, t models.RecordType, field, value string) (models.Record, bool, error) {
	if err := checkIndexed(t, field); err != nil {
		return nil, false, err
	}
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT r.body FROM records r
		 JOIN record_fields f ON f.record_id = r.id
		 WHERE f.type = ? AND f.name = ? AND f.value = ?
		 ORDER BY r.id LIMIT 1`,
		string(t), field, value,
	).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, dbError(err, "exact lookup")
	}
	rec, err := models.DecodeRecord([]byte(body))
	if err != nil {
		return nil, false, dbError(err, "decode record")
	}
	return rec, true, nil
}

// ListByField returns every record of type t whose field equals value.
func (s *SQLiteStore) ListByField(ctx context.Context, t models.RecordType, field, value string) ([]models.Record, error) {
	if err := checkIndexed(t, field); err != nil {
		return nil, err
	}
	return s.query(ctx,
		`SELECT r.body FROM records r
		 JOIN record_fields f ON f.record_id = r.id
		 WHERE f.type = ? AND f.name = ? AND f.value = ?
		 ORDER BY r.id`,
		string(t), field, value)
}

// ListByType returns records of type t with offset and limit, ordered by id.
func (s *SQLiteStore) ListByType(ctx context.Context, t models.RecordType, offset, limit int) ([]models.Record, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.query(ctx,
		`SELECT body FROM records WHERE type = ? ORDER BY id LIMIT ? OFFSET ?`,
		string(t), limit, offset)
}

// All returns every record ordered by id.
func (s *SQLiteStore) All(ctx context.Context) ([]models.Record, error) {
	return s.query(ctx, `SELECT body FROM records ORDER BY id`)
}

func (s *SQLiteStore) query(ctx context.Context, q string, args ...any) ([]models.Record, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, dbError(err, "query records")
	}
	defer rows.Close()

	var out []models.Record
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, dbError(err, "scan record")
		}
		rec, err := models.DecodeRecord([]byte(body))
		if err != nil {
			return nil, dbError(err, "decode record")
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError(err, "iterate records")
	}
	return out, nil
}

// IDsBySource returns the ids of every record ingested from source.
func (s *SQLiteStore) IDsBySource(ctx context.Context, source string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM records WHERE source = ? ORDER BY id`, source)
	if err != nil {
		return nil, dbError(err, "query record ids")
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, dbError(err, "scan record id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError(err, "iterate record ids")
	}
	return ids, nil
}

// DeleteBySource removes every record ingested from source and returns how many were removed.
func (s *SQLiteStore) DeleteBySource(ctx context.Context, source string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, dbError(err, "begin transaction")
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM record_fields WHERE record_id IN (SELECT id FROM records WHERE source = ?)`, source); err != nil {
		return 0, dbError(err, "delete record fields")
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM records WHERE source = ?`, source)
	if err != nil {
		return 0, dbError(err, "delete records")
	}
	n, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, dbError(err, "commit delete")
	}
	return int(n), nil
}

// CountByType returns the number of records per type.
func (s *SQLiteStore) CountByType(ctx context.Context) (map[models.RecordType]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT type, COUNT(*) FROM records GROUP BY type`)
	if err != nil {
		return nil, dbError(err, "count records")
	}
	defer rows.Close()
	counts := make(map[models.RecordType]int64)
	for rows.Next() {
		var t string
		var n int64
		if err := rows.Scan(&t, &n); err != nil {
			return nil, dbError(err, "scan count")
		}
		counts[models.RecordType(t)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, dbError(err, "iterate counts")
	}
	return counts, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
