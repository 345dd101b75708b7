package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/refdesk/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS reference_sets (
		id TEXT PRIMARY KEY,
		domain TEXT NOT NULL,
		description TEXT,
		file_count INTEGER NOT NULL DEFAULT 0 CHECK (file_count >= 0),
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS inquiries (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS inquiry_reference_sets (
		inquiry_id TEXT NOT NULL,
		reference_set_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (inquiry_id, reference_set_id),
		FOREIGN KEY (inquiry_id) REFERENCES inquiries(id) ON DELETE CASCADE,
		FOREIGN KEY (reference_set_id) REFERENCES reference_sets(id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		inquiry_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		citations TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (inquiry_id) REFERENCES inquiries(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_messages_inquiry ON messages(inquiry_id, created_at);
	`
	_, err := db.Exec(schema)
	return err
}

// CreateReferenceSet inserts a reference set. ID and CreatedAt are set when empty.
func (s *SQLiteStorage) CreateReferenceSet(ctx context.Context, set *models.ReferenceSet) error {
	if set.ID == "" {
		set.ID = uuid.New().String()
	}
	set.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reference_sets (id, domain, description, file_count, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		set.ID, set.Domain, set.Description, set.FileCount, set.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create reference set: %w", err)
	}
	return nil
}

// GetReferenceSet returns a reference set by ID.
func (s *SQLiteStorage) GetReferenceSet(ctx context.Context, id string) (*models.ReferenceSet, error) {
	var set models.ReferenceSet
	var description sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, domain, description, file_count, created_at
		 FROM reference_sets WHERE id = ?`, id,
	).Scan(&set.ID, &set.Domain, &description, &set.FileCount, &set.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reference set %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	set.Description = description.String
	return &set, nil
}

// ListReferenceSets returns all reference sets, oldest first.
func (s *SQLiteStorage) ListReferenceSets(ctx context.Context) ([]*models.ReferenceSet, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, domain, description, file_count, created_at
		 FROM reference_sets ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sets := make([]*models.ReferenceSet, 0)
	for rows.Next() {
		var set models.ReferenceSet
		var description sql.NullString
		if err := rows.Scan(&set.ID, &set.Domain, &description, &set.FileCount, &set.CreatedAt); err != nil {
			return nil, err
		}
		set.Description = description.String
		sets = append(sets, &set)
	}
	return sets, rows.Err()
}

// IncrementFileCount adds one to the file count in a single UPDATE, so concurrent
// ingestions never lose an increment.
func (s *SQLiteStorage) IncrementFileCount(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reference_sets SET file_count = file_count + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to increment file count: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("reference set %s: %w", id, ErrNotFound)
	}
	return nil
}

// CreateInquiry inserts an inquiry and its reference set links in one transaction.
// Every referenced set must exist; otherwise the error wraps models.ErrInvalidInput.
func (s *SQLiteStorage) CreateInquiry(ctx context.Context, inq *models.Inquiry) error {
	if len(inq.ReferenceSetIDs) == 0 {
		return fmt.Errorf("%w: at least one reference set is required", models.ErrInvalidInput)
	}
	if inq.ID == "" {
		inq.ID = uuid.New().String()
	}
	inq.CreatedAt = time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, setID := range inq.ReferenceSetIDs {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM reference_sets WHERE id = ?`, setID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: unknown reference set %q", models.ErrInvalidInput, setID)
		}
		if err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO inquiries (id, title, description, created_at) VALUES (?, ?, ?, ?)`,
		inq.ID, inq.Title, inq.Description, inq.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to create inquiry: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO inquiry_reference_sets (inquiry_id, reference_set_id, position) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, setID := range inq.ReferenceSetIDs {
		if _, err := stmt.ExecContext(ctx, inq.ID, setID, i); err != nil {
			return fmt.Errorf("failed to link reference set: %w", err)
		}
	}
	if inq.Messages == nil {
		inq.Messages = make([]*models.Message, 0)
	}
	return tx.Commit()
}

// GetInquiry returns an inquiry with its reference set IDs (in creation order) and messages.
func (s *SQLiteStorage) GetInquiry(ctx context.Context, id string) (*models.Inquiry, error) {
	var inq models.Inquiry
	var description sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, description, created_at FROM inquiries WHERE id = ?`, id,
	).Scan(&inq.ID, &inq.Title, &description, &inq.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("inquiry %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	inq.Description = description.String
	if inq.ReferenceSetIDs, err = s.inquirySets(ctx, id); err != nil {
		return nil, err
	}
	if inq.Messages, err = s.messages(ctx, id); err != nil {
		return nil, err
	}
	return &inq, nil
}

// ListInquiries returns all inquiries, newest first, without their messages.
func (s *SQLiteStorage) ListInquiries(ctx context.Context) ([]*models.Inquiry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, description, created_at FROM inquiries ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	inquiries := make([]*models.Inquiry, 0)
	for rows.Next() {
		var inq models.Inquiry
		var description sql.NullString
		if err := rows.Scan(&inq.ID, &inq.Title, &description, &inq.CreatedAt); err != nil {
			_ = rows.Close()
			return nil, err
		}
		inq.Description = description.String
		inquiries = append(inquiries, &inq)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	for _, inq := range inquiries {
		if inq.ReferenceSetIDs, err = s.inquirySets(ctx, inq.ID); err != nil {
			return nil, err
		}
		inq.Messages = make([]*models.Message, 0)
	}
	return inquiries, nil
}

// AddMessage appends a message to an inquiry. ID and CreatedAt are set when empty.
func (s *SQLiteStorage) AddMessage(ctx context.Context, inquiryID string, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	citations, err := json.Marshal(msg.Citations)
	if err != nil {
		return fmt.Errorf("failed to marshal citations: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, inquiry_id, role, content, citations, created_at)
		 SELECT ?, id, ?, ?, ?, ? FROM inquiries WHERE id = ?`,
		msg.ID, msg.Role, msg.Content, string(citations), msg.CreatedAt, inquiryID,
	)
	if err != nil {
		return fmt.Errorf("failed to add message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("inquiry %s: %w", inquiryID, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStorage) inquirySets(ctx context.Context, inquiryID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT reference_set_id FROM inquiry_reference_sets WHERE inquiry_id = ? ORDER BY position`,
		inquiryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStorage) messages(ctx context.Context, inquiryID string) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, citations, created_at
		 FROM messages WHERE inquiry_id = ? ORDER BY created_at, rowid`, inquiryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	msgs := make([]*models.Message, 0)
	for rows.Next() {
		var msg models.Message
		var citations sql.NullString
		if err := rows.Scan(&msg.ID, &msg.Role, &msg.Content, &citations, &msg.CreatedAt); err != nil {
			return nil, err
		}
		if citations.Valid && citations.String != "" {
			_ = json.Unmarshal([]byte(citations.String), &msg.Citations)
		}
		msgs = append(msgs, &msg)
	}
	return msgs, rows.Err()
}

// CountReferenceSets returns the number of reference sets.
func (s *SQLiteStorage) CountReferenceSets(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reference_sets`).Scan(&n)
	return n, err
}

// CountInquiries returns the number of inquiries.
func (s *SQLiteStorage) CountInquiries(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM inquiries`).Scan(&n)
	return n, err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
