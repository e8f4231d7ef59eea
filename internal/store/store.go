// Package store persists analysed business requirements in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/joelkehle/casegen/internal/recovery"
	"github.com/joelkehle/casegen/internal/schema"
)

var (
	ErrNotFound = errors.New("requirement not found")
	ErrExists   = errors.New("requirement already exists")
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS business_requirement (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	requirement_id      TEXT NOT NULL UNIQUE,
	requirement_name    TEXT NOT NULL DEFAULT '',
	requirement_type    TEXT NOT NULL DEFAULT '',
	parent_requirement  TEXT NOT NULL DEFAULT '',
	module              TEXT NOT NULL DEFAULT '',
	requirement_level   TEXT NOT NULL DEFAULT '',
	reviewer            TEXT NOT NULL DEFAULT '',
	estimated_hours     INTEGER NOT NULL DEFAULT 0,
	description         TEXT NOT NULL DEFAULT '',
	acceptance_criteria TEXT NOT NULL DEFAULT '',
	created_at          TEXT NOT NULL,
	updated_at          TEXT NOT NULL
);
`

// Requirement is one row of business_requirement.
type Requirement struct {
	ID                 int64  `db:"id" json:"-"`
	RequirementID      string `db:"requirement_id" json:"requirement_id"`
	RequirementName    string `db:"requirement_name" json:"requirement_name"`
	RequirementType    string `db:"requirement_type" json:"requirement_type"`
	ParentRequirement  string `db:"parent_requirement" json:"parent_requirement,omitempty"`
	Module             string `db:"module" json:"module"`
	RequirementLevel   string `db:"requirement_level" json:"requirement_level"`
	Reviewer           string `db:"reviewer" json:"reviewer"`
	EstimatedHours     int64  `db:"estimated_hours" json:"estimated_hours"`
	Description        string `db:"description" json:"description"`
	AcceptanceCriteria string `db:"acceptance_criteria" json:"acceptance_criteria"`
	CreatedAt          string `db:"created_at" json:"created_at"`
	UpdatedAt          string `db:"updated_at" json:"updated_at"`
}

// FromRecord maps a recovered requirement record onto a row. A sentinel
// or non-numeric estimate becomes zero.
func FromRecord(r schema.Record) Requirement {
	hours, _ := strconv.ParseInt(r["estimated_hours"], 10, 64)
	parent := r["parent_requirement"]
	if parent == schema.Sentinel {
		parent = ""
	}
	return Requirement{
		RequirementID:      r["requirement_id"],
		RequirementName:    r["requirement_name"],
		RequirementType:    r["requirement_type"],
		ParentRequirement:  parent,
		Module:             r["module"],
		RequirementLevel:   r["requirement_level"],
		Reviewer:           r["reviewer"],
		EstimatedHours:     hours,
		Description:        r["description"],
		AcceptanceCriteria: r["acceptance_criteria"],
	}
}

// Record is the canonical record form of the row.
func (q Requirement) Record() schema.Record {
	r := schema.Record{
		"requirement_id":      q.RequirementID,
		"requirement_name":    q.RequirementName,
		"requirement_type":    q.RequirementType,
		"module":              q.Module,
		"requirement_level":   q.RequirementLevel,
		"reviewer":            q.Reviewer,
		"estimated_hours":     strconv.FormatInt(q.EstimatedHours, 10),
		"description":         q.Description,
		"acceptance_criteria": q.AcceptanceCriteria,
	}
	if q.ParentRequirement != "" {
		r["parent_requirement"] = q.ParentRequirement
	}
	return r
}

// Records converts rows to canonical records.
func Records(rows []Requirement) []schema.Record {
	out := make([]schema.Record, 0, len(rows))
	for _, q := range rows {
		out = append(out, q.Record())
	}
	return out
}

type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

// Open creates the database file and table when missing.
func Open(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

func validate(q Requirement) error {
	if strings.TrimSpace(q.RequirementID) == "" || q.RequirementID == schema.Sentinel {
		return errors.New("requirement_id is required")
	}
	return nil
}

const insertSQL = `
INSERT INTO business_requirement (
	requirement_id, requirement_name, requirement_type, parent_requirement,
	module, requirement_level, reviewer, estimated_hours, description,
	acceptance_criteria, created_at, updated_at
) VALUES (
	:requirement_id, :requirement_name, :requirement_type, :parent_requirement,
	:module, :requirement_level, :reviewer, :estimated_hours, :description,
	:acceptance_criteria, :created_at, :updated_at
)`

func (s *Store) Create(ctx context.Context, q Requirement) (Requirement, error) {
	if err := validate(q); err != nil {
		return Requirement{}, err
	}
	q.CreatedAt = s.timestamp()
	q.UpdatedAt = q.CreatedAt
	res, err := s.db.NamedExecContext(ctx, insertSQL, q)
	if err != nil {
		if isUniqueViolation(err) {
			return Requirement{}, fmt.Errorf("%s: %w", q.RequirementID, ErrExists)
		}
		return Requirement{}, fmt.Errorf("insert requirement: %w", err)
	}
	q.ID, _ = res.LastInsertId()
	return q, nil
}

func (s *Store) ReadAll(ctx context.Context) ([]Requirement, error) {
	var out []Requirement
	if err := s.db.SelectContext(ctx, &out, "SELECT * FROM business_requirement ORDER BY id"); err != nil {
		return nil, fmt.Errorf("list requirements: %w", err)
	}
	return out, nil
}

func (s *Store) ReadByID(ctx context.Context, requirementID string) (Requirement, error) {
	var q Requirement
	err := s.db.GetContext(ctx, &q, "SELECT * FROM business_requirement WHERE requirement_id = ?", requirementID)
	if errors.Is(err, sql.ErrNoRows) {
		return Requirement{}, fmt.Errorf("%s: %w", requirementID, ErrNotFound)
	}
	if err != nil {
		return Requirement{}, fmt.Errorf("read requirement: %w", err)
	}
	return q, nil
}

// Update replaces every column except the identifier and creation time.
func (s *Store) Update(ctx context.Context, q Requirement) (Requirement, error) {
	if err := validate(q); err != nil {
		return Requirement{}, err
	}
	q.UpdatedAt = s.timestamp()
	res, err := s.db.NamedExecContext(ctx, `
UPDATE business_requirement SET
	requirement_name = :requirement_name,
	requirement_type = :requirement_type,
	parent_requirement = :parent_requirement,
	module = :module,
	requirement_level = :requirement_level,
	reviewer = :reviewer,
	estimated_hours = :estimated_hours,
	description = :description,
	acceptance_criteria = :acceptance_criteria,
	updated_at = :updated_at
WHERE requirement_id = :requirement_id`, q)
	if err != nil {
		return Requirement{}, fmt.Errorf("update requirement: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Requirement{}, fmt.Errorf("%s: %w", q.RequirementID, ErrNotFound)
	}
	return s.ReadByID(ctx, q.RequirementID)
}

func (s *Store) Delete(ctx context.Context, requirementID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM business_requirement WHERE requirement_id = ?", requirementID)
	if err != nil {
		return fmt.Errorf("delete requirement: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", requirementID, ErrNotFound)
	}
	return nil
}

const upsertSQL = insertSQL + `
ON CONFLICT(requirement_id) DO UPDATE SET
	requirement_name = excluded.requirement_name,
	requirement_type = excluded.requirement_type,
	parent_requirement = excluded.parent_requirement,
	module = excluded.module,
	requirement_level = excluded.requirement_level,
	reviewer = excluded.reviewer,
	estimated_hours = excluded.estimated_hours,
	description = excluded.description,
	acceptance_criteria = excluded.acceptance_criteria,
	updated_at = excluded.updated_at`

// SaveCollection upserts every requirement of c in one transaction and
// returns the number of rows written.
func (s *Store) SaveCollection(ctx context.Context, c recovery.Collection) (int, error) {
	if c.Schema != schema.Requirement {
		return 0, fmt.Errorf("save collection: expected %s records", schema.Requirement.Name)
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	ts := s.timestamp()
	n := 0
	for _, r := range c.Records {
		q := FromRecord(r)
		if err := validate(q); err != nil {
			continue
		}
		q.CreatedAt, q.UpdatedAt = ts, ts
		if _, err := tx.NamedExecContext(ctx, upsertSQL, q); err != nil {
			return 0, fmt.Errorf("upsert %s: %w", q.RequirementID, err)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
