package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)
)

// Version is tracked in the schema_versions table.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_versions (
    version     INTEGER PRIMARY KEY,
    applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS responses (
    evidence_id TEXT PRIMARY KEY,
    question    TEXT NOT NULL,
    assets      TEXT NOT NULL DEFAULT '[]',
    intents     TEXT NOT NULL DEFAULT '[]',
    role        TEXT NOT NULL DEFAULT '',
    band        TEXT NOT NULL,
    escalation  TEXT NOT NULL,
    answered    BOOLEAN NOT NULL DEFAULT 0,
    body        TEXT NOT NULL,
    created_at  DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_responses_created_at ON responses(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_responses_band ON responses(band);
`,
	},
	// Migration 2: knowledge base mirror
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS kb_artifacts (
    kind            TEXT NOT NULL CHECK(kind IN ('definition', 'playbook', 'threshold', 'template')),
    ref             TEXT NOT NULL,
    summary         TEXT NOT NULL DEFAULT '',
    value           REAL,
    unit            TEXT NOT NULL DEFAULT '',
    safety_relevant BOOLEAN NOT NULL DEFAULT 0,
    body            TEXT NOT NULL DEFAULT '',
    updated_at      DATETIME NOT NULL,
    PRIMARY KEY (kind, ref)
);
`,
	},
}

// sqliteStore is the SQLite-backed implementation of Store.
type sqliteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path and
// runs all pending schema migrations. Pass ":memory:" for an in-memory store.
func NewSQLiteStore(path string) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	if path == ":memory:" {
		// every pooled connection would get its own empty database
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &sqliteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// migrate applies any unapplied migrations in order.
func (s *sqliteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue
		}

		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// ─── Responses ────────────────────────────────────────────────────────────────

func (s *sqliteStore) SaveResponse(ctx context.Context, rec *ResponseRecord) error {
	if rec.EvidenceID == "" {
		return errors.New("save response: empty evidence id")
	}
	assets, err := json.Marshal(nonNil(rec.Assets))
	if err != nil {
		return fmt.Errorf("encode assets: %w", err)
	}
	intents, err := json.Marshal(nonNil(rec.Intents))
	if err != nil {
		return fmt.Errorf("encode intents: %w", err)
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
        INSERT INTO responses(evidence_id, question, assets, intents, role, band, escalation, answered, body, created_at)
        VALUES(?,?,?,?,?,?,?,?,?,?)
    `,
		rec.EvidenceID, rec.Question, string(assets), string(intents), rec.Role,
		rec.Band, rec.Escalation, rec.Answered, rec.Body, createdAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save response %s: %w", rec.EvidenceID, err)
	}
	return nil
}

func (s *sqliteStore) GetResponse(ctx context.Context, evidenceID string) (*ResponseRecord, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT evidence_id, question, assets, intents, role, band, escalation, answered, body, created_at
        FROM responses WHERE evidence_id = ?
    `, evidenceID)

	rec, err := scanResponse(row, true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("response %s: %w", evidenceID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get response %s: %w", evidenceID, err)
	}
	return rec, nil
}

func (s *sqliteStore) ListResponses(ctx context.Context, limit, offset int) ([]*ResponseRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT evidence_id, question, assets, intents, role, band, escalation, answered, '', created_at
        FROM responses
        ORDER BY created_at DESC, evidence_id DESC
        LIMIT ? OFFSET ?
    `, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	defer rows.Close()

	var out []*ResponseRecord
	for rows.Next() {
		rec, err := scanResponse(rows, false)
		if err != nil {
			return nil, fmt.Errorf("scan response: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanResponse(sc scanner, withBody bool) (*ResponseRecord, error) {
	var (
		rec             ResponseRecord
		assets, intents string
		body, createdAt string
	)
	if err := sc.Scan(&rec.EvidenceID, &rec.Question, &assets, &intents, &rec.Role,
		&rec.Band, &rec.Escalation, &rec.Answered, &body, &createdAt); err != nil {
		return nil, err
	}
	rec.CreatedAt, _ = parseTime(createdAt)
	if err := json.Unmarshal([]byte(assets), &rec.Assets); err != nil {
		return nil, fmt.Errorf("decode assets: %w", err)
	}
	if err := json.Unmarshal([]byte(intents), &rec.Intents); err != nil {
		return nil, fmt.Errorf("decode intents: %w", err)
	}
	if withBody {
		rec.Body = body
	}
	return &rec, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// ─── Knowledge base ───────────────────────────────────────────────────────────

func (s *sqliteStore) SaveKBArtifact(ctx context.Context, rec *KBArtifactRecord) error {
	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	var value sql.NullFloat64
	if rec.Value != nil {
		value = sql.NullFloat64{Float64: *rec.Value, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
        INSERT INTO kb_artifacts(kind, ref, summary, value, unit, safety_relevant, body, updated_at)
        VALUES(?,?,?,?,?,?,?,?)
        ON CONFLICT(kind, ref) DO UPDATE SET
            summary         = excluded.summary,
            value           = excluded.value,
            unit            = excluded.unit,
            safety_relevant = excluded.safety_relevant,
            body            = excluded.body,
            updated_at      = excluded.updated_at
    `,
		rec.Kind, rec.Ref, rec.Summary, value, rec.Unit, rec.SafetyRelevant, rec.Body, updatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save kb artifact %s/%s: %w", rec.Kind, rec.Ref, err)
	}
	return nil
}

func (s *sqliteStore) GetKBArtifact(ctx context.Context, kind, ref string) (*KBArtifactRecord, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT kind, ref, summary, value, unit, safety_relevant, body, updated_at
        FROM kb_artifacts WHERE kind = ? AND ref = ?
    `, kind, ref)

	rec, err := scanKBArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get kb artifact %s/%s: %w", kind, ref, err)
	}
	return rec, nil
}

func (s *sqliteStore) ListKBArtifacts(ctx context.Context) ([]*KBArtifactRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT kind, ref, summary, value, unit, safety_relevant, body, updated_at
        FROM kb_artifacts ORDER BY kind, ref
    `)
	if err != nil {
		return nil, fmt.Errorf("list kb artifacts: %w", err)
	}
	defer rows.Close()

	var out []*KBArtifactRecord
	for rows.Next() {
		rec, err := scanKBArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan kb artifact: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanKBArtifact(sc scanner) (*KBArtifactRecord, error) {
	var (
		rec       KBArtifactRecord
		value     sql.NullFloat64
		updatedAt string
	)
	if err := sc.Scan(&rec.Kind, &rec.Ref, &rec.Summary, &value, &rec.Unit,
		&rec.SafetyRelevant, &rec.Body, &updatedAt); err != nil {
		return nil, err
	}
	rec.UpdatedAt, _ = parseTime(updatedAt)
	if value.Valid {
		v := value.Float64
		rec.Value = &v
	}
	return &rec, nil
}

func parseTime(s string) (time.Time, error) {
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05.999999999 -0700 MST",
		"2006-01-02 15:04:05",
	}
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q", s)
}
