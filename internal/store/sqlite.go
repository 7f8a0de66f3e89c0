package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hahimniane/alluvial-academy-sub002/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// indexedColumns maps document fields to extracted table columns so common
// filters run as SQL instead of full-collection scans.
var indexedColumns = map[string]string{
	"teacher_id":              "teacher_id",
	"template_id":             "template_id",
	"shift_id":                "occurrence_id",
	"status":                  "status",
	"shift_start":             "start_at",
	"shift_end":               "end_at",
	"active":                  "active",
	"generated_from_template": "generated",
}

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Get(ctx context.Context, collection, id string) (Doc, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM documents WHERE collection = ? AND id = ?`,
		collection, id,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return decodeDoc(id, raw)
}

func (s *sqliteStore) Query(ctx context.Context, collection string, filters ...Filter) ([]Doc, error) {
	where := []string{"collection = ?"}
	args := []any{collection}
	var rest []Filter

	for _, f := range filters {
		col, ok := indexedColumns[f.Field]
		if !ok {
			rest = append(rest, f)
			continue
		}
		if f.Op == OpEq && f.Value == nil {
			where = append(where, col+" IS NULL")
			continue
		}
		where = append(where, fmt.Sprintf("%s %s ?", col, f.Op))
		args = append(args, indexValue(f.Value))
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, doc FROM documents WHERE `+strings.Join(where, " AND ")+` ORDER BY id`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Doc
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		doc, err := decodeDoc(id, raw)
		if err != nil {
			return nil, err
		}
		keep := true
		for _, f := range rest {
			if !matches(doc, f) {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, doc)
		}
	}
	return out, rows.Err()
}

func (s *sqliteStore) BatchWrite(ctx context.Context, ops []Op) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, op := range ops {
		if op.Collection == "" || op.ID == "" {
			return errors.New("batch op missing collection or id")
		}
		if op.Delete {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM documents WHERE collection = ? AND id = ?`,
				op.Collection, op.ID,
			); err != nil {
				return err
			}
			continue
		}
		doc := cloneDoc(op.Doc)
		doc["id"] = op.ID
		raw, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("encode %s/%s: %w", op.Collection, op.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO documents
			   (collection, id, doc, teacher_id, template_id, occurrence_id, status, start_at, end_at, active, generated)
			 VALUES (?,?,?,?,?,?,?,?,?,?,?)
			 ON CONFLICT(collection, id) DO UPDATE SET
			   doc=excluded.doc, teacher_id=excluded.teacher_id, template_id=excluded.template_id,
			   occurrence_id=excluded.occurrence_id, status=excluded.status, start_at=excluded.start_at,
			   end_at=excluded.end_at, active=excluded.active, generated=excluded.generated`,
			op.Collection, op.ID, string(raw),
			indexValue(doc["teacher_id"]), indexValue(doc["template_id"]), indexValue(doc["shift_id"]),
			indexValue(doc["status"]), indexValue(doc["shift_start"]), indexValue(doc["shift_end"]),
			indexValue(doc["active"]), indexValue(doc["generated_from_template"]),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// indexValue maps a document value onto its SQL column representation.
// Instants become their fixed-width encoded form so string comparison in
// SQL matches chronological order.
func indexValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case bool:
		if x {
			return 1
		}
		return 0
	case time.Time:
		return EncodeInstant(&x)
	case *time.Time:
		return EncodeInstant(x)
	default:
		return v
	}
}

func decodeDoc(id, raw string) (Doc, error) {
	var doc Doc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", id, err)
	}
	doc["id"] = id
	return doc, nil
}
