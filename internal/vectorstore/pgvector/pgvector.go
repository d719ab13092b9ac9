// Package pgvector stores patient embeddings in a Postgres table with a
// pgvector column and searches it by exact L2 scan.
package pgvector

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	pgv "github.com/pgvector/pgvector-go"

	"glucosense/internal/domain"
)

var tableName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Storage implements vectorstore.Storage on Postgres.
type Storage struct {
	db        *sqlx.DB
	table     string
	dimension int
}

// Connect opens a Postgres connection pool.
func Connect(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, &domain.ExternalServiceError{Service: "postgres", Err: err}
	}
	return db, nil
}

// NewStorage binds a store to table on db.
func NewStorage(db *sqlx.DB, table string) (*Storage, error) {
	if table == "" {
		table = "patient_embeddings"
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Storage{db: db, table: table}, nil
}

// Init creates the extension and table if needed and empties the table.
func (s *Storage) Init(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	s.dimension = dimension
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			row_ref   INTEGER PRIMARY KEY,
			embedding vector(%d) NOT NULL
		)`, s.table, dimension),
		fmt.Sprintf(`TRUNCATE %s`, s.table),
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return &domain.ExternalServiceError{Service: "postgres", Err: err}
		}
	}
	return nil
}

func (s *Storage) Upsert(ctx context.Context, rows []int, vectors [][]float64) error {
	if len(rows) != len(vectors) {
		return errors.New("rows and vectors length mismatch")
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return &domain.ExternalServiceError{Service: "postgres", Err: err}
	}
	defer tx.Rollback() //nolint:errcheck

	query := fmt.Sprintf(`
		INSERT INTO %s (row_ref, embedding) VALUES ($1, $2)
		ON CONFLICT (row_ref) DO UPDATE SET embedding = EXCLUDED.embedding`, s.table)
	for i, r := range rows {
		if len(vectors[i]) != s.dimension {
			return fmt.Errorf("vector %d has dimension %d, want %d", i, len(vectors[i]), s.dimension)
		}
		if _, err := tx.ExecContext(ctx, query, r, toVector(vectors[i])); err != nil {
			return &domain.ExternalServiceError{Service: "postgres", Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &domain.ExternalServiceError{Service: "postgres", Err: err}
	}
	return nil
}

func (s *Storage) Search(ctx context.Context, vector []float64, n int) ([]domain.Neighbor, error) {
	if n <= 0 {
		return nil, nil
	}
	var hits []struct {
		Row      int     `db:"row_ref"`
		Distance float64 `db:"distance"`
	}
	query := fmt.Sprintf(`
		SELECT row_ref, embedding <-> $1 AS distance
		FROM %s
		ORDER BY embedding <-> $1, row_ref
		LIMIT $2`, s.table)
	if err := s.db.SelectContext(ctx, &hits, query, toVector(vector), n); err != nil {
		return nil, &domain.ExternalServiceError{Service: "postgres", Err: err}
	}
	out := make([]domain.Neighbor, len(hits))
	for i, h := range hits {
		out[i] = domain.Neighbor{Row: h.Row, Distance: h.Distance}
	}
	return out, nil
}

// Len counts stored rows; it reports zero when the database is unreachable.
func (s *Storage) Len() int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var n int
	if err := s.db.GetContext(ctx, &n, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table)); err != nil {
		return 0
	}
	return n
}

func (s *Storage) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`TRUNCATE %s`, s.table)); err != nil {
		return &domain.ExternalServiceError{Service: "postgres", Err: err}
	}
	return nil
}

func toVector(v []float64) pgv.Vector {
	f := make([]float32, len(v))
	for i, x := range v {
		f[i] = float32(x)
	}
	return pgv.NewVector(f)
}
