// Package postgres implements registry.Store, registry.ReviewStore and
// embedding.PersistentCache against a real Postgres database using
// pg_trgm for trigram search and pgvector for cosine ANN search, adapted
// from the teacher's services/storage/internal/relational/postgres_store.go
// (database/sql + lib/pq, Clock injection, Options struct, EnsureSchema)
// and the pgvector wiring pattern in
// other_examples/1ed74414_seanblong-reposearch__internal-store-store.go.go.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/chartlydata/payee-match/internal/embedding"
	"github.com/chartlydata/payee-match/internal/registry"
)

// Sentinel errors, matching the teacher's convention of exporting plain
// errors rather than a generic error type.
var (
	ErrInvalidInput = errors.New("postgres: invalid input")
	ErrNotFound     = errors.New("postgres: not found")
	ErrConflict     = errors.New("postgres: conflict")
	ErrDB           = errors.New("postgres: database error")
)

// Options configures a Store. Clock is injected, as in the teacher,
// so CreatedAt/UpdatedAt stamping is deterministic under test.
type Options struct {
	Clock        func() time.Time
	EmbeddingDim int
	TableName    string
}

func (o *Options) setDefaults() {
	if o.Clock == nil {
		o.Clock = func() time.Time { return time.Now().UTC() }
	}
	if o.EmbeddingDim <= 0 {
		o.EmbeddingDim = 1024
	}
	if o.TableName == "" {
		o.TableName = "payees"
	}
}

// Store is the Postgres-backed registry.Store / registry.ReviewStore /
// embedding.PersistentCache implementation.
type Store struct {
	db  *sql.DB
	opt Options
}

func New(db *sql.DB, opt Options) *Store {
	opt.setDefaults()
	return &Store{db: db, opt: opt}
}

// EnsureSchema idempotently creates the extensions, tables and indexes
// this Store requires. It is a startup-time, fatal-on-failure operation
// (§7: "missing required extensions at startup" aborts startup).
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS pg_trgm`,
		fmt.Sprintf(`CREATE EXTENSION IF NOT EXISTS vector`),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			payee_id     BIGSERIAL PRIMARY KEY,
			external_id  TEXT UNIQUE,
			name_raw     TEXT NOT NULL,
			name_canon   TEXT NOT NULL,
			name_tokens  TEXT[] NOT NULL DEFAULT '{}',
			dm_codes     TEXT[] NOT NULL DEFAULT '{}',
			name_vec     vector(%d),
			address      TEXT,
			city         TEXT,
			state        TEXT,
			zip          TEXT,
			country      TEXT,
			created_at   TIMESTAMPTZ NOT NULL,
			updated_at   TIMESTAMPTZ NOT NULL,
			synced_at    TIMESTAMPTZ
		)`, s.opt.TableName, s.opt.EmbeddingDim),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_name_canon_trgm ON %s USING gin (name_canon gin_trgm_ops)`, s.opt.TableName, s.opt.TableName),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_dm_codes_gin ON %s USING gin (dm_codes)`, s.opt.TableName, s.opt.TableName),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_name_vec_ivfflat ON %s USING ivfflat (name_vec vector_cosine_ops) WITH (lists = 100)`, s.opt.TableName, s.opt.TableName),
		`CREATE TABLE IF NOT EXISTS review_items (
			id             TEXT PRIMARY KEY,
			q_name_raw     TEXT NOT NULL,
			q_name_canon   TEXT NOT NULL,
			candidates     JSONB NOT NULL,
			status         TEXT NOT NULL,
			created_at     TIMESTAMPTZ NOT NULL,
			reviewed_at    TIMESTAMPTZ,
			reviewer_notes TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS labels (
			q_name_raw   TEXT NOT NULL,
			q_name_canon TEXT NOT NULL,
			payee_id     BIGINT NOT NULL,
			y            BOOLEAN NOT NULL,
			meta         JSONB,
			created_at   TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS embedding_cache (
			cache_key  TEXT PRIMARY KEY,
			text_hash  TEXT NOT NULL,
			text_canon TEXT NOT NULL,
			embedding  vector NOT NULL,
			provider   TEXT NOT NULL,
			model      TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: ensure schema: %w", err)
		}
	}
	return nil
}

func (s *Store) ExactByCanon(ctx context.Context, canon string) (registry.Payee, bool, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT payee_id, external_id, name_raw, name_canon, name_tokens, dm_codes, address, city, state, zip, country, created_at, updated_at
		 FROM %s WHERE name_canon = $1 LIMIT 1`, s.opt.TableName), canon)
	p, err := scanPayee(row)
	if errors.Is(err, sql.ErrNoRows) {
		return registry.Payee{}, false, nil
	}
	if err != nil {
		return registry.Payee{}, false, fmt.Errorf("%w: %v", ErrDB, err)
	}
	return p, true, nil
}

func (s *Store) TrigramSearch(ctx context.Context, canon string, topK int) ([]registry.ViewHit, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT payee_id, similarity(name_canon, $1) AS score
		 FROM %s WHERE name_canon %% $1
		 ORDER BY score DESC LIMIT $2`, s.opt.TableName), canon, topK)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDB, err)
	}
	defer rows.Close()
	return scanViewHits(rows, registry.ViewTrigram)
}

func (s *Store) VectorSearch(ctx context.Context, vec []float32, topK int) ([]registry.ViewHit, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT payee_id, 1 - (name_vec <=> $1) AS score
		 FROM %s WHERE name_vec IS NOT NULL
		 ORDER BY name_vec <=> $1 LIMIT $2`, s.opt.TableName), pgvector.NewVector(vec), topK)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDB, err)
	}
	defer rows.Close()
	return scanViewHits(rows, registry.ViewVector)
}

func (s *Store) PhoneticSearch(ctx context.Context, codes []string, topK int) ([]registry.ViewHit, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT payee_id,
		        (cardinality(array(SELECT unnest(dm_codes) INTERSECT SELECT unnest($1::text[]))))::float
		        / GREATEST(cardinality(array(SELECT unnest(dm_codes) UNION SELECT unnest($1::text[]))), 1) AS score
		 FROM %s WHERE dm_codes && $1::text[]
		 ORDER BY score DESC LIMIT $2`, s.opt.TableName), pq.Array(codes), topK)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDB, err)
	}
	defer rows.Close()
	return scanViewHits(rows, registry.ViewPhonetic)
}

func (s *Store) GetByIDs(ctx context.Context, ids []int64) ([]registry.Payee, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT payee_id, external_id, name_raw, name_canon, name_tokens, dm_codes, address, city, state, zip, country, created_at, updated_at
		 FROM %s WHERE payee_id = ANY($1)`, s.opt.TableName), pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDB, err)
	}
	defer rows.Close()
	var out []registry.Payee
	for rows.Next() {
		p, err := scanPayeeRows(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDB, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) Upsert(ctx context.Context, p registry.Payee) (bool, error) {
	if p.NameCanon == "" {
		return false, ErrInvalidInput
	}
	now := s.opt.Clock()
	var vec interface{}
	if len(p.NameVec) > 0 {
		vec = pgvector.NewVector(p.NameVec)
	}

	var inserted bool
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (external_id, name_raw, name_canon, name_tokens, dm_codes, name_vec, address, city, state, zip, country, created_at, updated_at, synced_at)
		VALUES (NULLIF($1, ''), $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12, $12)
		ON CONFLICT (external_id) DO UPDATE SET
			name_raw = EXCLUDED.name_raw,
			name_canon = EXCLUDED.name_canon,
			name_tokens = EXCLUDED.name_tokens,
			dm_codes = EXCLUDED.dm_codes,
			name_vec = EXCLUDED.name_vec,
			address = EXCLUDED.address,
			city = EXCLUDED.city,
			state = EXCLUDED.state,
			zip = EXCLUDED.zip,
			country = EXCLUDED.country,
			updated_at = EXCLUDED.updated_at,
			synced_at = EXCLUDED.synced_at
		RETURNING (xmax = 0) AS inserted
	`, s.opt.TableName),
		p.ExternalID, p.NameRaw, p.NameCanon, pq.Array(p.NameTokens), pq.Array(p.DMCodes), vec,
		p.Address, p.City, p.State, p.Zip, p.Country, now,
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrDB, err)
	}
	return inserted, nil
}

func (s *Store) AllTokenSets(ctx context.Context) ([][]string, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT name_tokens FROM %s`, s.opt.TableName))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDB, err)
	}
	defer rows.Close()
	var out [][]string
	for rows.Next() {
		var arr pq.StringArray
		if err := rows.Scan(&arr); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDB, err)
		}
		out = append(out, []string(arr))
	}
	return out, rows.Err()
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, s.opt.TableName)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDB, err)
	}
	return n, nil
}

// ---- embedding.PersistentCache ----

func (s *Store) Get(ctx context.Context, key string) (embedding.Record, bool, error) {
	var rec embedding.Record
	var vec pgvector.Vector
	err := s.db.QueryRowContext(ctx,
		`SELECT text_hash, text_canon, embedding, provider, model FROM embedding_cache WHERE cache_key = $1`,
		key,
	).Scan(&rec.TextHash, &rec.Text, &vec, &rec.Provider, &rec.Model)
	if errors.Is(err, sql.ErrNoRows) {
		return embedding.Record{}, false, nil
	}
	if err != nil {
		return embedding.Record{}, false, fmt.Errorf("%w: %v", ErrDB, err)
	}
	rec.Vector = vec.Slice()
	return rec, true, nil
}

func (s *Store) PutIfAbsent(ctx context.Context, rec embedding.Record) error {
	key := rec.Provider + ":" + rec.Model + ":" + rec.TextHash
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO embedding_cache (cache_key, text_hash, text_canon, embedding, provider, model)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (cache_key) DO NOTHING
	`, key, rec.TextHash, rec.Text, pgvector.NewVector(rec.Vector), rec.Provider, rec.Model)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDB, err)
	}
	return nil
}

// ---- scanning helpers ----

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayee(row *sql.Row) (registry.Payee, error) {
	return scanPayeeFrom(row)
}

func scanPayeeRows(rows *sql.Rows) (registry.Payee, error) {
	return scanPayeeFrom(rows)
}

func scanPayeeFrom(rs rowScanner) (registry.Payee, error) {
	var p registry.Payee
	var tokens, codes pq.StringArray
	var createdAt, updatedAt time.Time
	var externalID, address, city, state, zip, country sql.NullString
	err := rs.Scan(&p.PayeeID, &externalID, &p.NameRaw, &p.NameCanon, &tokens, &codes,
		&address, &city, &state, &zip, &country, &createdAt, &updatedAt)
	if err != nil {
		return registry.Payee{}, err
	}
	p.ExternalID = externalID.String
	p.Address = address.String
	p.City = city.String
	p.State = state.String
	p.Zip = zip.String
	p.Country = country.String
	p.NameTokens = tokens
	p.DMCodes = codes
	p.CreatedAt = createdAt
	p.UpdatedAt = updatedAt
	return p, nil
}

func scanViewHits(rows *sql.Rows, tag registry.ViewTag) ([]registry.ViewHit, error) {
	var out []registry.ViewHit
	for rows.Next() {
		var id int64
		var score float64
		if err := rows.Scan(&id, &score); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDB, err)
		}
		out = append(out, registry.ViewHit{PayeeID: id, ViewScore: score, Tag: tag})
	}
	return out, rows.Err()
}
