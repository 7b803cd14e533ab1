package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/docsift/docsift/pkg/models"
)

// Postgres backs the index with pgvector for dense similarity and a
// generated tsvector column for keyword search, so one store serves both
// retrieval paths.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a store connected to the given database URL.
func NewPostgres(ctx context.Context, url string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Postgres{pool: p}, nil
}

func (s *Postgres) Close() { s.pool.Close() }

// Init applies necessary database migrations and schema setup.
func (s *Postgres) Init(ctx context.Context, dim int) error {
	q := `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS chunks (
  id          TEXT PRIMARY KEY,
  path        TEXT NOT NULL,
  framework   TEXT NOT NULL DEFAULT 'common',
  title       TEXT NOT NULL DEFAULT '',
  heading     TEXT NOT NULL DEFAULT '',
  level       INT  NOT NULL DEFAULT 0,
  parent_id   TEXT NOT NULL DEFAULT '',
  source_url  TEXT NOT NULL DEFAULT '',
  content     TEXT NOT NULL DEFAULT '',
  extra       JSONB,
  embedding   vector(%d),
  created_at  TIMESTAMP WITH TIME ZONE DEFAULT now(),
  ts          tsvector GENERATED ALWAYS AS (
    setweight(to_tsvector('english', coalesce(title,'')), 'A') ||
    setweight(to_tsvector('english', coalesce(heading,'')), 'B') ||
    setweight(to_tsvector('english', coalesce(content,'')), 'C')
  ) STORED
);

CREATE INDEX IF NOT EXISTS chunks_framework_idx
  ON chunks (framework);

CREATE INDEX IF NOT EXISTS chunks_path_idx
  ON chunks (path);

CREATE INDEX IF NOT EXISTS chunks_ts_gin
  ON chunks USING GIN (ts);

CREATE INDEX IF NOT EXISTS chunks_embedding_idx
  ON chunks USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);
`
	_, err := s.pool.Exec(ctx, fmt.Sprintf(q, dim))
	return err
}

// Upsert inserts or overwrites chunks by id.
func (s *Postgres) Upsert(ctx context.Context, chunks []models.EmbeddedChunk) error {
	const q = `
		INSERT INTO chunks (
			id, path, framework, title, heading, level, parent_id,
			source_url, content, extra, embedding, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,now())
		ON CONFLICT (id) DO UPDATE SET
			path       = EXCLUDED.path,
			framework  = EXCLUDED.framework,
			title      = EXCLUDED.title,
			heading    = EXCLUDED.heading,
			level      = EXCLUDED.level,
			parent_id  = EXCLUDED.parent_id,
			source_url = EXCLUDED.source_url,
			content    = EXCLUDED.content,
			extra      = EXCLUDED.extra,
			embedding  = EXCLUDED.embedding,
			created_at = chunks.created_at;`

	batch := &pgx.Batch{}
	for _, ec := range chunks {
		c := ec.Chunk
		var extra any
		if len(c.Extra) > 0 {
			extra = c.Extra
		}
		batch.Queue(q,
			c.ID, c.Path, string(c.Framework), c.Title, c.Heading, c.Level,
			c.ParentID, c.SourceURL, c.Content, extra, pgvector.NewVector(ec.Vector),
		)
	}
	return s.pool.SendBatch(ctx, batch).Close()
}

func (s *Postgres) DeleteMany(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM chunks WHERE id = ANY($1)`, ids)
	return err
}

func (s *Postgres) DeleteAll(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM chunks`)
	return err
}

const chunkColumns = `id, path, framework, title, heading, level, parent_id, source_url, content, coalesce(extra, '{}'::jsonb)`

// Query runs cosine-distance search over the dense vectors.
func (s *Postgres) Query(ctx context.Context, vector []float32, topK int, f Filter) ([]Match, error) {
	where, args := filterClause(f, 2)
	q := fmt.Sprintf(`
SELECT %s, 1 - (embedding <=> $1) AS score
FROM chunks
WHERE embedding IS NOT NULL AND %s
ORDER BY embedding <=> $1
LIMIT %d`, chunkColumns, where, topK)

	args = append([]any{pgvector.NewVector(vector)}, args...)
	return s.queryMatches(ctx, q, args...)
}

// KeywordQuery ranks exact term overlap against the generated tsvector.
func (s *Postgres) KeywordQuery(ctx context.Context, query string, topK int, f Filter) ([]Match, error) {
	where, args := filterClause(f, 2)
	q := fmt.Sprintf(`
SELECT %s, ts_rank_cd(ts, plainto_tsquery('english', $1)) AS score
FROM chunks
WHERE ts @@ plainto_tsquery('english', $1) AND %s
ORDER BY score DESC
LIMIT %d`, chunkColumns, where, topK)

	args = append([]any{query}, args...)
	return s.queryMatches(ctx, q, args...)
}

func filterClause(f Filter, argIdx int) (string, []any) {
	if f.Framework == "" {
		return "TRUE", nil
	}
	return fmt.Sprintf("framework IN ($%d, 'common')", argIdx), []any{string(f.Framework)}
}

func (s *Postgres) queryMatches(ctx context.Context, q string, args ...any) ([]Match, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Match
	for rows.Next() {
		var c models.Chunk
		var fw string
		var extra map[string]string
		var score float64
		if err := rows.Scan(
			&c.ID, &c.Path, &fw, &c.Title, &c.Heading, &c.Level,
			&c.ParentID, &c.SourceURL, &c.Content, &extra, &score,
		); err != nil {
			return nil, err
		}
		c.Framework = models.Framework(fw)
		if len(extra) > 0 {
			c.Extra = extra
		}
		out = append(out, Match{Chunk: c, Score: score})
	}
	return out, rows.Err()
}

// ListIDs returns every chunk id currently present in the index.
func (s *Postgres) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM chunks`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetChunk retrieves one chunk by id.
func (s *Postgres) GetChunk(ctx context.Context, id string) (models.Chunk, bool, error) {
	q := fmt.Sprintf(`SELECT %s FROM chunks WHERE id = $1 LIMIT 1`, chunkColumns)

	var c models.Chunk
	var fw string
	var extra map[string]string
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&c.ID, &c.Path, &fw, &c.Title, &c.Heading, &c.Level,
		&c.ParentID, &c.SourceURL, &c.Content, &extra,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Chunk{}, false, nil
		}
		return models.Chunk{}, false, err
	}
	c.Framework = models.Framework(fw)
	if len(extra) > 0 {
		c.Extra = extra
	}
	return c, true, nil
}

func (s *Postgres) Stats(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM chunks`).Scan(&n)
	return n, err
}

// Ping checks the database connectivity.
func (s *Postgres) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}
