package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/btb-finance/clmm-core/lib/clmmerr"
	"github.com/btb-finance/clmm-core/lib/pool"

	"github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS pool_snapshots (
	pool_id    TEXT PRIMARY KEY,
	data       BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const upsertSnapshot = `
	INSERT INTO pool_snapshots (pool_id, data, updated_at)
	VALUES ($1, $2, now())
	ON CONFLICT (pool_id)
	DO UPDATE SET data = EXCLUDED.data, updated_at = now()`

// PostgresStore keeps pool snapshots in Postgres.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

func (s *PostgresStore) Save(ctx context.Context, p *pool.Pool) error {
	return s.SaveAll(ctx, []*pool.Pool{p})
}

// SaveAll upserts every pool in one batch.
func (s *PostgresStore) SaveAll(ctx context.Context, pools []*pool.Pool) error {
	if len(pools) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, p := range pools {
		data, err := EncodePool(p)
		if err != nil {
			return err
		}
		batch.Queue(upsertSnapshot, p.ID.String(), data)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range pools {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, id solana.PublicKey) (*pool.Pool, error) {
	var data []byte
	row := s.pool.QueryRow(ctx, `SELECT data FROM pool_snapshots WHERE pool_id=$1`, id.String())
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", clmmerr.ErrPoolNotFound, id)
		}
		return nil, err
	}
	return DecodePool(data)
}

func (s *PostgresStore) List(ctx context.Context) ([]solana.PublicKey, error) {
	rows, err := s.pool.Query(ctx, `SELECT pool_id FROM pool_snapshots ORDER BY pool_id`)
	if err != nil {
		return nil, err
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	ids := make([]solana.PublicKey, 0, len(names))
	for _, name := range names {
		id, err := solana.PublicKeyFromBase58(name)
		if err != nil {
			return nil, fmt.Errorf("pool id %q: %w", name, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
