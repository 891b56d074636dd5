package replay

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"
	"github.com/unicitynetwork/sol-bridge-go/core/types"
)

const (
	createTablesSQL = `
CREATE TABLE IF NOT EXISTS bridge_processed_transactions (
	signature    TEXT PRIMARY KEY,
	processed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS bridge_replay_state (
	id                  INT PRIMARY KEY CHECK (id = 1),
	last_checked_height BIGINT NOT NULL,
	saved_at            TIMESTAMPTZ NOT NULL
);`

	insertSignatureSQL = `INSERT INTO bridge_processed_transactions (signature) VALUES ($1) ON CONFLICT DO NOTHING`

	upsertStateSQL = `
INSERT INTO bridge_replay_state (id, last_checked_height, saved_at) VALUES (1, $1, $2)
ON CONFLICT (id) DO UPDATE SET
	last_checked_height = GREATEST(bridge_replay_state.last_checked_height, EXCLUDED.last_checked_height),
	saved_at = EXCLUDED.saved_at`
)

// PostgresStore keeps the processed set in two tables, which lets several
// monitor replicas share it.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// OpenPostgresStore connects and creates the tables if needed.
//
// Parameters:
//   - ctx: Context for the connection and schema setup
//   - dsn: Connection string, e.g. "postgres://bridge@localhost:5432/bridge"
//
// Returns:
//   - Open PostgresStore; the caller must Close it
//   - Error if the connection or the table creation fails
//
// Example:
//
//	store, err := replay.OpenPostgresStore(ctx, os.Getenv("BRIDGE_REPLAY_DSN"))
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
func OpenPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.Connect(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "connect postgres")
	}
	if _, err := pool.Exec(ctx, createTablesSQL); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "create replay tables")
	}
	return &PostgresStore{pool: pool}, nil
}

// Load reads every processed signature and the single state row.
func (s *PostgresStore) Load(ctx context.Context) (*types.ProcessedSnapshot, error) {
	snap := &types.ProcessedSnapshot{}
	rows, err := s.pool.Query(ctx, `SELECT signature FROM bridge_processed_transactions ORDER BY signature`)
	if err != nil {
		return nil, errors.Wrap(err, "query processed transactions")
	}
	defer rows.Close()
	for rows.Next() {
		var sig string
		if err := rows.Scan(&sig); err != nil {
			return nil, errors.WithStack(err)
		}
		snap.ProcessedTransactions = append(snap.ProcessedTransactions, sig)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WithStack(err)
	}

	var height int64
	var savedAt time.Time
	err = s.pool.QueryRow(ctx, `SELECT last_checked_height, saved_at FROM bridge_replay_state WHERE id = 1`).Scan(&height, &savedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return nil, errors.Wrap(err, "query replay state")
	default:
		snap.LastCheckedHeight = uint64(height)
		snap.SavedAt = savedAt.UTC()
	}
	return snap, nil
}

// Save inserts the signatures and upserts the state row in one transaction.
// Existing signatures are kept and the stored height never decreases.
//
// Returns:
//   - Error if any statement fails; nothing is committed then
func (s *PostgresStore) Save(ctx context.Context, snapshot *types.ProcessedSnapshot) error {
	batch := &pgx.Batch{}
	for _, sig := range snapshot.ProcessedTransactions {
		batch.Queue(insertSignatureSQL, sig)
	}
	batch.Queue(upsertStateSQL, int64(snapshot.LastCheckedHeight), snapshot.SavedAt)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback(ctx)

	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return errors.Wrap(err, "save replay state")
		}
	}
	if err := br.Close(); err != nil {
		return errors.WithStack(err)
	}
	return errors.Wrap(tx.Commit(ctx), "commit")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
