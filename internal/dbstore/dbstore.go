// Package dbstore implements C1's BlockStore: the single write path into
// Postgres for both the shred-side aggregate and the indexer-side header
// model, backed by jackc/pgx/v5's pool. The connection string follows the
// DATABASE_URL convention used throughout the pack's indexer examples.
package dbstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ethereum/go-ethereum/log"

	"github.com/risechain/rise-indexer/internal/apperr"
	"github.com/risechain/rise-indexer/internal/chainmodel"
	"github.com/risechain/rise-indexer/internal/shred"
)

// Store is the concrete Postgres-backed implementation satisfying both
// shred.Store and the indexer-side store interface used by the backfill
// package (and writer.Store via the IndexerBlocks adapter).
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to databaseURL and verifies connectivity with a ping.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, apperr.New(apperr.Database, "open", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, apperr.New(apperr.Database, "ping", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// InsertShredBlock writes a shred-side aggregate and its buffered shreds in
// a single transaction, per spec §9's redesign note: the header row and its
// child shred rows either all land or none do, so a failed write is safely
// retriable by the caller rather than a split-write hazard.
func (s *Store) InsertShredBlock(ctx context.Context, b *shred.Block) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperr.New(apperr.Database, "insert_shred_block.begin", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO shred_blocks (
			number, first_seen_at, transaction_count, shred_count, state_change_count,
			first_shred_idx, last_shred_idx, first_shred_ts, last_shred_ts,
			block_time_ms, avg_tps, avg_shred_interval_ms, persisted, last_update
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (number) DO UPDATE SET
			transaction_count = EXCLUDED.transaction_count,
			shred_count = EXCLUDED.shred_count,
			state_change_count = EXCLUDED.state_change_count,
			first_shred_idx = EXCLUDED.first_shred_idx,
			last_shred_idx = EXCLUDED.last_shred_idx,
			first_shred_ts = EXCLUDED.first_shred_ts,
			last_shred_ts = EXCLUDED.last_shred_ts,
			block_time_ms = EXCLUDED.block_time_ms,
			avg_tps = EXCLUDED.avg_tps,
			avg_shred_interval_ms = EXCLUDED.avg_shred_interval_ms,
			persisted = EXCLUDED.persisted,
			last_update = EXCLUDED.last_update
	`,
		b.Number, b.FirstSeenAt, b.TransactionCount, b.ShredCount, b.StateChangeCount,
		b.FirstShredIdx, b.LastShredIdx, nullableTime(b.FirstShredTs), nullableTime(b.LastShredTs),
		b.BlockTimeMs, b.AvgTPS, b.AvgShredIntervalMs, b.Persisted, b.LastUpdate,
	)
	if err != nil {
		return apperr.New(apperr.Database, "insert_shred_block.header", err)
	}

	for _, sh := range b.Buffered {
		txJSON, err := json.Marshal(sh.Transactions)
		if err != nil {
			return apperr.New(apperr.Database, "insert_shred_block.marshal_tx", err)
		}
		scJSON, err := json.Marshal(sh.StateChanges)
		if err != nil {
			return apperr.New(apperr.Database, "insert_shred_block.marshal_sc", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO shreds (block_number, shred_idx, received_at, interval_ms, transactions, state_changes)
			VALUES ($1,$2,$3,$4,$5,$6)
			ON CONFLICT (block_number, shred_idx) DO NOTHING
		`, sh.BlockNumber, sh.ShredIdx, sh.ReceivedAt, sh.IntervalMs, txJSON, scJSON)
		if err != nil {
			return apperr.New(apperr.Database, "insert_shred_block.shred", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return apperr.New(apperr.Database, "insert_shred_block.commit", err)
	}
	return nil
}

// InsertIndexerBlock upserts one header-only chain block, idempotent on
// number so backfill and live-follow workers can both write the same block
// without conflict (spec §4.4/§4.5/§7).
func (s *Store) InsertIndexerBlock(ctx context.Context, b *chainmodel.Block) error {
	txJSON, err := json.Marshal(b.Transactions)
	if err != nil {
		return apperr.New(apperr.Database, "insert_indexer_block.marshal", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO indexer_blocks (
			number, hash, parent_hash, "timestamp", transactions_root, state_root,
			receipts_root, gas_used, gas_limit, base_fee_per_gas, extra_data,
			miner, difficulty, total_difficulty, size, transaction_count, transactions
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (number) DO UPDATE SET
			hash = EXCLUDED.hash,
			parent_hash = EXCLUDED.parent_hash,
			"timestamp" = EXCLUDED."timestamp",
			transactions_root = EXCLUDED.transactions_root,
			state_root = EXCLUDED.state_root,
			receipts_root = EXCLUDED.receipts_root,
			gas_used = EXCLUDED.gas_used,
			gas_limit = EXCLUDED.gas_limit,
			base_fee_per_gas = EXCLUDED.base_fee_per_gas,
			extra_data = EXCLUDED.extra_data,
			miner = EXCLUDED.miner,
			difficulty = EXCLUDED.difficulty,
			total_difficulty = EXCLUDED.total_difficulty,
			size = EXCLUDED.size,
			transaction_count = EXCLUDED.transaction_count,
			transactions = EXCLUDED.transactions
	`,
		b.Number, b.Hash.Hex(), b.ParentHash.Hex(), b.Timestamp, b.TransactionsRoot.Hex(), b.StateRoot.Hex(),
		b.ReceiptsRoot.Hex(), b.GasUsed, b.GasLimit, b.BaseFeePerGas, b.ExtraData,
		b.Miner.Hex(), b.Difficulty, b.TotalDifficulty, b.Size, b.TransactionCount, txJSON,
	)
	if err != nil {
		return apperr.New(apperr.Database, "insert_indexer_block", err)
	}

	payload, err := json.Marshal(blockNotification{
		Number:           b.Number,
		Hash:             b.Hash.Hex(),
		Timestamp:        b.Timestamp,
		TransactionCount: b.TransactionCount,
	})
	if err != nil {
		return apperr.New(apperr.Database, "insert_indexer_block.notify_marshal", err)
	}
	if _, err := s.pool.Exec(ctx, `SELECT pg_notify('new_block', $1)`, string(payload)); err != nil {
		log.Warn("dbstore: failed to notify new_block channel", "number", b.Number, "err", err)
	}
	return nil
}

// blockNotification is the payload cmd/block-watcher decodes.
type blockNotification struct {
	Number           uint64 `json:"number"`
	Hash             string `json:"hash"`
	Timestamp        uint64 `json:"timestamp"`
	TransactionCount int    `json:"transaction_count"`
}

// LatestBlockNumber returns the highest indexed block number, or -1 if the
// table is empty (fresh start — callers fall back to their configured
// StartBlock/BlocksFromTip).
func (s *Store) LatestBlockNumber(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(number), -1) FROM indexer_blocks`).Scan(&n)
	if err != nil {
		if err == pgx.ErrNoRows {
			return -1, nil
		}
		return 0, apperr.New(apperr.Database, "latest_block_number", err)
	}
	return n, nil
}

// Migrate applies the schema if it doesn't already exist. Grounded on the
// pack's repository.Migrate pattern of loading a single SQL file idempotently
// at startup rather than a dedicated migration-runner dependency.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schemaSQL)
	if err != nil {
		return apperr.New(apperr.Database, "migrate", err)
	}
	return nil
}

// IndexerBlocks adapts Store to writer.Store[*chainmodel.Block] without
// pulling the writer package's generic constraints into dbstore itself.
type IndexerBlocks struct {
	*Store
}

func (b IndexerBlocks) Save(ctx context.Context, block *chainmodel.Block) error {
	return b.InsertIndexerBlock(ctx, block)
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS shred_blocks (
	number BIGINT PRIMARY KEY,
	first_seen_at TIMESTAMPTZ NOT NULL,
	transaction_count BIGINT NOT NULL,
	shred_count BIGINT NOT NULL,
	state_change_count BIGINT NOT NULL,
	first_shred_idx BIGINT,
	last_shred_idx BIGINT,
	first_shred_ts TIMESTAMPTZ,
	last_shred_ts TIMESTAMPTZ,
	block_time_ms BIGINT,
	avg_tps DOUBLE PRECISION,
	avg_shred_interval_ms DOUBLE PRECISION,
	persisted BOOLEAN NOT NULL,
	last_update TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS shreds (
	block_number BIGINT NOT NULL,
	shred_idx BIGINT NOT NULL,
	received_at TIMESTAMPTZ NOT NULL,
	interval_ms BIGINT,
	transactions JSONB NOT NULL,
	state_changes JSONB NOT NULL,
	PRIMARY KEY (block_number, shred_idx)
);

CREATE TABLE IF NOT EXISTS indexer_blocks (
	number BIGINT PRIMARY KEY,
	hash TEXT NOT NULL,
	parent_hash TEXT NOT NULL,
	"timestamp" BIGINT NOT NULL,
	transactions_root TEXT NOT NULL,
	state_root TEXT NOT NULL,
	receipts_root TEXT NOT NULL,
	gas_used BIGINT NOT NULL,
	gas_limit BIGINT NOT NULL,
	base_fee_per_gas TEXT,
	extra_data TEXT NOT NULL,
	miner TEXT NOT NULL,
	difficulty TEXT NOT NULL,
	total_difficulty TEXT,
	size BIGINT NOT NULL,
	transaction_count INT NOT NULL,
	transactions JSONB NOT NULL
);
`
