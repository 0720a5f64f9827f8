package persistence

import (
	"CustodyLedger/internal/ledger"
	"context"
	"database/sql"
	stderrors "errors"
	"time"
)

// IsProcessed reports whether an inbound message key was already applied.
// It backs the LRU in core.IdempotencyChecker.
func (s *PostgresStore) IsProcessed(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM custody.processed_messages WHERE key = $1`, key).Scan(&exists)
	if stderrors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, dbError(err, "is processed")
	}
	return true, nil
}

// RecentProcessedKeys returns up to limit of the newest keys, oldest first,
// for warming the LRU on startup.
func (s *PostgresStore) RecentProcessedKeys(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key FROM (
			SELECT key, processed_at FROM custody.processed_messages
			ORDER BY processed_at DESC LIMIT $1
		) recent ORDER BY processed_at`, limit)
	if err != nil {
		return nil, dbError(err, "recent processed keys")
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, dbError(err, "scan processed key")
		}
		keys = append(keys, k)
	}
	return keys, dbError(rows.Err(), "recent processed keys")
}

// markProcessed is the authoritative dedup write. It runs in the same
// transaction as the effects of the message.
func markProcessed(ctx context.Context, q queryer, key string) error {
	res, err := q.ExecContext(ctx,
		`INSERT INTO custody.processed_messages (key) VALUES ($1) ON CONFLICT (key) DO NOTHING`, key)
	if err != nil {
		return dbError(err, "mark processed")
	}
	return affected(res, "mark processed", ledger.AlreadyProcessedf("message %s already applied", key))
}
