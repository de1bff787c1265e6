package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ent0n29/sentinel/internal/safety"
)

// PostgresStore keeps conversation windows in PostgreSQL. Appends for one
// user are serialized with a transaction-scoped advisory lock.
type PostgresStore struct {
	pool   *pgxpool.Pool
	window int
}

func NewPostgresStore(ctx context.Context, databaseURL string, window int) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &PostgresStore{pool: pool, window: window}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversation_messages (
			seq BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			text TEXT NOT NULL,
			sent_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversation_messages_user_seq ON conversation_messages (user_id, seq);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, userID string, msg safety.Message) ([]safety.Message, error) {
	var out []safety.Message
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, userID); err != nil {
			return fmt.Errorf("lock conversation: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO conversation_messages (id, user_id, text, sent_at) VALUES ($1, $2, $3, $4)`,
			msg.ID, userID, msg.Text, msg.Timestamp,
		); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM conversation_messages
			 WHERE user_id = $1 AND seq NOT IN (
				SELECT seq FROM conversation_messages WHERE user_id = $1 ORDER BY seq DESC LIMIT $2
			 )`,
			userID, s.window,
		); err != nil {
			return fmt.Errorf("trim conversation: %w", err)
		}

		rows, err := tx.Query(ctx,
			`SELECT id, user_id, text, sent_at FROM conversation_messages
			 WHERE user_id = $1 ORDER BY seq DESC LIMIT $2`,
			userID, s.window,
		)
		if err != nil {
			return fmt.Errorf("query window: %w", err)
		}
		defer rows.Close()

		items := make([]safety.Message, 0, s.window)
		for rows.Next() {
			var m safety.Message
			if err := rows.Scan(&m.ID, &m.UserID, &m.Text, &m.Timestamp); err != nil {
				return fmt.Errorf("scan window row: %w", err)
			}
			m.Timestamp = m.Timestamp.UTC()
			items = append(items, m)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate window rows: %w", err)
		}

		// Reverse into chronological order.
		for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
			items[i], items[j] = items[j], items[i]
		}
		out = items
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", safety.ErrStoreUnavailable, err)
	}
	return out, nil
}

func (s *PostgresStore) EvictIdle(ctx context.Context, olderThan time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`WITH idle AS (
			SELECT user_id FROM conversation_messages GROUP BY user_id HAVING max(created_at) < $1
		), removed AS (
			DELETE FROM conversation_messages m USING idle WHERE m.user_id = idle.user_id RETURNING m.user_id
		)
		SELECT count(DISTINCT user_id) FROM removed`,
		olderThan,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: evict idle: %w", safety.ErrStoreUnavailable, err)
	}
	return n, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
